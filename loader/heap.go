//go:build windows

package loader

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modntdll    = windows.NewLazySystemDLL("ntdll.dll")
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")

	procRtlAllocateHeap   = modntdll.NewProc("RtlAllocateHeap")
	procRtlReAllocateHeap = modntdll.NewProc("RtlReAllocateHeap")
	procRtlFreeHeap       = modntdll.NewProc("RtlFreeHeap")
	procRtlSizeHeap       = modntdll.NewProc("RtlSizeHeap")
	procRtlFreeUnicodeStr = modntdll.NewProc("RtlFreeUnicodeString")
	procRtlFreeAnsiStr    = modntdll.NewProc("RtlFreeAnsiString")
	procRtlFreeOemStr     = modntdll.NewProc("RtlFreeOemString")
	procGetProcessHeap    = modkernel32.NewProc("GetProcessHeap")
)

const heapZeroMemory = 0x00000008

// heapAllocHeader is the machine-word header the private allocator
// prepends to every allocation, storing the total size so Free/ReAlloc/Size
// can recover it without a side table (§4.H). Its width is the heap
// alignment requirement; on amd64 that's 16 bytes, which matches
// unsafe.Sizeof(uintptr(0))*2.
type heapAllocHeader struct {
	size uintptr
	_    uintptr // padding to keep 16-byte alignment for the returned pointer
}

const heapHeaderSize = unsafe.Sizeof(heapAllocHeader{})

func processHeap() uintptr {
	r, _, _ := procGetProcessHeap.Call()
	return r
}

// redirectRtlAllocateHeap is the private RtlAllocateHeap(PEB.ProcessHeap, …)
// implementation (§4.H): pointers it returns come from the host's own
// VM.Reserve-backed arena (hostHeapAlloc), never the OS process heap, so they can never
// collide with application-owned blocks. Any heap handle other than the
// process heap falls straight through to the real routine.
func (ld *Loader) redirectRtlAllocateHeap(heap, flags, size uintptr) uintptr {
	if heap != processHeap() {
		r, _, _ := procRtlAllocateHeap.Call(heap, flags, size)
		return r
	}
	total := size + heapHeaderSize
	mem, err := ld.hostHeapAlloc(total)
	if err != nil {
		ld.log.Errorf("redirectRtlAllocateHeap: %v", err)
		return 0
	}
	(*heapAllocHeader)(unsafe.Pointer(mem)).size = total
	user := mem + heapHeaderSize
	if flags&heapZeroMemory != 0 {
		zero(user, size)
	}
	ld.log.Verbosef("RtlAllocateHeap -> %#x (%d bytes)", user, size)
	return user
}

// redirectRtlReAllocateHeap mirrors RtlReAllocateHeap's observable
// behavior: allocate a new private block, copy min(old,new) size, free the
// old block.
func (ld *Loader) redirectRtlReAllocateHeap(heap, flags, ptr, size uintptr) uintptr {
	if heap != processHeap() || !(ptr == 0 || ld.isHostAddress(ptr)) {
		r, _, _ := procRtlReAllocateHeap.Call(heap, flags, ptr, size)
		return r
	}
	buf := ld.redirectRtlAllocateHeap(heap, flags, size)
	if buf == 0 {
		return 0
	}
	if ptr != 0 {
		oldHdr := (*heapAllocHeader)(unsafe.Pointer(ptr - heapHeaderSize))
		oldSize := oldHdr.size - heapHeaderSize
		min := oldSize
		if size < min {
			min = size
		}
		copyMem(buf, ptr, min)
		ld.redirectRtlFreeHeap(heap, flags, ptr)
	}
	return buf
}

// redirectRtlFreeHeap classifies ptr by is_dynamo_address before deciding
// whether to free it privately or fall through to the OS routine (§4.H
// "Pointer ownership classification"): this tolerates the common pattern
// where Alloc was intercepted by a different redirected caller and Free is
// invoked directly on a native pointer, and vice versa.
func (ld *Loader) redirectRtlFreeHeap(heap, flags, ptr uintptr) uintptr {
	if heap == processHeap() && ld.isHostAddress(ptr) {
		if ptr == 0 {
			return 0 // false
		}
		hdr := (*heapAllocHeader)(unsafe.Pointer(ptr - heapHeaderSize))
		ld.hostHeapFree(ptr-heapHeaderSize, hdr.size)
		return 1 // true
	}
	r, _, _ := procRtlFreeHeap.Call(heap, flags, ptr)
	return r
}

// redirectRtlSizeHeap recovers the originally requested size: the header
// records size+heapHeaderSize, so the round trip in §8 invariant 5
// (requested_size + header_size - header_size) holds exactly.
func (ld *Loader) redirectRtlSizeHeap(heap, flags, ptr uintptr) uintptr {
	if heap == processHeap() && ld.isHostAddress(ptr) {
		if ptr == 0 {
			return 0
		}
		hdr := (*heapAllocHeader)(unsafe.Pointer(ptr - heapHeaderSize))
		return hdr.size - heapHeaderSize
	}
	r, _, _ := procRtlSizeHeap.Call(heap, flags, ptr)
	return r
}

// ntString mirrors enough of UNICODE_STRING / STRING's
// layout (Length, MaximumLength uint16, Buffer pointer) to read/zero the
// Buffer field the free routines inspect.
type ntString struct {
	Length, MaximumLength uint16
	_                     [4]byte // alignment padding before the 8-byte Buffer field on amd64
	Buffer                uintptr
}

func (ld *Loader) redirectFreeNTString(str uintptr, native *windows.LazyProc) uintptr {
	if str == 0 {
		return 0
	}
	s := (*ntString)(unsafe.Pointer(str))
	if ld.isHostAddress(s.Buffer) {
		ld.redirectRtlFreeHeap(processHeap(), 0, s.Buffer)
		s.Length, s.MaximumLength, s.Buffer = 0, 0, 0
		return 0
	}
	r, _, _ := native.Call(str)
	return r
}

func (ld *Loader) redirectRtlFreeUnicodeString(str uintptr) uintptr {
	return ld.redirectFreeNTString(str, procRtlFreeUnicodeStr)
}

func (ld *Loader) redirectRtlFreeAnsiString(str uintptr) uintptr {
	return ld.redirectFreeNTString(str, procRtlFreeAnsiStr)
}

func (ld *Loader) redirectRtlFreeOemString(str uintptr) uintptr {
	return ld.redirectFreeNTString(str, procRtlFreeOemStr)
}

// hostHeapAlloc/Free/isHostAddress route through the Loader's VM interface
// (one hostiface.VM.Reserve arena per allocation; see hostmem.go) rather
// than a side-table, per §9's "host-provided address-range predicate"
// design note.
func zero(addr, size uintptr) {
	b := unsafe.Slice((*byte)(unsafe.Pointer(addr)), size)
	for i := range b {
		b[i] = 0
	}
}

func copyMem(dst, src, size uintptr) {
	copy(unsafe.Slice((*byte)(unsafe.Pointer(dst)), size), unsafe.Slice((*byte)(unsafe.Pointer(src)), size))
}

func redirectIgnoreArg4(uintptr) uintptr        { return 1 }
func redirectIgnoreArg8(uintptr, uintptr) uintptr { return 1 }
