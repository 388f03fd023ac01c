//go:build windows

package hostiface

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"github.com/google/btree"
	"golang.org/x/sys/windows"
	"golang.org/x/sys/windows/registry"
)

// Default is the Windows-backed implementation of VM, Registry,
// AddressOwner, and FileExists. It tracks every arena it hands out via
// Reserve in a btree-ordered interval index, the same structure the loader
// package's module registry uses for its own address-range index
// (SPEC_FULL.md §2.2) — there is no reason to track host-owned memory with a
// different data structure than module memory.
type Default struct {
	mu     sync.RWMutex
	arenas *btree.BTreeG[arenaRange]
}

type arenaRange struct {
	start, end uintptr
}

func arenaLess(a, b arenaRange) bool { return a.start < b.start }

// NewDefault constructs the default host-interface implementation.
func NewDefault() *Default {
	return &Default{arenas: btree.NewG(32, arenaLess)}
}

// MapImage opens path for read|execute with share-delete (§4.B) and maps it
// as an image section so the kernel populates per-segment protections from
// the section headers in a single syscall.
func (d *Default) MapImage(path string) (uintptr, uintptr, error) {
	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, fmt.Errorf("hostiface: %w", err)
	}
	h, err := windows.CreateFile(p,
		windows.GENERIC_READ|windows.GENERIC_EXECUTE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_DELETE,
		nil, windows.OPEN_EXISTING, windows.FILE_ATTRIBUTE_NORMAL, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("hostiface: CreateFile %s: %w", path, err)
	}
	defer windows.CloseHandle(h)

	mapping, err := windows.CreateFileMapping(h, nil, windows.PAGE_EXECUTE_READWRITE|secImage, 0, 0, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("hostiface: CreateFileMapping %s: %w", path, err)
	}
	defer windows.CloseHandle(mapping)

	addr, err := windows.MapViewOfFile(mapping, windows.FILE_MAP_EXECUTE|windows.FILE_MAP_READ|windows.FILE_MAP_WRITE, 0, 0, 0)
	if err != nil {
		return 0, 0, fmt.Errorf("hostiface: MapViewOfFile %s: %w", path, err)
	}

	// An image view is split into regions by per-section protection, so sum
	// every region that belongs to this allocation, not just the first.
	var size uintptr
	for {
		var mbi windows.MemoryBasicInformation
		if err := windows.VirtualQuery(addr+size, &mbi, unsafe.Sizeof(mbi)); err != nil {
			if size == 0 {
				windows.UnmapViewOfFile(addr)
				return 0, 0, fmt.Errorf("hostiface: VirtualQuery %s: %w", path, err)
			}
			break
		}
		if mbi.AllocationBase != addr || mbi.RegionSize == 0 {
			break
		}
		size += mbi.RegionSize
	}
	return addr, size, nil
}

// UnmapImage releases a mapping made by MapImage.
func (d *Default) UnmapImage(base uintptr, _ uintptr) error {
	if base == 0 {
		return nil
	}
	return windows.UnmapViewOfFile(base)
}

// Protect flips page protection for the IAT write-then-restore sequence.
func (d *Default) Protect(addr uintptr, size uintptr, newProt uint32) (uint32, error) {
	var old uint32
	if err := windows.VirtualProtect(addr, size, newProt, &old); err != nil {
		return 0, fmt.Errorf("hostiface: VirtualProtect: %w", err)
	}
	return old, nil
}

// Reserve commits a private, host-owned RW arena and records its span for
// IsHostAddress.
func (d *Default) Reserve(size uintptr) (uintptr, error) {
	addr, err := windows.VirtualAlloc(0, size, windows.MEM_RESERVE|windows.MEM_COMMIT, windows.PAGE_READWRITE)
	if err != nil {
		return 0, fmt.Errorf("hostiface: VirtualAlloc: %w", err)
	}
	d.mu.Lock()
	d.arenas.ReplaceOrInsert(arenaRange{start: addr, end: addr + size})
	d.mu.Unlock()
	return addr, nil
}

// Release frees an arena previously returned by Reserve.
func (d *Default) Release(addr uintptr) error {
	d.mu.Lock()
	d.arenas.Ascend(func(r arenaRange) bool {
		if r.start == addr {
			d.arenas.Delete(r)
			return false
		}
		return true
	})
	d.mu.Unlock()
	return windows.VirtualFree(addr, 0, windows.MEM_RELEASE)
}

// IsHostAddress reports whether p falls inside any arena this Default
// handed out via Reserve (is_dynamo_address, §4.H).
func (d *Default) IsHostAddress(p uintptr) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	found := false
	d.arenas.DescendLessOrEqual(arenaRange{start: p}, func(r arenaRange) bool {
		if p >= r.start && p < r.end {
			found = true
		}
		return false
	})
	return found
}

// FileExists backs the search resolver's existence probes (§4.D).
func (d *Default) FileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && !fi.IsDir()
}

// SystemRoot reads SystemRoot from the CurrentVersion registry key
// (diagnost.h's DIAGNOSTICS_SYSTEMROOT_REG_KEY in the original), the single
// registry lookup loader_init performs (§4.D).
func (d *Default) SystemRoot() (string, error) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, `SOFTWARE\Microsoft\Windows NT\CurrentVersion`, registry.QUERY_VALUE)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	defer k.Close()
	v, _, err := k.GetStringValue("SystemRoot")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotFound, err)
	}
	return v, nil
}

// secImage is windows.SEC_IMAGE, asking CreateFileMapping to lay the file
// out as an executable image rather than a flat data mapping.
const secImage = 0x1000000
