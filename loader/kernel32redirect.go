//go:build windows

package loader

import "unsafe"

var (
	procGetModuleHandleA = modkernel32.NewProc("GetModuleHandleA")
	procGetProcAddress   = modkernel32.NewProc("GetProcAddress")
)

// redirectGetModuleHandleA answers name against the private module
// registry before falling through to the real GetModuleHandleA (§4.F):
// privately loaded libraries are never registered with the OS loader, so
// the real routine would otherwise report they don't exist.
func (ld *Loader) redirectGetModuleHandleA(name uintptr) uintptr {
	if name == 0 {
		r, _, _ := procGetModuleHandleA.Call(0)
		return r
	}
	s := readCString(name)
	ld.lock.Acquire()
	m := ld.registry.lookup(moduleShortName(s))
	ld.lock.Release()
	if m != nil {
		return m.Base
	}
	r, _, _ := procGetModuleHandleA.Call(name)
	return r
}

// redirectGetProcAddress resolves symbol against a private module's export
// table when hmodule names one, otherwise defers to the real
// GetProcAddress. Ordinal requests (a string pointer whose high word is
// zero) against a privately-loaded module are answered through
// pe.ProcAddressByOrdinal; an ordinal that names a forwarder is not followed
// and yields 0. Ordinal requests against externally-loaded or unknown
// modules go to the real routine. This loader's own import binder never
// allows ordinal imports, but GetProcAddress callers are external code this
// loader does not control.
func (ld *Loader) redirectGetProcAddress(hmodule, procName uintptr) uintptr {
	ld.lock.Acquire()
	m := ld.registry.lookupByBase(hmodule)
	ld.lock.Release()
	byOrdinal := procName>>16 == 0
	if m == nil || m.file == nil || (byOrdinal && m.ExternallyLoaded) {
		r, _, _ := procGetProcAddress.Call(hmodule, procName)
		return r
	}
	if byOrdinal {
		rva, fwd, ok := m.file.ProcAddressByOrdinal(uint16(procName))
		if !ok || fwd != "" {
			return 0
		}
		return hmodule + uintptr(rva)
	}
	name := readCString(procName)
	ld.lock.Acquire() // resolveSymbol may load a forwarder target
	addr, err := ld.resolveSymbol(hmodule, m.file, m.Name, name, 0)
	ld.lock.Release()
	if err != nil {
		return 0
	}
	return addr
}

// readCString reads a NUL-terminated ANSI string out of the caller's
// address space starting at addr. Bounded the same way pe.maxImportNameLength
// bounds import-name reads, for the same reason: an adversarial or
// malformed caller must not make this loop past any reasonable symbol name.
func readCString(addr uintptr) string {
	const maxLen = 0x200
	var b []byte
	p := (*byte)(unsafe.Pointer(addr))
	for i := 0; i < maxLen; i++ {
		c := *(*byte)(unsafe.Pointer(uintptr(unsafe.Pointer(p)) + uintptr(i)))
		if c == 0 {
			break
		}
		b = append(b, c)
	}
	return string(b)
}
