//go:build windows

package loader

import (
	"unsafe"

	"github.com/jizhongqing/privload/pe"
)

// bootstrapExternalModules registers the host process's own already-mapped
// ntdll.dll and kernel32.dll as externally-loaded module records (spec.md
// §3 "externally_loaded... e.g. the host runtime's own image, the OS's real
// ntdll") so that import binding against them (every private library
// imports at least one of the two) resolves through the registry instead of
// re-mapping a second private copy of a module the OS already owns. This is
// the "initial externally-loaded modules" registration spec.md §6 calls a
// fatal condition of loader_init if it fails.
func (ld *Loader) bootstrapExternalModules() error {
	for _, handle := range []uintptr{modntdll.Handle(), modkernel32.Handle()} {
		if err := ld.registerExternalModule(handle); err != nil {
			return err
		}
	}
	return nil
}

// registerExternalModule parses the PE headers already resident at base
// (the module is mapped read-only/executable by the OS, so no separate
// MapImage call is needed) and inserts a module record with
// ExternallyLoaded set. Per §3, externally-loaded modules are never added to
// the address-range index.
func (ld *Loader) registerExternalModule(base uintptr) error {
	if base == 0 {
		return wrapErr(ErrMappingFailed, "", "nil module handle")
	}
	if ld.registry.lookupByBase(base) != nil {
		return nil
	}

	probe := unsafe.Slice((*byte)(unsafe.Pointer(base)), headerProbeSize)
	head, err := pe.Parse(probe)
	if err != nil {
		return wrapErr(ErrMappingFailed, "", err.Error())
	}
	head.SetMapped(true)

	size := uintptr(head.SizeOfImage())
	view := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	f, err := pe.Parse(view)
	if err != nil {
		return wrapErr(ErrMappingFailed, "", err.Error())
	}
	f.SetMapped(true)

	name, ok := f.ShortName()
	if !ok {
		name = "unknown"
	}
	m := ld.registry.insert(nil, base, size, name)
	m.ExternallyLoaded = true
	m.file = f
	return nil
}

// headerProbeSize is large enough to cover the DOS/NT/optional headers and
// section table of ntdll/kernel32 on both PE32 and PE32+, so SizeOfImage
// can be read before committing to the full-size re-parse.
const headerProbeSize = 4096
