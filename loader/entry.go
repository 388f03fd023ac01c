//go:build windows

package loader

import "syscall"

// DLL entry-point reason codes (winnt.h), duplicated here rather than
// imported from golang.org/x/sys/windows because that package does not
// export them as named constants.
const (
	dllProcessAttach = 1
	dllProcessDetach = 0
	dllThreadAttach  = 2
	dllThreadDetach  = 3
)

// callEntry invokes a module's DllMain-shaped entry point with the given
// reason code (§4.G). Entry-less modules (EntryPointRVA == 0, legal for
// DLLs with no initialization) are skipped by the caller before this is
// reached.
func callEntry(base uintptr, entryRVA uint32, reason uintptr) bool {
	entry := base + uintptr(entryRVA)
	r, _, _ := syscall.Syscall(entry, 3, base, reason, 0)
	return r != 0
}

// runProcessAttach calls entry with DLL_PROCESS_ATTACH and reports whether
// the module accepted the load (§4.G, §8 invariant 4: "a module whose entry
// point returns FALSE at PROCESS_ATTACH is immediately unloaded").
func (ld *Loader) runProcessAttach(m *Module, entryRVA uint32) bool {
	if entryRVA == 0 {
		return true
	}
	ok := callEntry(m.Base, entryRVA, dllProcessAttach)
	ld.log.Verbosef("entry(%s, PROCESS_ATTACH) -> %v", m.Name, ok)
	return ok
}

// runProcessDetach calls entry with DLL_PROCESS_DETACH; the return value is
// observed by nothing (the OS loader ignores it for DLL_PROCESS_DETACH too).
func (ld *Loader) runProcessDetach(m *Module, entryRVA uint32) {
	if entryRVA == 0 {
		return
	}
	callEntry(m.Base, entryRVA, dllProcessDetach)
	ld.log.Verbosef("entry(%s, PROCESS_DETACH)", m.Name)
}

// threadAttachAll/threadDetachAll notify every privately-loaded module of a
// host thread's lifecycle (§4.G), walking the registry front-to-back with
// forEachForward, so a module is notified before the dependencies it loaded.
func (ld *Loader) threadAttachAll() {
	ld.lock.Acquire()
	defer ld.lock.Release()
	ld.registry.forEachForward(func(m *Module) {
		if m.ExternallyLoaded || m.file == nil {
			return
		}
		if rva := m.file.EntryPointRVA(); rva != 0 {
			callEntry(m.Base, rva, dllThreadAttach)
		}
	})
}

func (ld *Loader) threadDetachAll() {
	ld.lock.Acquire()
	defer ld.lock.Release()
	ld.registry.forEachForward(func(m *Module) {
		if m.ExternallyLoaded || m.file == nil {
			return
		}
		if rva := m.file.EntryPointRVA(); rva != 0 {
			callEntry(m.Base, rva, dllThreadDetach)
		}
	})
}
