// Package hostiface defines the narrow interfaces the private loader
// consumes from its host process (§6 "Consumed from the host"). The core
// loader package never calls a Windows API directly for these concerns; it
// holds one of each interface and calls through it, so a host runtime can
// supply its own heap, VM tracker, or registry reader instead of the
// defaults in windows_impl.go.
package hostiface

import "errors"

// ErrNotFound is returned by Registry.SystemRoot when the expected registry
// value is absent — a fatal condition for loader_init per spec.md §7.
var ErrNotFound = errors.New("hostiface: registry value not found")

// VM is the virtual-memory surface the mapper (§4.B) and the import binder's
// IAT protection flips (§4.E) need.
type VM interface {
	// MapImage maps path as an image section (SEC_IMAGE semantics: the OS
	// lays out per-segment protections from the section headers) and
	// returns the base address the kernel chose and the image's committed
	// size.
	MapImage(path string) (base uintptr, size uintptr, err error)

	// UnmapImage releases a mapping previously returned by MapImage. Safe to
	// call on a base that was never mapped (mirrors unmap_file's tolerance
	// of removing what isn't there).
	UnmapImage(base uintptr, size uintptr) error

	// Protect changes the protection of the page(s) spanning [addr, addr+size)
	// and returns the previous protection, for the IAT-writable-then-restore
	// dance in §4.E.
	Protect(addr uintptr, size uintptr, newProt uint32) (oldProt uint32, err error)

	// Reserve/Release back the private heap redirector's (§4.H) backing
	// arenas.
	Reserve(size uintptr) (addr uintptr, err error)
	Release(addr uintptr) error
}

// Registry is the single registry read loader_init needs: the systemroot
// value used to build the system-directory search steps (§4.D).
type Registry interface {
	SystemRoot() (string, error)
}

// AddressOwner answers "is this pointer inside a region the host itself
// allocated" (is_dynamo_address in spec.md §4.H), the predicate the heap
// redirector and RtlFree*String routines use to distinguish host-owned
// pointers from ones the real OS allocator produced.
type AddressOwner interface {
	IsHostAddress(p uintptr) bool
}

// FileExists backs the search resolver's existence probe (§4.D step 3/4):
// "does modpath name a regular file."
type FileExists interface {
	FileExists(path string) bool
}
