//go:build windows

package loader

import "strings"

// redirectEntry is one (symbol-name -> private-function-pointer) mapping of
// the redirection table (§3, §4.F). fn is a stdcall-compatible trampoline
// produced once via windows.NewCallback, matching the pattern memmod's own
// hookRtlPcToFileHeader uses to splice a Go closure into a Windows import
// slot.
type redirectEntry struct {
	name string
	fn   uintptr
}

// redirectTable holds the two static, compile-time-fixed tables keyed by
// module short name (§3 "Redirection table"). Built once in newRedirectTable
// and never mutated afterward — per §9 "Global tables are immutable," no
// locking guards lookups against it.
type redirectTable struct {
	ntdll    []redirectEntry
	kernel32 []redirectEntry
}

// newRedirectTable builds the fixed redirection tables against a concrete
// Loader so closures can reach its heap redirector, FLS registry, and module
// registry (§4.F entries mandated by spec.md).
func (ld *Loader) newRedirectTable() *redirectTable {
	return &redirectTable{
		ntdll: []redirectEntry{
			// These store function pointers globally and would bleed
			// private callbacks into the OS loader if left unredirected.
			{"LdrSetDllManifestProber", mustCallback(redirectIgnoreArg4)},
			{"RtlSetThreadPoolStartFunc", mustCallback(redirectIgnoreArg8)},
			{"RtlSetUnhandledExceptionFilter", mustCallback(redirectIgnoreArg4)},

			{"RtlAllocateHeap", mustCallback(ld.redirectRtlAllocateHeap)},
			{"RtlReAllocateHeap", mustCallback(ld.redirectRtlReAllocateHeap)},
			{"RtlFreeHeap", mustCallback(ld.redirectRtlFreeHeap)},
			{"RtlSizeHeap", mustCallback(ld.redirectRtlSizeHeap)},

			{"RtlFreeUnicodeString", mustCallback(ld.redirectRtlFreeUnicodeString)},
			{"RtlFreeAnsiString", mustCallback(ld.redirectRtlFreeAnsiString)},
			{"RtlFreeOemString", mustCallback(ld.redirectRtlFreeOemString)},
		},
		kernel32: []redirectEntry{
			{"FlsAlloc", mustCallback(ld.redirectFlsAlloc)},
			{"GetModuleHandleA", mustCallback(ld.redirectGetModuleHandleA)},
			{"GetProcAddress", mustCallback(ld.redirectGetProcAddress)},
		},
	}
}

// lookup returns the replacement function pointer for (moduleName, symbol),
// or 0, false on no match — consulted by the binder (§4.E "Redirection")
// after resolving the final forwarding module F.
func (t *redirectTable) lookup(moduleName, symbol string) (uintptr, bool) {
	var table []redirectEntry
	switch {
	case strings.EqualFold(moduleName, "ntdll.dll"):
		table = t.ntdll
	case strings.EqualFold(moduleName, "kernel32.dll"):
		table = t.kernel32
	default:
		return 0, false
	}
	for _, e := range table {
		if strings.EqualFold(e.name, symbol) {
			return e.fn, true
		}
	}
	return 0, false
}

func mustCallback(fn any) uintptr {
	return newCallback(fn)
}
