//go:build windows

package loader

import "golang.org/x/sys/windows"

// newCallback wraps windows.NewCallback so redirect.go can build its tables
// without every caller repeating the import; fn must have only
// uintptr-compatible parameters and return a single uintptr, as required by
// the Windows stdcall ABI these replacements are spliced into.
func newCallback(fn any) uintptr { return windows.NewCallback(fn) }
