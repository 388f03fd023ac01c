//go:build !windows

package loader

import "github.com/jizhongqing/privload/internal/hostiface"

// This file gives the package a buildable, stub surface on non-Windows
// GOOS values, where none of the syscall-backed machinery in the rest of
// the package can compile.
//
// Loader and Config exist here too; Init and LoadPrivateLibrary return
// ErrUnsupportedPlatform, UnloadPrivateLibrary and InPrivateLibrary report
// false, and Exit/ThreadInit/ThreadExit do nothing
// (§6 Non-goals: "non-Windows support") rather than existing only behind a
// build tag callers must know about — a host that embeds this module
// unconditionally still links and gets a clear runtime error instead of a
// compile failure.
type Loader struct{}

type Config struct {
	VM            hostiface.VM
	Registry      hostiface.Registry
	AddressOwner  hostiface.AddressOwner
	FileExists    hostiface.FileExists
	Logger        Logger
	ClientLibDirs []string
}

func New(Config) *Loader { return &Loader{} }

func (ld *Loader) Init() error { return ErrUnsupportedPlatform }
func (ld *Loader) Exit()       {}

func (ld *Loader) ThreadInit() {}
func (ld *Loader) ThreadExit() {}

func (ld *Loader) LoadPrivateLibrary(string) (uintptr, error) {
	return 0, ErrUnsupportedPlatform
}

func (ld *Loader) UnloadPrivateLibrary(uintptr) bool { return false }

func (ld *Loader) InPrivateLibrary(uintptr) bool { return false }
