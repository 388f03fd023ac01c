//go:build windows

package loader

import (
	"syscall"
	"unsafe"
)

var procFlsAlloc = modkernel32.NewProc("FlsAlloc")

// flsCallback is one entry in the per-thread-callback registry (§3, §4.I):
// a singly-linked list with a permanent sentinel head so inserts never have
// to write the head pointer (avoiding a write into otherwise read-only
// data, per the original's rationale).
type flsCallback struct {
	cb   uintptr // 0 on the sentinel head
	next *flsCallback
}

// flsRegistry tracks FLS callbacks registered by privately-loaded libraries
// so the host can invoke them natively instead of interpreting them. Guarded
// by its own fastLock (§5), separate from the loader lock, so hot-path
// lookups during dispatch never contend with registry mutation.
type flsRegistry struct {
	lock fastLock
	head *flsCallback
}

func newFLSRegistry() *flsRegistry {
	return &flsRegistry{head: &flsCallback{}}
}

// register records cb. Entries are never removed (§9 Open Question (a)):
// FLS callbacks may fire at thread exit or explicit FLS removal, and the
// calling context here does not distinguish the two, so the registry
// conservatively prefers a stale entry to a use-after-free.
func (r *flsRegistry) register(cb uintptr) {
	entry := &flsCallback{cb: cb}
	r.lock.Lock()
	entry.next = r.head.next
	r.head.next = entry
	r.lock.Unlock()
}

func (r *flsRegistry) find(pc uintptr) bool {
	r.lock.Lock()
	defer r.lock.Unlock()
	for e := r.head.next; e != nil; e = e.next {
		if e.cb == pc {
			return true
		}
	}
	return false
}

// redirectFlsAlloc intercepts kernel32!FlsAlloc (§4.F, §4.I): if cb points
// into a private library, it is recorded for native dispatch. No separate
// executable-region entry is registered for cb; InPrivateLibrary answers
// true for it only through its module's own range, while that module stays
// loaded. The real FlsAlloc is always still called so the OS continues to
// own slot allocation.
func (ld *Loader) redirectFlsAlloc(cb uintptr) uintptr {
	if ld.InPrivateLibrary(cb) {
		ld.fls.register(cb)
		ld.log.Verbosef("redirectFlsAlloc: cb=%#x", cb)
	}
	r, _, _ := procFlsAlloc.Call(cb)
	return r
}

// PrivateLibHandleCB is the FLS trampoline hook (§6): called by the host
// when it encounters a call whose target pc is a candidate FLS callback. It
// reports whether pc was a registered private-library callback and, if so,
// runs it natively and reports where execution should resume.
//
// ctx supplies the machine context the host's dispatch loop maintains: the
// current stack pointer (for retaddr/argument extraction, stdcall layout on
// 32-bit) and, on 64-bit, the first-argument register.
func (ld *Loader) PrivateLibHandleCB(ctx *CallbackContext, pc uintptr) (redirected bool, nextPC uintptr) {
	if !ld.fls.find(pc) {
		return false, 0
	}
	retAddr := *(*uintptr)(unsafe.Pointer(ctx.StackPointer))
	var arg uintptr
	var newSP uintptr
	if is64Bit {
		arg = ctx.FirstArgReg
		newSP = ctx.StackPointer + unsafe.Sizeof(uintptr(0)) // pop retaddr only
	} else {
		arg = *(*uintptr)(unsafe.Pointer(ctx.StackPointer + unsafe.Sizeof(uintptr(0))))
		newSP = ctx.StackPointer + 2*unsafe.Sizeof(uintptr(0)) // stdcall: pop retaddr + arg
	}
	callFLSCallback(pc, arg)
	ld.log.Verbosef("PrivateLibHandleCB: native call to %#x, resume at %#x", pc, retAddr)
	ctx.StackPointer = newSP
	return true, retAddr
}

// CallbackContext is the minimal machine-context slice the host's dispatch
// loop must supply to PrivateLibHandleCB: the stack pointer at the point of
// the intercepted call, and (on 64-bit only) the register carrying the
// FLS callback's single argument.
type CallbackContext struct {
	StackPointer uintptr
	FirstArgReg  uintptr
}

const is64Bit = unsafe.Sizeof(uintptr(0)) == 8

// callFLSCallback invokes a native PFLS_CALLBACK_FUNCTION with one
// argument, via the same syscall.Syscall pattern memmod_windows.go uses to
// call into mapped-image code (module.entry, TLS callbacks).
func callFLSCallback(fn, arg uintptr) {
	syscall.Syscall(fn, 1, arg, 0, 0)
}
