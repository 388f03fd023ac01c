//go:build windows

package loader

import (
	"sync"

	"golang.org/x/sys/windows"
)

// recursiveLock is the loader lock of §5: it must be reentrant because
// redirected routines (GetModuleHandleA, FlsAlloc) are invoked from inside
// private-library entry points that are themselves called while the lock is
// held. Go's sync.Mutex has no notion of an owning goroutine, and the
// callers here are native OS threads running into this package via a
// redirected Windows API call — so ownership is tracked by
// windows.GetCurrentThreadId(), not goroutine identity, matching the
// thread-based semantics the original recursive_lock_t has (see
// SPEC_FULL.md §7, "Recursive loader lock implementation").
type recursiveLock struct {
	mu    sync.Mutex
	cond  *sync.Cond
	owner uint32 // 0 == unheld
	depth int
}

func newRecursiveLock() *recursiveLock {
	l := &recursiveLock{}
	l.cond = sync.NewCond(&l.mu)
	return l
}

func (l *recursiveLock) Acquire() {
	tid := windows.GetCurrentThreadId()
	l.mu.Lock()
	defer l.mu.Unlock()
	for l.owner != 0 && l.owner != tid {
		l.cond.Wait()
	}
	l.owner = tid
	l.depth++
}

func (l *recursiveLock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.depth--
	if l.depth == 0 {
		l.owner = 0
		l.cond.Signal()
	}
}

// fastLock is the separate, non-recursive mutex §5 requires for the
// callback registry, so hot-path FLS lookups never contend with the loader
// lock.
type fastLock struct {
	mu sync.Mutex
}

func (f *fastLock) Lock()   { f.mu.Lock() }
func (f *fastLock) Unlock() { f.mu.Unlock() }
