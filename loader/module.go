//go:build windows

package loader

import (
	"strings"

	"github.com/google/btree"
	"github.com/jizhongqing/privload/pe"
)

// Module is one privately-loaded (or externally-adopted) image (spec.md
// §3 "Module record").
type Module struct {
	Base             uintptr
	Size             uintptr
	Name             string // canonical short name, case-insensitive equality
	RefCount         int
	ExternallyLoaded bool
	// ContentHash is a BLAKE2b-256 digest of the mapped image's header bytes
	// (the SizeOfHeaders span), recorded at load time (SPEC_FULL.md §2.2).
	// The loader itself does not compare it: reloading a resident module
	// only bumps its refcount.
	ContentHash [32]byte

	// file retains the parsed headers of a module so later imports that
	// forward through it (or that depend on it) can resolve exports without
	// re-parsing the mapped image. Set for privately-loaded modules and for
	// externally-loaded ones alike (see registerExternalModule).
	file *pe.File

	prev, next *Module
}

func (m *Module) nameEqual(name string) bool {
	return strings.EqualFold(m.Name, name)
}

type addrRange struct {
	start, end uintptr
	mod        *Module
}

func rangeLess(a, b addrRange) bool { return a.start < b.start }

// registry is the module registry of spec.md §3/§4.C: an ordered sequence
// where each module is inserted immediately after the dependent whose import
// loaded it (roots are prepended), so front-to-back iteration visits a
// dependent before the dependencies it loaded, plus a btree-backed address-range
// index for O(log N) in_private_library queries (SPEC_FULL.md §2.2).
//
// All registry mutations require the loader lock held by the caller (§4.C);
// registry itself performs no locking of its own.
type registry struct {
	head, tail *Module
	addrIndex  *btree.BTreeG[addrRange]
}

func newRegistry() *registry {
	return &registry{addrIndex: btree.NewG(32, rangeLess)}
}

// lookup does a case-insensitive short-name match, linear per §4.C ("small
// N, typically < 30").
func (r *registry) lookup(name string) *Module {
	for m := r.head; m != nil; m = m.next {
		if m.nameEqual(name) {
			return m
		}
	}
	return nil
}

// lookupByBase does an exact base-address match.
func (r *registry) lookupByBase(base uintptr) *Module {
	for m := r.head; m != nil; m = m.next {
		if m.Base == base {
			return m
		}
	}
	return nil
}

// insert places a newly loaded module immediately after its direct
// dependent "after" (so dependents unload before their dependencies when
// walking front-to-back), or prepends it if after is nil (a root load).
// This is the registry order invariant of spec.md §3/§8 invariant 1.
func (r *registry) insert(after *Module, base, size uintptr, name string) *Module {
	m := &Module{Base: base, Size: size, Name: name, RefCount: 1}
	if after == nil {
		m.next = r.head
		if r.head != nil {
			r.head.prev = m
		}
		r.head = m
		if r.tail == nil {
			r.tail = m
		}
	} else {
		m.prev = after
		m.next = after.next
		if after.next != nil {
			after.next.prev = m
		} else {
			r.tail = m
		}
		after.next = m
	}
	return m
}

// remove unlinks m from the sequence; the caller handles mapping teardown
// and address-index removal.
func (r *registry) remove(m *Module) {
	if m.prev == nil {
		r.head = m.next
	} else {
		m.prev.next = m.next
	}
	if m.next == nil {
		r.tail = m.prev
	} else {
		m.next.prev = m.prev
	}
	m.prev, m.next = nil, nil
}

// addAddressRange registers m in the address-range index. Externally-loaded
// modules are never added (§3: "not added, they are not private").
func (r *registry) addAddressRange(m *Module) {
	if m.ExternallyLoaded {
		return
	}
	r.addrIndex.ReplaceOrInsert(addrRange{start: m.Base, end: m.Base + m.Size, mod: m})
}

func (r *registry) removeAddressRange(m *Module) {
	r.addrIndex.Delete(addrRange{start: m.Base, end: m.Base + m.Size, mod: m})
}

// contains is the O(log N) "is pc inside a private library" query
// (§4.C, §8 invariant 3): find the range with the greatest start <= pc and
// check pc falls within [start, end).
func (r *registry) contains(pc uintptr) *Module {
	var hit *Module
	r.addrIndex.DescendLessOrEqual(addrRange{start: pc}, func(item addrRange) bool {
		if pc >= item.start && pc < item.end {
			hit = item.mod
		}
		return false
	})
	return hit
}

// forEachForward walks the registry front-to-back (its natural order, a
// dependent before the dependencies it loaded); used for THREAD_ATTACH/DETACH
// and, collected and reversed, by Exit.
func (r *registry) forEachForward(fn func(*Module)) {
	for m := r.head; m != nil; {
		next := m.next
		fn(m)
		m = next
	}
}

func (r *registry) isEmpty() bool {
	for m := r.head; m != nil; m = m.next {
		if !m.ExternallyLoaded {
			return false
		}
	}
	return true
}
