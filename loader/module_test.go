//go:build windows

package loader

import "testing"

func TestRegistryInsertOrderAndLookup(t *testing.T) {
	r := newRegistry()
	a := r.insert(nil, 0x1000, 0x1000, "a.dll")
	b := r.insert(a, 0x2000, 0x1000, "b.dll")
	c := r.insert(nil, 0x3000, 0x1000, "c.dll")

	if r.head != c {
		t.Fatalf("expected c to be prepended as head, got %v", r.head.Name)
	}
	if c.next != a || a.next != b {
		t.Fatalf("unexpected registry order: %s -> %s -> %s", c.Name, a.Name, b.Name)
	}

	if m := r.lookup("B.DLL"); m != b {
		t.Fatalf("case-insensitive lookup failed, got %v", m)
	}
	if m := r.lookupByBase(0x2000); m != b {
		t.Fatalf("lookupByBase failed, got %v", m)
	}
	if m := r.lookup("missing.dll"); m != nil {
		t.Fatalf("expected nil for missing module, got %v", m)
	}
}

func TestRegistryAddressIndexContains(t *testing.T) {
	r := newRegistry()
	m := r.insert(nil, 0x10000, 0x2000, "mod.dll")
	r.addAddressRange(m)

	if got := r.contains(0x10000); got != m {
		t.Fatalf("expected hit at range start, got %v", got)
	}
	if got := r.contains(0x11fff); got != m {
		t.Fatalf("expected hit just inside range end, got %v", got)
	}
	if got := r.contains(0x12000); got != nil {
		t.Fatalf("expected miss at range end (exclusive), got %v", got)
	}
	if got := r.contains(0xffff); got != nil {
		t.Fatalf("expected miss below range start, got %v", got)
	}
}

func TestRegistryExternallyLoadedNotIndexed(t *testing.T) {
	r := newRegistry()
	m := r.insert(nil, 0x20000, 0x1000, "host.dll")
	m.ExternallyLoaded = true
	r.addAddressRange(m)

	if got := r.contains(0x20000); got != nil {
		t.Fatalf("externally-loaded module must not be in the address index, got %v", got)
	}
}

func TestRegistryRemoveUnlinksAndPreservesOrder(t *testing.T) {
	r := newRegistry()
	a := r.insert(nil, 0x1000, 0x1000, "a.dll")
	b := r.insert(a, 0x2000, 0x1000, "b.dll")
	d := r.insert(b, 0x3000, 0x1000, "d.dll")

	r.remove(b)

	if a.next != d || d.prev != a {
		t.Fatalf("remove did not relink neighbors: a.next=%v d.prev=%v", a.next, d.prev)
	}
	if r.lookup("b.dll") != nil {
		t.Fatalf("removed module still findable by lookup")
	}
}

func TestRegistryIsEmptyIgnoresExternallyLoaded(t *testing.T) {
	r := newRegistry()
	if !r.isEmpty() {
		t.Fatalf("fresh registry should be empty")
	}
	m := r.insert(nil, 0x1000, 0x1000, "host.dll")
	m.ExternallyLoaded = true
	if !r.isEmpty() {
		t.Fatalf("registry with only externally-loaded modules should be empty")
	}
	r.insert(nil, 0x2000, 0x1000, "private.dll")
	if r.isEmpty() {
		t.Fatalf("registry with a private module should not be empty")
	}
}
