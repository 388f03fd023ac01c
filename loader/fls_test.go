//go:build windows

package loader

import "testing"

func TestFLSRegistryRegisterAndFind(t *testing.T) {
	r := newFLSRegistry()
	if r.find(0x1234) {
		t.Fatalf("empty registry should not find anything")
	}
	r.register(0x1234)
	r.register(0x5678)
	if !r.find(0x1234) || !r.find(0x5678) {
		t.Fatalf("expected both registered callbacks to be found")
	}
	if r.find(0x9999) {
		t.Fatalf("unregistered callback must not be found")
	}
}

func TestFLSRegistryNeverRemoves(t *testing.T) {
	r := newFLSRegistry()
	r.register(0xAAAA)
	r.register(0xAAAA) // duplicate register is legal, never deduplicated or removed
	n := 0
	for e := r.head.next; e != nil; e = e.next {
		n++
	}
	if n != 2 {
		t.Fatalf("expected both entries retained, got %d", n)
	}
}
