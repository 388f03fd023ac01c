//go:build windows

package loader

import "testing"

func TestRegisterExternalModuleRejectsNilHandle(t *testing.T) {
	ld := &Loader{registry: newRegistry()}
	if err := ld.registerExternalModule(0); err == nil {
		t.Fatalf("expected an error for a nil module handle")
	}
}

func TestRegisterExternalModuleSkipsAlreadyRegistered(t *testing.T) {
	ld := &Loader{registry: newRegistry()}
	existing := ld.registry.insert(nil, 0x7000, 0x1000, "already.dll")
	existing.ExternallyLoaded = true

	if err := ld.registerExternalModule(0x7000); err != nil {
		t.Fatalf("expected no-op for an already-registered base, got %v", err)
	}
	if ld.registry.lookupByBase(0x7000) != existing {
		t.Fatalf("registerExternalModule must not replace an existing record")
	}
}
