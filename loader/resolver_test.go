//go:build windows

package loader

import (
	"path/filepath"
	"testing"
)

type fakeRegistry struct{ root string }

func (f fakeRegistry) SystemRoot() (string, error) { return f.root, nil }

type fakeFiles struct{ present map[string]bool }

func (f fakeFiles) FileExists(path string) bool { return f.present[path] }

func TestResolveSearchOrder(t *testing.T) {
	ld := &Loader{reg: fakeRegistry{root: `C:\Windows`}}
	if err := ld.initSearchPaths([]string{`C:\client`}); err != nil {
		t.Fatalf("initSearchPaths: %v", err)
	}

	sys32 := filepath.Join(`C:\Windows`, "System32", "dep.dll")
	client := filepath.Join(`C:\client`, "dep.dll")
	ld.files = fakeFiles{present: map[string]bool{sys32: true, client: true}}

	got, ok := ld.resolve("dep.dll")
	if !ok || got != client {
		t.Fatalf("expected client dir to win over system32, got %q, ok=%v", got, ok)
	}
}

func TestResolveFallsBackToSystem32(t *testing.T) {
	ld := &Loader{reg: fakeRegistry{root: `C:\Windows`}}
	if err := ld.initSearchPaths(nil); err != nil {
		t.Fatalf("initSearchPaths: %v", err)
	}
	sys32 := filepath.Join(`C:\Windows`, "System32", "kernel32.dll")
	ld.files = fakeFiles{present: map[string]bool{sys32: true}}

	got, ok := ld.resolve("kernel32.dll")
	if !ok || got != sys32 {
		t.Fatalf("expected system32 resolution, got %q, ok=%v", got, ok)
	}
}

func TestResolveNotFound(t *testing.T) {
	ld := &Loader{reg: fakeRegistry{root: `C:\Windows`}}
	if err := ld.initSearchPaths(nil); err != nil {
		t.Fatalf("initSearchPaths: %v", err)
	}
	ld.files = fakeFiles{present: map[string]bool{}}

	if _, ok := ld.resolve("nope.dll"); ok {
		t.Fatalf("expected resolve to fail for an absent dependency")
	}
}

func TestResolveAlreadyQualifiedPath(t *testing.T) {
	ld := &Loader{}
	full := `C:\some\dir\already.dll`
	ld.files = fakeFiles{present: map[string]bool{full: true}}

	got, ok := ld.resolve(full)
	if !ok || got != full {
		t.Fatalf("expected already-qualified path to pass through unchanged, got %q, ok=%v", got, ok)
	}
}
