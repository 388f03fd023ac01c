//go:build windows

package loader

import (
	"path/filepath"
	"strings"

	"github.com/xyproto/env/v2"
)

// searchPaths is the fixed, ordered list of directories the resolver probes
// for a dependency name (§4.D): client-library directories first, then
// system32, then the Windows directory. CWD and PATH are deliberately never
// consulted — the original's rationale (win32/loader.c's load_shared_library)
// is that resolving a dependency from whatever the host process's current
// directory happens to be would make private loading depend on ambient,
// unaudited state.
type searchPaths struct {
	clientDirs []string
	system32   string
	windowsDir string
}

// initSearchPaths reads SystemRoot once via the host's Registry interface
// and derives system32/windows from it (§4.D step 1). Client-library
// directories are supplied by the embedder (the directories privately
// loaded libraries are expected to live in) and always take precedence.
func (ld *Loader) initSearchPaths(clientDirs []string) error {
	root := env.StrOrDefault(EnvSystemRoot, "")
	if root == "" {
		r, err := ld.reg.SystemRoot()
		if err != nil {
			return wrapErr(ErrFileOpenFailed, "", "SystemRoot: "+err.Error())
		}
		root = r
	}
	ld.paths = searchPaths{
		clientDirs: clientDirs,
		system32:   filepath.Join(root, "System32"),
		windowsDir: root,
	}
	return nil
}

// resolve turns a bare dependency name (as it appears in an import
// descriptor, e.g. "KERNEL32.dll") into a full path by walking
// searchPaths in order and returning the first candidate FileExists
// reports as present (§4.D steps 2-4). If name already contains a
// directory separator it is treated as already-resolved and returned
// unchanged when FileExists reports it present (resolution fails
// otherwise), matching how the root load call is invoked with a full path.
// Empty client directories are skipped.
func (ld *Loader) resolve(name string) (string, bool) {
	if strings.ContainsAny(name, `/\`) {
		if ld.files.FileExists(name) {
			return name, true
		}
		return "", false
	}
	for _, dir := range ld.paths.clientDirs {
		if dir == "" {
			continue // would join to the bare name, i.e. a CWD-relative probe
		}
		cand := filepath.Join(dir, name)
		if ld.files.FileExists(cand) {
			return cand, true
		}
	}
	if cand := filepath.Join(ld.paths.system32, name); ld.files.FileExists(cand) {
		return cand, true
	}
	if cand := filepath.Join(ld.paths.windowsDir, name); ld.files.FileExists(cand) {
		return cand, true
	}
	return "", false
}
