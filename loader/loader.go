//go:build windows

package loader

import (
	"golang.org/x/crypto/blake2b"

	"github.com/jizhongqing/privload/internal/hostiface"
)

// Loader is one private-loader instance (spec.md §3 "Loader state"): a host
// process embeds exactly one, constructed with New and torn down with Exit,
// exactly as win32/loader.c's loader_init/loader_exit bracket the global
// state the original keeps in static variables. Bundling that state in a
// struct instead is the one deliberate structural departure the ambient-Go
// idiom calls for — see DESIGN.md's loader/loader.go entry.
type Loader struct {
	vm    hostiface.VM
	reg   hostiface.Registry
	owner hostiface.AddressOwner
	files hostiface.FileExists
	log   Logger

	lock  *recursiveLock
	fls   *flsRegistry
	paths searchPaths

	registry  *registry
	redirects *redirectTable

	clientDirs  []string
	initialized bool
}

// Config supplies the host-process dependencies and options New needs.
// ClientLibDirs lists the directories privately loaded libraries are
// expected to live in (§4.D); they are searched before system32 and the
// Windows directory.
type Config struct {
	VM             hostiface.VM
	Registry       hostiface.Registry
	AddressOwner   hostiface.AddressOwner
	FileExists     hostiface.FileExists
	Logger         Logger
	ClientLibDirs  []string
}

// New constructs a Loader bound to the given host interfaces but does not
// yet perform any OS interaction; call Init before the first
// LoadPrivateLibrary.
func New(cfg Config) *Loader {
	ld := &Loader{
		vm:    cfg.VM,
		reg:   cfg.Registry,
		owner: cfg.AddressOwner,
		files: cfg.FileExists,
		log:   defaultLoggerFromEnv(cfg.Logger),
		lock:  newRecursiveLock(),
		fls:   newFLSRegistry(),
	}
	ld.registry = newRegistry()
	ld.redirects = ld.newRedirectTable()
	ld.clientDirs = cfg.ClientLibDirs
	return ld
}

// Init performs the one-time setup spec.md §4.D describes: reads
// SystemRoot, derives the fixed search-path list, and registers the host
// process's own already-loaded ntdll.dll and kernel32.dll as
// externally-loaded modules (§3, §6) so that every private library's
// imports against them resolve without remapping a private copy. Must be
// called once, before the first LoadPrivateLibrary.
func (ld *Loader) Init() error {
	if ld.initialized {
		return nil
	}
	if err := ld.initSearchPaths(ld.clientDirs); err != nil {
		return err
	}
	if err := ld.bootstrapExternalModules(); err != nil {
		return err
	}
	ld.initialized = true
	ld.log.Verbosef("loader initialized")
	return nil
}

// Exit tears down every remaining privately-loaded module in dependency
// order (§4.C unload ordering), calling PROCESS_DETACH on each before
// unmapping it. Externally-loaded (adopted) modules are left untouched.
func (ld *Loader) Exit() {
	ld.lock.Acquire()
	defer ld.lock.Release()
	var mods []*Module
	ld.registry.forEachForward(func(m *Module) {
		if !m.ExternallyLoaded {
			mods = append(mods, m)
		}
	})
	for i := len(mods) - 1; i >= 0; i-- {
		ld.unloadLocked(mods[i])
	}
	ld.initialized = false
	ld.log.Verbosef("loader exited")
}

// ThreadInit notifies every loaded private module that a new host thread
// has started (§4.G DLL_THREAD_ATTACH).
func (ld *Loader) ThreadInit() { ld.threadAttachAll() }

// ThreadExit notifies every loaded private module that a host thread is
// about to exit (§4.G DLL_THREAD_DETACH).
func (ld *Loader) ThreadExit() { ld.threadDetachAll() }

// LoadPrivateLibrary is the root entry point (§4): resolves path (or, if it
// already names a file, uses it directly), maps and relocates it, registers
// it, binds its imports, and runs DLL_PROCESS_ATTACH. A module whose entry
// point returns false is unloaded immediately and ErrEntryReturnedFailure is
// returned (§8 invariant 4).
func (ld *Loader) LoadPrivateLibrary(path string) (uintptr, error) {
	ld.lock.Acquire()
	defer ld.lock.Release()
	base, err := ld.locateAndLoad(path, nil, 0)
	if err != nil {
		return 0, err
	}
	return base, nil
}

// locateAndLoad is the shared root/dependency load path: if name is already
// loaded (by short name or, for an already-resolved full path, by its
// derived name) its refcount is bumped and its base returned; otherwise it
// is resolved, mapped, registered, and only then bound and entered.
// dependent is the module whose import descriptor is driving this load (nil
// for a root LoadPrivateLibrary call); it becomes the registry-order anchor
// passed to registry.insert (§3: "a newly loaded M with direct dependent D
// is inserted immediately after D"). Must be called with ld.lock held.
//
// The module is inserted into the registry — with a blank/not-yet-bound
// IAT — before processImports runs, not after: spec.md §9 Design Notes
// calls this out explicitly so a recursive load reaching back to a module
// already in progress (mutual/cyclic dependencies, §8 scenario 3) finds it
// via registry.lookup instead of re-mapping and recursing forever.
func (ld *Loader) locateAndLoad(name string, dependent *Module, depth int) (uintptr, error) {
	if depth > maxImportDepth {
		return 0, wrapErr(ErrCycleDepthExceeded, name, "dependency chain too deep")
	}

	short := moduleShortName(name)
	if m := ld.registry.lookup(short); m != nil {
		m.RefCount++
		return m.Base, nil
	}

	resolved, ok := ld.resolve(name)
	if !ok {
		return 0, wrapErr(ErrMissingDependency, name, "not found on search path")
	}

	base, size, f, err := ld.mapAndRelocate(resolved)
	if err != nil {
		return 0, err
	}

	canonical, ok := f.ShortName()
	if !ok {
		canonical = short
	}
	m := ld.registry.insert(dependent, base, size, canonical)
	m.file = f
	m.ContentHash = blake2b.Sum256(f.HeaderBytes())
	ld.registry.addAddressRange(m)

	if err := ld.processImports(base, f, depth+1, m); err != nil {
		ld.rollbackPartialLoad(m)
		return 0, err
	}

	if ok := ld.runProcessAttach(m, f.EntryPointRVA()); !ok {
		ld.unloadLocked(m)
		return 0, wrapErr(ErrEntryReturnedFailure, canonical, "")
	}
	return base, nil
}

// UnloadPrivateLibrary decrements base's refcount and, once it reaches
// zero, calls DLL_PROCESS_DETACH and unmaps it. Reports false if base is
// not a known private module (mirrors the original's tolerant unload_file).
func (ld *Loader) UnloadPrivateLibrary(base uintptr) bool {
	ld.lock.Acquire()
	defer ld.lock.Release()
	m := ld.registry.lookupByBase(base)
	if m == nil || m.ExternallyLoaded {
		return false
	}
	m.RefCount--
	if m.RefCount > 0 {
		return true
	}
	ld.unloadLocked(m)
	return true
}

// unloadLocked runs PROCESS_DETACH, releases the reference each of m's own
// imports holds on its dependency (§4.E unload_imports), unmaps the image,
// and removes m from the registry. Caller must hold ld.lock.
func (ld *Loader) unloadLocked(m *Module) {
	if m.file != nil {
		ld.runProcessDetach(m, m.file.EntryPointRVA())
		ld.unwindImports(m)
	}
	ld.registry.removeAddressRange(m)
	ld.registry.remove(m)
	ld.vm.UnmapImage(m.Base, m.Size)
	ld.log.Verbosef("unloaded %s", m.Name)
}

// rollbackPartialLoad undoes a module whose own processImports failed
// before DLL_PROCESS_ATTACH ever ran: it releases whatever dependency
// references were already acquired for m's earlier import descriptors (§8
// end-to-end scenario 5, "previously-loaded dependencies in that
// transitive load have their refcounts restored"), then removes and unmaps
// m itself. No PROCESS_DETACH call: the entry point was never attached.
func (ld *Loader) rollbackPartialLoad(m *Module) {
	ld.unwindImports(m)
	ld.registry.removeAddressRange(m)
	ld.registry.remove(m)
	ld.vm.UnmapImage(m.Base, m.Size)
}

// unwindImports walks m's own import descriptors and releases the
// reference each created via locateAndLoad, recursively unloading any
// dependency whose refcount drops to zero. Externally-loaded dependencies
// are left alone — they are never torn down by this loader. Safe to call
// on a module whose imports were only partially bound: a descriptor never
// reached by locateAndLoad simply isn't found in the registry and is
// skipped. Caller must hold ld.lock.
func (ld *Loader) unwindImports(m *Module) {
	if m.file == nil {
		return
	}
	descs, err := m.file.ImportDescriptors()
	if err != nil {
		return
	}
	for _, d := range descs {
		depName, ok := m.file.DependencyName(d)
		if !ok {
			continue
		}
		dep := ld.registry.lookup(moduleShortName(depName))
		if dep == nil || dep.ExternallyLoaded {
			continue
		}
		dep.RefCount--
		if dep.RefCount <= 0 {
			ld.unloadLocked(dep)
		}
	}
}

// InPrivateLibrary reports whether pc falls within a privately-loaded
// module's mapped range (§4.C, §8 invariant 3). Safe to call without the
// loader lock: the address index is only ever grown or shrunk while the
// lock is held, and a read racing a concurrent insert/remove can only
// transiently miss or hit a boundary module, never corrupt the tree itself
// (google/btree's BTreeG is not safe for concurrent *writers*, which this
// package already serializes via ld.lock).
func (ld *Loader) InPrivateLibrary(pc uintptr) bool {
	return ld.registry.contains(pc) != nil
}

// moduleShortName derives the canonical lookup key from either a bare
// dependency name or a resolved full path: the file name without its
// directory, compared case-insensitively throughout this package.
func moduleShortName(nameOrPath string) string {
	i := len(nameOrPath)
	for i > 0 && nameOrPath[i-1] != '\\' && nameOrPath[i-1] != '/' {
		i--
	}
	return nameOrPath[i:]
}
