//go:build windows

package loader

import (
	"unsafe"

	"github.com/jizhongqing/privload/pe"
)

// processImports walks every import descriptor of f (mapped at base),
// loading each dependency (recursing through locateAndLoad, with self as
// the dependent so registry order follows §3's insert-after-dependent
// rule) and binding its OFT/IAT pair in lockstep (§4.E). IAT pages are
// flipped writable for the duration of the walk and restored to their
// original protection afterward, mirroring the original's "unprotect IAT,
// bind, reprotect" sequence rather than leaving import tables permanently
// writable. self is already registered (with a not-yet-bound IAT) by the
// time this runs, so a dependency's own imports recursing back to self
// resolve via registry.lookup instead of remapping it.
func (ld *Loader) processImports(base uintptr, f *pe.File, depth int, self *Module) error {
	if depth > maxImportDepth {
		return wrapErr(ErrCycleDepthExceeded, "", "import recursion too deep")
	}
	descs, err := f.ImportDescriptors()
	if err != nil {
		return wrapErr(ErrPartialMap, "", err.Error())
	}
	is64 := f.OptionalHeader().Is64()
	slotSize := f.ThunkSlotSize()

	for _, d := range descs {
		depName, ok := f.DependencyName(d)
		if !ok {
			return wrapErr(ErrMissingDependency, "", "unreadable dependency name")
		}
		if d.TimeDateStamp != 0 {
			ld.log.Verbosef("%s: bound imports from %s ignored", self.Name, depName)
		}
		depBase, err := ld.locateAndLoad(depName, self, depth+1)
		if err != nil {
			return err
		}

		iatRVA := d.FirstThunk
		oftRVA := d.OriginalFirstThunk
		if oftRVA == 0 {
			oftRVA = iatRVA // no OFT: IAT doubles as the name table (§4.E note)
		}

		count := countThunks(f, oftRVA, is64)
		if count == 0 {
			continue
		}
		span := uintptr(count) * uintptr(slotSize)
		iatAddr := base + uintptr(iatRVA)
		oldProt, perr := ld.vm.Protect(iatAddr, span, pageReadWrite)
		if perr != nil {
			return wrapErr(ErrIATProtectFailed, depName, perr.Error())
		}

		berr := ld.bindOneTable(base, f, depBase, depName, oftRVA, iatRVA, is64, slotSize, count)

		if _, rerr := ld.vm.Protect(iatAddr, span, oldProt); rerr != nil && berr == nil {
			berr = wrapErr(ErrIATProtectFailed, depName, rerr.Error())
		}
		if berr != nil {
			return berr
		}
	}
	return nil
}

// maxImportDepth bounds forwarder-chain and dependency recursion (§8
// invariant: "Forwarder resolution terminates").
const maxImportDepth = 32

const pageReadWrite = 0x04 // windows.PAGE_READWRITE, kept local to avoid an import solely for one constant

func countThunks(f *pe.File, tableRVA uint32, is64 bool) int {
	n := 0
	rva := tableRVA
	slot := uint32(4)
	if is64 {
		slot = 8
	}
	for {
		t, ok := f.ReadThunk(rva, is64)
		if !ok || t.Raw == 0 {
			break
		}
		n++
		rva += slot
	}
	return n
}

// bindOneTable resolves every name-thunk of one import descriptor against
// depFile's exports and writes the resolved address into the corresponding
// IAT slot, following forwarder chains; a replacement from the redirection
// table, consulted after the symbol resolves, is written instead (§4.E, §4.F).
func (ld *Loader) bindOneTable(base uintptr, f *pe.File, depBase uintptr, depName string, oftRVA, iatRVA uint32, is64 bool, slotSize uint32, count int) error {
	depMod := ld.registry.lookupByBase(depBase)
	var depFile *pe.File
	if depMod != nil {
		depFile = depMod.file
	}

	for i := 0; i < count; i++ {
		off := uint32(i) * slotSize
		thunk, ok := f.ReadThunk(oftRVA+off, is64)
		if !ok {
			return wrapErr(ErrMissingSymbol, depName, "unreadable thunk")
		}
		if thunk.IsOrdinal() {
			return wrapErr(ErrOrdinalUnsupported, depName, "ordinal-only import not supported")
		}
		nameEntry, ok := f.ReadImportName(thunk.NameRVA())
		if !ok {
			return wrapErr(ErrMissingSymbol, depName, "unreadable import name")
		}

		addr, rerr := ld.resolveSymbol(depBase, depFile, depName, nameEntry.Name, 0)
		if rerr != nil {
			return rerr
		}
		if repl, ok := ld.redirects.lookup(depName, nameEntry.Name); ok {
			addr = repl
		}

		slotAddr := base + uintptr(iatRVA+off)
		writeThunkSlot(slotAddr, addr, is64)
	}
	return nil
}

// resolveSymbol resolves name against modBase's export table, following at
// most maxImportDepth forwarder hops (§4.A, §8 "Forwarder resolution
// terminates"). modFile is populated for both privately-loaded and
// externally-loaded (adopted) modules; see registerExternalModule.
func (ld *Loader) resolveSymbol(modBase uintptr, modFile *pe.File, modName, symbol string, depth int) (uintptr, error) {
	if depth > maxImportDepth {
		return 0, wrapErr(ErrCycleDepthExceeded, modName, "forwarder chain too deep")
	}
	if modFile == nil {
		return 0, wrapErr(ErrMissingSymbol, modName, "module has no retained headers")
	}
	rva, forwarder, ok := modFile.GetProcAddressEx(symbol)
	if !ok {
		return 0, wrapErr(ErrMissingSymbol, modName, symbol)
	}
	if forwarder != "" {
		if len(forwarder) > 0x200 {
			return 0, wrapErr(ErrForwarderStringTooLong, modName, forwarder)
		}
		fwdModFile, fwdSym, perr := pe.ParseForwarder(forwarder)
		if perr != nil {
			return 0, wrapErr(ErrMissingSymbol, modName, perr.Error())
		}
		dependent := ld.registry.lookupByBase(modBase)
		fwdBase, lerr := ld.locateAndLoad(fwdModFile, dependent, depth+1)
		if lerr != nil {
			return 0, lerr
		}
		fwdMod := ld.registry.lookupByBase(fwdBase)
		var fwdFile *pe.File
		if fwdMod != nil {
			fwdFile = fwdMod.file
		}
		if repl, ok := ld.redirects.lookup(fwdModFile, fwdSym); ok {
			return repl, nil
		}
		return ld.resolveSymbol(fwdBase, fwdFile, fwdModFile, fwdSym, depth+1)
	}
	return modBase + uintptr(rva), nil
}

func writeThunkSlot(addr uintptr, value uintptr, is64 bool) {
	if is64 {
		*(*uint64)(unsafe.Pointer(addr)) = uint64(value)
		return
	}
	*(*uint32)(unsafe.Pointer(addr)) = uint32(value)
}
