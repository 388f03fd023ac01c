package pe

import "fmt"

// ExportDirectory is the subset of IMAGE_EXPORT_DIRECTORY the loader needs
// to resolve a symbol by name or ordinal.
type ExportDirectory struct {
	Name                 uint32
	Base                 uint32
	NumberOfFunctions    uint32
	NumberOfNames        uint32
	AddressOfFunctions   uint32 // RVA of the EAT
	AddressOfNames       uint32 // RVA of the name pointer table
	AddressOfNameOrdinals uint32
}

const exportDirectorySize = 40

func (f *File) exportDirectory() (ExportDirectory, DataDirectory, bool) {
	dir := f.DataDir(ImageDirectoryEntryExport)
	if dir.Size == 0 || dir.VirtualAddress == 0 {
		return ExportDirectory{}, dir, false
	}
	b, ok := f.bytesAt(dir.VirtualAddress, exportDirectorySize)
	if !ok {
		return ExportDirectory{}, dir, false
	}
	ed := ExportDirectory{
		Name:                  byteOrder.Uint32(b[12:16]),
		Base:                  byteOrder.Uint32(b[16:20]),
		NumberOfFunctions:     byteOrder.Uint32(b[20:24]),
		NumberOfNames:         byteOrder.Uint32(b[24:28]),
		AddressOfFunctions:    byteOrder.Uint32(b[28:32]),
		AddressOfNames:        byteOrder.Uint32(b[32:36]),
		AddressOfNameOrdinals: byteOrder.Uint32(b[36:40]),
	}
	return ed, dir, true
}

// ShortName derives the module's canonical short name from its own export
// directory (the original's get_dll_short_name): stable for the module's
// lifetime, used for case-insensitive registry lookups.
func (f *File) ShortName() (string, bool) {
	ed, _, ok := f.exportDirectory()
	if !ok || ed.Name == 0 {
		return "", false
	}
	return f.cString(ed.Name, maxImportNameLength)
}

// GetProcAddressEx resolves name against the export table. If the resolved
// RVA falls inside the export directory's own span, the export is a
// forwarder and the "Module.Symbol" string is returned instead of an RVA
// (§4.A).
func (f *File) GetProcAddressEx(name string) (rva uint32, forwarder string, ok bool) {
	ed, dir, present := f.exportDirectory()
	if !present || ed.NumberOfNames == 0 {
		return 0, "", false
	}
	names, okN := f.bytesAt(ed.AddressOfNames, ed.NumberOfNames*4)
	ords, okO := f.bytesAt(ed.AddressOfNameOrdinals, ed.NumberOfNames*2)
	if !okN || !okO {
		return 0, "", false
	}
	for i := uint32(0); i < ed.NumberOfNames; i++ {
		nameRVA := byteOrder.Uint32(names[i*4 : i*4+4])
		s, okS := f.cString(nameRVA, maxImportNameLength)
		if !okS || s != name {
			continue
		}
		ordinal := byteOrder.Uint16(ords[i*2 : i*2+2])
		return f.exportByOrdinalIndex(ed, dir, uint32(ordinal))
	}
	return 0, "", false
}

// ProcAddressByOrdinal resolves an export by its public ordinal number
// (Base + index), the read-only accessor SPEC_FULL.md adds so the
// redirected GetProcAddress can fall back the same way the real one does.
// It is never used for import resolution (ordinal imports are rejected).
func (f *File) ProcAddressByOrdinal(ordinal uint16) (rva uint32, forwarder string, ok bool) {
	ed, dir, present := f.exportDirectory()
	if !present || uint32(ordinal) < ed.Base {
		return 0, "", false
	}
	return f.exportByOrdinalIndex(ed, dir, uint32(ordinal)-ed.Base)
}

func (f *File) exportByOrdinalIndex(ed ExportDirectory, dir DataDirectory, index uint32) (uint32, string, bool) {
	if index >= ed.NumberOfFunctions {
		return 0, "", false
	}
	eat, ok := f.bytesAt(ed.AddressOfFunctions, ed.NumberOfFunctions*4)
	if !ok {
		return 0, "", false
	}
	exportRVA := byteOrder.Uint32(eat[index*4 : index*4+4])
	if exportRVA >= dir.VirtualAddress && exportRVA < dir.VirtualAddress+dir.Size {
		s, ok := f.cString(exportRVA, maxImportNameLength)
		if !ok {
			return 0, "", false
		}
		return 0, s, true
	}
	return exportRVA, "", true
}

// ParseForwarder splits a forwarder string "Module.Symbol" into the target
// module's filename (Module with ".dll" appended, per §6 "Forwarder string
// format") and the symbol name.
func ParseForwarder(forwarder string) (modfile, symbol string, err error) {
	for i := 0; i < len(forwarder); i++ {
		if forwarder[i] == '.' {
			mod, sym := forwarder[:i], forwarder[i+1:]
			if sym == "" {
				return "", "", fmt.Errorf("pe: malformed forwarder %q", forwarder)
			}
			return mod + ".dll", sym, nil
		}
	}
	return "", "", fmt.Errorf("pe: malformed forwarder %q", forwarder)
}
