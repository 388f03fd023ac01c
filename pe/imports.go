package pe

import "fmt"

// ImportDescriptor is one IMAGE_IMPORT_DESCRIPTOR entry: one per imported
// DLL, terminated by an all-zero entry (§4.E).
type ImportDescriptor struct {
	OriginalFirstThunk uint32 // RVA of the INT (name lookup table)
	TimeDateStamp      uint32 // != 0 or -1 => bound imports, diagnostic only
	ForwarderChain     uint32
	Name               uint32 // RVA of the ASCII DLL name
	FirstThunk         uint32 // RVA of the IAT, overwritten in place by the binder
}

const importDescriptorSize = 20

// maxImportNameLength bounds dependency/forwarder name reads so a malformed
// or adversarial image can't make the loader scan unbounded memory; named
// imports this long do not occur on Windows in practice.
const maxImportNameLength = 0x200

// ImportDescriptors walks the import directory until the zero-terminator,
// per spec.md §9(b): iteration stops on the terminating all-zero
// descriptor, never on dir.Size (kernel32's import directory on some OS
// builds has been observed with a few trailing bytes past the last real
// descriptor).
func (f *File) ImportDescriptors() ([]ImportDescriptor, error) {
	dir := f.DataDir(ImageDirectoryEntryImport)
	if dir.Size == 0 || dir.VirtualAddress == 0 {
		return nil, nil
	}
	if !f.RVAReadable(dir.VirtualAddress, importDescriptorSize) {
		return nil, fmt.Errorf("%w: import directory", ErrPartialMap)
	}
	var out []ImportDescriptor
	rva := dir.VirtualAddress
	for {
		b, ok := f.bytesAt(rva, importDescriptorSize)
		if !ok {
			return nil, fmt.Errorf("%w: import descriptor at rva %#x", ErrPartialMap, rva)
		}
		d := ImportDescriptor{
			OriginalFirstThunk: byteOrder.Uint32(b[0:4]),
			TimeDateStamp:      byteOrder.Uint32(b[4:8]),
			ForwarderChain:     byteOrder.Uint32(b[8:12]),
			Name:               byteOrder.Uint32(b[12:16]),
			FirstThunk:         byteOrder.Uint32(b[16:20]),
		}
		if d == (ImportDescriptor{}) {
			break
		}
		out = append(out, d)
		rva += importDescriptorSize
	}
	return out, nil
}

// DependencyName reads the ASCII DLL name a descriptor points at.
func (f *File) DependencyName(d ImportDescriptor) (string, bool) {
	return f.cString(d.Name, maxImportNameLength)
}

// Thunk is one slot of the OFT/IAT pair. Raw holds the full union value
// (ordinal flag + ordinal, or RVA-to-IMAGE_IMPORT_BY_NAME); Is64 selects
// which bit layout Raw uses.
type Thunk struct {
	Raw  uint64
	Is64 bool
}

// IsOrdinal reports whether the high bit (ordinal-import flag) is set.
func (t Thunk) IsOrdinal() bool {
	if t.Is64 {
		return t.Raw&imageOrdinalFlag64 != 0
	}
	return t.Raw&imageOrdinalFlag32 != 0
}

// Ordinal extracts the 16-bit ordinal from an ordinal-flagged thunk.
func (t Thunk) Ordinal() uint16 { return uint16(t.Raw & 0xffff) }

// NameRVA extracts the RVA to IMAGE_IMPORT_BY_NAME from a name-flagged
// thunk (the ordinal-flag bit is masked off, matching the original's
// `~IMAGE_ORDINAL_FLAG` mask).
func (t Thunk) NameRVA() uint32 {
	mask := imageOrdinalFlag32
	if t.Is64 {
		mask = imageOrdinalFlag64
	}
	return uint32(t.Raw &^ mask)
}

// ReadThunk reads one OFT/IAT slot at rva.
func (f *File) ReadThunk(rva uint32, is64 bool) (Thunk, bool) {
	size := uint32(4)
	if is64 {
		size = 8
	}
	b, ok := f.bytesAt(rva, size)
	if !ok {
		return Thunk{}, false
	}
	if is64 {
		return Thunk{Raw: byteOrder.Uint64(b), Is64: true}, true
	}
	return Thunk{Raw: uint64(byteOrder.Uint32(b)), Is64: false}, true
}

// ImportName is the parsed IMAGE_IMPORT_BY_NAME pointed at by a name-flagged
// thunk's NameRVA: a 16-bit ordinal hint followed by the NUL-terminated
// symbol name.
type ImportName struct {
	Hint uint16
	Name string
}

// ReadImportName reads IMAGE_IMPORT_BY_NAME at the given RVA.
func (f *File) ReadImportName(rva uint32) (ImportName, bool) {
	hintBytes, ok := f.bytesAt(rva, 2)
	if !ok {
		return ImportName{}, false
	}
	name, ok := f.cString(rva+2, maxImportNameLength)
	if !ok {
		return ImportName{}, false
	}
	return ImportName{Hint: byteOrder.Uint16(hintBytes), Name: name}, true
}

// ThunkSlotSize returns the width in bytes of one OFT/IAT slot for this
// image (4 for PE32, 8 for PE32+).
func (f *File) ThunkSlotSize() uint32 {
	if f.opt.Is64() {
		return 8
	}
	return 4
}
