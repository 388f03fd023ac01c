package pe

import (
	"errors"
	"fmt"
)

var (
	// ErrBadDosHeader is returned when the DOS signature doesn't match "MZ".
	ErrBadDosHeader = errors.New("pe: bad DOS header")
	// ErrBadNtHeader is returned when the NT signature doesn't match "PE\0\0".
	ErrBadNtHeader = errors.New("pe: bad NT header")
	// ErrBadOptionalHeader is returned for an optional-header magic that is
	// neither PE32 (0x10b) nor PE32+ (0x20b).
	ErrBadOptionalHeader = errors.New("pe: unrecognized optional header magic")
	// ErrTruncated is returned when a header or directory falls outside the
	// bounds of the supplied data.
	ErrTruncated = errors.New("pe: image truncated")
	// ErrPartialMap is the pe-level analog of the loader's PartialMap error:
	// a directory's declared span is not entirely readable.
	ErrPartialMap = errors.New("pe: partial map, directory not fully readable")
	// ErrUnsupportedRelocation is returned by ApplyRelocations for a
	// relocation type this loader does not implement.
	ErrUnsupportedRelocation = errors.New("pe: unsupported relocation type")
)

// File is a parsed PE image backed by an in-memory byte slice. The slice may
// be the raw file contents (for header inspection prior to mapping) or a
// mapped image (once the image is mapped, RVA and file offset coincide
// for image-mapped views, since SEC_IMAGE lays out sections at their virtual
// addresses).
type File struct {
	data    []byte
	dos     DosHeader
	file    FileHeader
	opt     OptionalHeader
	sects   []SectionHeader
	mapped  bool // true once data represents an image-mapped (not file-offset) view
}

// Parse validates the DOS/NT headers and reads the optional header and
// section table. It does not walk import/export/relocation directories —
// callers do that lazily through the directory-specific accessors, each of
// which checks that the bytes it reads lie within the backing data before
// dereferencing.
func Parse(data []byte) (*File, error) {
	f := &File{data: data}
	if len(data) < 64 {
		return nil, fmt.Errorf("%w: shorter than DOS header", ErrTruncated)
	}
	f.dos.Magic = byteOrder.Uint16(data[0:2])
	if f.dos.Magic != ImageDosSignature {
		return nil, ErrBadDosHeader
	}
	f.dos.LfaNew = int32(byteOrder.Uint32(data[0x3c:0x40]))
	ntOff := int(f.dos.LfaNew)
	if ntOff < 0 || ntOff+24 > len(data) {
		return nil, fmt.Errorf("%w: e_lfanew out of range", ErrTruncated)
	}
	sig := byteOrder.Uint32(data[ntOff : ntOff+4])
	if sig != ImageNtSignature {
		return nil, ErrBadNtHeader
	}
	fhOff := ntOff + 4
	f.file = FileHeader{
		Machine:              byteOrder.Uint16(data[fhOff : fhOff+2]),
		NumberOfSections:     byteOrder.Uint16(data[fhOff+2 : fhOff+4]),
		TimeDateStamp:        byteOrder.Uint32(data[fhOff+4 : fhOff+8]),
		PointerToSymbolTable: byteOrder.Uint32(data[fhOff+8 : fhOff+12]),
		NumberOfSymbols:      byteOrder.Uint32(data[fhOff+12 : fhOff+16]),
		SizeOfOptionalHeader: byteOrder.Uint16(data[fhOff+16 : fhOff+18]),
		Characteristics:      byteOrder.Uint16(data[fhOff+18 : fhOff+20]),
	}
	ohOff := fhOff + 20
	if ohOff+2 > len(data) {
		return nil, fmt.Errorf("%w: missing optional header", ErrTruncated)
	}
	magic := byteOrder.Uint16(data[ohOff : ohOff+2])
	switch magic {
	case imageNtOptionalHdr32Magic:
		if err := f.parseOptional32(data, ohOff); err != nil {
			return nil, err
		}
	case imageNtOptionalHdr64Magic:
		if err := f.parseOptional64(data, ohOff); err != nil {
			return nil, err
		}
	default:
		return nil, ErrBadOptionalHeader
	}

	sectOff := ohOff + int(f.file.SizeOfOptionalHeader)
	for i := 0; i < int(f.file.NumberOfSections); i++ {
		off := sectOff + i*40
		if off+40 > len(data) {
			return nil, fmt.Errorf("%w: section table", ErrTruncated)
		}
		var sh SectionHeader
		copy(sh.Name[:], data[off:off+8])
		sh.VirtualSize = byteOrder.Uint32(data[off+8 : off+12])
		sh.VirtualAddress = byteOrder.Uint32(data[off+12 : off+16])
		sh.SizeOfRawData = byteOrder.Uint32(data[off+16 : off+20])
		sh.PointerToRawData = byteOrder.Uint32(data[off+20 : off+24])
		sh.PointerToRelocations = byteOrder.Uint32(data[off+24 : off+28])
		sh.PointerToLineNumbers = byteOrder.Uint32(data[off+28 : off+32])
		sh.NumberOfRelocations = byteOrder.Uint16(data[off+32 : off+34])
		sh.NumberOfLineNumbers = byteOrder.Uint16(data[off+34 : off+36])
		sh.Characteristics = byteOrder.Uint32(data[off+36 : off+40])
		f.sects = append(f.sects, sh)
	}
	return f, nil
}

// SetMapped marks the File as backed by an image-mapped view (RVA == offset
// into data) rather than raw file bytes. The mapper (§4.B) calls this once
// the section is mapped with SEC_IMAGE, before the binder walks imports.
func (f *File) SetMapped(v bool) { f.mapped = v }

func (f *File) parseOptional32(data []byte, off int) error {
	if off+96 > len(data) {
		return fmt.Errorf("%w: PE32 optional header", ErrTruncated)
	}
	f.opt.Magic = imageNtOptionalHdr32Magic
	f.opt.AddressOfEntryPoint = byteOrder.Uint32(data[off+16 : off+20])
	f.opt.ImageBase = uint64(byteOrder.Uint32(data[off+28 : off+32]))
	f.opt.SectionAlignment = byteOrder.Uint32(data[off+32 : off+36])
	f.opt.FileAlignment = byteOrder.Uint32(data[off+36 : off+40])
	f.opt.SizeOfImage = byteOrder.Uint32(data[off+56 : off+60])
	f.opt.SizeOfHeaders = byteOrder.Uint32(data[off+60 : off+64])
	return f.parseDirectories(data, off+96, 96)
}

func (f *File) parseOptional64(data []byte, off int) error {
	if off+112 > len(data) {
		return fmt.Errorf("%w: PE32+ optional header", ErrTruncated)
	}
	f.opt.Magic = imageNtOptionalHdr64Magic
	f.opt.AddressOfEntryPoint = byteOrder.Uint32(data[off+16 : off+20])
	f.opt.ImageBase = byteOrder.Uint64(data[off+24 : off+32])
	f.opt.SectionAlignment = byteOrder.Uint32(data[off+32 : off+36])
	f.opt.FileAlignment = byteOrder.Uint32(data[off+36 : off+40])
	f.opt.SizeOfImage = byteOrder.Uint32(data[off+56 : off+60])
	f.opt.SizeOfHeaders = byteOrder.Uint32(data[off+60 : off+64])
	return f.parseDirectories(data, off+112, 112)
}

func (f *File) parseDirectories(data []byte, dirOff, _ int) error {
	for i := 0; i < imageNumberOfDirectoryEntries; i++ {
		o := dirOff + i*8
		if o+8 > len(data) {
			return fmt.Errorf("%w: data directories", ErrTruncated)
		}
		f.opt.DataDirectory[i] = DataDirectory{
			VirtualAddress: byteOrder.Uint32(data[o : o+4]),
			Size:           byteOrder.Uint32(data[o+4 : o+8]),
		}
	}
	return nil
}

// OptionalHeader returns the parsed optional header.
func (f *File) OptionalHeader() OptionalHeader { return f.opt }

// FileHeader returns the parsed COFF file header.
func (f *File) FileHeader() FileHeader { return f.file }

// PreferredBase is the image's preferred load address.
func (f *File) PreferredBase() uint64 { return f.opt.ImageBase }

// SizeOfImage is the committed span the mapper must reserve.
func (f *File) SizeOfImage() uint32 { return f.opt.SizeOfImage }

// HeaderBytes returns the DOS-through-section-table header region (the
// SizeOfHeaders span), used for the idempotent-reload content hash rather
// than hashing the whole, possibly huge, mapped image.
func (f *File) HeaderBytes() []byte {
	n := int(f.opt.SizeOfHeaders)
	if n > len(f.data) {
		n = len(f.data)
	}
	return f.data[:n]
}

// EntryPointRVA is the RVA of the PE entry point, or 0 if none (allowed for
// DLLs).
func (f *File) EntryPointRVA() uint32 { return f.opt.AddressOfEntryPoint }

// DataDir returns the data directory at the given IMAGE_DIRECTORY_ENTRY_*
// index, or the zero value if out of range.
func (f *File) DataDir(entry int) DataDirectory {
	if entry < 0 || entry >= len(f.opt.DataDirectory) {
		return DataDirectory{}
	}
	return f.opt.DataDirectory[entry]
}

// Sections returns the section header table.
func (f *File) Sections() []SectionHeader { return f.sects }

// IsRelocatable reports whether the image carries a base-relocation
// directory (§4.B: images without one that don't land at their preferred
// base must be rejected with NotRelocatable).
func (f *File) IsRelocatable() bool {
	d := f.DataDir(ImageDirectoryEntryBaseReloc)
	return d.Size > 0 && d.VirtualAddress > 0
}

// HasBoundImports reports TimeDateStamp != 0 on the first import
// descriptor — observed, never consumed (§4.A).
func (f *File) HasBoundImports() bool {
	d := f.DataDir(ImageDirectoryEntryImport)
	if d.Size < 20 || !f.RVAReadable(d.VirtualAddress, 20) {
		return false
	}
	off := f.rvaOffset(d.VirtualAddress)
	return byteOrder.Uint32(f.data[off+4:off+8]) != 0
}

// HasTLSDirectory reports a non-empty TLS directory — diagnostic only, per
// the Non-goals in spec.md §1.
func (f *File) HasTLSDirectory() bool {
	d := f.DataDir(ImageDirectoryEntryTLS)
	return d.Size > 0 && d.VirtualAddress > 0
}

// rvaOffset converts an RVA to an offset into f.data. For a mapped (SEC_IMAGE)
// view RVA and offset are identical; for a raw file buffer a real
// implementation would need section-table translation, but this loader only
// ever directory-walks mapped images (the file is closed immediately after
// mapping, per §4.B), so the two cases coincide here too.
func (f *File) rvaOffset(rva uint32) int { return int(rva) }

// RVAReadable reports whether [rva, rva+size) lies within the backing data,
// guarding every directory walk against PartialMap (§4.A).
func (f *File) RVAReadable(rva, size uint32) bool {
	if size == 0 {
		return true
	}
	start := uint64(f.rvaOffset(rva))
	end := start + uint64(size)
	return end <= uint64(len(f.data)) && start <= end
}

// bytesAt returns the backing bytes [rva, rva+size) for directory-specific
// parsers in this package; not exported outside pe.
func (f *File) bytesAt(rva, size uint32) ([]byte, bool) {
	if !f.RVAReadable(rva, size) {
		return nil, false
	}
	off := f.rvaOffset(rva)
	return f.data[off : off+int(size)], true
}

// cString reads a NUL-terminated ASCII string starting at rva, bounded by
// maxLen bytes.
func (f *File) cString(rva uint32, maxLen int) (string, bool) {
	off := f.rvaOffset(rva)
	if off < 0 || off >= len(f.data) {
		return "", false
	}
	end := off
	limit := off + maxLen
	if limit > len(f.data) {
		limit = len(f.data)
	}
	for end < limit && f.data[end] != 0 {
		end++
	}
	if end >= limit {
		return "", false
	}
	return string(f.data[off:end]), true
}
