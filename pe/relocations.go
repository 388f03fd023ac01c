package pe

import "fmt"

const baseRelocationHeaderSize = 8

// ApplyRelocations walks the IMAGE_DIRECTORY_ENTRY_BASERELOC blocks and
// applies each entry's fixup to the mapped image starting at base, adding
// delta to every relocated location (§4.B). Only the relocation types that
// occur in practice on x86/x64 images are implemented; anything else is
// ErrUnsupportedRelocation, matching the teacher's own
// performBaseRelocation, which rejects unrecognized types rather than
// silently ignoring them.
//
// Each fixup is handed to writeAt as the target's RVA and width (4 or 8
// bytes); writeAt applies delta at that RVA of the mapped image. f's backing
// data must be that same mapped view (SetMapped(true)), since relocation
// blocks are addressed by RVA directly into image memory.
func (f *File) ApplyRelocations(delta int64, writeAt func(rva uint32, size int) error) error {
	dir := f.DataDir(ImageDirectoryEntryBaseReloc)
	if dir.Size == 0 || dir.VirtualAddress == 0 {
		return nil
	}
	rva := dir.VirtualAddress
	end := dir.VirtualAddress + dir.Size
	for rva < end {
		hdr, ok := f.bytesAt(rva, baseRelocationHeaderSize)
		if !ok {
			return fmt.Errorf("%w: relocation block at rva %#x", ErrPartialMap, rva)
		}
		blockRVA := byteOrder.Uint32(hdr[0:4])
		blockSize := byteOrder.Uint32(hdr[4:8])
		if blockRVA == 0 || blockSize < baseRelocationHeaderSize {
			break
		}
		entries, ok := f.bytesAt(rva+baseRelocationHeaderSize, blockSize-baseRelocationHeaderSize)
		if !ok {
			return fmt.Errorf("%w: relocation entries at rva %#x", ErrPartialMap, rva)
		}
		for i := 0; i+2 <= len(entries); i += 2 {
			entry := byteOrder.Uint16(entries[i : i+2])
			relType := entry >> 12
			relOffset := uint32(entry & 0x0fff)
			targetRVA := blockRVA + relOffset
			switch relType {
			case ImageRelBasedAbsolute:
				// padding entry, no fixup
			case ImageRelBasedHighLow:
				if err := writeAt(targetRVA, 4); err != nil {
					return err
				}
			case ImageRelBasedDir64:
				if err := writeAt(targetRVA, 8); err != nil {
					return err
				}
			default:
				return fmt.Errorf("%w: type %d at rva %#x", ErrUnsupportedRelocation, relType, targetRVA)
			}
		}
		rva += blockSize
	}
	return nil
}
