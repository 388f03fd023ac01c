//go:build windows

package loader

import (
	"unsafe"

	"github.com/jizhongqing/privload/pe"
)

// mapAndRelocate maps path as an image-section view (SEC_IMAGE, §4.B) and
// rebases it in place if the OS did not honor the preferred base. The
// returned *pe.File is parsed directly from the mapped memory (not a
// separate file-data buffer), so RVA == offset holds exactly and every
// later directory walk and relocation write lands in the live image the
// entry point and import binder will actually execute against — unlike
// memmod's copySections, which rebuilds the image section-by-section from a
// disk buffer into freshly committed pages, there is no separate
// finalizeSections pass here because MapImage already asked the kernel for
// per-section protections straight from the headers.
func (ld *Loader) mapAndRelocate(path string) (base uintptr, size uintptr, file *pe.File, err error) {
	base, size, err = ld.vm.MapImage(path)
	if err != nil {
		return 0, 0, nil, wrapErr(ErrMappingFailed, path, err.Error())
	}

	view := unsafe.Slice((*byte)(unsafe.Pointer(base)), size)
	f, perr := pe.Parse(view)
	if perr != nil {
		ld.vm.UnmapImage(base, size)
		return 0, 0, nil, wrapErr(ErrMappingFailed, path, perr.Error())
	}
	f.SetMapped(true)

	preferred := f.PreferredBase()
	delta := int64(base) - int64(preferred)
	if delta != 0 {
		if !f.IsRelocatable() {
			ld.vm.UnmapImage(base, size)
			return 0, 0, nil, wrapErr(ErrNotRelocatable, path, "image has no base relocation directory")
		}
		if rerr := f.ApplyRelocations(delta, func(rva uint32, n int) error {
			return writeRelocatedWord(base, rva, n, delta)
		}); rerr != nil {
			ld.vm.UnmapImage(base, size)
			return 0, 0, nil, wrapErr(ErrRelocationFailed, path, rerr.Error())
		}
	}
	return base, size, f, nil
}

// writeRelocatedWord applies one fixup in place; the mapped view is already
// writable immediately after MapViewOfFile (§4.B), so no protection flip is
// needed here — only the IAT pages get re-protected, by the binder.
func writeRelocatedWord(base uintptr, rva uint32, size int, delta int64) error {
	addr := base + uintptr(rva)
	switch size {
	case 4:
		p := (*uint32)(unsafe.Pointer(addr))
		*p = uint32(int64(*p) + delta)
	case 8:
		p := (*uint64)(unsafe.Pointer(addr))
		*p = uint64(int64(*p) + delta)
	}
	return nil
}
