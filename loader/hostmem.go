//go:build windows

package loader

// hostHeapAlloc/hostHeapFree/isHostAddress route the private heap
// redirector (§4.H) through the Loader's hostiface.VM/AddressOwner rather
// than a side table: each allocation gets its own Reserve-backed arena, a
// simple page-granular scheme that trades density for never needing a
// separate free-list (the host-provided address-range predicate already
// gives Free/Size their answer for free).
func (ld *Loader) hostHeapAlloc(size uintptr) (uintptr, error) {
	return ld.vm.Reserve(size)
}

func (ld *Loader) hostHeapFree(addr, _ uintptr) {
	ld.vm.Release(addr)
}

func (ld *Loader) isHostAddress(p uintptr) bool {
	return ld.owner.IsHostAddress(p)
}
