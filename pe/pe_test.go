package pe

import (
	"encoding/binary"
	"testing"
)

// buildMinimalPE64 assembles a minimal, well-formed PE32+ image with one
// section, no imports, and a two-entry export table: "Exported" at RVA
// 0x2000 and a forwarder "Forwarded" pointing at "dep.Sym".
func buildMinimalPE64(t *testing.T) []byte {
	t.Helper()
	const (
		dosSize     = 64
		ntOff       = dosSize
		fileHdrSize = 20
		optHdrSize  = 112 + 16*8
		sectHdrOff  = ntOff + 4 + fileHdrSize + optHdrSize
		numSections = 1
		headersEnd  = sectHdrOff + numSections*40
		exportRVA   = 0x3000
	)
	buf := make([]byte, 0x4000)
	le := binary.LittleEndian
	le.PutUint16(buf[0:2], ImageDosSignature)
	le.PutUint32(buf[0x3c:0x40], ntOff)
	le.PutUint32(buf[ntOff:ntOff+4], ImageNtSignature)

	fh := ntOff + 4
	le.PutUint16(buf[fh:fh+2], 0x8664) // AMD64
	le.PutUint16(buf[fh+2:fh+4], numSections)
	le.PutUint16(buf[fh+16:fh+18], optHdrSize)

	oh := fh + fileHdrSize
	le.PutUint16(buf[oh:oh+2], imageNtOptionalHdr64Magic)
	le.PutUint32(buf[oh+16:oh+20], 0x1500) // entry point RVA
	le.PutUint64(buf[oh+24:oh+32], 0x140000000)
	le.PutUint32(buf[oh+32:oh+36], 0x1000) // section alignment
	le.PutUint32(buf[oh+36:oh+40], 0x200)  // file alignment
	le.PutUint32(buf[oh+56:oh+60], 0x4000) // size of image
	le.PutUint32(buf[oh+60:oh+64], uint32(headersEnd))

	dirOff := oh + 112
	// export directory
	le.PutUint32(buf[dirOff:dirOff+4], exportRVA)
	le.PutUint32(buf[dirOff+4:dirOff+8], 0x200)

	copy(buf[sectHdrOff:sectHdrOff+8], []byte(".text\x00\x00\x00"))
	le.PutUint32(buf[sectHdrOff+12:sectHdrOff+16], 0x1000)
	le.PutUint32(buf[sectHdrOff+16:sectHdrOff+20], 0x1000)
	le.PutUint32(buf[sectHdrOff+20:sectHdrOff+24], uint32(headersEnd))

	// export directory contents at exportRVA
	ed := exportRVA
	dllNameRVA := uint32(exportRVA + 0x100)
	le.PutUint32(buf[ed+12:ed+16], dllNameRVA)
	le.PutUint32(buf[ed+16:ed+20], 1) // Base
	le.PutUint32(buf[ed+20:ed+24], 2) // NumberOfFunctions
	le.PutUint32(buf[ed+24:ed+28], 2) // NumberOfNames
	namesRVA := uint32(exportRVA + 0x40)
	ordsRVA := uint32(exportRVA + 0x60)
	funcsRVA := uint32(exportRVA + 0x80)
	le.PutUint32(buf[ed+28:ed+32], funcsRVA)
	le.PutUint32(buf[ed+32:ed+36], namesRVA)
	le.PutUint32(buf[ed+36:ed+40], ordsRVA)

	copy(buf[dllNameRVA:], []byte("dep.dll\x00"))

	exportedNameRVA := uint32(exportRVA + 0x120)
	forwardedNameRVA := uint32(exportRVA + 0x140)
	copy(buf[exportedNameRVA:], []byte("Exported\x00"))
	copy(buf[forwardedNameRVA:], []byte("Forwarded\x00"))
	le.PutUint32(buf[namesRVA:namesRVA+4], exportedNameRVA)
	le.PutUint32(buf[namesRVA+4:namesRVA+8], forwardedNameRVA)
	le.PutUint16(buf[ordsRVA:ordsRVA+2], 0)
	le.PutUint16(buf[ordsRVA+2:ordsRVA+4], 1)

	le.PutUint32(buf[funcsRVA:funcsRVA+4], 0x2000) // Exported's real RVA
	forwarderStrRVA := uint32(exportRVA + 0x160)
	le.PutUint32(buf[funcsRVA+4:funcsRVA+8], forwarderStrRVA) // inside export dir => forwarder
	copy(buf[forwarderStrRVA:], []byte("dep.Sym\x00"))

	return buf
}

func TestParseMinimalPE64(t *testing.T) {
	data := buildMinimalPE64(t)
	f, err := Parse(data)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !f.OptionalHeader().Is64() {
		t.Fatalf("expected PE32+")
	}
	if f.PreferredBase() != 0x140000000 {
		t.Fatalf("PreferredBase = %#x", f.PreferredBase())
	}
	if f.SizeOfImage() != 0x4000 {
		t.Fatalf("SizeOfImage = %#x", f.SizeOfImage())
	}
	if len(f.Sections()) != 1 || f.Sections()[0].NameString() != ".text" {
		t.Fatalf("sections = %+v", f.Sections())
	}
	if f.IsRelocatable() {
		t.Fatalf("expected no base relocation directory")
	}
}

func TestShortNameAndExports(t *testing.T) {
	f, err := Parse(buildMinimalPE64(t))
	if err != nil {
		t.Fatal(err)
	}
	name, ok := f.ShortName()
	if !ok || name != "dep.dll" {
		t.Fatalf("ShortName = %q, %v", name, ok)
	}
	rva, fwd, ok := f.GetProcAddressEx("Exported")
	if !ok || fwd != "" || rva != 0x2000 {
		t.Fatalf("GetProcAddressEx(Exported) = %#x %q %v", rva, fwd, ok)
	}
	rva, fwd, ok = f.GetProcAddressEx("Forwarded")
	if !ok || rva != 0 || fwd != "dep.Sym" {
		t.Fatalf("GetProcAddressEx(Forwarded) = %#x %q %v", rva, fwd, ok)
	}
	if _, _, ok := f.GetProcAddressEx("DoesNotExist"); ok {
		t.Fatalf("expected miss")
	}
}

func TestParseForwarder(t *testing.T) {
	mod, sym, err := ParseForwarder("api-ms-win-core-synch-l1-1-0.Sleep")
	if err != nil {
		t.Fatal(err)
	}
	if mod != "api-ms-win-core-synch-l1-1-0.dll" || sym != "Sleep" {
		t.Fatalf("got %q %q", mod, sym)
	}
	if _, _, err := ParseForwarder("nodothere"); err == nil {
		t.Fatalf("expected error for malformed forwarder")
	}
}

func TestBadMagic(t *testing.T) {
	data := buildMinimalPE64(t)
	data[0] = 'X'
	if _, err := Parse(data); err == nil {
		t.Fatalf("expected ErrBadDosHeader")
	}
}

func TestImportDescriptorsEmpty(t *testing.T) {
	f, err := Parse(buildMinimalPE64(t))
	if err != nil {
		t.Fatal(err)
	}
	descs, err := f.ImportDescriptors()
	if err != nil {
		t.Fatal(err)
	}
	if len(descs) != 0 {
		t.Fatalf("expected no imports, got %d", len(descs))
	}
}
