package pe

import (
	"testing"
	"unsafe"
)

// buildExportImage lays out a minimal export directory inside a single
// backing buffer, with every RVA expressed relative to that buffer's own
// address, so resolveExport can walk it exactly as it would a mapped image.
func buildExportImage(t *testing.T, names []string) (headers *parsedHeaders, base uintptr, buf []byte) {
	t.Helper()

	// Layout: [NT headers][export dir][name RVAs][ordinals][func RVAs][names...]
	ntOffset := 0
	dirOffset := int(unsafe.Sizeof(imageNTHeaders{}))
	namesTableOffset := dirOffset + int(unsafe.Sizeof(imageExportDirectory{}))
	ordinalsTableOffset := namesTableOffset + 4*len(names)
	funcsTableOffset := ordinalsTableOffset + 2*len(names)
	stringsOffset := funcsTableOffset + 4*len(names)

	size := stringsOffset
	for _, n := range names {
		size += len(n) + 1
	}
	buf = make([]byte, size+16)
	base = uintptr(unsafe.Pointer(&buf[0]))

	nt := (*imageNTHeaders)(unsafe.Pointer(&buf[ntOffset]))
	nt.OptionalHeader.DataDirectory[imageDirectoryEntryExport] = imageDataDirectory{
		VirtualAddress: uint32(dirOffset),
		Size:           uint32(stringsOffset - dirOffset),
	}

	exp := (*imageExportDirectory)(unsafe.Pointer(&buf[dirOffset]))
	exp.NumberOfFunctions = uint32(len(names))
	exp.NumberOfNames = uint32(len(names))
	exp.AddressOfNames = uint32(namesTableOffset)
	exp.AddressOfNameOrdinals = uint32(ordinalsTableOffset)
	exp.AddressOfFunctions = uint32(funcsTableOffset)

	nameRVAs := unsafe.Slice((*uint32)(unsafe.Pointer(&buf[namesTableOffset])), len(names))
	ordinals := unsafe.Slice((*uint16)(unsafe.Pointer(&buf[ordinalsTableOffset])), len(names))
	funcs := unsafe.Slice((*uint32)(unsafe.Pointer(&buf[funcsTableOffset])), len(names))

	cursor := stringsOffset
	for i, n := range names {
		copy(buf[cursor:], n)
		nameRVAs[i] = uint32(cursor)
		ordinals[i] = uint16(i)
		funcs[i] = uint32(cursor) // each export's "address" is just its own name string, for a distinguishable return value
		cursor += len(n) + 1
	}

	return &parsedHeaders{dos: &imageDOSHeader{}, nt: nt}, base, buf
}

func TestResolveExportFindsSortedNames(t *testing.T) {
	names := []string{"Alpha", "Beta", "Gamma", "Zeta"}
	headers, base, buf := buildExportImage(t, names)

	for _, n := range names {
		addr, err := resolveExport(headers, base, n)
		if err != nil {
			t.Fatalf("resolveExport(%q): %v", n, err)
		}
		if addr < base || addr >= base+uintptr(len(buf)) {
			t.Fatalf("resolveExport(%q) returned address outside the image", n)
		}
		// Each export's function RVA points at its own name string, so a
		// correct lookup lands on that string.
		if got := cString(addr); got != n {
			t.Fatalf("resolveExport(%q) resolved to the entry for %q", n, got)
		}
	}
}

func TestResolveExportMissingName(t *testing.T) {
	headers, base, _ := buildExportImage(t, []string{"Alpha", "Beta"})
	if _, err := resolveExport(headers, base, "NotThere"); err == nil {
		t.Fatal("expected error for missing export")
	}
}

func TestResolveExportNoExportDirectory(t *testing.T) {
	buf := make([]byte, int(unsafe.Sizeof(imageNTHeaders{})))
	base := uintptr(unsafe.Pointer(&buf[0]))
	nt := (*imageNTHeaders)(unsafe.Pointer(&buf[0]))
	headers := &parsedHeaders{dos: &imageDOSHeader{}, nt: nt}
	if _, err := resolveExport(headers, base, "Anything"); err == nil {
		t.Fatal("expected error when no export directory is present")
	}
}
