package pe

import (
	"fmt"
	"unsafe"

	api "github.com/carved4/go-wincall"
)

// mapSections commits and populates each section's virtual range from raw,
// zero-filling sections with no file backing. PhysicalAddress is
// overwritten with VirtualAddress as scratch for the finalizer.
func mapSections(headers *parsedHeaders, base uintptr, raw []byte) error {
	for _, sec := range headers.sections(base) {
		dest := base + uintptr(sec.VirtualAddress)

		if sec.SizeOfRawData == 0 {
			size := uintptr(headers.nt.OptionalHeader.SectionAlignment)
			if size == 0 {
				sec.PhysicalAddress = sec.VirtualAddress
				continue
			}
			if _, err := api.NtAllocateVirtualMemory(^uintptr(0), &dest, 0, &size, memCommit, pageReadWrite); err != nil {
				return fmt.Errorf("%w: committing bss section %s: %v", ErrOutOfMemory, sectionName(sec), err)
			}
			zero(base+uintptr(sec.VirtualAddress), size)
			sec.PhysicalAddress = sec.VirtualAddress
			continue
		}

		if uintptr(sec.PointerToRawData)+uintptr(sec.SizeOfRawData) > uintptr(len(raw)) {
			return fmt.Errorf("%w: section %s raw data out of range", ErrBadExeFormat, sectionName(sec))
		}

		size := uintptr(sec.SizeOfRawData)
		if _, err := api.NtAllocateVirtualMemory(^uintptr(0), &dest, 0, &size, memCommit, pageReadWrite); err != nil {
			return fmt.Errorf("%w: committing section %s: %v", ErrOutOfMemory, sectionName(sec), err)
		}

		var written uintptr
		status, err := api.NtWriteVirtualMemory(^uintptr(0), base+uintptr(sec.VirtualAddress),
			uintptr(unsafe.Pointer(&raw[sec.PointerToRawData])), uintptr(sec.SizeOfRawData), &written)
		if err != nil || status != 0 {
			return fmt.Errorf("%w: copying section %s: status=0x%x err=%v", ErrOutOfMemory, sectionName(sec), status, err)
		}
		sec.PhysicalAddress = sec.VirtualAddress
	}
	return nil
}

func sectionName(sec *imageSectionHeader) string {
	n := 0
	for n < len(sec.Name) && sec.Name[n] != 0 {
		n++
	}
	return string(sec.Name[:n])
}

func zero(addr uintptr, size uintptr) {
	buf := unsafe.Slice((*byte)(unsafe.Pointer(addr)), int(size))
	for i := range buf {
		buf[i] = 0
	}
}
