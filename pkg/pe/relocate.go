package pe

import (
	"fmt"
	"unsafe"
)

// applyRelocations walks the .reloc stream and adds delta to every fixup
// location. If there is no relocation directory, success requires
// delta == 0 — the image can only be used unmodified at its preferred base.
func applyRelocations(headers *parsedHeaders, base uintptr, delta int64) (relocated bool, err error) {
	dir := headers.dataDirectory(imageDirectoryEntryBaseReloc)
	if dir.Size == 0 {
		return delta == 0, nil
	}
	if delta == 0 {
		return true, nil
	}

	blockAddr := base + uintptr(dir.VirtualAddress)
	end := blockAddr + uintptr(dir.Size)

	for blockAddr < end {
		block := (*imageBaseRelocation)(unsafe.Pointer(blockAddr))
		if block.VirtualAddress == 0 || block.SizeOfBlock == 0 {
			break
		}
		if block.SizeOfBlock < uint32(unsafe.Sizeof(imageBaseRelocation{})) {
			return false, fmt.Errorf("%w: relocation block size %d too small", ErrBadExeFormat, block.SizeOfBlock)
		}

		entryCount := (block.SizeOfBlock - uint32(unsafe.Sizeof(imageBaseRelocation{}))) / 2
		entries := unsafe.Slice((*imageReloc)(unsafe.Pointer(blockAddr+unsafe.Sizeof(imageBaseRelocation{}))), int(entryCount))

		pageBase := base + uintptr(block.VirtualAddress)
		for _, e := range entries {
			target := pageBase + uintptr(e.offset())
			switch e.relocType() {
			case imageRelBasedAbsolute:
				// padding, no-op
			case imageRelBasedHighLow:
				p := (*uint32)(unsafe.Pointer(target))
				*p = uint32(int64(*p) + delta)
			case imageRelBasedDir64:
				p := (*uint64)(unsafe.Pointer(target))
				*p = uint64(int64(*p) + delta)
			default:
				// tolerated: not emitted by PE32+ images in practice
			}
		}

		blockAddr += uintptr(block.SizeOfBlock)
	}

	return true, nil
}
