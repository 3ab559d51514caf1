package pe

import (
	"fmt"
	"unsafe"
)

// resolveExport looks up name against the module's export directory.
// AddressOfNames is sorted ASCII-ascending per the PE contract, so a
// binary search finds a match without a linear scan.
func resolveExport(headers *parsedHeaders, base uintptr, name string) (uintptr, error) {
	dir := headers.dataDirectory(imageDirectoryEntryExport)
	if dir.VirtualAddress == 0 {
		return 0, ErrProcNotFound
	}

	exp := (*imageExportDirectory)(unsafe.Pointer(base + uintptr(dir.VirtualAddress)))
	if exp.NumberOfNames == 0 || exp.NumberOfFunctions == 0 {
		return 0, ErrProcNotFound
	}

	names := unsafe.Slice((*uint32)(unsafe.Pointer(base+uintptr(exp.AddressOfNames))), int(exp.NumberOfNames))
	ordinals := unsafe.Slice((*uint16)(unsafe.Pointer(base+uintptr(exp.AddressOfNameOrdinals))), int(exp.NumberOfNames))
	functions := unsafe.Slice((*uint32)(unsafe.Pointer(base+uintptr(exp.AddressOfFunctions))), int(exp.NumberOfFunctions))

	lo, hi := 0, len(names)-1
	for lo <= hi {
		mid := (lo + hi) / 2
		candidate := cString(base + uintptr(names[mid]))
		switch {
		case candidate == name:
			ord := ordinals[mid]
			if uint32(ord) >= exp.NumberOfFunctions {
				return 0, fmt.Errorf("%w: ordinal %d out of range for %s", ErrProcNotFound, ord, name)
			}
			return base + uintptr(functions[ord]), nil
		case candidate < name:
			lo = mid + 1
		default:
			hi = mid - 1
		}
	}

	return 0, fmt.Errorf("%w: %s", ErrProcNotFound, name)
}
