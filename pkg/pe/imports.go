package pe

import (
	"bytes"
	"fmt"
	"unsafe"

	bpe "github.com/Binject/debug/pe"
	api "github.com/carved4/go-wincall"
)

// bindImports resolves every import descriptor against the host OS loader
// and patches the IAT in place. The returned slice holds every dependency
// handle acquired, in acquisition order, regardless of outcome — on
// failure the caller is responsible for freeing them via freeDependencies.
func bindImports(headers *parsedHeaders, base uintptr, raw []byte) (deps []uintptr, err error) {
	dir := headers.dataDirectory(imageDirectoryEntryImport)
	if dir.Size == 0 {
		return nil, nil
	}

	// Binject/debug/pe gives us descriptor bounds/name resolution the same
	// way meltloader's own fixImportAddressTable does, instead of hand
	// re-deriving DllName/OriginalFirstThunk offsets from scratch.
	pf, perr := bpe.NewFile(bytes.NewReader(raw))
	if perr != nil {
		return nil, fmt.Errorf("%w: parsing import directory: %v", ErrBadExeFormat, perr)
	}
	importDirs, _, _, perr := pf.ImportDirectoryTable()
	if perr != nil {
		return nil, fmt.Errorf("%w: import directory table: %v", ErrBadExeFormat, perr)
	}

	for _, imp := range importDirs {
		handle := api.LoadLibraryW(imp.DllName)
		if handle == 0 {
			return deps, fmt.Errorf("%w: %s", ErrModuleNotFound, imp.DllName)
		}
		deps = append(deps, handle)

		firstThunk := base + uintptr(imp.FirstThunk)
		originalThunk := base + uintptr(imp.OriginalFirstThunk)
		if imp.OriginalFirstThunk == 0 {
			originalThunk = firstThunk
		}

		for {
			iatSlot := (*imageThunkData64)(unsafe.Pointer(firstThunk))
			lookup := (*imageThunkData64)(unsafe.Pointer(originalThunk))
			if *lookup == 0 {
				break
			}

			var proc uintptr
			var symbol string
			if lookup.isOrdinal() {
				var callErr error
				proc, callErr = api.Call("kernel32.dll", "GetProcAddress", handle, uintptr(lookup.ordinal()))
				if callErr != nil || proc == 0 {
					return deps, fmt.Errorf("%w: %s ordinal #%d", ErrProcNotFound, imp.DllName, lookup.ordinal())
				}
			} else {
				nameAddr := base + uintptr(lookup.nameRVA()) + unsafe.Sizeof(imageImportByName{})
				symbol = cString(nameAddr)
				nameBytes := append([]byte(symbol), 0)
				var callErr error
				proc, callErr = api.Call("kernel32.dll", "GetProcAddress", handle, uintptr(unsafe.Pointer(&nameBytes[0])))
				if callErr != nil || proc == 0 {
					return deps, fmt.Errorf("%w: %s!%s", ErrProcNotFound, imp.DllName, symbol)
				}
			}

			*iatSlot = imageThunkData64(proc)
			firstThunk += unsafe.Sizeof(imageThunkData64(0))
			originalThunk += unsafe.Sizeof(imageThunkData64(0))
		}
	}

	return deps, nil
}

func freeDependencies(deps []uintptr) {
	for _, h := range deps {
		api.Call("kernel32.dll", "FreeLibrary", h)
	}
}

func cString(addr uintptr) string {
	var b []byte
	for {
		c := *(*byte)(unsafe.Pointer(addr))
		if c == 0 {
			break
		}
		b = append(b, c)
		addr++
	}
	return string(b)
}
