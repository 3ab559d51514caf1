package pe

import (
	"fmt"

	api "github.com/carved4/go-wincall"
)

// runEntryPoint invokes the DLL entry with DLL_PROCESS_ATTACH. A zero
// AddressOfEntryPoint is legal (some DLLs have none); that's reported back
// as initialized=false without error.
func runEntryPoint(headers *parsedHeaders, base uintptr) (initialized bool, err error) {
	rva := headers.nt.OptionalHeader.AddressOfEntryPoint
	if rva == 0 {
		return false, nil
	}
	entry := base + uintptr(rva)

	ret, callErr := api.CallWorker(entry, base, dllProcessAttach, 0)
	if callErr != nil {
		return false, fmt.Errorf("%w: entry point call failed: %v", ErrDllInitFailed, callErr)
	}
	if ret == 0 {
		return false, ErrDllInitFailed
	}
	return true, nil
}

// runDetach invokes the entry with DLL_PROCESS_DETACH and ignores the
// outcome — unload always proceeds regardless of what the entry point does.
func runDetach(headers *parsedHeaders, base uintptr) {
	rva := headers.nt.OptionalHeader.AddressOfEntryPoint
	if rva == 0 {
		return
	}
	api.CallWorker(base+uintptr(rva), base, dllProcessDetach, 0)
}
