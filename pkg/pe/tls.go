package pe

import (
	"unsafe"

	api "github.com/carved4/go-wincall"
)

// runTLSCallbacks walks the TLS directory's callback array, invoking each
// with (base, DLL_PROCESS_ATTACH, NULL) in array order. No-op for images
// with no TLS directory.
func runTLSCallbacks(headers *parsedHeaders, base uintptr) {
	dir := headers.dataDirectory(imageDirectoryEntryTLS)
	if dir.VirtualAddress == 0 {
		return
	}

	tls := (*imageTLSDirectory64)(unsafe.Pointer(base + uintptr(dir.VirtualAddress)))
	callback := tls.AddressOfCallbacks
	if callback == 0 {
		return
	}

	for {
		fn := *(*uintptr)(unsafe.Pointer(uintptr(callback)))
		if fn == 0 {
			break
		}
		api.CallWorker(fn, base, dllProcessAttach, 0)
		callback += uint64(unsafe.Sizeof(fn))
	}
}
