// build with: go build -buildmode=c-shared -o pemap.dll ./cmd/capi
//
// Exports Load, Resolve, and Unload with __cdecl C linkage so a non-Go host
// process can drive the manual mapper directly, the same way
// meltloader/go-dll-src/main.go exports a C-callable entry point from Go.
package main

import "C"

import (
	"unsafe"

	"github.com/carved4/pemap/pkg/pe"
)

// Load manually maps the PE32+ image at data[:size] and returns an opaque,
// pointer-sized handle, or 0 on failure with pe.LastError() set. size is
// advisory — the actual extent read is dictated by the PE headers
// themselves.
//
//export Load
func Load(data *C.uint8_t, size C.size_t) C.uintptr_t {
	// A nil or empty buffer still goes through pe.Load, which rejects it
	// as BadExeFormat and records that as the last error.
	var buf []byte
	if data != nil {
		buf = unsafe.Slice((*byte)(unsafe.Pointer(data)), int(size))
	}
	m, err := pe.Load(buf)
	if err != nil {
		return 0
	}
	return C.uintptr_t(m.Base())
}

// Resolve looks up a null-terminated ASCII symbol name against the module
// identified by handle, returning NULL on failure.
//
//export Resolve
func Resolve(handle C.uintptr_t, name *C.char) unsafe.Pointer {
	m := pe.Lookup(uintptr(handle))
	if m == nil || name == nil {
		return nil
	}
	addr, err := m.Resolve(C.GoString(name))
	if err != nil {
		return nil
	}
	return unsafe.Pointer(addr)
}

// Unload tears down the module identified by handle. Infallible by
// contract; passing an already-unloaded or fabricated handle is undefined
// behavior.
//
//export Unload
func Unload(handle C.uintptr_t) {
	if m := pe.Lookup(uintptr(handle)); m != nil {
		m.Unload()
	}
}

func main() {}
