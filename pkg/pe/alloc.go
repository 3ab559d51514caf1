package pe

import (
	"fmt"
	"unsafe"

	api "github.com/carved4/go-wincall"
)

// allocateImage reserves and commits SizeOfImage bytes, preferring
// preferredBase, falling back to any address. On success it also commits
// the headers sub-region and copies the header bytes from raw into the
// reservation so later stages never dereference the caller's buffer again.
func allocateImage(raw []byte, preferredBase uintptr, sizeOfImage uint32, sizeOfHeaders uint32) (base uintptr, err error) {
	size := uintptr(sizeOfImage)

	base = preferredBase
	status, callErr := api.NtAllocateVirtualMemory(^uintptr(0), &base, 0, &size, memReserve|memCommit, pageReadWrite)
	if callErr != nil || status != 0 {
		base = 0
		size = uintptr(sizeOfImage)
		status, callErr = api.NtAllocateVirtualMemory(^uintptr(0), &base, 0, &size, memReserve|memCommit, pageReadWrite)
		if callErr != nil || status != 0 {
			return 0, fmt.Errorf("%w: NtAllocateVirtualMemory status=0x%x err=%v", ErrOutOfMemory, status, callErr)
		}
	}

	headerSize := uintptr(sizeOfHeaders)
	headerBase := base
	if _, callErr = api.NtAllocateVirtualMemory(^uintptr(0), &headerBase, 0, &headerSize, memCommit, pageReadWrite); callErr != nil {
		freeImage(base)
		return 0, fmt.Errorf("%w: committing headers: %v", ErrOutOfMemory, callErr)
	}
	if uintptr(len(raw)) < uintptr(sizeOfHeaders) {
		freeImage(base)
		return 0, fmt.Errorf("%w: image shorter than SizeOfHeaders", ErrBadExeFormat)
	}

	var written uintptr
	status, callErr = api.NtWriteVirtualMemory(^uintptr(0), base, uintptr(unsafe.Pointer(&raw[0])), uintptr(sizeOfHeaders), &written)
	if callErr != nil || status != 0 {
		freeImage(base)
		return 0, fmt.Errorf("%w: copying headers: status=0x%x err=%v", ErrOutOfMemory, status, callErr)
	}

	return base, nil
}

// freeImage releases the reservation at base. Swallows failures: it is
// only ever called on a teardown path.
func freeImage(base uintptr) {
	if base == 0 {
		return
	}
	api.Call("kernel32.dll", "VirtualFree", base, uintptr(0), uintptr(memRelease))
}
