package pe

import (
	"errors"
	"sync"

	api "github.com/carved4/go-wincall"
)

// The fixed vocabulary of failure kinds a caller can observe.
var (
	ErrBadExeFormat   = errors.New("pe: not a PE32+/AMD64 image")
	ErrOutOfMemory    = errors.New("pe: failed to reserve or commit virtual memory")
	ErrModuleNotFound = errors.New("pe: dependency module could not be loaded")
	ErrProcNotFound   = errors.New("pe: symbol not found")
	ErrDllInitFailed  = errors.New("pe: entry point returned failure on DLL_PROCESS_ATTACH")
)

var (
	lastErrMu sync.Mutex
	lastErr   = make(map[uint32]error)
)

// setLastError records err against the calling OS thread, mirroring the
// Win32 GetLastError/SetLastError convention the C ABI in capi relies on.
// Go's goroutines aren't pinned to OS threads in general, so callers that
// need this semantics across a load/resolve pair must runtime.LockOSThread.
func setLastError(err error) {
	tid, tidErr := api.Call("kernel32.dll", "GetCurrentThreadId")
	if tidErr != nil {
		return
	}
	lastErrMu.Lock()
	lastErr[uint32(tid)] = err
	lastErrMu.Unlock()
}

// LastError returns the most recent error load or resolve set on the
// calling OS thread, or nil if none was recorded.
func LastError() error {
	tid, tidErr := api.Call("kernel32.dll", "GetCurrentThreadId")
	if tidErr != nil {
		return nil
	}
	lastErrMu.Lock()
	defer lastErrMu.Unlock()
	return lastErr[uint32(tid)]
}
