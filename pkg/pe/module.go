// Package pe implements an in-process PE32+ (AMD64) manual-mapping loader:
// it maps a dynamic-library image into this process's own address space,
// resolves its imports through the host OS loader, applies base
// relocations, runs TLS callbacks and the DLL entry point, and returns a
// handle through which exported symbols can be resolved — without the
// image ever touching the filesystem.
package pe

import (
	"fmt"
	"log"
	"sync"
)

// LoadedModule is the sole long-lived entity this package produces. It is
// created exclusively by Load, never mutated observably after Load returns,
// and destroyed exclusively by Unload.
type LoadedModule struct {
	base         uintptr
	headers      *parsedHeaders
	dependencies []uintptr
	pageSize     uint32
	initialized  bool
	relocated    bool

	mu       sync.Mutex
	unloaded bool
}

// Base returns the start address of the reserved virtual range.
func (m *LoadedModule) Base() uintptr { return m.base }

// Initialized reports whether the entry point returned success on
// DLL_PROCESS_ATTACH.
func (m *LoadedModule) Initialized() bool { return m.initialized }

// Relocated reports whether base relocation succeeded or was unnecessary.
func (m *LoadedModule) Relocated() bool { return m.relocated }

var (
	registryMu sync.RWMutex
	registry   = make(map[uintptr]*LoadedModule)
)

func register(m *LoadedModule) {
	registryMu.Lock()
	registry[m.base] = m
	registryMu.Unlock()
}

func unregister(base uintptr) {
	registryMu.Lock()
	delete(registry, base)
	registryMu.Unlock()
}

// Count returns the number of modules currently mapped through this
// package.
func Count() int {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return len(registry)
}

// Lookup resolves an opaque handle (a module's base address) back to its
// LoadedModule, for callers that only hold the pointer-sized handle from
// the C ABI (cmd/capi). Returns nil for any handle not currently registered
// — including zero, fabricated, or already-unloaded handles. Callers must
// only pass handles previously returned by Load; this is a best-effort
// safety net, not a contract they may rely on.
func Lookup(handle uintptr) *LoadedModule {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return registry[handle]
}

// Option configures a Load call.
type Option func(*loadConfig)

type loadConfig struct {
	verbose bool
}

// WithVerbose enables stage-by-stage tracing via the stdlib log package,
// matching the progress narration meltloader/cmd prints around its own
// pe.LoadDLL/LoadPEFromBytes calls.
func WithVerbose() Option {
	return func(c *loadConfig) { c.verbose = true }
}

// Load manually maps a PE32+ AMD64 image given as a contiguous byte slice.
// The image is only read during this call; the caller may discard or
// overwrite data immediately after Load returns.
//
// Control flow: header validation -> allocate -> map sections -> relocate
// -> bind imports -> finalize protection -> run TLS callbacks -> run entry
// point -> register. Any failure along the way tears down whatever had
// already succeeded and returns one of the sentinel errors in this package
// (BadExeFormat/OutOfMemory/ModuleNotFound/ProcNotFound/DllInitFailed); no
// partial module escapes a failed Load.
func Load(data []byte, opts ...Option) (*LoadedModule, error) {
	cfg := loadConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	trace := func(format string, args ...any) {
		if cfg.verbose {
			log.Printf("[pe] "+format, args...)
		}
	}

	raw, err := validateHeaders(data)
	if err != nil {
		setLastError(err)
		return nil, err
	}
	trace("validated headers: machine=0x%x sections=%d", raw.nt.FileHeader.Machine, raw.nt.FileHeader.NumberOfSections)
	if cfg.verbose {
		dumpSections(data)
	}

	preferredBase := uintptr(raw.nt.OptionalHeader.ImageBase)
	base, err := allocateImage(data, preferredBase, raw.nt.OptionalHeader.SizeOfImage, raw.nt.OptionalHeader.SizeOfHeaders)
	if err != nil {
		setLastError(err)
		return nil, err
	}
	trace("reserved image at 0x%x (preferred 0x%x)", base, preferredBase)

	headers := mappedHeaders(base)
	headers.nt.OptionalHeader.ImageBase = uint64(base)

	if err := mapSections(headers, base, data); err != nil {
		teardown(headers, base, nil, false)
		setLastError(err)
		return nil, err
	}
	trace("mapped sections")

	delta := int64(base) - int64(preferredBase)
	relocated, err := applyRelocations(headers, base, delta)
	if err != nil {
		teardown(headers, base, nil, false)
		setLastError(err)
		return nil, err
	}
	if !relocated {
		err = fmt.Errorf("%w: relocation required but no relocation table present", ErrBadExeFormat)
		teardown(headers, base, nil, false)
		setLastError(err)
		return nil, err
	}
	trace("relocations applied, delta=0x%x", delta)

	deps, err := bindImports(headers, base, data)
	if err != nil {
		teardown(headers, base, deps, false)
		setLastError(err)
		return nil, err
	}
	trace("bound %d dependencies", len(deps))

	pageSize := systemPageSize()
	if err := finalizeSections(headers, base, uintptr(pageSize)); err != nil {
		teardown(headers, base, deps, false)
		setLastError(err)
		return nil, err
	}
	trace("finalized section protections (page size %d)", pageSize)

	runTLSCallbacks(headers, base)
	trace("ran TLS callbacks")

	initialized, err := runEntryPoint(headers, base)
	if err != nil {
		teardown(headers, base, deps, false)
		setLastError(err)
		return nil, err
	}
	trace("entry point returned, initialized=%v", initialized)

	m := &LoadedModule{
		base:         base,
		headers:      headers,
		dependencies: deps,
		pageSize:     pageSize,
		initialized:  initialized,
		relocated:    relocated,
	}
	register(m)
	return m, nil
}

// Resolve looks up name against the module's export directory. Safe to
// call concurrently with other Resolve calls on the same module, because
// nothing about a loaded module's state changes between Load returning and
// Unload being called.
func (m *LoadedModule) Resolve(name string) (uintptr, error) {
	m.mu.Lock()
	unloaded := m.unloaded
	m.mu.Unlock()
	if unloaded {
		return 0, fmt.Errorf("%w: module already unloaded", ErrProcNotFound)
	}
	addr, err := resolveExport(m.headers, m.base, name)
	if err != nil {
		setLastError(err)
		return 0, err
	}
	return addr, nil
}

// Unload runs the entry point's DLL_PROCESS_DETACH if the module was
// initialized, releases dependency handles, and frees the image reservation.
// Unload always succeeds; the handle is invalid afterward.
func (m *LoadedModule) Unload() error {
	m.mu.Lock()
	if m.unloaded {
		m.mu.Unlock()
		return nil
	}
	m.unloaded = true
	m.mu.Unlock()

	unregister(m.base)
	teardown(m.headers, m.base, m.dependencies, m.initialized)
	return nil
}
