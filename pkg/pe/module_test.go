package pe

import "testing"

// TestLoadRejectsBadMagic checks that 64 zero bytes fail at header
// validation, before any memory is reserved. The only OS call on this path
// is the GetCurrentThreadId lookup that records and reads the last error.
func TestLoadRejectsBadMagic(t *testing.T) {
	data := make([]byte, 64)
	m, err := Load(data)
	if err == nil {
		t.Fatal("expected error for all-zero image")
	}
	if m != nil {
		t.Fatal("expected nil module on failure")
	}
	if LastError() == nil {
		t.Fatal("expected LastError to be set after a failed Load")
	}
}

func TestRegistryLookupAndCount(t *testing.T) {
	before := Count()

	m := &LoadedModule{base: 0x41414000}
	register(m)
	if Count() != before+1 {
		t.Fatalf("Count() = %d, want %d", Count(), before+1)
	}
	if got := Lookup(0x41414000); got != m {
		t.Fatalf("Lookup returned %v, want %v", got, m)
	}
	if got := Lookup(0x1); got != nil {
		t.Fatalf("Lookup(unregistered handle) = %v, want nil", got)
	}

	unregister(m.base)
	if Count() != before {
		t.Fatalf("Count() after unregister = %d, want %d", Count(), before)
	}
	if got := Lookup(0x41414000); got != nil {
		t.Fatal("Lookup should return nil after unregister")
	}
}

func TestResolveOnUnloadedModuleFails(t *testing.T) {
	m := &LoadedModule{base: 0x42424000, unloaded: true}
	if _, err := m.Resolve("anything"); err == nil {
		t.Fatal("expected error resolving against an unloaded module")
	}
}

func TestUnloadIsIdempotent(t *testing.T) {
	// Already-unloaded short-circuits before teardown touches the OS, so
	// this is safe to run on every platform.
	m := &LoadedModule{base: 0, unloaded: true}
	if err := m.Unload(); err != nil {
		t.Fatalf("second Unload should be a no-op, got %v", err)
	}
}
