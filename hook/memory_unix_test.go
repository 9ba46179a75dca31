//go:build unix && (amd64 || 386)

package hook

import "testing"

func TestTrampolineMemory(t *testing.T) {
	tramp, err := allocTrampoline(0, trampolineSize)
	if err != nil {
		t.Fatal(err)
	}
	if len(tramp.Code) != trampolineSize {
		t.Fatalf("allocated %d bytes", len(tramp.Code))
	}
	if !pageMapped(tramp.Addr) {
		t.Fatalf("trampoline page at %#x not mapped", tramp.Addr)
	}
	if err := freeTrampoline(tramp); err != nil {
		t.Fatal(err)
	}
	if err := freeTrampoline(tramp); err == nil {
		t.Fatal("second release succeeded")
	}
}
