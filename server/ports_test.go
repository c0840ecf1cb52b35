package server_test

import (
	"testing"

	"github.com/matgreaves/moor/server"
)

func TestPortAllocator_AllocateReturnsUniquePorts(t *testing.T) {
	alloc := server.NewPortAllocator()

	seen := make(map[int]bool)
	for _, name := range []string{"a", "b", "c"} {
		port, err := alloc.Allocate(name)
		if err != nil {
			t.Fatal(err)
		}
		if port <= 0 {
			t.Errorf("invalid port: %d", port)
		}
		if seen[port] {
			t.Errorf("duplicate port: %d", port)
		}
		seen[port] = true
	}
}

func TestPortAllocator_ReserveConflict(t *testing.T) {
	alloc := server.NewPortAllocator()

	if err := alloc.Reserve("a", 9001); err != nil {
		t.Fatal(err)
	}
	if err := alloc.Reserve("b", 9001); err == nil {
		t.Error("expected conflict reserving the same port for another service")
	}
	// Re-reserving for the same owner is fine.
	if err := alloc.Reserve("a", 9001); err != nil {
		t.Errorf("re-reserve for same service: %v", err)
	}
}

func TestPortAllocator_ReleaseFreesPort(t *testing.T) {
	alloc := server.NewPortAllocator()

	if err := alloc.Reserve("a", 9002); err != nil {
		t.Fatal(err)
	}
	alloc.Release("a")
	if err := alloc.Reserve("b", 9002); err != nil {
		t.Errorf("port should be free after release: %v", err)
	}
}
