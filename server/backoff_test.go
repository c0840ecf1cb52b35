package server_test

import (
	"testing"
	"time"

	"github.com/matgreaves/moor/server"
)

func TestBackoff_DoublesAndCaps(t *testing.T) {
	b := server.Backoff{Initial: 100 * time.Millisecond, Max: 1 * time.Second}

	want := []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
		800 * time.Millisecond,
		1 * time.Second,
		1 * time.Second,
	}
	for attempt, w := range want {
		if got := b.Delay(attempt); got != w {
			t.Errorf("Delay(%d) = %s, want %s", attempt, got, w)
		}
	}
}

func TestBackoff_NonDecreasing(t *testing.T) {
	b := server.Backoff{Initial: 7 * time.Millisecond, Max: 300 * time.Millisecond}

	prev := time.Duration(0)
	for attempt := 0; attempt < 20; attempt++ {
		d := b.Delay(attempt)
		if d < prev {
			t.Fatalf("Delay(%d) = %s decreased from %s", attempt, d, prev)
		}
		if d > b.Max {
			t.Fatalf("Delay(%d) = %s exceeds max %s", attempt, d, b.Max)
		}
		prev = d
	}
}

func TestBackoff_ZeroValueUsesDefaults(t *testing.T) {
	var b server.Backoff
	if got := b.Delay(0); got != server.DefaultBackoffInitial {
		t.Errorf("Delay(0) = %s, want %s", got, server.DefaultBackoffInitial)
	}
	if got := b.Delay(100); got != server.DefaultBackoffMax {
		t.Errorf("Delay(100) = %s, want %s", got, server.DefaultBackoffMax)
	}
}
