package ready_test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/matgreaves/moor/server/ready"
	"github.com/matgreaves/moor/spec"
)

func listenAddr(t *testing.T) (net.Listener, string) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	return ln, ln.Addr().String()
}

func TestTCPCheck_Success(t *testing.T) {
	ln, addr := listenAddr(t)
	defer ln.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := (&ready.TCP{}).Check(ctx, addr); err != nil {
		t.Errorf("expected success, got: %v", err)
	}
}

func TestTCPCheck_Failure(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	// Port 1 is almost certainly not listening.
	if err := (&ready.TCP{}).Check(ctx, "127.0.0.1:1"); err == nil {
		t.Error("expected error for closed port")
	}
}

func TestHTTPCheck_Success(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	ln, addr := listenAddr(t)
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	checker := &ready.HTTP{Path: "/health"}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := checker.Check(ctx, addr); err != nil {
		t.Errorf("expected success, got: %v", err)
	}
}

func TestHTTPCheck_ServerError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	ln, addr := listenAddr(t)
	srv := &http.Server{Handler: mux}
	go srv.Serve(ln)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := (&ready.HTTP{Path: "/"}).Check(ctx, addr); err == nil {
		t.Error("expected error for 500 response")
	}
}

func TestPoll_Timeout(t *testing.T) {
	ln, addr := listenAddr(t)
	ln.Close() // Close immediately so nothing is listening.

	shortTimeout := spec.Duration{Duration: 100 * time.Millisecond}
	rs := &spec.ReadySpec{Timeout: shortTimeout}

	err := ready.Poll(context.Background(), addr, &ready.TCP{}, rs, nil)
	if err == nil {
		t.Error("expected timeout error")
	}
	// Error should include the last check error, not just "context deadline exceeded".
	if !strings.Contains(err.Error(), "last error:") {
		t.Errorf("timeout error should include last check error, got: %v", err)
	}
}

func TestPoll_DelayedReady(t *testing.T) {
	// Start a listener after a delay to simulate slow startup.
	ln, addr := listenAddr(t)
	ln.Close() // Close first.

	// Re-open after 100ms.
	go func() {
		time.Sleep(100 * time.Millisecond)
		ln2, err := net.Listen("tcp", addr)
		if err != nil {
			return
		}
		defer ln2.Close()
		for {
			conn, err := ln2.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := ready.Poll(ctx, addr, &ready.TCP{}, nil, nil); err != nil {
		t.Errorf("expected eventual success, got: %v", err)
	}
}

func TestPoll_OnFailureCallback(t *testing.T) {
	ln, addr := listenAddr(t)
	ln.Close()

	shortTimeout := spec.Duration{Duration: 100 * time.Millisecond}
	rs := &spec.ReadySpec{Timeout: shortTimeout}

	var failures []error
	ready.Poll(context.Background(), addr, &ready.TCP{}, rs, func(err error) {
		failures = append(failures, err)
	})
	if len(failures) == 0 {
		t.Error("expected onFailure to be called at least once")
	}
}

func TestForService_InfersFromProtocol(t *testing.T) {
	tests := []struct {
		protocol spec.Protocol
		want     string
	}{
		{spec.TCP, "*ready.TCP"},
		{spec.HTTP, "*ready.HTTP"},
		{spec.GRPC, "*ready.GRPC"},
	}

	for _, tt := range tests {
		checker := ready.ForService(tt.protocol, nil)
		got := fmt.Sprintf("%T", checker)
		if got != tt.want {
			t.Errorf("ForService(%s) = %s, want %s", tt.protocol, got, tt.want)
		}
	}
}

func TestForService_ReadySpecOverride(t *testing.T) {
	rs := &spec.ReadySpec{Type: "tcp"}
	checker := ready.ForService(spec.HTTP, rs)
	if got := fmt.Sprintf("%T", checker); got != "*ready.TCP" {
		t.Errorf("expected TCP checker from override, got %s", got)
	}
}
