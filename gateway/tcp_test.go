package gateway

import (
	"bufio"
	"context"
	"io"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/matgreaves/moor/spec"
)

// startEchoListener runs a TCP echo server for relay tests.
func startEchoListener(t *testing.T) net.Listener {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(c net.Conn) {
				io.Copy(c, c)
				c.Close()
			}(conn)
		}
	}()
	return ln
}

func relayGateway(ln net.Listener) *Gateway {
	addr := ln.Addr().(*net.TCPAddr)
	return &Gateway{
		Backends: &fakeBackends{
			states: map[string]spec.ServiceState{"db": spec.StateRunning},
			endpoints: map[string]spec.Endpoint{
				"db": {Host: "127.0.0.1", Port: addr.Port, Protocol: spec.TCP},
			},
		},
	}
}

func TestRelayConn_CopiesBothWays(t *testing.T) {
	ln := startEchoListener(t)
	g := relayGateway(ln)
	route := spec.Route{Service: "db", Protocol: spec.TCP}

	clientSide, gwSide := net.Pipe()
	defer clientSide.Close()
	go g.relayConn(context.Background(), gwSide, route)

	if _, err := clientSide.Write([]byte("ping\n")); err != nil {
		t.Fatal(err)
	}
	line, err := bufio.NewReader(clientSide).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	if line != "ping\n" {
		t.Errorf("echoed %q, want %q", line, "ping\n")
	}
}

func TestRelayConn_ClosesWhenBackendNotRunning(t *testing.T) {
	g := &Gateway{
		Backends: &fakeBackends{
			states: map[string]spec.ServiceState{"db": spec.StateFailed},
		},
	}
	route := spec.Route{Service: "db", Protocol: spec.TCP}

	clientSide, gwSide := net.Pipe()
	defer clientSide.Close()
	go g.relayConn(context.Background(), gwSide, route)

	clientSide.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, err := clientSide.Read(make([]byte, 1)); err != io.EOF {
		t.Errorf("read error = %v, want EOF (immediate close)", err)
	}
}

func TestRelayConn_ReleasesGoroutinesPerConnection(t *testing.T) {
	ln := startEchoListener(t)
	g := relayGateway(ln)
	route := spec.Route{Service: "db", Protocol: spec.TCP}

	// The gateway context stays live for the whole test: per-connection
	// goroutines must exit with their connection, not with the gateway.
	ctx := context.Background()

	before := runtime.NumGoroutine()

	for i := 0; i < 50; i++ {
		clientSide, gwSide := net.Pipe()
		relayDone := make(chan struct{})
		go func() {
			defer close(relayDone)
			g.relayConn(ctx, gwSide, route)
		}()

		if _, err := clientSide.Write([]byte("x\n")); err != nil {
			t.Fatal(err)
		}
		buf := make([]byte, 2)
		if _, err := io.ReadFull(clientSide, buf); err != nil {
			t.Fatal(err)
		}
		clientSide.Close()
		<-relayDone
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		if runtime.NumGoroutine() <= before+5 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("goroutines = %d, want <= %d: relay goroutines outlived their connections",
				runtime.NumGoroutine(), before+5)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
