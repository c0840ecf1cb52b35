package gateway

import (
	"context"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/matgreaves/moor/spec"
	"github.com/matgreaves/run"
)

// tcpRelay returns a runner that accepts connections on the published
// port and relays them byte-for-byte to the route's backend. The backend
// state is checked per connection: if the service is not Running, the
// connection is closed immediately rather than left to hang.
func (g *Gateway) tcpRelay(port int, route spec.Route) run.Runner {
	return run.Func(func(ctx context.Context) error {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("gateway: listen on port %d: %w", port, err)
		}

		go func() {
			<-ctx.Done()
			ln.Close()
		}()

		for {
			conn, err := ln.Accept()
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return fmt.Errorf("gateway: port %d: accept: %w", port, err)
			}
			go g.relayConn(ctx, conn, route)
		}
	})
}

func (g *Gateway) relayConn(ctx context.Context, client net.Conn, route spec.Route) {
	defer client.Close()

	if g.Backends.State(route.Service) != spec.StateRunning {
		return
	}
	ep, ok := g.Backends.Endpoint(route.Service)
	if !ok {
		return
	}

	target, err := net.DialTimeout("tcp", ep.Addr(), 5*time.Second)
	if err != nil {
		return
	}
	defer target.Close()

	// Close both when the gateway shuts down. The watcher must not
	// outlive the relay, or every relayed connection pins a goroutine
	// (and both conns) until shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			client.Close()
			target.Close()
		case <-done:
		}
	}()

	var wg sync.WaitGroup
	wg.Add(2)

	// client → target
	go func() {
		defer wg.Done()
		io.Copy(target, client)
		if tc, ok := target.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	// target → client
	go func() {
		defer wg.Done()
		io.Copy(client, target)
		if tc, ok := client.(*net.TCPConn); ok {
			tc.CloseWrite()
		}
	}()

	wg.Wait()
}
