package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sync"

	"github.com/matgreaves/moor/spec"
	"github.com/matgreaves/run"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
)

// BackendResolver is the gateway's view of backend state. The
// orchestrator's state table implements it.
type BackendResolver interface {
	State(name string) spec.ServiceState
	Endpoint(name string) (spec.Endpoint, bool)
}

// Gateway terminates external traffic and forwards it to backend
// services over the loopback network. It consults the backend resolver
// on every request and fails fast — a request for a service that is not
// Running gets an immediate 503 instead of a hanging connection.
type Gateway struct {
	Routes   *RouteTable
	Backends BackendResolver

	// ACME enables TLS termination on ports whose routes are marked
	// tls. Nil means all ports are plaintext.
	ACME *spec.ACMESpec

	mu      sync.Mutex
	proxies map[string]*httputil.ReverseProxy // keyed by protocol+addr
}

// Runner returns a run.Runner with one listener per published port, all
// running in parallel. Any listener failing takes the gateway down —
// a gateway that silently serves half its ports is worse than one that
// fails loudly.
func (g *Gateway) Runner() (run.Runner, error) {
	group := run.Group{}

	var acme *acmeManager
	if g.ACME != nil {
		acme = newACMEManager(g.ACME, tlsRoutes(g.Routes))
	}

	acmePort := false
	for _, port := range g.Routes.Ports() {
		routes := g.Routes.RoutesOn(port)

		// tcp routes relay whole connections; validation guarantees a
		// tcp route is alone on its port.
		if routes[0].Protocol == spec.TCP {
			group[fmt.Sprintf("tcp-%d", port)] = g.tcpRelay(port, routes[0])
			continue
		}

		handler := g.httpHandler(port)

		// Cleartext gRPC clients speak HTTP/2 without a TLS handshake;
		// wrap the port's handler with h2c so those connections are
		// upgraded. With TLS, HTTP/2 is negotiated via ALPN instead.
		if !routes[0].TLS && hasGRPCRoute(routes) {
			handler = h2c.NewHandler(handler, &http2.Server{})
		}

		var tlsConf *tls.Config
		if routes[0].TLS {
			if acme == nil {
				return nil, fmt.Errorf("port %d: tls routes require gateway.acme", port)
			}
			tlsConf = acme.tlsConfig()
		}

		if port == 80 && acme != nil {
			// Answer HTTP-01 challenges alongside normal traffic.
			handler = acme.httpHandler(handler)
			acmePort = true
		}

		group[fmt.Sprintf("http-%d", port)] = httpServer(port, handler, tlsConf)
	}

	// ACME needs port 80 for HTTP-01 even when no route listens there.
	if acme != nil && !acmePort {
		group["acme-80"] = httpServer(80, acme.httpHandler(nil), nil)
	}

	if len(group) == 0 {
		return run.Idle, nil
	}
	return group, nil
}

// httpHandler builds the request handler for one published port:
// resolve the route, check the backend is Running, forward.
func (g *Gateway) httpHandler(port int) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		route, ok := g.Routes.Resolve(port, r.Host, r.URL.Path)
		if !ok {
			http.Error(w, "no route", http.StatusNotFound)
			return
		}

		if state := g.Backends.State(route.Service); state != spec.StateRunning {
			w.Header().Set("Retry-After", "1")
			http.Error(w, fmt.Sprintf("service %q is %s", route.Service, state),
				http.StatusServiceUnavailable)
			return
		}

		ep, ok := g.Backends.Endpoint(route.Service)
		if !ok {
			http.Error(w, fmt.Sprintf("service %q has no endpoint", route.Service),
				http.StatusServiceUnavailable)
			return
		}

		g.proxyFor(route.Protocol, ep.Addr()).ServeHTTP(w, r)
	})
}

// proxyFor returns the reverse proxy for a backend address, building it
// on first use. Endpoints are stable for a supervisor's lifetime, so the
// cache stays small: one entry per service per protocol.
func (g *Gateway) proxyFor(protocol spec.Protocol, addr string) *httputil.ReverseProxy {
	key := string(protocol) + "/" + addr

	g.mu.Lock()
	defer g.mu.Unlock()

	if p, ok := g.proxies[key]; ok {
		return p
	}

	target := &url.URL{Scheme: "http", Host: addr}
	proxy := httputil.NewSingleHostReverseProxy(target)

	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		// ServeHTTP appends the client IP to X-Forwarded-For itself;
		// only the scheme needs recording here.
		if req.TLS != nil {
			req.Header.Set("X-Forwarded-Proto", "https")
		} else {
			req.Header.Set("X-Forwarded-Proto", "http")
		}
	}

	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		http.Error(w, "bad gateway: "+err.Error(), http.StatusBadGateway)
	}

	if protocol == spec.GRPC {
		// gRPC backends speak HTTP/2 cleartext.
		proxy.FlushInterval = -1 // streaming support
		proxy.Transport = &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				return (&net.Dialer{}).DialContext(ctx, network, addr)
			},
		}
	}

	if g.proxies == nil {
		g.proxies = make(map[string]*httputil.ReverseProxy)
	}
	g.proxies[key] = proxy
	return proxy
}

// hasGRPCRoute reports whether any route on a port targets a gRPC
// backend.
func hasGRPCRoute(routes []spec.Route) bool {
	for _, r := range routes {
		if r.Protocol == spec.GRPC {
			return true
		}
	}
	return false
}

// httpServer returns a runner that serves HTTP (or HTTPS when tlsConf is
// set) on the given port until ctx is cancelled.
func httpServer(port int, handler http.Handler, tlsConf *tls.Config) run.Runner {
	return run.Func(func(ctx context.Context) error {
		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			return fmt.Errorf("gateway: listen on port %d: %w", port, err)
		}

		srv := &http.Server{Handler: handler, TLSConfig: tlsConf}
		if tlsConf != nil {
			ln = tls.NewListener(ln, tlsConf)
		}

		go func() {
			<-ctx.Done()
			srv.Close()
		}()

		err = srv.Serve(ln)
		if err == http.ErrServerClosed || ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("gateway: port %d: %w", port, err)
	})
}
