package gateway

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"github.com/matgreaves/moor/spec"
	"golang.org/x/crypto/acme/autocert"
)

// acmeManager wraps autocert with a host policy derived from the
// deployment's tls routes: certificates are only requested for hosts
// some route actually serves.
type acmeManager struct {
	manager  *autocert.Manager
	patterns []string // host patterns from tls routes
}

func newACMEManager(acmeSpec *spec.ACMESpec, patterns []string) *acmeManager {
	m := &acmeManager{patterns: patterns}
	m.manager = &autocert.Manager{
		Prompt:     autocert.AcceptTOS,
		Cache:      autocert.DirCache(acmeSpec.CacheDir),
		Email:      acmeSpec.Email,
		HostPolicy: m.hostPolicy,
	}
	return m
}

// hostPolicy allows certificate requests for any host matched by a tls
// route, including wildcard patterns (each concrete subdomain gets its
// own certificate via HTTP-01).
func (m *acmeManager) hostPolicy(ctx context.Context, host string) error {
	for _, pattern := range m.patterns {
		if _, ok := matchHost(pattern, host); ok {
			return nil
		}
	}
	return fmt.Errorf("acme: host %q not covered by any tls route", host)
}

// tlsConfig returns the TLS config for a terminating listener. autocert
// already advertises h2 via ALPN, so gRPC and HTTP/2 clients negotiate
// upward without extra setup.
func (m *acmeManager) tlsConfig() *tls.Config {
	return m.manager.TLSConfig()
}

// httpHandler serves HTTP-01 challenges, delegating everything else to
// fallback (or a redirect to HTTPS when fallback is nil).
func (m *acmeManager) httpHandler(fallback http.Handler) http.Handler {
	return m.manager.HTTPHandler(fallback)
}

// tlsRoutes collects the host patterns of all routes with TLS enabled.
func tlsRoutes(t *RouteTable) []string {
	var patterns []string
	for _, port := range t.Ports() {
		for _, r := range t.RoutesOn(port) {
			if r.TLS {
				patterns = append(patterns, r.Host)
			}
		}
	}
	return patterns
}
