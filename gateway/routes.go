package gateway

import (
	"net"
	"sort"
	"strings"

	"github.com/matgreaves/moor/spec"
)

// RouteTable holds the gateway's routes grouped by published port and
// answers "which service gets this request". The table is built once at
// startup from a validated deployment, so every lookup either finds a
// unique best route or no route at all.
type RouteTable struct {
	byPort map[int][]spec.Route
}

// NewRouteTable groups routes by port.
func NewRouteTable(routes []spec.Route) *RouteTable {
	t := &RouteTable{byPort: make(map[int][]spec.Route)}
	for _, r := range routes {
		t.byPort[r.Port] = append(t.byPort[r.Port], r)
	}
	return t
}

// Ports returns the published ports in ascending order.
func (t *RouteTable) Ports() []int {
	ports := make([]int, 0, len(t.byPort))
	for p := range t.byPort {
		ports = append(ports, p)
	}
	sort.Ints(ports)
	return ports
}

// RoutesOn returns the routes listening on a port.
func (t *RouteTable) RoutesOn(port int) []spec.Route {
	return t.byPort[port]
}

// Resolve picks the route for a request on the given port. The most
// specific host match wins (exact over wildcard over any), then the
// longest matching path prefix. Load-time validation guarantees the
// winner is unique.
func (t *RouteTable) Resolve(port int, host, path string) (spec.Route, bool) {
	// The Host header may carry a port; match on the name alone.
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}

	var (
		best     spec.Route
		found    bool
		bestHost int
		bestPfx  int
	)
	for _, r := range t.byPort[port] {
		hostScore, ok := matchHost(r.Host, host)
		if !ok {
			continue
		}
		prefix := r.PathPrefix
		if prefix == "" {
			prefix = "/"
		}
		if !matchPrefix(prefix, path) {
			continue
		}
		if !found || hostScore > bestHost || (hostScore == bestHost && len(prefix) > bestPfx) {
			best = r
			found = true
			bestHost = hostScore
			bestPfx = len(prefix)
		}
	}
	return best, found
}

// matchHost reports whether pattern matches host, and how specifically:
// 2 for an exact match, 1 for a wildcard match, 0 for the any-host
// pattern. A "*." prefix matches exactly one leading label.
func matchHost(pattern, host string) (int, bool) {
	switch {
	case pattern == "":
		return 0, true
	case strings.HasPrefix(pattern, "*."):
		suffix := pattern[1:] // ".example.com"
		if !strings.HasSuffix(host, suffix) {
			return 0, false
		}
		label := host[:len(host)-len(suffix)]
		if label == "" || strings.Contains(label, ".") {
			return 0, false
		}
		return 1, true
	default:
		return 2, strings.EqualFold(pattern, host)
	}
}

// matchPrefix reports whether path falls under prefix, matching on path
// segment boundaries: "/api" matches "/api" and "/api/v1" but not
// "/apiary".
func matchPrefix(prefix, path string) bool {
	if prefix == "/" {
		return true
	}
	prefix = strings.TrimSuffix(prefix, "/")
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
