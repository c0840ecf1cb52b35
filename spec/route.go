package spec

// Route maps external traffic arriving on a published port to a service.
//
// For http and grpc routes, requests are matched by host and path prefix.
// On a given port the most specific host match wins (exact over wildcard
// over any), then the longest matching path prefix. Two routes on the same
// port with the same host pattern and path prefix are a config error —
// resolution never picks one silently.
//
// A tcp route relays whole connections and must be the only route on its
// port.
type Route struct {
	// Port is the externally published port the gateway listens on.
	Port int `json:"port"`

	// Host matches the request's Host header. Empty matches any host.
	// A "*." prefix matches one leading label ("*.example.com" matches
	// "git.example.com" but not "example.com"). Supports ${VAR}
	// expansion at load time.
	Host string `json:"host,omitempty"`

	// PathPrefix matches the request path. Defaults to "/".
	PathPrefix string `json:"path_prefix,omitempty"`

	// Service is the target service name.
	Service string `json:"service"`

	// Protocol selects the forwarding mode: http (default), grpc
	// (HTTP/2 cleartext to the backend), or tcp (connection relay).
	Protocol Protocol `json:"protocol,omitempty"`

	// TLS terminates TLS on this port. Requires gateway.acme. All routes
	// sharing a port must agree on this flag.
	TLS bool `json:"tls,omitempty"`
}
