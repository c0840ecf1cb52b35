package spec

import "encoding/json"

// Service describes a single backend service within a deployment.
type Service struct {
	// Type identifies how to start the service ("process", "container").
	Type string `json:"type"`

	// Config holds type-specific configuration as raw JSON.
	Config json.RawMessage `json:"config,omitempty"`

	// Args are extra command-line arguments passed to the service.
	// Supports ${VAR} expansion against the wiring env.
	Args []string `json:"args,omitempty"`

	// Port is the fixed port the service listens on, on the internal
	// (loopback) network. If zero, moord allocates one and passes it to
	// the service via the PORT env var.
	Port int `json:"port,omitempty"`

	// Protocol is the application-layer protocol the service speaks.
	// Defaults to http.
	Protocol Protocol `json:"protocol,omitempty"`

	// DependsOn lists services that must be Running before this one
	// starts.
	DependsOn []string `json:"depends_on,omitempty"`

	// Restart is the restart policy applied when the service exits.
	// Defaults to never.
	Restart RestartPolicy `json:"restart,omitempty"`

	// Mounts are host paths made available to the service.
	Mounts []Mount `json:"mounts,omitempty"`

	// Ready overrides the default readiness check for the endpoint.
	Ready *ReadySpec `json:"ready,omitempty"`
}

// Mount is a host path mounted into a service. For container services it
// becomes a bind mount; for process services Source is passed through the
// wiring env so the process can find it (Target is ignored).
type Mount struct {
	// Source is the host path. Supports ${VAR} expansion at load time.
	Source string `json:"source"`

	// Target is the path inside the container.
	Target string `json:"target"`

	// ReadOnly mounts the path read-only.
	ReadOnly bool `json:"read_only,omitempty"`
}
