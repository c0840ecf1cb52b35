package service

import (
	"fmt"
	"io"

	"github.com/matgreaves/moor/spec"
	"github.com/matgreaves/run"
)

// StartParams provides the context a service type needs to launch one
// backend process.
type StartParams struct {
	ServiceName  string
	Spec         spec.Service
	Endpoint     spec.Endpoint            // the service's own internal endpoint
	Dependencies map[string]spec.Endpoint // resolved dependency endpoints
	Env          map[string]string        // pre-built wiring env vars
	Args         []string                 // pre-expanded command arguments
	Stdout       io.Writer
	Stderr       io.Writer
}

// Type defines how a backend service is started. The returned runner
// blocks until the process exits or ctx is cancelled, and performs
// bounded graceful shutdown on cancellation.
type Type interface {
	Runner(params StartParams) run.Runner
}

// Registry maps service type names to their implementations.
type Registry struct {
	types map[string]Type
}

// NewRegistry creates a registry with no types registered.
func NewRegistry() *Registry {
	return &Registry{types: make(map[string]Type)}
}

// Register adds a service type to the registry.
func (r *Registry) Register(name string, t Type) {
	r.types[name] = t
}

// Get returns the service type for the given name, or an error if not
// found.
func (r *Registry) Get(name string) (Type, error) {
	t, ok := r.types[name]
	if !ok {
		return nil, fmt.Errorf("unknown service type: %q", name)
	}
	return t, nil
}
