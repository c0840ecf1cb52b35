package server

import (
	"sync"

	"github.com/matgreaves/moor/spec"
)

// StateTable tracks the current ServiceState and published endpoint of
// every service. Writes come only from that service's supervisor loop;
// reads come from anywhere (the gateway consults it on every request).
// Readers never block each other.
type StateTable struct {
	mu        sync.RWMutex
	states    map[string]spec.ServiceState
	endpoints map[string]spec.Endpoint
	restarts  map[string]int
}

// NewStateTable creates a table with every named service Pending.
func NewStateTable(names []string) *StateTable {
	t := &StateTable{
		states:    make(map[string]spec.ServiceState, len(names)),
		endpoints: make(map[string]spec.Endpoint, len(names)),
		restarts:  make(map[string]int, len(names)),
	}
	for _, name := range names {
		t.states[name] = spec.StatePending
	}
	return t
}

// State returns the current state of a service. Unknown services read as
// Stopped — the gateway treats them as unavailable.
func (t *StateTable) State(name string) spec.ServiceState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if s, ok := t.states[name]; ok {
		return s
	}
	return spec.StateStopped
}

// SetState records a state transition for a service.
func (t *StateTable) SetState(name string, s spec.ServiceState) {
	t.mu.Lock()
	t.states[name] = s
	t.mu.Unlock()
}

// Endpoint returns the published endpoint of a service.
func (t *StateTable) Endpoint(name string) (spec.Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	ep, ok := t.endpoints[name]
	return ep, ok
}

// SetEndpoint records the published endpoint of a service.
func (t *StateTable) SetEndpoint(name string, ep spec.Endpoint) {
	t.mu.Lock()
	t.endpoints[name] = ep
	t.mu.Unlock()
}

// IncRestarts increments and returns the restart count of a service.
func (t *StateTable) IncRestarts(name string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.restarts[name]++
	return t.restarts[name]
}

// Snapshot returns a point-in-time resolved view of all services.
func (t *StateTable) Snapshot() map[string]spec.ResolvedService {
	t.mu.RLock()
	defer t.mu.RUnlock()

	out := make(map[string]spec.ResolvedService, len(t.states))
	for name, state := range t.states {
		rs := spec.ResolvedService{
			State:    state,
			Restarts: t.restarts[name],
		}
		if ep, ok := t.endpoints[name]; ok {
			epCopy := ep
			rs.Endpoint = &epCopy
		}
		out[name] = rs
	}
	return out
}
