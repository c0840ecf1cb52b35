package server

import (
	"fmt"
	"net"
	"sync"
)

// PortAllocator hands out loopback ports for service endpoints and tracks
// which port belongs to which service. Descriptors may pin a port
// (Reserve) or leave it to the OS (Allocate). Either way the allocator
// prevents two services from landing on the same port.
type PortAllocator struct {
	mu        sync.Mutex
	inUse     map[int]string // port → service name
	byService map[string]int
}

// NewPortAllocator creates an empty port allocator.
func NewPortAllocator() *PortAllocator {
	return &PortAllocator{
		inUse:     make(map[int]string),
		byService: make(map[string]int),
	}
}

// Reserve records a pinned port for a service. Fails if another service
// already holds the port.
func (a *PortAllocator) Reserve(service string, port int) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if owner, ok := a.inUse[port]; ok && owner != service {
		return fmt.Errorf("port %d already in use by service %q", port, owner)
	}
	a.inUse[port] = service
	a.byService[service] = port
	return nil
}

// Allocate reserves a random OS-assigned loopback port for the service.
// It binds to :0 to get a free port from the OS, records it, then closes
// the listener and returns the port.
//
// There is a small TOCTOU window between closing the listener and the
// service binding the port. In practice this is negligible.
func (a *PortAllocator) Allocate(service string) (int, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, fmt.Errorf("allocate port: %w", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	a.mu.Lock()
	defer a.mu.Unlock()

	if owner, ok := a.inUse[port]; ok {
		// The OS handed out a port that matches a pinned reservation
		// not yet bound.
		return 0, fmt.Errorf("port %d already in use by service %q", port, owner)
	}
	a.inUse[port] = service
	a.byService[service] = port
	return port, nil
}

// Release removes port tracking for the given service.
func (a *PortAllocator) Release(service string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if port, ok := a.byService[service]; ok {
		delete(a.inUse, port)
		delete(a.byService, service)
	}
}
