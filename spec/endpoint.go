package spec

import (
	"fmt"
	"strconv"
)

// Protocol identifies the application-layer protocol an endpoint speaks.
type Protocol string

const (
	TCP  Protocol = "tcp"
	HTTP Protocol = "http"
	GRPC Protocol = "grpc"
)

// Valid reports whether p is a recognised protocol.
func (p Protocol) Valid() bool {
	switch p {
	case TCP, HTTP, GRPC:
		return true
	}
	return false
}

// Endpoint is a fully resolved, concrete address produced at runtime.
// The deployment file never contains endpoints — they are created by the
// orchestrator when the service's internal port is settled. Endpoints are
// always on the loopback interface: backends are not reachable from
// outside the host except through the gateway.
type Endpoint struct {
	Host     string   `json:"host"`
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
}

// Addr returns the endpoint as a host:port string.
func (e Endpoint) Addr() string {
	return e.Host + ":" + strconv.Itoa(e.Port)
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s://%s", e.Protocol, e.Addr())
}
