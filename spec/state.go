package spec

// ServiceState tracks a service through its lifecycle.
type ServiceState string

const (
	StatePending  ServiceState = "pending"
	StateStarting ServiceState = "starting"
	StateRunning  ServiceState = "running"
	StateFailed   ServiceState = "failed"
	StateStopped  ServiceState = "stopped"
)
