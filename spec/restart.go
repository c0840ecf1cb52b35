package spec

// RestartPolicy decides whether a service is restarted after its process
// exits. Consumed by the orchestrator's supervisor loop.
type RestartPolicy string

const (
	// RestartNever leaves the service Failed after any exit.
	RestartNever RestartPolicy = "never"

	// RestartOnFailure restarts only after a non-zero exit.
	RestartOnFailure RestartPolicy = "on-failure"

	// RestartUnlessStopped restarts after any exit, unless the service
	// was explicitly stopped.
	RestartUnlessStopped RestartPolicy = "unless-stopped"
)

// Valid reports whether p is a recognised restart policy.
func (p RestartPolicy) Valid() bool {
	switch p {
	case RestartNever, RestartOnFailure, RestartUnlessStopped:
		return true
	}
	return false
}
