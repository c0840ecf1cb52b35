package spec

// Deployment is the top-level declaration of everything moord manages:
// the backend services, the routes the gateway publishes, and gateway
// settings. This is the JSON format of the deployment file.
type Deployment struct {
	// Name identifies the deployment.
	Name string `json:"name"`

	// Services maps service names to their descriptors.
	Services map[string]Service `json:"services"`

	// Routes declares how external traffic is mapped to services.
	Routes []Route `json:"routes,omitempty"`

	// Gateway holds gateway-wide settings (TLS termination).
	Gateway *GatewaySpec `json:"gateway,omitempty"`

	// order remembers the declaration order of service names from the
	// deployment file. Used to break ties in TopologicalOrder.
	order []string
}

// ServiceOrder returns service names in declaration order.
func (d *Deployment) ServiceOrder() []string {
	out := make([]string, len(d.order))
	copy(out, d.order)
	return out
}

// GatewaySpec holds gateway-wide settings.
type GatewaySpec struct {
	// ACME enables TLS termination with automatic certificates for
	// routes marked tls. Without it, tls routes are a config error.
	ACME *ACMESpec `json:"acme,omitempty"`
}

// ACMESpec configures automatic certificate acquisition.
type ACMESpec struct {
	// Email is the account contact email registered with the CA.
	Email string `json:"email,omitempty"`

	// CacheDir is where issued certificates are stored. Required.
	CacheDir string `json:"cache_dir"`
}

// ResolvedDeployment is the runtime view of a deployment after endpoints
// have been published and supervisors are running.
type ResolvedDeployment struct {
	Name     string                     `json:"name"`
	Services map[string]ResolvedService `json:"services"`
}

// ResolvedService is the runtime view of a single service.
type ResolvedService struct {
	Endpoint *Endpoint    `json:"endpoint,omitempty"`
	State    ServiceState `json:"state"`
	Restarts int          `json:"restarts"`
}
