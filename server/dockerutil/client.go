// Package dockerutil provides the shared Docker client used by container
// services, with socket discovery across standard, Desktop, rootless, and
// podman installations.
package dockerutil

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/docker/docker/client"
)

var (
	sharedClient *client.Client
	clientOnce   sync.Once
	clientErr    error
)

// Client returns a process-wide shared Docker client. The client is
// thread-safe and reuses connections to the Docker daemon. Callers must
// NOT call Close on the returned client.
func Client() (*client.Client, error) {
	clientOnce.Do(func() {
		sharedClient, clientErr = newClient()
	})
	return sharedClient, clientErr
}

// newClient creates a Docker client, resolving the daemon address with
// ResolveHost. The host is passed via client options, not os.Setenv,
// which is not concurrent-safe.
func newClient() (*client.Client, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}

	if host := ResolveHost(os.LookupEnv, socketExists); host != "" {
		opts = append(opts, client.WithHost(host))
	}

	return client.NewClientWithOpts(opts...)
}

// ResolveHost picks the Docker daemon address. Precedence:
//
//  1. MOOR_DOCKER_HOST — moord-specific override, so a deployment can
//     target a dedicated daemon without disturbing the caller's Docker
//     environment.
//  2. DOCKER_HOST — left to the SDK (returns "").
//  3. The first existing socket among the known install locations.
//
// Returns "" when the SDK's own defaults should apply.
func ResolveHost(lookupEnv func(string) (string, bool), exists func(string) bool) string {
	if host, ok := lookupEnv("MOOR_DOCKER_HOST"); ok && host != "" {
		return host
	}
	if host, ok := lookupEnv("DOCKER_HOST"); ok && host != "" {
		return ""
	}

	for _, p := range socketCandidates(lookupEnv) {
		if exists(p) {
			return "unix://" + p
		}
	}
	return ""
}

// socketCandidates lists socket paths in probe order: the system daemon,
// rootless Docker, Docker Desktop, colima, then podman's Docker-compatible
// socket.
func socketCandidates(lookupEnv func(string) (string, bool)) []string {
	candidates := []string{
		"/var/run/docker.sock",
	}
	if runtimeDir, ok := lookupEnv("XDG_RUNTIME_DIR"); ok && runtimeDir != "" {
		candidates = append(candidates,
			filepath.Join(runtimeDir, "docker.sock"),
			filepath.Join(runtimeDir, "podman", "podman.sock"),
		)
	}
	if home, ok := lookupEnv("HOME"); ok && home != "" {
		candidates = append(candidates,
			filepath.Join(home, ".docker", "run", "docker.sock"),
			filepath.Join(home, ".colima", "default", "docker.sock"),
		)
	}
	return candidates
}

func socketExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
