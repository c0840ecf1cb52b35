package dockerutil

import "testing"

func envMap(vars map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := vars[key]
		return v, ok
	}
}

func existsIn(paths ...string) func(string) bool {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return func(p string) bool { return set[p] }
}

func TestResolveHost_MoorOverrideWins(t *testing.T) {
	env := envMap(map[string]string{
		"MOOR_DOCKER_HOST": "tcp://10.0.0.5:2375",
		"DOCKER_HOST":      "unix:///var/run/docker.sock",
	})

	got := ResolveHost(env, existsIn("/var/run/docker.sock"))
	if got != "tcp://10.0.0.5:2375" {
		t.Errorf("ResolveHost = %q, want MOOR_DOCKER_HOST value", got)
	}
}

func TestResolveHost_DockerHostDefersToSDK(t *testing.T) {
	env := envMap(map[string]string{
		"DOCKER_HOST": "tcp://10.0.0.5:2375",
	})

	if got := ResolveHost(env, existsIn("/var/run/docker.sock")); got != "" {
		t.Errorf("ResolveHost = %q, want \"\" (SDK reads DOCKER_HOST itself)", got)
	}
}

func TestResolveHost_ProbesSocketsInOrder(t *testing.T) {
	env := envMap(map[string]string{
		"XDG_RUNTIME_DIR": "/run/user/1000",
		"HOME":            "/home/dev",
	})

	tests := []struct {
		name   string
		exists func(string) bool
		want   string
	}{
		{
			name:   "system daemon first",
			exists: existsIn("/var/run/docker.sock", "/run/user/1000/docker.sock"),
			want:   "unix:///var/run/docker.sock",
		},
		{
			name:   "rootless before desktop",
			exists: existsIn("/run/user/1000/docker.sock", "/home/dev/.docker/run/docker.sock"),
			want:   "unix:///run/user/1000/docker.sock",
		},
		{
			name:   "podman fallback",
			exists: existsIn("/run/user/1000/podman/podman.sock"),
			want:   "unix:///run/user/1000/podman/podman.sock",
		},
		{
			name:   "nothing found",
			exists: existsIn(),
			want:   "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveHost(env, tt.exists); got != tt.want {
				t.Errorf("ResolveHost = %q, want %q", got, tt.want)
			}
		})
	}
}
