package service

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"
	"github.com/matgreaves/moor/server/dockerutil"
	"github.com/matgreaves/moor/spec"
	"github.com/matgreaves/run"
	"github.com/matgreaves/run/onexit"
)

// ContainerConfig is the type-specific config for "container" services.
type ContainerConfig struct {
	// Image is the Docker image reference (e.g. "example/git-server:1.2").
	Image string `json:"image"`

	// Port is the port the service listens on inside the container.
	// Defaults to the endpoint port moord assigned.
	Port int `json:"port,omitempty"`

	// Cmd overrides the container's default command.
	Cmd []string `json:"cmd,omitempty"`

	// Env sets additional environment variables on the container.
	// These are merged over the standard wiring env vars.
	Env map[string]string `json:"env,omitempty"`
}

// ContainerName returns the Docker container name for a service.
func ContainerName(serviceName string) string {
	return "moor-" + serviceName
}

// Container implements Type for the "container" service type. It runs a
// Docker container with the descriptor's mounts bound in and the service
// port published on the loopback interface only, keeping the backend off
// the external network.
type Container struct{}

// Runner returns a run.Runner that pulls the image if needed, then
// creates, starts, and manages a Docker container. The container is
// stopped (bounded grace, then force-removed) when ctx is cancelled.
func (Container) Runner(params StartParams) run.Runner {
	var cfg ContainerConfig
	if params.Spec.Config != nil {
		if err := json.Unmarshal(params.Spec.Config, &cfg); err != nil {
			return run.Func(func(context.Context) error {
				return fmt.Errorf("service %q: invalid container config: %w", params.ServiceName, err)
			})
		}
	}
	if cfg.Image == "" {
		return run.Func(func(context.Context) error {
			return fmt.Errorf("service %q: container config missing required \"image\" field", params.ServiceName)
		})
	}

	return run.Func(func(ctx context.Context) error {
		cli, err := dockerutil.Client()
		if err != nil {
			return fmt.Errorf("service %q: docker client: %w", params.ServiceName, err)
		}

		if _, err := cli.Ping(ctx); err != nil {
			return fmt.Errorf("service %q: cannot connect to Docker daemon (is Docker running?): %w", params.ServiceName, err)
		}

		if err := ensureImage(ctx, cli, cfg.Image); err != nil {
			return fmt.Errorf("service %q: %w", params.ServiceName, err)
		}

		// Inside the container the service listens on cfg.Port (or the
		// assigned port); Docker maps it to the loopback endpoint.
		containerPort := cfg.Port
		if containerPort == 0 {
			containerPort = params.Endpoint.Port
		}

		env := params.Env
		if containerPort != params.Endpoint.Port {
			// The wiring env advertises the host-side port; correct the
			// service's own PORT for the container namespace.
			env = make(map[string]string, len(params.Env))
			for k, v := range params.Env {
				env[k] = v
			}
			env["PORT"] = strconv.Itoa(containerPort)
		}
		for k, v := range cfg.Env {
			if env == nil {
				env = make(map[string]string)
			}
			env[k] = v
		}

		portKey := nat.Port(fmt.Sprintf("%d/tcp", containerPort))
		config := &container.Config{
			Image:        cfg.Image,
			Env:          envMapToSlice(env),
			ExposedPorts: nat.PortSet{portKey: struct{}{}},
		}

		cmd := append(append([]string(nil), cfg.Cmd...), params.Args...)
		if len(cmd) > 0 {
			config.Cmd = cmd
		}

		hostConfig := &container.HostConfig{
			PortBindings: nat.PortMap{
				portKey: []nat.PortBinding{{
					HostIP:   "127.0.0.1",
					HostPort: strconv.Itoa(params.Endpoint.Port),
				}},
			},
			Mounts: containerMounts(params.Spec.Mounts),
		}

		containerName := ContainerName(params.ServiceName)

		// Remove any leftover container from an unclean previous run.
		cli.ContainerRemove(ctx, containerName, container.RemoveOptions{Force: true})

		resp, err := cli.ContainerCreate(ctx, config, hostConfig, nil, nil, containerName)
		if err != nil {
			return fmt.Errorf("service %q: create container: %w", params.ServiceName, err)
		}
		containerID := resp.ID

		// Backup cleanup with onexit so the container is removed even if
		// moord is killed (SIGKILL, OOM, CI timeout, etc.).
		cancelOnexit, _ := onexit.OnExitF("docker rm -f %s", containerID)

		defer func() {
			// Use a background context for cleanup — the original ctx may
			// already be cancelled.
			cleanCtx := context.Background()
			timeout := 10 // seconds
			cli.ContainerStop(cleanCtx, containerID, container.StopOptions{Timeout: &timeout})
			cli.ContainerRemove(cleanCtx, containerID, container.RemoveOptions{Force: true})
			if cancelOnexit != nil {
				cancelOnexit()
			}
		}()

		if err := cli.ContainerStart(ctx, containerID, container.StartOptions{}); err != nil {
			return fmt.Errorf("service %q: start container: %w", params.ServiceName, err)
		}

		logReader, err := cli.ContainerLogs(ctx, containerID, container.LogsOptions{
			ShowStdout: true,
			ShowStderr: true,
			Follow:     true,
		})
		if err != nil {
			return fmt.Errorf("service %q: attach logs: %w", params.ServiceName, err)
		}

		logDone := make(chan struct{})
		go func() {
			defer close(logDone)
			stdcopy.StdCopy(params.Stdout, params.Stderr, logReader)
			logReader.Close()
		}()

		waitCh, errCh := cli.ContainerWait(ctx, containerID, container.WaitConditionNotRunning)

		select {
		case result := <-waitCh:
			<-logDone // drain remaining logs
			if result.StatusCode != 0 {
				return fmt.Errorf("service %q: container exited with code %d", params.ServiceName, result.StatusCode)
			}
			return nil
		case err := <-errCh:
			<-logDone
			if ctx.Err() != nil {
				// Context cancelled — teardown path. Not an error.
				return ctx.Err()
			}
			return fmt.Errorf("service %q: container wait: %w", params.ServiceName, err)
		case <-ctx.Done():
			<-logDone
			return ctx.Err()
		}
	})
}

// ensureImage pulls the image unless it is already present locally.
func ensureImage(ctx context.Context, cli *client.Client, ref string) error {
	if _, _, err := cli.ImageInspectWithRaw(ctx, ref); err == nil {
		return nil
	}

	rc, err := cli.ImagePull(ctx, ref, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("docker pull %s: %w", ref, err)
	}
	// Drain the pull output to completion — the pull isn't done until
	// the response body is fully read.
	if _, err := io.Copy(io.Discard, rc); err != nil {
		rc.Close()
		return fmt.Errorf("docker pull %s: read response: %w", ref, err)
	}
	return rc.Close()
}

// containerMounts translates the descriptor's mount set to Docker binds.
func containerMounts(mounts []spec.Mount) []mount.Mount {
	out := make([]mount.Mount, 0, len(mounts))
	for _, m := range mounts {
		out = append(out, mount.Mount{
			Type:     mount.TypeBind,
			Source:   m.Source,
			Target:   m.Target,
			ReadOnly: m.ReadOnly,
		})
	}
	return out
}

// envMapToSlice converts a map of env vars to "KEY=VALUE" strings.
func envMapToSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}
