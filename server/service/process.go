package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/matgreaves/run"
)

// ProcessConfig is the type-specific config for "process" services.
type ProcessConfig struct {
	// Command is the path to the executable.
	Command string `json:"command"`

	// Dir is the working directory. Optional.
	Dir string `json:"dir,omitempty"`
}

// Process implements Type for the "process" service type. It runs an
// external binary on the host with the wiring env. The binary is expected
// to bind its PORT on the loopback interface — it is never published
// outside the host directly.
type Process struct{}

// Runner returns a run.Process that executes the configured binary.
func (Process) Runner(params StartParams) run.Runner {
	var cfg ProcessConfig
	if params.Spec.Config != nil {
		if err := json.Unmarshal(params.Spec.Config, &cfg); err != nil {
			return run.Func(func(context.Context) error {
				return fmt.Errorf("service %q: invalid process config: %w", params.ServiceName, err)
			})
		}
	}
	if cfg.Command == "" {
		return run.Func(func(context.Context) error {
			return fmt.Errorf("service %q: process config missing required \"command\" field", params.ServiceName)
		})
	}

	return run.Process{
		Name:   params.ServiceName,
		Path:   cfg.Command,
		Dir:    cfg.Dir,
		Args:   params.Args,
		Env:    params.Env,
		Stdout: params.Stdout,
		Stderr: params.Stderr,
	}
}
