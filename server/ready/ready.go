package ready

import (
	"context"
	"fmt"
	"time"

	"github.com/matgreaves/moor/spec"
)

const (
	// DefaultInitialInterval is the starting poll interval.
	DefaultInitialInterval = 10 * time.Millisecond

	// DefaultMaxInterval is the maximum poll interval after backoff.
	DefaultMaxInterval = 1 * time.Second

	// DefaultTimeout is the default maximum wait for readiness.
	DefaultTimeout = 30 * time.Second
)

// Checker performs a single readiness probe against an address.
type Checker interface {
	Check(ctx context.Context, addr string) error
}

// ForService returns a Checker appropriate for the service's protocol,
// taking into account any ReadySpec override.
func ForService(protocol spec.Protocol, readySpec *spec.ReadySpec) Checker {
	checkType := string(protocol)
	if readySpec != nil && readySpec.Type != "" {
		checkType = readySpec.Type
	}

	switch checkType {
	case "http":
		path := "/"
		if readySpec != nil && readySpec.Path != "" {
			path = readySpec.Path
		}
		return &HTTP{Path: path}
	case "grpc":
		return &GRPC{}
	default:
		return &TCP{}
	}
}

// Poll repeatedly probes addr with the given checker (see ForService)
// using exponential backoff until the check succeeds or the deadline
// passes.
//
// If onFailure is non-nil it is called after each failed probe with the
// check error, giving the caller a hook to emit diagnostics.
func Poll(ctx context.Context, addr string, checker Checker, readySpec *spec.ReadySpec, onFailure func(err error)) error {
	timeout := DefaultTimeout
	interval := DefaultInitialInterval

	if readySpec != nil {
		if readySpec.Timeout.Duration > 0 {
			timeout = readySpec.Timeout.Duration
		}
		if readySpec.Interval.Duration > 0 {
			interval = readySpec.Interval.Duration
		}
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var lastErr error

	for {
		if err := checker.Check(ctx, addr); err == nil {
			return nil
		} else {
			lastErr = err
			if onFailure != nil {
				onFailure(err)
			}
		}

		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("readiness check failed after %s (last error: %v)", timeout, lastErr)
			}
			return fmt.Errorf("readiness check failed: %w", ctx.Err())
		case <-time.After(interval):
		}

		// Exponential backoff, capped at max (but never below the configured interval).
		interval = interval * 2
		maxInterval := DefaultMaxInterval
		if readySpec != nil && readySpec.Interval.Duration > maxInterval {
			maxInterval = readySpec.Interval.Duration
		}
		if interval > maxInterval {
			interval = maxInterval
		}
	}
}
