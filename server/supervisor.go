package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/matgreaves/moor/server/ready"
	"github.com/matgreaves/moor/server/service"
	"github.com/matgreaves/moor/spec"
	"github.com/matgreaves/run"
)

// DefaultDependencyTimeout bounds how long a service waits for its
// dependencies to reach Running before giving up.
const DefaultDependencyTimeout = 2 * time.Minute

// errDependencyTimeout marks a startup failure caused by a dependency
// never reaching Running. The restart policy does not apply to it:
// restarting the waiter would just hit the same wall.
var errDependencyTimeout = errors.New("dependency timeout")

// serviceContext holds the resolved state for a single service's
// supervisor.
type serviceContext struct {
	name       string
	spec       spec.Service
	svcType    service.Type
	deployment string

	endpoint spec.Endpoint            // populated by publish
	deps     map[string]spec.Endpoint // populated by dependency wait

	log        *EventLog
	states     *StateTable
	ports      *PortAllocator
	backoff    Backoff
	depTimeout time.Duration
}

// supervisor builds the full supervision runner for a single service.
//
// The structure is:
//
//	Sequence{
//	    publish, waitForDependencies,
//	    superviseLoop{
//	        Group{
//	            "runner":  the backend process or container,
//	            "monitor": Sequence{ readyCheck, markRunning, Idle },
//	        },
//	        ... restarted per the service's restart policy ...
//	    },
//	}
//
// Inside each attempt the Group runs the backend and the readiness
// monitor in parallel: if the backend exits, the Group cancels the
// monitor; if the ready check times out, the Group kills the backend.
// The monitor ends with Idle so the Group stays alive until the backend
// exits or teardown.
//
// The wrapper emits stopping/stopped events during teardown and leaves
// the state table in a terminal state (Failed or Stopped) on exit.
func supervisor(sc *serviceContext) run.Runner {
	inner := run.Sequence{
		publishStep(sc),
		waitForDependenciesStep(sc),
		superviseStep(sc),
	}

	return run.Func(func(ctx context.Context) error {
		err := inner.Run(ctx)

		if ctx.Err() != nil {
			// Teardown or explicit stop.
			sc.log.Publish(Event{
				Type:       EventServiceStopping,
				Deployment: sc.deployment,
				Service:    sc.name,
			})
			sc.states.SetState(sc.name, spec.StateStopped)
			sc.log.Publish(Event{
				Type:       EventServiceStopped,
				Deployment: sc.deployment,
				Service:    sc.name,
			})
			return nil
		}

		if err != nil {
			// The supervise and dependency-wait steps record their own
			// failures; an error from the publish step has not been
			// surfaced yet.
			if sc.states.State(sc.name) != spec.StateFailed {
				sc.states.SetState(sc.name, spec.StateFailed)
				sc.log.Publish(Event{
					Type:       EventServiceFailed,
					Deployment: sc.deployment,
					Service:    sc.name,
					Error:      stripRunPrefixes(err.Error()),
				})
			}
			return fmt.Errorf("%s", stripRunPrefixes(err.Error()))
		}

		// A nil error with state Failed is a clean exit the supervise
		// loop already recorded; only a true stop transition remains.
		if sc.states.State(sc.name) != spec.StateFailed {
			sc.states.SetState(sc.name, spec.StateStopped)
			sc.log.Publish(Event{
				Type:       EventServiceStopped,
				Deployment: sc.deployment,
				Service:    sc.name,
			})
		}
		return nil
	})
}

// publishStep claims the service's loopback port — pinned from the
// descriptor or OS-assigned — and publishes the endpoint. The endpoint
// is fixed for the supervisor's lifetime: restarts reuse it, so
// dependents and gateway routes stay valid across restarts.
func publishStep(sc *serviceContext) run.Runner {
	return run.Func(func(ctx context.Context) error {
		port := sc.spec.Port
		if port != 0 {
			if err := sc.ports.Reserve(sc.name, port); err != nil {
				return err
			}
		} else {
			var err error
			port, err = sc.ports.Allocate(sc.name)
			if err != nil {
				return err
			}
		}

		sc.endpoint = spec.Endpoint{
			Host:     "127.0.0.1",
			Port:     port,
			Protocol: sc.spec.Protocol,
		}
		sc.states.SetEndpoint(sc.name, sc.endpoint)

		ep := sc.endpoint
		sc.log.Publish(Event{
			Type:       EventEndpointPublished,
			Deployment: sc.deployment,
			Service:    sc.name,
			Endpoint:   &ep,
		})
		return nil
	})
}

// waitForDependenciesStep blocks until every depends_on target has
// reached Running at least once, then captures their endpoints. The wait
// is bounded: on timeout the service is marked Failed without consulting
// the restart policy, and the failure stays local to this service.
func waitForDependenciesStep(sc *serviceContext) run.Runner {
	return run.Func(func(ctx context.Context) error {
		if len(sc.spec.DependsOn) == 0 {
			return nil
		}

		timeout := sc.depTimeout
		if timeout <= 0 {
			timeout = DefaultDependencyTimeout
		}
		waitCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()

		sc.deps = make(map[string]spec.Endpoint, len(sc.spec.DependsOn))

		for _, dep := range sc.spec.DependsOn {
			_, err := sc.log.WaitFor(waitCtx, func(e Event) bool {
				return e.Type == EventServiceRunning && e.Service == dep
			})
			if err != nil {
				failure := fmt.Errorf("%w: dependency %q not running after %s",
					errDependencyTimeout, dep, timeout)
				if ctx.Err() != nil {
					// Teardown, not a dependency problem.
					return ctx.Err()
				}
				sc.states.SetState(sc.name, spec.StateFailed)
				sc.log.Publish(Event{
					Type:       EventServiceFailed,
					Deployment: sc.deployment,
					Service:    sc.name,
					Error:      failure.Error(),
				})
				return failure
			}

			// The endpoint is published before the service can be Running.
			ev, err := sc.log.WaitFor(waitCtx, func(e Event) bool {
				return e.Type == EventEndpointPublished && e.Service == dep
			})
			if err != nil {
				return fmt.Errorf("finding endpoint for dependency %q: %w", dep, err)
			}
			sc.deps[dep] = *ev.Endpoint
		}

		return nil
	})
}

// superviseStep runs the service attempt loop, applying the restart
// policy between attempts with capped exponential backoff.
func superviseStep(sc *serviceContext) run.Runner {
	return run.Func(func(ctx context.Context) error {
		attempt := 0

		for {
			sc.states.SetState(sc.name, spec.StateStarting)
			sc.log.Publish(Event{
				Type:       EventServiceStarting,
				Deployment: sc.deployment,
				Service:    sc.name,
				Attempt:    attempt,
			})

			err := runAttempt(ctx, sc)

			if ctx.Err() != nil {
				return ctx.Err()
			}

			if err != nil {
				sc.states.SetState(sc.name, spec.StateFailed)
				sc.log.Publish(Event{
					Type:       EventServiceFailed,
					Deployment: sc.deployment,
					Service:    sc.name,
					Error:      stripRunPrefixes(err.Error()),
					Attempt:    attempt,
				})
				if sc.spec.Restart == spec.RestartNever {
					return err
				}
			} else {
				// Clean exit. Only unless-stopped brings the service back;
				// otherwise the exit is still terminal Failed — Stopped is
				// reserved for explicit teardown.
				if sc.spec.Restart != spec.RestartUnlessStopped {
					sc.states.SetState(sc.name, spec.StateFailed)
					sc.log.Publish(Event{
						Type:       EventServiceFailed,
						Deployment: sc.deployment,
						Service:    sc.name,
						Error:      "exited cleanly",
						Attempt:    attempt,
					})
					return nil
				}
			}

			delay := sc.backoff.Delay(attempt)
			attempt++
			sc.states.IncRestarts(sc.name)
			sc.log.Publish(Event{
				Type:       EventServiceRestarting,
				Deployment: sc.deployment,
				Service:    sc.name,
				Attempt:    attempt,
				Delay:      delay.String(),
			})

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	})
}

// runAttempt performs a single launch: the backend runner paired with a
// monitor that polls readiness, marks the service Running, then idles.
func runAttempt(ctx context.Context, sc *serviceContext) error {
	env := BuildServiceEnv(sc.name, sc.endpoint, sc.deps, sc.spec.Mounts)
	args := ExpandTemplates(sc.spec.Args, env)

	logWriter := &eventLogWriter{
		log:        sc.log,
		deployment: sc.deployment,
		service:    sc.name,
	}

	runner := sc.svcType.Runner(service.StartParams{
		ServiceName:  sc.name,
		Spec:         sc.spec,
		Endpoint:     sc.endpoint,
		Dependencies: sc.deps,
		Env:          env,
		Args:         args,
		Stdout:       &teeWriter{logWriter, "stdout"},
		Stderr:       &teeWriter{logWriter, "stderr"},
	})

	monitor := run.Sequence{
		readyCheckRunner(sc),
		markRunning(sc),
		run.Idle,
	}

	group := run.Group{
		"runner":  runner,
		"monitor": monitor,
	}

	err := group.Run(ctx)
	if errors.Is(err, run.ErrExited) {
		// The backend returned nil: a clean exit, not a failure. The
		// restart policy decides what happens next.
		return nil
	}
	return err
}

// readyCheckRunner polls the service's endpoint until it answers.
func readyCheckRunner(sc *serviceContext) run.Runner {
	return run.Func(func(ctx context.Context) error {
		checker := ready.ForService(sc.endpoint.Protocol, sc.spec.Ready)
		// Probe failures are expected while the service boots; they only
		// matter if the poll times out, so no onFailure hook.
		return ready.Poll(ctx, sc.endpoint.Addr(), checker, sc.spec.Ready, nil)
	})
}

// markRunning flips the service to Running. From this point the gateway
// will route to it and dependents may start.
func markRunning(sc *serviceContext) run.Runner {
	return run.Func(func(ctx context.Context) error {
		sc.states.SetState(sc.name, spec.StateRunning)
		sc.log.Publish(Event{
			Type:       EventServiceRunning,
			Deployment: sc.deployment,
			Service:    sc.name,
		})
		return nil
	})
}

// teeWriter ships service output to the event log.
type teeWriter struct {
	logWriter *eventLogWriter
	stream    string // "stdout" or "stderr"
}

func (w *teeWriter) Write(p []byte) (int, error) {
	w.logWriter.log.Publish(Event{
		Type:       EventServiceLog,
		Deployment: w.logWriter.deployment,
		Service:    w.logWriter.service,
		Log: &LogEntry{
			Stream: w.stream,
			Data:   string(p),
		},
	})
	return len(p), nil
}

// eventLogWriter provides context for writing to the event log.
type eventLogWriter struct {
	log        *EventLog
	deployment string
	service    string
}

// runPrefixRE matches the error prefixes added by run.Sequence and
// run.Group. These are orchestration details (step indices, group names)
// that obscure the actual failure cause in user-facing output.
var runPrefixRE = regexp.MustCompile(`^(sequence \[\d+:\d+\]: |run\.Group\[[^\]]+\]: )+`)

// stripRunPrefixes removes leading run.Sequence/run.Group error
// prefixes, leaving only the domain error message.
func stripRunPrefixes(s string) string {
	return runPrefixRE.ReplaceAllString(s, "")
}
