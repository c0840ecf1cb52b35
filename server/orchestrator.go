package server

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/matgreaves/moor/server/service"
	"github.com/matgreaves/moor/spec"
	"github.com/matgreaves/run"
)

// Orchestrator coordinates the supervisors of all services in a
// deployment. Each service gets its own supervisor goroutine with its
// own cancellable context, so one service failing — or being stopped
// through the control API — never takes the others down.
type Orchestrator struct {
	Ports    *PortAllocator
	Registry *service.Registry
	Log      *EventLog
	States   *StateTable

	// Backoff configures restart delays. Zero value uses defaults.
	Backoff Backoff

	// DependencyTimeout bounds each service's wait for its depends_on
	// targets. Zero uses DefaultDependencyTimeout.
	DependencyTimeout time.Duration

	// StallTimeout is how long startup may go without progress before
	// the watchdog reports a stall. Zero uses DefaultStallTimeout.
	StallTimeout time.Duration

	mu         sync.Mutex
	deployment *spec.Deployment
	parent     context.Context // deployment-lifetime context, set by the runner
	handles    map[string]*supervisorHandle
}

// supervisorHandle tracks one running supervisor so the control API can
// stop and restart individual services.
type supervisorHandle struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Orchestrate validates that every service type is registered, then
// returns a run.Runner that supervises the whole deployment. Supervisors
// are launched in topological order; actual start ordering is enforced
// by each supervisor blocking on the event log until its dependencies
// are Running. The runner stays alive until ctx is cancelled — services
// reaching a terminal state on their own do not end the deployment.
func (o *Orchestrator) Orchestrate(d *spec.Deployment) (run.Runner, error) {
	order := d.TopologicalOrder()

	for _, name := range order {
		svc := d.Services[name]
		if _, err := o.Registry.Get(svc.Type); err != nil {
			return nil, fmt.Errorf("service %q: %w", name, err)
		}
	}

	return run.Func(func(ctx context.Context) error {
		o.mu.Lock()
		o.deployment = d
		o.parent = ctx
		o.handles = make(map[string]*supervisorHandle, len(order))
		for _, name := range order {
			o.launchLocked(name)
		}
		o.mu.Unlock()

		go o.watchDeploymentUp(ctx, len(order))
		go progressWatchdog(ctx, o.Log, o.States, d, o.StallTimeout)

		<-ctx.Done()

		// Teardown: every supervisor sees the cancellation through its
		// derived context; wait for all of them to finish cleanup.
		o.mu.Lock()
		handles := make([]*supervisorHandle, 0, len(o.handles))
		for _, h := range o.handles {
			handles = append(handles, h)
		}
		o.mu.Unlock()

		for _, h := range handles {
			<-h.done
		}

		o.Log.Publish(Event{
			Type:       EventDeploymentDown,
			Deployment: d.Name,
		})
		return nil
	}), nil
}

// launchLocked starts a supervisor goroutine for the named service.
// Caller must hold o.mu and have set o.parent.
func (o *Orchestrator) launchLocked(name string) {
	d := o.deployment
	svc := d.Services[name]
	svcType, _ := o.Registry.Get(svc.Type) // validated in Orchestrate

	sctx, cancel := context.WithCancel(o.parent)
	h := &supervisorHandle{cancel: cancel, done: make(chan struct{})}
	o.handles[name] = h

	sc := &serviceContext{
		name:       name,
		spec:       svc,
		svcType:    svcType,
		deployment: d.Name,
		log:        o.Log,
		states:     o.States,
		ports:      o.Ports,
		backoff:    o.Backoff,
		depTimeout: o.DependencyTimeout,
	}

	go func() {
		defer close(h.done)
		defer o.Ports.Release(name)
		defer cancel()

		// Supervisor failures are already published to the event log and
		// recorded in the state table; they must not tear down the rest
		// of the deployment, so the error stops here.
		_ = supervisor(sc).Run(sctx)
	}()
}

// watchDeploymentUp publishes deployment.up once every service has
// reached Running at least once.
func (o *Orchestrator) watchDeploymentUp(ctx context.Context, total int) {
	if total == 0 {
		return
	}

	seen := make(map[string]bool, total)
	ch := o.Log.Subscribe(ctx, 0, func(e Event) bool {
		return e.Type == EventServiceRunning
	})
	for e := range ch {
		seen[e.Service] = true
		if len(seen) == total {
			o.Log.Publish(Event{
				Type:       EventDeploymentUp,
				Deployment: o.deployment.Name,
			})
			return
		}
	}
}

// Stop cancels the named service's supervisor and waits for it to
// finish. The service ends up Stopped; its restart policy does not
// bring it back.
func (o *Orchestrator) Stop(name string) error {
	o.mu.Lock()
	h, ok := o.handles[name]
	o.mu.Unlock()

	if !ok {
		return fmt.Errorf("unknown service: %q", name)
	}

	h.cancel()
	<-h.done
	return nil
}

// Start launches a fresh supervisor for a service that has reached a
// terminal state. Fails if the service's supervisor is still running.
func (o *Orchestrator) Start(name string) error {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.parent == nil || o.parent.Err() != nil {
		return fmt.Errorf("deployment is not running")
	}
	if _, ok := o.deployment.Services[name]; !ok {
		return fmt.Errorf("unknown service: %q", name)
	}

	if h, ok := o.handles[name]; ok {
		select {
		case <-h.done:
			// Previous supervisor finished; safe to relaunch.
		default:
			return fmt.Errorf("service %q is already running", name)
		}
	}

	o.launchLocked(name)
	return nil
}
