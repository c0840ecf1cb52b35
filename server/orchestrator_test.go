package server_test

import (
	"context"
	"errors"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/matgreaves/moor/server"
	"github.com/matgreaves/moor/server/service"
	"github.com/matgreaves/moor/spec"
	"github.com/matgreaves/run"
)

// fakeType is a service.Type driven entirely by the test. Each runner
// binds the assigned endpoint so the tcp readiness check passes, then
// blocks until cancelled or told to exit through its exit channel.
type fakeType struct {
	mu     sync.Mutex
	starts map[string]int
	fail   map[string]int        // fail the first N attempts
	exits  map[string]chan error // test-controlled clean/dirty exits
}

func newFakeType() *fakeType {
	return &fakeType{
		starts: make(map[string]int),
		fail:   make(map[string]int),
		exits:  make(map[string]chan error),
	}
}

func (f *fakeType) failFirst(name string, n int) { f.fail[name] = n }

func (f *fakeType) exitCh(name string) chan error {
	ch := make(chan error)
	f.exits[name] = ch
	return ch
}

func (f *fakeType) startCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.starts[name]
}

func (f *fakeType) Runner(p service.StartParams) run.Runner {
	return run.Func(func(ctx context.Context) error {
		f.mu.Lock()
		f.starts[p.ServiceName]++
		attempt := f.starts[p.ServiceName]
		failN := f.fail[p.ServiceName]
		exit := f.exits[p.ServiceName]
		f.mu.Unlock()

		if attempt <= failN {
			return errors.New("synthetic launch failure")
		}

		ln, err := net.Listen("tcp", p.Endpoint.Addr())
		if err != nil {
			return err
		}
		defer ln.Close()

		if exit != nil {
			select {
			case err := <-exit:
				return err
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		<-ctx.Done()
		return ctx.Err()
	})
}

// testHarness bundles an orchestrator wired to a fake type with its
// running deployment.
type testHarness struct {
	orch   *server.Orchestrator
	states *server.StateTable
	log    *server.EventLog
	fake   *fakeType
	cancel context.CancelFunc
	done   chan error
}

func startDeployment(t *testing.T, d *spec.Deployment, fake *fakeType, depTimeout time.Duration) *testHarness {
	t.Helper()

	reg := service.NewRegistry()
	reg.Register("fake", fake)

	names := make([]string, 0, len(d.Services))
	for name := range d.Services {
		names = append(names, name)
	}

	h := &testHarness{
		log:    server.NewEventLog(),
		states: server.NewStateTable(names),
		fake:   fake,
	}
	h.orch = &server.Orchestrator{
		Ports:             server.NewPortAllocator(),
		Registry:          reg,
		Log:               h.log,
		States:            h.states,
		Backoff:           server.Backoff{Initial: 5 * time.Millisecond, Max: 20 * time.Millisecond},
		DependencyTimeout: depTimeout,
	}

	runner, err := h.orch.Orchestrate(d)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	h.done = make(chan error, 1)
	go func() { h.done <- runner.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(10 * time.Second):
			t.Error("deployment did not shut down")
		}
	})

	return h
}

func waitFor(t *testing.T, log *server.EventLog, what string, match func(server.Event) bool) server.Event {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	ev, err := log.WaitFor(ctx, match)
	if err != nil {
		t.Fatalf("waiting for %s: %v", what, err)
	}
	return ev
}

func TestOrchestrate_DependencyOrder(t *testing.T) {
	fake := newFakeType()
	d := &spec.Deployment{
		Name: "test-order",
		Services: map[string]spec.Service{
			"db":  {Type: "fake", Protocol: spec.TCP},
			"api": {Type: "fake", Protocol: spec.TCP, DependsOn: []string{"db"}},
		},
	}

	h := startDeployment(t, d, fake, 0)

	apiRunning := waitFor(t, h.log, "api running", func(e server.Event) bool {
		return e.Type == server.EventServiceRunning && e.Service == "api"
	})
	dbRunning := waitFor(t, h.log, "db running", func(e server.Event) bool {
		return e.Type == server.EventServiceRunning && e.Service == "db"
	})

	if dbRunning.Seq >= apiRunning.Seq {
		t.Errorf("db should be running before api: db seq %d, api seq %d",
			dbRunning.Seq, apiRunning.Seq)
	}

	// api must not have started before db was running.
	apiStarting := waitFor(t, h.log, "api starting", func(e server.Event) bool {
		return e.Type == server.EventServiceStarting && e.Service == "api"
	})
	if apiStarting.Seq <= dbRunning.Seq {
		t.Errorf("api started (seq %d) before db was running (seq %d)",
			apiStarting.Seq, dbRunning.Seq)
	}

	waitFor(t, h.log, "deployment up", func(e server.Event) bool {
		return e.Type == server.EventDeploymentUp
	})
}

func TestOrchestrate_OnFailureRestarts(t *testing.T) {
	fake := newFakeType()
	fake.failFirst("flaky", 2)

	d := &spec.Deployment{
		Name: "test-restart",
		Services: map[string]spec.Service{
			"flaky": {Type: "fake", Protocol: spec.TCP, Restart: spec.RestartOnFailure},
		},
	}
	h := startDeployment(t, d, fake, 0)

	waitFor(t, h.log, "flaky running", func(e server.Event) bool {
		return e.Type == server.EventServiceRunning && e.Service == "flaky"
	})

	if got := fake.startCount("flaky"); got != 3 {
		t.Errorf("expected 3 launch attempts, got %d", got)
	}
	if got := h.states.Snapshot()["flaky"].Restarts; got != 2 {
		t.Errorf("expected 2 recorded restarts, got %d", got)
	}

	// Each failure was surfaced before the restart.
	var failures int
	for _, e := range h.log.Events() {
		if e.Type == server.EventServiceFailed && e.Service == "flaky" {
			failures++
		}
	}
	if failures != 2 {
		t.Errorf("expected 2 failure events, got %d", failures)
	}
}

func TestOrchestrate_NeverPolicyStaysFailed(t *testing.T) {
	fake := newFakeType()
	fake.failFirst("doomed", 100)

	d := &spec.Deployment{
		Name: "test-never",
		Services: map[string]spec.Service{
			"doomed": {Type: "fake", Protocol: spec.TCP, Restart: spec.RestartNever},
		},
	}
	h := startDeployment(t, d, fake, 0)

	waitFor(t, h.log, "doomed failed", func(e server.Event) bool {
		return e.Type == server.EventServiceFailed && e.Service == "doomed"
	})

	// Give a restart a chance to (wrongly) happen.
	time.Sleep(50 * time.Millisecond)

	if got := fake.startCount("doomed"); got != 1 {
		t.Errorf("never policy must not restart: %d attempts", got)
	}
	if state := h.states.State("doomed"); state != spec.StateFailed {
		t.Errorf("expected Failed, got %s", state)
	}
	for _, e := range h.log.Events() {
		if e.Type == server.EventServiceRestarting {
			t.Errorf("unexpected restart event: %+v", e)
		}
	}
}

func TestOrchestrate_NeverPolicyCleanExitIsFailed(t *testing.T) {
	fake := newFakeType()
	exit := fake.exitCh("oneshot")

	d := &spec.Deployment{
		Name: "test-never-clean-exit",
		Services: map[string]spec.Service{
			"oneshot": {Type: "fake", Protocol: spec.TCP, Restart: spec.RestartNever},
		},
	}
	h := startDeployment(t, d, fake, 0)

	waitFor(t, h.log, "oneshot running", func(e server.Event) bool {
		return e.Type == server.EventServiceRunning && e.Service == "oneshot"
	})

	// A clean exit is still a process exit: the service ends up Failed,
	// not Stopped — Stopped is reserved for explicit teardown.
	exit <- nil

	failed := waitFor(t, h.log, "oneshot failed", func(e server.Event) bool {
		return e.Type == server.EventServiceFailed && e.Service == "oneshot"
	})
	if !strings.Contains(failed.Error, "exited") {
		t.Errorf("failure event should report the exit, got: %q", failed.Error)
	}

	time.Sleep(50 * time.Millisecond)

	if state := h.states.State("oneshot"); state != spec.StateFailed {
		t.Errorf("expected Failed after clean exit under never, got %s", state)
	}
	if got := fake.startCount("oneshot"); got != 1 {
		t.Errorf("never policy must not restart after clean exit: %d attempts", got)
	}
	for _, e := range h.log.Events() {
		if e.Type == server.EventServiceStopped && e.Service == "oneshot" {
			t.Errorf("clean exit must not read as an explicit stop: %+v", e)
		}
	}
}

func TestOrchestrate_UnlessStoppedRestartsCleanExit(t *testing.T) {
	fake := newFakeType()
	exit := fake.exitCh("daemon")

	d := &spec.Deployment{
		Name: "test-unless-stopped",
		Services: map[string]spec.Service{
			"daemon": {Type: "fake", Protocol: spec.TCP, Restart: spec.RestartUnlessStopped},
		},
	}
	h := startDeployment(t, d, fake, 0)

	waitFor(t, h.log, "daemon running", func(e server.Event) bool {
		return e.Type == server.EventServiceRunning && e.Service == "daemon"
	})

	// Clean exit. unless-stopped brings it back anyway.
	exit <- nil

	restarting := waitFor(t, h.log, "daemon restarting", func(e server.Event) bool {
		return e.Type == server.EventServiceRestarting && e.Service == "daemon"
	})
	waitFor(t, h.log, "daemon running again", func(e server.Event) bool {
		return e.Type == server.EventServiceRunning && e.Service == "daemon" && e.Seq > restarting.Seq
	})
}

func TestOrchestrate_DependencyTimeoutFailsWaiterOnly(t *testing.T) {
	fake := newFakeType()
	fake.failFirst("db", 100)

	d := &spec.Deployment{
		Name: "test-dep-timeout",
		Services: map[string]spec.Service{
			"db":  {Type: "fake", Protocol: spec.TCP, Restart: spec.RestartNever},
			"api": {Type: "fake", Protocol: spec.TCP, DependsOn: []string{"db"}},
		},
	}
	h := startDeployment(t, d, fake, 200*time.Millisecond)

	ev := waitFor(t, h.log, "api dependency failure", func(e server.Event) bool {
		return e.Type == server.EventServiceFailed && e.Service == "api"
	})
	if !strings.Contains(ev.Error, `dependency "db"`) {
		t.Errorf("failure should name the dependency, got: %s", ev.Error)
	}

	if got := fake.startCount("api"); got != 0 {
		t.Errorf("api must not launch when its dependency never came up: %d attempts", got)
	}

	// The deployment itself is still alive.
	select {
	case err := <-h.done:
		t.Fatalf("deployment runner exited: %v", err)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestOrchestrate_StopAndStart(t *testing.T) {
	fake := newFakeType()
	d := &spec.Deployment{
		Name: "test-stop-start",
		Services: map[string]spec.Service{
			"api": {Type: "fake", Protocol: spec.TCP, Restart: spec.RestartUnlessStopped},
		},
	}
	h := startDeployment(t, d, fake, 0)

	waitFor(t, h.log, "api running", func(e server.Event) bool {
		return e.Type == server.EventServiceRunning && e.Service == "api"
	})

	if err := h.orch.Stop("api"); err != nil {
		t.Fatal(err)
	}
	if state := h.states.State("api"); state != spec.StateStopped {
		t.Errorf("expected Stopped after explicit stop, got %s", state)
	}

	// unless-stopped must not resurrect an explicitly stopped service.
	time.Sleep(50 * time.Millisecond)
	if got := fake.startCount("api"); got != 1 {
		t.Errorf("stopped service must stay down: %d attempts", got)
	}

	if err := h.orch.Start("api"); err != nil {
		t.Fatal(err)
	}
	stoppedSeq := mustLastSeq(h.log)
	waitFor(t, h.log, "api running after restart", func(e server.Event) bool {
		return e.Type == server.EventServiceRunning && e.Service == "api" && e.Seq > stoppedSeq
	})
}

func TestOrchestrate_UnknownServiceType(t *testing.T) {
	orch := &server.Orchestrator{
		Ports:    server.NewPortAllocator(),
		Registry: service.NewRegistry(),
		Log:      server.NewEventLog(),
		States:   server.NewStateTable([]string{"x"}),
	}
	d := &spec.Deployment{
		Name:     "test-unknown-type",
		Services: map[string]spec.Service{"x": {Type: "warp-drive"}},
	}
	if _, err := orch.Orchestrate(d); err == nil {
		t.Fatal("expected error for unregistered service type")
	}
}

// mustLastSeq returns the sequence number of the newest event.
func mustLastSeq(log *server.EventLog) uint64 {
	events := log.Events()
	if len(events) == 0 {
		return 0
	}
	return events[len(events)-1].Seq
}
