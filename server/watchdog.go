package server

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/matgreaves/moor/spec"
)

// DefaultStallTimeout is how long startup may go without a lifecycle
// event before the watchdog reports a stall.
const DefaultStallTimeout = 30 * time.Second

// progressWatchdog monitors the event log during startup. If no new
// lifecycle events appear within stallTimeout while services are still
// waiting to come up, it publishes a progress.stall event naming the
// stuck services and the dependencies they are waiting on.
//
// The goroutine exits when ctx is cancelled or when no service is left
// in a pre-Running phase.
func progressWatchdog(ctx context.Context, log *EventLog, states *StateTable, d *spec.Deployment, stallTimeout time.Duration) {
	if stallTimeout <= 0 {
		stallTimeout = DefaultStallTimeout
	}
	ticker := time.NewTicker(stallTimeout)
	defer ticker.Stop()

	var lastMaxSeq uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		maxSeq := maxLifecycleSeq(log)
		if maxSeq != lastMaxSeq {
			lastMaxSeq = maxSeq
			continue
		}

		stuck := stuckServices(states, d)
		if len(stuck) == 0 {
			// Everything reached Running or a terminal state.
			return
		}

		log.Publish(Event{
			Type:       EventProgressStall,
			Deployment: d.Name,
			Message:    formatStallMessage(stuck, stallTimeout),
		})
		lastMaxSeq = maxLifecycleSeq(log)
	}
}

// maxLifecycleSeq returns the highest sequence number among lifecycle
// events. Log output doesn't count as progress.
func maxLifecycleSeq(log *EventLog) uint64 {
	var max uint64
	for _, e := range log.Events() {
		if e.Type == EventServiceLog {
			continue
		}
		if e.Seq > max {
			max = e.Seq
		}
	}
	return max
}

// stuckService describes one service that hasn't reached Running.
type stuckService struct {
	name      string
	state     spec.ServiceState
	waitingOn []string
}

// stuckServices lists services still in Pending or Starting, along with
// the dependencies each one is waiting on.
func stuckServices(states *StateTable, d *spec.Deployment) []stuckService {
	var out []stuckService
	for _, name := range d.ServiceOrder() {
		state := states.State(name)
		if state != spec.StatePending && state != spec.StateStarting {
			continue
		}

		ss := stuckService{name: name, state: state}
		for _, dep := range d.Services[name].DependsOn {
			if states.State(dep) != spec.StateRunning {
				ss.waitingOn = append(ss.waitingOn, dep)
			}
		}
		sort.Strings(ss.waitingOn)
		out = append(out, ss)
	}
	return out
}

// formatStallMessage renders the stuck set as a human-readable string
// for the event's Message field.
func formatStallMessage(stuck []stuckService, stalledFor time.Duration) string {
	var b strings.Builder
	fmt.Fprintf(&b, "no progress for %s:", stalledFor)
	for _, ss := range stuck {
		fmt.Fprintf(&b, "\n  %s: %s", ss.name, ss.state)
		if len(ss.waitingOn) > 0 {
			b.WriteString(" — waiting on ")
			b.WriteString(strings.Join(ss.waitingOn, ", "))
		}
	}
	return b.String()
}
