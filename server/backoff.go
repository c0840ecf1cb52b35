package server

import "time"

const (
	// DefaultBackoffInitial is the delay before the first restart.
	DefaultBackoffInitial = 500 * time.Millisecond

	// DefaultBackoffMax is the ceiling on the restart delay.
	DefaultBackoffMax = 30 * time.Second
)

// Backoff computes restart delays: exponential doubling from Initial,
// capped at Max. Retries are unbounded; the cap limits the delay, not
// the number of attempts.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// Delay returns the delay before restart attempt n (0-based). The
// sequence is non-decreasing and never exceeds Max. A zero-value Backoff
// uses the defaults.
func (b Backoff) Delay(attempt int) time.Duration {
	initial := b.Initial
	if initial <= 0 {
		initial = DefaultBackoffInitial
	}
	max := b.Max
	if max <= 0 {
		max = DefaultBackoffMax
	}

	d := initial
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= max {
			return max
		}
	}
	if d > max {
		return max
	}
	return d
}
