package realtime

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// delaySchedule produces reconnect delays: base * 2^(n-1) for attempt n,
// capped at MaxReconnectDelay. No jitter, so the schedule is exact and
// deterministic.
type delaySchedule struct {
	b *backoff.ExponentialBackOff
}

func newDelaySchedule(cfg Config) *delaySchedule {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = cfg.ReconnectDelay
	b.Multiplier = 2
	b.RandomizationFactor = 0

	maxDelay := cfg.MaxReconnectDelay
	if maxDelay == 0 {
		// Large enough that the cap never binds within the attempt budget.
		maxDelay = cfg.ReconnectDelay << uint(cfg.MaxReconnectAttempts)
	}
	b.MaxInterval = maxDelay
	b.Reset()

	return &delaySchedule{b: b}
}

// Next returns the delay for the next attempt and advances the schedule.
func (d *delaySchedule) Next() time.Duration {
	return d.b.NextBackOff()
}

// Reset restarts the schedule at the base delay.
func (d *delaySchedule) Reset() {
	d.b.Reset()
}
