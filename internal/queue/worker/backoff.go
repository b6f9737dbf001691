package worker

import (
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Backoff computes retry delays: Base doubled per failed attempt, spread by
// ±Jitter, never above Cap.
type Backoff struct {
	Base   time.Duration
	Cap    time.Duration
	Jitter float64
}

func DefaultBackoff() Backoff {
	return Backoff{Base: 30 * time.Second, Cap: time.Hour, Jitter: 0.2}
}

// Delay returns the wait before the next try after attempt failures.
// attempt=1 => ~30s, attempt=2 => ~60s, attempt=3 => ~120s
func (b Backoff) Delay(attempt int) time.Duration {
	interval := b.Base
	for i := 1; i < attempt && interval < b.Cap; i++ {
		interval *= 2
	}
	if interval > b.Cap {
		interval = b.Cap
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = interval
	eb.MaxInterval = b.Cap
	eb.RandomizationFactor = b.Jitter
	eb.Multiplier = 2

	d := eb.NextBackOff()
	if d > b.Cap {
		d = b.Cap
	}
	return d
}
