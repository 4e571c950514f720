package retry

import (
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	DefaultMaxRetries     = 3
	DefaultInitialBackoff = time.Minute
	DefaultMaxBackoff     = time.Hour
	DefaultMultiplier     = 2.0
)

// Policy decides when a transient failure is retried and how long to wait.
// MaxRetries bounds the number of failed attempts: the execution fails once
// Attempts reaches MaxRetries.
type Policy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Multiplier     float64
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:     DefaultMaxRetries,
		InitialBackoff: DefaultInitialBackoff,
		MaxBackoff:     DefaultMaxBackoff,
		Multiplier:     DefaultMultiplier,
	}
}

// WithMaxRetries returns a copy of the policy with a per-workflow override applied.
func (p Policy) WithMaxRetries(override *int) Policy {
	if override != nil {
		p.MaxRetries = *override
	}

	return p
}

// Exhausted reports whether an execution with the given failed attempts must stop retrying.
func (p Policy) Exhausted(attempts int) bool {
	return attempts >= p.MaxRetries
}

// Backoff returns the wait before the retry following the given failed attempt (1-based).
// The schedule is deterministic: initial, initial*multiplier, ... capped at MaxBackoff.
func (p Policy) Backoff(attempt int) time.Duration {
	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = p.InitialBackoff
	schedule.MaxInterval = p.MaxBackoff
	schedule.RandomizationFactor = 0
	schedule.MaxElapsedTime = 0

	if p.Multiplier > 0 {
		schedule.Multiplier = p.Multiplier
	}

	if schedule.InitialInterval <= 0 {
		schedule.InitialInterval = DefaultInitialBackoff
	}

	if schedule.MaxInterval <= 0 {
		schedule.MaxInterval = DefaultMaxBackoff
	}

	schedule.Reset()

	wait := schedule.NextBackOff()
	for i := 1; i < attempt; i++ {
		wait = schedule.NextBackOff()
	}

	return wait
}
