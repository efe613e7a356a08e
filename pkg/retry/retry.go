// Package retry decides whether failed jobs are retried with backoff or deadlettered.
package retry

import (
	"errors"
	"time"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/cenkalti/backoff/v4"
)

// Default policy values.
const (
	DefaultBaseDelay   = 2 * time.Second
	DefaultMaxDelay    = 5 * time.Minute
	DefaultMaxAttempts = 5
	defaultJitter      = 0.2
)

// Fatal marks an error as non-retryable: malformed payloads, rejected
// credentials, anything where retrying cannot help. Fatal failures bypass
// backoff and deadletter immediately.
type fatalError struct {
	err error
}

func (e *fatalError) Error() string { return "fatal: " + e.err.Error() }

func (e *fatalError) Unwrap() error { return e.err }

// Fatal wraps an error so the retry manager deadletters it immediately.
func Fatal(err error) error {
	return &fatalError{err: err}
}

// IsFatal reports whether an error was marked fatal.
func IsFatal(err error) bool {
	var fe *fatalError

	return errors.As(err, &fe)
}

// Decision is the retry manager's verdict for one failure.
type Decision struct {
	Deadletter bool
	Delay      time.Duration
	Attempt    int // attempt count after this failure
}

// Policy configures the exponential backoff and the retry ceiling.
type Policy struct {
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int
	Jitter      float64
}

// DefaultPolicy returns the standard retry policy.
func DefaultPolicy() Policy {
	return Policy{
		BaseDelay:   DefaultBaseDelay,
		MaxDelay:    DefaultMaxDelay,
		MaxAttempts: DefaultMaxAttempts,
		Jitter:      defaultJitter,
	}
}

// Manager classifies job failures and computes retry delays. Attempt counts
// increment only here.
type Manager struct {
	policy Policy
}

// NewManager creates a retry manager with the given policy. Zero fields fall
// back to defaults.
func NewManager(policy Policy) *Manager {
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = DefaultBaseDelay
	}

	if policy.MaxDelay <= 0 {
		policy.MaxDelay = DefaultMaxDelay
	}

	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = DefaultMaxAttempts
	}

	return &Manager{policy: policy}
}

// OnFailure decides the fate of a failed job: retry after an exponentially
// growing delay, or deadletter once the ceiling is hit or the failure is
// fatal. The returned attempt count is what the job must carry afterwards.
func (m *Manager) OnFailure(job *models.Job, reason error) Decision {
	attempt := job.Attempt + 1

	if IsFatal(reason) {
		return Decision{Deadletter: true, Attempt: attempt}
	}

	if attempt >= m.policy.MaxAttempts {
		return Decision{Deadletter: true, Attempt: attempt}
	}

	return Decision{
		Delay:   m.delay(attempt),
		Attempt: attempt,
	}
}

// delay computes base * 2^(attempt-1) capped at MaxDelay, with jitter to
// spread out thundering-herd re-enqueues.
func (m *Manager) delay(attempt int) time.Duration {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.policy.BaseDelay
	b.Multiplier = 2
	b.MaxInterval = m.policy.MaxDelay
	b.RandomizationFactor = m.policy.Jitter
	b.MaxElapsedTime = 0

	delay := b.NextBackOff()
	for i := 1; i < attempt; i++ {
		delay = b.NextBackOff()
	}

	return delay
}
