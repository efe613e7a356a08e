package retry

import (
	"errors"
	"testing"
	"time"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failedJob(attempt int) *models.Job {
	return &models.Job{
		ID:         "job-1",
		WorkflowID: "wf-1",
		Payload:    models.JobPayload{Kind: "content.generate"},
		Status:     models.JobStatusFailed,
		Attempt:    attempt,
	}
}

func TestFatal(t *testing.T) {
	cause := errors.New("payload is garbage")
	err := Fatal(cause)

	assert.True(t, IsFatal(err))
	assert.ErrorIs(t, err, cause)

	// Wrapping keeps the marker visible.
	wrapped := errors.Join(errors.New("context"), err)
	assert.True(t, IsFatal(wrapped))

	assert.False(t, IsFatal(cause))
	assert.False(t, IsFatal(nil))
}

func TestManager_OnFailure_Retries(t *testing.T) {
	manager := NewManager(DefaultPolicy())

	decision := manager.OnFailure(failedJob(1), errors.New("connection refused"))

	assert.False(t, decision.Deadletter)
	assert.Equal(t, 2, decision.Attempt)
	assert.Greater(t, decision.Delay, time.Duration(0))
}

func TestManager_OnFailure_DelaysGrowToCap(t *testing.T) {
	manager := NewManager(Policy{
		BaseDelay:   time.Second,
		MaxDelay:    10 * time.Second,
		MaxAttempts: 100,
		Jitter:      0, // deterministic delays
	})

	var previous time.Duration

	for attempt := 1; attempt <= 8; attempt++ {
		decision := manager.OnFailure(failedJob(attempt), errors.New("transient"))
		require.False(t, decision.Deadletter)

		// Monotonically non-decreasing and never above the cap.
		assert.GreaterOrEqual(t, decision.Delay, previous)
		assert.LessOrEqual(t, decision.Delay, 10*time.Second)

		previous = decision.Delay
	}

	// Deep attempts sit at the cap.
	assert.Equal(t, 10*time.Second, previous)
}

func TestManager_OnFailure_DeadletterAfterMaxAttempts(t *testing.T) {
	manager := NewManager(Policy{MaxAttempts: 3})

	decision := manager.OnFailure(failedJob(1), errors.New("transient"))
	assert.False(t, decision.Deadletter)

	decision = manager.OnFailure(failedJob(2), errors.New("transient"))
	assert.True(t, decision.Deadletter)
	assert.Equal(t, 3, decision.Attempt)
}

func TestManager_OnFailure_FatalSkipsBackoff(t *testing.T) {
	manager := NewManager(DefaultPolicy())

	// First attempt, nowhere near the ceiling, still deadlettered.
	decision := manager.OnFailure(failedJob(1), Fatal(errors.New("unknown payload kind")))

	assert.True(t, decision.Deadletter)
	assert.Equal(t, 2, decision.Attempt)
	assert.Zero(t, decision.Delay)
}

func TestNewManager_ZeroFieldsGetDefaults(t *testing.T) {
	manager := NewManager(Policy{})

	assert.Equal(t, DefaultBaseDelay, manager.policy.BaseDelay)
	assert.Equal(t, DefaultMaxDelay, manager.policy.MaxDelay)
	assert.Equal(t, DefaultMaxAttempts, manager.policy.MaxAttempts)
}
