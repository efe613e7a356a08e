package metrics

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/brandkit/conveyor/pkg/dispatcher"
	"github.com/brandkit/conveyor/pkg/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAggregator(stats StatsProvider) *Aggregator {
	return NewAggregator(stats, slog.Default())
}

func TestAggregator_SnapshotCountsJobs(t *testing.T) {
	aggregator := newTestAggregator(nil)

	for range 3 {
		err := aggregator.onJobCompleted(t.Context(), &events.JobCompleted{
			JobID:    "job-ok",
			Success:  true,
			Duration: 200 * time.Millisecond,
		})
		require.NoError(t, err)
	}

	err := aggregator.onJobCompleted(t.Context(), &events.JobCompleted{
		JobID:    "job-bad",
		Success:  false,
		Duration: 600 * time.Millisecond,
	})
	require.NoError(t, err)

	snapshot := aggregator.Snapshot(t.Context())

	assert.Equal(t, 4, snapshot.JobsCompleted)
	assert.Equal(t, 3, snapshot.JobsSucceeded)
	assert.Equal(t, 1, snapshot.JobsFailed)
	assert.InDelta(t, 0.75, snapshot.SuccessRate, 0.0001)
	assert.Equal(t, int64(300), snapshot.AvgJobDurationMS)
	assert.InDelta(t, 0.8, snapshot.ThroughputPerMin, 0.0001)
}

func TestAggregator_SnapshotCountsWorkflowsAndDeadletters(t *testing.T) {
	aggregator := newTestAggregator(nil)

	require.NoError(t, aggregator.onWorkflowCompleted(t.Context(), &events.WorkflowCompleted{}))
	require.NoError(t, aggregator.onWorkflowCompleted(t.Context(), &events.WorkflowCompleted{}))
	require.NoError(t, aggregator.onWorkflowFailed(t.Context(), &events.WorkflowFailed{Reason: "exhausted"}))
	require.NoError(t, aggregator.onJobDeadlettered(t.Context(), &events.JobDeadlettered{JobID: "job-1"}))
	require.NoError(t, aggregator.onTransitionRejected(t.Context(), &events.TransitionRejected{
		FromState:   "pending_generation",
		OutcomeType: "approval.rejected",
	}))

	snapshot := aggregator.Snapshot(t.Context())

	assert.Equal(t, 2, snapshot.WorkflowsCompleted)
	assert.Equal(t, 1, snapshot.WorkflowsFailed)
	assert.Equal(t, 1, snapshot.JobsDeadlettered)
	assert.Equal(t, 1, snapshot.IllegalTransitions)
}

func TestAggregator_IgnoresUnexpectedEventTypes(t *testing.T) {
	aggregator := newTestAggregator(nil)

	// Handlers tolerate foreign payloads instead of failing the message.
	require.NoError(t, aggregator.onJobCompleted(t.Context(), &events.WorkflowCompleted{}))
	require.NoError(t, aggregator.onWorkflowCompleted(t.Context(), "not an event"))

	snapshot := aggregator.Snapshot(t.Context())

	assert.Zero(t, snapshot.JobsCompleted)
	assert.Zero(t, snapshot.WorkflowsCompleted)
}

func TestAggregator_PrunesOutsideWindow(t *testing.T) {
	aggregator := newTestAggregator(nil)

	current := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	aggregator.now = func() time.Time { return current }

	require.NoError(t, aggregator.onJobCompleted(t.Context(), &events.JobCompleted{Success: true}))
	require.NoError(t, aggregator.onWorkflowCompleted(t.Context(), &events.WorkflowCompleted{}))

	// Advance just inside the window, then past it.
	current = current.Add(defaultWindow - time.Second)
	snapshot := aggregator.Snapshot(t.Context())
	assert.Equal(t, 1, snapshot.JobsCompleted)
	assert.Equal(t, 1, snapshot.WorkflowsCompleted)

	current = current.Add(2 * time.Second)
	snapshot = aggregator.Snapshot(t.Context())
	assert.Zero(t, snapshot.JobsCompleted)
	assert.Zero(t, snapshot.WorkflowsCompleted)
}

func TestAggregator_MergesLiveStats(t *testing.T) {
	aggregator := newTestAggregator(func(_ context.Context) dispatcher.Stats {
		return dispatcher.Stats{
			QueueDepth:        7,
			TotalWorkers:      4,
			BusyWorkers:       3,
			WorkerUtilization: 0.75,
		}
	})

	snapshot := aggregator.Snapshot(t.Context())

	assert.Equal(t, 7, snapshot.QueueDepth)
	assert.Equal(t, 4, snapshot.TotalWorkers)
	assert.Equal(t, 3, snapshot.BusyWorkers)
	assert.InDelta(t, 0.75, snapshot.WorkerUtilization, 0.0001)
}
