// Package metrics aggregates bus events into rolling operational counters
// for the monitoring API.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/brandkit/conveyor/pkg/dispatcher"
	"github.com/brandkit/conveyor/pkg/eventbus"
	"github.com/brandkit/conveyor/pkg/events"
)

const defaultWindow = 5 * time.Minute

// StatsProvider supplies live queue and worker figures, normally backed by
// the dispatcher.
type StatsProvider func(ctx context.Context) dispatcher.Stats

// Snapshot is a point-in-time view of system health over the rolling window.
type Snapshot struct {
	Window             string  `json:"window"`
	JobsCompleted      int     `json:"jobs_completed"`
	JobsSucceeded      int     `json:"jobs_succeeded"`
	JobsFailed         int     `json:"jobs_failed"`
	SuccessRate        float64 `json:"success_rate"`
	ThroughputPerMin   float64 `json:"throughput_per_min"`
	AvgJobDurationMS   int64   `json:"avg_job_duration_ms"`
	WorkflowsCompleted int     `json:"workflows_completed"`
	WorkflowsFailed    int     `json:"workflows_failed"`
	JobsDeadlettered   int     `json:"jobs_deadlettered"`
	IllegalTransitions int     `json:"illegal_transitions"`

	QueueDepth        int     `json:"queue_depth"`
	TotalWorkers      int     `json:"total_workers"`
	BusyWorkers       int     `json:"busy_workers"`
	WorkerUtilization float64 `json:"worker_utilization"`
}

type jobSample struct {
	at       time.Time
	success  bool
	duration time.Duration
}

type countSample struct {
	at time.Time
}

// Aggregator consumes lifecycle events and keeps rolling windows of job and
// workflow outcomes. It is safe for concurrent use.
type Aggregator struct {
	mu     sync.Mutex
	window time.Duration
	now    func() time.Time

	jobs               []jobSample
	workflowsCompleted []countSample
	workflowsFailed    []countSample
	deadlettered       []countSample
	illegalTransitions []countSample

	stats  StatsProvider
	logger *slog.Logger
}

func NewAggregator(stats StatsProvider, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		window: defaultWindow,
		now:    time.Now,
		stats:  stats,
		logger: logger.With("module", "metrics"),
	}
}

// Register subscribes the aggregator to the event types it tracks.
func (a *Aggregator) Register(bus eventbus.EventSubscriber) error {
	handlers := map[events.EventType]eventbus.EventHandler{
		events.JobCompletedEvent:       a.onJobCompleted,
		events.JobDeadletteredEvent:    a.onJobDeadlettered,
		events.WorkflowCompletedEvent:  a.onWorkflowCompleted,
		events.WorkflowFailedEvent:     a.onWorkflowFailed,
		events.TransitionRejectedEvent: a.onTransitionRejected,
	}

	for eventType, handler := range handlers {
		err := bus.Handle(eventType, handler)
		if err != nil {
			return err
		}
	}

	return nil
}

func (a *Aggregator) onJobCompleted(_ context.Context, event any) error {
	completed, ok := event.(*events.JobCompleted)
	if !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.jobs = append(a.jobs, jobSample{at: a.now(), success: completed.Success, duration: completed.Duration})

	return nil
}

func (a *Aggregator) onJobDeadlettered(_ context.Context, event any) error {
	if _, ok := event.(*events.JobDeadlettered); !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.deadlettered = append(a.deadlettered, countSample{at: a.now()})

	return nil
}

func (a *Aggregator) onWorkflowCompleted(_ context.Context, event any) error {
	if _, ok := event.(*events.WorkflowCompleted); !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.workflowsCompleted = append(a.workflowsCompleted, countSample{at: a.now()})

	return nil
}

func (a *Aggregator) onWorkflowFailed(_ context.Context, event any) error {
	if _, ok := event.(*events.WorkflowFailed); !ok {
		return nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	a.workflowsFailed = append(a.workflowsFailed, countSample{at: a.now()})

	return nil
}

func (a *Aggregator) onTransitionRejected(ctx context.Context, event any) error {
	rejected, ok := event.(*events.TransitionRejected)
	if !ok {
		return nil
	}

	a.mu.Lock()
	a.illegalTransitions = append(a.illegalTransitions, countSample{at: a.now()})
	a.mu.Unlock()

	// Illegal transitions indicate a bug, so they are logged loudly in
	// addition to being counted.
	a.logger.WarnContext(ctx, "Illegal transition observed",
		"workflow_id", rejected.WorkflowID,
		"from_state", rejected.FromState,
		"outcome", rejected.OutcomeType)

	return nil
}

// Snapshot computes the current rolling-window figures and merges in live
// queue and worker stats.
func (a *Aggregator) Snapshot(ctx context.Context) Snapshot {
	a.mu.Lock()

	cutoff := a.now().Add(-a.window)
	a.prune(cutoff)

	snapshot := Snapshot{
		Window:             a.window.String(),
		JobsCompleted:      len(a.jobs),
		WorkflowsCompleted: len(a.workflowsCompleted),
		WorkflowsFailed:    len(a.workflowsFailed),
		JobsDeadlettered:   len(a.deadlettered),
		IllegalTransitions: len(a.illegalTransitions),
	}

	var totalDuration time.Duration

	for _, sample := range a.jobs {
		if sample.success {
			snapshot.JobsSucceeded++
		} else {
			snapshot.JobsFailed++
		}

		totalDuration += sample.duration
	}

	if snapshot.JobsCompleted > 0 {
		snapshot.SuccessRate = float64(snapshot.JobsSucceeded) / float64(snapshot.JobsCompleted)
		snapshot.AvgJobDurationMS = totalDuration.Milliseconds() / int64(snapshot.JobsCompleted)
		snapshot.ThroughputPerMin = float64(snapshot.JobsCompleted) / a.window.Minutes()
	}

	a.mu.Unlock()

	if a.stats != nil {
		stats := a.stats(ctx)
		snapshot.QueueDepth = stats.QueueDepth
		snapshot.TotalWorkers = stats.TotalWorkers
		snapshot.BusyWorkers = stats.BusyWorkers
		snapshot.WorkerUtilization = stats.WorkerUtilization
	}

	return snapshot
}

// prune drops samples older than the window. Caller holds the lock.
func (a *Aggregator) prune(cutoff time.Time) {
	a.jobs = pruneJobs(a.jobs, cutoff)
	a.workflowsCompleted = pruneCounts(a.workflowsCompleted, cutoff)
	a.workflowsFailed = pruneCounts(a.workflowsFailed, cutoff)
	a.deadlettered = pruneCounts(a.deadlettered, cutoff)
	a.illegalTransitions = pruneCounts(a.illegalTransitions, cutoff)
}

func pruneJobs(samples []jobSample, cutoff time.Time) []jobSample {
	kept := samples[:0]

	for _, sample := range samples {
		if sample.at.After(cutoff) {
			kept = append(kept, sample)
		}
	}

	return kept
}

func pruneCounts(samples []countSample, cutoff time.Time) []countSample {
	kept := samples[:0]

	for _, sample := range samples {
		if sample.at.After(cutoff) {
			kept = append(kept, sample)
		}
	}

	return kept
}
