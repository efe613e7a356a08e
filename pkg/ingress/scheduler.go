package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/robfig/cron/v3"
)

// Schedule defines a recurring trigger. Type carries the workflow type (or
// the standalone job marker) and is copied into the trigger payload under
// "type" so the pipeline coordinator can route it.
type Schedule struct {
	Name    string
	Cron    string
	Type    string
	Payload map[string]any
}

// Scheduler fires schedule triggers through the ingress service. Trigger IDs
// are derived from the schedule name and the tick time, so a restarted
// scheduler that replays a tick produces a duplicate ID instead of a
// duplicate workflow.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	logger  *slog.Logger
}

func NewScheduler(service *Service, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		service: service,
		logger:  logger.With("module", "scheduler"),
	}
}

// Add registers a schedule. The expression uses the standard five-field cron
// format.
func (s *Scheduler) Add(schedule Schedule) error {
	if schedule.Name == "" {
		return fmt.Errorf("schedule name is required")
	}

	_, err := s.cron.AddFunc(schedule.Cron, func() {
		s.fire(schedule)
	})
	if err != nil {
		return fmt.Errorf("failed to register schedule %s: %w", schedule.Name, err)
	}

	s.logger.Info("Schedule registered", "name", schedule.Name, "cron", schedule.Cron)

	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts the cron loop and waits for in-flight fires to finish.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()

	select {
	case <-stopped.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) fire(schedule Schedule) {
	ctx := context.Background()
	tick := time.Now().UTC().Truncate(time.Second)

	payload := make(map[string]any, len(schedule.Payload)+2)
	for k, v := range schedule.Payload {
		payload[k] = v
	}

	payload["type"] = schedule.Type
	payload["scheduled_at"] = tick.Format(time.RFC3339)

	externalID := fmt.Sprintf("sched:%s:%d", schedule.Name, tick.Unix())

	_, err := s.service.Accept(ctx, models.TriggerSourceSchedule, schedule.Type, externalID, payload)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to fire schedule",
			"name", schedule.Name,
			"error", err)
	}
}
