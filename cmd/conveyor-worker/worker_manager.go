package main

import (
	"context"
	"errors"
	"log/slog"
	"os/signal"
	"syscall"
	"time"

	"github.com/brandkit/conveyor/pkg/collaborator"
	"github.com/brandkit/conveyor/pkg/dispatcher"
	"github.com/brandkit/conveyor/pkg/eventbus"
	"github.com/brandkit/conveyor/pkg/events"
	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
	"github.com/brandkit/conveyor/pkg/pipeline"
	"github.com/brandkit/conveyor/pkg/queue"
	"github.com/brandkit/conveyor/pkg/retry"
	"github.com/brandkit/conveyor/pkg/statemachine"
	"github.com/brandkit/conveyor/pkg/worker"
	"go.opentelemetry.io/otel/trace"
)

// Manager assembles the full processing side: state machine engine, queue,
// dispatcher, worker pool, and retry manager, all joined by the pipeline
// coordinator.
type Manager struct {
	persistence persistence.Persistence
	eventBus    eventbus.EventBus
	queue       queue.Queue
	registry    *collaborator.Registry
	poolSize    int
	tracer      trace.Tracer
	logger      *slog.Logger
}

func NewManager(
	persist persistence.Persistence,
	eventBus eventbus.EventBus,
	jobQueue queue.Queue,
	registry *collaborator.Registry,
	poolSize int,
	logger *slog.Logger,
) *Manager {
	return &Manager{
		persistence: persist,
		eventBus:    eventBus,
		queue:       jobQueue,
		registry:    registry,
		poolSize:    poolSize,
		logger:      logger,
	}
}

func (m *Manager) SetTracer(tracer trace.Tracer) {
	m.tracer = tracer
}

// Start runs dispatch and execution until a shutdown signal arrives or the
// dispatcher hits an infrastructure failure.
func (m *Manager) Start(ctx context.Context) error {
	engine := statemachine.NewEngine(statemachine.NewDefaultRegistry(), m.persistence, m.eventBus, m.logger)
	retryManager := retry.NewManager(retry.DefaultPolicy())
	disp := dispatcher.NewDispatcher(m.queue, m.persistence.Jobs(), m.eventBus, dispatcher.DefaultConfig(), m.logger)
	coordinator := pipeline.NewCoordinator(engine, m.queue, m.persistence, retryManager, m.eventBus, m.logger)

	pool := worker.NewPool(m.poolSize, m.registry, disp, m.persistence.Jobs(), m.eventBus, coordinator, m.logger)
	if m.tracer != nil {
		pool.SetTracer(m.tracer)
	}

	err := m.eventBus.Handle(events.TriggerReceivedEvent, m.triggerHandler(coordinator))
	if err != nil {
		return err
	}

	err = m.eventBus.Subscribe(ctx)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool.Start(runCtx)

	m.logger.InfoContext(runCtx, "Worker started successfully", "pool_size", m.poolSize)

	err = disp.Run(runCtx)

	m.logger.InfoContext(ctx, "Shutting down worker")

	pool.Wait()

	if errors.Is(err, context.Canceled) {
		return nil
	}

	return err
}

// triggerHandler routes TriggerReceived events into the pipeline. Domain
// rejections (unknown workflow type, invalid payload) are logged and acked;
// redelivering them can never succeed.
func (m *Manager) triggerHandler(coordinator *pipeline.Coordinator) eventbus.EventHandler {
	return func(ctx context.Context, event any) error {
		received, ok := event.(*events.TriggerReceived)
		if !ok {
			m.logger.ErrorContext(ctx, "Invalid event type for TriggerReceived")

			return nil
		}

		trigger := &models.TriggerEvent{
			ID:         received.TriggerID,
			Source:     models.TriggerSource(received.Source),
			Type:       received.EventName,
			Payload:    received.Payload,
			ReceivedAt: time.Now().UTC(),
		}

		instance, err := coordinator.SubmitTrigger(ctx, trigger)
		if err != nil {
			if statemachine.IsUnsupportedWorkflow(err) || errors.Is(err, statemachine.ErrInvalidTriggerPayload) {
				m.logger.WarnContext(ctx, "Rejected trigger",
					"trigger_id", trigger.ID,
					"error", err)

				return nil
			}

			m.logger.ErrorContext(ctx, "Failed to process trigger",
				"trigger_id", trigger.ID,
				"error", err)

			return err
		}

		if instance != nil {
			m.logger.InfoContext(ctx, "Workflow started from trigger",
				"trigger_id", trigger.ID,
				"workflow_id", instance.ID,
				"workflow_type", instance.WorkflowType)
		}

		return nil
	}
}
