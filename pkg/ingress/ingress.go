// Package ingress normalizes inbound triggers (webhooks, schedules, manual
// API calls) into canonical trigger events and publishes them to the bus.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/brandkit/conveyor/pkg/eventbus"
	"github.com/brandkit/conveyor/pkg/events"
	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/queue"
	"github.com/google/uuid"
)

// Service accepts raw triggers and emits TriggerReceived events. Ownership of
// record creation stays with the consumers (the state machine engine);
// ingress itself only normalizes and publishes.
type Service struct {
	publisher eventbus.EventPublisher
	queue     queue.Queue // optional backpressure probe
	maxDepth  int
	logger    *slog.Logger
}

// NewService creates the ingress service. When q and maxDepth are set,
// Accept rejects new triggers with ErrQueueSaturated while the queue is over
// its ceiling, so HTTP callers can surface a retryable 429.
func NewService(publisher eventbus.EventPublisher, q queue.Queue, maxDepth int, logger *slog.Logger) *Service {
	return &Service{
		publisher: publisher,
		queue:     q,
		maxDepth:  maxDepth,
		logger:    logger.With("module", "ingress"),
	}
}

// Accept normalizes one inbound trigger. externalID, when supplied by the
// caller (e.g. a webhook delivery ID), becomes the event ID so that redelivery
// of the same trigger is detected downstream; otherwise a fresh ID is minted.
func (s *Service) Accept(
	ctx context.Context,
	source models.TriggerSource,
	eventType string,
	externalID string,
	payload map[string]any,
) (*models.TriggerEvent, error) {
	if s.queue != nil && s.maxDepth > 0 {
		depth, err := s.queue.Depth(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to probe queue depth: %w", err)
		}

		if depth >= s.maxDepth {
			return nil, fmt.Errorf("%w: depth %d", queue.ErrQueueSaturated, depth)
		}
	}

	id := externalID
	if id == "" {
		id = uuid.New().String()
	}

	event := &models.TriggerEvent{
		ID:         id,
		Source:     source,
		Type:       eventType,
		Payload:    payload,
		ReceivedAt: time.Now().UTC(),
	}

	received := events.TriggerReceived{
		BaseEvent: events.NewBaseEvent(events.TriggerReceivedEvent, ""),
		TriggerID: event.ID,
		Source:    string(event.Source),
		EventName: event.Type,
		Payload:   event.Payload,
	}

	err := s.publisher.Publish(ctx, event.ID, received)
	if err != nil {
		return nil, fmt.Errorf("failed to publish trigger event %s: %w", event.ID, err)
	}

	s.logger.InfoContext(ctx, "Trigger accepted",
		"trigger_id", event.ID,
		"source", event.Source,
		"type", event.Type)

	return event, nil
}
