package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/brandkit/conveyor/pkg/persistence"
)

// TriggerEventRepository records ingress events exactly once.
type TriggerEventRepository struct {
	db *sql.DB
}

// NewTriggerEventRepository creates a new trigger event repository.
func NewTriggerEventRepository(db *sql.DB) *TriggerEventRepository {
	return &TriggerEventRepository{db: db}
}

// Record inserts the event. ON CONFLICT DO NOTHING plus a rows-affected check
// turns duplicate deliveries into ErrTriggerEventExists.
func (er *TriggerEventRepository) Record(ctx context.Context, event *models.TriggerEvent) error {
	payloadJSON, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal trigger event payload: %w", err)
	}

	query := `
		INSERT INTO trigger_events (id, source, type, payload, received_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO NOTHING
	`

	result, err := er.db.ExecContext(ctx, query,
		event.ID,
		string(event.Source),
		event.Type,
		payloadJSON,
		event.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record trigger event %s: %w", event.ID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to record trigger event %s: %w", event.ID, err)
	}

	if affected == 0 {
		return persistence.ErrTriggerEventExists
	}

	return nil
}

func (er *TriggerEventRepository) GetByID(ctx context.Context, id string) (*models.TriggerEvent, error) {
	query := `
		SELECT id, source, type, payload, received_at
		FROM trigger_events
		WHERE id = $1
	`

	var (
		event       models.TriggerEvent
		payloadJSON []byte
	)

	err := er.db.QueryRowContext(ctx, query, id).Scan(
		&event.ID,
		&event.Source,
		&event.Type,
		&payloadJSON,
		&event.ReceivedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, persistence.ErrTriggerEventNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("failed to get trigger event %s: %w", id, err)
	}

	if len(payloadJSON) > 0 {
		err = json.Unmarshal(payloadJSON, &event.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal trigger event payload: %w", err)
		}
	}

	return &event, nil
}
