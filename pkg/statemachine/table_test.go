package statemachine

import (
	"testing"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultRegistry(t *testing.T) {
	registry := NewDefaultRegistry()

	types := registry.Types()
	assert.Len(t, types, 3)

	for _, workflowType := range []models.WorkflowType{
		models.WorkflowTypeContentPublish,
		models.WorkflowTypeContentGeneration,
		models.WorkflowTypeApprovalRouting,
	} {
		table, ok := registry.Lookup(workflowType)
		require.True(t, ok, "missing table for %s", workflowType)
		assert.Equal(t, workflowType, table.Type)
		assert.NotEmpty(t, table.Initial)
	}
}

func TestRegistry_Register_DuplicatePanics(t *testing.T) {
	registry := NewRegistry()
	registry.Register(ContentPublishTable())

	assert.Panics(t, func() {
		registry.Register(ContentPublishTable())
	})
}

func TestTransitionTable_Next(t *testing.T) {
	table := ContentPublishTable()

	tests := []struct {
		name    string
		from    models.State
		outcome models.Outcome
		want    models.State
		wantOK  bool
	}{
		{"generation succeeded", StatePendingGeneration, models.OutcomeSucceeded, StatePendingApproval, true},
		{"generation failed", StatePendingGeneration, models.OutcomeFailed, models.StateFailed, true},
		{"approved", StatePendingApproval, models.OutcomeApproved, StatePublishing, true},
		{"rejected", StatePendingApproval, models.OutcomeRejected, models.StateFailed, true},
		{"published", StatePublishing, models.OutcomeSucceeded, models.StateCompleted, true},
		{"illegal outcome", StatePendingGeneration, models.OutcomeApproved, "", false},
		{"unknown state", models.State("archived"), models.OutcomeSucceeded, "", false},
		{"terminal has no outgoing edges", models.StateCompleted, models.OutcomeSucceeded, "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := table.Next(tt.from, tt.outcome)
			assert.Equal(t, tt.wantOK, ok)

			if tt.wantOK {
				assert.Equal(t, tt.want, next)
			}
		})
	}
}

func TestTransitionTable_ValidatePayload(t *testing.T) {
	table := ContentPublishTable()

	err := table.ValidatePayload(map[string]any{"title": "hello"})
	assert.NoError(t, err)

	err = table.ValidatePayload(map[string]any{"channels": []any{"blog"}})
	require.ErrorIs(t, err, ErrInvalidTriggerPayload)

	err = table.ValidatePayload(nil)
	require.ErrorIs(t, err, ErrInvalidTriggerPayload)
}

func TestTransitionTable_JobsFor(t *testing.T) {
	table := ContentPublishTable()

	assert.Len(t, table.JobsFor(StatePendingGeneration), 1)
	assert.Empty(t, table.JobsFor(StatePendingApproval))
	assert.Len(t, table.JobsFor(StatePublishing), 1)
	assert.Empty(t, table.JobsFor(models.StateCompleted))
}
