// Package statemachine is the authority on workflow lifecycles: it validates
// and applies state transitions and decides which jobs each state produces.
package statemachine

import (
	"fmt"

	"github.com/brandkit/conveyor/pkg/models"
	"github.com/xeipuuv/gojsonschema"
)

// JobSpec describes one job enqueued on entry to a state. Fan-out states
// list several specs; all of them inherit the instance priority.
type JobSpec struct {
	Kind string
}

// TransitionTable defines the finite state machine for one workflow type:
// initial state, terminal states, the (state, outcome) → next state map, and
// the jobs produced when a state is entered.
type TransitionTable struct {
	Type            models.WorkflowType
	Initial         models.State
	Transitions     map[models.State]map[models.Outcome]models.State
	StateJobs       map[models.State][]JobSpec
	DefaultPriority int
	PayloadSchema   string // optional JSON Schema applied to trigger payloads
}

// Next resolves the transition for the given state and outcome.
func (t *TransitionTable) Next(state models.State, outcome models.Outcome) (models.State, bool) {
	outcomes, ok := t.Transitions[state]
	if !ok {
		return "", false
	}

	next, ok := outcomes[outcome]

	return next, ok
}

// JobsFor returns the job specs produced on entry to the given state.
func (t *TransitionTable) JobsFor(state models.State) []JobSpec {
	return t.StateJobs[state]
}

// ValidatePayload checks a trigger payload against the table's JSON schema,
// when one is configured.
func (t *TransitionTable) ValidatePayload(payload map[string]any) error {
	if t.PayloadSchema == "" {
		return nil
	}

	if payload == nil {
		payload = map[string]any{}
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(t.PayloadSchema),
		gojsonschema.NewGoLoader(payload),
	)
	if err != nil {
		return fmt.Errorf("payload schema validation failed: %w", err)
	}

	if !result.Valid() {
		return fmt.Errorf("%w: %v", ErrInvalidTriggerPayload, result.Errors())
	}

	return nil
}

// Registry maps workflow types to their transition tables. Tables are
// registered once at startup; lookups after that are read-only.
type Registry struct {
	tables map[models.WorkflowType]*TransitionTable
}

// NewRegistry creates an empty transition table registry.
func NewRegistry() *Registry {
	return &Registry{tables: make(map[models.WorkflowType]*TransitionTable)}
}

// Register adds a transition table. It panics on duplicate types or tables
// without an initial state, since both are wiring mistakes.
func (r *Registry) Register(table *TransitionTable) {
	if table.Initial == "" {
		panic(fmt.Sprintf("transition table for %q has no initial state", table.Type))
	}

	if _, exists := r.tables[table.Type]; exists {
		panic(fmt.Sprintf("transition table for %q registered twice", table.Type))
	}

	r.tables[table.Type] = table
}

// Lookup returns the table for a workflow type.
func (r *Registry) Lookup(workflowType models.WorkflowType) (*TransitionTable, bool) {
	table, ok := r.tables[workflowType]

	return table, ok
}

// Types returns the registered workflow types.
func (r *Registry) Types() []models.WorkflowType {
	types := make([]models.WorkflowType, 0, len(r.tables))
	for t := range r.tables {
		types = append(types, t)
	}

	return types
}
