package statemachine

import "github.com/brandkit/conveyor/pkg/models"

// Workflow states beyond the shared terminals.
const (
	StatePendingGeneration models.State = "pending_generation"
	StatePendingApproval   models.State = "pending_approval"
	StatePublishing        models.State = "publishing"
	StateGenerating        models.State = "generating"
	StateRouting           models.State = "routing"
	StateAwaitingDecision  models.State = "awaiting_decision"
)

// Job payload kinds produced by the built-in workflow types.
const (
	JobKindContentGenerate   = "content.generate"
	JobKindContentDistribute = "content.distribute"
	JobKindApprovalRoute     = "approval.route"
)

const contentPayloadSchema = `{
	"type": "object",
	"properties": {
		"title":    {"type": "string", "minLength": 1},
		"channels": {"type": "array", "items": {"type": "string"}},
		"priority": {"type": "integer", "minimum": 0, "maximum": 100}
	},
	"required": ["title"]
}`

// NewDefaultRegistry returns the registry holding the built-in automations.
func NewDefaultRegistry() *Registry {
	registry := NewRegistry()

	registry.Register(ContentPublishTable())
	registry.Register(ContentGenerationTable())
	registry.Register(ApprovalRoutingTable())

	return registry
}

// ContentPublishTable is the generate → approve → publish pipeline.
// Approval is decided externally, so pending_approval produces no job and
// only advances on an approved or rejected outcome.
func ContentPublishTable() *TransitionTable {
	return &TransitionTable{
		Type:            models.WorkflowTypeContentPublish,
		Initial:         StatePendingGeneration,
		DefaultPriority: 5,
		PayloadSchema:   contentPayloadSchema,
		Transitions: map[models.State]map[models.Outcome]models.State{
			StatePendingGeneration: {
				models.OutcomeSucceeded: StatePendingApproval,
				models.OutcomeFailed:    models.StateFailed,
			},
			StatePendingApproval: {
				models.OutcomeApproved: StatePublishing,
				models.OutcomeRejected: models.StateFailed,
			},
			StatePublishing: {
				models.OutcomeSucceeded: models.StateCompleted,
				models.OutcomeFailed:    models.StateFailed,
			},
		},
		StateJobs: map[models.State][]JobSpec{
			StatePendingGeneration: {{Kind: JobKindContentGenerate}},
			StatePublishing:        {{Kind: JobKindContentDistribute}},
		},
	}
}

// ContentGenerationTable is the single-step standalone generation automation.
func ContentGenerationTable() *TransitionTable {
	return &TransitionTable{
		Type:            models.WorkflowTypeContentGeneration,
		Initial:         StateGenerating,
		DefaultPriority: 3,
		Transitions: map[models.State]map[models.Outcome]models.State{
			StateGenerating: {
				models.OutcomeSucceeded: models.StateCompleted,
				models.OutcomeFailed:    models.StateFailed,
			},
		},
		StateJobs: map[models.State][]JobSpec{
			StateGenerating: {{Kind: JobKindContentGenerate}},
		},
	}
}

// ApprovalRoutingTable routes an approval request and waits for a decision.
func ApprovalRoutingTable() *TransitionTable {
	return &TransitionTable{
		Type:            models.WorkflowTypeApprovalRouting,
		Initial:         StateRouting,
		DefaultPriority: 5,
		Transitions: map[models.State]map[models.Outcome]models.State{
			StateRouting: {
				models.OutcomeSucceeded: StateAwaitingDecision,
				models.OutcomeFailed:    models.StateFailed,
			},
			StateAwaitingDecision: {
				models.OutcomeApproved: models.StateCompleted,
				models.OutcomeRejected: models.StateFailed,
			},
		},
		StateJobs: map[models.State][]JobSpec{
			StateRouting: {{Kind: JobKindApprovalRoute}},
		},
	}
}
