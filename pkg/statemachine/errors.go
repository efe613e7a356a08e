package statemachine

import (
	"errors"
	"fmt"

	"github.com/brandkit/conveyor/pkg/models"
)

var (
	// ErrUnsupportedWorkflow indicates a trigger referenced a workflow type
	// with no registered transition table. Rejected at submission, never retried.
	ErrUnsupportedWorkflow = errors.New("unsupported workflow type")

	// ErrIllegalTransition indicates an outcome with no defined transition
	// from the current state. Fatal: it points at a logic or data bug and is
	// surfaced to monitoring instead of being swallowed.
	ErrIllegalTransition = errors.New("illegal state transition")

	// ErrInvalidTriggerPayload indicates the trigger payload failed schema validation.
	ErrInvalidTriggerPayload = errors.New("invalid trigger payload")
)

// TransitionError carries the state and outcome of a rejected transition.
type TransitionError struct {
	WorkflowID string
	State      models.State
	Outcome    models.Outcome
	Err        error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("no transition from state %q with outcome %q for workflow %s: %v",
		e.State, e.Outcome, e.WorkflowID, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func (e *TransitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsIllegalTransition checks whether an error is an illegal transition rejection.
func IsIllegalTransition(err error) bool {
	return errors.Is(err, ErrIllegalTransition)
}

// IsUnsupportedWorkflow checks whether an error is an unknown workflow type rejection.
func IsUnsupportedWorkflow(err error) bool {
	return errors.Is(err, ErrUnsupportedWorkflow)
}
