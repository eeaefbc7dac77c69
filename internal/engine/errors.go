package engine

import (
	"errors"
	"fmt"

	"github.com/davidmoltin/site-integrations/internal/models"
)

var (
	// ErrDependencyNotSatisfied is a template configuration fault: a step ran
	// before one of its dependencies completed. The execution fails immediately.
	ErrDependencyNotSatisfied = errors.New("step dependency not satisfied")

	// ErrStepTimeout is returned when a step does not finish within its timeout
	ErrStepTimeout = errors.New("step timed out")

	// ErrRollbackFailed is logged when a rollback operation fails. It never escalates.
	ErrRollbackFailed = errors.New("rollback failed")

	// ErrConfirmationRejected marks an execution cancelled by its confirmation step
	ErrConfirmationRejected = errors.New("action was not confirmed")

	// ErrExecutionNotFound is returned when no execution exists for an id
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrNotCancellable is returned when cancelling an execution that is no longer pending
	ErrNotCancellable = errors.New("execution is no longer pending")

	// ErrUnknownOperation is returned for an unregistered (platform, operation) pair
	ErrUnknownOperation = errors.New("unknown operation")

	// ErrMissingParameter is returned when a required parameter is absent
	ErrMissingParameter = errors.New("missing required parameter")

	// ErrDuplicateAction is reported when an action id is already running or recorded
	ErrDuplicateAction = errors.New("action id already in use")

	// ErrInvalidCatalog is returned when the template catalog fails validation
	ErrInvalidCatalog = errors.New("invalid action template catalog")
)

// StepError records which step failed and why
type StepError struct {
	StepID    string
	Platform  models.Platform
	Operation string
	Err       error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s.%s) failed: %v", e.StepID, e.Platform, e.Operation, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// IsStepTimeout reports whether err was caused by a step timeout
func IsStepTimeout(err error) bool {
	return errors.Is(err, ErrStepTimeout)
}
