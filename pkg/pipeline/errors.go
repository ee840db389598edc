package pipeline

import (
	"fmt"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/pkg/errors"
)

// Error kinds. None of them is retried by the pipeline; callers re-read the
// task before deciding whether to try again.
var (
	ErrTaskNotFound      = errors.New("task not found")
	ErrIllegalTransition = errors.New("illegal transition")
	ErrAlreadyTerminal   = errors.New("task already terminal")
	ErrStaleState        = errors.New("stale task state")
	ErrPartialCommit     = errors.New("partial commit")
	ErrValidation        = errors.New("validation failed")
	ErrConflict          = errors.New("conflicting write")
	ErrForbidden         = errors.New("operation not permitted for role")
)

// TransitionError describes a rejected transition with enough context for a
// caller to re-render the task without reloading it.
type TransitionError struct {
	Kind      error
	TaskID    string
	Current   models.Stage
	Attempted models.Stage
	Role      models.Role
	Reason    string
}

func (e *TransitionError) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: task %s %s -> %s", e.Kind.Error(), e.TaskID, e.Current, e.Attempted)
	if e.Role != "" {
		msg += fmt.Sprintf(" (role %s)", e.Role)
	}
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func (e *TransitionError) Unwrap() error { return e.Kind }

func illegal(t models.Task, to models.Stage, role models.Role, format string, args ...any) error {
	return &TransitionError{
		Kind:      ErrIllegalTransition,
		TaskID:    t.ID,
		Current:   t.Stage,
		Attempted: to,
		Role:      role,
		Reason:    fmt.Sprintf(format, args...),
	}
}

// StaleStateError reports that the task moved between the caller's read and
// its write.
func StaleStateError(taskID string, current, attempted models.Stage, reason string) error {
	return &TransitionError{
		Kind:      ErrStaleState,
		TaskID:    taskID,
		Current:   current,
		Attempted: attempted,
		Reason:    reason,
	}
}

// PartialCommitError is returned when the stage change was stored but the
// matching history entry was not. Task holds the saved state.
type PartialCommitError struct {
	Task  models.Task
	Entry models.StatusHistoryEntry
	Err   error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("%s: task %s saved in %s without history entry: %v",
		ErrPartialCommit.Error(), e.Task.ID, e.Task.Stage, e.Err)
}

func (e *PartialCommitError) Unwrap() []error { return []error{ErrPartialCommit, e.Err} }

// ValidationError wraps ErrValidation with a field-specific message.
func ValidationError(format string, args ...any) error {
	return errors.Wrapf(ErrValidation, format, args...)
}
