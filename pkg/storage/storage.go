package storage

import (
	"context"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/pkg/errors"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConflict is returned by SaveTask when the stored version no longer
	// matches the version the caller read.
	ErrConflict = errors.New("conflicting concurrent write")
	// ErrTxUnsupported is returned by Begin on stores that cannot make
	// several writes atomic.
	ErrTxUnsupported = errors.New("transactions not supported")
)

// TaskFilter narrows ListTasks at the store level. Zero values match all.
type TaskFilter struct {
	ClientID string
	Stages   []models.Stage
	ActorID  string // developer or reviewer
	Limit    int
}

// Store defines the record operations the fulfillment pipeline needs.
type Store interface {
	// Task operations
	GetTask(ctx context.Context, id string) (models.Task, error)
	InsertTask(ctx context.Context, t models.Task) (models.Task, error)
	// SaveTask persists t if the stored version equals t.Version and returns
	// the task with its version incremented.
	SaveTask(ctx context.Context, t models.Task) (models.Task, error)
	DeleteTask(ctx context.Context, id string) error
	ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error)

	// Activity trail operations
	AppendHistory(ctx context.Context, e models.StatusHistoryEntry) error
	ListHistory(ctx context.Context, taskID string) ([]models.StatusHistoryEntry, error)
	AppendNote(ctx context.Context, n models.Note) error
	ListNotes(ctx context.Context, taskID string) ([]models.Note, error)

	// Transactions
	Begin(ctx context.Context) (Store, error)
	Commit() error
	Rollback() error
	Close() error
}

// MatchesFilter reports whether t satisfies f. Stores without a query
// language use it to evaluate TaskFilter.
func MatchesFilter(t models.Task, f TaskFilter) bool {
	if f.ClientID != "" && t.ClientID != f.ClientID {
		return false
	}
	if f.ActorID != "" && !t.AssignedTo(f.ActorID) {
		return false
	}
	if len(f.Stages) > 0 {
		found := false
		for _, s := range f.Stages {
			if t.Stage == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
