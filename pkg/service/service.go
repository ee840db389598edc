package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/pkg/errors"
)

// Logger defines the logging interface for FulfillmentService
type Logger interface {
	Infof(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// Publisher receives an event after every committed change. Views use it to
// invalidate cached boards.
type Publisher interface {
	Publish(ctx context.Context, event models.TaskEvent)
}

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, models.TaskEvent) {}

// FulfillmentService drives client work requests through the pipeline.
// Every write runs inside a store transaction so that a stage change and its
// history entry are stored together.
type FulfillmentService struct {
	store     storage.Store
	logger    Logger
	machine   *pipeline.Machine
	publisher Publisher
}

type Option func(*FulfillmentService)

// WithPublisher sets the sink for committed-change events.
func WithPublisher(p Publisher) Option {
	return func(s *FulfillmentService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMachine replaces the state machine, mainly to pin the clock in tests.
func WithMachine(m *pipeline.Machine) Option {
	return func(s *FulfillmentService) {
		if m != nil {
			s.machine = m
		}
	}
}

func NewFulfillmentService(store storage.Store, logger Logger, opts ...Option) *FulfillmentService {
	s := &FulfillmentService{
		store:     store,
		logger:    logger,
		machine:   pipeline.NewMachine(),
		publisher: nopPublisher{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// inTx runs fn inside a store transaction and publishes the events fn
// returns once the transaction has committed. On stores that cannot open a
// transaction fn runs directly against the store with sequenced set, and
// writes become visible one by one; events fn returns alongside an error
// are then still published, since those writes cannot be undone.
func (s *FulfillmentService) inTx(ctx context.Context, op string, fn func(st storage.Store, sequenced bool) ([]models.TaskEvent, error)) error {
	txStore, err := s.store.Begin(ctx)
	sequenced := false
	switch {
	case errors.Is(err, storage.ErrTxUnsupported):
		txStore, sequenced = s.store, true
	case err != nil:
		return errors.Wrapf(err, "%s: begin transaction", op)
	}

	events, err := fn(txStore, sequenced)
	if err != nil {
		if sequenced {
			s.publish(ctx, events)
			return err
		}
		if rollbackErr := txStore.Rollback(); rollbackErr != nil {
			s.logger.Errorf("Failed to rollback after error: %v (original error: %v)", rollbackErr, err)
		}
		return err
	}
	if !sequenced {
		if commitErr := txStore.Commit(); commitErr != nil {
			s.logger.Errorf("Failed to commit %s: %v", op, commitErr)
			return errors.Wrapf(commitErr, "%s: commit", op)
		}
	}
	s.publish(ctx, events)
	return nil
}

// publish fans out committed changes. The writes are already stored, so the
// caller's cancellation must not drop them.
func (s *FulfillmentService) publish(ctx context.Context, events []models.TaskEvent) {
	ctx = context.WithoutCancel(ctx)
	for _, e := range events {
		s.publisher.Publish(ctx, e)
	}
}

// NewTask carries the intake fields of a work request.
type NewTask struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Priority    models.Priority `json:"priority"`
	Category    string          `json:"category"`
	ClientID    string          `json:"client_id"`
}

// CreateTask records an intake request in the pending stage together with
// its initial history entry. Clients may only file requests for themselves.
func (s *FulfillmentService) CreateTask(ctx context.Context, req NewTask, actor models.Actor) (models.Task, error) {
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		return models.Task{}, pipeline.ValidationError("task title cannot be empty")
	}
	if len(req.Title) > 200 {
		return models.Task{}, pipeline.ValidationError("task title too long (max 200 characters)")
	}
	if actor.Role == models.ClientRole {
		if req.ClientID == "" {
			req.ClientID = actor.ID
		}
		if req.ClientID != actor.ID {
			return models.Task{}, errors.Wrap(pipeline.ErrForbidden, "clients may only create their own requests")
		}
	}
	if req.ClientID == "" {
		return models.Task{}, pipeline.ValidationError("client id is required")
	}
	if req.Priority == "" {
		req.Priority = models.NormalPriority
	}
	if !req.Priority.IsValid() {
		return models.Task{}, pipeline.ValidationError("invalid priority %q", req.Priority)
	}

	now := s.machine.Now()
	task := models.Task{
		ID:          uuid.NewString(),
		Title:       req.Title,
		Description: strings.TrimSpace(req.Description),
		Priority:    req.Priority,
		Category:    strings.TrimSpace(req.Category),
		Stage:       models.PendingStage,
		ClientID:    req.ClientID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err := s.inTx(ctx, "create task", func(st storage.Store, _ bool) ([]models.TaskEvent, error) {
		var err error
		task, err = st.InsertTask(ctx, task)
		if errors.Is(err, storage.ErrConflict) {
			return nil, errors.Wrapf(pipeline.ErrConflict, "create task: %v", err)
		}
		if err != nil {
			return nil, errors.Wrap(err, "create task")
		}
		if err := st.AppendHistory(ctx, s.machine.Intake(task, actor)); err != nil {
			return nil, errors.Wrapf(err, "create task %s: intake history", task.ID)
		}
		return []models.TaskEvent{{
			Type: models.TaskCreatedEvent, TaskID: task.ID, ClientID: task.ClientID,
			To: task.Stage, Actor: actor, At: now,
		}}, nil
	})
	if err != nil {
		return models.Task{}, err
	}
	s.logger.Infof("Created task %s '%s' for client %s", task.Code, task.Title, task.ClientID)
	return task, nil
}

// GetTask returns a task by ID.
func (s *FulfillmentService) GetTask(ctx context.Context, id string) (models.Task, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		return models.Task{}, notFound(err, id)
	}
	return t, nil
}

// ListTasks loads tasks with store-level narrowing, then applies spec.
// Client viewers only ever see their own tasks.
func (s *FulfillmentService) ListTasks(ctx context.Context, spec pipeline.FilterSpec, viewer models.Actor) ([]models.Task, error) {
	if viewer.Role == models.ClientRole {
		spec.ClientID = viewer.ID
	}
	if spec.Scope == pipeline.ScopeMine && spec.ActorID == "" {
		spec.ActorID = viewer.ID
	}
	tasks, err := s.store.ListTasks(ctx, storage.TaskFilter{ClientID: spec.ClientID})
	if err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	return pipeline.Filter(tasks, spec), nil
}

// Assign sets the developer and reviewer of a task. Nil leaves a field
// unchanged; an empty string clears it.
func (s *FulfillmentService) Assign(ctx context.Context, taskID string, developerID, reviewerID *string, actor models.Actor) (models.Task, error) {
	if actor.Role != models.AdminRole && actor.Role != models.ManagerRole {
		return models.Task{}, errors.Wrapf(pipeline.ErrForbidden, "role %s may not assign tasks", actor.Role)
	}
	var task models.Task
	err := s.inTx(ctx, "assign task", func(st storage.Store, _ bool) ([]models.TaskEvent, error) {
		current, err := st.GetTask(ctx, taskID)
		if err != nil {
			return nil, notFound(err, taskID)
		}
		if current.Stage.IsTerminal() {
			return nil, &pipeline.TransitionError{
				Kind: pipeline.ErrAlreadyTerminal, TaskID: taskID,
				Current: current.Stage, Attempted: current.Stage, Role: actor.Role,
				Reason: "cannot reassign a finished task",
			}
		}
		next := current.Clone()
		next.DeveloperID = assignment(next.DeveloperID, developerID)
		next.ReviewerID = assignment(next.ReviewerID, reviewerID)
		next.UpdatedAt = s.machine.Now()

		task, err = st.SaveTask(ctx, next)
		if err != nil {
			return nil, staleOnConflict(err, current, current.Stage)
		}
		return []models.TaskEvent{{
			Type: models.TaskUpdatedEvent, TaskID: task.ID, ClientID: task.ClientID,
			To: task.Stage, Actor: actor, At: task.UpdatedAt,
		}}, nil
	})
	if err != nil {
		return models.Task{}, err
	}
	s.logger.Infof("Assigned task %s (developer=%s, reviewer=%s)", task.Code, deref(task.DeveloperID), deref(task.ReviewerID))
	return task, nil
}

// DeleteTask physically removes a task and its trail. It is an admin
// override outside the state machine.
func (s *FulfillmentService) DeleteTask(ctx context.Context, taskID string, actor models.Actor) error {
	if actor.Role != models.AdminRole {
		return errors.Wrapf(pipeline.ErrForbidden, "role %s may not delete tasks", actor.Role)
	}
	var code string
	err := s.inTx(ctx, "delete task", func(st storage.Store, _ bool) ([]models.TaskEvent, error) {
		task, err := st.GetTask(ctx, taskID)
		if err != nil {
			return nil, notFound(err, taskID)
		}
		if err := st.DeleteTask(ctx, taskID); err != nil {
			return nil, notFound(err, taskID)
		}
		code = task.Code
		return []models.TaskEvent{{
			Type: models.TaskDeletedEvent, TaskID: task.ID, ClientID: task.ClientID,
			From: task.Stage, Actor: actor, At: s.machine.Now(),
		}}, nil
	})
	if err != nil {
		return err
	}
	s.logger.Infof("Deleted task %s by admin %s", code, actor.ID)
	return nil
}

// notFound maps the store's not-found error to the pipeline's.
func notFound(err error, taskID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return errors.Wrapf(pipeline.ErrTaskNotFound, "task %s", taskID)
	}
	return err
}

// staleOnConflict turns a store version conflict into a StaleState error.
func staleOnConflict(err error, read models.Task, attempted models.Stage) error {
	if errors.Is(err, storage.ErrConflict) {
		return pipeline.StaleStateError(read.ID, read.Stage, attempted,
			"task was changed by another actor; re-read it before retrying")
	}
	if errors.Is(err, storage.ErrNotFound) {
		return notFound(err, read.ID)
	}
	return err
}

func assignment(current, requested *string) *string {
	if requested == nil {
		return current
	}
	if *requested == "" {
		return nil
	}
	v := *requested
	return &v
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}
