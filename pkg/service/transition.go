package service

import (
	"context"
	"strings"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/pkg/errors"
)

type transitionOptions struct {
	expected *models.Stage
	note     string
	internal bool
}

// TransitionOption tunes a single transition call.
type TransitionOption func(*transitionOptions)

// WithExpectedStage rejects the call with StaleState when the task is no
// longer in the stage the caller last saw.
func WithExpectedStage(stage models.Stage) TransitionOption {
	return func(o *transitionOptions) {
		s := stage
		o.expected = &s
	}
}

// WithNote attaches a short note to the history entry.
func WithNote(note string) TransitionOption {
	return func(o *transitionOptions) {
		o.note = strings.TrimSpace(note)
	}
}

// Internal hides the QA feedback note from client viewers.
func Internal() TransitionOption {
	return func(o *transitionOptions) {
		o.internal = true
	}
}

func collect(opts []TransitionOption) transitionOptions {
	var o transitionOptions
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Transition moves a task to target on behalf of actor. The current stage is
// re-read inside the transaction; the stage change and its history entry are
// committed together.
func (s *FulfillmentService) Transition(ctx context.Context, taskID string, target models.Stage, actor models.Actor, opts ...TransitionOption) (models.Task, error) {
	o := collect(opts)
	return s.move(ctx, taskID, target, actor, o, func(t models.Task) (pipeline.Decision, error) {
		return s.machine.Decide(t, target, actor, o.note)
	})
}

// Start moves a pending task into development.
func (s *FulfillmentService) Start(ctx context.Context, taskID string, actor models.Actor, opts ...TransitionOption) (models.Task, error) {
	return s.Transition(ctx, taskID, models.InProgressStage, actor, opts...)
}

// SubmitForQA hands finished development work to QA.
func (s *FulfillmentService) SubmitForQA(ctx context.Context, taskID string, actor models.Actor, opts ...TransitionOption) (models.Task, error) {
	return s.Transition(ctx, taskID, models.ReadyForQAStage, actor, opts...)
}

// ClaimQA starts a QA round on a task waiting for review.
func (s *FulfillmentService) ClaimQA(ctx context.Context, taskID string, actor models.Actor, opts ...TransitionOption) (models.Task, error) {
	return s.Transition(ctx, taskID, models.InQAStage, actor, opts...)
}

// Complete marks delivered work as accepted.
func (s *FulfillmentService) Complete(ctx context.Context, taskID string, actor models.Actor, opts ...TransitionOption) (models.Task, error) {
	return s.Transition(ctx, taskID, models.CompletedStage, actor, opts...)
}

// Cancel stops a task for good. Only admins may cancel.
func (s *FulfillmentService) Cancel(ctx context.Context, taskID string, actor models.Actor, reason string) (models.Task, error) {
	return s.Transition(ctx, taskID, models.CancelledStage, actor, WithNote(reason))
}

// move runs one decided transition in its own transaction.
func (s *FulfillmentService) move(ctx context.Context, taskID string, target models.Stage, actor models.Actor, o transitionOptions, decide func(models.Task) (pipeline.Decision, error)) (models.Task, error) {
	var (
		read models.Task
		task models.Task
		d    pipeline.Decision
	)
	err := s.inTx(ctx, "transition task", func(st storage.Store, sequenced bool) ([]models.TaskEvent, error) {
		var err error
		read, err = s.load(ctx, st, taskID, target, o)
		if err != nil {
			return nil, err
		}
		d, err = decide(read)
		if err != nil {
			return nil, err
		}
		task, err = s.apply(ctx, st, sequenced, read, d)
		if err != nil {
			var pc *pipeline.PartialCommitError
			if errors.As(err, &pc) {
				return []models.TaskEvent{transitioned(d, actor)}, err
			}
			return nil, err
		}
		return []models.TaskEvent{transitioned(d, actor)}, nil
	})
	if err != nil {
		err = staleOnConflict(err, read, target)
		s.logFailure(taskID, target, actor, err)
		return models.Task{}, err
	}
	if d.Entry.Override {
		s.logger.Infof("Task %s delivered by admin override from %s (actor %s)", task.Code, d.From, actor.ID)
	} else {
		s.logger.Infof("Task %s moved %s -> %s by %s (%s)", task.Code, d.From, task.Stage, actor.ID, actor.Role)
	}
	return task, nil
}

// load reads the current task inside st and checks the caller's expected
// stage, if any.
func (s *FulfillmentService) load(ctx context.Context, st storage.Store, taskID string, target models.Stage, o transitionOptions) (models.Task, error) {
	current, err := st.GetTask(ctx, taskID)
	if err != nil {
		return models.Task{}, notFound(err, taskID)
	}
	if o.expected != nil && *o.expected != current.Stage {
		return models.Task{}, pipeline.StaleStateError(taskID, current.Stage, target,
			"task is no longer in "+string(*o.expected))
	}
	return current, nil
}

// apply saves a decided task and appends its history entry. In sequenced
// mode a failed history write leaves the stage change in place and is
// reported as a partial commit.
func (s *FulfillmentService) apply(ctx context.Context, st storage.Store, sequenced bool, read models.Task, d pipeline.Decision) (models.Task, error) {
	saved, err := st.SaveTask(ctx, d.Task)
	if err != nil {
		return models.Task{}, staleOnConflict(err, read, d.Task.Stage)
	}
	if err := st.AppendHistory(ctx, d.Entry); err != nil {
		if sequenced {
			s.logger.Errorf("Task %s saved in %s without history entry: %v", saved.ID, saved.Stage, err)
			return saved, &pipeline.PartialCommitError{Task: saved, Entry: d.Entry, Err: err}
		}
		return models.Task{}, errors.Wrapf(err, "transition task %s: append history", read.ID)
	}
	return saved, nil
}

func (s *FulfillmentService) logFailure(taskID string, target models.Stage, actor models.Actor, err error) {
	switch {
	case errors.Is(err, pipeline.ErrPartialCommit):
		// Logged where it happened.
	case errors.Is(err, pipeline.ErrIllegalTransition),
		errors.Is(err, pipeline.ErrAlreadyTerminal),
		errors.Is(err, pipeline.ErrStaleState),
		errors.Is(err, pipeline.ErrTaskNotFound),
		errors.Is(err, pipeline.ErrValidation):
		s.logger.Infof("Rejected move of task %s to %s by %s (%s): %v", taskID, target, actor.ID, actor.Role, err)
	default:
		s.logger.Errorf("Failed to move task %s to %s: %v", taskID, target, err)
	}
}

func transitioned(d pipeline.Decision, actor models.Actor) models.TaskEvent {
	return models.TaskEvent{
		Type:     models.TaskTransitionedEvent,
		TaskID:   d.Task.ID,
		ClientID: d.Task.ClientID,
		From:     d.From,
		To:       d.Task.Stage,
		Actor:    actor,
		At:       d.Entry.CreatedAt,
	}
}
