package service

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/pkg/errors"
)

const requeueNote = "sent back for revision"

// FailQA sends a task in QA back for revision. It records the failure, a
// feedback note carrying the evidence URLs, and the re-queue to development
// as one unit; the history shows both stage changes.
func (s *FulfillmentService) FailQA(ctx context.Context, taskID, feedback string, evidence []string, actor models.Actor, opts ...TransitionOption) (models.Task, error) {
	o := collect(opts)
	feedback = strings.TrimSpace(feedback)
	if feedback == "" {
		return models.Task{}, pipeline.ValidationError("qa feedback cannot be empty")
	}
	urls := make([]string, 0, len(evidence))
	for i, u := range evidence {
		u = strings.TrimSpace(u)
		if u == "" {
			return models.Task{}, pipeline.ValidationError("evidence url %d is empty", i)
		}
		urls = append(urls, u)
	}

	var (
		read models.Task
		task models.Task
		fail pipeline.Decision
		note models.Note
	)
	err := s.inTx(ctx, "fail qa", func(st storage.Store, sequenced bool) ([]models.TaskEvent, error) {
		var err error
		read, err = s.load(ctx, st, taskID, models.QAFailedStage, o)
		if err != nil {
			return nil, err
		}
		fail, err = s.machine.Decide(read, models.QAFailedStage, actor, o.note)
		if err != nil {
			return nil, err
		}
		failed, err := s.apply(ctx, st, sequenced, read, fail)
		if err != nil {
			if errors.Is(err, pipeline.ErrPartialCommit) {
				return []models.TaskEvent{transitioned(fail, actor)}, err
			}
			return nil, err
		}
		events := []models.TaskEvent{transitioned(fail, actor)}

		// Past this point a sequenced store already holds the failed stage.
		partial := func(err error, entry models.StatusHistoryEntry) ([]models.TaskEvent, error) {
			if !sequenced {
				return nil, err
			}
			if errors.Is(err, pipeline.ErrPartialCommit) {
				return events, err
			}
			s.logger.Errorf("Task %s left in %s after failed revision step: %v", failed.ID, failed.Stage, err)
			return events, &pipeline.PartialCommitError{Task: failed, Entry: entry, Err: err}
		}

		note = qaFailureNote(failed, actor, feedback, urls, o.internal, fail.Entry.CreatedAt)
		if err := st.AppendNote(ctx, note); err != nil {
			return partial(errors.Wrapf(err, "fail qa %s: append note", taskID), fail.Entry)
		}
		events = append(events, models.TaskEvent{
			Type: models.NoteAddedEvent, TaskID: failed.ID, ClientID: failed.ClientID,
			To: failed.Stage, Actor: actor, At: note.CreatedAt,
		})

		requeue, err := s.machine.Decide(failed, models.InProgressStage, actor, requeueNote)
		if err != nil {
			return partial(err, fail.Entry)
		}
		task, err = s.apply(ctx, st, sequenced, failed, requeue)
		if err != nil {
			return partial(err, requeue.Entry)
		}
		return append(events, transitioned(requeue, actor)), nil
	})
	if err != nil {
		err = staleOnConflict(err, read, models.QAFailedStage)
		s.logFailure(taskID, models.QAFailedStage, actor, err)
		return models.Task{}, err
	}
	s.logger.Infof("Task %s failed QA by %s (revision %d, %d attachments)", task.Code, actor.ID, task.RevisionCount, len(note.Attachments))
	return task, nil
}

// PassQA approves a task in QA.
func (s *FulfillmentService) PassQA(ctx context.Context, taskID string, actor models.Actor, opts ...TransitionOption) (models.Task, error) {
	return s.Transition(ctx, taskID, models.QAPassedStage, actor, opts...)
}

// Deliver hands a task to its client. From qa_passed this is the normal
// edge; from any earlier stage an admin may quick-deliver, which backfills
// the skipped development and QA timestamps and is flagged in the history.
func (s *FulfillmentService) Deliver(ctx context.Context, taskID string, actor models.Actor, opts ...TransitionOption) (models.Task, error) {
	o := collect(opts)
	return s.move(ctx, taskID, models.DeliveredStage, actor, o, func(t models.Task) (pipeline.Decision, error) {
		return s.machine.DecideDelivery(t, actor, o.note)
	})
}

func qaFailureNote(t models.Task, actor models.Actor, feedback string, urls []string, internal bool, at time.Time) models.Note {
	n := models.Note{
		ID:         uuid.NewString(),
		TaskID:     t.ID,
		AuthorID:   actor.ID,
		AuthorRole: actor.Role,
		Body:       feedback,
		Internal:   internal,
		Kind:       models.QAFailureNote,
		CreatedAt:  at,
	}
	for i, u := range urls {
		noteID := n.ID
		n.Attachments = append(n.Attachments, models.Attachment{
			ID:       uuid.NewString(),
			TaskID:   t.ID,
			NoteID:   &noteID,
			URL:      u,
			Position: i,
		})
	}
	return n
}
