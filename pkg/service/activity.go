package service

import (
	"context"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/pkg/errors"
)

// AddNote appends a comment to a task's trail. Internal notes are hidden
// from clients, so clients cannot write them.
func (s *FulfillmentService) AddNote(ctx context.Context, taskID string, actor models.Actor, message string, internal bool) (models.Note, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.Note{}, pipeline.ValidationError("note message cannot be empty")
	}
	if internal && actor.Role == models.ClientRole {
		return models.Note{}, pipeline.ValidationError("clients cannot add internal notes")
	}

	note := models.Note{
		ID:         uuid.NewString(),
		TaskID:     taskID,
		AuthorID:   actor.ID,
		AuthorRole: actor.Role,
		Body:       message,
		Internal:   internal,
		Kind:       models.CommentNote,
		CreatedAt:  s.machine.Now(),
	}
	err := s.inTx(ctx, "add note", func(st storage.Store, _ bool) ([]models.TaskEvent, error) {
		task, err := st.GetTask(ctx, taskID)
		if err != nil {
			return nil, notFound(err, taskID)
		}
		if err := st.AppendNote(ctx, note); err != nil {
			return nil, errors.Wrapf(notFound(err, taskID), "add note to task %s", taskID)
		}
		return []models.TaskEvent{{
			Type: models.NoteAddedEvent, TaskID: task.ID, ClientID: task.ClientID,
			To: task.Stage, Actor: actor, At: note.CreatedAt,
		}}, nil
	})
	if err != nil {
		return models.Note{}, err
	}
	s.logger.Infof("Added note %s to task %s (internal=%t)", note.ID, taskID, internal)
	return note, nil
}

// Notes returns the notes of a task that viewer may read, oldest first.
func (s *FulfillmentService) Notes(ctx context.Context, taskID string, viewer models.Actor) ([]models.Note, error) {
	notes, err := s.store.ListNotes(ctx, taskID)
	if err != nil {
		return nil, notFound(err, taskID)
	}
	return pipeline.VisibleNotes(notes, viewer.Role), nil
}

// History returns every status change of a task, oldest first. History is
// visible to all roles.
func (s *FulfillmentService) History(ctx context.Context, taskID string) ([]models.StatusHistoryEntry, error) {
	entries, err := s.store.ListHistory(ctx, taskID)
	if err != nil {
		return nil, notFound(err, taskID)
	}
	return entries, nil
}

type ActivityKind string

const (
	NoteActivity    ActivityKind = "note"
	HistoryActivity ActivityKind = "history"
)

// ActivityItem is one line of a task's merged trail. Exactly one of Note and
// Entry is set.
type ActivityItem struct {
	Kind  ActivityKind               `json:"kind" yaml:"kind"`
	At    time.Time                  `json:"at" yaml:"at"`
	Note  *models.Note               `json:"note,omitempty" yaml:"note,omitempty"`
	Entry *models.StatusHistoryEntry `json:"entry,omitempty" yaml:"entry,omitempty"`
}

// Activity merges history and visible notes into one time-ordered trail.
// A status change sorts before a note written at the same instant.
func (s *FulfillmentService) Activity(ctx context.Context, taskID string, viewer models.Actor) ([]ActivityItem, error) {
	entries, err := s.History(ctx, taskID)
	if err != nil {
		return nil, err
	}
	notes, err := s.Notes(ctx, taskID, viewer)
	if err != nil {
		return nil, err
	}

	items := make([]ActivityItem, 0, len(entries)+len(notes))
	for i := range entries {
		items = append(items, ActivityItem{Kind: HistoryActivity, At: entries[i].CreatedAt, Entry: &entries[i]})
	}
	for i := range notes {
		items = append(items, ActivityItem{Kind: NoteActivity, At: notes[i].CreatedAt, Note: &notes[i]})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].At.Before(items[j].At)
	})
	return items, nil
}
