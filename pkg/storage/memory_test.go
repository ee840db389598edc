package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTask(id, clientID string, created time.Time) models.Task {
	return models.Task{
		ID:        id,
		Title:     "Task " + id,
		Stage:     models.PendingStage,
		Priority:  models.NormalPriority,
		ClientID:  clientID,
		CreatedAt: created,
	}
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	t.Run("InsertAssignsCodeAndVersion", func(t *testing.T) {
		store := storage.NewMemoryStore()
		first, err := store.InsertTask(ctx, newTask("a", "c1", base))
		require.NoError(t, err)
		second, err := store.InsertTask(ctx, newTask("b", "c1", base))
		require.NoError(t, err)

		assert.Equal(t, "TSK-0001", first.Code)
		assert.Equal(t, "TSK-0002", second.Code)
		assert.Equal(t, int64(1), first.Version)

		_, err = store.InsertTask(ctx, newTask("a", "c1", base))
		assert.True(t, errors.Is(err, storage.ErrConflict))
	})

	t.Run("SaveChecksVersion", func(t *testing.T) {
		store := storage.NewMemoryStore()
		task, err := store.InsertTask(ctx, newTask("a", "c1", base))
		require.NoError(t, err)

		task.Stage = models.InProgressStage
		saved, err := store.SaveTask(ctx, task)
		require.NoError(t, err)
		assert.Equal(t, int64(2), saved.Version)

		_, err = store.SaveTask(ctx, task)
		assert.True(t, errors.Is(err, storage.ErrConflict))

		_, err = store.SaveTask(ctx, newTask("missing", "c1", base))
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("ReturnedTasksAreCopies", func(t *testing.T) {
		store := storage.NewMemoryStore()
		dev := "dev-1"
		task := newTask("a", "c1", base)
		task.DeveloperID = &dev
		_, err := store.InsertTask(ctx, task)
		require.NoError(t, err)

		got, err := store.GetTask(ctx, "a")
		require.NoError(t, err)
		*got.DeveloperID = "someone-else"

		again, err := store.GetTask(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, "dev-1", *again.DeveloperID)
	})

	t.Run("TransactionIsolationAndCommit", func(t *testing.T) {
		store := storage.NewMemoryStore()
		task, err := store.InsertTask(ctx, newTask("a", "c1", base))
		require.NoError(t, err)

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		task.Stage = models.InProgressStage
		_, err = tx.SaveTask(ctx, task)
		require.NoError(t, err)
		require.NoError(t, tx.AppendHistory(ctx, models.StatusHistoryEntry{ID: "h1", TaskID: "a", ToStage: models.InProgressStage}))

		inTx, err := tx.GetTask(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, models.InProgressStage, inTx.Stage)
		outside, err := store.GetTask(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, models.PendingStage, outside.Stage)
		history, err := store.ListHistory(ctx, "a")
		require.NoError(t, err)
		assert.Empty(t, history)

		require.NoError(t, tx.Commit())
		outside, err = store.GetTask(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, models.InProgressStage, outside.Stage)
		history, err = store.ListHistory(ctx, "a")
		require.NoError(t, err)
		assert.Len(t, history, 1)

		_, err = tx.GetTask(ctx, "a")
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "transaction already committed")
		assert.Error(t, tx.Commit())
	})

	t.Run("CommitDetectsConcurrentWrite", func(t *testing.T) {
		store := storage.NewMemoryStore()
		task, err := store.InsertTask(ctx, newTask("a", "c1", base))
		require.NoError(t, err)

		tx1, err := store.Begin(ctx)
		require.NoError(t, err)
		tx2, err := store.Begin(ctx)
		require.NoError(t, err)

		_, err = tx1.SaveTask(ctx, task)
		require.NoError(t, err)
		_, err = tx2.SaveTask(ctx, task)
		require.NoError(t, err)

		require.NoError(t, tx1.Commit())
		err = tx2.Commit()
		assert.True(t, errors.Is(err, storage.ErrConflict))

		got, err := store.GetTask(ctx, "a")
		require.NoError(t, err)
		assert.Equal(t, int64(2), got.Version)
	})

	t.Run("Rollback", func(t *testing.T) {
		store := storage.NewMemoryStore()
		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		_, err = tx.InsertTask(ctx, newTask("a", "c1", base))
		require.NoError(t, err)
		require.NoError(t, tx.Rollback())

		_, err = store.GetTask(ctx, "a")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		assert.EqualError(t, store.Rollback(), "cannot rollback: not a transaction")
		assert.EqualError(t, store.Commit(), "cannot commit: not a transaction")
	})

	t.Run("DeleteRemovesTrail", func(t *testing.T) {
		store := storage.NewMemoryStore()
		_, err := store.InsertTask(ctx, newTask("a", "c1", base))
		require.NoError(t, err)
		require.NoError(t, store.AppendNote(ctx, models.Note{ID: "n1", TaskID: "a", Body: "hi"}))

		tx, err := store.Begin(ctx)
		require.NoError(t, err)
		require.NoError(t, tx.DeleteTask(ctx, "a"))
		require.NoError(t, tx.Commit())

		_, err = store.ListNotes(ctx, "a")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
		assert.True(t, errors.Is(store.DeleteTask(ctx, "a"), storage.ErrNotFound))
	})

	t.Run("ListTasksFilterAndOrder", func(t *testing.T) {
		store := storage.NewMemoryStore()
		dev := "dev-1"
		older := newTask("old", "c1", base)
		older.DeveloperID = &dev
		_, err := store.InsertTask(ctx, older)
		require.NoError(t, err)
		_, err = store.InsertTask(ctx, newTask("new", "c1", base.Add(time.Hour)))
		require.NoError(t, err)
		_, err = store.InsertTask(ctx, newTask("other", "c2", base.Add(2*time.Hour)))
		require.NoError(t, err)

		all, err := store.ListTasks(ctx, storage.TaskFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		assert.Equal(t, []string{"other", "new", "old"}, []string{all[0].ID, all[1].ID, all[2].ID})

		c1, err := store.ListTasks(ctx, storage.TaskFilter{ClientID: "c1", Limit: 1})
		require.NoError(t, err)
		require.Len(t, c1, 1)
		assert.Equal(t, "new", c1[0].ID)

		mine, err := store.ListTasks(ctx, storage.TaskFilter{ActorID: "dev-1"})
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "old", mine[0].ID)

		none, err := store.ListTasks(ctx, storage.TaskFilter{Stages: []models.Stage{models.DeliveredStage}})
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("NotesKeepAttachments", func(t *testing.T) {
		store := storage.NewMemoryStore()
		_, err := store.InsertTask(ctx, newTask("a", "c1", base))
		require.NoError(t, err)
		noteID := "n1"
		require.NoError(t, store.AppendNote(ctx, models.Note{
			ID: noteID, TaskID: "a", Body: "see screenshot",
			Attachments: []models.Attachment{{ID: "att1", TaskID: "a", NoteID: &noteID, URL: "img1.png"}},
		}))

		notes, err := store.ListNotes(ctx, "a")
		require.NoError(t, err)
		require.Len(t, notes, 1)
		require.Len(t, notes[0].Attachments, 1)
		assert.Equal(t, "img1.png", notes[0].Attachments[0].URL)

		err = store.AppendNote(ctx, models.Note{ID: "n2", TaskID: "missing"})
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("CancelledContext", func(t *testing.T) {
		store := storage.NewMemoryStore()
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		_, err := store.GetTask(cctx, "a")
		assert.True(t, errors.Is(err, context.Canceled))
		_, err = store.Begin(cctx)
		assert.True(t, errors.Is(err, context.Canceled))
	})
}
