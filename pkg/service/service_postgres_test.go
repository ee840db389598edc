package service_test

import (
	"context"
	"testing"

	internal_storage "github.com/ignatij/taskflow/internal/storage"
	"github.com/ignatij/taskflow/internal/testutil"
	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/ignatij/taskflow/pkg/service"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFulfillmentPostgres_Pipeline(t *testing.T) {
	testDB := testutil.SetupTestDB(t)
	defer testDB.Teardown(t)
	ctx := context.Background()

	postgresStore := func(t *testing.T) storage.Store {
		testDB.Reset(t)
		store, err := internal_storage.NewPostgresStore(ctx, testDB.ConnStr)
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		return store
	}

	t.Run("FullLifecycle", func(t *testing.T) {
		svc := service.NewFulfillmentService(postgresStore(t), logger{})

		task, err := svc.CreateTask(ctx, service.NewTask{Title: "Landing page", ClientID: client.ID}, manager)
		require.NoError(t, err)
		_, err = svc.Start(ctx, task.ID, developer)
		require.NoError(t, err)
		_, err = svc.SubmitForQA(ctx, task.ID, developer)
		require.NoError(t, err)
		_, err = svc.ClaimQA(ctx, task.ID, reviewer)
		require.NoError(t, err)

		task, err = svc.FailQA(ctx, task.ID, "button misaligned", []string{"img1.png"}, reviewer)
		require.NoError(t, err)
		assert.Equal(t, models.InProgressStage, task.Stage)
		assert.Equal(t, 1, task.RevisionCount)

		_, err = svc.SubmitForQA(ctx, task.ID, developer)
		require.NoError(t, err)
		_, err = svc.ClaimQA(ctx, task.ID, reviewer)
		require.NoError(t, err)
		_, err = svc.PassQA(ctx, task.ID, reviewer)
		require.NoError(t, err)
		task, err = svc.Deliver(ctx, task.ID, admin)
		require.NoError(t, err)
		assert.NotNil(t, task.DeliveredAt)
		task, err = svc.Complete(ctx, task.ID, client)
		require.NoError(t, err)
		assert.Equal(t, models.CompletedStage, task.Stage)

		history, err := svc.History(ctx, task.ID)
		require.NoError(t, err)
		assert.Len(t, history, 11)
		assert.Equal(t, models.CompletedStage, history[len(history)-1].ToStage)

		notes, err := svc.Notes(ctx, task.ID, client)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		require.Len(t, notes[0].Attachments, 1)
		assert.Equal(t, "img1.png", notes[0].Attachments[0].URL)
	})

	t.Run("IllegalTransitionLeavesNoTrace", func(t *testing.T) {
		svc := service.NewFulfillmentService(postgresStore(t), logger{})
		task, err := svc.CreateTask(ctx, service.NewTask{Title: "Skip QA", ClientID: client.ID}, manager)
		require.NoError(t, err)

		_, err = svc.Transition(ctx, task.ID, models.DeliveredStage, manager)
		assert.True(t, errors.Is(err, pipeline.ErrIllegalTransition))

		got, err := svc.GetTask(ctx, task.ID)
		require.NoError(t, err)
		assert.Equal(t, models.PendingStage, got.Stage)
		history, err := svc.History(ctx, task.ID)
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("ConcurrentMoveIsStale", func(t *testing.T) {
		base := postgresStore(t)
		seed(t, base, "pg-race", models.InQAStage)
		svc := service.NewFulfillmentService(&racingStore{Store: base}, logger{})

		_, err := svc.PassQA(ctx, "pg-race", reviewer)
		assert.True(t, errors.Is(err, pipeline.ErrStaleState))
	})

	t.Run("DeleteTask", func(t *testing.T) {
		svc := service.NewFulfillmentService(postgresStore(t), logger{})
		task, err := svc.CreateTask(ctx, service.NewTask{Title: "Remove me", ClientID: client.ID}, manager)
		require.NoError(t, err)
		_, err = svc.AddNote(ctx, task.ID, manager, "temporary", true)
		require.NoError(t, err)

		require.NoError(t, svc.DeleteTask(ctx, task.ID, admin))
		_, err = svc.Notes(ctx, task.ID, admin)
		assert.True(t, errors.Is(err, pipeline.ErrTaskNotFound))
	})
}
