package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/ignatij/taskflow/pkg/service"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type logger struct{}

func (l logger) Infof(format string, args ...interface{}) {
	// no-op
}

func (l logger) Errorf(format string, args ...interface{}) {
	// no-op
}

var (
	admin     = models.Actor{ID: "admin-1", Role: models.AdminRole}
	manager   = models.Actor{ID: "manager-1", Role: models.ManagerRole}
	developer = models.Actor{ID: "dev-1", Role: models.DeveloperRole}
	reviewer  = models.Actor{ID: "qa-1", Role: models.QARole}
	client    = models.Actor{ID: "client-1", Role: models.ClientRole}
)

// recorder collects published events.
type recorder struct {
	mu     sync.Mutex
	events []models.TaskEvent
}

func (r *recorder) Publish(_ context.Context, e models.TaskEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) Events() []models.TaskEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.TaskEvent(nil), r.events...)
}

// ticker returns a clock that advances one second per reading.
func ticker() func() time.Time {
	var mu sync.Mutex
	now := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(time.Second)
		return now
	}
}

func newMachine() *pipeline.Machine {
	m := pipeline.NewMachine()
	m.Now = ticker()
	return m
}

// seed inserts a task directly in stage, as an external intake would.
func seed(t *testing.T, store storage.Store, id string, stage models.Stage) models.Task {
	t.Helper()
	task, err := store.InsertTask(context.Background(), models.Task{
		ID:        id,
		Title:     "Landing page for " + id,
		Priority:  models.NormalPriority,
		Stage:     stage,
		ClientID:  client.ID,
		CreatedAt: time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	return task
}

func TestFulfillmentInMemory_Pipeline(t *testing.T) {
	ctx := context.Background()

	newService := func(opts ...service.Option) (*service.FulfillmentService, storage.Store) {
		store := storage.NewMemoryStore()
		opts = append([]service.Option{service.WithMachine(newMachine())}, opts...)
		return service.NewFulfillmentService(store, logger{}, opts...), store
	}

	t.Run("ManagerStartsPendingTask", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.PendingStage)

		task, err := svc.Transition(ctx, "t1", models.InProgressStage, manager)
		require.NoError(t, err)
		assert.Equal(t, models.InProgressStage, task.Stage)
		assert.NotNil(t, task.StartedAt)

		got, err := svc.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, models.InProgressStage, got.Stage)

		history, err := svc.History(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, models.PendingStage, *history[0].FromStage)
		assert.Equal(t, models.InProgressStage, history[0].ToStage)
		assert.Equal(t, manager.ID, history[0].ActorID)
	})

	t.Run("FailQASendsBackForRevision", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InQAStage)

		task, err := svc.FailQA(ctx, "t1", "button misaligned", []string{"img1.png"}, reviewer)
		require.NoError(t, err)
		assert.Equal(t, models.InProgressStage, task.Stage)
		assert.Equal(t, 1, task.RevisionCount)
		assert.NotNil(t, task.QACompletedAt)
		require.NotNil(t, task.StartedAt)
		assert.True(t, task.StartedAt.After(*task.QACompletedAt))

		history, err := svc.History(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Equal(t, models.QAFailedStage, history[0].ToStage)
		assert.Equal(t, models.QAFailedStage, *history[1].FromStage)
		assert.Equal(t, models.InProgressStage, history[1].ToStage)

		notes, err := svc.Notes(ctx, "t1", client)
		require.NoError(t, err)
		require.Len(t, notes, 1)
		assert.Contains(t, notes[0].Body, "button misaligned")
		assert.Equal(t, models.QAFailureNote, notes[0].Kind)
		assert.False(t, notes[0].Internal)
		require.Len(t, notes[0].Attachments, 1)
		assert.Equal(t, "img1.png", notes[0].Attachments[0].URL)
		assert.Equal(t, 0, notes[0].Attachments[0].Position)
		assert.Equal(t, notes[0].ID, *notes[0].Attachments[0].NoteID)
	})

	t.Run("FailQAInternalFeedbackHiddenFromClient", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InQAStage)

		_, err := svc.FailQA(ctx, "t1", "contrast too low", nil, reviewer, service.Internal())
		require.NoError(t, err)

		clientNotes, err := svc.Notes(ctx, "t1", client)
		require.NoError(t, err)
		assert.Empty(t, clientNotes)

		staffNotes, err := svc.Notes(ctx, "t1", manager)
		require.NoError(t, err)
		assert.Len(t, staffNotes, 1)
	})

	t.Run("FailQARequiresFeedback", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InQAStage)

		_, err := svc.FailQA(ctx, "t1", "   ", []string{"img1.png"}, reviewer)
		assert.True(t, errors.Is(err, pipeline.ErrValidation))

		_, err = svc.FailQA(ctx, "t1", "broken", []string{""}, reviewer)
		assert.True(t, errors.Is(err, pipeline.ErrValidation))

		got, err := svc.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, models.InQAStage, got.Stage)
		assert.Equal(t, 0, got.RevisionCount)
	})

	t.Run("FailQAOnlyFromInQA", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.ReadyForQAStage)

		_, err := svc.FailQA(ctx, "t1", "not claimed yet", nil, reviewer)
		assert.True(t, errors.Is(err, pipeline.ErrIllegalTransition))

		notes, err := svc.Notes(ctx, "t1", manager)
		require.NoError(t, err)
		assert.Empty(t, notes)
	})

	t.Run("RevisionLoopCountsEveryFailure", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InQAStage)

		first, err := svc.FailQA(ctx, "t1", "round one", nil, reviewer)
		require.NoError(t, err)
		_, err = svc.SubmitForQA(ctx, "t1", developer)
		require.NoError(t, err)
		_, err = svc.ClaimQA(ctx, "t1", reviewer)
		require.NoError(t, err)
		second, err := svc.FailQA(ctx, "t1", "round two", nil, reviewer)
		require.NoError(t, err)

		assert.Equal(t, 2, second.RevisionCount)
		assert.True(t, second.StartedAt.After(*first.StartedAt), "started_at restarts on revision")

		history, err := svc.History(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, history, 6)
	})

	t.Run("PendingToDeliveredIsIllegal", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.PendingStage)

		_, err := svc.Transition(ctx, "t1", models.DeliveredStage, manager)
		require.Error(t, err)
		assert.True(t, errors.Is(err, pipeline.ErrIllegalTransition))

		var te *pipeline.TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, models.PendingStage, te.Current)
		assert.Equal(t, models.DeliveredStage, te.Attempted)
		assert.NotEmpty(t, te.Reason)

		got, err := svc.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, models.PendingStage, got.Stage)
		history, err := svc.History(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("RoleNotAllowedForEdge", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.ReadyForQAStage)

		_, err := svc.ClaimQA(ctx, "t1", developer)
		assert.True(t, errors.Is(err, pipeline.ErrIllegalTransition))

		_, err = svc.ClaimQA(ctx, "t1", reviewer)
		assert.NoError(t, err)
	})

	t.Run("DeliverFromQAPassedBackfills", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.QAPassedStage)

		task, err := svc.Deliver(ctx, "t1", admin)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveredStage, task.Stage)
		require.NotNil(t, task.DeliveredAt)
		require.NotNil(t, task.QAStartedAt)
		require.NotNil(t, task.QACompletedAt)
		assert.Equal(t, *task.DeliveredAt, *task.QAStartedAt)
		assert.Equal(t, *task.DeliveredAt, *task.QACompletedAt)

		history, err := svc.History(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.False(t, history[0].Override)
	})

	t.Run("QuickDeliverIsAdminOverride", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InProgressStage)

		_, err := svc.Deliver(ctx, "t1", manager)
		assert.True(t, errors.Is(err, pipeline.ErrIllegalTransition))

		task, err := svc.Deliver(ctx, "t1", admin)
		require.NoError(t, err)
		assert.Equal(t, models.DeliveredStage, task.Stage)
		assert.Equal(t, *task.DeliveredAt, *task.StartedAt)

		history, err := svc.History(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.True(t, history[0].Override)
		assert.Contains(t, history[0].Note, "admin override: quick deliver from in_progress")
	})

	t.Run("CompleteAndAlreadyTerminal", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.DeliveredStage)

		task, err := svc.Complete(ctx, "t1", client)
		require.NoError(t, err)
		assert.NotNil(t, task.CompletedAt)

		_, err = svc.Cancel(ctx, "t1", admin, "too late")
		assert.True(t, errors.Is(err, pipeline.ErrAlreadyTerminal))
	})

	t.Run("OnlyAdminCancels", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.QAFailedStage)

		_, err := svc.Cancel(ctx, "t1", manager, "client left")
		assert.True(t, errors.Is(err, pipeline.ErrIllegalTransition))

		task, err := svc.Cancel(ctx, "t1", admin, "client left")
		require.NoError(t, err)
		assert.Equal(t, models.CancelledStage, task.Stage)
		assert.NotNil(t, task.CancelledAt)

		history, err := svc.History(ctx, "t1")
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Equal(t, "client left", history[0].Note)
	})

	t.Run("UnknownTask", func(t *testing.T) {
		svc, _ := newService()

		_, err := svc.Transition(ctx, "missing", models.InProgressStage, admin)
		assert.True(t, errors.Is(err, pipeline.ErrTaskNotFound))
		_, err = svc.GetTask(ctx, "missing")
		assert.True(t, errors.Is(err, pipeline.ErrTaskNotFound))
		_, err = svc.AddNote(ctx, "missing", manager, "hello", false)
		assert.True(t, errors.Is(err, pipeline.ErrTaskNotFound))
		_, err = svc.History(ctx, "missing")
		assert.True(t, errors.Is(err, pipeline.ErrTaskNotFound))
	})

	t.Run("ExpectedStageMismatchIsStale", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InQAStage)

		_, err := svc.PassQA(ctx, "t1", reviewer)
		require.NoError(t, err)

		_, err = svc.FailQA(ctx, "t1", "looks off", nil, manager, service.WithExpectedStage(models.InQAStage))
		assert.True(t, errors.Is(err, pipeline.ErrStaleState))

		var te *pipeline.TransitionError
		require.True(t, errors.As(err, &te))
		assert.Equal(t, models.QAPassedStage, te.Current)
	})

	t.Run("ConcurrentMoveIsStale", func(t *testing.T) {
		base := storage.NewMemoryStore()
		seed(t, base, "t1", models.InQAStage)
		svc := service.NewFulfillmentService(&racingStore{Store: base}, logger{})

		_, err := svc.PassQA(ctx, "t1", reviewer)
		require.Error(t, err)
		assert.True(t, errors.Is(err, pipeline.ErrStaleState))

		got, err := base.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, models.QAFailedStage, got.Stage, "the other actor's write is kept")
		history, err := base.ListHistory(ctx, "t1")
		require.NoError(t, err)
		assert.Empty(t, history)
	})

	t.Run("ConcurrentReviewersOneWins", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InQAStage)

		var wg sync.WaitGroup
		errs := make([]error, 8)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, errs[i] = svc.PassQA(ctx, "t1", reviewer)
			}(i)
		}
		wg.Wait()

		succeeded := 0
		for _, err := range errs {
			if err == nil {
				succeeded++
				continue
			}
			assert.True(t, errors.Is(err, pipeline.ErrStaleState) || errors.Is(err, pipeline.ErrIllegalTransition), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, succeeded)
		history, err := svc.History(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, history, 1)
	})

	t.Run("SequencedWritesReportPartialCommit", func(t *testing.T) {
		base := storage.NewMemoryStore()
		seed(t, base, "t1", models.PendingStage)
		events := &recorder{}
		store := &sequencedStore{Store: base, failHistory: true}
		svc := service.NewFulfillmentService(store, logger{}, service.WithPublisher(events))

		_, err := svc.Start(ctx, "t1", developer)
		require.Error(t, err)
		assert.True(t, errors.Is(err, pipeline.ErrPartialCommit))
		assert.False(t, errors.Is(err, pipeline.ErrStaleState))

		var pc *pipeline.PartialCommitError
		require.True(t, errors.As(err, &pc))
		assert.Equal(t, models.InProgressStage, pc.Task.Stage)
		assert.Equal(t, models.InProgressStage, pc.Entry.ToStage)

		got, err := base.GetTask(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, models.InProgressStage, got.Stage)
		assert.Len(t, events.Events(), 1, "visible change is still announced")
	})

	t.Run("SequencedWritesSucceed", func(t *testing.T) {
		base := storage.NewMemoryStore()
		seed(t, base, "t1", models.InQAStage)
		svc := service.NewFulfillmentService(&sequencedStore{Store: base}, logger{})

		task, err := svc.FailQA(ctx, "t1", "typo in footer", nil, reviewer)
		require.NoError(t, err)
		assert.Equal(t, models.InProgressStage, task.Stage)

		history, err := base.ListHistory(ctx, "t1")
		require.NoError(t, err)
		assert.Len(t, history, 2)
	})

	t.Run("AddNoteRules", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InProgressStage)

		_, err := svc.AddNote(ctx, "t1", manager, "  ", false)
		assert.True(t, errors.Is(err, pipeline.ErrValidation))
		_, err = svc.AddNote(ctx, "t1", client, "secret", true)
		assert.True(t, errors.Is(err, pipeline.ErrValidation))

		public, err := svc.AddNote(ctx, "t1", client, "Please use our logo", false)
		require.NoError(t, err)
		assert.Equal(t, models.CommentNote, public.Kind)
		_, err = svc.AddNote(ctx, "t1", developer, "logo file is low-res", true)
		require.NoError(t, err)

		clientNotes, err := svc.Notes(ctx, "t1", client)
		require.NoError(t, err)
		require.Len(t, clientNotes, 1)
		assert.Equal(t, public.ID, clientNotes[0].ID)

		staffNotes, err := svc.Notes(ctx, "t1", reviewer)
		require.NoError(t, err)
		assert.Len(t, staffNotes, 2)
	})

	t.Run("ActivityIsTimeOrdered", func(t *testing.T) {
		svc, _ := newService()
		task, err := svc.CreateTask(ctx, service.NewTask{Title: "SEO audit", ClientID: client.ID}, manager)
		require.NoError(t, err)
		_, err = svc.Start(ctx, task.ID, developer)
		require.NoError(t, err)
		_, err = svc.AddNote(ctx, task.ID, developer, "crawling site", false)
		require.NoError(t, err)
		_, err = svc.AddNote(ctx, task.ID, developer, "staging creds expired", true)
		require.NoError(t, err)
		_, err = svc.SubmitForQA(ctx, task.ID, developer)
		require.NoError(t, err)

		items, err := svc.Activity(ctx, task.ID, client)
		require.NoError(t, err)
		require.Len(t, items, 4)
		kinds := []service.ActivityKind{}
		for i, item := range items {
			kinds = append(kinds, item.Kind)
			if i > 0 {
				assert.False(t, item.At.Before(items[i-1].At))
			}
		}
		assert.Equal(t, []service.ActivityKind{
			service.HistoryActivity, service.HistoryActivity, service.NoteActivity, service.HistoryActivity,
		}, kinds)
	})

	t.Run("CreateTask", func(t *testing.T) {
		svc, _ := newService()

		_, err := svc.CreateTask(ctx, service.NewTask{Title: "", ClientID: client.ID}, manager)
		assert.True(t, errors.Is(err, pipeline.ErrValidation))
		_, err = svc.CreateTask(ctx, service.NewTask{Title: "Logo", ClientID: client.ID, Priority: "asap"}, manager)
		assert.True(t, errors.Is(err, pipeline.ErrValidation))
		_, err = svc.CreateTask(ctx, service.NewTask{Title: "Logo", ClientID: "client-2"}, client)
		assert.True(t, errors.Is(err, pipeline.ErrForbidden))

		task, err := svc.CreateTask(ctx, service.NewTask{Title: "  Logo refresh  "}, client)
		require.NoError(t, err)
		assert.Equal(t, "Logo refresh", task.Title)
		assert.Equal(t, client.ID, task.ClientID)
		assert.Equal(t, models.PendingStage, task.Stage)
		assert.Equal(t, models.NormalPriority, task.Priority)
		assert.Equal(t, "TSK-0001", task.Code)

		history, err := svc.History(ctx, task.ID)
		require.NoError(t, err)
		require.Len(t, history, 1)
		assert.Nil(t, history[0].FromStage)
		assert.Equal(t, models.PendingStage, history[0].ToStage)
	})

	t.Run("AssignAndScopeMine", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.PendingStage)
		seed(t, store, "t2", models.PendingStage)

		dev := developer.ID
		_, err := svc.Assign(ctx, "t1", &dev, nil, developer)
		assert.True(t, errors.Is(err, pipeline.ErrForbidden))

		task, err := svc.Assign(ctx, "t1", &dev, nil, manager)
		require.NoError(t, err)
		require.NotNil(t, task.DeveloperID)
		assert.Equal(t, dev, *task.DeveloperID)
		assert.Nil(t, task.ReviewerID)

		mine, err := svc.ListTasks(ctx, pipeline.FilterSpec{Scope: pipeline.ScopeMine}, developer)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Equal(t, "t1", mine[0].ID)

		empty := ""
		task, err = svc.Assign(ctx, "t1", &empty, nil, admin)
		require.NoError(t, err)
		assert.Nil(t, task.DeveloperID)
	})

	t.Run("ClientsOnlySeeOwnTasks", func(t *testing.T) {
		svc, _ := newService()
		_, err := svc.CreateTask(ctx, service.NewTask{Title: "Ours", ClientID: client.ID}, manager)
		require.NoError(t, err)
		_, err = svc.CreateTask(ctx, service.NewTask{Title: "Theirs", ClientID: "client-2"}, manager)
		require.NoError(t, err)

		tasks, err := svc.ListTasks(ctx, pipeline.FilterSpec{ClientID: "client-2"}, client)
		require.NoError(t, err)
		require.Len(t, tasks, 1)
		assert.Equal(t, "Ours", tasks[0].Title)
	})

	t.Run("DeleteTaskIsAdminOnly", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InProgressStage)

		err := svc.DeleteTask(ctx, "t1", manager)
		assert.True(t, errors.Is(err, pipeline.ErrForbidden))

		require.NoError(t, svc.DeleteTask(ctx, "t1", admin))
		_, err = svc.GetTask(ctx, "t1")
		assert.True(t, errors.Is(err, pipeline.ErrTaskNotFound))
		err = svc.DeleteTask(ctx, "t1", admin)
		assert.True(t, errors.Is(err, pipeline.ErrTaskNotFound))
	})

	t.Run("EventsOnlyAfterCommit", func(t *testing.T) {
		events := &recorder{}
		svc, store := newService(service.WithPublisher(events))
		seed(t, store, "t1", models.InQAStage)

		_, err := svc.Transition(ctx, "t1", models.DeliveredStage, manager)
		require.Error(t, err)
		assert.Empty(t, events.Events())

		_, err = svc.FailQA(ctx, "t1", "wrong font", nil, reviewer)
		require.NoError(t, err)
		got := events.Events()
		require.Len(t, got, 3)
		assert.Equal(t, models.TaskTransitionedEvent, got[0].Type)
		assert.Equal(t, models.QAFailedStage, got[0].To)
		assert.Equal(t, models.NoteAddedEvent, got[1].Type)
		assert.Equal(t, models.InProgressStage, got[2].To)
		assert.Equal(t, client.ID, got[2].ClientID)
	})

	t.Run("BoardCountsRevisionsInProgress", func(t *testing.T) {
		svc, store := newService()
		seed(t, store, "t1", models.InQAStage)
		seed(t, store, "t2", models.PendingStage)

		_, err := svc.FailQA(ctx, "t1", "broken layout on mobile", nil, reviewer)
		require.NoError(t, err)

		board, err := svc.Board(ctx, pipeline.FilterSpec{}, pipeline.ViewSimplified, manager)
		require.NoError(t, err)
		assert.Equal(t, 1, board.Stats.InRevision)
		assert.Equal(t, 0, board.Stats.Failed)
		assert.Equal(t, 1, board.Stats.Revisions)
		assert.Equal(t, 1, board.Stats.Waiting)
	})

	t.Run("Boards", func(t *testing.T) {
		svc, _ := newService()
		for _, c := range []string{"client-1", "client-1", "client-2"} {
			_, err := svc.CreateTask(ctx, service.NewTask{Title: "Work for " + c, ClientID: c}, manager)
			require.NoError(t, err)
		}

		board, err := svc.Board(ctx, pipeline.FilterSpec{}, pipeline.ViewSimplified, manager)
		require.NoError(t, err)
		assert.Equal(t, 3, board.Stats.Total)
		assert.Equal(t, 3, board.Stats.Waiting)

		boards, err := svc.Boards(ctx, []string{"client-1", "client-2", "client-3"}, pipeline.ViewDetailed, admin)
		require.NoError(t, err)
		assert.Equal(t, 2, boards["client-1"].Stats.Total)
		assert.Equal(t, 1, boards["client-2"].Stats.Total)
		assert.Equal(t, 0, boards["client-3"].Stats.Total)

		_, err = svc.Boards(ctx, []string{"client-2"}, pipeline.ViewSimplified, client)
		assert.True(t, errors.Is(err, pipeline.ErrForbidden))
	})
}

// racingStore lets another actor move the task between the service's read
// and its write.
type racingStore struct {
	storage.Store
}

func (r *racingStore) Begin(ctx context.Context) (storage.Store, error) {
	tx, err := r.Store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &racingTx{Store: tx, base: r.Store}, nil
}

type racingTx struct {
	storage.Store
	base  storage.Store
	raced bool
}

func (r *racingTx) GetTask(ctx context.Context, id string) (models.Task, error) {
	t, err := r.Store.GetTask(ctx, id)
	if err != nil || r.raced {
		return t, err
	}
	r.raced = true
	moved := t.Clone()
	moved.Stage = models.QAFailedStage
	if _, err := r.base.SaveTask(ctx, moved); err != nil {
		return models.Task{}, err
	}
	return t, nil
}

// sequencedStore cannot open transactions and can be told to lose history
// writes.
type sequencedStore struct {
	storage.Store
	failHistory bool
}

func (s *sequencedStore) Begin(context.Context) (storage.Store, error) {
	return nil, storage.ErrTxUnsupported
}

func (s *sequencedStore) AppendHistory(ctx context.Context, e models.StatusHistoryEntry) error {
	if s.failHistory {
		return errors.New("history table unavailable")
	}
	return s.Store.AppendHistory(ctx, e)
}
