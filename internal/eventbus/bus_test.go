package eventbus

import (
	"context"
	"testing"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBus(t *testing.T) {
	ctx := context.Background()
	created := models.TaskEvent{Type: models.TaskCreatedEvent, TaskID: "t1"}
	moved := models.TaskEvent{Type: models.TaskTransitionedEvent, TaskID: "t1", From: models.PendingStage, To: models.InProgressStage}

	t.Run("PriorityOrderAndTypeFilter", func(t *testing.T) {
		bus := New()
		var calls []string
		record := func(id string) func(context.Context, models.TaskEvent) error {
			return func(_ context.Context, e models.TaskEvent) error {
				calls = append(calls, id+":"+string(e.Type))
				return nil
			}
		}
		bus.Register(HandlerFunc("late", 20, record("late")))
		bus.Register(HandlerFunc("early", 10, record("early")))
		bus.Register(HandlerFunc("moves", 15, record("moves"), models.TaskTransitionedEvent))

		bus.Publish(ctx, created)
		bus.Publish(ctx, moved)
		assert.Equal(t, []string{
			"early:task.created", "late:task.created",
			"early:task.transitioned", "moves:task.transitioned", "late:task.transitioned",
		}, calls)
	})

	t.Run("FailingHandlersDoNotStopChain", func(t *testing.T) {
		bus := New()
		reached := 0
		bus.Register(HandlerFunc("fails", 1, func(context.Context, models.TaskEvent) error {
			return errors.New("boom")
		}))
		bus.Register(HandlerFunc("panics", 2, func(context.Context, models.TaskEvent) error {
			panic("bad handler")
		}))
		bus.Register(HandlerFunc("ok", 3, func(context.Context, models.TaskEvent) error {
			reached++
			return nil
		}))

		assert.NotPanics(t, func() { bus.Publish(ctx, created) })
		assert.Equal(t, 1, reached)
	})

	t.Run("Unregister", func(t *testing.T) {
		bus := New()
		count := 0
		remove := bus.Register(HandlerFunc("counter", 0, func(context.Context, models.TaskEvent) error {
			count++
			return nil
		}))
		bus.Publish(ctx, created)
		remove()
		bus.Publish(ctx, created)
		assert.Equal(t, 1, count)
		assert.Empty(t, bus.Handlers())
	})

	t.Run("CancelledContextStopsDispatch", func(t *testing.T) {
		bus := New()
		called := false
		bus.Register(HandlerFunc("never", 0, func(context.Context, models.TaskEvent) error {
			called = true
			return nil
		}))
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		bus.Publish(cctx, created)
		require.False(t, called)
	})
}
