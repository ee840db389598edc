// Package eventbus fans committed task changes out to in-process handlers
// such as the board cache.
package eventbus

import (
	"context"
	"sort"
	"sync"

	"github.com/ignatij/taskflow/internal/log"
	"github.com/ignatij/taskflow/pkg/models"
	"github.com/sirupsen/logrus"
)

// Handler processes task events. Handlers run in priority order (lower
// first) for the event types they handle; an empty Handles list means all.
type Handler interface {
	ID() string
	Handles() []models.EventType
	Priority() int
	// Handle errors are logged and do not stop the chain.
	Handle(ctx context.Context, event models.TaskEvent) error
}

type funcHandler struct {
	id       string
	priority int
	types    []models.EventType
	fn       func(context.Context, models.TaskEvent) error
}

func (h *funcHandler) ID() string                  { return h.id }
func (h *funcHandler) Handles() []models.EventType { return h.types }
func (h *funcHandler) Priority() int               { return h.priority }

func (h *funcHandler) Handle(ctx context.Context, event models.TaskEvent) error {
	return h.fn(ctx, event)
}

// HandlerFunc adapts fn to a Handler.
func HandlerFunc(id string, priority int, fn func(context.Context, models.TaskEvent) error, types ...models.EventType) Handler {
	return &funcHandler{id: id, priority: priority, types: types, fn: fn}
}

// Bus dispatches events synchronously to registered handlers.
type Bus struct {
	handlers []Handler
	mu       sync.RWMutex
	logger   *logrus.Logger
}

func New() *Bus {
	return &Bus{logger: log.GetLogger()}
}

// Register adds a handler and returns a function that removes it again.
func (b *Bus) Register(h Handler) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, h)
	return func() { b.unregister(h.ID()) }
}

func (b *Bus) unregister(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	kept := b.handlers[:0]
	for _, h := range b.handlers {
		if h.ID() != id {
			kept = append(kept, h)
		}
	}
	b.handlers = kept
}

// Publish implements service.Publisher. A failing or panicking handler is
// logged and skipped.
func (b *Bus) Publish(ctx context.Context, event models.TaskEvent) {
	b.mu.RLock()
	matching := b.matchingHandlers(event.Type)
	b.mu.RUnlock()

	for _, h := range matching {
		if ctx.Err() != nil {
			b.logger.WithField("event", event.Type).Warn("eventbus: context done, dropping remaining handlers")
			return
		}
		b.dispatch(ctx, h, event)
	}
}

func (b *Bus) dispatch(ctx context.Context, h Handler, event models.TaskEvent) {
	fields := logrus.Fields{"handler": h.ID(), "event": event.Type, "task_id": event.TaskID}
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(fields).Errorf("eventbus: handler panicked: %v", r)
		}
	}()
	if err := h.Handle(ctx, event); err != nil {
		b.logger.WithFields(fields).Errorf("eventbus: handler failed: %v", err)
	}
}

// Handlers returns the registered handlers.
func (b *Bus) Handlers() []Handler {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Handler, len(b.handlers))
	copy(out, b.handlers)
	return out
}

// matchingHandlers must be called with at least a read lock held.
func (b *Bus) matchingHandlers(eventType models.EventType) []Handler {
	var matched []Handler
	for _, h := range b.handlers {
		types := h.Handles()
		if len(types) == 0 {
			matched = append(matched, h)
			continue
		}
		for _, t := range types {
			if t == eventType {
				matched = append(matched, h)
				break
			}
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].Priority() < matched[j].Priority()
	})
	return matched
}
