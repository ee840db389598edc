package http

import (
	"context"
	"fmt"
	"sync"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
)

// boardCache holds rendered boards until the next committed change.
type boardCache struct {
	mu     sync.Mutex
	gen    uint64
	boards map[string]pipeline.Board
}

func newBoardCache() *boardCache {
	return &boardCache{boards: make(map[string]pipeline.Board)}
}

func boardKey(viewer models.Actor, spec pipeline.FilterSpec, mode pipeline.ViewMode) string {
	return fmt.Sprintf("%s|%s|%s|%s|%s|%s|%s|%s",
		viewer.Role, viewer.ID, mode, spec.ClientID, spec.Stage, spec.Scope, spec.ActorID, spec.Search)
}

// get returns a cached board, or the current generation to pass to put.
func (c *boardCache) get(key string) (pipeline.Board, uint64, bool) {
	if c == nil {
		return pipeline.Board{}, 0, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	b, ok := c.boards[key]
	return b, c.gen, ok
}

// put stores b unless a change was published after gen was read.
func (c *boardCache) put(key string, gen uint64, b pipeline.Board) {
	if c == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if gen == c.gen {
		c.boards[key] = b
	}
}

func (c *boardCache) invalidate(context.Context, models.TaskEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	clear(c.boards)
	return nil
}

func (c *boardCache) size() int {
	if c == nil {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.boards)
}
