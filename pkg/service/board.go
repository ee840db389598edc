package service

import (
	"context"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Board groups and counts the tasks viewer may see under spec.
func (s *FulfillmentService) Board(ctx context.Context, spec pipeline.FilterSpec, mode pipeline.ViewMode, viewer models.Actor) (pipeline.Board, error) {
	tasks, err := s.ListTasks(ctx, spec, viewer)
	if err != nil {
		return pipeline.Board{}, err
	}
	// ListTasks already applied spec.
	return pipeline.Board{
		Mode:    mode,
		Buckets: pipeline.GroupByStage(tasks, mode),
		Stats:   pipeline.ComputeStats(tasks),
	}, nil
}

// Boards builds one board per client concurrently. The result is keyed by
// client ID; the first failure cancels the rest. Clients only ever see their
// own tasks, so they may not ask for other clients' boards.
func (s *FulfillmentService) Boards(ctx context.Context, clientIDs []string, mode pipeline.ViewMode, viewer models.Actor) (map[string]pipeline.Board, error) {
	if viewer.Role == models.ClientRole {
		return nil, errors.Wrap(pipeline.ErrForbidden, "clients may not list per-client boards")
	}
	boards := make([]pipeline.Board, len(clientIDs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(8)
	for i, id := range clientIDs {
		g.Go(func() error {
			b, err := s.Board(gctx, pipeline.FilterSpec{ClientID: id}, mode, viewer)
			if err != nil {
				return errors.Wrapf(err, "board for client %s", id)
			}
			boards[i] = b
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]pipeline.Board, len(clientIDs))
	for i, id := range clientIDs {
		out[id] = boards[i]
	}
	return out, nil
}
