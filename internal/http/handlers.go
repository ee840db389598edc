package http

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/ignatij/taskflow/pkg/service"
	"github.com/pkg/errors"
)

const (
	actorIDHeader   = "X-Actor-ID"
	actorRoleHeader = "X-Actor-Role"
)

func actorFrom(r *http.Request) (models.Actor, error) {
	id := strings.TrimSpace(r.Header.Get(actorIDHeader))
	role := models.Role(strings.ToLower(strings.TrimSpace(r.Header.Get(actorRoleHeader))))
	if id == "" {
		return models.Actor{}, pipeline.ValidationError("missing %s header", actorIDHeader)
	}
	if !role.IsValid() {
		return models.Actor{}, pipeline.ValidationError("invalid %s header %q", actorRoleHeader, role)
	}
	return models.Actor{ID: id, Role: role}, nil
}

// withActor resolves the caller before running h.
func (s *Server) withActor(w http.ResponseWriter, r *http.Request, h func(models.Actor) error) {
	actor, err := actorFrom(r)
	if err == nil {
		err = h(actor)
	}
	if err != nil {
		s.writeError(w, err)
	}
}

// visible loads the task and hides other clients' tasks from client callers.
func (s *Server) visible(ctx context.Context, id string, actor models.Actor) (models.Task, error) {
	task, err := s.svc.GetTask(ctx, id)
	if err != nil {
		return models.Task{}, err
	}
	if actor.Role == models.ClientRole && task.ClientID != actor.ID {
		return models.Task{}, errors.Wrapf(pipeline.ErrTaskNotFound, "task %s", id)
	}
	return task, nil
}

func filterSpec(r *http.Request) (pipeline.FilterSpec, pipeline.ViewMode, error) {
	q := r.URL.Query()
	spec := pipeline.FilterSpec{
		Search:   q.Get("search"),
		ClientID: q.Get("client_id"),
		ActorID:  q.Get("actor_id"),
	}
	scope, ok := pipeline.ParseScope(q.Get("scope"))
	if !ok {
		return spec, "", pipeline.ValidationError("unknown scope %q", q.Get("scope"))
	}
	spec.Scope = scope
	if raw := q.Get("stage"); raw != "" {
		stage, ok := models.ParseStage(raw)
		if !ok {
			return spec, "", pipeline.ValidationError("unknown stage %q", raw)
		}
		spec.Stage = stage
	}
	mode, ok := pipeline.ParseViewMode(q.Get("mode"))
	if !ok {
		return spec, "", pipeline.ValidationError("unknown view mode %q", q.Get("mode"))
	}
	return spec, mode, nil
}

func expectedStage(raw string) ([]service.TransitionOption, error) {
	if raw == "" {
		return nil, nil
	}
	stage, ok := models.ParseStage(raw)
	if !ok {
		return nil, pipeline.ValidationError("unknown expected_stage %q", raw)
	}
	return []service.TransitionOption{service.WithExpectedStage(stage)}, nil
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		spec, _, err := filterSpec(r)
		if err != nil {
			return err
		}
		tasks, err := s.svc.ListTasks(r.Context(), spec, actor)
		if err != nil {
			return err
		}
		if limit, err := strconv.Atoi(r.URL.Query().Get("limit")); err == nil && limit > 0 && limit < len(tasks) {
			tasks = tasks[:limit]
		}
		writeJSON(w, http.StatusOK, tasks)
		return nil
	})
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		var req service.NewTask
		if err := decode(r, &req); err != nil {
			return badRequest(err)
		}
		if req.ClientID == "" && actor.Role == models.ClientRole {
			req.ClientID = actor.ID
		}
		task, err := s.svc.CreateTask(r.Context(), req, actor)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, task)
		return nil
	})
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		task, err := s.visible(r.Context(), r.PathValue("id"), actor)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, task)
		return nil
	})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		if err := s.svc.DeleteTask(r.Context(), r.PathValue("id"), actor); err != nil {
			return err
		}
		w.WriteHeader(http.StatusNoContent)
		return nil
	})
}

type transitionRequest struct {
	To            string `json:"to"`
	Note          string `json:"note"`
	ExpectedStage string `json:"expected_stage"`
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		var req transitionRequest
		if err := decode(r, &req); err != nil {
			return badRequest(err)
		}
		target, ok := models.ParseStage(req.To)
		if !ok {
			return pipeline.ValidationError("unknown target stage %q", req.To)
		}
		opts, err := expectedStage(req.ExpectedStage)
		if err != nil {
			return err
		}
		id := r.PathValue("id")
		if _, err := s.visible(r.Context(), id, actor); err != nil {
			return err
		}
		task, err := s.svc.Transition(r.Context(), id, target, actor, append(opts, service.WithNote(req.Note))...)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, task)
		return nil
	})
}

type failQARequest struct {
	Feedback      string   `json:"feedback"`
	Evidence      []string `json:"evidence"`
	Internal      bool     `json:"internal"`
	ExpectedStage string   `json:"expected_stage"`
}

func (s *Server) failQA(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		var req failQARequest
		if err := decode(r, &req); err != nil {
			return badRequest(err)
		}
		opts, err := expectedStage(req.ExpectedStage)
		if err != nil {
			return err
		}
		if req.Internal {
			opts = append(opts, service.Internal())
		}
		id := r.PathValue("id")
		if _, err := s.visible(r.Context(), id, actor); err != nil {
			return err
		}
		task, err := s.svc.FailQA(r.Context(), id, req.Feedback, req.Evidence, actor, opts...)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, task)
		return nil
	})
}

type stageActionRequest struct {
	Note          string `json:"note"`
	ExpectedStage string `json:"expected_stage"`
}

type stageAction func(ctx context.Context, taskID string, actor models.Actor, opts ...service.TransitionOption) (models.Task, error)

func (s *Server) stageAction(action stageAction) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.withActor(w, r, func(actor models.Actor) error {
			var req stageActionRequest
			if err := decode(r, &req); err != nil {
				return badRequest(err)
			}
			opts, err := expectedStage(req.ExpectedStage)
			if err != nil {
				return err
			}
			id := r.PathValue("id")
			if _, err := s.visible(r.Context(), id, actor); err != nil {
				return err
			}
			task, err := action(r.Context(), id, actor, append(opts, service.WithNote(req.Note))...)
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusOK, task)
			return nil
		})
	}
}

func (s *Server) passQA(w http.ResponseWriter, r *http.Request) {
	s.stageAction(s.svc.PassQA)(w, r)
}

func (s *Server) deliver(w http.ResponseWriter, r *http.Request) {
	s.stageAction(s.svc.Deliver)(w, r)
}

type assignRequest struct {
	DeveloperID *string `json:"developer_id"`
	ReviewerID  *string `json:"reviewer_id"`
}

func (s *Server) assign(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		var req assignRequest
		if err := decode(r, &req); err != nil {
			return badRequest(err)
		}
		task, err := s.svc.Assign(r.Context(), r.PathValue("id"), req.DeveloperID, req.ReviewerID, actor)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, task)
		return nil
	})
}

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		id := r.PathValue("id")
		if _, err := s.visible(r.Context(), id, actor); err != nil {
			return err
		}
		notes, err := s.svc.Notes(r.Context(), id, actor)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, notes)
		return nil
	})
}

type noteRequest struct {
	Message  string `json:"message"`
	Internal bool   `json:"internal"`
}

func (s *Server) addNote(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		var req noteRequest
		if err := decode(r, &req); err != nil {
			return badRequest(err)
		}
		id := r.PathValue("id")
		if _, err := s.visible(r.Context(), id, actor); err != nil {
			return err
		}
		note, err := s.svc.AddNote(r.Context(), id, actor, req.Message, req.Internal)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusCreated, note)
		return nil
	})
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		id := r.PathValue("id")
		if _, err := s.visible(r.Context(), id, actor); err != nil {
			return err
		}
		entries, err := s.svc.History(r.Context(), id)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, entries)
		return nil
	})
}

func (s *Server) activity(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		id := r.PathValue("id")
		if _, err := s.visible(r.Context(), id, actor); err != nil {
			return err
		}
		items, err := s.svc.Activity(r.Context(), id, actor)
		if err != nil {
			return err
		}
		writeJSON(w, http.StatusOK, items)
		return nil
	})
}

// board serves one board, or one per client when ?clients=a,b is given.
func (s *Server) board(w http.ResponseWriter, r *http.Request) {
	s.withActor(w, r, func(actor models.Actor) error {
		spec, mode, err := filterSpec(r)
		if err != nil {
			return err
		}
		if raw := r.URL.Query().Get("clients"); raw != "" {
			boards, err := s.svc.Boards(r.Context(), splitList(raw), mode, actor)
			if err != nil {
				return err
			}
			writeJSON(w, http.StatusOK, boards)
			return nil
		}

		key := boardKey(actor, spec, mode)
		board, gen, ok := s.boards.get(key)
		if !ok {
			board, err = s.svc.Board(r.Context(), spec, mode, actor)
			if err != nil {
				return err
			}
			s.boards.put(key, gen, board)
		}
		writeJSON(w, http.StatusOK, board)
		return nil
	})
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
