package http

import (
	"net/http"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/pkg/errors"
)

type errorResponse struct {
	Error          string       `json:"error"`
	Code           string       `json:"code"`
	CurrentStage   models.Stage `json:"current_stage,omitempty"`
	AttemptedStage models.Stage `json:"attempted_stage,omitempty"`
	Reason         string       `json:"reason,omitempty"`
	Task           *models.Task `json:"task,omitempty"`
}

var errorCodes = []struct {
	kind   error
	status int
	code   string
}{
	{pipeline.ErrPartialCommit, http.StatusInternalServerError, "partial_commit"},
	{pipeline.ErrTaskNotFound, http.StatusNotFound, "not_found"},
	{pipeline.ErrValidation, http.StatusBadRequest, "validation"},
	{pipeline.ErrForbidden, http.StatusForbidden, "forbidden"},
	{pipeline.ErrIllegalTransition, http.StatusUnprocessableEntity, "illegal_transition"},
	{pipeline.ErrAlreadyTerminal, http.StatusUnprocessableEntity, "already_terminal"},
	{pipeline.ErrStaleState, http.StatusConflict, "stale_state"},
	{pipeline.ErrConflict, http.StatusConflict, "conflict"},
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status, resp := http.StatusInternalServerError, errorResponse{Error: err.Error(), Code: "internal"}
	for _, c := range errorCodes {
		if errors.Is(err, c.kind) {
			status, resp.Code = c.status, c.code
			break
		}
	}

	var te *pipeline.TransitionError
	if errors.As(err, &te) {
		resp.CurrentStage = te.Current
		resp.AttemptedStage = te.Attempted
		resp.Reason = te.Reason
	}
	var pe *pipeline.PartialCommitError
	if errors.As(err, &pe) {
		task := pe.Task
		resp.Task = &task
	}

	if status >= http.StatusInternalServerError {
		s.logger.Errorf("request failed: %v", err)
	}
	writeJSON(w, status, resp)
}

func badRequest(err error) error {
	return errors.Wrap(pipeline.ErrValidation, err.Error())
}
