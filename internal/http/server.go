package http

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ignatij/taskflow/internal/eventbus"
	"github.com/ignatij/taskflow/internal/log"
	"github.com/ignatij/taskflow/pkg/service"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Server exposes the fulfillment service as a JSON API. Actor identity comes
// from the X-Actor-ID and X-Actor-Role headers set by an upstream
// authenticating proxy.
type Server struct {
	svc    *service.FulfillmentService
	boards *boardCache
	logger *logrus.Logger
	mux    *http.ServeMux
}

// NewServer wires the routes. When bus is non-nil, cached boards are dropped
// on every committed change published on it.
func NewServer(svc *service.FulfillmentService, bus *eventbus.Bus) *Server {
	s := &Server{
		svc:    svc,
		boards: newBoardCache(),
		logger: log.GetLogger(),
		mux:    http.NewServeMux(),
	}
	if bus != nil {
		bus.Register(eventbus.HandlerFunc("board-cache", 0, s.boards.invalidate))
	} else {
		s.boards = nil
	}

	s.mux.HandleFunc("GET /health", HealthHandler)
	s.mux.HandleFunc("GET /tasks", s.listTasks)
	s.mux.HandleFunc("POST /tasks", s.createTask)
	s.mux.HandleFunc("GET /tasks/{id}", s.getTask)
	s.mux.HandleFunc("DELETE /tasks/{id}", s.deleteTask)
	s.mux.HandleFunc("POST /tasks/{id}/transition", s.transition)
	s.mux.HandleFunc("POST /tasks/{id}/fail-qa", s.failQA)
	s.mux.HandleFunc("POST /tasks/{id}/pass-qa", s.passQA)
	s.mux.HandleFunc("POST /tasks/{id}/deliver", s.deliver)
	s.mux.HandleFunc("POST /tasks/{id}/assign", s.assign)
	s.mux.HandleFunc("GET /tasks/{id}/notes", s.listNotes)
	s.mux.HandleFunc("POST /tasks/{id}/notes", s.addNote)
	s.mux.HandleFunc("GET /tasks/{id}/history", s.history)
	s.mux.HandleFunc("GET /tasks/{id}/activity", s.activity)
	s.mux.HandleFunc("GET /board", s.board)
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	s.mux.ServeHTTP(w, r)
	s.logger.WithFields(logrus.Fields{
		"method":   r.Method,
		"path":     r.URL.Path,
		"duration": time.Since(start),
	}).Debug("handled request")
}

// StartServer serves until ctx is cancelled, then shuts down gracefully.
func StartServer(ctx context.Context, port int, handler http.Handler) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.GetLogger().Infof("Starting taskflow server on :%d", port)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
		log.GetLogger().Info("Shutting down taskflow server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "taskflow server is running")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func decode(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Wrap(err, "invalid JSON body")
	}
	return nil
}
