package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/storage"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
)

type DBInterface interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	QueryRowxContext(ctx context.Context, query string, args ...interface{}) *sqlx.Row
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	NamedExecContext(ctx context.Context, query string, arg interface{}) (sql.Result, error)
}

type PostgresStore struct {
	db DBInterface
}

func NewPostgresStore(ctx context.Context, connStr string) (*PostgresStore, error) {
	db, err := sqlx.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) Begin(ctx context.Context) (storage.Store, error) {
	switch db := s.db.(type) {
	case *sqlx.DB:
		tx, err := db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, err
		}
		return &PostgresStore{db: tx}, nil
	case *sqlx.Tx:
		return s, nil
	}
	return nil, fmt.Errorf("cannot begin transaction on unknown type")
}

func (s *PostgresStore) Commit() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return mapError(tx.Commit())
	}
	return fmt.Errorf("cannot commit: not a transaction")
}

func (s *PostgresStore) Rollback() error {
	if tx, ok := s.db.(*sqlx.Tx); ok {
		return tx.Rollback()
	}
	return fmt.Errorf("cannot rollback: not a transaction")
}

func (s *PostgresStore) Close() error {
	if db, ok := s.db.(*sqlx.DB); ok {
		return db.Close()
	}
	return nil // No-op for *sqlx.Tx
}

const taskColumns = `id, code, title, description, priority, category, stage, client_id,
	developer_id, reviewer_id, revision_count, version, created_at, updated_at,
	started_at, qa_started_at, qa_completed_at, delivered_at, completed_at, cancelled_at`

// GetTask retrieves a task by ID
func (s *PostgresStore) GetTask(ctx context.Context, id string) (models.Task, error) {
	var task models.Task
	err := s.db.GetContext(ctx, &task, "SELECT "+taskColumns+" FROM tasks WHERE id = $1", id)
	if err != nil {
		return models.Task{}, mapError(err)
	}
	return task, nil
}

// InsertTask stores a new task. The code comes from task_code_seq unless the
// caller set one.
func (s *PostgresStore) InsertTask(ctx context.Context, t models.Task) (models.Task, error) {
	var saved models.Task
	err := s.db.GetContext(ctx, &saved, `
		INSERT INTO tasks (id, code, title, description, priority, category, stage, client_id,
			developer_id, reviewer_id, revision_count, version, created_at, updated_at,
			started_at, qa_started_at, qa_completed_at, delivered_at, completed_at, cancelled_at)
		VALUES ($1, COALESCE(NULLIF($2, ''), 'TSK-' || lpad(nextval('task_code_seq')::text, 4, '0')),
			$3, $4, $5, $6, $7, $8, $9, $10, $11, 1, $12, $13, $14, $15, $16, $17, $18, $19)
		RETURNING `+taskColumns,
		t.ID, t.Code, t.Title, t.Description, t.Priority, t.Category, t.Stage, t.ClientID,
		t.DeveloperID, t.ReviewerID, t.RevisionCount, t.CreatedAt, t.UpdatedAt,
		t.StartedAt, t.QAStartedAt, t.QACompletedAt, t.DeliveredAt, t.CompletedAt, t.CancelledAt)
	if err != nil {
		return models.Task{}, errors.Wrapf(mapError(err), "insert task %s", t.ID)
	}
	return saved, nil
}

// SaveTask updates a task only if its stored version still equals t.Version.
func (s *PostgresStore) SaveTask(ctx context.Context, t models.Task) (models.Task, error) {
	var saved models.Task
	err := s.db.GetContext(ctx, &saved, `
		UPDATE tasks
		SET title = $3, description = $4, priority = $5, category = $6, stage = $7,
			developer_id = $8, reviewer_id = $9, revision_count = $10, updated_at = $11,
			started_at = $12, qa_started_at = $13, qa_completed_at = $14,
			delivered_at = $15, completed_at = $16, cancelled_at = $17,
			version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING `+taskColumns,
		t.ID, t.Version, t.Title, t.Description, t.Priority, t.Category, t.Stage,
		t.DeveloperID, t.ReviewerID, t.RevisionCount, t.UpdatedAt,
		t.StartedAt, t.QAStartedAt, t.QACompletedAt, t.DeliveredAt, t.CompletedAt, t.CancelledAt)
	if errors.Is(err, sql.ErrNoRows) {
		if exists, existsErr := s.taskExists(ctx, t.ID); existsErr != nil {
			return models.Task{}, existsErr
		} else if !exists {
			return models.Task{}, storage.ErrNotFound
		}
		return models.Task{}, storage.ErrConflict
	}
	if err != nil {
		return models.Task{}, errors.Wrapf(mapError(err), "save task %s", t.ID)
	}
	return saved, nil
}

// DeleteTask removes a task; notes, history and attachments cascade.
func (s *PostgresStore) DeleteTask(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM tasks WHERE id = $1", id)
	if err != nil {
		return errors.Wrapf(err, "delete task %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// ListTasks returns tasks matching filter, newest first.
func (s *PostgresStore) ListTasks(ctx context.Context, filter storage.TaskFilter) ([]models.Task, error) {
	var (
		where []string
		args  []interface{}
	)
	arg := func(v interface{}) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if filter.ClientID != "" {
		where = append(where, "client_id = "+arg(filter.ClientID))
	}
	if len(filter.Stages) > 0 {
		stages := make([]string, len(filter.Stages))
		for i, st := range filter.Stages {
			stages[i] = string(st)
		}
		where = append(where, "stage = ANY("+arg(pq.Array(stages))+")")
	}
	if filter.ActorID != "" {
		p := arg(filter.ActorID)
		where = append(where, "(developer_id = "+p+" OR reviewer_id = "+p+")")
	}

	query := "SELECT " + taskColumns + " FROM tasks"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, code DESC"
	if filter.Limit > 0 {
		query += " LIMIT " + arg(filter.Limit)
	}

	tasks := []models.Task{}
	if err := s.db.SelectContext(ctx, &tasks, query, args...); err != nil {
		return nil, errors.Wrap(err, "list tasks")
	}
	return tasks, nil
}

// AppendHistory records a status change.
func (s *PostgresStore) AppendHistory(ctx context.Context, e models.StatusHistoryEntry) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO task_history (id, task_id, from_stage, to_stage, actor_id, actor_role, note, override, created_at)
		VALUES (:id, :task_id, :from_stage, :to_stage, :actor_id, :actor_role, :note, :override, :created_at)`, e)
	if err != nil {
		return errors.Wrapf(mapError(err), "append history to task %s", e.TaskID)
	}
	return nil
}

// ListHistory returns a task's status changes in the order they were written.
func (s *PostgresStore) ListHistory(ctx context.Context, taskID string) ([]models.StatusHistoryEntry, error) {
	if err := s.ensureTask(ctx, taskID); err != nil {
		return nil, err
	}
	entries := []models.StatusHistoryEntry{}
	err := s.db.SelectContext(ctx, &entries, `
		SELECT id, task_id, from_stage, to_stage, actor_id, actor_role, note, override, created_at
		FROM task_history WHERE task_id = $1 ORDER BY seq`, taskID)
	if err != nil {
		return nil, errors.Wrapf(err, "list history of task %s", taskID)
	}
	return entries, nil
}

// AppendNote stores a note and its attachments.
func (s *PostgresStore) AppendNote(ctx context.Context, n models.Note) error {
	_, err := s.db.NamedExecContext(ctx, `
		INSERT INTO task_notes (id, task_id, author_id, author_role, body, internal, kind, created_at)
		VALUES (:id, :task_id, :author_id, :author_role, :body, :internal, :kind, :created_at)`, n)
	if err != nil {
		return errors.Wrapf(mapError(err), "append note to task %s", n.TaskID)
	}
	for _, a := range n.Attachments {
		_, err := s.db.NamedExecContext(ctx, `
			INSERT INTO task_attachments (id, task_id, note_id, url, position)
			VALUES (:id, :task_id, :note_id, :url, :position)`, a)
		if err != nil {
			return errors.Wrapf(mapError(err), "append attachment to note %s", n.ID)
		}
	}
	return nil
}

// ListNotes returns a task's notes with their attachments, oldest first.
func (s *PostgresStore) ListNotes(ctx context.Context, taskID string) ([]models.Note, error) {
	if err := s.ensureTask(ctx, taskID); err != nil {
		return nil, err
	}
	notes := []models.Note{}
	err := s.db.SelectContext(ctx, &notes, `
		SELECT id, task_id, author_id, author_role, body, internal, kind, created_at
		FROM task_notes WHERE task_id = $1 ORDER BY seq`, taskID)
	if err != nil {
		return nil, errors.Wrapf(err, "list notes of task %s", taskID)
	}

	var attachments []models.Attachment
	err = s.db.SelectContext(ctx, &attachments, `
		SELECT id, task_id, note_id, url, position
		FROM task_attachments WHERE task_id = $1 AND note_id IS NOT NULL ORDER BY position`, taskID)
	if err != nil {
		return nil, errors.Wrapf(err, "list attachments of task %s", taskID)
	}
	byNote := make(map[string][]models.Attachment)
	for _, a := range attachments {
		byNote[*a.NoteID] = append(byNote[*a.NoteID], a)
	}
	for i := range notes {
		notes[i].Attachments = byNote[notes[i].ID]
	}
	return notes, nil
}

func (s *PostgresStore) taskExists(ctx context.Context, id string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowxContext(ctx, "SELECT EXISTS (SELECT 1 FROM tasks WHERE id = $1)", id).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

func (s *PostgresStore) ensureTask(ctx context.Context, id string) error {
	exists, err := s.taskExists(ctx, id)
	if err != nil {
		return err
	}
	if !exists {
		return storage.ErrNotFound
	}
	return nil
}
