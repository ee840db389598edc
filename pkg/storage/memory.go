package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ignatij/taskflow/pkg/models"
	"github.com/pkg/errors"
)

// memoryDB is the committed state shared by a memory store and its
// transactions.
type memoryDB struct {
	mu       sync.RWMutex
	tasks    map[string]models.Task
	history  map[string][]models.StatusHistoryEntry
	notes    map[string][]models.Note
	nextCode int
}

// memoryTx buffers writes until Commit.
type memoryTx struct {
	staged   map[string]models.Task
	inserted map[string]bool
	deleted  map[string]bool
	expected map[string]int64 // committed version each staged save was based on
	history  []models.StatusHistoryEntry
	notes    []models.Note
	done     bool
}

// memoryStore implements Store in memory. Writes made through a store
// returned by Begin become visible to others only after Commit.
type memoryStore struct {
	db *memoryDB
	tx *memoryTx
}

func NewMemoryStore() Store {
	return &memoryStore{db: &memoryDB{
		tasks:   make(map[string]models.Task),
		history: make(map[string][]models.StatusHistoryEntry),
		notes:   make(map[string][]models.Note),
	}}
}

func (m *memoryStore) Begin(ctx context.Context) (Store, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.tx != nil {
		return m, nil
	}
	return &memoryStore{db: m.db, tx: &memoryTx{
		staged:   make(map[string]models.Task),
		inserted: make(map[string]bool),
		deleted:  make(map[string]bool),
		expected: make(map[string]int64),
	}}, nil
}

func (m *memoryStore) Close() error {
	return nil
}

func (m *memoryStore) checkTx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.tx != nil && m.tx.done {
		return errors.New("transaction already committed")
	}
	return nil
}

// lookup returns the task as seen by this store. Callers hold db.mu.
func (m *memoryStore) lookup(id string) (models.Task, bool) {
	if m.tx != nil {
		if m.tx.deleted[id] {
			return models.Task{}, false
		}
		if t, ok := m.tx.staged[id]; ok {
			return t, true
		}
	}
	t, ok := m.db.tasks[id]
	return t, ok
}

func (m *memoryStore) GetTask(ctx context.Context, id string) (models.Task, error) {
	if err := m.checkTx(ctx); err != nil {
		return models.Task{}, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	t, ok := m.lookup(id)
	if !ok {
		return models.Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (m *memoryStore) InsertTask(ctx context.Context, t models.Task) (models.Task, error) {
	if err := m.checkTx(ctx); err != nil {
		return models.Task{}, err
	}
	if t.ID == "" {
		return models.Task{}, errors.New("task id is required")
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, exists := m.lookup(t.ID); exists {
		return models.Task{}, errors.Wrapf(ErrConflict, "task %s already exists", t.ID)
	}
	// Codes come from a sequence and are not reused on rollback.
	m.db.nextCode++
	t = t.Clone()
	if t.Code == "" {
		t.Code = fmt.Sprintf("TSK-%04d", m.db.nextCode)
	}
	t.Version = 1
	if m.tx != nil {
		m.tx.staged[t.ID] = t
		m.tx.inserted[t.ID] = true
		delete(m.tx.deleted, t.ID)
		return t.Clone(), nil
	}
	m.db.tasks[t.ID] = t
	return t.Clone(), nil
}

func (m *memoryStore) SaveTask(ctx context.Context, t models.Task) (models.Task, error) {
	if err := m.checkTx(ctx); err != nil {
		return models.Task{}, err
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	cur, ok := m.lookup(t.ID)
	if !ok {
		return models.Task{}, ErrNotFound
	}
	if cur.Version != t.Version {
		return models.Task{}, ErrConflict
	}
	saved := t.Clone()
	saved.Version++
	if m.tx != nil {
		if _, seen := m.tx.expected[t.ID]; !seen && !m.tx.inserted[t.ID] {
			m.tx.expected[t.ID] = t.Version
		}
		m.tx.staged[t.ID] = saved
		return saved.Clone(), nil
	}
	m.db.tasks[t.ID] = saved
	return saved.Clone(), nil
}

func (m *memoryStore) DeleteTask(ctx context.Context, id string) error {
	if err := m.checkTx(ctx); err != nil {
		return err
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.lookup(id); !ok {
		return ErrNotFound
	}
	if m.tx != nil {
		delete(m.tx.staged, id)
		delete(m.tx.inserted, id)
		m.tx.deleted[id] = true
		return nil
	}
	m.db.deleteTask(id)
	return nil
}

func (db *memoryDB) deleteTask(id string) {
	delete(db.tasks, id)
	delete(db.history, id)
	delete(db.notes, id)
}

func (m *memoryStore) ListTasks(ctx context.Context, filter TaskFilter) ([]models.Task, error) {
	if err := m.checkTx(ctx); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()

	tasks := []models.Task{}
	seen := make(map[string]bool, len(m.db.tasks))
	for id := range m.db.tasks {
		seen[id] = true
		if t, ok := m.lookup(id); ok && MatchesFilter(t, filter) {
			tasks = append(tasks, t.Clone())
		}
	}
	if m.tx != nil {
		for id, t := range m.tx.staged {
			if !seen[id] && MatchesFilter(t, filter) {
				tasks = append(tasks, t.Clone())
			}
		}
	}
	// Newest first, like the SQL store.
	sort.SliceStable(tasks, func(i, j int) bool {
		if !tasks[i].CreatedAt.Equal(tasks[j].CreatedAt) {
			return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
		}
		return tasks[i].Code > tasks[j].Code
	})
	if filter.Limit > 0 && len(tasks) > filter.Limit {
		tasks = tasks[:filter.Limit]
	}
	return tasks, nil
}

func (m *memoryStore) AppendHistory(ctx context.Context, e models.StatusHistoryEntry) error {
	if err := m.checkTx(ctx); err != nil {
		return err
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.lookup(e.TaskID); !ok {
		return ErrNotFound
	}
	if m.tx != nil {
		m.tx.history = append(m.tx.history, e)
		return nil
	}
	m.db.history[e.TaskID] = append(m.db.history[e.TaskID], e)
	return nil
}

func (m *memoryStore) ListHistory(ctx context.Context, taskID string) ([]models.StatusHistoryEntry, error) {
	if err := m.checkTx(ctx); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	if _, ok := m.lookup(taskID); !ok {
		return nil, ErrNotFound
	}
	entries := append([]models.StatusHistoryEntry{}, m.db.history[taskID]...)
	if m.tx != nil {
		for _, e := range m.tx.history {
			if e.TaskID == taskID {
				entries = append(entries, e)
			}
		}
	}
	return entries, nil
}

func (m *memoryStore) AppendNote(ctx context.Context, n models.Note) error {
	if err := m.checkTx(ctx); err != nil {
		return err
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	if _, ok := m.lookup(n.TaskID); !ok {
		return ErrNotFound
	}
	n.Attachments = append([]models.Attachment(nil), n.Attachments...)
	if m.tx != nil {
		m.tx.notes = append(m.tx.notes, n)
		return nil
	}
	m.db.notes[n.TaskID] = append(m.db.notes[n.TaskID], n)
	return nil
}

func (m *memoryStore) ListNotes(ctx context.Context, taskID string) ([]models.Note, error) {
	if err := m.checkTx(ctx); err != nil {
		return nil, err
	}
	m.db.mu.RLock()
	defer m.db.mu.RUnlock()
	if _, ok := m.lookup(taskID); !ok {
		return nil, ErrNotFound
	}
	notes := append([]models.Note{}, m.db.notes[taskID]...)
	if m.tx != nil {
		for _, n := range m.tx.notes {
			if n.TaskID == taskID {
				notes = append(notes, n)
			}
		}
	}
	for i := range notes {
		notes[i].Attachments = append([]models.Attachment(nil), notes[i].Attachments...)
	}
	return notes, nil
}

func (m *memoryStore) Commit() error {
	if m.tx == nil {
		return errors.New("cannot commit: not a transaction")
	}
	if m.tx.done {
		return errors.New("already committed")
	}
	m.db.mu.Lock()
	defer m.db.mu.Unlock()
	m.tx.done = true

	for id, version := range m.tx.expected {
		cur, ok := m.db.tasks[id]
		if !ok {
			return ErrNotFound
		}
		if cur.Version != version {
			return ErrConflict
		}
	}
	for id := range m.tx.deleted {
		m.db.deleteTask(id)
	}
	for id, t := range m.tx.staged {
		m.db.tasks[id] = t
	}
	for _, e := range m.tx.history {
		m.db.history[e.TaskID] = append(m.db.history[e.TaskID], e)
	}
	for _, n := range m.tx.notes {
		m.db.notes[n.TaskID] = append(m.db.notes[n.TaskID], n)
	}
	return nil
}

func (m *memoryStore) Rollback() error {
	if m.tx == nil {
		return errors.New("cannot rollback: not a transaction")
	}
	if m.tx.done {
		return errors.New("cannot rollback committed transaction")
	}
	// Buffered writes are discarded with the transaction.
	m.tx.done = true
	return nil
}
