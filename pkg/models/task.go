package models

import "time"

type Priority string

const (
	LowPriority    Priority = "low"
	NormalPriority Priority = "normal"
	HighPriority   Priority = "high"
	UrgentPriority Priority = "urgent"
)

// Priorities lists every priority from least to most urgent.
var Priorities = []Priority{LowPriority, NormalPriority, HighPriority, UrgentPriority}

func (p Priority) IsValid() bool {
	switch p {
	case LowPriority, NormalPriority, HighPriority, UrgentPriority:
		return true
	}
	return false
}

// Task is a client work request moving through the fulfillment pipeline.
type Task struct {
	ID            string     `json:"id" db:"id" yaml:"id"`                                                      // uuid
	Code          string     `json:"code" db:"code" yaml:"code"`                                                // Short human code (e.g. "TSK-0042"), assigned on insert
	Title         string     `json:"title" db:"title" yaml:"title"`                                             // Short summary
	Description   string     `json:"description,omitempty" db:"description" yaml:"description,omitempty"`       // Free text brief
	Priority      Priority   `json:"priority" db:"priority" yaml:"priority"`                                    // low, normal, high, urgent
	Category      string     `json:"category,omitempty" db:"category" yaml:"category,omitempty"`                // Type tag (e.g. "seo", "web")
	Stage         Stage      `json:"stage" db:"stage" yaml:"stage"`                                             // Current pipeline stage
	ClientID      string     `json:"client_id" db:"client_id" yaml:"client_id"`                                 // Owning client
	DeveloperID   *string    `json:"developer_id,omitempty" db:"developer_id" yaml:"developer_id,omitempty"`    // Assigned developer
	ReviewerID    *string    `json:"reviewer_id,omitempty" db:"reviewer_id" yaml:"reviewer_id,omitempty"`       // Assigned QA reviewer
	RevisionCount int        `json:"revision_count" db:"revision_count" yaml:"revision_count"`                  // Number of failed QA rounds
	Version       int64      `json:"version" db:"version" yaml:"version"`                                       // Optimistic concurrency counter
	CreatedAt     time.Time  `json:"created_at" db:"created_at" yaml:"created_at"`                              // Intake time
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at" yaml:"updated_at"`                              // Last save
	StartedAt     *time.Time `json:"started_at,omitempty" db:"started_at" yaml:"started_at,omitempty"`          // Development started (reset on revision)
	QAStartedAt   *time.Time `json:"qa_started_at,omitempty" db:"qa_started_at" yaml:"qa_started_at,omitempty"` // Latest QA round started
	QACompletedAt *time.Time `json:"qa_completed_at,omitempty" db:"qa_completed_at" yaml:"qa_completed_at,omitempty"`
	DeliveredAt   *time.Time `json:"delivered_at,omitempty" db:"delivered_at" yaml:"delivered_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty" db:"completed_at" yaml:"completed_at,omitempty"`
	CancelledAt   *time.Time `json:"cancelled_at,omitempty" db:"cancelled_at" yaml:"cancelled_at,omitempty"`
}

// AssignedTo reports whether actorID is the task's developer or reviewer.
func (t Task) AssignedTo(actorID string) bool {
	if actorID == "" {
		return false
	}
	return (t.DeveloperID != nil && *t.DeveloperID == actorID) ||
		(t.ReviewerID != nil && *t.ReviewerID == actorID)
}

// Clone returns a deep copy so callers can mutate pointer fields safely.
func (t Task) Clone() Task {
	c := t
	c.DeveloperID = cloneString(t.DeveloperID)
	c.ReviewerID = cloneString(t.ReviewerID)
	c.StartedAt = cloneTime(t.StartedAt)
	c.QAStartedAt = cloneTime(t.QAStartedAt)
	c.QACompletedAt = cloneTime(t.QACompletedAt)
	c.DeliveredAt = cloneTime(t.DeliveredAt)
	c.CompletedAt = cloneTime(t.CompletedAt)
	c.CancelledAt = cloneTime(t.CancelledAt)
	return c
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
