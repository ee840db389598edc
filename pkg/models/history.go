package models

import "time"

// StatusHistoryEntry records one accepted stage transition.
type StatusHistoryEntry struct {
	ID        string    `json:"id" db:"id" yaml:"id"`
	TaskID    string    `json:"task_id" db:"task_id" yaml:"task_id"`
	FromStage *Stage    `json:"from_stage,omitempty" db:"from_stage" yaml:"from_stage,omitempty"` // nil for the intake entry
	ToStage   Stage     `json:"to_stage" db:"to_stage" yaml:"to_stage"`
	ActorID   string    `json:"actor_id" db:"actor_id" yaml:"actor_id"`
	ActorRole Role      `json:"actor_role" db:"actor_role" yaml:"actor_role"`
	Note      string    `json:"note,omitempty" db:"note" yaml:"note,omitempty"`
	Override  bool      `json:"override,omitempty" db:"override" yaml:"override,omitempty"` // Privileged fast path
	CreatedAt time.Time `json:"created_at" db:"created_at" yaml:"created_at"`
}
