package models

import "time"

type NoteKind string

const (
	CommentNote   NoteKind = "comment"
	QAFailureNote NoteKind = "qa_failure"
	SystemNote    NoteKind = "system"
)

// Note is an immutable message on a task's activity trail.
type Note struct {
	ID          string       `json:"id" db:"id" yaml:"id"`
	TaskID      string       `json:"task_id" db:"task_id" yaml:"task_id"`
	AuthorID    string       `json:"author_id" db:"author_id" yaml:"author_id"`
	AuthorRole  Role         `json:"author_role" db:"author_role" yaml:"author_role"`
	Body        string       `json:"body" db:"body" yaml:"body"`
	Internal    bool         `json:"internal" db:"internal" yaml:"internal"` // Hidden from client viewers
	Kind        NoteKind     `json:"kind" db:"kind" yaml:"kind"`
	CreatedAt   time.Time    `json:"created_at" db:"created_at" yaml:"created_at"`
	Attachments []Attachment `json:"attachments,omitempty" db:"-" yaml:"attachments,omitempty"`
}

// Attachment references evidence held by external file storage. The URL is
// not validated.
type Attachment struct {
	ID       string  `json:"id" db:"id" yaml:"id"`
	TaskID   string  `json:"task_id" db:"task_id" yaml:"task_id"`
	NoteID   *string `json:"note_id,omitempty" db:"note_id" yaml:"note_id,omitempty"`
	URL      string  `json:"url" db:"url" yaml:"url"`
	Position int     `json:"position" db:"position" yaml:"position"`
}
