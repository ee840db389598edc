package models

import "time"

type EventType string

const (
	TaskCreatedEvent      EventType = "task.created"
	TaskTransitionedEvent EventType = "task.transitioned"
	TaskUpdatedEvent      EventType = "task.updated"
	TaskDeletedEvent      EventType = "task.deleted"
	NoteAddedEvent        EventType = "note.added"
)

// TaskEvent announces a committed change so views can drop cached state.
type TaskEvent struct {
	Type     EventType `json:"type"`
	TaskID   string    `json:"task_id"`
	ClientID string    `json:"client_id,omitempty"`
	From     Stage     `json:"from,omitempty"`
	To       Stage     `json:"to,omitempty"`
	Actor    Actor     `json:"actor"`
	At       time.Time `json:"at"`
}
