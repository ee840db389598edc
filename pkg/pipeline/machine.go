package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ignatij/taskflow/pkg/models"
)

// Decision is the outcome of an accepted transition: the task as it must be
// saved and the history entry that must be written with it.
type Decision struct {
	From  models.Stage
	Task  models.Task
	Entry models.StatusHistoryEntry
}

// Machine decides transitions. It never touches storage; the same input
// always yields the same decision apart from the generated entry ID and
// clock reading.
type Machine struct {
	NewID func() string
	Now   func() time.Time
}

// NewMachine returns a Machine using random uuids and the UTC wall clock.
func NewMachine() *Machine {
	return &Machine{
		NewID: uuid.NewString,
		Now:   func() time.Time { return time.Now().UTC() },
	}
}

func (m *Machine) now() time.Time {
	if m.Now == nil {
		return time.Now().UTC()
	}
	return m.Now()
}

func (m *Machine) newID() string {
	if m.NewID == nil {
		return uuid.NewString()
	}
	return m.NewID()
}

// Decide validates moving task to target on behalf of actor and returns the
// resulting task and audit entry. The input task is not modified.
func (m *Machine) Decide(task models.Task, target models.Stage, actor models.Actor, note string) (Decision, error) {
	if task.Stage.IsTerminal() {
		return Decision{}, &TransitionError{
			Kind:      ErrAlreadyTerminal,
			TaskID:    task.ID,
			Current:   task.Stage,
			Attempted: target,
			Role:      actor.Role,
			Reason:    fmt.Sprintf("task is %s", task.Stage),
		}
	}
	if !target.IsValid() {
		return Decision{}, illegal(task, target, actor.Role, "unknown stage %q", target)
	}
	if !IsLegalEdge(task.Stage, target) {
		return Decision{}, illegal(task, target, actor.Role, "no edge from %s to %s", task.Stage, target)
	}
	if !CanTransition(task.Stage, target, actor.Role) {
		return Decision{}, illegal(task, target, actor.Role, "role %s may not move %s to %s", actor.Role, task.Stage, target)
	}

	now := m.now()
	next := task.Clone()
	next.Stage = target
	next.UpdatedAt = now
	stamp(&next, task.Stage, target, now)
	if target == models.QAFailedStage {
		next.RevisionCount++
	}

	return Decision{
		From:  task.Stage,
		Task:  next,
		Entry: m.entry(task, target, actor, note, now),
	}, nil
}

// DecideDelivery handles delivery. From qa_passed it is the ordinary edge.
// From any earlier non-terminal stage an admin may quick-deliver: the task
// jumps to delivered and the entry is flagged as an override. In both cases
// unset development and QA timestamps are backfilled to the delivery instant
// so the timeline of a delivered task has no gaps.
func (m *Machine) DecideDelivery(task models.Task, actor models.Actor, note string) (Decision, error) {
	if task.Stage == models.QAPassedStage || task.Stage.IsTerminal() {
		d, err := m.Decide(task, models.DeliveredStage, actor, note)
		if err != nil {
			return Decision{}, err
		}
		backfill(&d.Task, *d.Task.DeliveredAt)
		return d, nil
	}
	if task.Stage == models.DeliveredStage {
		return Decision{}, illegal(task, models.DeliveredStage, actor.Role, "task already delivered")
	}
	if actor.Role != models.AdminRole {
		return Decision{}, illegal(task, models.DeliveredStage, actor.Role,
			"only admin may deliver from %s before QA passes", task.Stage)
	}

	now := m.now()
	next := task.Clone()
	next.Stage = models.DeliveredStage
	next.UpdatedAt = now
	next.DeliveredAt = &now
	backfill(&next, now)

	overrideNote := fmt.Sprintf("admin override: quick deliver from %s", task.Stage)
	if note = strings.TrimSpace(note); note != "" {
		overrideNote += ": " + note
	}
	entry := m.entry(task, models.DeliveredStage, actor, overrideNote, now)
	entry.Override = true
	return Decision{From: task.Stage, Task: next, Entry: entry}, nil
}

// Intake builds the initial history entry for a newly created task.
func (m *Machine) Intake(task models.Task, actor models.Actor) models.StatusHistoryEntry {
	return models.StatusHistoryEntry{
		ID:        m.newID(),
		TaskID:    task.ID,
		ToStage:   task.Stage,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Note:      "task created",
		CreatedAt: task.CreatedAt,
	}
}

func (m *Machine) entry(task models.Task, to models.Stage, actor models.Actor, note string, now time.Time) models.StatusHistoryEntry {
	from := task.Stage
	return models.StatusHistoryEntry{
		ID:        m.newID(),
		TaskID:    task.ID,
		FromStage: &from,
		ToStage:   to,
		ActorID:   actor.ID,
		ActorRole: actor.Role,
		Note:      strings.TrimSpace(note),
		CreatedAt: now,
	}
}

// stamp sets the stage-entry timestamp for to. started_at is kept from the
// first start except on the revision edge, where it restarts. QA markers
// always describe the latest QA round.
func stamp(t *models.Task, from, to models.Stage, now time.Time) {
	at := now
	switch to {
	case models.InProgressStage:
		if t.StartedAt == nil || from == models.QAFailedStage {
			t.StartedAt = &at
		}
	case models.InQAStage:
		t.QAStartedAt = &at
	case models.QAPassedStage, models.QAFailedStage:
		t.QACompletedAt = &at
	case models.DeliveredStage:
		if t.DeliveredAt == nil {
			t.DeliveredAt = &at
		}
	case models.CompletedStage:
		if t.CompletedAt == nil {
			t.CompletedAt = &at
		}
	case models.CancelledStage:
		if t.CancelledAt == nil {
			t.CancelledAt = &at
		}
	}
}

func backfill(t *models.Task, at time.Time) {
	if t.StartedAt == nil {
		v := at
		t.StartedAt = &v
	}
	if t.QAStartedAt == nil {
		v := at
		t.QAStartedAt = &v
	}
	if t.QACompletedAt == nil {
		v := at
		t.QACompletedAt = &v
	}
}
