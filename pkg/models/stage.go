package models

import "strings"

// Stage is a task's position in the fulfillment pipeline.
type Stage string

const (
	PendingStage    Stage = "pending"
	InProgressStage Stage = "in_progress"
	ReadyForQAStage Stage = "ready_for_qa" // legacy alias of in_qa in display code
	InQAStage       Stage = "in_qa"
	QAPassedStage   Stage = "qa_passed"
	QAFailedStage   Stage = "qa_failed"
	DeliveredStage  Stage = "delivered"
	CompletedStage  Stage = "completed"
	CancelledStage  Stage = "cancelled"
)

// Stages lists every stage in pipeline order.
var Stages = []Stage{
	PendingStage,
	InProgressStage,
	ReadyForQAStage,
	InQAStage,
	QAPassedStage,
	QAFailedStage,
	DeliveredStage,
	CompletedStage,
	CancelledStage,
}

func (s Stage) IsValid() bool {
	for _, st := range Stages {
		if s == st {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (s Stage) IsTerminal() bool {
	return s == CompletedStage || s == CancelledStage
}

// Display folds the legacy ready_for_qa alias into in_qa.
func (s Stage) Display() Stage {
	if s == ReadyForQAStage {
		return InQAStage
	}
	return s
}

// Rank is the stage's position in pipeline order; qa_passed and qa_failed
// share a rank because both follow in_qa. Cancelled has the highest rank.
func (s Stage) Rank() int {
	switch s {
	case PendingStage:
		return 0
	case InProgressStage:
		return 1
	case ReadyForQAStage:
		return 2
	case InQAStage:
		return 3
	case QAPassedStage, QAFailedStage:
		return 4
	case DeliveredStage:
		return 5
	case CompletedStage:
		return 6
	case CancelledStage:
		return 7
	}
	return -1
}

var stageAliases = map[string]Stage{
	"todo":        PendingStage,
	"new":         PendingStage,
	"in_dev":      InProgressStage,
	"development": InProgressStage,
	"qa":          InQAStage,
	"review":      InQAStage,
	"passed":      QAPassedStage,
	"failed":      QAFailedStage,
	"revision":    QAFailedStage,
	"done":        CompletedStage,
	"canceled":    CancelledStage,
}

// ParseStage normalizes a raw stage string. It is case-insensitive, accepts
// "-" and " " as separators and a few historical spellings.
func ParseStage(raw string) (Stage, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.NewReplacer("-", "_", " ", "_").Replace(s)
	if st := Stage(s); st.IsValid() {
		return st, true
	}
	if st, ok := stageAliases[s]; ok {
		return st, true
	}
	return "", false
}
