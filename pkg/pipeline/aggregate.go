package pipeline

import (
	"strings"

	"github.com/ignatij/taskflow/pkg/models"
)

type ViewMode string

const (
	ViewSimplified ViewMode = "simplified"
	ViewDetailed   ViewMode = "detailed"
)

// Simplified bucket names.
const (
	WaitingBucket   = "waiting"
	WorkingBucket   = "working"
	DoneBucket      = "done"
	CancelledBucket = "cancelled"
	UnknownBucket   = "unknown"
)

// Bucket is one named column of a board.
type Bucket struct {
	Name  string        `json:"name" yaml:"name"`
	Tasks []models.Task `json:"tasks" yaml:"tasks"`
}

// Buckets is an ordered partition of a task collection.
type Buckets []Bucket

// Get returns the bucket with the given name.
func (b Buckets) Get(name string) (Bucket, bool) {
	for _, bucket := range b {
		if bucket.Name == name {
			return bucket, true
		}
	}
	return Bucket{}, false
}

// Counts maps bucket names to their sizes.
func (b Buckets) Counts() map[string]int {
	out := make(map[string]int, len(b))
	for _, bucket := range b {
		out[bucket.Name] = len(bucket.Tasks)
	}
	return out
}

// ParseViewMode accepts "simplified" and "detailed"; empty means simplified.
func ParseViewMode(raw string) (ViewMode, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", string(ViewSimplified), "simple":
		return ViewSimplified, true
	case string(ViewDetailed), "detail":
		return ViewDetailed, true
	}
	return "", false
}

// SimplifiedBucket names the coarse bucket a stage belongs to.
func SimplifiedBucket(s models.Stage) string {
	switch s {
	case models.PendingStage:
		return WaitingBucket
	case models.InProgressStage, models.ReadyForQAStage, models.InQAStage, models.QAFailedStage:
		return WorkingBucket
	case models.QAPassedStage, models.DeliveredStage, models.CompletedStage:
		return DoneBucket
	case models.CancelledStage:
		return CancelledBucket
	}
	return UnknownBucket
}

var (
	simplifiedOrder = []string{WaitingBucket, WorkingBucket, DoneBucket, CancelledBucket}
	detailedOrder   = []models.Stage{
		models.PendingStage,
		models.InProgressStage,
		models.InQAStage,
		models.QAFailedStage,
		models.QAPassedStage,
		models.DeliveredStage,
		models.CompletedStage,
		models.CancelledStage,
	}
)

// normalize maps a stored stage to its canonical value; it tolerates raw
// strings written by older clients.
func normalize(s models.Stage) (models.Stage, bool) {
	if s.IsValid() {
		return s, true
	}
	return models.ParseStage(string(s))
}

// GroupByStage partitions tasks into buckets. Every task lands in exactly
// one bucket and buckets keep input order. In the detailed view ready_for_qa
// is shown as in_qa. Tasks with unrecognised stages go to an "unknown"
// bucket, which is only present when non-empty.
func GroupByStage(tasks []models.Task, mode ViewMode) Buckets {
	var names []string
	if mode == ViewDetailed {
		for _, s := range detailedOrder {
			names = append(names, string(s))
		}
	} else {
		names = append(names, simplifiedOrder...)
	}

	index := make(map[string]int, len(names)+1)
	out := make(Buckets, len(names))
	for i, name := range names {
		index[name] = i
		out[i] = Bucket{Name: name, Tasks: []models.Task{}}
	}

	for _, t := range tasks {
		name := UnknownBucket
		if s, ok := normalize(t.Stage); ok {
			if mode == ViewDetailed {
				name = string(s.Display())
			} else {
				name = SimplifiedBucket(s)
			}
		}
		i, ok := index[name]
		if !ok {
			index[name] = len(out)
			i = len(out)
			out = append(out, Bucket{Name: name, Tasks: []models.Task{}})
		}
		out[i].Tasks = append(out[i].Tasks, t)
	}
	return out
}

type Scope string

const (
	ScopeAll     Scope = "all"
	ScopeQAQueue Scope = "qa_queue"
	ScopeMine    Scope = "mine"
	ScopeActive  Scope = "active"
)

// ParseScope accepts the known scopes; empty means all.
func ParseScope(raw string) (Scope, bool) {
	switch s := Scope(strings.ToLower(strings.TrimSpace(raw))); s {
	case "", ScopeAll:
		return ScopeAll, true
	case ScopeQAQueue, ScopeMine, ScopeActive:
		return s, true
	}
	return "", false
}

// FilterSpec selects tasks. Zero values match everything.
type FilterSpec struct {
	Search   string       `json:"search,omitempty"`
	ClientID string       `json:"client_id,omitempty"`
	Stage    models.Stage `json:"stage,omitempty"`
	Scope    Scope        `json:"scope,omitempty"`
	ActorID  string       `json:"actor_id,omitempty"` // required by ScopeMine
}

var qaQueue = map[models.Stage]bool{
	models.ReadyForQAStage: true,
	models.InQAStage:       true,
	models.QAFailedStage:   true,
	models.QAPassedStage:   true,
}

// Filter returns the tasks matching spec in input order. The input slice is
// never modified.
func Filter(tasks []models.Task, spec FilterSpec) []models.Task {
	needle := strings.ToLower(strings.TrimSpace(spec.Search))
	wantStage, hasStage := models.Stage(""), false
	if spec.Stage != "" {
		if s, ok := normalize(spec.Stage); ok {
			wantStage, hasStage = s.Display(), true
		} else {
			return []models.Task{}
		}
	}

	out := []models.Task{}
	for _, t := range tasks {
		if spec.ClientID != "" && t.ClientID != spec.ClientID {
			continue
		}
		stage, ok := normalize(t.Stage)
		if hasStage && (!ok || stage.Display() != wantStage) {
			continue
		}
		if !inScope(t, stage, ok, spec) {
			continue
		}
		if needle != "" && !matchesText(t, needle) {
			continue
		}
		out = append(out, t)
	}
	return out
}

func inScope(t models.Task, stage models.Stage, known bool, spec FilterSpec) bool {
	switch spec.Scope {
	case ScopeQAQueue:
		return known && qaQueue[stage]
	case ScopeMine:
		return t.AssignedTo(spec.ActorID)
	case ScopeActive:
		return known && !stage.IsTerminal()
	}
	return true
}

func matchesText(t models.Task, needle string) bool {
	return strings.Contains(strings.ToLower(t.Title), needle) ||
		strings.Contains(strings.ToLower(t.Description), needle) ||
		strings.Contains(strings.ToLower(t.Code), needle)
}

// Stats are the derived counts shown above a board. Waiting, Working, Done,
// Cancelled and Unknown add up to Total.
//
// Failed counts tasks sitting in qa_failed. FailQA re-queues a task in the
// same transaction, so through the service it is only non-zero after a raw
// transition to qa_failed; InRevision counts the reworked tasks that have
// not yet passed QA.
type Stats struct {
	Total      int                     `json:"total" yaml:"total"`
	Waiting    int                     `json:"waiting" yaml:"waiting"`
	Working    int                     `json:"working" yaml:"working"`
	Done       int                     `json:"done" yaml:"done"`
	Cancelled  int                     `json:"cancelled" yaml:"cancelled"`
	Unknown    int                     `json:"unknown,omitempty" yaml:"unknown,omitempty"`
	Failed     int                     `json:"failed,omitempty" yaml:"failed,omitempty"`
	InRevision int                     `json:"in_revision" yaml:"in_revision"`
	Revisions  int                     `json:"revisions" yaml:"revisions"`
	ByPriority map[models.Priority]int `json:"by_priority" yaml:"by_priority"`
}

// ShowFailed reports whether the failed count should be surfaced.
func (s Stats) ShowFailed() bool {
	return s.Failed > 0
}

// ComputeStats counts tasks in a single pass.
func ComputeStats(tasks []models.Task) Stats {
	st := Stats{ByPriority: make(map[models.Priority]int)}
	for _, t := range tasks {
		st.Total++
		st.Revisions += t.RevisionCount
		if t.Priority != "" {
			st.ByPriority[t.Priority]++
		}
		stage, ok := normalize(t.Stage)
		bucket := UnknownBucket
		if ok {
			bucket = SimplifiedBucket(stage)
		}
		switch bucket {
		case WaitingBucket:
			st.Waiting++
		case WorkingBucket:
			st.Working++
			if t.RevisionCount > 0 {
				st.InRevision++
			}
		case DoneBucket:
			st.Done++
		case CancelledBucket:
			st.Cancelled++
		default:
			st.Unknown++
		}
		if stage == models.QAFailedStage {
			st.Failed++
		}
	}
	return st
}

// Board is a grouped and counted view of a task collection.
type Board struct {
	Mode    ViewMode `json:"mode" yaml:"mode"`
	Buckets Buckets  `json:"buckets" yaml:"buckets"`
	Stats   Stats    `json:"stats" yaml:"stats"`
}

// BuildBoard filters tasks and groups the result.
func BuildBoard(tasks []models.Task, spec FilterSpec, mode ViewMode) Board {
	filtered := Filter(tasks, spec)
	return Board{
		Mode:    mode,
		Buckets: GroupByStage(filtered, mode),
		Stats:   ComputeStats(filtered),
	}
}
