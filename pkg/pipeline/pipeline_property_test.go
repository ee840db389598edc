package pipeline

import (
	"fmt"
	"testing"

	"github.com/ignatij/taskflow/pkg/models"
	"pgregory.net/rapid"
)

func drawStage(rt *rapid.T, label string) models.Stage {
	raw := append([]models.Stage{"ready-for-qa", "Done", "archived", ""}, models.Stages...)
	return rapid.SampledFrom(raw).Draw(rt, label)
}

// TestProperty_GroupByStagePartitions verifies that every task lands in
// exactly one bucket in both views.
func TestProperty_GroupByStagePartitions(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 50).Draw(rt, "num_tasks")
		tasks := make([]models.Task, n)
		for i := range tasks {
			tasks[i] = models.Task{ID: fmt.Sprintf("t%d", i), Stage: drawStage(rt, "stage")}
		}
		mode := rapid.SampledFrom([]ViewMode{ViewSimplified, ViewDetailed}).Draw(rt, "mode")

		seen := make(map[string]int, n)
		names := make(map[string]bool)
		for _, b := range GroupByStage(tasks, mode) {
			if names[b.Name] {
				rt.Fatalf("bucket %q appears twice", b.Name)
			}
			names[b.Name] = true
			for _, task := range b.Tasks {
				seen[task.ID]++
			}
		}
		for _, task := range tasks {
			if seen[task.ID] != 1 {
				rt.Fatalf("task %s (stage %q) appears in %d buckets", task.ID, task.Stage, seen[task.ID])
			}
		}
		if len(seen) != n {
			rt.Fatalf("buckets hold %d tasks, want %d", len(seen), n)
		}

		st := ComputeStats(tasks)
		unknown := 0
		if b, ok := GroupByStage(tasks, ViewSimplified).Get(UnknownBucket); ok {
			unknown = len(b.Tasks)
		}
		if st.Unknown != unknown {
			rt.Fatalf("stats count %d unknown tasks, board has %d", st.Unknown, unknown)
		}
		if st.Waiting+st.Working+st.Done+st.Cancelled+st.Unknown != st.Total {
			rt.Fatalf("stats do not add up: %+v", st)
		}
	})
}

// TestProperty_FilterIsPure verifies that filtering returns a subset in
// input order and leaves the input alone.
func TestProperty_FilterIsPure(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(rt, "num_tasks")
		tasks := make([]models.Task, n)
		for i := range tasks {
			tasks[i] = models.Task{
				ID:       fmt.Sprintf("t%d", i),
				Title:    rapid.StringMatching(`[a-zA-Z ]{0,12}`).Draw(rt, "title"),
				Stage:    drawStage(rt, "stage"),
				ClientID: rapid.SampledFrom([]string{"acme", "globex"}).Draw(rt, "client"),
			}
		}
		snapshot := append([]models.Task(nil), tasks...)
		spec := FilterSpec{
			Search:   rapid.StringMatching(`[a-z]{0,2}`).Draw(rt, "search"),
			ClientID: rapid.SampledFrom([]string{"", "acme"}).Draw(rt, "client_filter"),
			Scope:    rapid.SampledFrom([]Scope{"", ScopeAll, ScopeQAQueue, ScopeActive}).Draw(rt, "scope"),
		}

		out := Filter(tasks, spec)
		for i := range tasks {
			if tasks[i] != snapshot[i] {
				rt.Fatalf("input task %d modified", i)
			}
		}
		j := 0
		for _, o := range out {
			for j < len(tasks) && tasks[j].ID != o.ID {
				j++
			}
			if j == len(tasks) {
				rt.Fatalf("output task %s out of order or not in input", o.ID)
			}
			j++
		}
	})
}

// TestProperty_InternalNotesHiddenFromClients verifies that a client read
// never includes internal notes and staff reads include everything.
func TestProperty_InternalNotesHiddenFromClients(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 20).Draw(rt, "num_notes")
		notes := make([]models.Note, n)
		internal := 0
		for i := range notes {
			notes[i] = models.Note{ID: fmt.Sprintf("n%d", i), Internal: rapid.Bool().Draw(rt, "internal")}
			if notes[i].Internal {
				internal++
			}
		}

		for _, note := range VisibleNotes(notes, models.ClientRole) {
			if note.Internal {
				rt.Fatalf("client can see internal note %s", note.ID)
			}
		}
		if got := len(VisibleNotes(notes, models.ClientRole)); got != n-internal {
			rt.Fatalf("client sees %d notes, want %d", got, n-internal)
		}
		role := rapid.SampledFrom([]models.Role{models.AdminRole, models.ManagerRole, models.DeveloperRole, models.QARole}).Draw(rt, "role")
		if got := len(VisibleNotes(notes, role)); got != n {
			rt.Fatalf("%s sees %d notes, want %d", role, got, n)
		}
	})
}
