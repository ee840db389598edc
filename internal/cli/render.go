package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/ignatij/taskflow/pkg/models"
	"github.com/ignatij/taskflow/pkg/pipeline"
	"github.com/ignatij/taskflow/pkg/service"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("230")).
			Background(lipgloss.Color("62")).
			Padding(0, 1)

	columnStyle = lipgloss.NewStyle().
			BorderStyle(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("240")).
			Padding(0, 1).
			Width(28)

	headerStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("62"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))

	stageWaiting   = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	stageWorking   = lipgloss.NewStyle().Foreground(lipgloss.Color("226"))
	stageReview    = lipgloss.NewStyle().Foreground(lipgloss.Color("141"))
	stageFailed    = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	stageDone      = lipgloss.NewStyle().Foreground(lipgloss.Color("46"))
	stageCancelled = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
)

func styleForStage(s models.Stage) lipgloss.Style {
	switch s {
	case models.PendingStage:
		return stageWaiting
	case models.InProgressStage:
		return stageWorking
	case models.ReadyForQAStage, models.InQAStage:
		return stageReview
	case models.QAFailedStage:
		return stageFailed
	case models.QAPassedStage, models.DeliveredStage, models.CompletedStage:
		return stageDone
	case models.CancelledStage:
		return stageCancelled
	}
	return lipgloss.NewStyle()
}

// print writes v as JSON or YAML when requested, otherwise calls text.
func (a *app) print(cmd *cobra.Command, v any, text func(w io.Writer)) error {
	w := cmd.OutOrStdout()
	switch strings.ToLower(a.output) {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		defer enc.Close()
		return enc.Encode(v)
	case "", "text":
		text(w)
		return nil
	}
	return errors.Errorf("unknown output format %q (want text, json or yaml)", a.output)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Format(time.RFC3339)
}

func deref(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

func writeTaskLine(w io.Writer, t models.Task) {
	fmt.Fprintf(w, "- %s  %-12s  %-8s  %s  (client %s, id %s)\n",
		t.Code, styleForStage(t.Stage).Render(string(t.Stage.Display())), t.Priority, t.Title, t.ClientID, t.ID)
}

func writeTask(w io.Writer, t models.Task) {
	fmt.Fprintln(w, titleStyle.Render(t.Code+" "+t.Title))
	fmt.Fprintf(w, "ID:          %s\n", t.ID)
	fmt.Fprintf(w, "Stage:       %s\n", styleForStage(t.Stage).Render(string(t.Stage)))
	fmt.Fprintf(w, "Priority:    %s\n", t.Priority)
	if t.Category != "" {
		fmt.Fprintf(w, "Category:    %s\n", t.Category)
	}
	fmt.Fprintf(w, "Client:      %s\n", t.ClientID)
	fmt.Fprintf(w, "Developer:   %s\n", deref(t.DeveloperID))
	fmt.Fprintf(w, "Reviewer:    %s\n", deref(t.ReviewerID))
	fmt.Fprintf(w, "Revisions:   %d\n", t.RevisionCount)
	fmt.Fprintf(w, "Created:     %s\n", t.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(w, "Started:     %s\n", formatTime(t.StartedAt))
	fmt.Fprintf(w, "QA started:  %s\n", formatTime(t.QAStartedAt))
	fmt.Fprintf(w, "Delivered:   %s\n", formatTime(t.DeliveredAt))
	fmt.Fprintf(w, "Completed:   %s\n", formatTime(t.CompletedAt))
	if t.CancelledAt != nil {
		fmt.Fprintf(w, "Cancelled:   %s\n", formatTime(t.CancelledAt))
	}
	if t.Description != "" {
		fmt.Fprintf(w, "\n%s\n", t.Description)
	}
}

func writeHistory(w io.Writer, entries []models.StatusHistoryEntry) {
	for _, e := range entries {
		from := "(intake)"
		if e.FromStage != nil {
			from = string(*e.FromStage)
		}
		fmt.Fprintf(w, "%s  %s -> %s  by %s (%s)", e.CreatedAt.Format(time.RFC3339), from, e.ToStage, e.ActorID, e.ActorRole)
		if e.Note != "" {
			fmt.Fprintf(w, "  %s", mutedStyle.Render(e.Note))
		}
		fmt.Fprintln(w)
	}
}

func writeNote(w io.Writer, n models.Note) {
	label := string(n.Kind)
	if n.Internal {
		label += ", internal"
	}
	fmt.Fprintf(w, "%s  %s (%s) [%s]: %s\n", n.CreatedAt.Format(time.RFC3339), n.AuthorID, n.AuthorRole, label, n.Body)
	for _, att := range n.Attachments {
		fmt.Fprintf(w, "    attachment: %s\n", att.URL)
	}
}

func writeActivity(w io.Writer, items []service.ActivityItem) {
	for _, item := range items {
		switch item.Kind {
		case service.HistoryActivity:
			writeHistory(w, []models.StatusHistoryEntry{*item.Entry})
		case service.NoteActivity:
			writeNote(w, *item.Note)
		}
	}
}

// renderBoard lays out one column per bucket with the stats above.
func renderBoard(b pipeline.Board) string {
	st := b.Stats
	summary := fmt.Sprintf("total %d  waiting %d  working %d  done %d  cancelled %d  revisions %d",
		st.Total, st.Waiting, st.Working, st.Done, st.Cancelled, st.Revisions)
	if st.InRevision > 0 {
		summary += fmt.Sprintf("  in revision %d", st.InRevision)
	}
	if st.ShowFailed() {
		summary += fmt.Sprintf("  failed %d", st.Failed)
	}
	if st.Unknown > 0 {
		summary += fmt.Sprintf("  unknown %d", st.Unknown)
	}

	columns := make([]string, 0, len(b.Buckets))
	for _, bucket := range b.Buckets {
		var sb strings.Builder
		sb.WriteString(headerStyle.Render(fmt.Sprintf("%s (%d)", bucket.Name, len(bucket.Tasks))))
		for _, t := range bucket.Tasks {
			sb.WriteString("\n")
			sb.WriteString(styleForStage(t.Stage).Render(t.Code))
			sb.WriteString(" " + t.Title)
		}
		columns = append(columns, columnStyle.Render(sb.String()))
	}
	return lipgloss.JoinVertical(lipgloss.Left,
		titleStyle.Render("Board ("+string(b.Mode)+")"),
		mutedStyle.Render(summary),
		lipgloss.JoinHorizontal(lipgloss.Top, columns...),
	)
}

func writeBoards(w io.Writer, boards map[string]pipeline.Board) {
	ids := make([]string, 0, len(boards))
	for id := range boards {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		fmt.Fprintln(w, headerStyle.Render("Client "+id))
		fmt.Fprintln(w, renderBoard(boards[id]))
	}
}
