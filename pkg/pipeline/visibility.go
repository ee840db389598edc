package pipeline

import "github.com/ignatij/taskflow/pkg/models"

// CanSeeNote reports whether a viewer with role may read n. Clients never
// see internal notes; every other role sees everything.
func CanSeeNote(n models.Note, role models.Role) bool {
	return !(n.Internal && role == models.ClientRole)
}

// VisibleNotes returns the notes role may read, preserving order.
func VisibleNotes(notes []models.Note, role models.Role) []models.Note {
	out := make([]models.Note, 0, len(notes))
	for _, n := range notes {
		if CanSeeNote(n, role) {
			out = append(out, n)
		}
	}
	return out
}
