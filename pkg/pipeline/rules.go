package pipeline

import "github.com/ignatij/taskflow/pkg/models"

type edge struct {
	from, to models.Stage
}

// transitions maps every legal edge to the roles allowed to request it.
// Cancellation is handled separately: any non-terminal stage may be
// cancelled by an admin.
var transitions = map[edge][]models.Role{
	{models.PendingStage, models.InProgressStage}:    {models.AdminRole, models.ManagerRole, models.DeveloperRole},
	{models.InProgressStage, models.ReadyForQAStage}: {models.AdminRole, models.ManagerRole, models.DeveloperRole},
	{models.ReadyForQAStage, models.InQAStage}:       {models.AdminRole, models.ManagerRole, models.QARole},
	{models.InQAStage, models.QAPassedStage}:         {models.AdminRole, models.ManagerRole, models.QARole},
	{models.InQAStage, models.QAFailedStage}:         {models.AdminRole, models.ManagerRole, models.QARole},
	{models.QAFailedStage, models.InProgressStage}:   {models.AdminRole, models.ManagerRole, models.DeveloperRole, models.QARole},
	{models.QAPassedStage, models.DeliveredStage}:    {models.AdminRole, models.ManagerRole},
	{models.DeliveredStage, models.CompletedStage}:   {models.AdminRole, models.ManagerRole, models.ClientRole},
}

var cancelRoles = []models.Role{models.AdminRole}

// AllowedRoles returns the roles permitted to move a task from one stage to
// another, or nil when the edge does not exist.
func AllowedRoles(from, to models.Stage) []models.Role {
	if from.IsTerminal() {
		return nil
	}
	if to == models.CancelledStage {
		return cancelRoles
	}
	return transitions[edge{from, to}]
}

// IsLegalEdge reports whether the edge exists for some role.
func IsLegalEdge(from, to models.Stage) bool {
	return len(AllowedRoles(from, to)) > 0
}

// CanTransition reports whether role may move a task from one stage to
// another.
func CanTransition(from, to models.Stage, role models.Role) bool {
	for _, r := range AllowedRoles(from, to) {
		if r == role {
			return true
		}
	}
	return false
}

// Successors lists the stages reachable from s in one step by role, in
// pipeline order. Useful for rendering the available actions.
func Successors(s models.Stage, role models.Role) []models.Stage {
	var out []models.Stage
	for _, to := range models.Stages {
		if CanTransition(s, to, role) {
			out = append(out, to)
		}
	}
	return out
}
