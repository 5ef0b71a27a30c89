package workflow

import (
	"neighborhood-resolver/models"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/samber/lo"
)

// transitions is the legal status graph. Terminal statuses have no outgoing edges.
var transitions = map[models.IssueStatus]mapset.Set[models.IssueStatus]{
	models.Pending:    mapset.NewSet(models.InProgress, models.Rejected),
	models.InProgress: mapset.NewSet(models.Completed),
}

// CanTransition reports whether from → to is an edge of the status graph.
func CanTransition(from, to models.IssueStatus) bool {
	next, ok := transitions[from]
	return ok && next.Contains(to)
}

// Predecessors returns the statuses that may move to `to`, in lifecycle order.
func Predecessors(to models.IssueStatus) []models.IssueStatus {
	return lo.Filter(models.Statuses, func(from models.IssueStatus, _ int) bool {
		return CanTransition(from, to)
	})
}

// Next lists the statuses reachable from `from` in one step.
func Next(from models.IssueStatus) []models.IssueStatus {
	return lo.Filter(models.Statuses, func(to models.IssueStatus, _ int) bool {
		return CanTransition(from, to)
	})
}
