package models

import "time"

type ChangeKind string

const (
	IssueCreated   ChangeKind = "issue.created"
	IssueUpdated   ChangeKind = "issue.updated"
	ProfileUpdated ChangeKind = "profile.updated"
)

// ChangeEvent tells subscribers which collection to re-fetch.
type ChangeEvent struct {
	Kind   ChangeKind  `json:"kind"`
	ID     string      `json:"id"`
	Status IssueStatus `json:"status,omitempty"`
	At     time.Time   `json:"at"`
}

func (e ChangeEvent) Collection() string {
	if e.Kind == ProfileUpdated {
		return "profiles"
	}
	return "issues"
}
