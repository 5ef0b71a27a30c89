package workflow

import (
	"errors"
	"fmt"

	"neighborhood-resolver/models"
)

var (
	ErrUnauthorized      = errors.New("only authority users can change issue status")
	ErrNotFound          = errors.New("issue not found")
	ErrInvalidStatus     = errors.New("unknown status")
	ErrInvalidPoints     = errors.New("points out of range")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrAwardFailed       = errors.New("status updated but points were not awarded")
	ErrAwardSettled      = errors.New("award already applied or in progress")
	ErrNoAward           = errors.New("issue has no award")
	ErrTransient         = errors.New("temporarily unavailable, try again")
)

// TransitionError names the rejected edge.
type TransitionError struct {
	From models.IssueStatus
	To   models.IssueStatus
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move issue from %s to %s", e.From, e.To)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// AwardError is returned when the status change committed but the ledger did
// not apply the points. Issue holds the committed state; the award can be
// retried without repeating the status write.
type AwardError struct {
	Issue *models.Issue
	Err   error
}

func (e *AwardError) Error() string {
	return fmt.Sprintf("%v: %v", ErrAwardFailed, e.Err)
}

func (e *AwardError) Unwrap() []error { return []error{ErrAwardFailed, e.Err} }
