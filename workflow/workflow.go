package workflow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"neighborhood-resolver/ledger"
	"neighborhood-resolver/models"
	"neighborhood-resolver/repository"

	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IssueStore is the subset of the issue repository the engine needs.
type IssueStore interface {
	Get(ctx context.Context, id primitive.ObjectID) (*models.Issue, error)
	CompareAndSetStatus(ctx context.Context, id primitive.ObjectID, from []models.IssueStatus, to models.IssueStatus, award *models.Award) (*models.Issue, error)
	ClaimAward(ctx context.Context, id primitive.ObjectID, leaseExpired time.Time) (*models.Issue, error)
	SettleAward(ctx context.Context, id primitive.ObjectID, state models.AwardState, lastErr string) error
	PendingAwards(ctx context.Context, olderThan time.Time) ([]models.Issue, error)
}

type PointsAwarder interface {
	Award(ctx context.Context, userID primitive.ObjectID, delta int64, reason ledger.Reason) (int64, error)
	// Applied reports whether a balance change for reason was already recorded.
	Applied(ctx context.Context, reason ledger.Reason) (bool, error)
}

// Authorizer returns the stored role of a user.
type Authorizer interface {
	Role(ctx context.Context, id primitive.ObjectID) (models.UserType, error)
}

type Publisher interface {
	Publish(ctx context.Context, event models.ChangeEvent) error
}

type Notifier interface {
	IssueStatusChanged(ctx context.Context, issue *models.Issue) error
}

const (
	// AwardLease is how long a claimed award may stay in applying before
	// another payout may reclaim it.
	AwardLease = time.Minute

	payoutTimeout = 15 * time.Second
)

type Config struct {
	DefaultPoints int64
	MaxPoints     int64
}

type TransitionOptions struct {
	// Points overrides the default award when completing. Zero means default.
	Points int64
}

// Outcome of a transition. Changed is false when the issue already had the
// requested status; nothing was written in that case.
type Outcome struct {
	Issue   *models.Issue `json:"issue"`
	Changed bool          `json:"changed"`
	Award   *models.Award `json:"award,omitempty"`
}

// Engine enforces the status graph and awards points at most once per issue.
type Engine struct {
	issues    IssueStore
	points    PointsAwarder
	auth      Authorizer
	publisher Publisher
	notifier  Notifier
	cfg       Config
	now       func() time.Time
}

// NewEngine wires the engine. publisher and notifier may be nil.
func NewEngine(issues IssueStore, points PointsAwarder, auth Authorizer, publisher Publisher, notifier Notifier, cfg Config) *Engine {
	return &Engine{
		issues:    issues,
		points:    points,
		auth:      auth,
		publisher: publisher,
		notifier:  notifier,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Transition moves an issue to target on behalf of actorID.
//
// The write is a single conditional update on the legal predecessors of
// target, so of several concurrent callers only one commits; the others see
// the new status and get an unchanged outcome. Completing an issue writes the
// award record in the same update and then applies it through the ledger. If
// the ledger fails the status stays committed and an *AwardError is returned.
func (e *Engine) Transition(ctx context.Context, issueID primitive.ObjectID, target models.IssueStatus, actorID primitive.ObjectID, opts TransitionOptions) (*Outcome, error) {
	if !target.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, target)
	}
	if err := e.authorize(ctx, actorID); err != nil {
		return nil, err
	}

	var award *models.Award
	if target == models.Completed {
		points, err := e.awardPoints(opts.Points)
		if err != nil {
			return nil, err
		}
		award = &models.Award{
			Points:    points,
			State:     models.AwardPending,
			AwardedBy: actorID,
			UpdatedAt: e.now(),
		}
	}

	current, err := e.issues.Get(ctx, issueID)
	if err != nil {
		return nil, storeErr(err)
	}
	if current.Status == target {
		return &Outcome{Issue: current}, nil
	}
	if !CanTransition(current.Status, target) {
		return nil, &TransitionError{From: current.Status, To: target}
	}

	updated, err := e.issues.CompareAndSetStatus(ctx, issueID, Predecessors(target), target, award)
	if errors.Is(err, repository.ErrPreconditionFailed) {
		return e.lostRace(ctx, issueID, target)
	}
	if err != nil {
		return nil, storeErr(err)
	}

	log.WithFields(log.Fields{
		"issue": issueID.Hex(),
		"from":  current.Status,
		"to":    target,
		"actor": actorID.Hex(),
	}).Info("workflow: status changed")

	outcome := &Outcome{Issue: updated, Changed: true}
	if award == nil {
		e.announce(ctx, updated, false)
		return outcome, nil
	}

	settled, payErr := e.payout(ctx, issueID)
	if settled == nil {
		e.announce(ctx, updated, false)
		outcome.Award = updated.Award
		// the retry job claimed it first
		if errors.Is(payErr, ErrAwardSettled) {
			return outcome, nil
		}
		return nil, &AwardError{Issue: updated, Err: payErr}
	}

	outcome.Issue = settled
	outcome.Award = settled.Award
	e.announce(ctx, settled, payErr == nil)
	if payErr != nil {
		return nil, &AwardError{Issue: settled, Err: payErr}
	}
	return outcome, nil
}

// lostRace re-reads an issue whose conditional update did not match.
func (e *Engine) lostRace(ctx context.Context, issueID primitive.ObjectID, target models.IssueStatus) (*Outcome, error) {
	latest, err := e.issues.Get(ctx, issueID)
	if err != nil {
		return nil, storeErr(err)
	}
	if latest.Status == target {
		return &Outcome{Issue: latest}, nil
	}
	return nil, &TransitionError{From: latest.Status, To: target}
}

// RetryAward re-applies a pending or failed award, or one whose applying lease
// ran out. Applied awards are never paid twice.
func (e *Engine) RetryAward(ctx context.Context, issueID, actorID primitive.ObjectID) (*Outcome, error) {
	if err := e.authorize(ctx, actorID); err != nil {
		return nil, err
	}

	issue, err := e.issues.Get(ctx, issueID)
	if err != nil {
		return nil, storeErr(err)
	}
	if issue.Award == nil {
		return nil, ErrNoAward
	}

	settled, err := e.payout(ctx, issueID)
	if settled == nil {
		return nil, err
	}
	if err != nil {
		return nil, &AwardError{Issue: settled, Err: err}
	}

	e.publish(ctx, models.ChangeEvent{Kind: models.ProfileUpdated, ID: settled.ReporterID.Hex(), At: e.now()})
	return &Outcome{Issue: settled, Changed: true, Award: settled.Award}, nil
}

// RetryPending applies awards left pending, failed or stuck in applying for
// longer than olderThan and returns how many were applied.
func (e *Engine) RetryPending(ctx context.Context, olderThan time.Duration) (int, error) {
	issues, err := e.issues.PendingAwards(ctx, e.now().Add(-olderThan))
	if err != nil {
		return 0, storeErr(err)
	}

	applied := 0
	for _, issue := range issues {
		if ctx.Err() != nil {
			return applied, ctx.Err()
		}

		settled, err := e.payout(ctx, issue.ID)
		if err != nil {
			if !errors.Is(err, ErrAwardSettled) {
				log.WithField("issue", issue.ID.Hex()).Warnf("workflow: award retry failed: %v", err)
			}
			continue
		}

		applied++
		e.publish(ctx, models.ChangeEvent{Kind: models.ProfileUpdated, ID: settled.ReporterID.Hex(), At: e.now()})
	}
	return applied, nil
}

// payout claims the award and applies it. The claim is a conditional update,
// so an award can only be in flight once; an applying award whose lease ran out
// can be claimed again. A nil issue means the claim failed; otherwise the
// error, if any, is the ledger's.
//
// The sequence runs detached from the caller's cancellation so a dropped
// request cannot strand the award between claim and settle.
func (e *Engine) payout(ctx context.Context, issueID primitive.ObjectID) (*models.Issue, error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), payoutTimeout)
	defer cancel()

	claimed, err := e.issues.ClaimAward(ctx, issueID, e.now().Add(-AwardLease))
	if errors.Is(err, repository.ErrPreconditionFailed) {
		return nil, ErrAwardSettled
	}
	if err != nil {
		return nil, storeErr(err)
	}

	reason := ledger.Reason{Kind: models.ReasonIssueResolved, Reference: issueID.Hex()}
	awardErr := e.apply(ctx, claimed, reason)

	state, lastErr := models.AwardApplied, ""
	if awardErr != nil {
		state, lastErr = models.AwardFailed, awardErr.Error()
	}

	if err := e.issues.SettleAward(ctx, issueID, state, lastErr); err != nil {
		// left in applying until the lease runs out
		log.WithFields(log.Fields{
			"issue": issueID.Hex(),
			"state": state,
		}).Errorf("workflow: failed to record award outcome: %v", err)
	}

	claimed.Award.State = state
	claimed.Award.LastError = lastErr
	claimed.Award.UpdatedAt = e.now()
	return claimed, awardErr
}

// apply pays the award unless an earlier attempt already reached the ledger.
func (e *Engine) apply(ctx context.Context, claimed *models.Issue, reason ledger.Reason) error {
	if claimed.Award.Attempts > 1 {
		done, err := e.points.Applied(ctx, reason)
		if err != nil {
			return err
		}
		if done {
			log.WithField("issue", claimed.ID.Hex()).Info("workflow: award already in ledger, settling without paying")
			return nil
		}
	}

	_, err := e.points.Award(ctx, claimed.ReporterID, claimed.Award.Points, reason)
	return err
}

func (e *Engine) authorize(ctx context.Context, actorID primitive.ObjectID) error {
	role, err := e.auth.Role(ctx, actorID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrUnauthorized
	}
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransient, err)
	}
	if role != models.Authority {
		return ErrUnauthorized
	}
	return nil
}

func (e *Engine) awardPoints(requested int64) (int64, error) {
	if requested == 0 {
		return e.cfg.DefaultPoints, nil
	}
	if requested < 0 || requested > e.cfg.MaxPoints {
		return 0, fmt.Errorf("%w: %d not in 1..%d", ErrInvalidPoints, requested, e.cfg.MaxPoints)
	}
	return requested, nil
}

func (e *Engine) announce(ctx context.Context, issue *models.Issue, awarded bool) {
	e.publish(ctx, models.ChangeEvent{Kind: models.IssueUpdated, ID: issue.ID.Hex(), Status: issue.Status, At: e.now()})
	if awarded {
		e.publish(ctx, models.ChangeEvent{Kind: models.ProfileUpdated, ID: issue.ReporterID.Hex(), At: e.now()})
	}

	if e.notifier == nil {
		return
	}
	if err := e.notifier.IssueStatusChanged(ctx, issue); err != nil {
		log.WithField("issue", issue.ID.Hex()).Warnf("workflow: push notification failed: %v", err)
	}
}

func (e *Engine) publish(ctx context.Context, event models.ChangeEvent) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		log.WithField("kind", event.Kind).Warnf("workflow: publish failed: %v", err)
	}
}

func storeErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotFound
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}
