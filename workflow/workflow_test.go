package workflow

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"neighborhood-resolver/ledger"
	"neighborhood-resolver/models"
	"neighborhood-resolver/repository"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type memIssues struct {
	mu     sync.Mutex
	issues map[primitive.ObjectID]models.Issue
}

func clone(issue models.Issue) *models.Issue {
	if issue.Award != nil {
		award := *issue.Award
		issue.Award = &award
	}
	return &issue
}

func (m *memIssues) Get(_ context.Context, id primitive.ObjectID) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return clone(issue), nil
}

func (m *memIssues) CompareAndSetStatus(_ context.Context, id primitive.ObjectID, from []models.IssueStatus, to models.IssueStatus, award *models.Award) (*models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok || !lo.Contains(from, issue.Status) {
		return nil, repository.ErrPreconditionFailed
	}
	issue.Status = to
	issue.UpdatedAt = time.Now()
	if award != nil {
		copied := *award
		issue.Award = &copied
	}
	m.issues[id] = issue
	return clone(issue), nil
}

func (m *memIssues) ClaimAward(ctx context.Context, id primitive.ObjectID, leaseExpired time.Time) (*models.Issue, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok || issue.Award == nil {
		return nil, repository.ErrPreconditionFailed
	}
	switch issue.Award.State {
	case models.AwardPending, models.AwardFailed:
	case models.AwardApplying:
		if !issue.Award.UpdatedAt.Before(leaseExpired) {
			return nil, repository.ErrPreconditionFailed
		}
	default:
		return nil, repository.ErrPreconditionFailed
	}
	issue = *clone(issue)
	issue.Award.State = models.AwardApplying
	issue.Award.Attempts++
	issue.Award.UpdatedAt = time.Now()
	m.issues[id] = issue
	return clone(issue), nil
}

func (m *memIssues) SettleAward(ctx context.Context, id primitive.ObjectID, state models.AwardState, lastErr string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	issue, ok := m.issues[id]
	if !ok || issue.Award == nil || issue.Award.State != models.AwardApplying {
		return repository.ErrPreconditionFailed
	}
	issue = *clone(issue)
	issue.Award.State = state
	issue.Award.LastError = lastErr
	issue.Award.UpdatedAt = time.Now()
	m.issues[id] = issue
	return nil
}

func (m *memIssues) PendingAwards(_ context.Context, olderThan time.Time) ([]models.Issue, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Issue
	for _, issue := range m.issues {
		if issue.Award == nil || !issue.Award.UpdatedAt.Before(olderThan) {
			continue
		}
		if issue.Award.State != models.AwardApplied {
			out = append(out, *clone(issue))
		}
	}
	return out, nil
}

type memLedger struct {
	mu       sync.Mutex
	balances map[primitive.ObjectID]int64
	applied  map[string]bool
	calls    int
	fail     error
	// onAward runs before the balance changes, outside the lock.
	onAward func()
}

func (l *memLedger) Award(ctx context.Context, userID primitive.ObjectID, delta int64, reason ledger.Reason) (int64, error) {
	if l.onAward != nil {
		l.onAward()
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.fail != nil {
		return 0, l.fail
	}
	l.balances[userID] += delta
	l.applied[reason.Reference] = true
	return l.balances[userID], nil
}

func (l *memLedger) Applied(ctx context.Context, reason ledger.Reason) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.applied[reason.Reference], nil
}

func (l *memLedger) balance(id primitive.ObjectID) int64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[id]
}

type roles map[primitive.ObjectID]models.UserType

func (r roles) Role(_ context.Context, id primitive.ObjectID) (models.UserType, error) {
	role, ok := r[id]
	if !ok {
		return "", repository.ErrNotFound
	}
	return role, nil
}

type recorder struct {
	mu     sync.Mutex
	events []models.ChangeEvent
	pushed []models.IssueStatus
}

func (r *recorder) Publish(_ context.Context, event models.ChangeEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return nil
}

func (r *recorder) IssueStatusChanged(_ context.Context, issue *models.Issue) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pushed = append(r.pushed, issue.Status)
	return errors.New("device unreachable")
}

type fixture struct {
	engine    *Engine
	issues    *memIssues
	ledger    *memLedger
	events    *recorder
	authority primitive.ObjectID
	resident  primitive.ObjectID
}

func newFixture() *fixture {
	f := &fixture{
		issues:    &memIssues{issues: map[primitive.ObjectID]models.Issue{}},
		ledger:    &memLedger{balances: map[primitive.ObjectID]int64{}, applied: map[string]bool{}},
		events:    &recorder{},
		authority: primitive.NewObjectID(),
		resident:  primitive.NewObjectID(),
	}
	auth := roles{f.authority: models.Authority, f.resident: models.Resident}
	f.engine = NewEngine(f.issues, f.ledger, auth, f.events, f.events, Config{DefaultPoints: 50, MaxPoints: 1000})
	return f
}

func (f *fixture) seed(status models.IssueStatus) primitive.ObjectID {
	id := primitive.NewObjectID()
	f.issues.issues[id] = models.Issue{
		ID:         id,
		Title:      "Pothole on Main",
		Status:     status,
		ReporterID: f.resident,
		CreatedAt:  time.Now(),
	}
	return id
}

func TestCompletionAwardsOnce(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.seed(models.InProgress)

	outcome, err := f.engine.Transition(ctx, id, models.Completed, f.authority, TransitionOptions{})
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.Equal(t, models.Completed, outcome.Issue.Status)
	require.NotNil(t, outcome.Award)
	assert.Equal(t, models.AwardApplied, outcome.Award.State)
	assert.Equal(t, int64(50), f.ledger.balance(f.resident))

	again, err := f.engine.Transition(ctx, id, models.Completed, f.authority, TransitionOptions{Points: 100})
	require.NoError(t, err)
	assert.False(t, again.Changed)
	assert.Equal(t, int64(50), f.ledger.balance(f.resident))
	assert.Equal(t, 1, f.ledger.calls)

	kinds := lo.Map(f.events.events, func(e models.ChangeEvent, _ int) models.ChangeKind { return e.Kind })
	assert.Equal(t, []models.ChangeKind{models.IssueUpdated, models.ProfileUpdated}, kinds)
	assert.Equal(t, []models.IssueStatus{models.Completed}, f.events.pushed)
}

func TestCustomPoints(t *testing.T) {
	f := newFixture()
	id := f.seed(models.InProgress)

	_, err := f.engine.Transition(context.Background(), id, models.Completed, f.authority, TransitionOptions{Points: 75})
	require.NoError(t, err)
	assert.Equal(t, int64(75), f.ledger.balance(f.resident))
}

func TestNonAuthorityCannotTransition(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.seed(models.InProgress)

	for _, actor := range []primitive.ObjectID{f.resident, primitive.NewObjectID()} {
		_, err := f.engine.Transition(ctx, id, models.Completed, actor, TransitionOptions{})
		assert.ErrorIs(t, err, ErrUnauthorized)
	}

	issue, err := f.issues.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.InProgress, issue.Status)
	assert.Zero(t, f.ledger.calls)
}

func TestConcurrentCompletionAwardsOnce(t *testing.T) {
	f := newFixture()
	id := f.seed(models.InProgress)

	const callers = 8
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		changed int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			outcome, err := f.engine.Transition(context.Background(), id, models.Completed, f.authority, TransitionOptions{})
			if !assert.NoError(t, err) {
				return
			}
			if outcome.Changed {
				mu.Lock()
				changed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, changed)
	assert.Equal(t, 1, f.ledger.calls)
	assert.Equal(t, int64(50), f.ledger.balance(f.resident))
}

func TestTransitionErrors(t *testing.T) {
	tests := []struct {
		name    string
		from    models.IssueStatus
		to      models.IssueStatus
		points  int64
		missing bool
		want    error
	}{
		{name: "skip in progress", from: models.Pending, to: models.Completed, want: ErrInvalidTransition},
		{name: "reopen rejected", from: models.Rejected, to: models.Pending, want: ErrInvalidTransition},
		{name: "complete rejected", from: models.Rejected, to: models.Completed, want: ErrInvalidTransition},
		{name: "unknown status", from: models.Pending, to: "archived", want: ErrInvalidStatus},
		{name: "negative points", from: models.InProgress, to: models.Completed, points: -5, want: ErrInvalidPoints},
		{name: "points above max", from: models.InProgress, to: models.Completed, points: 5000, want: ErrInvalidPoints},
		{name: "missing issue", from: models.Pending, to: models.InProgress, missing: true, want: ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			id := f.seed(tt.from)
			if tt.missing {
				id = primitive.NewObjectID()
			}

			_, err := f.engine.Transition(context.Background(), id, tt.to, f.authority, TransitionOptions{Points: tt.points})
			assert.ErrorIs(t, err, tt.want)
			assert.Zero(t, f.ledger.calls)
		})
	}
}

func TestTransitionErrorNamesStatuses(t *testing.T) {
	f := newFixture()
	id := f.seed(models.Pending)

	_, err := f.engine.Transition(context.Background(), id, models.Completed, f.authority, TransitionOptions{})

	var transitionErr *TransitionError
	require.ErrorAs(t, err, &transitionErr)
	assert.Equal(t, models.Pending, transitionErr.From)
	assert.Equal(t, models.Completed, transitionErr.To)
}

func TestLegalPath(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.seed(models.Pending)

	outcome, err := f.engine.Transition(ctx, id, models.InProgress, f.authority, TransitionOptions{})
	require.NoError(t, err)
	assert.True(t, outcome.Changed)
	assert.Nil(t, outcome.Award)
	assert.Zero(t, f.ledger.calls)

	rejected := f.seed(models.Pending)
	outcome, err = f.engine.Transition(ctx, rejected, models.Rejected, f.authority, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.Rejected, outcome.Issue.Status)
}

func TestAwardFailureThenRetry(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	id := f.seed(models.InProgress)
	f.ledger.fail = ledger.ErrTransient

	_, err := f.engine.Transition(ctx, id, models.Completed, f.authority, TransitionOptions{})
	require.ErrorIs(t, err, ErrAwardFailed)
	assert.ErrorIs(t, err, ledger.ErrTransient)

	var awardErr *AwardError
	require.ErrorAs(t, err, &awardErr)
	assert.Equal(t, models.Completed, awardErr.Issue.Status)
	assert.Equal(t, models.AwardFailed, awardErr.Issue.Award.State)

	stored, err := f.issues.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, models.Completed, stored.Status)

	f.ledger.fail = nil
	_, err = f.engine.RetryAward(ctx, id, f.resident)
	assert.ErrorIs(t, err, ErrUnauthorized)

	outcome, err := f.engine.RetryAward(ctx, id, f.authority)
	require.NoError(t, err)
	assert.Equal(t, models.AwardApplied, outcome.Award.State)
	assert.Equal(t, 2, outcome.Award.Attempts)
	assert.Equal(t, int64(50), f.ledger.balance(f.resident))

	_, err = f.engine.RetryAward(ctx, id, f.authority)
	assert.ErrorIs(t, err, ErrAwardSettled)
	assert.Equal(t, int64(50), f.ledger.balance(f.resident))
}

func TestRetryAwardWithoutAward(t *testing.T) {
	f := newFixture()
	id := f.seed(models.Rejected)

	_, err := f.engine.RetryAward(context.Background(), id, f.authority)
	assert.ErrorIs(t, err, ErrNoAward)
}

func TestRetryPending(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	stale := time.Now().Add(-time.Hour)

	failed := f.seed(models.Completed)
	issue := f.issues.issues[failed]
	issue.Award = &models.Award{Points: 50, State: models.AwardFailed, Attempts: 1, UpdatedAt: stale}
	f.issues.issues[failed] = issue

	fresh := f.seed(models.Completed)
	issue = f.issues.issues[fresh]
	issue.Award = &models.Award{Points: 30, State: models.AwardPending, UpdatedAt: time.Now()}
	f.issues.issues[fresh] = issue

	applied, err := f.engine.RetryPending(ctx, time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, int64(50), f.ledger.balance(f.resident))

	stored, err := f.issues.Get(ctx, failed)
	require.NoError(t, err)
	assert.Equal(t, models.AwardApplied, stored.Award.State)

	stored, err = f.issues.Get(ctx, fresh)
	require.NoError(t, err)
	assert.Equal(t, models.AwardPending, stored.Award.State)
}

func TestCancelledRequestStillSettlesAward(t *testing.T) {
	f := newFixture()
	id := f.seed(models.InProgress)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.ledger.onAward = cancel

	outcome, err := f.engine.Transition(ctx, id, models.Completed, f.authority, TransitionOptions{})
	require.NoError(t, err)
	assert.Equal(t, models.AwardApplied, outcome.Award.State)
	assert.Equal(t, int64(50), f.ledger.balance(f.resident))

	stored, err := f.issues.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, models.AwardApplied, stored.Award.State)
}

func TestRetryPendingReclaimsStuckAwards(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	stuck := time.Now().Add(-time.Hour)

	unpaid := f.seed(models.Completed)
	issue := f.issues.issues[unpaid]
	issue.Award = &models.Award{Points: 50, State: models.AwardApplying, Attempts: 1, UpdatedAt: stuck}
	f.issues.issues[unpaid] = issue

	paid := f.seed(models.Completed)
	issue = f.issues.issues[paid]
	issue.Award = &models.Award{Points: 30, State: models.AwardApplying, Attempts: 1, UpdatedAt: stuck}
	f.issues.issues[paid] = issue
	f.ledger.balances[f.resident] = 30
	f.ledger.applied[paid.Hex()] = true

	inFlight := f.seed(models.Completed)
	issue = f.issues.issues[inFlight]
	issue.Award = &models.Award{Points: 20, State: models.AwardApplying, Attempts: 1, UpdatedAt: time.Now()}
	f.issues.issues[inFlight] = issue

	_, err := f.engine.RetryAward(ctx, inFlight, f.authority)
	assert.ErrorIs(t, err, ErrAwardSettled)

	applied, err := f.engine.RetryPending(ctx, AwardLease)
	require.NoError(t, err)
	assert.Equal(t, 2, applied)
	assert.Equal(t, int64(80), f.ledger.balance(f.resident))
	assert.Equal(t, 1, f.ledger.calls)

	for _, id := range []primitive.ObjectID{unpaid, paid} {
		stored, err := f.issues.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.AwardApplied, stored.Award.State)
		assert.Equal(t, 2, stored.Award.Attempts)
	}

	stored, err := f.issues.Get(ctx, inFlight)
	require.NoError(t, err)
	assert.Equal(t, models.AwardApplying, stored.Award.State)
}

func TestGraph(t *testing.T) {
	assert.Equal(t, []models.IssueStatus{models.InProgress}, Predecessors(models.Completed))
	assert.Equal(t, []models.IssueStatus{models.Pending}, Predecessors(models.Rejected))
	assert.Empty(t, Predecessors(models.Pending))
	assert.Equal(t, []models.IssueStatus{models.InProgress, models.Rejected}, Next(models.Pending))
	assert.Empty(t, Next(models.Completed))
	assert.False(t, CanTransition(models.Completed, models.Completed))
}
