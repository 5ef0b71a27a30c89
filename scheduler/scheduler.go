package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	log "github.com/sirupsen/logrus"
)

// StaleAfter is how long an award must sit unapplied before the job picks it up.
const StaleAfter = time.Minute

const jobTimeout = 30 * time.Second

// AwardRetrier applies awards left pending, failed or stuck in applying.
type AwardRetrier interface {
	RetryPending(ctx context.Context, olderThan time.Duration) (int, error)
}

// Start runs the award retry job on spec (six fields, seconds first) until
// ctx is done. The returned cron can be stopped earlier with Stop.
func Start(ctx context.Context, spec string, retrier AwardRetrier) (*cron.Cron, error) {
	c := cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(spec, RetryJob(ctx, retrier)); err != nil {
		return nil, fmt.Errorf("cron.AddFunc %q: %w", spec, err)
	}

	c.Start()
	log.WithField("spec", spec).Info("scheduler: award retry job started")

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
		log.Info("scheduler: stopped")
	}()

	return c, nil
}

// RetryJob is one run of the award retry job.
func RetryJob(ctx context.Context, retrier AwardRetrier) func() {
	return func() {
		runCtx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()

		applied, err := retrier.RetryPending(runCtx, StaleAfter)
		if err != nil {
			log.Errorf("scheduler: award retry: %v", err)
			return
		}
		if applied > 0 {
			log.WithField("applied", applied).Info("scheduler: applied pending awards")
		}
	}
}
