package worker

import (
	"context"
	"time"

	"github.com/ignite/engagement-webhooks/internal/domain"
	"github.com/ignite/engagement-webhooks/internal/pkg/distlock"
	"github.com/ignite/engagement-webhooks/internal/pkg/logger"
	"github.com/ignite/engagement-webhooks/internal/retry"
)

const (
	// DefaultReplayInterval is how often due tickets are swept.
	DefaultReplayInterval = 30 * time.Second

	// DefaultStaleAge is how long a ticket may sit in processing before it
	// is assumed orphaned by a crashed replayer.
	DefaultStaleAge = 10 * time.Minute

	// DefaultReplayBatch caps the tickets claimed per sweep.
	DefaultReplayBatch = 20

	sweepTimeout = 2 * time.Minute
)

// TicketStore is the Postgres retry ticket table as seen by the replayer.
type TicketStore interface {
	ClaimDue(ctx context.Context, limit int) ([]domain.RetryTicket, error)
	MarkSucceeded(ctx context.Context, id string) error
	Reschedule(ctx context.Context, id string, next time.Time, errMsg string) error
	DeadLetter(ctx context.Context, id, errMsg string) error
	RecoverStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RetryReplayerConfig tunes the replayer. Zero values take the defaults.
type RetryReplayerConfig struct {
	Interval  time.Duration
	StaleAge  time.Duration
	BatchSize int
	Policy    retry.Policy
}

// RetryReplayer periodically claims due retry tickets and replays them.
// Tickets that keep failing are rescheduled with backoff until the policy
// gives up, then dead-lettered and archived.
type RetryReplayer struct {
	store    TicketStore
	replayer retry.Replayer
	archiver retry.Archiver
	lock     distlock.DistLock

	interval  time.Duration
	staleAge  time.Duration
	batchSize int
	policy    retry.Policy
	now       func() time.Time
}

// NewRetryReplayer creates a replayer. archiver and lock may be nil.
func NewRetryReplayer(store TicketStore, replayer retry.Replayer, archiver retry.Archiver, lock distlock.DistLock, cfg RetryReplayerConfig) *RetryReplayer {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultReplayInterval
	}
	if cfg.StaleAge <= 0 {
		cfg.StaleAge = DefaultStaleAge
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultReplayBatch
	}
	return &RetryReplayer{
		store:     store,
		replayer:  replayer,
		archiver:  archiver,
		lock:      lock,
		interval:  cfg.Interval,
		staleAge:  cfg.StaleAge,
		batchSize: cfg.BatchSize,
		policy:    cfg.Policy,
		now:       time.Now,
	}
}

// Start runs the sweep loop. It blocks until ctx is cancelled.
func (r *RetryReplayer) Start(ctx context.Context) {
	logger.Info("[RetryReplayer] starting",
		"interval", r.interval.String(), "stale_age", r.staleAge.String(), "batch_size", r.batchSize)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("[RetryReplayer] stopping")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs one pass: recover orphaned tickets, then replay what is due.
// It returns the number of tickets replayed successfully.
func (r *RetryReplayer) Sweep(ctx context.Context) int {
	sweepCtx, cancel := context.WithTimeout(ctx, sweepTimeout)
	defer cancel()

	if r.lock != nil {
		ok, err := r.lock.Acquire(sweepCtx)
		if err != nil {
			logger.Error("[RetryReplayer] lock acquire failed", "error", err.Error())
			return 0
		}
		if !ok {
			logger.Debug("[RetryReplayer] another replayer holds the lock")
			return 0
		}
		defer func() {
			if err := r.lock.Release(context.WithoutCancel(ctx)); err != nil {
				logger.Warn("[RetryReplayer] lock release failed", "error", err.Error())
			}
		}()
	}

	if n, err := r.store.RecoverStale(sweepCtx, r.staleAge); err != nil {
		logger.Error("[RetryReplayer] recover stale failed", "error", err.Error())
	} else if n > 0 {
		logger.Warn("[RetryReplayer] requeued orphaned tickets", "count", n)
	}

	tickets, err := r.store.ClaimDue(sweepCtx, r.batchSize)
	if err != nil {
		logger.Error("[RetryReplayer] claim failed", "error", err.Error())
		return 0
	}

	succeeded := 0
	for i := range tickets {
		if r.replay(sweepCtx, &tickets[i]) {
			succeeded++
		}
	}
	return succeeded
}

// replay handles one claimed ticket. Attempts was already incremented by
// the claim.
func (r *RetryReplayer) replay(ctx context.Context, t *domain.RetryTicket) bool {
	res, err := r.replayer.Replay(ctx, t)
	if err == nil {
		if err := r.store.MarkSucceeded(ctx, t.ID); err != nil {
			logger.Error("[RetryReplayer] mark succeeded failed", "ticket_id", t.ID, "error", err.Error())
		}
		logger.Info("[RetryReplayer] replayed ticket",
			"ticket_id", t.ID, "attempts", t.Attempts, "processed", res.Processed, "skipped", res.Skipped, "errors", res.Errors)
		return true
	}

	t.Error = err.Error()
	if r.policy.Exhausted(t.Attempts, err) {
		t.Status = domain.RetryDeadLetter
		if err := r.store.DeadLetter(ctx, t.ID, t.Error); err != nil {
			logger.Error("[RetryReplayer] dead-letter failed", "ticket_id", t.ID, "error", err.Error())
		}
		logger.Error("[RetryReplayer] ticket dead-lettered", "ticket_id", t.ID, "attempts", t.Attempts, "error", t.Error)
		r.archive(ctx, t)
		return false
	}

	next := r.now().Add(r.policy.Backoff.Delay(t.Attempts + 1))
	if err := r.store.Reschedule(ctx, t.ID, next, t.Error); err != nil {
		logger.Error("[RetryReplayer] reschedule failed", "ticket_id", t.ID, "error", err.Error())
		return false
	}
	logger.Warn("[RetryReplayer] replay failed, rescheduled",
		"ticket_id", t.ID, "attempts", t.Attempts, "next_attempt_at", next.Format(time.RFC3339), "error", t.Error)
	return false
}

func (r *RetryReplayer) archive(ctx context.Context, t *domain.RetryTicket) {
	if r.archiver == nil {
		return
	}
	key, err := r.archiver.ArchiveTicket(ctx, t)
	if err != nil {
		logger.Error("[RetryReplayer] archive failed", "ticket_id", t.ID, "error", err.Error())
		return
	}
	logger.Info("[RetryReplayer] ticket archived", "ticket_id", t.ID, "key", key)
}
