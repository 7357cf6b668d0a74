package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/taskboard/notify-engine/internal/domain"
	"github.com/taskboard/notify-engine/internal/ratelimiter"
	"github.com/taskboard/notify-engine/internal/repository"
	"github.com/taskboard/notify-engine/internal/sender"
)

// MetricHooks carries the metric callback functions injected by main.
// Using a struct keeps the dispatcher constructor signature clean.
type MetricHooks struct {
	OnSent   func(kind domain.Kind, latency time.Duration)
	OnFailed func(kind domain.Kind)
}

// Dispatcher is the periodic sweep over the durable queue. Every interval it
// selects pending entries whose scheduled_send_time has passed, hands each
// to the sender, and records the outcome.
//
// Working off the database rather than an in-memory queue means the sweep
// survives restarts and never drifts from the store's truth: an entry being
// merged at sweep time is simply picked up with its extended window on a
// later sweep.
type Dispatcher struct {
	repo       repository.QueueRepository
	snd        sender.Sender
	limiter    *ratelimiter.Limiter
	interval   time.Duration
	batchSize  int
	maxRetries int
	backoff    []time.Duration
	logger     *zap.Logger
	hooks      MetricHooks

	// now is swapped out in tests so sweeps run against a fixed instant.
	now func() time.Time
}

func NewDispatcher(
	repo repository.QueueRepository,
	snd sender.Sender,
	limiter *ratelimiter.Limiter,
	interval time.Duration,
	batchSize int,
	maxRetries int,
	backoff []time.Duration,
	logger *zap.Logger,
	hooks MetricHooks,
) *Dispatcher {
	if hooks.OnSent == nil {
		hooks.OnSent = func(domain.Kind, time.Duration) {}
	}
	if hooks.OnFailed == nil {
		hooks.OnFailed = func(domain.Kind) {}
	}
	return &Dispatcher{
		repo:       repo,
		snd:        snd,
		limiter:    limiter,
		interval:   interval,
		batchSize:  batchSize,
		maxRetries: maxRetries,
		backoff:    backoff,
		logger:     logger,
		hooks:      hooks,
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the dispatcher's time source. Test helper.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run ticks every interval and sweeps the queue for due entries.
// Stops cleanly when ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	d.logger.Info("dispatcher started", zap.Duration("interval", d.interval))

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("dispatcher stopping")
			return
		case <-ticker.C:
			d.Sweep(ctx)
		}
	}
}

// Sweep runs one eligibility scan. A failure on one entry never aborts the
// sweep for the others.
func (d *Dispatcher) Sweep(ctx context.Context) {
	entries, err := d.repo.FindDue(ctx, d.now(), d.batchSize)
	if err != nil {
		d.logger.Error("sweep query error", zap.Error(err))
		return
	}

	for _, e := range entries {
		if ctx.Err() != nil {
			return
		}
		d.process(ctx, e)
	}

	if len(entries) > 0 {
		d.logger.Info("sweep dispatched due entries", zap.Int("count", len(entries)))
	}
}

func (d *Dispatcher) process(ctx context.Context, e *domain.QueueEntry) {
	start := time.Now()
	log := d.logger.With(
		zap.String("entry_id", e.ID),
		zap.String("recipient_id", e.RecipientID),
		zap.String("kind", string(e.Kind)),
	)

	// Block here until the transport rate limiter grants a token.
	if err := d.limiter.Wait(ctx); err != nil {
		// ctx cancelled while waiting — dispatcher is shutting down.
		return
	}

	err := d.snd.Send(ctx, e)
	elapsed := time.Since(start)

	if err != nil {
		log.Warn("delivery attempt failed",
			zap.Error(err),
			zap.Int("retry_count", e.RetryCount),
			zap.Bool("permanent", sender.IsPermanent(err)),
		)
		d.handleFailure(ctx, e, err)
		return
	}

	claimed, err := d.repo.MarkSent(ctx, e.ID, d.now())
	if err != nil {
		log.Error("failed to mark as sent", zap.Error(err))
		return
	}
	if !claimed {
		// An operator force-send got there first. The attempt was a
		// duplicate delivery but the record stays consistent.
		log.Debug("entry already sent, skipping status update")
		return
	}

	d.hooks.OnSent(e.Kind, elapsed)
	log.Info("notification sent",
		zap.Int("change_count", e.ChangeCount),
		zap.Duration("latency", elapsed),
	)
}

// handleFailure either pushes the entry's send time out for a later sweep
// (transient failure with retry budget left) or marks it failed.
//
// Retry schedule uses the configured backoff ladder:
//
//	attempt 0 → backoff[0]  (default 30 s)
//	attempt 1 → backoff[1]  (default 2 m)
//	attempt N ≥ len(backoff) → last backoff entry (clamped)
//
// Permanent failures skip the ladder entirely: retrying an invalid recipient
// wastes the budget without ever succeeding.
func (d *Dispatcher) handleFailure(ctx context.Context, e *domain.QueueEntry, sendErr error) {
	if sender.IsPermanent(sendErr) || e.RetryCount >= d.maxRetries {
		if err := d.repo.MarkFailed(ctx, e.ID, sendErr.Error()); err != nil {
			d.logger.Error("failed to mark entry as failed",
				zap.String("entry_id", e.ID), zap.Error(err))
			return
		}
		d.hooks.OnFailed(e.Kind)
		return
	}

	idx := e.RetryCount
	if idx >= len(d.backoff) {
		idx = len(d.backoff) - 1
	}
	nextAttempt := d.now().Add(d.backoff[idx])

	if err := d.repo.ScheduleRetry(ctx, e.ID, e.RetryCount+1, nextAttempt, sendErr.Error()); err != nil {
		d.logger.Error("failed to schedule retry",
			zap.String("entry_id", e.ID), zap.Error(err))
	}
}
