/**
 * @description
 * Cron scheduler that drives recurring payments.
 */
package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/transfa/core-banking-service/internal/observability"
)

// Scheduler triggers RecurringPayments.ProcessDue every poll interval.
type Scheduler struct {
	cron      *cron.Cron
	recurring *RecurringPayments
	lock      TickLock
	interval  time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(recurring *RecurringPayments, lock TickLock, interval time.Duration, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)))
	if lock == nil {
		lock = LocalTickLock{}
	}

	return &Scheduler{
		cron:      c,
		recurring: recurring,
		lock:      lock,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Start registers the recurring payment job and starts the cron scheduler.
func (s *Scheduler) Start() error {
	schedule := fmt.Sprintf("@every %s", s.interval)
	if _, err := s.cron.AddFunc(schedule, s.Tick); err != nil {
		return fmt.Errorf("schedule recurring payments: %w", err)
	}
	s.logger.Info("scheduled recurring payment job", "schedule", schedule)
	s.cron.Start()
	return nil
}

// Tick runs one pass over due subscriptions. The tick time is truncated to the
// poll interval so every replica derives the same idempotency keys.
func (s *Scheduler) Tick() {
	started := time.Now()
	defer func() {
		observability.SchedulerTickDuration.Observe(time.Since(started).Seconds())
	}()

	tickAt := s.now().UTC().Truncate(s.interval)
	ctx, cancel := context.WithTimeout(context.Background(), s.tickTimeout())
	defer cancel()

	release, acquired, err := s.lock.TryAcquire(ctx)
	if err != nil {
		s.logger.Error("failed to acquire scheduler tick lock", "error", err)
		return
	}
	if !acquired {
		s.logger.Info("scheduler tick held by another replica; skipping", "tick_at", tickAt)
		return
	}
	defer release()

	if _, err := s.recurring.ProcessDue(ctx, tickAt); err != nil {
		s.logger.Error("recurring payment tick failed", "tick_at", tickAt, "error", err)
	}
}

func (s *Scheduler) tickTimeout() time.Duration {
	if s.interval < time.Minute {
		return time.Minute
	}
	return s.interval
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}
