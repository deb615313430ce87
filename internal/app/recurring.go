/**
 * @description
 * Recurring payment processing. Each scheduler tick charges every due
 * subscription once by issuing a transfer whose idempotency key is derived from
 * the subscription and the tick, then advances the due date.
 *
 * @notes
 * - A failed charge leaves next_payment_date unchanged; the next tick retries.
 * - The advance is a compare-and-set, so two overlapping ticks cannot double-step.
 */
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/core-banking-service/internal/domain"
	"github.com/transfa/core-banking-service/internal/observability"
	"github.com/transfa/core-banking-service/internal/store"
	"golang.org/x/sync/errgroup"
)

const (
	defaultDueBatchSize    = 500
	defaultChargeTimeout   = 30 * time.Second
	advanceTimeout         = 5 * time.Second
	defaultTickConcurrency = 8
)

// Transferer issues transfers. *Engine implements it.
type Transferer interface {
	Transfer(ctx context.Context, req domain.TransferRequest) (*domain.MovementResult, error)
}

// PayerChecker reports whether a user may still be charged.
type PayerChecker interface {
	IsUserActive(ctx context.Context, userID string) (bool, error)
}

// TickSummary counts the outcomes of one ProcessDue call.
type TickSummary struct {
	Due     int
	Charged int
	Failed  int
	Skipped int
}

// RecurringPayments charges due subscriptions.
type RecurringPayments struct {
	subs        store.SubscriptionRepository
	accounts    store.AccountRepository
	transfers   Transferer
	payers      PayerChecker
	logger      *slog.Logger
	concurrency int
	batchSize   int
}

// NewRecurringPayments creates the processor. payers may be nil, in which case
// the payer check is skipped.
func NewRecurringPayments(subs store.SubscriptionRepository, accounts store.AccountRepository, transfers Transferer, payers PayerChecker, concurrency int, logger *slog.Logger) *RecurringPayments {
	if concurrency <= 0 {
		concurrency = defaultTickConcurrency
	}
	return &RecurringPayments{
		subs:        subs,
		accounts:    accounts,
		transfers:   transfers,
		payers:      payers,
		logger:      logger,
		concurrency: concurrency,
		batchSize:   defaultDueBatchSize,
	}
}

// ProcessDue charges every active subscription due at tickAt. One
// subscription's failure never stops the others; only a failure to load the due
// set is returned.
func (r *RecurringPayments) ProcessDue(ctx context.Context, tickAt time.Time) (TickSummary, error) {
	due, err := r.subs.ListDueSubscriptions(ctx, tickAt, r.batchSize)
	if err != nil {
		return TickSummary{}, fmt.Errorf("list due subscriptions: %w", err)
	}
	if len(due) == 0 {
		return TickSummary{}, nil
	}
	r.logger.Info("processing due subscriptions", "count", len(due), "tick_at", tickAt)

	var charged, failed, skipped atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for _, sub := range due {
		sub := sub
		g.Go(func() error {
			switch outcome := r.charge(gctx, sub, tickAt); outcome {
			case chargeOK:
				charged.Add(1)
			case chargeSkipped:
				skipped.Add(1)
			default:
				failed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	summary := TickSummary{
		Due:     len(due),
		Charged: int(charged.Load()),
		Failed:  int(failed.Load()),
		Skipped: int(skipped.Load()),
	}
	r.logger.Info("due subscriptions processed", "due", summary.Due, "charged", summary.Charged, "failed", summary.Failed, "skipped", summary.Skipped)
	return summary, nil
}

type chargeOutcome string

const (
	chargeOK      chargeOutcome = "charged"
	chargeFailed  chargeOutcome = "failed"
	chargeSkipped chargeOutcome = "skipped"
)

func (r *RecurringPayments) charge(ctx context.Context, sub domain.Subscription, tickAt time.Time) (outcome chargeOutcome) {
	defer func() {
		observability.SchedulerSubscriptions.WithLabelValues(string(outcome)).Inc()
	}()

	ctx, cancel := context.WithTimeout(ctx, defaultChargeTimeout)
	defer cancel()

	logger := r.logger.With("subscription_id", sub.ID, "user_id", sub.PayerUserID, "provider_id", sub.PayeeUserID)

	if r.payers != nil {
		active, err := r.payers.IsUserActive(ctx, sub.PayerUserID)
		if err != nil {
			logger.Warn("payer check failed; will retry next tick", "error", err)
			return chargeFailed
		}
		if !active {
			logger.Warn("payer inactive; will retry next tick", "error", domain.ErrPayerInactive)
			return chargeFailed
		}
	}

	source, target, err := r.resolveAccounts(ctx, sub)
	if err != nil {
		logger.Warn("could not resolve subscription accounts", "error", err)
		return chargeFailed
	}

	result, err := r.transfers.Transfer(ctx, domain.TransferRequest{
		FromAccountID:  source,
		ToAccountID:    target,
		Amount:         sub.Amount,
		Currency:       sub.Currency,
		IdempotencyKey: sub.IdempotencyKeyAt(tickAt),
		Description:    sub.ChargeDescription(),
	})
	if err != nil {
		logger.Warn("subscription charge failed", "reason", domain.FailureReason(err), "error", err)
		return chargeFailed
	}

	// The transfer has committed, so the advance runs even if the tick or
	// charge deadline has just expired.
	advanceCtx, cancelAdvance := context.WithTimeout(context.WithoutCancel(ctx), advanceTimeout)
	defer cancelAdvance()

	next := sub.Frequency.NextDue(sub.NextDueAt, tickAt)
	advanced, err := r.subs.AdvanceNextDue(advanceCtx, sub.ID, sub.NextDueAt, next)
	if err != nil {
		// The next tick uses a new key and charges this period again.
		logger.Error("charged but failed to advance next payment date", "transaction_id", result.Transaction.ID, "error", err)
		return chargeFailed
	}
	if !advanced {
		logger.Info("next payment date already advanced", "transaction_id", result.Transaction.ID)
		return chargeSkipped
	}
	logger.Info("subscription charged", "transaction_id", result.Transaction.ID, "replayed", result.Replayed, "next_payment_date", next)
	return chargeOK
}

func (r *RecurringPayments) resolveAccounts(ctx context.Context, sub domain.Subscription) (uuid.UUID, uuid.UUID, error) {
	var source, target uuid.UUID
	if sub.SourceAccountID != nil {
		source = *sub.SourceAccountID
	} else {
		acc, err := r.accounts.FindOldestActiveAccount(ctx, sub.PayerUserID, sub.Currency)
		if err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("payer source account: %w", err)
		}
		source = acc.ID
	}
	if sub.TargetAccountID != nil {
		target = *sub.TargetAccountID
	} else {
		acc, err := r.accounts.FindNewestActiveAccount(ctx, sub.PayeeUserID, sub.Currency)
		if err != nil {
			return uuid.Nil, uuid.Nil, fmt.Errorf("payee target account: %w", err)
		}
		target = acc.ID
	}
	if source == target {
		return uuid.Nil, uuid.Nil, errors.New("source and target resolve to the same account")
	}
	return source, target, nil
}
