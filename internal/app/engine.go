/**
 * @description
 * The money-movement engine. Every deposit, withdrawal, transfer and reversal runs
 * as one unit of work that checks the idempotency key, locks the touched balances
 * in ascending account id order, validates funds, inserts the transaction row and
 * appends its ledger entries. Events are emitted only after commit.
 *
 * Key features:
 * - A repeated idempotency key returns the stored transaction with Replayed set.
 * - Losing the insert race on a key retries the unit of work once, which then
 *   observes the winner's committed row.
 * - Failures before commit leave nothing behind and emit a TransactionFailed event.
 *
 * @dependencies
 * - internal/store: LedgerStore and LedgerTx.
 * - github.com/shopspring/decimal: fixed-point amounts.
 */

package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/transfa/core-banking-service/internal/domain"
	"github.com/transfa/core-banking-service/internal/observability"
	"github.com/transfa/core-banking-service/internal/store"
)

const maxIdempotencyKeyLength = 255

// EventPublisher hands events to the broker without blocking the caller.
type EventPublisher interface {
	Publish(topic string, event domain.Event)
}

// Engine executes money movements.
type Engine struct {
	ledger        store.LedgerStore
	events        EventPublisher
	logger        *slog.Logger
	durableEvents bool
	now           func() time.Time
}

// NewEngine creates a new money-movement engine.
func NewEngine(ledger store.LedgerStore, events EventPublisher, logger *slog.Logger) *Engine {
	return &Engine{
		ledger: ledger,
		events: events,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// UseOutbox makes completed-movement events part of the unit of work. They are
// written to event_outbox and published by the OutboxDispatcher.
func (e *Engine) UseOutbox() {
	e.durableEvents = true
}

// leg is one side of a movement: a relative change to one account.
type leg struct {
	accountID uuid.UUID
	side      domain.EntryType
	amount    decimal.Decimal
}

// plan produces the transaction row and its legs. It runs inside the unit of
// work, after the idempotency check and before any lock is taken.
type plan func(ctx context.Context, tx store.LedgerTx) (*domain.Transaction, []leg, error)

// Deposit credits an account with funds arriving from outside the ledger.
func (e *Engine) Deposit(ctx context.Context, req domain.DepositRequest) (*domain.MovementResult, error) {
	draft := domain.Transaction{
		Type:           domain.TransactionTypeDeposit,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		ToAccountID:    uuidPtr(req.AccountID),
		Description:    "Deposit",
	}
	if req.Provenance.Provider != "" {
		draft.Metadata = map[string]string{"provider": req.Provenance.Provider}
		if req.Provenance.ProviderTransactionID != "" {
			draft.Metadata["provider_transaction_id"] = req.Provenance.ProviderTransactionID
		}
		draft.Description = fmt.Sprintf("Deposit via %s", req.Provenance.Provider)
	}

	return e.move(ctx, &draft, func(context.Context, store.LedgerTx) (*domain.Transaction, []leg, error) {
		return &draft, []leg{{accountID: req.AccountID, side: domain.EntryTypeCredit, amount: draft.Amount}}, nil
	})
}

// Withdraw debits an account for funds leaving the ledger.
func (e *Engine) Withdraw(ctx context.Context, req domain.WithdrawalRequest) (*domain.MovementResult, error) {
	draft := domain.Transaction{
		Type:           domain.TransactionTypeWithdrawal,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		FromAccountID:  uuidPtr(req.AccountID),
		Description:    "Withdrawal",
	}

	return e.move(ctx, &draft, func(context.Context, store.LedgerTx) (*domain.Transaction, []leg, error) {
		return &draft, []leg{{accountID: req.AccountID, side: domain.EntryTypeDebit, amount: draft.Amount}}, nil
	})
}

// Transfer moves funds between two accounts of the same currency.
func (e *Engine) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.MovementResult, error) {
	draft := domain.Transaction{
		Type:           domain.TransactionTypeTransfer,
		Amount:         req.Amount,
		Currency:       req.Currency,
		IdempotencyKey: req.IdempotencyKey,
		FromAccountID:  uuidPtr(req.FromAccountID),
		ToAccountID:    uuidPtr(req.ToAccountID),
		Description:    strings.TrimSpace(req.Description),
	}
	if draft.Description == "" {
		draft.Description = "Transfer"
	}

	return e.move(ctx, &draft, func(context.Context, store.LedgerTx) (*domain.Transaction, []leg, error) {
		if req.FromAccountID == req.ToAccountID {
			return nil, nil, fmt.Errorf("%w: source and destination account are the same", domain.ErrInvalidRequest)
		}
		return &draft, []leg{
			{accountID: req.FromAccountID, side: domain.EntryTypeDebit, amount: draft.Amount},
			{accountID: req.ToAccountID, side: domain.EntryTypeCredit, amount: draft.Amount},
		}, nil
	})
}

// Reverse books a REVERSAL transaction that mirrors every entry of the original
// with the sides swapped. A transaction can be reversed once.
func (e *Engine) Reverse(ctx context.Context, req domain.ReversalRequest) (*domain.MovementResult, error) {
	draft := domain.Transaction{
		Type:                  domain.TransactionTypeReversal,
		IdempotencyKey:        req.IdempotencyKey,
		ReversesTransactionID: uuidPtr(req.TransactionID),
	}

	return e.move(ctx, &draft, func(ctx context.Context, tx store.LedgerTx) (*domain.Transaction, []leg, error) {
		original, err := tx.FindTransactionByID(ctx, req.TransactionID)
		if err != nil {
			return nil, nil, err
		}
		if original.Type == domain.TransactionTypeReversal {
			return nil, nil, fmt.Errorf("%w: a reversal cannot be reversed", domain.ErrInvalidRequest)
		}
		reversed, err := tx.IsReversed(ctx, original.ID)
		if err != nil {
			return nil, nil, err
		}
		if reversed {
			return nil, nil, domain.ErrAlreadyReversed
		}
		entries, err := tx.FindLedgerEntries(ctx, original.ID)
		if err != nil {
			return nil, nil, err
		}

		draft.Amount = original.Amount
		draft.Currency = original.Currency
		draft.FromAccountID = original.ToAccountID
		draft.ToAccountID = original.FromAccountID
		draft.Description = fmt.Sprintf("Reversal of %s", original.ID)
		if reason := strings.TrimSpace(req.Reason); reason != "" {
			draft.Description = fmt.Sprintf("%s: %s", draft.Description, reason)
			draft.Metadata = map[string]string{"reason": reason}
		}

		legs := make([]leg, 0, len(entries))
		for _, entry := range entries {
			legs = append(legs, leg{accountID: entry.AccountID, side: entry.EntryType.Opposite(), amount: entry.Amount})
		}
		return &draft, legs, nil
	})
}

// GetTransaction returns a committed transaction.
func (e *Engine) GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error) {
	return e.ledger.GetTransaction(ctx, id)
}

// GetTransactionLedger returns the ledger entries written by a transaction.
func (e *Engine) GetTransactionLedger(ctx context.Context, id uuid.UUID) ([]domain.LedgerEntry, error) {
	if _, err := e.ledger.GetTransaction(ctx, id); err != nil {
		return nil, err
	}
	return e.ledger.GetTransactionLedger(ctx, id)
}

// move validates the request shape, runs the unit of work and emits the
// resulting event.
func (e *Engine) move(ctx context.Context, draft *domain.Transaction, build plan) (*domain.MovementResult, error) {
	started := time.Now()
	txType := string(draft.Type)
	defer func() {
		observability.MovementDuration.WithLabelValues(txType).Observe(time.Since(started).Seconds())
	}()

	if err := e.validateDraft(draft); err != nil {
		e.fail(draft, nil, err)
		return nil, err
	}

	var (
		result *domain.MovementResult
		locked map[uuid.UUID]*domain.AccountBalance
		err    error
	)
	for attempt := 0; attempt < 2; attempt++ {
		result, locked, err = e.runUnitOfWork(ctx, draft, build)
		if err == nil {
			break
		}
		// The key or the reversal slot was claimed by a unit of work that has
		// since committed. The next attempt observes it.
		if attempt == 0 && (errors.Is(err, domain.ErrDuplicateIdempotencyKey) || errors.Is(err, domain.ErrAlreadyReversed)) {
			e.logger.Info("idempotency race lost; re-reading", "idempotency_key", draft.IdempotencyKey, "type", txType)
			continue
		}
		break
	}
	if errors.Is(err, domain.ErrDuplicateIdempotencyKey) {
		err = fmt.Errorf("%w: idempotency key %q is being processed", domain.ErrLockTimeout, draft.IdempotencyKey)
	}

	if err != nil {
		e.fail(draft, locked, err)
		return nil, err
	}

	if result.Replayed {
		observability.MovementsTotal.WithLabelValues(txType, observability.OutcomeReplayed).Inc()
		e.logger.Info("idempotent replay", "transaction_id", result.Transaction.ID, "idempotency_key", draft.IdempotencyKey, "type", txType)
		return result, nil
	}

	observability.MovementsTotal.WithLabelValues(txType, observability.OutcomeCompleted).Inc()
	e.logger.Info("movement completed",
		"transaction_id", result.Transaction.ID,
		"type", txType,
		"amount", domain.FormatAmount(result.Transaction.Amount, result.Transaction.Currency),
		"currency", result.Transaction.Currency,
	)
	if !e.durableEvents {
		e.publish(domain.TopicTransactionEvents, completedEvent(&result.Transaction, locked, e.now()))
	}
	return result, nil
}

func (e *Engine) validateDraft(draft *domain.Transaction) error {
	draft.IdempotencyKey = strings.TrimSpace(draft.IdempotencyKey)
	if draft.IdempotencyKey == "" {
		return fmt.Errorf("%w: idempotency key is required", domain.ErrInvalidRequest)
	}
	if len(draft.IdempotencyKey) > maxIdempotencyKeyLength {
		return fmt.Errorf("%w: idempotency key exceeds %d characters", domain.ErrInvalidRequest, maxIdempotencyKeyLength)
	}
	if draft.Type == domain.TransactionTypeReversal {
		return nil
	}
	currency, err := domain.NormalizeCurrency(draft.Currency)
	if err != nil {
		return err
	}
	draft.Currency = currency
	return domain.ValidateAmount(draft.Amount, currency)
}

func (e *Engine) runUnitOfWork(ctx context.Context, draft *domain.Transaction, build plan) (*domain.MovementResult, map[uuid.UUID]*domain.AccountBalance, error) {
	var (
		result *domain.MovementResult
		locked map[uuid.UUID]*domain.AccountBalance
	)

	err := e.ledger.RunInTx(ctx, func(tx store.LedgerTx) error {
		existing, err := tx.FindTransactionByIdempotencyKey(ctx, draft.IdempotencyKey)
		switch {
		case err == nil:
			entries, err := tx.FindLedgerEntries(ctx, existing.ID)
			if err != nil {
				return err
			}
			result = &domain.MovementResult{Transaction: *existing, Entries: entries, Replayed: true}
			return nil
		case !errors.Is(err, domain.ErrTransactionNotFound):
			return fmt.Errorf("check idempotency key: %w", err)
		}

		txn, legs, err := build(ctx, tx)
		if err != nil {
			return err
		}

		locked, err = lockInOrder(ctx, tx, legs)
		if err != nil {
			return err
		}
		if err := checkLegs(txn, legs, locked); err != nil {
			return err
		}

		txn.ID = uuid.New()
		txn.Status = domain.TransactionStatusCompleted
		if err := tx.InsertTransaction(ctx, txn); err != nil {
			return err
		}

		entries := make([]domain.LedgerEntry, 0, len(legs))
		for _, l := range legs {
			entry := domain.LedgerEntry{
				ID:            uuid.New(),
				TransactionID: txn.ID,
				AccountID:     l.accountID,
				EntryType:     l.side,
				Amount:        l.amount,
				Currency:      txn.Currency,
				Description:   txn.Description,
			}
			if err := tx.ApplyEntry(ctx, &entry); err != nil {
				return fmt.Errorf("apply %s entry on %s: %w", l.side, l.accountID, err)
			}
			entries = append(entries, entry)
		}

		if e.durableEvents {
			event := completedEvent(txn, locked, e.now())
			if err := tx.EnqueueEvent(ctx, store.OutboxEvent{
				Exchange:   domain.TopicTransactionEvents,
				RoutingKey: event.Type,
				Payload:    event,
			}); err != nil {
				return err
			}
		}

		result = &domain.MovementResult{Transaction: *txn, Entries: entries}
		return nil
	})
	if err != nil {
		return nil, locked, err
	}
	return result, locked, nil
}

// lockInOrder locks every touched balance in ascending account id order, so two
// movements over the same accounts always queue in the same order.
func lockInOrder(ctx context.Context, tx store.LedgerTx, legs []leg) (map[uuid.UUID]*domain.AccountBalance, error) {
	ids := lockOrder(legs)
	locked := make(map[uuid.UUID]*domain.AccountBalance, len(ids))
	for _, id := range ids {
		ab, err := tx.LockAccountBalance(ctx, id)
		if err != nil {
			return locked, err
		}
		locked[id] = ab
	}
	return locked, nil
}

func lockOrder(legs []leg) []uuid.UUID {
	seen := make(map[uuid.UUID]struct{}, len(legs))
	ids := make([]uuid.UUID, 0, len(legs))
	for _, l := range legs {
		if _, ok := seen[l.accountID]; ok {
			continue
		}
		seen[l.accountID] = struct{}{}
		ids = append(ids, l.accountID)
	}
	sort.Slice(ids, func(i, j int) bool { return bytes.Compare(ids[i][:], ids[j][:]) < 0 })
	return ids
}

// checkLegs validates status, currency and funds against the locked rows.
func checkLegs(txn *domain.Transaction, legs []leg, locked map[uuid.UUID]*domain.AccountBalance) error {
	net := make(map[uuid.UUID]decimal.Decimal, len(locked))
	for _, l := range legs {
		ab := locked[l.accountID]
		switch ab.Account.Status {
		case domain.AccountStatusActive:
		case domain.AccountStatusFrozen:
			if txn.Type != domain.TransactionTypeReversal {
				return fmt.Errorf("%w: account %s is %s", domain.ErrAccountNotActive, ab.Account.ID, ab.Account.Status)
			}
		default:
			return fmt.Errorf("%w: account %s is %s", domain.ErrAccountNotActive, ab.Account.ID, ab.Account.Status)
		}
		if ab.Account.Currency != txn.Currency {
			return fmt.Errorf("%w: account %s holds %s, movement is %s", domain.ErrCurrencyMismatch, ab.Account.ID, ab.Account.Currency, txn.Currency)
		}
		delta := l.amount
		if l.side == domain.EntryTypeDebit {
			delta = delta.Neg()
		}
		net[l.accountID] = net[l.accountID].Add(delta)
	}
	for id, delta := range net {
		next := locked[id].Balance.Amount.Add(delta)
		if next.IsNegative() {
			return fmt.Errorf("%w: account %s", domain.ErrInsufficientFunds, id)
		}
		if next.GreaterThan(domain.MaxAmount) {
			return fmt.Errorf("%w: balance of account %s would exceed %s", domain.ErrInvalidAmount, id, domain.MaxAmount)
		}
	}
	return nil
}

// fail records a failed attempt and emits TransactionFailed.
func (e *Engine) fail(draft *domain.Transaction, locked map[uuid.UUID]*domain.AccountBalance, err error) {
	outcome := observability.OutcomeRejected
	if domain.IsRetryable(err) {
		outcome = observability.OutcomeRetryable
	} else if domain.FailureReason(err) == "INTERNAL_ERROR" {
		outcome = observability.OutcomeError
	}
	observability.MovementsTotal.WithLabelValues(string(draft.Type), outcome).Inc()

	if outcome == observability.OutcomeError {
		e.logger.Error("movement failed", "type", draft.Type, "idempotency_key", draft.IdempotencyKey, "error", err)
	} else {
		e.logger.Warn("movement rejected", "type", draft.Type, "idempotency_key", draft.IdempotencyKey, "reason", domain.FailureReason(err), "error", err)
	}

	payload := transactionPayload(draft, locked, e.now())
	payload.Reason = domain.FailureReason(err)
	e.publish(domain.TopicTransactionEvents, domain.Event{Type: domain.EventTransactionFailed, Payload: payload})
}

func (e *Engine) publish(topic string, event domain.Event) {
	if e.events == nil {
		return
	}
	e.events.Publish(topic, event)
}

func completedEvent(txn *domain.Transaction, locked map[uuid.UUID]*domain.AccountBalance, at time.Time) domain.Event {
	payload := transactionPayload(txn, locked, at)
	payload.TransactionID = uuidPtr(txn.ID)
	return domain.Event{Type: domain.EventTransactionCompleted, Payload: payload}
}

func transactionPayload(txn *domain.Transaction, locked map[uuid.UUID]*domain.AccountBalance, at time.Time) domain.TransactionEventPayload {
	payload := domain.TransactionEventPayload{
		IdempotencyKey:        txn.IdempotencyKey,
		Type:                  txn.Type,
		Currency:              txn.Currency,
		FromAccountID:         txn.FromAccountID,
		ToAccountID:           txn.ToAccountID,
		ReversesTransactionID: txn.ReversesTransactionID,
		OccurredAt:            at,
	}
	if !txn.Amount.IsZero() {
		payload.Amount = domain.FormatAmount(txn.Amount, txn.Currency)
	}
	if txn.FromAccountID != nil {
		if ab, ok := locked[*txn.FromAccountID]; ok && ab != nil {
			payload.FromUserID = ab.Account.UserID
		}
	}
	if txn.ToAccountID != nil {
		if ab, ok := locked[*txn.ToAccountID]; ok && ab != nil {
			payload.ToUserID = ab.Account.UserID
		}
	}
	return payload
}

func uuidPtr(id uuid.UUID) *uuid.UUID {
	if id == uuid.Nil {
		return nil
	}
	return &id
}
