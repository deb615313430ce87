/**
 * @description
 * This file defines the data access contracts of the core-banking service. The
 * application layer depends only on these interfaces; PostgresRepository is the
 * production implementation.
 *
 * @notes
 * - Balance rows are only reachable for writing through LedgerTx, which exists
 *   for the lifetime of a single unit of work opened by LedgerStore.RunInTx.
 */
package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/core-banking-service/internal/domain"
)

// OutboxEvent is an event written to event_outbox in the same unit of work as
// the change it describes.
type OutboxEvent struct {
	Exchange   string
	RoutingKey string
	Payload    interface{}
}

// OutboxMessage is a claimed event_outbox row.
type OutboxMessage struct {
	ID         int64
	Exchange   string
	RoutingKey string
	Payload    []byte
	Attempts   int
}

// LedgerTx is the view of the database inside one money-movement unit of work.
type LedgerTx interface {
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	FindTransactionByID(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	FindLedgerEntries(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error)
	IsReversed(ctx context.Context, transactionID uuid.UUID) (bool, error)
	// LockAccountBalance takes an exclusive row lock on the balance and returns
	// it joined with its account. It returns domain.ErrAccountNotFound for
	// unknown accounts and domain.ErrLockTimeout when the lock wait expires.
	LockAccountBalance(ctx context.Context, accountID uuid.UUID) (*domain.AccountBalance, error)
	// InsertTransaction returns domain.ErrDuplicateIdempotencyKey when another
	// unit of work already inserted the key.
	InsertTransaction(ctx context.Context, txn *domain.Transaction) error
	// ApplyEntry applies the entry as a relative delta to a balance that must
	// already be locked, bumps its version and appends the ledger row. It fills
	// entry.BalanceAfter and entry.CreatedAt.
	ApplyEntry(ctx context.Context, entry *domain.LedgerEntry) error
	EnqueueEvent(ctx context.Context, event OutboxEvent) error
}

// LedgerStore owns units of work and the read side of the journal.
type LedgerStore interface {
	RunInTx(ctx context.Context, fn func(tx LedgerTx) error) error
	FindTransactionByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	GetTransaction(ctx context.Context, id uuid.UUID) (*domain.Transaction, error)
	GetTransactionLedger(ctx context.Context, transactionID uuid.UUID) ([]domain.LedgerEntry, error)
	GetAccountLedger(ctx context.Context, accountID uuid.UUID, limit int, before *time.Time) ([]domain.LedgerEntry, error)
}

// AccountRepository manages accounts and read access to balances.
type AccountRepository interface {
	CreateAccountWithBalance(ctx context.Context, account *domain.Account, events ...OutboxEvent) (*domain.AccountBalance, error)
	GetAccount(ctx context.Context, id uuid.UUID) (*domain.AccountBalance, error)
	ListUserAccounts(ctx context.Context, userID string) ([]domain.AccountBalance, error)
	UpdateAccountStatus(ctx context.Context, id uuid.UUID, status domain.AccountStatus) (*domain.Account, error)
	FindUserAccount(ctx context.Context, userID string, accountType domain.AccountType, currency string) (*domain.Account, error)
	FindOldestActiveAccount(ctx context.Context, userID, currency string) (*domain.Account, error)
	FindNewestActiveAccount(ctx context.Context, userID, currency string) (*domain.Account, error)
}

// SubscriptionRepository manages recurring payment intents.
type SubscriptionRepository interface {
	CreateSubscription(ctx context.Context, sub *domain.Subscription) error
	GetSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	ListSubscriptionsByPayer(ctx context.Context, userID string) ([]domain.Subscription, error)
	DeactivateSubscription(ctx context.Context, id uuid.UUID) (*domain.Subscription, error)
	ListDueSubscriptions(ctx context.Context, asOf time.Time, limit int) ([]domain.Subscription, error)
	// AdvanceNextDue moves next_payment_date forward only if it still equals
	// previous, and reports whether the row was updated.
	AdvanceNextDue(ctx context.Context, id uuid.UUID, previous *time.Time, next time.Time) (bool, error)
}

// OutboxRepository is the dispatcher's side of event_outbox.
type OutboxRepository interface {
	ClaimOutboxMessages(ctx context.Context, limit int, staleAfterSeconds int) ([]OutboxMessage, error)
	MarkOutboxPublished(ctx context.Context, id int64) error
	MarkOutboxFailed(ctx context.Context, id int64, retryAfterSeconds int, reason string) error
}
