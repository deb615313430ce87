/**
 * @description
 * Transaction and ledger entry models, plus the request and result types of the
 * money-movement engine.
 *
 * @notes
 * - Only completed movements are persisted. Failed attempts leave no row.
 * - Ledger entries are append-only; a correction is a REVERSAL transaction that
 *   points at the original through ReversesTransactionID.
 */
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionType is the kind of money movement.
type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal TransactionType = "WITHDRAWAL"
	TransactionTypeTransfer   TransactionType = "TRANSFER"
	TransactionTypeReversal   TransactionType = "REVERSAL"
)

const TransactionStatusCompleted = "COMPLETED"

// EntryType is the side of a ledger entry.
type EntryType string

const (
	EntryTypeDebit  EntryType = "DEBIT"
	EntryTypeCredit EntryType = "CREDIT"
)

// Opposite returns the other side of the entry.
func (e EntryType) Opposite() EntryType {
	if e == EntryTypeDebit {
		return EntryTypeCredit
	}
	return EntryTypeDebit
}

// Transaction maps to the `transactions` table.
type Transaction struct {
	ID                    uuid.UUID         `json:"transaction_id"`
	Type                  TransactionType   `json:"transaction_type"`
	Amount                decimal.Decimal   `json:"amount"`
	Currency              string            `json:"currency"`
	IdempotencyKey        string            `json:"idempotency_key"`
	FromAccountID         *uuid.UUID        `json:"from_account_id,omitempty"`
	ToAccountID           *uuid.UUID        `json:"to_account_id,omitempty"`
	Status                string            `json:"status"`
	Description           string            `json:"description,omitempty"`
	Metadata              map[string]string `json:"metadata,omitempty"`
	ReversesTransactionID *uuid.UUID        `json:"reverses_transaction_id,omitempty"`
	CreatedAt             time.Time         `json:"created_at"`
}

// LedgerEntry maps to the `transaction_ledger` table.
type LedgerEntry struct {
	ID            uuid.UUID       `json:"entry_id"`
	TransactionID uuid.UUID       `json:"transaction_id"`
	AccountID     uuid.UUID       `json:"account_id"`
	EntryType     EntryType       `json:"entry_type"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency"`
	BalanceAfter  decimal.Decimal `json:"balance_after"`
	Description   string          `json:"description,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
}

// Signed returns the entry amount as a balance delta.
func (e LedgerEntry) Signed() decimal.Decimal {
	if e.EntryType == EntryTypeDebit {
		return e.Amount.Neg()
	}
	return e.Amount
}

// Provenance describes where deposited funds came from.
type Provenance struct {
	Provider              string `json:"provider,omitempty"`
	ProviderTransactionID string `json:"provider_transaction_id,omitempty"`
}

type DepositRequest struct {
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Provenance     Provenance
}

type WithdrawalRequest struct {
	AccountID      uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
}

type TransferRequest struct {
	FromAccountID  uuid.UUID
	ToAccountID    uuid.UUID
	Amount         decimal.Decimal
	Currency       string
	IdempotencyKey string
	Description    string
}

type ReversalRequest struct {
	TransactionID  uuid.UUID
	IdempotencyKey string
	Reason         string
}

// MovementResult is what the engine returns for every movement. Replayed is set
// when the idempotency key had already been resolved and nothing was mutated.
type MovementResult struct {
	Transaction Transaction   `json:"transaction"`
	Entries     []LedgerEntry `json:"entries"`
	Replayed    bool          `json:"replayed"`
}
