package domain

import "errors"

// Terminal failures. None of them leaves a Transaction row behind.
var (
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrInvalidRequest       = errors.New("invalid request")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountNotActive     = errors.New("account not active")
	ErrCurrencyMismatch     = errors.New("currency mismatch")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrAlreadyReversed      = errors.New("transaction already reversed")
	ErrSubscriptionNotFound = errors.New("subscription not found")
	ErrPayerInactive        = errors.New("subscription payer inactive")
)

// ErrLockTimeout means a balance row lock could not be acquired in time. The
// caller may retry with the same idempotency key.
var ErrLockTimeout = errors.New("lock timeout")

// ErrDuplicateIdempotencyKey is raised by the store when an insert loses the
// race on the idempotency key. The engine turns it into a replay.
var ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")

// ErrDefaultAccountExists means the user already has a default account in the
// currency.
var ErrDefaultAccountExists = errors.New("default account already exists")

// ErrEventPublish is logged by the emitter and never returned to callers of
// the engine.
var ErrEventPublish = errors.New("event publish failed")

// IsRetryable reports whether err is safe to retry with the same idempotency key.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockTimeout)
}

// FailureReason returns the short reason string carried by failure events.
func FailureReason(err error) string {
	switch {
	case errors.Is(err, ErrInvalidAmount):
		return "INVALID_AMOUNT"
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrAccountNotFound):
		return "ACCOUNT_NOT_FOUND"
	case errors.Is(err, ErrAccountNotActive):
		return "ACCOUNT_NOT_ACTIVE"
	case errors.Is(err, ErrCurrencyMismatch):
		return "CURRENCY_MISMATCH"
	case errors.Is(err, ErrLockTimeout):
		return "LOCK_TIMEOUT"
	case errors.Is(err, ErrTransactionNotFound):
		return "TRANSACTION_NOT_FOUND"
	case errors.Is(err, ErrAlreadyReversed):
		return "ALREADY_REVERSED"
	case errors.Is(err, ErrInvalidRequest):
		return "INVALID_REQUEST"
	default:
		return "INTERNAL_ERROR"
	}
}
