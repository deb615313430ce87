package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/transfa/core-banking-service/internal/domain"
)

// Postgres SQLSTATE codes the store reacts to.
const (
	pgUniqueViolation   = "23505"
	pgCheckViolation    = "23514"
	pgLockNotAvailable  = "55P03"
	pgDeadlockDetected  = "40P01"
	pgNumericOutOfRange = "22003"
	constraintIdemKey   = "uq_transactions_idempotency_key"
	constraintReverses  = "uq_transactions_reverses"
	constraintNonNegBal = "chk_account_balances_non_negative"
	constraintDefault   = "uq_accounts_default"
)

// classifyError maps driver errors onto the domain taxonomy. Errors it does not
// recognise are returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return err
	}
	switch pgErr.Code {
	case pgLockNotAvailable, pgDeadlockDetected:
		return fmt.Errorf("%w: %s", domain.ErrLockTimeout, pgErr.Message)
	case pgNumericOutOfRange:
		return fmt.Errorf("%w: %s", domain.ErrInvalidAmount, pgErr.Message)
	case pgUniqueViolation:
		switch pgErr.ConstraintName {
		case constraintIdemKey:
			return domain.ErrDuplicateIdempotencyKey
		case constraintReverses:
			return domain.ErrAlreadyReversed
		case constraintDefault:
			return domain.ErrDefaultAccountExists
		}
	case pgCheckViolation:
		if pgErr.ConstraintName == constraintNonNegBal {
			return domain.ErrInsufficientFunds
		}
	}
	return err
}
