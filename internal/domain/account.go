/**
 * @description
 * Account and balance models. Every account owns exactly one balance row that is
 * created with it at zero and only ever changed by the money-movement engine.
 */
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// AccountType is the class of an account.
type AccountType string

const (
	AccountTypeChecking AccountType = "CHECKING"
	AccountTypeSavings  AccountType = "SAVINGS"
)

// AccountStatus is the lifecycle state of an account.
type AccountStatus string

const (
	AccountStatusActive AccountStatus = "ACTIVE"
	AccountStatusFrozen AccountStatus = "FROZEN"
	AccountStatusClosed AccountStatus = "CLOSED"
)

// ParseAccountType validates an account class, defaulting to CHECKING when empty.
func ParseAccountType(raw string) (AccountType, error) {
	switch t := AccountType(strings.ToUpper(strings.TrimSpace(raw))); t {
	case "":
		return AccountTypeChecking, nil
	case AccountTypeChecking, AccountTypeSavings:
		return t, nil
	default:
		return "", fmt.Errorf("%w: account type %q", ErrInvalidRequest, raw)
	}
}

// ParseAccountStatus validates a lifecycle status.
func ParseAccountStatus(raw string) (AccountStatus, error) {
	switch s := AccountStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case AccountStatusActive, AccountStatusFrozen, AccountStatusClosed:
		return s, nil
	default:
		return "", fmt.Errorf("%w: account status %q", ErrInvalidRequest, raw)
	}
}

// Account maps to the `accounts` table.
type Account struct {
	ID        uuid.UUID     `json:"account_id"`
	UserID    string        `json:"user_id"`
	Type      AccountType   `json:"account_type"`
	Currency  string        `json:"currency"`
	Status    AccountStatus `json:"status"`
	IsDefault bool          `json:"is_default"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Balance maps to the `account_balances` table.
type Balance struct {
	AccountID uuid.UUID       `json:"account_id"`
	Amount    decimal.Decimal `json:"balance"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AccountBalance is an account joined with its balance row.
type AccountBalance struct {
	Account Account `json:"account"`
	Balance Balance `json:"balance"`
}
