/**
 * @description
 * Recurring payment intents and the calendar arithmetic used to advance them.
 *
 * @notes
 * - BI_MONTHLY means once every two calendar months.
 * - Month steps clamp to the last day of the target month (Jan 31 -> Feb 28).
 */
package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Frequency is how often a subscription is charged.
type Frequency string

const (
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyBiMonthly Frequency = "BI_MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
)

// ParseFrequency validates a frequency value.
func ParseFrequency(raw string) (Frequency, error) {
	switch f := Frequency(strings.ToUpper(strings.TrimSpace(raw))); f {
	case FrequencyWeekly, FrequencyMonthly, FrequencyBiMonthly, FrequencyQuarterly, FrequencyYearly:
		return f, nil
	default:
		return "", fmt.Errorf("%w: frequency %q", ErrInvalidRequest, raw)
	}
}

// Advance returns t moved forward by one period.
func (f Frequency) Advance(t time.Time) time.Time {
	switch f {
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyBiMonthly:
		return addMonths(t, 2)
	case FrequencyQuarterly:
		return addMonths(t, 3)
	case FrequencyYearly:
		return addMonths(t, 12)
	default:
		return addMonths(t, 1)
	}
}

// NextDue computes the due time that follows a successful charge at tickAt.
// The schedule stays anchored on the previous due time; periods that are
// already in the past are skipped rather than charged back to back.
func (f Frequency) NextDue(previous *time.Time, tickAt time.Time) time.Time {
	base := tickAt
	if previous != nil {
		base = *previous
	}
	next := f.Advance(base)
	for !next.After(tickAt) {
		next = f.Advance(next)
	}
	return next
}

func addMonths(t time.Time, months int) time.Time {
	year, month, day := t.Date()
	first := time.Date(year, month+time.Month(months), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	if last := first.AddDate(0, 1, -1).Day(); day > last {
		day = last
	}
	return time.Date(first.Year(), first.Month(), day, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// Subscription maps to the `subscriptions` table.
type Subscription struct {
	ID              uuid.UUID       `json:"subscription_id"`
	PayerUserID     string          `json:"user_id"`
	PayeeUserID     string          `json:"provider_id"`
	SourceAccountID *uuid.UUID      `json:"source_account_id,omitempty"`
	TargetAccountID *uuid.UUID      `json:"target_account_id,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Frequency       Frequency       `json:"frequency"`
	NextDueAt       *time.Time      `json:"next_payment_date,omitempty"`
	Active          bool            `json:"is_active"`
	Description     string          `json:"description,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// IdempotencyKeyAt derives the transfer key used for a charge attempt in the
// tick that started at tickAt.
func (s Subscription) IdempotencyKeyAt(tickAt time.Time) string {
	return fmt.Sprintf("sub_%s_%d", s.ID, tickAt.Unix())
}

// ChargeDescription is the ledger description for a recurring charge.
func (s Subscription) ChargeDescription() string {
	if s.Description != "" {
		return s.Description
	}
	return fmt.Sprintf("Subscription Payment: %s to %s", s.Frequency, s.PayeeUserID)
}

// CreateSubscriptionRequest is the input for creating a subscription.
type CreateSubscriptionRequest struct {
	PayerUserID     string
	PayeeUserID     string
	SourceAccountID *uuid.UUID
	TargetAccountID *uuid.UUID
	Amount          decimal.Decimal
	Currency        string
	Frequency       string
	StartAt         *time.Time
	Description     string
}
