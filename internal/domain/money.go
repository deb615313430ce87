/**
 * @description
 * Fixed-point amount helpers shared by the engine, the store and the API layer.
 *
 * @notes
 * - Amounts are shopspring decimals and are persisted as NUMERIC. A valid amount
 *   must be representable in the currency's minor unit (2 places unless listed).
 */
package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// MaxAmount is the largest value a NUMERIC(20,4) amount or balance column holds.
var MaxAmount = decimal.RequireFromString("9999999999999999.9999")

var minorUnitOverrides = map[string]int32{
	"JPY": 0,
	"KRW": 0,
	"BHD": 3,
	"KWD": 3,
}

// MinorUnits returns the number of decimal places of a currency's minor unit.
func MinorUnits(currency string) int32 {
	if places, ok := minorUnitOverrides[currency]; ok {
		return places
	}
	return 2
}

// NormalizeCurrency upper-cases and validates a three-letter currency code.
func NormalizeCurrency(code string) (string, error) {
	c := strings.ToUpper(strings.TrimSpace(code))
	if len(c) != 3 {
		return "", fmt.Errorf("%w: currency %q", ErrInvalidRequest, code)
	}
	for _, r := range c {
		if r < 'A' || r > 'Z' {
			return "", fmt.Errorf("%w: currency %q", ErrInvalidRequest, code)
		}
	}
	return c, nil
}

// ValidateAmount rejects non-positive amounts, amounts above MaxAmount and
// amounts finer than the currency's minor unit.
func ValidateAmount(amount decimal.Decimal, currency string) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if amount.GreaterThan(MaxAmount) {
		return fmt.Errorf("%w: %s exceeds the maximum of %s", ErrInvalidAmount, amount.String(), MaxAmount.String())
	}
	places := MinorUnits(currency)
	if !amount.Equal(amount.Round(places)) {
		return fmt.Errorf("%w: %s has more than %d decimal places for %s", ErrInvalidAmount, amount.String(), places, currency)
	}
	return nil
}

// FormatAmount renders an amount with exactly the currency's minor unit places.
func FormatAmount(amount decimal.Decimal, currency string) string {
	return amount.StringFixed(MinorUnits(currency))
}
