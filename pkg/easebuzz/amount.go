package easebuzz

import (
	"errors"
	"math"

	"github.com/shopspring/decimal"
)

// ErrInvalidAmount is returned for non-finite or non-positive amounts.
var ErrInvalidAmount = errors.New("amount must be a positive number")

// NormalizeAmount formats amount with exactly two decimals, rounding half away from
// zero (99.999 -> "100.00", 10.005 -> "10.01"). Amounts that round to zero are rejected.
func NormalizeAmount(amount float64) (string, error) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) || amount <= 0 {
		return "", ErrInvalidAmount
	}
	d := decimal.NewFromFloat(amount).Round(2)
	if !d.IsPositive() {
		return "", ErrInvalidAmount
	}
	return d.StringFixed(2), nil
}

// ParseAmount parses a gateway amount string such as "100.00".
func ParseAmount(raw string) (decimal.Decimal, error) {
	if raw == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(raw)
}
