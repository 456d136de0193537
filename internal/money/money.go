// Package money converts between operator-facing decimal amounts and the
// integer cents the engine stores.
package money

import (
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

var ErrInvalidAmount = errors.New("invalid amount")

var hundred = decimal.NewFromInt(100)

// ParseCents reads "12.5", "12.50" or "12" into 1250. More than two decimal
// places is rejected rather than rounded.
func ParseCents(s string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(s))
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidAmount, s)
	}
	if !d.Equal(d.Round(2)) {
		return 0, fmt.Errorf("%w: %q has more than two decimal places", ErrInvalidAmount, s)
	}
	return d.Mul(hundred).IntPart(), nil
}

func FormatCents(cents int64) string {
	return decimal.New(cents, -2).StringFixed(2)
}

// Decimal is used where a spreadsheet cell wants a number instead of text.
func Decimal(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}
