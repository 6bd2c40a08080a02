package id

import (
	"fmt"
	"regexp"
	"strings"

	clierr "github.com/ggonzalez94/defi-intent/internal/errors"
	"github.com/shopspring/decimal"
)

var decimalPattern = regexp.MustCompile(`^[0-9]+(\.[0-9]+)?$`)

// ParseDecimal parses a non-negative plain decimal such as "12.5".
func ParseDecimal(v string) (decimal.Decimal, error) {
	v = strings.TrimSpace(v)
	if !decimalPattern.MatchString(v) {
		return decimal.Zero, clierr.New(clierr.CodeUsage, fmt.Sprintf("amount must be in decimal form like 1.23, got %q", v))
	}
	return decimal.RequireFromString(v), nil
}

// ToBaseUnits converts a decimal amount into integer base units for a token
// with the given decimals.
func ToBaseUnits(amount string, decimals int) (string, error) {
	if decimals < 0 {
		return "", clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	d, err := ParseDecimal(amount)
	if err != nil {
		return "", err
	}
	if -d.Exponent() > int32(decimals) && !d.Equal(d.Truncate(int32(decimals))) {
		return "", clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	return d.Shift(int32(decimals)).Truncate(0).String(), nil
}

// FormatFixed renders d with exactly places fractional digits, e.g. "750.00".
func FormatFixed(d decimal.Decimal, places int32) string {
	return d.StringFixed(places)
}
