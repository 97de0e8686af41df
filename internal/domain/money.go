package domain

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// DefaultCurrency is used when a wallet or bill is created without one.
const DefaultCurrency = "NGN"

// MoneyScale is the number of fractional digits kept on every stored amount.
const MoneyScale = 2

// NormalizeCurrency upper-cases the code and checks it against ISO 4217.
func NormalizeCurrency(code string) (string, error) {
	if strings.TrimSpace(code) == "" {
		return DefaultCurrency, nil
	}
	unit, err := currency.ParseISO(strings.ToUpper(strings.TrimSpace(code)))
	if err != nil {
		return "", fmt.Errorf("%w: unknown currency %q", ErrValidation, code)
	}
	return unit.String(), nil
}

// ValidateAmount rejects zero, negative and over-precise amounts.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrValidation)
	}
	if !amount.Equal(amount.Round(MoneyScale)) {
		return fmt.Errorf("%w: amount supports at most %d decimal places", ErrValidation, MoneyScale)
	}
	return nil
}

// MinAmount returns the smaller of two amounts.
func MinAmount(a, b decimal.Decimal) decimal.Decimal {
	if a.LessThan(b) {
		return a
	}
	return b
}
