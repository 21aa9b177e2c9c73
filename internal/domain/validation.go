package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/currency"
)

// Validation errors
var (
	ErrMissingField      = errors.New("required field missing")
	ErrUnknownType       = errors.New("unknown transaction type")
	ErrUnknownEntityKind = errors.New("unknown entity kind")
	ErrAmountSign        = errors.New("amount sign does not match transaction type")
	ErrZeroAmount        = errors.New("zero amount not allowed for transaction type")
	ErrInvalidCurrency   = errors.New("invalid currency code")
	ErrUnsupportedCurr   = errors.New("currency not supported")
	ErrBlobTooLarge      = errors.New("snapshot size exceeds limit")
	ErrInvalidIDFormat   = errors.New("invalid ID format")
	ErrAmountTooLarge    = errors.New("amount exceeds maximum allowed")
	ErrInvalidBlob       = errors.New("snapshot data is not valid JSON")
)

// Validation constants
const (
	MaxIDLength          = 128
	MaxDescriptionLength = 1024
	MaxRelatedEntities   = 16
	MaxAbsAmount         = "1000000000000" // 1 trillion
)

var maxAbsAmount = decimal.RequireFromString(MaxAbsAmount)

// DefaultCurrencies is the supported set when none is configured.
var DefaultCurrencies = []string{
	"USD", "EUR", "GBP", "JPY", "CAD", "AUD", "CHF", "NZD",
	"MXN", "BRL", "ZAR", "AED", "SGD", "HKD", "INR", "THB",
}

// CurrencySet is the fixed set of codes the ledger accepts.
type CurrencySet map[string]struct{}

// NewCurrencySet builds a set from ISO 4217 codes. Every code must parse.
func NewCurrencySet(codes []string) (CurrencySet, error) {
	set := make(CurrencySet, len(codes))
	for _, code := range codes {
		normalized, err := NormalizeCurrency(code)
		if err != nil {
			return nil, err
		}
		set[normalized] = struct{}{}
	}
	return set, nil
}

// MustCurrencySet is NewCurrencySet for static input.
func MustCurrencySet(codes []string) CurrencySet {
	set, err := NewCurrencySet(codes)
	if err != nil {
		panic(err)
	}
	return set
}

// Contains reports whether code is in the set.
func (s CurrencySet) Contains(code string) bool {
	_, ok := s[code]
	return ok
}

// NormalizeCurrency upper-cases code and checks it is a well-formed ISO 4217 code.
func NormalizeCurrency(code string) (string, error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return "", fmt.Errorf("%w: %q", ErrInvalidCurrency, code)
	}

	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not an ISO 4217 code", ErrInvalidCurrency, code)
	}

	return unit.String(), nil
}

// ValidateCurrency checks code against the supported set.
func ValidateCurrency(code string, supported CurrencySet) error {
	normalized, err := NormalizeCurrency(code)
	if err != nil {
		return err
	}

	if !supported.Contains(normalized) {
		return fmt.Errorf("%w: %s", ErrUnsupportedCurr, normalized)
	}

	return nil
}

// ValidateAmountSign checks amount against the polarity the record must carry.
func ValidateAmountSign(t *Transaction) error {
	amount := t.Amount

	switch t.ExpectedPolarity() {
	case PolarityIn:
		if amount.IsNegative() {
			return fmt.Errorf("%w: %s must be >= 0, got %s", ErrAmountSign, t.Type, amount)
		}
	case PolarityOut:
		if amount.IsPositive() {
			return fmt.Errorf("%w: %s must be <= 0, got %s", ErrAmountSign, t.Type, amount)
		}
	case PolarityNone:
		if !t.IsReversal() && amount.IsNegative() {
			return fmt.Errorf("%w: %s must be >= 0, got %s", ErrAmountSign, t.Type, amount)
		}
		if t.IsReversal() && amount.IsPositive() {
			return fmt.Errorf("%w: reversal of %s must be <= 0, got %s", ErrAmountSign, t.Type, amount)
		}
		return nil
	}

	if amount.IsZero() {
		return fmt.Errorf("%w: %s", ErrZeroAmount, t.Type)
	}

	return nil
}

// ValidateAmountRange bounds the magnitude of an amount.
func ValidateAmountRange(amount decimal.Decimal) error {
	if amount.Abs().GreaterThan(maxAbsAmount) {
		return fmt.Errorf("%w: maximum magnitude is %s", ErrAmountTooLarge, MaxAbsAmount)
	}
	return nil
}

// ValidateBlob checks size and JSON well-formedness of a snapshot.
func ValidateBlob(b *Blob) error {
	if b == nil {
		return nil
	}

	if b.Size() > MaxBlobSize {
		return fmt.Errorf("%w: %d bytes exceeds limit of %d bytes", ErrBlobTooLarge, b.Size(), MaxBlobSize)
	}

	if len(b.Data) > 0 && !json.Valid(b.Data) {
		return ErrInvalidBlob
	}

	return nil
}

// ValidateID checks a caller-supplied identifier.
func ValidateID(id string) error {
	if strings.TrimSpace(id) != id || id == "" {
		return fmt.Errorf("%w: %q", ErrInvalidIDFormat, id)
	}
	if len(id) > MaxIDLength {
		return fmt.Errorf("%w: exceeds %d characters", ErrInvalidIDFormat, MaxIDLength)
	}
	return nil
}

// Negate returns the compensating amount for a reversal.
func Negate(amount decimal.Decimal) decimal.Decimal {
	return amount.Neg()
}
