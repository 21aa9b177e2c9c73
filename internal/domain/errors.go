package domain

import (
	"errors"
	"fmt"
)

var (
	// Admission errors
	ErrValidation        = errors.New("transaction validation failed")
	ErrDanglingReference = errors.New("reference does not resolve")
	ErrDuplicateID       = errors.New("transaction id already exists")

	// Lifecycle errors
	ErrInvalidTransition      = errors.New("invalid status transition")
	ErrConcurrentModification = errors.New("transaction was modified concurrently")

	// Lookup and storage errors
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrStorageUnavailable  = errors.New("ledger storage unavailable")
)

// Validation rule identifiers, in evaluation order.
const (
	RuleRequiredFields    = "required_fields"
	RuleAmountSign        = "amount_sign"
	RuleDanglingReference = "dangling_reference"
	RuleCurrency          = "currency"
	RuleBlobTooLarge      = "blob_too_large"
	RuleBlobFormat        = "blob_format"
)

// ValidationError reports the first validation rule a candidate failed.
type ValidationError struct {
	Rule  string
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation rule %s failed on %s: %v", e.Rule, e.Field, e.Err)
	}
	return fmt.Sprintf("validation rule %s failed: %v", e.Rule, e.Err)
}

// Unwrap exposes both ErrValidation and the rule-specific cause to errors.Is.
func (e *ValidationError) Unwrap() []error {
	return []error{ErrValidation, e.Err}
}

// NewValidationError builds a ValidationError for rule.
func NewValidationError(rule, field string, err error) *ValidationError {
	return &ValidationError{Rule: rule, Field: field, Err: err}
}

// ValidationRule extracts the failed rule from err, if any.
func ValidationRule(err error) (string, bool) {
	var vErr *ValidationError
	if errors.As(err, &vErr) {
		return vErr.Rule, true
	}
	return "", false
}

// IsRetryable reports whether the caller may retry with fresh state.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrConcurrentModification) || errors.Is(err, ErrStorageUnavailable)
}
