package services

import (
	"errors"

	"github.com/ruralpay/ledger/internal/models"
)

// Business rule errors. Terminal for the call, never retried.
var (
	ErrAccountNotFound             = errors.New("account not found")
	ErrInsufficientBalance         = errors.New("insufficient balance")
	ErrOriginalTransactionNotFound = errors.New("original transaction not found")
	ErrReversalAmountMismatch      = errors.New("reversal amount does not match original transaction")
	ErrBalanceLimitExceeded        = errors.New("balance limit exceeded")
)

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrAccountExists       = errors.New("account already exists")

	// Input validation failures. Nothing is mutated before they are returned.
	ErrInvalidTransaction = errors.New("invalid transaction")
	ErrInvalidQuery       = errors.New("invalid query")
	ErrInvalidAccount     = errors.New("invalid account")

	// ErrTransientConflict is returned when the storage backend aborted the
	// atomic scope (serialization failure, deadlock, lock timeout). Retrying
	// Submit with the same transaction id is safe.
	ErrTransientConflict = errors.New("transient storage conflict, retry with the same transaction id")
)

// IsValidationError reports whether err was raised before any mutation
// because the input was malformed.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidTransaction) ||
		errors.Is(err, ErrInvalidQuery) ||
		errors.Is(err, ErrInvalidAccount) ||
		errors.Is(err, models.ErrInvalidAmountFormat)
}

// IsBusinessRuleError reports whether err is a terminal ledger rule violation.
func IsBusinessRuleError(err error) bool {
	return errors.Is(err, ErrAccountNotFound) ||
		errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrOriginalTransactionNotFound) ||
		errors.Is(err, ErrReversalAmountMismatch) ||
		errors.Is(err, ErrBalanceLimitExceeded)
}

func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransientConflict)
}
