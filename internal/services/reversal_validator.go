package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

// TransactionLookup is the read-only point lookup into the ledger.
type TransactionLookup interface {
	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
}

// ReversalValidator checks a reversal against the record it references. The
// check reads a snapshot and takes no lock on the referenced record.
type ReversalValidator struct {
	lookup TransactionLookup
}

func NewReversalValidator(lookup TransactionLookup) *ReversalValidator {
	return &ReversalValidator{lookup: lookup}
}

func (v *ReversalValidator) Validate(ctx context.Context, reversalOf string, claimed models.Money) error {
	original, err := v.lookup.GetTransaction(ctx, reversalOf)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrOriginalTransactionNotFound, reversalOf)
	}
	if err != nil {
		return fmt.Errorf("look up original transaction %s: %w", reversalOf, err)
	}

	if !original.Amount.Equal(claimed) {
		return fmt.Errorf("%w: original %s, reversal %s", ErrReversalAmountMismatch, original.Amount, claimed)
	}
	return nil
}
