package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

// RecordCache holds committed, immutable transaction records.
type RecordCache interface {
	Get(ctx context.Context, id string) (*models.Transaction, bool)
	Put(ctx context.Context, t *models.Transaction)
}

type noopCache struct{}

func (noopCache) Get(context.Context, string) (*models.Transaction, bool) { return nil, false }

func (noopCache) Put(context.Context, *models.Transaction) {}

// cachedLookup reads through the record cache into the store.
type cachedLookup struct {
	store TransactionLookup
	cache RecordCache
}

func (l cachedLookup) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	if t, ok := l.cache.Get(ctx, id); ok {
		return t, nil
	}
	t, err := l.store.GetTransaction(ctx, id)
	if err != nil {
		return nil, err
	}
	l.cache.Put(ctx, t)
	return t, nil
}

// IdempotencyResolver returns the committed record behind a duplicate
// transaction id.
type IdempotencyResolver struct {
	lookup TransactionLookup
}

func NewIdempotencyResolver(lookup TransactionLookup) *IdempotencyResolver {
	return &IdempotencyResolver{lookup: lookup}
}

// Resolve is only called after the store reported a unique violation on the
// transaction id, so the record must exist.
func (r *IdempotencyResolver) Resolve(ctx context.Context, id string) (*models.Transaction, error) {
	existing, err := r.lookup.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("idempotency: transaction %s reported as duplicate but not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("idempotency: look up transaction %s: %w", id, err)
	}
	return existing, nil
}
