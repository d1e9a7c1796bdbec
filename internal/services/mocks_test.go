package services

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/ruralpay/ledger/internal/store/memory"
)

type MockTransactionLookup struct {
	mock.Mock
}

func (m *MockTransactionLookup) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Transaction), args.Error(1)
}

type MockRecordCache struct {
	mock.Mock
}

func (m *MockRecordCache) Get(ctx context.Context, id string) (*models.Transaction, bool) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Bool(1)
	}
	return args.Get(0).(*models.Transaction), args.Bool(1)
}

func (m *MockRecordCache) Put(ctx context.Context, t *models.Transaction) {
	m.Called(ctx, t)
}

type MockSubmitMetrics struct {
	mock.Mock
}

func (m *MockSubmitMetrics) ObserveSubmit(txType, outcome string, elapsed time.Duration) {
	m.Called(txType, outcome, elapsed)
}

// failingStore is a memory store whose atomic scopes fail with err.
type failingStore struct {
	*memory.Store
	err error
}

func (s *failingStore) Atomic(context.Context, func(context.Context, store.Scope) error) (store.WriteResult, error) {
	return store.WriteResult{}, s.err
}
