package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := Open(filepath.Join(t.TempDir(), "ledger.db"), 5*time.Second)
	require.NoError(t, err)
	s := New(db, nil)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { s.Close() })
	return s
}

func credit(id string, cents int64) func(ctx context.Context, sc store.Scope) error {
	return func(ctx context.Context, sc store.Scope) error {
		account, err := sc.LockAccount(ctx, "acc-1")
		if err != nil {
			return err
		}
		if err := sc.AppendTransaction(ctx, &models.Transaction{
			ID: id, AccountID: "acc-1", Amount: models.Cents(cents),
			Type: models.TransactionTypeDeposit, Status: models.TransactionStatusCompleted,
		}); err != nil {
			return err
		}
		return sc.UpdateBalance(ctx, account, account.Balance.Add(models.Cents(cents)))
	}
}

func TestStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAccount(ctx, &models.Account{ID: "acc-1"}))

	result, err := s.Atomic(ctx, credit("tx-1", 7550))
	require.NoError(t, err)
	assert.Equal(t, store.Committed, result.Outcome)

	account, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, "75.50", account.Balance.String())
	assert.Equal(t, int64(2), account.Version)
	assert.True(t, account.UpdatedAt.After(account.CreatedAt) || account.UpdatedAt.Equal(account.CreatedAt))

	tx, err := s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "acc-1", tx.AccountID)
	assert.Equal(t, "75.50", tx.Amount.String())
	assert.Nil(t, tx.ReversalOf)
	assert.WithinDuration(t, time.Now(), tx.CreatedAt, time.Minute)

	_, err = s.GetTransaction(ctx, "tx-2")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestStore_DuplicateTransactionID(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAccount(ctx, &models.Account{ID: "acc-1"}))

	_, err := s.Atomic(ctx, credit("tx-1", 100))
	require.NoError(t, err)

	result, err := s.Atomic(ctx, credit("tx-1", 100))
	require.NoError(t, err)
	assert.Equal(t, store.UniqueConstraintViolated, result.Outcome)
	assert.Equal(t, store.FieldTransactionID, result.Field)

	account, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(100), account.Balance.Cents())
}

func TestStore_CreateAccountTwice(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAccount(ctx, &models.Account{ID: "acc-1"}))
	assert.ErrorIs(t, s.CreateAccount(ctx, &models.Account{ID: "acc-1"}), store.ErrAlreadyExists)
}

func TestStore_MissingAccount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Atomic(ctx, credit("tx-1", 100))
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
	_, err = s.GetAccount(ctx, "acc-1")
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestStore_SchemaRejectsNonPositiveAmount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAccount(ctx, &models.Account{ID: "acc-1"}))

	_, err := s.Atomic(ctx, credit("tx-1", -100))
	assert.Error(t, err)
}

func TestStore_MigrateIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	assert.NoError(t, s.Migrate(context.Background()))
}

func TestStore_ListOrdersByAmount(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	require.NoError(t, s.CreateAccount(ctx, &models.Account{ID: "acc-1"}))

	for id, cents := range map[string]int64{"a": 900, "b": 1000, "c": 50} {
		_, err := s.Atomic(ctx, credit(id, cents))
		require.NoError(t, err)
	}

	items, total, err := s.ListTransactions(ctx, models.ListQuery{Page: 1, Limit: 10, SortBy: models.SortByAmount, Order: models.OrderDesc})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"b", "a", "c"}, []string{items[0].ID, items[1].ID, items[2].ID})
}

func TestConstraintField(t *testing.T) {
	cases := map[string]string{
		"constraint failed: UNIQUE constraint failed: transactions.id (1555)": "transactions.id",
		"UNIQUE constraint failed: accounts.id":                               "accounts.id",
		"UNIQUE constraint failed: t.a, t.b":                                  "t.a",
		"disk I/O error":                                                      "",
	}
	for msg, want := range cases {
		assert.Equal(t, want, constraintField(msg), msg)
	}
}
