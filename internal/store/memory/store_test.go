package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

func seed(t *testing.T, s *Store, id string, balance int64) {
	t.Helper()
	require.NoError(t, s.CreateAccount(context.Background(), &models.Account{ID: id, Balance: models.Cents(balance)}))
}

func credit(id, accountID string, cents int64) func(ctx context.Context, sc store.Scope) error {
	return func(ctx context.Context, sc store.Scope) error {
		account, err := sc.LockAccount(ctx, accountID)
		if err != nil {
			return err
		}
		if err := sc.AppendTransaction(ctx, &models.Transaction{
			ID: id, AccountID: accountID, Amount: models.Cents(cents),
			Type: models.TransactionTypeDeposit, Status: models.TransactionStatusCompleted,
		}); err != nil {
			return err
		}
		return sc.UpdateBalance(ctx, account, account.Balance.Add(models.Cents(cents)))
	}
}

func TestStore_AtomicCommit(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "acc-1", 1000)

	result, err := s.Atomic(ctx, credit("tx-1", "acc-1", 250))
	require.NoError(t, err)
	assert.Equal(t, store.Committed, result.Outcome)

	account, err := s.GetAccount(ctx, "acc-1")
	require.NoError(t, err)
	assert.Equal(t, int64(1250), account.Balance.Cents())
	assert.Equal(t, int64(2), account.Version)

	tx, err := s.GetTransaction(ctx, "tx-1")
	require.NoError(t, err)
	assert.False(t, tx.CreatedAt.IsZero())
}

func TestStore_AtomicRollback(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "acc-1", 1000)

	boom := errors.New("boom")
	_, err := s.Atomic(ctx, func(ctx context.Context, sc store.Scope) error {
		if err := credit("tx-1", "acc-1", 250)(ctx, sc); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	account, _ := s.GetAccount(ctx, "acc-1")
	assert.Equal(t, int64(1000), account.Balance.Cents())
	_, err = s.GetTransaction(ctx, "tx-1")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The lock was released.
	_, err = s.Atomic(ctx, credit("tx-2", "acc-1", 1))
	assert.NoError(t, err)
}

func TestStore_DuplicateTransaction(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "acc-1", 0)

	_, err := s.Atomic(ctx, credit("tx-1", "acc-1", 100))
	require.NoError(t, err)

	result, err := s.Atomic(ctx, credit("tx-1", "acc-1", 100))
	require.NoError(t, err)
	assert.Equal(t, store.UniqueConstraintViolated, result.Outcome)
	assert.Equal(t, store.FieldTransactionID, result.Field)

	account, _ := s.GetAccount(ctx, "acc-1")
	assert.Equal(t, int64(100), account.Balance.Cents())
}

func TestStore_UnknownAccount(t *testing.T) {
	_, err := New().Atomic(context.Background(), credit("tx-1", "nope", 1))
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
}

func TestStore_LockSerializesScopes(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "acc-1", 0)

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Atomic(ctx, credit(fmt.Sprintf("tx-%d", i), "acc-1", 1))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	account, _ := s.GetAccount(ctx, "acc-1")
	assert.Equal(t, int64(100), account.Balance.Cents())
	assert.Equal(t, int64(101), account.Version)
}

func TestStore_LockWaitHonoursContext(t *testing.T) {
	s := New()
	seed(t, s, "acc-1", 0)

	locked := make(chan struct{})
	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = s.Atomic(context.Background(), func(ctx context.Context, sc store.Scope) error {
			if _, err := sc.LockAccount(ctx, "acc-1"); err != nil {
				return err
			}
			close(locked)
			<-release
			return nil
		})
	}()
	<-locked

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := s.Atomic(ctx, credit("tx-1", "acc-1", 1))
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-done

	_, err = s.Atomic(context.Background(), credit("tx-2", "acc-1", 1))
	assert.NoError(t, err)
}

func TestStore_ListTransactions(t *testing.T) {
	ctx := context.Background()
	s := New()
	seed(t, s, "a", 0)
	seed(t, s, "b", 0)

	for _, c := range []struct {
		id, account string
		cents       int64
	}{
		{"t1", "a", 300}, {"t2", "a", 100}, {"t3", "b", 200}, {"t4", "a", 100},
	} {
		_, err := s.Atomic(ctx, credit(c.id, c.account, c.cents))
		require.NoError(t, err)
	}

	items, total, err := s.ListTransactions(ctx, models.ListQuery{AccountID: "a", Page: 1, Limit: 10, SortBy: models.SortByAmount, Order: models.OrderAsc})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 3)
	assert.Equal(t, []string{"t2", "t4", "t1"}, []string{items[0].ID, items[1].ID, items[2].ID})

	items, total, err = s.ListTransactions(ctx, models.ListQuery{Page: 2, Limit: 3, SortBy: models.SortByID, Order: models.OrderDesc})
	require.NoError(t, err)
	assert.Equal(t, 4, total)
	require.Len(t, items, 1)
	assert.Equal(t, "t1", items[0].ID)

	_, _, err = s.ListTransactions(ctx, models.ListQuery{Page: 1, Limit: 1, SortBy: "balance"})
	assert.Error(t, err)
}
