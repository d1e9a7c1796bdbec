package postgres

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

var (
	lockQuery    = `(?s)SELECT id, balance, version, created_at, updated_at\s+FROM accounts\s+WHERE id = \$1\s+FOR UPDATE`
	insertQuery  = `(?s)INSERT INTO transactions \(id, account_id, amount, type, status, reversal_of, description, created_at\)\s+VALUES \(\$1, \$2, \$3, \$4, \$5, \$6, \$7, \$8\)`
	updateQuery  = `(?s)UPDATE accounts\s+SET balance = \$1, version = version \+ 1, updated_at = \$2\s+WHERE id = \$3 AND version = \$4`
	accountCols  = []string{"id", "balance", "version", "created_at", "updated_at"}
	recordCols   = []string{"id", "account_id", "amount", "type", "status", "reversal_of", "description", "created_at"}
	fixedCreated = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, sql.LevelSerializable, nil), mock
}

func deposit(ctx context.Context, sc store.Scope) error {
	account, err := sc.LockAccount(ctx, "acc-1")
	if err != nil {
		return err
	}
	record := &models.Transaction{
		ID: "tx-1", AccountID: "acc-1", Amount: models.Cents(2500),
		Type: models.TransactionTypeDeposit, Status: models.TransactionStatusCompleted,
	}
	if err := sc.AppendTransaction(ctx, record); err != nil {
		return err
	}
	return sc.UpdateBalance(ctx, account, account.Balance.Add(record.Amount))
}

func expectLock(mock sqlmock.Sqlmock, balance string, version int64) {
	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows(accountCols).AddRow("acc-1", balance, version, fixedCreated, fixedCreated))
}

func TestAtomic_Commit(t *testing.T) {
	s, mock := newMockStore(t)

	expectLock(mock, "1000.00", 3)
	mock.ExpectExec(insertQuery).
		WithArgs("tx-1", "acc-1", "25.00", "deposit", "completed", nil, nil, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateQuery).
		WithArgs("1025.00", sqlmock.AnyArg(), "acc-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	result, err := s.Atomic(context.Background(), deposit)
	require.NoError(t, err)
	assert.Equal(t, store.Committed, result.Outcome)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_DuplicateTransactionID(t *testing.T) {
	s, mock := newMockStore(t)

	expectLock(mock, "1000.00", 3)
	mock.ExpectExec(insertQuery).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "transactions_pkey", Table: "transactions"})
	mock.ExpectRollback()

	result, err := s.Atomic(context.Background(), deposit)
	require.NoError(t, err)
	assert.Equal(t, store.UniqueConstraintViolated, result.Outcome)
	assert.Equal(t, store.FieldTransactionID, result.Field)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_SerializationFailureOnCommit(t *testing.T) {
	s, mock := newMockStore(t)

	expectLock(mock, "1000.00", 3)
	mock.ExpectExec(insertQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit().WillReturnError(&pq.Error{Code: "40001"})

	_, err := s.Atomic(context.Background(), deposit)
	assert.ErrorIs(t, err, store.ErrTransient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_DeadlockOnLock(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WillReturnError(&pq.Error{Code: "40P01"})
	mock.ExpectRollback()

	_, err := s.Atomic(context.Background(), deposit)
	assert.ErrorIs(t, err, store.ErrTransient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_OptimisticLockLost(t *testing.T) {
	s, mock := newMockStore(t)

	expectLock(mock, "1000.00", 3)
	mock.ExpectExec(insertQuery).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(updateQuery).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	_, err := s.Atomic(context.Background(), deposit)
	assert.ErrorIs(t, err, store.ErrTransient)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_AccountNotFound(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectBegin()
	mock.ExpectQuery(lockQuery).WillReturnRows(sqlmock.NewRows(accountCols))
	mock.ExpectRollback()

	_, err := s.Atomic(context.Background(), deposit)
	assert.ErrorIs(t, err, store.ErrAccountNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAtomic_ScopeErrorRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	boom := errors.New("insufficient")

	expectLock(mock, "10.00", 1)
	mock.ExpectRollback()

	_, err := s.Atomic(context.Background(), func(ctx context.Context, sc store.Scope) error {
		if _, err := sc.LockAccount(ctx, "acc-1"); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTransaction(t *testing.T) {
	s, mock := newMockStore(t)
	reversalOf := "tx-0"

	mock.ExpectQuery(`(?s)SELECT id, account_id, amount, type, status, reversal_of, description, created_at\s+FROM transactions\s+WHERE id = \$1`).
		WithArgs("tx-1").
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("tx-1", "acc-1", "75.50", "reversal", "completed", reversalOf, nil, fixedCreated))
	mock.ExpectQuery(`FROM transactions`).
		WithArgs("missing").
		WillReturnRows(sqlmock.NewRows(recordCols))

	tx, err := s.GetTransaction(context.Background(), "tx-1")
	require.NoError(t, err)
	assert.Equal(t, "75.50", tx.Amount.String())
	assert.Equal(t, models.TransactionTypeReversal, tx.Type)
	require.NotNil(t, tx.ReversalOf)
	assert.Equal(t, "tx-0", *tx.ReversalOf)
	assert.Nil(t, tx.Description)
	assert.Equal(t, fixedCreated, tx.CreatedAt)

	_, err = s.GetTransaction(context.Background(), "missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransactions(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions WHERE account_id = \$1`).
		WithArgs("acc-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(12))
	mock.ExpectQuery(`FROM transactions WHERE account_id = \$1 ORDER BY amount ASC, id ASC LIMIT \$2 OFFSET \$3`).
		WithArgs("acc-1", 5, 5).
		WillReturnRows(sqlmock.NewRows(recordCols).
			AddRow("tx-6", "acc-1", "1.00", "deposit", "completed", nil, nil, fixedCreated).
			AddRow("tx-7", "acc-1", "2.00", "withdrawal", "completed", nil, "atm", fixedCreated))

	items, total, err := s.ListTransactions(context.Background(), models.ListQuery{
		AccountID: "acc-1", Page: 2, Limit: 5, SortBy: models.SortByAmount, Order: models.OrderAsc,
	})
	require.NoError(t, err)
	assert.Equal(t, 12, total)
	require.Len(t, items, 2)
	assert.Equal(t, "tx-7", items[1].ID)
	require.NotNil(t, items[1].Description)
	assert.Equal(t, "atm", *items[1].Description)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestListTransactions_SortByID(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM transactions$`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`FROM transactions ORDER BY id DESC LIMIT \$1 OFFSET \$2$`).
		WithArgs(10, 0).
		WillReturnRows(sqlmock.NewRows(recordCols))

	items, total, err := s.ListTransactions(context.Background(), models.ListQuery{
		Page: 1, Limit: 10, SortBy: models.SortByID, Order: models.OrderDesc,
	})
	require.NoError(t, err)
	assert.Zero(t, total)
	assert.Empty(t, items)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAccount(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec(`INSERT INTO accounts`).
		WithArgs("acc-1", "0.00", int64(1), sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`INSERT INTO accounts`).
		WillReturnError(&pq.Error{Code: "23505", Constraint: "accounts_pkey"})

	account := &models.Account{ID: "acc-1"}
	require.NoError(t, s.CreateAccount(context.Background(), account))
	assert.Equal(t, int64(1), account.Version)

	err := s.CreateAccount(context.Background(), &models.Account{ID: "acc-1"})
	assert.ErrorIs(t, err, store.ErrAlreadyExists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDialect_Rebind(t *testing.T) {
	d := Dialect{}
	assert.Equal(t, "SELECT 1", d.Rebind("SELECT 1"))
	assert.Equal(t, "a = $1 AND b = $2 LIMIT $3", d.Rebind("a = ? AND b = ? LIMIT ?"))
}

func TestDialect_Classify(t *testing.T) {
	d := Dialect{}

	var uv *store.UniqueViolationError
	require.ErrorAs(t, d.Classify(&pq.Error{Code: "23505", Constraint: "transactions_pkey"}), &uv)
	assert.Equal(t, "transactions.id", uv.Field)

	for _, code := range []pq.ErrorCode{"40001", "40P01", "55P03"} {
		assert.ErrorIs(t, d.Classify(&pq.Error{Code: code}), store.ErrTransient, string(code))
	}

	other := &pq.Error{Code: "23503"}
	assert.Same(t, other, d.Classify(other))
	plain := errors.New("connection reset")
	assert.Equal(t, plain, d.Classify(plain))
}

func TestParseIsolation(t *testing.T) {
	cases := map[string]sql.IsolationLevel{
		"":                sql.LevelRepeatableRead,
		"repeatable_read": sql.LevelRepeatableRead,
		"REPEATABLE READ": sql.LevelRepeatableRead,
		"serializable":    sql.LevelSerializable,
	}
	for in, want := range cases {
		got, err := ParseIsolation(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseIsolation("read_committed")
	assert.Error(t, err)
}
