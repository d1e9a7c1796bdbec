// Package sqlstore implements store.Store on database/sql. Backend packages
// supply a Dialect for placeholders, locking, value encoding and driver
// error classification.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"go.uber.org/zap"
)

// Dialect captures what differs between SQL backends.
type Dialect interface {
	Name() string
	// Rebind rewrites '?' placeholders into the backend's syntax.
	Rebind(query string) string
	// TxOptions returns the options used to open every atomic scope.
	TxOptions() *sql.TxOptions
	// LockClause is appended to the account read inside a scope.
	LockClause() string
	MoneyArg(m models.Money) any
	MoneyDest(m *models.Money) any
	TimeArg(t time.Time) any
	TimeDest(t *time.Time) any
	// Classify maps a driver error onto store.ErrTransient or
	// *store.UniqueViolationError, or returns it unchanged.
	Classify(err error) error
}

var sortColumns = map[models.SortAttribute]string{
	models.SortByID:        "id",
	models.SortByCreatedAt: "created_at",
	models.SortByAmount:    "amount",
	models.SortByType:      "type",
	models.SortByAccountID: "account_id",
}

const transactionColumns = "id, account_id, amount, type, status, reversal_of, description, created_at"

type Store struct {
	db      *sql.DB
	dialect Dialect
	logger  *zap.Logger
	now     func() time.Time
}

var _ store.Store = (*Store)(nil)

func New(db *sql.DB, dialect Dialect, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		db:      db,
		dialect: dialect,
		logger:  logger.With(zap.String("component", "store"), zap.String("dialect", dialect.Name())),
		now:     func() time.Time { return time.Now().UTC().Truncate(time.Microsecond) },
	}
}

// DB returns the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) Close() error { return s.db.Close() }

// Migrate is provided by the backend packages which know their schema.
func (s *Store) Migrate(context.Context) error {
	return fmt.Errorf("sqlstore: %s: migrate must be called on the backend store", s.dialect.Name())
}

func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, scope store.Scope) error) (store.WriteResult, error) {
	tx, err := s.db.BeginTx(ctx, s.dialect.TxOptions())
	if err != nil {
		return store.WriteResult{}, fmt.Errorf("sqlstore: begin: %w", s.dialect.Classify(err))
	}
	defer tx.Rollback()

	if err := fn(ctx, &scope{s: s, tx: tx}); err != nil {
		return store.Resolve(err)
	}

	if err := tx.Commit(); err != nil {
		s.logger.Debug("commit failed", zap.Error(err))
		return store.Resolve(fmt.Errorf("sqlstore: commit: %w", s.dialect.Classify(err)))
	}
	return store.WriteResult{Outcome: store.Committed}, nil
}

type scope struct {
	s  *Store
	tx *sql.Tx
}

func (sc *scope) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	query := sc.s.dialect.Rebind(`
		SELECT id, balance, version, created_at, updated_at
		FROM accounts
		WHERE id = ?` + sc.s.dialect.LockClause())

	var account models.Account
	err := sc.tx.QueryRowContext(ctx, query, accountID).Scan(
		&account.ID,
		sc.s.dialect.MoneyDest(&account.Balance),
		&account.Version,
		sc.s.dialect.TimeDest(&account.CreatedAt),
		sc.s.dialect.TimeDest(&account.UpdatedAt),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: lock account %s: %w", accountID, sc.s.dialect.Classify(err))
	}
	return &account, nil
}

func (sc *scope) UpdateBalance(ctx context.Context, account *models.Account, balance models.Money) error {
	now := sc.s.now()
	result, err := sc.tx.ExecContext(ctx, sc.s.dialect.Rebind(`
		UPDATE accounts
		SET balance = ?, version = version + 1, updated_at = ?
		WHERE id = ? AND version = ?`),
		sc.s.dialect.MoneyArg(balance), sc.s.dialect.TimeArg(now), account.ID, account.Version)
	if err != nil {
		return fmt.Errorf("sqlstore: update balance %s: %w", account.ID, sc.s.dialect.Classify(err))
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlstore: update balance %s: %w", account.ID, err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("sqlstore: optimistic lock failed for account %s: %w", account.ID, store.ErrTransient)
	}

	account.Balance = balance
	account.Version++
	account.UpdatedAt = now
	return nil
}

func (sc *scope) AppendTransaction(ctx context.Context, t *models.Transaction) error {
	t.CreatedAt = sc.s.now()
	_, err := sc.tx.ExecContext(ctx, sc.s.dialect.Rebind(`
		INSERT INTO transactions (`+transactionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`),
		t.ID, t.AccountID, sc.s.dialect.MoneyArg(t.Amount), string(t.Type), string(t.Status),
		t.ReversalOf, t.Description, sc.s.dialect.TimeArg(t.CreatedAt))
	if err != nil {
		return fmt.Errorf("sqlstore: append transaction %s: %w", t.ID, sc.s.dialect.Classify(err))
	}
	return nil
}

func (s *Store) GetTransaction(ctx context.Context, id string) (*models.Transaction, error) {
	row := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT `+transactionColumns+`
		FROM transactions
		WHERE id = ?`), id)

	t, err := s.scanTransaction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get transaction %s: %w", id, err)
	}
	return t, nil
}

func (s *Store) ListTransactions(ctx context.Context, q models.ListQuery) ([]models.Transaction, int, error) {
	column, ok := sortColumns[q.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("sqlstore: unsupported sort attribute %q", q.SortBy)
	}
	direction := "DESC"
	if q.Order == models.OrderAsc {
		direction = "ASC"
	}

	var conditions []string
	var args []any
	if q.AccountID != "" {
		conditions = append(conditions, "account_id = ?")
		args = append(args, q.AccountID)
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := s.db.QueryRowContext(ctx, s.dialect.Rebind("SELECT COUNT(*) FROM transactions"+where), args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("sqlstore: count transactions: %w", err)
	}

	order := fmt.Sprintf(" ORDER BY %s %s", column, direction)
	if column != "id" {
		order += ", id " + direction
	}
	query := "SELECT " + transactionColumns + " FROM transactions" + where + order + " LIMIT ? OFFSET ?"
	rows, err := s.db.QueryContext(ctx, s.dialect.Rebind(query), append(args, q.Limit, q.Offset())...)
	if err != nil {
		return nil, 0, fmt.Errorf("sqlstore: list transactions: %w", err)
	}
	defer rows.Close()

	transactions := []models.Transaction{}
	for rows.Next() {
		t, err := s.scanTransaction(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("sqlstore: scan transaction: %w", err)
		}
		transactions = append(transactions, *t)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("sqlstore: list transactions: %w", err)
	}
	return transactions, total, nil
}

func (s *Store) CreateAccount(ctx context.Context, account *models.Account) error {
	now := s.now()
	account.Version = 1
	account.CreatedAt, account.UpdatedAt = now, now
	_, err := s.db.ExecContext(ctx, s.dialect.Rebind(`
		INSERT INTO accounts (id, balance, version, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)`),
		account.ID, s.dialect.MoneyArg(account.Balance), account.Version,
		s.dialect.TimeArg(now), s.dialect.TimeArg(now))
	if err != nil {
		var uv *store.UniqueViolationError
		if errors.As(s.dialect.Classify(err), &uv) {
			return store.ErrAlreadyExists
		}
		return fmt.Errorf("sqlstore: create account %s: %w", account.ID, err)
	}
	return nil
}

func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	var account models.Account
	err := s.db.QueryRowContext(ctx, s.dialect.Rebind(`
		SELECT id, balance, version, created_at, updated_at
		FROM accounts
		WHERE id = ?`), id).Scan(
		&account.ID,
		s.dialect.MoneyDest(&account.Balance),
		&account.Version,
		s.dialect.TimeDest(&account.CreatedAt),
		s.dialect.TimeDest(&account.UpdatedAt),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrAccountNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("sqlstore: get account %s: %w", id, err)
	}
	return &account, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scanTransaction(row rowScanner) (*models.Transaction, error) {
	var t models.Transaction
	var txType, status string
	var reversalOf, description sql.NullString
	err := row.Scan(
		&t.ID, &t.AccountID, s.dialect.MoneyDest(&t.Amount), &txType, &status,
		&reversalOf, &description, s.dialect.TimeDest(&t.CreatedAt),
	)
	if err != nil {
		return nil, err
	}
	t.Type = models.TransactionType(txType)
	t.Status = models.TransactionStatus(status)
	if reversalOf.Valid {
		t.ReversalOf = &reversalOf.String
	}
	if description.Valid {
		t.Description = &description.String
	}
	return &t, nil
}
