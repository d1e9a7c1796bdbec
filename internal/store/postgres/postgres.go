// Package postgres is the PostgreSQL ledger backend.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratepg "github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/ruralpay/ledger/internal/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgreSQL SQLSTATE codes the ledger reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
)

// Store is a sqlstore.Store with a PostgreSQL schema.
type Store struct {
	*sqlstore.Store
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// New wraps an open *sql.DB. isolation must be at least
// sql.LevelRepeatableRead; the account row is additionally locked with
// SELECT ... FOR UPDATE.
func New(db *sql.DB, isolation sql.IsolationLevel, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		Store:  sqlstore.New(db, Dialect{Isolation: isolation}, logger),
		logger: logger,
	}
}

// ParseIsolation maps a config value onto a database/sql isolation level.
func ParseIsolation(level string) (sql.IsolationLevel, error) {
	switch strings.ToLower(strings.ReplaceAll(strings.TrimSpace(level), " ", "_")) {
	case "", "repeatable_read":
		return sql.LevelRepeatableRead, nil
	case "serializable":
		return sql.LevelSerializable, nil
	default:
		return 0, fmt.Errorf("postgres: unsupported isolation level %q (want repeatable_read or serializable)", level)
	}
}

// Migrate applies the embedded schema migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("postgres: load migrations: %w", err)
	}

	driver, err := migratepg.WithInstance(s.DB(), &migratepg.Config{})
	if err != nil {
		return fmt.Errorf("postgres: create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "postgres", driver)
	if err != nil {
		return fmt.Errorf("postgres: create migration instance: %w", err)
	}

	if err := m.Up(); err != nil {
		if errors.Is(err, migrate.ErrNoChange) {
			s.logger.Info("no new migrations found")
			return nil
		}
		var dirtyErr migrate.ErrDirty
		if errors.As(err, &dirtyErr) {
			return fmt.Errorf("postgres: migration failed: dirty database version %d", dirtyErr.Version)
		}
		return fmt.Errorf("postgres: migration failed: %w", err)
	}

	s.logger.Info("migrations applied")
	return nil
}

// Dialect is the PostgreSQL sqlstore.Dialect.
type Dialect struct {
	Isolation sql.IsolationLevel
}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Rebind(query string) string {
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d Dialect) TxOptions() *sql.TxOptions {
	return &sql.TxOptions{Isolation: d.Isolation}
}

func (Dialect) LockClause() string { return "\n\t\tFOR UPDATE" }

func (Dialect) MoneyArg(m models.Money) any { return m }

func (Dialect) MoneyDest(m *models.Money) any { return m }

func (Dialect) TimeArg(t time.Time) any { return t }

func (Dialect) TimeDest(t *time.Time) any { return t }

func (Dialect) Classify(err error) error {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case codeUniqueViolation:
		return &store.UniqueViolationError{Field: constraintField(pqErr), Err: err}
	case codeSerializationFailure, codeDeadlockDetected, codeLockNotAvailable:
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}

// constraintField turns "transactions_pkey" into "transactions.id".
func constraintField(pqErr *pq.Error) string {
	if table, ok := strings.CutSuffix(pqErr.Constraint, "_pkey"); ok {
		return table + ".id"
	}
	if pqErr.Constraint != "" {
		return pqErr.Constraint
	}
	return pqErr.Table
}
