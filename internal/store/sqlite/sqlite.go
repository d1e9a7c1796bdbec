// Package sqlite is the embedded SQLite ledger backend. It is used for local
// development and for running the engine against a real database in tests.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"go.uber.org/zap"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
	"github.com/ruralpay/ledger/internal/store/sqlstore"
)

//go:embed migrations/*.sql
var migrations embed.FS

// timeLayout is fixed width so TEXT timestamps sort chronologically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type Store struct {
	*sqlstore.Store
	logger *zap.Logger
}

var _ store.Store = (*Store)(nil)

// Open opens a SQLite database file. Every transaction starts with
// BEGIN IMMEDIATE, which takes the database write lock up front, so two
// scopes can never both read a stale balance. Waiting writers block for up
// to busyTimeout before failing with SQLITE_BUSY.
func Open(path string, busyTimeout time.Duration) (*sql.DB, error) {
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busyTimeout.Milliseconds()))
	q.Add("_pragma", "foreign_keys(1)")
	q.Set("_txlock", "immediate")

	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	return db, nil
}

func New(db *sql.DB, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		Store:  sqlstore.New(db, Dialect{}, logger),
		logger: logger,
	}
}

func (s *Store) Migrate(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("sqlite: load migrations: %w", err)
	}

	driver, err := migratesqlite.WithInstance(s.DB(), &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("sqlite: create migration driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("sqlite: create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("sqlite: migration failed: %w", err)
	}
	return nil
}

// Dialect is the SQLite sqlstore.Dialect. Money is stored as INTEGER minor
// units and timestamps as fixed-width RFC 3339 text.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Rebind(query string) string { return query }

// TxOptions leaves the isolation level at the default: SQLite transactions
// are serializable and _txlock=immediate serializes writers.
func (Dialect) TxOptions() *sql.TxOptions { return nil }

func (Dialect) LockClause() string { return "" }

func (Dialect) MoneyArg(m models.Money) any { return m.Cents() }

func (Dialect) MoneyDest(m *models.Money) any { return &centsDest{m: m} }

func (Dialect) TimeArg(t time.Time) any { return t.UTC().Format(timeLayout) }

func (Dialect) TimeDest(t *time.Time) any { return &timeDest{t: t} }

func (Dialect) Classify(err error) error {
	var sqliteErr *msqlite.Error
	if !errors.As(err, &sqliteErr) {
		return err
	}
	code := sqliteErr.Code()
	switch {
	case code == int(sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY) || code == int(sqlite3.SQLITE_CONSTRAINT_UNIQUE):
		return &store.UniqueViolationError{Field: constraintField(sqliteErr.Error()), Err: err}
	case code&0xff == int(sqlite3.SQLITE_BUSY) || code&0xff == int(sqlite3.SQLITE_LOCKED):
		return fmt.Errorf("%w: %w", store.ErrTransient, err)
	}
	return err
}

// constraintField extracts "transactions.id" from
// "constraint failed: UNIQUE constraint failed: transactions.id (1555)".
func constraintField(msg string) string {
	const marker = "constraint failed: "
	i := strings.LastIndex(msg, marker)
	if i < 0 {
		return ""
	}
	field := msg[i+len(marker):]
	if j := strings.IndexAny(field, " ,)"); j >= 0 {
		field = field[:j]
	}
	return field
}

type centsDest struct {
	m *models.Money
}

func (d *centsDest) Scan(value any) error {
	switch v := value.(type) {
	case int64:
		*d.m = models.Cents(v)
		return nil
	case nil:
		*d.m = models.Money{}
		return nil
	default:
		return fmt.Errorf("sqlite: cannot scan %T into money", value)
	}
}

type timeDest struct {
	t *time.Time
}

func (d *timeDest) Scan(value any) error {
	var raw string
	switch v := value.(type) {
	case string:
		raw = v
	case []byte:
		raw = string(v)
	case time.Time:
		*d.t = v.UTC()
		return nil
	case nil:
		*d.t = time.Time{}
		return nil
	default:
		return fmt.Errorf("sqlite: cannot scan %T into time", value)
	}
	parsed, err := time.Parse(timeLayout, raw)
	if err != nil {
		return fmt.Errorf("sqlite: parse time %q: %w", raw, err)
	}
	*d.t = parsed
	return nil
}
