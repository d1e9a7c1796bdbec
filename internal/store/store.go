// Package store defines the persistence boundary of the ledger: one mutable
// balance per account, touched only inside an atomic scope, and an
// append-only collection of transaction records.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/ruralpay/ledger/internal/models"
)

var (
	ErrNotFound        = errors.New("store: not found")
	ErrAccountNotFound = errors.New("store: account not found")
	ErrAlreadyExists   = errors.New("store: already exists")
	// ErrTransient marks serialization failures, deadlocks, lock timeouts and
	// lost optimistic version checks. The scope was rolled back and the
	// whole operation may be retried.
	ErrTransient = errors.New("store: transient conflict")
)

// FieldTransactionID is the unique key of the transaction collection.
const FieldTransactionID = "transactions.id"

// Outcome tags the result of an atomic scope.
type Outcome int

const (
	// Committed means every write of the scope is durable.
	Committed Outcome = iota + 1
	// UniqueConstraintViolated means the scope was rolled back because a
	// record with the same unique key was already committed.
	UniqueConstraintViolated
)

func (o Outcome) String() string {
	switch o {
	case Committed:
		return "committed"
	case UniqueConstraintViolated:
		return "unique_constraint_violated"
	default:
		return "unknown"
	}
}

// WriteResult is the tagged result of Store.Atomic.
type WriteResult struct {
	Outcome Outcome
	// Field names the violated unique key when Outcome is UniqueConstraintViolated.
	Field string
}

// UniqueViolationError is returned by scope writes when a unique key already
// exists. Atomic converts it into a WriteResult; callers of Atomic never see it.
type UniqueViolationError struct {
	Field string
	Err   error
}

func (e *UniqueViolationError) Error() string {
	return fmt.Sprintf("store: unique constraint violated on %s: %v", e.Field, e.Err)
}

func (e *UniqueViolationError) Unwrap() error { return e.Err }

// Scope is an open atomic unit of work.
type Scope interface {
	// LockAccount reads the account and holds an exclusive lock on it until
	// the scope ends. Returns ErrAccountNotFound if it does not exist.
	LockAccount(ctx context.Context, accountID string) (*models.Account, error)
	// UpdateBalance writes a new balance for an account previously locked in
	// this scope, guarded by the version that was read.
	UpdateBalance(ctx context.Context, account *models.Account, balance models.Money) error
	// AppendTransaction inserts an immutable record. CreatedAt is assigned by
	// the store at write time.
	AppendTransaction(ctx context.Context, tx *models.Transaction) error
}

// Store is implemented by every ledger backend.
type Store interface {
	// Atomic runs fn inside one atomic scope and commits if fn returns nil.
	// Any error rolls the scope back. A duplicate unique key, whether raised
	// by a write or at commit, yields a nil error and a WriteResult tagged
	// UniqueConstraintViolated. The scope's resources are released on every
	// path.
	Atomic(ctx context.Context, fn func(ctx context.Context, scope Scope) error) (WriteResult, error)

	GetTransaction(ctx context.Context, id string) (*models.Transaction, error)
	// ListTransactions returns one page (already normalized and validated)
	// and the total number of matching records.
	ListTransactions(ctx context.Context, q models.ListQuery) ([]models.Transaction, int, error)

	CreateAccount(ctx context.Context, account *models.Account) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)

	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// Resolve turns the error returned by a scope function or commit into the
// tagged result expected from Atomic.
func Resolve(err error) (WriteResult, error) {
	if err == nil {
		return WriteResult{Outcome: Committed}, nil
	}
	var uv *UniqueViolationError
	if errors.As(err, &uv) {
		return WriteResult{Outcome: UniqueConstraintViolated, Field: uv.Field}, nil
	}
	return WriteResult{}, err
}
