// Package memory is an in-process ledger backend. Accounts are locked with
// one single-slot channel each, so scopes on the same account serialize
// while scopes on different accounts proceed in parallel.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

type Store struct {
	mu           sync.RWMutex
	accounts     map[string]models.Account
	transactions map[string]models.Transaction
	locks        map[string]chan struct{}

	now func() time.Time
}

var _ store.Store = (*Store)(nil)

func New() *Store {
	return &Store{
		accounts:     make(map[string]models.Account),
		transactions: make(map[string]models.Transaction),
		locks:        make(map[string]chan struct{}),
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) Migrate(context.Context) error { return nil }

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

func (s *Store) CreateAccount(_ context.Context, account *models.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.accounts[account.ID]; exists {
		return store.ErrAlreadyExists
	}
	now := s.now()
	account.Version = 1
	account.CreatedAt, account.UpdatedAt = now, now
	s.accounts[account.ID] = *account
	s.locks[account.ID] = make(chan struct{}, 1)
	return nil
}

func (s *Store) GetAccount(_ context.Context, id string) (*models.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	account, ok := s.accounts[id]
	if !ok {
		return nil, store.ErrAccountNotFound
	}
	return &account, nil
}

func (s *Store) GetTransaction(_ context.Context, id string) (*models.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.transactions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &t, nil
}

func (s *Store) ListTransactions(_ context.Context, q models.ListQuery) ([]models.Transaction, int, error) {
	less, ok := comparators[q.SortBy]
	if !ok {
		return nil, 0, fmt.Errorf("memory: unsupported sort attribute %q", q.SortBy)
	}

	s.mu.RLock()
	result := make([]models.Transaction, 0)
	for _, t := range s.transactions {
		if q.AccountID == "" || t.AccountID == q.AccountID {
			result = append(result, t)
		}
	}
	s.mu.RUnlock()

	desc := q.Order != models.OrderAsc
	sort.Slice(result, func(i, j int) bool {
		a, b := result[i], result[j]
		if desc {
			a, b = b, a
		}
		if c := less(a, b); c != 0 {
			return c < 0
		}
		return a.ID < b.ID
	})

	total := len(result)
	start := min(max(q.Offset(), 0), total)
	end := total
	if q.Limit > 0 && q.Limit < total-start {
		end = start + q.Limit
	}
	return result[start:end], total, nil
}

var comparators = map[models.SortAttribute]func(a, b models.Transaction) int{
	models.SortByID:        func(a, b models.Transaction) int { return strings.Compare(a.ID, b.ID) },
	models.SortByCreatedAt: func(a, b models.Transaction) int { return a.CreatedAt.Compare(b.CreatedAt) },
	models.SortByAmount: func(a, b models.Transaction) int {
		switch {
		case a.Amount.LessThan(b.Amount):
			return -1
		case b.Amount.LessThan(a.Amount):
			return 1
		}
		return 0
	},
	models.SortByType:      func(a, b models.Transaction) int { return strings.Compare(string(a.Type), string(b.Type)) },
	models.SortByAccountID: func(a, b models.Transaction) int { return strings.Compare(a.AccountID, b.AccountID) },
}

// Atomic buffers the writes of fn and applies them under the store mutex
// once fn returns nil. Account locks taken by the scope are held until then.
func (s *Store) Atomic(ctx context.Context, fn func(ctx context.Context, scope store.Scope) error) (store.WriteResult, error) {
	sc := &scope{
		s:        s,
		held:     make(map[string]chan struct{}),
		accounts: make(map[string]models.Account),
	}
	defer sc.release()

	if err := fn(ctx, sc); err != nil {
		return store.Resolve(err)
	}
	if err := ctx.Err(); err != nil {
		return store.WriteResult{}, err
	}
	return store.Resolve(s.commit(sc))
}

func (s *Store) commit(sc *scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range sc.transactions {
		if _, exists := s.transactions[t.ID]; exists {
			return &store.UniqueViolationError{Field: store.FieldTransactionID, Err: fmt.Errorf("memory: transaction %s already committed", t.ID)}
		}
	}
	for id, account := range sc.written {
		if s.accounts[id].Version != account.Version-1 {
			return fmt.Errorf("memory: optimistic lock failed for account %s: %w", id, store.ErrTransient)
		}
	}

	for id := range sc.written {
		s.accounts[id] = sc.accounts[id]
	}
	for _, t := range sc.transactions {
		s.transactions[t.ID] = *t
	}
	return nil
}

type scope struct {
	s            *Store
	held         map[string]chan struct{}
	accounts     map[string]models.Account
	written      map[string]models.Account
	transactions []*models.Transaction
}

func (sc *scope) LockAccount(ctx context.Context, accountID string) (*models.Account, error) {
	if account, ok := sc.accounts[accountID]; ok {
		return &account, nil
	}

	sc.s.mu.RLock()
	lock, ok := sc.s.locks[accountID]
	sc.s.mu.RUnlock()
	if !ok {
		return nil, store.ErrAccountNotFound
	}

	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	sc.held[accountID] = lock

	sc.s.mu.RLock()
	account := sc.s.accounts[accountID]
	sc.s.mu.RUnlock()

	sc.accounts[accountID] = account
	return &account, nil
}

func (sc *scope) UpdateBalance(_ context.Context, account *models.Account, balance models.Money) error {
	if _, ok := sc.held[account.ID]; !ok {
		return fmt.Errorf("memory: account %s is not locked by this scope", account.ID)
	}
	current := sc.accounts[account.ID]
	if current.Version != account.Version {
		return fmt.Errorf("memory: optimistic lock failed for account %s: %w", account.ID, store.ErrTransient)
	}

	current.Balance = balance
	current.Version++
	current.UpdatedAt = sc.s.now()
	sc.accounts[account.ID] = current
	if sc.written == nil {
		sc.written = make(map[string]models.Account)
	}
	sc.written[account.ID] = current

	*account = current
	return nil
}

func (sc *scope) AppendTransaction(_ context.Context, t *models.Transaction) error {
	sc.s.mu.RLock()
	_, exists := sc.s.transactions[t.ID]
	sc.s.mu.RUnlock()
	if exists {
		return &store.UniqueViolationError{Field: store.FieldTransactionID, Err: fmt.Errorf("memory: transaction %s already committed", t.ID)}
	}
	for _, pending := range sc.transactions {
		if pending.ID == t.ID {
			return &store.UniqueViolationError{Field: store.FieldTransactionID, Err: fmt.Errorf("memory: transaction %s appended twice", t.ID)}
		}
	}

	t.CreatedAt = sc.s.now()
	record := *t
	sc.transactions = append(sc.transactions, &record)
	return nil
}

func (sc *scope) release() {
	for id, lock := range sc.held {
		<-lock
		delete(sc.held, id)
	}
}
