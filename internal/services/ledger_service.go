package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/metrics"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

// SubmitMetrics records the outcome of every Submit call.
type SubmitMetrics interface {
	ObserveSubmit(txType, outcome string, elapsed time.Duration)
}

type noopMetrics struct{}

func (noopMetrics) ObserveSubmit(string, string, time.Duration) {}

// SubmitResult is a submitted record and whether it was committed by this
// call or by an earlier one with the same id.
type SubmitResult struct {
	Transaction *models.Transaction
	Replayed    bool
}

// LedgerService is the transaction execution engine. It holds no balance
// state of its own; all mutual exclusion happens inside store.Atomic.
type LedgerService struct {
	store     store.Store
	lookup    TransactionLookup
	reversals *ReversalValidator
	resolver  *IdempotencyResolver
	cache     RecordCache
	validator *ValidationHelper
	audit     *audit.Logger
	metrics   SubmitMetrics
	logger    *zap.Logger
	newID     func() string
}

type LedgerOption func(*LedgerService)

func WithRecordCache(c RecordCache) LedgerOption {
	return func(s *LedgerService) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithMetrics(m SubmitMetrics) LedgerOption {
	return func(s *LedgerService) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithAuditLogger(a *audit.Logger) LedgerOption {
	return func(s *LedgerService) { s.audit = a }
}

func NewLedgerService(st store.Store, logger *zap.Logger, opts ...LedgerOption) *LedgerService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &LedgerService{
		store:     st,
		cache:     noopCache{},
		validator: NewValidationHelper(),
		metrics:   noopMetrics{},
		logger:    logger.With(zap.String("component", "ledger")),
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.audit == nil {
		s.audit = audit.NewLogger(logger)
	}

	s.lookup = cachedLookup{store: st, cache: s.cache}
	s.reversals = NewReversalValidator(s.lookup)
	s.resolver = NewIdempotencyResolver(s.lookup)
	return s
}

// Submit validates and applies one transaction to accountID. Resubmitting
// an id that is already committed returns the committed record and applies
// nothing.
func (s *LedgerService) Submit(ctx context.Context, accountID string, in models.TransactionInput) (*models.Transaction, error) {
	result, err := s.SubmitDetailed(ctx, accountID, in)
	if err != nil {
		return nil, err
	}
	return result.Transaction, nil
}

// SubmitDetailed is Submit, additionally reporting whether the record was an
// idempotent replay.
func (s *LedgerService) SubmitDetailed(ctx context.Context, accountID string, in models.TransactionInput) (*SubmitResult, error) {
	start := time.Now()
	outcome := metrics.OutcomeFailed
	defer func() {
		label := string(in.Type)
		if !in.Type.Valid() {
			label = "invalid"
		}
		s.metrics.ObserveSubmit(label, outcome, time.Since(start))
	}()

	record, err := s.prepare(accountID, in)
	if err != nil {
		outcome = metrics.OutcomeRejected
		s.audit.LogRejected(in.ID, accountID, in.Amount, err)
		return nil, err
	}

	if record.Type == models.TransactionTypeReversal {
		if err := s.reversals.Validate(ctx, *record.ReversalOf, record.Amount); err != nil {
			if IsBusinessRuleError(err) {
				outcome = metrics.OutcomeRejected
				s.audit.LogRejected(record.ID, accountID, record.Amount.String(), err)
			}
			return nil, err
		}
	}

	write, err := s.store.Atomic(ctx, func(ctx context.Context, scope store.Scope) error {
		return s.apply(ctx, scope, record)
	})
	if err != nil {
		switch {
		case IsBusinessRuleError(err):
			outcome = metrics.OutcomeRejected
			s.audit.LogRejected(record.ID, accountID, record.Amount.String(), err)
			return nil, err
		case errors.Is(err, store.ErrTransient):
			s.logger.Info("atomic scope aborted by storage conflict",
				zap.String("transaction_id", record.ID), zap.String("account_id", accountID), zap.Error(err))
			return nil, fmt.Errorf("%w: %w", ErrTransientConflict, err)
		default:
			s.logger.Error("submit failed",
				zap.String("transaction_id", record.ID), zap.String("account_id", accountID), zap.Error(err))
			return nil, fmt.Errorf("submit transaction %s: %w", record.ID, err)
		}
	}

	switch write.Outcome {
	case store.Committed:
		outcome = metrics.OutcomeCommitted
		s.cache.Put(ctx, record)
		s.audit.LogCommitted(record)
		return &SubmitResult{Transaction: record}, nil

	case store.UniqueConstraintViolated:
		if write.Field != store.FieldTransactionID {
			return nil, fmt.Errorf("submit transaction %s: unique constraint violated on %s", record.ID, write.Field)
		}
		existing, err := s.resolver.Resolve(ctx, record.ID)
		if err != nil {
			return nil, err
		}
		if existing.AccountID != record.AccountID || !existing.Amount.Equal(record.Amount) || existing.Type != record.Type {
			s.logger.Warn("transaction id reused with different content",
				zap.String("transaction_id", record.ID),
				zap.String("account_id", accountID),
				zap.String("original_account_id", existing.AccountID))
		}
		outcome = metrics.OutcomeReplayed
		s.audit.LogReplayed(existing, accountID)
		return &SubmitResult{Transaction: existing, Replayed: true}, nil

	default:
		return nil, fmt.Errorf("submit transaction %s: unexpected write outcome %s", record.ID, write.Outcome)
	}
}

// prepare turns raw input into the record to be written. Nothing is read or
// written here.
func (s *LedgerService) prepare(accountID string, in models.TransactionInput) (*models.Transaction, error) {
	if strings.TrimSpace(accountID) == "" {
		return nil, fmt.Errorf("%w: account id is required", ErrInvalidTransaction)
	}
	if err := s.validator.ValidateStruct(&in); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	amount, err := models.ParseMoney(in.Amount)
	if err != nil {
		return nil, err
	}
	if amount.IsZero() {
		return nil, fmt.Errorf("%w: amount must be greater than zero", ErrInvalidTransaction)
	}

	record := &models.Transaction{
		ID:          in.ID,
		AccountID:   accountID,
		Amount:      amount,
		Type:        in.Type,
		Status:      models.TransactionStatusCompleted,
		Description: in.Description,
	}
	if record.ID == "" {
		record.ID = s.newID()
	}

	if in.Type == models.TransactionTypeReversal {
		if in.ReversalOf == nil || strings.TrimSpace(*in.ReversalOf) == "" {
			return nil, fmt.Errorf("%w: reversalOf is required for reversals", ErrInvalidTransaction)
		}
		reversalOf := strings.TrimSpace(*in.ReversalOf)
		record.ReversalOf = &reversalOf
	} else if in.ReversalOf != nil {
		return nil, fmt.Errorf("%w: reversalOf is only allowed on reversals", ErrInvalidTransaction)
	}
	return record, nil
}

// apply runs inside the atomic scope. The record is appended before the
// balance rule is evaluated so a resubmitted id resolves to the committed
// record even when the account could no longer afford it.
func (s *LedgerService) apply(ctx context.Context, scope store.Scope, record *models.Transaction) error {
	account, err := scope.LockAccount(ctx, record.AccountID)
	if errors.Is(err, store.ErrAccountNotFound) {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, record.AccountID)
	}
	if err != nil {
		return err
	}

	if err := scope.AppendTransaction(ctx, record); err != nil {
		return err
	}

	delta := record.Type.Delta(record.Amount)
	newBalance := account.Balance.Add(delta)
	if delta.IsNegative() && newBalance.IsNegative() {
		return fmt.Errorf("%w: balance %s, requested %s", ErrInsufficientBalance, account.Balance, record.Amount)
	}
	if models.MaxBalance.LessThan(newBalance) {
		return fmt.Errorf("%w: balance %s, requested %s", ErrBalanceLimitExceeded, account.Balance, record.Amount)
	}

	return scope.UpdateBalance(ctx, account, newBalance)
}

// GetByID returns a committed record.
func (s *LedgerService) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	t, err := s.lookup.GetTransaction(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrTransactionNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction %s: %w", id, err)
	}
	return t, nil
}

// List returns one page of committed records. It reads a recent snapshot and
// is not isolated from concurrent submissions.
func (s *LedgerService) List(ctx context.Context, q models.ListQuery) (*models.Page, error) {
	q = q.Normalize()
	if err := s.validator.ValidateStruct(&q); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidQuery, err)
	}

	items, total, err := s.store.ListTransactions(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	page := models.NewPage(items, q, total)
	return &page, nil
}
