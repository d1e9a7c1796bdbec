package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ruralpay/ledger/internal/audit"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/store"
)

const maxAccountIDLength = 64

// AccountService is the provisioning boundary. It creates accounts with a
// zero balance and serves read-only balance enquiries; balances are only
// ever changed by LedgerService.
type AccountService struct {
	store  store.Store
	audit  *audit.Logger
	logger *zap.Logger
}

func NewAccountService(st store.Store, auditLogger *audit.Logger, logger *zap.Logger) *AccountService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountService{
		store:  st,
		audit:  auditLogger,
		logger: logger.With(zap.String("component", "accounts")),
	}
}

// CreateAccount provisions an account. An empty id is replaced by a UUID.
func (s *AccountService) CreateAccount(ctx context.Context, id string) (*models.Account, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		id = uuid.NewString()
	}
	if len(id) > maxAccountIDLength {
		return nil, fmt.Errorf("%w: account id longer than %d characters", ErrInvalidAccount, maxAccountIDLength)
	}

	account := &models.Account{ID: id}
	if err := s.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrAccountExists, id)
		}
		return nil, fmt.Errorf("create account: %w", err)
	}

	s.logger.Info("account created", zap.String("account_id", id))
	s.audit.LogAccountCreated(id)
	return account, nil
}

// Balance reads the committed balance. The value is a snapshot and must not
// be used to decide a later write.
func (s *AccountService) Balance(ctx context.Context, id string) (*models.Account, error) {
	account, err := s.store.GetAccount(ctx, id)
	if errors.Is(err, store.ErrAccountNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}
	return account, nil
}
