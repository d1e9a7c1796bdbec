// Package audit writes one structured AUDIT entry per ledger decision.
package audit

import (
	"time"

	"go.uber.org/zap"

	"github.com/ruralpay/ledger/internal/models"
)

const (
	EventCommitted = "TRANSACTION_COMMITTED"
	EventReplayed  = "TRANSACTION_REPLAYED"
	EventRejected  = "TRANSACTION_REJECTED"
	EventAccount   = "ACCOUNT_CREATED"
)

type Event struct {
	Timestamp     time.Time
	EventType     string
	TransactionID string
	AccountID     string
	Amount        string
	Status        string
	Details       map[string]string
}

type Logger struct {
	logger *zap.Logger
	now    func() time.Time
}

func NewLogger(logger *zap.Logger) *Logger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Logger{
		logger: logger.Named("audit"),
		now:    time.Now,
	}
}

func (a *Logger) LogCommitted(t *models.Transaction) {
	a.log(Event{
		EventType:     EventCommitted,
		TransactionID: t.ID,
		AccountID:     t.AccountID,
		Amount:        t.Amount.String(),
		Status:        string(t.Status),
		Details:       map[string]string{"type": string(t.Type)},
	})
}

// LogReplayed records a submission resolved to an already committed record.
func (a *Logger) LogReplayed(t *models.Transaction, requestedAccountID string) {
	a.log(Event{
		EventType:     EventReplayed,
		TransactionID: t.ID,
		AccountID:     requestedAccountID,
		Amount:        t.Amount.String(),
		Status:        string(t.Status),
		Details:       map[string]string{"original_account": t.AccountID},
	})
}

func (a *Logger) LogRejected(transactionID, accountID, amount string, err error) {
	a.log(Event{
		EventType:     EventRejected,
		TransactionID: transactionID,
		AccountID:     accountID,
		Amount:        amount,
		Status:        "REJECTED",
		Details:       map[string]string{"error": err.Error()},
	})
}

func (a *Logger) LogAccountCreated(accountID string) {
	a.log(Event{
		EventType: EventAccount,
		AccountID: accountID,
		Status:    "SUCCESS",
	})
}

func (a *Logger) log(event Event) {
	if a == nil {
		return
	}
	event.Timestamp = a.now().UTC()
	a.logger.Info("AUDIT",
		zap.Time("timestamp", event.Timestamp),
		zap.String("event_type", event.EventType),
		zap.String("transaction_id", event.TransactionID),
		zap.String("account_id", event.AccountID),
		zap.String("amount", event.Amount),
		zap.String("status", event.Status),
		zap.Any("details", event.Details),
	)
}
