package mongo

import (
	"fmt"
	"time"

	"github.com/ruralpay/ledger/internal/models"
)

const (
	accountsCollection     = "accounts"
	transactionsCollection = "transactions"
)

type accountDocument struct {
	ID           string    `bson:"_id"`
	BalanceCents int64     `bson:"balance_cents"`
	Version      int64     `bson:"version"`
	CreatedAt    time.Time `bson:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at"`
}

type transactionDocument struct {
	ID          string    `bson:"_id"`
	AccountID   string    `bson:"account_id"`
	AmountCents int64     `bson:"amount_cents"`
	Type        string    `bson:"type"`
	Status      string    `bson:"status"`
	ReversalOf  *string   `bson:"reversal_of,omitempty"`
	Description *string   `bson:"description,omitempty"`
	CreatedAt   time.Time `bson:"created_at"`
}

func toAccountDocument(a *models.Account) *accountDocument {
	return &accountDocument{
		ID:           a.ID,
		BalanceCents: a.Balance.Cents(),
		Version:      a.Version,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
	}
}

func fromAccountDocument(d *accountDocument) *models.Account {
	return &models.Account{
		ID:        d.ID,
		Balance:   models.Cents(d.BalanceCents),
		Version:   d.Version,
		CreatedAt: d.CreatedAt.UTC(),
		UpdatedAt: d.UpdatedAt.UTC(),
	}
}

func toTransactionDocument(t *models.Transaction) *transactionDocument {
	return &transactionDocument{
		ID:          t.ID,
		AccountID:   t.AccountID,
		AmountCents: t.Amount.Cents(),
		Type:        string(t.Type),
		Status:      string(t.Status),
		ReversalOf:  t.ReversalOf,
		Description: t.Description,
		CreatedAt:   t.CreatedAt,
	}
}

func fromTransactionDocument(d *transactionDocument) (*models.Transaction, error) {
	txType := models.TransactionType(d.Type)
	if !txType.Valid() {
		return nil, fmt.Errorf("mongo: transaction %s has unknown type %q", d.ID, d.Type)
	}
	return &models.Transaction{
		ID:          d.ID,
		AccountID:   d.AccountID,
		Amount:      models.Cents(d.AmountCents),
		Type:        txType,
		Status:      models.TransactionStatus(d.Status),
		ReversalOf:  d.ReversalOf,
		Description: d.Description,
		CreatedAt:   d.CreatedAt.UTC(),
	}, nil
}

// sortFields maps query sort attributes onto document fields.
var sortFields = map[models.SortAttribute]string{
	models.SortByID:        "_id",
	models.SortByCreatedAt: "created_at",
	models.SortByAmount:    "amount_cents",
	models.SortByType:      "type",
	models.SortByAccountID: "account_id",
}
