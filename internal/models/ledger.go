package models

import (
	"time"
)

// Account holds the single mutable balance of an account. It is only read
// and written inside an atomic scope.
type Account struct {
	ID        string    `json:"id" db:"id"`
	Balance   Money     `json:"balance" db:"balance"`
	Version   int64     `json:"version" db:"version"` // bumped on every balance write
	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

type TransactionType string

const (
	TransactionTypeDeposit    TransactionType = "deposit"
	TransactionTypeWithdrawal TransactionType = "withdrawal"
	TransactionTypeReversal   TransactionType = "reversal"
)

// Valid reports whether t is one of the three ledger transaction types.
func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypeReversal:
		return true
	}
	return false
}

// Delta returns the signed balance effect of an amount of this type.
// Reversals always credit.
func (t TransactionType) Delta(amount Money) Money {
	if t == TransactionTypeWithdrawal {
		return Money{}.Sub(amount)
	}
	return amount
}

type TransactionStatus string

// TransactionStatusCompleted is the only status a committed record can carry.
const TransactionStatusCompleted TransactionStatus = "completed"

// Transaction is an immutable ledger record. ID doubles as the idempotency key.
type Transaction struct {
	ID          string            `json:"id" db:"id"`
	AccountID   string            `json:"accountId" db:"account_id"`
	Amount      Money             `json:"amount" db:"amount"`
	Type        TransactionType   `json:"type" db:"type"`
	Status      TransactionStatus `json:"status" db:"status"`
	ReversalOf  *string           `json:"reversalOf,omitempty" db:"reversal_of"`
	Description *string           `json:"description,omitempty" db:"description"`
	CreatedAt   time.Time         `json:"createdAt" db:"created_at"`
}
