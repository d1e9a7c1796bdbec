package models

import "math"

// TransactionInput is a proposed transaction as submitted by a caller.
type TransactionInput struct {
	ID          string          `json:"id,omitempty" validate:"omitempty,uuid4"`
	Amount      string          `json:"amount" validate:"required"`
	Type        TransactionType `json:"type" validate:"required,oneof=deposit withdrawal reversal"`
	Description *string         `json:"description,omitempty" validate:"omitempty,max=500"`
	ReversalOf  *string         `json:"reversalOf,omitempty" validate:"required_if=Type reversal"`
}

// SortAttribute is a column the query path may order by.
type SortAttribute string

const (
	SortByID        SortAttribute = "id"
	SortByCreatedAt SortAttribute = "createdAt"
	SortByAmount    SortAttribute = "amount"
	SortByType      SortAttribute = "type"
	SortByAccountID SortAttribute = "accountId"
)

type SortOrder string

const (
	OrderAsc  SortOrder = "ASC"
	OrderDesc SortOrder = "DESC"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100
	// MaxPage keeps (Page-1)*Limit well inside int range.
	MaxPage      = 1_000_000
)

// ListQuery selects a page of transactions. Zero values take the defaults
// applied by Normalize.
type ListQuery struct {
	AccountID string        `json:"accountId,omitempty"`
	Page      int           `json:"page" validate:"min=1,max=1000000"`
	Limit     int           `json:"limit" validate:"min=1,max=100"`
	SortBy    SortAttribute `json:"sort" validate:"oneof=id createdAt amount type accountId"`
	Order     SortOrder     `json:"order" validate:"oneof=ASC DESC"`
}

// Normalize fills in defaults for unset fields.
func (q ListQuery) Normalize() ListQuery {
	if q.Page == 0 {
		q.Page = DefaultPage
	}
	if q.Limit == 0 {
		q.Limit = DefaultLimit
	}
	if q.SortBy == "" {
		q.SortBy = SortByCreatedAt
	}
	if q.Order == "" {
		q.Order = OrderDesc
	}
	return q
}

// Offset is the number of rows skipped before the page starts.
func (q ListQuery) Offset() int {
	if q.Page <= 1 || q.Limit <= 0 {
		return 0
	}
	if q.Page-1 > math.MaxInt/q.Limit {
		return math.MaxInt
	}
	return (q.Page - 1) * q.Limit
}

type Pagination struct {
	Page       int `json:"page"`
	Limit      int `json:"limit"`
	Total      int `json:"total"`
	TotalPages int `json:"totalPages"`
}

// Page is one page of the transaction listing.
type Page struct {
	Items      []Transaction `json:"data"`
	Pagination Pagination    `json:"pagination"`
}

// NewPage computes the page envelope; TotalPages rounds up.
func NewPage(items []Transaction, q ListQuery, total int) Page {
	if items == nil {
		items = []Transaction{}
	}
	totalPages := 0
	if q.Limit > 0 {
		totalPages = (total + q.Limit - 1) / q.Limit
	}
	return Page{
		Items: items,
		Pagination: Pagination{
			Page:       q.Page,
			Limit:      q.Limit,
			Total:      total,
			TotalPages: totalPages,
		},
	}
}
