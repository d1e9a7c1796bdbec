package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	mW "github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

type TransactionHandler struct {
	ledger *services.LedgerService
	logger *zap.Logger
}

func NewTransactionHandler(ledger *services.LedgerService, logger *zap.Logger) *TransactionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TransactionHandler{ledger: ledger, logger: logger.With(zap.String("component", "http"))}
}

// Routes mounts the transaction endpoints on r.
func (h *TransactionHandler) Routes(r chi.Router) {
	r.Post("/accounts/{accountId}/transactions", h.Submit)
	r.Get("/transactions", h.List)
	r.Get("/transactions/my", h.ListMine)
	r.Get("/transactions/{txId}", h.Get)
}

// Submit applies a deposit, withdrawal or reversal to an account
// @Summary Submit transaction
// @Description Apply a transaction to an account. Resubmitting a committed id returns the original record with status 200.
// @Tags transactions
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Param transaction body models.TransactionInput true "Transaction"
// @Success 201 {object} models.Transaction
// @Success 200 {object} models.Transaction "Idempotent replay"
// @Failure 400 {object} services.ErrorResponse
// @Failure 404 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse "Transient conflict, retry with the same id"
// @Failure 422 {object} services.ErrorResponse
// @Router /accounts/{accountId}/transactions [post]
func (h *TransactionHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var in models.TransactionInput
	if err := decodeJSON(w, r, &in, false); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	result, err := h.ledger.SubmitDetailed(r.Context(), chi.URLParam(r, "accountId"), in)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	status := http.StatusCreated
	if result.Replayed {
		status = http.StatusOK
	}
	services.WriteJSON(w, status, result.Transaction)
}

// Get returns one committed transaction
// @Summary Get transaction
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param txId path string true "Transaction ID"
// @Success 200 {object} models.Transaction
// @Failure 404 {object} services.ErrorResponse
// @Router /transactions/{txId} [get]
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	t, err := h.ledger.GetByID(r.Context(), chi.URLParam(r, "txId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, t)
}

// List returns a page of transactions
// @Summary List transactions
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param accountId query string false "Filter by account ID"
// @Param page query int false "Page number (default: 1, max: 1000000)"
// @Param limit query int false "Page size (default: 10, max: 100)"
// @Param sort query string false "Sort attribute" Enums(id, createdAt, amount, type, accountId)
// @Param order query string false "Sort order" Enums(ASC, DESC)
// @Success 200 {object} models.Page
// @Failure 400 {object} services.ErrorResponse
// @Router /transactions [get]
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	q, err := parseListQuery(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.list(w, r, q)
}

// ListMine returns a page of the caller's own transactions
// @Summary List my transactions
// @Tags transactions
// @Produce json
// @Security BearerAuth
// @Param page query int false "Page number (default: 1, max: 1000000)"
// @Param limit query int false "Page size (default: 10, max: 100)"
// @Param sort query string false "Sort attribute" Enums(id, createdAt, amount, type, accountId)
// @Param order query string false "Sort order" Enums(ASC, DESC)
// @Success 200 {object} models.Page
// @Failure 400 {object} services.ErrorResponse
// @Failure 401 {object} services.ErrorResponse
// @Router /transactions/my [get]
func (h *TransactionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	callerID, ok := mW.CallerID(r.Context())
	if !ok {
		services.SendErrorResponse(w, "Unauthorized", http.StatusUnauthorized, nil)
		return
	}

	q, err := parseListQuery(r)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	q.AccountID = callerID
	h.list(w, r, q)
}

func (h *TransactionHandler) list(w http.ResponseWriter, r *http.Request, q models.ListQuery) {
	page, err := h.ledger.List(r.Context(), q)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, page)
}

func parseListQuery(r *http.Request) (models.ListQuery, error) {
	values := r.URL.Query()
	q := models.ListQuery{
		AccountID: values.Get("accountId"),
		SortBy:    models.SortAttribute(values.Get("sort")),
		Order:     models.SortOrder(values.Get("order")),
	}

	for name, dst := range map[string]*int{"page": &q.Page, "limit": &q.Limit} {
		raw := values.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return q, fmt.Errorf("%w: %s must be a positive integer", services.ErrInvalidQuery, name)
		}
		*dst = n
	}
	return q, nil
}
