package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	mW "github.com/ruralpay/ledger/internal/middleware"
	"github.com/ruralpay/ledger/internal/models"
	"github.com/ruralpay/ledger/internal/services"
)

type AccountHandler struct {
	accounts *services.AccountService
	auth     *mW.Authenticator
	logger   *zap.Logger
}

func NewAccountHandler(accounts *services.AccountService, auth *mW.Authenticator, logger *zap.Logger) *AccountHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AccountHandler{accounts: accounts, auth: auth, logger: logger.With(zap.String("component", "http"))}
}

func (h *AccountHandler) Routes(r chi.Router) {
	r.Post("/accounts", h.Create)
	r.Get("/accounts/{accountId}/balance", h.Balance)
	r.Post("/auth/logout", h.Logout)
}

// CreateAccountRequest is the optional body of POST /accounts.
type CreateAccountRequest struct {
	ID string `json:"id,omitempty" example:"acc-1"` // Generated when empty
}

// BalanceResponse represents a balance enquiry result
type BalanceResponse struct {
	AccountID string       `json:"accountId"`
	Balance   models.Money `json:"balance" swaggertype:"string" example:"250.50"`
}

// Create provisions an account with a zero balance
// @Summary Create account
// @Tags accounts
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateAccountRequest false "Optional account id"
// @Success 201 {object} models.Account
// @Failure 400 {object} services.ErrorResponse
// @Failure 409 {object} services.ErrorResponse
// @Router /accounts [post]
func (h *AccountHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateAccountRequest
	if err := decodeJSON(w, r, &req, true); err != nil {
		services.SendErrorResponse(w, err.Error(), http.StatusBadRequest, nil)
		return
	}

	account, err := h.accounts.CreateAccount(r.Context(), req.ID)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	services.WriteJSON(w, http.StatusCreated, account)
}

// Balance returns the committed balance of an account
// @Summary Balance enquiry
// @Tags accounts
// @Produce json
// @Security BearerAuth
// @Param accountId path string true "Account ID"
// @Success 200 {object} BalanceResponse
// @Failure 404 {object} services.ErrorResponse
// @Router /accounts/{accountId}/balance [get]
func (h *AccountHandler) Balance(w http.ResponseWriter, r *http.Request) {
	account, err := h.accounts.Balance(r.Context(), chi.URLParam(r, "accountId"))
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	services.WriteJSON(w, http.StatusOK, BalanceResponse{AccountID: account.ID, Balance: account.Balance})
}

// Logout revokes the caller's bearer token
// @Summary Logout
// @Description Blacklist the bearer token until it expires
// @Tags auth
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]string "Logout successful"
// @Router /auth/logout [post]
func (h *AccountHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if h.auth != nil {
		if err := h.auth.Revoke(r); err != nil {
			h.logger.Warn("token revocation failed", zap.Error(err))
		}
	}
	services.WriteJSON(w, http.StatusOK, map[string]string{"message": "Logout successful"})
}
