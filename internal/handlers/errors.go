package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/ruralpay/ledger/internal/services"
)

const maxBodyBytes = 1_048_576

// statusFor maps a service error onto an HTTP status.
func statusFor(err error) int {
	switch {
	case services.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, services.ErrAccountNotFound),
		errors.Is(err, services.ErrOriginalTransactionNotFound),
		errors.Is(err, services.ErrTransactionNotFound):
		return http.StatusNotFound
	case errors.Is(err, services.ErrInsufficientBalance),
		errors.Is(err, services.ErrReversalAmountMismatch),
		errors.Is(err, services.ErrBalanceLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, services.ErrAccountExists),
		services.IsRetryable(err):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeServiceError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		logger.Error("request failed", zap.Error(err))
		message = "Internal server error"
	}
	services.SendErrorResponse(w, message, status, err)
}

// decodeJSON reads exactly one JSON object from the body. An empty body is
// allowed when allowEmpty is set.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("request body must only contain a single JSON object")
	}
	return nil
}
