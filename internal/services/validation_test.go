package services

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruralpay/ledger/internal/models"
)

func strPtr(s string) *string { return &s }

func TestValidationHelper_ValidateStruct(t *testing.T) {
	vh := NewValidationHelper()

	t.Run("valid deposit", func(t *testing.T) {
		in := models.TransactionInput{
			ID:     "3b241101-e2bb-4255-8caf-4136c566a962",
			Amount: "100.50",
			Type:   models.TransactionTypeDeposit,
		}

		err := vh.ValidateStruct(&in)
		assert.NoError(t, err)
	})

	t.Run("missing required fields", func(t *testing.T) {
		in := models.TransactionInput{}

		err := vh.ValidateStruct(&in)
		assert.Error(t, err)

		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		assert.Len(t, validationErrors, 2) // amount, type
	})

	t.Run("unknown type", func(t *testing.T) {
		in := models.TransactionInput{Amount: "1", Type: "transfer"}

		err := vh.ValidateStruct(&in)
		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		require.Len(t, validationErrors, 1)
		assert.Equal(t, "type", validationErrors[0].Field())
		assert.Equal(t, "oneof", validationErrors[0].Tag())
	})

	t.Run("reversal requires reversalOf", func(t *testing.T) {
		in := models.TransactionInput{Amount: "1", Type: models.TransactionTypeReversal}

		err := vh.ValidateStruct(&in)
		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		require.Len(t, validationErrors, 1)
		assert.Equal(t, "reversalOf", validationErrors[0].Field())
		assert.Equal(t, "required_if", validationErrors[0].Tag())
	})

	t.Run("id must be a uuid v4", func(t *testing.T) {
		in := models.TransactionInput{ID: "tx-1", Amount: "1", Type: models.TransactionTypeDeposit}

		err := vh.ValidateStruct(&in)
		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		assert.Equal(t, "id", validationErrors[0].Field())
	})

	t.Run("description is bounded", func(t *testing.T) {
		in := models.TransactionInput{
			Amount:      "1",
			Type:        models.TransactionTypeDeposit,
			Description: strPtr(strings.Repeat("x", 501)),
		}

		err := vh.ValidateStruct(&in)
		validationErrors, ok := err.(validator.ValidationErrors)
		require.True(t, ok)
		assert.Equal(t, "description", validationErrors[0].Field())
		assert.Equal(t, "max", validationErrors[0].Tag())
	})
}

func TestSendErrorResponse(t *testing.T) {
	t.Run("error response without validation errors", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "Something went wrong", http.StatusInternalServerError, nil)

		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Something went wrong", response.Error)
		assert.Nil(t, response.Details)
		assert.False(t, response.Retryable)
	})

	t.Run("wrapped validation errors are expanded", func(t *testing.T) {
		vh := NewValidationHelper()
		validationErr := vh.ValidateStruct(&models.TransactionInput{Type: "transfer"})
		require.Error(t, validationErr)

		w := httptest.NewRecorder()
		SendErrorResponse(w, "Validation failed", http.StatusBadRequest, fmt.Errorf("%w: %w", ErrInvalidTransaction, validationErr))

		assert.Equal(t, http.StatusBadRequest, w.Code)

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.Equal(t, "Validation failed", response.Error)
		assert.Contains(t, response.Details, "amount")
		assert.Contains(t, response.Details, "type")
	})

	t.Run("transient conflicts are flagged retryable", func(t *testing.T) {
		w := httptest.NewRecorder()

		SendErrorResponse(w, "conflict", http.StatusConflict, fmt.Errorf("submit: %w", ErrTransientConflict))

		var response ErrorResponse
		err := json.Unmarshal(w.Body.Bytes(), &response)
		assert.NoError(t, err)
		assert.True(t, response.Retryable)
	})
}

func TestNewValidationHelper(t *testing.T) {
	vh := NewValidationHelper()
	assert.NotNil(t, vh)
	assert.NotNil(t, vh.validator)
}
