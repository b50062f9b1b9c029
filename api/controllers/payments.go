package controllers

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/pesapoints/pesapoints-backend/api/middleware"
	"github.com/pesapoints/pesapoints-backend/api/responses"
	"github.com/pesapoints/pesapoints-backend/api/validators"
	paymentsvc "github.com/pesapoints/pesapoints-backend/internal/payments"
	"github.com/pesapoints/pesapoints-backend/pkg/db/models"
	"github.com/pesapoints/pesapoints-backend/pkg/enums"
	pkgerrors "github.com/pesapoints/pesapoints-backend/pkg/errors"
	"github.com/pesapoints/pesapoints-backend/pkg/logger"
)

type createPaymentRequest struct {
	UserID   uuid.UUID `json:"user_id" validate:"required,uuid4"`
	Amount   int       `json:"amount" validate:"required"`
	Currency string    `json:"currency" validate:"required"`
	Method   string    `json:"method" validate:"required"`
	Phone    string    `json:"phone,omitempty" validate:"omitempty,max=16"`
}

type createPaymentResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	CorrelationID string    `json:"correlation_id"`
	ClientToken   string    `json:"client_token,omitempty"`
	PointsToAdd   int       `json:"points_to_add"`
	Status        string    `json:"status"`
}

type transactionResponse struct {
	TransactionID uuid.UUID `json:"transaction_id"`
	Type          string    `json:"type"`
	Method        string    `json:"method"`
	Amount        int       `json:"amount"`
	Currency      string    `json:"currency"`
	PointsToAdd   int       `json:"points_to_add"`
	Status        string    `json:"status"`
	Error         *string   `json:"error,omitempty"`
	CreatedAt     string    `json:"created_at"`
}

func newTransactionResponse(txn *models.Transaction) transactionResponse {
	return transactionResponse{
		TransactionID: txn.ID,
		Type:          txn.Type.String(),
		Method:        txn.Method.String(),
		Amount:        txn.Amount,
		Currency:      txn.Currency.String(),
		PointsToAdd:   txn.PointsToAdd,
		Status:        txn.Status.String(),
		Error:         txn.Error,
		CreatedAt:     txn.CreatedAt.UTC().Format("2006-01-02T15:04:05Z07:00"),
	}
}

// CreatePayment opens a deposit with the requested provider on behalf of the
// authenticated user.
func CreatePayment(svc *paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		callerID, err := callerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload createPaymentRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := enums.ParsePaymentMethod(payload.Method)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported payment method"))
			return
		}
		currency, err := enums.ParseCurrency(payload.Currency)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported currency"))
			return
		}

		result, err := svc.CreatePayment(r.Context(), callerID, paymentsvc.CreatePaymentInput{
			UserID:   payload.UserID,
			Method:   method,
			Amount:   payload.Amount,
			Currency: currency,
			Phone:    validators.SanitizeString(payload.Phone, 16),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, createPaymentResponse{
			TransactionID: result.Transaction.ID,
			CorrelationID: result.Transaction.CorrelationID,
			ClientToken:   result.ClientToken,
			PointsToAdd:   result.Transaction.PointsToAdd,
			Status:        result.Transaction.Status.String(),
		})
	}
}

// TransactionStatus returns the current state of one of the caller's
// transactions, repairing a missed credit on the way when needed.
func TransactionStatus(svc *paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		callerID, err := callerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		transactionID, err := uuid.Parse(chi.URLParam(r, "transactionID"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "transaction id must be a uuid"))
			return
		}

		txn, err := svc.GetTransactionStatus(r.Context(), callerID, transactionID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, newTransactionResponse(txn))
	}
}

// UserTransactions lists the caller's transactions newest first.
func UserTransactions(svc *paymentsvc.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		callerID, err := callerIDFromContext(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 50, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var txType *enums.TransactionType
		if raw := r.URL.Query().Get("type"); raw != "" {
			parsed, err := enums.ParseTransactionType(raw)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "unsupported transaction type"))
				return
			}
			txType = &parsed
		}

		list, err := svc.ListUserTransactions(r.Context(), callerID, txType, limit)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payload := make([]transactionResponse, 0, len(list))
		for i := range list {
			payload = append(payload, newTransactionResponse(&list[i]))
		}
		responses.WriteSuccess(w, payload)
	}
}

func callerIDFromContext(r *http.Request) (uuid.UUID, error) {
	raw := middleware.UserIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	callerID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid user id")
	}
	return callerID, nil
}
