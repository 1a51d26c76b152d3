package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
	"github.com/josh-kwaku/samaki-checkout/internal/logging"
	"github.com/josh-kwaku/samaki-checkout/internal/service/checkout"
)

type checkoutService interface {
	StartPayment(ctx context.Context, customerID, sessionID uuid.UUID, amount int64, phone string) (domain.PaymentAttempt, error)
	GetStatus(ctx context.Context, customerID, sessionID uuid.UUID) (checkout.Snapshot, error)
	CancelPayment(ctx context.Context, customerID, sessionID uuid.UUID) (domain.PaymentAttempt, error)
	CheckStatusNow(ctx context.Context, customerID, sessionID uuid.UUID) (domain.StatusReport, domain.PaymentAttempt, error)
}

type CheckoutHandler struct {
	checkout checkoutService
}

func NewCheckoutHandler(svc checkoutService) *CheckoutHandler {
	return &CheckoutHandler{checkout: svc}
}

type startPaymentRequest struct {
	Amount int64  `json:"amount" validate:"gt=0"`
	Phone  string `json:"phone" validate:"required,max=32"`
}

type attemptDTO struct {
	ID               uuid.UUID  `json:"id"`
	SessionID        uuid.UUID  `json:"session_id"`
	Status           string     `json:"status"`
	Amount           int64      `json:"amount"`
	Phone            string     `json:"phone"`
	ReferenceID      string     `json:"reference_id,omitempty"`
	TransactionID    *string    `json:"transaction_id,omitempty"`
	ErrorKind        *string    `json:"error_kind,omitempty"`
	ErrorMessage     *string    `json:"error_message,omitempty"`
	SecondsRemaining *int       `json:"seconds_remaining,omitempty"`
	StartedAt        *time.Time `json:"started_at,omitempty"`
	FinishedAt       *time.Time `json:"finished_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

func toAttemptDTO(a domain.PaymentAttempt) attemptDTO {
	dto := attemptDTO{
		ID:            a.ID,
		SessionID:     a.SessionID,
		Status:        string(a.Status),
		Amount:        a.Amount,
		Phone:         a.Phone,
		ReferenceID:   a.ReferenceID,
		TransactionID: a.TransactionID,
		ErrorMessage:  a.FailureMessage,
		StartedAt:     a.StartedAt,
		FinishedAt:    a.FinishedAt,
		CreatedAt:     a.CreatedAt,
	}
	if a.FailureKind != nil {
		k := string(*a.FailureKind)
		dto.ErrorKind = &k
	}
	return dto
}

type statusCheckDTO struct {
	GatewayStatus string     `json:"gateway_status"`
	TransactionID string     `json:"transaction_id,omitempty"`
	Message       string     `json:"message,omitempty"`
	Attempt       attemptDTO `json:"attempt"`
}

func (h *CheckoutHandler) StartPayment(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	customerID, sessionID, appErr := sessionFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	var req startPaymentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := validateStruct(req); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	attempt, err := h.checkout.StartPayment(r.Context(), customerID, sessionID, req.Amount, req.Phone)
	if err != nil {
		log.Warn("payment start failed", "session_id", sessionID, "error", err)
		RespondDomainError(w, err)
		return
	}

	w.Header().Set("Location", fmt.Sprintf("/api/v1/checkout/%s/payments/current", sessionID))
	RespondSuccess(w, http.StatusAccepted, toAttemptDTO(attempt))
}

func (h *CheckoutHandler) GetCurrent(w http.ResponseWriter, r *http.Request) {
	customerID, sessionID, appErr := sessionFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	snap, err := h.checkout.GetStatus(r.Context(), customerID, sessionID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment lookup failed", "session_id", sessionID, "error", err)
		RespondDomainError(w, err)
		return
	}

	dto := toAttemptDTO(snap.Attempt)
	if snap.Attempt.Status == domain.AttemptStatusPending {
		remaining := snap.SecondsRemaining
		dto.SecondsRemaining = &remaining
	}
	RespondSuccess(w, http.StatusOK, dto)
}

func (h *CheckoutHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	customerID, sessionID, appErr := sessionFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	attempt, err := h.checkout.CancelPayment(r.Context(), customerID, sessionID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("payment cancel failed", "session_id", sessionID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, toAttemptDTO(attempt))
}

func (h *CheckoutHandler) CheckNow(w http.ResponseWriter, r *http.Request) {
	customerID, sessionID, appErr := sessionFromPath(r)
	if appErr != nil {
		RespondAppError(w, appErr, nil)
		return
	}

	report, attempt, err := h.checkout.CheckStatusNow(r.Context(), customerID, sessionID)
	if err != nil {
		logging.FromContext(r.Context()).Warn("manual status check failed", "session_id", sessionID, "error", err)
		RespondDomainError(w, err)
		return
	}

	RespondSuccess(w, http.StatusOK, statusCheckDTO{
		GatewayStatus: string(report.Status),
		TransactionID: report.TransactionID,
		Message:       report.Message,
		Attempt:       toAttemptDTO(attempt),
	})
}
