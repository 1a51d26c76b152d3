package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
	"github.com/josh-kwaku/samaki-checkout/internal/logging"
)

type webhookEventRepository interface {
	Create(ctx context.Context, event *domain.WebhookEvent) error
}

type WebhookHandler struct {
	webhooks webhookEventRepository
	secret   string
}

func NewWebhookHandler(webhooks webhookEventRepository, secret string) *WebhookHandler {
	return &WebhookHandler{webhooks: webhooks, secret: secret}
}

type webhookPayload struct {
	EventID       string `json:"event_id" validate:"required,uuid"`
	ReferenceID   string `json:"reference_id" validate:"required,max=128"`
	Status        string `json:"status" validate:"required,oneof=success failed"`
	TransactionID string `json:"transaction_id,omitempty" validate:"required_if=Status success,max=128"`
	Message       string `json:"message,omitempty"`
	Timestamp     string `json:"timestamp" validate:"omitempty,datetime=2006-01-02T15:04:05Z07:00"`
}

func (p webhookPayload) eventType() domain.WebhookEventType {
	if p.Status == string(domain.GatewayStatusSuccess) {
		return domain.WebhookEventTypePaymentSucceeded
	}
	return domain.WebhookEventTypePaymentFailed
}

var ErrInvalidSignature = &AppError{http.StatusUnauthorized, "INVALID_SIGNATURE", "Webhook signature is invalid"}

func (h *WebhookHandler) ReceiveGatewayCallback(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		log.Error("failed to read webhook body", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	sig := r.Header.Get("X-Webhook-Signature")
	if !verifyHMAC(body, sig, h.secret) {
		log.Warn("webhook signature verification failed")
		RespondAppError(w, ErrInvalidSignature, nil)
		return
	}

	var payload webhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("failed to parse webhook payload", "error", err)
		RespondAppError(w, ErrInvalidRequest, nil)
		return
	}

	if fields := validateStruct(payload); len(fields) > 0 {
		RespondValidationError(w, fields)
		return
	}

	event := &domain.WebhookEvent{
		ID:             uuid.New(),
		IdempotencyKey: payload.EventID,
		ReferenceID:    payload.ReferenceID,
		EventType:      payload.eventType(),
		Payload:        body,
		Status:         domain.WebhookEventStatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	if err := h.webhooks.Create(r.Context(), event); err != nil {
		if errors.Is(err, domain.ErrDuplicateEvent) {
			log.Info("duplicate webhook received", "event_id", payload.EventID, "reference_id", payload.ReferenceID)
			RespondSuccess(w, http.StatusOK, map[string]string{"status": "already_received"})
			return
		}
		log.Error("failed to store webhook event", "error", err)
		RespondAppError(w, ErrInternalError, nil)
		return
	}

	log.Info("webhook event stored",
		"webhook_event_id", event.ID,
		"gateway_event_id", payload.EventID,
		"reference_id", payload.ReferenceID,
		"event_type", event.EventType,
	)

	RespondSuccess(w, http.StatusOK, map[string]string{"status": "received"})
}

// verifyHMAC checks a hex HMAC-SHA256 of body, with or without a "sha256="
// prefix.
func verifyHMAC(body []byte, signature, secret string) bool {
	signature = strings.TrimPrefix(signature, "sha256=")
	if signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
