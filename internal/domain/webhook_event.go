package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type WebhookEventStatus string

const (
	WebhookEventStatusPending    WebhookEventStatus = "pending"
	WebhookEventStatusDispatched WebhookEventStatus = "dispatched"
	WebhookEventStatusFailed     WebhookEventStatus = "failed"
)

type WebhookEventType string

const (
	WebhookEventTypePaymentSucceeded WebhookEventType = "mobile_money.succeeded"
	WebhookEventTypePaymentFailed    WebhookEventType = "mobile_money.failed"
)

// MaxRelayAttempts bounds how often a stored callback is offered to the
// realtime channel before it is marked failed.
const MaxRelayAttempts = 5

// WebhookEvent is a gateway callback stored before it is relayed to the
// realtime channel. IdempotencyKey is the gateway's event id.
type WebhookEvent struct {
	ID             uuid.UUID
	IdempotencyKey string
	ReferenceID    string
	EventType      WebhookEventType
	Payload        json.RawMessage
	Status         WebhookEventStatus
	Attempts       int
	LastAttempt    *time.Time
	CreatedAt      time.Time
}

// LastRelayAttempt reports whether one more failed publish exhausts the event.
func (e WebhookEvent) LastRelayAttempt() bool {
	return e.Attempts+1 >= MaxRelayAttempts
}
