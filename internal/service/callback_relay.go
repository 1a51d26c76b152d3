package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
)

const relayBatchSize = 10

type callbackEventRepo interface {
	GetPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.WebhookEvent, error)
	UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.WebhookEventStatus) error
	RecordRelayFailure(ctx context.Context, tx *sql.Tx, id uuid.UUID) error
}

type txBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Publisher pushes a payload to every realtime subscriber of event.
type Publisher interface {
	Publish(ctx context.Context, event string, data []byte) error
}

// CallbackRelay forwards stored gateway callbacks onto the realtime channel.
type CallbackRelay struct {
	webhooks  callbackEventRepo
	db        txBeginner
	publisher Publisher
	event     string
	logger    *slog.Logger
	interval  time.Duration
}

func NewCallbackRelay(
	webhooks callbackEventRepo,
	db txBeginner,
	publisher Publisher,
	event string,
	logger *slog.Logger,
	interval time.Duration,
) *CallbackRelay {
	return &CallbackRelay{
		webhooks:  webhooks,
		db:        db,
		publisher: publisher,
		event:     event,
		logger:    logger.With("component", "callback_relay"),
		interval:  interval,
	}
}

func (p *CallbackRelay) Start(ctx context.Context) {
	p.logger.Info("callback relay started", "interval", p.interval, "event", p.event)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("callback relay stopped")
			return
		case <-ticker.C:
			if _, err := p.poll(ctx); err != nil {
				p.logger.Error("callback relay poll failed", "error", err)
			}
		}
	}
}

// poll relays one batch and returns how many events were settled.
func (p *CallbackRelay) poll(ctx context.Context) (int, error) {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("poll: %w", err)
	}
	defer tx.Rollback()

	events, err := p.webhooks.GetPending(ctx, tx, relayBatchSize)
	if err != nil {
		return 0, fmt.Errorf("poll: %w", err)
	}

	settled := 0
	for _, event := range events {
		if err := p.processEvent(ctx, tx, event); err != nil {
			p.logger.Error("failed to relay callback",
				"webhook_event_id", event.ID,
				"reference_id", event.ReferenceID,
				"error", err,
			)
			continue
		}
		settled++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("poll: commit: %w", err)
	}
	return settled, nil
}

type gatewayCallbackPayload struct {
	EventID       string `json:"event_id"`
	ReferenceID   string `json:"reference_id"`
	Status        string `json:"status"`
	TransactionID string `json:"transaction_id,omitempty"`
	Message       string `json:"message,omitempty"`
}

func (p *CallbackRelay) processEvent(ctx context.Context, tx *sql.Tx, event domain.WebhookEvent) error {
	var payload gatewayCallbackPayload
	if err := json.Unmarshal(event.Payload, &payload); err != nil {
		p.logger.Error("malformed callback payload", "webhook_event_id", event.ID, "error", err)
		return p.webhooks.UpdateStatus(ctx, tx, event.ID, domain.WebhookEventStatusFailed)
	}

	status := domain.GatewayStatus(payload.Status)
	if payload.ReferenceID == "" || !status.IsValid() || status == domain.GatewayStatusPending {
		p.logger.Error("unrelayable callback",
			"webhook_event_id", event.ID,
			"reference_id", payload.ReferenceID,
			"status", payload.Status,
		)
		return p.webhooks.UpdateStatus(ctx, tx, event.ID, domain.WebhookEventStatusFailed)
	}

	data, err := json.Marshal(domain.CallbackEvent{
		ReferenceID:   payload.ReferenceID,
		Status:        status,
		TransactionID: payload.TransactionID,
		Message:       payload.Message,
	})
	if err != nil {
		return fmt.Errorf("processEvent: marshal: %w", err)
	}

	if err := p.publisher.Publish(ctx, p.event, data); err != nil {
		if event.LastRelayAttempt() {
			p.logger.Error("giving up on callback",
				"webhook_event_id", event.ID,
				"reference_id", payload.ReferenceID,
				"attempts", event.Attempts+1,
			)
			if uerr := p.webhooks.UpdateStatus(ctx, tx, event.ID, domain.WebhookEventStatusFailed); uerr != nil {
				return fmt.Errorf("processEvent: %w", uerr)
			}
			return fmt.Errorf("processEvent: publish: %w", err)
		}
		if rerr := p.webhooks.RecordRelayFailure(ctx, tx, event.ID); rerr != nil {
			return fmt.Errorf("processEvent: %w", rerr)
		}
		return fmt.Errorf("processEvent: publish: %w", err)
	}

	p.logger.Info("callback relayed",
		"webhook_event_id", event.ID,
		"reference_id", payload.ReferenceID,
		"status", status,
	)
	return p.webhooks.UpdateStatus(ctx, tx, event.ID, domain.WebhookEventStatusDispatched)
}
