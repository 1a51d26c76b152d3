package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
)

const webhookEventColumns = `id, idempotency_key, reference_id, event_type, payload, status,
	attempts, last_attempt, created_at`

type WebhookEventRepository struct {
	db *sql.DB
}

func NewWebhookEventRepository(db *sql.DB) *WebhookEventRepository {
	return &WebhookEventRepository{db: db}
}

// Create stores a gateway callback. A repeated idempotency key returns
// ErrDuplicateEvent.
func (r *WebhookEventRepository) Create(ctx context.Context, event *domain.WebhookEvent) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO webhook_events (
			id, idempotency_key, reference_id, event_type, payload, status, attempts, last_attempt, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		event.ID, event.IdempotencyKey, event.ReferenceID, event.EventType, []byte(event.Payload),
		event.Status, event.Attempts, event.LastAttempt, event.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateEvent)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// GetPending claims up to limit pending events inside tx. Rows locked by
// another relay are skipped.
func (r *WebhookEventRepository) GetPending(ctx context.Context, tx *sql.Tx, limit int) ([]domain.WebhookEvent, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events
		WHERE status = $1 ORDER BY created_at LIMIT $2 FOR UPDATE SKIP LOCKED`,
		domain.WebhookEventStatusPending, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("GetPending: %w", err)
	}
	defer rows.Close()

	var events []domain.WebhookEvent
	for rows.Next() {
		e, err := scanWebhookEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("GetPending: scan: %w", err)
		}
		events = append(events, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("GetPending: rows: %w", err)
	}
	return events, nil
}

func (r *WebhookEventRepository) UpdateStatus(ctx context.Context, tx *sql.Tx, id uuid.UUID, status domain.WebhookEventStatus) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE webhook_events SET status = $1, attempts = attempts + 1, last_attempt = now()
		WHERE id = $2`,
		status, id,
	)
	if err != nil {
		return fmt.Errorf("UpdateStatus: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("UpdateStatus: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("UpdateStatus: %w", domain.ErrNotFound)
	}
	return nil
}

// RecordRelayFailure counts a failed publish without settling the event.
func (r *WebhookEventRepository) RecordRelayFailure(ctx context.Context, tx *sql.Tx, id uuid.UUID) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE webhook_events SET attempts = attempts + 1, last_attempt = now()
		WHERE id = $1 AND status = $2`,
		id, domain.WebhookEventStatusPending,
	)
	if err != nil {
		return fmt.Errorf("RecordRelayFailure: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("RecordRelayFailure: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("RecordRelayFailure: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *WebhookEventRepository) GetByIdempotencyKey(ctx context.Context, key string) (*domain.WebhookEvent, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+webhookEventColumns+` FROM webhook_events WHERE idempotency_key = $1`, key,
	)
	e, err := scanWebhookEvent(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByIdempotencyKey: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByIdempotencyKey: %w", err)
	}
	return e, nil
}

func scanWebhookEvent(s scanner) (*domain.WebhookEvent, error) {
	var e domain.WebhookEvent
	var payload []byte
	err := s.Scan(
		&e.ID, &e.IdempotencyKey, &e.ReferenceID, &e.EventType, &payload,
		&e.Status, &e.Attempts, &e.LastAttempt, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Payload = payload
	return &e, nil
}
