package testutil

import (
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
)

const (
	TestPhone  = "255712345678"
	TestAmount = int64(5000)
)

// SeedPendingAttempt inserts a pending attempt for a fresh session and customer.
func SeedPendingAttempt(t *testing.T, db *sql.DB, referenceID string) *domain.PaymentAttempt {
	t.Helper()

	now := time.Now().UTC().Truncate(time.Microsecond)
	a := &domain.PaymentAttempt{
		ID:          uuid.New(),
		SessionID:   uuid.New(),
		CustomerID:  uuid.New(),
		ReferenceID: referenceID,
		Amount:      TestAmount,
		Phone:       TestPhone,
		Status:      domain.AttemptStatusPending,
		StartedAt:   &now,
		CreatedAt:   now,
	}

	_, err := db.Exec(
		`INSERT INTO payment_attempts (id, session_id, customer_id, reference_id, amount, phone, status, started_at, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		a.ID, a.SessionID, a.CustomerID, a.ReferenceID, a.Amount, a.Phone, a.Status, a.StartedAt, a.CreatedAt,
	)
	if err != nil {
		t.Fatalf("seed pending attempt %s: %v", referenceID, err)
	}
	return a
}

func CountOrders(t *testing.T, db *sql.DB, sessionID uuid.UUID) int {
	t.Helper()

	var count int
	err := db.QueryRow(`SELECT COUNT(*) FROM orders WHERE session_id = $1`, sessionID).Scan(&count)
	if err != nil {
		t.Fatalf("count orders for session %s: %v", sessionID, err)
	}
	return count
}

func GetWebhookEventStatus(t *testing.T, db *sql.DB, id uuid.UUID) domain.WebhookEventStatus {
	t.Helper()

	var status domain.WebhookEventStatus
	err := db.QueryRow(`SELECT status FROM webhook_events WHERE id = $1`, id).Scan(&status)
	if err != nil {
		t.Fatalf("get webhook event status %s: %v", id, err)
	}
	return status
}
