package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order is created once per successful attempt, keyed by the gateway's
// transaction id.
type Order struct {
	ID            uuid.UUID
	SessionID     uuid.UUID
	AttemptID     uuid.UUID
	CustomerID    uuid.UUID
	TransactionID string
	ReferenceID   string
	Amount        int64
	Phone         string
	CreatedAt     time.Time
}
