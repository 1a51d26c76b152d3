package domain

import (
	"time"

	"github.com/google/uuid"
)

type AttemptStatus string

const (
	AttemptStatusIdle       AttemptStatus = "idle"
	AttemptStatusInitiating AttemptStatus = "initiating"
	AttemptStatusPending    AttemptStatus = "pending"
	AttemptStatusSuccess    AttemptStatus = "success"
	AttemptStatusFailed     AttemptStatus = "failed"
	AttemptStatusTimedOut   AttemptStatus = "timed_out"
)

// IsTerminal reports whether no further transition is permitted out of s.
func (s AttemptStatus) IsTerminal() bool {
	return s == AttemptStatusSuccess || s == AttemptStatusFailed || s == AttemptStatusTimedOut
}

// IsLive reports whether an attempt in s blocks a new attempt for the same session.
func (s AttemptStatus) IsLive() bool {
	return s == AttemptStatusInitiating || s == AttemptStatusPending
}

var attemptTransitions = map[AttemptStatus][]AttemptStatus{
	AttemptStatusIdle:       {AttemptStatusInitiating},
	AttemptStatusInitiating: {AttemptStatusPending, AttemptStatusFailed},
	AttemptStatusPending:    {AttemptStatusSuccess, AttemptStatusFailed, AttemptStatusTimedOut},
	AttemptStatusSuccess:    {},
	AttemptStatusFailed:     {},
	AttemptStatusTimedOut:   {},
}

func CanTransition(from, to AttemptStatus) bool {
	for _, allowed := range attemptTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// PaymentAttempt is one end-to-end try at collecting a mobile-money payment
// for a fixed amount and phone pair. Amount is in the smallest whole unit the
// gateway accepts.
type PaymentAttempt struct {
	ID             uuid.UUID
	SessionID      uuid.UUID
	CustomerID     uuid.UUID
	ReferenceID    string
	Amount         int64
	Phone          string
	Status         AttemptStatus
	TransactionID  *string
	FailureKind    *ErrorKind
	FailureMessage *string
	StartedAt      *time.Time
	FinishedAt     *time.Time
	CreatedAt      time.Time
}

func (a PaymentAttempt) Deadline(timeout time.Duration) (time.Time, bool) {
	if a.StartedAt == nil {
		return time.Time{}, false
	}
	return a.StartedAt.Add(timeout), true
}
