package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
)

const attemptColumns = `id, session_id, customer_id, reference_id, amount, phone, status,
	transaction_id, failure_kind, failure_message, started_at, finished_at, created_at`

type AttemptRepository struct {
	db *sql.DB
}

func NewAttemptRepository(db *sql.DB) *AttemptRepository {
	return &AttemptRepository{db: db}
}

func (r *AttemptRepository) Create(ctx context.Context, a *domain.PaymentAttempt) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payment_attempts (
			id, session_id, customer_id, reference_id, amount, phone, status,
			transaction_id, failure_kind, failure_message, started_at, finished_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		a.ID, a.SessionID, a.CustomerID, nullString(a.ReferenceID), a.Amount, a.Phone, a.Status,
		a.TransactionID, a.FailureKind, a.FailureMessage, a.StartedAt, a.FinishedAt, a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

// Update overwrites the mutable fields of an attempt. Rows already in a
// terminal status are never rewritten.
func (r *AttemptRepository) Update(ctx context.Context, a *domain.PaymentAttempt) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_attempts SET
			reference_id = $1, status = $2, transaction_id = $3, failure_kind = $4,
			failure_message = $5, started_at = $6, finished_at = $7, updated_at = now()
		WHERE id = $8 AND status NOT IN ('success', 'failed', 'timed_out')`,
		nullString(a.ReferenceID), a.Status, a.TransactionID, a.FailureKind,
		a.FailureMessage, a.StartedAt, a.FinishedAt, a.ID,
	)
	if err != nil {
		return fmt.Errorf("Update: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("Update: rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("Update: %w", domain.ErrNotFound)
	}
	return nil
}

func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.PaymentAttempt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts WHERE id = $1`, id,
	)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByID: %w", err)
	}
	return a, nil
}

func (r *AttemptRepository) GetLatestBySession(ctx context.Context, sessionID uuid.UUID) (*domain.PaymentAttempt, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+attemptColumns+` FROM payment_attempts
		WHERE session_id = $1 ORDER BY created_at DESC LIMIT 1`, sessionID,
	)
	a, err := scanAttempt(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetLatestBySession: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetLatestBySession: %w", err)
	}
	return a, nil
}

// MarkAbandoned times out attempts left live by a previous process.
func (r *AttemptRepository) MarkAbandoned(ctx context.Context) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE payment_attempts SET
			status = 'timed_out', failure_kind = $1, failure_message = $2,
			finished_at = now(), updated_at = now()
		WHERE status IN ('initiating', 'pending')`,
		domain.ErrorKindTimedOut, "attempt abandoned on restart",
	)
	if err != nil {
		return 0, fmt.Errorf("MarkAbandoned: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("MarkAbandoned: rows affected: %w", err)
	}
	return n, nil
}

func scanAttempt(s scanner) (*domain.PaymentAttempt, error) {
	var a domain.PaymentAttempt
	var referenceID sql.NullString
	var failureKind *string

	err := s.Scan(
		&a.ID, &a.SessionID, &a.CustomerID, &referenceID, &a.Amount, &a.Phone, &a.Status,
		&a.TransactionID, &failureKind, &a.FailureMessage, &a.StartedAt, &a.FinishedAt, &a.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	a.ReferenceID = referenceID.String
	if failureKind != nil {
		k := domain.ErrorKind(*failureKind)
		a.FailureKind = &k
	}
	return &a, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
