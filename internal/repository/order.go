package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/josh-kwaku/samaki-checkout/internal/domain"
)

const orderColumns = `id, session_id, attempt_id, customer_id, transaction_id, reference_id,
	amount, phone, created_at`

type OrderRepository struct {
	db *sql.DB
}

func NewOrderRepository(db *sql.DB) *OrderRepository {
	return &OrderRepository{db: db}
}

// Create inserts o. A second order for the same transaction or attempt
// returns ErrDuplicateOrder.
func (r *OrderRepository) Create(ctx context.Context, o *domain.Order) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO orders (
			id, session_id, attempt_id, customer_id, transaction_id, reference_id,
			amount, phone, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		o.ID, o.SessionID, o.AttemptID, o.CustomerID, o.TransactionID, o.ReferenceID,
		o.Amount, o.Phone, o.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return fmt.Errorf("Create: %w", domain.ErrDuplicateOrder)
		}
		return fmt.Errorf("Create: %w", err)
	}
	return nil
}

func (r *OrderRepository) GetByTransactionID(ctx context.Context, transactionID string) (*domain.Order, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE transaction_id = $1`, transactionID,
	)
	o, err := scanOrder(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("GetByTransactionID: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("GetByTransactionID: %w", err)
	}
	return o, nil
}

func (r *OrderRepository) CountBySession(ctx context.Context, sessionID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM orders WHERE session_id = $1`, sessionID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("CountBySession: %w", err)
	}
	return n, nil
}

func scanOrder(s scanner) (*domain.Order, error) {
	var o domain.Order
	err := s.Scan(
		&o.ID, &o.SessionID, &o.AttemptID, &o.CustomerID, &o.TransactionID, &o.ReferenceID,
		&o.Amount, &o.Phone, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
