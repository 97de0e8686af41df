package repository

import (
	"context"
	"fmt"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

type PaymentErrorRepository interface {
	Create(ctx context.Context, e *domain.PaymentError) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*domain.PaymentError, error)
}

type paymentErrorRepo struct {
	db *pgxpool.Pool
}

func NewPaymentErrorRepo(db *pgxpool.Pool) PaymentErrorRepository {
	return &paymentErrorRepo{db: db}
}

func (r *paymentErrorRepo) Create(ctx context.Context, e *domain.PaymentError) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO payment_errors (
			id, user_id, transaction_id, recurring_payment_id, bill_id, error_type, severity,
			message, user_friendly_message, can_retry, amount, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.UserID, e.TransactionID, e.RecurringPaymentID, e.BillID, e.Type, e.Severity,
		e.Message, e.UserMessage, e.CanRetry, e.Amount, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record payment error: %w", err)
	}
	return nil
}

func (r *paymentErrorRepo) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.PaymentError, error) {
	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	rows, err := r.db.Query(ctx, `
		SELECT id, user_id, transaction_id, recurring_payment_id, bill_id, error_type, severity,
		       message, user_friendly_message, can_retry, amount, created_at
		FROM payment_errors
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment errors: %w", err)
	}
	defer rows.Close()

	var out []*domain.PaymentError
	for rows.Next() {
		var e domain.PaymentError
		if err := rows.Scan(&e.ID, &e.UserID, &e.TransactionID, &e.RecurringPaymentID, &e.BillID, &e.Type, &e.Severity,
			&e.Message, &e.UserMessage, &e.CanRetry, &e.Amount, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan payment error: %w", err)
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}
