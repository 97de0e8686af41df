package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RecurringPaymentRepository interface {
	Create(ctx context.Context, rp *domain.RecurringPayment) error
	GetByID(ctx context.Context, id string) (*domain.RecurringPayment, error)
	List(ctx context.Context, f domain.RecurringFilter) ([]*domain.RecurringPayment, error)

	// ListDue returns ACTIVE payments whose next payment date is not after now.
	ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RecurringPayment, error)

	// ListUpcoming returns ACTIVE payments falling due in [from, to).
	ListUpcoming(ctx context.Context, from, to time.Time, limit int) ([]*domain.RecurringPayment, error)

	// Update writes rp if its version still matches the stored one and bumps
	// the version; a stale write fails with ErrConflict.
	Update(ctx context.Context, rp *domain.RecurringPayment) error
}

type recurringRepo struct {
	db *pgxpool.Pool
}

func NewRecurringPaymentRepo(db *pgxpool.Pool) RecurringPaymentRepository {
	return &recurringRepo{db: db}
}

const recurringColumns = `
	id, user_id, estate_id, wallet_id, title, description, bill_id, utility_provider_code, customer_id,
	amount, spending_limit, currency, frequency, payment_source, start_date, next_payment_date, end_date,
	status, failed_attempts, max_failed_attempts, charge_attempts, total_payments, total_amount_paid,
	last_payment_date, last_failure_reason, paused_reason, last_reminder_at, metadata, version,
	created_at, updated_at`

func scanRecurring(row rowScanner) (*domain.RecurringPayment, error) {
	var rp domain.RecurringPayment
	err := row.Scan(
		&rp.ID, &rp.UserID, &rp.EstateID, &rp.WalletID, &rp.Title, &rp.Description, &rp.BillID, &rp.UtilityProviderCode, &rp.CustomerID,
		&rp.Amount, &rp.SpendingLimit, &rp.Currency, &rp.Frequency, &rp.PaymentSource, &rp.StartDate, &rp.NextPaymentDate, &rp.EndDate,
		&rp.Status, &rp.FailedAttempts, &rp.MaxFailedAttempts, &rp.ChargeAttempts, &rp.TotalPayments, &rp.TotalAmountPaid,
		&rp.LastPaymentDate, &rp.LastFailureReason, &rp.PausedReason, &rp.LastReminderAt, &rp.Metadata, &rp.Version,
		&rp.CreatedAt, &rp.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &rp, nil
}

func (r *recurringRepo) Create(ctx context.Context, rp *domain.RecurringPayment) error {
	if rp.Metadata == nil {
		rp.Metadata = map[string]string{}
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO recurring_payments (`+recurringColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20,
		        $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31)`,
		rp.ID, rp.UserID, rp.EstateID, rp.WalletID, rp.Title, rp.Description, rp.BillID, rp.UtilityProviderCode, rp.CustomerID,
		rp.Amount, rp.SpendingLimit, rp.Currency, rp.Frequency, rp.PaymentSource, rp.StartDate, rp.NextPaymentDate, rp.EndDate,
		rp.Status, rp.FailedAttempts, rp.MaxFailedAttempts, rp.ChargeAttempts, rp.TotalPayments, rp.TotalAmountPaid,
		rp.LastPaymentDate, rp.LastFailureReason, rp.PausedReason, rp.LastReminderAt, rp.Metadata, rp.Version,
		rp.CreatedAt, rp.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create recurring payment: %w", err)
	}
	return nil
}

func (r *recurringRepo) GetByID(ctx context.Context, id string) (*domain.RecurringPayment, error) {
	rp, err := scanRecurring(r.db.QueryRow(ctx, `SELECT `+recurringColumns+` FROM recurring_payments WHERE id = $1`, id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get recurring payment: %w", err)
	}
	return rp, err
}

func (r *recurringRepo) query(ctx context.Context, query string, args ...any) ([]*domain.RecurringPayment, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list recurring payments: %w", err)
	}
	defer rows.Close()

	var out []*domain.RecurringPayment
	for rows.Next() {
		rp, err := scanRecurring(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan recurring payment: %w", err)
		}
		out = append(out, rp)
	}
	return out, rows.Err()
}

func (r *recurringRepo) List(ctx context.Context, f domain.RecurringFilter) ([]*domain.RecurringPayment, error) {
	var (
		conds []string
		args  []any
	)
	if f.UserID != "" {
		args = append(args, f.UserID)
		conds = append(conds, fmt.Sprintf("user_id = $%d", len(args)))
	}
	if f.EstateID != "" {
		args = append(args, f.EstateID)
		conds = append(conds, fmt.Sprintf("estate_id = $%d", len(args)))
	}
	if f.Status != "" {
		args = append(args, f.Status)
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + recurringColumns + ` FROM recurring_payments`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY next_payment_date, id"
	if f.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", f.Limit, f.Offset)
	}
	return r.query(ctx, query, args...)
}

func (r *recurringRepo) ListDue(ctx context.Context, now time.Time, limit int) ([]*domain.RecurringPayment, error) {
	return r.query(ctx, `
		SELECT `+recurringColumns+`
		FROM recurring_payments
		WHERE status = 'ACTIVE' AND next_payment_date <= $1
		ORDER BY next_payment_date
		LIMIT $2`, now, limit)
}

func (r *recurringRepo) ListUpcoming(ctx context.Context, from, to time.Time, limit int) ([]*domain.RecurringPayment, error) {
	return r.query(ctx, `
		SELECT `+recurringColumns+`
		FROM recurring_payments
		WHERE status = 'ACTIVE' AND next_payment_date >= $1 AND next_payment_date < $2
		ORDER BY next_payment_date
		LIMIT $3`, from, to, limit)
}

func (r *recurringRepo) Update(ctx context.Context, rp *domain.RecurringPayment) error {
	var version int64
	err := r.db.QueryRow(ctx, `
		UPDATE recurring_payments
		SET title = $3, description = $4, amount = $5, spending_limit = $6, next_payment_date = $7,
		    end_date = $8, status = $9, failed_attempts = $10, max_failed_attempts = $11,
		    charge_attempts = $12, total_payments = $13, total_amount_paid = $14, last_payment_date = $15,
		    last_failure_reason = $16, paused_reason = $17, last_reminder_at = $18, metadata = $19,
		    updated_at = $20, version = version + 1
		WHERE id = $1 AND version = $2
		RETURNING version`,
		rp.ID, rp.Version, rp.Title, rp.Description, rp.Amount, rp.SpendingLimit, rp.NextPaymentDate,
		rp.EndDate, rp.Status, rp.FailedAttempts, rp.MaxFailedAttempts,
		rp.ChargeAttempts, rp.TotalPayments, rp.TotalAmountPaid, rp.LastPaymentDate,
		rp.LastFailureReason, rp.PausedReason, rp.LastReminderAt, rp.Metadata,
		rp.UpdatedAt,
	).Scan(&version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("%w: recurring payment %s version %d", domain.ErrConflict, rp.ID, rp.Version)
		}
		return fmt.Errorf("failed to update recurring payment: %w", err)
	}
	rp.Version = version
	return nil
}
