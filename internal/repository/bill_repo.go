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
	"github.com/shopspring/decimal"
)

type BillRepository interface {
	Create(ctx context.Context, b *domain.Bill) error
	GetByID(ctx context.Context, id string) (*domain.Bill, error)

	// List filters on stored columns only; derived status is applied by the caller.
	// A UserID filter matches bills targeted at the user and estate-wide bills.
	List(ctx context.Context, f domain.BillFilter) ([]*domain.Bill, error)

	AddAcknowledgment(ctx context.Context, billID, userID string, at time.Time) (added bool, err error)

	// RecordPayment counts a transaction into paid_amount at most once.
	RecordPayment(ctx context.Context, billID, transactionID string, amount decimal.Decimal, at time.Time) (recorded bool, err error)
	RemovePayment(ctx context.Context, billID, transactionID string, at time.Time) (removed bool, err error)

	Cancel(ctx context.Context, billID string, at time.Time) error
	MarkOverdueNotified(ctx context.Context, billID string, at time.Time) (bool, error)
	MarkReminded(ctx context.Context, billID string, at time.Time) error

	// SetPaidAt stamps or clears paid_at on bills whose paid amount is derived.
	SetPaidAt(ctx context.Context, billID string, paidAt *time.Time, at time.Time) error

	// ListOpenDueBefore returns unpaid, uncancelled bills due before the
	// cutoff that have not yet been flagged overdue.
	ListOpenDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Bill, error)
}

type billRepo struct {
	db *pgxpool.Pool
}

func NewBillRepo(db *pgxpool.Pool) BillRepository {
	return &billRepo{db: db}
}

const billColumns = `
	b.id, b.bill_number, b.estate_id, b.user_id, b.category, b.type, b.title, b.description,
	b.amount, b.currency, b.due_date, b.allow_payment_after_due, b.acknowledgment_required,
	b.paid_amount, b.utility_provider_code, b.customer_id, b.created_by, b.paid_at, b.cancelled_at,
	b.overdue_notified_at, b.last_reminder_at, b.created_at, b.updated_at,
	ARRAY(SELECT a.user_id FROM bill_acknowledgments a WHERE a.bill_id = b.id ORDER BY a.acknowledged_at)`

func scanBill(row rowScanner) (*domain.Bill, error) {
	var b domain.Bill
	err := row.Scan(
		&b.ID, &b.BillNumber, &b.EstateID, &b.UserID, &b.Category, &b.Type, &b.Title, &b.Description,
		&b.Amount, &b.Currency, &b.DueDate, &b.AllowPaymentAfterDue, &b.AcknowledgmentRequired,
		&b.PaidAmount, &b.UtilityProviderCode, &b.CustomerID, &b.CreatedBy, &b.PaidAt, &b.CancelledAt,
		&b.OverdueNotifiedAt, &b.LastReminderAt, &b.CreatedAt, &b.UpdatedAt,
		&b.AcknowledgedBy,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (r *billRepo) Create(ctx context.Context, b *domain.Bill) error {
	query := `
		INSERT INTO bills (
			id, bill_number, estate_id, user_id, category, type, title, description,
			amount, currency, due_date, allow_payment_after_due, acknowledgment_required,
			paid_amount, utility_provider_code, customer_id, created_by, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := r.db.Exec(ctx, query,
		b.ID, b.BillNumber, b.EstateID, b.UserID, b.Category, b.Type, b.Title, b.Description,
		b.Amount, b.Currency, b.DueDate, b.AllowPaymentAfterDue, b.AcknowledgmentRequired,
		b.PaidAmount, b.UtilityProviderCode, b.CustomerID, b.CreatedBy, b.CreatedAt, b.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create bill: %w", err)
	}
	return nil
}

func (r *billRepo) GetByID(ctx context.Context, id string) (*domain.Bill, error) {
	b, err := scanBill(r.db.QueryRow(ctx, `SELECT `+billColumns+` FROM bills b WHERE b.id = $1`, id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get bill: %w", err)
	}
	return b, err
}

func (r *billRepo) List(ctx context.Context, f domain.BillFilter) ([]*domain.Bill, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(args))))
	}
	if f.EstateID != "" {
		add("b.estate_id = ?", f.EstateID)
	}
	if f.UserID != "" {
		add("(b.user_id = ? OR b.user_id IS NULL)", f.UserID)
	}
	if f.Category != "" {
		add("b.category = ?", f.Category)
	}
	if f.Type != "" {
		add("b.type = ?", f.Type)
	}

	query := `SELECT ` + billColumns + ` FROM bills b`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY b.due_date, b.id"

	return r.query(ctx, query, args...)
}

func (r *billRepo) query(ctx context.Context, query string, args ...any) ([]*domain.Bill, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list bills: %w", err)
	}
	defer rows.Close()

	var bills []*domain.Bill
	for rows.Next() {
		b, err := scanBill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan bill: %w", err)
		}
		bills = append(bills, b)
	}
	return bills, rows.Err()
}

func (r *billRepo) AddAcknowledgment(ctx context.Context, billID, userID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		INSERT INTO bill_acknowledgments (bill_id, user_id, acknowledged_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (bill_id, user_id) DO NOTHING`, billID, userID, at)
	if err != nil {
		return false, fmt.Errorf("failed to acknowledge bill: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *billRepo) RecordPayment(ctx context.Context, billID, transactionID string, amount decimal.Decimal, at time.Time) (bool, error) {
	recorded := false
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			INSERT INTO bill_payments (bill_id, transaction_id, amount, recorded_at)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (bill_id, transaction_id) DO NOTHING`, billID, transactionID, amount, at)
		if err != nil {
			return fmt.Errorf("failed to link bill payment: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		_, err = tx.Exec(ctx, `
			UPDATE bills
			SET paid_amount = paid_amount + $2,
			    paid_at = CASE WHEN paid_amount + $2 >= amount AND paid_at IS NULL THEN $3 ELSE paid_at END,
			    updated_at = $3
			WHERE id = $1`, billID, amount, at)
		if err != nil {
			return fmt.Errorf("failed to record bill payment: %w", err)
		}
		recorded = true
		return nil
	})
	return recorded, err
}

func (r *billRepo) RemovePayment(ctx context.Context, billID, transactionID string, at time.Time) (bool, error) {
	removed := false
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		var amount decimal.Decimal
		err := tx.QueryRow(ctx, `
			DELETE FROM bill_payments WHERE bill_id = $1 AND transaction_id = $2
			RETURNING amount`, billID, transactionID).Scan(&amount)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to unlink bill payment: %w", err)
		}
		_, err = tx.Exec(ctx, `
			UPDATE bills
			SET paid_amount = paid_amount - $2,
			    paid_at = CASE WHEN paid_amount - $2 < amount THEN NULL ELSE paid_at END,
			    updated_at = $3
			WHERE id = $1`, billID, amount, at)
		if err != nil {
			return fmt.Errorf("failed to reverse bill payment: %w", err)
		}
		removed = true
		return nil
	})
	return removed, err
}

func (r *billRepo) Cancel(ctx context.Context, billID string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE bills SET cancelled_at = $2, updated_at = $2
		WHERE id = $1 AND cancelled_at IS NULL`, billID, at)
	if err != nil {
		return fmt.Errorf("failed to cancel bill: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, billID); err != nil {
			return err
		}
		return domain.ErrBillCancelled
	}
	return nil
}

func (r *billRepo) MarkOverdueNotified(ctx context.Context, billID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE bills SET overdue_notified_at = $2, updated_at = $2
		WHERE id = $1 AND overdue_notified_at IS NULL`, billID, at)
	if err != nil {
		return false, fmt.Errorf("failed to mark bill overdue: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *billRepo) MarkReminded(ctx context.Context, billID string, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE bills SET last_reminder_at = $2 WHERE id = $1`, billID, at)
	if err != nil {
		return fmt.Errorf("failed to mark bill reminded: %w", err)
	}
	return nil
}

func (r *billRepo) SetPaidAt(ctx context.Context, billID string, paidAt *time.Time, at time.Time) error {
	_, err := r.db.Exec(ctx, `UPDATE bills SET paid_at = $2, updated_at = $3 WHERE id = $1`, billID, paidAt, at)
	if err != nil {
		return fmt.Errorf("failed to set bill paid_at: %w", err)
	}
	return nil
}

func (r *billRepo) ListOpenDueBefore(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Bill, error) {
	return r.query(ctx, `
		SELECT `+billColumns+`
		FROM bills b
		WHERE b.cancelled_at IS NULL AND b.paid_at IS NULL
		  AND b.overdue_notified_at IS NULL AND b.due_date < $1
		ORDER BY b.due_date
		LIMIT $2`, cutoff, limit)
}
