package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type DisputeRepository interface {
	// Create fails with ErrDuplicateActiveDispute when the user already has an
	// open or under-review dispute on the bill.
	Create(ctx context.Context, d *domain.Dispute) error
	GetByID(ctx context.Context, id string) (*domain.Dispute, error)
	ListByBill(ctx context.Context, billID string) ([]*domain.Dispute, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Dispute, error)

	// HasActive reports an active dispute for (bill, user); an empty userID
	// matches any user.
	HasActive(ctx context.Context, billID, userID string) (bool, error)

	// Transition is a compare-and-swap on status.
	Transition(ctx context.Context, id string, from []domain.DisputeStatus, to domain.DisputeStatus, notes *string, at time.Time) (*domain.Dispute, error)
}

type disputeRepo struct {
	db *pgxpool.Pool
}

func NewDisputeRepo(db *pgxpool.Pool) DisputeRepository {
	return &disputeRepo{db: db}
}

const disputeColumns = `id, bill_id, raised_by, reason, status, resolution_notes, resolved_at, created_at, updated_at`

func scanDispute(row rowScanner) (*domain.Dispute, error) {
	var d domain.Dispute
	err := row.Scan(&d.ID, &d.BillID, &d.RaisedBy, &d.Reason, &d.Status, &d.ResolutionNotes, &d.ResolvedAt, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *disputeRepo) Create(ctx context.Context, d *domain.Dispute) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO bill_disputes (`+disputeColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		d.ID, d.BillID, d.RaisedBy, d.Reason, d.Status, d.ResolutionNotes, d.ResolvedAt, d.CreatedAt, d.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "bill_disputes_one_active_per_user") {
			return domain.ErrDuplicateActiveDispute
		}
		return fmt.Errorf("failed to create dispute (%s): %w", parsePGErrorCode(err), err)
	}
	return nil
}

func (r *disputeRepo) GetByID(ctx context.Context, id string) (*domain.Dispute, error) {
	d, err := scanDispute(r.db.QueryRow(ctx, `SELECT `+disputeColumns+` FROM bill_disputes WHERE id = $1`, id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get dispute: %w", err)
	}
	return d, err
}

func (r *disputeRepo) list(ctx context.Context, where string, arg any) ([]*domain.Dispute, error) {
	rows, err := r.db.Query(ctx, `SELECT `+disputeColumns+` FROM bill_disputes WHERE `+where+` ORDER BY created_at DESC`, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to list disputes: %w", err)
	}
	defer rows.Close()

	var out []*domain.Dispute
	for rows.Next() {
		d, err := scanDispute(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan dispute: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *disputeRepo) ListByBill(ctx context.Context, billID string) ([]*domain.Dispute, error) {
	return r.list(ctx, "bill_id = $1", billID)
}

func (r *disputeRepo) ListByUser(ctx context.Context, userID string) ([]*domain.Dispute, error) {
	return r.list(ctx, "raised_by = $1", userID)
}

func (r *disputeRepo) HasActive(ctx context.Context, billID, userID string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM bill_disputes
			WHERE bill_id = $1 AND ($2 = '' OR raised_by = $2)
			  AND status IN ('OPEN', 'UNDER_REVIEW')
		)`, billID, userID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check active disputes: %w", err)
	}
	return exists, nil
}

func (r *disputeRepo) Transition(ctx context.Context, id string, from []domain.DisputeStatus, to domain.DisputeStatus, notes *string, at time.Time) (*domain.Dispute, error) {
	var resolvedAt *time.Time
	if to.IsTerminal() {
		resolvedAt = &at
	}
	fromStrings := make([]string, len(from))
	for i, s := range from {
		fromStrings[i] = string(s)
	}

	d, err := scanDispute(r.db.QueryRow(ctx, `
		UPDATE bill_disputes
		SET status = $2, resolution_notes = COALESCE($3, resolution_notes),
		    resolved_at = COALESCE($4, resolved_at), updated_at = $5
		WHERE id = $1 AND status = ANY($6)
		RETURNING `+disputeColumns, id, to, notes, resolvedAt, at, fromStrings))
	if err == nil {
		return d, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to transition dispute: %w", err)
	}
	current, getErr := r.GetByID(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	return nil, fmt.Errorf("%w: dispute %s is %s", domain.ErrInvalidTransition, id, current.Status)
}
