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

type ClusterOperationRepository interface {
	// Append stores op. Operations are unique per (source transaction,
	// category); a second append returns the stored one with created false.
	Append(ctx context.Context, op *domain.ClusterWalletOperation) (stored *domain.ClusterWalletOperation, created bool, err error)
	GetBySource(ctx context.Context, sourceTransactionID string, category domain.OperationCategory) (*domain.ClusterWalletOperation, error)
	ListByWallet(ctx context.Context, walletID string, since *time.Time, limit, offset int) ([]*domain.ClusterWalletOperation, error)
}

type clusterOpRepo struct {
	db *pgxpool.Pool
}

func NewClusterOperationRepo(db *pgxpool.Pool) ClusterOperationRepository {
	return &clusterOpRepo{db: db}
}

const clusterOpColumns = `
	id, estate_wallet_id, estate_id, amount, direction, category, source_transaction_id,
	wallet_transaction_id, acting_admin, description, metadata, created_at`

func scanClusterOp(row rowScanner) (*domain.ClusterWalletOperation, error) {
	var op domain.ClusterWalletOperation
	err := row.Scan(&op.ID, &op.EstateWalletID, &op.EstateID, &op.Amount, &op.Direction, &op.Category, &op.SourceTransactionID,
		&op.WalletTransactionID, &op.ActingAdmin, &op.Description, &op.Metadata, &op.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &op, nil
}

func (r *clusterOpRepo) Append(ctx context.Context, op *domain.ClusterWalletOperation) (*domain.ClusterWalletOperation, bool, error) {
	if op.Metadata == nil {
		op.Metadata = map[string]string{}
	}
	tag, err := r.db.Exec(ctx, `
		INSERT INTO cluster_wallet_operations (`+clusterOpColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (source_transaction_id, category) WHERE source_transaction_id IS NOT NULL DO NOTHING`,
		op.ID, op.EstateWalletID, op.EstateID, op.Amount, op.Direction, op.Category, op.SourceTransactionID,
		op.WalletTransactionID, op.ActingAdmin, op.Description, op.Metadata, op.CreatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("failed to append cluster wallet operation: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return op, true, nil
	}
	existing, err := r.GetBySource(ctx, *op.SourceTransactionID, op.Category)
	return existing, false, err
}

func (r *clusterOpRepo) GetBySource(ctx context.Context, sourceTransactionID string, category domain.OperationCategory) (*domain.ClusterWalletOperation, error) {
	op, err := scanClusterOp(r.db.QueryRow(ctx, `
		SELECT `+clusterOpColumns+` FROM cluster_wallet_operations
		WHERE source_transaction_id = $1 AND category = $2`, sourceTransactionID, category))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get cluster wallet operation: %w", err)
	}
	return op, err
}

func (r *clusterOpRepo) ListByWallet(ctx context.Context, walletID string, since *time.Time, limit, offset int) ([]*domain.ClusterWalletOperation, error) {
	if limit <= 0 {
		limit = domain.MaxPageSize
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+clusterOpColumns+`
		FROM cluster_wallet_operations
		WHERE estate_wallet_id = $1 AND ($2::timestamptz IS NULL OR created_at >= $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4`, walletID, since, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list cluster wallet operations: %w", err)
	}
	defer rows.Close()

	var out []*domain.ClusterWalletOperation
	for rows.Next() {
		op, err := scanClusterOp(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan cluster wallet operation: %w", err)
		}
		out = append(out, op)
	}
	return out, rows.Err()
}
