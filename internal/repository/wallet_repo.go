package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

type WalletRepository interface {
	Create(ctx context.Context, w *domain.Wallet) error
	GetByID(ctx context.Context, id string) (*domain.Wallet, error)
	GetByOwner(ctx context.Context, ownerID, estateID string) (*domain.Wallet, error)
	ListByOwner(ctx context.Context, ownerID string) ([]*domain.Wallet, error)

	// Freeze and Unfreeze are conditional updates; they fail with
	// ErrInvalidFreezeAmount rather than drive available or frozen below zero.
	Freeze(ctx context.Context, id string, amount decimal.Decimal, at time.Time) (*domain.Wallet, error)
	Unfreeze(ctx context.Context, id string, amount decimal.Decimal, at time.Time) (*domain.Wallet, error)

	SetStatus(ctx context.Context, id string, status domain.WalletStatus, at time.Time) (*domain.Wallet, error)
	SetPin(ctx context.Context, id, pinHash string, at time.Time) error
}

type walletRepo struct {
	db *pgxpool.Pool
}

func NewWalletRepo(db *pgxpool.Pool) WalletRepository {
	return &walletRepo{db: db}
}

const walletColumns = `
	id, owner_id, estate_id, account_number, balance, frozen_amount, status,
	currency, pin_hash, last_transaction_at, version, created_at, updated_at`

func scanWallet(row rowScanner) (*domain.Wallet, error) {
	var w domain.Wallet
	err := row.Scan(
		&w.ID, &w.OwnerID, &w.EstateID, &w.AccountNumber, &w.Balance, &w.FrozenAmount, &w.Status,
		&w.Currency, &w.PinHash, &w.LastTransactionAt, &w.Version, &w.CreatedAt, &w.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &w, nil
}

func (r *walletRepo) Create(ctx context.Context, w *domain.Wallet) error {
	query := `
		INSERT INTO wallets (
			id, owner_id, estate_id, account_number, balance, frozen_amount, status,
			currency, pin_hash, last_transaction_at, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`
	_, err := r.db.Exec(ctx, query,
		w.ID, w.OwnerID, w.EstateID, w.AccountNumber, w.Balance, w.FrozenAmount, w.Status,
		w.Currency, w.PinHash, w.LastTransactionAt, w.Version, w.CreatedAt, w.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "wallets_owner_estate_key") {
			return domain.ErrWalletExists
		}
		return fmt.Errorf("failed to create wallet: %w", err)
	}
	return nil
}

func (r *walletRepo) GetByID(ctx context.Context, id string) (*domain.Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get wallet: %w", err)
	}
	return w, err
}

func (r *walletRepo) GetByOwner(ctx context.Context, ownerID, estateID string) (*domain.Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx,
		`SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 AND estate_id = $2`, ownerID, estateID))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get wallet by owner: %w", err)
	}
	return w, err
}

func (r *walletRepo) ListByOwner(ctx context.Context, ownerID string) ([]*domain.Wallet, error) {
	rows, err := r.db.Query(ctx, `SELECT `+walletColumns+` FROM wallets WHERE owner_id = $1 ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list wallets: %w", err)
	}
	defer rows.Close()

	var wallets []*domain.Wallet
	for rows.Next() {
		w, err := scanWallet(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan wallet: %w", err)
		}
		wallets = append(wallets, w)
	}
	return wallets, rows.Err()
}

func (r *walletRepo) Freeze(ctx context.Context, id string, amount decimal.Decimal, at time.Time) (*domain.Wallet, error) {
	query := `
		UPDATE wallets
		SET frozen_amount = frozen_amount + $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND balance - frozen_amount >= $2
		RETURNING ` + walletColumns
	return r.conditionalUpdate(ctx, id, query, amount, at)
}

func (r *walletRepo) Unfreeze(ctx context.Context, id string, amount decimal.Decimal, at time.Time) (*domain.Wallet, error) {
	query := `
		UPDATE wallets
		SET frozen_amount = frozen_amount - $2, version = version + 1, updated_at = $3
		WHERE id = $1 AND frozen_amount >= $2
		RETURNING ` + walletColumns
	return r.conditionalUpdate(ctx, id, query, amount, at)
}

func (r *walletRepo) conditionalUpdate(ctx context.Context, id, query string, amount decimal.Decimal, at time.Time) (*domain.Wallet, error) {
	w, err := scanWallet(r.db.QueryRow(ctx, query, id, amount, at))
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to update frozen amount: %w", err)
	}
	// distinguish a missing wallet from a rejected amount
	if _, getErr := r.GetByID(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, domain.ErrInvalidFreezeAmount
}

func (r *walletRepo) SetStatus(ctx context.Context, id string, status domain.WalletStatus, at time.Time) (*domain.Wallet, error) {
	query := `
		UPDATE wallets SET status = $2, version = version + 1, updated_at = $3
		WHERE id = $1
		RETURNING ` + walletColumns
	w, err := scanWallet(r.db.QueryRow(ctx, query, id, status, at))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to set wallet status: %w", err)
	}
	return w, err
}

func (r *walletRepo) SetPin(ctx context.Context, id, pinHash string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `UPDATE wallets SET pin_hash = $2, updated_at = $3 WHERE id = $1`, id, pinHash, at)
	if err != nil {
		return fmt.Errorf("failed to set wallet pin: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
