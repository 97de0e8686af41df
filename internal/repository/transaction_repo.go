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

// StatusUpdate moves a transaction to a status other than COMPLETED.
type StatusUpdate struct {
	To               domain.TransactionStatus
	GatewayReference *string
	Failure          *domain.PaymentFailure
	At               time.Time
}

type TransactionRepository interface {
	// Insert stores a new transaction without touching any wallet. When the
	// idempotency key already exists the stored record is returned and
	// created is false.
	Insert(ctx context.Context, t *domain.Transaction) (stored *domain.Transaction, created bool, err error)

	// Execute inserts t and applies its wallet effect in one database
	// transaction. A rejected balance change is persisted as FAILED with a
	// failure code; it is not returned as an error. Duplicate keys replay.
	Execute(ctx context.Context, t *domain.Transaction) (stored *domain.Transaction, created bool, err error)

	// Complete moves a PENDING or PROCESSING transaction to COMPLETED and
	// applies its wallet effect. Completing a COMPLETED transaction is a no-op.
	Complete(ctx context.Context, id string, gatewayRef *string, at time.Time) (t *domain.Transaction, changed bool, err error)

	Transition(ctx context.Context, id string, u StatusUpdate) (*domain.Transaction, error)

	// SetGatewayReference records the provider's reference for a transaction
	// in any status. It is the only field that may change after completion.
	SetGatewayReference(ctx context.Context, id, ref string, at time.Time) (*domain.Transaction, error)

	// Reverse marks a COMPLETED original REVERSED and records reversal as a
	// completed transaction with the opposite wallet effect.
	Reverse(ctx context.Context, originalID string, reversal *domain.Transaction) (t *domain.Transaction, created bool, err error)

	GetByID(ctx context.Context, id string) (*domain.Transaction, error)
	GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error)
	GetByGatewayReference(ctx context.Context, ref string) (*domain.Transaction, error)
	List(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, int, error)

	// ListStaleDirect returns unsettled gateway transactions last touched before
	// cutoff, including PENDING ones that never reached the gateway.
	ListStaleDirect(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error)

	// SumCompletedForBill totals the COMPLETED bill payments linked to a bill.
	SumCompletedForBill(ctx context.Context, billID string) (decimal.Decimal, error)
}

type transactionRepo struct {
	db *pgxpool.Pool
}

func NewTransactionRepo(db *pgxpool.Pool) TransactionRepository {
	return &transactionRepo{db: db}
}

const transactionColumns = `
	id, reference, wallet_id, type, amount, currency, status, source, direction,
	idempotency_key, gateway_reference, bill_id, recurring_payment_id, reversal_of,
	description, metadata, balance_after, failure_code, failure_reason,
	created_at, updated_at, completed_at, failed_at`

func scanTransaction(row rowScanner) (*domain.Transaction, error) {
	var t domain.Transaction
	err := row.Scan(
		&t.ID, &t.Reference, &t.WalletID, &t.Type, &t.Amount, &t.Currency, &t.Status, &t.Source, &t.Direction,
		&t.IdempotencyKey, &t.GatewayReference, &t.BillID, &t.RecurringPaymentID, &t.ReversalOf,
		&t.Description, &t.Metadata, &t.BalanceAfter, &t.FailureCode, &t.FailureReason,
		&t.CreatedAt, &t.UpdatedAt, &t.CompletedAt, &t.FailedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return &t, nil
}

func insertTransaction(ctx context.Context, q querier, t *domain.Transaction) (bool, error) {
	if t.Metadata == nil {
		t.Metadata = map[string]string{}
	}
	query := `
		INSERT INTO transactions (` + transactionColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)
		ON CONFLICT (idempotency_key) DO NOTHING
		RETURNING id
	`
	var id string
	err := q.QueryRow(ctx, query,
		t.ID, t.Reference, t.WalletID, t.Type, t.Amount, t.Currency, t.Status, t.Source, t.Direction,
		t.IdempotencyKey, t.GatewayReference, t.BillID, t.RecurringPaymentID, t.ReversalOf,
		t.Description, t.Metadata, t.BalanceAfter, t.FailureCode, t.FailureReason,
		t.CreatedAt, t.UpdatedAt, t.CompletedAt, t.FailedAt,
	).Scan(&id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert transaction: %w", err)
	}
	return true, nil
}

func updateTransactionState(ctx context.Context, q querier, t *domain.Transaction) error {
	query := `
		UPDATE transactions
		SET status = $2, gateway_reference = $3, balance_after = $4, failure_code = $5,
		    failure_reason = $6, updated_at = $7, completed_at = $8, failed_at = $9
		WHERE id = $1
	`
	_, err := q.Exec(ctx, query, t.ID, t.Status, t.GatewayReference, t.BalanceAfter, t.FailureCode,
		t.FailureReason, t.UpdatedAt, t.CompletedAt, t.FailedAt)
	if err != nil {
		return fmt.Errorf("failed to update transaction %s: %w", t.ID, err)
	}
	return nil
}

func getTransactionForUpdate(ctx context.Context, tx pgx.Tx, id string) (*domain.Transaction, error) {
	t, err := scanTransaction(tx.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE id = $1 FOR UPDATE`, id))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to lock transaction: %w", err)
	}
	return t, err
}

// applyWalletEffect is the only place a wallet balance changes. Debits are a
// single conditional UPDATE so the funds check and the decrement cannot
// interleave with another writer.
func applyWalletEffect(ctx context.Context, tx pgx.Tx, walletID string, dir domain.Direction, amount decimal.Decimal, at time.Time) (*decimal.Decimal, *domain.PaymentFailure, error) {
	var query string
	switch dir {
	case domain.DirectionDebit:
		query = `
			UPDATE wallets
			SET balance = balance - $2, last_transaction_at = $3, version = version + 1, updated_at = $3
			WHERE id = $1 AND status = 'ACTIVE' AND balance - frozen_amount >= $2
			RETURNING balance`
	case domain.DirectionCredit:
		query = `
			UPDATE wallets
			SET balance = balance + $2, last_transaction_at = $3, version = version + 1, updated_at = $3
			WHERE id = $1 AND status <> 'SUSPENDED'
			RETURNING balance`
	default:
		return nil, nil, nil
	}

	var balance decimal.Decimal
	err := tx.QueryRow(ctx, query, walletID, amount, at).Scan(&balance)
	if err == nil {
		return &balance, nil, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, nil, fmt.Errorf("failed to apply wallet effect: %w", err)
	}

	w, err := scanWallet(tx.QueryRow(ctx, `SELECT `+walletColumns+` FROM wallets WHERE id = $1`, walletID))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load wallet %s: %w", walletID, err)
	}
	rejection := w.CheckCredit()
	if dir == domain.DirectionDebit {
		rejection = w.CheckDebit(amount)
	}
	if rejection == nil {
		rejection = fmt.Errorf("%w: wallet %s changed concurrently", domain.ErrInsufficientFunds, walletID)
	}
	return nil, &domain.PaymentFailure{Type: domain.ClassifyError(rejection), Reason: rejection.Error()}, nil
}

func (r *transactionRepo) Insert(ctx context.Context, t *domain.Transaction) (*domain.Transaction, bool, error) {
	created, err := insertTransaction(ctx, r.db, t)
	if err != nil {
		return nil, false, err
	}
	if created {
		return t, true, nil
	}
	existing, err := r.GetByIdempotencyKey(ctx, t.IdempotencyKey)
	return existing, false, err
}

func (r *transactionRepo) Execute(ctx context.Context, t *domain.Transaction) (*domain.Transaction, bool, error) {
	var (
		result  *domain.Transaction
		created bool
	)
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		t.Status = domain.TransactionStatusProcessing
		inserted, err := insertTransaction(ctx, tx, t)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := scanTransaction(tx.QueryRow(ctx,
				`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, t.IdempotencyKey))
			if err != nil {
				return fmt.Errorf("failed to load replayed transaction: %w", err)
			}
			result = existing
			return nil
		}

		balance, failure, err := applyWalletEffect(ctx, tx, t.WalletID, t.Direction, t.Amount, t.CreatedAt)
		if err != nil {
			return err
		}
		if failure != nil {
			t.MarkFailed(failure.Type, failure.Reason, t.CreatedAt)
		} else {
			t.MarkCompleted(balance, t.CreatedAt)
		}
		if err := updateTransactionState(ctx, tx, t); err != nil {
			return err
		}
		result, created = t, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (r *transactionRepo) Complete(ctx context.Context, id string, gatewayRef *string, at time.Time) (*domain.Transaction, bool, error) {
	var (
		result  *domain.Transaction
		changed bool
	)
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		t, err := getTransactionForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status == domain.TransactionStatusCompleted {
			result = t
			return nil
		}
		if !t.Status.CanTransition(domain.TransactionStatusCompleted) {
			return fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidTransition, id, t.Status)
		}
		if gatewayRef != nil {
			t.GatewayReference = gatewayRef
		}
		balance, failure, err := applyWalletEffect(ctx, tx, t.WalletID, t.Direction, t.Amount, at)
		if err != nil {
			return err
		}
		if failure != nil {
			t.MarkFailed(failure.Type, failure.Reason, at)
		} else {
			t.MarkCompleted(balance, at)
		}
		if err := updateTransactionState(ctx, tx, t); err != nil {
			return err
		}
		result, changed = t, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, changed, nil
}

func (r *transactionRepo) Transition(ctx context.Context, id string, u StatusUpdate) (*domain.Transaction, error) {
	if u.To == domain.TransactionStatusCompleted || u.To == domain.TransactionStatusReversed {
		return nil, fmt.Errorf("%w: use Complete or Reverse for %s", domain.ErrInvalidTransition, u.To)
	}
	var result *domain.Transaction
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		t, err := getTransactionForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.Status == u.To {
			result = t
			return nil
		}
		if !t.Status.CanTransition(u.To) {
			return fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidTransition, id, t.Status)
		}
		applyStatusUpdate(t, u)
		if err := updateTransactionState(ctx, tx, t); err != nil {
			return err
		}
		result = t
		return nil
	})
	return result, err
}

func (r *transactionRepo) SetGatewayReference(ctx context.Context, id, ref string, at time.Time) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `
		UPDATE transactions SET gateway_reference = $2, updated_at = $3
		WHERE id = $1
		RETURNING `+transactionColumns, id, ref, at))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to set gateway reference: %w", err)
	}
	return t, err
}

func applyStatusUpdate(t *domain.Transaction, u StatusUpdate) {
	if u.GatewayReference != nil {
		t.GatewayReference = u.GatewayReference
	}
	if u.To == domain.TransactionStatusFailed {
		f := u.Failure
		if f == nil {
			f = &domain.PaymentFailure{Type: domain.PaymentErrorUnknown, Reason: "transaction failed"}
		}
		t.MarkFailed(f.Type, f.Error(), u.At)
		return
	}
	t.Status = u.To
	t.UpdatedAt = u.At
}

func (r *transactionRepo) Reverse(ctx context.Context, originalID string, reversal *domain.Transaction) (*domain.Transaction, bool, error) {
	var (
		result  *domain.Transaction
		created bool
	)
	err := withTx(ctx, r.db, func(tx pgx.Tx) error {
		orig, err := getTransactionForUpdate(ctx, tx, originalID)
		if err != nil {
			return err
		}
		reversal.Status = domain.TransactionStatusProcessing
		inserted, err := insertTransaction(ctx, tx, reversal)
		if err != nil {
			return err
		}
		if !inserted {
			existing, err := scanTransaction(tx.QueryRow(ctx,
				`SELECT `+transactionColumns+` FROM transactions WHERE idempotency_key = $1`, reversal.IdempotencyKey))
			if err != nil {
				return fmt.Errorf("failed to load existing reversal: %w", err)
			}
			result = existing
			return nil
		}
		if !orig.Status.CanTransition(domain.TransactionStatusReversed) {
			return fmt.Errorf("%w: only completed transactions can be reversed, %s is %s",
				domain.ErrInvalidTransition, orig.ID, orig.Status)
		}

		balance, failure, err := applyWalletEffect(ctx, tx, reversal.WalletID, reversal.Direction, reversal.Amount, reversal.CreatedAt)
		if err != nil {
			return err
		}
		if failure != nil {
			return failure
		}
		reversal.MarkCompleted(balance, reversal.CreatedAt)
		if err := updateTransactionState(ctx, tx, reversal); err != nil {
			return err
		}
		orig.Status = domain.TransactionStatusReversed
		orig.UpdatedAt = reversal.CreatedAt
		if err := updateTransactionState(ctx, tx, orig); err != nil {
			return err
		}
		result, created = reversal, true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return result, created, nil
}

func (r *transactionRepo) getOne(ctx context.Context, where string, arg any) (*domain.Transaction, error) {
	t, err := scanTransaction(r.db.QueryRow(ctx, `SELECT `+transactionColumns+` FROM transactions WHERE `+where, arg))
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}
	return t, err
}

func (r *transactionRepo) GetByID(ctx context.Context, id string) (*domain.Transaction, error) {
	return r.getOne(ctx, "id = $1", id)
}

func (r *transactionRepo) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return r.getOne(ctx, "idempotency_key = $1", key)
}

func (r *transactionRepo) GetByGatewayReference(ctx context.Context, ref string) (*domain.Transaction, error) {
	return r.getOne(ctx, "gateway_reference = $1", ref)
}

func buildTransactionWhere(f domain.TransactionFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.WalletID != "" {
		add("wallet_id = $%d", f.WalletID)
	}
	if f.Type != "" {
		add("type = $%d", f.Type)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
	}
	if f.BillID != "" {
		add("bill_id = $%d", f.BillID)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at < $%d", *f.To)
	}
	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func (r *transactionRepo) List(ctx context.Context, f domain.TransactionFilter) ([]*domain.Transaction, int, error) {
	f.Normalize()
	where, args := buildTransactionWhere(f)

	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM transactions`+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	query := fmt.Sprintf(`SELECT %s FROM transactions%s ORDER BY created_at DESC, id DESC LIMIT %d OFFSET %d`,
		transactionColumns, where, f.Limit, f.Offset)
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list transactions: %w", err)
	}
	defer rows.Close()

	items, err := collectTransactions(rows)
	return items, total, err
}

func collectTransactions(rows pgx.Rows) ([]*domain.Transaction, error) {
	var items []*domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		items = append(items, t)
	}
	return items, rows.Err()
}

func (r *transactionRepo) ListStaleDirect(ctx context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error) {
	query := `
		SELECT ` + transactionColumns + `
		FROM transactions
		WHERE source = 'DIRECT' AND updated_at < $1
		  AND (status = 'PENDING' OR (status = 'PROCESSING' AND gateway_reference IS NOT NULL))
		ORDER BY updated_at
		LIMIT $2`
	rows, err := r.db.Query(ctx, query, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale transactions: %w", err)
	}
	defer rows.Close()
	return collectTransactions(rows)
}

func (r *transactionRepo) SumCompletedForBill(ctx context.Context, billID string) (decimal.Decimal, error) {
	var sum decimal.Decimal
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0)
		FROM transactions
		WHERE bill_id = $1 AND type = 'BILL_PAYMENT' AND status = 'COMPLETED'`, billID).Scan(&sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("failed to sum bill payments: %w", err)
	}
	return sum, nil
}
