package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// TransactionInput describes a ledger movement before it is recorded.
type TransactionInput struct {
	WalletID           string
	Type               domain.TransactionType
	Source             domain.PaymentSource
	Amount             decimal.Decimal
	IdempotencyKey     string
	BillID             *string
	RecurringPaymentID *string
	Description        string
	Metadata           map[string]string
}

// LedgerUsecase owns every transaction and the balance changes they imply.
type LedgerUsecase struct {
	txnRepo     repository.TransactionRepository
	walletRepo  repository.WalletRepository
	paymentErrs repository.PaymentErrorRepository
	clock       Clock
	logger      *zap.Logger
}

func NewLedgerUsecase(
	txnRepo repository.TransactionRepository,
	walletRepo repository.WalletRepository,
	paymentErrs repository.PaymentErrorRepository,
	clock Clock,
	logger *zap.Logger,
) *LedgerUsecase {
	return &LedgerUsecase{
		txnRepo:     txnRepo,
		walletRepo:  walletRepo,
		paymentErrs: paymentErrs,
		clock:       clock,
		logger:      logger,
	}
}

func (uc *LedgerUsecase) build(in TransactionInput) (*domain.Transaction, error) {
	if in.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: unknown transaction type %q", domain.ErrValidation, in.Type)
	}
	if in.Source == "" {
		in.Source = domain.PaymentSourceWallet
	}
	if !in.Source.Valid() {
		return nil, fmt.Errorf("%w: unknown payment source %q", domain.ErrValidation, in.Source)
	}
	if err := domain.ValidateAmount(in.Amount); err != nil {
		return nil, err
	}
	now := uc.clock.Now()
	return &domain.Transaction{
		ID:                 utils.GenerateID("txn"),
		Reference:          utils.TransactionReference(),
		WalletID:           in.WalletID,
		Type:               in.Type,
		Amount:             in.Amount,
		Status:             domain.TransactionStatusPending,
		Source:             in.Source,
		Direction:          domain.DirectionFor(in.Type, in.Source),
		IdempotencyKey:     in.IdempotencyKey,
		BillID:             in.BillID,
		RecurringPaymentID: in.RecurringPaymentID,
		Description:        in.Description,
		Metadata:           in.Metadata,
		CreatedAt:          now,
		UpdatedAt:          now,
	}, nil
}

func (uc *LedgerUsecase) wallet(ctx context.Context, id string) (*domain.Wallet, error) {
	w, err := uc.walletRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("wallet %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	return w, nil
}

// Create records a PENDING transaction without touching the wallet. It is
// used for gateway payments that settle later. Duplicate keys replay.
func (uc *LedgerUsecase) Create(ctx context.Context, in TransactionInput) (*domain.Transaction, bool, error) {
	t, err := uc.build(in)
	if err != nil {
		return nil, false, err
	}
	w, err := uc.wallet(ctx, in.WalletID)
	if err != nil {
		return nil, false, err
	}
	t.Currency = w.Currency

	stored, created, err := uc.txnRepo.Insert(ctx, t)
	observe("ledger.create", err)
	if err != nil {
		return nil, false, err
	}
	return stored, created, nil
}

// Execute records a transaction and applies its wallet effect atomically.
// The stored transaction is always returned when one exists; a failed
// transaction also comes back with its error. Replays of a key return the
// first outcome, including the first failure.
func (uc *LedgerUsecase) Execute(ctx context.Context, in TransactionInput) (*domain.Transaction, bool, error) {
	start := time.Now()
	defer func() { paymentDuration.WithLabelValues("ledger.execute").Observe(time.Since(start).Seconds()) }()

	t, err := uc.build(in)
	if err != nil {
		return nil, false, err
	}
	w, err := uc.wallet(ctx, in.WalletID)
	if err != nil {
		return nil, false, err
	}
	t.Currency = w.Currency

	stored, created, err := uc.txnRepo.Execute(ctx, t)
	if err != nil {
		observe("ledger.execute", err)
		return nil, false, err
	}
	txErr := stored.Err()
	observe("ledger.execute", txErr)

	if created && txErr != nil {
		uc.recordFailure(ctx, w.OwnerID, stored, txErr)
		uc.logger.Info("transaction rejected",
			zap.String("transaction_id", stored.ID),
			zap.String("wallet_id", stored.WalletID),
			zap.String("type", string(stored.Type)),
			zap.String("amount", stored.Amount.String()),
			zap.Error(txErr))
	}
	return stored, created, txErr
}

// Complete settles a PENDING or PROCESSING transaction. changed is false when
// it was already COMPLETED.
func (uc *LedgerUsecase) Complete(ctx context.Context, id string, gatewayRef *string) (*domain.Transaction, bool, error) {
	t, changed, err := uc.txnRepo.Complete(ctx, id, gatewayRef, uc.clock.Now())
	observe("ledger.complete", err)
	if err != nil {
		return nil, false, err
	}
	if changed && t.Status == domain.TransactionStatusFailed {
		if w, werr := uc.walletRepo.GetByID(ctx, t.WalletID); werr == nil {
			uc.recordFailure(ctx, w.OwnerID, t, t.Err())
		}
		return t, changed, t.Err()
	}
	return t, changed, nil
}

func (uc *LedgerUsecase) MarkProcessing(ctx context.Context, id string, gatewayRef *string) (*domain.Transaction, error) {
	return uc.txnRepo.Transition(ctx, id, repository.StatusUpdate{
		To:               domain.TransactionStatusProcessing,
		GatewayReference: gatewayRef,
		At:               uc.clock.Now(),
	})
}

// Fail marks a non-terminal transaction FAILED with the classified cause.
func (uc *LedgerUsecase) Fail(ctx context.Context, id string, cause error) (*domain.Transaction, error) {
	failure := &domain.PaymentFailure{Type: domain.ClassifyError(cause), Reason: cause.Error()}
	t, err := uc.txnRepo.Transition(ctx, id, repository.StatusUpdate{
		To:      domain.TransactionStatusFailed,
		Failure: failure,
		At:      uc.clock.Now(),
	})
	observe("ledger.fail", err)
	if err != nil {
		return nil, err
	}
	if w, werr := uc.walletRepo.GetByID(ctx, t.WalletID); werr == nil {
		uc.recordFailure(ctx, w.OwnerID, t, failure)
	}
	return t, nil
}

func (uc *LedgerUsecase) Cancel(ctx context.Context, id string) (*domain.Transaction, error) {
	return uc.txnRepo.Transition(ctx, id, repository.StatusUpdate{
		To: domain.TransactionStatusCancelled,
		At: uc.clock.Now(),
	})
}

func (uc *LedgerUsecase) SetGatewayReference(ctx context.Context, id, ref string) (*domain.Transaction, error) {
	return uc.txnRepo.SetGatewayReference(ctx, id, ref, uc.clock.Now())
}

// Reverse applies the opposite effect of a COMPLETED transaction and marks it
// REVERSED. Reversing twice returns the first reversal.
func (uc *LedgerUsecase) Reverse(ctx context.Context, id, reason string) (*domain.Transaction, error) {
	orig, err := uc.txnRepo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	dir := domain.DirectionCredit
	if orig.Direction == domain.DirectionCredit {
		dir = domain.DirectionDebit
	}
	now := uc.clock.Now()
	if reason == "" {
		reason = "reversal of " + orig.Reference
	}
	reversal := &domain.Transaction{
		ID:                 utils.GenerateID("txn"),
		Reference:          utils.TransactionReference(),
		WalletID:           orig.WalletID,
		Type:               domain.TransactionTypeRefund,
		Amount:             orig.Amount,
		Currency:           orig.Currency,
		Status:             domain.TransactionStatusPending,
		Source:             domain.PaymentSourceWallet,
		Direction:          dir,
		IdempotencyKey:     "reverse:" + orig.ID,
		BillID:             orig.BillID,
		RecurringPaymentID: orig.RecurringPaymentID,
		ReversalOf:         &orig.ID,
		Description:        reason,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	t, created, err := uc.txnRepo.Reverse(ctx, orig.ID, reversal)
	observe("ledger.reverse", err)
	if err != nil {
		return nil, err
	}
	if created {
		uc.logger.Info("transaction reversed",
			zap.String("original_id", orig.ID),
			zap.String("reversal_id", t.ID),
			zap.String("amount", t.Amount.String()))
	}
	return t, nil
}

func (uc *LedgerUsecase) Get(ctx context.Context, id string) (*domain.Transaction, error) {
	return uc.txnRepo.GetByID(ctx, id)
}

func (uc *LedgerUsecase) GetByIdempotencyKey(ctx context.Context, key string) (*domain.Transaction, error) {
	return uc.txnRepo.GetByIdempotencyKey(ctx, key)
}

func (uc *LedgerUsecase) GetByGatewayReference(ctx context.Context, ref string) (*domain.Transaction, error) {
	return uc.txnRepo.GetByGatewayReference(ctx, ref)
}

// List returns one page of a wallet's history, newest first.
func (uc *LedgerUsecase) List(ctx context.Context, f domain.TransactionFilter) (*domain.TransactionPage, error) {
	f.Normalize()
	items, total, err := uc.txnRepo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []*domain.Transaction{}
	}
	return &domain.TransactionPage{Items: items, Total: total, Limit: f.Limit, Offset: f.Offset}, nil
}

func (uc *LedgerUsecase) ListStaleDirect(ctx context.Context, olderThan time.Duration, limit int) ([]*domain.Transaction, error) {
	return uc.txnRepo.ListStaleDirect(ctx, uc.clock.Now().Add(-olderThan), limit)
}

func (uc *LedgerUsecase) SumCompletedForBill(ctx context.Context, billID string) (decimal.Decimal, error) {
	return uc.txnRepo.SumCompletedForBill(ctx, billID)
}

// RecordPaymentError stores a failure audit record that is not tied to a
// failed transaction, e.g. a recurring charge rejected before any debit.
func (uc *LedgerUsecase) RecordPaymentError(ctx context.Context, pe *domain.PaymentError) {
	if err := uc.paymentErrs.Create(ctx, pe); err != nil {
		uc.logger.Warn("failed to store payment error", zap.String("user_id", pe.UserID), zap.Error(err))
	}
}

func (uc *LedgerUsecase) ListPaymentErrors(ctx context.Context, userID string, limit int) ([]*domain.PaymentError, error) {
	if limit <= 0 || limit > domain.MaxPageSize {
		limit = domain.DefaultPageSize
	}
	return uc.paymentErrs.ListByUser(ctx, userID, limit)
}

func (uc *LedgerUsecase) recordFailure(ctx context.Context, userID string, t *domain.Transaction, cause error) {
	pe := domain.NewPaymentError(utils.GenerateID("perr"), userID, t.Amount, cause, uc.clock.Now())
	pe.TransactionID = &t.ID
	pe.BillID = t.BillID
	pe.RecurringPaymentID = t.RecurringPaymentID
	uc.RecordPaymentError(ctx, pe)
}
