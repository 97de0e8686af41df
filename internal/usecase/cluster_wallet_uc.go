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

// ClusterWalletUsecase reconciles estate revenue. Every movement on an
// estate wallet goes through here and leaves one operation record.
type ClusterWalletUsecase struct {
	opRepo   repository.ClusterOperationRepository
	wallets  *WalletUsecase
	ledger   *LedgerUsecase
	notifier Notifier
	clock    Clock
	logger   *zap.Logger
}

func NewClusterWalletUsecase(
	opRepo repository.ClusterOperationRepository,
	wallets *WalletUsecase,
	ledger *LedgerUsecase,
	notifier Notifier,
	clock Clock,
	logger *zap.Logger,
) *ClusterWalletUsecase {
	if notifier == nil {
		notifier = NopNotifier()
	}
	return &ClusterWalletUsecase{
		opRepo:   opRepo,
		wallets:  wallets,
		ledger:   ledger,
		notifier: notifier,
		clock:    clock,
		logger:   logger,
	}
}

func (uc *ClusterWalletUsecase) EstateWallet(ctx context.Context, estateID string) (*domain.Wallet, error) {
	return uc.wallets.EstateWallet(ctx, estateID)
}

func billMetadata(b *domain.Bill, txn *domain.Transaction) map[string]string {
	return map[string]string{
		domain.MetaBillID:     b.ID,
		domain.MetaBillNumber: b.BillNumber,
		domain.MetaBillType:   string(b.Type),
		domain.MetaPayerID:    txn.Metadata[domain.MetaPayerID],
	}
}

// ReceivingWallet returns the estate wallet that takes b's revenue. It fails
// while that wallet is suspended or holds another currency, so payers are
// checked before any money leaves their wallet.
func (uc *ClusterWalletUsecase) ReceivingWallet(ctx context.Context, b *domain.Bill) (*domain.Wallet, error) {
	estate, err := uc.wallets.Provision(ctx, domain.EstateWalletOwner, b.EstateID, b.Currency)
	if err != nil {
		return nil, err
	}
	if estate.Currency != b.Currency {
		return nil, fmt.Errorf("%w: bill is in %s but the estate wallet is in %s", domain.ErrValidation, b.Currency, estate.Currency)
	}
	if err := estate.CheckCredit(); err != nil {
		return nil, fmt.Errorf("estate wallet cannot receive payments: %w", err)
	}
	return estate, nil
}

// creditKey picks the idempotency key for the estate credit of one payment.
// A credit the ledger rejected does not pin the payment: the next attempt
// moves on to a fresh key.
func (uc *ClusterWalletUsecase) creditKey(ctx context.Context, paymentID string) (string, error) {
	base := "estate-credit:" + paymentID
	key := base
	for attempt := 1; ; attempt++ {
		prev, err := uc.ledger.GetByIdempotencyKey(ctx, key)
		if errors.Is(err, domain.ErrNotFound) {
			return key, nil
		}
		if err != nil {
			return "", err
		}
		if prev.Status != domain.TransactionStatusFailed {
			return key, nil
		}
		key = fmt.Sprintf("%s:%d", base, attempt)
	}
}

// CreditFromBillPayment is the only way bill revenue reaches an estate
// wallet. The credit and the operation are both keyed by the payer's
// transaction, so calling it again for the same payment changes nothing.
func (uc *ClusterWalletUsecase) CreditFromBillPayment(ctx context.Context, b *domain.Bill, txn *domain.Transaction) (*domain.ClusterWalletOperation, error) {
	if b.Category != domain.BillCategoryClusterManaged {
		return nil, fmt.Errorf("%w: bill %s is not cluster managed", domain.ErrValidation, b.ID)
	}
	if txn.Status != domain.TransactionStatusCompleted || txn.BillID == nil || *txn.BillID != b.ID {
		return nil, fmt.Errorf("%w: transaction %s is not a completed payment on bill %s", domain.ErrValidation, txn.ID, b.ID)
	}
	estate, err := uc.ReceivingWallet(ctx, b)
	if err != nil {
		return nil, err
	}
	key, err := uc.creditKey(ctx, txn.ID)
	if err != nil {
		return nil, err
	}
	meta := billMetadata(b, txn)
	credit, _, err := uc.ledger.Execute(ctx, TransactionInput{
		WalletID:       estate.ID,
		Type:           domain.TransactionTypeDeposit,
		Amount:         txn.Amount,
		IdempotencyKey: key,
		BillID:         &b.ID,
		Description:    "Bill payment " + b.BillNumber,
		Metadata:       meta,
	})
	if err != nil {
		return nil, err
	}
	return uc.append(ctx, &domain.ClusterWalletOperation{
		EstateWalletID:      estate.ID,
		EstateID:            b.EstateID,
		Amount:              txn.Amount,
		Direction:           domain.DirectionCredit,
		Category:            domain.OperationBillPayment,
		SourceTransactionID: &txn.ID,
		WalletTransactionID: credit.ID,
		Description:         credit.Description,
		Metadata:            meta,
	})
}

// DebitForRefund takes a refunded bill payment back out of the estate wallet.
func (uc *ClusterWalletUsecase) DebitForRefund(ctx context.Context, b *domain.Bill, original *domain.Transaction) (*domain.ClusterWalletOperation, error) {
	estate, err := uc.wallets.EstateWallet(ctx, b.EstateID)
	if err != nil {
		return nil, err
	}
	meta := billMetadata(b, original)
	debit, _, err := uc.ledger.Execute(ctx, TransactionInput{
		WalletID:       estate.ID,
		Type:           domain.TransactionTypeWithdrawal,
		Amount:         original.Amount,
		IdempotencyKey: "estate-refund:" + original.ID,
		BillID:         &b.ID,
		Description:    "Refund of bill payment " + b.BillNumber,
		Metadata:       meta,
	})
	if err != nil {
		return nil, fmt.Errorf("estate wallet cannot fund refund: %w", err)
	}
	return uc.append(ctx, &domain.ClusterWalletOperation{
		EstateWalletID:      estate.ID,
		EstateID:            b.EstateID,
		Amount:              original.Amount,
		Direction:           domain.DirectionDebit,
		Category:            domain.OperationBillRefund,
		SourceTransactionID: &original.ID,
		WalletTransactionID: debit.ID,
		Description:         debit.Description,
		Metadata:            meta,
	})
}

// Transfer is an administrative withdrawal from an estate wallet, either to
// another wallet in the system or to an external account.
func (uc *ClusterWalletUsecase) Transfer(ctx context.Context, req domain.TransferRequest) (*domain.ClusterWalletOperation, error) {
	if (req.DestinationWalletID == "") == (req.DestinationAccount == "") {
		return nil, fmt.Errorf("%w: exactly one of destination_wallet_id and destination_account is required", domain.ErrValidation)
	}
	if req.ActingAdmin == "" {
		return nil, fmt.Errorf("%w: acting admin is required", domain.ErrValidation)
	}
	if err := domain.ValidateAmount(req.Amount); err != nil {
		return nil, err
	}
	estate, err := uc.wallets.Get(ctx, req.EstateWalletID)
	if err != nil {
		return nil, err
	}
	if !estate.IsEstateWallet() {
		return nil, fmt.Errorf("%w: wallet %s is not an estate wallet", domain.ErrValidation, estate.ID)
	}

	var dest *domain.Wallet
	if req.DestinationWalletID != "" {
		if req.DestinationWalletID == estate.ID {
			return nil, fmt.Errorf("%w: cannot transfer to the same wallet", domain.ErrValidation)
		}
		if dest, err = uc.wallets.Get(ctx, req.DestinationWalletID); err != nil {
			return nil, err
		}
		if err := dest.CheckCredit(); err != nil {
			return nil, err
		}
		if dest.Currency != estate.Currency {
			return nil, fmt.Errorf("%w: destination wallet is in %s", domain.ErrValidation, dest.Currency)
		}
	}

	meta := map[string]string{"acting_admin": req.ActingAdmin}
	if dest != nil {
		meta["destination_wallet_id"] = dest.ID
	} else {
		meta["destination_account"] = req.DestinationAccount
	}
	debit, fresh, err := uc.ledger.Execute(ctx, TransactionInput{
		WalletID:       estate.ID,
		Type:           domain.TransactionTypeTransfer,
		Amount:         req.Amount,
		IdempotencyKey: req.IdempotencyKey,
		Description:    req.Description,
		Metadata:       meta,
	})
	if err != nil {
		return nil, err
	}

	if dest != nil {
		_, _, err := uc.ledger.Execute(ctx, TransactionInput{
			WalletID:       dest.ID,
			Type:           domain.TransactionTypeDeposit,
			Amount:         req.Amount,
			IdempotencyKey: req.IdempotencyKey + ":credit",
			Description:    "Transfer from estate " + estate.EstateID,
			Metadata:       map[string]string{"source_wallet_id": estate.ID, "transfer_reference": debit.Reference},
		})
		if err != nil {
			if _, rerr := uc.ledger.Reverse(ctx, debit.ID, "transfer credit failed"); rerr != nil {
				uc.logger.Error("failed to reverse estate transfer debit",
					zap.String("transaction_id", debit.ID), zap.Error(rerr))
			}
			return nil, fmt.Errorf("transfer credit failed: %w", err)
		}
	}

	admin := req.ActingAdmin
	op, err := uc.append(ctx, &domain.ClusterWalletOperation{
		EstateWalletID:      estate.ID,
		EstateID:            estate.EstateID,
		Amount:              req.Amount,
		Direction:           domain.DirectionDebit,
		Category:            domain.OperationTransfer,
		SourceTransactionID: &debit.ID,
		WalletTransactionID: debit.ID,
		ActingAdmin:         &admin,
		Description:         req.Description,
		Metadata:            meta,
	})
	if err != nil {
		return nil, err
	}
	if !fresh {
		return op, nil
	}
	uc.notifier.Notify(ctx, domain.EventEstateWalletDebited, []string{req.ActingAdmin}, map[string]string{
		"estate_id": estate.EstateID,
		"amount":    req.Amount.StringFixed(domain.MoneyScale),
		"reference": debit.Reference,
	})
	return op, nil
}

// AddManualCredit records money an admin paid into the estate outside of bills.
func (uc *ClusterWalletUsecase) AddManualCredit(ctx context.Context, estateID string, amount decimal.Decimal, admin, description, key string) (*domain.ClusterWalletOperation, error) {
	if admin == "" {
		return nil, fmt.Errorf("%w: acting admin is required", domain.ErrValidation)
	}
	estate, err := uc.wallets.EstateWallet(ctx, estateID)
	if err != nil {
		return nil, err
	}
	credit, _, err := uc.ledger.Execute(ctx, TransactionInput{
		WalletID:       estate.ID,
		Type:           domain.TransactionTypeDeposit,
		Amount:         amount,
		IdempotencyKey: key,
		Description:    description,
		Metadata:       map[string]string{"acting_admin": admin},
	})
	if err != nil {
		return nil, err
	}
	return uc.append(ctx, &domain.ClusterWalletOperation{
		EstateWalletID:      estate.ID,
		EstateID:            estateID,
		Amount:              amount,
		Direction:           domain.DirectionCredit,
		Category:            domain.OperationManualCredit,
		SourceTransactionID: &credit.ID,
		WalletTransactionID: credit.ID,
		ActingAdmin:         &admin,
		Description:         description,
	})
}

func (uc *ClusterWalletUsecase) append(ctx context.Context, op *domain.ClusterWalletOperation) (*domain.ClusterWalletOperation, error) {
	op.ID = utils.GenerateID("cwo")
	op.CreatedAt = uc.clock.Now()
	stored, created, err := uc.opRepo.Append(ctx, op)
	observe("cluster.append", err)
	if err != nil {
		return nil, err
	}
	if created {
		uc.logger.Info("estate wallet operation recorded",
			zap.String("operation_id", stored.ID),
			zap.String("estate_id", stored.EstateID),
			zap.String("category", string(stored.Category)),
			zap.String("direction", string(stored.Direction)),
			zap.String("amount", stored.Amount.String()))
	}
	return stored, nil
}

func (uc *ClusterWalletUsecase) Operations(ctx context.Context, estateID string, limit, offset int) ([]*domain.ClusterWalletOperation, error) {
	estate, err := uc.wallets.EstateWallet(ctx, estateID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > domain.MaxPageSize {
		limit = domain.DefaultPageSize
	}
	return uc.opRepo.ListByWallet(ctx, estate.ID, nil, limit, offset)
}

// RevenueSummary totals bill revenue over the last days days.
func (uc *ClusterWalletUsecase) RevenueSummary(ctx context.Context, estateID string, days int) (*domain.RevenueSummary, error) {
	if days <= 0 {
		days = 30
	}
	estate, err := uc.wallets.EstateWallet(ctx, estateID)
	if err != nil {
		return nil, err
	}
	until := uc.clock.Now()
	since := until.Add(-time.Duration(days) * 24 * time.Hour)
	var ops []*domain.ClusterWalletOperation
	for offset := 0; ; offset += domain.MaxPageSize {
		batch, err := uc.opRepo.ListByWallet(ctx, estate.ID, &since, domain.MaxPageSize, offset)
		if err != nil {
			return nil, err
		}
		ops = append(ops, batch...)
		if len(batch) < domain.MaxPageSize {
			break
		}
	}
	s := &domain.RevenueSummary{
		EstateID:     estateID,
		WalletID:     estate.ID,
		Since:        since,
		Until:        until,
		TotalRevenue: decimal.Zero,
		ByBillType:   make(map[string]decimal.Decimal),
		Refunded:     decimal.Zero,
		Balance:      estate.Balance,
	}
	for _, op := range ops {
		billType := op.Metadata[domain.MetaBillType]
		switch op.Category {
		case domain.OperationBillPayment:
			s.TotalRevenue = s.TotalRevenue.Add(op.Amount)
			s.PaymentCount++
			s.ByBillType[billType] = s.ByBillType[billType].Add(op.Amount)
		case domain.OperationBillRefund:
			s.Refunded = s.Refunded.Add(op.Amount)
			s.ByBillType[billType] = s.ByBillType[billType].Sub(op.Amount)
		}
	}
	return s, nil
}
