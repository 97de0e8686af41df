package usecase

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const recentTransactionCount = 10

var pinPattern = regexp.MustCompile(`^[0-9]{4,6}$`)

type WalletUsecase struct {
	walletRepo      repository.WalletRepository
	ledger          *LedgerUsecase
	notifier        Notifier
	clock           Clock
	defaultCurrency string
	logger          *zap.Logger
}

func NewWalletUsecase(
	walletRepo repository.WalletRepository,
	ledger *LedgerUsecase,
	notifier Notifier,
	clock Clock,
	defaultCurrency string,
	logger *zap.Logger,
) *WalletUsecase {
	if notifier == nil {
		notifier = NopNotifier()
	}
	if defaultCurrency == "" {
		defaultCurrency = domain.DefaultCurrency
	}
	return &WalletUsecase{
		walletRepo:      walletRepo,
		ledger:          ledger,
		notifier:        notifier,
		clock:           clock,
		defaultCurrency: defaultCurrency,
		logger:          logger,
	}
}

// Provision returns the owner's wallet in the estate, creating it when it
// does not exist yet. Concurrent calls end up with the same wallet.
func (uc *WalletUsecase) Provision(ctx context.Context, ownerID, estateID, currency string) (*domain.Wallet, error) {
	if ownerID == "" || estateID == "" {
		return nil, fmt.Errorf("%w: owner_id and estate_id are required", domain.ErrValidation)
	}
	if w, err := uc.walletRepo.GetByOwner(ctx, ownerID, estateID); err == nil {
		return w, nil
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	if currency == "" {
		currency = uc.defaultCurrency
	}
	cur, err := domain.NormalizeCurrency(currency)
	if err != nil {
		return nil, err
	}
	now := uc.clock.Now()
	w := &domain.Wallet{
		ID:            utils.GenerateID("wal"),
		OwnerID:       ownerID,
		EstateID:      estateID,
		AccountNumber: utils.GenerateAccountNumber(),
		Balance:       decimal.Zero,
		FrozenAmount:  decimal.Zero,
		Status:        domain.WalletStatusActive,
		Currency:      cur,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := uc.walletRepo.Create(ctx, w); err != nil {
		if errors.Is(err, domain.ErrWalletExists) {
			return uc.walletRepo.GetByOwner(ctx, ownerID, estateID)
		}
		return nil, err
	}
	uc.logger.Info("wallet provisioned",
		zap.String("wallet_id", w.ID),
		zap.String("owner_id", ownerID),
		zap.String("estate_id", estateID))
	return w, nil
}

// EstateWallet returns the estate's own wallet, provisioning it on first use.
func (uc *WalletUsecase) EstateWallet(ctx context.Context, estateID string) (*domain.Wallet, error) {
	return uc.Provision(ctx, domain.EstateWalletOwner, estateID, "")
}

func (uc *WalletUsecase) Get(ctx context.Context, id string) (*domain.Wallet, error) {
	return uc.walletRepo.GetByID(ctx, id)
}

func (uc *WalletUsecase) GetForOwner(ctx context.Context, ownerID, estateID string) (*domain.Wallet, error) {
	return uc.walletRepo.GetByOwner(ctx, ownerID, estateID)
}

func (uc *WalletUsecase) ListForOwner(ctx context.Context, ownerID string) ([]*domain.Wallet, error) {
	return uc.walletRepo.ListByOwner(ctx, ownerID)
}

// IsEstateMember: a user belongs to an estate when they hold a wallet in it.
func (uc *WalletUsecase) IsEstateMember(ctx context.Context, userID, estateID string) (bool, error) {
	_, err := uc.walletRepo.GetByOwner(ctx, userID, estateID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, domain.ErrNotFound) {
		return false, nil
	}
	return false, err
}

func (uc *WalletUsecase) Debit(ctx context.Context, walletID string, amount decimal.Decimal, key, description string) (*domain.Transaction, error) {
	t, _, err := uc.ledger.Execute(ctx, TransactionInput{
		WalletID:       walletID,
		Type:           domain.TransactionTypeWithdrawal,
		Amount:         amount,
		IdempotencyKey: key,
		Description:    description,
	})
	return t, err
}

func (uc *WalletUsecase) Credit(ctx context.Context, walletID string, amount decimal.Decimal, key, description string) (*domain.Transaction, error) {
	t, _, err := uc.ledger.Execute(ctx, TransactionInput{
		WalletID:       walletID,
		Type:           domain.TransactionTypeDeposit,
		Amount:         amount,
		IdempotencyKey: key,
		Description:    description,
	})
	return t, err
}

func (uc *WalletUsecase) Freeze(ctx context.Context, walletID string, amount decimal.Decimal) (*domain.Wallet, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	w, err := uc.walletRepo.Freeze(ctx, walletID, amount, uc.clock.Now())
	observe("wallet.freeze", err)
	return w, err
}

func (uc *WalletUsecase) Unfreeze(ctx context.Context, walletID string, amount decimal.Decimal) (*domain.Wallet, error) {
	if err := domain.ValidateAmount(amount); err != nil {
		return nil, err
	}
	w, err := uc.walletRepo.Unfreeze(ctx, walletID, amount, uc.clock.Now())
	observe("wallet.unfreeze", err)
	return w, err
}

func (uc *WalletUsecase) SetStatus(ctx context.Context, walletID string, status domain.WalletStatus, actor string) (*domain.Wallet, error) {
	if !status.Valid() {
		return nil, fmt.Errorf("%w: unknown wallet status %q", domain.ErrValidation, status)
	}
	w, err := uc.walletRepo.SetStatus(ctx, walletID, status, uc.clock.Now())
	if err != nil {
		return nil, err
	}
	uc.logger.Info("wallet status changed",
		zap.String("wallet_id", walletID),
		zap.String("status", string(status)),
		zap.String("actor", actor))
	if !w.IsEstateWallet() {
		uc.notifier.Notify(ctx, domain.EventWalletStatusChanged, []string{w.OwnerID}, map[string]string{
			"wallet_id":      w.ID,
			"account_number": w.AccountNumber,
			"status":         string(w.Status),
		})
	}
	return w, nil
}

func (uc *WalletUsecase) SetPin(ctx context.Context, walletID, ownerID, pin string) error {
	if !pinPattern.MatchString(pin) {
		return fmt.Errorf("%w: pin must be 4 to 6 digits", domain.ErrValidation)
	}
	w, err := uc.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return err
	}
	if w.OwnerID != ownerID {
		return domain.ErrNotAuthorized
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(pin), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash pin: %w", err)
	}
	return uc.walletRepo.SetPin(ctx, walletID, string(hash), uc.clock.Now())
}

// VerifyPin fails with ErrNotAuthorized when pin does not match. A wallet
// without a PIN never matches.
func (uc *WalletUsecase) VerifyPin(ctx context.Context, walletID, pin string) error {
	w, err := uc.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return err
	}
	if !w.IsPinSet() {
		return fmt.Errorf("%w: wallet %s has no pin", domain.ErrNotAuthorized, walletID)
	}
	err = bcrypt.CompareHashAndPassword([]byte(*w.PinHash), []byte(pin))
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return fmt.Errorf("%w: pin mismatch", domain.ErrNotAuthorized)
	}
	return err
}

// Summary is the wallet with its available balance and latest transactions.
func (uc *WalletUsecase) Summary(ctx context.Context, walletID string) (*domain.WalletSummary, error) {
	w, err := uc.walletRepo.GetByID(ctx, walletID)
	if err != nil {
		return nil, err
	}
	page, err := uc.ledger.List(ctx, domain.TransactionFilter{WalletID: walletID, Limit: recentTransactionCount})
	if err != nil {
		return nil, err
	}
	return &domain.WalletSummary{
		Wallet:             w,
		AvailableBalance:   w.AvailableBalance(),
		RecentTransactions: page.Items,
	}, nil
}
