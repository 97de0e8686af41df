package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type WalletStatus string

const (
	WalletStatusActive    WalletStatus = "ACTIVE"
	WalletStatusSuspended WalletStatus = "SUSPENDED"
	WalletStatusFrozen    WalletStatus = "FROZEN"
)

func (s WalletStatus) Valid() bool {
	switch s {
	case WalletStatusActive, WalletStatusSuspended, WalletStatusFrozen:
		return true
	}
	return false
}

// EstateWalletOwner is the owner reference of every estate (cluster) revenue wallet.
var EstateWalletOwner = uuid.Nil.String()

type Wallet struct {
	ID                string          `json:"id" db:"id"`
	OwnerID           string          `json:"owner_id" db:"owner_id"`
	EstateID          string          `json:"estate_id" db:"estate_id"`
	AccountNumber     string          `json:"account_number" db:"account_number"`
	Balance           decimal.Decimal `json:"balance" db:"balance"`
	FrozenAmount      decimal.Decimal `json:"frozen_amount" db:"frozen_amount"`
	Status            WalletStatus    `json:"status" db:"status"`
	Currency          string          `json:"currency" db:"currency"`
	PinHash           *string         `json:"-" db:"pin_hash"`
	LastTransactionAt *time.Time      `json:"last_transaction_at,omitempty" db:"last_transaction_at"`
	Version           int64           `json:"version" db:"version"`
	CreatedAt         time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at" db:"updated_at"`
}

// AvailableBalance is balance minus the frozen portion.
func (w *Wallet) AvailableBalance() decimal.Decimal {
	return w.Balance.Sub(w.FrozenAmount)
}

func (w *Wallet) IsPinSet() bool {
	return w.PinHash != nil && *w.PinHash != ""
}

func (w *Wallet) IsEstateWallet() bool {
	return w.OwnerID == EstateWalletOwner
}

// CheckDebit reports why a debit of amount cannot be applied, if it cannot.
func (w *Wallet) CheckDebit(amount decimal.Decimal) error {
	if w.Status != WalletStatusActive {
		return fmt.Errorf("%w: wallet %s is %s", ErrWalletNotActive, w.ID, w.Status)
	}
	if w.AvailableBalance().LessThan(amount) {
		return fmt.Errorf("%w: available %s, required %s", ErrInsufficientFunds, w.AvailableBalance().StringFixed(MoneyScale), amount.StringFixed(MoneyScale))
	}
	return nil
}

// CheckCredit only rejects suspended wallets; frozen wallets still receive funds.
func (w *Wallet) CheckCredit() error {
	if w.Status == WalletStatusSuspended {
		return fmt.Errorf("%w: wallet %s is suspended", ErrWalletNotActive, w.ID)
	}
	return nil
}

// WalletSummary is the balance view returned to wallet owners.
type WalletSummary struct {
	Wallet             *Wallet         `json:"wallet"`
	AvailableBalance   decimal.Decimal `json:"available_balance"`
	RecentTransactions []*Transaction  `json:"recent_transactions"`
}
