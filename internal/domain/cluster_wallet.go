package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type OperationCategory string

const (
	OperationBillPayment  OperationCategory = "bill_payment"
	OperationBillRefund   OperationCategory = "bill_refund"
	OperationManualCredit OperationCategory = "manual_credit"
	OperationTransfer     OperationCategory = "transfer"
)

// ClusterWalletOperation is the append-only audit entry for every movement
// on an estate wallet.
type ClusterWalletOperation struct {
	ID                  string            `json:"id" db:"id"`
	EstateWalletID      string            `json:"estate_wallet_id" db:"estate_wallet_id"`
	EstateID            string            `json:"estate_id" db:"estate_id"`
	Amount              decimal.Decimal   `json:"amount" db:"amount"`
	Direction           Direction         `json:"direction" db:"direction"`
	Category            OperationCategory `json:"category" db:"category"`
	SourceTransactionID *string           `json:"source_transaction_id,omitempty" db:"source_transaction_id"`
	WalletTransactionID string            `json:"wallet_transaction_id" db:"wallet_transaction_id"`
	ActingAdmin         *string           `json:"acting_admin,omitempty" db:"acting_admin"`
	Description         string            `json:"description,omitempty" db:"description"`
	Metadata            map[string]string `json:"metadata,omitempty" db:"metadata"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
}

// Metadata keys used on transactions and estate operations.
const (
	MetaBillID          = "bill_id"
	MetaBillType        = "bill_type"
	MetaBillNumber      = "bill_number"
	MetaPayerID         = "payer_id"
	MetaUtilityProvider = "utility_provider"
	MetaCustomerID      = "customer_id"
)

// RevenueSummary reports estate income from bill payments over a window.
type RevenueSummary struct {
	EstateID     string                     `json:"estate_id"`
	WalletID     string                     `json:"wallet_id"`
	Since        time.Time                  `json:"since"`
	Until        time.Time                  `json:"until"`
	TotalRevenue decimal.Decimal            `json:"total_revenue"`
	PaymentCount int                        `json:"payment_count"`
	ByBillType   map[string]decimal.Decimal `json:"by_bill_type"`
	Refunded     decimal.Decimal            `json:"refunded"`
	Balance      decimal.Decimal            `json:"balance"`
}

// TransferRequest moves money out of an estate wallet. Exactly one of
// DestinationWalletID and DestinationAccount is set.
type TransferRequest struct {
	EstateWalletID      string          `json:"estate_wallet_id"`
	DestinationWalletID string          `json:"destination_wallet_id,omitempty"`
	DestinationAccount  string          `json:"destination_account,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	ActingAdmin         string          `json:"acting_admin"`
	Description         string          `json:"description,omitempty"`
	IdempotencyKey      string          `json:"idempotency_key"`
}
