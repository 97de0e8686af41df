package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type TransactionType string

const (
	TransactionTypeDeposit     TransactionType = "DEPOSIT"
	TransactionTypeWithdrawal  TransactionType = "WITHDRAWAL"
	TransactionTypePayment     TransactionType = "PAYMENT"
	TransactionTypeBillPayment TransactionType = "BILL_PAYMENT"
	TransactionTypeRefund      TransactionType = "REFUND"
	TransactionTypeTransfer    TransactionType = "TRANSFER"
)

func (t TransactionType) Valid() bool {
	switch t {
	case TransactionTypeDeposit, TransactionTypeWithdrawal, TransactionTypePayment,
		TransactionTypeBillPayment, TransactionTypeRefund, TransactionTypeTransfer:
		return true
	}
	return false
}

type TransactionStatus string

const (
	TransactionStatusPending    TransactionStatus = "PENDING"
	TransactionStatusProcessing TransactionStatus = "PROCESSING"
	TransactionStatusCompleted  TransactionStatus = "COMPLETED"
	TransactionStatusFailed     TransactionStatus = "FAILED"
	TransactionStatusCancelled  TransactionStatus = "CANCELLED"
	TransactionStatusReversed   TransactionStatus = "REVERSED"
)

func (s TransactionStatus) IsTerminal() bool {
	switch s {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled, TransactionStatusReversed:
		return true
	}
	return false
}

var transactionTransitions = map[TransactionStatus][]TransactionStatus{
	TransactionStatusPending:    {TransactionStatusProcessing, TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled},
	TransactionStatusProcessing: {TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled},
	TransactionStatusCompleted:  {TransactionStatusReversed},
}

// CanTransition reports whether a transaction may move from one status to another.
func (s TransactionStatus) CanTransition(to TransactionStatus) bool {
	for _, next := range transactionTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// PaymentSource says where the money for a payment comes from.
type PaymentSource string

const (
	PaymentSourceWallet PaymentSource = "WALLET"
	PaymentSourceDirect PaymentSource = "DIRECT"
)

func (s PaymentSource) Valid() bool {
	return s == PaymentSourceWallet || s == PaymentSourceDirect
}

// Direction is the effect a completed transaction has on its wallet balance.
type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
	DirectionNone   Direction = "NONE"
)

// DirectionFor derives the wallet effect of a transaction type paid from a source.
// Outbound types paid directly through the gateway never touch the wallet.
func DirectionFor(t TransactionType, source PaymentSource) Direction {
	switch t {
	case TransactionTypeDeposit, TransactionTypeRefund:
		return DirectionCredit
	}
	if source == PaymentSourceDirect {
		return DirectionNone
	}
	return DirectionDebit
}

type Transaction struct {
	ID                 string            `json:"id" db:"id"`
	Reference          string            `json:"reference" db:"reference"`
	WalletID           string            `json:"wallet_id" db:"wallet_id"`
	Type               TransactionType   `json:"type" db:"type"`
	Amount             decimal.Decimal   `json:"amount" db:"amount"`
	Currency           string            `json:"currency" db:"currency"`
	Status             TransactionStatus `json:"status" db:"status"`
	Source             PaymentSource     `json:"source" db:"source"`
	Direction          Direction         `json:"direction" db:"direction"`
	IdempotencyKey     string            `json:"idempotency_key" db:"idempotency_key"`
	GatewayReference   *string           `json:"gateway_reference,omitempty" db:"gateway_reference"`
	BillID             *string           `json:"bill_id,omitempty" db:"bill_id"`
	RecurringPaymentID *string           `json:"recurring_payment_id,omitempty" db:"recurring_payment_id"`
	ReversalOf         *string           `json:"reversal_of,omitempty" db:"reversal_of"`
	Description        string            `json:"description,omitempty" db:"description"`
	Metadata           map[string]string `json:"metadata,omitempty" db:"metadata"`
	BalanceAfter       *decimal.Decimal  `json:"balance_after,omitempty" db:"balance_after"`
	FailureCode        *PaymentErrorType `json:"failure_code,omitempty" db:"failure_code"`
	FailureReason      *string           `json:"failure_reason,omitempty" db:"failure_reason"`
	CreatedAt          time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time         `json:"updated_at" db:"updated_at"`
	CompletedAt        *time.Time        `json:"completed_at,omitempty" db:"completed_at"`
	FailedAt           *time.Time        `json:"failed_at,omitempty" db:"failed_at"`
}

// MarkFailed sets the failure fields on an in-memory record.
func (t *Transaction) MarkFailed(code PaymentErrorType, reason string, at time.Time) {
	t.Status = TransactionStatusFailed
	t.FailureCode = &code
	t.FailureReason = &reason
	t.FailedAt = &at
	t.UpdatedAt = at
}

// MarkCompleted sets the completion fields on an in-memory record.
func (t *Transaction) MarkCompleted(balanceAfter *decimal.Decimal, at time.Time) {
	t.Status = TransactionStatusCompleted
	t.BalanceAfter = balanceAfter
	t.CompletedAt = &at
	t.UpdatedAt = at
}

// Err maps a failed transaction back to the error it failed with, so replays
// of a failed idempotency key surface the same rejection.
func (t *Transaction) Err() error {
	if t.Status != TransactionStatusFailed {
		return nil
	}
	reason := ""
	if t.FailureReason != nil {
		reason = *t.FailureReason
	}
	code := PaymentErrorUnknown
	if t.FailureCode != nil {
		code = *t.FailureCode
	}
	return &PaymentFailure{Type: code, Reason: reason}
}

// TransactionFilter narrows ledger queries. Zero values mean "any".
type TransactionFilter struct {
	WalletID string
	Type     TransactionType
	Status   TransactionStatus
	BillID   string
	From     *time.Time
	To       *time.Time
	Limit    int
	Offset   int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging values to sane bounds.
func (f *TransactionFilter) Normalize() {
	if f.Limit <= 0 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
	if f.Offset < 0 {
		f.Offset = 0
	}
}

// Matches reports whether t satisfies the filter, ignoring paging.
func (f TransactionFilter) Matches(t *Transaction) bool {
	if f.WalletID != "" && t.WalletID != f.WalletID {
		return false
	}
	if f.Type != "" && t.Type != f.Type {
		return false
	}
	if f.Status != "" && t.Status != f.Status {
		return false
	}
	if f.BillID != "" && (t.BillID == nil || *t.BillID != f.BillID) {
		return false
	}
	if f.From != nil && t.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && !t.CreatedAt.Before(*f.To) {
		return false
	}
	return true
}

type TransactionPage struct {
	Items  []*Transaction `json:"items"`
	Total  int            `json:"total"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}
