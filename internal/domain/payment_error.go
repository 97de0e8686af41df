package domain

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type PaymentErrorType string

const (
	PaymentErrorInsufficientFunds PaymentErrorType = "insufficient_funds"
	PaymentErrorAccountSuspended  PaymentErrorType = "account_suspended"
	PaymentErrorLimitExceeded     PaymentErrorType = "limit_exceeded"
	PaymentErrorProvider          PaymentErrorType = "provider_error"
	PaymentErrorTimeout           PaymentErrorType = "timeout_error"
	PaymentErrorValidation        PaymentErrorType = "validation_error"
	PaymentErrorInvalidCustomer   PaymentErrorType = "invalid_customer_id"
	PaymentErrorNotPayable        PaymentErrorType = "bill_not_payable"
	PaymentErrorUnknown           PaymentErrorType = "unknown_error"
)

type PaymentErrorSeverity string

const (
	SeverityLow      PaymentErrorSeverity = "low"
	SeverityMedium   PaymentErrorSeverity = "medium"
	SeverityHigh     PaymentErrorSeverity = "high"
	SeverityCritical PaymentErrorSeverity = "critical"
)

type paymentErrorProfile struct {
	sentinel    error
	severity    PaymentErrorSeverity
	canRetry    bool
	userMessage string
}

var paymentErrorProfiles = map[PaymentErrorType]paymentErrorProfile{
	PaymentErrorInsufficientFunds: {ErrInsufficientFunds, SeverityMedium, true, "Your wallet balance is too low for this payment. Fund your wallet and try again."},
	PaymentErrorAccountSuspended:  {ErrWalletNotActive, SeverityHigh, false, "Your wallet is not active. Contact your estate administrator."},
	PaymentErrorLimitExceeded:     {ErrLimitExceeded, SeverityLow, false, "The payment amount is above the spending limit you set."},
	PaymentErrorProvider:          {ErrGatewayError, SeverityHigh, true, "The payment provider could not process this payment. Please try again later."},
	PaymentErrorTimeout:           {ErrGatewayError, SeverityMedium, true, "The payment provider took too long to respond. We will confirm the payment status shortly."},
	PaymentErrorValidation:        {ErrValidation, SeverityLow, false, "Some payment details are invalid. Review them and try again."},
	PaymentErrorInvalidCustomer:   {ErrValidation, SeverityMedium, false, "The customer ID could not be verified with the utility provider."},
	PaymentErrorNotPayable:        {ErrBillNotPayable, SeverityLow, false, "This bill cannot be paid right now."},
	PaymentErrorUnknown:           {nil, SeverityHigh, true, "Something went wrong while processing your payment."},
}

func (t PaymentErrorType) profile() paymentErrorProfile {
	if p, ok := paymentErrorProfiles[t]; ok {
		return p
	}
	return paymentErrorProfiles[PaymentErrorUnknown]
}

func (t PaymentErrorType) Severity() PaymentErrorSeverity { return t.profile().severity }
func (t PaymentErrorType) CanRetry() bool                 { return t.profile().canRetry }
func (t PaymentErrorType) UserMessage() string            { return t.profile().userMessage }

// PaymentFailure is a classified payment error. It matches the sentinel for
// its type with errors.Is.
type PaymentFailure struct {
	Type   PaymentErrorType
	Reason string
}

func (f *PaymentFailure) Error() string {
	if f.Reason != "" {
		return f.Reason
	}
	return string(f.Type)
}

func (f *PaymentFailure) Is(target error) bool {
	s := f.Type.profile().sentinel
	return s != nil && target == s
}

// ClassifyError maps any error raised on a payment path to a PaymentErrorType.
func ClassifyError(err error) PaymentErrorType {
	var pf *PaymentFailure
	switch {
	case err == nil:
		return PaymentErrorUnknown
	case errors.As(err, &pf):
		return pf.Type
	case errors.Is(err, context.DeadlineExceeded):
		return PaymentErrorTimeout
	case errors.Is(err, ErrInsufficientFunds):
		return PaymentErrorInsufficientFunds
	case errors.Is(err, ErrWalletNotActive):
		return PaymentErrorAccountSuspended
	case errors.Is(err, ErrLimitExceeded):
		return PaymentErrorLimitExceeded
	case errors.Is(err, ErrGatewayError):
		return PaymentErrorProvider
	case errors.Is(err, ErrBillNotPayable), errors.Is(err, ErrAlreadyPaid),
		errors.Is(err, ErrBillCancelled), errors.Is(err, ErrNotAuthorized):
		return PaymentErrorNotPayable
	case errors.Is(err, ErrValidation):
		return PaymentErrorValidation
	}
	return PaymentErrorUnknown
}

// PaymentError is the audit record of a failed payment attempt.
type PaymentError struct {
	ID                 string               `json:"id" db:"id"`
	UserID             string               `json:"user_id" db:"user_id"`
	TransactionID      *string              `json:"transaction_id,omitempty" db:"transaction_id"`
	RecurringPaymentID *string              `json:"recurring_payment_id,omitempty" db:"recurring_payment_id"`
	BillID             *string              `json:"bill_id,omitempty" db:"bill_id"`
	Type               PaymentErrorType     `json:"error_type" db:"error_type"`
	Severity           PaymentErrorSeverity `json:"severity" db:"severity"`
	Message            string               `json:"message" db:"message"`
	UserMessage        string               `json:"user_friendly_message" db:"user_friendly_message"`
	CanRetry           bool                 `json:"can_retry" db:"can_retry"`
	Amount             decimal.Decimal      `json:"amount" db:"amount"`
	CreatedAt          time.Time            `json:"created_at" db:"created_at"`
}

// NewPaymentError classifies err and builds its audit record.
func NewPaymentError(id, userID string, amount decimal.Decimal, err error, at time.Time) *PaymentError {
	t := ClassifyError(err)
	msg := string(t)
	if err != nil {
		msg = err.Error()
	}
	return &PaymentError{
		ID:          id,
		UserID:      userID,
		Type:        t,
		Severity:    t.Severity(),
		Message:     msg,
		UserMessage: t.UserMessage(),
		CanRetry:    t.CanRetry(),
		Amount:      amount,
		CreatedAt:   at,
	}
}
