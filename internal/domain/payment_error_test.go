package domain

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	assert.Equal(t, PaymentErrorInsufficientFunds, ClassifyError(fmt.Errorf("debit: %w", ErrInsufficientFunds)))
	assert.Equal(t, PaymentErrorAccountSuspended, ClassifyError(ErrWalletNotActive))
	assert.Equal(t, PaymentErrorLimitExceeded, ClassifyError(ErrLimitExceeded))
	assert.Equal(t, PaymentErrorTimeout, ClassifyError(context.DeadlineExceeded))
	assert.Equal(t, PaymentErrorNotPayable, ClassifyError(ErrAlreadyPaid))
	assert.Equal(t, PaymentErrorInvalidCustomer, ClassifyError(&PaymentFailure{Type: PaymentErrorInvalidCustomer}))
	assert.Equal(t, PaymentErrorUnknown, ClassifyError(errors.New("boom")))
}

func TestPaymentFailureMatchesSentinel(t *testing.T) {
	err := &PaymentFailure{Type: PaymentErrorInsufficientFunds, Reason: "available 10.00, required 20.00"}
	assert.ErrorIs(t, err, ErrInsufficientFunds)
	assert.NotErrorIs(t, err, ErrWalletNotActive)
	assert.Equal(t, "available 10.00, required 20.00", err.Error())
}

func TestNewPaymentError(t *testing.T) {
	pe := NewPaymentError("perr_1", "u1", decimal.NewFromInt(20), ErrGatewayError, time.Now())
	assert.Equal(t, PaymentErrorProvider, pe.Type)
	assert.Equal(t, SeverityHigh, pe.Severity)
	assert.True(t, pe.CanRetry)
	assert.NotEmpty(t, pe.UserMessage)
}

func TestTransactionDirection(t *testing.T) {
	assert.Equal(t, DirectionCredit, DirectionFor(TransactionTypeDeposit, PaymentSourceDirect))
	assert.Equal(t, DirectionCredit, DirectionFor(TransactionTypeRefund, PaymentSourceWallet))
	assert.Equal(t, DirectionDebit, DirectionFor(TransactionTypeBillPayment, PaymentSourceWallet))
	assert.Equal(t, DirectionNone, DirectionFor(TransactionTypeBillPayment, PaymentSourceDirect))
}

func TestTransactionStatusTransitions(t *testing.T) {
	assert.True(t, TransactionStatusPending.CanTransition(TransactionStatusProcessing))
	assert.True(t, TransactionStatusCompleted.CanTransition(TransactionStatusReversed))
	assert.False(t, TransactionStatusFailed.CanTransition(TransactionStatusReversed))
	assert.False(t, TransactionStatusCompleted.CanTransition(TransactionStatusFailed))
}

func TestNormalizeCurrency(t *testing.T) {
	c, err := NormalizeCurrency("ngn")
	assert.NoError(t, err)
	assert.Equal(t, "NGN", c)

	c, err = NormalizeCurrency("")
	assert.NoError(t, err)
	assert.Equal(t, DefaultCurrency, c)

	_, err = NormalizeCurrency("XYZQ")
	assert.ErrorIs(t, err, ErrValidation)
}
