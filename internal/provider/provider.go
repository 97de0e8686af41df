// Package provider holds the ports to external money movers: the card
// payment gateway and utility bill vendors.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
)

type CheckoutRequest struct {
	Reference   string
	Email       string
	Amount      decimal.Decimal
	Currency    string
	CallbackURL string
	Metadata    map[string]string
}

// CheckoutSession is what the payer is redirected to.
type CheckoutSession struct {
	RedirectURL string
	Reference   string
	AccessCode  string
}

type VerificationStatus string

const (
	VerificationSuccess VerificationStatus = "success"
	VerificationFailed  VerificationStatus = "failed"
	VerificationPending VerificationStatus = "pending"
)

type Verification struct {
	Reference       string
	Status          VerificationStatus
	Amount          decimal.Decimal
	Currency        string
	GatewayResponse string
	PaidAt          *time.Time
}

// PaymentGateway starts and confirms card payments.
type PaymentGateway interface {
	Initialize(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error)
	Verify(ctx context.Context, reference string) (*Verification, error)
}

type PurchaseRequest struct {
	ProviderCode string
	CustomerID   string
	Amount       decimal.Decimal
	Reference    string
}

type PurchaseResult struct {
	Reference string
	Token     string
	Status    string
}

// UtilityProvider validates customer numbers and buys utility units.
type UtilityProvider interface {
	ValidateCustomer(ctx context.Context, providerCode, customerID string) (bool, error)
	Purchase(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error)
}

// WrapError tags a transport or provider error so payment code can classify
// it: deadlines stay timeouts, everything else becomes a gateway error.
func WrapError(call string, err error) error {
	if err == nil {
		return nil
	}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return fmt.Errorf("%s: %w: %w", call, context.DeadlineExceeded, domain.ErrGatewayError)
	}
	if errors.Is(err, domain.ErrGatewayError) {
		return fmt.Errorf("%s: %w", call, err)
	}
	return fmt.Errorf("%s: %w: %v", call, domain.ErrGatewayError, err)
}

// IsTimeout reports whether err left the outcome of a provider call unknown.
func IsTimeout(err error) bool {
	return errors.Is(err, context.DeadlineExceeded)
}
