package domain

import "errors"

// Payment errors
var (
	ErrInsufficientFunds       = errors.New("insufficient funds")
	ErrWalletNotActive         = errors.New("wallet is not active")
	ErrInvalidFreezeAmount     = errors.New("invalid freeze amount")
	ErrDuplicateIdempotencyKey = errors.New("duplicate idempotency key")
	ErrLimitExceeded           = errors.New("amount exceeds spending limit")
	ErrGatewayError            = errors.New("payment gateway error")
)

// Bill and dispute errors
var (
	ErrNotAuthorized          = errors.New("not authorized")
	ErrAlreadyPaid            = errors.New("bill already paid")
	ErrDuplicateActiveDispute = errors.New("an active dispute already exists for this bill")
	ErrBillNotPayable         = errors.New("bill is not payable")
	ErrBillCancelled          = errors.New("bill is cancelled")
)

// Generic
var (
	ErrValidation        = errors.New("validation error")
	ErrNotFound          = errors.New("not found")
	ErrInvalidTransition = errors.New("invalid status transition")
	ErrConflict          = errors.New("concurrent modification")
	ErrWalletExists      = errors.New("wallet already exists")
)
