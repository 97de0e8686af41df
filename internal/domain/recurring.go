package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type Frequency string

const (
	FrequencyDaily     Frequency = "DAILY"
	FrequencyWeekly    Frequency = "WEEKLY"
	FrequencyMonthly   Frequency = "MONTHLY"
	FrequencyQuarterly Frequency = "QUARTERLY"
	FrequencyYearly    Frequency = "YEARLY"
)

func (f Frequency) Valid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyMonthly, FrequencyQuarterly, FrequencyYearly:
		return true
	}
	return false
}

// Next advances t by one interval. Calendar-month frequencies keep t's day of
// month, clamped to the length of the target month.
func (f Frequency) Next(t time.Time) time.Time {
	return f.NextAnchored(t, t.Day())
}

// NextAnchored is Next with an explicit preferred day of month, so a schedule
// that started on the 31st returns to the 31st after passing through February.
func (f Frequency) NextAnchored(t time.Time, anchorDay int) time.Time {
	switch f {
	case FrequencyDaily:
		return t.AddDate(0, 0, 1)
	case FrequencyWeekly:
		return t.AddDate(0, 0, 7)
	case FrequencyMonthly:
		return addMonthsClamped(t, 1, anchorDay)
	case FrequencyQuarterly:
		return addMonthsClamped(t, 3, anchorDay)
	case FrequencyYearly:
		return addMonthsClamped(t, 12, anchorDay)
	}
	return t
}

func addMonthsClamped(t time.Time, months, anchorDay int) time.Time {
	y, m, _ := t.Date()
	first := time.Date(y, m, 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location()).AddDate(0, months, 0)
	day := anchorDay
	if last := daysIn(first.Year(), first.Month(), t.Location()); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	return first.AddDate(0, 0, day-1)
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}

type RecurringStatus string

const (
	RecurringStatusActive    RecurringStatus = "ACTIVE"
	RecurringStatusPaused    RecurringStatus = "PAUSED"
	RecurringStatusCancelled RecurringStatus = "CANCELLED"
	RecurringStatusExpired   RecurringStatus = "EXPIRED"
)

// DefaultMaxFailedAttempts is applied when a recurring payment is created without one.
const DefaultMaxFailedAttempts = 3

type RecurringPayment struct {
	ID                  string            `json:"id" db:"id"`
	UserID              string            `json:"user_id" db:"user_id"`
	EstateID            string            `json:"estate_id" db:"estate_id"`
	WalletID            string            `json:"wallet_id" db:"wallet_id"`
	Title               string            `json:"title" db:"title"`
	Description         string            `json:"description,omitempty" db:"description"`
	BillID              *string           `json:"bill_id,omitempty" db:"bill_id"`
	UtilityProviderCode *string           `json:"utility_provider_code,omitempty" db:"utility_provider_code"`
	CustomerID          *string           `json:"customer_id,omitempty" db:"customer_id"`
	Amount              *decimal.Decimal  `json:"amount,omitempty" db:"amount"`
	SpendingLimit       *decimal.Decimal  `json:"spending_limit,omitempty" db:"spending_limit"`
	Currency            string            `json:"currency" db:"currency"`
	Frequency           Frequency         `json:"frequency" db:"frequency"`
	PaymentSource       PaymentSource     `json:"payment_source" db:"payment_source"`
	StartDate           time.Time         `json:"start_date" db:"start_date"`
	NextPaymentDate     time.Time         `json:"next_payment_date" db:"next_payment_date"`
	EndDate             *time.Time        `json:"end_date,omitempty" db:"end_date"`
	Status              RecurringStatus   `json:"status" db:"status"`
	FailedAttempts      int               `json:"failed_attempts" db:"failed_attempts"`
	MaxFailedAttempts   int               `json:"max_failed_attempts" db:"max_failed_attempts"`
	ChargeAttempts      int               `json:"-" db:"charge_attempts"`
	TotalPayments       int               `json:"total_payments" db:"total_payments"`
	TotalAmountPaid     decimal.Decimal   `json:"total_amount_paid" db:"total_amount_paid"`
	LastPaymentDate     *time.Time        `json:"last_payment_date,omitempty" db:"last_payment_date"`
	LastFailureReason   *string           `json:"last_failure_reason,omitempty" db:"last_failure_reason"`
	PausedReason        *string           `json:"paused_reason,omitempty" db:"paused_reason"`
	LastReminderAt      *time.Time        `json:"last_reminder_at,omitempty" db:"last_reminder_at"`
	Metadata            map[string]string `json:"metadata,omitempty" db:"metadata"`
	Version             int64             `json:"version" db:"version"`
	CreatedAt           time.Time         `json:"created_at" db:"created_at"`
	UpdatedAt           time.Time         `json:"updated_at" db:"updated_at"`
}

func (r *RecurringPayment) IsBillTarget() bool {
	return r.BillID != nil
}

func (r *RecurringPayment) IsUtilityTarget() bool {
	return r.UtilityProviderCode != nil
}

func (r *RecurringPayment) IsEnded(now time.Time) bool {
	return r.EndDate != nil && now.After(*r.EndDate)
}

// Validate checks the shape of a new recurring payment. A bill target
// without an amount pays whatever is left on the bill.
func (r *RecurringPayment) Validate() error {
	if r.UserID == "" || r.EstateID == "" {
		return fmt.Errorf("%w: user_id and estate_id are required", ErrValidation)
	}
	if r.IsBillTarget() == r.IsUtilityTarget() {
		return fmt.Errorf("%w: a recurring payment targets either a bill or a utility provider", ErrValidation)
	}
	if r.IsUtilityTarget() && (r.CustomerID == nil || *r.CustomerID == "") {
		return fmt.Errorf("%w: customer_id is required for utility payments", ErrValidation)
	}
	if r.IsUtilityTarget() && r.Amount == nil {
		return fmt.Errorf("%w: amount is required for utility payments", ErrValidation)
	}
	if r.Amount != nil {
		if err := ValidateAmount(*r.Amount); err != nil {
			return err
		}
	}
	if r.SpendingLimit != nil {
		if err := ValidateAmount(*r.SpendingLimit); err != nil {
			return err
		}
	}
	if !r.Frequency.Valid() {
		return fmt.Errorf("%w: unknown frequency %q", ErrValidation, r.Frequency)
	}
	if !r.PaymentSource.Valid() {
		return fmt.Errorf("%w: unknown payment source %q", ErrValidation, r.PaymentSource)
	}
	if r.StartDate.IsZero() {
		return fmt.Errorf("%w: start_date is required", ErrValidation)
	}
	if r.EndDate != nil && !r.EndDate.After(r.StartDate) {
		return fmt.Errorf("%w: end_date must be after start_date", ErrValidation)
	}
	if r.MaxFailedAttempts < 0 {
		return fmt.Errorf("%w: max_failed_attempts cannot be negative", ErrValidation)
	}
	return nil
}

// ChargeKey is the idempotency key of the charge for the current due date.
// ChargeAttempts only grows on recorded failures, so a tick that crashed after
// charging replays its charge while a retry after a failure charges afresh.
func (r *RecurringPayment) ChargeKey() string {
	return fmt.Sprintf("recurring:%s:%s:%d", r.ID, r.NextPaymentDate.UTC().Format(time.RFC3339), r.ChargeAttempts)
}

func (r *RecurringPayment) advance() {
	r.NextPaymentDate = r.Frequency.NextAnchored(r.NextPaymentDate, r.StartDate.Day())
	if r.EndDate != nil && r.NextPaymentDate.After(*r.EndDate) {
		r.Status = RecurringStatusExpired
	}
}

// RecordSuccess resets the failure counter and moves the schedule forward.
func (r *RecurringPayment) RecordSuccess(amount decimal.Decimal, at time.Time) {
	r.FailedAttempts = 0
	r.TotalPayments++
	r.TotalAmountPaid = r.TotalAmountPaid.Add(amount)
	r.LastPaymentDate = &at
	r.LastFailureReason = nil
	r.UpdatedAt = at
	r.advance()
}

// Skip moves the schedule forward without a charge, used when the target
// bill has nothing left to pay.
func (r *RecurringPayment) Skip(at time.Time) {
	r.FailedAttempts = 0
	r.UpdatedAt = at
	r.advance()
}

// RecordFailure counts a failed attempt and reports whether it paused the payment.
func (r *RecurringPayment) RecordFailure(reason string, at time.Time) bool {
	r.FailedAttempts++
	r.ChargeAttempts++
	r.LastFailureReason = &reason
	r.UpdatedAt = at
	if r.FailedAttempts >= r.MaxFailedAttempts {
		r.Status = RecurringStatusPaused
		paused := fmt.Sprintf("paused after %d failed attempts: %s", r.FailedAttempts, reason)
		r.PausedReason = &paused
		return true
	}
	return false
}

func (r *RecurringPayment) Expire(at time.Time) {
	r.Status = RecurringStatusExpired
	r.UpdatedAt = at
}

func (r *RecurringPayment) Pause(reason string, at time.Time) error {
	if r.Status != RecurringStatusActive {
		return fmt.Errorf("%w: cannot pause a %s recurring payment", ErrInvalidTransition, r.Status)
	}
	r.Status = RecurringStatusPaused
	r.PausedReason = &reason
	r.UpdatedAt = at
	return nil
}

// Resume reactivates a paused payment with a clean failure counter.
func (r *RecurringPayment) Resume(at time.Time) error {
	if r.Status != RecurringStatusPaused {
		return fmt.Errorf("%w: cannot resume a %s recurring payment", ErrInvalidTransition, r.Status)
	}
	r.Status = RecurringStatusActive
	r.FailedAttempts = 0
	r.PausedReason = nil
	r.UpdatedAt = at
	return nil
}

func (r *RecurringPayment) Cancel(at time.Time) error {
	if r.Status == RecurringStatusCancelled || r.Status == RecurringStatusExpired {
		return fmt.Errorf("%w: recurring payment is already %s", ErrInvalidTransition, r.Status)
	}
	r.Status = RecurringStatusCancelled
	r.UpdatedAt = at
	return nil
}

type RecurringFilter struct {
	UserID   string
	EstateID string
	Status   RecurringStatus
	Limit    int
	Offset   int
}

type RecurringSummary struct {
	UserID          string                  `json:"user_id"`
	Total           int                     `json:"total"`
	ByStatus        map[RecurringStatus]int `json:"by_status"`
	TotalAmountPaid decimal.Decimal         `json:"total_amount_paid"`
	NextPaymentDate *time.Time              `json:"next_payment_date,omitempty"`
}

// TickReport is the outcome of one scheduler pass.
type TickReport struct {
	Due       int      `json:"due"`
	Succeeded int      `json:"succeeded"`
	Failed    int      `json:"failed"`
	Paused    int      `json:"paused"`
	Expired   int      `json:"expired"`
	Skipped   int      `json:"skipped"`
	Pending   int      `json:"pending"`
	Errors    []string `json:"errors,omitempty"`
}
