package domain

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

type BillCategory string

const (
	BillCategoryUserManaged    BillCategory = "USER_MANAGED"
	BillCategoryClusterManaged BillCategory = "CLUSTER_MANAGED"
)

func (c BillCategory) Valid() bool {
	return c == BillCategoryUserManaged || c == BillCategoryClusterManaged
}

type BillType string

const (
	BillTypeElectricity     BillType = "electricity"
	BillTypeWater           BillType = "water"
	BillTypeSecurity        BillType = "security"
	BillTypeMaintenance     BillType = "maintenance"
	BillTypeServiceCharge   BillType = "service_charge"
	BillTypeWasteManagement BillType = "waste_management"
	BillTypeRent            BillType = "rent"
	BillTypeElectricityUtil BillType = "electricity_utility"
	BillTypeWaterUtil       BillType = "water_utility"
	BillTypeInternetUtil    BillType = "internet_utility"
	BillTypeCableTVUtil     BillType = "cable_tv_utility"
	BillTypeOther           BillType = "other"
)

var billTypeAckRequired = map[BillType]bool{
	BillTypeElectricity:     true,
	BillTypeWater:           true,
	BillTypeSecurity:        true,
	BillTypeMaintenance:     true,
	BillTypeServiceCharge:   true,
	BillTypeWasteManagement: true,
	BillTypeRent:            true,
	BillTypeElectricityUtil: false,
	BillTypeWaterUtil:       false,
	BillTypeInternetUtil:    false,
	BillTypeCableTVUtil:     false,
	BillTypeOther:           true,
}

func (t BillType) Valid() bool {
	_, ok := billTypeAckRequired[t]
	return ok
}

// RequiresAcknowledgment is the default for bills of this type. Estate
// service charges need the payer's confirmation, direct utility purchases do not.
func (t BillType) RequiresAcknowledgment() bool {
	return billTypeAckRequired[t]
}

type BillStatus string

const (
	BillStatusPendingAcknowledgment BillStatus = "PENDING_ACKNOWLEDGMENT"
	BillStatusPending               BillStatus = "PENDING"
	BillStatusPartiallyPaid         BillStatus = "PARTIALLY_PAID"
	BillStatusPaid                  BillStatus = "PAID"
	BillStatusOverdue               BillStatus = "OVERDUE"
	BillStatusDisputed              BillStatus = "DISPUTED"
	BillStatusCancelled             BillStatus = "CANCELLED"
)

type Bill struct {
	ID                     string          `json:"id" db:"id"`
	BillNumber             string          `json:"bill_number" db:"bill_number"`
	EstateID               string          `json:"estate_id" db:"estate_id"`
	UserID                 *string         `json:"user_id,omitempty" db:"user_id"`
	Category               BillCategory    `json:"category" db:"category"`
	Type                   BillType        `json:"type" db:"type"`
	Title                  string          `json:"title" db:"title"`
	Description            string          `json:"description,omitempty" db:"description"`
	Amount                 decimal.Decimal `json:"amount" db:"amount"`
	Currency               string          `json:"currency" db:"currency"`
	DueDate                time.Time       `json:"due_date" db:"due_date"`
	AllowPaymentAfterDue   bool            `json:"allow_payment_after_due" db:"allow_payment_after_due"`
	AcknowledgmentRequired bool            `json:"acknowledgment_required" db:"acknowledgment_required"`
	PaidAmount             decimal.Decimal `json:"paid_amount" db:"paid_amount"`
	AcknowledgedBy         []string        `json:"acknowledged_by" db:"-"`
	UtilityProviderCode    *string         `json:"utility_provider_code,omitempty" db:"utility_provider_code"`
	CustomerID             *string         `json:"customer_id,omitempty" db:"customer_id"`
	CreatedBy              string          `json:"created_by" db:"created_by"`
	PaidAt                 *time.Time      `json:"paid_at,omitempty" db:"paid_at"`
	CancelledAt            *time.Time      `json:"cancelled_at,omitempty" db:"cancelled_at"`
	OverdueNotifiedAt      *time.Time      `json:"overdue_notified_at,omitempty" db:"overdue_notified_at"`
	LastReminderAt         *time.Time      `json:"last_reminder_at,omitempty" db:"last_reminder_at"`
	CreatedAt              time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt              time.Time       `json:"updated_at" db:"updated_at"`
}

func (b *Bill) IsEstateWide() bool {
	return b.UserID == nil
}

func (b *Bill) IsCancelled() bool {
	return b.CancelledAt != nil
}

func (b *Bill) IsFullyPaid() bool {
	return b.PaidAmount.GreaterThanOrEqual(b.Amount)
}

// RemainingAmount never goes below zero.
func (b *Bill) RemainingAmount() decimal.Decimal {
	r := b.Amount.Sub(b.PaidAmount)
	if r.IsNegative() {
		return decimal.Zero
	}
	return r
}

func (b *Bill) IsOverdue(now time.Time) bool {
	return now.After(b.DueDate) && !b.IsFullyPaid()
}

func (b *Bill) HasAcknowledged(user string) bool {
	for _, u := range b.AcknowledgedBy {
		if u == user {
			return true
		}
	}
	return false
}

// RelevantPayer is the user whose acknowledgment and disputes decide the
// bill's status: the viewer if given, otherwise the target user.
func (b *Bill) RelevantPayer(viewer string) string {
	if viewer != "" {
		return viewer
	}
	if b.UserID != nil {
		return *b.UserID
	}
	return ""
}

// acknowledgmentSatisfied treats an estate-wide bill with no specific payer
// as acknowledged once anyone has acknowledged it.
func (b *Bill) acknowledgmentSatisfied(payer string) bool {
	if !b.AcknowledgmentRequired {
		return true
	}
	if payer == "" {
		return len(b.AcknowledgedBy) > 0
	}
	return b.HasAcknowledged(payer)
}

// IsAuthorizedPayer: target user only, or any estate member for estate-wide bills.
func (b *Bill) IsAuthorizedPayer(user string, isEstateMember bool) bool {
	if user == "" {
		return false
	}
	if b.UserID != nil {
		return *b.UserID == user
	}
	return isEstateMember
}

// BillContext carries the facts a bill status depends on that do not live on the bill.
type BillContext struct {
	Payer         string
	ActiveDispute bool
	Now           time.Time
}

// DeriveStatus computes the bill status. Cancellation wins, then the
// paid/dispute/acknowledgment/due-date precedence.
func (b *Bill) DeriveStatus(c BillContext) BillStatus {
	switch {
	case b.IsCancelled():
		return BillStatusCancelled
	case b.IsFullyPaid():
		return BillStatusPaid
	case c.ActiveDispute:
		return BillStatusDisputed
	case !b.acknowledgmentSatisfied(c.Payer):
		return BillStatusPendingAcknowledgment
	case b.IsOverdue(c.Now):
		return BillStatusOverdue
	case b.PaidAmount.IsPositive():
		return BillStatusPartiallyPaid
	}
	return BillStatusPending
}

// CheckPayable returns nil when user may pay the bill now, otherwise the
// reason they may not.
func (b *Bill) CheckPayable(user string, isEstateMember bool, c BillContext) error {
	switch {
	case b.IsCancelled():
		return ErrBillCancelled
	case b.IsFullyPaid():
		return ErrAlreadyPaid
	case !b.IsAuthorizedPayer(user, isEstateMember):
		return fmt.Errorf("%w: user %s cannot pay bill %s", ErrNotAuthorized, user, b.BillNumber)
	case c.ActiveDispute:
		return fmt.Errorf("%w: bill %s has an active dispute", ErrBillNotPayable, b.BillNumber)
	case !b.acknowledgmentSatisfied(user):
		return fmt.Errorf("%w: bill %s must be acknowledged first", ErrBillNotPayable, b.BillNumber)
	case b.IsOverdue(c.Now) && !b.AllowPaymentAfterDue:
		return fmt.Errorf("%w: bill %s is overdue and no longer accepts payment", ErrBillNotPayable, b.BillNumber)
	}
	return nil
}

// Validate checks a bill before it is created.
func (b *Bill) Validate() error {
	if b.EstateID == "" {
		return fmt.Errorf("%w: estate_id is required", ErrValidation)
	}
	if !b.Category.Valid() {
		return fmt.Errorf("%w: unknown bill category %q", ErrValidation, b.Category)
	}
	if !b.Type.Valid() {
		return fmt.Errorf("%w: unknown bill type %q", ErrValidation, b.Type)
	}
	if err := ValidateAmount(b.Amount); err != nil {
		return err
	}
	if b.DueDate.IsZero() {
		return fmt.Errorf("%w: due_date is required", ErrValidation)
	}
	if b.Title == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if b.Category == BillCategoryUserManaged && b.UserID == nil {
		return fmt.Errorf("%w: user managed bills need a target user", ErrValidation)
	}
	return nil
}

// BillView is a bill together with its derived state for one viewer.
type BillView struct {
	*Bill
	Status          BillStatus      `json:"status"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	CanPay          bool            `json:"can_pay"`
}

type BillFilter struct {
	EstateID string
	UserID   string
	Category BillCategory
	Type     BillType
	Status   BillStatus
	Limit    int
	Offset   int
}

// BillSummary aggregates a user's bills within an estate.
type BillSummary struct {
	EstateID    string             `json:"estate_id"`
	UserID      string             `json:"user_id"`
	Total       int                `json:"total"`
	ByStatus    map[BillStatus]int `json:"by_status"`
	AmountDue   decimal.Decimal    `json:"amount_due"`
	OverdueDue  decimal.Decimal    `json:"overdue_amount"`
	NextDueDate *time.Time         `json:"next_due_date,omitempty"`
}
