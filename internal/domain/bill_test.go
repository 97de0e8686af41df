package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func strPtr(s string) *string { return &s }

func testBill(now time.Time) *Bill {
	return &Bill{
		ID:                     "bill_1",
		BillNumber:             "BILL-TEST0001",
		EstateID:               "e1",
		Category:               BillCategoryClusterManaged,
		Type:                   BillTypeSecurity,
		Title:                  "Security levy",
		Amount:                 decimal.NewFromInt(1000),
		DueDate:                now.Add(72 * time.Hour),
		AcknowledgmentRequired: true,
		AllowPaymentAfterDue:   true,
	}
}

func TestDeriveStatusPrecedence(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	b := testBill(now)
	ctx := BillContext{Payer: "u1", Now: now}
	assert.Equal(t, BillStatusPendingAcknowledgment, b.DeriveStatus(ctx))

	b.AcknowledgedBy = []string{"u1"}
	assert.Equal(t, BillStatusPending, b.DeriveStatus(ctx))

	b.PaidAmount = decimal.NewFromInt(400)
	assert.Equal(t, BillStatusPartiallyPaid, b.DeriveStatus(ctx))

	late := BillContext{Payer: "u1", Now: now.Add(96 * time.Hour)}
	assert.Equal(t, BillStatusOverdue, b.DeriveStatus(late))

	disputed := BillContext{Payer: "u1", Now: now, ActiveDispute: true}
	assert.Equal(t, BillStatusDisputed, b.DeriveStatus(disputed))

	b.PaidAmount = decimal.NewFromInt(1000)
	assert.Equal(t, BillStatusPaid, b.DeriveStatus(disputed))

	b.CancelledAt = &now
	assert.Equal(t, BillStatusCancelled, b.DeriveStatus(ctx))
}

func TestDeriveStatusEstateWideWithoutViewer(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	b := testBill(now)

	assert.Equal(t, BillStatusPendingAcknowledgment, b.DeriveStatus(BillContext{Now: now}))
	b.AcknowledgedBy = []string{"u2"}
	assert.Equal(t, BillStatusPending, b.DeriveStatus(BillContext{Now: now}))
	assert.Equal(t, BillStatusPendingAcknowledgment, b.DeriveStatus(BillContext{Payer: "u1", Now: now}))
}

func TestUtilityTypesSkipAcknowledgment(t *testing.T) {
	assert.False(t, BillTypeElectricityUtil.RequiresAcknowledgment())
	assert.True(t, BillTypeServiceCharge.RequiresAcknowledgment())

	now := time.Now()
	b := testBill(now)
	b.Type = BillTypeInternetUtil
	b.AcknowledgmentRequired = false
	assert.Equal(t, BillStatusPending, b.DeriveStatus(BillContext{Payer: "u1", Now: now}))
}

func TestCheckPayable(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("overdue bill blocks the authorized payer", func(t *testing.T) {
		b := testBill(now)
		b.Category = BillCategoryUserManaged
		b.UserID = strPtr("u1")
		b.AcknowledgedBy = []string{"u1"}
		b.DueDate = now.Add(-24 * time.Hour)
		b.AllowPaymentAfterDue = false

		assert.ErrorIs(t, b.CheckPayable("u1", true, BillContext{Now: now}), ErrBillNotPayable)

		b.AllowPaymentAfterDue = true
		assert.NoError(t, b.CheckPayable("u1", true, BillContext{Now: now}))
	})

	t.Run("targeted bill rejects other users", func(t *testing.T) {
		b := testBill(now)
		b.UserID = strPtr("u1")
		b.AcknowledgedBy = []string{"u1", "u2"}
		assert.ErrorIs(t, b.CheckPayable("u2", true, BillContext{Now: now}), ErrNotAuthorized)
	})

	t.Run("estate wide bill needs membership", func(t *testing.T) {
		b := testBill(now)
		b.AcknowledgedBy = []string{"u3"}
		assert.ErrorIs(t, b.CheckPayable("u3", false, BillContext{Now: now}), ErrNotAuthorized)
		assert.NoError(t, b.CheckPayable("u3", true, BillContext{Now: now}))
	})

	t.Run("dispute and acknowledgment gates", func(t *testing.T) {
		b := testBill(now)
		assert.ErrorIs(t, b.CheckPayable("u1", true, BillContext{Now: now}), ErrBillNotPayable)
		b.AcknowledgedBy = []string{"u1"}
		assert.ErrorIs(t, b.CheckPayable("u1", true, BillContext{Now: now, ActiveDispute: true}), ErrBillNotPayable)
	})

	t.Run("paid and cancelled", func(t *testing.T) {
		b := testBill(now)
		b.PaidAmount = b.Amount
		assert.ErrorIs(t, b.CheckPayable("u1", true, BillContext{Now: now}), ErrAlreadyPaid)
		b.CancelledAt = &now
		assert.ErrorIs(t, b.CheckPayable("u1", true, BillContext{Now: now}), ErrBillCancelled)
	})
}

func TestRemainingAmountNeverNegative(t *testing.T) {
	b := testBill(time.Now())
	b.PaidAmount = decimal.NewFromInt(1200)
	assert.True(t, b.RemainingAmount().IsZero())
}
