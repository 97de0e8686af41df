package domain

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 9, 0, 0, 0, time.UTC)
}

func TestFrequencyNext(t *testing.T) {
	cases := []struct {
		name string
		f    Frequency
		from time.Time
		want time.Time
	}{
		{"daily", FrequencyDaily, date(2025, 1, 31), date(2025, 2, 1)},
		{"weekly", FrequencyWeekly, date(2025, 12, 29), date(2026, 1, 5)},
		{"monthly clamps to february", FrequencyMonthly, date(2025, 1, 31), date(2025, 2, 28)},
		{"monthly clamps to leap february", FrequencyMonthly, date(2024, 1, 31), date(2024, 2, 29)},
		{"monthly keeps day", FrequencyMonthly, date(2025, 3, 15), date(2025, 4, 15)},
		{"monthly crosses year", FrequencyMonthly, date(2025, 12, 31), date(2026, 1, 31)},
		{"quarterly clamps", FrequencyQuarterly, date(2025, 11, 30), date(2026, 2, 28)},
		{"yearly from leap day", FrequencyYearly, date(2024, 2, 29), date(2025, 2, 28)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.f.Next(tc.from))
		})
	}
}

func TestFrequencyNextAnchoredReturnsToAnchorDay(t *testing.T) {
	feb := FrequencyMonthly.NextAnchored(date(2025, 1, 31), 31)
	require.Equal(t, date(2025, 2, 28), feb)
	assert.Equal(t, date(2025, 3, 31), FrequencyMonthly.NextAnchored(feb, 31))
}

func newRecurring() *RecurringPayment {
	amt := decimal.NewFromInt(500)
	bill := "bill_1"
	return &RecurringPayment{
		ID:                "rp_1",
		UserID:            "u1",
		EstateID:          "e1",
		BillID:            &bill,
		Amount:            &amt,
		Frequency:         FrequencyMonthly,
		PaymentSource:     PaymentSourceWallet,
		StartDate:         date(2025, 1, 31),
		NextPaymentDate:   date(2025, 1, 31),
		Status:            RecurringStatusActive,
		MaxFailedAttempts: 3,
	}
}

func TestRecurringFailureCountingPausesOnThreshold(t *testing.T) {
	rp := newRecurring()
	now := date(2025, 2, 1)

	assert.False(t, rp.RecordFailure("insufficient funds", now))
	assert.False(t, rp.RecordFailure("insufficient funds", now))
	assert.Equal(t, RecurringStatusActive, rp.Status)
	assert.Equal(t, date(2025, 1, 31), rp.NextPaymentDate)

	assert.True(t, rp.RecordFailure("insufficient funds", now))
	assert.Equal(t, RecurringStatusPaused, rp.Status)
	assert.Equal(t, 3, rp.FailedAttempts)
	require.NotNil(t, rp.PausedReason)
}

func TestRecurringSuccessResetsCounterAndAdvances(t *testing.T) {
	rp := newRecurring()
	now := date(2025, 2, 1)
	rp.RecordFailure("gateway down", now)
	rp.RecordFailure("gateway down", now)

	rp.RecordSuccess(decimal.NewFromInt(500), now)

	assert.Equal(t, 0, rp.FailedAttempts)
	assert.Equal(t, 1, rp.TotalPayments)
	assert.Equal(t, date(2025, 2, 28), rp.NextPaymentDate)
	assert.Nil(t, rp.LastFailureReason)
	assert.True(t, rp.TotalAmountPaid.Equal(decimal.NewFromInt(500)))
}

func TestRecurringExpiresWhenNextDatePassesEndDate(t *testing.T) {
	rp := newRecurring()
	end := date(2025, 2, 15)
	rp.EndDate = &end

	rp.RecordSuccess(decimal.NewFromInt(500), date(2025, 1, 31))

	assert.Equal(t, RecurringStatusExpired, rp.Status)
}

func TestRecurringChargeKeyChangesOnlyAfterFailure(t *testing.T) {
	rp := newRecurring()
	k1 := rp.ChargeKey()
	assert.Equal(t, k1, rp.ChargeKey())

	rp.RecordFailure("gateway down", date(2025, 2, 1))
	k2 := rp.ChargeKey()
	assert.NotEqual(t, k1, k2)

	rp.RecordSuccess(decimal.NewFromInt(500), date(2025, 2, 1))
	assert.NotEqual(t, k2, rp.ChargeKey())
}

func TestRecurringManualTransitions(t *testing.T) {
	rp := newRecurring()
	now := date(2025, 2, 1)

	require.NoError(t, rp.Pause("travelling", now))
	assert.ErrorIs(t, rp.Pause("again", now), ErrInvalidTransition)

	rp.FailedAttempts = 2
	require.NoError(t, rp.Resume(now))
	assert.Equal(t, 0, rp.FailedAttempts)
	assert.Equal(t, RecurringStatusActive, rp.Status)

	require.NoError(t, rp.Cancel(now))
	assert.ErrorIs(t, rp.Resume(now), ErrInvalidTransition)
	assert.ErrorIs(t, rp.Cancel(now), ErrInvalidTransition)
}

func TestRecurringValidate(t *testing.T) {
	rp := newRecurring()
	require.NoError(t, rp.Validate())

	provider := "ikeja-electric"
	rp.UtilityProviderCode = &provider
	assert.ErrorIs(t, rp.Validate(), ErrValidation)

	rp = newRecurring()
	rp.Amount = nil
	assert.NoError(t, rp.Validate(), "bill targets charge the remaining amount")

	customer := "45012345678"
	rp = newRecurring()
	rp.BillID = nil
	rp.UtilityProviderCode = &provider
	rp.CustomerID = &customer
	require.NoError(t, rp.Validate())
	rp.Amount = nil
	assert.ErrorIs(t, rp.Validate(), ErrValidation)

	rp = newRecurring()
	rp.Frequency = "HOURLY"
	assert.ErrorIs(t, rp.Validate(), ErrValidation)
}
