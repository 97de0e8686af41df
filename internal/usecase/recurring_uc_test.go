package usecase

import (
	"context"
	"fmt"
	"testing"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) billRecurring(t *testing.T, user string, billID string, amount *decimal.Decimal) *domain.RecurringPayment {
	t.Helper()
	rp, err := h.recurring.Create(context.Background(), CreateRecurringInput{
		UserID:    user,
		EstateID:  testEstate,
		BillID:    &billID,
		Amount:    amount,
		Frequency: domain.FrequencyMonthly,
	})
	require.NoError(t, err)
	return rp
}

func (h *harness) utilityRecurring(t *testing.T, user string, amount int64, source domain.PaymentSource) *domain.RecurringPayment {
	t.Helper()
	code, customer := "ikeja-electric", "45012345678"
	rp, err := h.recurring.Create(context.Background(), CreateRecurringInput{
		UserID:              user,
		EstateID:            testEstate,
		Title:               "Prepaid meter",
		UtilityProviderCode: &code,
		CustomerID:          &customer,
		Amount:              amt(amount),
		Frequency:           domain.FrequencyWeekly,
		PaymentSource:       source,
	})
	require.NoError(t, err)
	return rp
}

func (h *harness) tick(t *testing.T) *domain.TickReport {
	t.Helper()
	report, err := h.recurring.Tick(context.Background())
	require.NoError(t, err)
	return report
}

func (h *harness) reload(t *testing.T, id string) *domain.RecurringPayment {
	t.Helper()
	rp, err := h.recurring.Get(context.Background(), id)
	require.NoError(t, err)
	return rp
}

func TestRecurringBillPaymentAdvancesSchedule(t *testing.T) {
	h := newHarness(t)
	w := h.fund(t, "user-1", 1000)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.billRecurring(t, "user-1", b.ID, amt(250))
	start := rp.NextPaymentDate

	report := h.tick(t)
	assert.Equal(t, 1, report.Due)
	assert.Equal(t, 1, report.Succeeded)

	got := h.reload(t, rp.ID)
	assert.Equal(t, 1, got.TotalPayments)
	assert.True(t, dec(250).Equal(got.TotalAmountPaid))
	assert.Equal(t, start.AddDate(0, 1, 0), got.NextPaymentDate)
	assert.True(t, dec(750).Equal(h.balance(t, w.ID)))

	// Not due again until next month.
	report = h.tick(t)
	assert.Equal(t, 0, report.Due)
}

func TestRecurringMonthlyRolloverClamps(t *testing.T) {
	h := newHarness(t)
	h.clock.Set(time.Date(2025, 1, 31, 10, 0, 0, 0, time.UTC))
	h.fund(t, "user-1", 10000)
	b := h.createBill(t, 5000, forUser("user-1"), noAck())
	rp := h.billRecurring(t, "user-1", b.ID, amt(100))

	h.tick(t)
	got := h.reload(t, rp.ID)
	assert.Equal(t, time.Date(2025, 2, 28, 10, 0, 0, 0, time.UTC), got.NextPaymentDate)

	h.clock.Set(got.NextPaymentDate)
	h.tick(t)
	got = h.reload(t, rp.ID)
	assert.Equal(t, time.Date(2025, 3, 31, 10, 0, 0, 0, time.UTC), got.NextPaymentDate)
}

func TestRecurringAutoPausesOnThirdFailure(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.billRecurring(t, "user-1", b.ID, amt(100))

	for i := 1; i <= 2; i++ {
		report := h.tick(t)
		assert.Equal(t, 1, report.Failed)
		got := h.reload(t, rp.ID)
		assert.Equal(t, domain.RecurringStatusActive, got.Status)
		assert.Equal(t, i, got.FailedAttempts)
		assert.Equal(t, rp.NextPaymentDate, got.NextPaymentDate)
		require.NotNil(t, got.LastFailureReason)
	}

	report := h.tick(t)
	assert.Equal(t, 1, report.Paused)
	got := h.reload(t, rp.ID)
	assert.Equal(t, domain.RecurringStatusPaused, got.Status)
	assert.Equal(t, 3, got.FailedAttempts)
	require.NotNil(t, got.PausedReason)

	assert.Equal(t, 1, h.notifier.count(domain.EventRecurringPaused))
	assert.Equal(t, 3, h.notifier.count(domain.EventPaymentFailed))

	// Paused payments are not due.
	assert.Equal(t, 0, h.tick(t).Due)

	errs, err := h.ledger.ListPaymentErrors(context.Background(), "user-1", 10)
	require.NoError(t, err)
	assert.Len(t, errs, 3)
}

func TestRecurringSuccessResetsFailures(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.billRecurring(t, "user-1", b.ID, amt(100))

	h.tick(t)
	h.tick(t)
	require.Equal(t, 2, h.reload(t, rp.ID).FailedAttempts)

	_, err := h.wallets.Credit(ctx, w.ID, dec(500), "topup", "")
	require.NoError(t, err)
	report := h.tick(t)
	assert.Equal(t, 1, report.Succeeded)

	got := h.reload(t, rp.ID)
	assert.Equal(t, 0, got.FailedAttempts)
	assert.Equal(t, domain.RecurringStatusActive, got.Status)
	assert.Nil(t, got.LastFailureReason)
	assert.True(t, dec(400).Equal(h.balance(t, w.ID)))
}

func TestResumeResetsFailedAttempts(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.billRecurring(t, "user-1", b.ID, amt(100))
	for i := 0; i < 3; i++ {
		h.tick(t)
	}
	require.Equal(t, domain.RecurringStatusPaused, h.reload(t, rp.ID).Status)

	_, err := h.recurring.Resume(ctx, rp.ID, "user-2")
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	resumed, err := h.recurring.Resume(ctx, rp.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringStatusActive, resumed.Status)
	assert.Equal(t, 0, resumed.FailedAttempts)

	cancelled, err := h.recurring.Cancel(ctx, rp.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.RecurringStatusCancelled, cancelled.Status)
	_, err = h.recurring.Pause(ctx, rp.ID, "user-1", "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
}

func TestRecurringSkipsPaidBill(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 2000)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.billRecurring(t, "user-1", b.ID, amt(1000))

	_, err := h.bills.Pay(ctx, PayBillInput{BillID: b.ID, UserID: "user-1", IdempotencyKey: "manual"})
	require.NoError(t, err)

	report := h.tick(t)
	assert.Equal(t, 1, report.Skipped)
	got := h.reload(t, rp.ID)
	assert.Equal(t, 0, got.TotalPayments)
	assert.True(t, got.NextPaymentDate.After(rp.NextPaymentDate))
	assert.True(t, dec(1000).Equal(h.balance(t, w.ID)))
}

func TestRecurringSpendingLimit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 5000)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	billID := b.ID
	rp, err := h.recurring.Create(ctx, CreateRecurringInput{
		UserID:        "user-1",
		EstateID:      testEstate,
		BillID:        &billID,
		SpendingLimit: amt(500),
		Frequency:     domain.FrequencyMonthly,
	})
	require.NoError(t, err)

	report := h.tick(t)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, dec(5000).Equal(h.balance(t, w.ID)))

	errs, err := h.ledger.ListPaymentErrors(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.PaymentErrorLimitExceeded, errs[0].Type)
	require.NotNil(t, errs[0].RecurringPaymentID)
	assert.Equal(t, rp.ID, *errs[0].RecurringPaymentID)
}

func TestRecurringExpiresAfterEndDate(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 5000)
	b := h.createBill(t, 3000, forUser("user-1"), noAck())
	billID := b.ID
	end := h.clock.Now().Add(45 * 24 * time.Hour)
	rp, err := h.recurring.Create(ctx, CreateRecurringInput{
		UserID:    "user-1",
		EstateID:  testEstate,
		BillID:    &billID,
		Amount:    amt(100),
		Frequency: domain.FrequencyMonthly,
		EndDate:   &end,
	})
	require.NoError(t, err)

	h.tick(t)
	assert.Equal(t, domain.RecurringStatusActive, h.reload(t, rp.ID).Status)

	h.clock.Set(h.reload(t, rp.ID).NextPaymentDate)
	h.tick(t)
	got := h.reload(t, rp.ID)
	assert.Equal(t, domain.RecurringStatusExpired, got.Status)
	assert.Equal(t, 2, got.TotalPayments)
	assert.Equal(t, 1, h.notifier.count(domain.EventRecurringExpired))
}

func TestRecurringReplaysChargeAfterCrash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 1000)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.billRecurring(t, "user-1", b.ID, amt(300))

	// A previous tick charged but died before saving the schedule.
	_, err := h.bills.Pay(ctx, PayBillInput{
		BillID:             b.ID,
		UserID:             "user-1",
		Amount:             amt(300),
		IdempotencyKey:     rp.ChargeKey(),
		RecurringPaymentID: &rp.ID,
	})
	require.NoError(t, err)

	report := h.tick(t)
	assert.Equal(t, 1, report.Succeeded)
	assert.True(t, dec(700).Equal(h.balance(t, w.ID)))
	assert.Equal(t, 1, h.reload(t, rp.ID).TotalPayments)
}

func TestTickIsolatesBrokenItems(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 1000)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	good := h.billRecurring(t, "user-1", b.ID, amt(100))

	missing := "bill_missing"
	broken := &domain.RecurringPayment{
		ID:                "rcp_broken",
		UserID:            "user-1",
		EstateID:          testEstate,
		WalletID:          w.ID,
		Title:             "orphan",
		BillID:            &missing,
		Amount:            amt(100),
		Currency:          "NGN",
		Frequency:         domain.FrequencyMonthly,
		PaymentSource:     domain.PaymentSourceWallet,
		StartDate:         h.clock.Now(),
		NextPaymentDate:   h.clock.Now(),
		Status:            domain.RecurringStatusActive,
		MaxFailedAttempts: 3,
		TotalAmountPaid:   decimal.Zero,
		Version:           1,
		CreatedAt:         h.clock.Now(),
		UpdatedAt:         h.clock.Now(),
	}
	require.NoError(t, h.store.Recurring.Create(ctx, broken))

	report := h.tick(t)
	assert.Equal(t, 2, report.Due)
	assert.Equal(t, 1, report.Succeeded)
	require.Len(t, report.Errors, 1)
	assert.Contains(t, report.Errors[0], "rcp_broken")

	// Infrastructure errors are not counted as payment failures.
	assert.Equal(t, 0, h.reload(t, broken.ID).FailedAttempts)
	assert.Equal(t, 1, h.reload(t, good.ID).TotalPayments)
}

func TestRecurringUtilityPurchase(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 1000)
	rp := h.utilityRecurring(t, "user-1", 400, domain.PaymentSourceWallet)

	report := h.tick(t)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, h.utility.purchaseCount())
	assert.True(t, dec(600).Equal(h.balance(t, w.ID)))

	page, err := h.ledger.List(ctx, domain.TransactionFilter{WalletID: w.ID, Type: domain.TransactionTypePayment})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	txn := page.Items[0]
	require.NotNil(t, txn.GatewayReference)
	assert.Equal(t, "VND-"+txn.Reference, *txn.GatewayReference)
	require.NotNil(t, txn.RecurringPaymentID)
	assert.Equal(t, rp.ID, *txn.RecurringPaymentID)
}

func TestRecurringUtilityRejectionRefunds(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 1000)
	rp := h.utilityRecurring(t, "user-1", 400, domain.PaymentSourceWallet)
	h.utility.purchaseErr = fmt.Errorf("%w: meter locked", domain.ErrGatewayError)

	report := h.tick(t)
	assert.Equal(t, 1, report.Failed)
	assert.True(t, dec(1000).Equal(h.balance(t, w.ID)))
	assert.Equal(t, 1, h.reload(t, rp.ID).FailedAttempts)

	errs, err := h.ledger.ListPaymentErrors(ctx, "user-1", 10)
	require.NoError(t, err)
	require.Len(t, errs, 1)
	assert.Equal(t, domain.PaymentErrorProvider, errs[0].Type)
}

func TestRecurringUtilityInvalidCustomer(t *testing.T) {
	h := newHarness(t)
	h.fund(t, "user-1", 1000)
	rp := h.utilityRecurring(t, "user-1", 400, domain.PaymentSourceWallet)
	h.utility.valid = false

	report := h.tick(t)
	assert.Equal(t, 1, report.Failed)
	got := h.reload(t, rp.ID)
	require.NotNil(t, got.LastFailureReason)
	assert.Equal(t, 0, h.utility.purchaseCount())
}

func TestCreateRecurringValidation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 0)
	h.fund(t, "user-2", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	billID := b.ID

	_, err := h.recurring.Create(ctx, CreateRecurringInput{
		UserID: "user-2", EstateID: testEstate, BillID: &billID, Amount: amt(10), Frequency: domain.FrequencyMonthly,
	})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	rp, err := h.recurring.Create(ctx, CreateRecurringInput{
		UserID: "user-1", EstateID: testEstate, BillID: &billID, Frequency: domain.FrequencyMonthly,
	})
	require.NoError(t, err)
	assert.Nil(t, rp.Amount)

	_, err = h.recurring.Create(ctx, CreateRecurringInput{
		UserID: "nobody", EstateID: testEstate, BillID: &billID, Amount: amt(10), Frequency: domain.FrequencyMonthly,
	})
	assert.ErrorIs(t, err, domain.ErrNotAuthorized)

	h.utility.valid = false
	code, customer := "aedc", "000"
	_, err = h.recurring.Create(ctx, CreateRecurringInput{
		UserID: "user-1", EstateID: testEstate, UtilityProviderCode: &code, CustomerID: &customer,
		Amount: amt(10), Frequency: domain.FrequencyWeekly,
	})
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestRecurringRemindersAndSummary(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 1000)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.billRecurring(t, "user-1", b.ID, amt(100))
	h.tick(t)

	next := h.reload(t, rp.ID).NextPaymentDate
	h.clock.Set(next.Add(-48 * time.Hour))
	n, err := h.recurring.SendReminders(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	n, err = h.recurring.SendReminders(ctx, 72*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	s, err := h.recurring.Summary(ctx, "user-1")
	require.NoError(t, err)
	assert.Equal(t, 1, s.Total)
	assert.Equal(t, 1, s.ByStatus[domain.RecurringStatusActive])
	assert.True(t, dec(100).Equal(s.TotalAmountPaid))
	require.NotNil(t, s.NextPaymentDate)
	assert.Equal(t, next, *s.NextPaymentDate)
}
