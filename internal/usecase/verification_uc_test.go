package usecase

import (
	"context"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func (h *harness) startDirect(t *testing.T, b *domain.Bill, user, key string) *domain.Transaction {
	t.Helper()
	res, err := h.bills.Pay(context.Background(), PayBillInput{
		BillID:         b.ID,
		UserID:         user,
		Source:         domain.PaymentSourceDirect,
		IdempotencyKey: key,
	})
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusProcessing, res.Transaction.Status)
	return res.Transaction
}

func TestWebhookCompletesDirectPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	txn := h.startDirect(t, b, "user-1", "direct")

	h.gateway.settle(txn.Reference, provider.VerificationSuccess, dec(1000))
	got, err := h.verification.HandleWebhook(ctx, txn.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, got.Status)
	assert.Equal(t, 1, h.notifier.count(domain.EventPaymentSucceeded))

	// A repeated webhook changes nothing.
	again, err := h.verification.HandleWebhook(ctx, txn.Reference)
	require.NoError(t, err)
	assert.Equal(t, got.ID, again.ID)
	assert.Equal(t, 1, h.notifier.count(domain.EventPaymentSucceeded))
	assert.True(t, dec(1000).Equal(h.estateBalance(t)))

	ops, err := h.cluster.Operations(ctx, testEstate, 10, 0)
	require.NoError(t, err)
	assert.Len(t, ops, 1)
}

func TestVerifyFailedPayment(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	txn := h.startDirect(t, b, "user-1", "direct")

	h.gateway.settle(txn.Reference, provider.VerificationFailed, dec(1000))
	got, err := h.verification.Verify(ctx, txn.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, got.Status)
	assert.ErrorIs(t, got.Err(), domain.ErrGatewayError)
	assert.Equal(t, 1, h.notifier.count(domain.EventPaymentFailed))

	v, err := h.bills.Get(ctx, b.ID, "user-1")
	require.NoError(t, err)
	assert.Equal(t, domain.BillStatusPending, v.Status)
}

func TestVerifyAmountMismatchFails(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	txn := h.startDirect(t, b, "user-1", "direct")

	h.gateway.settle(txn.Reference, provider.VerificationSuccess, dec(10))
	got, err := h.verification.Verify(ctx, txn.Reference)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusFailed, got.Status)
	require.NotNil(t, got.FailureCode)
	assert.Equal(t, domain.PaymentErrorValidation, *got.FailureCode)
	assert.True(t, h.estateBalance(t).IsZero())
}

func TestVerifyGatewayErrorLeavesTransaction(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	txn := h.startDirect(t, b, "user-1", "direct")

	h.gateway.verifyErr = context.DeadlineExceeded
	_, err := h.verification.Verify(ctx, txn.Reference)
	require.Error(t, err)
	assert.True(t, provider.IsTimeout(err))

	got, err := h.ledger.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusProcessing, got.Status)

	h.clock.Advance(time.Hour)
	report, err := h.verification.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Len(t, report.Errors, 1)
}

func TestVerifyUnknownReference(t *testing.T) {
	h := newHarness(t)
	_, err := h.verification.Verify(context.Background(), "TXN-NOPE")
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = h.verification.HandleWebhook(context.Background(), "")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDirectUtilityRecurringPurchasesOnConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 0)
	rp := h.utilityRecurring(t, "user-1", 400, domain.PaymentSourceDirect)

	report := h.tick(t)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 0, h.utility.purchaseCount())
	assert.Equal(t, 1, h.notifier.count(domain.EventPaymentPending))

	page, err := h.ledger.List(ctx, domain.TransactionFilter{WalletID: w.ID})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	txn := page.Items[0]

	h.gateway.settle(txn.Reference, provider.VerificationSuccess, dec(400))
	_, err = h.verification.HandleWebhook(ctx, txn.Reference)
	require.NoError(t, err)
	_, err = h.verification.HandleWebhook(ctx, txn.Reference)
	require.NoError(t, err)
	assert.Equal(t, 1, h.utility.purchaseCount())
	assert.True(t, h.balance(t, w.ID).IsZero())

	got := h.reload(t, rp.ID)
	assert.Equal(t, 1, got.TotalPayments)
	assert.True(t, dec(400).Equal(got.TotalAmountPaid))
	assert.Equal(t, rp.NextPaymentDate.AddDate(0, 0, 7), got.NextPaymentDate)
	assert.Equal(t, 0, h.tick(t).Due)
}

func (h *harness) directBillRecurring(t *testing.T, user, billID string, amount int64) *domain.RecurringPayment {
	t.Helper()
	rp, err := h.recurring.Create(context.Background(), CreateRecurringInput{
		UserID:        user,
		EstateID:      testEstate,
		BillID:        &billID,
		Amount:        amt(amount),
		Frequency:     domain.FrequencyMonthly,
		PaymentSource: domain.PaymentSourceDirect,
	})
	require.NoError(t, err)
	return rp
}

// pendingCharge returns the checkout transaction of the schedule's current due date.
func (h *harness) pendingCharge(t *testing.T, rpID string) *domain.Transaction {
	t.Helper()
	txn, err := h.ledger.GetByIdempotencyKey(context.Background(), h.reload(t, rpID).ChargeKey())
	require.NoError(t, err)
	require.Equal(t, domain.TransactionStatusProcessing, txn.Status)
	return txn
}

func TestDirectRecurringDeclinesPauseSchedule(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.directBillRecurring(t, "user-1", b.ID, 100)

	for i := 1; i <= 3; i++ {
		report := h.tick(t)
		require.Equal(t, 1, report.Pending, "tick %d", i)

		got := h.reload(t, rp.ID)
		assert.Equal(t, 0, got.TotalPayments)
		assert.Equal(t, rp.NextPaymentDate, got.NextPaymentDate)
		assert.Equal(t, i-1, got.FailedAttempts)

		// A second tick before the gateway answers changes nothing.
		assert.Equal(t, 1, h.tick(t).Pending)
		txn := h.pendingCharge(t, rp.ID)

		h.gateway.settle(txn.Reference, provider.VerificationFailed, dec(100))
		failed, err := h.verification.Verify(ctx, txn.Reference)
		require.NoError(t, err)
		assert.Equal(t, domain.TransactionStatusFailed, failed.Status)
		_, err = h.verification.Verify(ctx, txn.Reference)
		require.NoError(t, err)
	}

	got := h.reload(t, rp.ID)
	assert.Equal(t, domain.RecurringStatusPaused, got.Status)
	assert.Equal(t, 3, got.FailedAttempts)
	assert.Equal(t, 0, got.TotalPayments)
	assert.True(t, got.TotalAmountPaid.IsZero())
	require.NotNil(t, got.PausedReason)
	assert.Equal(t, 1, h.notifier.count(domain.EventRecurringPaused))
	assert.Equal(t, 0, h.tick(t).Due)
}

func TestDirectRecurringAdvancesOnConfirmation(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.directBillRecurring(t, "user-1", b.ID, 100)

	h.tick(t)
	declined := h.pendingCharge(t, rp.ID)
	h.gateway.settle(declined.Reference, provider.VerificationFailed, dec(100))
	_, err := h.verification.Verify(ctx, declined.Reference)
	require.NoError(t, err)
	assert.Equal(t, 1, h.reload(t, rp.ID).FailedAttempts)

	h.tick(t)
	txn := h.pendingCharge(t, rp.ID)
	assert.NotEqual(t, declined.ID, txn.ID)
	h.gateway.settle(txn.Reference, provider.VerificationSuccess, dec(100))
	_, err = h.verification.HandleWebhook(ctx, txn.Reference)
	require.NoError(t, err)
	_, err = h.verification.HandleWebhook(ctx, txn.Reference)
	require.NoError(t, err)

	got := h.reload(t, rp.ID)
	assert.Equal(t, domain.RecurringStatusActive, got.Status)
	assert.Equal(t, 0, got.FailedAttempts)
	assert.Equal(t, 1, got.TotalPayments)
	assert.True(t, dec(100).Equal(got.TotalAmountPaid))
	assert.Equal(t, rp.NextPaymentDate.AddDate(0, 1, 0), got.NextPaymentDate)
	assert.Equal(t, 0, h.tick(t).Due)

	v, err := h.bills.Get(ctx, b.ID, "user-1")
	require.NoError(t, err)
	assert.True(t, dec(100).Equal(v.Bill.PaidAmount))
}

func TestSweepCancelsCheckoutThatNeverStarted(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.fund(t, "user-1", 0)
	b := h.createBill(t, 1000, forUser("user-1"), noAck())
	rp := h.directBillRecurring(t, "user-1", b.ID, 100)

	// Recorded, but the process stopped before checkout was initialized.
	txn, created, err := h.ledger.Create(ctx, TransactionInput{
		WalletID:           rp.WalletID,
		Type:               domain.TransactionTypeBillPayment,
		Source:             domain.PaymentSourceDirect,
		Amount:             dec(100),
		IdempotencyKey:     rp.ChargeKey(),
		BillID:             &b.ID,
		RecurringPaymentID: &rp.ID,
	})
	require.NoError(t, err)
	require.True(t, created)
	require.Nil(t, txn.GatewayReference)

	report, err := h.verification.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)

	h.clock.Advance(time.Hour)
	report, err = h.verification.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Checked)
	assert.Equal(t, 1, report.Cancelled)
	assert.Empty(t, report.Errors)

	got, err := h.ledger.Get(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCancelled, got.Status)

	sched := h.reload(t, rp.ID)
	assert.Equal(t, 1, sched.FailedAttempts)
	assert.Equal(t, 0, sched.TotalPayments)
	assert.NotEqual(t, txn.IdempotencyKey, sched.ChargeKey())

	report, err = h.verification.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Checked)
}
