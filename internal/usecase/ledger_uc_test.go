package usecase

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"settlement-service/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentDebitsNeverOverdraw(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	completed, rejected := 0, 0
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := h.wallets.Debit(ctx, w.ID, dec(100), fmt.Sprintf("debit-%d", i), "groceries")
			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				completed++
				return
			}
			assert.ErrorIs(t, err, domain.ErrInsufficientFunds)
			rejected++
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, completed)
	assert.Equal(t, 15, rejected)
	assert.True(t, h.balance(t, w.ID).IsZero())

	errs, err := h.ledger.ListPaymentErrors(ctx, "user-1", 50)
	require.NoError(t, err)
	assert.Len(t, errs, 15)
	for _, pe := range errs {
		assert.Equal(t, domain.PaymentErrorInsufficientFunds, pe.Type)
		assert.NotNil(t, pe.TransactionID)
	}
}

func TestExecuteReplaysIdempotencyKey(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 500)

	in := TransactionInput{
		WalletID:       w.ID,
		Type:           domain.TransactionTypePayment,
		Amount:         dec(200),
		IdempotencyKey: "K1",
	}
	first, created, err := h.ledger.Execute(ctx, in)
	require.NoError(t, err)
	assert.True(t, created)

	second, created, err := h.ledger.Execute(ctx, in)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, dec(300).Equal(h.balance(t, w.ID)))
}

func TestExecuteReplaysFirstFailure(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 50)

	in := TransactionInput{WalletID: w.ID, Type: domain.TransactionTypePayment, Amount: dec(200), IdempotencyKey: "K-fail"}
	first, created, err := h.ledger.Execute(ctx, in)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.True(t, created)
	assert.Equal(t, domain.TransactionStatusFailed, first.Status)

	// Topping up does not turn a replay into a success.
	h.fund(t, "user-1", 1000)
	replay, created, err := h.ledger.Execute(ctx, in)
	require.ErrorIs(t, err, domain.ErrInsufficientFunds)
	assert.False(t, created)
	assert.Equal(t, first.ID, replay.ID)
	assert.True(t, dec(1050).Equal(h.balance(t, w.ID)))
}

func TestConcurrentDuplicateKeyAppliesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 1000)

	var wg sync.WaitGroup
	ids := make([]string, 20)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			txn, _, err := h.ledger.Execute(ctx, TransactionInput{
				WalletID:       w.ID,
				Type:           domain.TransactionTypePayment,
				Amount:         dec(300),
				IdempotencyKey: "same-key",
			})
			require.NoError(t, err)
			ids[i] = txn.ID
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.True(t, dec(700).Equal(h.balance(t, w.ID)))
}

func TestSuspendedWalletRejectsDebit(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 1000)

	_, err := h.wallets.SetStatus(ctx, w.ID, domain.WalletStatusSuspended, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, 1, h.notifier.count(domain.EventWalletStatusChanged))

	_, err = h.wallets.Debit(ctx, w.ID, dec(10), "after-suspend", "")
	assert.ErrorIs(t, err, domain.ErrWalletNotActive)
	assert.True(t, dec(1000).Equal(h.balance(t, w.ID)))
}

func TestReverseRestoresBalanceOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 1000)

	debit, err := h.wallets.Debit(ctx, w.ID, dec(400), "debit-1", "")
	require.NoError(t, err)

	r1, err := h.ledger.Reverse(ctx, debit.ID, "")
	require.NoError(t, err)
	r2, err := h.ledger.Reverse(ctx, debit.ID, "")
	require.NoError(t, err)
	assert.Equal(t, r1.ID, r2.ID)
	assert.Equal(t, domain.TransactionTypeRefund, r1.Type)
	assert.True(t, dec(1000).Equal(h.balance(t, w.ID)))

	orig, err := h.ledger.Get(ctx, debit.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusReversed, orig.Status)
}

func TestFrozenFundsAreNotSpendable(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 1000)

	_, err := h.wallets.Freeze(ctx, w.ID, dec(800))
	require.NoError(t, err)
	_, err = h.wallets.Debit(ctx, w.ID, dec(300), "debit-frozen", "")
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	_, err = h.wallets.Freeze(ctx, w.ID, dec(300))
	assert.ErrorIs(t, err, domain.ErrInvalidFreezeAmount)

	_, err = h.wallets.Unfreeze(ctx, w.ID, dec(800))
	require.NoError(t, err)
	_, err = h.wallets.Debit(ctx, w.ID, dec(300), "debit-unfrozen", "")
	assert.NoError(t, err)
}

func TestWalletPin(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 0)

	assert.ErrorIs(t, h.wallets.SetPin(ctx, w.ID, "user-1", "12ab"), domain.ErrValidation)
	assert.ErrorIs(t, h.wallets.SetPin(ctx, w.ID, "user-2", "1234"), domain.ErrNotAuthorized)
	require.NoError(t, h.wallets.SetPin(ctx, w.ID, "user-1", "123456"))

	assert.NoError(t, h.wallets.VerifyPin(ctx, w.ID, "123456"))
	assert.ErrorIs(t, h.wallets.VerifyPin(ctx, w.ID, "654321"), domain.ErrNotAuthorized)

	got, err := h.wallets.Get(ctx, w.ID)
	require.NoError(t, err)
	assert.True(t, got.IsPinSet())
}

func TestProvisionIsIdempotent(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	ids := make([]string, 10)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w, err := h.wallets.Provision(ctx, "user-1", testEstate, "ngn")
			require.NoError(t, err)
			ids[i] = w.ID
		}(i)
	}
	wg.Wait()
	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	_, err := h.wallets.Provision(ctx, "user-2", testEstate, "XYZ")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestDebitScenarioWithReplay(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	w := h.fund(t, "user-1", 5000)

	first, err := h.wallets.Debit(ctx, w.ID, dec(3000), "K1", "rent")
	require.NoError(t, err)
	assert.Equal(t, domain.TransactionStatusCompleted, first.Status)
	require.NotNil(t, first.BalanceAfter)
	assert.True(t, dec(2000).Equal(*first.BalanceAfter))

	second, err := h.wallets.Debit(ctx, w.ID, dec(3000), "K1", "rent")
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.True(t, dec(2000).Equal(h.balance(t, w.ID)))

	page, err := h.ledger.List(ctx, domain.TransactionFilter{WalletID: w.ID, Type: domain.TransactionTypeWithdrawal})
	require.NoError(t, err)
	assert.Equal(t, 1, page.Total)

	summary, err := h.wallets.Summary(ctx, w.ID)
	require.NoError(t, err)
	assert.Len(t, summary.RecentTransactions, 2)
}
