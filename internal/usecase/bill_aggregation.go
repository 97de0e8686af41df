package usecase

import (
	"context"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"

	"github.com/shopspring/decimal"
)

// paymentAggregation is how a bill category turns transactions into a paid amount.
type paymentAggregation interface {
	// paidAmount returns the authoritative paid amount for b.
	paidAmount(ctx context.Context, b *domain.Bill) (decimal.Decimal, error)
	// record counts a COMPLETED payment; calling it twice is harmless.
	record(ctx context.Context, b *domain.Bill, txn *domain.Transaction, at time.Time) error
	// unrecord removes a reversed payment; calling it twice is harmless.
	unrecord(ctx context.Context, b *domain.Bill, txn *domain.Transaction, at time.Time) error
}

// userManagedAggregation stores paid_amount on the bill and increments it
// once per linked transaction.
type userManagedAggregation struct {
	billRepo repository.BillRepository
}

func (a userManagedAggregation) paidAmount(_ context.Context, b *domain.Bill) (decimal.Decimal, error) {
	return b.PaidAmount, nil
}

func (a userManagedAggregation) record(ctx context.Context, b *domain.Bill, txn *domain.Transaction, at time.Time) error {
	_, err := a.billRepo.RecordPayment(ctx, b.ID, txn.ID, txn.Amount, at)
	return err
}

func (a userManagedAggregation) unrecord(ctx context.Context, b *domain.Bill, txn *domain.Transaction, at time.Time) error {
	_, err := a.billRepo.RemovePayment(ctx, b.ID, txn.ID, at)
	return err
}

// clusterManagedAggregation never stores the paid amount. It is the sum of
// the bill's COMPLETED payments, so concurrent payers cannot lose updates.
// paid_at is kept only as a query hint for the overdue sweep.
type clusterManagedAggregation struct {
	billRepo repository.BillRepository
	txnRepo  repository.TransactionRepository
}

func (a clusterManagedAggregation) paidAmount(ctx context.Context, b *domain.Bill) (decimal.Decimal, error) {
	return a.txnRepo.SumCompletedForBill(ctx, b.ID)
}

func (a clusterManagedAggregation) record(ctx context.Context, b *domain.Bill, _ *domain.Transaction, at time.Time) error {
	return a.syncPaidAt(ctx, b, at)
}

func (a clusterManagedAggregation) unrecord(ctx context.Context, b *domain.Bill, _ *domain.Transaction, at time.Time) error {
	return a.syncPaidAt(ctx, b, at)
}

func (a clusterManagedAggregation) syncPaidAt(ctx context.Context, b *domain.Bill, at time.Time) error {
	paid, err := a.paidAmount(ctx, b)
	if err != nil {
		return err
	}
	full := paid.GreaterThanOrEqual(b.Amount)
	switch {
	case full && b.PaidAt == nil:
		return a.billRepo.SetPaidAt(ctx, b.ID, &at, at)
	case !full && b.PaidAt != nil:
		return a.billRepo.SetPaidAt(ctx, b.ID, nil, at)
	}
	return nil
}
