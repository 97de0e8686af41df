package memory

import (
	"context"
	"sort"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
)

type billRepo struct{ s *state }

func (r *billRepo) Create(_ context.Context, b *domain.Bill) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.bills[b.ID] = cloneBill(b)
	return nil
}

func (r *billRepo) GetByID(_ context.Context, id string) (*domain.Bill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bills[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneBill(b), nil
}

func (r *billRepo) List(_ context.Context, f domain.BillFilter) ([]*domain.Bill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Bill
	for _, b := range r.s.bills {
		if f.EstateID != "" && b.EstateID != f.EstateID {
			continue
		}
		if f.UserID != "" && b.UserID != nil && *b.UserID != f.UserID {
			continue
		}
		if f.Category != "" && b.Category != f.Category {
			continue
		}
		if f.Type != "" && b.Type != f.Type {
			continue
		}
		out = append(out, cloneBill(b))
	}
	sortBills(out)
	return out, nil
}

func sortBills(bills []*domain.Bill) {
	sort.Slice(bills, func(i, j int) bool {
		if bills[i].DueDate.Equal(bills[j].DueDate) {
			return bills[i].ID < bills[j].ID
		}
		return bills[i].DueDate.Before(bills[j].DueDate)
	})
}

func (r *billRepo) AddAcknowledgment(_ context.Context, billID, userID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bills[billID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.HasAcknowledged(userID) {
		return false, nil
	}
	b.AcknowledgedBy = append(b.AcknowledgedBy, userID)
	b.UpdatedAt = at
	return true, nil
}

func (r *billRepo) RecordPayment(_ context.Context, billID, transactionID string, amount decimal.Decimal, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bills[billID]
	if !ok {
		return false, domain.ErrNotFound
	}
	key := billPaymentKey{billID, transactionID}
	if _, ok := r.s.billPayments[key]; ok {
		return false, nil
	}
	r.s.billPayments[key] = amount
	b.PaidAmount = b.PaidAmount.Add(amount)
	if b.IsFullyPaid() && b.PaidAt == nil {
		b.PaidAt = &at
	}
	b.UpdatedAt = at
	return true, nil
}

func (r *billRepo) RemovePayment(_ context.Context, billID, transactionID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bills[billID]
	if !ok {
		return false, domain.ErrNotFound
	}
	key := billPaymentKey{billID, transactionID}
	amount, ok := r.s.billPayments[key]
	if !ok {
		return false, nil
	}
	delete(r.s.billPayments, key)
	b.PaidAmount = b.PaidAmount.Sub(amount)
	if !b.IsFullyPaid() {
		b.PaidAt = nil
	}
	b.UpdatedAt = at
	return true, nil
}

func (r *billRepo) Cancel(_ context.Context, billID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bills[billID]
	if !ok {
		return domain.ErrNotFound
	}
	if b.CancelledAt != nil {
		return domain.ErrBillCancelled
	}
	b.CancelledAt = &at
	b.UpdatedAt = at
	return nil
}

func (r *billRepo) MarkOverdueNotified(_ context.Context, billID string, at time.Time) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bills[billID]
	if !ok {
		return false, domain.ErrNotFound
	}
	if b.OverdueNotifiedAt != nil {
		return false, nil
	}
	b.OverdueNotifiedAt = &at
	b.UpdatedAt = at
	return true, nil
}

func (r *billRepo) MarkReminded(_ context.Context, billID string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bills[billID]
	if !ok {
		return domain.ErrNotFound
	}
	b.LastReminderAt = &at
	return nil
}

func (r *billRepo) SetPaidAt(_ context.Context, billID string, paidAt *time.Time, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	b, ok := r.s.bills[billID]
	if !ok {
		return domain.ErrNotFound
	}
	b.PaidAt = paidAt
	b.UpdatedAt = at
	return nil
}

func (r *billRepo) ListOpenDueBefore(_ context.Context, cutoff time.Time, limit int) ([]*domain.Bill, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Bill
	for _, b := range r.s.bills {
		if b.CancelledAt == nil && b.PaidAt == nil && b.OverdueNotifiedAt == nil && b.DueDate.Before(cutoff) {
			out = append(out, cloneBill(b))
		}
	}
	sortBills(out)
	return page(out, limit, 0), nil
}
