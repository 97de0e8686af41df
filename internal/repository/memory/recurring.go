package memory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"settlement-service/internal/domain"
)

type recurringRepo struct{ s *state }

func (r *recurringRepo) Create(_ context.Context, rp *domain.RecurringPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	r.s.recurring[rp.ID] = cloneRecurring(rp)
	return nil
}

func (r *recurringRepo) GetByID(_ context.Context, id string) (*domain.RecurringPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	rp, ok := r.s.recurring[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneRecurring(rp), nil
}

func (r *recurringRepo) collect(match func(*domain.RecurringPayment) bool) []*domain.RecurringPayment {
	var out []*domain.RecurringPayment
	for _, rp := range r.s.recurring {
		if match(rp) {
			out = append(out, cloneRecurring(rp))
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].NextPaymentDate.Equal(out[j].NextPaymentDate) {
			return out[i].ID < out[j].ID
		}
		return out[i].NextPaymentDate.Before(out[j].NextPaymentDate)
	})
	return out
}

func (r *recurringRepo) List(_ context.Context, f domain.RecurringFilter) ([]*domain.RecurringPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := r.collect(func(rp *domain.RecurringPayment) bool {
		return (f.UserID == "" || rp.UserID == f.UserID) &&
			(f.EstateID == "" || rp.EstateID == f.EstateID) &&
			(f.Status == "" || rp.Status == f.Status)
	})
	return page(out, f.Limit, f.Offset), nil
}

func (r *recurringRepo) ListDue(_ context.Context, now time.Time, limit int) ([]*domain.RecurringPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := r.collect(func(rp *domain.RecurringPayment) bool {
		return rp.Status == domain.RecurringStatusActive && !rp.NextPaymentDate.After(now)
	})
	return page(out, limit, 0), nil
}

func (r *recurringRepo) ListUpcoming(_ context.Context, from, to time.Time, limit int) ([]*domain.RecurringPayment, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	out := r.collect(func(rp *domain.RecurringPayment) bool {
		return rp.Status == domain.RecurringStatusActive &&
			!rp.NextPaymentDate.Before(from) && rp.NextPaymentDate.Before(to)
	})
	return page(out, limit, 0), nil
}

func (r *recurringRepo) Update(_ context.Context, rp *domain.RecurringPayment) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	current, ok := r.s.recurring[rp.ID]
	if !ok {
		return domain.ErrNotFound
	}
	if current.Version != rp.Version {
		return fmt.Errorf("%w: recurring payment %s version %d", domain.ErrConflict, rp.ID, rp.Version)
	}
	rp.Version++
	r.s.recurring[rp.ID] = cloneRecurring(rp)
	return nil
}
