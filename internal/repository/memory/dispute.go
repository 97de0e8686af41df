package memory

import (
	"context"
	"fmt"
	"time"

	"settlement-service/internal/domain"
)

type disputeRepo struct{ s *state }

func (r *disputeRepo) Create(_ context.Context, d *domain.Dispute) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if r.s.hasActiveDispute(d.BillID, d.RaisedBy) {
		return domain.ErrDuplicateActiveDispute
	}
	r.s.disputes[d.ID] = cloneDispute(d)
	return nil
}

func (s *state) hasActiveDispute(billID, userID string) bool {
	for _, d := range s.disputes {
		if d.BillID == billID && (userID == "" || d.RaisedBy == userID) && d.Status.IsActive() {
			return true
		}
	}
	return false
}

func (r *disputeRepo) GetByID(_ context.Context, id string) (*domain.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.disputes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneDispute(d), nil
}

func (r *disputeRepo) filter(match func(*domain.Dispute) bool) []*domain.Dispute {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Dispute
	for _, d := range r.s.disputes {
		if match(d) {
			out = append(out, cloneDispute(d))
		}
	}
	sortByTimeDesc(out, func(d *domain.Dispute) time.Time { return d.CreatedAt }, func(d *domain.Dispute) string { return d.ID })
	return out
}

func (r *disputeRepo) ListByBill(_ context.Context, billID string) ([]*domain.Dispute, error) {
	return r.filter(func(d *domain.Dispute) bool { return d.BillID == billID }), nil
}

func (r *disputeRepo) ListByUser(_ context.Context, userID string) ([]*domain.Dispute, error) {
	return r.filter(func(d *domain.Dispute) bool { return d.RaisedBy == userID }), nil
}

func (r *disputeRepo) HasActive(_ context.Context, billID, userID string) (bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	return r.s.hasActiveDispute(billID, userID), nil
}

func (r *disputeRepo) Transition(_ context.Context, id string, from []domain.DisputeStatus, to domain.DisputeStatus, notes *string, at time.Time) (*domain.Dispute, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	d, ok := r.s.disputes[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	allowed := false
	for _, s := range from {
		if d.Status == s {
			allowed = true
			break
		}
	}
	if !allowed {
		return nil, fmt.Errorf("%w: dispute %s is %s", domain.ErrInvalidTransition, id, d.Status)
	}
	d.Status = to
	if notes != nil {
		d.ResolutionNotes = notes
	}
	if to.IsTerminal() {
		d.ResolvedAt = &at
	}
	d.UpdatedAt = at
	return cloneDispute(d), nil
}
