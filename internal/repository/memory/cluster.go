package memory

import (
	"context"
	"time"

	"settlement-service/internal/domain"
)

type clusterOpRepo struct{ s *state }

func (r *clusterOpRepo) Append(_ context.Context, op *domain.ClusterWalletOperation) (*domain.ClusterWalletOperation, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if op.SourceTransactionID != nil {
		key := sourceKey(*op.SourceTransactionID, op.Category)
		if id, ok := r.s.opsBySource[key]; ok {
			return cloneOp(r.s.clusterOps[id]), false, nil
		}
		r.s.opsBySource[key] = op.ID
	}
	r.s.clusterOps[op.ID] = cloneOp(op)
	return cloneOp(op), true, nil
}

func sourceKey(sourceTransactionID string, category domain.OperationCategory) string {
	return sourceTransactionID + "|" + string(category)
}

func (r *clusterOpRepo) GetBySource(_ context.Context, sourceTransactionID string, category domain.OperationCategory) (*domain.ClusterWalletOperation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.opsBySource[sourceKey(sourceTransactionID, category)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneOp(r.s.clusterOps[id]), nil
}

func (r *clusterOpRepo) ListByWallet(_ context.Context, walletID string, since *time.Time, limit, offset int) ([]*domain.ClusterWalletOperation, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.ClusterWalletOperation
	for _, op := range r.s.clusterOps {
		if op.EstateWalletID != walletID {
			continue
		}
		if since != nil && op.CreatedAt.Before(*since) {
			continue
		}
		out = append(out, cloneOp(op))
	}
	sortByTimeDesc(out, func(o *domain.ClusterWalletOperation) time.Time { return o.CreatedAt },
		func(o *domain.ClusterWalletOperation) string { return o.ID })
	if limit <= 0 {
		limit = domain.MaxPageSize
	}
	return page(out, limit, offset), nil
}

type paymentErrorRepo struct{ s *state }

func (r *paymentErrorRepo) Create(_ context.Context, e *domain.PaymentError) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	c := *e
	r.s.paymentErrors = append(r.s.paymentErrors, &c)
	return nil
}

func (r *paymentErrorRepo) ListByUser(_ context.Context, userID string, limit int) ([]*domain.PaymentError, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.PaymentError
	for i := len(r.s.paymentErrors) - 1; i >= 0; i-- {
		if e := r.s.paymentErrors[i]; e.UserID == userID {
			c := *e
			out = append(out, &c)
		}
	}
	if limit <= 0 {
		limit = domain.DefaultPageSize
	}
	return page(out, limit, 0), nil
}
