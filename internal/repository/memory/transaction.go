package memory

import (
	"context"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"

	"github.com/shopspring/decimal"
)

type transactionRepo struct{ s *state }

func (s *state) insertTransaction(t *domain.Transaction) (*domain.Transaction, bool) {
	if id, ok := s.txnByKey[t.IdempotencyKey]; ok {
		return s.transactions[id], false
	}
	stored := cloneTransaction(t)
	s.transactions[t.ID] = stored
	s.txnByKey[t.IdempotencyKey] = t.ID
	if t.GatewayReference != nil {
		s.txnByGateway[*t.GatewayReference] = t.ID
	}
	return stored, true
}

func (s *state) setGatewayReference(t *domain.Transaction, ref *string) {
	if ref == nil {
		return
	}
	t.GatewayReference = ref
	s.txnByGateway[*ref] = t.ID
}

func (r *transactionRepo) Insert(_ context.Context, t *domain.Transaction) (*domain.Transaction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.wallets[t.WalletID]; !ok {
		return nil, false, domain.ErrNotFound
	}
	stored, created := r.s.insertTransaction(t)
	return cloneTransaction(stored), created, nil
}

func (r *transactionRepo) Execute(_ context.Context, t *domain.Transaction) (*domain.Transaction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if id, ok := r.s.txnByKey[t.IdempotencyKey]; ok {
		return cloneTransaction(r.s.transactions[id]), false, nil
	}
	balance, failure, err := r.s.applyWalletEffect(t.WalletID, t.Direction, t.Amount, t.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	if failure != nil {
		t.MarkFailed(failure.Type, failure.Reason, t.CreatedAt)
	} else {
		t.MarkCompleted(balance, t.CreatedAt)
	}
	stored, _ := r.s.insertTransaction(t)
	return cloneTransaction(stored), true, nil
}

func (r *transactionRepo) Complete(_ context.Context, id string, gatewayRef *string, at time.Time) (*domain.Transaction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transactions[id]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if t.Status == domain.TransactionStatusCompleted {
		return cloneTransaction(t), false, nil
	}
	if !t.Status.CanTransition(domain.TransactionStatusCompleted) {
		return nil, false, fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidTransition, id, t.Status)
	}
	balance, failure, err := r.s.applyWalletEffect(t.WalletID, t.Direction, t.Amount, at)
	if err != nil {
		return nil, false, err
	}
	r.s.setGatewayReference(t, gatewayRef)
	if failure != nil {
		t.MarkFailed(failure.Type, failure.Reason, at)
	} else {
		t.MarkCompleted(balance, at)
	}
	return cloneTransaction(t), true, nil
}

func (r *transactionRepo) Transition(_ context.Context, id string, u repository.StatusUpdate) (*domain.Transaction, error) {
	if u.To == domain.TransactionStatusCompleted || u.To == domain.TransactionStatusReversed {
		return nil, fmt.Errorf("%w: use Complete or Reverse for %s", domain.ErrInvalidTransition, u.To)
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transactions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.Status == u.To {
		return cloneTransaction(t), nil
	}
	if !t.Status.CanTransition(u.To) {
		return nil, fmt.Errorf("%w: transaction %s is %s", domain.ErrInvalidTransition, id, t.Status)
	}
	r.s.setGatewayReference(t, u.GatewayReference)
	if u.To == domain.TransactionStatusFailed {
		f := u.Failure
		if f == nil {
			f = &domain.PaymentFailure{Type: domain.PaymentErrorUnknown, Reason: "transaction failed"}
		}
		t.MarkFailed(f.Type, f.Error(), u.At)
	} else {
		t.Status = u.To
		t.UpdatedAt = u.At
	}
	return cloneTransaction(t), nil
}

func (r *transactionRepo) SetGatewayReference(_ context.Context, id, ref string, at time.Time) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transactions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if t.GatewayReference != nil {
		delete(r.s.txnByGateway, *t.GatewayReference)
	}
	r.s.setGatewayReference(t, &ref)
	t.UpdatedAt = at
	return cloneTransaction(t), nil
}

func (r *transactionRepo) Reverse(_ context.Context, originalID string, reversal *domain.Transaction) (*domain.Transaction, bool, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	orig, ok := r.s.transactions[originalID]
	if !ok {
		return nil, false, domain.ErrNotFound
	}
	if id, ok := r.s.txnByKey[reversal.IdempotencyKey]; ok {
		return cloneTransaction(r.s.transactions[id]), false, nil
	}
	if !orig.Status.CanTransition(domain.TransactionStatusReversed) {
		return nil, false, fmt.Errorf("%w: only completed transactions can be reversed, %s is %s",
			domain.ErrInvalidTransition, orig.ID, orig.Status)
	}
	balance, failure, err := r.s.applyWalletEffect(reversal.WalletID, reversal.Direction, reversal.Amount, reversal.CreatedAt)
	if err != nil {
		return nil, false, err
	}
	if failure != nil {
		return nil, false, failure
	}
	reversal.MarkCompleted(balance, reversal.CreatedAt)
	stored, _ := r.s.insertTransaction(reversal)
	orig.Status = domain.TransactionStatusReversed
	orig.UpdatedAt = reversal.CreatedAt
	return cloneTransaction(stored), true, nil
}

func (r *transactionRepo) GetByID(_ context.Context, id string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	t, ok := r.s.transactions[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTransaction(t), nil
}

func (r *transactionRepo) GetByIdempotencyKey(_ context.Context, key string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.txnByKey[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTransaction(r.s.transactions[id]), nil
}

func (r *transactionRepo) GetByGatewayReference(_ context.Context, ref string) (*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.txnByGateway[ref]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneTransaction(r.s.transactions[id]), nil
}

func (r *transactionRepo) List(_ context.Context, f domain.TransactionFilter) ([]*domain.Transaction, int, error) {
	f.Normalize()
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var matched []*domain.Transaction
	for _, t := range r.s.transactions {
		if f.Matches(t) {
			matched = append(matched, cloneTransaction(t))
		}
	}
	sortByTimeDesc(matched, func(t *domain.Transaction) time.Time { return t.CreatedAt }, func(t *domain.Transaction) string { return t.ID })
	return page(matched, f.Limit, f.Offset), len(matched), nil
}

func (r *transactionRepo) ListStaleDirect(_ context.Context, cutoff time.Time, limit int) ([]*domain.Transaction, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Transaction
	for _, t := range r.s.transactions {
		if t.Source != domain.PaymentSourceDirect || !t.UpdatedAt.Before(cutoff) {
			continue
		}
		switch {
		case t.Status == domain.TransactionStatusPending,
			t.Status == domain.TransactionStatusProcessing && t.GatewayReference != nil:
			out = append(out, cloneTransaction(t))
		}
	}
	sortByTimeDesc(out, func(t *domain.Transaction) time.Time { return t.UpdatedAt }, func(t *domain.Transaction) string { return t.ID })
	// oldest first
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return page(out, limit, 0), nil
}

func (r *transactionRepo) SumCompletedForBill(_ context.Context, billID string) (decimal.Decimal, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	sum := decimal.Zero
	for _, t := range r.s.transactions {
		if t.BillID != nil && *t.BillID == billID &&
			t.Type == domain.TransactionTypeBillPayment && t.Status == domain.TransactionStatusCompleted {
			sum = sum.Add(t.Amount)
		}
	}
	return sum, nil
}
