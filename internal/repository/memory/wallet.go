package memory

import (
	"context"
	"time"

	"settlement-service/internal/domain"

	"github.com/shopspring/decimal"
)

type walletRepo struct{ s *state }

func (r *walletRepo) Create(_ context.Context, w *domain.Wallet) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	key := ownerKey(w.OwnerID, w.EstateID)
	if _, ok := r.s.walletByOwner[key]; ok {
		return domain.ErrWalletExists
	}
	r.s.wallets[w.ID] = cloneWallet(w)
	r.s.walletByOwner[key] = w.ID
	return nil
}

func (r *walletRepo) GetByID(_ context.Context, id string) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneWallet(w), nil
}

func (r *walletRepo) GetByOwner(_ context.Context, ownerID, estateID string) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	id, ok := r.s.walletByOwner[ownerKey(ownerID, estateID)]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return cloneWallet(r.s.wallets[id]), nil
}

func (r *walletRepo) ListByOwner(_ context.Context, ownerID string) ([]*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var out []*domain.Wallet
	for _, w := range r.s.wallets {
		if w.OwnerID == ownerID {
			out = append(out, cloneWallet(w))
		}
	}
	sortByTimeDesc(out, func(w *domain.Wallet) time.Time { return w.CreatedAt }, func(w *domain.Wallet) string { return w.ID })
	return out, nil
}

func (r *walletRepo) Freeze(_ context.Context, id string, amount decimal.Decimal, at time.Time) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if w.AvailableBalance().LessThan(amount) {
		return nil, domain.ErrInvalidFreezeAmount
	}
	w.FrozenAmount = w.FrozenAmount.Add(amount)
	w.Version++
	w.UpdatedAt = at
	return cloneWallet(w), nil
}

func (r *walletRepo) Unfreeze(_ context.Context, id string, amount decimal.Decimal, at time.Time) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	if w.FrozenAmount.LessThan(amount) {
		return nil, domain.ErrInvalidFreezeAmount
	}
	w.FrozenAmount = w.FrozenAmount.Sub(amount)
	w.Version++
	w.UpdatedAt = at
	return cloneWallet(w), nil
}

func (r *walletRepo) SetStatus(_ context.Context, id string, status domain.WalletStatus, at time.Time) (*domain.Wallet, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	w.Status = status
	w.Version++
	w.UpdatedAt = at
	return cloneWallet(w), nil
}

func (r *walletRepo) SetPin(_ context.Context, id, pinHash string, at time.Time) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	w, ok := r.s.wallets[id]
	if !ok {
		return domain.ErrNotFound
	}
	w.PinHash = &pinHash
	w.UpdatedAt = at
	return nil
}

// applyWalletEffect mirrors the conditional UPDATE of the postgres store.
// Callers hold the store mutex.
func (s *state) applyWalletEffect(walletID string, dir domain.Direction, amount decimal.Decimal, at time.Time) (*decimal.Decimal, *domain.PaymentFailure, error) {
	if dir == domain.DirectionNone {
		return nil, nil, nil
	}
	w, ok := s.wallets[walletID]
	if !ok {
		return nil, nil, domain.ErrNotFound
	}
	var rejection error
	if dir == domain.DirectionDebit {
		rejection = w.CheckDebit(amount)
	} else {
		rejection = w.CheckCredit()
	}
	if rejection != nil {
		return nil, &domain.PaymentFailure{Type: domain.ClassifyError(rejection), Reason: rejection.Error()}, nil
	}
	if dir == domain.DirectionDebit {
		w.Balance = w.Balance.Sub(amount)
	} else {
		w.Balance = w.Balance.Add(amount)
	}
	w.LastTransactionAt = &at
	w.Version++
	w.UpdatedAt = at
	balance := w.Balance
	return &balance, nil, nil
}
