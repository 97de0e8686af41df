// Package memory is an in-process implementation of the repository
// interfaces. Every operation holds one store-wide mutex, which gives the
// same atomicity the postgres implementation gets from row locks and
// conditional updates.
package memory

import (
	"sort"
	"sync"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"

	"github.com/shopspring/decimal"
)

type billPaymentKey struct {
	billID, transactionID string
}

type state struct {
	mu sync.Mutex

	wallets       map[string]*domain.Wallet
	walletByOwner map[string]string

	transactions map[string]*domain.Transaction
	txnByKey     map[string]string
	txnByGateway map[string]string

	bills        map[string]*domain.Bill
	billPayments map[billPaymentKey]decimal.Decimal

	disputes map[string]*domain.Dispute

	recurring map[string]*domain.RecurringPayment

	clusterOps    map[string]*domain.ClusterWalletOperation
	opsBySource   map[string]string
	paymentErrors []*domain.PaymentError
}

// NewStore returns a repository.Store backed by memory.
func NewStore() *repository.Store {
	s := &state{
		wallets:       make(map[string]*domain.Wallet),
		walletByOwner: make(map[string]string),
		transactions:  make(map[string]*domain.Transaction),
		txnByKey:      make(map[string]string),
		txnByGateway:  make(map[string]string),
		bills:         make(map[string]*domain.Bill),
		billPayments:  make(map[billPaymentKey]decimal.Decimal),
		disputes:      make(map[string]*domain.Dispute),
		recurring:     make(map[string]*domain.RecurringPayment),
		clusterOps:    make(map[string]*domain.ClusterWalletOperation),
		opsBySource:   make(map[string]string),
	}
	return &repository.Store{
		Wallets:       &walletRepo{s},
		Transactions:  &transactionRepo{s},
		Bills:         &billRepo{s},
		Disputes:      &disputeRepo{s},
		Recurring:     &recurringRepo{s},
		ClusterOps:    &clusterOpRepo{s},
		PaymentErrors: &paymentErrorRepo{s},
	}
}

func ownerKey(ownerID, estateID string) string {
	return ownerID + "|" + estateID
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func cloneWallet(w *domain.Wallet) *domain.Wallet {
	c := *w
	return &c
}

func cloneTransaction(t *domain.Transaction) *domain.Transaction {
	c := *t
	c.Metadata = cloneStrings(t.Metadata)
	return &c
}

func cloneBill(b *domain.Bill) *domain.Bill {
	c := *b
	c.AcknowledgedBy = append([]string(nil), b.AcknowledgedBy...)
	return &c
}

func cloneDispute(d *domain.Dispute) *domain.Dispute {
	c := *d
	return &c
}

func cloneRecurring(rp *domain.RecurringPayment) *domain.RecurringPayment {
	c := *rp
	c.Metadata = cloneStrings(rp.Metadata)
	return &c
}

func cloneOp(op *domain.ClusterWalletOperation) *domain.ClusterWalletOperation {
	c := *op
	c.Metadata = cloneStrings(op.Metadata)
	return &c
}

func page[T any](items []T, limit, offset int) []T {
	if offset >= len(items) {
		return nil
	}
	items = items[offset:]
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}

func sortByTimeDesc[T any](items []T, at func(T) time.Time, id func(T) string) {
	sort.Slice(items, func(i, j int) bool {
		ti, tj := at(items[i]), at(items[j])
		if ti.Equal(tj) {
			return id(items[i]) > id(items[j])
		}
		return ti.After(tj)
	})
}
