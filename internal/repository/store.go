package repository

import "github.com/jackc/pgx/v5/pgxpool"

// Store groups the repositories the usecases depend on.
type Store struct {
	Wallets       WalletRepository
	Transactions  TransactionRepository
	Bills         BillRepository
	Disputes      DisputeRepository
	Recurring     RecurringPaymentRepository
	ClusterOps    ClusterOperationRepository
	PaymentErrors PaymentErrorRepository
}

// NewPostgresStore wires every repository to one connection pool.
func NewPostgresStore(db *pgxpool.Pool) *Store {
	return &Store{
		Wallets:       NewWalletRepo(db),
		Transactions:  NewTransactionRepo(db),
		Bills:         NewBillRepo(db),
		Disputes:      NewDisputeRepo(db),
		Recurring:     NewRecurringPaymentRepo(db),
		ClusterOps:    NewClusterOperationRepo(db),
		PaymentErrors: NewPaymentErrorRepo(db),
	}
}
