package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/repository"
	"settlement-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const sweepBatchSize = 200

// EstateLedger is the part of the cluster wallet reconciler that bill
// payments drive.
type EstateLedger interface {
	ReceivingWallet(ctx context.Context, b *domain.Bill) (*domain.Wallet, error)
	CreditFromBillPayment(ctx context.Context, b *domain.Bill, txn *domain.Transaction) (*domain.ClusterWalletOperation, error)
	DebitForRefund(ctx context.Context, b *domain.Bill, original *domain.Transaction) (*domain.ClusterWalletOperation, error)
}

type CreateBillInput struct {
	EstateID               string
	UserID                 *string
	Category               domain.BillCategory
	Type                   domain.BillType
	Title                  string
	Description            string
	Amount                 decimal.Decimal
	Currency               string
	DueDate                time.Time
	AllowPaymentAfterDue   bool
	AcknowledgmentRequired *bool
	UtilityProviderCode    *string
	CustomerID             *string
	CreatedBy              string
}

type PayBillInput struct {
	BillID             string
	UserID             string
	Amount             *decimal.Decimal
	Source             domain.PaymentSource
	IdempotencyKey     string
	RecurringPaymentID *string
	Email              string
}

type PaymentResult struct {
	Transaction *domain.Transaction `json:"transaction"`
	Bill        *domain.BillView    `json:"bill,omitempty"`
	CheckoutURL string              `json:"checkout_url,omitempty"`
	Replayed    bool                `json:"replayed"`
}

type BillUsecase struct {
	billRepo    repository.BillRepository
	disputeRepo repository.DisputeRepository
	txnRepo     repository.TransactionRepository
	wallets     *WalletUsecase
	ledger      *LedgerUsecase
	disputes    *DisputeUsecase
	estate      EstateLedger
	checkout    *CheckoutUsecase
	notifier    Notifier
	clock       Clock
	logger      *zap.Logger

	aggregations map[domain.BillCategory]paymentAggregation
}

func NewBillUsecase(
	billRepo repository.BillRepository,
	disputeRepo repository.DisputeRepository,
	txnRepo repository.TransactionRepository,
	wallets *WalletUsecase,
	ledger *LedgerUsecase,
	disputes *DisputeUsecase,
	estate EstateLedger,
	checkout *CheckoutUsecase,
	notifier Notifier,
	clock Clock,
	logger *zap.Logger,
) *BillUsecase {
	if notifier == nil {
		notifier = NopNotifier()
	}
	return &BillUsecase{
		billRepo:    billRepo,
		disputeRepo: disputeRepo,
		txnRepo:     txnRepo,
		wallets:     wallets,
		ledger:      ledger,
		disputes:    disputes,
		estate:      estate,
		checkout:    checkout,
		notifier:    notifier,
		clock:       clock,
		logger:      logger,
		aggregations: map[domain.BillCategory]paymentAggregation{
			domain.BillCategoryUserManaged:    userManagedAggregation{billRepo: billRepo},
			domain.BillCategoryClusterManaged: clusterManagedAggregation{billRepo: billRepo, txnRepo: txnRepo},
		},
	}
}

func (uc *BillUsecase) aggregationFor(b *domain.Bill) paymentAggregation {
	return uc.aggregations[b.Category]
}

// load fetches a bill with its authoritative paid amount filled in.
func (uc *BillUsecase) load(ctx context.Context, id string) (*domain.Bill, error) {
	b, err := uc.billRepo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("bill %s: %w", id, domain.ErrNotFound)
		}
		return nil, err
	}
	if err := uc.hydrate(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (uc *BillUsecase) hydrate(ctx context.Context, b *domain.Bill) error {
	paid, err := uc.aggregationFor(b).paidAmount(ctx, b)
	if err != nil {
		return fmt.Errorf("failed to compute paid amount for bill %s: %w", b.ID, err)
	}
	b.PaidAmount = paid
	return nil
}

func (uc *BillUsecase) view(ctx context.Context, b *domain.Bill, viewer string) (*domain.BillView, error) {
	payer := b.RelevantPayer(viewer)
	active, err := uc.disputeRepo.HasActive(ctx, b.ID, payer)
	if err != nil {
		return nil, err
	}
	bc := domain.BillContext{Payer: payer, ActiveDispute: active, Now: uc.clock.Now()}
	v := &domain.BillView{
		Bill:            b,
		Status:          b.DeriveStatus(bc),
		RemainingAmount: b.RemainingAmount(),
	}
	if viewer != "" {
		member, err := uc.wallets.IsEstateMember(ctx, viewer, b.EstateID)
		if err != nil {
			return nil, err
		}
		v.CanPay = b.CheckPayable(viewer, member, bc) == nil
	}
	return v, nil
}

func (uc *BillUsecase) recipients(b *domain.Bill) []string {
	if b.UserID != nil {
		return []string{*b.UserID}
	}
	return []string{"estate:" + b.EstateID}
}

func (uc *BillUsecase) Create(ctx context.Context, in CreateBillInput) (*domain.BillView, error) {
	cur, err := domain.NormalizeCurrency(in.Currency)
	if err != nil {
		return nil, err
	}
	ackRequired := in.Type.RequiresAcknowledgment()
	if in.AcknowledgmentRequired != nil {
		ackRequired = *in.AcknowledgmentRequired
	}
	now := uc.clock.Now()
	b := &domain.Bill{
		ID:                     utils.GenerateID("bill"),
		BillNumber:             utils.BillNumber(),
		EstateID:               in.EstateID,
		UserID:                 in.UserID,
		Category:               in.Category,
		Type:                   in.Type,
		Title:                  in.Title,
		Description:            in.Description,
		Amount:                 in.Amount,
		Currency:               cur,
		DueDate:                in.DueDate,
		AllowPaymentAfterDue:   in.AllowPaymentAfterDue,
		AcknowledgmentRequired: ackRequired,
		PaidAmount:             decimal.Zero,
		UtilityProviderCode:    in.UtilityProviderCode,
		CustomerID:             in.CustomerID,
		CreatedBy:              in.CreatedBy,
		CreatedAt:              now,
		UpdatedAt:              now,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if err := uc.billRepo.Create(ctx, b); err != nil {
		return nil, err
	}
	uc.logger.Info("bill created",
		zap.String("bill_id", b.ID),
		zap.String("bill_number", b.BillNumber),
		zap.String("estate_id", b.EstateID),
		zap.String("category", string(b.Category)),
		zap.String("amount", b.Amount.String()))
	uc.notifier.Notify(ctx, domain.EventBillCreated, uc.recipients(b), map[string]string{
		"bill_id":     b.ID,
		"bill_number": b.BillNumber,
		"title":       b.Title,
		"amount":      b.Amount.StringFixed(domain.MoneyScale),
		"currency":    b.Currency,
		"due_date":    b.DueDate.Format(time.DateOnly),
	})
	return uc.view(ctx, b, "")
}

// Get returns the bill as seen by viewer; an empty viewer means the target
// user's perspective.
func (uc *BillUsecase) Get(ctx context.Context, id, viewer string) (*domain.BillView, error) {
	b, err := uc.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return uc.view(ctx, b, viewer)
}

// List applies the stored-column filters in the repository and the derived
// status filter and paging here.
func (uc *BillUsecase) List(ctx context.Context, f domain.BillFilter, viewer string) ([]*domain.BillView, error) {
	bills, err := uc.billRepo.List(ctx, f)
	if err != nil {
		return nil, err
	}
	if viewer == "" {
		viewer = f.UserID
	}
	views := make([]*domain.BillView, 0, len(bills))
	for _, b := range bills {
		if err := uc.hydrate(ctx, b); err != nil {
			return nil, err
		}
		v, err := uc.view(ctx, b, viewer)
		if err != nil {
			return nil, err
		}
		if f.Status != "" && v.Status != f.Status {
			continue
		}
		views = append(views, v)
	}

	limit, offset := f.Limit, f.Offset
	if limit <= 0 || limit > domain.MaxPageSize {
		limit = domain.DefaultPageSize
	}
	if offset >= len(views) {
		return []*domain.BillView{}, nil
	}
	views = views[offset:]
	if len(views) > limit {
		views = views[:limit]
	}
	return views, nil
}

func (uc *BillUsecase) Summary(ctx context.Context, estateID, userID string) (*domain.BillSummary, error) {
	bills, err := uc.billRepo.List(ctx, domain.BillFilter{EstateID: estateID, UserID: userID})
	if err != nil {
		return nil, err
	}
	s := &domain.BillSummary{
		EstateID:   estateID,
		UserID:     userID,
		ByStatus:   make(map[domain.BillStatus]int),
		AmountDue:  decimal.Zero,
		OverdueDue: decimal.Zero,
	}
	for _, b := range bills {
		if err := uc.hydrate(ctx, b); err != nil {
			return nil, err
		}
		v, err := uc.view(ctx, b, userID)
		if err != nil {
			return nil, err
		}
		s.Total++
		s.ByStatus[v.Status]++
		if v.Status == domain.BillStatusPaid || v.Status == domain.BillStatusCancelled {
			continue
		}
		s.AmountDue = s.AmountDue.Add(v.RemainingAmount)
		if v.Status == domain.BillStatusOverdue {
			s.OverdueDue = s.OverdueDue.Add(v.RemainingAmount)
		}
		if s.NextDueDate == nil || b.DueDate.Before(*s.NextDueDate) {
			due := b.DueDate
			s.NextDueDate = &due
		}
	}
	return s, nil
}

// Acknowledge records that user accepts the bill. Repeating it is a no-op.
func (uc *BillUsecase) Acknowledge(ctx context.Context, billID, userID string) (*domain.BillView, error) {
	b, err := uc.load(ctx, billID)
	if err != nil {
		return nil, err
	}
	switch {
	case b.IsCancelled():
		return nil, domain.ErrBillCancelled
	case b.IsFullyPaid():
		return nil, domain.ErrAlreadyPaid
	}
	member, err := uc.wallets.IsEstateMember(ctx, userID, b.EstateID)
	if err != nil {
		return nil, err
	}
	if !b.IsAuthorizedPayer(userID, member) {
		return nil, fmt.Errorf("%w: user %s cannot acknowledge bill %s", domain.ErrNotAuthorized, userID, b.BillNumber)
	}

	now := uc.clock.Now()
	added, err := uc.billRepo.AddAcknowledgment(ctx, b.ID, userID, now)
	if err != nil {
		return nil, err
	}
	if added {
		b.AcknowledgedBy = append(b.AcknowledgedBy, userID)
		uc.notifier.Notify(ctx, domain.EventBillAcknowledged, []string{b.CreatedBy}, map[string]string{
			"bill_id":     b.ID,
			"bill_number": b.BillNumber,
			"user_id":     userID,
		})
	}
	return uc.view(ctx, b, userID)
}

func (uc *BillUsecase) Dispute(ctx context.Context, billID, userID, reason string) (*domain.Dispute, error) {
	b, err := uc.load(ctx, billID)
	if err != nil {
		return nil, err
	}
	switch {
	case b.IsCancelled():
		return nil, domain.ErrBillCancelled
	case b.IsFullyPaid():
		return nil, domain.ErrAlreadyPaid
	}
	member, err := uc.wallets.IsEstateMember(ctx, userID, b.EstateID)
	if err != nil {
		return nil, err
	}
	if !b.IsAuthorizedPayer(userID, member) {
		return nil, fmt.Errorf("%w: user %s cannot dispute bill %s", domain.ErrNotAuthorized, userID, b.BillNumber)
	}
	return uc.disputes.raise(ctx, b, userID, reason)
}

// CheckPayable returns nil when userID may pay the bill now, otherwise the
// business reason they may not.
func (uc *BillUsecase) CheckPayable(ctx context.Context, billID, userID string) error {
	b, err := uc.load(ctx, billID)
	if err != nil {
		return err
	}
	return uc.checkPayable(ctx, b, userID)
}

func (uc *BillUsecase) checkPayable(ctx context.Context, b *domain.Bill, userID string) error {
	member, err := uc.wallets.IsEstateMember(ctx, userID, b.EstateID)
	if err != nil {
		return err
	}
	active, err := uc.disputeRepo.HasActive(ctx, b.ID, userID)
	if err != nil {
		return err
	}
	return b.CheckPayable(userID, member, domain.BillContext{Payer: userID, ActiveDispute: active, Now: uc.clock.Now()})
}

func (uc *BillUsecase) CanBePaidBy(ctx context.Context, billID, userID string) (bool, error) {
	err := uc.CheckPayable(ctx, billID, userID)
	switch {
	case err == nil:
		return true, nil
	case isBusinessError(err):
		return false, nil
	}
	return false, err
}

func isBusinessError(err error) bool {
	for _, target := range []error{
		domain.ErrBillCancelled, domain.ErrAlreadyPaid, domain.ErrNotAuthorized,
		domain.ErrBillNotPayable, domain.ErrValidation,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Pay settles all or part of a bill. Replays of an idempotency key return
// the first outcome without re-checking the payment gates, so a retried
// request for a payment that made the bill PAID still succeeds.
func (uc *BillUsecase) Pay(ctx context.Context, in PayBillInput) (*PaymentResult, error) {
	if in.IdempotencyKey == "" {
		return nil, fmt.Errorf("%w: idempotency key is required", domain.ErrValidation)
	}
	if existing, err := uc.ledger.GetByIdempotencyKey(ctx, in.IdempotencyKey); err == nil {
		return uc.replay(ctx, existing, in)
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, err
	}

	b, err := uc.load(ctx, in.BillID)
	if err != nil {
		return nil, err
	}
	if err := uc.checkPayable(ctx, b, in.UserID); err != nil {
		observe("bill.pay", err)
		return nil, err
	}
	wallet, err := uc.wallets.GetForOwner(ctx, in.UserID, b.EstateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s has no wallet in estate %s", domain.ErrNotAuthorized, in.UserID, b.EstateID)
		}
		return nil, err
	}
	if wallet.Currency != b.Currency {
		return nil, fmt.Errorf("%w: bill is in %s but wallet is in %s", domain.ErrValidation, b.Currency, wallet.Currency)
	}
	if b.Category == domain.BillCategoryClusterManaged {
		if _, err := uc.estate.ReceivingWallet(ctx, b); err != nil {
			observe("bill.pay", err)
			return nil, err
		}
	}

	amount := b.RemainingAmount()
	if in.Amount != nil {
		if err := domain.ValidateAmount(*in.Amount); err != nil {
			return nil, err
		}
		amount = domain.MinAmount(*in.Amount, amount)
	}
	source := in.Source
	if source == "" {
		source = domain.PaymentSourceWallet
	}

	txIn := TransactionInput{
		WalletID:           wallet.ID,
		Type:               domain.TransactionTypeBillPayment,
		Source:             source,
		Amount:             amount,
		IdempotencyKey:     in.IdempotencyKey,
		BillID:             &b.ID,
		RecurringPaymentID: in.RecurringPaymentID,
		Description:        "Payment for " + b.Title,
		Metadata: map[string]string{
			domain.MetaBillID:     b.ID,
			domain.MetaBillNumber: b.BillNumber,
			domain.MetaBillType:   string(b.Type),
			domain.MetaPayerID:    in.UserID,
		},
	}
	switch source {
	case domain.PaymentSourceWallet:
		return uc.payFromWallet(ctx, b, txIn, in.UserID)
	case domain.PaymentSourceDirect:
		return uc.payDirect(ctx, b, txIn, in)
	}
	return nil, fmt.Errorf("%w: unknown payment source %q", domain.ErrValidation, source)
}

func (uc *BillUsecase) payFromWallet(ctx context.Context, b *domain.Bill, txIn TransactionInput, payer string) (*PaymentResult, error) {
	txn, created, err := uc.ledger.Execute(ctx, txIn)
	if txn == nil {
		return nil, err
	}
	if err != nil {
		if created {
			uc.notifyFailure(ctx, b, txn, payer, err)
		}
		return &PaymentResult{Transaction: txn, Replayed: !created}, err
	}
	return uc.finish(ctx, b.ID, txn, payer, created)
}

func (uc *BillUsecase) payDirect(ctx context.Context, b *domain.Bill, txIn TransactionInput, in PayBillInput) (*PaymentResult, error) {
	if !uc.checkout.Enabled() {
		return nil, fmt.Errorf("%w: direct payments are not configured", domain.ErrValidation)
	}
	txn, created, err := uc.ledger.Create(ctx, txIn)
	if err != nil {
		return nil, err
	}
	if !created {
		return uc.replay(ctx, txn, in)
	}
	txn, url, err := uc.checkout.Start(ctx, txn, in.Email)
	if err != nil {
		if txn == nil {
			return nil, err
		}
		if txn.Status == domain.TransactionStatusFailed {
			uc.notifyFailure(ctx, b, txn, in.UserID, err)
		}
		return &PaymentResult{Transaction: txn}, err
	}
	uc.notifier.Notify(ctx, domain.EventPaymentPending, []string{in.UserID}, map[string]string{
		"bill_id":      b.ID,
		"bill_number":  b.BillNumber,
		"reference":    txn.Reference,
		"amount":       txn.Amount.StringFixed(domain.MoneyScale),
		"checkout_url": url,
	})
	return &PaymentResult{Transaction: txn, CheckoutURL: url}, nil
}

func (uc *BillUsecase) replay(ctx context.Context, txn *domain.Transaction, in PayBillInput) (*PaymentResult, error) {
	if txn.BillID == nil || *txn.BillID != in.BillID {
		return nil, fmt.Errorf("%w: key %s belongs to another operation", domain.ErrDuplicateIdempotencyKey, in.IdempotencyKey)
	}
	switch txn.Status {
	case domain.TransactionStatusCompleted:
		return uc.finish(ctx, in.BillID, txn, in.UserID, false)
	case domain.TransactionStatusFailed:
		return &PaymentResult{Transaction: txn, Replayed: true}, txn.Err()
	}
	return &PaymentResult{Transaction: txn, Replayed: true, CheckoutURL: uc.checkout.URL(ctx, txn.ID)}, nil
}

func (uc *BillUsecase) finish(ctx context.Context, billID string, txn *domain.Transaction, payer string, fresh bool) (*PaymentResult, error) {
	res := &PaymentResult{Transaction: txn, Replayed: !fresh}
	if err := uc.SettleCompleted(ctx, txn, fresh); err != nil {
		return res, err
	}
	v, err := uc.Get(ctx, billID, payer)
	if err != nil {
		return res, err
	}
	res.Bill = v
	return res, nil
}

// SettleCompleted applies a COMPLETED bill payment to its bill: the paid
// amount for the bill's category and, for cluster bills, the estate credit.
// Every step is idempotent, so replays and the verification sweep may call
// it again for the same transaction.
func (uc *BillUsecase) SettleCompleted(ctx context.Context, txn *domain.Transaction, notify bool) error {
	if txn.BillID == nil || txn.Type != domain.TransactionTypeBillPayment || txn.Status != domain.TransactionStatusCompleted {
		return nil
	}
	b, err := uc.billRepo.GetByID(ctx, *txn.BillID)
	if err != nil {
		return err
	}
	now := uc.clock.Now()
	if err := uc.aggregationFor(b).record(ctx, b, txn, now); err != nil {
		return fmt.Errorf("failed to record payment on bill %s: %w", b.ID, err)
	}
	if b.Category == domain.BillCategoryClusterManaged {
		if _, err := uc.estate.CreditFromBillPayment(ctx, b, txn); err != nil {
			uc.logger.Error("estate credit failed",
				zap.String("bill_id", b.ID),
				zap.String("transaction_id", txn.ID),
				zap.Error(err))
			return fmt.Errorf("failed to credit estate wallet: %w", err)
		}
	}
	observe("bill.settle", nil)
	if notify {
		uc.notifier.Notify(ctx, domain.EventPaymentSucceeded, []string{txn.Metadata[domain.MetaPayerID]}, map[string]string{
			"bill_id":     b.ID,
			"bill_number": b.BillNumber,
			"reference":   txn.Reference,
			"amount":      txn.Amount.StringFixed(domain.MoneyScale),
		})
	}
	return nil
}

func (uc *BillUsecase) notifyFailure(ctx context.Context, b *domain.Bill, txn *domain.Transaction, payer string, cause error) {
	kind := domain.ClassifyError(cause)
	uc.notifier.Notify(ctx, domain.EventPaymentFailed, []string{payer}, map[string]string{
		"bill_id":     b.ID,
		"bill_number": b.BillNumber,
		"reference":   txn.Reference,
		"error_type":  string(kind),
		"message":     kind.UserMessage(),
	})
}

// Cancel is an admin action on any bill that is not fully paid.
func (uc *BillUsecase) Cancel(ctx context.Context, billID, admin string) (*domain.BillView, error) {
	b, err := uc.load(ctx, billID)
	if err != nil {
		return nil, err
	}
	if b.IsFullyPaid() {
		return nil, domain.ErrAlreadyPaid
	}
	now := uc.clock.Now()
	if err := uc.billRepo.Cancel(ctx, b.ID, now); err != nil {
		return nil, err
	}
	b.CancelledAt = &now
	uc.logger.Info("bill cancelled", zap.String("bill_id", b.ID), zap.String("admin", admin))
	uc.notifier.Notify(ctx, domain.EventBillCancelled, uc.recipients(b), map[string]string{
		"bill_id":     b.ID,
		"bill_number": b.BillNumber,
	})
	return uc.view(ctx, b, "")
}

// RefundPayment reverses one payment on a bill. For cluster bills the estate
// wallet gives the money back first, so a refund never leaves estate revenue
// overstated.
func (uc *BillUsecase) RefundPayment(ctx context.Context, billID, transactionID, admin, reason string) (*domain.Transaction, error) {
	b, err := uc.load(ctx, billID)
	if err != nil {
		return nil, err
	}
	orig, err := uc.ledger.Get(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if orig.BillID == nil || *orig.BillID != b.ID || orig.Type != domain.TransactionTypeBillPayment {
		return nil, fmt.Errorf("%w: transaction %s is not a payment on bill %s", domain.ErrValidation, orig.ID, b.ID)
	}

	var reversal *domain.Transaction
	switch orig.Status {
	case domain.TransactionStatusReversed:
		reversal, err = uc.ledger.GetByIdempotencyKey(ctx, "reverse:"+orig.ID)
		if err != nil {
			return nil, err
		}
	case domain.TransactionStatusCompleted:
		payerWallet, err := uc.wallets.Get(ctx, orig.WalletID)
		if err != nil {
			return nil, err
		}
		if payerWallet.Status == domain.WalletStatusSuspended {
			return nil, fmt.Errorf("%w: payer wallet is suspended", domain.ErrWalletNotActive)
		}
		if b.Category == domain.BillCategoryClusterManaged {
			if _, err := uc.estate.DebitForRefund(ctx, b, orig); err != nil {
				return nil, err
			}
		}
		if reason == "" {
			reason = "Refund for " + b.Title
		}
		if reversal, err = uc.ledger.Reverse(ctx, orig.ID, reason); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: only completed payments can be refunded, %s is %s",
			domain.ErrInvalidTransition, orig.ID, orig.Status)
	}

	if err := uc.aggregationFor(b).unrecord(ctx, b, orig, uc.clock.Now()); err != nil {
		return nil, err
	}
	uc.logger.Info("bill payment refunded",
		zap.String("bill_id", b.ID),
		zap.String("transaction_id", orig.ID),
		zap.String("reversal_id", reversal.ID),
		zap.String("admin", admin))
	uc.notifier.Notify(ctx, domain.EventBillRefunded, []string{orig.Metadata[domain.MetaPayerID]}, map[string]string{
		"bill_id":     b.ID,
		"bill_number": b.BillNumber,
		"reference":   reversal.Reference,
		"amount":      reversal.Amount.StringFixed(domain.MoneyScale),
	})
	return reversal, nil
}

// ProcessOverdue notifies each unpaid bill once when it passes its due date.
func (uc *BillUsecase) ProcessOverdue(ctx context.Context) (int, error) {
	now := uc.clock.Now()
	bills, err := uc.billRepo.ListOpenDueBefore(ctx, now, sweepBatchSize)
	if err != nil {
		return 0, err
	}
	notified := 0
	for _, b := range bills {
		if err := uc.hydrate(ctx, b); err != nil {
			uc.logger.Warn("skipping bill in overdue sweep", zap.String("bill_id", b.ID), zap.Error(err))
			continue
		}
		if !b.IsOverdue(now) {
			continue
		}
		marked, err := uc.billRepo.MarkOverdueNotified(ctx, b.ID, now)
		if err != nil {
			uc.logger.Warn("failed to flag overdue bill", zap.String("bill_id", b.ID), zap.Error(err))
			continue
		}
		if !marked {
			continue
		}
		notified++
		uc.notifier.Notify(ctx, domain.EventBillOverdue, uc.recipients(b), map[string]string{
			"bill_id":          b.ID,
			"bill_number":      b.BillNumber,
			"remaining_amount": b.RemainingAmount().StringFixed(domain.MoneyScale),
			"due_date":         b.DueDate.Format(time.DateOnly),
			"payment_allowed":  fmt.Sprint(b.AllowPaymentAfterDue),
		})
	}
	return notified, nil
}

// SendReminders nudges payers of bills falling due within the window, once
// per bill per window.
func (uc *BillUsecase) SendReminders(ctx context.Context, within time.Duration) (int, error) {
	now := uc.clock.Now()
	bills, err := uc.billRepo.ListOpenDueBefore(ctx, now.Add(within), sweepBatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, b := range bills {
		if !b.DueDate.After(now) {
			continue
		}
		if b.LastReminderAt != nil && b.LastReminderAt.After(b.DueDate.Add(-within)) {
			continue
		}
		if err := uc.hydrate(ctx, b); err != nil || b.IsFullyPaid() {
			continue
		}
		if err := uc.billRepo.MarkReminded(ctx, b.ID, now); err != nil {
			uc.logger.Warn("failed to mark bill reminded", zap.String("bill_id", b.ID), zap.Error(err))
			continue
		}
		sent++
		uc.notifier.Notify(ctx, domain.EventBillReminder, uc.recipients(b), map[string]string{
			"bill_id":          b.ID,
			"bill_number":      b.BillNumber,
			"remaining_amount": b.RemainingAmount().StringFixed(domain.MoneyScale),
			"due_date":         b.DueDate.Format(time.DateOnly),
		})
	}
	return sent, nil
}
