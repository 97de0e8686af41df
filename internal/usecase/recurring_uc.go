package usecase

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"
	"settlement-service/internal/repository"
	"settlement-service/pkg/utils"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type RecurringConfig struct {
	Concurrency int
	BatchSize   int
}

type CreateRecurringInput struct {
	UserID              string
	EstateID            string
	Title               string
	Description         string
	BillID              *string
	UtilityProviderCode *string
	CustomerID          *string
	Amount              *decimal.Decimal
	SpendingLimit       *decimal.Decimal
	Frequency           domain.Frequency
	PaymentSource       domain.PaymentSource
	StartDate           time.Time
	EndDate             *time.Time
	MaxFailedAttempts   int
	Metadata            map[string]string
}

type tickOutcome string

const (
	outcomeSucceeded tickOutcome = "succeeded"
	outcomePending   tickOutcome = "pending"
	outcomeSkipped   tickOutcome = "skipped"
	outcomeFailed    tickOutcome = "failed"
	outcomePaused    tickOutcome = "paused"
	outcomeExpired   tickOutcome = "expired"
)

// chargeResult describes one charge attempt. txnFailed means the failure is
// already recorded on a FAILED transaction and its audit record exists.
// awaiting means a DIRECT charge is with the gateway: the due date stays
// open until verification settles it.
type chargeResult struct {
	amount    decimal.Decimal
	skipped   bool
	pending   bool
	awaiting  bool
	txnFailed bool
}

type RecurringUsecase struct {
	repo      repository.RecurringPaymentRepository
	wallets   *WalletUsecase
	bills     *BillUsecase
	ledger    *LedgerUsecase
	checkout  *CheckoutUsecase
	utilities *UtilityUsecase
	notifier  Notifier
	clock     Clock
	cfg       RecurringConfig
	logger    *zap.Logger
}

func NewRecurringUsecase(
	repo repository.RecurringPaymentRepository,
	wallets *WalletUsecase,
	bills *BillUsecase,
	ledger *LedgerUsecase,
	checkout *CheckoutUsecase,
	utilities *UtilityUsecase,
	notifier Notifier,
	clock Clock,
	cfg RecurringConfig,
	logger *zap.Logger,
) *RecurringUsecase {
	if notifier == nil {
		notifier = NopNotifier()
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &RecurringUsecase{
		repo:      repo,
		wallets:   wallets,
		bills:     bills,
		ledger:    ledger,
		checkout:  checkout,
		utilities: utilities,
		notifier:  notifier,
		clock:     clock,
		cfg:       cfg,
		logger:    logger,
	}
}

func (uc *RecurringUsecase) Create(ctx context.Context, in CreateRecurringInput) (*domain.RecurringPayment, error) {
	wallet, err := uc.wallets.GetForOwner(ctx, in.UserID, in.EstateID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: user %s has no wallet in estate %s", domain.ErrNotAuthorized, in.UserID, in.EstateID)
		}
		return nil, err
	}
	now := uc.clock.Now()
	if in.StartDate.IsZero() {
		in.StartDate = now
	}
	if in.MaxFailedAttempts == 0 {
		in.MaxFailedAttempts = domain.DefaultMaxFailedAttempts
	}
	if in.PaymentSource == "" {
		in.PaymentSource = domain.PaymentSourceWallet
	}
	rp := &domain.RecurringPayment{
		ID:                  utils.GenerateID("rcp"),
		UserID:              in.UserID,
		EstateID:            in.EstateID,
		WalletID:            wallet.ID,
		Title:               in.Title,
		Description:         in.Description,
		BillID:              in.BillID,
		UtilityProviderCode: in.UtilityProviderCode,
		CustomerID:          in.CustomerID,
		Amount:              in.Amount,
		SpendingLimit:       in.SpendingLimit,
		Currency:            wallet.Currency,
		Frequency:           in.Frequency,
		PaymentSource:       in.PaymentSource,
		StartDate:           in.StartDate,
		NextPaymentDate:     in.StartDate,
		EndDate:             in.EndDate,
		Status:              domain.RecurringStatusActive,
		MaxFailedAttempts:   in.MaxFailedAttempts,
		TotalAmountPaid:     decimal.Zero,
		Metadata:            in.Metadata,
		Version:             1,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := rp.Validate(); err != nil {
		return nil, err
	}

	switch {
	case rp.IsBillTarget():
		b, err := uc.bills.load(ctx, *rp.BillID)
		if err != nil {
			return nil, err
		}
		if b.EstateID != rp.EstateID {
			return nil, fmt.Errorf("%w: bill %s belongs to another estate", domain.ErrValidation, b.ID)
		}
		if b.IsCancelled() {
			return nil, domain.ErrBillCancelled
		}
		if !b.IsAuthorizedPayer(rp.UserID, true) {
			return nil, fmt.Errorf("%w: user %s cannot pay bill %s", domain.ErrNotAuthorized, rp.UserID, b.BillNumber)
		}
		if rp.Title == "" {
			rp.Title = b.Title
		}
	case rp.IsUtilityTarget():
		ok, err := uc.utilities.ValidateCustomer(ctx, *rp.UtilityProviderCode, *rp.CustomerID)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("%w: customer %s is not known to %s", domain.ErrValidation, *rp.CustomerID, *rp.UtilityProviderCode)
		}
	}

	if err := uc.repo.Create(ctx, rp); err != nil {
		return nil, err
	}
	uc.logger.Info("recurring payment created",
		zap.String("recurring_payment_id", rp.ID),
		zap.String("user_id", rp.UserID),
		zap.String("frequency", string(rp.Frequency)),
		zap.Time("next_payment_date", rp.NextPaymentDate))
	return rp, nil
}

func (uc *RecurringUsecase) Get(ctx context.Context, id string) (*domain.RecurringPayment, error) {
	return uc.repo.GetByID(ctx, id)
}

func (uc *RecurringUsecase) List(ctx context.Context, f domain.RecurringFilter) ([]*domain.RecurringPayment, error) {
	if f.Limit <= 0 || f.Limit > domain.MaxPageSize {
		f.Limit = domain.DefaultPageSize
	}
	return uc.repo.List(ctx, f)
}

func (uc *RecurringUsecase) Summary(ctx context.Context, userID string) (*domain.RecurringSummary, error) {
	s := &domain.RecurringSummary{
		UserID:          userID,
		ByStatus:        make(map[domain.RecurringStatus]int),
		TotalAmountPaid: decimal.Zero,
	}
	for offset := 0; ; offset += domain.MaxPageSize {
		batch, err := uc.repo.List(ctx, domain.RecurringFilter{UserID: userID, Limit: domain.MaxPageSize, Offset: offset})
		if err != nil {
			return nil, err
		}
		for _, rp := range batch {
			s.Total++
			s.ByStatus[rp.Status]++
			s.TotalAmountPaid = s.TotalAmountPaid.Add(rp.TotalAmountPaid)
			if rp.Status == domain.RecurringStatusActive && (s.NextPaymentDate == nil || rp.NextPaymentDate.Before(*s.NextPaymentDate)) {
				next := rp.NextPaymentDate
				s.NextPaymentDate = &next
			}
		}
		if len(batch) < domain.MaxPageSize {
			return s, nil
		}
	}
}

func (uc *RecurringUsecase) owned(ctx context.Context, id, userID string) (*domain.RecurringPayment, error) {
	rp, err := uc.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rp.UserID != userID {
		return nil, fmt.Errorf("%w: recurring payment %s belongs to another user", domain.ErrNotAuthorized, id)
	}
	return rp, nil
}

func (uc *RecurringUsecase) Pause(ctx context.Context, id, userID, reason string) (*domain.RecurringPayment, error) {
	rp, err := uc.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if reason == "" {
		reason = "paused by user"
	}
	if err := rp.Pause(reason, uc.clock.Now()); err != nil {
		return nil, err
	}
	if err := uc.repo.Update(ctx, rp); err != nil {
		return nil, err
	}
	return rp, nil
}

// Resume reactivates a paused payment with a clean failure counter.
func (uc *RecurringUsecase) Resume(ctx context.Context, id, userID string) (*domain.RecurringPayment, error) {
	rp, err := uc.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := rp.Resume(uc.clock.Now()); err != nil {
		return nil, err
	}
	if err := uc.repo.Update(ctx, rp); err != nil {
		return nil, err
	}
	return rp, nil
}

func (uc *RecurringUsecase) Cancel(ctx context.Context, id, userID string) (*domain.RecurringPayment, error) {
	rp, err := uc.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if err := rp.Cancel(uc.clock.Now()); err != nil {
		return nil, err
	}
	if err := uc.repo.Update(ctx, rp); err != nil {
		return nil, err
	}
	return rp, nil
}

// Tick processes every due payment. Items run concurrently and in
// isolation: an error or panic in one is recorded in the report and never
// stops the others.
func (uc *RecurringUsecase) Tick(ctx context.Context) (*domain.TickReport, error) {
	start := time.Now()
	defer func() { paymentDuration.WithLabelValues("recurring.tick").Observe(time.Since(start).Seconds()) }()

	due, err := uc.repo.ListDue(ctx, uc.clock.Now(), uc.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list due recurring payments: %w", err)
	}
	report := &domain.TickReport{Due: len(due)}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(uc.cfg.Concurrency)
	for _, rp := range due {
		rp := rp
		g.Go(func() error {
			outcome, err := uc.safeProcess(gctx, rp)
			recurringOutcomes.WithLabelValues(string(outcomeLabel(outcome, err))).Inc()

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", rp.ID, err))
				return nil
			}
			switch outcome {
			case outcomeSucceeded:
				report.Succeeded++
			case outcomePending:
				report.Pending++
			case outcomeSkipped:
				report.Skipped++
			case outcomeFailed:
				report.Failed++
			case outcomePaused:
				report.Failed++
				report.Paused++
			case outcomeExpired:
				report.Expired++
			}
			return nil
		})
	}
	_ = g.Wait()

	uc.logger.Info("recurring tick finished",
		zap.Int("due", report.Due),
		zap.Int("succeeded", report.Succeeded),
		zap.Int("pending", report.Pending),
		zap.Int("failed", report.Failed),
		zap.Int("paused", report.Paused),
		zap.Int("expired", report.Expired),
		zap.Int("skipped", report.Skipped),
		zap.Int("errors", len(report.Errors)))
	return report, nil
}

func outcomeLabel(o tickOutcome, err error) tickOutcome {
	if err != nil {
		return "error"
	}
	return o
}

func (uc *RecurringUsecase) safeProcess(ctx context.Context, rp *domain.RecurringPayment) (outcome tickOutcome, err error) {
	defer func() {
		if r := recover(); r != nil {
			uc.logger.Error("panic while processing recurring payment",
				zap.String("recurring_payment_id", rp.ID),
				zap.Any("panic", r),
				zap.ByteString("stack", debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return uc.process(ctx, rp)
}

func (uc *RecurringUsecase) process(ctx context.Context, rp *domain.RecurringPayment) (tickOutcome, error) {
	now := uc.clock.Now()
	if rp.IsEnded(now) {
		rp.Expire(now)
		if err := uc.repo.Update(ctx, rp); err != nil {
			return "", err
		}
		uc.notifyExpired(ctx, rp)
		return outcomeExpired, nil
	}

	res, chargeErr := uc.charge(ctx, rp)
	if chargeErr != nil && domain.ClassifyError(chargeErr) == domain.PaymentErrorUnknown {
		// Infrastructure trouble, not a payment failure; retried next tick uncounted.
		return "", chargeErr
	}

	if chargeErr == nil && res.awaiting {
		return outcomePending, nil
	}
	if chargeErr == nil {
		outcome := outcomeSucceeded
		switch {
		case res.skipped:
			rp.Skip(now)
			outcome = outcomeSkipped
		default:
			rp.RecordSuccess(res.amount, now)
			if res.pending {
				outcome = outcomePending
			}
		}
		if err := uc.repo.Update(ctx, rp); err != nil {
			return "", err
		}
		if rp.Status == domain.RecurringStatusExpired {
			uc.notifyExpired(ctx, rp)
		}
		return outcome, nil
	}

	paused := rp.RecordFailure(chargeErr.Error(), now)
	if err := uc.repo.Update(ctx, rp); err != nil {
		return "", err
	}
	uc.logger.Info("recurring payment attempt failed",
		zap.String("recurring_payment_id", rp.ID),
		zap.Int("failed_attempts", rp.FailedAttempts),
		zap.String("error_type", string(domain.ClassifyError(chargeErr))),
		zap.Error(chargeErr))
	if !res.txnFailed {
		amount := res.amount
		if amount.IsZero() && rp.Amount != nil {
			amount = *rp.Amount
		}
		pe := domain.NewPaymentError(utils.GenerateID("perr"), rp.UserID, amount, chargeErr, now)
		pe.RecurringPaymentID = &rp.ID
		pe.BillID = rp.BillID
		uc.ledger.RecordPaymentError(ctx, pe)
	}
	// Failed bill transactions were already announced by the bill usecase.
	if !(res.txnFailed && rp.IsBillTarget()) {
		uc.notifyFailed(ctx, rp, chargeErr)
	}
	if !paused {
		return outcomeFailed, nil
	}
	uc.notifyPaused(ctx, rp)
	return outcomePaused, nil
}

func (uc *RecurringUsecase) notifyFailed(ctx context.Context, rp *domain.RecurringPayment, cause error) {
	kind := domain.ClassifyError(cause)
	uc.notifier.Notify(ctx, domain.EventPaymentFailed, []string{rp.UserID}, map[string]string{
		"recurring_payment_id": rp.ID,
		"title":                rp.Title,
		"error_type":           string(kind),
		"message":              kind.UserMessage(),
		"failed_attempts":      fmt.Sprint(rp.FailedAttempts),
	})
}

func (uc *RecurringUsecase) notifyPaused(ctx context.Context, rp *domain.RecurringPayment) {
	uc.notifier.Notify(ctx, domain.EventRecurringPaused, []string{rp.UserID}, map[string]string{
		"recurring_payment_id": rp.ID,
		"title":                rp.Title,
		"reason":               *rp.PausedReason,
	})
}

// SettleCharge applies the gateway's final answer on a DIRECT charge to the
// schedule that issued it. It only acts while txn is still the charge for the
// current due date, so repeated answers change nothing.
func (uc *RecurringUsecase) SettleCharge(ctx context.Context, txn *domain.Transaction) error {
	if txn.RecurringPaymentID == nil {
		return nil
	}
	rp, err := uc.repo.GetByID(ctx, *txn.RecurringPaymentID)
	if err != nil {
		return err
	}
	if rp.ChargeKey() != txn.IdempotencyKey {
		return nil
	}
	if rp.Status != domain.RecurringStatusActive && rp.Status != domain.RecurringStatusPaused {
		return nil
	}
	now := uc.clock.Now()

	switch txn.Status {
	case domain.TransactionStatusCompleted:
		rp.RecordSuccess(txn.Amount, now)
		if err := uc.repo.Update(ctx, rp); err != nil {
			return err
		}
		recurringOutcomes.WithLabelValues(string(outcomeSucceeded)).Inc()
		if rp.Status == domain.RecurringStatusExpired {
			uc.notifyExpired(ctx, rp)
		}
		return nil
	case domain.TransactionStatusFailed, domain.TransactionStatusCancelled, domain.TransactionStatusReversed:
	default:
		return nil
	}

	cause := txn.Err()
	switch txn.Status {
	case domain.TransactionStatusCancelled:
		cause = &domain.PaymentFailure{Type: domain.PaymentErrorProvider, Reason: "checkout was never completed"}
	case domain.TransactionStatusReversed:
		cause = &domain.PaymentFailure{Type: domain.PaymentErrorProvider, Reason: "utility purchase was refunded"}
	}
	wasActive := rp.Status == domain.RecurringStatusActive
	paused := rp.RecordFailure(cause.Error(), now) && wasActive
	if err := uc.repo.Update(ctx, rp); err != nil {
		return err
	}
	uc.logger.Info("recurring payment charge declined",
		zap.String("recurring_payment_id", rp.ID),
		zap.String("transaction_id", txn.ID),
		zap.Int("failed_attempts", rp.FailedAttempts),
		zap.Error(cause))
	if !paused {
		recurringOutcomes.WithLabelValues(string(outcomeFailed)).Inc()
		return nil
	}
	recurringOutcomes.WithLabelValues(string(outcomePaused)).Inc()
	uc.notifyPaused(ctx, rp)
	return nil
}

func (uc *RecurringUsecase) notifyExpired(ctx context.Context, rp *domain.RecurringPayment) {
	uc.notifier.Notify(ctx, domain.EventRecurringExpired, []string{rp.UserID}, map[string]string{
		"recurring_payment_id": rp.ID,
		"title":                rp.Title,
		"total_payments":       fmt.Sprint(rp.TotalPayments),
	})
}

func (uc *RecurringUsecase) checkLimit(rp *domain.RecurringPayment, amount decimal.Decimal) error {
	if rp.SpendingLimit != nil && amount.GreaterThan(*rp.SpendingLimit) {
		return &domain.PaymentFailure{
			Type:   domain.PaymentErrorLimitExceeded,
			Reason: fmt.Sprintf("amount %s exceeds spending limit %s", amount.StringFixed(domain.MoneyScale), rp.SpendingLimit.StringFixed(domain.MoneyScale)),
		}
	}
	return nil
}

// charge runs one attempt for the current due date. A key that already has
// a transaction replays it rather than re-checking the gates, so a tick that
// crashed after charging picks up where it left off.
func (uc *RecurringUsecase) charge(ctx context.Context, rp *domain.RecurringPayment) (chargeResult, error) {
	key := rp.ChargeKey()
	existing, err := uc.ledger.GetByIdempotencyKey(ctx, key)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return chargeResult{}, err
	}
	if rp.IsBillTarget() {
		return uc.chargeBill(ctx, rp, key, existing)
	}
	return uc.chargeUtility(ctx, rp, key, existing)
}

func (uc *RecurringUsecase) chargeBill(ctx context.Context, rp *domain.RecurringPayment, key string, existing *domain.Transaction) (chargeResult, error) {
	in := PayBillInput{
		BillID:             *rp.BillID,
		UserID:             rp.UserID,
		Source:             rp.PaymentSource,
		IdempotencyKey:     key,
		RecurringPaymentID: &rp.ID,
	}
	if existing == nil {
		b, err := uc.bills.load(ctx, *rp.BillID)
		if err != nil {
			return chargeResult{}, err
		}
		if b.IsFullyPaid() && !b.IsCancelled() {
			return chargeResult{skipped: true}, nil
		}
		if err := uc.bills.checkPayable(ctx, b, rp.UserID); err != nil {
			return chargeResult{}, err
		}
		amount := b.RemainingAmount()
		if rp.Amount != nil {
			amount = domain.MinAmount(*rp.Amount, amount)
		}
		if err := uc.checkLimit(rp, amount); err != nil {
			return chargeResult{amount: amount}, err
		}
		in.Amount = &amount
	}

	res, err := uc.bills.Pay(ctx, in)
	if err != nil {
		var txn *domain.Transaction
		if res != nil {
			txn = res.Transaction
		}
		if txn != nil && provider.IsTimeout(err) && !txn.Status.IsTerminal() {
			return chargeResult{amount: txn.Amount, awaiting: true}, nil
		}
		r := chargeResult{}
		if txn != nil {
			r.amount = txn.Amount
			r.txnFailed = txn.Status == domain.TransactionStatusFailed
		}
		return r, err
	}
	switch res.Transaction.Status {
	case domain.TransactionStatusCancelled:
		return chargeResult{amount: res.Transaction.Amount}, &domain.PaymentFailure{Type: domain.PaymentErrorProvider, Reason: "checkout was never completed"}
	case domain.TransactionStatusReversed:
		return chargeResult{amount: res.Transaction.Amount}, &domain.PaymentFailure{Type: domain.PaymentErrorProvider, Reason: "payment was refunded"}
	}
	return chargeResult{
		amount:   res.Transaction.Amount,
		awaiting: res.Transaction.Status != domain.TransactionStatusCompleted,
	}, nil
}

func (uc *RecurringUsecase) chargeUtility(ctx context.Context, rp *domain.RecurringPayment, key string, existing *domain.Transaction) (chargeResult, error) {
	amount := *rp.Amount
	if existing == nil {
		if err := uc.checkLimit(rp, amount); err != nil {
			return chargeResult{amount: amount}, err
		}
		ok, err := uc.utilities.ValidateCustomer(ctx, *rp.UtilityProviderCode, *rp.CustomerID)
		if err != nil {
			return chargeResult{amount: amount}, err
		}
		if !ok {
			return chargeResult{amount: amount}, &domain.PaymentFailure{
				Type:   domain.PaymentErrorInvalidCustomer,
				Reason: fmt.Sprintf("customer %s was rejected by %s", *rp.CustomerID, *rp.UtilityProviderCode),
			}
		}
	}

	in := TransactionInput{
		WalletID:           rp.WalletID,
		Type:               domain.TransactionTypePayment,
		Source:             rp.PaymentSource,
		Amount:             amount,
		IdempotencyKey:     key,
		RecurringPaymentID: &rp.ID,
		Description:        rp.Title,
		Metadata: map[string]string{
			domain.MetaUtilityProvider: *rp.UtilityProviderCode,
			domain.MetaCustomerID:      *rp.CustomerID,
			domain.MetaPayerID:         rp.UserID,
		},
	}
	if rp.PaymentSource == domain.PaymentSourceDirect {
		return uc.chargeUtilityDirect(ctx, rp, in)
	}

	txn, created, err := uc.ledger.Execute(ctx, in)
	if txn == nil {
		return chargeResult{amount: amount}, err
	}
	if err != nil {
		return chargeResult{amount: amount, txnFailed: true}, err
	}
	switch {
	case txn.Status == domain.TransactionStatusReversed:
		return chargeResult{amount: amount}, &domain.PaymentFailure{Type: domain.PaymentErrorProvider, Reason: "utility purchase was refunded"}
	case !created:
		// Purchased already, or its outcome is unknown; never buy twice.
		return chargeResult{amount: amount, pending: txn.GatewayReference == nil}, nil
	}
	pending, err := uc.utilities.Purchase(ctx, txn)
	if err != nil {
		return chargeResult{amount: amount}, err
	}
	return chargeResult{amount: amount, pending: pending}, nil
}

func (uc *RecurringUsecase) chargeUtilityDirect(ctx context.Context, rp *domain.RecurringPayment, in TransactionInput) (chargeResult, error) {
	if !uc.checkout.Enabled() {
		return chargeResult{amount: in.Amount}, fmt.Errorf("%w: direct payments are not configured", domain.ErrValidation)
	}
	txn, created, err := uc.ledger.Create(ctx, in)
	if err != nil {
		return chargeResult{amount: in.Amount}, err
	}
	if !created {
		switch txn.Status {
		case domain.TransactionStatusCompleted:
			return chargeResult{amount: in.Amount}, nil
		case domain.TransactionStatusFailed:
			return chargeResult{amount: in.Amount, txnFailed: true}, txn.Err()
		case domain.TransactionStatusCancelled:
			return chargeResult{amount: in.Amount}, &domain.PaymentFailure{Type: domain.PaymentErrorProvider, Reason: "checkout was never completed"}
		case domain.TransactionStatusReversed:
			return chargeResult{amount: in.Amount}, &domain.PaymentFailure{Type: domain.PaymentErrorProvider, Reason: "utility purchase was refunded"}
		}
		return chargeResult{amount: in.Amount, awaiting: true}, nil
	}
	txn, url, err := uc.checkout.Start(ctx, txn, "")
	if err != nil {
		if provider.IsTimeout(err) {
			return chargeResult{amount: in.Amount, awaiting: true}, nil
		}
		return chargeResult{amount: in.Amount, txnFailed: txn != nil && txn.Status == domain.TransactionStatusFailed}, err
	}
	uc.notifier.Notify(ctx, domain.EventPaymentPending, []string{rp.UserID}, map[string]string{
		"recurring_payment_id": rp.ID,
		"title":                rp.Title,
		"reference":            txn.Reference,
		"amount":               txn.Amount.StringFixed(domain.MoneyScale),
		"checkout_url":         url,
	})
	return chargeResult{amount: in.Amount, awaiting: true}, nil
}

// SendReminders notifies owners of payments falling due within the window,
// once per due date.
func (uc *RecurringUsecase) SendReminders(ctx context.Context, within time.Duration) (int, error) {
	now := uc.clock.Now()
	upcoming, err := uc.repo.ListUpcoming(ctx, now, now.Add(within), uc.cfg.BatchSize)
	if err != nil {
		return 0, err
	}
	sent := 0
	for _, rp := range upcoming {
		if rp.LastReminderAt != nil && rp.LastReminderAt.After(rp.NextPaymentDate.Add(-within)) {
			continue
		}
		rp.LastReminderAt = &now
		if err := uc.repo.Update(ctx, rp); err != nil {
			uc.logger.Warn("failed to mark recurring payment reminded",
				zap.String("recurring_payment_id", rp.ID), zap.Error(err))
			continue
		}
		sent++
		data := map[string]string{
			"recurring_payment_id": rp.ID,
			"title":                rp.Title,
			"next_payment_date":    rp.NextPaymentDate.Format(time.DateOnly),
		}
		if rp.Amount != nil {
			data["amount"] = rp.Amount.StringFixed(domain.MoneyScale)
		}
		uc.notifier.Notify(ctx, domain.EventRecurringReminder, []string{rp.UserID}, data)
	}
	return sent, nil
}
