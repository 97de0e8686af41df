package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"go.uber.org/zap"
)

type VerificationConfig struct {
	Timeout    time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// SweepReport counts what one verification pass did.
type SweepReport struct {
	Checked   int      `json:"checked"`
	Completed int      `json:"completed"`
	Failed    int      `json:"failed"`
	Pending   int      `json:"pending"`
	Cancelled int      `json:"cancelled"`
	Errors    []string `json:"errors,omitempty"`
}

// ScheduleSettler hears the gateway's final answer on recurring charges.
type ScheduleSettler interface {
	SettleCharge(ctx context.Context, txn *domain.Transaction) error
}

// VerificationUsecase reconciles DIRECT transactions with the gateway. Only
// the gateway's answer moves a transaction out of PROCESSING.
type VerificationUsecase struct {
	gateway   provider.PaymentGateway
	ledger    *LedgerUsecase
	bills     *BillUsecase
	schedules ScheduleSettler
	utilities *UtilityUsecase
	notifier  Notifier
	cfg       VerificationConfig
	logger    *zap.Logger
}

func NewVerificationUsecase(
	gateway provider.PaymentGateway,
	ledger *LedgerUsecase,
	bills *BillUsecase,
	schedules ScheduleSettler,
	utilities *UtilityUsecase,
	notifier Notifier,
	cfg VerificationConfig,
	logger *zap.Logger,
) *VerificationUsecase {
	if notifier == nil {
		notifier = NopNotifier()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	return &VerificationUsecase{
		gateway:   gateway,
		ledger:    ledger,
		bills:     bills,
		schedules: schedules,
		utilities: utilities,
		notifier:  notifier,
		cfg:       cfg,
		logger:    logger,
	}
}

func (uc *VerificationUsecase) Enabled() bool {
	return uc != nil && uc.gateway != nil
}

// Verify asks the gateway about one reference and applies the answer.
// Verifying an already settled transaction re-runs its idempotent follow-ups
// and returns it unchanged.
func (uc *VerificationUsecase) Verify(ctx context.Context, reference string) (*domain.Transaction, error) {
	if !uc.Enabled() {
		return nil, fmt.Errorf("%w: direct payments are not configured", domain.ErrValidation)
	}
	txn, err := uc.ledger.GetByGatewayReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	switch txn.Status {
	case domain.TransactionStatusCompleted:
		if err := uc.bills.SettleCompleted(ctx, txn, false); err != nil {
			return txn, err
		}
		uc.settleSchedule(ctx, txn)
		return txn, nil
	case domain.TransactionStatusFailed, domain.TransactionStatusCancelled, domain.TransactionStatusReversed:
		uc.settleSchedule(ctx, txn)
		return txn, nil
	}

	vctx, cancel := context.WithTimeout(ctx, uc.cfg.Timeout)
	v, err := uc.gateway.Verify(vctx, reference)
	cancel()
	if err != nil {
		gatewayCalls.WithLabelValues("verify", "error").Inc()
		return txn, provider.WrapError("verify payment", err)
	}
	gatewayCalls.WithLabelValues("verify", "success").Inc()

	switch v.Status {
	case provider.VerificationSuccess:
		if !v.Amount.Equal(txn.Amount) || (v.Currency != "" && v.Currency != txn.Currency) {
			mismatch := &domain.PaymentFailure{
				Type: domain.PaymentErrorValidation,
				Reason: fmt.Sprintf("gateway reported %s %s for %s %s",
					v.Amount.StringFixed(domain.MoneyScale), v.Currency,
					txn.Amount.StringFixed(domain.MoneyScale), txn.Currency),
			}
			uc.logger.Error("gateway amount mismatch",
				zap.String("transaction_id", txn.ID),
				zap.String("reference", reference),
				zap.Error(mismatch))
			return uc.fail(ctx, txn, mismatch)
		}
		return uc.complete(ctx, txn, reference)
	case provider.VerificationFailed:
		reason := v.GatewayResponse
		if reason == "" {
			reason = "payment was declined"
		}
		return uc.fail(ctx, txn, &domain.PaymentFailure{Type: domain.PaymentErrorProvider, Reason: reason})
	}
	return txn, nil
}

func (uc *VerificationUsecase) complete(ctx context.Context, txn *domain.Transaction, reference string) (*domain.Transaction, error) {
	done, changed, err := uc.ledger.Complete(ctx, txn.ID, &reference)
	if err != nil {
		return done, err
	}
	if !changed {
		return done, nil
	}
	uc.logger.Info("direct payment confirmed",
		zap.String("transaction_id", done.ID),
		zap.String("reference", reference),
		zap.String("amount", done.Amount.String()))

	switch {
	case done.BillID != nil:
		if err := uc.bills.SettleCompleted(ctx, done, true); err != nil {
			return done, err
		}
		uc.settleSchedule(ctx, done)
		return done, nil
	case done.Metadata[domain.MetaUtilityProvider] != "":
		if _, err := uc.utilities.Purchase(ctx, done); err != nil {
			if cur, gerr := uc.ledger.Get(ctx, done.ID); gerr == nil {
				uc.settleSchedule(ctx, cur)
			}
			return done, err
		}
	}
	uc.settleSchedule(ctx, done)
	if payer := done.Metadata[domain.MetaPayerID]; payer != "" {
		uc.notifier.Notify(ctx, domain.EventPaymentSucceeded, []string{payer}, map[string]string{
			"transaction_id": done.ID,
			"reference":      done.Reference,
			"amount":         done.Amount.StringFixed(domain.MoneyScale),
		})
	}
	return done, nil
}

func (uc *VerificationUsecase) fail(ctx context.Context, txn *domain.Transaction, cause error) (*domain.Transaction, error) {
	failed, err := uc.ledger.Fail(ctx, txn.ID, cause)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Settled concurrently by the webhook or another sweep.
			return uc.ledger.Get(ctx, txn.ID)
		}
		return nil, err
	}
	uc.settleSchedule(ctx, failed)
	if payer := failed.Metadata[domain.MetaPayerID]; payer != "" {
		kind := domain.ClassifyError(cause)
		data := map[string]string{
			"transaction_id": failed.ID,
			"reference":      failed.Reference,
			"error_type":     string(kind),
			"message":        kind.UserMessage(),
		}
		if failed.BillID != nil {
			data["bill_id"] = *failed.BillID
		}
		uc.notifier.Notify(ctx, domain.EventPaymentFailed, []string{payer}, data)
	}
	return failed, nil
}

// settleSchedule passes a settled recurring charge back to its schedule. A
// failure here is logged only: the next tick replays the charge and settles
// the schedule itself.
func (uc *VerificationUsecase) settleSchedule(ctx context.Context, txn *domain.Transaction) {
	if uc.schedules == nil || txn.RecurringPaymentID == nil {
		return
	}
	if err := uc.schedules.SettleCharge(ctx, txn); err != nil {
		uc.logger.Warn("failed to settle recurring schedule",
			zap.String("transaction_id", txn.ID),
			zap.String("recurring_payment_id", *txn.RecurringPaymentID),
			zap.Error(err))
	}
}

// Sweep verifies DIRECT transactions that have sat unconfirmed for longer
// than the stale window. A stale transaction that never reached the gateway
// is cancelled instead.
func (uc *VerificationUsecase) Sweep(ctx context.Context) (*SweepReport, error) {
	if !uc.Enabled() {
		return &SweepReport{}, nil
	}
	stale, err := uc.ledger.ListStaleDirect(ctx, uc.cfg.StaleAfter, uc.cfg.BatchSize)
	if err != nil {
		return nil, fmt.Errorf("failed to list stale direct transactions: %w", err)
	}
	report := &SweepReport{}
	for _, txn := range stale {
		if ctx.Err() != nil {
			break
		}
		report.Checked++
		if txn.GatewayReference == nil {
			if err := uc.abandon(ctx, txn); err != nil {
				report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", txn.ID, err))
				continue
			}
			report.Cancelled++
			continue
		}
		got, err := uc.Verify(ctx, *txn.GatewayReference)
		if err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("%s: %v", txn.ID, err))
			uc.logger.Warn("verification failed", zap.String("transaction_id", txn.ID), zap.Error(err))
			continue
		}
		switch got.Status {
		case domain.TransactionStatusCompleted:
			report.Completed++
		case domain.TransactionStatusFailed:
			report.Failed++
		default:
			report.Pending++
		}
	}
	if report.Checked > 0 {
		uc.logger.Info("verification sweep finished",
			zap.Int("checked", report.Checked),
			zap.Int("completed", report.Completed),
			zap.Int("failed", report.Failed),
			zap.Int("pending", report.Pending),
			zap.Int("cancelled", report.Cancelled))
	}
	return report, nil
}

// abandon cancels a DIRECT transaction whose checkout was never started.
func (uc *VerificationUsecase) abandon(ctx context.Context, txn *domain.Transaction) error {
	cancelled, err := uc.ledger.Cancel(ctx, txn.ID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			// Picked up by checkout or settled since it was listed.
			return nil
		}
		return err
	}
	uc.logger.Info("abandoned direct payment cancelled",
		zap.String("transaction_id", cancelled.ID),
		zap.String("reference", cancelled.Reference))
	uc.settleSchedule(ctx, cancelled)
	return nil
}

// HandleWebhook treats a gateway callback as a hint only: the reference is
// verified against the gateway before anything changes.
func (uc *VerificationUsecase) HandleWebhook(ctx context.Context, reference string) (*domain.Transaction, error) {
	if reference == "" {
		return nil, fmt.Errorf("%w: webhook without reference", domain.ErrValidation)
	}
	return uc.Verify(ctx, reference)
}
