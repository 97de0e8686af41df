package usecase

import (
	"context"
	"fmt"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"go.uber.org/zap"
)

// UtilityUsecase wraps the utility vendor with timeouts, metrics and the
// refund-on-rejection rule.
type UtilityUsecase struct {
	utility provider.UtilityProvider
	ledger  *LedgerUsecase
	timeout time.Duration
	logger  *zap.Logger
}

func NewUtilityUsecase(utility provider.UtilityProvider, ledger *LedgerUsecase, timeout time.Duration, logger *zap.Logger) *UtilityUsecase {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &UtilityUsecase{utility: utility, ledger: ledger, timeout: timeout, logger: logger}
}

func (uc *UtilityUsecase) Enabled() bool {
	return uc != nil && uc.utility != nil
}

func (uc *UtilityUsecase) ValidateCustomer(ctx context.Context, providerCode, customerID string) (bool, error) {
	if !uc.Enabled() {
		return false, fmt.Errorf("%w: utility payments are not configured", domain.ErrValidation)
	}
	vctx, cancel := context.WithTimeout(ctx, uc.timeout)
	defer cancel()
	ok, err := uc.utility.ValidateCustomer(vctx, providerCode, customerID)
	if err != nil {
		gatewayCalls.WithLabelValues("validate_customer", "error").Inc()
		return false, provider.WrapError("validate customer", err)
	}
	gatewayCalls.WithLabelValues("validate_customer", "success").Inc()
	return ok, nil
}

// Purchase buys units for a COMPLETED utility payment. A vendor rejection
// reverses the payment. A timeout leaves the outcome unknown: the payment
// stands and pending is true.
func (uc *UtilityUsecase) Purchase(ctx context.Context, txn *domain.Transaction) (pending bool, err error) {
	if !uc.Enabled() {
		return false, fmt.Errorf("%w: utility payments are not configured", domain.ErrValidation)
	}
	pctx, cancel := context.WithTimeout(ctx, uc.timeout)
	res, err := uc.utility.Purchase(pctx, provider.PurchaseRequest{
		ProviderCode: txn.Metadata[domain.MetaUtilityProvider],
		CustomerID:   txn.Metadata[domain.MetaCustomerID],
		Amount:       txn.Amount,
		Reference:    txn.Reference,
	})
	cancel()
	if err != nil {
		err = provider.WrapError("utility purchase", err)
		gatewayCalls.WithLabelValues("purchase", "error").Inc()
		if provider.IsTimeout(err) {
			uc.logger.Warn("utility purchase outcome unknown",
				zap.String("transaction_id", txn.ID), zap.String("reference", txn.Reference))
			return true, nil
		}
		if _, rerr := uc.ledger.Reverse(ctx, txn.ID, "utility purchase failed"); rerr != nil {
			uc.logger.Error("failed to refund rejected utility purchase",
				zap.String("transaction_id", txn.ID), zap.Error(rerr))
		}
		return false, err
	}
	gatewayCalls.WithLabelValues("purchase", "success").Inc()

	if txn.Source == domain.PaymentSourceWallet && res.Reference != "" {
		if _, err := uc.ledger.SetGatewayReference(ctx, txn.ID, res.Reference); err != nil {
			uc.logger.Warn("failed to store utility reference", zap.String("transaction_id", txn.ID), zap.Error(err))
		}
	}
	uc.logger.Info("utility purchased",
		zap.String("transaction_id", txn.ID),
		zap.String("provider", txn.Metadata[domain.MetaUtilityProvider]),
		zap.String("vendor_reference", res.Reference))
	return false, nil
}
