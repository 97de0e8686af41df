package usecase

import (
	"context"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"go.uber.org/zap"
)

const (
	checkoutCacheNamespace = "checkout"
	checkoutCacheTTL       = time.Hour
)

// CheckoutCache remembers gateway checkout links so a replayed DIRECT payment
// can hand back the same link. *cache.Cache satisfies it.
type CheckoutCache interface {
	Set(ctx context.Context, namespace, key string, value interface{}, ttl time.Duration) error
	Get(ctx context.Context, namespace, key string) (string, error)
}

type CheckoutConfig struct {
	Timeout     time.Duration
	CallbackURL string
}

// CheckoutUsecase opens gateway checkouts for DIRECT payments.
type CheckoutUsecase struct {
	gateway provider.PaymentGateway
	ledger  *LedgerUsecase
	cache   CheckoutCache
	cfg     CheckoutConfig
	logger  *zap.Logger
}

func NewCheckoutUsecase(gateway provider.PaymentGateway, ledger *LedgerUsecase, cache CheckoutCache, cfg CheckoutConfig, logger *zap.Logger) *CheckoutUsecase {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &CheckoutUsecase{gateway: gateway, ledger: ledger, cache: cache, cfg: cfg, logger: logger}
}

func (uc *CheckoutUsecase) Enabled() bool {
	return uc != nil && uc.gateway != nil
}

// Start moves a PENDING DIRECT transaction to PROCESSING under its own
// reference and asks the gateway for a checkout link.
//
// A gateway rejection fails the transaction. A timeout leaves it PROCESSING
// for the verification sweep: the gateway may or may not have the payment.
func (uc *CheckoutUsecase) Start(ctx context.Context, txn *domain.Transaction, email string) (*domain.Transaction, string, error) {
	ref := txn.Reference
	txn, err := uc.ledger.MarkProcessing(ctx, txn.ID, &ref)
	if err != nil {
		return nil, "", err
	}

	gctx, cancel := context.WithTimeout(ctx, uc.cfg.Timeout)
	session, err := uc.gateway.Initialize(gctx, provider.CheckoutRequest{
		Reference:   ref,
		Email:       email,
		Amount:      txn.Amount,
		Currency:    txn.Currency,
		CallbackURL: uc.cfg.CallbackURL,
		Metadata:    txn.Metadata,
	})
	cancel()
	if err != nil {
		err = provider.WrapError("initialize checkout", err)
		gatewayCalls.WithLabelValues("initialize", "error").Inc()
		if provider.IsTimeout(err) {
			uc.logger.Warn("checkout initialization timed out",
				zap.String("transaction_id", txn.ID), zap.String("reference", ref))
			return txn, "", err
		}
		failed, ferr := uc.ledger.Fail(ctx, txn.ID, err)
		if ferr != nil {
			uc.logger.Error("failed to mark transaction failed", zap.String("transaction_id", txn.ID), zap.Error(ferr))
			return txn, "", err
		}
		return failed, "", err
	}
	gatewayCalls.WithLabelValues("initialize", "success").Inc()

	if session.Reference != "" && session.Reference != ref {
		if updated, err := uc.ledger.SetGatewayReference(ctx, txn.ID, session.Reference); err == nil {
			txn = updated
		}
	}
	if uc.cache != nil {
		if err := uc.cache.Set(ctx, checkoutCacheNamespace, txn.ID, session.RedirectURL, checkoutCacheTTL); err != nil {
			uc.logger.Warn("failed to cache checkout url", zap.String("transaction_id", txn.ID), zap.Error(err))
		}
	}
	return txn, session.RedirectURL, nil
}

// URL returns the cached checkout link for a transaction, or "".
func (uc *CheckoutUsecase) URL(ctx context.Context, transactionID string) string {
	if uc == nil || uc.cache == nil {
		return ""
	}
	url, err := uc.cache.Get(ctx, checkoutCacheNamespace, transactionID)
	if err != nil {
		uc.logger.Debug("checkout url lookup failed", zap.String("transaction_id", transactionID), zap.Error(err))
	}
	return url
}
