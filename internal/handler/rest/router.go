package hrest

import (
	"net/http"
	"time"

	"settlement-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// SignatureVerifier checks a gateway webhook signature.
type SignatureVerifier interface {
	VerifySignature(payload []byte, signature string) bool
}

type Handler struct {
	wallets      *usecase.WalletUsecase
	ledger       *usecase.LedgerUsecase
	bills        *usecase.BillUsecase
	disputes     *usecase.DisputeUsecase
	recurring    *usecase.RecurringUsecase
	cluster      *usecase.ClusterWalletUsecase
	verification *usecase.VerificationUsecase
	signer       SignatureVerifier
	logger       *zap.Logger
}

type Deps struct {
	Wallets      *usecase.WalletUsecase
	Ledger       *usecase.LedgerUsecase
	Bills        *usecase.BillUsecase
	Disputes     *usecase.DisputeUsecase
	Recurring    *usecase.RecurringUsecase
	Cluster      *usecase.ClusterWalletUsecase
	Verification *usecase.VerificationUsecase
	Signer       SignatureVerifier
}

func NewHandler(d Deps, logger *zap.Logger) *Handler {
	return &Handler{
		wallets:      d.Wallets,
		ledger:       d.Ledger,
		bills:        d.Bills,
		disputes:     d.Disputes,
		recurring:    d.Recurring,
		cluster:      d.Cluster,
		verification: d.Verification,
		signer:       d.Signer,
		logger:       logger,
	}
}

// Router builds the HTTP surface. ready reports whether dependencies are up
// for the readiness probe; nil means always ready.
func (h *Handler) Router(allowedOrigins []string, ready func() error) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggerMiddleware(h.logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", headerUserID, headerRole},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if ready != nil {
			if err := ready(); err != nil {
				sendError(w, http.StatusServiceUnavailable, "not ready", err)
				return
			}
		}
		sendSuccess(w, http.StatusOK, "ready", nil)
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/webhooks/paystack", h.PaystackWebhook)

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)
			h.walletRoutes(r)
			h.billRoutes(r)
			h.recurringRoutes(r)

			r.Route("/admin", func(r chi.Router) {
				r.Use(RequireAdmin)
				h.adminRoutes(r)
			})
		})
	})
	return r
}
