package hrest

import (
	"net/http"

	"settlement-service/internal/domain"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) walletRoutes(r chi.Router) {
	r.Route("/wallets", func(r chi.Router) {
		r.Get("/", h.ListWallets)
		r.Post("/", h.ProvisionWallet)
		r.Route("/{walletID}", func(r chi.Router) {
			r.Get("/", h.GetWallet)
			r.Get("/summary", h.WalletSummary)
			r.Get("/transactions", h.ListTransactions)
			r.Post("/pin", h.SetPin)
			r.Post("/pin/verify", h.VerifyPin)
		})
	})
	r.Get("/transactions/{transactionID}", h.GetTransaction)
	r.Get("/transactions/verify/{reference}", h.VerifyTransaction)
	r.Get("/payment-errors", h.ListPaymentErrors)
}

// ownedWallet loads a wallet the caller may see. Admins see every wallet.
func (h *Handler) ownedWallet(w http.ResponseWriter, r *http.Request) (*domain.Wallet, bool) {
	wallet, err := h.wallets.Get(r.Context(), chi.URLParam(r, "walletID"))
	if err != nil {
		writeError(w, err)
		return nil, false
	}
	if wallet.OwnerID != userFrom(r.Context()) && !isAdmin(r) {
		writeError(w, domain.ErrNotAuthorized)
		return nil, false
	}
	return wallet, true
}

func (h *Handler) ListWallets(w http.ResponseWriter, r *http.Request) {
	wallets, err := h.wallets.ListForOwner(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "wallets", wallets)
}

type provisionWalletRequest struct {
	EstateID string `json:"estate_id"`
	Currency string `json:"currency"`
}

func (h *Handler) ProvisionWallet(w http.ResponseWriter, r *http.Request) {
	var req provisionWalletRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	wallet, err := h.wallets.Provision(r.Context(), userFrom(r.Context()), req.EstateID, req.Currency)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "wallet ready", wallet)
}

func (h *Handler) GetWallet(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	sendSuccess(w, http.StatusOK, "wallet", wallet)
}

func (h *Handler) WalletSummary(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	summary, err := h.wallets.Summary(r.Context(), wallet.ID)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "wallet summary", summary)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	q := r.URL.Query()
	page, err := h.ledger.List(r.Context(), domain.TransactionFilter{
		WalletID: wallet.ID,
		Type:     domain.TransactionType(q.Get("type")),
		Status:   domain.TransactionStatus(q.Get("status")),
		BillID:   q.Get("bill_id"),
		Limit:    queryInt(r, "limit", domain.DefaultPageSize),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "transactions", page)
}

type pinRequest struct {
	Pin string `json:"pin"`
}

func (h *Handler) SetPin(w http.ResponseWriter, r *http.Request) {
	var req pinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.wallets.SetPin(r.Context(), chi.URLParam(r, "walletID"), userFrom(r.Context()), req.Pin); err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "pin set", nil)
}

func (h *Handler) VerifyPin(w http.ResponseWriter, r *http.Request) {
	wallet, ok := h.ownedWallet(w, r)
	if !ok {
		return
	}
	var req pinRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if err := h.wallets.VerifyPin(r.Context(), wallet.ID, req.Pin); err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "pin verified", nil)
}

// GetTransaction returns a transaction on one of the caller's wallets.
func (h *Handler) GetTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.ledger.Get(r.Context(), chi.URLParam(r, "transactionID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if !isAdmin(r) {
		wallet, err := h.wallets.Get(r.Context(), txn.WalletID)
		if err != nil {
			writeError(w, err)
			return
		}
		if wallet.OwnerID != userFrom(r.Context()) {
			writeError(w, domain.ErrNotFound)
			return
		}
	}
	sendSuccess(w, http.StatusOK, "transaction", txn)
}

// VerifyTransaction is where the checkout callback lands: it confirms the
// payment with the gateway before reporting its state.
func (h *Handler) VerifyTransaction(w http.ResponseWriter, r *http.Request) {
	txn, err := h.verification.Verify(r.Context(), chi.URLParam(r, "reference"))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "transaction "+string(txn.Status), map[string]interface{}{
		"transaction_id": txn.ID,
		"reference":      txn.Reference,
		"status":         txn.Status,
		"amount":         txn.Amount,
	})
}

func (h *Handler) ListPaymentErrors(w http.ResponseWriter, r *http.Request) {
	errs, err := h.ledger.ListPaymentErrors(r.Context(), userFrom(r.Context()), queryInt(r, "limit", domain.DefaultPageSize))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "payment errors", errs)
}
