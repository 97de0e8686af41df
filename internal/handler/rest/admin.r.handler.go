package hrest

import (
	"net/http"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func (h *Handler) adminRoutes(r chi.Router) {
	r.Post("/bills", h.CreateBill)
	r.Post("/bills/{billID}/cancel", h.CancelBill)
	r.Post("/bills/{billID}/refunds", h.RefundBillPayment)
	r.Get("/bills/{billID}/disputes", h.ListBillDisputes)

	r.Post("/disputes/{disputeID}/review", h.ReviewDispute)
	r.Post("/disputes/{disputeID}/resolve", h.ResolveDispute)
	r.Post("/disputes/{disputeID}/reject", h.RejectDispute)

	r.Post("/wallets/{walletID}/status", h.SetWalletStatus)
	r.Post("/wallets/{walletID}/freeze", h.FreezeFunds)
	r.Post("/wallets/{walletID}/unfreeze", h.UnfreezeFunds)
	r.Post("/wallets/{walletID}/credit", h.CreditWallet)

	r.Route("/estates/{estateID}", func(r chi.Router) {
		r.Get("/wallet", h.EstateWallet)
		r.Get("/operations", h.EstateOperations)
		r.Get("/revenue", h.EstateRevenue)
		r.Post("/credits", h.EstateManualCredit)
		r.Post("/transfers", h.EstateTransfer)
	})
}

type createBillRequest struct {
	EstateID               string              `json:"estate_id"`
	UserID                 *string             `json:"user_id,omitempty"`
	Category               domain.BillCategory `json:"category"`
	Type                   domain.BillType     `json:"type"`
	Title                  string              `json:"title"`
	Description            string              `json:"description,omitempty"`
	Amount                 decimal.Decimal     `json:"amount"`
	Currency               string              `json:"currency,omitempty"`
	DueDate                time.Time           `json:"due_date"`
	AllowPaymentAfterDue   bool                `json:"allow_payment_after_due"`
	AcknowledgmentRequired *bool               `json:"acknowledgment_required,omitempty"`
	UtilityProviderCode    *string             `json:"utility_provider_code,omitempty"`
	CustomerID             *string             `json:"customer_id,omitempty"`
}

func (h *Handler) CreateBill(w http.ResponseWriter, r *http.Request) {
	var req createBillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	v, err := h.bills.Create(r.Context(), usecase.CreateBillInput{
		EstateID:               req.EstateID,
		UserID:                 req.UserID,
		Category:               req.Category,
		Type:                   req.Type,
		Title:                  req.Title,
		Description:            req.Description,
		Amount:                 req.Amount,
		Currency:               req.Currency,
		DueDate:                req.DueDate,
		AllowPaymentAfterDue:   req.AllowPaymentAfterDue,
		AcknowledgmentRequired: req.AcknowledgmentRequired,
		UtilityProviderCode:    req.UtilityProviderCode,
		CustomerID:             req.CustomerID,
		CreatedBy:              userFrom(r.Context()),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusCreated, "bill created", v)
}

func (h *Handler) CancelBill(w http.ResponseWriter, r *http.Request) {
	v, err := h.bills.Cancel(r.Context(), chi.URLParam(r, "billID"), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "bill cancelled", v)
}

type refundRequest struct {
	TransactionID string `json:"transaction_id"`
	Reason        string `json:"reason,omitempty"`
}

func (h *Handler) RefundBillPayment(w http.ResponseWriter, r *http.Request) {
	var req refundRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	txn, err := h.bills.RefundPayment(r.Context(), chi.URLParam(r, "billID"), req.TransactionID, userFrom(r.Context()), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "payment refunded", txn)
}

func (h *Handler) ListBillDisputes(w http.ResponseWriter, r *http.Request) {
	ds, err := h.disputes.ListByBill(r.Context(), chi.URLParam(r, "billID"))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "disputes", ds)
}

type notesRequest struct {
	Notes string `json:"notes,omitempty"`
}

func (h *Handler) ReviewDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.disputes.SetUnderReview(r.Context(), chi.URLParam(r, "disputeID"))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "dispute under review", d)
}

func (h *Handler) ResolveDispute(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	d, err := h.disputes.Resolve(r.Context(), chi.URLParam(r, "disputeID"), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "dispute resolved", d)
}

func (h *Handler) RejectDispute(w http.ResponseWriter, r *http.Request) {
	var req notesRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	d, err := h.disputes.Reject(r.Context(), chi.URLParam(r, "disputeID"), req.Notes)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "dispute rejected", d)
}

type walletStatusRequest struct {
	Status domain.WalletStatus `json:"status"`
}

func (h *Handler) SetWalletStatus(w http.ResponseWriter, r *http.Request) {
	var req walletStatusRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	wallet, err := h.wallets.SetStatus(r.Context(), chi.URLParam(r, "walletID"), req.Status, userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "wallet status updated", wallet)
}

type amountRequest struct {
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description,omitempty"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
}

func (h *Handler) FreezeFunds(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	wallet, err := h.wallets.Freeze(r.Context(), chi.URLParam(r, "walletID"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "funds frozen", wallet)
}

func (h *Handler) UnfreezeFunds(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	wallet, err := h.wallets.Unfreeze(r.Context(), chi.URLParam(r, "walletID"), req.Amount)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "funds released", wallet)
}

// CreditWallet records a deposit confirmed outside the gateway, such as a
// bank transfer reconciled by an admin.
func (h *Handler) CreditWallet(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	txn, err := h.wallets.Credit(r.Context(), chi.URLParam(r, "walletID"), req.Amount, req.IdempotencyKey, req.Description)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "wallet credited", txn)
}

func (h *Handler) EstateWallet(w http.ResponseWriter, r *http.Request) {
	wallet, err := h.cluster.EstateWallet(r.Context(), chi.URLParam(r, "estateID"))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "estate wallet", wallet)
}

func (h *Handler) EstateOperations(w http.ResponseWriter, r *http.Request) {
	ops, err := h.cluster.Operations(r.Context(), chi.URLParam(r, "estateID"),
		queryInt(r, "limit", domain.DefaultPageSize), queryInt(r, "offset", 0))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "estate wallet operations", ops)
}

func (h *Handler) EstateRevenue(w http.ResponseWriter, r *http.Request) {
	summary, err := h.cluster.RevenueSummary(r.Context(), chi.URLParam(r, "estateID"), queryInt(r, "days", 30))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "revenue summary", summary)
}

func (h *Handler) EstateManualCredit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	op, err := h.cluster.AddManualCredit(r.Context(), chi.URLParam(r, "estateID"), req.Amount,
		userFrom(r.Context()), req.Description, req.IdempotencyKey)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "estate wallet credited", op)
}

type transferRequest struct {
	DestinationWalletID string          `json:"destination_wallet_id,omitempty"`
	DestinationAccount  string          `json:"destination_account,omitempty"`
	Amount              decimal.Decimal `json:"amount"`
	Description         string          `json:"description,omitempty"`
	IdempotencyKey      string          `json:"idempotency_key,omitempty"`
}

func (h *Handler) EstateTransfer(w http.ResponseWriter, r *http.Request) {
	var req transferRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	estate, err := h.cluster.EstateWallet(r.Context(), chi.URLParam(r, "estateID"))
	if err != nil {
		writeError(w, err)
		return
	}
	op, err := h.cluster.Transfer(r.Context(), domain.TransferRequest{
		EstateWalletID:      estate.ID,
		DestinationWalletID: req.DestinationWalletID,
		DestinationAccount:  req.DestinationAccount,
		Amount:              req.Amount,
		ActingAdmin:         userFrom(r.Context()),
		Description:         req.Description,
		IdempotencyKey:      req.IdempotencyKey,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "transfer recorded", op)
}
