package hrest

import (
	"errors"
	"net/http"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"
	"settlement-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

func (h *Handler) billRoutes(r chi.Router) {
	r.Route("/bills", func(r chi.Router) {
		r.Get("/", h.ListBills)
		r.Get("/summary", h.BillSummary)
		r.Route("/{billID}", func(r chi.Router) {
			r.Get("/", h.GetBill)
			r.Post("/acknowledge", h.AcknowledgeBill)
			r.Post("/disputes", h.DisputeBill)
			r.Post("/pay", h.PayBill)
		})
	})
	r.Get("/disputes", h.ListMyDisputes)
	r.Post("/disputes/{disputeID}/withdraw", h.WithdrawDispute)
}

func (h *Handler) ListBills(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	estateID := q.Get("estate_id")
	if estateID == "" {
		sendError(w, http.StatusBadRequest, "estate_id is required", nil)
		return
	}
	user := userFrom(r.Context())
	member, err := h.wallets.IsEstateMember(r.Context(), user, estateID)
	if err != nil {
		writeError(w, err)
		return
	}
	if !member && !isAdmin(r) {
		writeError(w, domain.ErrNotAuthorized)
		return
	}
	bills, err := h.bills.List(r.Context(), domain.BillFilter{
		EstateID: estateID,
		Category: domain.BillCategory(q.Get("category")),
		Type:     domain.BillType(q.Get("type")),
		Status:   domain.BillStatus(q.Get("status")),
		Limit:    queryInt(r, "limit", domain.DefaultPageSize),
		Offset:   queryInt(r, "offset", 0),
	}, user)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "bills", bills)
}

func (h *Handler) BillSummary(w http.ResponseWriter, r *http.Request) {
	estateID := r.URL.Query().Get("estate_id")
	if estateID == "" {
		sendError(w, http.StatusBadRequest, "estate_id is required", nil)
		return
	}
	summary, err := h.bills.Summary(r.Context(), estateID, userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "bill summary", summary)
}

func (h *Handler) GetBill(w http.ResponseWriter, r *http.Request) {
	user := userFrom(r.Context())
	billID := chi.URLParam(r, "billID")
	if !isAdmin(r) {
		ok, err := h.bills.CanBePaidBy(r.Context(), billID, user)
		if err != nil {
			writeError(w, err)
			return
		}
		if !ok {
			writeError(w, domain.ErrNotFound)
			return
		}
	}
	v, err := h.bills.Get(r.Context(), billID, user)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "bill", v)
}

func (h *Handler) AcknowledgeBill(w http.ResponseWriter, r *http.Request) {
	v, err := h.bills.Acknowledge(r.Context(), chi.URLParam(r, "billID"), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "bill acknowledged", v)
}

type disputeRequest struct {
	Reason string `json:"reason"`
}

func (h *Handler) DisputeBill(w http.ResponseWriter, r *http.Request) {
	var req disputeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	d, err := h.bills.Dispute(r.Context(), chi.URLParam(r, "billID"), userFrom(r.Context()), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusCreated, "dispute raised", d)
}

type payBillRequest struct {
	Amount         *decimal.Decimal     `json:"amount,omitempty"`
	Source         domain.PaymentSource `json:"source,omitempty"`
	IdempotencyKey string               `json:"idempotency_key,omitempty"`
	Email          string               `json:"email,omitempty"`
}

// PayBill takes the idempotency key from the body or the Idempotency-Key
// header.
func (h *Handler) PayBill(w http.ResponseWriter, r *http.Request) {
	var req payBillRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	if req.IdempotencyKey == "" {
		req.IdempotencyKey = r.Header.Get("Idempotency-Key")
	}
	user := userFrom(r.Context())
	billID := chi.URLParam(r, "billID")

	res, err := h.bills.Pay(r.Context(), usecase.PayBillInput{
		BillID:         billID,
		UserID:         user,
		Amount:         req.Amount,
		Source:         req.Source,
		IdempotencyKey: req.IdempotencyKey,
		Email:          req.Email,
	})
	if err != nil {
		if res != nil && provider.IsTimeout(err) {
			sendSuccess(w, http.StatusAccepted, "payment is being confirmed", res)
			return
		}
		if !errors.Is(err, domain.ErrValidation) && !errors.Is(err, domain.ErrNotFound) {
			h.logger.Warn("bill payment rejected",
				zap.String("bill_id", billID),
				zap.String("user_id", user),
				zap.Error(err))
		}
		var data interface{}
		if res != nil {
			data = res
		}
		writePaymentError(w, err, data)
		return
	}
	if res.CheckoutURL != "" || res.Transaction.Status == domain.TransactionStatusProcessing {
		sendSuccess(w, http.StatusAccepted, "continue to checkout", res)
		return
	}
	sendSuccess(w, http.StatusOK, "payment completed", res)
}

func (h *Handler) ListMyDisputes(w http.ResponseWriter, r *http.Request) {
	ds, err := h.disputes.ListByUser(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "disputes", ds)
}

func (h *Handler) WithdrawDispute(w http.ResponseWriter, r *http.Request) {
	d, err := h.disputes.Withdraw(r.Context(), chi.URLParam(r, "disputeID"), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "dispute withdrawn", d)
}
