package hrest

import (
	"net/http"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

func (h *Handler) recurringRoutes(r chi.Router) {
	r.Route("/recurring-payments", func(r chi.Router) {
		r.Get("/", h.ListRecurring)
		r.Post("/", h.CreateRecurring)
		r.Get("/summary", h.RecurringSummary)
		r.Route("/{recurringID}", func(r chi.Router) {
			r.Get("/", h.GetRecurring)
			r.Post("/pause", h.PauseRecurring)
			r.Post("/resume", h.ResumeRecurring)
			r.Post("/cancel", h.CancelRecurring)
		})
	})
}

type createRecurringRequest struct {
	EstateID            string               `json:"estate_id"`
	Title               string               `json:"title"`
	Description         string               `json:"description,omitempty"`
	BillID              *string              `json:"bill_id,omitempty"`
	UtilityProviderCode *string              `json:"utility_provider_code,omitempty"`
	CustomerID          *string              `json:"customer_id,omitempty"`
	Amount              *decimal.Decimal     `json:"amount,omitempty"`
	SpendingLimit       *decimal.Decimal     `json:"spending_limit,omitempty"`
	Frequency           domain.Frequency     `json:"frequency"`
	PaymentSource       domain.PaymentSource `json:"payment_source,omitempty"`
	StartDate           *time.Time           `json:"start_date,omitempty"`
	EndDate             *time.Time           `json:"end_date,omitempty"`
	MaxFailedAttempts   int                  `json:"max_failed_attempts,omitempty"`
	Metadata            map[string]string    `json:"metadata,omitempty"`
}

func (h *Handler) CreateRecurring(w http.ResponseWriter, r *http.Request) {
	var req createRecurringRequest
	if err := decodeJSON(w, r, &req); err != nil {
		sendError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}
	in := usecase.CreateRecurringInput{
		UserID:              userFrom(r.Context()),
		EstateID:            req.EstateID,
		Title:               req.Title,
		Description:         req.Description,
		BillID:              req.BillID,
		UtilityProviderCode: req.UtilityProviderCode,
		CustomerID:          req.CustomerID,
		Amount:              req.Amount,
		SpendingLimit:       req.SpendingLimit,
		Frequency:           req.Frequency,
		PaymentSource:       req.PaymentSource,
		EndDate:             req.EndDate,
		MaxFailedAttempts:   req.MaxFailedAttempts,
		Metadata:            req.Metadata,
	}
	if req.StartDate != nil {
		in.StartDate = *req.StartDate
	}
	rp, err := h.recurring.Create(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusCreated, "recurring payment created", rp)
}

func (h *Handler) ListRecurring(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	list, err := h.recurring.List(r.Context(), domain.RecurringFilter{
		UserID:   userFrom(r.Context()),
		EstateID: q.Get("estate_id"),
		Status:   domain.RecurringStatus(q.Get("status")),
		Limit:    queryInt(r, "limit", domain.DefaultPageSize),
		Offset:   queryInt(r, "offset", 0),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "recurring payments", list)
}

func (h *Handler) RecurringSummary(w http.ResponseWriter, r *http.Request) {
	summary, err := h.recurring.Summary(r.Context(), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "recurring summary", summary)
}

func (h *Handler) GetRecurring(w http.ResponseWriter, r *http.Request) {
	rp, err := h.recurring.Get(r.Context(), chi.URLParam(r, "recurringID"))
	if err != nil {
		writeError(w, err)
		return
	}
	if rp.UserID != userFrom(r.Context()) && !isAdmin(r) {
		writeError(w, domain.ErrNotFound)
		return
	}
	sendSuccess(w, http.StatusOK, "recurring payment", rp)
}

type pauseRequest struct {
	Reason string `json:"reason,omitempty"`
}

func (h *Handler) PauseRecurring(w http.ResponseWriter, r *http.Request) {
	var req pauseRequest
	if r.ContentLength != 0 {
		if err := decodeJSON(w, r, &req); err != nil {
			sendError(w, http.StatusBadRequest, "invalid request body", err)
			return
		}
	}
	rp, err := h.recurring.Pause(r.Context(), chi.URLParam(r, "recurringID"), userFrom(r.Context()), req.Reason)
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "recurring payment paused", rp)
}

func (h *Handler) ResumeRecurring(w http.ResponseWriter, r *http.Request) {
	rp, err := h.recurring.Resume(r.Context(), chi.URLParam(r, "recurringID"), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "recurring payment resumed", rp)
}

func (h *Handler) CancelRecurring(w http.ResponseWriter, r *http.Request) {
	rp, err := h.recurring.Cancel(r.Context(), chi.URLParam(r, "recurringID"), userFrom(r.Context()))
	if err != nil {
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "recurring payment cancelled", rp)
}
