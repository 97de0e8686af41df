package hrest

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"settlement-service/internal/domain"

	"go.uber.org/zap"
)

const signatureHeader = "X-Paystack-Signature"

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		Reference string `json:"reference"`
	} `json:"data"`
}

// PaystackWebhook treats the callback as a hint: the reference is verified
// with the gateway before any transaction changes. Unknown references are
// acknowledged so the gateway stops retrying.
func (h *Handler) PaystackWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		sendError(w, http.StatusBadRequest, "failed to read request body", err)
		return
	}
	if h.signer == nil || !h.signer.VerifySignature(body, r.Header.Get(signatureHeader)) {
		h.logger.Warn("webhook signature rejected", zap.String("remote_addr", r.RemoteAddr))
		sendError(w, http.StatusUnauthorized, "invalid signature", nil)
		return
	}

	var ev paystackEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		sendError(w, http.StatusBadRequest, "invalid webhook payload", err)
		return
	}
	h.logger.Info("gateway webhook received",
		zap.String("event", ev.Event),
		zap.String("reference", ev.Data.Reference))

	txn, err := h.verification.HandleWebhook(r.Context(), ev.Data.Reference)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		sendSuccess(w, http.StatusOK, "reference not tracked", nil)
		return
	case err != nil:
		h.logger.Error("webhook verification failed", zap.String("reference", ev.Data.Reference), zap.Error(err))
		writeError(w, err)
		return
	}
	sendSuccess(w, http.StatusOK, "webhook processed", map[string]interface{}{
		"transaction_id": txn.ID,
		"status":         txn.Status,
	})
}
