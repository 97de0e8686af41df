package hrest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"
)

func sendSuccess(w http.ResponseWriter, statusCode int, message string, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": true,
		"message": message,
		"data":    data,
	})
}

func sendError(w http.ResponseWriter, statusCode int, message string, err error) {
	sendErrorWithData(w, statusCode, message, err, nil)
}

func sendErrorWithData(w http.ResponseWriter, statusCode int, message string, err error, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	response := map[string]interface{}{
		"success": false,
		"message": message,
	}
	if err != nil {
		response["error"] = err.Error()
	}
	if data != nil {
		response["data"] = data
	}
	_ = json.NewEncoder(w).Encode(response)
}

// statusFor maps the domain error taxonomy to HTTP.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidFreezeAmount):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrLimitExceeded):
		return http.StatusPaymentRequired
	case errors.Is(err, domain.ErrWalletNotActive):
		return http.StatusLocked
	case errors.Is(err, domain.ErrBillNotPayable), errors.Is(err, domain.ErrBillCancelled):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrAlreadyPaid),
		errors.Is(err, domain.ErrDuplicateActiveDispute),
		errors.Is(err, domain.ErrDuplicateIdempotencyKey),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, domain.ErrConflict),
		errors.Is(err, domain.ErrWalletExists):
		return http.StatusConflict
	case provider.IsTimeout(err):
		return http.StatusGatewayTimeout
	case errors.Is(err, domain.ErrGatewayError):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		sendError(w, status, "internal error", nil)
		return
	}
	sendError(w, status, http.StatusText(status), err)
}

// writePaymentError adds the classified failure so clients can tell a
// retryable payment from a final rejection.
func writePaymentError(w http.ResponseWriter, err error, data interface{}) {
	kind := domain.ClassifyError(err)
	status := statusFor(err)
	payload := map[string]interface{}{
		"error_type": kind,
		"can_retry":  kind.CanRetry(),
	}
	if data != nil {
		payload["payment"] = data
	}
	var cause error = err
	if status == http.StatusInternalServerError {
		cause = nil
	}
	sendErrorWithData(w, status, kind.UserMessage(), cause, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return errors.Join(domain.ErrValidation, err)
	}
	return nil
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil && i >= 0 {
			return i
		}
	}
	return fallback
}
