// Package paystack is the card gateway adapter for DIRECT payments.
package paystack

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.paystack.co"

type Config struct {
	BaseURL   string
	SecretKey string
	Timeout   time.Duration
	// DefaultEmail is sent when the payer's email is unknown, as for
	// scheduled charges.
	DefaultEmail string
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ provider.PaymentGateway = (*Client)(nil)

func New(cfg Config, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.DefaultEmail == "" {
		cfg.DefaultEmail = "payments@settlement.local"
	}
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

// envelope is the wrapper Paystack puts around every response.
type envelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type initializeRequest struct {
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Email       string            `json:"email"`
	Reference   string            `json:"reference"`
	CallbackURL string            `json:"callback_url,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status          string     `json:"status"`
	Reference       string     `json:"reference"`
	Amount          int64      `json:"amount"`
	Currency        string     `json:"currency"`
	GatewayResponse string     `json:"gateway_response"`
	PaidAt          *time.Time `json:"paid_at"`
}

// Initialize opens a checkout for req. Amounts go over the wire in the
// currency's minor unit.
func (c *Client) Initialize(ctx context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	email := req.Email
	if email == "" {
		email = c.cfg.DefaultEmail
	}
	body := initializeRequest{
		Amount:      toMinor(req.Amount),
		Currency:    req.Currency,
		Email:       email,
		Reference:   req.Reference,
		CallbackURL: req.CallbackURL,
		Metadata:    req.Metadata,
	}
	var data initializeData
	if _, err := c.makeRequest(ctx, http.MethodPost, "/transaction/initialize", body, &data); err != nil {
		return nil, err
	}
	ref := data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return &provider.CheckoutSession{
		RedirectURL: data.AuthorizationURL,
		Reference:   ref,
		AccessCode:  data.AccessCode,
	}, nil
}

// Verify asks Paystack for the final state of a reference. A reference
// Paystack has never seen is reported as failed.
func (c *Client) Verify(ctx context.Context, reference string) (*provider.Verification, error) {
	var data verifyData
	status, err := c.makeRequest(ctx, http.MethodGet, "/transaction/verify/"+url.PathEscape(reference), nil, &data)
	if status == http.StatusNotFound {
		return &provider.Verification{
			Reference:       reference,
			Status:          provider.VerificationFailed,
			GatewayResponse: "transaction reference not found",
		}, nil
	}
	if err != nil {
		return nil, err
	}
	v := &provider.Verification{
		Reference:       data.Reference,
		Amount:          fromMinor(data.Amount),
		Currency:        data.Currency,
		GatewayResponse: data.GatewayResponse,
		PaidAt:          data.PaidAt,
	}
	if v.Reference == "" {
		v.Reference = reference
	}
	switch data.Status {
	case "success":
		v.Status = provider.VerificationSuccess
	case "failed", "abandoned", "reversed":
		v.Status = provider.VerificationFailed
	default:
		v.Status = provider.VerificationPending
	}
	return v, nil
}

// VerifySignature checks the x-paystack-signature header of a webhook body.
func (c *Client) VerifySignature(payload []byte, signature string) bool {
	return ValidSignature(c.cfg.SecretKey, payload, signature)
}

func ValidSignature(secret string, payload []byte, signature string) bool {
	if secret == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha512.New, []byte(secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(strings.ToLower(signature)))
}

func (c *Client) makeRequest(ctx context.Context, method, path string, payload, out interface{}) (int, error) {
	var body io.Reader
	if payload != nil {
		jsonData, err := json.Marshal(payload)
		if err != nil {
			return 0, err
		}
		body = bytes.NewBuffer(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.SecretKey)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	c.logger.Debug("paystack call",
		zap.String("method", method),
		zap.String("path", path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("took", time.Since(start)))

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}

	var env envelope
	if err := json.Unmarshal(responseBody, &env); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: paystack returned unreadable body (status %d)", domain.ErrGatewayError, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !env.Status {
		return resp.StatusCode, fmt.Errorf("%w: paystack %s %s: %d %s", domain.ErrGatewayError, method, path, resp.StatusCode, env.Message)
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: failed to parse paystack data: %v", domain.ErrGatewayError, err)
		}
	}
	return resp.StatusCode, nil
}

func toMinor(amount decimal.Decimal) int64 {
	return amount.Round(domain.MoneyScale).Shift(domain.MoneyScale).IntPart()
}

func fromMinor(v int64) decimal.Decimal {
	return decimal.New(v, -domain.MoneyScale)
}
