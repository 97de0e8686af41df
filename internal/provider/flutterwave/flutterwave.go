// Package flutterwave buys utility units (electricity, water, data) through
// the Flutterwave bills API.
package flutterwave

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"go.uber.org/zap"
)

const DefaultBaseURL = "https://api.flutterwave.com/v3"

type Config struct {
	BaseURL   string
	SecretKey string
	Country   string
	Timeout   time.Duration
}

type Client struct {
	cfg        Config
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

var _ provider.UtilityProvider = (*Client)(nil)

func New(cfg Config, logger *zap.Logger) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if cfg.Country == "" {
		cfg.Country = "NG"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &Client{
		cfg:        cfg,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		logger:     logger,
	}
}

type response struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type validateData struct {
	ResponseCode    string `json:"response_code"`
	ResponseMessage string `json:"response_message"`
	Name            string `json:"name"`
	Customer        string `json:"customer"`
}

type billRequest struct {
	Country    string      `json:"country"`
	Customer   string      `json:"customer"`
	Amount     json.Number `json:"amount"`
	Type       string      `json:"type"`
	Reference  string      `json:"reference"`
	Recurrence string      `json:"recurrence"`
}

type billData struct {
	TxRef         string `json:"tx_ref"`
	FlwRef        string `json:"flw_ref"`
	Reference     string `json:"reference"`
	RechargeToken string `json:"recharge_token"`
}

// ValidateCustomer checks a meter or account number against a biller item.
// A rejection by Flutterwave is an invalid customer, not an error.
func (c *Client) ValidateCustomer(ctx context.Context, providerCode, customerID string) (bool, error) {
	q := url.Values{}
	q.Set("customer", customerID)
	path := "/bill-items/" + url.PathEscape(providerCode) + "/validate?" + q.Encode()

	var data validateData
	status, err := c.makeRequest(ctx, http.MethodGet, path, nil, &data)
	if status == http.StatusBadRequest || status == http.StatusNotFound {
		c.logger.Info("utility customer rejected",
			zap.String("provider", providerCode),
			zap.String("customer_id", customerID),
			zap.Error(err))
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return data.ResponseCode == "" || data.ResponseCode == "00", nil
}

func (c *Client) Purchase(ctx context.Context, req provider.PurchaseRequest) (*provider.PurchaseResult, error) {
	body := billRequest{
		Country:    c.cfg.Country,
		Customer:   req.CustomerID,
		Amount:     json.Number(req.Amount.StringFixed(domain.MoneyScale)),
		Type:       req.ProviderCode,
		Reference:  req.Reference,
		Recurrence: "ONCE",
	}
	var data billData
	if _, err := c.makeRequest(ctx, http.MethodPost, "/bills", body, &data); err != nil {
		return nil, err
	}
	ref := data.FlwRef
	if ref == "" {
		ref = data.TxRef
	}
	if ref == "" {
		ref = data.Reference
	}
	return &provider.PurchaseResult{
		Reference: ref,
		Token:     data.RechargeToken,
		Status:    "successful",
	}, nil
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

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	responseBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, err
	}
	var r response
	if err := json.Unmarshal(responseBody, &r); err != nil {
		return resp.StatusCode, fmt.Errorf("%w: flutterwave returned unreadable body (status %d)", domain.ErrGatewayError, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 || r.Status != "success" {
		return resp.StatusCode, fmt.Errorf("%w: flutterwave %s: %d %s", domain.ErrGatewayError, path, resp.StatusCode, r.Message)
	}
	if out != nil && len(r.Data) > 0 {
		if err := json.Unmarshal(r.Data, out); err != nil {
			return resp.StatusCode, fmt.Errorf("%w: failed to parse flutterwave data: %v", domain.ErrGatewayError, err)
		}
	}
	return resp.StatusCode, nil
}
