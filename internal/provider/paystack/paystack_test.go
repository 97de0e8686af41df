package paystack

import (
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL, SecretKey: "sk_test", Timeout: time.Second}, zap.NewNop())
}

func TestInitialize(t *testing.T) {
	var got initializeRequest
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/transaction/initialize", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"status":true,"message":"ok","data":{"authorization_url":"https://checkout.paystack.com/abc","access_code":"abc","reference":"TXN-1"}}`))
	})

	session, err := c.Initialize(context.Background(), provider.CheckoutRequest{
		Reference: "TXN-1",
		Amount:    decimal.RequireFromString("1500.50"),
		Currency:  "NGN",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://checkout.paystack.com/abc", session.RedirectURL)
	assert.Equal(t, "TXN-1", session.Reference)
	assert.Equal(t, int64(150050), got.Amount)
	assert.Equal(t, "payments@settlement.local", got.Email)
}

func TestInitializeRejected(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"status":false,"message":"Invalid amount"}`))
	})
	_, err := c.Initialize(context.Background(), provider.CheckoutRequest{Reference: "TXN-1", Amount: decimal.NewFromInt(1)})
	assert.ErrorIs(t, err, domain.ErrGatewayError)
	assert.False(t, provider.IsTimeout(provider.WrapError("initialize", err)))
}

func TestVerify(t *testing.T) {
	cases := []struct {
		body   string
		code   int
		status provider.VerificationStatus
	}{
		{`{"status":true,"data":{"status":"success","reference":"TXN-1","amount":100000,"currency":"NGN"}}`, 200, provider.VerificationSuccess},
		{`{"status":true,"data":{"status":"abandoned","reference":"TXN-1","amount":100000,"currency":"NGN"}}`, 200, provider.VerificationFailed},
		{`{"status":true,"data":{"status":"ongoing","reference":"TXN-1","amount":100000,"currency":"NGN"}}`, 200, provider.VerificationPending},
		{`{"status":false,"message":"Transaction reference not found"}`, 404, provider.VerificationFailed},
	}
	for _, tc := range cases {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/transaction/verify/TXN-1", r.URL.Path)
			w.WriteHeader(tc.code)
			_, _ = w.Write([]byte(tc.body))
		})
		v, err := c.Verify(context.Background(), "TXN-1")
		require.NoError(t, err)
		assert.Equal(t, tc.status, v.Status)
		if tc.code == 200 {
			assert.True(t, decimal.NewFromInt(1000).Equal(v.Amount))
		}
	}
}

func TestVerifyServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"status":false,"message":"upstream"}`))
	})
	_, err := c.Verify(context.Background(), "TXN-1")
	assert.ErrorIs(t, err, domain.ErrGatewayError)
}

func TestVerifyTimeout(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Verify(ctx, "TXN-1")
	require.Error(t, err)
	assert.True(t, provider.IsTimeout(provider.WrapError("verify", err)))
}

func TestValidSignature(t *testing.T) {
	payload := []byte(`{"event":"charge.success","data":{"reference":"TXN-1"}}`)
	mac := hmac.New(sha512.New, []byte("sk_test"))
	mac.Write(payload)
	sig := hex.EncodeToString(mac.Sum(nil))

	c := New(Config{SecretKey: "sk_test"}, zap.NewNop())
	assert.True(t, c.VerifySignature(payload, sig))
	assert.False(t, c.VerifySignature(payload, "deadbeef"))
	assert.False(t, c.VerifySignature([]byte(`{}`), sig))
	assert.False(t, ValidSignature("", payload, sig))
}
