package hrest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"
	"settlement-service/internal/repository/memory"
	"settlement-service/internal/usecase"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubSigner struct{ valid string }

func (s stubSigner) VerifySignature(_ []byte, signature string) bool {
	return signature == s.valid
}

// stubGateway answers pending for every reference until confirm is called.
type stubGateway struct {
	mu        sync.Mutex
	confirmed map[string]decimal.Decimal
}

func (g *stubGateway) Initialize(_ context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	return &provider.CheckoutSession{RedirectURL: "https://checkout.test/" + req.Reference, Reference: req.Reference}, nil
}

func (g *stubGateway) Verify(_ context.Context, reference string) (*provider.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if amount, ok := g.confirmed[reference]; ok {
		return &provider.Verification{Reference: reference, Status: provider.VerificationSuccess, Amount: amount, Currency: "NGN"}, nil
	}
	return &provider.Verification{Reference: reference, Status: provider.VerificationPending}, nil
}

func (g *stubGateway) confirm(reference string, amount int64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.confirmed == nil {
		g.confirmed = make(map[string]decimal.Decimal)
	}
	g.confirmed[reference] = decimal.NewFromInt(amount)
}

type envelope struct {
	Success bool            `json:"success"`
	Message string          `json:"message"`
	Error   string          `json:"error"`
	Data    json.RawMessage `json:"data"`
}

type apiFixture struct {
	t       *testing.T
	handler http.Handler
	wallets *usecase.WalletUsecase
	gateway *stubGateway
}

const estateID = "estate-9"

func newAPI(t *testing.T) *apiFixture {
	t.Helper()
	log := zap.NewNop()
	s := memory.NewStore()
	clock := usecase.SystemClock{}
	notifier := usecase.NopNotifier()
	gateway := &stubGateway{}

	ledger := usecase.NewLedgerUsecase(s.Transactions, s.Wallets, s.PaymentErrors, clock, log)
	wallets := usecase.NewWalletUsecase(s.Wallets, ledger, notifier, clock, "NGN", log)
	disputes := usecase.NewDisputeUsecase(s.Disputes, s.Bills, notifier, clock, log)
	cluster := usecase.NewClusterWalletUsecase(s.ClusterOps, wallets, ledger, notifier, clock, log)
	checkout := usecase.NewCheckoutUsecase(gateway, ledger, nil, usecase.CheckoutConfig{}, log)
	utilities := usecase.NewUtilityUsecase(nil, ledger, time.Second, log)
	bills := usecase.NewBillUsecase(s.Bills, s.Disputes, s.Transactions, wallets, ledger, disputes, cluster, checkout, notifier, clock, log)
	recurring := usecase.NewRecurringUsecase(s.Recurring, wallets, bills, ledger, checkout, utilities, notifier, clock,
		usecase.RecurringConfig{Concurrency: 2, BatchSize: 10}, log)
	verification := usecase.NewVerificationUsecase(gateway, ledger, bills, recurring, utilities, notifier, usecase.VerificationConfig{}, log)

	h := NewHandler(Deps{
		Wallets:      wallets,
		Ledger:       ledger,
		Bills:        bills,
		Disputes:     disputes,
		Recurring:    recurring,
		Cluster:      cluster,
		Verification: verification,
		Signer:       stubSigner{valid: "good"},
	}, log)
	return &apiFixture{t: t, handler: h.Router(nil, nil), wallets: wallets, gateway: gateway}
}

func (f *apiFixture) do(method, path, user, role string, body interface{}, headers ...string) (*httptest.ResponseRecorder, envelope) {
	f.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(f.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(headerUserID, user)
	}
	if role != "" {
		req.Header.Set(headerRole, role)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)

	var env envelope
	if rec.Header().Get("Content-Type") == "application/json" {
		require.NoError(f.t, json.Unmarshal(rec.Body.Bytes(), &env))
	}
	return rec, env
}

func (f *apiFixture) provision(user string, balance int64) *domain.Wallet {
	f.t.Helper()
	rec, env := f.do(http.MethodPost, "/api/v1/wallets", user, "", map[string]string{"estate_id": estateID, "currency": "NGN"})
	require.Equal(f.t, http.StatusOK, rec.Code, env.Error)
	var w domain.Wallet
	require.NoError(f.t, json.Unmarshal(env.Data, &w))
	if balance > 0 {
		_, err := f.wallets.Credit(context.Background(), w.ID, decimal.NewFromInt(balance), "seed:"+w.ID, "opening balance")
		require.NoError(f.t, err)
	}
	return &w
}

func (f *apiFixture) createBill(admin string, amount int64) *domain.BillView {
	f.t.Helper()
	rec, env := f.do(http.MethodPost, "/api/v1/admin/bills", admin, roleAdmin, map[string]interface{}{
		"estate_id":               estateID,
		"category":                domain.BillCategoryClusterManaged,
		"type":                    domain.BillTypeSecurity,
		"title":                   "Security levy",
		"amount":                  decimal.NewFromInt(amount),
		"currency":                "NGN",
		"due_date":                time.Now().Add(72 * time.Hour),
		"allow_payment_after_due": true,
		"acknowledgment_required": false,
	})
	require.Equal(f.t, http.StatusCreated, rec.Code, env.Error)
	var v domain.BillView
	require.NoError(f.t, json.Unmarshal(env.Data, &v))
	return &v
}

func TestHealthAndIdentity(t *testing.T) {
	api := newAPI(t)

	rec, _ := api.do(http.MethodGet, "/health", "", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, env := api.do(http.MethodGet, "/api/v1/wallets", "", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.False(t, env.Success)

	rec, _ = api.do(http.MethodGet, "/api/v1/wallets", "not-a-uuid", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/admin/estates/"+estateID+"/wallet", uuid.NewString(), "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestWalletOwnership(t *testing.T) {
	api := newAPI(t)
	owner, other := uuid.NewString(), uuid.NewString()
	w := api.provision(owner, 0)

	rec, _ := api.do(http.MethodGet, "/api/v1/wallets/"+w.ID, owner, "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/wallets/"+w.ID, other, "", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/wallets/"+w.ID, other, roleAdmin, nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = api.do(http.MethodGet, "/api/v1/wallets/missing", owner, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, _ = api.do(http.MethodPost, "/api/v1/wallets", owner, "", map[string]string{"estate_id": estateID, "currency": "NGN", "extra": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPayBillFromWallet(t *testing.T) {
	api := newAPI(t)
	admin, payer := uuid.NewString(), uuid.NewString()
	w := api.provision(payer, 5000)
	bill := api.createBill(admin, 3000)

	rec, env := api.do(http.MethodPost, "/api/v1/bills/"+bill.ID+"/pay", payer, "", map[string]string{}, "Idempotency-Key", "pay-1")
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var res usecase.PaymentResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, domain.TransactionStatusCompleted, res.Transaction.Status)
	assert.False(t, res.Replayed)
	require.NotNil(t, res.Bill)
	assert.Equal(t, domain.BillStatusPaid, res.Bill.Status)

	rec, env = api.do(http.MethodPost, "/api/v1/bills/"+bill.ID+"/pay", payer, "", map[string]string{"idempotency_key": "pay-1"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.True(t, res.Replayed)

	got, err := api.wallets.Get(context.Background(), w.ID)
	require.NoError(t, err)
	assert.True(t, got.Balance.Equal(decimal.NewFromInt(2000)), got.Balance.String())

	rec, env = api.do(http.MethodGet, "/api/v1/admin/estates/"+estateID+"/wallet", admin, roleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var estate domain.Wallet
	require.NoError(t, json.Unmarshal(env.Data, &estate))
	assert.True(t, estate.Balance.Equal(decimal.NewFromInt(3000)), estate.Balance.String())
}

func TestPayBillInsufficientFunds(t *testing.T) {
	api := newAPI(t)
	admin, payer := uuid.NewString(), uuid.NewString()
	api.provision(payer, 100)
	bill := api.createBill(admin, 3000)

	rec, env := api.do(http.MethodPost, "/api/v1/bills/"+bill.ID+"/pay", payer, "", map[string]string{"idempotency_key": "pay-2"})
	require.Equal(t, http.StatusPaymentRequired, rec.Code)
	assert.False(t, env.Success)

	var data map[string]interface{}
	require.NoError(t, json.Unmarshal(env.Data, &data))
	assert.Equal(t, string(domain.PaymentErrorInsufficientFunds), data["error_type"])
	assert.Equal(t, true, data["can_retry"])

	rec, _ = api.do(http.MethodPost, "/api/v1/bills/"+bill.ID+"/pay", payer, "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDisputeLifecycle(t *testing.T) {
	api := newAPI(t)
	admin, payer := uuid.NewString(), uuid.NewString()
	api.provision(payer, 5000)
	bill := api.createBill(admin, 1000)

	rec, env := api.do(http.MethodPost, "/api/v1/bills/"+bill.ID+"/disputes", payer, "", map[string]string{"reason": "already paid in cash"})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var d domain.Dispute
	require.NoError(t, json.Unmarshal(env.Data, &d))

	rec, _ = api.do(http.MethodPost, "/api/v1/bills/"+bill.ID+"/disputes", payer, "", map[string]string{"reason": "again"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, _ = api.do(http.MethodPost, "/api/v1/bills/"+bill.ID+"/pay", payer, "", map[string]string{"idempotency_key": "pay-3"})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	// Decisions need a review first.
	rec, _ = api.do(http.MethodPost, "/api/v1/admin/disputes/"+d.ID+"/resolve", admin, roleAdmin, map[string]string{"notes": "receipt confirmed"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec, env = api.do(http.MethodPost, "/api/v1/admin/disputes/"+d.ID+"/review", admin, roleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = api.do(http.MethodPost, "/api/v1/admin/disputes/"+d.ID+"/resolve", admin, roleAdmin, map[string]string{"notes": "receipt confirmed"})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, _ = api.do(http.MethodPost, "/api/v1/admin/disputes/"+d.ID+"/reject", admin, roleAdmin, map[string]string{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestEstateTransferEndpoint(t *testing.T) {
	api := newAPI(t)
	admin, vendor := uuid.NewString(), uuid.NewString()
	dest := api.provision(vendor, 0)

	rec, env := api.do(http.MethodPost, "/api/v1/admin/estates/"+estateID+"/credits", admin, roleAdmin,
		map[string]interface{}{"amount": decimal.NewFromInt(2000), "description": "levy arrears"}, "Idempotency-Key", "credit-1")
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = api.do(http.MethodPost, "/api/v1/admin/estates/"+estateID+"/transfers", admin, roleAdmin, map[string]interface{}{
		"destination_wallet_id": dest.ID,
		"amount":                decimal.NewFromInt(500),
		"idempotency_key":       "transfer-1",
	})
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = api.do(http.MethodGet, "/api/v1/admin/estates/"+estateID+"/operations", admin, roleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var ops []domain.ClusterWalletOperation
	require.NoError(t, json.Unmarshal(env.Data, &ops))
	assert.Len(t, ops, 2)

	rec, _ = api.do(http.MethodPost, "/api/v1/admin/estates/"+estateID+"/transfers", admin, roleAdmin, map[string]interface{}{
		"destination_wallet_id": dest.ID,
		"amount":                decimal.NewFromInt(50000),
		"idempotency_key":       "transfer-2",
	})
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
}

func TestPaystackWebhook(t *testing.T) {
	api := newAPI(t)
	payload := map[string]interface{}{"event": "charge.success", "data": map[string]string{"reference": "unknown-ref"}}

	rec, _ := api.do(http.MethodPost, "/api/v1/webhooks/paystack", "", "", payload, signatureHeader, "bad")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, env := api.do(http.MethodPost, "/api/v1/webhooks/paystack", "", "", payload, signatureHeader, "good")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, env.Success)
}

func TestPaystackWebhookConfirmsDirectPayment(t *testing.T) {
	api := newAPI(t)
	admin, payer := uuid.NewString(), uuid.NewString()
	api.provision(payer, 0)
	bill := api.createBill(admin, 3000)

	rec, env := api.do(http.MethodPost, "/api/v1/bills/"+bill.ID+"/pay", payer, "", map[string]string{
		"source":          string(domain.PaymentSourceDirect),
		"idempotency_key": "direct-1",
		"email":           "payer@example.com",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, env.Error)
	var res usecase.PaymentResult
	require.NoError(t, json.Unmarshal(env.Data, &res))
	assert.Equal(t, domain.TransactionStatusProcessing, res.Transaction.Status)
	assert.NotEmpty(t, res.CheckoutURL)
	ref := res.Transaction.Reference

	payload := map[string]interface{}{"event": "charge.success", "data": map[string]string{"reference": ref}}
	rec, env = api.do(http.MethodPost, "/api/v1/webhooks/paystack", "", "", payload, signatureHeader, "good")
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	var out struct {
		Status domain.TransactionStatus `json:"status"`
	}
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, domain.TransactionStatusProcessing, out.Status)

	api.gateway.confirm(ref, 3000)
	rec, env = api.do(http.MethodPost, "/api/v1/webhooks/paystack", "", "", payload, signatureHeader, "good")
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &out))
	assert.Equal(t, domain.TransactionStatusCompleted, out.Status)

	rec, env = api.do(http.MethodGet, "/api/v1/admin/estates/"+estateID+"/wallet", admin, roleAdmin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var estate domain.Wallet
	require.NoError(t, json.Unmarshal(env.Data, &estate))
	assert.True(t, estate.Balance.Equal(decimal.NewFromInt(3000)), estate.Balance.String())
}

func TestRecurringEndpoints(t *testing.T) {
	api := newAPI(t)
	admin, user, other := uuid.NewString(), uuid.NewString(), uuid.NewString()
	api.provision(user, 5000)
	bill := api.createBill(admin, 1000)

	rec, env := api.do(http.MethodPost, "/api/v1/recurring-payments", user, "", map[string]interface{}{
		"estate_id": estateID,
		"title":     "Monthly levy",
		"bill_id":   bill.ID,
		"frequency": domain.FrequencyMonthly,
	})
	require.Equal(t, http.StatusCreated, rec.Code, env.Error)
	var rp domain.RecurringPayment
	require.NoError(t, json.Unmarshal(env.Data, &rp))

	rec, _ = api.do(http.MethodGet, "/api/v1/recurring-payments/"+rp.ID, other, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec, env = api.do(http.MethodPost, "/api/v1/recurring-payments/"+rp.ID+"/pause", user, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)
	require.NoError(t, json.Unmarshal(env.Data, &rp))
	assert.Equal(t, domain.RecurringStatusPaused, rp.Status)

	rec, env = api.do(http.MethodPost, "/api/v1/recurring-payments/"+rp.ID+"/resume", user, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, env.Error)

	rec, env = api.do(http.MethodGet, "/api/v1/recurring-payments", user, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []domain.RecurringPayment
	require.NoError(t, json.Unmarshal(env.Data, &list))
	assert.Len(t, list, 1)
}
