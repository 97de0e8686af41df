package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"settlement-service/internal/domain"
	"settlement-service/internal/provider"
	"settlement-service/internal/repository"
	"settlement-service/internal/repository/memory"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fixedClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFixedClock() *fixedClock {
	return &fixedClock{now: time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)}
}

func (c *fixedClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func (c *fixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t
	c.mu.Unlock()
}

type sentNotification struct {
	kind       domain.EventKind
	recipients []string
	data       map[string]string
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []sentNotification
}

func (n *recordingNotifier) Notify(_ context.Context, kind domain.EventKind, recipients []string, data map[string]string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, sentNotification{kind: kind, recipients: recipients, data: data})
}

func (n *recordingNotifier) count(kind domain.EventKind) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	c := 0
	for _, s := range n.sent {
		if s.kind == kind {
			c++
		}
	}
	return c
}

func (n *recordingNotifier) last(kind domain.EventKind) *sentNotification {
	n.mu.Lock()
	defer n.mu.Unlock()
	for i := len(n.sent) - 1; i >= 0; i-- {
		if n.sent[i].kind == kind {
			s := n.sent[i]
			return &s
		}
	}
	return nil
}

type fakeGateway struct {
	mu          sync.Mutex
	initErr     error
	verifyErr   error
	initialized []provider.CheckoutRequest
	results     map[string]*provider.Verification
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{results: make(map[string]*provider.Verification)}
}

func (g *fakeGateway) Initialize(_ context.Context, req provider.CheckoutRequest) (*provider.CheckoutSession, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.initErr != nil {
		return nil, g.initErr
	}
	g.initialized = append(g.initialized, req)
	return &provider.CheckoutSession{
		RedirectURL: "https://checkout.test/" + req.Reference,
		Reference:   req.Reference,
		AccessCode:  "ac_" + req.Reference,
	}, nil
}

func (g *fakeGateway) Verify(_ context.Context, reference string) (*provider.Verification, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.verifyErr != nil {
		return nil, g.verifyErr
	}
	if v, ok := g.results[reference]; ok {
		return v, nil
	}
	return &provider.Verification{Reference: reference, Status: provider.VerificationPending}, nil
}

func (g *fakeGateway) settle(reference string, status provider.VerificationStatus, amount decimal.Decimal) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.results[reference] = &provider.Verification{
		Reference: reference,
		Status:    status,
		Amount:    amount,
		Currency:  "NGN",
	}
}

type fakeUtility struct {
	mu          sync.Mutex
	valid       bool
	validateErr error
	purchaseErr error
	purchases   []provider.PurchaseRequest
}

func (u *fakeUtility) ValidateCustomer(context.Context, string, string) (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.valid, u.validateErr
}

func (u *fakeUtility) Purchase(_ context.Context, req provider.PurchaseRequest) (*provider.PurchaseResult, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.purchaseErr != nil {
		return nil, u.purchaseErr
	}
	u.purchases = append(u.purchases, req)
	return &provider.PurchaseResult{Reference: "VND-" + req.Reference, Token: "1234-5678", Status: "successful"}, nil
}

func (u *fakeUtility) purchaseCount() int {
	u.mu.Lock()
	defer u.mu.Unlock()
	return len(u.purchases)
}

type memCache struct {
	mu     sync.Mutex
	values map[string]string
}

func (c *memCache) Set(_ context.Context, namespace, key string, value interface{}, _ time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.values == nil {
		c.values = make(map[string]string)
	}
	c.values[namespace+":"+key] = value.(string)
	return nil
}

func (c *memCache) Get(_ context.Context, namespace, key string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.values[namespace+":"+key], nil
}

type harness struct {
	store    *repository.Store
	clock    *fixedClock
	notifier *recordingNotifier
	gateway  *fakeGateway
	utility  *fakeUtility

	ledger       *LedgerUsecase
	wallets      *WalletUsecase
	disputes     *DisputeUsecase
	cluster      *ClusterWalletUsecase
	checkout     *CheckoutUsecase
	utilities    *UtilityUsecase
	bills        *BillUsecase
	recurring    *RecurringUsecase
	verification *VerificationUsecase
}

const testEstate = "estate-1"

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    memory.NewStore(),
		clock:    newFixedClock(),
		notifier: &recordingNotifier{},
		gateway:  newFakeGateway(),
		utility:  &fakeUtility{valid: true},
	}
	log := zap.NewNop()
	s := h.store
	h.ledger = NewLedgerUsecase(s.Transactions, s.Wallets, s.PaymentErrors, h.clock, log)
	h.wallets = NewWalletUsecase(s.Wallets, h.ledger, h.notifier, h.clock, "NGN", log)
	h.disputes = NewDisputeUsecase(s.Disputes, s.Bills, h.notifier, h.clock, log)
	h.cluster = NewClusterWalletUsecase(s.ClusterOps, h.wallets, h.ledger, h.notifier, h.clock, log)
	h.checkout = NewCheckoutUsecase(h.gateway, h.ledger, &memCache{}, CheckoutConfig{Timeout: time.Second}, log)
	h.utilities = NewUtilityUsecase(h.utility, h.ledger, time.Second, log)
	h.bills = NewBillUsecase(s.Bills, s.Disputes, s.Transactions, h.wallets, h.ledger, h.disputes, h.cluster, h.checkout, h.notifier, h.clock, log)
	h.recurring = NewRecurringUsecase(s.Recurring, h.wallets, h.bills, h.ledger, h.checkout, h.utilities, h.notifier, h.clock,
		RecurringConfig{Concurrency: 4, BatchSize: 100}, log)
	h.verification = NewVerificationUsecase(h.gateway, h.ledger, h.bills, h.recurring, h.utilities, h.notifier,
		VerificationConfig{Timeout: time.Second, StaleAfter: 10 * time.Minute}, log)
	return h
}

// fund provisions the user's wallet in the test estate with an opening balance.
func (h *harness) fund(t *testing.T, owner string, amount int64) *domain.Wallet {
	t.Helper()
	ctx := context.Background()
	w, err := h.wallets.Provision(ctx, owner, testEstate, "NGN")
	require.NoError(t, err)
	if amount > 0 {
		_, err = h.wallets.Credit(ctx, w.ID, decimal.NewFromInt(amount), "seed:"+uuid.NewString(), "opening balance")
		require.NoError(t, err)
	}
	w, err = h.wallets.Get(ctx, w.ID)
	require.NoError(t, err)
	return w
}

func (h *harness) balance(t *testing.T, walletID string) decimal.Decimal {
	t.Helper()
	w, err := h.wallets.Get(context.Background(), walletID)
	require.NoError(t, err)
	return w.Balance
}

func (h *harness) estateBalance(t *testing.T) decimal.Decimal {
	t.Helper()
	w, err := h.wallets.EstateWallet(context.Background(), testEstate)
	require.NoError(t, err)
	return w.Balance
}

type billOpt func(*CreateBillInput)

func forUser(user string) billOpt {
	return func(in *CreateBillInput) { in.UserID = &user }
}

func userManaged(user string) billOpt {
	return func(in *CreateBillInput) {
		in.UserID = &user
		in.Category = domain.BillCategoryUserManaged
		in.Type = domain.BillTypeElectricityUtil
	}
}

func noAck() billOpt {
	return func(in *CreateBillInput) {
		f := false
		in.AcknowledgmentRequired = &f
	}
}

func dueIn(d time.Duration, allowLate bool) billOpt {
	return func(in *CreateBillInput) {
		in.DueDate = in.DueDate.Add(d - 7*24*time.Hour)
		in.AllowPaymentAfterDue = allowLate
	}
}

func (h *harness) createBill(t *testing.T, amount int64, opts ...billOpt) *domain.Bill {
	t.Helper()
	in := CreateBillInput{
		EstateID:             testEstate,
		Category:             domain.BillCategoryClusterManaged,
		Type:                 domain.BillTypeSecurity,
		Title:                "Security levy",
		Amount:               decimal.NewFromInt(amount),
		Currency:             "NGN",
		DueDate:              h.clock.Now().Add(7 * 24 * time.Hour),
		AllowPaymentAfterDue: true,
		CreatedBy:            "admin-1",
	}
	for _, opt := range opts {
		opt(&in)
	}
	v, err := h.bills.Create(context.Background(), in)
	require.NoError(t, err)
	return v.Bill
}

func amt(v int64) *decimal.Decimal {
	d := decimal.NewFromInt(v)
	return &d
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }
