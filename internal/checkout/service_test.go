package checkout

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidaleve/backend/internal/affiliate"
	"github.com/vidaleve/backend/internal/config"
	"github.com/vidaleve/backend/internal/database/dbtest"
	"github.com/vidaleve/backend/internal/ledger"
	"github.com/vidaleve/backend/internal/models"
	"github.com/vidaleve/backend/internal/repository"
)

// ---------------------------------------------------------------------------
// Fakes
// ---------------------------------------------------------------------------

type fakeGateway struct {
	mu       sync.Mutex
	requests []SessionRequest
	expired  []string
	err      error
}

func (g *fakeGateway) CreateSession(_ context.Context, req SessionRequest) (*Session, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.requests = append(g.requests, req)
	id := "cs_test_" + req.OrderID.String()[:8]
	return &Session{ID: id, URL: "https://checkout.stripe.com/c/pay/" + id}, nil
}

func (g *fakeGateway) ExpireSession(_ context.Context, id string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.expired = append(g.expired, id)
	return nil
}

type memOrders struct {
	mu     sync.Mutex
	orders map[string]*models.Order
}

func (m *memOrders) CreateTx(_ context.Context, _ pgx.Tx, o *models.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[*o.ExternalID] = o
	return nil
}

func (m *memOrders) TransitionByExternalIDTx(_ context.Context, _ pgx.Tx, ext, status string) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[ext]
	if !ok || o.Status != models.OrderStatusPending {
		return nil, repository.ErrNotFound
	}
	o.Status = status
	cp := *o
	return &cp, nil
}

type fakeWallets struct {
	mu       sync.Mutex
	balance  decimal.Decimal
	holdErr  error
	refunded []decimal.Decimal
}

func (f *fakeWallets) Wallet(_ context.Context, userID uuid.UUID) (*models.Wallet, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return &models.Wallet{UserID: userID, Balance: f.balance}, nil
}

func (f *fakeWallets) HoldTx(_ context.Context, _ pgx.Tx, _ uuid.UUID, amount decimal.Decimal, _ uuid.UUID, _ string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.holdErr != nil {
		return decimal.Zero, f.holdErr
	}
	f.balance = f.balance.Sub(amount)
	return f.balance, nil
}

func (f *fakeWallets) RefundTx(_ context.Context, _ pgx.Tx, _ uuid.UUID, amount decimal.Decimal, _ uuid.UUID, _ string) (decimal.Decimal, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.balance = f.balance.Add(amount)
	f.refunded = append(f.refunded, amount)
	return f.balance, nil
}

type fakeAffiliates struct {
	codes map[string]bool
	sales []decimal.Decimal
}

func (f *fakeAffiliates) ValidateCode(_ context.Context, code string) (*models.Affiliate, error) {
	if !f.codes[code] {
		return nil, affiliate.ErrUnknownCode
	}
	return &models.Affiliate{Code: code}, nil
}

func (f *fakeAffiliates) RecordSaleTx(_ context.Context, _ pgx.Tx, code string, _ uuid.UUID, amount decimal.Decimal) (*models.AffiliateSale, error) {
	if !f.codes[code] {
		return nil, affiliate.ErrUnknownCode
	}
	f.sales = append(f.sales, amount)
	return &models.AffiliateSale{SaleAmount: amount}, nil
}

type fixture struct {
	svc        *Service
	pool       *dbtest.Pool
	gateway    *fakeGateway
	orders     *memOrders
	wallets    *fakeWallets
	affiliates *fakeAffiliates
}

func newFixture(balance string) *fixture {
	f := &fixture{
		pool:       &dbtest.Pool{},
		gateway:    &fakeGateway{},
		orders:     &memOrders{orders: map[string]*models.Order{}},
		wallets:    &fakeWallets{balance: decimal.RequireFromString(balance)},
		affiliates: &fakeAffiliates{codes: map[string]bool{"ANA123": true}},
	}
	cfg := Config{Pix: map[int]config.PixKit{3: {Code: "000201pix3", Price: decimal.RequireFromString("297.00")}}}
	f.svc = NewService(f.pool, f.orders, f.wallets, f.affiliates, f.gateway, cfg, nil)
	return f
}

func item(title, price string, qty int64) models.OrderItem {
	return models.OrderItem{Title: title, Price: decimal.RequireFromString(price), Quantity: qty}
}

func (f *fixture) onlyOrder(t *testing.T) *models.Order {
	t.Helper()
	require.Len(t, f.orders.orders, 1)
	for _, o := range f.orders.orders {
		return o
	}
	return nil
}

// ---------------------------------------------------------------------------
// CreateCheckout
// ---------------------------------------------------------------------------

func TestCreateCheckout_Anonymous(t *testing.T) {
	f := newFixture("0")
	res, err := f.svc.CreateCheckout(context.Background(), nil, Request{
		Items:         []models.OrderItem{item("Kit 3 potes", "297.00", 1), item("Chá detox", "39.90", 2)},
		AffiliateCode: "ANA123",
	})
	require.NoError(t, err)
	assert.Contains(t, res.URL, "https://checkout.stripe.com/")

	o := f.onlyOrder(t)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Equal(t, "Kit 3 potes (+1)", o.ProductTitle)
	assert.True(t, o.Total.Equal(decimal.RequireFromString("376.80")))
	assert.Nil(t, o.UserID)
	require.NotNil(t, o.AffiliateCode)
	assert.Equal(t, 1, f.pool.Commits())
}

func TestCreateCheckout_WalletDiscountHeld(t *testing.T) {
	f := newFixture("40.00")
	buyer := &Buyer{UserID: uuid.New(), Email: "ana@example.com"}
	_, err := f.svc.CreateCheckout(context.Background(), buyer, Request{
		Items:          []models.OrderItem{item("Kit 1 pote", "119.00", 1)},
		WalletDiscount: decimal.RequireFromString("25.00"),
	})
	require.NoError(t, err)

	assert.True(t, f.wallets.balance.Equal(decimal.RequireFromString("15.00")))
	require.Len(t, f.gateway.requests, 1)
	assert.True(t, f.gateway.requests[0].Discount.Equal(decimal.RequireFromString("25")))
	assert.Equal(t, "ana@example.com", f.gateway.requests[0].CustomerEmail)
	assert.True(t, f.onlyOrder(t).WalletAmount.Equal(decimal.RequireFromString("25")))
}

func TestCreateCheckout_Rejections(t *testing.T) {
	buyer := &Buyer{UserID: uuid.New()}
	cases := []struct {
		name  string
		buyer *Buyer
		req   Request
		want  error
	}{
		{"empty cart", buyer, Request{}, ErrEmptyCart},
		{"zero quantity", buyer, Request{Items: []models.OrderItem{item("x", "10", 0)}}, ErrInvalidItem},
		{"free item", buyer, Request{Items: []models.OrderItem{item("x", "0", 1)}}, ErrInvalidItem},
		{"unknown affiliate", buyer, Request{Items: []models.OrderItem{item("x", "10", 1)}, AffiliateCode: "NOPE"}, affiliate.ErrUnknownCode},
		{"discount needs login", nil, Request{Items: []models.OrderItem{item("x", "10", 1)}, WalletDiscount: decimal.NewFromInt(1)}, ErrAuthRequired},
		{"discount above balance", buyer, Request{Items: []models.OrderItem{item("x", "100", 1)}, WalletDiscount: decimal.NewFromInt(60)}, ledger.ErrInsufficientFunds},
		{"discount leaves under minimum", buyer, Request{Items: []models.OrderItem{item("x", "20.30", 1)}, WalletDiscount: decimal.RequireFromString("20.00")}, ErrDiscountTooLarge},
		{"negative discount", buyer, Request{Items: []models.OrderItem{item("x", "10", 1)}, WalletDiscount: decimal.NewFromInt(-1)}, ledger.ErrInvalidAmount},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture("50")
			_, err := f.svc.CreateCheckout(context.Background(), tc.buyer, tc.req)
			assert.ErrorIs(t, err, tc.want)
			assert.Empty(t, f.gateway.requests, "no session for rejected carts")
			assert.Empty(t, f.orders.orders)
		})
	}
}

func TestCreateCheckout_DiscountLeavingExactMinimum(t *testing.T) {
	f := newFixture("50")
	_, err := f.svc.CreateCheckout(context.Background(), &Buyer{UserID: uuid.New()}, Request{
		Items:          []models.OrderItem{item("x", "20.50", 1)},
		WalletDiscount: decimal.RequireFromString("20.00"),
	})
	require.NoError(t, err)
}

func TestCreateCheckout_HoldFailureExpiresSession(t *testing.T) {
	f := newFixture("30")
	f.wallets.holdErr = ledger.ErrInsufficientFunds
	_, err := f.svc.CreateCheckout(context.Background(), &Buyer{UserID: uuid.New()}, Request{
		Items:          []models.OrderItem{item("x", "100", 1)},
		WalletDiscount: decimal.NewFromInt(30),
	})
	assert.ErrorIs(t, err, ledger.ErrInsufficientFunds)
	require.Len(t, f.gateway.expired, 1)
	assert.Zero(t, f.pool.Commits())
}

func TestCreateCheckout_GatewayUnavailable(t *testing.T) {
	f := newFixture("0")
	f.gateway.err = errors.New("stripe down")
	_, err := f.svc.CreateCheckout(context.Background(), nil, Request{Items: []models.OrderItem{item("x", "10", 1)}})
	assert.Error(t, err)
	assert.Zero(t, f.pool.Begun)

	noStripe := NewService(f.pool, f.orders, f.wallets, f.affiliates, nil, Config{}, nil)
	_, err = noStripe.CreateCheckout(context.Background(), nil, Request{Items: []models.OrderItem{item("x", "10", 1)}})
	assert.ErrorIs(t, err, ErrNotConfigured)
}

// ---------------------------------------------------------------------------
// HandleEvent
// ---------------------------------------------------------------------------

func TestHandleEvent_CompletedRecordsAffiliateSaleOnce(t *testing.T) {
	f := newFixture("10")
	_, err := f.svc.CreateCheckout(context.Background(), &Buyer{UserID: uuid.New()}, Request{
		Items:          []models.OrderItem{item("Kit", "100", 1)},
		AffiliateCode:  "ANA123",
		WalletDiscount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	o := f.onlyOrder(t)

	ev := &Event{ID: "evt_1", Type: EventSessionCompleted, SessionID: *o.ExternalID, PaymentStatus: PaymentStatusPaid}
	outcome, err := f.svc.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, models.OrderStatusPaid, o.Status)
	require.Len(t, f.affiliates.sales, 1)
	assert.True(t, f.affiliates.sales[0].Equal(decimal.NewFromInt(90)), "commission base is the charged amount")

	outcome, err = f.svc.HandleEvent(context.Background(), ev)
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, f.affiliates.sales, 1)
}

func TestHandleEvent_ExpiredRefundsHold(t *testing.T) {
	f := newFixture("10")
	_, err := f.svc.CreateCheckout(context.Background(), &Buyer{UserID: uuid.New()}, Request{
		Items:          []models.OrderItem{item("Kit", "100", 1)},
		WalletDiscount: decimal.NewFromInt(10),
	})
	require.NoError(t, err)
	assert.True(t, f.wallets.balance.IsZero())

	o := f.onlyOrder(t)
	outcome, err := f.svc.HandleEvent(context.Background(), &Event{Type: EventSessionExpired, SessionID: *o.ExternalID})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, models.OrderStatusExpired, o.Status)
	assert.True(t, f.wallets.balance.Equal(decimal.NewFromInt(10)))

	// A late completion for an expired session changes nothing.
	outcome, err = f.svc.HandleEvent(context.Background(), &Event{Type: EventSessionCompleted, SessionID: *o.ExternalID, PaymentStatus: PaymentStatusPaid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, f.wallets.refunded, 1)
}

func TestHandleEvent_AsyncPaymentSucceeded(t *testing.T) {
	f := newFixture("0")
	_, err := f.svc.CreateCheckout(context.Background(), nil, Request{
		Items:         []models.OrderItem{item("Kit", "120", 1)},
		AffiliateCode: "ANA123",
	})
	require.NoError(t, err)
	o := f.onlyOrder(t)

	// Boleto: the session completes before the money arrives.
	outcome, err := f.svc.HandleEvent(context.Background(), &Event{ID: "evt_1", Type: EventSessionCompleted,
		SessionID: *o.ExternalID, PaymentStatus: PaymentStatusUnpaid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingPayment, outcome)
	assert.Equal(t, models.OrderStatusPending, o.Status)
	assert.Empty(t, f.affiliates.sales)
	assert.Equal(t, 1, f.pool.Commits(), "only the checkout transaction committed")

	outcome, err = f.svc.HandleEvent(context.Background(), &Event{ID: "evt_2", Type: EventAsyncPaymentSucceeded,
		SessionID: *o.ExternalID, PaymentStatus: PaymentStatusPaid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, models.OrderStatusPaid, o.Status)
	require.Len(t, f.affiliates.sales, 1)
	assert.True(t, f.affiliates.sales[0].Equal(decimal.NewFromInt(120)))

	outcome, err = f.svc.HandleEvent(context.Background(), &Event{ID: "evt_2", Type: EventAsyncPaymentSucceeded,
		SessionID: *o.ExternalID, PaymentStatus: PaymentStatusPaid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeDuplicate, outcome)
	assert.Len(t, f.affiliates.sales, 1)
}

func TestHandleEvent_AsyncPaymentFailedRefundsHold(t *testing.T) {
	f := newFixture("15")
	_, err := f.svc.CreateCheckout(context.Background(), &Buyer{UserID: uuid.New()}, Request{
		Items:          []models.OrderItem{item("Kit", "100", 1)},
		AffiliateCode:  "ANA123",
		WalletDiscount: decimal.NewFromInt(15),
	})
	require.NoError(t, err)
	o := f.onlyOrder(t)

	outcome, err := f.svc.HandleEvent(context.Background(), &Event{Type: EventSessionCompleted,
		SessionID: *o.ExternalID, PaymentStatus: PaymentStatusUnpaid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeAwaitingPayment, outcome)
	assert.True(t, f.wallets.balance.IsZero(), "hold stays while the payment is pending")

	outcome, err = f.svc.HandleEvent(context.Background(), &Event{Type: EventAsyncPaymentFailed,
		SessionID: *o.ExternalID, PaymentStatus: PaymentStatusUnpaid})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProcessed, outcome)
	assert.Equal(t, models.OrderStatusExpired, o.Status)
	require.Len(t, f.wallets.refunded, 1)
	assert.True(t, f.wallets.balance.Equal(decimal.NewFromInt(15)))
	assert.Empty(t, f.affiliates.sales)
}

func TestHandleEvent_IgnoresOtherTypes(t *testing.T) {
	f := newFixture("0")
	outcome, err := f.svc.HandleEvent(context.Background(), &Event{Type: "payment_intent.created"})
	require.NoError(t, err)
	assert.Equal(t, OutcomeIgnored, outcome)
	assert.Zero(t, f.pool.Begun)
}

// ---------------------------------------------------------------------------
// PIX
// ---------------------------------------------------------------------------

func TestPix(t *testing.T) {
	f := newFixture("0")
	code, err := f.svc.Pix(3)
	require.NoError(t, err)
	assert.Equal(t, "000201pix3", code.Code)

	_, err = f.svc.Pix(5)
	assert.ErrorIs(t, err, ErrUnknownKit)
}

func TestCents(t *testing.T) {
	assert.Equal(t, int64(29700), cents(decimal.RequireFromString("297")))
	assert.Equal(t, int64(3990), cents(decimal.RequireFromString("39.90")))
	assert.Equal(t, int64(1), cents(decimal.RequireFromString("0.005")))
}
