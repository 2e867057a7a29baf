package checkout

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"github.com/vidaleve/backend/internal/models"
)

// stripeAPI records the calls the gateway makes and fails session creation
// when failSession is set.
type stripeAPI struct {
	mu          sync.Mutex
	calls       []string
	coupon      string
	failSession bool
}

func (a *stripeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_ = r.ParseForm()
	a.mu.Lock()
	a.calls = append(a.calls, r.Method+" "+r.URL.Path)
	if r.URL.Path == "/v1/checkout/sessions" {
		a.coupon = r.PostForm.Get("discounts[0][coupon]")
	}
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/v1/coupons":
		_, _ = w.Write([]byte(`{"id":"co_wallet","object":"coupon"}`))
	case r.Method == http.MethodDelete && r.URL.Path == "/v1/coupons/co_wallet":
		_, _ = w.Write([]byte(`{"id":"co_wallet","object":"coupon","deleted":true}`))
	case r.Method == http.MethodPost && r.URL.Path == "/v1/checkout/sessions":
		if a.failSession {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"Invalid currency"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"id":"cs_test_1","object":"checkout.session","url":"https://checkout.stripe.com/c/pay/cs_test_1"}`))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"type":"invalid_request_error","message":"unexpected call"}}`))
	}
}

func newTestGateway(t *testing.T, api *stripeAPI) *StripeGateway {
	t.Helper()
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	})
	sc := client.New("sk_test_gateway", &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return newStripeGateway(sc, "whsec_test", "brl", "https://app.example.com")
}

func walletDiscountRequest() SessionRequest {
	return SessionRequest{
		OrderID:  uuid.New(),
		Items:    []models.OrderItem{{Title: "Kit 1 pote", Price: decimal.RequireFromString("119.00"), Quantity: 1}},
		Discount: decimal.RequireFromString("20.00"),
	}
}

func TestStripeGateway_CreateSessionWithCoupon(t *testing.T) {
	api := &stripeAPI{}
	g := newTestGateway(t, api)

	s, err := g.CreateSession(context.Background(), walletDiscountRequest())
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", s.ID)
	assert.Equal(t, "co_wallet", api.coupon)
	assert.Equal(t, []string{"POST /v1/coupons", "POST /v1/checkout/sessions"}, api.calls)
}

func TestStripeGateway_SessionFailureDeletesCoupon(t *testing.T) {
	api := &stripeAPI{failSession: true}
	g := newTestGateway(t, api)

	_, err := g.CreateSession(context.Background(), walletDiscountRequest())
	require.Error(t, err)
	assert.Equal(t, []string{"POST /v1/coupons", "POST /v1/checkout/sessions", "DELETE /v1/coupons/co_wallet"}, api.calls)

	// Without a discount there is no coupon to clean up.
	api.calls = nil
	req := walletDiscountRequest()
	req.Discount = decimal.Zero
	_, err = g.CreateSession(context.Background(), req)
	require.Error(t, err)
	assert.Equal(t, []string{"POST /v1/checkout/sessions"}, api.calls)
}

func signedEvent(t *testing.T, payload string) (string, string) {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    "whsec_test",
		Timestamp: time.Now(),
	})
	return payload, signed.Header
}

func TestStripeGateway_ParseEvent(t *testing.T) {
	g := newTestGateway(t, &stripeAPI{})

	cases := []struct {
		typ, status string
	}{
		{EventSessionCompleted, PaymentStatusUnpaid},
		{EventAsyncPaymentSucceeded, PaymentStatusPaid},
		{EventAsyncPaymentFailed, PaymentStatusUnpaid},
	}
	for _, tc := range cases {
		t.Run(tc.typ, func(t *testing.T) {
			payload, header := signedEvent(t, `{"id":"evt_1","object":"event","type":"`+tc.typ+
				`","data":{"object":{"id":"cs_test_1","object":"checkout.session","payment_status":"`+tc.status+`"}}}`)
			ev, err := g.ParseEvent([]byte(payload), header)
			require.NoError(t, err)
			assert.Equal(t, tc.typ, ev.Type)
			assert.Equal(t, "cs_test_1", ev.SessionID)
			assert.Equal(t, tc.status, ev.PaymentStatus)
		})
	}

	payload, _ := signedEvent(t, `{"id":"evt_2","object":"event","type":"checkout.session.completed","data":{"object":{}}}`)
	_, err := g.ParseEvent([]byte(payload), "t=1,v1=bad")
	assert.ErrorIs(t, err, ErrInvalidSignature)
}
