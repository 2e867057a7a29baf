package checkout

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

// ErrInvalidSignature is returned when a webhook payload fails verification.
var ErrInvalidSignature = errors.New("invalid webhook signature")

const (
	EventSessionCompleted      = "checkout.session.completed"
	EventSessionExpired        = "checkout.session.expired"
	EventAsyncPaymentSucceeded = "checkout.session.async_payment_succeeded"
	EventAsyncPaymentFailed    = "checkout.session.async_payment_failed"
)

// StripeGateway creates Checkout Sessions and verifies webhook deliveries.
type StripeGateway struct {
	api           *client.API
	currency      string
	successURL    string
	cancelURL     string
	webhookSecret string
}

func NewStripeGateway(secretKey, webhookSecret, currency, appURL string) *StripeGateway {
	return newStripeGateway(client.New(secretKey, nil), webhookSecret, currency, appURL)
}

func newStripeGateway(api *client.API, webhookSecret, currency, appURL string) *StripeGateway {
	return &StripeGateway{
		api:           api,
		currency:      currency,
		successURL:    appURL + "/checkout/sucesso?session_id={CHECKOUT_SESSION_ID}",
		cancelURL:     appURL + "/carrinho",
		webhookSecret: webhookSecret,
	}
}

var _ Gateway = (*StripeGateway)(nil)

func cents(d decimal.Decimal) int64 {
	return d.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

func (g *StripeGateway) CreateSession(ctx context.Context, req SessionRequest) (*Session, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(g.successURL),
		CancelURL:         stripe.String(g.cancelURL),
		ClientReferenceID: stripe.String(req.OrderID.String()),
		Metadata:          map[string]string{"order_id": req.OrderID.String()},
	}
	params.Context = ctx
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	for _, it := range req.Items {
		product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{Name: stripe.String(it.Title)}
		if it.Image != "" {
			product.Images = []*string{stripe.String(it.Image)}
		}
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(it.Quantity),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(g.currency),
				UnitAmount:  stripe.Int64(cents(it.Price)),
				ProductData: product,
			},
		})
	}
	var couponID string
	if req.Discount.IsPositive() {
		couponParams := &stripe.CouponParams{
			AmountOff:      stripe.Int64(cents(req.Discount)),
			Currency:       stripe.String(g.currency),
			Duration:       stripe.String(string(stripe.CouponDurationOnce)),
			MaxRedemptions: stripe.Int64(1),
			Name:           stripe.String("Saldo da carteira"),
		}
		couponParams.Context = ctx
		coupon, err := g.api.Coupons.New(couponParams)
		if err != nil {
			return nil, fmt.Errorf("create coupon: %w", err)
		}
		couponID = coupon.ID
		params.Discounts = []*stripe.CheckoutSessionDiscountParams{{Coupon: stripe.String(couponID)}}
	}
	s, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		if couponID != "" {
			delParams := &stripe.CouponParams{}
			delParams.Context = ctx
			if _, derr := g.api.Coupons.Del(couponID, delParams); derr != nil {
				err = errors.Join(err, fmt.Errorf("delete coupon %s: %w", couponID, derr))
			}
		}
		return nil, fmt.Errorf("create session: %w", err)
	}
	return &Session{ID: s.ID, URL: s.URL}, nil
}

func (g *StripeGateway) ExpireSession(ctx context.Context, id string) error {
	params := &stripe.CheckoutSessionExpireParams{}
	params.Context = ctx
	_, err := g.api.CheckoutSessions.Expire(id, params)
	return err
}

// ParseEvent verifies the Stripe-Signature header and extracts the session id
// and payment status.
func (g *StripeGateway) ParseEvent(payload []byte, signature string) (*Event, error) {
	ev, err := webhook.ConstructEventWithOptions(payload, signature, g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return nil, errors.Join(ErrInvalidSignature, err)
	}
	out := &Event{ID: ev.ID, Type: string(ev.Type)}
	switch out.Type {
	case EventSessionCompleted, EventSessionExpired, EventAsyncPaymentSucceeded, EventAsyncPaymentFailed:
	default:
		return out, nil
	}
	var s stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	out.SessionID = s.ID
	out.PaymentStatus = string(s.PaymentStatus)
	return out, nil
}
