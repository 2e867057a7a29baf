// Package router holds the HTTP route table.
package router

import (
	"net/http"

	"github.com/vidaleve/backend/internal/handlers"
	"github.com/vidaleve/backend/internal/middleware"
	"github.com/vidaleve/backend/internal/validation"
)

// Handlers groups every endpoint the service exposes.
type Handlers struct {
	Kiwify    *handlers.KiwifyHandler
	Wallet    *handlers.WalletHandler
	Checkout  *handlers.CheckoutHandler
	Push      *handlers.PushHandler
	Affiliate *handlers.AffiliateHandler
	Habits    *handlers.HabitsHandler
	Profile   *handlers.ProfileHandler
	Realtime  http.Handler
	Health    http.Handler
	Metrics   http.Handler
}

// Middleware is the request pipeline shared by the routes.
type Middleware struct {
	Authenticate         func(http.Handler) http.Handler
	OptionalAuthenticate func(http.Handler) http.Handler
	CronSecret           string
	Validator            middleware.SchemaValidator
	WebhookLimiter       *middleware.RateLimiter
}

// New returns the route table. The payment and notification endpoints keep
// their root paths; app routes live under /api/v1.
func New(h Handlers, m Middleware) http.Handler {
	mux := http.NewServeMux()

	authed := func(fn http.HandlerFunc) http.Handler { return m.Authenticate(fn) }
	admin := func(fn http.HandlerFunc) http.Handler { return m.Authenticate(middleware.RequireAdmin(fn)) }
	body := func(schema string, next http.Handler) http.Handler {
		return middleware.ValidateBody(m.Validator, schema)(next)
	}
	webhook := func(fn http.HandlerFunc) http.Handler {
		if m.WebhookLimiter == nil {
			return fn
		}
		return m.WebhookLimiter.Handler(fn)
	}

	// Webhooks and edge-function compatible endpoints.
	mux.Handle("POST /kiwify-webhook", webhook(h.Kiwify.Webhook))
	mux.Handle("POST /stripe-webhook", webhook(h.Checkout.StripeWebhook))
	mux.Handle("POST /create-checkout",
		m.OptionalAuthenticate(body(validation.CreateCheckout, http.HandlerFunc(h.Checkout.CreateCheckout))))
	mux.Handle("POST /use-wallet-balance",
		m.Authenticate(body(validation.UseWalletBalance, http.HandlerFunc(h.Wallet.UseBalance))))
	mux.Handle("POST /send-push-notification",
		m.Authenticate(body(validation.SendPushNotification, http.HandlerFunc(h.Push.Send))))
	mux.Handle("POST /expire-wallet-credits",
		middleware.CronOrAdmin(m.CronSecret, m.Authenticate)(http.HandlerFunc(h.Wallet.ExpireCredits)))

	base := "/api/v1"

	mux.Handle("GET "+base+"/profile", authed(h.Profile.Get))
	mux.Handle("PATCH "+base+"/profile",
		m.Authenticate(body(validation.ProfileUpdate, http.HandlerFunc(h.Profile.Update))))

	mux.Handle("GET "+base+"/wallet", authed(h.Wallet.GetWallet))
	mux.Handle("GET "+base+"/wallet/transactions", authed(h.Wallet.ListTransactions))
	if h.Realtime != nil {
		mux.Handle("GET "+base+"/realtime/wallet", m.Authenticate(h.Realtime))
	}

	mux.Handle("GET "+base+"/pix-code", http.HandlerFunc(h.Checkout.PixCode))

	mux.Handle("POST "+base+"/habits/capsule", authed(h.Habits.MarkCapsule))
	mux.Handle("POST "+base+"/habits/water",
		m.Authenticate(body(validation.WaterIntake, http.HandlerFunc(h.Habits.LogWater))))
	mux.Handle("POST "+base+"/completions/{kind}/{itemID}", authed(h.Habits.Complete))
	mux.Handle("GET "+base+"/goal-progress", authed(h.Habits.GoalProgress))
	mux.Handle("GET "+base+"/points", authed(h.Habits.Points))
	mux.Handle("GET "+base+"/rewards", authed(h.Habits.Rewards))
	mux.Handle("POST "+base+"/rewards/{id}/redeem", authed(h.Habits.Redeem))
	mux.Handle("GET "+base+"/recommendations", authed(h.Habits.Recommendations))

	mux.Handle("POST "+base+"/affiliate/register", authed(h.Affiliate.Register))
	mux.Handle("GET "+base+"/affiliate", authed(h.Affiliate.Dashboard))
	mux.Handle("GET "+base+"/affiliate/codes/{code}", http.HandlerFunc(h.Affiliate.ValidateCode))
	mux.Handle("POST "+base+"/affiliate/withdrawals",
		m.Authenticate(body(validation.WithdrawalRequest, http.HandlerFunc(h.Affiliate.RequestWithdrawal))))

	mux.Handle("GET "+base+"/push/vapid-public-key", http.HandlerFunc(h.Push.PublicKey))
	mux.Handle("POST "+base+"/push-subscriptions",
		m.Authenticate(body(validation.PushSubscription, http.HandlerFunc(h.Push.Subscribe))))
	mux.Handle("DELETE "+base+"/push-subscriptions", authed(h.Push.Unsubscribe))
	mux.Handle("GET "+base+"/notification-settings", authed(h.Push.GetSettings))
	mux.Handle("PUT "+base+"/notification-settings",
		m.Authenticate(body(validation.NotificationSettings, http.HandlerFunc(h.Push.PutSettings))))

	mux.Handle("GET "+base+"/admin/withdrawals", admin(h.Affiliate.PendingWithdrawals))
	mux.Handle("POST "+base+"/admin/withdrawals/{id}/{action}", admin(h.Affiliate.ResolveWithdrawal))
	mux.Handle("POST "+base+"/admin/profiles/{id}/approve", admin(h.Profile.Approve))

	if h.Health != nil {
		mux.Handle("GET /healthz", h.Health)
	}
	if h.Metrics != nil {
		mux.Handle("GET /metrics", h.Metrics)
	}
	return mux
}
