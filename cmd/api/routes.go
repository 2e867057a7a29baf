package main

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"

	"github.com/vidaleve/backend/internal/affiliate"
	"github.com/vidaleve/backend/internal/auth"
	"github.com/vidaleve/backend/internal/checkout"
	"github.com/vidaleve/backend/internal/config"
	"github.com/vidaleve/backend/internal/habits"
	"github.com/vidaleve/backend/internal/handlers"
	"github.com/vidaleve/backend/internal/ledger"
	"github.com/vidaleve/backend/internal/metrics"
	"github.com/vidaleve/backend/internal/middleware"
	"github.com/vidaleve/backend/internal/notify"
	"github.com/vidaleve/backend/internal/realtime"
	"github.com/vidaleve/backend/internal/repository"
	"github.com/vidaleve/backend/internal/router"
	"github.com/vidaleve/backend/internal/validation"
)

type appServices struct {
	pool          *pgxpool.Pool
	profiles      *repository.ProfileRepo
	subscriptions *repository.PushRepo
	ledger        *ledger.Service
	affiliates    *affiliate.Service
	habits        *habits.Service
	notify        *notify.Service
	checkout      *checkout.Service
	stripe        *checkout.StripeGateway // nil when Stripe is not configured
	hub           *realtime.Hub
	vapidKey      string
}

// newHTTPHandler builds the handler chain: CORS -> metrics -> route table.
// The returned limiter guards the public webhooks and needs periodic cleanup.
func newHTTPHandler(cfg *config.Config, s appServices, logger *slog.Logger) (http.Handler, *middleware.RateLimiter, error) {
	validator, err := validation.New()
	if err != nil {
		return nil, nil, fmt.Errorf("compile request schemas: %w", err)
	}

	tokens := auth.NewService(cfg.Auth.JWTSecret)
	limiter := middleware.NewRateLimiter(cfg.Server.WebhookRPS, cfg.Server.WebhookBurst, logger)

	checkoutHandler := &handlers.CheckoutHandler{Checkout: s.checkout, Logger: logger}
	if s.stripe != nil {
		checkoutHandler.Events = s.stripe
	}

	h := router.Handlers{
		Kiwify:    &handlers.KiwifyHandler{Ledger: s.ledger, Token: cfg.Kiwify.WebhookToken, Logger: logger},
		Wallet:    &handlers.WalletHandler{Ledger: s.ledger, Logger: logger},
		Checkout:  checkoutHandler,
		Push:      &handlers.PushHandler{Notify: s.notify, Subscriptions: s.subscriptions, VAPIDPublicKey: s.vapidKey, Logger: logger},
		Affiliate: &handlers.AffiliateHandler{Affiliates: s.affiliates, Logger: logger},
		Habits:    &handlers.HabitsHandler{Habits: s.habits, Logger: logger},
		Profile:   &handlers.ProfileHandler{Profiles: s.profiles, Location: cfg.Location(), Logger: logger},
		Realtime:  realtime.NewHandler(s.hub, s.ledger, cfg.Server.AllowedOrigins, logger),
		Health:    handlers.Healthz(s.pool),
		Metrics:   metrics.Handler(),
	}
	m := router.Middleware{
		Authenticate:         middleware.Authenticate(tokens, s.profiles, logger),
		OptionalAuthenticate: middleware.OptionalAuthenticate(tokens, s.profiles, logger),
		CronSecret:           cfg.Auth.CronSecret,
		Validator:            validator,
		WebhookLimiter:       limiter,
	}

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Stripe-Signature", "X-CSRF-Token"},
		AllowCredentials: true,
	}).Handler(metrics.Instrument(router.New(h, m)))

	return corsHandler, limiter, nil
}
