package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/shopspring/decimal"

	"github.com/vidaleve/backend/internal/affiliate"
	"github.com/vidaleve/backend/internal/checkout"
	"github.com/vidaleve/backend/internal/config"
	"github.com/vidaleve/backend/internal/database"
	"github.com/vidaleve/backend/internal/habits"
	"github.com/vidaleve/backend/internal/jobs"
	"github.com/vidaleve/backend/internal/ledger"
	"github.com/vidaleve/backend/internal/notify"
	"github.com/vidaleve/backend/internal/realtime"
	"github.com/vidaleve/backend/internal/repository"
	"github.com/vidaleve/backend/internal/webpush"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)
	decimal.MarshalJSONWithoutQuotes = true

	cfg, err := config.Load("")
	if err != nil {
		slog.Error("Invalid configuration", "error", err)
		os.Exit(1)
	}
	loc := cfg.Location()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := database.Open(ctx, cfg.Database.URL, cfg.Database.MaxConns)
	if err != nil {
		slog.Error("Cannot reach PostgreSQL. Ensure Postgres is running and DATABASE_URL is set", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("Connected to PostgreSQL")

	if cfg.Database.RunMigrations {
		if err := database.Migrate(cfg.Database.URL); err != nil {
			slog.Error("Schema migration failed", "error", err)
			os.Exit(1)
		}
		migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
		if err != nil {
			slog.Error("Failed to create River migrator", "error", err)
			os.Exit(1)
		}
		if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
			slog.Error("River migrate up failed", "error", err)
			os.Exit(1)
		}
		slog.Info("Migrations applied")
	}

	// Repositories
	profileRepo := repository.NewProfileRepo(pool)
	orderRepo := repository.NewOrderRepo(pool)
	pushRepo := repository.NewPushRepo(pool)

	// Domain services
	ledgerSvc := ledger.NewService(pool, ledger.NewRepository(pool), orderRepo, ledger.Config{
		ReferralCredit:   cfg.Wallet.ReferralCredit,
		ExpirationWindow: cfg.ExpirationWindow(),
	}, logger)
	affiliateSvc := affiliate.NewService(pool, affiliate.NewRepository(pool), affiliate.Config{
		CommissionRate:    cfg.Affiliate.CommissionRate,
		MinimumWithdrawal: cfg.Affiliate.MinimumWithdrawal,
	}, logger)
	habitsSvc := habits.NewService(pool, habits.NewRepository(pool), habits.Config{Location: loc}, logger)

	var pusher notify.Pusher
	vapidPublicKey := ""
	if cfg.Push.VAPIDPublicKey != "" && cfg.Push.VAPIDPrivateKey != "" {
		sender, err := webpush.NewSender(cfg.Push.VAPIDPublicKey, cfg.Push.VAPIDPrivateKey, cfg.Push.Subject,
			&http.Client{Timeout: 15 * time.Second})
		if err != nil {
			slog.Error("Invalid VAPID keys", "error", err)
			os.Exit(1)
		}
		pusher = sender
		vapidPublicKey = sender.PublicKey()
	} else {
		slog.Warn("VAPID keys not set, push delivery disabled")
	}

	// Push jobs are enqueued through the River client, which is created after
	// its workers; the enqueuer is bound once the client exists.
	enqueuer := jobs.NewEnqueuer()
	notifySvc := notify.NewService(pool, notify.NewRepository(pool), enqueuer, pusher, notify.Config{
		Location: loc,
		AppURL:   cfg.Server.AppURL,
		TTL:      time.Duration(cfg.Push.TTLSeconds) * time.Second,
	}, logger)

	var gateway checkout.Gateway
	var stripeGateway *checkout.StripeGateway
	if cfg.Stripe.SecretKey != "" {
		stripeGateway = checkout.NewStripeGateway(cfg.Stripe.SecretKey, cfg.Stripe.WebhookSecret, cfg.Stripe.Currency, cfg.Server.AppURL)
		gateway = stripeGateway
	} else {
		slog.Warn("STRIPE_SECRET_KEY not set, card checkout disabled")
	}
	if cfg.Kiwify.WebhookToken == "" {
		slog.Warn("KIWIFY_WEBHOOK_TOKEN not set, webhook signatures not verified")
	}
	checkoutSvc := checkout.NewService(pool, orderRepo, ledgerSvc, affiliateSvc, gateway, checkout.Config{
		Pix: cfg.Pix.Kits,
	}, logger)

	// Background jobs
	workers := river.NewWorkers()
	river.AddWorker(workers, jobs.NewSendPushWorker(notifySvc))
	river.AddWorker(workers, jobs.NewExpireWalletCreditsWorker(ledgerSvc, logger))
	river.AddWorker(workers, jobs.NewMilestoneScanWorker(notifySvc))
	river.AddWorker(workers, jobs.NewHabitRemindersWorker(notifySvc))

	periodic, err := jobs.PeriodicJobs(cfg.Schedule, loc)
	if err != nil {
		slog.Error("Invalid schedule", "error", err)
		os.Exit(1)
	}

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 10},
			jobs.QueuePush:     {MaxWorkers: 20},
		},
		Workers:      workers,
		PeriodicJobs: periodic,
		Logger:       logger,
	})
	if err != nil {
		slog.Error("Failed to create River client", "error", err)
		os.Exit(1)
	}
	enqueuer.Bind(riverClient)

	if err := riverClient.Start(ctx); err != nil {
		slog.Error("Failed to start River client", "error", err)
		os.Exit(1)
	}

	// Realtime wallet updates
	hub := realtime.NewHub(logger)
	go hub.Listen(ctx, pool, ledger.ChangesChannel)

	handler, limiter, err := newHTTPHandler(cfg, appServices{
		pool:          pool,
		profiles:      profileRepo,
		subscriptions: pushRepo,
		ledger:        ledgerSvc,
		affiliates:    affiliateSvc,
		habits:        habitsSvc,
		notify:        notifySvc,
		checkout:      checkoutSvc,
		stripe:        stripeGateway,
		hub:           hub,
		vapidKey:      vapidPublicKey,
	}, logger)
	if err != nil {
		slog.Error("Failed to build HTTP handler", "error", err)
		os.Exit(1)
	}
	limiter.StartCleanup(time.Minute, ctx.Done())

	server := &http.Server{
		Addr:              "0.0.0.0:" + cfg.Server.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		slog.Info("Starting HTTP server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("HTTP server failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("River shutdown", "error", err)
	}
}

