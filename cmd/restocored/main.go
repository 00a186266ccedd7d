package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"restocore/auth"
	"restocore/config"
	"restocore/draft"
	"restocore/events"
	"restocore/hub"
	"restocore/models"
	"restocore/observability/logging"
	"restocore/orders"
	"restocore/payments"
	"restocore/server"
	"restocore/sessions"
	"restocore/shifts"
	"restocore/tickets"
)

func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := logging.Setup(cfg.ServiceName, cfg.Env, logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})

	logger.Info("configuration loaded",
		"env", cfg.Env,
		"listen_addr", cfg.ListenAddr,
		logging.MaskField("jwt_secret", cfg.Auth.JWTSecret),
		logging.MaskField("mp_access_token", cfg.MercadoPago.AccessToken),
	)

	db, err := gorm.Open(postgres.Open(cfg.DatabaseURL), &gorm.Config{})
	if err != nil {
		log.Fatalf("database connection error: %v", err)
	}
	if err := models.AutoMigrate(db); err != nil {
		log.Fatalf("auto migrate error: %v", err)
	}

	bus := events.NewBus()
	liveHub := hub.New(logger)
	liveHub.Attach(bus)

	ledger := shifts.NewLedger(db, bus, logger)
	coordinator := draft.NewCoordinator(db, bus, logger)
	coordinator.LockTTL = cfg.Draft.LockTTL
	coordinator.DraftTTL = cfg.Draft.DraftTTL

	dispatcher := tickets.NewDispatcher(db, bus, logger)
	orderSvc := orders.NewService(db, bus, logger)
	sessionSvc := sessions.NewService(db, logger)

	provider := payments.NewMercadoPagoClient(cfg.MercadoPago.BaseURL, cfg.MercadoPago.AccessToken)
	engine := payments.NewEngine(db, bus, ledger, provider, logger)
	engine.QRExpirationMinutes = cfg.MercadoPago.ExpirationMinutes
	webhooks := payments.NewProcessor(engine, logger)

	verifier := auth.NewVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AllowStaticTokens)

	srv := server.New(server.Config{
		DB:           db,
		Verifier:     verifier,
		Drafts:       coordinator,
		Tickets:      dispatcher,
		Orders:       orderSvc,
		Payments:     engine,
		Webhooks:     webhooks,
		Shifts:       ledger,
		Sessions:     sessionSvc,
		Hub:          liveHub,
		Log:          logger,
		WebhookRPS:   cfg.Webhook.RatePerSecond,
		WebhookBurst: cfg.Webhook.Burst,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sweeper := draft.NewSweeper(coordinator)
	sweeper.Interval = cfg.Draft.SweepInterval
	go sweeper.Run(ctx)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("listening", "addr", cfg.ListenAddr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}
}
