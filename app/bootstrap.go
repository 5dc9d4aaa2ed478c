package app

import (
	"context"
	"fmt"
	"time"

	"example/mockup-billing/app/abacatepay"
	"example/mockup-billing/app/config"
	"example/mockup-billing/app/notify"
	"example/mockup-billing/app/pricing"
	"example/mockup-billing/app/reconcile"
	"example/mockup-billing/app/store"
	"example/mockup-billing/app/stripeapi"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const startupTimeout = 15 * time.Second

// Bootstrap connects every collaborator described by cfg and returns the
// router. The returned cleanup closes the store connection.
func Bootstrap(ctx context.Context, cfg *config.Config, log *zap.Logger) (*gin.Engine, func(), error) {
	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}

	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	defer cancel()

	st, err := store.Connect(startCtx, cfg.Mongo.URI, cfg.Mongo.Database, log)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.Close(closeCtx); err != nil {
			log.Warn("mongo disconnect failed", zap.Error(err))
		}
	}
	if err := st.EnsureIndexes(startCtx); err != nil {
		log.Warn("index bootstrap failed", zap.Error(err))
	}

	if cfg.Stripe.SecretKey == "" {
		log.Warn("STRIPE_SECRET_KEY missing; stripe lookups will fail and fall back")
	}

	var status reconcile.StatusChecker
	if cfg.AbacatePay.APIKey != "" {
		status = abacatepay.NewClient(cfg.AbacatePay.APIURL, cfg.AbacatePay.APIKey)
	} else {
		log.Warn("ABACATEPAY_API_KEY missing; inconclusive abacatepay events trust the event type")
	}

	mailer := notify.NewMailer(notify.EmailConfig{
		APIKey:  cfg.Email.ResendAPIKey,
		From:    cfg.Email.From,
		AppName: cfg.Email.AppName,
		AppURL:  cfg.Email.AppURL,
	}, log)
	if !mailer.Configured() {
		log.Info("RESEND_API_KEY missing; purchase emails disabled")
	}

	var alerter reconcile.Alerter = notify.NewLogAlerter(log)
	if cfg.AlertQueueURL != "" {
		sqsAlerter, err := notify.NewSQSAlerter(startCtx, cfg.AlertQueueURL)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("init alert queue: %w", err)
		}
		alerter = sqsAlerter
	}

	engine := reconcile.New(reconcile.Deps{
		Store:   st,
		Ledger:  st,
		Stripe:  stripeapi.NewGateway(cfg.Stripe.SecretKey),
		Abacate: status,
		Prices:  pricing.Default(),
		Mailer:  mailer,
		Alerter: alerter,
		Logger:  log,
		DevMode: cfg.IsDevelopment(),
	})

	router, err := NewRouter(&Server{
		Engine: engine,
		Store:  st,
		Config: cfg,
		Logger: log,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	return router, cleanup, nil
}
