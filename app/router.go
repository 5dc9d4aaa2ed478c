// Package app wires shared HTTP routes for both local and Lambda execution.
package app

import (
	"context"
	"fmt"
	"time"

	"example/mockup-billing/app/abacatepay"
	"example/mockup-billing/app/config"
	"example/mockup-billing/app/models"
	"example/mockup-billing/app/reconcile"
	"example/mockup-billing/auth"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

// Reconciler is implemented by reconcile.Engine.
type Reconciler interface {
	HandleStripeEvent(ctx context.Context, event stripe.Event) (reconcile.Outcome, error)
	HandleAbacatePayEvent(ctx context.Context, ev *abacatepay.WebhookEvent) (reconcile.Outcome, error)
	Alert(ctx context.Context, alert reconcile.Alert)
}

// OperatorStore is implemented by store.Store.
type OperatorStore interface {
	Ping(ctx context.Context) error
	ListPendingPayments(ctx context.Context, resolved bool, limit int64) ([]models.PendingPayment, error)
	ListEmailMismatches(ctx context.Context, limit int64) ([]models.EmailMismatch, error)
	FindEvent(ctx context.Context, provider models.Provider, eventID string) (*models.ProcessedEvent, error)
}

// Server holds what the HTTP handlers need.
type Server struct {
	Engine   Reconciler
	Store    OperatorStore
	Config   *config.Config
	Logger   *zap.Logger
	Verifier *auth.Verifier
}

// NewRouter builds the shared HTTP router for both local and Lambda execution.
func NewRouter(s *Server) (*gin.Engine, error) {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}
	if s.Verifier == nil && !auth.BypassAllowed(s.Config.Auth.Disabled) {
		if s.Config.Auth.Issuer == "" || s.Config.Auth.Audience == "" {
			s.Logger.Warn("AUTH0_ISSUER or AUTH0_AUDIENCE missing; operator endpoints will reject all requests")
		} else {
			v, err := auth.NewVerifier(s.Config.Auth.Issuer, s.Config.Auth.Audience, "")
			if err != nil {
				return nil, fmt.Errorf("init verifier: %w", err)
			}
			s.Verifier = v
		}
	}

	origins := s.Config.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	router := gin.New()
	router.Use(requestID(), accessLog(s.Logger), recovery(s.Logger, s.Config.IsDevelopment()))
	router.Use(cors.New(cors.Config{
		AllowOrigins:  origins,
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "Stripe-Signature", requestIDHeader},
		ExposeHeaders: []string{requestIDHeader},
		MaxAge:        12 * time.Hour,
	}))

	router.GET("/health", s.Health)

	webhooks := router.Group("/api/payments/webhook")
	webhooks.POST("", s.PaymentsWebhook)
	webhooks.POST("/stripe", s.StripeWebhook)
	webhooks.POST("/abacatepay", s.AbacatePayWebhook)

	operator := router.Group("/api/payments")
	operator.Use(auth.Middleware(s.Verifier, auth.MiddlewareConfig{
		RequireScopes: []string{s.Config.Auth.OperatorScope},
		DisableAuth:   s.Config.Auth.Disabled,
		Logger:        s.Logger,
	}))
	operator.GET("/pending", s.ListPendingPayments)
	operator.GET("/email-mismatches", s.ListEmailMismatches)
	operator.GET("/events/:provider/:eventId", s.GetProcessedEvent)

	return router, nil
}
