package app

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"net/http"

	"example/mockup-billing/app/abacatepay"
	"example/mockup-billing/app/models"
	"example/mockup-billing/app/reconcile"
	"example/mockup-billing/app/stripeapi"

	"github.com/gin-gonic/gin"
	"github.com/stripe/stripe-go/v79"
	"go.uber.org/zap"
)

const maxBodyBytes = int64(65536)

// PaymentsWebhook is the shared endpoint both providers may be pointed at.
// A Stripe-Signature header selects Stripe; a webhookSecret or secret query
// parameter selects AbacatePay.
func (s *Server) PaymentsWebhook(c *gin.Context) {
	body, ok := s.readBody(c)
	if !ok {
		return
	}
	switch {
	case c.GetHeader("Stripe-Signature") != "":
		s.handleStripe(c, body)
	case abacatePaySecret(c) != "":
		s.handleAbacatePay(c, body)
	default:
		s.requestLogger(c).Info("webhook without stripe signature or abacatepay secret")
		c.JSON(http.StatusBadRequest, gin.H{"error": "unrecognized webhook"})
	}
}

// StripeWebhook verifies and applies a Stripe event.
func (s *Server) StripeWebhook(c *gin.Context) {
	if body, ok := s.readBody(c); ok {
		s.handleStripe(c, body)
	}
}

// AbacatePayWebhook checks the shared secret and applies an AbacatePay event.
func (s *Server) AbacatePayWebhook(c *gin.Context) {
	if body, ok := s.readBody(c); ok {
		s.handleAbacatePay(c, body)
	}
}

func (s *Server) readBody(c *gin.Context) ([]byte, bool) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes+1))
	if err != nil {
		s.requestLogger(c).Warn("webhook read failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return nil, false
	}
	if int64(len(body)) > maxBodyBytes {
		s.requestLogger(c).Warn("webhook body too large", zap.Int64("limit", maxBodyBytes))
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "payload too large"})
		return nil, false
	}
	return body, true
}

func (s *Server) handleStripe(c *gin.Context, body []byte) {
	log := s.requestLogger(c)

	endpointSecret := s.Config.Stripe.WebhookSecret
	if endpointSecret == "" {
		log.Error("stripe webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}

	event, err := stripeapi.VerifyEvent(body, c.GetHeader("Stripe-Signature"), endpointSecret)
	if err != nil {
		log.Warn("stripe webhook signature failed", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "signature verification failed"})
		return
	}

	out := s.applyStripe(c.Request.Context(), event, log)

	// Verified events are always acknowledged; failures surface through logs and alerts.
	resp := gin.H{"received": true, "eventType": string(event.Type)}
	if out.Action == reconcile.ActionDuplicate {
		resp["duplicate"] = true
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) applyStripe(ctx context.Context, event stripe.Event, log *zap.Logger) (out reconcile.Outcome) {
	log = log.With(zap.String("event_id", event.ID), zap.String("event_type", string(event.Type)))
	defer func() {
		if r := recover(); r != nil {
			fields := []zap.Field{zap.Any("panic", r)}
			if s.Config.IsDevelopment() {
				fields = append(fields, zap.Stack("stack"))
			}
			log.Error("stripe event processing panicked", fields...)
			s.alertStripeFailure(ctx, event, fmt.Errorf("panic: %v", r))
			out = reconcile.Outcome{}
		}
	}()

	out, err := s.Engine.HandleStripeEvent(ctx, event)
	if err != nil {
		log.Error("stripe event processing failed", zap.Error(err))
		s.alertStripeFailure(ctx, event, err)
		return reconcile.Outcome{}
	}
	log.Info("stripe event processed",
		zap.String("action", string(out.Action)),
		zap.String("user_id", out.UserID),
		zap.Int("credits", out.Credits),
		zap.String("strategy", out.Strategy))
	return out
}

func (s *Server) alertStripeFailure(ctx context.Context, event stripe.Event, err error) {
	s.Engine.Alert(ctx, reconcile.Alert{
		Kind:      reconcile.AlertProcessingFailed,
		Provider:  models.ProviderStripe,
		Reference: event.ID,
		Message:   "verified stripe event failed processing and was acknowledged",
		Fields: map[string]any{
			"event_type": string(event.Type),
			"error":      err.Error(),
		},
	})
}

func abacatePaySecret(c *gin.Context) string {
	if v := c.Query("webhookSecret"); v != "" {
		return v
	}
	return c.Query("secret")
}

func (s *Server) handleAbacatePay(c *gin.Context, body []byte) {
	log := s.requestLogger(c)

	expected := s.Config.AbacatePay.WebhookSecret
	if expected == "" {
		log.Error("abacatepay webhook secret missing")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "webhook not configured"})
		return
	}
	if subtle.ConstantTimeCompare([]byte(abacatePaySecret(c)), []byte(expected)) != 1 {
		log.Warn("abacatepay webhook secret mismatch")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid webhook secret"})
		return
	}

	ev, err := abacatepay.Decode(body)
	if err != nil {
		log.Warn("abacatepay payload invalid", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload"})
		return
	}

	out, err := s.Engine.HandleAbacatePayEvent(c.Request.Context(), ev)
	switch {
	case errors.Is(err, reconcile.ErrUserNotResolved):
		c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
		return
	case errors.Is(err, reconcile.ErrCreditsNotResolved):
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not determine credits"})
		return
	case err != nil:
		log.Error("abacatepay event processing failed", zap.String("bill_id", ev.BillID()), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	switch out.Action {
	case reconcile.ActionCredited:
		c.JSON(http.StatusOK, gin.H{"received": true, "credits": out.Credits})
	case reconcile.ActionNotPaid:
		c.JSON(http.StatusOK, gin.H{"received": true, "paid": false})
	case reconcile.ActionDuplicate:
		c.JSON(http.StatusOK, gin.H{"received": true, "duplicate": true})
	default:
		c.JSON(http.StatusOK, gin.H{"received": true, "ignored": true})
	}
}
