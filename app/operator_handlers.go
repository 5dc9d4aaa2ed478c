package app

import (
	"context"
	"errors"
	"net/http"
	"time"

	"example/mockup-billing/app/models"
	"example/mockup-billing/auth"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const healthTimeout = 2 * time.Second

// Health is a public health check endpoint that also reports store reachability.
func (s *Server) Health(c *gin.Context) {
	if s.Store == nil {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
		return
	}
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthTimeout)
	defer cancel()
	if err := s.Store.Ping(ctx); err != nil {
		s.requestLogger(c).Warn("store ping failed", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "store": "unreachable"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "store": "ok"})
}

// ListPendingPayments returns paid checkouts that were never matched to a user.
func (s *Server) ListPendingPayments(c *gin.Context) {
	resolved, err := parseBoolQuery(c, "resolved", false)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid resolved"})
		return
	}
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	items, err := s.Store.ListPendingPayments(c.Request.Context(), resolved, limit)
	if err != nil {
		s.requestLogger(c).Error("list pending payments failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load pending payments"})
		return
	}
	s.auditLog(c, "pending payments listed", len(items))
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// ListEmailMismatches returns payments credited to an account with a different email.
func (s *Server) ListEmailMismatches(c *gin.Context) {
	limit, err := parseLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
		return
	}

	items, err := s.Store.ListEmailMismatches(c.Request.Context(), limit)
	if err != nil {
		s.requestLogger(c).Error("list email mismatches failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load email mismatches"})
		return
	}
	s.auditLog(c, "email mismatches listed", len(items))
	c.JSON(http.StatusOK, gin.H{"items": items, "count": len(items)})
}

// GetProcessedEvent reports the ledger state of a provider event. A missing
// entry means a replay of the event will be applied.
func (s *Server) GetProcessedEvent(c *gin.Context) {
	provider := models.Provider(c.Param("provider"))
	if provider != models.ProviderStripe && provider != models.ProviderAbacatePay {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown provider"})
		return
	}

	ev, err := s.Store.FindEvent(c.Request.Context(), provider, c.Param("eventId"))
	if errors.Is(err, models.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not recorded"})
		return
	}
	if err != nil {
		s.requestLogger(c).Error("find processed event failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to load event"})
		return
	}
	s.auditLog(c, "processed event read", 1)
	c.JSON(http.StatusOK, ev)
}

func (s *Server) auditLog(c *gin.Context, msg string, count int) {
	s.requestLogger(c).Info(msg,
		zap.String("operator", auth.Operator(c.Request.Context())),
		zap.Int("count", count))
}
