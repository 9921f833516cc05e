// Package httpapi exposes the server's HTTP surface: the payment webhook,
// the recurring-charge opt-out, health, and Prometheus metrics.
package httpapi

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrijs2005/vpnkeeper/internal/logging"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/services"
)

// webhookPayload mirrors the processor's notification format. Metadata
// values arrive as strings regardless of their logical type.
type webhookPayload struct {
	Event  string `json:"event"`
	Object struct {
		ID     string `json:"id"`
		Status string `json:"status"`
		Amount struct {
			Value string `json:"value"`
		} `json:"amount"`
		Metadata struct {
			IsTrial      string `json:"is_trial"`
			UserID       string `json:"user_id"`
			Email        string `json:"email"`
			DurationDays string `json:"duration_days"`
			NextAmount   string `json:"next_amount"`
		} `json:"metadata"`
	} `json:"object"`
}

// PaymentHandler is the slice of the payment service the router needs.
type PaymentHandler interface {
	HandleChargeNotification(ctx context.Context, n *services.ChargeNotification) error
	RefuseRecurring(ctx context.Context, userID int64) error
}

// Router builds the gin engine. The payment handler is injected rather than
// constructed here so tests can swap in fakes.
type Router struct {
	payments PaymentHandler
	registry *prometheus.Registry
	logger   logging.Logger
}

func NewRouter(payments PaymentHandler, registry *prometheus.Registry, logger logging.Logger) *Router {
	return &Router{payments: payments, registry: registry, logger: logger}
}

func (r *Router) Engine() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())

	engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	engine.GET("/metrics", gin.WrapH(promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})))

	api := engine.Group("/api")
	api.POST("/payments/webhook", r.handleWebhook)
	api.GET("/payments/refuse-recurrent/:user_id", r.handleRefuseRecurring)

	return engine
}

// handleWebhook accepts a payment event. Malformed payloads get a 400;
// processing errors get a 500 so the processor redelivers.
func (r *Router) handleWebhook(c *gin.Context) {
	var payload webhookPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		r.logger.Warn(c.Request.Context(), "malformed webhook payload", "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	n, err := payload.toNotification()
	if err != nil {
		r.logger.Warn(c.Request.Context(), "unparsable webhook payload", "payment_id", payload.Object.ID, "err", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed payload"})
		return
	}

	if err := r.payments.HandleChargeNotification(c.Request.Context(), n); err != nil {
		r.logger.Error(c.Request.Context(), "webhook processing failed", "payment_id", n.PaymentID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (r *Router) handleRefuseRecurring(c *gin.Context) {
	userID, err := strconv.ParseInt(c.Param("user_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed user id"})
		return
	}

	if err := r.payments.RefuseRecurring(c.Request.Context(), userID); err != nil {
		r.logger.Error(c.Request.Context(), "refuse recurring failed", "user_id", userID, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "processing failed"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (p *webhookPayload) toNotification() (*services.ChargeNotification, error) {
	userID, err := strconv.ParseInt(p.Object.Metadata.UserID, 10, 64)
	if err != nil {
		return nil, err
	}
	amount, err := strconv.ParseFloat(p.Object.Amount.Value, 64)
	if err != nil {
		return nil, err
	}
	durationDays, err := strconv.Atoi(p.Object.Metadata.DurationDays)
	if err != nil {
		return nil, err
	}

	var nextAmount float64
	if p.Object.Metadata.NextAmount != "" {
		if nextAmount, err = strconv.ParseFloat(p.Object.Metadata.NextAmount, 64); err != nil {
			return nil, err
		}
	}

	return &services.ChargeNotification{
		PaymentID:    p.Object.ID,
		Status:       p.Object.Status,
		Amount:       amount,
		IsTrial:      p.Object.Metadata.IsTrial == "true",
		UserID:       userID,
		Email:        p.Object.Metadata.Email,
		DurationDays: durationDays,
		NextAmount:   nextAmount,
	}, nil
}
