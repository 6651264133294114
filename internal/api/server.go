// internal/api/server.go
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/checkout"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/reconciler"
	"github.com/Kena440/wathaci-connect-hub-sub003/internal/webhook"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// CheckoutService is what the HTTP layer needs from checkout.Service.
type CheckoutService interface {
	Start(ctx context.Context, in checkout.Input) (*checkout.Outcome, error)
	Get(ctx context.Context, id uuid.UUID) (*checkout.Outcome, error)
	Cancel(id uuid.UUID) bool
	Progress() *checkout.ProgressHub
}

type WebhookDispatcher interface {
	Dispatch(ctx context.Context, p webhook.Processor, payload []byte, headers http.Header) (*reconciler.Outcome, error)
}

type Config struct {
	JWTSecret      string
	AllowedOrigins []string // empty allows any origin without credentials
}

type Server struct {
	checkout CheckoutService
	webhooks WebhookDispatcher
	hosted   webhook.Processor
	stripe   webhook.Processor
	logger   *slog.Logger
}

// NewServer wires handlers. hosted or stripe may be nil when that gateway is
// not configured; their webhook routes then answer 503.
func NewServer(svc CheckoutService, webhooks WebhookDispatcher, hosted, stripe webhook.Processor, logger *slog.Logger) *Server {
	return &Server{
		checkout: svc,
		webhooks: webhooks,
		hosted:   hosted,
		stripe:   stripe,
		logger:   logger.With(slog.String("component", "api")),
	}
}

// Router builds the gin engine with every route.
func (s *Server) Router(cfg Config) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(s.logger))

	corsCfg := cors.Config{
		AllowMethods:  []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders: []string{"Content-Length"},
	}
	if len(cfg.AllowedOrigins) == 0 {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = cfg.AllowedOrigins
		corsCfg.AllowCredentials = true
	}
	router.Use(cors.New(corsCfg))

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := router.Group("/v1", OptionalAuth([]byte(cfg.JWTSecret)))
	v1.POST("/checkout", s.handleCheckout)
	v1.GET("/payments/:id", s.handleGetPayment)
	v1.GET("/payments/:id/events", s.handlePaymentEvents)
	v1.POST("/payments/:id/cancel", s.handleCancel)

	hooks := router.Group("/webhooks")
	hooks.POST("/gateway", s.handleWebhook(s.hosted))
	hooks.POST("/stripe", s.handleWebhook(s.stripe))

	return router
}
