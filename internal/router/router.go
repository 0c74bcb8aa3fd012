package router

import (
	"context"
	"time"

	"paycore/config"
	"paycore/internal/handler"
	"paycore/internal/ledger"
	"paycore/internal/logger"
	"paycore/internal/middleware"
	"paycore/internal/ws"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Services are the wired components the HTTP surface sits on.
type Services struct {
	Ledger    *ledger.Ledger
	Webhooks  handler.Ingester
	Donations handler.DonationStore
	Sweeper   handler.Sweeper
	Audit     handler.AuditTrail
	Hub       *ws.Hub
	Ping      func(ctx context.Context) error
	Logger    *zap.Logger
}

// Setup builds the engine. The returned func stops background helpers.
func Setup(cfg *config.Config, s Services) (*gin.Engine, func()) {
	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := s.Logger
	if log == nil {
		log = zap.NewNop()
	}
	r := gin.New()
	r.Use(logger.RequestLogger(log), gin.Recovery())

	paymentHandler := handler.NewPaymentHandler(s.Ledger, log)
	donationHandler := handler.NewDonationHandler(s.Donations, log)
	webhookHandler := handler.NewWebhookHandler(s.Webhooks, log)
	adminHandler := handler.NewAdminHandler(s.Ledger, s.Sweeper, s.Audit, log)

	authMw := middleware.AuthRequired(&cfg.JWT)
	webhookLimiter := middleware.NewSlidingWindowLimiter(cfg.Server.WebhookRatePerMinute, time.Minute)

	r.GET("/healthz", handler.Healthz(s.Ping))

	api := r.Group("/api/v1")
	{
		// Browser return from the provider page carries no token.
		api.GET("/payments/return", paymentHandler.Return)

		payments := api.Group("/payments")
		payments.Use(authMw)
		{
			payments.POST("", paymentHandler.Initialize)
			payments.GET("/:reference", paymentHandler.Get)
			payments.POST("/:reference/verify", paymentHandler.Verify)
		}

		donations := api.Group("/donations")
		donations.Use(authMw)
		{
			donations.POST("", donationHandler.Create)
			donations.GET("/:id", donationHandler.Get)
		}

		api.POST("/webhooks/:provider", middleware.RateLimit(webhookLimiter), webhookHandler.Handle)

		admin := api.Group("/admin")
		admin.Use(authMw, middleware.AdminRequired())
		{
			admin.GET("/payments/:reference/audit", adminHandler.Audit)
			admin.POST("/payments/:reference/refund", adminHandler.Refund)
			admin.POST("/reconcile", adminHandler.Reconcile)
		}

		api.GET("/ws/payments", ws.UpgradePaymentsWS(&cfg.JWT, s.Hub, log))
	}

	return r, webhookLimiter.Close
}
