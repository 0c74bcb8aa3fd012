package handler

import (
	"context"
	"io"
	"net/http"

	"paycore/internal/logger"
	"paycore/internal/webhook"
	"paycore/pkg/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

type Ingester interface {
	Ingest(ctx context.Context, provider payment.Provider, req payment.WebhookRequest) (*webhook.IngestResult, error)
}

type WebhookHandler struct {
	pipeline Ingester
	log      *zap.Logger
}

func NewWebhookHandler(pipeline Ingester, log *zap.Logger) *WebhookHandler {
	return &WebhookHandler{pipeline: pipeline, log: log}
}

// Handle accepts POST /webhooks/:provider. The raw body is passed through
// untouched because signatures are computed over it. Once the event is
// recorded the provider always gets 200.
func (h *WebhookHandler) Handle(c *gin.Context) {
	log := logger.FromGin(c, h.log)
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "invalid_body", Message: "invalid body"})
		return
	}
	provider := payment.Provider(c.Param("provider"))
	res, err := h.pipeline.Ingest(c.Request.Context(), provider, payment.WebhookRequest{
		Body:   body,
		Header: c.Request.Header.Clone(),
	})
	if err != nil {
		respondError(c, log, err)
		return
	}
	if res.Err != nil {
		log.Warn("webhook recorded with processing error",
			zap.String("provider", string(provider)),
			zap.String("payment_id", res.PaymentID),
			zap.Error(res.Err))
	}
	c.JSON(http.StatusOK, gin.H{"received": true})
}
