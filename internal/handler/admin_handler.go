package handler

import (
	"context"
	"net/http"

	"paycore/internal/domain"
	"paycore/internal/ledger"
	"paycore/internal/logger"
	"paycore/internal/models"
	"paycore/internal/reconcile"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Sweeper interface {
	Sweep(ctx context.Context) (reconcile.Summary, error)
}

// AuditTrail reads a payment's append-only children.
type AuditTrail interface {
	History(ctx context.Context, paymentID string) ([]models.PaymentHistory, error)
	Attempts(ctx context.Context, paymentID string) ([]models.PaymentAttempt, error)
}

type AdminHandler struct {
	ledger  *ledger.Ledger
	sweeper Sweeper
	audit   AuditTrail
	log     *zap.Logger
}

func NewAdminHandler(l *ledger.Ledger, sweeper Sweeper, audit AuditTrail, log *zap.Logger) *AdminHandler {
	return &AdminHandler{ledger: l, sweeper: sweeper, audit: audit, log: log}
}

type refundRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Reason string          `json:"reason"`
}

func (h *AdminHandler) Refund(c *gin.Context) {
	var req refundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "invalid_request", Message: err.Error()})
		return
	}
	tr, err := h.ledger.InitiateRefund(c.Request.Context(), ledger.RefundRequest{
		Reference: c.Param("reference"),
		Amount:    req.Amount,
		Reason:    req.Reason,
		Source:    domain.SourceAdmin,
	})
	if err != nil {
		respondError(c, logger.FromGin(c, h.log), err)
		return
	}
	c.JSON(http.StatusOK, tr.Payment)
}

// Reconcile runs a sweep now and reports what it did.
func (h *AdminHandler) Reconcile(c *gin.Context) {
	sum, err := h.sweeper.Sweep(c.Request.Context())
	if err != nil {
		respondError(c, logger.FromGin(c, h.log), err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"checked":     sum.Checked,
		"completed":   sum.Completed,
		"failed":      sum.Failed,
		"expired":     sum.Expired,
		"unchanged":   sum.Unchanged,
		"errors":      sum.Errors,
		"duration_ms": sum.Duration.Milliseconds(),
	})
}

// Audit returns the payment with its status history and provider attempts.
func (h *AdminHandler) Audit(c *gin.Context) {
	log := logger.FromGin(c, h.log)
	p, err := h.ledger.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, log, err)
		return
	}
	history, err := h.audit.History(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, log, err)
		return
	}
	attempts, err := h.audit.Attempts(c.Request.Context(), p.ID)
	if err != nil {
		respondError(c, log, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"payment": p, "history": history, "attempts": attempts})
}
