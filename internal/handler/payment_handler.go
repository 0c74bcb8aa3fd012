package handler

import (
	"errors"
	"net/http"

	"paycore/internal/domain"
	"paycore/internal/ledger"
	"paycore/internal/logger"
	"paycore/internal/middleware"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type PaymentHandler struct {
	ledger *ledger.Ledger
	log    *zap.Logger
}

func NewPaymentHandler(l *ledger.Ledger, log *zap.Logger) *PaymentHandler {
	return &PaymentHandler{ledger: l, log: log}
}

type initializePaymentRequest struct {
	DonationID string          `json:"donation_id" binding:"required"`
	Amount     decimal.Decimal `json:"amount"`
	Currency   string          `json:"currency" binding:"required"`
	Method     string          `json:"method" binding:"required"`
	Provider   string          `json:"provider" binding:"required"`
	Customer   struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
	} `json:"customer"`
}

// Initialize starts a payment for one of the caller's donations.
func (h *PaymentHandler) Initialize(c *gin.Context) {
	var req initializePaymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "invalid_request", Message: err.Error()})
		return
	}
	res, err := h.ledger.Initialize(c.Request.Context(), ledger.InitializeRequest{
		DonorID:    middleware.GetDonorID(c),
		DonationID: req.DonationID,
		Amount:     req.Amount,
		Currency:   payment.Currency(req.Currency),
		Method:     payment.Method(req.Method),
		Provider:   payment.Provider(req.Provider),
		Customer: payment.CustomerInfo{
			Name:  req.Customer.Name,
			Email: req.Customer.Email,
			Phone: req.Customer.Phone,
		},
	})
	if err != nil {
		respondError(c, logger.FromGin(c, h.log), err)
		return
	}
	c.JSON(http.StatusCreated, res)
}

func (h *PaymentHandler) Get(c *gin.Context) {
	p, ok := h.owned(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, p)
}

// Verify asks the provider for the payment's current state. A payment that is
// not completed yet answers 402 with the payment in the body.
func (h *PaymentHandler) Verify(c *gin.Context) {
	if _, ok := h.owned(c); !ok {
		return
	}
	p, err := h.ledger.Verify(c.Request.Context(), c.Param("reference"), domain.SourceUserVerify)
	switch {
	case errors.Is(err, domain.ErrPaymentNotConfirmed):
		c.JSON(http.StatusPaymentRequired, gin.H{"code": "payment_not_confirmed", "error": "payment not confirmed", "payment": p})
	case err != nil:
		respondError(c, logger.FromGin(c, h.log), err)
	default:
		c.JSON(http.StatusOK, p)
	}
}

// Return is where the provider sends the browser back. It verifies and then
// redirects into the app with the outcome.
func (h *PaymentHandler) Return(c *gin.Context) {
	ref := c.Query("reference")
	if ref == "" {
		c.JSON(http.StatusBadRequest, httpError{Code: "invalid_request", Message: "reference is required"})
		return
	}
	p, err := h.ledger.Verify(c.Request.Context(), ref, domain.SourceUserVerify)
	if p == nil {
		respondError(c, logger.FromGin(c, h.log), err)
		return
	}
	if err != nil && !errors.Is(err, domain.ErrPaymentNotConfirmed) {
		logger.FromGin(c, h.log).Warn("return verify failed", zap.String("reference", ref), zap.Error(err))
	}
	c.Redirect(http.StatusFound, h.ledger.ReturnLink(p))
}

// owned loads the payment named in the path and checks that the caller may
// see it. It writes the error response itself.
func (h *PaymentHandler) owned(c *gin.Context) (*models.Payment, bool) {
	p, err := h.ledger.Get(c.Request.Context(), c.Param("reference"))
	if err != nil {
		respondError(c, logger.FromGin(c, h.log), err)
		return nil, false
	}
	if p.DonorID != middleware.GetDonorID(c) && middleware.GetRole(c) != domain.RoleAdmin {
		respondError(c, h.log, domain.ErrPaymentNotFound)
		return nil, false
	}
	return p, true
}
