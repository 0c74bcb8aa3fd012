package handler

import (
	"context"
	"net/http"
	"strings"

	"paycore/internal/domain"
	"paycore/internal/logger"
	"paycore/internal/middleware"
	"paycore/internal/models"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type DonationStore interface {
	Create(ctx context.Context, d *models.Donation) error
	Get(ctx context.Context, id string) (*models.Donation, error)
}

type DonationHandler struct {
	donations DonationStore
	log       *zap.Logger
}

func NewDonationHandler(donations DonationStore, log *zap.Logger) *DonationHandler {
	return &DonationHandler{donations: donations, log: log}
}

type createDonationRequest struct {
	Amount      decimal.Decimal `json:"amount"`
	Currency    string          `json:"currency" binding:"required,len=3"`
	IsRecurring bool            `json:"is_recurring"`
}

func (h *DonationHandler) Create(c *gin.Context) {
	var req createDonationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpError{Code: "invalid_request", Message: err.Error()})
		return
	}
	if !req.Amount.IsPositive() {
		respondError(c, h.log, domain.Invalid("amount", "must be greater than zero"))
		return
	}
	d := &models.Donation{
		ID:          uuid.NewString(),
		DonorID:     middleware.GetDonorID(c),
		Amount:      req.Amount,
		Currency:    strings.ToUpper(req.Currency),
		Status:      domain.DonationStatusPending,
		IsRecurring: req.IsRecurring,
	}
	if err := h.donations.Create(c.Request.Context(), d); err != nil {
		respondError(c, logger.FromGin(c, h.log), err)
		return
	}
	c.JSON(http.StatusCreated, d)
}

func (h *DonationHandler) Get(c *gin.Context) {
	d, err := h.donations.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, logger.FromGin(c, h.log), err)
		return
	}
	if d.DonorID != middleware.GetDonorID(c) && middleware.GetRole(c) != domain.RoleAdmin {
		respondError(c, h.log, domain.ErrDonationNotFound)
		return
	}
	c.JSON(http.StatusOK, d)
}
