package handler

import (
	"errors"
	"net/http"

	"paycore/internal/domain"
	"paycore/pkg/payment"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type httpError struct {
	Code    string `json:"code"`
	Message string `json:"error"`
	Field   string `json:"field,omitempty"`
}

// statusFor maps ledger and adapter errors onto an HTTP status and a body
// that is safe to show a client.
func statusFor(err error) (int, httpError) {
	var (
		validation  *domain.ValidationError
		conflict    *domain.StateConflictError
		unsupported *domain.UnsupportedOperationError
		provider    *payment.ProviderError
	)
	switch {
	case errors.As(err, &validation):
		return http.StatusBadRequest, httpError{Code: "validation_failed", Message: validation.Msg, Field: validation.Field}
	case errors.As(err, &conflict):
		return http.StatusConflict, httpError{Code: "state_conflict", Message: conflict.Error()}
	case errors.As(err, &unsupported):
		return http.StatusUnprocessableEntity, httpError{Code: "unsupported_operation", Message: unsupported.Error()}
	case errors.Is(err, domain.ErrPaymentNotFound):
		return http.StatusNotFound, httpError{Code: "payment_not_found", Message: "payment not found"}
	case errors.Is(err, domain.ErrDonationNotFound):
		return http.StatusNotFound, httpError{Code: "donation_not_found", Message: "donation not found"}
	case errors.Is(err, payment.ErrUnknownProvider):
		return http.StatusNotFound, httpError{Code: "unknown_provider", Message: "unknown payment provider"}
	case errors.Is(err, payment.ErrInvalidSignature):
		return http.StatusUnauthorized, httpError{Code: "invalid_signature", Message: "invalid webhook signature"}
	case errors.Is(err, payment.ErrMalformedWebhook):
		return http.StatusBadRequest, httpError{Code: "malformed_webhook", Message: "malformed webhook payload"}
	case errors.Is(err, payment.ErrUnsupportedCurrency):
		return http.StatusBadRequest, httpError{Code: "unsupported_currency", Message: err.Error()}
	case errors.Is(err, domain.ErrPaymentNotConfirmed):
		return http.StatusPaymentRequired, httpError{Code: "payment_not_confirmed", Message: "payment not confirmed"}
	case errors.Is(err, domain.ErrVerificationUnavailable):
		return http.StatusServiceUnavailable, httpError{Code: "verification_unavailable", Message: "verification service unavailable"}
	case errors.Is(err, domain.ErrRefundInProgress):
		return http.StatusConflict, httpError{Code: "refund_in_progress", Message: "payment already has a refund"}
	case errors.Is(err, domain.ErrSweepInProgress):
		return http.StatusConflict, httpError{Code: "sweep_in_progress", Message: "reconciliation already running"}
	case errors.As(err, &provider):
		return http.StatusBadGateway, httpError{Code: "provider_error", Message: provider.Error()}
	}
	return http.StatusInternalServerError, httpError{Code: "internal_error", Message: "internal server error"}
}

func respondError(c *gin.Context, log *zap.Logger, err error) {
	status, body := statusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.AbortWithStatusJSON(status, body)
}
