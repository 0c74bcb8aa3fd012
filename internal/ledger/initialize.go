package ledger

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type InitializeRequest struct {
	DonorID    string
	DonationID string
	Amount     decimal.Decimal
	Currency   payment.Currency
	Method     payment.Method
	Provider   payment.Provider
	Customer   payment.CustomerInfo
}

type InitializeResult struct {
	PaymentID    string         `json:"payment_id"`
	Reference    string         `json:"reference"`
	Status       payment.Status `json:"status"`
	RedirectURL  string         `json:"redirect_url,omitempty"`
	ClientSecret string         `json:"client_secret,omitempty"`
	ExpiresAt    *time.Time     `json:"expires_at,omitempty"`
}

func (l *Ledger) validate(ctx context.Context, req InitializeRequest) (payment.Adapter, error) {
	switch {
	case strings.TrimSpace(req.DonorID) == "":
		return nil, domain.Invalid("donor_id", "is required")
	case strings.TrimSpace(req.DonationID) == "":
		return nil, domain.Invalid("donation_id", "is required")
	case !req.Amount.IsPositive():
		return nil, domain.Invalid("amount", "must be greater than zero")
	case !req.Currency.Valid():
		return nil, domain.Invalid("currency", "unsupported currency "+string(req.Currency))
	case !req.Method.Valid():
		return nil, domain.Invalid("method", "unsupported payment method "+string(req.Method))
	}
	adapter, err := l.registry.Get(req.Provider)
	if err != nil {
		return nil, domain.Invalid("provider", "unknown provider "+string(req.Provider))
	}
	caps := adapter.Capabilities()
	if !caps.SupportsCurrency(req.Currency) {
		return nil, domain.Invalid("currency", string(req.Provider)+" does not accept "+string(req.Currency))
	}
	if !caps.SupportsMethod(req.Method) {
		return nil, domain.Invalid("method", string(req.Provider)+" does not support "+string(req.Method))
	}
	d, err := l.donations.Get(ctx, req.DonationID)
	if errors.Is(err, domain.ErrDonationNotFound) {
		return nil, domain.Invalid("donation_id", "donation not found")
	}
	if err != nil {
		return nil, err
	}
	if d.DonorID != req.DonorID {
		return nil, domain.Invalid("donation_id", "donation belongs to another donor")
	}
	if d.Status == domain.DonationStatusCompleted && !d.IsRecurring {
		return nil, domain.Invalid("donation_id", "donation is already paid")
	}
	return adapter, nil
}

// Initialize creates the payment, asks the provider to start it and records
// the outcome: processing on success, failed with the reason otherwise.
// Validation failures return *domain.ValidationError before any provider call.
func (l *Ledger) Initialize(ctx context.Context, req InitializeRequest) (*InitializeResult, error) {
	adapter, err := l.validate(ctx, req)
	if err != nil {
		return nil, err
	}
	breakdown, err := adapter.CalculateFees(req.Amount, req.Currency, req.Method)
	if err != nil {
		return nil, domain.Invalid("amount", err.Error())
	}

	p := &models.Payment{
		ID:          uuid.NewString(),
		DonorID:     req.DonorID,
		DonationID:  req.DonationID,
		Amount:      req.Amount,
		Currency:    req.Currency,
		Method:      req.Method,
		Provider:    req.Provider,
		Status:      payment.StatusPending,
		Fees:        models.FeesFrom(breakdown),
		Transaction: models.Transaction{Reference: l.newReference()},
	}
	if err := l.payments.Create(ctx, p); err != nil {
		return nil, err
	}
	log := l.log.With(zap.String("payment_id", p.ID), zap.String("reference", p.Transaction.Reference),
		zap.String("provider", string(p.Provider)))
	if err := l.payments.AppendHistory(ctx, &models.PaymentHistory{
		PaymentID: p.ID,
		Action:    "created",
		Source:    domain.SourceInitialize,
		ToStatus:  string(p.Status),
		Metadata: historyMetadata(map[string]any{
			"amount":   p.Amount.String(),
			"currency": string(p.Currency),
			"method":   string(p.Method),
		}, nil),
	}); err != nil {
		log.Error("record creation history", zap.Error(err))
	}

	pctx, cancel := l.providerCtx(ctx)
	started := l.now()
	res, callErr := adapter.InitializePayment(pctx, payment.InitRequest{
		Reference:      p.Transaction.Reference,
		ContributionID: p.DonationID,
		Amount:         p.Amount,
		Currency:       p.Currency,
		Method:         p.Method,
		Customer:       req.Customer,
		CallbackURL:    l.CallbackURL(p.Provider),
		ReturnURL:      l.returnURL(p.Transaction.Reference),
	})
	cancel()
	if callErr == nil && (res == nil || res.ExternalID == "") {
		callErr = &payment.ProviderError{Provider: p.Provider, Op: "initialize", Err: errors.New("no transaction id returned")}
	}
	attemptStatus := payment.StatusProcessing
	if callErr != nil {
		attemptStatus = payment.StatusFailed
	}
	l.recordAttempt(ctx, p, domain.AttemptInitialize, domain.SourceInitialize, 1, started, attemptStatus, callErr)

	if callErr != nil {
		var pe *payment.ProviderError
		if !errors.As(callErr, &pe) {
			pe = &payment.ProviderError{Provider: p.Provider, Op: "initialize", Err: callErr}
		}
		if pe.Detail != "" {
			log.Debug("provider response", zap.String("detail", pe.Detail))
		}
		log.Warn("provider initialization failed", zap.Error(pe))
		code := "provider_error"
		if pe.StatusCode != 0 {
			code = "upstream_" + strconv.Itoa(pe.StatusCode)
		}
		if _, err := l.MarkFailed(ctx, p.ID, safeReason(pe), code, domain.SourceInitialize); err != nil {
			log.Error("mark failed after provider error", zap.Error(err))
		}
		return nil, pe
	}

	tr, err := l.ApplyStatus(ctx, StatusUpdate{
		PaymentID:  p.ID,
		Status:     payment.StatusProcessing,
		Source:     domain.SourceInitialize,
		Data:       res.Data,
		ExternalID: res.ExternalID,
		ExpiresAt:  res.ExpiresAt,
	})
	var conflict *domain.StateConflictError
	switch {
	case errors.As(err, &conflict):
		// A provider callback resolved the payment before this write landed.
		log.Info("payment resolved before initialization finished", zap.String("status", string(conflict.From)))
	case err != nil:
		return nil, err
	}
	status := payment.StatusProcessing
	if tr != nil && tr.Payment != nil {
		status = tr.Payment.Status
	}
	log.Info("payment initialized", zap.String("external_id", res.ExternalID))
	return &InitializeResult{
		PaymentID:    p.ID,
		Reference:    p.Transaction.Reference,
		Status:       status,
		RedirectURL:  res.RedirectURL,
		ClientSecret: res.ClientSecret,
		ExpiresAt:    res.ExpiresAt,
	}, nil
}
