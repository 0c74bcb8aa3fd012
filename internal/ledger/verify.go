package ledger

import (
	"context"
	"errors"
	"fmt"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"go.uber.org/zap"
)

// Poll asks the provider for p's current status once and records the attempt.
// The result is not applied.
func (l *Ledger) Poll(ctx context.Context, p *models.Payment, source string, attempt int) (*payment.VerifyResult, error) {
	adapter, err := l.registry.Get(p.Provider)
	if err != nil {
		return nil, err
	}
	pctx, cancel := l.providerCtx(ctx)
	defer cancel()
	started := l.now()
	res, err := adapter.VerifyPayment(pctx, p.Transaction.ExternalID)
	status := payment.Status("")
	if res != nil {
		status = res.Status
	}
	l.recordAttempt(ctx, p, domain.AttemptVerify, source, attempt, started, status, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Sync polls the provider and applies what it reports.
func (l *Ledger) Sync(ctx context.Context, p *models.Payment, source string, attempt int) (*TransitionResult, error) {
	res, err := l.Poll(ctx, p, source, attempt)
	if err != nil {
		return nil, err
	}
	return l.ApplyVerified(ctx, p, res, source)
}

// ApplyVerified applies a poll result that was already fetched.
func (l *Ledger) ApplyVerified(ctx context.Context, p *models.Payment, res *payment.VerifyResult, source string) (*TransitionResult, error) {
	return l.ApplyStatus(ctx, StatusUpdate{
		PaymentID: p.ID,
		Status:    res.Status,
		Source:    source,
		Payload:   res.RawResponse,
		Data:      res.Data,
	})
}

// Verify is the user-triggered pull after returning from the provider page.
// It returns domain.ErrPaymentNotConfirmed when the payment is not (yet)
// completed and domain.ErrVerificationUnavailable when the provider could not
// be asked.
func (l *Ledger) Verify(ctx context.Context, reference, source string) (*models.Payment, error) {
	p, err := l.payments.GetByReference(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !domain.IsOpen(p.Status) || p.Transaction.ExternalID == "" {
		return p, confirmed(p)
	}
	tr, err := l.Sync(ctx, p, source, 1)
	var conflict *domain.StateConflictError
	switch {
	case errors.As(err, &conflict):
		return tr.Payment, confirmed(tr.Payment)
	case err != nil:
		l.log.Warn("verify failed", zap.String("reference", reference), zap.Error(err))
		return p, fmt.Errorf("%w: %s", domain.ErrVerificationUnavailable, p.Provider)
	}
	return tr.Payment, confirmed(tr.Payment)
}

func confirmed(p *models.Payment) error {
	if domain.FamilyOf(p.Status) == domain.FamilySuccess {
		return nil
	}
	return domain.ErrPaymentNotConfirmed
}
