package ledger

import (
	"context"
	"errors"
	"strings"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type RefundRequest struct {
	Reference string
	Amount    decimal.Decimal
	Reason    string
	Source    string
}

// InitiateRefund moves money back through the provider, then records the
// refund with completed -> refunded (full) or partially_refunded. A payment is
// refunded at most once: the refund is claimed in the store before the
// provider is called, and a failed provider call releases the claim.
func (l *Ledger) InitiateRefund(ctx context.Context, req RefundRequest) (*TransitionResult, error) {
	p, err := l.payments.GetByReference(ctx, req.Reference)
	if err != nil {
		return nil, err
	}
	target := payment.StatusPartiallyRefunded
	if req.Amount.Equal(p.Amount) {
		target = payment.StatusRefunded
	}
	if p.Status != payment.StatusCompleted {
		return nil, &domain.StateConflictError{From: p.Status, To: target}
	}
	if !req.Amount.IsPositive() {
		return nil, domain.Invalid("amount", "must be greater than zero")
	}
	if req.Amount.GreaterThan(p.Amount) {
		return nil, domain.Invalid("amount", "exceeds the payment amount "+p.Amount.String())
	}
	adapter, err := l.registry.Get(p.Provider)
	if err != nil {
		return nil, err
	}
	refunder, ok := adapter.(payment.Refunder)
	if !adapter.Capabilities().Refunds || !ok {
		return nil, &domain.UnsupportedOperationError{Provider: string(p.Provider), Op: "refund"}
	}
	source := req.Source
	if source == "" {
		source = domain.SourceAdmin
	}
	log := l.log.With(zap.String("payment_id", p.ID), zap.String("reference", p.Transaction.Reference))

	requested := l.now()
	refund := models.Refund{
		Amount:      decimal.NewNullDecimal(req.Amount),
		Reason:      truncate(req.Reason, 255),
		Status:      domain.RefundStatusPending,
		RequestedAt: &requested,
	}
	claimed, err := l.payments.ClaimRefund(ctx, p.ID, refund)
	if err != nil {
		return nil, err
	}
	if !claimed {
		current, err := l.payments.GetByID(ctx, p.ID)
		if err != nil {
			return nil, err
		}
		if current.Status == payment.StatusCompleted {
			log.Info("refund already claimed", zap.String("refund_status", current.Refund.Status))
			return nil, domain.ErrRefundInProgress
		}
		return nil, &domain.StateConflictError{From: current.Status, To: target}
	}

	pctx, cancel := l.providerCtx(ctx)
	res, callErr := refunder.Refund(pctx, payment.RefundRequest{
		Reference:  p.Transaction.Reference,
		ExternalID: p.Transaction.ExternalID,
		Amount:     req.Amount,
		Currency:   p.Currency,
		Reason:     req.Reason,
	})
	cancel()
	l.recordAttempt(ctx, p, domain.AttemptRefund, source, 1, requested, target, callErr)
	if callErr != nil {
		log.Warn("provider refund failed", zap.Error(callErr))
		if err := l.payments.UpdateRefund(ctx, p.ID, models.Refund{}); err != nil {
			log.Error("release refund claim", zap.Error(err))
		}
		var pe *payment.ProviderError
		if errors.As(callErr, &pe) {
			return nil, pe
		}
		return nil, &payment.ProviderError{Provider: p.Provider, Op: "refund", Err: callErr}
	}

	now := l.now()
	refund.Status = refundStatus(res.Status)
	refund.RefundID = res.RefundID
	if refund.Status == domain.RefundStatusCompleted {
		refund.CompletedAt = &now
	}
	applied, err := l.payments.Transition(ctx, p.ID, []payment.Status{payment.StatusCompleted}, target, refund.Columns(),
		func(ctx context.Context) error {
			return l.payments.AppendHistory(ctx, &models.PaymentHistory{
				PaymentID:  p.ID,
				Action:     "refund",
				Source:     source,
				FromStatus: string(payment.StatusCompleted),
				ToStatus:   string(target),
				Metadata: historyMetadata(map[string]any{
					"amount":    req.Amount.String(),
					"reason":    req.Reason,
					"refund_id": res.RefundID,
				}, nil),
			})
		})
	if err != nil {
		log.Error("provider refunded but ledger write failed", zap.String("refund_id", res.RefundID), zap.Error(err))
		return nil, err
	}
	current, err := l.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if !applied {
		log.Error("provider refunded but payment changed concurrently",
			zap.String("refund_id", res.RefundID), zap.String("status", string(current.Status)))
		return &TransitionResult{Payment: current, From: current.Status, To: current.Status},
			&domain.StateConflictError{From: current.Status, To: target}
	}
	log.Info("payment refunded", zap.String("amount", req.Amount.String()), zap.String("status", string(target)))
	l.afterCommit(current, payment.StatusCompleted, StatusUpdate{Status: target, Source: source})
	return &TransitionResult{Payment: current, From: payment.StatusCompleted, To: target, Applied: true}, nil
}

// ApplyRefundEvent records a provider's refund notification. Refunds started
// here only get their refund status updated. A refund started from the
// provider's dashboard, which the ledger has never seen, is recorded as a
// refund transition.
func (l *Ledger) ApplyRefundEvent(ctx context.Context, p *models.Payment, ev *payment.WebhookEvent) (*TransitionResult, error) {
	status := domain.RefundStatusPending
	switch domain.FamilyOf(ev.Status) {
	case domain.FamilySuccess:
		status = domain.RefundStatusCompleted
	case domain.FamilyFailure:
		status = domain.RefundStatusFailed
	}
	if p.Refund.IsZero() {
		return l.recordExternalRefund(ctx, p, ev)
	}
	if p.Refund.Status == status || p.Refund.Status == domain.RefundStatusCompleted {
		return &TransitionResult{Payment: p, From: p.Status, To: p.Status}, nil
	}
	refund := p.Refund
	refund.Status = status
	if refund.RefundID == "" {
		refund.RefundID = ev.RefundID
	}
	if status == domain.RefundStatusCompleted {
		now := l.now()
		refund.CompletedAt = &now
	}
	if err := l.payments.UpdateRefund(ctx, p.ID, refund); err != nil {
		return nil, err
	}
	if err := l.payments.AppendHistory(ctx, &models.PaymentHistory{
		PaymentID:  p.ID,
		Action:     "refund_status",
		Source:     domain.SourceWebhook,
		FromStatus: string(p.Status),
		ToStatus:   string(p.Status),
		Metadata:   historyMetadata(map[string]any{"refund_id": ev.RefundID, "refund_status": status, "event_id": ev.EventID}, nil),
	}); err != nil {
		l.log.Error("record refund history", zap.String("payment_id", p.ID), zap.Error(err))
	}
	p.Refund = refund
	return &TransitionResult{Payment: p, From: p.Status, To: p.Status}, nil
}

func (l *Ledger) recordExternalRefund(ctx context.Context, p *models.Payment, ev *payment.WebhookEvent) (*TransitionResult, error) {
	target := ev.Status
	if target != payment.StatusRefunded && target != payment.StatusPartiallyRefunded {
		l.log.Info("refund event for a payment with no refund", zap.String("payment_id", p.ID), zap.String("status", string(ev.Status)))
		return &TransitionResult{Payment: p, From: p.Status, To: p.Status}, nil
	}
	if p.Status != payment.StatusCompleted {
		return &TransitionResult{Payment: p, From: p.Status, To: p.Status}, &domain.StateConflictError{From: p.Status, To: target}
	}
	amount := ev.Amount
	if !amount.IsPositive() || amount.GreaterThan(p.Amount) {
		amount = p.Amount
	}
	now := l.now()
	refund := models.Refund{
		Amount:      decimal.NewNullDecimal(amount),
		Reason:      "refunded at provider",
		Status:      domain.RefundStatusCompleted,
		RefundID:    ev.RefundID,
		RequestedAt: &now,
		CompletedAt: &now,
	}
	applied, err := l.payments.Transition(ctx, p.ID, []payment.Status{payment.StatusCompleted}, target, refund.Columns(),
		func(ctx context.Context) error {
			return l.payments.AppendHistory(ctx, &models.PaymentHistory{
				PaymentID:  p.ID,
				Action:     "refund",
				Source:     domain.SourceWebhook,
				FromStatus: string(payment.StatusCompleted),
				ToStatus:   string(target),
				Metadata:   historyMetadata(map[string]any{"amount": amount.String(), "refund_id": ev.RefundID, "event_id": ev.EventID}, nil),
			})
		})
	if err != nil {
		return nil, err
	}
	current, err := l.payments.GetByID(ctx, p.ID)
	if err != nil {
		return nil, err
	}
	if applied {
		l.afterCommit(current, payment.StatusCompleted, StatusUpdate{Status: target, Source: domain.SourceWebhook})
	}
	return &TransitionResult{Payment: current, From: payment.StatusCompleted, To: current.Status, Applied: applied}, nil
}

func refundStatus(raw string) string {
	switch strings.ToLower(raw) {
	case "succeeded", "success", "successful", "completed":
		return domain.RefundStatusCompleted
	case "failed", "canceled", "cancelled":
		return domain.RefundStatusFailed
	}
	return domain.RefundStatusPending
}
