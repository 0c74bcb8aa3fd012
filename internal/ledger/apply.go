package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"go.uber.org/zap"
)

// StatusUpdate is one request to move a payment. Only PaymentID, Status and
// Source are required.
type StatusUpdate struct {
	PaymentID string
	Status    payment.Status
	Source    string
	EventID   string
	Reason    string
	Code      string
	Payload   []byte
	Data      payment.ProviderData

	// Set by Initialize only.
	ExternalID string
	ExpiresAt  *time.Time
}

// TransitionResult reports what ApplyStatus did. Applied is false for a
// no-op; Payment is the stored state afterwards either way.
type TransitionResult struct {
	Payment *models.Payment
	From    payment.Status
	To      payment.Status
	Applied bool
}

// maxApplyRounds bounds re-reads when the stored status changes between the
// read and the conditional write.
const maxApplyRounds = 3

// ApplyStatus is the single mutation entry point. A target in the direction
// the payment already went is a successful no-op; an illegal target returns
// *domain.StateConflictError and leaves the payment untouched.
func (l *Ledger) ApplyStatus(ctx context.Context, u StatusUpdate) (*TransitionResult, error) {
	log := l.log.With(zap.String("payment_id", u.PaymentID), zap.String("source", u.Source),
		zap.String("target", string(u.Status)))

	p, err := l.payments.GetByID(ctx, u.PaymentID)
	if err != nil {
		return nil, err
	}
	for round := 0; round < maxApplyRounds; round++ {
		from := p.Status
		switch domain.Decide(from, u.Status) {
		case domain.NoOp:
			log.Debug("status unchanged", zap.String("current", string(from)))
			return &TransitionResult{Payment: p, From: from, To: from}, nil
		case domain.Conflict:
			log.Warn("rejected status transition", zap.String("current", string(from)))
			return &TransitionResult{Payment: p, From: from, To: from}, &domain.StateConflictError{From: from, To: u.Status}
		}

		updates := l.updatesFor(p, u, log)
		applied, err := l.payments.Transition(ctx, p.ID, domain.Predecessors(u.Status), u.Status, updates,
			func(ctx context.Context) error { return l.onTransition(ctx, p, from, u) })
		if err != nil {
			return nil, fmt.Errorf("apply %s -> %s: %w", from, u.Status, err)
		}
		if applied {
			next, err := l.payments.GetByID(ctx, p.ID)
			if err != nil {
				return nil, err
			}
			log.Info("payment status changed", zap.String("from", string(from)), zap.String("reference", p.Transaction.Reference))
			l.afterCommit(next, from, u)
			return &TransitionResult{Payment: next, From: from, To: u.Status, Applied: true}, nil
		}
		// Someone else moved the payment first; decide again against what is stored now.
		if p, err = l.payments.GetByID(ctx, u.PaymentID); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("apply %s: status kept changing underneath", u.Status)
}

// MarkFailed is the terminal failure path. Donor statistics are untouched.
func (l *Ledger) MarkFailed(ctx context.Context, paymentID, reason, code, source string) (*TransitionResult, error) {
	return l.ApplyStatus(ctx, StatusUpdate{
		PaymentID: paymentID,
		Status:    payment.StatusFailed,
		Source:    source,
		Reason:    reason,
		Code:      code,
	})
}

func (l *Ledger) updatesFor(p *models.Payment, u StatusUpdate, log *zap.Logger) map[string]any {
	cols := map[string]any{}
	if u.Data != nil {
		if u.Data.ProviderName() == p.Provider {
			cols["provider_data"] = payment.NewEnvelope(u.Data)
		} else {
			log.Warn("ignoring provider data of another provider", zap.String("data_provider", string(u.Data.ProviderName())))
		}
	}
	if u.ExternalID != "" {
		cols["external_id"] = u.ExternalID
	}
	if u.ExpiresAt != nil {
		cols["expires_at"] = *u.ExpiresAt
	}
	switch domain.FamilyOf(u.Status) {
	case domain.FamilySuccess:
		if u.Status == payment.StatusCompleted {
			cols["completed_at"] = l.now()
		}
	case domain.FamilyFailure:
		reason := u.Reason
		if reason == "" {
			reason = "provider reported " + string(u.Status)
		}
		cols["failure_reason"] = truncate(reason, 255)
		cols["failure_code"] = truncate(u.Code, 64)
	}
	return cols
}

// onTransition runs inside the transaction of an applied write. Donor stats
// are credited here, so they move exactly when the payment first becomes
// completed.
func (l *Ledger) onTransition(ctx context.Context, p *models.Payment, from payment.Status, u StatusUpdate) error {
	if err := l.payments.AppendHistory(ctx, &models.PaymentHistory{
		PaymentID:  p.ID,
		Action:     "status_change",
		Source:     u.Source,
		FromStatus: string(from),
		ToStatus:   string(u.Status),
		Metadata: historyMetadata(map[string]any{
			"event_id": u.EventID,
			"reason":   u.Reason,
			"code":     u.Code,
		}, u.Payload),
	}); err != nil {
		return err
	}
	switch {
	case u.Status == payment.StatusCompleted:
		if err := l.donors.UpdateDonationStats(ctx, p.DonorID, p.Amount); err != nil {
			return fmt.Errorf("update donor stats: %w", err)
		}
		return l.mirrorDonation(ctx, p, l.donations.MarkCompleted)
	case domain.FamilyOf(u.Status) == domain.FamilyFailure:
		return l.mirrorDonation(ctx, p, l.donations.MarkFailed)
	}
	return nil
}

func (l *Ledger) mirrorDonation(ctx context.Context, p *models.Payment, mark func(context.Context, string) error) error {
	if p.DonationID == "" {
		return nil
	}
	err := mark(ctx, p.DonationID)
	if errors.Is(err, domain.ErrDonationNotFound) {
		l.log.Warn("payment references a missing donation", zap.String("payment_id", p.ID), zap.String("donation_id", p.DonationID))
		return nil
	}
	return err
}

// afterCommit queues notifications for an applied transition. It only runs
// for the write that actually changed the row.
func (l *Ledger) afterCommit(p *models.Payment, from payment.Status, u StatusUpdate) {
	if l.dispatch == nil || l.notifier == nil {
		return
	}
	to := u.Status
	switch {
	case to == payment.StatusCompleted:
		l.dispatch.Submit("payment completed "+p.ID, func(ctx context.Context) error {
			return l.notifier.NotifyPaymentCompleted(ctx, p, l.donation(ctx, p))
		})
	case domain.FamilyOf(to) == domain.FamilyFailure:
		reason := p.Transaction.FailureReason
		l.dispatch.Submit("payment failed "+p.ID, func(ctx context.Context) error {
			return l.notifier.NotifyPaymentFailed(ctx, p, l.donation(ctx, p), reason)
		})
	}
	l.dispatch.Submit("payment status "+p.ID, func(ctx context.Context) error {
		return l.notifier.NotifyPaymentStatusUpdate(ctx, p, from, to)
	})
}

func (l *Ledger) donation(ctx context.Context, p *models.Payment) *models.Donation {
	if p.DonationID == "" {
		return nil
	}
	d, err := l.donations.Get(ctx, p.DonationID)
	if err != nil {
		return nil
	}
	return d
}
