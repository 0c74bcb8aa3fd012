// Package notify delivers payment outcome notifications. The ledger hands
// them to a Dispatcher after commit; Service fans each one out to its sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentFailed    = "payment.failed"
	EventPaymentStatus    = "payment.status_updated"
)

// Event is the payload every sink receives.
type Event struct {
	Type           string          `json:"type"`
	PaymentID      string          `json:"payment_id"`
	Reference      string          `json:"reference"`
	DonorID        string          `json:"donor_id"`
	DonationID     string          `json:"donation_id"`
	Provider       string          `json:"provider"`
	Amount         decimal.Decimal `json:"amount"`
	Currency       string          `json:"currency"`
	Status         string          `json:"status"`
	PreviousStatus string          `json:"previous_status,omitempty"`
	Reason         string          `json:"reason,omitempty"`
	Recurring      bool            `json:"recurring,omitempty"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

// Sink is one delivery channel.
type Sink interface {
	Name() string
	Publish(ctx context.Context, ev Event) error
}

// Service implements the ledger's Notifier by publishing to every sink.
type Service struct {
	sinks []Sink
	log   *zap.Logger
	now   func() time.Time
}

func NewService(log *zap.Logger, sinks ...Sink) *Service {
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{sinks: sinks, log: log.Named("notify"), now: time.Now}
}

func (s *Service) NotifyPaymentCompleted(ctx context.Context, p *models.Payment, d *models.Donation) error {
	ev := s.event(EventPaymentCompleted, p)
	if d != nil {
		ev.Recurring = d.IsRecurring
	}
	return s.publish(ctx, ev)
}

func (s *Service) NotifyPaymentFailed(ctx context.Context, p *models.Payment, d *models.Donation, reason string) error {
	ev := s.event(EventPaymentFailed, p)
	ev.Reason = reason
	if d != nil {
		ev.Recurring = d.IsRecurring
	}
	return s.publish(ctx, ev)
}

func (s *Service) NotifyPaymentStatusUpdate(ctx context.Context, p *models.Payment, old, new domain.Status) error {
	ev := s.event(EventPaymentStatus, p)
	ev.PreviousStatus = string(old)
	ev.Status = string(new)
	return s.publish(ctx, ev)
}

func (s *Service) event(kind string, p *models.Payment) Event {
	return Event{
		Type:       kind,
		PaymentID:  p.ID,
		Reference:  p.Transaction.Reference,
		DonorID:    p.DonorID,
		DonationID: p.DonationID,
		Provider:   string(p.Provider),
		Amount:     p.Amount,
		Currency:   string(p.Currency),
		Status:     string(p.Status),
		OccurredAt: s.now().UTC(),
	}
}

// publish tries every sink; one failing sink does not stop the others.
func (s *Service) publish(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range s.sinks {
		if err := sink.Publish(ctx, ev); err != nil {
			s.log.Warn("sink publish failed",
				zap.String("sink", sink.Name()),
				zap.String("event", ev.Type),
				zap.String("payment_id", ev.PaymentID),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("%s: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}
