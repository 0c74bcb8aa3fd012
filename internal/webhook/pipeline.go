// Package webhook ingests provider callbacks: authenticate, find the payment,
// record the event once, then drive the ledger.
package webhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"paycore/internal/domain"
	"paycore/internal/ledger"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"go.uber.org/zap"
)

// Store is the webhook audit persistence. repository.PaymentRepository
// implements it.
type Store interface {
	GetByExternalID(ctx context.Context, provider payment.Provider, externalID string) (*models.Payment, error)
	GetByReference(ctx context.Context, ref string) (*models.Payment, error)
	RecordWebhook(ctx context.Context, w *models.PaymentWebhook) (*models.PaymentWebhook, bool, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingErr error) error
}

// ErrPollFailed means an event needed confirmation from the provider and the
// poll did not succeed. The event stays unprocessed.
var ErrPollFailed = errors.New("confirmation poll failed")

type Pipeline struct {
	registry *payment.Registry
	store    Store
	ledger   *ledger.Ledger
	timeout  time.Duration
	log      *zap.Logger
	now      func() time.Time
}

func NewPipeline(registry *payment.Registry, store Store, l *ledger.Ledger, timeout time.Duration, log *zap.Logger) *Pipeline {
	if timeout <= 0 {
		timeout = ledger.DefaultProviderTimeout
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		registry: registry,
		store:    store,
		ledger:   l,
		timeout:  timeout,
		log:      log.Named("webhook"),
		now:      time.Now,
	}
}

// IngestResult describes an accepted event. Err holds a failure that
// happened after the event was recorded; the provider is still acknowledged.
type IngestResult struct {
	PaymentID string
	EventID   string
	Duplicate bool
	Applied   bool
	Status    payment.Status
	Err       error
}

// Ingest returns an error only when the event could not be accepted:
// payment.ErrUnknownProvider, payment.ErrInvalidSignature,
// payment.ErrMalformedWebhook, domain.ErrPaymentNotFound, or a storage error
// before the audit row was written. An authenticated event naming no payment
// and no status is acknowledged without being recorded.
func (p *Pipeline) Ingest(ctx context.Context, provider payment.Provider, req payment.WebhookRequest) (*IngestResult, error) {
	adapter, err := p.registry.Get(provider)
	if err != nil {
		return nil, err
	}
	if req.ReceivedAt.IsZero() {
		req.ReceivedAt = p.now()
	}
	pctx, cancel := context.WithTimeout(ctx, p.timeout)
	ev, err := adapter.ParseWebhook(pctx, req)
	cancel()
	if err != nil {
		p.log.Warn("rejected webhook", zap.String("provider", string(provider)), zap.Error(err))
		return nil, err
	}
	log := p.log.With(zap.String("provider", string(provider)), zap.String("event_id", ev.EventID),
		zap.String("event_type", ev.EventType))

	if ev.ExternalID == "" && ev.Status == "" && !ev.IsRefundEvent() {
		// Event types we do not handle; acknowledged so the provider stops
		// redelivering them.
		log.Debug("webhook ignored")
		return &IngestResult{EventID: ev.EventID}, nil
	}

	pay, err := p.findPayment(ctx, provider, ev.ExternalID)
	if err != nil {
		log.Warn("webhook for unknown payment", zap.String("external_id", ev.ExternalID), zap.Error(err))
		return nil, err
	}
	log = log.With(zap.String("payment_id", pay.ID))

	rec, duplicate, err := p.store.RecordWebhook(ctx, &models.PaymentWebhook{
		PaymentID:     pay.ID,
		Provider:      provider,
		EventType:     ev.EventType,
		EventID:       ev.EventID,
		Payload:       models.PayloadJSON(req.Body),
		Verified:      ev.Verified,
		ReceivedAt:    req.ReceivedAt,
		DeliveryCount: 1,
	})
	if err != nil {
		return nil, fmt.Errorf("record webhook: %w", err)
	}
	out := &IngestResult{PaymentID: pay.ID, EventID: ev.EventID, Duplicate: duplicate, Status: pay.Status}
	if duplicate && rec.ProcessedAt != nil {
		log.Info("duplicate webhook ignored", zap.Int("delivery_count", rec.DeliveryCount))
		return out, nil
	}

	tr, procErr := p.process(ctx, pay, ev, req.Body)
	var conflict *domain.StateConflictError
	if errors.As(procErr, &conflict) {
		// Rejected for good; redelivery would be rejected again.
		log.Warn("webhook status rejected", zap.Error(procErr))
		out.Err = procErr
		procErr = nil
	}
	if err := p.store.MarkWebhookProcessed(ctx, rec.ID, procErr); err != nil {
		log.Error("mark webhook processed", zap.Error(err))
	}
	if procErr != nil {
		log.Error("webhook processing failed", zap.Error(procErr))
		out.Err = procErr
	}
	if tr != nil {
		out.Applied = tr.Applied
		if tr.Payment != nil {
			out.Status = tr.Payment.Status
		}
	}
	return out, nil
}

// findPayment looks the payment up by the provider's id, then by our
// reference for providers that echo it back.
func (p *Pipeline) findPayment(ctx context.Context, provider payment.Provider, externalID string) (*models.Payment, error) {
	if externalID == "" {
		return nil, domain.ErrPaymentNotFound
	}
	pay, err := p.store.GetByExternalID(ctx, provider, externalID)
	if !errors.Is(err, domain.ErrPaymentNotFound) {
		return pay, err
	}
	pay, err = p.store.GetByReference(ctx, externalID)
	if err != nil {
		return nil, err
	}
	if pay.Provider != provider {
		return nil, domain.ErrPaymentNotFound
	}
	return pay, nil
}

func (p *Pipeline) process(ctx context.Context, pay *models.Payment, ev *payment.WebhookEvent, body []byte) (*ledger.TransitionResult, error) {
	if ev.IsRefundEvent() {
		return p.ledger.ApplyRefundEvent(ctx, pay, ev)
	}
	needsPoll := ev.PollRequired || (!ev.Verified && ev.Status.IsTerminal())
	if !needsPoll {
		if ev.Status == "" {
			return nil, nil
		}
		return p.ledger.ApplyStatus(ctx, ledger.StatusUpdate{
			PaymentID: pay.ID,
			Status:    ev.Status,
			Source:    domain.SourceWebhook,
			EventID:   ev.EventID,
			Payload:   body,
		})
	}
	if pay.Transaction.ExternalID == "" {
		return nil, fmt.Errorf("%w: payment has no provider transaction id", ErrPollFailed)
	}
	res, err := p.ledger.Poll(ctx, pay, domain.SourceWebhook, 1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPollFailed, err)
	}
	if ev.Status != "" && res.Status != ev.Status {
		p.log.Info("poll disagrees with unverified webhook",
			zap.String("payment_id", pay.ID), zap.String("webhook", string(ev.Status)), zap.String("provider", string(res.Status)))
	}
	return p.ledger.ApplyStatus(ctx, ledger.StatusUpdate{
		PaymentID: pay.ID,
		Status:    res.Status,
		Source:    domain.SourceWebhook,
		EventID:   ev.EventID,
		Payload:   res.RawResponse,
		Data:      res.Data,
	})
}
