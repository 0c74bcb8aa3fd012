// Package ledgertest holds in-memory collaborators for tests of the ledger
// and the components driving it.
package ledgertest

import (
	"context"
	"sort"
	"sync"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"github.com/shopspring/decimal"
)

// MemStore is an in-memory payment repository. Transition is atomic per
// store and rolls back (including history) when onApplied fails.
type MemStore struct {
	txMu     sync.Mutex
	mu       sync.Mutex
	payments map[string]*models.Payment
	webhooks []models.PaymentWebhook
	attempts []models.PaymentAttempt
	history  []models.PaymentHistory
	nextID   uint
}

func NewMemStore() *MemStore {
	return &MemStore{payments: make(map[string]*models.Payment)}
}

func clone(p *models.Payment) *models.Payment {
	c := *p
	return &c
}

// Put stores p as-is, e.g. with a backdated CreatedAt.
func (s *MemStore) Put(p *models.Payment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.payments[p.ID] = clone(p)
}

func (s *MemStore) Create(ctx context.Context, p *models.Payment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.payments[p.ID] = clone(p)
	return nil
}

func (s *MemStore) find(match func(*models.Payment) bool) (*models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.payments {
		if match(p) {
			return clone(p), nil
		}
	}
	return nil, domain.ErrPaymentNotFound
}

func (s *MemStore) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	return s.find(func(p *models.Payment) bool { return p.ID == id })
}

func (s *MemStore) GetByReference(ctx context.Context, ref string) (*models.Payment, error) {
	return s.find(func(p *models.Payment) bool { return p.Transaction.Reference == ref })
}

func (s *MemStore) GetByExternalID(ctx context.Context, provider payment.Provider, externalID string) (*models.Payment, error) {
	return s.find(func(p *models.Payment) bool {
		return p.Provider == provider && p.Transaction.ExternalID == externalID
	})
}

func (s *MemStore) Transition(ctx context.Context, id string, from []payment.Status, to payment.Status,
	updates map[string]any, onApplied func(ctx context.Context) error) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	cur, ok := s.payments[id]
	if !ok || !contains(from, cur.Status) {
		s.mu.Unlock()
		return false, nil
	}
	next := clone(cur)
	next.Status = to
	next.UpdatedAt = time.Now()
	apply(next, updates)
	historyLen := len(s.history)
	s.mu.Unlock()

	if onApplied != nil {
		if err := onApplied(ctx); err != nil {
			s.mu.Lock()
			s.history = s.history[:historyLen]
			s.mu.Unlock()
			return false, err
		}
	}
	s.mu.Lock()
	s.payments[id] = next
	s.mu.Unlock()
	return true, nil
}

func apply(p *models.Payment, cols map[string]any) {
	for k, v := range cols {
		switch k {
		case "provider_data":
			p.ProviderData = v.(payment.Envelope)
		case "external_id":
			p.Transaction.ExternalID = v.(string)
		case "expires_at":
			t := v.(time.Time)
			p.Transaction.ExpiresAt = &t
		case "completed_at":
			t := v.(time.Time)
			p.Transaction.CompletedAt = &t
		case "failure_reason":
			p.Transaction.FailureReason = v.(string)
		case "failure_code":
			p.Transaction.FailureCode = v.(string)
		case "refund_amount":
			p.Refund.Amount = v.(decimal.NullDecimal)
		case "refund_reason":
			p.Refund.Reason = v.(string)
		case "refund_status":
			p.Refund.Status = v.(string)
		case "refund_refund_id":
			p.Refund.RefundID = v.(string)
		case "refund_requested_at":
			p.Refund.RequestedAt = v.(*time.Time)
		case "refund_completed_at":
			p.Refund.CompletedAt = v.(*time.Time)
		}
	}
}

func contains(list []payment.Status, s payment.Status) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

func (s *MemStore) UpdateRefund(ctx context.Context, id string, refund models.Refund) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok {
		return domain.ErrPaymentNotFound
	}
	next := clone(p)
	next.Refund = refund
	s.payments[id] = next
	return nil
}

func (s *MemStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Payment
	for _, p := range s.payments {
		if domain.IsOpen(p.Status) && p.CreatedAt.Before(cutoff) {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].LastReconciledAt, out[j].LastReconciledAt
		switch {
		case a == nil && b != nil:
			return true
		case a != nil && b == nil:
			return false
		case a != nil && !a.Equal(*b):
			return a.Before(*b)
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemStore) MarkReconciled(ctx context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		if p, ok := s.payments[id]; ok {
			next := clone(p)
			stamp := at
			next.LastReconciledAt = &stamp
			s.payments[id] = next
		}
	}
	return nil
}

// ClaimRefund mirrors the repository's conditional claim: it succeeds once per
// payment, and only while the payment is completed.
func (s *MemStore) ClaimRefund(ctx context.Context, id string, refund models.Refund) (bool, error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.payments[id]
	if !ok || p.Status != payment.StatusCompleted || !p.Refund.IsZero() {
		return false, nil
	}
	next := clone(p)
	next.Refund = refund
	next.UpdatedAt = time.Now()
	s.payments[id] = next
	return true, nil
}

func (s *MemStore) AppendAttempt(ctx context.Context, a *models.PaymentAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, *a)
	return nil
}

func (s *MemStore) AppendHistory(ctx context.Context, h *models.PaymentHistory) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append(s.history, *h)
	return nil
}

func (s *MemStore) RecordWebhook(ctx context.Context, w *models.PaymentWebhook) (*models.PaymentWebhook, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.webhooks {
		if s.webhooks[i].Provider == w.Provider && s.webhooks[i].EventID == w.EventID {
			s.webhooks[i].DeliveryCount++
			existing := s.webhooks[i]
			return &existing, true, nil
		}
	}
	s.nextID++
	w.ID = s.nextID
	if w.DeliveryCount == 0 {
		w.DeliveryCount = 1
	}
	s.webhooks = append(s.webhooks, *w)
	return w, false, nil
}

func (s *MemStore) MarkWebhookProcessed(ctx context.Context, id uint, processingErr error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.webhooks {
		if s.webhooks[i].ID != id {
			continue
		}
		if processingErr != nil {
			s.webhooks[i].ProcessingError = processingErr.Error()
			return nil
		}
		now := time.Now()
		s.webhooks[i].ProcessedAt = &now
		s.webhooks[i].ProcessingError = ""
	}
	return nil
}

func (s *MemStore) Webhooks() []models.PaymentWebhook {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.PaymentWebhook(nil), s.webhooks...)
}

// Attempts returns the recorded attempts of kind for paymentID. An empty kind
// returns every attempt.
func (s *MemStore) Attempts(paymentID, kind string) []models.PaymentAttempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentAttempt
	for _, a := range s.attempts {
		if a.PaymentID == paymentID && (kind == "" || a.Kind == kind) {
			out = append(out, a)
		}
	}
	return out
}

func (s *MemStore) History(paymentID string) []models.PaymentHistory {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.PaymentHistory
	for _, h := range s.history {
		if h.PaymentID == paymentID {
			out = append(out, h)
		}
	}
	return out
}
