// Package ledger owns the payment lifecycle. Every status change goes through
// ApplyStatus, whose write is conditional on the stored status, so webhook,
// user verify and the reconciliation sweep can race on the same payment.
package ledger

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/pkg/payment"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/zap"
	"gorm.io/datatypes"
)

// DefaultProviderTimeout bounds one adapter call.
const DefaultProviderTimeout = 20 * time.Second

type Config struct {
	ProviderTimeout time.Duration
	// PublicBaseURL prefixes the webhook callback and return URLs handed to providers.
	PublicBaseURL string
	// DeepLinkBase is the mobile return target, e.g. app://payment/return.
	DeepLinkBase string
	NodeID       int64
}

type Deps struct {
	Payments  PaymentStore
	Registry  *payment.Registry
	Donations DonationUpdater
	Donors    DonorStats
	Notifier  Notifier
	Dispatch  Dispatcher
	Logger    *zap.Logger
}

type Ledger struct {
	payments  PaymentStore
	registry  *payment.Registry
	donations DonationUpdater
	donors    DonorStats
	notifier  Notifier
	dispatch  Dispatcher
	refs      *snowflake.Node
	cfg       Config
	log       *zap.Logger
	now       func() time.Time
}

func New(deps Deps, cfg Config) (*Ledger, error) {
	node, err := snowflake.NewNode(cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("reference generator: %w", err)
	}
	if cfg.ProviderTimeout <= 0 {
		cfg.ProviderTimeout = DefaultProviderTimeout
	}
	if cfg.DeepLinkBase == "" {
		cfg.DeepLinkBase = "app://payment/return"
	}
	cfg.PublicBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/")
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Ledger{
		payments:  deps.Payments,
		registry:  deps.Registry,
		donations: deps.Donations,
		donors:    deps.Donors,
		notifier:  deps.Notifier,
		dispatch:  deps.Dispatch,
		refs:      node,
		cfg:       cfg,
		log:       log.Named("ledger"),
		now:       time.Now,
	}, nil
}

// SetClock replaces the ledger's time source.
func (l *Ledger) SetClock(now func() time.Time) { l.now = now }

func (l *Ledger) Registry() *payment.Registry { return l.registry }

func (l *Ledger) Get(ctx context.Context, reference string) (*models.Payment, error) {
	return l.payments.GetByReference(ctx, reference)
}

func (l *Ledger) GetByID(ctx context.Context, id string) (*models.Payment, error) {
	return l.payments.GetByID(ctx, id)
}

// newReference returns a time-ordered, globally unique payment reference.
func (l *Ledger) newReference() string {
	return "PAY" + l.refs.Generate().String()
}

// CallbackURL is where provider p posts its webhooks.
func (l *Ledger) CallbackURL(p payment.Provider) string {
	return l.cfg.PublicBaseURL + "/api/v1/webhooks/" + url.PathEscape(string(p))
}

func (l *Ledger) returnURL(reference string) string {
	u, err := payment.BuildURL(l.cfg.PublicBaseURL+"/api/v1/payments/return",
		url.Values{"reference": {reference}}, "reference")
	if err != nil {
		return l.cfg.PublicBaseURL + "/api/v1/payments/return"
	}
	return u
}

// ReturnLink renders the mobile deep link for p. Anything not yet terminal
// is reported as pending.
func (l *Ledger) ReturnLink(p *models.Payment) string {
	status := "pending"
	switch domain.FamilyOf(p.Status) {
	case domain.FamilySuccess:
		status = "completed"
	case domain.FamilyFailure:
		status = "failed"
	}
	u, err := payment.BuildURL(l.cfg.DeepLinkBase, url.Values{
		"transactionId": {p.Transaction.Reference},
		"donationId":    {p.DonationID},
		"status":        {status},
	}, "transactionId", "donationId", "status")
	if err != nil {
		return l.cfg.DeepLinkBase
	}
	return u
}

func (l *Ledger) recordAttempt(ctx context.Context, p *models.Payment, kind, source string, attempt int,
	started time.Time, status payment.Status, callErr error) {
	a := &models.PaymentAttempt{
		PaymentID: p.ID,
		Kind:      kind,
		Source:    source,
		AttemptNo: attempt,
		Outcome:   domain.OutcomeSuccess,
		Status:    string(status),
		LatencyMs: l.now().Sub(started).Milliseconds(),
	}
	if callErr != nil {
		a.Outcome = domain.OutcomeError
		a.Error = truncate(callErr.Error(), 512)
	}
	if err := l.payments.AppendAttempt(ctx, a); err != nil {
		l.log.Error("record attempt", zap.String("payment_id", p.ID), zap.String("kind", kind), zap.Error(err))
	}
}

func historyMetadata(fields map[string]any, raw []byte) datatypes.JSON {
	meta := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		if s, ok := v.(string); ok && s == "" {
			continue
		}
		meta[k] = v
	}
	if len(raw) > 0 {
		meta["provider_response"] = json.RawMessage(models.PayloadJSON(raw))
	}
	if len(meta) == 0 {
		return nil
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return nil
	}
	return datatypes.JSON(b)
}

// safeReason is the failure text persisted and shown to callers. Provider
// errors already omit upstream bodies.
func safeReason(err error) string {
	if err == nil {
		return ""
	}
	return truncate(err.Error(), 255)
}

func truncate(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func (l *Ledger) providerCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, l.cfg.ProviderTimeout)
}
