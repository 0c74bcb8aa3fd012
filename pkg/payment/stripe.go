package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"paycore/pkg/fees"

	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/client"
	"github.com/stripe/stripe-go/v80/webhook"
	"go.uber.org/zap"
)

// StripeData is the Stripe variant.
type StripeData struct {
	PaymentIntentID string   `json:"payment_intent_id"`
	ChargeID        string   `json:"charge_id,omitempty"`
	IntentStatus    string   `json:"intent_status,omitempty"`
	RefundIDs       []string `json:"refund_ids,omitempty"`
}

func (*StripeData) ProviderName() Provider { return ProviderStripe }

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// APIURL overrides the Stripe API endpoint; used against test servers.
	APIURL  string
	Timeout time.Duration
	Fees    fees.Schedule
	Logger  *zap.Logger
}

// StripeProvider creates PaymentIntents and confirms them client side with the
// returned client secret.
type StripeProvider struct {
	cfg StripeConfig
	api *client.API
	log *zap.Logger
}

func NewStripeProvider(cfg StripeConfig) *StripeProvider {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	bc := &stripe.BackendConfig{
		HTTPClient:        newHTTPClient(cfg.Timeout),
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelNull},
	}
	if cfg.APIURL != "" {
		bc.URL = stripe.String(cfg.APIURL)
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, bc)
	api := client.New(cfg.SecretKey, &stripe.Backends{API: backend, Connect: backend, Uploads: backend})
	return &StripeProvider{cfg: cfg, api: api, log: log.Named("stripe")}
}

func (p *StripeProvider) Provider() Provider { return ProviderStripe }

func (p *StripeProvider) Capabilities() Capabilities {
	return Capabilities{
		Refunds:        true,
		SignedWebhooks: true,
		Currencies:     []Currency{USD, EUR, XOF, XAF, KES},
		Methods:        []Method{MethodCard, MethodWallet},
	}
}

func toMinor(amount decimal.Decimal, cur Currency) int64 {
	return amount.Shift(fees.MinorUnits(string(cur))).Round(0).IntPart()
}

func fromMinor(v int64, cur string) decimal.Decimal {
	return decimal.New(v, -fees.MinorUnits(cur))
}

var stripeStatuses = statusTable{
	string(stripe.PaymentIntentStatusSucceeded):             StatusCompleted,
	string(stripe.PaymentIntentStatusCanceled):              StatusCancelled,
	string(stripe.PaymentIntentStatusProcessing):            StatusProcessing,
	string(stripe.PaymentIntentStatusRequiresAction):        StatusProcessing,
	string(stripe.PaymentIntentStatusRequiresCapture):       StatusProcessing,
	string(stripe.PaymentIntentStatusRequiresConfirmation):  StatusProcessing,
	string(stripe.PaymentIntentStatusRequiresPaymentMethod): StatusProcessing,
}

// stripeErr keeps Stripe's HTTP status but not its message body.
func stripeErr(op string, err error) error {
	var se *stripe.Error
	if errors.As(err, &se) {
		return &ProviderError{Provider: ProviderStripe, Op: op, StatusCode: se.HTTPStatusCode,
			Detail: string(se.Code) + " " + se.Msg}
	}
	return providerErr(ProviderStripe, op, err)
}

func (p *StripeProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	if !p.Capabilities().SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	params := &stripe.PaymentIntentParams{
		Amount:      stripe.Int64(toMinor(req.Amount, req.Currency)),
		Currency:    stripe.String(strings.ToLower(string(req.Currency))),
		Description: stripe.String(DescriptionToken),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	params.SetIdempotencyKey("init-" + req.Reference)
	params.AddMetadata("reference", req.Reference)
	if req.ContributionID != "" {
		params.AddMetadata("contribution_id", req.ContributionID)
	}
	pi, err := p.api.PaymentIntents.New(params)
	if err != nil {
		return nil, stripeErr("initialize", err)
	}
	p.log.Info("payment intent created", zap.String("reference", req.Reference), zap.String("payment_intent", pi.ID))
	return &InitResult{
		ExternalID:   pi.ID,
		ClientSecret: pi.ClientSecret,
		Data:         &StripeData{PaymentIntentID: pi.ID, IntentStatus: string(pi.Status)},
	}, nil
}

func (p *StripeProvider) VerifyPayment(ctx context.Context, externalID string) (*VerifyResult, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := p.api.PaymentIntents.Get(externalID, params)
	if err != nil {
		return nil, stripeErr("verify", err)
	}
	status, _ := stripeStatuses.normalize(string(pi.Status))
	// A failed confirmation drops the intent back to requires_payment_method
	// with the error recorded; the donor's attempt has failed.
	if pi.Status == stripe.PaymentIntentStatusRequiresPaymentMethod && pi.LastPaymentError != nil {
		status = StatusFailed
	}
	data := &StripeData{PaymentIntentID: pi.ID, IntentStatus: string(pi.Status)}
	if pi.LatestCharge != nil {
		data.ChargeID = pi.LatestCharge.ID
	}
	raw, _ := json.Marshal(pi)
	return &VerifyResult{
		Status:      status,
		Amount:      fromMinor(pi.AmountReceived, string(pi.Currency)),
		RawResponse: raw,
		Data:        data,
	}, nil
}

func (p *StripeProvider) ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	event, err := webhook.ConstructEventWithOptions(req.Body, req.Header.Get("Stripe-Signature"), p.cfg.WebhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		if errors.Is(err, webhook.ErrNotSigned) || errors.Is(err, webhook.ErrInvalidHeader) ||
			errors.Is(err, webhook.ErrNoValidSignature) || errors.Is(err, webhook.ErrTooOld) {
			return nil, ErrInvalidSignature
		}
		return nil, ErrMalformedWebhook
	}
	out := &WebhookEvent{EventType: string(event.Type), EventID: event.ID, Verified: true}

	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded, stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypePaymentIntentCanceled, stripe.EventTypePaymentIntentProcessing:
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil || pi.ID == "" {
			return nil, ErrMalformedWebhook
		}
		out.ExternalID = pi.ID
		out.Amount = fromMinor(pi.Amount, string(pi.Currency))
		switch event.Type {
		case stripe.EventTypePaymentIntentSucceeded:
			out.Status = StatusCompleted
		case stripe.EventTypePaymentIntentPaymentFailed:
			out.Status = StatusFailed
		case stripe.EventTypePaymentIntentCanceled:
			out.Status = StatusCancelled
		default:
			out.Status = StatusProcessing
		}
	case stripe.EventTypeChargeRefunded:
		var ch stripe.Charge
		if err := json.Unmarshal(event.Data.Raw, &ch); err != nil || ch.PaymentIntent == nil {
			return nil, ErrMalformedWebhook
		}
		out.ExternalID = ch.PaymentIntent.ID
		out.RefundID = ch.ID
		if ch.Refunds != nil && len(ch.Refunds.Data) > 0 {
			out.RefundID = ch.Refunds.Data[0].ID
		}
		out.Amount = fromMinor(ch.AmountRefunded, string(ch.Currency))
		out.Status = StatusPartiallyRefunded
		if ch.Refunded {
			out.Status = StatusRefunded
		}
	default:
		// Acknowledged but carries no status change.
		out.Status = ""
	}
	return out, nil
}

func (p *StripeProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(req.ExternalID),
		Amount:        stripe.Int64(toMinor(req.Amount, req.Currency)),
		Reason:        stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.Reference != "" {
		// A retried refund of the same amount returns the original refund.
		params.SetIdempotencyKey("refund-" + req.Reference + "-" + req.Amount.String())
	}
	if req.Reason != "" {
		params.AddMetadata("reason", req.Reason)
	}
	r, err := p.api.Refunds.New(params)
	if err != nil {
		return nil, stripeErr("refund", err)
	}
	return &RefundResult{RefundID: r.ID, Status: string(r.Status)}, nil
}

func (p *StripeProvider) CalculateFees(amount decimal.Decimal, currency Currency, method Method) (fees.Breakdown, error) {
	return p.cfg.Fees.Calculate(amount, string(currency), string(method))
}
