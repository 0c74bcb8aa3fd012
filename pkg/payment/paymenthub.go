package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paycore/pkg/fees"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"
)

// PaymentHubData is the PaymentHub variant.
type PaymentHubData struct {
	PaymentID string   `json:"payment_id"`
	Operator  string   `json:"operator,omitempty"`
	Status    string   `json:"status,omitempty"`
	RefundIDs []string `json:"refund_ids,omitempty"`
}

func (*PaymentHubData) ProviderName() Provider { return ProviderPaymentHub }

type PaymentHubConfig struct {
	BaseURL          string
	TokenURL         string
	ClientID         string
	ClientSecret     string
	WebhookSecret    string
	WebhookTolerance time.Duration
	Timeout          time.Duration
	Fees             fees.Schedule
	Logger           *zap.Logger
	Now              func() time.Time
}

// PaymentHubProvider talks to a mobile money aggregator authenticated with
// OAuth2 client credentials. Webhooks are signed over "timestamp.body".
type PaymentHubProvider struct {
	cfg    PaymentHubConfig
	client *http.Client
	log    *zap.Logger
}

func NewPaymentHubProvider(cfg PaymentHubConfig) *PaymentHubProvider {
	cfg.BaseURL = trimBase(cfg.BaseURL, "https://api.paymenthub.africa")
	if cfg.TokenURL == "" {
		cfg.TokenURL = cfg.BaseURL + "/oauth/token"
	}
	if cfg.WebhookTolerance <= 0 {
		cfg.WebhookTolerance = 5 * time.Minute
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cc := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	base := newHTTPClient(cfg.Timeout)
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := cc.Client(tokenCtx)
	client.Timeout = base.Timeout
	return &PaymentHubProvider{cfg: cfg, client: client, log: log.Named("paymenthub")}
}

func (p *PaymentHubProvider) Provider() Provider { return ProviderPaymentHub }

func (p *PaymentHubProvider) Capabilities() Capabilities {
	return Capabilities{
		Refunds:        true,
		SignedWebhooks: true,
		Currencies:     []Currency{XOF, XAF, KES},
		Methods:        []Method{MethodMobileMoney, MethodCard},
	}
}

type paymenthubInitReq struct {
	Amount      string `json:"amount"`
	Currency    string `json:"currency"`
	Reference   string `json:"reference"`
	Description string `json:"description"`
	Channel     string `json:"channel"`
	MSISDN      string `json:"msisdn,omitempty"`
	Email       string `json:"email,omitempty"`
	CallbackURL string `json:"callback_url"`
	ReturnURL   string `json:"return_url"`
}

type paymenthubPayment struct {
	ID          string `json:"id"`
	Reference   string `json:"reference"`
	Status      string `json:"status"`
	Amount      string `json:"amount"`
	Fee         string `json:"fee"`
	Currency    string `json:"currency"`
	Operator    string `json:"operator"`
	RedirectURL string `json:"redirect_url"`
	ExpiresAt   string `json:"expires_at"`
}

var paymenthubStatuses = statusTable{
	"successful": StatusCompleted,
	"succeeded":  StatusCompleted,
	"pending":    StatusProcessing,
	"processing": StatusProcessing,
	"failed":     StatusFailed,
	"cancelled":  StatusCancelled,
	"expired":    StatusExpired,
}

var paymenthubEvents = statusTable{
	"payment.succeeded": StatusCompleted,
	"payment.failed":    StatusFailed,
	"payment.cancelled": StatusCancelled,
	"payment.expired":   StatusExpired,
	"payment.pending":   StatusProcessing,
	"refund.completed":  StatusCompleted,
	"refund.failed":     StatusFailed,
}

func (p *PaymentHubProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	if !p.Capabilities().SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	body, err := doJSON(ctx, p.client, ProviderPaymentHub, "initialize", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/v1/payments",
		body: paymenthubInitReq{
			Amount:      fees.Round(req.Amount, string(req.Currency)).String(),
			Currency:    string(req.Currency),
			Reference:   req.Reference,
			Description: DescriptionToken,
			Channel:     string(req.Method),
			MSISDN:      req.Customer.Phone,
			Email:       req.Customer.Email,
			CallbackURL: req.CallbackURL,
			ReturnURL:   req.ReturnURL,
		},
		headers: map[string]string{"Idempotency-Key": req.Reference},
	})
	if err != nil {
		return nil, err
	}
	var out paymenthubPayment
	if err := decode(ProviderPaymentHub, "initialize", body, &out); err != nil {
		return nil, err
	}
	if out.ID == "" {
		return nil, providerErr(ProviderPaymentHub, "initialize", fmt.Errorf("missing payment id"))
	}
	res := &InitResult{
		ExternalID:  out.ID,
		RedirectURL: out.RedirectURL,
		Data:        &PaymentHubData{PaymentID: out.ID, Operator: out.Operator, Status: out.Status},
	}
	if t, err := time.Parse(time.RFC3339, out.ExpiresAt); err == nil {
		res.ExpiresAt = &t
	}
	return res, nil
}

func (p *PaymentHubProvider) VerifyPayment(ctx context.Context, externalID string) (*VerifyResult, error) {
	body, err := doJSON(ctx, p.client, ProviderPaymentHub, "verify", jsonCall{
		method: http.MethodGet,
		url:    p.cfg.BaseURL + "/v1/payments/" + url.PathEscape(externalID),
	})
	if err != nil {
		return nil, err
	}
	var out paymenthubPayment
	if err := decode(ProviderPaymentHub, "verify", body, &out); err != nil {
		return nil, err
	}
	status, known := paymenthubStatuses.normalize(out.Status)
	if !known {
		p.log.Warn("unknown paymenthub status", zap.String("payment_id", externalID), zap.String("status", out.Status))
	}
	amount, _ := decimal.NewFromString(out.Amount)
	fee, _ := decimal.NewFromString(out.Fee)
	return &VerifyResult{
		Status:      status,
		Amount:      amount,
		Fees:        fee,
		RawResponse: body,
		Data:        &PaymentHubData{PaymentID: out.ID, Operator: out.Operator, Status: out.Status},
	}, nil
}

type paymenthubEnvelope struct {
	ID        string `json:"id"`
	EventType string `json:"event_type"`
	CreatedAt string `json:"created_at"`
	Data      struct {
		PaymentID string `json:"payment_id"`
		RefundID  string `json:"refund_id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
		Amount    string `json:"amount"`
		Currency  string `json:"currency"`
	} `json:"data"`
}

// PaymentHubSignature signs body the way PaymentHub does.
func PaymentHubSignature(secret, timestamp string, body []byte) string {
	return hmacHex(secret, []byte(timestamp), []byte("."), body)
}

func (p *PaymentHubProvider) ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	ts := req.Header.Get("X-Timestamp")
	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	now := req.ReceivedAt
	if now.IsZero() {
		now = p.cfg.Now()
	}
	if d := now.Sub(time.Unix(sec, 0)); d > p.cfg.WebhookTolerance || d < -p.cfg.WebhookTolerance {
		return nil, ErrInvalidSignature
	}
	if !hmacEqual(req.Header.Get("X-Signature"), PaymentHubSignature(p.cfg.WebhookSecret, ts, req.Body)) {
		return nil, ErrInvalidSignature
	}
	var env paymenthubEnvelope
	if err := json.Unmarshal(req.Body, &env); err != nil || env.ID == "" || env.Data.PaymentID == "" {
		return nil, ErrMalformedWebhook
	}
	status, known := paymenthubEvents.normalize(env.EventType)
	if !known {
		status = ""
	}
	ev := &WebhookEvent{
		EventType:  env.EventType,
		EventID:    env.ID,
		ExternalID: env.Data.PaymentID,
		Status:     status,
		Verified:   true,
	}
	ev.Amount, _ = decimal.NewFromString(env.Data.Amount)
	if strings.HasPrefix(env.EventType, "refund.") {
		ev.RefundID = env.Data.RefundID
		if ev.RefundID == "" {
			return nil, ErrMalformedWebhook
		}
	}
	return ev, nil
}

type paymenthubRefundReq struct {
	Amount   string `json:"amount"`
	Currency string `json:"currency"`
	Reason   string `json:"reason,omitempty"`
}

type paymenthubRefundResp struct {
	ID     string `json:"id"`
	Status string `json:"status"`
}

func (p *PaymentHubProvider) Refund(ctx context.Context, req RefundRequest) (*RefundResult, error) {
	body, err := doJSON(ctx, p.client, ProviderPaymentHub, "refund", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/v1/payments/" + url.PathEscape(req.ExternalID) + "/refunds",
		body: paymenthubRefundReq{
			Amount:   fees.Round(req.Amount, string(req.Currency)).String(),
			Currency: string(req.Currency),
			Reason:   req.Reason,
		},
	})
	if err != nil {
		return nil, err
	}
	var out paymenthubRefundResp
	if err := decode(ProviderPaymentHub, "refund", body, &out); err != nil {
		return nil, err
	}
	return &RefundResult{RefundID: out.ID, Status: out.Status}, nil
}

func (p *PaymentHubProvider) CalculateFees(amount decimal.Decimal, currency Currency, method Method) (fees.Breakdown, error) {
	return p.cfg.Fees.Calculate(amount, string(currency), string(method))
}
