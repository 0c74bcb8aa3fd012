package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"paycore/pkg/fees"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CinetPayData is the CinetPay variant.
type CinetPayData struct {
	TransactionID string `json:"transaction_id"`
	PaymentToken  string `json:"payment_token,omitempty"`
	PaymentMethod string `json:"payment_method,omitempty"`
	OperatorID    string `json:"operator_id,omitempty"`
	Status        string `json:"status,omitempty"`
}

func (*CinetPayData) ProviderName() Provider { return ProviderCinetPay }

type CinetPayConfig struct {
	BaseURL   string
	APIKey    string
	SiteID    string
	SecretKey string // HMAC key for the X-Token header
	Timeout   time.Duration
	Fees      fees.Schedule
	Logger    *zap.Logger
}

// CinetPayProvider is a hosted-page aggregator for card and mobile money in
// the XOF/XAF zones.
type CinetPayProvider struct {
	cfg    CinetPayConfig
	client *http.Client
	log    *zap.Logger
}

func NewCinetPayProvider(cfg CinetPayConfig) *CinetPayProvider {
	cfg.BaseURL = trimBase(cfg.BaseURL, "https://api-checkout.cinetpay.com")
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &CinetPayProvider{cfg: cfg, client: newHTTPClient(cfg.Timeout), log: log.Named("cinetpay")}
}

func (p *CinetPayProvider) Provider() Provider { return ProviderCinetPay }

func (p *CinetPayProvider) Capabilities() Capabilities {
	return Capabilities{
		SignedWebhooks: true,
		Currencies:     []Currency{XOF, XAF, USD, EUR},
		Methods:        []Method{MethodCard, MethodMobileMoney, MethodWallet},
	}
}

var cinetpayChannels = map[Method]string{
	MethodCard:        "CREDIT_CARD",
	MethodMobileMoney: "MOBILE_MONEY",
	MethodWallet:      "WALLET",
}

type cinetpayInitReq struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
	Amount        int64  `json:"amount"`
	Currency      string `json:"currency"`
	Description   string `json:"description"`
	NotifyURL     string `json:"notify_url"`
	ReturnURL     string `json:"return_url"`
	Channels      string `json:"channels"`
	CustomerName  string `json:"customer_name,omitempty"`
	CustomerEmail string `json:"customer_email,omitempty"`
	CustomerPhone string `json:"customer_phone_number,omitempty"`
	Metadata      string `json:"metadata,omitempty"`
}

type cinetpayResp struct {
	Code    string          `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

type cinetpayInitData struct {
	PaymentToken string `json:"payment_token"`
	PaymentURL   string `json:"payment_url"`
}

type cinetpayCheckData struct {
	Amount        string `json:"amount"`
	Currency      string `json:"currency"`
	Status        string `json:"status"`
	PaymentMethod string `json:"payment_method"`
	OperatorID    string `json:"operator_id"`
	PaymentDate   string `json:"payment_date"`
}

var cinetpayStatuses = statusTable{
	"accepted":             StatusCompleted,
	"refused":              StatusFailed,
	"pending":              StatusProcessing,
	"waiting_for_customer": StatusProcessing,
	"canceled":             StatusCancelled,
	"cancelled":            StatusCancelled,
}

func (p *CinetPayProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	if !p.Capabilities().SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	channel := cinetpayChannels[req.Method]
	if channel == "" {
		channel = "ALL"
	}
	body, err := doJSON(ctx, p.client, ProviderCinetPay, "initialize", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/v2/payment",
		body: cinetpayInitReq{
			APIKey:        p.cfg.APIKey,
			SiteID:        p.cfg.SiteID,
			TransactionID: req.Reference,
			Amount:        req.Amount.Round(0).IntPart(),
			Currency:      string(req.Currency),
			Description:   DescriptionToken,
			NotifyURL:     req.CallbackURL,
			ReturnURL:     req.ReturnURL,
			Channels:      channel,
			CustomerName:  req.Customer.Name,
			CustomerEmail: req.Customer.Email,
			CustomerPhone: req.Customer.Phone,
			Metadata:      req.ContributionID,
		},
	})
	if err != nil {
		return nil, err
	}
	var out cinetpayResp
	if err := decode(ProviderCinetPay, "initialize", body, &out); err != nil {
		return nil, err
	}
	if out.Code != "201" {
		return nil, &ProviderError{Provider: ProviderCinetPay, Op: "initialize", Detail: out.Code + " " + out.Message,
			Err: fmt.Errorf("unexpected code %s", out.Code)}
	}
	var data cinetpayInitData
	if err := decode(ProviderCinetPay, "initialize", out.Data, &data); err != nil {
		return nil, err
	}
	p.log.Info("payment page created", zap.String("transaction_id", req.Reference))
	return &InitResult{
		ExternalID:  req.Reference,
		RedirectURL: data.PaymentURL,
		Data:        &CinetPayData{TransactionID: req.Reference, PaymentToken: data.PaymentToken},
	}, nil
}

type cinetpayCheckReq struct {
	APIKey        string `json:"apikey"`
	SiteID        string `json:"site_id"`
	TransactionID string `json:"transaction_id"`
}

func (p *CinetPayProvider) VerifyPayment(ctx context.Context, externalID string) (*VerifyResult, error) {
	body, err := doJSON(ctx, p.client, ProviderCinetPay, "verify", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/v2/payment/check",
		body:   cinetpayCheckReq{APIKey: p.cfg.APIKey, SiteID: p.cfg.SiteID, TransactionID: externalID},
	})
	if err != nil {
		return nil, err
	}
	var out cinetpayResp
	if err := decode(ProviderCinetPay, "verify", body, &out); err != nil {
		return nil, err
	}
	var data cinetpayCheckData
	if len(out.Data) > 0 {
		if err := decode(ProviderCinetPay, "verify", out.Data, &data); err != nil {
			return nil, err
		}
	}
	status, known := cinetpayStatuses.normalize(data.Status)
	if !known {
		p.log.Warn("unknown cinetpay status", zap.String("transaction_id", externalID),
			zap.String("status", data.Status), zap.String("code", out.Code))
	}
	amount, _ := decimal.NewFromString(data.Amount)
	return &VerifyResult{
		Status:      status,
		Amount:      amount,
		RawResponse: body,
		Data: &CinetPayData{
			TransactionID: externalID,
			PaymentMethod: data.PaymentMethod,
			OperatorID:    data.OperatorID,
			Status:        data.Status,
		},
	}, nil
}

// cinetpayTokenFields is the order in which notification fields are
// concatenated for the X-Token HMAC.
var cinetpayTokenFields = []string{
	"cpm_site_id",
	"cpm_trans_id",
	"cpm_trans_date",
	"cpm_amount",
	"cpm_currency",
	"signature",
	"payment_method",
	"cel_phone_num",
	"cpm_phone_prefixe",
	"cpm_language",
	"cpm_version",
	"cpm_payment_config",
	"cpm_page_action",
	"cpm_custom",
	"cpm_designation",
	"cpm_error_message",
}

// CinetPayToken computes the X-Token for a notification's fields.
func CinetPayToken(secret string, fields url.Values) string {
	var b strings.Builder
	for _, k := range cinetpayTokenFields {
		b.WriteString(fields.Get(k))
	}
	return hmacHex(secret, []byte(b.String()))
}

func cinetpayFields(req WebhookRequest) (url.Values, error) {
	if strings.HasPrefix(req.Header.Get("Content-Type"), "application/json") {
		var m map[string]any
		if err := json.Unmarshal(req.Body, &m); err != nil {
			return nil, err
		}
		v := url.Values{}
		for k, x := range m {
			switch t := x.(type) {
			case string:
				v.Set(k, t)
			case nil:
			default:
				v.Set(k, fmt.Sprint(t))
			}
		}
		return v, nil
	}
	return url.ParseQuery(string(req.Body))
}

// ParseWebhook checks the X-Token header. CinetPay notifications are only a
// signal to check the transaction, so the event always requires a poll
// unless the notification also carries cpm_trans_status.
func (p *CinetPayProvider) ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	fields, err := cinetpayFields(req)
	if err != nil {
		return nil, ErrMalformedWebhook
	}
	if !hmacEqual(req.Header.Get("X-Token"), CinetPayToken(p.cfg.SecretKey, fields)) {
		return nil, ErrInvalidSignature
	}
	txID := fields.Get("cpm_trans_id")
	if txID == "" {
		return nil, ErrMalformedWebhook
	}
	ev := &WebhookEvent{
		EventType:  "cinetpay.notification",
		ExternalID: txID,
		Verified:   true,
	}
	amount, _ := decimal.NewFromString(fields.Get("cpm_amount"))
	ev.Amount = amount
	if raw := fields.Get("cpm_trans_status"); raw != "" {
		ev.Status, _ = cinetpayStatuses.normalize(raw)
		ev.EventID = txID + ":" + strings.ToLower(raw)
	} else {
		ev.PollRequired = true
		ev.EventID = txID + ":" + fields.Get("cpm_trans_date") + ":" + fields.Get("signature")
	}
	return ev, nil
}

func (p *CinetPayProvider) CalculateFees(amount decimal.Decimal, currency Currency, method Method) (fees.Breakdown, error) {
	return p.cfg.Fees.Calculate(amount, string(currency), string(method))
}
