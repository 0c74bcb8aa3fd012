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

// MoneyFusionData is the MoneyFusion variant.
type MoneyFusionData struct {
	Token             string `json:"token"`
	TransactionNumber string `json:"transaction_number,omitempty"`
	Channel           string `json:"channel,omitempty"`
	Status            string `json:"status,omitempty"`
}

func (*MoneyFusionData) ProviderName() Provider { return ProviderMoneyFusion }

type MoneyFusionConfig struct {
	// PayURL is the merchant specific checkout endpoint issued by MoneyFusion.
	PayURL  string
	BaseURL string
	Timeout time.Duration
	Fees    fees.Schedule
	Logger  *zap.Logger
}

// MoneyFusionProvider is a hosted-page mobile money aggregator. Its callbacks
// are not signed.
type MoneyFusionProvider struct {
	cfg    MoneyFusionConfig
	client *http.Client
	log    *zap.Logger
}

func NewMoneyFusionProvider(cfg MoneyFusionConfig) *MoneyFusionProvider {
	cfg.BaseURL = trimBase(cfg.BaseURL, "https://www.pay.moneyfusion.net")
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &MoneyFusionProvider{cfg: cfg, client: newHTTPClient(cfg.Timeout), log: log.Named("moneyfusion")}
}

func (p *MoneyFusionProvider) Provider() Provider { return ProviderMoneyFusion }

func (p *MoneyFusionProvider) Capabilities() Capabilities {
	return Capabilities{
		Currencies: []Currency{XOF, XAF},
		Methods:    []Method{MethodMobileMoney, MethodWallet},
	}
}

type moneyfusionArticle struct {
	Donation int64 `json:"donation"`
}

type moneyfusionPersonalInfo struct {
	Reference      string `json:"reference"`
	ContributionID string `json:"contributionId,omitempty"`
}

type moneyfusionInitReq struct {
	TotalPrice   int64                     `json:"totalPrice"`
	Article      []moneyfusionArticle      `json:"article"`
	PersonalInfo []moneyfusionPersonalInfo `json:"personal_Info"`
	NumeroSend   string                    `json:"numeroSend"`
	NomClient    string                    `json:"nomclient"`
	ReturnURL    string                    `json:"return_url"`
	WebhookURL   string                    `json:"webhook_url"`
}

type moneyfusionInitResp struct {
	Statut  bool   `json:"statut"`
	Token   string `json:"token"`
	Message string `json:"message"`
	URL     string `json:"url"`
}

type moneyfusionVerifyResp struct {
	Statut  bool   `json:"statut"`
	Message string `json:"message"`
	Data    struct {
		TokenPay          string  `json:"tokenPay"`
		NumeroTransaction string  `json:"numeroTransaction"`
		Montant           float64 `json:"Montant"`
		Frais             float64 `json:"frais"`
		Statut            string  `json:"statut"`
		Moyen             string  `json:"moyen"`
	} `json:"data"`
}

var moneyfusionStatuses = statusTable{
	"paid":      StatusCompleted,
	"pending":   StatusProcessing,
	"failure":   StatusFailed,
	"no paid":   StatusFailed,
	"cancelled": StatusCancelled,
}

var moneyfusionEvents = statusTable{
	"payin.session.completed": StatusCompleted,
	"payin.session.pending":   StatusProcessing,
	"payin.session.cancelled": StatusCancelled,
}

func (p *MoneyFusionProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	if !p.Capabilities().SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	if p.cfg.PayURL == "" {
		return nil, providerErr(ProviderMoneyFusion, "initialize", fmt.Errorf("pay url not configured"))
	}
	amount := req.Amount.Round(0).IntPart()
	body, err := doJSON(ctx, p.client, ProviderMoneyFusion, "initialize", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.PayURL,
		body: moneyfusionInitReq{
			TotalPrice:   amount,
			Article:      []moneyfusionArticle{{Donation: amount}},
			PersonalInfo: []moneyfusionPersonalInfo{{Reference: req.Reference, ContributionID: req.ContributionID}},
			NumeroSend:   req.Customer.Phone,
			NomClient:    req.Customer.Name,
			ReturnURL:    req.ReturnURL,
			WebhookURL:   req.CallbackURL,
		},
	})
	if err != nil {
		return nil, err
	}
	var out moneyfusionInitResp
	if err := decode(ProviderMoneyFusion, "initialize", body, &out); err != nil {
		return nil, err
	}
	if !out.Statut || out.Token == "" {
		return nil, &ProviderError{Provider: ProviderMoneyFusion, Op: "initialize", Detail: out.Message,
			Err: fmt.Errorf("session not created")}
	}
	p.log.Info("payment session created", zap.String("reference", req.Reference), zap.String("token", out.Token))
	return &InitResult{
		ExternalID:  out.Token,
		RedirectURL: out.URL,
		Data:        &MoneyFusionData{Token: out.Token},
	}, nil
}

func (p *MoneyFusionProvider) VerifyPayment(ctx context.Context, externalID string) (*VerifyResult, error) {
	body, err := doJSON(ctx, p.client, ProviderMoneyFusion, "verify", jsonCall{
		method: http.MethodGet,
		url:    p.cfg.BaseURL + "/paiementNotif/" + url.PathEscape(externalID),
	})
	if err != nil {
		return nil, err
	}
	var out moneyfusionVerifyResp
	if err := decode(ProviderMoneyFusion, "verify", body, &out); err != nil {
		return nil, err
	}
	if !out.Statut {
		return nil, &ProviderError{Provider: ProviderMoneyFusion, Op: "verify", Detail: out.Message,
			Err: fmt.Errorf("lookup failed")}
	}
	status, known := moneyfusionStatuses.normalize(out.Data.Statut)
	if !known {
		p.log.Warn("unknown moneyfusion status", zap.String("token", externalID), zap.String("status", out.Data.Statut))
	}
	return &VerifyResult{
		Status:      status,
		Amount:      decimal.NewFromFloat(out.Data.Montant),
		Fees:        decimal.NewFromFloat(out.Data.Frais),
		RawResponse: body,
		Data: &MoneyFusionData{
			Token:             externalID,
			TransactionNumber: out.Data.NumeroTransaction,
			Channel:           out.Data.Moyen,
			Status:            out.Data.Statut,
		},
	}, nil
}

type moneyfusionCallback struct {
	Event             string  `json:"event"`
	TokenPay          string  `json:"tokenPay"`
	NumeroTransaction string  `json:"numeroTransaction"`
	Montant           float64 `json:"Montant"`
	CreatedAt         string  `json:"createdAt"`
}

// ParseWebhook decodes an unsigned payin callback.
func (p *MoneyFusionProvider) ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	var cb moneyfusionCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil || cb.TokenPay == "" || cb.Event == "" {
		return nil, ErrMalformedWebhook
	}
	status, known := moneyfusionEvents.normalize(cb.Event)
	if !known {
		p.log.Info("ignoring moneyfusion event", zap.String("event", cb.Event))
		status = ""
	}
	return &WebhookEvent{
		EventType:  cb.Event,
		EventID:    cb.TokenPay + ":" + strings.ToLower(cb.Event),
		ExternalID: cb.TokenPay,
		Status:     status,
		Amount:     decimal.NewFromFloat(cb.Montant),
	}, nil
}

func (p *MoneyFusionProvider) CalculateFees(amount decimal.Decimal, currency Currency, method Method) (fees.Breakdown, error) {
	return p.cfg.Fees.Calculate(amount, string(currency), string(method))
}
