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
)

// SwapuziData is the Swapuzi variant.
type SwapuziData struct {
	MerchantDepositID string          `json:"merchant_deposit_id"`
	DepositID         int             `json:"deposit_id,omitempty"`
	PageURL           string          `json:"page_url,omitempty"`
	SolanaAddress     string          `json:"solana_address,omitempty"`
	ExpectedUSDT      decimal.Decimal `json:"expected_usdt"`
	ReceivedUSDT      decimal.Decimal `json:"received_usdt"`
	Rate              decimal.Decimal `json:"rate"`
	Status            string          `json:"status,omitempty"`
}

func (*SwapuziData) ProviderName() Provider { return ProviderSwapuzi }

type SwapuziConfig struct {
	BaseURL  string
	Email    string
	Password string
	Timeout  time.Duration
	Fees     fees.Schedule
	Logger   *zap.Logger
}

// SwapuziProvider handles Solana/USDT deposits via the Swapuzi merchant API.
type SwapuziProvider struct {
	cfg    SwapuziConfig
	client *http.Client
	log    *zap.Logger
}

func NewSwapuziProvider(cfg SwapuziConfig) *SwapuziProvider {
	cfg.BaseURL = trimBase(cfg.BaseURL, "https://api.swapuzi.com")
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &SwapuziProvider{cfg: cfg, client: newHTTPClient(cfg.Timeout), log: log.Named("swapuzi")}
}

func (p *SwapuziProvider) Provider() Provider { return ProviderSwapuzi }

func (p *SwapuziProvider) Capabilities() Capabilities {
	return Capabilities{
		Currencies: []Currency{KES, USD},
		Methods:    []Method{MethodCrypto},
	}
}

type swapuziLoginResp struct {
	Token string `json:"token"`
}

func (p *SwapuziProvider) getToken(ctx context.Context, op string) (string, error) {
	body, err := doJSON(ctx, p.client, ProviderSwapuzi, op+" login", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/merchants/login",
		body:   liberecLoginReq{Email: p.cfg.Email, Password: p.cfg.Password},
	})
	if err != nil {
		return "", err
	}
	var out swapuziLoginResp
	if err := decode(ProviderSwapuzi, op+" login", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", providerErr(ProviderSwapuzi, op+" login", fmt.Errorf("empty token"))
	}
	return out.Token, nil
}

// SwapuziRates holds the current USDT exchange rates in KES.
type SwapuziRates struct {
	UsdtBuyingRate  float64 `json:"usdt_buying_rate"`
	UsdtSellingRate float64 `json:"usdt_selling_rate"`
}

// GetRates fetches the current USDT/KES exchange rates.
func (p *SwapuziProvider) GetRates(ctx context.Context) (*SwapuziRates, error) {
	token, err := p.getToken(ctx, "rates")
	if err != nil {
		return nil, err
	}
	body, err := doJSON(ctx, p.client, ProviderSwapuzi, "rates", jsonCall{
		method: http.MethodGet,
		url:    p.cfg.BaseURL + "/merchants/rates",
		auth:   "Bearer " + token,
	})
	if err != nil {
		return nil, err
	}
	var out SwapuziRates
	if err := decode(ProviderSwapuzi, "rates", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

type swapuziDepositReq struct {
	ExpectedAmount float64 `json:"expected_amount"`
	WebhookURL     string  `json:"webhook_url"`
	Notes          string  `json:"notes"`
	DepositID      string  `json:"deposit_id"`
}

type swapuziDepositResp struct {
	DepositID         int     `json:"deposit_id"`
	MerchantDepositID string  `json:"merchant_deposit_id"`
	SolanaAddress     string  `json:"solana_address"`
	Status            string  `json:"status"`
	Message           string  `json:"message"`
	PageURL           string  `json:"page_url"`
	ExpectedAmount    float64 `json:"expected_amount"`
	ReceivedAmount    float64 `json:"received_amount"`
	ExpiresAt         string  `json:"expires_at"`
}

var swapuziStatuses = statusTable{
	"completed": StatusCompleted,
	"confirmed": StatusCompleted,
	"pending":   StatusProcessing,
	"initiated": StatusProcessing,
	"partial":   StatusProcessing,
	"failed":    StatusFailed,
	"cancelled": StatusCancelled,
	"expired":   StatusExpired,
}

// toUSDT converts the donation amount into USDT, rounding up to 4 places so
// the deposit never undershoots.
func (p *SwapuziProvider) toUSDT(ctx context.Context, amount decimal.Decimal, cur Currency) (decimal.Decimal, decimal.Decimal, error) {
	if cur == USD {
		return amount.RoundCeil(4), decimal.NewFromInt(1), nil
	}
	rates, err := p.GetRates(ctx)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if rates.UsdtBuyingRate <= 0 {
		return decimal.Zero, decimal.Zero, providerErr(ProviderSwapuzi, "rates", fmt.Errorf("invalid buying rate"))
	}
	rate := decimal.NewFromFloat(rates.UsdtBuyingRate)
	return amount.Div(rate).RoundCeil(4), rate, nil
}

func (p *SwapuziProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	if !p.Capabilities().SupportsCurrency(req.Currency) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	usdt, rate, err := p.toUSDT(ctx, req.Amount, req.Currency)
	if err != nil {
		return nil, err
	}
	token, err := p.getToken(ctx, "initialize")
	if err != nil {
		return nil, err
	}
	p.log.Info("deposit initiate", zap.String("deposit_id", req.Reference), zap.String("amount_usdt", usdt.String()))
	body, err := doJSON(ctx, p.client, ProviderSwapuzi, "initialize", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/merchants/solana/deposit/initiate",
		body: swapuziDepositReq{
			ExpectedAmount: usdt.InexactFloat64(),
			WebhookURL:     req.CallbackURL,
			Notes:          DescriptionToken,
			DepositID:      req.Reference,
		},
		auth: "Bearer " + token,
	})
	if err != nil {
		return nil, err
	}
	var out swapuziDepositResp
	if err := decode(ProviderSwapuzi, "initialize", body, &out); err != nil {
		return nil, err
	}
	res := &InitResult{
		ExternalID:  req.Reference,
		RedirectURL: out.PageURL,
		Data: &SwapuziData{
			MerchantDepositID: req.Reference,
			DepositID:         out.DepositID,
			PageURL:           out.PageURL,
			SolanaAddress:     out.SolanaAddress,
			ExpectedUSDT:      usdt,
			Rate:              rate,
			Status:            out.Status,
		},
	}
	if t, err := time.Parse(time.RFC3339, out.ExpiresAt); err == nil {
		res.ExpiresAt = &t
	}
	return res, nil
}

func (p *SwapuziProvider) VerifyPayment(ctx context.Context, externalID string) (*VerifyResult, error) {
	token, err := p.getToken(ctx, "verify")
	if err != nil {
		return nil, err
	}
	body, err := doJSON(ctx, p.client, ProviderSwapuzi, "verify", jsonCall{
		method: http.MethodGet,
		url:    p.cfg.BaseURL + "/merchants/solana/deposit/" + url.PathEscape(externalID),
		auth:   "Bearer " + token,
	})
	if err != nil {
		return nil, err
	}
	var out swapuziDepositResp
	if err := decode(ProviderSwapuzi, "verify", body, &out); err != nil {
		return nil, err
	}
	status, _ := swapuziStatuses.normalize(out.Status)
	return &VerifyResult{
		Status:      status,
		RawResponse: body,
		Data: &SwapuziData{
			MerchantDepositID: externalID,
			DepositID:         out.DepositID,
			PageURL:           out.PageURL,
			SolanaAddress:     out.SolanaAddress,
			ExpectedUSDT:      decimal.NewFromFloat(out.ExpectedAmount),
			ReceivedUSDT:      decimal.NewFromFloat(out.ReceivedAmount),
			Status:            out.Status,
		},
	}, nil
}

type swapuziCallback struct {
	Event             string  `json:"event"`
	MerchantID        int     `json:"merchant_id"`
	DepositID         int     `json:"deposit_id"`
	MerchantDepositID string  `json:"merchant_deposit_id"`
	SolanaAddress     string  `json:"solana_address"`
	ReceivedAmount    float64 `json:"received_amount"`
	ExpectedAmount    float64 `json:"expected_amount"`
	Status            string  `json:"status"`
	Timestamp         int64   `json:"timestamp"`
}

// ParseWebhook decodes a deposit callback. Swapuzi does not sign callbacks, so
// events are always unverified and terminal ones are confirmed by polling.
func (p *SwapuziProvider) ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	var cb swapuziCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil || cb.MerchantDepositID == "" || cb.Status == "" {
		return nil, ErrMalformedWebhook
	}
	status, _ := swapuziStatuses.normalize(cb.Status)
	// A completed callback that underpays stays in flight.
	if status == StatusCompleted && cb.ExpectedAmount > 0 && cb.ReceivedAmount < cb.ExpectedAmount {
		status = StatusProcessing
	}
	return &WebhookEvent{
		EventType:  strings.TrimSpace(cb.Event),
		EventID:    cb.MerchantDepositID + ":" + strings.ToLower(cb.Status) + ":" + strconv.FormatInt(cb.Timestamp, 10),
		ExternalID: cb.MerchantDepositID,
		Status:     status,
	}, nil
}

func (p *SwapuziProvider) CalculateFees(amount decimal.Decimal, currency Currency, method Method) (fees.Breakdown, error) {
	return p.cfg.Fees.Calculate(amount, string(currency), string(method))
}
