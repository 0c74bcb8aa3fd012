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

// MpesaData is the M-Pesa variant. OrderID is the merchant order id we send,
// which doubles as the external transaction id.
type MpesaData struct {
	OrderID           string          `json:"order_id"`
	CheckoutRequestID string          `json:"checkout_request_id,omitempty"`
	ReceiptNumber     string          `json:"receipt_number,omitempty"`
	Status            string          `json:"status,omitempty"`
	B2COrderID        string          `json:"b2c_order_id,omitempty"`
	LastResponse      json.RawMessage `json:"last_response,omitempty"`
}

func (*MpesaData) ProviderName() Provider { return ProviderMpesa }

type MpesaConfig struct {
	BaseURL       string
	Email         string
	Password      string
	WebhookSecret string // optional; when set callbacks must carry X-Webhook-Signature
	STKExpiry     time.Duration
	Timeout       time.Duration
	Fees          fees.Schedule
	Logger        *zap.Logger
}

// LiberecMpesaProvider implements M-Pesa STK push (and B2C refunds) via TheLiberec Card API.
type LiberecMpesaProvider struct {
	cfg    MpesaConfig
	client *http.Client
	log    *zap.Logger
}

func NewLiberecMpesaProvider(cfg MpesaConfig) *LiberecMpesaProvider {
	cfg.BaseURL = trimBase(cfg.BaseURL, "https://card-api.theliberec.com")
	if cfg.STKExpiry <= 0 {
		cfg.STKExpiry = 10 * time.Minute
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &LiberecMpesaProvider{
		cfg:    cfg,
		client: newHTTPClient(cfg.Timeout),
		log:    log.Named("mpesa"),
	}
}

func (p *LiberecMpesaProvider) Provider() Provider { return ProviderMpesa }

func (p *LiberecMpesaProvider) Capabilities() Capabilities {
	return Capabilities{
		Refunds:        true,
		SignedWebhooks: p.cfg.WebhookSecret != "",
		Currencies:     []Currency{KES},
		Methods:        []Method{MethodMobileMoney},
	}
}

type liberecLoginReq struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type liberecLoginResp struct {
	Token string `json:"token"`
}

// getToken logs in and returns a fresh token (per transaction as recommended).
func (p *LiberecMpesaProvider) getToken(ctx context.Context, op string) (string, error) {
	body, err := doJSON(ctx, p.client, ProviderMpesa, op+" login", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/api/v1/merchants/login",
		body:   liberecLoginReq{Email: p.cfg.Email, Password: p.cfg.Password},
	})
	if err != nil {
		return "", err
	}
	var out liberecLoginResp
	if err := decode(ProviderMpesa, op+" login", body, &out); err != nil {
		return "", err
	}
	if out.Token == "" {
		return "", providerErr(ProviderMpesa, op+" login", fmt.Errorf("empty token"))
	}
	return out.Token, nil
}

type mpesaSTKReq struct {
	Amount            string `json:"amount"`
	Currency          string `json:"currency"`
	Description       string `json:"description"`
	CustomerPhone     string `json:"customer_phone"`
	CustomerFirstName string `json:"customer_first_name"`
	CustomerLastName  string `json:"customer_last_name"`
	CustomerEmail     string `json:"customer_email"`
	CallbackURL       string `json:"callback_url"`
	OrderID           string `json:"order_id"`
}

type mpesaTxResp struct {
	UUID                string `json:"uuid"`
	OrderID             string `json:"order_id"`
	MerchantOrderID     string `json:"merchant_order_id"`
	CheckoutRequestID   string `json:"checkout_request_id"`
	Amount              int    `json:"amount"`
	Currency            string `json:"currency"`
	Status              string `json:"status"`
	ResponseCode        string `json:"response_code"`
	ResponseDescription string `json:"response_description"`
	CustomerPhone       string `json:"customer_phone"`
	ReceiptNumber       string `json:"receipt_number"`
	CreatedAt           string `json:"created_at"`
}

var mpesaStatuses = statusTable{
	"completed": StatusCompleted,
	"success":   StatusCompleted,
	"failed":    StatusFailed,
	"cancelled": StatusCancelled,
	"canceled":  StatusCancelled,
	"pending":   StatusProcessing,
	"initiated": StatusProcessing,
	"expired":   StatusExpired,
	"timeout":   StatusExpired,
}

func splitName(name string) (string, string) {
	parts := strings.Fields(name)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], parts[0]
	}
	return parts[0], strings.Join(parts[1:], " ")
}

func (p *LiberecMpesaProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	if req.Currency != KES {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedCurrency, req.Currency)
	}
	token, err := p.getToken(ctx, "initialize")
	if err != nil {
		return nil, err
	}
	// M-Pesa only accepts whole shillings.
	amount := req.Amount.Round(0)
	if amount.LessThan(decimal.NewFromInt(1)) {
		amount = decimal.NewFromInt(1)
	}
	first, last := splitName(req.Customer.Name)
	payload := mpesaSTKReq{
		Amount:            amount.String(),
		Currency:          string(KES),
		Description:       DescriptionToken,
		CustomerPhone:     req.Customer.Phone,
		CustomerFirstName: first,
		CustomerLastName:  last,
		CustomerEmail:     req.Customer.Email,
		CallbackURL:       req.CallbackURL,
		OrderID:           req.Reference,
	}
	p.log.Info("stk push", zap.String("order_id", req.Reference), zap.String("callback", req.CallbackURL))
	body, err := doJSON(ctx, p.client, ProviderMpesa, "initialize", jsonCall{
		method: http.MethodPost,
		url:    p.cfg.BaseURL + "/api/v1/transactions/mpesa",
		body:   payload,
		auth:   "Bearer " + token,
	})
	if err != nil {
		return nil, err
	}
	var out mpesaTxResp
	if err := decode(ProviderMpesa, "initialize", body, &out); err != nil {
		return nil, err
	}
	p.log.Debug("stk response", zap.String("order_id", req.Reference), zap.String("status", out.Status),
		zap.String("checkout_request_id", out.CheckoutRequestID))
	if s, _ := mpesaStatuses.normalize(out.Status); s == StatusFailed {
		return nil, &ProviderError{Provider: ProviderMpesa, Op: "initialize", Detail: out.ResponseDescription,
			Err: fmt.Errorf("stk push rejected")}
	}
	expires := time.Now().Add(p.cfg.STKExpiry)
	return &InitResult{
		ExternalID: req.Reference,
		ExpiresAt:  &expires,
		Data: &MpesaData{
			OrderID:           req.Reference,
			CheckoutRequestID: out.CheckoutRequestID,
			Status:            out.Status,
			LastResponse:      body,
		},
	}, nil
}

func (p *LiberecMpesaProvider) query(ctx context.Context, op, orderID string) (*mpesaTxResp, []byte, error) {
	token, err := p.getToken(ctx, op)
	if err != nil {
		return nil, nil, err
	}
	body, err := doJSON(ctx, p.client, ProviderMpesa, op, jsonCall{
		method: http.MethodGet,
		url:    p.cfg.BaseURL + "/api/v1/transactions/mpesa/" + url.PathEscape(orderID),
		auth:   "Bearer " + token,
	})
	if err != nil {
		return nil, nil, err
	}
	var out mpesaTxResp
	if err := decode(ProviderMpesa, op, body, &out); err != nil {
		return nil, nil, err
	}
	return &out, body, nil
}

func (p *LiberecMpesaProvider) VerifyPayment(ctx context.Context, externalID string) (*VerifyResult, error) {
	out, body, err := p.query(ctx, "verify", externalID)
	if err != nil {
		return nil, err
	}
	status, known := mpesaStatuses.normalize(out.Status)
	if !known {
		p.log.Warn("unknown mpesa status", zap.String("order_id", externalID), zap.String("status", out.Status))
	}
	return &VerifyResult{
		Status:      status,
		Amount:      decimal.NewFromInt(int64(out.Amount)),
		RawResponse: body,
		Data: &MpesaData{
			OrderID:           externalID,
			CheckoutRequestID: out.CheckoutRequestID,
			ReceiptNumber:     out.ReceiptNumber,
			Status:            out.Status,
			LastResponse:      body,
		},
	}, nil
}

// LiberecMpesaCallback is the webhook payload from TheLiberec after M-Pesa payment.
type LiberecMpesaCallback struct {
	Amount            string `json:"amount"`
	CheckoutRequestID string `json:"checkout_request_id"`
	Currency          string `json:"currency"`
	MerchantOrderID   string `json:"merchant_order_id"`
	OrderID           string `json:"order_id"`
	ReceiptNumber     string `json:"receipt_number"`
	ReferenceOrderID  string `json:"reference_order_id"`
	Status            string `json:"status"`
	StatusCode        string `json:"status_code"`
	StatusDescription string `json:"status_description"`
	TransactionDate   string `json:"transaction_date"`
	TransactionType   string `json:"transaction_type"`
	TransactionUUID   string `json:"transaction_uuid"`
}

func (p *LiberecMpesaProvider) ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	verified := false
	if p.cfg.WebhookSecret != "" {
		if !hmacEqual(req.Header.Get("X-Webhook-Signature"), hmacHex(p.cfg.WebhookSecret, req.Body)) {
			return nil, ErrInvalidSignature
		}
		verified = true
	}
	var cb LiberecMpesaCallback
	if err := json.Unmarshal(req.Body, &cb); err != nil {
		return nil, ErrMalformedWebhook
	}
	orderID := cb.MerchantOrderID
	if orderID == "" {
		orderID = cb.OrderID
	}
	if orderID == "" {
		orderID = cb.ReferenceOrderID
	}
	if orderID == "" || cb.Status == "" {
		return nil, ErrMalformedWebhook
	}
	status, _ := mpesaStatuses.normalize(cb.Status)
	eventID := cb.TransactionUUID
	if eventID == "" {
		eventID = orderID
	}
	amount, _ := decimal.NewFromString(cb.Amount)
	return &WebhookEvent{
		EventType:  "mpesa." + strings.ToLower(cb.Status),
		EventID:    eventID + ":" + strings.ToLower(cb.Status),
		ExternalID: orderID,
		Status:     status,
		Verified:   verified,
		Amount:     amount,
	}, nil
}

func (p *LiberecMpesaProvider) CalculateFees(amount decimal.Decimal, currency Currency, method Method) (fees.Breakdown, error) {
	return p.cfg.Fees.Calculate(amount, string(currency), string(method))
}
