package payment

import (
	"context"
	"net/http"
	"time"

	"paycore/pkg/fees"

	"github.com/shopspring/decimal"
)

// Provider names a payment network adapter.
type Provider string

const (
	ProviderStripe      Provider = "stripe"
	ProviderCinetPay    Provider = "cinetpay"
	ProviderMoneyFusion Provider = "moneyfusion"
	ProviderPaymentHub  Provider = "paymenthub"
	ProviderMpesa       Provider = "mpesa"
	ProviderSwapuzi     Provider = "swapuzi"
	ProviderStub        Provider = "stub"
)

// Status is the canonical payment status every adapter normalises into.
type Status string

const (
	StatusPending           Status = "pending"
	StatusProcessing        Status = "processing"
	StatusCompleted         Status = "completed"
	StatusFailed            Status = "failed"
	StatusCancelled         Status = "cancelled"
	StatusRefunded          Status = "refunded"
	StatusPartiallyRefunded Status = "partially_refunded"
	StatusExpired           Status = "expired"
)

// Currency is one of the accepted settlement currencies.
type Currency string

const (
	XOF Currency = "XOF"
	XAF Currency = "XAF"
	KES Currency = "KES"
	USD Currency = "USD"
	EUR Currency = "EUR"
)

var currencies = map[Currency]bool{XOF: true, XAF: true, KES: true, USD: true, EUR: true}

func (c Currency) Valid() bool { return currencies[c] }

// Method is how the donor pays.
type Method string

const (
	MethodCard        Method = "card"
	MethodMobileMoney Method = "mobile_money"
	MethodWallet      Method = "wallet"
	MethodCrypto      Method = "crypto"
)

var methods = map[Method]bool{MethodCard: true, MethodMobileMoney: true, MethodWallet: true, MethodCrypto: true}

func (m Method) Valid() bool { return methods[m] }

// CustomerInfo is passed to providers in request bodies only, never in URLs.
type CustomerInfo struct {
	Name  string
	Email string
	Phone string
}

type InitRequest struct {
	Reference      string
	ContributionID string
	Amount         decimal.Decimal
	Currency       Currency
	Method         Method
	Customer       CustomerInfo
	CallbackURL    string
	ReturnURL      string
}

type InitResult struct {
	ExternalID   string
	RedirectURL  string
	ClientSecret string
	ExpiresAt    *time.Time
	Data         ProviderData
}

type VerifyResult struct {
	Status      Status
	Amount      decimal.Decimal
	Fees        decimal.Decimal
	RawResponse []byte
	Data        ProviderData
}

// WebhookRequest is an inbound provider callback. Signature and timestamp
// headers are read by the owning adapter.
type WebhookRequest struct {
	Body       []byte
	Header     http.Header
	ReceivedAt time.Time
}

type WebhookEvent struct {
	EventType  string
	EventID    string
	ExternalID string
	Status     Status
	Verified   bool

	// PollRequired marks a notification that carries no trustworthy status of
	// its own; the canonical status has to be fetched with VerifyPayment.
	PollRequired bool
	RefundID     string
	Amount       decimal.Decimal
}

// IsRefundEvent reports whether the event concerns a refund rather than the payment itself.
func (e *WebhookEvent) IsRefundEvent() bool { return e.RefundID != "" }

type RefundRequest struct {
	Reference  string
	ExternalID string
	Amount     decimal.Decimal
	Currency   Currency
	Reason     string
}

type RefundResult struct {
	RefundID string
	Status   string
}

// Capabilities advertises optional adapter features so callers can fail fast.
type Capabilities struct {
	Refunds        bool
	SignedWebhooks bool
	Currencies     []Currency
	Methods        []Method
}

func (c Capabilities) SupportsCurrency(cur Currency) bool {
	for _, x := range c.Currencies {
		if x == cur {
			return true
		}
	}
	return false
}

func (c Capabilities) SupportsMethod(m Method) bool {
	for _, x := range c.Methods {
		if x == m {
			return true
		}
	}
	return false
}

// Adapter translates canonical requests into one provider's wire format.
type Adapter interface {
	Provider() Provider
	Capabilities() Capabilities
	InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error)
	VerifyPayment(ctx context.Context, externalID string) (*VerifyResult, error)
	ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error)
	CalculateFees(amount decimal.Decimal, currency Currency, method Method) (fees.Breakdown, error)
}

// Refunder is implemented by adapters whose Capabilities report Refunds.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}
