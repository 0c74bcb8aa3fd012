package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"paycore/pkg/fees"

	"github.com/shopspring/decimal"
)

// StubData is the stub provider's variant.
type StubData struct {
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

func (*StubData) ProviderName() Provider { return ProviderStub }

// StubProvider is a no-op provider for development. References it hands out
// verify as completed; anything else verifies as failed.
type StubProvider struct {
	Now func() time.Time
}

func (s *StubProvider) Provider() Provider { return ProviderStub }

func (s *StubProvider) Capabilities() Capabilities {
	return Capabilities{
		Currencies: []Currency{XOF, XAF, KES, USD, EUR},
		Methods:    []Method{MethodCard, MethodMobileMoney, MethodWallet, MethodCrypto},
	}
}

func (s *StubProvider) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *StubProvider) InitializePayment(ctx context.Context, req InitRequest) (*InitResult, error) {
	ref := fmt.Sprintf("stub_%d_%s", s.now().UnixNano(), req.Reference)
	expires := s.now().Add(30 * time.Minute)
	return &InitResult{
		ExternalID:  ref,
		RedirectURL: req.ReturnURL,
		ExpiresAt:   &expires,
		Data:        &StubData{Reference: ref, Status: "PENDING"},
	}, nil
}

func (s *StubProvider) VerifyPayment(ctx context.Context, externalID string) (*VerifyResult, error) {
	status := StatusFailed
	if strings.HasPrefix(externalID, "stub_") {
		status = StatusCompleted
	}
	raw, _ := json.Marshal(map[string]string{"reference": externalID, "status": string(status)})
	return &VerifyResult{
		Status:      status,
		RawResponse: raw,
		Data:        &StubData{Reference: externalID, Status: strings.ToUpper(string(status))},
	}, nil
}

type stubWebhook struct {
	EventID   string `json:"event_id"`
	Reference string `json:"reference"`
	Status    string `json:"status"`
}

var stubStatuses = statusTable{
	"completed":  StatusCompleted,
	"failed":     StatusFailed,
	"pending":    StatusProcessing,
	"processing": StatusProcessing,
	"cancelled":  StatusCancelled,
}

// ParseWebhook accepts {"event_id","reference","status"}; stub events are never signed.
func (s *StubProvider) ParseWebhook(ctx context.Context, req WebhookRequest) (*WebhookEvent, error) {
	var in stubWebhook
	if err := json.Unmarshal(req.Body, &in); err != nil || in.Reference == "" {
		return nil, ErrMalformedWebhook
	}
	status, _ := stubStatuses.normalize(in.Status)
	eventID := in.EventID
	if eventID == "" {
		eventID = in.Reference + ":" + strings.ToLower(in.Status)
	}
	return &WebhookEvent{
		EventType:  "stub." + strings.ToLower(in.Status),
		EventID:    eventID,
		ExternalID: in.Reference,
		Status:     status,
	}, nil
}

func (s *StubProvider) CalculateFees(amount decimal.Decimal, currency Currency, method Method) (fees.Breakdown, error) {
	return fees.Schedule{}.Calculate(amount, string(currency), string(method))
}
