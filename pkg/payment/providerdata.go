package payment

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
)

// ProviderData is one provider's opaque identifiers for a payment. Each
// adapter defines exactly one concrete type.
type ProviderData interface {
	ProviderName() Provider
}

var variants = map[Provider]func() ProviderData{
	ProviderStripe:      func() ProviderData { return &StripeData{} },
	ProviderCinetPay:    func() ProviderData { return &CinetPayData{} },
	ProviderMoneyFusion: func() ProviderData { return &MoneyFusionData{} },
	ProviderPaymentHub:  func() ProviderData { return &PaymentHubData{} },
	ProviderMpesa:       func() ProviderData { return &MpesaData{} },
	ProviderSwapuzi:     func() ProviderData { return &SwapuziData{} },
	ProviderStub:        func() ProviderData { return &StubData{} },
}

// Envelope is the tagged variant stored on a payment: the provider tag plus
// that provider's data, and nothing else.
type Envelope struct {
	Provider Provider
	Data     ProviderData
}

var ErrVariantMismatch = errors.New("provider data does not belong to provider")

func NewEnvelope(data ProviderData) Envelope {
	if data == nil {
		return Envelope{}
	}
	return Envelope{Provider: data.ProviderName(), Data: data}
}

// DataAs returns the envelope's variant if it has type T.
func DataAs[T ProviderData](e Envelope) (T, bool) {
	v, ok := e.Data.(T)
	return v, ok
}

func (e Envelope) IsZero() bool { return e.Data == nil }

type envelopeJSON struct {
	Provider Provider        `json:"provider"`
	Data     json.RawMessage `json:"data"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	if e.Data == nil {
		return []byte("null"), nil
	}
	if e.Data.ProviderName() != e.Provider {
		return nil, fmt.Errorf("%w: %s holds %s data", ErrVariantMismatch, e.Provider, e.Data.ProviderName())
	}
	raw, err := json.Marshal(e.Data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelopeJSON{Provider: e.Provider, Data: raw})
}

func (e *Envelope) UnmarshalJSON(b []byte) error {
	if string(b) == "null" || len(b) == 0 {
		*e = Envelope{}
		return nil
	}
	var in envelopeJSON
	if err := json.Unmarshal(b, &in); err != nil {
		return err
	}
	factory, ok := variants[in.Provider]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownProvider, in.Provider)
	}
	data := factory()
	if len(in.Data) > 0 && string(in.Data) != "null" {
		if err := json.Unmarshal(in.Data, data); err != nil {
			return fmt.Errorf("decode %s provider data: %w", in.Provider, err)
		}
	}
	*e = Envelope{Provider: in.Provider, Data: data}
	return nil
}

// Value implements driver.Valuer so gorm stores the envelope as one JSON column.
func (e Envelope) Value() (driver.Value, error) {
	if e.Data == nil {
		return nil, nil
	}
	b, err := e.MarshalJSON()
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (e *Envelope) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*e = Envelope{}
		return nil
	case []byte:
		return e.UnmarshalJSON(v)
	case string:
		return e.UnmarshalJSON([]byte(v))
	default:
		return fmt.Errorf("scan provider data: unsupported type %T", src)
	}
}
