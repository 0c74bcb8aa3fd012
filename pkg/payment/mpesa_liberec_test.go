package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLiberecServer(t *testing.T, status string) (*httptest.Server, *[]mpesaSTKReq) {
	t.Helper()
	var pushes []mpesaSTKReq
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/merchants/login", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]string{"token": "tok"})
	})
	mux.HandleFunc("/api/v1/transactions/mpesa", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		var in mpesaSTKReq
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		pushes = append(pushes, in)
		_ = json.NewEncoder(w).Encode(mpesaTxResp{OrderID: in.OrderID, CheckoutRequestID: "ws_CO_1", Status: "PENDING"})
	})
	mux.HandleFunc("/api/v1/transactions/mpesa/", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(mpesaTxResp{
			OrderID: "don_1", Amount: 150, Status: status, ReceiptNumber: "QK12", CustomerPhone: "254700000000",
		})
	})
	mux.HandleFunc("/api/v1/transactions/mpesa/b2c", func(w http.ResponseWriter, r *http.Request) {
		var in b2cBody
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		assert.Equal(t, "254700000000", in.PhoneNumber)
		assert.Equal(t, "100", in.Amount)
		_ = json.NewEncoder(w).Encode(B2CResponse{OrderID: in.OrderID, Status: "PENDING"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, &pushes
}

func TestMpesa_InitializeSendsSTKPush(t *testing.T) {
	srv, pushes := newLiberecServer(t, "PENDING")
	p := NewLiberecMpesaProvider(MpesaConfig{BaseURL: srv.URL, Email: "m@x", Password: "pw"})

	res, err := p.InitializePayment(context.Background(), InitRequest{
		Reference:   "don_1",
		Amount:      decimal.RequireFromString("149.6"),
		Currency:    KES,
		Method:      MethodMobileMoney,
		Customer:    CustomerInfo{Name: "Wanjiru Kamau", Phone: "254700000000"},
		CallbackURL: "https://api.example.com/api/v1/webhooks/mpesa",
	})
	require.NoError(t, err)

	assert.Equal(t, "don_1", res.ExternalID)
	require.NotNil(t, res.ExpiresAt)
	data, ok := res.Data.(*MpesaData)
	require.True(t, ok)
	assert.Equal(t, "ws_CO_1", data.CheckoutRequestID)

	require.Len(t, *pushes, 1)
	push := (*pushes)[0]
	assert.Equal(t, "150", push.Amount)
	assert.Equal(t, DescriptionToken, push.Description)
	assert.Equal(t, "Wanjiru", push.CustomerFirstName)
	assert.Equal(t, "Kamau", push.CustomerLastName)
}

func TestMpesa_InitializeRejectsOtherCurrencies(t *testing.T) {
	p := NewLiberecMpesaProvider(MpesaConfig{BaseURL: "http://127.0.0.1:1"})
	_, err := p.InitializePayment(context.Background(), InitRequest{Reference: "r", Amount: decimal.NewFromInt(10), Currency: XOF})
	assert.ErrorIs(t, err, ErrUnsupportedCurrency)
}

func TestMpesa_VerifyMapsStatus(t *testing.T) {
	srv, _ := newLiberecServer(t, "COMPLETED")
	p := NewLiberecMpesaProvider(MpesaConfig{BaseURL: srv.URL})

	res, err := p.VerifyPayment(context.Background(), "don_1")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, res.Status)
	assert.True(t, res.Amount.Equal(decimal.NewFromInt(150)))
	assert.Equal(t, "QK12", res.Data.(*MpesaData).ReceiptNumber)
}

func TestMpesa_RefundPaysBackOriginalPhone(t *testing.T) {
	srv, _ := newLiberecServer(t, "COMPLETED")
	p := NewLiberecMpesaProvider(MpesaConfig{BaseURL: srv.URL})

	res, err := p.Refund(context.Background(), RefundRequest{ExternalID: "don_1", Amount: decimal.NewFromInt(100), Currency: KES})
	require.NoError(t, err)
	assert.Contains(t, res.RefundID, "rf-don_1-")
}

func TestMpesa_WebhookSignature(t *testing.T) {
	p := NewLiberecMpesaProvider(MpesaConfig{WebhookSecret: "whsec"})
	body := []byte(`{"merchant_order_id":"don_1","status":"COMPLETED","transaction_uuid":"tx-9","amount":"150"}`)

	t.Run("valid", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Webhook-Signature", hmacHex("whsec", body))
		ev, err := p.ParseWebhook(context.Background(), WebhookRequest{Body: body, Header: h})
		require.NoError(t, err)
		assert.True(t, ev.Verified)
		assert.Equal(t, "don_1", ev.ExternalID)
		assert.Equal(t, StatusCompleted, ev.Status)
		assert.Equal(t, "tx-9:completed", ev.EventID)
	})

	t.Run("tampered", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Webhook-Signature", hmacHex("whsec", []byte(`{}`)))
		_, err := p.ParseWebhook(context.Background(), WebhookRequest{Body: body, Header: h})
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestMpesa_UnsignedWebhookIsUnverified(t *testing.T) {
	p := NewLiberecMpesaProvider(MpesaConfig{})
	ev, err := p.ParseWebhook(context.Background(), WebhookRequest{
		Body:   []byte(`{"order_id":"don_2","status":"FAILED"}`),
		Header: http.Header{},
	})
	require.NoError(t, err)
	assert.False(t, ev.Verified)
	assert.Equal(t, StatusFailed, ev.Status)
}
