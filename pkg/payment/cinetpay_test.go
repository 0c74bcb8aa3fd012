package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCinetPay_InitializeAndVerify(t *testing.T) {
	var initReq cinetpayInitReq
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v2/payment":
			assert.NoError(t, json.NewDecoder(r.Body).Decode(&initReq))
			_, _ = w.Write([]byte(`{"code":"201","message":"CREATED","data":{"payment_token":"tok","payment_url":"https://checkout.cinetpay.com/payment/tok"}}`))
		case "/v2/payment/check":
			_, _ = w.Write([]byte(`{"code":"00","message":"SUCCES","data":{"amount":"500","currency":"XOF","status":"ACCEPTED","payment_method":"OM","operator_id":"MP1"}}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	p := NewCinetPayProvider(CinetPayConfig{BaseURL: srv.URL, APIKey: "k", SiteID: "s"})
	res, err := p.InitializePayment(context.Background(), InitRequest{
		Reference: "don_500",
		Amount:    decimal.NewFromInt(500),
		Currency:  XOF,
		Method:    MethodMobileMoney,
		ReturnURL: "https://api.example.com/api/v1/payments/return?reference=don_500",
	})
	require.NoError(t, err)
	assert.Equal(t, "don_500", res.ExternalID)
	assert.Equal(t, "https://checkout.cinetpay.com/payment/tok", res.RedirectURL)
	assert.Equal(t, "MOBILE_MONEY", initReq.Channels)
	assert.Equal(t, DescriptionToken, initReq.Description)

	v, err := p.VerifyPayment(context.Background(), "don_500")
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, v.Status)
	assert.True(t, v.Amount.Equal(decimal.NewFromInt(500)))
}

func TestCinetPay_InitializeRejectedCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"code":"608","message":"MINIMUM_REQUIRED_FIELDS"}`))
	}))
	defer srv.Close()

	p := NewCinetPayProvider(CinetPayConfig{BaseURL: srv.URL})
	_, err := p.InitializePayment(context.Background(), InitRequest{Reference: "r", Amount: decimal.NewFromInt(100), Currency: XOF})
	var pe *ProviderError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, ProviderCinetPay, pe.Provider)
}

func TestCinetPay_WebhookToken(t *testing.T) {
	p := NewCinetPayProvider(CinetPayConfig{SecretKey: "secret"})
	fields := url.Values{}
	fields.Set("cpm_site_id", "s")
	fields.Set("cpm_trans_id", "don_500")
	fields.Set("cpm_trans_date", "2024-05-01 10:00:00")
	fields.Set("cpm_amount", "500")
	fields.Set("cpm_currency", "XOF")
	fields.Set("signature", "sig")
	body := []byte(fields.Encode())

	t.Run("valid notification requires poll", func(t *testing.T) {
		h := http.Header{}
		h.Set("Content-Type", "application/x-www-form-urlencoded")
		h.Set("X-Token", CinetPayToken("secret", fields))
		ev, err := p.ParseWebhook(context.Background(), WebhookRequest{Body: body, Header: h})
		require.NoError(t, err)
		assert.True(t, ev.Verified)
		assert.True(t, ev.PollRequired)
		assert.Equal(t, "don_500", ev.ExternalID)
	})

	t.Run("forged token", func(t *testing.T) {
		h := http.Header{}
		h.Set("X-Token", "deadbeef")
		_, err := p.ParseWebhook(context.Background(), WebhookRequest{Body: body, Header: h})
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("json body with status", func(t *testing.T) {
		withStatus := url.Values{}
		for k, v := range fields {
			withStatus[k] = v
		}
		withStatus.Set("cpm_trans_status", "REFUSED")
		raw, _ := json.Marshal(map[string]string{
			"cpm_site_id": "s", "cpm_trans_id": "don_500", "cpm_trans_date": "2024-05-01 10:00:00",
			"cpm_amount": "500", "cpm_currency": "XOF", "signature": "sig", "cpm_trans_status": "REFUSED",
		})
		h := http.Header{}
		h.Set("Content-Type", "application/json")
		h.Set("X-Token", CinetPayToken("secret", withStatus))
		ev, err := p.ParseWebhook(context.Background(), WebhookRequest{Body: raw, Header: h})
		require.NoError(t, err)
		assert.False(t, ev.PollRequired)
		assert.Equal(t, StatusFailed, ev.Status)
		assert.Equal(t, "don_500:refused", ev.EventID)
	})
}
