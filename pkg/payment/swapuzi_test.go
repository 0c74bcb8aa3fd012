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

func TestSwapuzi_InitializeConvertsKESToUSDT(t *testing.T) {
	var deposit swapuziDepositReq
	mux := http.NewServeMux()
	mux.HandleFunc("/merchants/login", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"token":"tok"}`))
	})
	mux.HandleFunc("/merchants/rates", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"usdt_buying_rate":130,"usdt_selling_rate":128}`))
	})
	mux.HandleFunc("/merchants/solana/deposit/initiate", func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&deposit))
		_, _ = w.Write([]byte(`{"deposit_id":7,"merchant_deposit_id":"don_1","status":"pending","page_url":"https://pay.swapuzi.com/d/7","expires_at":"2030-01-01T00:00:00Z"}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewSwapuziProvider(SwapuziConfig{BaseURL: srv.URL})
	res, err := p.InitializePayment(context.Background(), InitRequest{Reference: "don_1", Amount: decimal.NewFromInt(1000), Currency: KES, Method: MethodCrypto})
	require.NoError(t, err)

	assert.Equal(t, "https://pay.swapuzi.com/d/7", res.RedirectURL)
	// 1000 / 130 = 7.6923..., rounded up
	assert.InDelta(t, 7.6924, deposit.ExpectedAmount, 1e-9)
	assert.Equal(t, DescriptionToken, deposit.Notes)
	data := res.Data.(*SwapuziData)
	assert.Equal(t, "7.6924", data.ExpectedUSDT.String())
}

func TestSwapuzi_UnderpaidDepositStaysInFlight(t *testing.T) {
	p := NewSwapuziProvider(SwapuziConfig{})
	ev, err := p.ParseWebhook(context.Background(), WebhookRequest{
		Body: []byte(`{"event":"deposit.completed","merchant_deposit_id":"don_1","status":"completed","received_amount":5,"expected_amount":7.6924,"timestamp":1714560000}`),
	})
	require.NoError(t, err)
	assert.Equal(t, StatusProcessing, ev.Status)
	assert.False(t, ev.Verified)
	assert.Equal(t, "don_1:completed:1714560000", ev.EventID)
}
