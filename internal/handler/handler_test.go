package handler_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"paycore/internal/domain"
	"paycore/internal/handler"
	"paycore/internal/ledger"
	"paycore/internal/ledger/ledgertest"
	"paycore/internal/models"
	"paycore/internal/reconcile"
	"paycore/internal/webhook"
	"paycore/pkg/payment"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSweeper struct {
	sum reconcile.Summary
	err error
}

func (f fakeSweeper) Sweep(ctx context.Context) (reconcile.Summary, error) { return f.sum, f.err }

type memAudit struct{ store *ledgertest.MemStore }

func (m memAudit) History(ctx context.Context, id string) ([]models.PaymentHistory, error) {
	return m.store.History(id), nil
}

func (m memAudit) Attempts(ctx context.Context, id string) ([]models.PaymentAttempt, error) {
	return m.store.Attempts(id, ""), nil
}

type env struct {
	router    *gin.Engine
	store     *ledgertest.MemStore
	donations *ledgertest.Donations
	adapter   *ledgertest.Adapter
	ledger    *ledger.Ledger
}

// as fakes AuthRequired: the X-Test-Donor header becomes the caller.
func as(c *gin.Context) {
	c.Set("donor_id", c.GetHeader("X-Test-Donor"))
	c.Set("role", c.GetHeader("X-Test-Role"))
	c.Next()
}

func newEnv(t *testing.T, sweeper handler.Sweeper) *env {
	t.Helper()
	e := &env{
		store: ledgertest.NewMemStore(),
		donations: ledgertest.NewDonations(
			&models.Donation{ID: "don-1", DonorID: "donor-1", Amount: decimal.NewFromInt(1000), Currency: "XOF", Status: "pending"},
		),
		adapter: ledgertest.NewAdapter(payment.ProviderCinetPay),
	}
	registry := payment.NewRegistry(e.adapter)
	l, err := ledger.New(ledger.Deps{
		Payments:  e.store,
		Registry:  registry,
		Donations: e.donations,
		Donors:    ledgertest.NewDonors(),
		Notifier:  &ledgertest.Notifier{},
		Dispatch:  ledgertest.SyncDispatcher{},
	}, ledger.Config{PublicBaseURL: "https://pay.example.org", DeepLinkBase: "donate://payment/result", NodeID: 2})
	require.NoError(t, err)
	e.ledger = l

	log := zap.NewNop()
	ph := handler.NewPaymentHandler(l, log)
	dh := handler.NewDonationHandler(e.donations, log)
	wh := handler.NewWebhookHandler(webhook.NewPipeline(registry, e.store, l, 0, log), log)
	ah := handler.NewAdminHandler(l, sweeper, memAudit{e.store}, log)

	r := gin.New()
	r.GET("/healthz", handler.Healthz(nil))
	r.GET("/payments/return", ph.Return)
	r.POST("/webhooks/:provider", wh.Handle)
	authed := r.Group("/", as)
	authed.POST("/payments", ph.Initialize)
	authed.GET("/payments/:reference", ph.Get)
	authed.POST("/payments/:reference/verify", ph.Verify)
	authed.POST("/donations", dh.Create)
	authed.GET("/donations/:id", dh.Get)
	authed.POST("/admin/payments/:reference/refund", ah.Refund)
	authed.POST("/admin/reconcile", ah.Reconcile)
	authed.GET("/admin/payments/:reference/audit", ah.Audit)
	e.router = r
	return e
}

func (e *env) do(method, path, donor, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if donor != "" {
		req.Header.Set("X-Test-Donor", donor)
		req.Header.Set("X-Test-Role", domain.RoleDonor)
	}
	if donor == "admin" {
		req.Header.Set("X-Test-Role", domain.RoleAdmin)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *env) initialize(t *testing.T) ledger.InitializeResult {
	t.Helper()
	w := e.do(http.MethodPost, "/payments", "donor-1",
		`{"donation_id":"don-1","amount":"1000","currency":"XOF","method":"mobile_money","provider":"cinetpay","customer":{"name":"Awa","phone":"+2250700000000"}}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var res ledger.InitializeResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	return res
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	code, _ := body["code"].(string)
	return code
}

func TestPayments_InitializeAndGet(t *testing.T) {
	e := newEnv(t, nil)
	res := e.initialize(t)
	assert.Equal(t, payment.StatusProcessing, res.Status)
	assert.NotEmpty(t, res.RedirectURL)

	w := e.do(http.MethodGet, "/payments/"+res.Reference, "donor-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p models.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, res.PaymentID, p.ID)
	assert.Equal(t, "1000", p.Amount.String())

	w = e.do(http.MethodGet, "/payments/"+res.Reference, "donor-2", "")
	assert.Equal(t, http.StatusNotFound, w.Code, "other donors cannot see the payment")

	w = e.do(http.MethodGet, "/payments/"+res.Reference, "admin", "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestPayments_InitializeValidation(t *testing.T) {
	e := newEnv(t, nil)
	tests := []struct {
		name string
		body string
		code string
	}{
		{"zero amount", `{"donation_id":"don-1","amount":"0","currency":"XOF","method":"mobile_money","provider":"cinetpay"}`, "validation_failed"},
		{"unknown provider", `{"donation_id":"don-1","amount":"10","currency":"XOF","method":"mobile_money","provider":"paypal"}`, "validation_failed"},
		{"missing fields", `{"amount":"10"}`, "invalid_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := e.do(http.MethodPost, "/payments", "donor-1", tt.body)
			assert.Equal(t, http.StatusBadRequest, w.Code)
			assert.Equal(t, tt.code, errorCode(t, w))
		})
	}
	inits, _, _ := e.adapter.Calls()
	assert.Zero(t, inits)
}

func TestPayments_Verify(t *testing.T) {
	e := newEnv(t, nil)
	res := e.initialize(t)

	w := e.do(http.MethodPost, "/payments/"+res.Reference+"/verify", "donor-1", "")
	assert.Equal(t, http.StatusPaymentRequired, w.Code)
	assert.Equal(t, "payment_not_confirmed", errorCode(t, w))

	e.adapter.SetVerify(payment.StatusProcessing, assert.AnError)
	w = e.do(http.MethodPost, "/payments/"+res.Reference+"/verify", "donor-1", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)

	e.adapter.SetVerify(payment.StatusCompleted)
	w = e.do(http.MethodPost, "/payments/"+res.Reference+"/verify", "donor-1", "")
	require.Equal(t, http.StatusOK, w.Code)
	var p models.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, payment.StatusCompleted, p.Status)
}

func TestPayments_ReturnRedirectsToDeepLink(t *testing.T) {
	e := newEnv(t, nil)
	res := e.initialize(t)
	e.adapter.SetVerify(payment.StatusCompleted)

	w := e.do(http.MethodGet, "/payments/return?reference="+url.QueryEscape(res.Reference), "", "")
	require.Equal(t, http.StatusFound, w.Code)
	loc, err := url.Parse(w.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, "donate", loc.Scheme)
	assert.Equal(t, "completed", loc.Query().Get("status"))
	assert.Equal(t, res.Reference, loc.Query().Get("transactionId"))
	assert.Equal(t, "don-1", loc.Query().Get("donationId"))

	w = e.do(http.MethodGet, "/payments/return?reference=nope", "", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestWebhooks(t *testing.T) {
	e := newEnv(t, nil)
	res := e.initialize(t)
	p, err := e.ledger.GetByID(context.Background(), res.PaymentID)
	require.NoError(t, err)

	w := e.do(http.MethodPost, "/webhooks/paypal", "", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "unknown_provider", errorCode(t, w))

	e.adapter.EventErr = payment.ErrInvalidSignature
	w = e.do(http.MethodPost, "/webhooks/cinetpay", "", `{}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	e.adapter.EventErr = payment.ErrMalformedWebhook
	w = e.do(http.MethodPost, "/webhooks/cinetpay", "", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	e.adapter.EventErr = nil
	e.adapter.Event = &payment.WebhookEvent{EventID: "evt-x", ExternalID: "ext-unknown", Status: payment.StatusCompleted, Verified: true}
	w = e.do(http.MethodPost, "/webhooks/cinetpay", "", `{}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "payment_not_found", errorCode(t, w))

	e.adapter.Event = &payment.WebhookEvent{EventID: "evt-other", EventType: "charge.succeeded", Verified: true}
	w = e.do(http.MethodPost, "/webhooks/cinetpay", "", `{}`)
	assert.Equal(t, http.StatusOK, w.Code, "unhandled event types are acknowledged")
	assert.Empty(t, e.store.Webhooks())

	e.adapter.Event = &payment.WebhookEvent{EventID: "evt-1", ExternalID: p.Transaction.ExternalID, Status: payment.StatusCompleted, Verified: true}
	for i := 0; i < 2; i++ {
		w = e.do(http.MethodPost, "/webhooks/cinetpay", "", `{"cpm_trans_id":"x"}`)
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, `{"received":true}`, w.Body.String())
	}
	hooks := e.store.Webhooks()
	require.Len(t, hooks, 1)
	assert.Equal(t, 2, hooks[0].DeliveryCount)

	p, err = e.ledger.GetByID(context.Background(), res.PaymentID)
	require.NoError(t, err)
	assert.Equal(t, payment.StatusCompleted, p.Status)
}

func TestWebhooks_ProcessingErrorStillAcknowledged(t *testing.T) {
	e := newEnv(t, nil)
	res := e.initialize(t)
	p, err := e.ledger.GetByID(context.Background(), res.PaymentID)
	require.NoError(t, err)

	e.adapter.SetVerify(payment.StatusCompleted, assert.AnError)
	e.adapter.Event = &payment.WebhookEvent{EventID: "evt-2", ExternalID: p.Transaction.ExternalID, Status: payment.StatusCompleted}
	w := e.do(http.MethodPost, "/webhooks/cinetpay", "", `{}`)
	assert.Equal(t, http.StatusOK, w.Code)

	hooks := e.store.Webhooks()
	require.Len(t, hooks, 1)
	assert.Nil(t, hooks[0].ProcessedAt, "left for redelivery or the sweep")
}

func TestAdmin_Refund(t *testing.T) {
	e := newEnv(t, nil)
	res := e.initialize(t)
	_, err := e.ledger.ApplyStatus(context.Background(), ledger.StatusUpdate{
		PaymentID: res.PaymentID, Status: payment.StatusCompleted, Source: domain.SourceWebhook,
	})
	require.NoError(t, err)

	path := "/admin/payments/" + res.Reference + "/refund"
	w := e.do(http.MethodPost, path, "admin", `{"amount":"2000","reason":"duplicate"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ctx := context.Background()
	claimed, err := e.store.ClaimRefund(ctx, res.PaymentID, models.Refund{
		Amount: decimal.NewNullDecimal(decimal.NewFromInt(1000)), Status: domain.RefundStatusPending,
	})
	require.NoError(t, err)
	require.True(t, claimed)
	w = e.do(http.MethodPost, path, "admin", `{"amount":"400"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "refund_in_progress", errorCode(t, w))
	require.NoError(t, e.store.UpdateRefund(ctx, res.PaymentID, models.Refund{}))

	w = e.do(http.MethodPost, path, "admin", `{"amount":"400","reason":"duplicate"}`)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var p models.Payment
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &p))
	assert.Equal(t, payment.StatusPartiallyRefunded, p.Status)

	w = e.do(http.MethodPost, path, "admin", `{"amount":"100"}`)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "state_conflict", errorCode(t, w))
}

func TestAdmin_Audit(t *testing.T) {
	e := newEnv(t, nil)
	res := e.initialize(t)

	w := e.do(http.MethodGet, "/admin/payments/"+res.Reference+"/audit", "admin", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Payment  models.Payment          `json:"payment"`
		History  []models.PaymentHistory `json:"history"`
		Attempts []models.PaymentAttempt `json:"attempts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, res.PaymentID, body.Payment.ID)
	require.Len(t, body.History, 2, "created, then pending -> processing")
	require.Len(t, body.Attempts, 1)
	assert.Equal(t, domain.AttemptInitialize, body.Attempts[0].Kind)

	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/admin/payments/nope/audit", "admin", "").Code)
}

func TestAdmin_Reconcile(t *testing.T) {
	e := newEnv(t, fakeSweeper{sum: reconcile.Summary{Checked: 3, Completed: 1, Unchanged: 2}})
	w := e.do(http.MethodPost, "/admin/reconcile", "admin", "")
	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 3, body["checked"])
	assert.Equal(t, 1, body["completed"])

	busy := newEnv(t, fakeSweeper{err: domain.ErrSweepInProgress})
	w = busy.do(http.MethodPost, "/admin/reconcile", "admin", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "sweep_in_progress", errorCode(t, w))
}

func TestDonations(t *testing.T) {
	e := newEnv(t, nil)
	w := e.do(http.MethodPost, "/donations", "donor-9", `{"amount":"2500","currency":"xof","is_recurring":true}`)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var d models.Donation
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &d))
	assert.Equal(t, "donor-9", d.DonorID)
	assert.Equal(t, "XOF", d.Currency)
	assert.Equal(t, domain.DonationStatusPending, d.Status)
	assert.True(t, d.IsRecurring)

	assert.Equal(t, http.StatusOK, e.do(http.MethodGet, "/donations/"+d.ID, "donor-9", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/donations/"+d.ID, "donor-1", "").Code)
	assert.Equal(t, http.StatusNotFound, e.do(http.MethodGet, "/donations/missing", "donor-9", "").Code)

	w = e.do(http.MethodPost, "/donations", "donor-9", `{"amount":"-5","currency":"XOF"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHealthz(t *testing.T) {
	r := gin.New()
	r.GET("/ok", handler.Healthz(func(ctx context.Context) error { return nil }))
	r.GET("/down", handler.Healthz(func(ctx context.Context) error { return assert.AnError }))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/down", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}
