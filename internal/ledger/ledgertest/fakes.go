package ledgertest

import (
	"context"
	"sync"
	"time"

	"paycore/internal/domain"
	"paycore/internal/models"
	"paycore/pkg/fees"
	"paycore/pkg/payment"

	"github.com/shopspring/decimal"
)

type Donations struct {
	mu   sync.Mutex
	rows map[string]*models.Donation
}

func NewDonations(rows ...*models.Donation) *Donations {
	d := &Donations{rows: make(map[string]*models.Donation)}
	for _, r := range rows {
		d.rows[r.ID] = r
	}
	return d
}

func (d *Donations) Create(ctx context.Context, r *models.Donation) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	c := *r
	d.rows[r.ID] = &c
	return nil
}

func (d *Donations) Get(ctx context.Context, id string) (*models.Donation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rows[id]
	if !ok {
		return nil, domain.ErrDonationNotFound
	}
	c := *r
	return &c, nil
}

func (d *Donations) MarkCompleted(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rows[id]
	if !ok {
		return domain.ErrDonationNotFound
	}
	r.Status = domain.DonationStatusCompleted
	if r.IsRecurring {
		r.ExecutionCount++
	}
	return nil
}

func (d *Donations) MarkFailed(ctx context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	r, ok := d.rows[id]
	if !ok {
		return domain.ErrDonationNotFound
	}
	if r.Status != domain.DonationStatusCompleted {
		r.Status = domain.DonationStatusFailed
	}
	return nil
}

// Donors records every stats delta. Err, when set, fails the update.
type Donors struct {
	mu     sync.Mutex
	totals map[string]decimal.Decimal
	calls  map[string]int
	Err    error
}

func NewDonors() *Donors {
	return &Donors{totals: make(map[string]decimal.Decimal), calls: make(map[string]int)}
}

func (d *Donors) UpdateDonationStats(ctx context.Context, donorID string, amount decimal.Decimal) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return d.Err
	}
	d.totals[donorID] = d.totals[donorID].Add(amount)
	d.calls[donorID]++
	return nil
}

func (d *Donors) Total(donorID string) decimal.Decimal {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.totals[donorID]
}

func (d *Donors) Calls(donorID string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls[donorID]
}

// Notifier counts notifications by kind.
type Notifier struct {
	mu        sync.Mutex
	Completed int
	Failed    int
	Updates   []string
}

func (n *Notifier) NotifyPaymentCompleted(ctx context.Context, p *models.Payment, d *models.Donation) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Completed++
	return nil
}

func (n *Notifier) NotifyPaymentFailed(ctx context.Context, p *models.Payment, d *models.Donation, reason string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Failed++
	return nil
}

func (n *Notifier) NotifyPaymentStatusUpdate(ctx context.Context, p *models.Payment, old, new domain.Status) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.Updates = append(n.Updates, string(old)+"->"+string(new))
	return nil
}

func (n *Notifier) Counts() (completed, failed int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.Completed, n.Failed
}

// SyncDispatcher runs jobs inline.
type SyncDispatcher struct{}

func (SyncDispatcher) Submit(name string, fn func(ctx context.Context) error) bool {
	_ = fn(context.Background())
	return true
}

// Adapter is a scriptable payment.Adapter. Zero value fields mean success.
type Adapter struct {
	Name payment.Provider
	Caps payment.Capabilities

	mu           sync.Mutex
	InitErr      error
	ExternalID   string
	VerifyStatus payment.Status
	VerifyErrs   []error // consumed one per VerifyPayment call
	VerifyErr    error   // returned by every call once VerifyErrs is used up
	RefundErr    error
	RefundDelay  time.Duration // held outside the lock so calls can overlap
	Event        *payment.WebhookEvent
	EventErr     error
	Schedule     fees.Schedule

	InitCalls   int
	VerifyCalls int
	RefundCalls int
}

// NewAdapter returns an adapter accepting every currency and method, with refunds.
func NewAdapter(name payment.Provider) *Adapter {
	return &Adapter{
		Name: name,
		Caps: payment.Capabilities{
			Refunds:    true,
			Currencies: []payment.Currency{payment.XOF, payment.XAF, payment.KES, payment.USD, payment.EUR},
			Methods:    []payment.Method{payment.MethodCard, payment.MethodMobileMoney, payment.MethodWallet, payment.MethodCrypto},
		},
		VerifyStatus: payment.StatusProcessing,
	}
}

func (a *Adapter) Provider() payment.Provider         { return a.Name }
func (a *Adapter) Capabilities() payment.Capabilities { return a.Caps }

func (a *Adapter) InitializePayment(ctx context.Context, req payment.InitRequest) (*payment.InitResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.InitCalls++
	if a.InitErr != nil {
		return nil, a.InitErr
	}
	ext := a.ExternalID
	if ext == "" {
		ext = "ext-" + req.Reference
	}
	exp := time.Now().Add(time.Hour)
	return &payment.InitResult{ExternalID: ext, RedirectURL: "https://pay.example/" + req.Reference, ExpiresAt: &exp}, nil
}

func (a *Adapter) SetVerify(status payment.Status, errs ...error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.VerifyStatus = status
	a.VerifyErrs = errs
}

func (a *Adapter) VerifyPayment(ctx context.Context, externalID string) (*payment.VerifyResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.VerifyCalls++
	if len(a.VerifyErrs) > 0 {
		err := a.VerifyErrs[0]
		a.VerifyErrs = a.VerifyErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if a.VerifyErr != nil {
		return nil, a.VerifyErr
	}
	return &payment.VerifyResult{Status: a.VerifyStatus, RawResponse: []byte(`{"status":"` + string(a.VerifyStatus) + `"}`)}, nil
}

func (a *Adapter) ParseWebhook(ctx context.Context, req payment.WebhookRequest) (*payment.WebhookEvent, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.EventErr != nil {
		return nil, a.EventErr
	}
	ev := *a.Event
	return &ev, nil
}

func (a *Adapter) CalculateFees(amount decimal.Decimal, currency payment.Currency, method payment.Method) (fees.Breakdown, error) {
	return a.Schedule.Calculate(amount, string(currency), string(method))
}

func (a *Adapter) Refund(ctx context.Context, req payment.RefundRequest) (*payment.RefundResult, error) {
	a.mu.Lock()
	delay := a.RefundDelay
	a.mu.Unlock()
	if delay > 0 {
		time.Sleep(delay)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.RefundCalls++
	if a.RefundErr != nil {
		return nil, a.RefundErr
	}
	return &payment.RefundResult{RefundID: "rf-" + req.ExternalID, Status: "succeeded"}, nil
}

func (a *Adapter) Calls() (init, verify, refund int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.InitCalls, a.VerifyCalls, a.RefundCalls
}
