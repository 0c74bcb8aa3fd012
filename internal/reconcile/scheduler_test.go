package reconcile_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"paycore/internal/domain"
	"paycore/internal/ledger"
	"paycore/internal/ledger/ledgertest"
	"paycore/internal/models"
	"paycore/internal/reconcile"
	"paycore/internal/retry"
	"paycore/internal/webhook"
	"paycore/pkg/payment"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type noSleep struct{}

func (noSleep) Sleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type fixture struct {
	store    *ledgertest.MemStore
	ledger   *ledger.Ledger
	donors   *ledgertest.Donors
	notifier *ledgertest.Notifier
	registry *payment.Registry
	now      time.Time
}

func newFixture(t *testing.T, adapters ...payment.Adapter) *fixture {
	t.Helper()
	f := &fixture{
		store:    ledgertest.NewMemStore(),
		donors:   ledgertest.NewDonors(),
		notifier: &ledgertest.Notifier{},
		registry: payment.NewRegistry(adapters...),
		now:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	l, err := ledger.New(ledger.Deps{
		Payments:  f.store,
		Registry:  f.registry,
		Donations: ledgertest.NewDonations(&models.Donation{ID: "don-1", DonorID: "donor-1", Status: "pending"}),
		Donors:    f.donors,
		Notifier:  f.notifier,
		Dispatch:  ledgertest.SyncDispatcher{},
	}, ledger.Config{NodeID: 3})
	require.NoError(t, err)
	l.SetClock(func() time.Time { return f.now })
	f.ledger = l
	return f
}

func (f *fixture) scheduler(store reconcile.Store) *reconcile.Scheduler {
	s := reconcile.New(store, f.ledger, nil, reconcile.Config{
		Threshold:   2 * time.Hour,
		Concurrency: 2,
		Retry:       retry.Policy{Attempts: 3, Delay: time.Second, Sleeper: noSleep{}},
	}, nil)
	s.SetClock(func() time.Time { return f.now })
	return s
}

func (f *fixture) put(id string, provider payment.Provider, status payment.Status, age time.Duration, externalID string) {
	f.store.Put(&models.Payment{
		ID:          id,
		DonorID:     "donor-1",
		DonationID:  "don-1",
		Amount:      decimal.NewFromInt(1000),
		Currency:    payment.XOF,
		Method:      payment.MethodMobileMoney,
		Provider:    provider,
		Status:      status,
		CreatedAt:   f.now.Add(-age),
		Transaction: models.Transaction{Reference: "ref-" + id, ExternalID: externalID},
	})
}

func status(t *testing.T, f *fixture, id string) payment.Status {
	t.Helper()
	p, err := f.ledger.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p.Status
}

func TestSweep_Scope(t *testing.T) {
	a := ledgertest.NewAdapter(payment.ProviderCinetPay)
	a.SetVerify(payment.StatusCompleted)
	f := newFixture(t, a)
	f.put("young", payment.ProviderCinetPay, payment.StatusProcessing, 10*time.Minute, "ext-young")
	f.put("old", payment.ProviderCinetPay, payment.StatusProcessing, 3*time.Hour, "ext-old")
	f.put("done", payment.ProviderCinetPay, payment.StatusCompleted, 5*time.Hour, "ext-done")

	sum, err := f.scheduler(f.store).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 1, sum.Completed)
	assert.Equal(t, payment.StatusProcessing, status(t, f, "young"))
	assert.Equal(t, payment.StatusCompleted, status(t, f, "old"))
	assert.Empty(t, f.store.Attempts("young", domain.AttemptVerify))
}

func TestSweep_ProviderThresholdOverride(t *testing.T) {
	a := ledgertest.NewAdapter(payment.ProviderMpesa)
	a.SetVerify(payment.StatusFailed)
	f := newFixture(t, a)
	f.put("m1", payment.ProviderMpesa, payment.StatusProcessing, 40*time.Minute, "ext-m1")

	s := reconcile.New(f.store, f.ledger, nil, reconcile.Config{
		Threshold:          2 * time.Hour,
		ProviderThresholds: map[string]time.Duration{"mpesa": 30 * time.Minute},
		Retry:              retry.Policy{Attempts: 1, Sleeper: noSleep{}},
	}, nil)
	s.SetClock(func() time.Time { return f.now })
	sum, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, payment.StatusFailed, status(t, f, "m1"))
}

func TestSweep_RetryBudgetAndIsolation(t *testing.T) {
	broken := ledgertest.NewAdapter(payment.ProviderSwapuzi)
	down := errors.New("upstream down")
	broken.SetVerify(payment.StatusCompleted, down, down, down)
	healthy := ledgertest.NewAdapter(payment.ProviderCinetPay)
	healthy.SetVerify(payment.StatusCompleted)
	f := newFixture(t, broken, healthy)
	f.put("stuck", payment.ProviderSwapuzi, payment.StatusProcessing, 3*time.Hour, "ext-stuck")
	f.put("fine", payment.ProviderCinetPay, payment.StatusProcessing, 3*time.Hour, "ext-fine")

	sum, err := f.scheduler(f.store).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, sum.Checked)
	assert.Equal(t, 1, sum.Errors)
	assert.Equal(t, 1, sum.Completed)

	assert.Equal(t, payment.StatusProcessing, status(t, f, "stuck"), "left for the next sweep")
	attempts := f.store.Attempts("stuck", domain.AttemptVerify)
	require.Len(t, attempts, 3)
	for i, a := range attempts {
		assert.Equal(t, i+1, a.AttemptNo)
		assert.Equal(t, domain.OutcomeError, a.Outcome)
	}
	assert.Equal(t, payment.StatusCompleted, status(t, f, "fine"))
}

func TestSweep_BrokenPaymentsDoNotStarveTheBatch(t *testing.T) {
	broken := ledgertest.NewAdapter(payment.ProviderSwapuzi)
	broken.VerifyErr = errors.New("upstream down")
	healthy := ledgertest.NewAdapter(payment.ProviderCinetPay)
	healthy.SetVerify(payment.StatusCompleted)
	f := newFixture(t, broken, healthy)
	for _, id := range []string{"b1", "b2", "b3"} {
		f.put(id, payment.ProviderSwapuzi, payment.StatusProcessing, 10*time.Hour, "ext-"+id)
	}
	f.put("fine", payment.ProviderCinetPay, payment.StatusProcessing, 3*time.Hour, "ext-fine")

	s := reconcile.New(f.store, f.ledger, nil, reconcile.Config{
		Threshold: 2 * time.Hour,
		BatchSize: 3,
		Retry:     retry.Policy{Attempts: 1, Sleeper: noSleep{}},
	}, nil)
	s.SetClock(func() time.Time { return f.now })

	first, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, first.Checked)
	assert.Equal(t, 3, first.Errors)
	assert.Equal(t, payment.StatusProcessing, status(t, f, "fine"))

	f.now = f.now.Add(30 * time.Minute)
	second, err := s.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, second.Checked)
	assert.Equal(t, 1, second.Completed)
	assert.Equal(t, payment.StatusCompleted, status(t, f, "fine"))
}

func TestSweep_ExpiresWindowsAndFailsOrphans(t *testing.T) {
	a := ledgertest.NewAdapter(payment.ProviderMoneyFusion)
	a.SetVerify(payment.StatusProcessing)
	f := newFixture(t, a)
	f.put("late", payment.ProviderMoneyFusion, payment.StatusProcessing, 3*time.Hour, "ext-late")
	p, err := f.ledger.GetByID(context.Background(), "late")
	require.NoError(t, err)
	expired := f.now.Add(-time.Hour)
	p.Transaction.ExpiresAt = &expired
	f.store.Put(p)
	f.put("orphan", payment.ProviderMoneyFusion, payment.StatusPending, 3*time.Hour, "")
	f.put("waiting", payment.ProviderMoneyFusion, payment.StatusProcessing, 3*time.Hour, "ext-waiting")

	sum, err := f.scheduler(f.store).Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, sum.Checked)
	assert.Equal(t, 1, sum.Expired)
	assert.Equal(t, 1, sum.Failed)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Equal(t, payment.StatusExpired, status(t, f, "late"))
	assert.Equal(t, payment.StatusFailed, status(t, f, "orphan"))
	assert.Equal(t, payment.StatusProcessing, status(t, f, "waiting"))
}

// blockingStore holds ListStale open until released.
type blockingStore struct {
	reconcile.Store
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingStore) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return b.Store.ListStale(ctx, cutoff, limit)
}

func TestSweep_SingleFlight(t *testing.T) {
	f := newFixture(t, ledgertest.NewAdapter(payment.ProviderCinetPay))
	store := &blockingStore{Store: f.store, entered: make(chan struct{}), release: make(chan struct{})}
	s := f.scheduler(store)

	done := make(chan error, 1)
	go func() {
		_, err := s.Sweep(context.Background())
		done <- err
	}()
	<-store.entered

	_, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, domain.ErrSweepInProgress)

	close(store.release)
	require.NoError(t, <-done)

	_, err = s.Sweep(context.Background())
	assert.NoError(t, err, "guard is released after a sweep")
}

type heldLock struct{}

func (heldLock) TryLock(ctx context.Context, key string, ttl time.Duration) (func(), bool, error) {
	return nil, false, nil
}

func TestSweep_DistributedLockHeldElsewhere(t *testing.T) {
	f := newFixture(t, ledgertest.NewAdapter(payment.ProviderCinetPay))
	s := reconcile.New(f.store, f.ledger, heldLock{}, reconcile.Config{}, nil)
	_, err := s.Sweep(context.Background())
	assert.ErrorIs(t, err, domain.ErrSweepInProgress)
}

// staleSnapshot returns candidates captured before a webhook resolved them,
// as a sweep racing the webhook would see.
type staleSnapshot struct {
	list []models.Payment
}

func (s staleSnapshot) ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error) {
	return s.list, nil
}

func (staleSnapshot) MarkReconciled(ctx context.Context, ids []string, at time.Time) error { return nil }

func TestScenario_MobileMoneyWebhookThenSweep(t *testing.T) {
	ctx := context.Background()
	a := ledgertest.NewAdapter(payment.ProviderMoneyFusion)
	f := newFixture(t, a)
	pipeline := webhook.NewPipeline(f.registry, f.store, f.ledger, 0, nil)

	res, err := f.ledger.Initialize(ctx, ledger.InitializeRequest{
		DonorID: "donor-1", DonationID: "don-1", Amount: decimal.NewFromInt(500),
		Currency: payment.XOF, Method: payment.MethodMobileMoney, Provider: payment.ProviderMoneyFusion,
	})
	require.NoError(t, err)
	require.Equal(t, payment.StatusProcessing, res.Status)

	snapshot, err := f.ledger.GetByID(ctx, res.PaymentID)
	require.NoError(t, err)
	snapshot.CreatedAt = f.now.Add(-3 * time.Hour)

	a.SetVerify(payment.StatusCompleted)
	a.Event = &payment.WebhookEvent{
		EventType: "payin.session.completed", EventID: "tok:payin.session.completed",
		ExternalID: snapshot.Transaction.ExternalID, Status: payment.StatusCompleted,
	}
	out, err := pipeline.Ingest(ctx, payment.ProviderMoneyFusion, payment.WebhookRequest{Body: []byte(`{"event":"payin.session.completed"}`)})
	require.NoError(t, err)
	require.True(t, out.Applied)
	assert.Equal(t, "500", f.donors.Total("donor-1").String())

	_, verifiesBefore, _ := a.Calls()
	sum, err := f.scheduler(staleSnapshot{list: []models.Payment{*snapshot}}).Sweep(ctx)
	require.NoError(t, err)
	_, verifiesAfter, _ := a.Calls()

	assert.Equal(t, verifiesBefore+1, verifiesAfter, "sweep polled the provider")
	assert.Equal(t, 1, sum.Checked)
	assert.Equal(t, 1, sum.Unchanged)
	assert.Equal(t, "500", f.donors.Total("donor-1").String())
	completed, _ := f.notifier.Counts()
	assert.Equal(t, 1, completed)
	assert.Equal(t, payment.StatusCompleted, status(t, f, res.PaymentID))
}
