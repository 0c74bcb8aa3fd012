package notify

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"paycore/internal/models"
	"paycore/internal/ws"
	"paycore/pkg/payment"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu   sync.Mutex
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *fakeWriter) Close() error { return nil }

type failingSink struct{}

func (failingSink) Name() string                                { return "broken" }
func (failingSink) Publish(ctx context.Context, ev Event) error { return errors.New("down") }

func testPayment() *models.Payment {
	return &models.Payment{
		ID:          "pay-1",
		DonorID:     "donor-1",
		DonationID:  "don-1",
		Amount:      decimal.NewFromInt(500),
		Currency:    payment.XOF,
		Provider:    payment.ProviderMoneyFusion,
		Status:      payment.StatusCompleted,
		Transaction: models.Transaction{Reference: "ref-1"},
	}
}

func TestService_FansOutToSinks(t *testing.T) {
	w := &fakeWriter{}
	hub := ws.NewHub()
	client := ws.NewClient("donor-1", "DONOR")
	hub.Register(client)

	svc := NewService(nil, HubSink{Hub: hub}, NewKafkaPublisherWithWriter(w, nil))
	err := svc.NotifyPaymentCompleted(context.Background(), testPayment(), &models.Donation{IsRecurring: true})
	require.NoError(t, err)

	require.Len(t, w.msgs, 1)
	assert.Equal(t, "pay-1", string(w.msgs[0].Key))
	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, EventPaymentCompleted, ev.Type)
	assert.Equal(t, "ref-1", ev.Reference)
	assert.True(t, ev.Recurring)

	select {
	case msg := <-client.Send:
		assert.Contains(t, string(msg), EventPaymentCompleted)
	default:
		t.Fatal("donor connection got no message")
	}
}

func TestService_SinkFailureDoesNotStopOthers(t *testing.T) {
	w := &fakeWriter{}
	svc := NewService(nil, failingSink{}, NewKafkaPublisherWithWriter(w, nil))

	err := svc.NotifyPaymentFailed(context.Background(), testPayment(), nil, "declined")
	assert.Error(t, err)
	require.Len(t, w.msgs, 1)
}

func TestService_StatusUpdate(t *testing.T) {
	w := &fakeWriter{}
	svc := NewService(nil, NewKafkaPublisherWithWriter(w, nil))
	require.NoError(t, svc.NotifyPaymentStatusUpdate(context.Background(), testPayment(),
		payment.StatusCompleted, payment.StatusRefunded))

	var ev Event
	require.NoError(t, json.Unmarshal(w.msgs[0].Value, &ev))
	assert.Equal(t, "completed", ev.PreviousStatus)
	assert.Equal(t, "refunded", ev.Status)
}

func TestDispatcher_RunsJobsAndDrainsOnStop(t *testing.T) {
	d := NewDispatcher(2, 16, nil)
	d.Start()

	var ran atomic.Int32
	for i := 0; i < 10; i++ {
		ok := d.Submit("count", func(ctx context.Context) error {
			ran.Add(1)
			return nil
		})
		require.True(t, ok)
	}
	d.Submit("fails", func(ctx context.Context) error { return errors.New("boom") })
	d.Submit("panics", func(ctx context.Context) error { panic("boom") })
	d.Stop()

	assert.Equal(t, int32(10), ran.Load())
}

func TestDispatcher_RunsInlineWhenFull(t *testing.T) {
	d := NewDispatcher(1, 1, nil)
	block := make(chan struct{})
	d.Start()

	started := make(chan struct{})
	require.True(t, d.Submit("blocker", func(ctx context.Context) error {
		close(started)
		<-block
		return nil
	}))
	<-started
	var queued, inline atomic.Bool
	require.True(t, d.Submit("queued", func(ctx context.Context) error { queued.Store(true); return nil }))
	assert.False(t, d.Submit("overflow", func(ctx context.Context) error { inline.Store(true); return nil }))
	assert.True(t, inline.Load(), "overflow ran on the caller's goroutine")

	close(block)
	done := make(chan struct{})
	go func() { d.Stop(); close(done) }()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stop did not return")
	}
	assert.True(t, queued.Load())

	var late atomic.Bool
	assert.False(t, d.Submit("late", func(ctx context.Context) error { late.Store(true); return nil }))
	assert.True(t, late.Load(), "jobs after Stop still run")
}
