package notify

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultJobTimeout bounds one side-effect job.
const DefaultJobTimeout = 15 * time.Second

type job struct {
	name string
	fn   func(ctx context.Context) error
}

// Dispatcher runs post-commit side effects on a bounded queue. A job's
// failure is logged and never reaches the caller.
type Dispatcher struct {
	jobs    chan job
	workers int
	timeout time.Duration
	log     *zap.Logger

	mu      sync.RWMutex
	closed  bool
	started bool
	wg      sync.WaitGroup
}

func NewDispatcher(workers, queueSize int, log *zap.Logger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{
		jobs:    make(chan job, queueSize),
		workers: workers,
		timeout: DefaultJobTimeout,
		log:     log.Named("dispatcher"),
	}
}

// Start launches the workers. Calling it twice is a no-op.
func (d *Dispatcher) Start() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.started || d.closed {
		return
	}
	d.started = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.work()
	}
}

// Submit runs fn exactly once. It is queued for a worker when there is room;
// when the queue is full or the dispatcher is stopped, fn runs inline on the
// caller's goroutine instead. Submit reports whether fn was queued.
func (d *Dispatcher) Submit(name string, fn func(ctx context.Context) error) bool {
	j := job{name: name, fn: fn}
	if d.enqueue(j) {
		return true
	}
	d.log.Warn("dispatch queue unavailable, running job inline", zap.String("job", name))
	d.run(j)
	return false
}

func (d *Dispatcher) enqueue(j job) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.jobs <- j:
		return true
	default:
		return false
	}
}

// Stop refuses new jobs, lets the workers drain the queue and waits for them.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	close(d.jobs)
	d.mu.Unlock()
	d.wg.Wait()
}

func (d *Dispatcher) work() {
	defer d.wg.Done()
	for j := range d.jobs {
		d.run(j)
	}
}

func (d *Dispatcher) run(j job) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("job panicked", zap.String("job", j.name), zap.Any("panic", r))
		}
	}()
	if err := j.fn(ctx); err != nil {
		d.log.Warn("job failed", zap.String("job", j.name), zap.Error(err))
	}
}
