// Package reconcile resolves payments stuck in pending or processing by
// polling their providers on a schedule.
package reconcile

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"paycore/internal/domain"
	"paycore/internal/ledger"
	"paycore/internal/lock"
	"paycore/internal/models"
	"paycore/internal/retry"
	"paycore/pkg/payment"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Store selects sweep candidates. repository.PaymentRepository implements it.
// ListStale orders least recently reconciled first, and MarkReconciled moves
// a visited payment to the back of that order.
type Store interface {
	ListStale(ctx context.Context, cutoff time.Time, limit int) ([]models.Payment, error)
	MarkReconciled(ctx context.Context, ids []string, at time.Time) error
}

const lockKey = "reconcile:sweep"

type Config struct {
	Interval           time.Duration
	Threshold          time.Duration
	ProviderThresholds map[string]time.Duration
	BatchSize          int
	Concurrency        int
	Retry              retry.Policy
	LockTTL            time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 30 * time.Minute
	}
	if c.Threshold <= 0 {
		c.Threshold = 2 * time.Hour
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 200
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 1
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = retry.Default()
	}
	if c.LockTTL <= 0 {
		c.LockTTL = c.Interval
	}
	return c
}

// Summary is the outcome of one sweep.
type Summary struct {
	Checked   int           `json:"checked"`
	Completed int           `json:"completed"`
	Failed    int           `json:"failed"`
	Expired   int           `json:"expired"`
	Unchanged int           `json:"unchanged"`
	Errors    int           `json:"errors"`
	Duration  time.Duration `json:"duration_ns"`
}

type Scheduler struct {
	store   Store
	ledger  *ledger.Ledger
	locker  lock.Locker
	cfg     Config
	log     *zap.Logger
	now     func() time.Time
	running atomic.Bool
}

func New(store Store, l *ledger.Ledger, locker lock.Locker, cfg Config, log *zap.Logger) *Scheduler {
	if locker == nil {
		locker = lock.Noop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		store:  store,
		ledger: l,
		locker: locker,
		cfg:    cfg.withDefaults(),
		log:    log.Named("reconcile"),
		now:    time.Now,
	}
}

// SetClock replaces the scheduler's time source.
func (s *Scheduler) SetClock(now func() time.Time) { s.now = now }

// Run sweeps every Interval until ctx is cancelled. A sweep in flight at
// shutdown sees the cancelled context and stops between provider calls.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.log.Info("reconciliation scheduler started",
		zap.Duration("interval", s.cfg.Interval), zap.Duration("threshold", s.cfg.Threshold))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("reconciliation scheduler stopped")
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && !errors.Is(err, domain.ErrSweepInProgress) {
				s.log.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one reconciliation pass. It returns domain.ErrSweepInProgress
// when another sweep, here or on another instance, is still running.
func (s *Scheduler) Sweep(ctx context.Context) (Summary, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Summary{}, domain.ErrSweepInProgress
	}
	defer s.running.Store(false)

	release, ok, err := s.locker.TryLock(ctx, lockKey, s.cfg.LockTTL)
	switch {
	case err != nil:
		// The conditional ledger write keeps overlapping sweeps safe, so a
		// lock outage degrades to the in-process guard.
		s.log.Warn("sweep lock unavailable, continuing without it", zap.Error(err))
	case !ok:
		s.log.Info("sweep already running on another instance")
		return Summary{}, domain.ErrSweepInProgress
	default:
		defer release()
	}

	started := s.now()
	candidates, err := s.store.ListStale(ctx, started.Add(-s.minThreshold()), s.cfg.BatchSize)
	if err != nil {
		return Summary{}, err
	}
	ids := make([]string, len(candidates))
	for i := range candidates {
		ids[i] = candidates[i].ID
	}
	if err := s.store.MarkReconciled(ctx, ids, started); err != nil {
		s.log.Warn("mark candidates reconciled", zap.Error(err))
	}

	var (
		mu  sync.Mutex
		sum Summary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for i := range candidates {
		p := candidates[i]
		if started.Sub(p.CreatedAt) < s.thresholdFor(p.Provider) {
			continue
		}
		g.Go(func() error {
			result, err := s.reconcileOne(gctx, &p)
			mu.Lock()
			defer mu.Unlock()
			sum.Checked++
			if err != nil {
				sum.Errors++
				s.log.Warn("payment not reconciled", zap.String("payment_id", p.ID), zap.Error(err))
				return nil
			}
			switch result {
			case outcomeCompleted:
				sum.Completed++
			case outcomeFailed:
				sum.Failed++
			case outcomeExpired:
				sum.Expired++
			default:
				sum.Unchanged++
			}
			return nil
		})
	}
	_ = g.Wait()
	sum.Duration = s.now().Sub(started)

	s.log.Info("reconciliation sweep finished",
		zap.Int("checked", sum.Checked),
		zap.Int("completed", sum.Completed),
		zap.Int("failed", sum.Failed),
		zap.Int("expired", sum.Expired),
		zap.Int("unchanged", sum.Unchanged),
		zap.Int("errors", sum.Errors),
		zap.Duration("duration", sum.Duration))
	return sum, ctx.Err()
}

func (s *Scheduler) thresholdFor(p payment.Provider) time.Duration {
	if d, ok := s.cfg.ProviderThresholds[string(p)]; ok {
		return d
	}
	return s.cfg.Threshold
}

func (s *Scheduler) minThreshold() time.Duration {
	shortest := s.cfg.Threshold
	for _, d := range s.cfg.ProviderThresholds {
		if d < shortest {
			shortest = d
		}
	}
	return shortest
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeCompleted
	outcomeFailed
	outcomeExpired
)

func (s *Scheduler) reconcileOne(ctx context.Context, p *models.Payment) (outcome, error) {
	if p.Transaction.ExternalID == "" {
		tr, err := s.ledger.MarkFailed(ctx, p.ID, "initialization did not complete", "init_incomplete", domain.SourceReconciliation)
		return classify(tr), err
	}

	var res *payment.VerifyResult
	attempts, err := s.cfg.Retry.Do(ctx, func(ctx context.Context, attempt int) error {
		r, err := s.ledger.Poll(ctx, p, domain.SourceReconciliation, attempt)
		if err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		return outcomeUnchanged, &domain.ReconciliationError{PaymentID: p.ID, Attempts: attempts, Err: err}
	}

	if domain.IsOpen(res.Status) && p.Transaction.ExpiresAt != nil && s.now().After(*p.Transaction.ExpiresAt) {
		tr, err := s.ledger.ApplyStatus(ctx, ledger.StatusUpdate{
			PaymentID: p.ID,
			Status:    payment.StatusExpired,
			Source:    domain.SourceReconciliation,
			Reason:    "payment window expired",
			Code:      "expired",
			Payload:   res.RawResponse,
			Data:      res.Data,
		})
		return classify(tr), err
	}
	tr, err := s.ledger.ApplyVerified(ctx, p, res, domain.SourceReconciliation)
	return classify(tr), err
}

func classify(tr *ledger.TransitionResult) outcome {
	if tr == nil || !tr.Applied {
		return outcomeUnchanged
	}
	switch {
	case tr.To == payment.StatusCompleted:
		return outcomeCompleted
	case tr.To == payment.StatusExpired:
		return outcomeExpired
	case domain.FamilyOf(tr.To) == domain.FamilyFailure:
		return outcomeFailed
	}
	return outcomeUnchanged
}
