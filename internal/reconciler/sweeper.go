// internal/reconciler/sweeper.go
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Kena440/wathaci-connect-hub-sub003/internal/payment"
)

/*
The sweeper fixes payments nobody is watching any more: the process that
started them crashed, the user closed the tab, or a webhook never arrived.
Every tick it loads open payments that have not been touched for a while and
asks the gateway what really happened. It also reruns settlement hooks that
failed after a payment reached its terminal status.
*/

type StaleLister interface {
	ListStale(ctx context.Context, olderThan time.Time, limit int) ([]*payment.PendingPayment, error)
	ListUnfinished(ctx context.Context, olderThan time.Time, limit int) ([]*payment.PendingPayment, error)
}

type SweeperConfig struct {
	Interval    time.Duration // time between sweeps
	StaleAfter  time.Duration // untouched this long counts as abandoned by its poller
	ExpireAfter time.Duration // confirmation window measured from creation
	DraftTTL    time.Duration // drafts that never reached the gateway
	BatchSize   int
	Workers     int
}

func DefaultSweeperConfig(rc Config) SweeperConfig {
	return SweeperConfig{
		Interval:    time.Minute,
		StaleAfter:  2 * time.Minute,
		ExpireAfter: rc.Window() + time.Minute,
		DraftTTL:    24 * time.Hour,
		BatchSize:   50,
		Workers:     5,
	}
}

// SweepSummary counts what one sweep did.
type SweepSummary struct {
	Checked   int64
	Settled   int64
	Failed    int64
	Expired   int64
	Unchanged int64
	Errors    int64
	// Redelivered counts terminal payments whose remaining hooks all
	// succeeded on this sweep.
	Redelivered int64
}

type Sweeper struct {
	rec    *Reconciler
	lister StaleLister
	cfg    SweeperConfig
	now    func() time.Time
	logger *slog.Logger
}

func NewSweeper(rec *Reconciler, lister StaleLister, cfg SweeperConfig, logger *slog.Logger) *Sweeper {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	return &Sweeper{
		rec:    rec,
		lister: lister,
		cfg:    cfg,
		now:    time.Now,
		logger: logger.With(slog.String("component", "sweeper")),
	}
}

// Start runs sweeps until ctx is cancelled. Blocking call.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	s.logger.Info("sweeper started", slog.Duration("interval", s.cfg.Interval))
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("sweeper stopping")
			return
		case <-ticker.C:
			if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("sweep failed", slog.Any("error", err))
			}
		}
	}
}

// RunOnce processes one batch of open payments and one batch of terminal
// payments with unfinished hooks through the worker pool.
func (s *Sweeper) RunOnce(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary
	olderThan := s.now().Add(-s.cfg.StaleAfter)
	stale, err := s.lister.ListStale(ctx, olderThan, s.cfg.BatchSize)
	if err != nil {
		return summary, err
	}
	unfinished, err := s.lister.ListUnfinished(ctx, olderThan, s.cfg.BatchSize)
	if err != nil {
		return summary, err
	}
	if len(stale)+len(unfinished) == 0 {
		return summary, nil
	}
	s.logger.Info("processing stale payments",
		slog.Int("open", len(stale)), slog.Int("unfinished_hooks", len(unfinished)))

	jobs := make(chan *payment.PendingPayment, len(stale)+len(unfinished))
	var wg sync.WaitGroup
	for w := 0; w < s.cfg.Workers; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for p := range jobs {
				if p.Status.IsTerminal() {
					s.redeliver(ctx, p, &summary, worker)
					continue
				}
				s.sync(ctx, p, &summary, worker)
			}
		}(w)
	}
	for _, p := range stale {
		jobs <- p
	}
	for _, p := range unfinished {
		jobs <- p
	}
	close(jobs)
	wg.Wait()

	s.logger.Info("sweep completed",
		slog.Int64("checked", summary.Checked),
		slog.Int64("settled", summary.Settled),
		slog.Int64("failed", summary.Failed),
		slog.Int64("expired", summary.Expired),
		slog.Int64("redelivered", summary.Redelivered),
		slog.Int64("errors", summary.Errors))
	return summary, nil
}

func (s *Sweeper) redeliver(ctx context.Context, p *payment.PendingPayment, summary *SweepSummary, worker int) {
	if err := s.rec.Redeliver(ctx, p); err != nil {
		atomic.AddInt64(&summary.Errors, 1)
		s.logger.Warn("settlement hooks still failing",
			slog.String("payment_id", p.ID.String()), slog.Int("worker", worker), slog.Any("error", err))
		return
	}
	atomic.AddInt64(&summary.Redelivered, 1)
}

func (s *Sweeper) sync(ctx context.Context, p *payment.PendingPayment, summary *SweepSummary, worker int) {
	atomic.AddInt64(&summary.Checked, 1)
	log := s.logger.With(slog.String("payment_id", p.ID.String()), slog.Int("worker", worker))

	// Case A: never reached the gateway. Nothing to ask; give it up after the TTL.
	if p.GatewayReference == "" {
		if s.now().Sub(p.CreatedAt) < s.cfg.DraftTTL {
			atomic.AddInt64(&summary.Unchanged, 1)
			return
		}
		if _, err := s.rec.Abandon(ctx, p.ID, "abandoned before reaching the gateway"); err != nil {
			atomic.AddInt64(&summary.Errors, 1)
			log.Warn("failed to abandon draft", slog.Any("error", err))
			return
		}
		atomic.AddInt64(&summary.Failed, 1)
		return
	}

	// Case B: ask the gateway
	out, done, err := s.rec.Check(ctx, p)
	if err != nil {
		atomic.AddInt64(&summary.Errors, 1)
		log.Warn("status check failed", slog.Any("error", err))
		return
	}
	if done {
		s.count(out.Status, summary)
		return
	}

	// Case C: still pending past the window
	if s.now().Sub(p.CreatedAt) > s.cfg.ExpireAfter {
		out, err := s.rec.ExpireExhausted(ctx, p.ID)
		if err != nil {
			atomic.AddInt64(&summary.Errors, 1)
			log.Warn("failed to expire payment", slog.Any("error", err))
			return
		}
		s.count(out.Status, summary)
		return
	}
	atomic.AddInt64(&summary.Unchanged, 1)
}

func (s *Sweeper) count(status payment.Status, summary *SweepSummary) {
	switch {
	case status.IsSettled():
		atomic.AddInt64(&summary.Settled, 1)
	case status == payment.StatusFailed:
		atomic.AddInt64(&summary.Failed, 1)
	case status == payment.StatusExpired:
		atomic.AddInt64(&summary.Expired, 1)
	default:
		atomic.AddInt64(&summary.Unchanged, 1)
	}
}
