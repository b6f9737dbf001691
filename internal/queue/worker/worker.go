// Package worker delivers notification jobs: it claims due jobs under a
// lease, renders and sends them, retries failures with backoff and reclaims
// jobs whose lease expired.
package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/geocoder89/eventhub-registrations/internal/domain/inbox"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/notifications"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

type Queue interface {
	ClaimNext(ctx context.Context, workerID string) (job.Job, error)
	MarkDelivered(ctx context.Context, id, workerID string) error
	Reschedule(ctx context.Context, id, workerID string, runAt time.Time, errMsg string) error
	MarkFailed(ctx context.Context, id, workerID, errMsg string) error
	RequeueStale(ctx context.Context, lease time.Duration) (requeued, failed int64, err error)
}

// Deliveries guards the provider call so a reclaimed job never sends twice.
type Deliveries interface {
	TryStart(ctx context.Context, jobID, recipient string) error
	MarkSent(ctx context.Context, jobID, providerMessageID string) error
	MarkSendFailed(ctx context.Context, jobID, errMsg string) error
}

// Inbox stores the in-app copy of a message. Record must be idempotent per
// job id.
type Inbox interface {
	Record(ctx context.Context, item inbox.Item) error
}

type Renderer interface {
	Render(name, to string, data map[string]string) (notifications.Message, error)
}

type Config struct {
	WorkerID     string
	Concurrency  int
	PollInterval time.Duration
	LeaseTimeout time.Duration
	ReapInterval time.Duration
	Backoff      Backoff
}

type Worker struct {
	cfg        Config
	queue      Queue
	deliveries Deliveries
	notifier   notifications.Notifier
	renderer   Renderer
	inbox      Inbox

	log   *slog.Logger
	prom  *observability.Prom
	stats *observability.WorkerStats
	now   func() time.Time
	wake  <-chan struct{}

	ready atomic.Bool
}

type Option func(*Worker)

func WithLogger(log *slog.Logger) Option {
	return func(w *Worker) { w.log = log }
}

func WithProm(p *observability.Prom) Option {
	return func(w *Worker) { w.prom = p }
}

func WithStats(s *observability.WorkerStats) Option {
	return func(w *Worker) { w.stats = s }
}

func WithClock(now func() time.Time) Option {
	return func(w *Worker) { w.now = now }
}

// WithInbox records an in-app notification for every delivered job whose
// payload names a user.
func WithInbox(in Inbox) Option {
	return func(w *Worker) { w.inbox = in }
}

// WithWake makes idle loops poll immediately when the channel fires.
func WithWake(ch <-chan struct{}) Option {
	return func(w *Worker) { w.wake = ch }
}

func New(cfg Config, queue Queue, deliveries Deliveries, notifier notifications.Notifier, renderer Renderer, opts ...Option) *Worker {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	if cfg.LeaseTimeout <= 0 {
		cfg.LeaseTimeout = 2 * time.Minute
	}
	if cfg.ReapInterval <= 0 {
		cfg.ReapInterval = 30 * time.Second
	}
	if cfg.Backoff.Base <= 0 {
		cfg.Backoff = DefaultBackoff()
	}

	w := &Worker{
		cfg:        cfg,
		queue:      queue,
		deliveries: deliveries,
		notifier:   notifier,
		renderer:   renderer,
		log:        slog.Default(),
		stats:      observability.NewWorkerStats(),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

func (w *Worker) Stats() *observability.WorkerStats {
	return w.stats
}

// Run processes jobs on cfg.Concurrency loops plus the lease reaper until
// ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	for i := 0; i < w.cfg.Concurrency; i++ {
		g.Go(func() error {
			w.loop(ctx)
			return nil
		})
	}
	g.Go(func() error {
		w.reapLoop(ctx)
		return nil
	})

	w.ready.Store(true)
	w.log.Info("worker started",
		"worker_id", w.cfg.WorkerID,
		"concurrency", w.cfg.Concurrency,
		"lease_timeout", w.cfg.LeaseTimeout,
	)

	err := g.Wait()
	w.ready.Store(false)
	w.log.Info("worker stopped", "worker_id", w.cfg.WorkerID)
	return err
}

func (w *Worker) loop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	for {
		// drain everything due before sleeping
		for ctx.Err() == nil {
			processed, err := w.ProcessOne(ctx)
			if err != nil {
				w.log.ErrorContext(ctx, "process job failed", "worker_id", w.cfg.WorkerID, "err", err)
				break
			}
			if !processed {
				break
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-w.wake:
		}
	}
}

func (w *Worker) reapLoop(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		if _, _, err := w.Reap(ctx); err != nil && ctx.Err() == nil {
			w.log.ErrorContext(ctx, "reap stale jobs failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Reap returns jobs whose lease expired to the queue, or fails them once
// they have used all attempts.
func (w *Worker) Reap(ctx context.Context) (requeued, failed int64, err error) {
	requeued, failed, err = w.queue.RequeueStale(ctx, w.cfg.LeaseTimeout)
	if err != nil {
		return 0, 0, err
	}

	if requeued+failed > 0 {
		w.stats.AddReclaimed(requeued + failed)
		w.prom.CountReclaimed(requeued, failed)
		w.log.WarnContext(ctx, "reclaimed expired leases", "requeued", requeued, "failed_permanent", failed)
	}
	return requeued, failed, nil
}
