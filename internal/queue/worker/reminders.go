package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

type ReminderStore interface {
	ListRemindable(ctx context.Context, from, to time.Time) ([]registration.Attendee, error)
	Enqueue(ctx context.Context, req job.EnqueueRequest) (job.Job, bool, error)
}

type ReminderConfig struct {
	// Lead is how long before an event starts its reminder goes out.
	Lead         time.Duration
	ScanInterval time.Duration
	MaxAttempts  int
}

// ReminderScheduler enqueues one reminder per confirmed registration of
// events starting within the lead time. The reminder dedup window keeps
// repeated scans from producing duplicates.
type ReminderScheduler struct {
	store ReminderStore
	cfg   ReminderConfig

	log    *slog.Logger
	prom   *observability.Prom
	now    func() time.Time
	onWake func(ctx context.Context)
}

type ReminderOption func(*ReminderScheduler)

func WithReminderLogger(log *slog.Logger) ReminderOption {
	return func(s *ReminderScheduler) { s.log = log }
}

func WithReminderProm(p *observability.Prom) ReminderOption {
	return func(s *ReminderScheduler) { s.prom = p }
}

func WithReminderClock(now func() time.Time) ReminderOption {
	return func(s *ReminderScheduler) { s.now = now }
}

// WithReminderWake is called after a scan that created jobs.
func WithReminderWake(fn func(ctx context.Context)) ReminderOption {
	return func(s *ReminderScheduler) { s.onWake = fn }
}

func NewReminderScheduler(store ReminderStore, cfg ReminderConfig, opts ...ReminderOption) *ReminderScheduler {
	if cfg.Lead <= 0 {
		cfg.Lead = 24 * time.Hour
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 5 * time.Minute
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = job.DefaultMaxAttempts
	}

	s := &ReminderScheduler{
		store: store,
		cfg:   cfg,
		log:   slog.Default(),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunOnce scans for attendees due a reminder and reports how many new jobs
// it created.
func (s *ReminderScheduler) RunOnce(ctx context.Context) (int, error) {
	now := s.now()

	attendees, err := s.store.ListRemindable(ctx, now, now.Add(s.cfg.Lead))
	if err != nil {
		return 0, err
	}

	created := 0
	for _, a := range attendees {
		if a.Email == "" {
			continue
		}

		_, isNew, err := s.store.Enqueue(ctx, job.EnqueueRequest{
			Kind:    job.KindReminder,
			Trigger: "registration:" + a.RegistrationID,
			Payload: job.Payload{
				EventID:   a.EventID,
				Recipient: a.Email,
				UserID:    a.UserID,
				Template:  "event_reminder",
				Data: map[string]string{
					"eventTitle":     a.EventTitle,
					"eventStartsAt":  a.StartsAt.UTC().Format(time.RFC1123),
					"registrationId": a.RegistrationID,
				},
			},
			ScheduledFor: a.StartsAt.Add(-s.cfg.Lead),
			MaxAttempts:  s.cfg.MaxAttempts,
		})
		if err != nil {
			return created, err
		}

		s.prom.CountEnqueue(string(job.KindReminder), isNew)
		if isNew {
			created++
		}
	}

	if created > 0 {
		s.log.InfoContext(ctx, "reminders scheduled", "count", created)
		if s.onWake != nil {
			s.onWake(ctx)
		}
	}
	return created, nil
}

func (s *ReminderScheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	for {
		if _, err := s.RunOnce(ctx); err != nil && ctx.Err() == nil {
			s.log.ErrorContext(ctx, "reminder scan failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
