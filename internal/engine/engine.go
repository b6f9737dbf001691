// Package engine orchestrates registrations, the capacity ledger, invitation
// tokens and the notifications they trigger. Every mutation of an event runs
// inside Store.WithinEvent, so an operation and the jobs it enqueues commit
// together or not at all.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/geocoder89/eventhub-registrations/internal/capacity"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

// ErrConflict is returned once the retry budget for optimistic conflicts is spent.
var ErrConflict = errors.New("concurrent update, retry later")

// Actor is the verified identity performing an operation.
type Actor struct {
	UserID string
	Email  string
	Role   string
}

type Config struct {
	MaxConflictRetries int
	DefaultInviteTTL   time.Duration
	InviteBaseURL      string
	// MaxAttempts is stamped on every notification job this engine enqueues.
	MaxAttempts int
}

type Engine struct {
	store  Store
	tokens TokenIssuer
	cfg    Config

	log    *slog.Logger
	prom   *observability.Prom
	waker  Waker
	now    func() time.Time
	tracer trace.Tracer
}

type Option func(*Engine)

func WithLogger(log *slog.Logger) Option {
	return func(e *Engine) { e.log = log }
}

func WithProm(p *observability.Prom) Option {
	return func(e *Engine) { e.prom = p }
}

func WithWaker(w Waker) Option {
	return func(e *Engine) { e.waker = w }
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func New(store Store, tokens TokenIssuer, cfg Config, opts ...Option) *Engine {
	if cfg.MaxConflictRetries <= 0 {
		cfg.MaxConflictRetries = 5
	}
	if cfg.DefaultInviteTTL <= 0 {
		cfg.DefaultInviteTTL = 7 * 24 * time.Hour
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = job.DefaultMaxAttempts
	}

	e := &Engine{
		store:  store,
		tokens: tokens,
		cfg:    cfg,
		log:    slog.Default(),
		now:    func() time.Time { return time.Now().UTC() },
		tracer: otel.Tracer("github.com/geocoder89/eventhub-registrations/internal/engine"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

type enqueued struct {
	kind    job.Kind
	created bool
}

// recordingTx notes every enqueue so metrics and the waker fire only after commit.
type recordingTx struct {
	Tx
	enqueued []enqueued
}

func (r *recordingTx) Enqueue(ctx context.Context, req job.EnqueueRequest) (job.Job, bool, error) {
	j, created, err := r.Tx.Enqueue(ctx, req)
	if err == nil {
		r.enqueued = append(r.enqueued, enqueued{kind: req.Kind, created: created})
	}
	return j, created, err
}

// run executes fn in the event's critical section, retrying optimistic
// conflicts with a short jittered pause.
func (e *Engine) run(ctx context.Context, eventID string, fn func(tx Tx) error) error {
	for attempt := 0; ; attempt++ {
		rec := &recordingTx{}
		err := e.store.WithinEvent(ctx, eventID, func(tx Tx) error {
			rec.Tx = tx
			rec.enqueued = rec.enqueued[:0]
			return fn(rec)
		})

		if err == nil {
			e.afterCommit(ctx, rec.enqueued)
			return nil
		}

		if !isConflict(err) {
			return err
		}

		if attempt >= e.cfg.MaxConflictRetries {
			e.log.WarnContext(ctx, "conflict retries exhausted", "event_id", eventID, "attempts", attempt+1)
			return fmt.Errorf("%w: %w", ErrConflict, err)
		}

		e.prom.CountConflictRetry()

		pause := time.Duration(attempt+1)*5*time.Millisecond + rand.N(5*time.Millisecond)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(pause):
		}
	}
}

func (e *Engine) afterCommit(ctx context.Context, jobs []enqueued) {
	wake := false
	for _, j := range jobs {
		e.prom.CountEnqueue(string(j.kind), j.created)
		wake = wake || j.created
	}
	if wake && e.waker != nil {
		e.waker.Wake(ctx)
	}
}

func isConflict(err error) bool {
	return errors.Is(err, capacity.ErrConflict) || errors.Is(err, registration.ErrConflict)
}

func (e *Engine) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return e.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, Code(err))
	}
	span.End()
}
