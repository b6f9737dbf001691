package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/engine"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError

	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return true
	}
	return false
}

// Store implements engine.Store on Postgres. Seat counters use
// compare-and-swap on a version column, so concurrent writers of one event
// conflict instead of blocking each other for the whole transaction.
type Store struct {
	pool *pgxpool.Pool
	prom *observability.Prom

	Events       *EventsRepo
	Registration *RegistrationsRepo
	Invitations  *InvitationsRepo
	Jobs         *JobsRepo
	Inbox        *InboxRepo
}

func NewStore(pool *pgxpool.Pool, prom *observability.Prom, policy job.DedupPolicy) *Store {
	return &Store{
		pool:         pool,
		prom:         prom,
		Events:       NewEventsRepo(pool, prom),
		Registration: NewRegistrationsRepo(pool, prom),
		Invitations:  NewInvitationsRepo(pool, prom),
		Jobs:         NewJobsRepo(pool, prom, policy),
		Inbox:        NewInboxRepo(pool, prom),
	}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) WithinEvent(ctx context.Context, eventID string, fn func(tx engine.Tx) error) (err error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	if err = fn(&pgTx{tx: tx, store: s}); err != nil {
		return err
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit event %s: %w", eventID, err)
	}
	return nil
}

func (s *Store) GetEvent(ctx context.Context, eventID string) (event.Event, error) {
	return s.Events.get(ctx, s.pool, eventID)
}

func (s *Store) GetRegistration(ctx context.Context, eventID, userID string) (registration.Registration, error) {
	return s.Registration.get(ctx, s.pool, eventID, userID)
}

func (s *Store) ListRegistrations(ctx context.Context, eventID string) ([]registration.Registration, error) {
	return s.Registration.ListByEvent(ctx, eventID)
}

func (s *Store) InvitationByHash(ctx context.Context, tokenHash string) (invitation.Token, error) {
	return s.Invitations.byHash(ctx, s.pool, tokenHash, false)
}

func (s *Store) ListInvitations(ctx context.Context, eventID string) ([]invitation.Token, error) {
	return s.Invitations.listByEvent(ctx, s.pool, eventID)
}

// ListRemindable and Enqueue let the reminder scheduler run on the store.
func (s *Store) ListRemindable(ctx context.Context, from, to time.Time) ([]registration.Attendee, error) {
	return s.Events.ListRemindable(ctx, from, to)
}

func (s *Store) Enqueue(ctx context.Context, req job.EnqueueRequest) (job.Job, bool, error) {
	return s.Jobs.Enqueue(ctx, req)
}
