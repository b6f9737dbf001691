package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

// EventsRepo reads the event catalogue. Upsert exists for seeding and tests;
// the catalogue itself is owned elsewhere.
type EventsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewEventsRepo(pool *pgxpool.Pool, prom *observability.Prom) *EventsRepo {
	return &EventsRepo{pool: pool, prom: prom}
}

const eventColumns = `id, organizer_id, title, capacity, visibility, status,
	waitlist_enabled, requires_approval, starts_at, created_at, updated_at`

func scanEvent(row pgx.Row) (event.Event, error) {
	var (
		e        event.Event
		capacity *int64
		vis, st  string
	)

	err := row.Scan(&e.ID, &e.OrganizerID, &e.Title, &capacity, &vis, &st,
		&e.WaitlistEnabled, &e.RequiresApproval, &e.StartsAt, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return event.Event{}, err
	}

	if capacity != nil {
		c := uint32(*capacity)
		e.Capacity = &c
	}
	e.Visibility = event.Visibility(vis)
	e.Status = event.Status(st)
	return e, nil
}

func (r *EventsRepo) get(ctx context.Context, q querier, id string) (event.Event, error) {
	var e event.Event
	err := r.prom.ObserveDB("events.get", func() error {
		var err error
		e, err = scanEvent(q.QueryRow(ctx, `SELECT `+eventColumns+` FROM events WHERE id = $1`, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return event.Event{}, event.ErrNotFound
	}
	return e, err
}

func (r *EventsRepo) Get(ctx context.Context, id string) (event.Event, error) {
	return r.get(ctx, r.pool, id)
}

func (r *EventsRepo) Upsert(ctx context.Context, e event.Event) error {
	var capacity *int64
	if e.Capacity != nil {
		c := int64(*e.Capacity)
		capacity = &c
	}

	now := time.Now().UTC()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}

	return r.prom.ObserveDB("events.upsert", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE
		SET organizer_id = EXCLUDED.organizer_id,
		    title = EXCLUDED.title,
		    capacity = EXCLUDED.capacity,
		    visibility = EXCLUDED.visibility,
		    status = EXCLUDED.status,
		    waitlist_enabled = EXCLUDED.waitlist_enabled,
		    requires_approval = EXCLUDED.requires_approval,
		    starts_at = EXCLUDED.starts_at,
		    updated_at = EXCLUDED.updated_at
		`, e.ID, e.OrganizerID, e.Title, capacity, string(e.Visibility), string(e.Status),
			e.WaitlistEnabled, e.RequiresApproval, e.StartsAt, e.CreatedAt, now)
		return err
	})
}

// ListRemindable returns confirmed registrations of open events starting in (from, to].
func (r *EventsRepo) ListRemindable(ctx context.Context, from, to time.Time) ([]registration.Attendee, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("events.list_remindable", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, `
		SELECT r.id, r.user_id, e.id, e.title, e.starts_at, r.email
		FROM registrations r
		JOIN events e ON e.id = r.event_id
		WHERE r.status = 'confirmed'
		  AND e.status IN ('upcoming', 'active')
		  AND e.starts_at > $1
		  AND e.starts_at <= $2
		ORDER BY r.id
		`, from, to)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (registration.Attendee, error) {
		var a registration.Attendee
		err := row.Scan(&a.RegistrationID, &a.UserID, &a.EventID, &a.EventTitle, &a.StartsAt, &a.Email)
		return a, err
	})
}
