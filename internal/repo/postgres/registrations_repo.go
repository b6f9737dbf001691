package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

type RegistrationsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewRegistrationsRepo(pool *pgxpool.Pool, prom *observability.Prom) *RegistrationsRepo {
	return &RegistrationsRepo{pool: pool, prom: prom}
}

const registrationColumns = `id, event_id, user_id, email, status, attempt, seq,
	created_at, confirmed_at, cancelled_at, updated_at`

func scanRegistration(row pgx.Row) (registration.Registration, error) {
	var (
		r  registration.Registration
		st string
	)

	err := row.Scan(&r.ID, &r.EventID, &r.UserID, &r.Email, &st, &r.Attempt, &r.Seq,
		&r.CreatedAt, &r.ConfirmedAt, &r.CancelledAt, &r.UpdatedAt)
	if err != nil {
		return registration.Registration{}, err
	}

	r.Status = registration.Status(st)
	return r, nil
}

func (repo *RegistrationsRepo) get(ctx context.Context, q querier, eventID, userID string) (registration.Registration, error) {
	var r registration.Registration

	err := repo.prom.ObserveDB("registrations.get", func() error {
		var err error
		r, err = scanRegistration(q.QueryRow(ctx,
			`SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 AND user_id = $2`,
			eventID, userID))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return registration.Registration{}, registration.ErrNotFound
	}
	return r, err
}

func (repo *RegistrationsRepo) insert(ctx context.Context, q querier, r registration.Registration) error {
	err := repo.prom.ObserveDB("registrations.insert", func() error {
		_, err := q.Exec(ctx, `
		INSERT INTO registrations (id, event_id, user_id, email, status, attempt,
			created_at, confirmed_at, cancelled_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, r.ID, r.EventID, r.UserID, r.Email, string(r.Status), r.Attempt,
			r.CreatedAt, r.ConfirmedAt, r.CancelledAt, r.UpdatedAt)
		return err
	})

	if IsUniqueViolation(err) {
		return registration.ErrConflict
	}
	return err
}

// update writes r if the stored row is still in status from. Reviving a
// cancelled registration draws a new seq so it queues behind everyone else.
func (repo *RegistrationsRepo) update(ctx context.Context, q querier, r registration.Registration, from registration.Status) error {
	var rows int64

	err := repo.prom.ObserveDB("registrations.update", func() error {
		tag, err := q.Exec(ctx, `
		UPDATE registrations
		SET email = $3,
		    status = $4,
		    attempt = $5,
		    seq = CASE WHEN $6::text = 'cancelled' THEN nextval('registrations_seq') ELSE seq END,
		    created_at = $7,
		    confirmed_at = $8,
		    cancelled_at = $9,
		    updated_at = $10
		WHERE id = $1 AND event_id = $2 AND status = $6
		`, r.ID, r.EventID, r.Email, string(r.Status), r.Attempt, string(from),
			r.CreatedAt, r.ConfirmedAt, r.CancelledAt, r.UpdatedAt)
		if err != nil {
			return err
		}
		rows = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return err
	}
	if rows == 0 {
		return registration.ErrConflict
	}
	return nil
}

// nextWaitlisted locks the oldest waitlisted registration.
func (repo *RegistrationsRepo) nextWaitlisted(ctx context.Context, q querier, eventID string) (registration.Registration, error) {
	var r registration.Registration

	err := repo.prom.ObserveDB("registrations.next_waitlisted", func() error {
		var err error
		r, err = scanRegistration(q.QueryRow(ctx, `
		SELECT `+registrationColumns+`
		FROM registrations
		WHERE event_id = $1 AND status = 'waitlisted'
		ORDER BY created_at ASC, seq ASC
		LIMIT 1
		FOR UPDATE
		`, eventID))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return registration.Registration{}, registration.ErrNotFound
	}
	return r, err
}

// ListByEvent returns an event's registrations in queue order.
func (repo *RegistrationsRepo) ListByEvent(ctx context.Context, eventID string) ([]registration.Registration, error) {
	var rows pgx.Rows

	err := repo.prom.ObserveDB("registrations.list_by_event", func() error {
		var qerr error
		rows, qerr = repo.pool.Query(ctx,
			`SELECT `+registrationColumns+` FROM registrations WHERE event_id = $1 ORDER BY created_at ASC, seq ASC`,
			eventID)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (registration.Registration, error) {
		return scanRegistration(row)
	})
}
