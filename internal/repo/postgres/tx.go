package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"github.com/geocoder89/eventhub-registrations/internal/capacity"
	"github.com/geocoder89/eventhub-registrations/internal/domain/event"
	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/domain/registration"
)

// pgTx is the engine's view of one transaction.
type pgTx struct {
	tx    pgx.Tx
	store *Store
}

func (t *pgTx) GetEvent(ctx context.Context, eventID string) (event.Event, error) {
	return t.store.Events.get(ctx, t.tx, eventID)
}

func (t *pgTx) LoadCounter(ctx context.Context, eventID string) (capacity.Counter, error) {
	c := capacity.Counter{EventID: eventID}
	var reserved int64

	err := t.store.prom.ObserveDB("event_seats.load", func() error {
		return t.tx.QueryRow(ctx,
			`SELECT reserved, version FROM event_seats WHERE event_id = $1`, eventID,
		).Scan(&reserved, &c.Version)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return c, nil
	}
	if err != nil {
		return capacity.Counter{}, err
	}

	c.Reserved = uint32(reserved)
	return c, nil
}

func (t *pgTx) CompareAndSwapCounter(ctx context.Context, c capacity.Counter, reserved uint32) error {
	var rows int64

	err := t.store.prom.ObserveDB("event_seats.cas", func() error {
		var sql string
		args := []any{c.EventID, int64(reserved)}

		if c.Version == 0 {
			sql = `INSERT INTO event_seats (event_id, reserved, version)
			VALUES ($1, $2, 1)
			ON CONFLICT (event_id) DO NOTHING`
		} else {
			sql = `UPDATE event_seats
			SET reserved = $2, version = version + 1
			WHERE event_id = $1 AND version = $3`
			args = append(args, c.Version)
		}

		tag, err := t.tx.Exec(ctx, sql, args...)
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
		return capacity.ErrConflict
	}
	return nil
}

func (t *pgTx) GetRegistration(ctx context.Context, eventID, userID string) (registration.Registration, error) {
	return t.store.Registration.get(ctx, t.tx, eventID, userID)
}

func (t *pgTx) InsertRegistration(ctx context.Context, r registration.Registration) error {
	return t.store.Registration.insert(ctx, t.tx, r)
}

func (t *pgTx) UpdateRegistration(ctx context.Context, r registration.Registration, from registration.Status) error {
	return t.store.Registration.update(ctx, t.tx, r, from)
}

func (t *pgTx) NextWaitlisted(ctx context.Context, eventID string) (registration.Registration, error) {
	return t.store.Registration.nextWaitlisted(ctx, t.tx, eventID)
}

func (t *pgTx) InsertInvitation(ctx context.Context, tok invitation.Token) error {
	return t.store.Invitations.insert(ctx, t.tx, tok)
}

func (t *pgTx) LockInvitation(ctx context.Context, tokenHash string) (invitation.Token, error) {
	return t.store.Invitations.byHash(ctx, t.tx, tokenHash, true)
}

func (t *pgTx) UpdateInvitation(ctx context.Context, tok invitation.Token) error {
	return t.store.Invitations.update(ctx, t.tx, tok)
}

func (t *pgTx) Enqueue(ctx context.Context, req job.EnqueueRequest) (job.Job, bool, error) {
	return t.store.Jobs.enqueueTx(ctx, t.tx, req)
}
