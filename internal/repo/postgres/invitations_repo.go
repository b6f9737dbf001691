package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventhub-registrations/internal/domain/invitation"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

type InvitationsRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewInvitationsRepo(pool *pgxpool.Pool, prom *observability.Prom) *InvitationsRepo {
	return &InvitationsRepo{pool: pool, prom: prom}
}

const invitationColumns = `id, token_hash, event_id, invited_email, invited_by, status,
	issued_at, expires_at, redeemed_at, redeemed_by, revoked_at`

func scanInvitation(row pgx.Row) (invitation.Token, error) {
	var (
		t  invitation.Token
		st string
	)

	err := row.Scan(&t.ID, &t.TokenHash, &t.EventID, &t.InvitedEmail, &t.InvitedBy, &st,
		&t.IssuedAt, &t.ExpiresAt, &t.RedeemedAt, &t.RedeemedBy, &t.RevokedAt)
	if err != nil {
		return invitation.Token{}, err
	}

	t.Status = invitation.Status(st)
	return t, nil
}

func (r *InvitationsRepo) insert(ctx context.Context, q querier, t invitation.Token) error {
	return r.prom.ObserveDB("invitations.insert", func() error {
		_, err := q.Exec(ctx, `
		INSERT INTO invitation_tokens (`+invitationColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, t.ID, t.TokenHash, t.EventID, t.InvitedEmail, t.InvitedBy, string(t.Status),
			t.IssuedAt, t.ExpiresAt, t.RedeemedAt, t.RedeemedBy, t.RevokedAt)
		return err
	})
}

// byHash loads a token; forUpdate row-locks it until the transaction ends so
// concurrent redemptions of one token run one after another.
func (r *InvitationsRepo) byHash(ctx context.Context, q querier, hash string, forUpdate bool) (invitation.Token, error) {
	sql := `SELECT ` + invitationColumns + ` FROM invitation_tokens WHERE token_hash = $1`
	op := "invitations.by_hash"
	if forUpdate {
		sql += ` FOR UPDATE`
		op = "invitations.lock"
	}

	var t invitation.Token
	err := r.prom.ObserveDB(op, func() error {
		var err error
		t, err = scanInvitation(q.QueryRow(ctx, sql, hash))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return invitation.Token{}, invitation.ErrNotFound
	}
	return t, err
}

func (r *InvitationsRepo) update(ctx context.Context, q querier, t invitation.Token) error {
	var rows int64

	err := r.prom.ObserveDB("invitations.update", func() error {
		tag, err := q.Exec(ctx, `
		UPDATE invitation_tokens
		SET status = $2,
		    redeemed_at = $3,
		    redeemed_by = $4,
		    revoked_at = $5
		WHERE id = $1
		`, t.ID, string(t.Status), t.RedeemedAt, t.RedeemedBy, t.RevokedAt)
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
		return invitation.ErrNotFound
	}
	return nil
}

func (r *InvitationsRepo) listByEvent(ctx context.Context, q querier, eventID string) ([]invitation.Token, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("invitations.list_by_event", func() error {
		var qerr error
		rows, qerr = q.Query(ctx,
			`SELECT `+invitationColumns+` FROM invitation_tokens WHERE event_id = $1 ORDER BY issued_at DESC, id DESC`,
			eventID)
		return qerr
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (invitation.Token, error) {
		return scanInvitation(row)
	})
}
