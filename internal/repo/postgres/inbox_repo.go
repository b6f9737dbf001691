package postgres

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventhub-registrations/internal/domain/inbox"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

type InboxRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewInboxRepo(pool *pgxpool.Pool, prom *observability.Prom) *InboxRepo {
	return &InboxRepo{pool: pool, prom: prom}
}

// Record stores item unless its job already recorded one.
func (r *InboxRepo) Record(ctx context.Context, item inbox.Item) error {
	return r.prom.ObserveDB("inbox.record", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO user_notifications (id, user_id, event_id, job_id, kind, message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (job_id) DO NOTHING
		`, item.ID, item.UserID, item.EventID, item.JobID, item.Kind, item.Message, item.CreatedAt)
		return err
	})
}

// ListForUser returns the newest items first.
func (r *InboxRepo) ListForUser(ctx context.Context, userID string, limit int) ([]inbox.Item, error) {
	var rows pgx.Rows

	err := r.prom.ObserveDB("inbox.list", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, `
		SELECT id, user_id, event_id, job_id, kind, message, created_at, read_at
		FROM user_notifications
		WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2
		`, userID, inbox.ClampLimit(limit))
		return qerr
	})
	if err != nil {
		return nil, err
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (inbox.Item, error) {
		var it inbox.Item
		err := row.Scan(&it.ID, &it.UserID, &it.EventID, &it.JobID, &it.Kind, &it.Message, &it.CreatedAt, &it.ReadAt)
		return it, err
	})
}

// MarkRead stamps the item read. Marking an already read item is a no-op;
// an item of another user reads as not found.
func (r *InboxRepo) MarkRead(ctx context.Context, userID, id string, now time.Time) error {
	var rows int64

	err := r.prom.ObserveDB("inbox.mark_read", func() error {
		tag, err := r.pool.Exec(ctx, `
		UPDATE user_notifications
		SET read_at = COALESCE(read_at, $3)
		WHERE id = $1 AND user_id = $2
		`, id, userID, now)
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
		return inbox.ErrNotFound
	}
	return nil
}
