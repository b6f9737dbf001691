package postgres

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventhub-registrations/internal/domain/delivery"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
)

// DeliveriesRepo records what reached the provider, keyed by job id, so a
// job reclaimed after a crash is not sent twice.
type DeliveriesRepo struct {
	pool *pgxpool.Pool
	prom *observability.Prom
}

func NewDeliveriesRepo(pool *pgxpool.Pool, prom *observability.Prom) *DeliveriesRepo {
	return &DeliveriesRepo{pool: pool, prom: prom}
}

// TryStart marks the job's delivery as sending. It returns
// delivery.ErrAlreadySent if an earlier attempt was accepted by the provider.
func (r *DeliveriesRepo) TryStart(ctx context.Context, jobID, recipient string) error {
	// 1) Insert if missing
	err := r.prom.ObserveDB("deliveries.try_start.insert", func() error {
		_, err := r.pool.Exec(ctx, `
		INSERT INTO notification_deliveries (job_id, recipient, status, created_at, updated_at)
		VALUES ($1, $2, 'sending', NOW(), NOW())
		`, jobID, recipient)
		return err
	})
	if err == nil {
		return nil
	}
	if !IsUniqueViolation(err) {
		return err
	}

	// 2) Row exists. Take it over unless it was sent; the job lease makes
	// this worker the only one processing the job.
	var rows int64
	err = r.prom.ObserveDB("deliveries.try_start.takeover", func() error {
		tag, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sending',
		    recipient = $2,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE job_id = $1 AND status <> 'sent'
		`, jobID, recipient)
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
		return delivery.ErrAlreadySent
	}
	return nil
}

func (r *DeliveriesRepo) MarkSent(ctx context.Context, jobID, providerMessageID string) error {
	var id *string
	if providerMessageID != "" {
		id = &providerMessageID
	}

	return r.prom.ObserveDB("deliveries.mark_sent", func() error {
		_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'sent',
		    sent_at = NOW(),
		    provider_message_id = $2,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE job_id = $1
		`, jobID, id)
		return err
	})
}

func (r *DeliveriesRepo) MarkSendFailed(ctx context.Context, jobID, errMsg string) error {
	return r.prom.ObserveDB("deliveries.mark_failed", func() error {
		_, err := r.pool.Exec(ctx, `
		UPDATE notification_deliveries
		SET status = 'failed',
		    last_error = $2,
		    updated_at = NOW()
		WHERE job_id = $1
		`, jobID, errMsg)
		return err
	})
}

func (r *DeliveriesRepo) Get(ctx context.Context, jobID string) (delivery.Record, error) {
	var (
		d  delivery.Record
		st string
	)

	err := r.prom.ObserveDB("deliveries.get", func() error {
		return r.pool.QueryRow(ctx, `
		SELECT job_id, recipient, status, provider_message_id, last_error, sent_at, created_at, updated_at
		FROM notification_deliveries
		WHERE job_id = $1
		`, jobID).Scan(&d.JobID, &d.Recipient, &st, &d.ProviderMessageID, &d.LastError, &d.SentAt, &d.CreatedAt, &d.UpdatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return delivery.Record{}, delivery.ErrNotFound
	}
	if err != nil {
		return delivery.Record{}, err
	}

	d.Status = delivery.Status(st)
	return d, nil
}
