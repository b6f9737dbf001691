package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/geocoder89/eventhub-registrations/internal/domain/job"
	"github.com/geocoder89/eventhub-registrations/internal/observability"
	"github.com/geocoder89/eventhub-registrations/internal/utils"
)

// JobsRepo is the notification queue: enqueue with dedup, leased claims,
// completion, the lease reaper and the operator endpoints.
type JobsRepo struct {
	pool   *pgxpool.Pool
	prom   *observability.Prom
	policy job.DedupPolicy
}

func NewJobsRepo(pool *pgxpool.Pool, prom *observability.Prom, policy job.DedupPolicy) *JobsRepo {
	return &JobsRepo{pool: pool, prom: prom, policy: policy}
}

const jobColumns = `id, kind, dedup_key, payload, status, attempts, max_attempts,
	scheduled_for, locked_at, locked_by, last_error, delivered_at, created_at, updated_at`

func scanJob(row pgx.Row) (job.Job, error) {
	var (
		j            job.Job
		kind, status string
		payload      []byte
	)

	err := row.Scan(&j.ID, &kind, &j.DedupKey, &payload, &status, &j.Attempts, &j.MaxAttempts,
		&j.ScheduledFor, &j.LockedAt, &j.LockedBy, &j.LastError, &j.DeliveredAt, &j.CreatedAt, &j.UpdatedAt)
	if err != nil {
		return job.Job{}, err
	}

	if err := json.Unmarshal(payload, &j.Payload); err != nil {
		return job.Job{}, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
	}
	j.Kind = job.Kind(kind)
	j.Status = job.Status(status)
	return j, nil
}

// enqueueTx inserts the job unless a suppressing job with the same key
// exists. The advisory lock serializes enqueues of one key until commit.
func (r *JobsRepo) enqueueTx(ctx context.Context, q querier, req job.EnqueueRequest) (job.Job, bool, error) {
	key := job.DedupKey(req.Kind, req.Trigger)

	err := r.prom.ObserveDB("jobs.enqueue.lock", func() error {
		_, err := q.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
		return err
	})
	if err != nil {
		return job.Job{}, false, err
	}

	existing, err := r.findSuppressing(ctx, q, key, r.policy.Window(req.Kind))
	if err == nil {
		return existing, false, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, false, err
	}

	j := job.New(req, time.Now().UTC())
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return job.Job{}, false, fmt.Errorf("encode payload: %w", err)
	}

	err = r.prom.ObserveDB("jobs.enqueue.insert", func() error {
		_, err := q.Exec(ctx, `
		INSERT INTO notification_jobs (id, kind, dedup_key, payload, status, attempts, max_attempts,
			scheduled_for, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, 0, $6, $7, $8, $9)
		`, j.ID, string(j.Kind), j.DedupKey, payload, string(j.Status), j.MaxAttempts,
			j.ScheduledFor, j.CreatedAt, j.UpdatedAt)
		return err
	})
	if err != nil {
		return job.Job{}, false, err
	}
	return j, true, nil
}

// findSuppressing returns the newest job with key that blocks a new one.
// window zero means a delivered job suppresses forever.
func (r *JobsRepo) findSuppressing(ctx context.Context, q querier, key string, window time.Duration) (job.Job, error) {
	var j job.Job

	err := r.prom.ObserveDB("jobs.enqueue.dedup", func() error {
		var err error
		j, err = scanJob(q.QueryRow(ctx, `
		SELECT `+jobColumns+`
		FROM notification_jobs
		WHERE dedup_key = $1
		  AND (status IN ('queued', 'inflight')
		       OR (status = 'delivered'
		           AND ($2::double precision = 0
		                OR delivered_at IS NULL
		                OR delivered_at > NOW() - $2::double precision * INTERVAL '1 second')))
		ORDER BY created_at DESC
		LIMIT 1
		`, key, window.Seconds()))
		return err
	})
	return j, err
}

// Enqueue schedules a job outside any engine transaction.
func (r *JobsRepo) Enqueue(ctx context.Context, req job.EnqueueRequest) (j job.Job, created bool, err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return job.Job{}, false, err
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	j, created, err = r.enqueueTx(ctx, tx, req)
	if err != nil {
		return job.Job{}, false, err
	}

	if err = tx.Commit(ctx); err != nil {
		return job.Job{}, false, err
	}
	return j, created, nil
}

func (r *JobsRepo) ClaimNext(ctx context.Context, workerID string) (job.Job, error) {
	var j job.Job

	// Single statement claim using SKIP LOCKED so workers never block each other.
	err := r.prom.ObserveDB("jobs.claim_next", func() error {
		var err error
		j, err = scanJob(r.pool.QueryRow(ctx, `
		WITH next AS (
			SELECT id
			FROM notification_jobs
			WHERE status = 'queued'
			  AND scheduled_for <= NOW()
			ORDER BY scheduled_for ASC, created_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT 1
		)
		UPDATE notification_jobs
		SET status = 'inflight',
		    locked_at = NOW(),
		    locked_by = $1,
		    updated_at = NOW()
		WHERE id = (SELECT id FROM next)
		RETURNING `+jobColumns, workerID))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, job.ErrNotFound
	}
	return j, err
}

// leased runs a write guarded by workerID's lease on the job.
func (r *JobsRepo) leased(ctx context.Context, op, sql string, args ...any) error {
	var tag pgconn.CommandTag

	err := r.prom.ObserveDB(op, func() error {
		var err error
		tag, err = r.pool.Exec(ctx, sql, args...)
		return err
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrLeaseLost
	}
	return nil
}

// MarkDelivered completes the job. The invitation link embeds the raw
// token, so it is dropped from the stored payload.
func (r *JobsRepo) MarkDelivered(ctx context.Context, id, workerID string) error {
	return r.leased(ctx, "jobs.mark_delivered", `
		UPDATE notification_jobs
		SET status = 'delivered',
		    payload = payload #- '{data,link}',
		    delivered_at = NOW(),
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'inflight' AND locked_by = $2
	`, id, workerID)
}

func (r *JobsRepo) Reschedule(ctx context.Context, id, workerID string, runAt time.Time, errMsg string) error {
	return r.leased(ctx, "jobs.reschedule", `
		UPDATE notification_jobs
		SET status = 'queued',
		    attempts = attempts + 1,
		    scheduled_for = $3,
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = $4,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'inflight' AND locked_by = $2
	`, id, workerID, runAt, errMsg)
}

func (r *JobsRepo) MarkFailed(ctx context.Context, id, workerID, errMsg string) error {
	return r.leased(ctx, "jobs.mark_failed", `
		UPDATE notification_jobs
		SET status = 'failed_permanent',
		    attempts = attempts + 1,
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = $3,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'inflight' AND locked_by = $2
	`, id, workerID, errMsg)
}

// RequeueStale reclaims inflight jobs whose lease is older than lease. The
// lost attempt counts; a job out of attempts fails permanently.
func (r *JobsRepo) RequeueStale(ctx context.Context, lease time.Duration) (requeued, failed int64, err error) {
	var rows pgx.Rows

	err = r.prom.ObserveDB("jobs.requeue_stale", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, `
		UPDATE notification_jobs
		SET attempts = attempts + 1,
		    status = CASE WHEN attempts + 1 >= max_attempts THEN 'failed_permanent' ELSE 'queued' END,
		    scheduled_for = CASE WHEN attempts + 1 >= max_attempts THEN scheduled_for ELSE NOW() END,
		    locked_at = NULL,
		    locked_by = NULL,
		    last_error = 'lease expired',
		    updated_at = NOW()
		WHERE status = 'inflight'
		  AND locked_at IS NOT NULL
		  AND locked_at < NOW() - ($1::bigint * INTERVAL '1 millisecond')
		RETURNING status
		`, lease.Milliseconds())
		return qerr
	})
	if err != nil {
		return 0, 0, err
	}

	statuses, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return 0, 0, err
	}

	for _, s := range statuses {
		if s == string(job.StatusFailedPermanent) {
			failed++
		} else {
			requeued++
		}
	}
	return requeued, failed, nil
}

// Admin ops endpoints

func (r *JobsRepo) GetByID(ctx context.Context, id string) (job.Job, error) {
	var j job.Job

	err := r.prom.ObserveDB("jobs.admin.get_by_id", func() error {
		var err error
		j, err = scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM notification_jobs WHERE id = $1`, id))
		return err
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return job.Job{}, job.ErrNotFound
	}
	return j, err
}

func (r *JobsRepo) ListCursor(
	ctx context.Context,
	status *string,
	limit int,
	afterUpdatedAt time.Time,
	afterID string,
) (items []job.Job, nextCursor *string, hasMore bool, err error) {
	var (
		conds   []string
		args    []any
		argsPos = 1
	)

	if status != nil {
		conds = append(conds, fmt.Sprintf("status = $%d", argsPos))
		args = append(args, *status)
		argsPos++
	}

	// DESC keyset: fetch rows "older" than cursor
	conds = append(conds, fmt.Sprintf("(updated_at, id) < ($%d, $%d::uuid)", argsPos, argsPos+1))
	args = append(args, afterUpdatedAt, afterID)
	argsPos += 2

	q := `SELECT ` + jobColumns + ` FROM notification_jobs WHERE ` + strings.Join(conds, " AND ")
	q += fmt.Sprintf(" ORDER BY updated_at DESC, id DESC LIMIT $%d", argsPos)
	args = append(args, limit+1)

	var rows pgx.Rows
	err = r.prom.ObserveDB("jobs.admin.list_cursor", func() error {
		var qerr error
		rows, qerr = r.pool.Query(ctx, q, args...)
		return qerr
	})
	if err != nil {
		return nil, nil, false, err
	}

	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (job.Job, error) {
		return scanJob(row)
	})
	if err != nil {
		return nil, nil, false, err
	}

	if len(out) > limit {
		hasMore = true
		out = out[:limit]
		last := out[len(out)-1]

		cur, encErr := utils.EncodeJobCursor(last.UpdatedAt, last.ID)
		if encErr != nil {
			return nil, nil, false, encErr
		}
		nextCursor = &cur
	}

	return out, nextCursor, hasMore, nil
}

// Requeue gives a failed_permanent job a fresh set of attempts.
func (r *JobsRepo) Requeue(ctx context.Context, id string) error {
	var status string

	err := r.prom.ObserveDB("jobs.admin.requeue.check_status", func() error {
		return r.pool.QueryRow(ctx, `SELECT status FROM notification_jobs WHERE id = $1`, id).Scan(&status)
	})
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return job.ErrNotFound
		}
		return err
	}

	if status != string(job.StatusFailedPermanent) {
		return job.ErrNotFailed
	}

	var tag pgconn.CommandTag
	err = r.prom.ObserveDB("jobs.admin.requeue", func() error {
		var e error
		tag, e = r.pool.Exec(ctx, `
		UPDATE notification_jobs
		SET status = 'queued',
		    attempts = 0,
		    scheduled_for = NOW(),
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id = $1 AND status = 'failed_permanent'
		`, id)
		return e
	})
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return job.ErrNotFailed
	}
	return nil
}

func (r *JobsRepo) RequeueManyFailed(ctx context.Context, limit int) (int64, error) {
	if limit <= 0 {
		limit = 50
	}
	if limit > 500 {
		limit = 500
	}

	var tag pgconn.CommandTag
	err := r.prom.ObserveDB("jobs.admin.requeue_many_failed", func() error {
		var e error
		tag, e = r.pool.Exec(ctx, `
		WITH picked AS (
			SELECT id
			FROM notification_jobs
			WHERE status = 'failed_permanent'
			ORDER BY updated_at DESC
			LIMIT $1
		)
		UPDATE notification_jobs
		SET status = 'queued',
		    attempts = 0,
		    scheduled_for = NOW(),
		    last_error = NULL,
		    updated_at = NOW()
		WHERE id IN (SELECT id FROM picked)
		`, limit)
		return e
	})
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
