package observability

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Outcomes recorded in the status label of eventhub_db_query_duration_seconds.
const (
	dbOK       = "ok"
	dbNotFound = "not_found"
	dbConflict = "conflict"
	dbError    = "error"
)

// ObserveDB times fn under a logical op name. An empty single-row read is
// recorded as not_found and a lost optimistic write (unique or serialization
// failure) as conflict; neither counts in db_errors_total, since both are
// normal under concurrent registration traffic. A nil receiver just runs fn.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	if p == nil {
		return fn()
	}

	start := time.Now()
	err := fn()

	status := dbOutcome(err)
	if status == dbError {
		p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
	}
	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

func dbOutcome(err error) string {
	switch {
	case err == nil:
		return dbOK
	case errors.Is(err, pgx.ErrNoRows):
		return dbNotFound
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return dbConflict
		}
	}
	return dbError
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23503":
			return "foreign_key_violation"
		case "57014":
			return "query_canceled"
		case "53300":
			return "too_many_connections"
		default:
			return "pg_" + pgErr.Code
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case pgconn.Timeout(err):
		return "timeout"
	case errors.Is(err, pgx.ErrTxClosed):
		return "tx_closed"
	default:
		return "connection"
	}
}
