package observability

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveDBOutcomes(t *testing.T) {
	p := NewProm(prometheus.NewRegistry())

	cases := []struct {
		op     string
		err    error
		status string
		class  string
	}{
		{"registrations.get", nil, dbOK, ""},
		{"registrations.get", fmt.Errorf("scan: %w", pgx.ErrNoRows), dbNotFound, ""},
		{"registrations.insert", &pgconn.PgError{Code: "23505"}, dbConflict, ""},
		{"event_seats.cas", &pgconn.PgError{Code: "40001"}, dbConflict, ""},
		{"inbox.record", &pgconn.PgError{Code: "23503"}, dbError, "foreign_key_violation"},
		{"events.get", context.DeadlineExceeded, dbError, "timeout"},
		{"jobs.claim_next", errors.New("dial tcp: refused"), dbError, "connection"},
	}

	for _, tc := range cases {
		t.Run(tc.op+"/"+tc.status, func(t *testing.T) {
			var before float64
			if tc.class != "" {
				before = testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues(tc.op, tc.class))
			}

			err := p.ObserveDB(tc.op, func() error { return tc.err })
			if !errors.Is(err, tc.err) {
				t.Fatalf("error not passed through: %v", err)
			}
			if got := dbOutcome(tc.err); got != tc.status {
				t.Fatalf("outcome = %q, want %q", got, tc.status)
			}

			if tc.class == "" {
				return
			}
			after := testutil.ToFloat64(p.DbErrorsTotal.WithLabelValues(tc.op, tc.class))
			if after != before+1 {
				t.Fatalf("errors_total{%s,%s} = %v, want %v", tc.op, tc.class, after, before+1)
			}
		})
	}

	if n := testutil.CollectAndCount(p.DbErrorsTotal); n != 3 {
		t.Fatalf("db_errors_total series = %d, want 3", n)
	}
}

func TestObserveDBNilReceiver(t *testing.T) {
	var p *Prom
	called := false
	if err := p.ObserveDB("x", func() error { called = true; return nil }); err != nil || !called {
		t.Fatalf("nil receiver: called=%v err=%v", called, err)
	}
}
