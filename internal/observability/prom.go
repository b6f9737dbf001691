package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

type Prom struct {
	RequestsTotal    *prometheus.CounterVec
	RequestsDuration *prometheus.HistogramVec
	InFlight         *prometheus.GaugeVec
	// DB
	DbQueryDuration *prometheus.HistogramVec
	DbErrorsTotal   *prometheus.CounterVec

	// Engine
	RegistrationsTotal *prometheus.CounterVec
	InvitationsTotal   *prometheus.CounterVec
	ConflictRetries    prometheus.Counter

	// Dispatcher
	JobsEnqueued  *prometheus.CounterVec
	JobDuration   *prometheus.HistogramVec
	JobResults    *prometheus.CounterVec
	JobsInFlight  prometheus.Gauge
	JobsReclaimed *prometheus.CounterVec
}

func NewProm(reg prometheus.Registerer) *Prom {
	p := &Prom{
		RequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventhub",
				Name:      "http_requests_total",
				Help:      "Total HTTP requests processed",
			},
			[]string{"method", "route", "status"},
		),
		RequestsDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventhub",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency distributions.",
				Buckets:   []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"method", "route", "status"},
		),
		InFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "eventhub",
				Name:      "http_in_flight_requests",
				Help:      "Current number of in-flight HTTP requests.",
			},
			[]string{"method", "route"},
		),
		DbQueryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventhub",
				Subsystem: "db",
				Name:      "query_duration_seconds",
				Help:      "DB operation latency (logical op, not raw SQL)",
				Buckets:   []float64{0.005, 0.01, 0.02, 0.05, 0.1, 0.2, 0.35, 0.5, 1, 2, 5},
			},
			[]string{"op", "status"},
		),
		DbErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventhub",
				Subsystem: "db",
				Name:      "errors_total",
				Help:      "DB errors by logical op and class.",
			},
			[]string{"op", "class"},
		),
		RegistrationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventhub",
				Subsystem: "registrations",
				Name:      "total",
				Help:      "Registration operations by op and resulting status or error code.",
			},
			[]string{"op", "result"},
		),
		InvitationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventhub",
				Subsystem: "invitations",
				Name:      "total",
				Help:      "Invitation operations by op and result.",
			},
			[]string{"op", "result"},
		),
		ConflictRetries: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "eventhub",
				Subsystem: "registrations",
				Name:      "conflict_retries_total",
				Help:      "Optimistic concurrency conflicts retried by the engine.",
			},
		),
		JobsEnqueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventhub",
				Subsystem: "notifications",
				Name:      "enqueued_total",
				Help:      "Notification jobs enqueued or deduplicated, by kind.",
			},
			[]string{"kind", "result"}, // result=created|deduplicated
		),
		JobDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "eventhub",
				Subsystem: "notifications",
				Name:      "delivery_duration_seconds",
				Help:      "Delivery attempt duration by kind and result",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"kind", "result"},
		),
		JobResults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventhub",
				Subsystem: "notifications",
				Name:      "results_total",
				Help:      "Delivery outcomes by kind and result.",
			},
			[]string{"kind", "result"}, // result=delivered|retry|failed_permanent|skipped
		),
		JobsInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "eventhub",
				Subsystem: "notifications",
				Name:      "in_flight",
				Help:      "Deliveries currently executing in this process.",
			},
		),
		JobsReclaimed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "eventhub",
				Subsystem: "notifications",
				Name:      "reclaimed_total",
				Help:      "Expired leases handled by the reaper.",
			},
			[]string{"result"}, // result=requeued|failed_permanent
		),
	}
	reg.MustRegister(
		p.RequestsTotal, p.RequestsDuration, p.InFlight,
		p.DbQueryDuration, p.DbErrorsTotal,
		p.RegistrationsTotal, p.InvitationsTotal, p.ConflictRetries,
		p.JobsEnqueued, p.JobDuration, p.JobResults, p.JobsInFlight, p.JobsReclaimed,
	)

	return p
}

func (p *Prom) GinHandleMiddleware() gin.HandlerFunc {
	return func(ctx *gin.Context) {
		start := time.Now()

		// route template is only available after routing
		route := ctx.FullPath()

		if route == "" {
			route = "unmatched"
		}

		method := ctx.Request.Method
		p.InFlight.WithLabelValues(method, route).Inc()
		defer p.InFlight.WithLabelValues(method, route).Dec()
		ctx.Next()

		status := strconv.Itoa(ctx.Writer.Status())
		secs := time.Since(start).Seconds()

		p.RequestsTotal.WithLabelValues(method, route, status).Inc()
		p.RequestsDuration.WithLabelValues(method, route, status).Observe(secs)
	}
}

// The helpers below are nil-safe so components can run without metrics.

func (p *Prom) CountRegistration(op, result string) {
	if p == nil {
		return
	}
	p.RegistrationsTotal.WithLabelValues(op, result).Inc()
}

func (p *Prom) CountInvitation(op, result string) {
	if p == nil {
		return
	}
	p.InvitationsTotal.WithLabelValues(op, result).Inc()
}

func (p *Prom) CountConflictRetry() {
	if p == nil {
		return
	}
	p.ConflictRetries.Inc()
}

func (p *Prom) CountEnqueue(kind string, created bool) {
	if p == nil {
		return
	}
	result := "created"
	if !created {
		result = "deduplicated"
	}
	p.JobsEnqueued.WithLabelValues(kind, result).Inc()
}

func (p *Prom) ObserveDelivery(kind, result string, d time.Duration) {
	if p == nil {
		return
	}
	p.JobResults.WithLabelValues(kind, result).Inc()
	p.JobDuration.WithLabelValues(kind, result).Observe(d.Seconds())
}

func (p *Prom) CountReclaimed(requeued, failed int64) {
	if p == nil {
		return
	}
	p.JobsReclaimed.WithLabelValues("requeued").Add(float64(requeued))
	p.JobsReclaimed.WithLabelValues("failed_permanent").Add(float64(failed))
}

func (p *Prom) DeliveryStarted() func() {
	if p == nil {
		return func() {}
	}
	p.JobsInFlight.Inc()
	return p.JobsInFlight.Dec
}
