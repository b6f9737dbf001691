package observability

import (
	"sync/atomic"
	"time"
)

// WorkerStats is an in-process tally served on the worker's /statsz endpoint.
type WorkerStats struct {
	claimed         atomic.Uint64
	delivered       atomic.Uint64
	skipped         atomic.Uint64
	retried         atomic.Uint64
	failedPermanent atomic.Uint64
	reclaimed       atomic.Uint64

	// duration stats (nanoseconds)
	durationCount atomic.Uint64
	durationTotal atomic.Int64
	durationMax   atomic.Int64
}

func NewWorkerStats() *WorkerStats {
	return &WorkerStats{}
}

func (m *WorkerStats) IncClaimed()         { m.claimed.Add(1) }
func (m *WorkerStats) IncDelivered()       { m.delivered.Add(1) }
func (m *WorkerStats) IncSkipped()         { m.skipped.Add(1) }
func (m *WorkerStats) IncRetried()         { m.retried.Add(1) }
func (m *WorkerStats) IncFailedPermanent() { m.failedPermanent.Add(1) }

func (m *WorkerStats) AddReclaimed(n int64) {
	if n > 0 {
		m.reclaimed.Add(uint64(n))
	}
}

func (m *WorkerStats) ObserveDuration(d time.Duration) {
	ns := d.Nanoseconds()
	m.durationCount.Add(1)
	m.durationTotal.Add(ns)

	for {
		curr := m.durationMax.Load()

		if ns <= curr {
			return
		}

		if m.durationMax.CompareAndSwap(curr, ns) {
			return
		}
	}
}

type WorkerStatsSnapshot struct {
	Claimed         uint64        `json:"claimed"`
	Delivered       uint64        `json:"delivered"`
	Skipped         uint64        `json:"skipped"`
	Retried         uint64        `json:"retried"`
	FailedPermanent uint64        `json:"failedPermanent"`
	Reclaimed       uint64        `json:"reclaimed"`
	DurationCount   uint64        `json:"durationCount"`
	AverageDuration time.Duration `json:"averageDurationNs"`
	MaxDuration     time.Duration `json:"maxDurationNs"`
}

func (m *WorkerStats) Snapshot() WorkerStatsSnapshot {
	count := m.durationCount.Load()
	total := m.durationTotal.Load()

	var avg time.Duration

	if count > 0 {
		avg = time.Duration(total / int64(count))
	}

	return WorkerStatsSnapshot{
		Claimed:         m.claimed.Load(),
		Delivered:       m.delivered.Load(),
		Skipped:         m.skipped.Load(),
		Retried:         m.retried.Load(),
		FailedPermanent: m.failedPermanent.Load(),
		Reclaimed:       m.reclaimed.Load(),
		DurationCount:   count,
		AverageDuration: avg,
		MaxDuration:     time.Duration(m.durationMax.Load()),
	}
}
