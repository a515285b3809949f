package imagegate

import (
	"context"
	"sync/atomic"
	"time"
)

// Metrics accumulates process-wide generation counters. All methods are
// non-blocking and safe for concurrent use. Counters are monotonic except
// the in-flight gauge.
type Metrics struct {
	inFlight      atomic.Int64
	cacheHits     atomic.Int64
	cacheMisses   atomic.Int64
	dedupedHits   atomic.Int64
	busyRejects   atomic.Int64
	totalRequests atomic.Int64
	totalSuccess  atomic.Int64
	totalErrors   atomic.Int64
	lastLatencyMs atomic.Int64
	hasLatency    atomic.Bool
	flushing      atomic.Bool
}

// Snapshot is a point-in-time copy of Metrics, shaped for the monitoring
// endpoint.
type Snapshot struct {
	InFlightCount int64  `json:"inFlightCount"`
	CacheHits     int64  `json:"cacheHits"`
	CacheMisses   int64  `json:"cacheMisses"`
	DedupedHits   int64  `json:"dedupedHits"`
	BusyRejects   int64  `json:"busyRejects"`
	TotalRequests int64  `json:"totalRequests"`
	TotalSuccess  int64  `json:"totalSuccess"`
	TotalErrors   int64  `json:"totalErrors"`
	LastLatencyMs *int64 `json:"lastLatencyMs"`
}

// NewMetrics creates a zeroed Metrics.
func NewMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) EnterFlight() { m.inFlight.Add(1) }
func (m *Metrics) ExitFlight()  { m.inFlight.Add(-1) }
func (m *Metrics) CacheHit()    { m.cacheHits.Add(1) }
func (m *Metrics) CacheMiss()   { m.cacheMisses.Add(1) }
func (m *Metrics) DedupedHit()  { m.dedupedHits.Add(1) }
func (m *Metrics) BusyReject()  { m.busyRejects.Add(1) }
func (m *Metrics) Request()     { m.totalRequests.Add(1) }
func (m *Metrics) Success()     { m.totalSuccess.Add(1) }
func (m *Metrics) Failure()     { m.totalErrors.Add(1) }

// RecordLatency stores the last observed request latency.
func (m *Metrics) RecordLatency(d time.Duration) {
	m.lastLatencyMs.Store(d.Milliseconds())
	m.hasLatency.Store(true)
}

// Snapshot returns a point-in-time copy.
func (m *Metrics) Snapshot() Snapshot {
	s := Snapshot{
		InFlightCount: m.inFlight.Load(),
		CacheHits:     m.cacheHits.Load(),
		CacheMisses:   m.cacheMisses.Load(),
		DedupedHits:   m.dedupedHits.Load(),
		BusyRejects:   m.busyRejects.Load(),
		TotalRequests: m.totalRequests.Load(),
		TotalSuccess:  m.totalSuccess.Load(),
		TotalErrors:   m.totalErrors.Load(),
	}
	if m.hasLatency.Load() {
		ms := m.lastLatencyMs.Load()
		s.LastLatencyMs = &ms
	}
	return s
}

// MetricsStore persists metrics snapshots. Best-effort: failures are
// swallowed by the flusher.
type MetricsStore interface {
	AppendSnapshot(ctx context.Context, snap Snapshot) error
}

// FlushMetrics periodically writes snapshots to store until ctx is
// cancelled. At most one flush is outstanding at a time; a tick that
// arrives while a flush is still running is skipped. Runs detached from
// the request path; call it in its own goroutine.
func FlushMetrics(ctx context.Context, m *Metrics, store MetricsStore, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.flushing.CompareAndSwap(false, true) {
				continue
			}
			go func(snap Snapshot) {
				defer m.flushing.Store(false)
				fctx, cancel := context.WithTimeout(ctx, interval)
				defer cancel()
				_ = store.AppendSnapshot(fctx, snap)
			}(m.Snapshot())
		}
	}
}
