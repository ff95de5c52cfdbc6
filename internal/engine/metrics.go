package engine

import (
	"sync/atomic"
	"time"
)

// Metrics holds the engine's aggregate counters. All fields are updated with
// atomics so concurrent cycles never contend on a lock for bookkeeping.
type Metrics struct {
	decisions        atomic.Int64
	noDecision       atomic.Int64
	safetyViolations atomic.Int64
	solverFallbacks  atomic.Int64
	faults           atomic.Int64

	cycles       atomic.Int64
	latencyNanos atomic.Int64
}

func (m *Metrics) observeLatency(d time.Duration) {
	m.cycles.Add(1)
	m.latencyNanos.Add(int64(d))
}

// MetricsSnapshot is a point-in-time copy of the counters.
type MetricsSnapshot struct {
	Decisions        int64
	NoDecision       int64
	SafetyViolations int64
	SolverFallbacks  int64
	Faults           int64
	Cycles           int64
	MeanLatency      time.Duration
}

// Metrics returns a consistent-enough snapshot for reporting. Counters are
// read individually; exact cross-counter consistency is not needed.
func (e *Engine) Metrics() MetricsSnapshot {
	s := MetricsSnapshot{
		Decisions:        e.metrics.decisions.Load(),
		NoDecision:       e.metrics.noDecision.Load(),
		SafetyViolations: e.metrics.safetyViolations.Load(),
		SolverFallbacks:  e.metrics.solverFallbacks.Load(),
		Faults:           e.metrics.faults.Load(),
		Cycles:           e.metrics.cycles.Load(),
	}
	if s.Cycles > 0 {
		s.MeanLatency = time.Duration(e.metrics.latencyNanos.Load() / s.Cycles)
	}
	return s
}
