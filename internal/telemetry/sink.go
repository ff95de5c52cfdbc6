// Package telemetry provides the pushed metrics sink. The engine pushes one
// CycleStats record after every decision cycle; nothing in the core is ever
// polled for metrics.
package telemetry

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"decisiond/internal/logging"
)

// CycleStats summarizes one completed decision cycle.
type CycleStats struct {
	SubjectID        string
	DecisionMade     bool
	ProposalCount    int
	SafetyViolations int
	SolverFallback   bool
	Faulted          bool
	Latency          time.Duration
}

// Sink receives cycle stats. Implementations must be safe for concurrent use;
// cycles run in parallel.
type Sink interface {
	RecordCycle(stats CycleStats)
}

// LogSink forwards cycle stats to the structured log.
type LogSink struct{}

func (LogSink) RecordCycle(s CycleStats) {
	logging.L(logging.CategoryTelemetry).Info("cycle completed",
		zap.String("subject_id", s.SubjectID),
		zap.Bool("decision_made", s.DecisionMade),
		zap.Int("proposals", s.ProposalCount),
		zap.Int("safety_violations", s.SafetyViolations),
		zap.Bool("solver_fallback", s.SolverFallback),
		zap.Bool("faulted", s.Faulted),
		zap.Duration("latency", s.Latency))
}

// MemorySink aggregates cycle stats in memory. Used by tests and by the CLI
// to print a summary after batch runs.
type MemorySink struct {
	mu      sync.Mutex
	cycles  []CycleStats
	latency time.Duration
}

func NewMemorySink() *MemorySink { return &MemorySink{} }

func (m *MemorySink) RecordCycle(s CycleStats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cycles = append(m.cycles, s)
	m.latency += s.Latency
}

// Cycles returns a snapshot of everything recorded so far.
func (m *MemorySink) Cycles() []CycleStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]CycleStats, len(m.cycles))
	copy(out, m.cycles)
	return out
}

// MeanLatency returns the mean cycle latency, or zero with no cycles.
func (m *MemorySink) MeanLatency() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.cycles) == 0 {
		return 0
	}
	return m.latency / time.Duration(len(m.cycles))
}

// MultiSink fans stats out to several sinks.
type MultiSink []Sink

func (ms MultiSink) RecordCycle(s CycleStats) {
	for _, sink := range ms {
		sink.RecordCycle(s)
	}
}
