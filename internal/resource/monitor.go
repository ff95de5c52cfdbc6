// Package resource provides the resource-availability snapshot consumed by
// the safety arbiter and the action selector. The snapshot is a read-only
// point-in-time view; components query it at validation/selection time and
// never mutate it.
package resource

import (
	"sync"

	"decisiond/internal/config"
)

// Canonical resource keys. Proposals declare demand under these keys.
const (
	KeyCPU            = "cpu"
	KeyMemoryMB       = "memory_mb"
	KeyAcceleratorMB  = "accelerator_mb"
	KeySolverCapacity = "solver_capacity"
	KeyNetworkMbps    = "network_mbps"
	KeyStorageMB      = "storage_mb"
)

// Snapshot is a point-in-time view of free capacity per resource key.
type Snapshot map[string]float64

// Exceeds returns the list of resource keys whose demand is not covered by
// this snapshot. Demands on unknown keys are treated as uncovered (fail-closed).
func (s Snapshot) Exceeds(demand map[string]float64) []string {
	var over []string
	for key, want := range demand {
		if want <= 0 {
			continue
		}
		have, ok := s[key]
		if !ok || want > have {
			over = append(over, key)
		}
	}
	return over
}

// Monitor supplies availability snapshots.
type Monitor interface {
	Snapshot() Snapshot
}

// StaticMonitor serves a fixed snapshot, optionally adjusted at runtime.
// It backs deployments where availability is provisioned externally, and tests.
type StaticMonitor struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewStaticMonitor builds a monitor from the configured capacity.
func NewStaticMonitor(cfg config.ResourcesConfig) *StaticMonitor {
	return &StaticMonitor{
		snap: Snapshot{
			KeyCPU:            cfg.CPU,
			KeyMemoryMB:       cfg.MemoryMB,
			KeyAcceleratorMB:  cfg.AcceleratorMB,
			KeySolverCapacity: cfg.SolverCapacity,
			KeyNetworkMbps:    cfg.NetworkMbps,
			KeyStorageMB:      cfg.StorageMB,
		},
	}
}

// Snapshot returns a copy so callers can never mutate shared state.
func (m *StaticMonitor) Snapshot() Snapshot {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(Snapshot, len(m.snap))
	for k, v := range m.snap {
		out[k] = v
	}
	return out
}

// Set adjusts one resource's free capacity.
func (m *StaticMonitor) Set(key string, free float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snap[key] = free
}
