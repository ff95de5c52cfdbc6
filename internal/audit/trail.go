// Package audit implements the hash-chained, append-only record of decision
// cycles. Every entry's hash covers the previous entry's hash, so replaying
// the chain from genesis reproduces every stored hash or pinpoints the first
// tampered entry.
package audit

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"decisiond/internal/logging"
	"decisiond/internal/types"
)

// ErrTrailFailed means persistence has failed repeatedly and the trail
// refuses further appends until an operator intervenes. Decisions must not be
// silently made without an audit record once this trips.
var ErrTrailFailed = errors.New("audit trail failed: persistent store unavailable")

// SafetyCheck records one arbiter verdict for the audit record.
type SafetyCheck struct {
	AgentID    string                 `json:"agent_id"`
	ActionID   string                 `json:"action_id"`
	Status     types.ComplianceStatus `json:"status"`
	Violations []string               `json:"violations,omitempty"`
}

// Entry is one link of the audit chain.
type Entry struct {
	EntryID       string            `json:"entry_id"`
	DecisionID    string            `json:"decision_id,omitempty"`
	ContextHash   string            `json:"context_hash"`
	Proposals     []*types.Proposal `json:"proposals,omitempty"`
	Decision      *types.Decision   `json:"decision,omitempty"`
	SafetyChecks  []SafetyCheck     `json:"safety_checks,omitempty"`
	SolverJobRefs []string          `json:"solver_job_refs,omitempty"`
	PrevHash      string            `json:"prev_hash"`
	EntryHash     string            `json:"entry_hash"`
	Timestamp     time.Time         `json:"timestamp"`
}

// payload is the hashed portion of an entry: everything except the chain
// fields themselves.
func (e *Entry) payload() any {
	return struct {
		EntryID       string            `json:"entry_id"`
		DecisionID    string            `json:"decision_id,omitempty"`
		ContextHash   string            `json:"context_hash"`
		Proposals     []*types.Proposal `json:"proposals,omitempty"`
		Decision      *types.Decision   `json:"decision,omitempty"`
		SafetyChecks  []SafetyCheck     `json:"safety_checks,omitempty"`
		SolverJobRefs []string          `json:"solver_job_refs,omitempty"`
		Timestamp     time.Time         `json:"timestamp"`
	}{
		EntryID:       e.EntryID,
		DecisionID:    e.DecisionID,
		ContextHash:   e.ContextHash,
		Proposals:     e.Proposals,
		Decision:      e.Decision,
		SafetyChecks:  e.SafetyChecks,
		SolverJobRefs: e.SolverJobRefs,
		Timestamp:     e.Timestamp,
	}
}

// Trail is the in-memory chain with optional persistent backing. Appends are
// strictly serialized because each hash depends on its predecessor; reads may
// proceed concurrently.
type Trail struct {
	mu      sync.RWMutex
	entries []*Entry

	store       Store // nil means memory-only
	maxFailures int
	failures    int
	failed      bool
}

// NewTrail builds a trail. store may be nil for memory-only operation.
// maxConsecutiveFailures bounds tolerated store failures before the trail
// reports itself failed.
func NewTrail(store Store, maxConsecutiveFailures int) *Trail {
	if maxConsecutiveFailures < 1 {
		maxConsecutiveFailures = 1
	}
	return &Trail{store: store, maxFailures: maxConsecutiveFailures}
}

// LoadTrail rebuilds a trail from a persistent store's entries.
func LoadTrail(store Store, maxConsecutiveFailures int) (*Trail, error) {
	t := NewTrail(store, maxConsecutiveFailures)
	entries, err := store.LoadEntries()
	if err != nil {
		return nil, fmt.Errorf("load audit entries: %w", err)
	}
	t.entries = entries
	return t, nil
}

// Append records one decision cycle. The context is hashed canonically; the
// entry hash chains to the previous entry. Storage failure degrades (the
// entry is still chained in memory and the warning logged) until the
// consecutive-failure limit trips, after which ErrTrailFailed is returned.
func (t *Trail) Append(cv *types.ContextVector, proposals []*types.Proposal, decision *types.Decision, solverRefs []string, checks []SafetyCheck) (*Entry, error) {
	contextHash, err := types.CanonicalDigest(cv)
	if err != nil {
		return nil, fmt.Errorf("hash context: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.failed {
		return nil, ErrTrailFailed
	}

	entry := &Entry{
		EntryID:       uuid.NewString(),
		ContextHash:   contextHash,
		Proposals:     proposals,
		Decision:      decision,
		SafetyChecks:  checks,
		SolverJobRefs: solverRefs,
		Timestamp:     time.Now().UTC(),
	}
	if decision != nil {
		entry.DecisionID = decision.DecisionID
	}
	if n := len(t.entries); n > 0 {
		entry.PrevHash = t.entries[n-1].EntryHash
	}

	entry.EntryHash, err = types.ChainDigest(entry.PrevHash, entry.payload())
	if err != nil {
		return nil, fmt.Errorf("hash entry: %w", err)
	}

	t.entries = append(t.entries, entry)

	if t.store != nil {
		if err := t.store.AppendEntry(entry); err != nil {
			t.failures++
			logging.L(logging.CategoryAudit).Warn("audit store append failed",
				zap.String("entry_id", entry.EntryID),
				zap.Int("consecutive_failures", t.failures),
				zap.Error(err))
			if t.failures >= t.maxFailures {
				t.failed = true
				return entry, ErrTrailFailed
			}
			return entry, nil
		}
		t.failures = 0
	}
	return entry, nil
}

// VerifyChain recomputes every hash from genesis and reports the first entry
// whose stored hash does not match, if any.
func (t *Trail) VerifyChain() (bool, *Entry) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	prev := ""
	for _, e := range t.entries {
		if e.PrevHash != prev {
			return false, e
		}
		want, err := types.ChainDigest(e.PrevHash, e.payload())
		if err != nil || want != e.EntryHash {
			return false, e
		}
		prev = e.EntryHash
	}
	return true, nil
}

// Entries returns a snapshot of the chain.
func (t *Trail) Entries() []*Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the chain length.
func (t *Trail) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

// Failed reports whether the trail has given up on persistence.
func (t *Trail) Failed() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.failed
}
