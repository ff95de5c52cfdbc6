package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"decisiond/internal/logging"
	"decisiond/internal/types"
)

// ErrAgentRegistered is returned when an agent ID is registered twice.
var ErrAgentRegistered = fmt.Errorf("agent id already registered")

// ErrAgentUnknown is returned for operations on an unregistered agent ID.
var ErrAgentUnknown = fmt.Errorf("agent id not registered")

type entry struct {
	agent Agent
	reg   types.AgentRegistration
}

// Registry holds the active agents and fans contexts out to the requested
// subset. Each agent runs in isolation: an agent that errors, panics or
// exceeds the per-agent timeout is logged and excluded from that cycle's
// proposals, never aborting the batch.
type Registry struct {
	mu      sync.RWMutex
	entries []*entry          // registration order, for deterministic downstream ties
	byID    map[string]*entry
	timeout time.Duration
}

// NewRegistry builds an empty registry with the given per-agent timeout.
func NewRegistry(proposalTimeout time.Duration) *Registry {
	return &Registry{
		byID:    make(map[string]*entry),
		timeout: proposalTimeout,
	}
}

// Register adds an agent under a unique ID.
func (r *Registry) Register(id string, kind types.AgentKind, a Agent) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.byID[id]; exists {
		return fmt.Errorf("%w: %s", ErrAgentRegistered, id)
	}

	e := &entry{
		agent: a,
		reg: types.AgentRegistration{
			AgentID:       id,
			Kind:          kind,
			Status:        types.AgentActive,
			LastHeartbeat: time.Now(),
		},
	}
	r.entries = append(r.entries, e)
	r.byID[id] = e

	logging.L(logging.CategoryAgents).Info("agent registered",
		zap.String("agent_id", id), zap.String("kind", string(kind)))
	return nil
}

// Deregister marks an agent dead and removes it from fan-out.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentUnknown, id)
	}
	e.reg.Status = types.AgentDead
	return nil
}

// Heartbeat refreshes an agent's liveness timestamp.
func (r *Registry) Heartbeat(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.byID[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAgentUnknown, id)
	}
	e.reg.LastHeartbeat = time.Now()
	return nil
}

// Registrations returns a snapshot of all registrations in registration order.
func (r *Registry) Registrations() []types.AgentRegistration {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.AgentRegistration, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.reg)
	}
	return out
}

// CollectProposals invokes every active agent whose kind is in kinds (nil
// means all kinds) concurrently and returns the surviving proposals in
// registration order. The only error returned is the caller's own
// cancellation; per-agent failures degrade the proposal set silently apart
// from a log line.
func (r *Registry) CollectProposals(ctx context.Context, cv *types.ContextVector, kinds []types.AgentKind) ([]*types.Proposal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wanted := make(map[types.AgentKind]bool, len(kinds))
	for _, k := range kinds {
		wanted[k] = true
	}

	r.mu.RLock()
	selected := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		if e.reg.Status != types.AgentActive {
			continue
		}
		if len(kinds) > 0 && !wanted[e.reg.Kind] {
			continue
		}
		selected = append(selected, e)
	}
	timeout := r.timeout
	r.mu.RUnlock()

	log := logging.L(logging.CategoryAgents)
	slots := make([]*types.Proposal, len(selected))

	g, gctx := errgroup.WithContext(ctx)
	for i, e := range selected {
		g.Go(func() error {
			actx, cancel := context.WithTimeout(gctx, timeout)
			defer cancel()

			p, err := propose(actx, e.agent, cv)
			if err != nil {
				log.Warn("agent excluded from cycle",
					zap.String("agent_id", e.reg.AgentID),
					zap.String("subject_id", cv.SubjectID),
					zap.Error(err))
				return nil
			}
			if p == nil {
				return nil
			}

			// Stamp provenance; agents do not get to impersonate each other.
			p.AgentID = e.reg.AgentID
			p.AgentKind = e.reg.Kind

			if !wellFormed(p) {
				log.Warn("malformed proposal dropped",
					zap.String("agent_id", e.reg.AgentID),
					zap.String("action_id", p.ActionID))
				return nil
			}
			slots[i] = p
			return nil
		})
	}
	// Workers never return errors; Wait only surfaces group-context issues.
	_ = g.Wait()

	// Cancelled cycles discard partial results.
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proposals := make([]*types.Proposal, 0, len(slots))
	for _, p := range slots {
		if p != nil {
			proposals = append(proposals, p)
		}
	}
	return proposals, nil
}

// propose isolates one agent call, converting panics into errors. The agent
// runs in its own goroutine so a stuck Propose cannot outlive the timeout.
func propose(ctx context.Context, a Agent, cv *types.ContextVector) (*types.Proposal, error) {
	type result struct {
		p   *types.Proposal
		err error
	}
	done := make(chan result, 1)
	go func() {
		defer func() {
			if rec := recover(); rec != nil {
				done <- result{nil, fmt.Errorf("agent panic: %v", rec)}
			}
		}()
		p, err := a.Propose(ctx, cv)
		done <- result{p, err}
	}()

	select {
	case <-ctx.Done():
		return nil, fmt.Errorf("proposal timed out: %w", ctx.Err())
	case res := <-done:
		return res.p, res.err
	}
}
