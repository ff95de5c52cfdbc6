// Package agent implements the specialized proposal agents and the registry
// that fans contexts out to them. Agents are polymorphic over the single
// Propose capability, so new decision domains are added by registering a new
// implementation, never by branching on concrete types.
package agent

import (
	"context"
	"math"

	"decisiond/internal/types"
)

// Agent is the one capability every reasoner implements. Propose returns
// (nil, nil) when the agent has nothing to suggest for this context; that is
// a normal outcome, not an error.
type Agent interface {
	Kind() types.AgentKind
	Propose(ctx context.Context, cv *types.ContextVector) (*types.Proposal, error)
}

// wellFormed rejects proposals that violate the data-model invariants before
// they reach the arbiter. Malformed output from an agent is treated like an
// agent failure: logged and excluded.
func wellFormed(p *types.Proposal) bool {
	if p.ActionID == "" {
		return false
	}
	// NaN compares false against every bound, so it must be rejected
	// explicitly before it reaches the optimization matrix.
	if math.IsNaN(p.EstimatedReward) || math.IsInf(p.EstimatedReward, 0) || p.EstimatedReward < 0 {
		return false
	}
	if math.IsNaN(p.Confidence) || p.Confidence < 0 || p.Confidence > 1 {
		return false
	}
	return true
}
