package selector

import (
	"strings"

	"decisiond/internal/resource"
	"decisiond/internal/solver"
	"decisiond/internal/types"
)

// Penalty weights for the QUBO encoding. Rewards live in single digits, so
// these dominate any achievable reward sum without overflowing the energy
// scale the solver samples well at.
const (
	// conflictPenalty punishes co-selecting mutually exclusive proposals.
	conflictPenalty = 50.0

	// resourcePenalty punishes pairs whose combined demand exceeds availability.
	resourcePenalty = 100.0

	// priorityBonus biases proposals flagged high-priority toward selection.
	priorityBonus = 1.0
)

// buildProblem encodes proposal selection as a QUBO: one binary variable per
// proposal, diagonal terms carrying negated expected value (maximize reward
// becomes minimize energy), off-diagonal terms enforcing exclusivity and
// resource feasibility.
func buildProblem(proposals []*types.Proposal, snap resource.Snapshot, numReads int, label string) *solver.Problem {
	n := len(proposals)
	matrix := make([][]float64, n)
	for i := range matrix {
		matrix[i] = make([]float64, n)
	}

	for i, p := range proposals {
		matrix[i][i] = -p.ExpectedValue()
		if highPriority(p) {
			matrix[i][i] -= priorityBonus
		}
	}

	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			var penalty float64
			if conflicts(proposals[i], proposals[j]) {
				penalty += conflictPenalty
			}
			if overcommits(proposals[i], proposals[j], snap) {
				penalty += resourcePenalty
			}
			// Symmetric split keeps the pair's total contribution equal to
			// the penalty when both variables are set.
			matrix[i][j] = penalty / 2
			matrix[j][i] = penalty / 2
		}
	}

	return &solver.Problem{Matrix: matrix, NumReads: numReads, Label: label}
}

// conflicts reports mutual exclusion: two proposals of the same action class,
// or two proposals claiming the same exclusive resource.
func conflicts(a, b *types.Proposal) bool {
	if actionClass(a.ActionID) == actionClass(b.ActionID) {
		return true
	}
	ra, aok := a.Payload["exclusive_resource"].(string)
	rb, bok := b.Payload["exclusive_resource"].(string)
	return aok && bok && ra == rb
}

// overcommits reports whether co-selecting the pair would exceed availability.
func overcommits(a, b *types.Proposal, snap resource.Snapshot) bool {
	combined := make(map[string]float64, len(a.RequiredResources)+len(b.RequiredResources))
	for k, v := range a.RequiredResources {
		combined[k] += v
	}
	for k, v := range b.RequiredResources {
		combined[k] += v
	}
	return len(snap.Exceeds(combined)) > 0
}

func highPriority(p *types.Proposal) bool {
	v, ok := p.Payload["high_priority"].(bool)
	return ok && v
}

// actionClass is the segment before the first dot: "offer.charging_discount"
// belongs to class "offer".
func actionClass(actionID string) string {
	if i := strings.IndexByte(actionID, '.'); i > 0 {
		return actionID[:i]
	}
	return actionID
}
