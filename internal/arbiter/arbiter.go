// Package arbiter implements the deterministic safety gate applied to every
// proposal before optimization. The arbiter is fail-closed, rule-ordered and
// never consults a learned model: its sole purpose is a non-bypassable floor
// beneath the optimizer. Failing proposals are dropped, never retried.
package arbiter

import (
	"fmt"

	"go.uber.org/zap"

	"decisiond/internal/logging"
	"decisiond/internal/resource"
	"decisiond/internal/types"
)

// Verdict is the outcome of validating one proposal against one context.
type Verdict struct {
	// OK is true only when no rule produced a violation.
	OK bool

	// Status is set by the first failing rule; StatusCompliant when OK.
	Status types.ComplianceStatus

	// Violations collects every violation found, not just the first.
	Violations []string
}

// Arbiter validates proposals against safety flags, declared compliance and
// resource availability, in that fixed order.
type Arbiter struct {
	policy  *PolicyStore
	monitor resource.Monitor
}

// New builds an arbiter. The policy store supplies the active policy (and its
// version stamp); the monitor supplies availability snapshots at validation time.
func New(policy *PolicyStore, monitor resource.Monitor) *Arbiter {
	return &Arbiter{policy: policy, monitor: monitor}
}

// PolicyVersion exposes the active policy version for decision stamping.
func (a *Arbiter) PolicyVersion() string {
	return a.policy.Current().Version
}

// Validate applies the safety rules to one proposal. Rules run in fixed order
// and the first failing rule determines Status, but all violations are
// collected so operators see the full picture in logs.
func (a *Arbiter) Validate(p *types.Proposal, cv *types.ContextVector) Verdict {
	pol := a.policy.Current()
	v := Verdict{OK: true, Status: types.StatusCompliant}

	fail := func(status types.ComplianceStatus, msg string) {
		if v.OK {
			v.OK = false
			v.Status = status
		}
		v.Violations = append(v.Violations, msg)
	}

	// Rule 1: any active safety flag rejects regardless of proposal content.
	for _, flag := range cv.SafetyFlags {
		fail(types.StatusSafetyViolation, fmt.Sprintf("active safety flag: %s", flag))
	}

	// Rule 2: the proposal must self-declare compliant.
	if p.ComplianceStatus != types.StatusCompliant {
		fail(types.StatusComplianceViolation,
			fmt.Sprintf("proposal declares compliance status %q", p.ComplianceStatus))
	}

	// Rule 3: declared resource demand must fit the availability snapshot,
	// after the policy's reserved headroom is taken off the top.
	snap := a.monitor.Snapshot()
	if pol.ResourceHeadroom > 0 {
		for k, free := range snap {
			snap[k] = free * (1 - pol.ResourceHeadroom)
		}
	}
	for _, key := range snap.Exceeds(p.RequiredResources) {
		fail(types.StatusResourceViolation,
			fmt.Sprintf("required %s %.2f exceeds availability", key, p.RequiredResources[key]))
	}

	// Policy rules: actions above the configured safety-impact ceiling or on
	// the operator's block list are treated as non-compliant.
	if pol.MaxSafetyImpact != "" && impactRank(p.SafetyImpact) > impactRank(pol.MaxSafetyImpact) {
		fail(types.StatusComplianceViolation,
			fmt.Sprintf("safety impact %q above policy ceiling %q", p.SafetyImpact, pol.MaxSafetyImpact))
	}
	if pol.Blocks(p.ActionID) {
		fail(types.StatusComplianceViolation,
			fmt.Sprintf("action %q blocked by policy %s", p.ActionID, pol.Version))
	}

	if !v.OK {
		logging.L(logging.CategoryArbiter).Info("proposal rejected",
			zap.String("agent_id", p.AgentID),
			zap.String("action_id", p.ActionID),
			zap.String("status", string(v.Status)),
			zap.Strings("violations", v.Violations))
	}
	return v
}

func impactRank(i types.SafetyImpact) int {
	switch i {
	case types.ImpactNone:
		return 0
	case types.ImpactLow:
		return 1
	case types.ImpactMedium:
		return 2
	case types.ImpactHigh:
		return 3
	default:
		// Unknown impact grades rank highest: fail closed.
		return 4
	}
}
