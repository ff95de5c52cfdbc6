// Package selector chooses the action for a decision cycle. It prefers the
// external combinatorial solver when several proposals survive validation and
// always keeps the classical greedy rule as a deterministic fallback, so a
// cycle produces a decision no matter what the solver does.
package selector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"decisiond/internal/config"
	"decisiond/internal/logging"
	"decisiond/internal/resource"
	"decisiond/internal/solver"
	"decisiond/internal/types"
)

// Solver version stamps for selections made without the external service.
const (
	versionDirect    = "direct/v1"    // single survivor, no optimization
	versionClassical = "classical/v1" // greedy fallback
)

// ErrNoProposals is returned when Select is called with nothing to choose
// from; the engine filters that case out beforehand.
var ErrNoProposals = errors.New("no proposals to select from")

// Result carries the decision plus cycle bookkeeping for metrics and audit.
type Result struct {
	Decision     *types.Decision
	UsedFallback bool
	SolverJobs   []string
}

// Selector builds the optimization problem over surviving proposals, submits
// it, parses the response defensively and merges the selection into one
// decision.
type Selector struct {
	client       solver.Client // nil disables the solver path entirely
	monitor      resource.Monitor
	pollInterval time.Duration
	deadline     time.Duration
	numReads     int

	// policyVersion supplies the arbiter policy stamp for decisions.
	policyVersion func() string
}

// New builds a selector. client may be nil, in which case every multi-proposal
// selection uses the classical rule.
func New(client solver.Client, monitor resource.Monitor, cfg config.SolverConfig, policyVersion func() string) *Selector {
	if policyVersion == nil {
		policyVersion = func() string { return "" }
	}
	return &Selector{
		client:       client,
		monitor:      monitor,
		pollInterval: cfg.PollInterval,
		deadline:     cfg.Deadline,
		numReads:     cfg.NumReads,
		policyVersion: policyVersion,
	}
}

// Select returns the decision for the surviving proposals. Solver failures,
// solver-deadline expiry and unparseable results never propagate: the
// classical rule answers instead, and Result.UsedFallback reports it.
// Cancellation of the caller's context does propagate; a cancelled cycle
// yields no decision.
func (s *Selector) Select(ctx context.Context, proposals []*types.Proposal, cv *types.ContextVector) (*Result, error) {
	switch len(proposals) {
	case 0:
		return nil, ErrNoProposals
	case 1:
		d, err := s.buildDecision([]*types.Proposal{proposals[0]}, versionDirect, proposals[0].Rationale)
		if err != nil {
			return nil, err
		}
		return &Result{Decision: d}, nil
	}

	log := logging.L(logging.CategorySelector)

	if s.client == nil {
		d, err := s.classical(proposals)
		return &Result{Decision: d, UsedFallback: true}, err
	}

	problem := buildProblem(proposals, s.monitor.Snapshot(), s.numReads, "cycle-"+cv.SubjectID)

	sctx, cancel := context.WithTimeout(ctx, s.deadline)
	defer cancel()

	var jobs []string
	raw, ref, err := solver.Solve(sctx, s.client, problem, s.pollInterval)
	if ref.ID != "" {
		jobs = append(jobs, ref.ID)
	}
	if err != nil {
		// Caller cancellation is not a solver failure: a cancelled cycle
		// produces no decision at all. Only the bounded solver deadline and
		// genuine solver errors divert to the classical rule.
		if cerr := ctx.Err(); cerr != nil {
			return nil, fmt.Errorf("solver wait: %w", cerr)
		}
		log.Warn("solver unavailable, using classical fallback",
			zap.String("subject_id", cv.SubjectID), zap.Error(err))
		d, cerr := s.classical(proposals)
		return &Result{Decision: d, UsedFallback: true, SolverJobs: jobs}, cerr
	}

	selected, err := solver.ExtractSelection(raw, len(proposals))
	if err != nil || len(selected) == 0 {
		// An unusable or empty selection is never mapped onto an arbitrary
		// proposal; the deterministic rule decides instead.
		log.Warn("solver result unusable, using classical fallback",
			zap.String("subject_id", cv.SubjectID), zap.Error(err))
		d, cerr := s.classical(proposals)
		return &Result{Decision: d, UsedFallback: true, SolverJobs: jobs}, cerr
	}

	chosen := make([]*types.Proposal, 0, len(selected))
	for _, idx := range selected {
		chosen = append(chosen, proposals[idx])
	}

	rationale := fmt.Sprintf("solver selected %d of %d proposals", len(chosen), len(proposals))
	d, err := s.buildDecision(chosen, s.client.Version(), rationale)
	if err != nil {
		return nil, err
	}
	return &Result{Decision: d, SolverJobs: jobs}, nil
}

// classical is the deterministic greedy rule: the single proposal maximizing
// reward × confidence, ties broken by earliest proposal order.
func (s *Selector) classical(proposals []*types.Proposal) (*types.Decision, error) {
	best := 0
	for i, p := range proposals {
		if p.ExpectedValue() > proposals[best].ExpectedValue() {
			best = i
		}
	}
	p := proposals[best]
	rationale := fmt.Sprintf("classical fallback: %s maximizes expected value %.3f", p.ActionID, p.ExpectedValue())
	return s.buildDecision([]*types.Proposal{p}, versionClassical, rationale)
}

// buildDecision wraps one or more selected proposals into an immutable,
// signed decision. A single proposal passes through unchanged; multiple
// proposals merge into a composite.
func (s *Selector) buildDecision(chosen []*types.Proposal, solverVersion, rationale string) (*types.Decision, error) {
	d := &types.Decision{
		DecisionID:    uuid.NewString(),
		SolverVersion: solverVersion,
		PolicyVersion: s.policyVersion(),
		Rationale:     rationale,
		Timestamp:     time.Now().UTC(),
	}

	if len(chosen) == 1 {
		p := chosen[0]
		d.ActionID = p.ActionID
		d.Payload = p.Payload
		d.RequiredResources = p.RequiredResources
		d.ExpectedValue = p.ExpectedValue()
		d.Confidence = p.Confidence
		d.RollbackPlan = rollbackPlanFor(p.ActionID)
	} else {
		payload := make(map[string]any, len(chosen))
		resources := make(map[string]float64)
		// Value stays confidence-weighted so composites compare against
		// single selections and the optimization objective on one scale.
		var value, confidence float64
		for _, p := range chosen {
			payload[string(p.AgentKind)] = map[string]any{
				"action_id": p.ActionID,
				"payload":   p.Payload,
			}
			for k, v := range p.RequiredResources {
				resources[k] += v
			}
			value += p.ExpectedValue()
			confidence += p.Confidence
		}
		d.ActionID = fmt.Sprintf("composite:%d", len(chosen))
		d.Payload = payload
		d.RequiredResources = resources
		d.ExpectedValue = value
		d.Confidence = confidence / float64(len(chosen))
		d.RollbackPlan = "roll back each component action in reverse order"
	}

	if err := d.Sign(); err != nil {
		return nil, err
	}
	return d, nil
}

// rollbackPlanFor maps an action class to its undo procedure.
func rollbackPlanFor(actionID string) string {
	switch actionClass(actionID) {
	case "offer":
		return "revoke the offer and notify the subject"
	case "timing":
		return "cancel the scheduled engagement"
	case "channel":
		return "suppress the queued message"
	case "risk":
		return "restore the previous feature configuration"
	default:
		return "escalate to manual review"
	}
}
