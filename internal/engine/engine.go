// Package engine sequences one decision cycle: observe the context, fan out
// to the agents, gate the proposals through the arbiter, select an action and
// append the audit record. One state machine instance processes one context
// end-to-end; concurrent contexts run independent cycles that share only the
// audit chain tail and the aggregate metrics counters.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"decisiond/internal/agent"
	"decisiond/internal/arbiter"
	"decisiond/internal/audit"
	"decisiond/internal/logging"
	"decisiond/internal/selector"
	"decisiond/internal/telemetry"
	"decisiond/internal/types"
)

// Phase is a step of the decision-cycle state machine.
type Phase string

const (
	PhaseIdle       Phase = "idle"
	PhaseObserving  Phase = "observing"
	PhaseProposing  Phase = "proposing"
	PhaseValidating Phase = "validating"
	PhaseDeciding   Phase = "deciding"
	PhaseActing     Phase = "acting"
	PhaseLearning   Phase = "learning"
	PhaseFaulted    Phase = "faulted"
)

// ErrMalformedContext wraps context validation failures; no agent runs for a
// malformed context.
var ErrMalformedContext = errors.New("malformed context")

// Engine owns the per-cycle sequencing. All collaborators are injected at
// construction; there is no implicit global state anywhere in the core.
type Engine struct {
	registry *agent.Registry
	arbiter  *arbiter.Arbiter
	selector *selector.Selector
	trail    *audit.Trail
	sink     telemetry.Sink

	metrics Metrics
	sem     *semaphore.Weighted
}

// New wires an engine from its collaborators. sink may be nil.
func New(registry *agent.Registry, arb *arbiter.Arbiter, sel *selector.Selector, trail *audit.Trail, sink telemetry.Sink, maxConcurrentCycles int) *Engine {
	if maxConcurrentCycles < 1 {
		maxConcurrentCycles = 1
	}
	if sink == nil {
		sink = telemetry.LogSink{}
	}
	return &Engine{
		registry: registry,
		arbiter:  arb,
		selector: sel,
		trail:    trail,
		sink:     sink,
		sem:      semaphore.NewWeighted(int64(maxConcurrentCycles)),
	}
}

// Process runs one full decision cycle for the context. It returns (nil, nil)
// when no proposal survives validation, which is a normal outcome rather than
// an error. kinds restricts the consulted agents; empty means all.
func (e *Engine) Process(ctx context.Context, cv *types.ContextVector, kinds ...types.AgentKind) (*types.Decision, error) {
	start := time.Now()
	log := logging.L(logging.CategoryEngine)

	cycle := &cycleState{phase: PhaseIdle, log: log}

	decision, err := e.runCycle(ctx, cv, kinds, cycle)
	latency := time.Since(start)

	if err != nil {
		cycle.transition(PhaseFaulted)
		e.metrics.faults.Add(1)
		log.Error("cycle faulted",
			zap.String("subject_id", subjectOf(cv)),
			zap.String("phase", string(cycle.phase)),
			zap.Error(err))
	}
	if decision == nil && err == nil {
		e.metrics.noDecision.Add(1)
	}

	e.metrics.observeLatency(latency)
	e.sink.RecordCycle(telemetry.CycleStats{
		SubjectID:        subjectOf(cv),
		DecisionMade:     decision != nil,
		ProposalCount:    cycle.proposalCount,
		SafetyViolations: cycle.safetyViolations,
		SolverFallback:   cycle.usedFallback,
		Faulted:          err != nil,
		Latency:          latency,
	})

	return decision, err
}

// cycleState is the per-context state machine instance.
type cycleState struct {
	phase            Phase
	log              *zap.Logger
	proposalCount    int
	safetyViolations int
	usedFallback     bool
}

func (c *cycleState) transition(next Phase) {
	c.log.Debug("phase transition",
		zap.String("from", string(c.phase)), zap.String("to", string(next)))
	c.phase = next
}

func (e *Engine) runCycle(ctx context.Context, cv *types.ContextVector, kinds []types.AgentKind, cycle *cycleState) (*types.Decision, error) {
	// OBSERVING: fail fast on malformed input, before any agent is invoked.
	cycle.transition(PhaseObserving)
	if err := cv.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContext, err)
	}

	// PROPOSING: parallel fan-out; per-agent failures degrade the set only.
	cycle.transition(PhaseProposing)
	proposals, err := e.registry.CollectProposals(ctx, cv, kinds)
	if err != nil {
		// Cancelled before Decide: partial proposals are discarded and no
		// audit entry is ever written.
		return nil, fmt.Errorf("collect proposals: %w", err)
	}
	cycle.proposalCount = len(proposals)

	// VALIDATING: the non-bypassable floor.
	cycle.transition(PhaseValidating)
	var (
		surviving []*types.Proposal
		checks    []audit.SafetyCheck
	)
	for _, p := range proposals {
		verdict := e.arbiter.Validate(p, cv)
		checks = append(checks, audit.SafetyCheck{
			AgentID:    p.AgentID,
			ActionID:   p.ActionID,
			Status:     verdict.Status,
			Violations: verdict.Violations,
		})
		if verdict.OK {
			surviving = append(surviving, p)
		} else {
			cycle.safetyViolations++
			e.metrics.safetyViolations.Add(1)
		}
	}

	if len(surviving) == 0 {
		// Nothing survived: not an error, and no decision entry is written.
		cycle.transition(PhaseIdle)
		return nil, nil
	}

	// DECIDING: optimize, or fall back deterministically.
	cycle.transition(PhaseDeciding)
	result, err := e.selector.Select(ctx, surviving, cv)
	if err != nil {
		return nil, fmt.Errorf("select action: %w", err)
	}
	cycle.usedFallback = result.UsedFallback
	if result.UsedFallback {
		e.metrics.solverFallbacks.Add(1)
	}

	// ACTING: the decision becomes part of the permanent record.
	cycle.transition(PhaseActing)
	if _, err := e.trail.Append(cv, proposals, result.Decision, result.SolverJobs, checks); err != nil {
		if errors.Is(err, audit.ErrTrailFailed) {
			// The decision stands, but the engine refuses to continue
			// silently without an audit record.
			e.metrics.decisions.Add(1)
			return result.Decision, err
		}
		logging.L(logging.CategoryAudit).Warn("audit append degraded",
			zap.String("decision_id", result.Decision.DecisionID), zap.Error(err))
	}

	// LEARNING: aggregate counters feed future tuning.
	cycle.transition(PhaseLearning)
	e.metrics.decisions.Add(1)

	cycle.transition(PhaseIdle)
	return result.Decision, nil
}

// ProcessBatch runs independent cycles for several contexts in parallel,
// bounded by the configured concurrency. The returned slice is positionally
// aligned with the input; a faulted cycle leaves a nil decision and the
// combined errors are returned after every cycle finishes.
func (e *Engine) ProcessBatch(ctx context.Context, cvs []*types.ContextVector, kinds ...types.AgentKind) ([]*types.Decision, error) {
	decisions := make([]*types.Decision, len(cvs))
	errs := make([]error, len(cvs))

	var wg sync.WaitGroup
	for i, cv := range cvs {
		if err := e.sem.Acquire(ctx, 1); err != nil {
			errs[i] = err
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer e.sem.Release(1)
			decisions[i], errs[i] = e.Process(ctx, cv, kinds...)
		}()
	}
	wg.Wait()

	return decisions, errors.Join(errs...)
}

func subjectOf(cv *types.ContextVector) string {
	if cv == nil {
		return ""
	}
	return cv.SubjectID
}
