package selector

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"decisiond/internal/config"
	"decisiond/internal/resource"
	"decisiond/internal/solver"
	"decisiond/internal/types"
)

// fakeSolver returns a scripted result without any network.
type fakeSolver struct {
	result    *solver.RawResult
	submitErr error
	problems  []*solver.Problem
}

func (f *fakeSolver) Submit(_ context.Context, p *solver.Problem) (solver.JobRef, error) {
	f.problems = append(f.problems, p)
	if f.submitErr != nil {
		return solver.JobRef{}, f.submitErr
	}
	return solver.JobRef{ID: "fake-job-1", SubmittedAt: time.Now()}, nil
}

func (f *fakeSolver) Poll(context.Context, solver.JobRef) (*solver.RawResult, error) {
	return f.result, nil
}

func (f *fakeSolver) Version() string { return "fake-annealer/v1" }

func solverCfg() config.SolverConfig {
	return config.SolverConfig{
		PollInterval: time.Millisecond,
		Deadline:     time.Second,
		NumReads:     10,
	}
}

func monitor() resource.Monitor {
	return resource.NewStaticMonitor(config.ResourcesConfig{
		CPU: 8, MemoryMB: 16384, AcceleratorMB: 8192,
		SolverCapacity: 10, NetworkMbps: 1000, StorageMB: 102400,
	})
}

func proposal(agent string, kind types.AgentKind, action string, reward, confidence float64) *types.Proposal {
	return &types.Proposal{
		AgentID:          agent,
		AgentKind:        kind,
		ActionID:         action,
		EstimatedReward:  reward,
		Confidence:       confidence,
		ComplianceStatus: types.StatusCompliant,
		RequiredResources: map[string]float64{
			resource.KeyCPU: 0.1,
		},
		Payload: map[string]any{"k": agent},
	}
}

func cv() *types.ContextVector {
	return &types.ContextVector{SubjectID: "veh-1", Timestamp: time.Now()}
}

func policyVersion() string { return "policy-v1" }

func TestSelect_NoProposals(t *testing.T) {
	s := New(nil, monitor(), solverCfg(), policyVersion)
	_, err := s.Select(context.Background(), nil, cv())
	assert.ErrorIs(t, err, ErrNoProposals)
}

func TestSelect_SingleProposalPassthrough(t *testing.T) {
	fake := &fakeSolver{}
	s := New(fake, monitor(), solverCfg(), policyVersion)

	p := proposal("offer-1", types.KindOffer, "offer.charging_discount", 5.0, 0.9)
	res, err := s.Select(context.Background(), []*types.Proposal{p}, cv())
	require.NoError(t, err)

	d := res.Decision
	assert.False(t, res.UsedFallback)
	assert.Empty(t, fake.problems, "no optimization for a single survivor")
	assert.Equal(t, "offer.charging_discount", d.ActionID)
	assert.Equal(t, p.Payload, d.Payload)
	assert.Equal(t, p.RequiredResources, d.RequiredResources)
	assert.InDelta(t, 4.5, d.ExpectedValue, 1e-9)
	assert.Equal(t, 0.9, d.Confidence)
	assert.Equal(t, "direct/v1", d.SolverVersion)
	assert.Equal(t, "policy-v1", d.PolicyVersion)
	assert.NotEmpty(t, d.DecisionID)
	assert.NotEmpty(t, d.Signature)
	assert.NotEmpty(t, d.RollbackPlan)
}

func TestSelect_SolverPicksSingle(t *testing.T) {
	fake := &fakeSolver{result: &solver.RawResult{
		Status:    solver.JobCompleted,
		Solutions: [][]int{{0, 1}},
	}}
	s := New(fake, monitor(), solverCfg(), policyVersion)

	ps := []*types.Proposal{
		proposal("offer-1", types.KindOffer, "offer.a", 5.0, 0.9),
		proposal("risk-1", types.KindRisk, "risk.b", 4.0, 0.85),
	}
	res, err := s.Select(context.Background(), ps, cv())
	require.NoError(t, err)

	assert.False(t, res.UsedFallback)
	assert.Equal(t, []string{"fake-job-1"}, res.SolverJobs)
	assert.Equal(t, "risk.b", res.Decision.ActionID)
	assert.Equal(t, "fake-annealer/v1", res.Decision.SolverVersion)
}

func TestSelect_CompositeMerge(t *testing.T) {
	fake := &fakeSolver{result: &solver.RawResult{
		Status:    solver.JobCompleted,
		Solutions: [][]int{{1, 1}},
	}}
	s := New(fake, monitor(), solverCfg(), policyVersion)

	ps := []*types.Proposal{
		proposal("offer-1", types.KindOffer, "offer.a", 5.0, 0.9),
		proposal("channel-1", types.KindChannel, "channel.push", 1.5, 0.8),
	}
	res, err := s.Select(context.Background(), ps, cv())
	require.NoError(t, err)

	d := res.Decision
	assert.Equal(t, "composite:2", d.ActionID)
	assert.InDelta(t, 4.5+1.2, d.ExpectedValue, 1e-9, "expected value sums selected proposals")
	assert.InDelta(t, (0.9+0.8)/2, d.Confidence, 1e-9, "confidence is the mean")
	assert.InDelta(t, 0.2, d.RequiredResources[resource.KeyCPU], 1e-9, "resources summed per key")

	// Payload keyed by agent kind.
	require.Contains(t, d.Payload, "offer")
	require.Contains(t, d.Payload, "channel")
}

func TestSelect_FallbackOnSubmitError(t *testing.T) {
	fake := &fakeSolver{submitErr: errors.New("gateway down")}
	s := New(fake, monitor(), solverCfg(), policyVersion)

	ps := []*types.Proposal{
		proposal("offer-1", types.KindOffer, "offer.a", 5.0, 0.9),
		proposal("timing-1", types.KindTiming, "timing.b", 1.0, 0.5),
	}
	res, err := s.Select(context.Background(), ps, cv())
	require.NoError(t, err)

	assert.True(t, res.UsedFallback)
	assert.Equal(t, "offer.a", res.Decision.ActionID, "greedy picks 4.5 over 0.5")
	assert.Equal(t, "classical/v1", res.Decision.SolverVersion)
}

func TestSelect_FallbackOnUnusableResult(t *testing.T) {
	// Energy-only summary with no solution vector: unparseable.
	fake := &fakeSolver{result: &solver.RawResult{
		Status:  solver.JobCompleted,
		Samples: []solver.Sample{{Energy: -9.9, Occurrences: 3}},
	}}
	s := New(fake, monitor(), solverCfg(), policyVersion)

	ps := []*types.Proposal{
		proposal("offer-1", types.KindOffer, "offer.a", 1.0, 0.5),
		proposal("risk-1", types.KindRisk, "risk.b", 4.0, 0.85),
	}
	res, err := s.Select(context.Background(), ps, cv())
	require.NoError(t, err)

	assert.True(t, res.UsedFallback)
	assert.Equal(t, "risk.b", res.Decision.ActionID)
}

func TestSelect_FallbackOnAllZeroSelection(t *testing.T) {
	fake := &fakeSolver{result: &solver.RawResult{
		Status:    solver.JobCompleted,
		Solutions: [][]int{{0, 0}},
	}}
	s := New(fake, monitor(), solverCfg(), policyVersion)

	ps := []*types.Proposal{
		proposal("offer-1", types.KindOffer, "offer.a", 5.0, 0.9),
		proposal("risk-1", types.KindRisk, "risk.b", 4.0, 0.85),
	}
	res, err := s.Select(context.Background(), ps, cv())
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, "offer.a", res.Decision.ActionID)
}

// blockingSolver never completes a job; Poll parks until the context ends.
type blockingSolver struct{}

func (blockingSolver) Submit(context.Context, *solver.Problem) (solver.JobRef, error) {
	return solver.JobRef{ID: "stuck-1", SubmittedAt: time.Now()}, nil
}

func (blockingSolver) Poll(ctx context.Context, _ solver.JobRef) (*solver.RawResult, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func (blockingSolver) Version() string { return "stuck/v1" }

func TestSelect_CancellationPropagates(t *testing.T) {
	s := New(blockingSolver{}, monitor(), solverCfg(), policyVersion)

	ps := []*types.Proposal{
		proposal("offer-1", types.KindOffer, "offer.a", 5.0, 0.9),
		proposal("risk-1", types.KindRisk, "risk.b", 4.0, 0.85),
	}

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	// A cancelled cycle must not be rescued by the classical rule.
	res, err := s.Select(ctx, ps, cv())
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, res)
}

func TestSelect_SolverDeadlineStillFallsBack(t *testing.T) {
	cfg := solverCfg()
	cfg.Deadline = 30 * time.Millisecond
	s := New(blockingSolver{}, monitor(), cfg, policyVersion)

	ps := []*types.Proposal{
		proposal("offer-1", types.KindOffer, "offer.a", 5.0, 0.9),
		proposal("risk-1", types.KindRisk, "risk.b", 4.0, 0.85),
	}

	// The bounded solver deadline expires while the caller is still live.
	res, err := s.Select(context.Background(), ps, cv())
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, "offer.a", res.Decision.ActionID)
}

func TestSelect_FallbackDeterministic(t *testing.T) {
	fake := &fakeSolver{submitErr: errors.New("down")}
	s := New(fake, monitor(), solverCfg(), policyVersion)

	// Tie on expected value: earliest proposal order wins, every time.
	ps := []*types.Proposal{
		proposal("a", types.KindOffer, "offer.first", 3.0, 0.5),
		proposal("b", types.KindRisk, "risk.second", 1.5, 1.0),
	}
	for i := 0; i < 5; i++ {
		res, err := s.Select(context.Background(), ps, cv())
		require.NoError(t, err)
		assert.Equal(t, "offer.first", res.Decision.ActionID)
	}
}

func TestSelect_NilClientAlwaysClassical(t *testing.T) {
	s := New(nil, monitor(), solverCfg(), policyVersion)

	ps := []*types.Proposal{
		proposal("offer-1", types.KindOffer, "offer.a", 5.0, 0.9),
		proposal("timing-1", types.KindTiming, "timing.b", 1.0, 0.5),
	}
	res, err := s.Select(context.Background(), ps, cv())
	require.NoError(t, err)
	assert.True(t, res.UsedFallback)
	assert.Equal(t, "offer.a", res.Decision.ActionID)
}

func TestBuildProblem_Encoding(t *testing.T) {
	snap := monitor().Snapshot()

	ps := []*types.Proposal{
		proposal("offer-1", types.KindOffer, "offer.a", 5.0, 0.9),
		proposal("offer-2", types.KindOffer, "offer.b", 2.0, 0.5),
		proposal("risk-1", types.KindRisk, "risk.c", 4.0, 0.85),
	}
	ps[2].Payload["high_priority"] = true

	p := buildProblem(ps, snap, 10, "t")
	require.Equal(t, 3, p.Size())

	assert.InDelta(t, -4.5, p.Matrix[0][0], 1e-9)
	assert.InDelta(t, -1.0, p.Matrix[1][1], 1e-9)
	assert.InDelta(t, -3.4-priorityBonus, p.Matrix[2][2], 1e-9, "high priority biases the diagonal")

	// Same action class: mutual exclusion penalty, split symmetrically.
	assert.InDelta(t, conflictPenalty/2, p.Matrix[0][1], 1e-9)
	assert.InDelta(t, p.Matrix[0][1], p.Matrix[1][0], 1e-9)

	// Different classes, resources fit: no coupling.
	assert.Zero(t, p.Matrix[0][2])
}

func TestBuildProblem_ResourcePenalty(t *testing.T) {
	snap := resource.Snapshot{resource.KeyCPU: 1}

	a := proposal("a", types.KindOffer, "offer.a", 1, 1)
	b := proposal("b", types.KindRisk, "risk.b", 1, 1)
	a.RequiredResources = map[string]float64{resource.KeyCPU: 0.7}
	b.RequiredResources = map[string]float64{resource.KeyCPU: 0.7}

	p := buildProblem([]*types.Proposal{a, b}, snap, 10, "t")
	assert.InDelta(t, resourcePenalty/2, p.Matrix[0][1], 1e-9,
		"pair exceeding availability is penalized")
}

func TestSelect_ExclusiveResourceConflict(t *testing.T) {
	a := proposal("a", types.KindOffer, "offer.a", 1, 1)
	b := proposal("b", types.KindRisk, "risk.b", 1, 1)
	a.Payload["exclusive_resource"] = "hmi_screen"
	b.Payload["exclusive_resource"] = "hmi_screen"

	p := buildProblem([]*types.Proposal{a, b}, monitor().Snapshot(), 10, "t")
	assert.InDelta(t, conflictPenalty/2, p.Matrix[0][1], 1e-9)
}
