package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"decisiond/internal/agent"
	"decisiond/internal/arbiter"
	"decisiond/internal/audit"
	"decisiond/internal/config"
	"decisiond/internal/resource"
	"decisiond/internal/selector"
	"decisiond/internal/telemetry"
	"decisiond/internal/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// go.opencensus.io/stats/view starts a background worker in its
		// package init; it is not a goroutine leaked by the engine.
		goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"),
	)
}

// newTestEngine wires a full engine with the built-in agents, no persistent
// audit store and no external solver (every multi-proposal selection uses the
// classical rule).
func newTestEngine(t *testing.T, maxConcurrent int) (*Engine, *audit.Trail, *telemetry.MemorySink) {
	t.Helper()

	mon := resource.NewStaticMonitor(config.ResourcesConfig{
		CPU: 8, MemoryMB: 16384, AcceleratorMB: 8192,
		SolverCapacity: 10, NetworkMbps: 1000, StorageMB: 102400,
	})

	reg := agent.NewRegistry(time.Second)
	require.NoError(t, reg.Register("offer-1", types.KindOffer, agent.NewOfferAgent()))
	require.NoError(t, reg.Register("timing-1", types.KindTiming, agent.NewTimingAgent()))
	require.NoError(t, reg.Register("channel-1", types.KindChannel, agent.NewChannelAgent()))
	require.NoError(t, reg.Register("risk-1", types.KindRisk, agent.NewRiskAgent()))

	arb := arbiter.New(arbiter.NewPolicyStore(arbiter.DefaultPolicy()), mon)
	sel := selector.New(nil, mon, config.SolverConfig{
		PollInterval: time.Millisecond,
		Deadline:     time.Second,
		NumReads:     10,
	}, arb.PolicyVersion)

	trail := audit.NewTrail(nil, 3)
	sink := telemetry.NewMemorySink()
	return New(reg, arb, sel, trail, sink, maxConcurrent), trail, sink
}

func lowBatteryContext(subject string) *types.ContextVector {
	return &types.ContextVector{
		SubjectID:    subject,
		Timestamp:    time.Now().UTC(),
		Telemetry:    map[string]any{"battery_level": 25.0},
		ConsentLevel: "basic",
	}
}

func TestProcess_LowBatteryScenario(t *testing.T) {
	eng, trail, sink := newTestEngine(t, 1)

	// Battery at 25% with basic consent: the charging discount (4.5 expected
	// value) must beat the email channel (0.6).
	d, err := eng.Process(context.Background(), lowBatteryContext("veh-1"))
	require.NoError(t, err)
	require.NotNil(t, d)

	assert.Equal(t, "offer.charging_discount", d.ActionID)
	assert.InDelta(t, 4.5, d.ExpectedValue, 1e-9)
	assert.NotEmpty(t, d.Signature)
	assert.Equal(t, "builtin-v1", d.PolicyVersion)

	require.Equal(t, 1, trail.Len())
	entry := trail.Entries()[0]
	assert.Equal(t, d.DecisionID, entry.DecisionID)
	assert.Len(t, entry.Proposals, 2, "both raw proposals recorded")
	ok, _ := trail.VerifyChain()
	assert.True(t, ok)

	cycles := sink.Cycles()
	require.Len(t, cycles, 1)
	assert.True(t, cycles[0].DecisionMade)
	assert.Equal(t, 2, cycles[0].ProposalCount)

	m := eng.Metrics()
	assert.Equal(t, int64(1), m.Decisions)
	assert.Equal(t, int64(0), m.Faults)
}

func TestProcess_SafetyFlagBlocksEverything(t *testing.T) {
	eng, trail, sink := newTestEngine(t, 1)

	cv := lowBatteryContext("veh-2")
	cv.SafetyFlags = []string{"high_speed_warning"}

	d, err := eng.Process(context.Background(), cv)
	require.NoError(t, err)
	assert.Nil(t, d, "no decision while a safety flag is active")
	assert.Equal(t, 0, trail.Len(), "safety-blocked cycles write no decision entry")

	cycles := sink.Cycles()
	require.Len(t, cycles, 1)
	assert.False(t, cycles[0].DecisionMade)
	assert.Equal(t, 2, cycles[0].SafetyViolations)

	m := eng.Metrics()
	assert.Equal(t, int64(1), m.NoDecision)
	assert.Equal(t, int64(2), m.SafetyViolations)
}

func TestProcess_NoTriggeringSignals(t *testing.T) {
	eng, trail, _ := newTestEngine(t, 1)

	// Healthy battery, no consent, no scores: every agent declines.
	d, err := eng.Process(context.Background(), &types.ContextVector{
		SubjectID: "veh-3",
		Timestamp: time.Now().UTC(),
		Telemetry: map[string]any{"battery_level": 90.0},
	})
	require.NoError(t, err)
	assert.Nil(t, d)
	assert.Equal(t, 0, trail.Len())
}

func TestProcess_MalformedContext(t *testing.T) {
	eng, trail, _ := newTestEngine(t, 1)

	_, err := eng.Process(context.Background(), &types.ContextVector{})
	assert.ErrorIs(t, err, ErrMalformedContext)
	assert.Equal(t, 0, trail.Len())
	assert.Equal(t, int64(1), eng.Metrics().Faults)
}

func TestProcess_KindFilter(t *testing.T) {
	eng, _, _ := newTestEngine(t, 1)

	// Only the channel agent is consulted, so the offer never appears.
	d, err := eng.Process(context.Background(), lowBatteryContext("veh-4"), types.KindChannel)
	require.NoError(t, err)
	require.NotNil(t, d)
	assert.Equal(t, "channel.email", d.ActionID)
}

func TestProcessBatch_ConcurrentCyclesStayIsolated(t *testing.T) {
	const n = 16
	eng, trail, _ := newTestEngine(t, 4)

	// Even subjects trigger the offer path, odd subjects only the push
	// channel; each decision must reflect its own context.
	cvs := make([]*types.ContextVector, n)
	for i := range cvs {
		if i%2 == 0 {
			cvs[i] = lowBatteryContext(fmt.Sprintf("veh-%d", i))
		} else {
			cvs[i] = &types.ContextVector{
				SubjectID:    fmt.Sprintf("veh-%d", i),
				Timestamp:    time.Now().UTC(),
				ConsentLevel: "full",
			}
		}
	}

	decisions, err := eng.ProcessBatch(context.Background(), cvs)
	require.NoError(t, err)
	require.Len(t, decisions, n)

	for i, d := range decisions {
		require.NotNil(t, d, "cycle %d", i)
		if i%2 == 0 {
			assert.Equal(t, "offer.charging_discount", d.ActionID, "cycle %d", i)
		} else {
			assert.Equal(t, "channel.push", d.ActionID, "cycle %d", i)
		}
	}

	// The chain serialized every append and stayed intact.
	assert.Equal(t, n, trail.Len())
	ok, broken := trail.VerifyChain()
	require.True(t, ok, "broken at %+v", broken)
	assert.Equal(t, int64(n), eng.Metrics().Decisions)
}

// failStore rejects every append so the trail trips its failure limit.
type failStore struct{}

func (failStore) AppendEntry(*audit.Entry) error        { return errors.New("disk gone") }
func (failStore) LoadEntries() ([]*audit.Entry, error)  { return nil, nil }
func (failStore) Close() error                          { return nil }

func TestProcess_TrailFailureIsFatalButPreservesDecision(t *testing.T) {
	mon := resource.NewStaticMonitor(config.ResourcesConfig{
		CPU: 8, MemoryMB: 16384, AcceleratorMB: 8192,
		SolverCapacity: 10, NetworkMbps: 1000, StorageMB: 102400,
	})
	reg := agent.NewRegistry(time.Second)
	require.NoError(t, reg.Register("offer-1", types.KindOffer, agent.NewOfferAgent()))
	arb := arbiter.New(arbiter.NewPolicyStore(arbiter.DefaultPolicy()), mon)
	sel := selector.New(nil, mon, config.SolverConfig{Deadline: time.Second, NumReads: 10}, arb.PolicyVersion)
	trail := audit.NewTrail(failStore{}, 1)
	eng := New(reg, arb, sel, trail, telemetry.NewMemorySink(), 1)

	d, err := eng.Process(context.Background(), lowBatteryContext("veh-5"))
	assert.ErrorIs(t, err, audit.ErrTrailFailed)
	require.NotNil(t, d, "the in-memory decision survives the audit failure")
	assert.Equal(t, "offer.charging_discount", d.ActionID)

	// Subsequent cycles refuse to proceed past the audit step.
	_, err = eng.Process(context.Background(), lowBatteryContext("veh-6"))
	assert.ErrorIs(t, err, audit.ErrTrailFailed)
}
