package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"decisiond/internal/agent"
	"decisiond/internal/arbiter"
	"decisiond/internal/audit"
	"decisiond/internal/config"
	"decisiond/internal/engine"
	"decisiond/internal/logging"
	"decisiond/internal/resource"
	"decisiond/internal/selector"
	"decisiond/internal/solver"
	"decisiond/internal/telemetry"
	"decisiond/internal/types"
)

// runtime bundles the wired engine with the handles the commands need for
// inspection and teardown.
type runtime struct {
	engine   *engine.Engine
	registry *agent.Registry
	trail    *audit.Trail
	sink     *telemetry.MemorySink
	policy   *arbiter.PolicyStore
	store    *audit.SQLiteStore
}

// buildRuntime wires every component from configuration. The solver client is
// only created when a base URL is configured; without it the selector runs
// purely classical.
func buildRuntime(ctx context.Context, cfg *config.Config) (*runtime, error) {
	log := logging.L(logging.CategoryCLI)

	monitor := resource.NewStaticMonitor(cfg.Resources)

	registry := agent.NewRegistry(cfg.Agents.ProposalTimeout)
	register := func(id string, kind types.AgentKind, a agent.Agent) error {
		if err := registry.Register(id, kind, a); err != nil {
			return fmt.Errorf("register %s: %w", id, err)
		}
		return nil
	}
	if err := register("offer-1", types.KindOffer, agent.NewOfferAgent()); err != nil {
		return nil, err
	}
	if err := register("timing-1", types.KindTiming, agent.NewTimingAgent()); err != nil {
		return nil, err
	}
	if err := register("channel-1", types.KindChannel, agent.NewChannelAgent()); err != nil {
		return nil, err
	}
	if err := register("risk-1", types.KindRisk, agent.NewRiskAgent()); err != nil {
		return nil, err
	}
	if cfg.Agents.AdvisorAPIKey != "" {
		advisor, err := agent.NewAdvisorAgent(ctx, cfg.Agents.AdvisorAPIKey, cfg.Agents.AdvisorModel)
		if err != nil {
			return nil, fmt.Errorf("advisor agent: %w", err)
		}
		if err := register("advisor-1", types.KindAdvisor, advisor); err != nil {
			return nil, err
		}
	}

	policy, err := arbiter.LoadPolicyStore(cfg.Arbiter.PolicyPath)
	if err != nil {
		return nil, err
	}
	if cfg.Arbiter.WatchPolicy {
		if err := policy.Watch(); err != nil {
			return nil, fmt.Errorf("watch policy: %w", err)
		}
	}
	arb := arbiter.New(policy, monitor)

	var client solver.Client
	if cfg.Solver.BaseURL != "" {
		client = solver.NewHTTPClient(cfg.Solver)
	} else {
		log.Info("no solver configured, selection is classical only")
	}
	sel := selector.New(client, monitor, cfg.Solver, arb.PolicyVersion)

	var (
		store *audit.SQLiteStore
		trail *audit.Trail
	)
	if cfg.Audit.DatabasePath != "" {
		store, err = audit.OpenSQLiteStore(cfg.Audit.DatabasePath)
		if err != nil {
			return nil, err
		}
		trail, err = audit.LoadTrail(store, cfg.Audit.MaxConsecutiveFailures)
		if err != nil {
			store.Close()
			return nil, err
		}
		log.Info("audit trail loaded",
			zap.String("path", cfg.Audit.DatabasePath),
			zap.Int("entries", trail.Len()))
	} else {
		trail = audit.NewTrail(nil, cfg.Audit.MaxConsecutiveFailures)
		log.Warn("no audit database configured, trail is in-memory only")
	}

	sink := telemetry.NewMemorySink()
	eng := engine.New(registry, arb, sel, trail,
		telemetry.MultiSink{telemetry.LogSink{}, sink},
		cfg.Engine.MaxConcurrentCycles)

	return &runtime{
		engine:   eng,
		registry: registry,
		trail:    trail,
		sink:     sink,
		policy:   policy,
		store:    store,
	}, nil
}

func (r *runtime) close() {
	r.policy.Stop()
	if r.store != nil {
		r.store.Close()
	}
}
