package agent

import (
	"context"
	"fmt"

	"decisiond/internal/resource"
	"decisiond/internal/types"
)

// RiskAgent proposes mitigations from anomaly telemetry. Its proposals carry
// real safety impact and compete against revenue-driven proposals on expected
// value; the arbiter, not this agent, is the hard floor.
type RiskAgent struct {
	// AnomalyThreshold is the anomaly score above which throttling is proposed.
	AnomalyThreshold float64

	// HarshEventLimit is the harsh-braking count above which coaching is proposed.
	HarshEventLimit float64
}

func NewRiskAgent() *RiskAgent {
	return &RiskAgent{
		AnomalyThreshold: 0.8,
		HarshEventLimit:  5,
	}
}

func (a *RiskAgent) Kind() types.AgentKind { return types.KindRisk }

func (a *RiskAgent) Propose(_ context.Context, cv *types.ContextVector) (*types.Proposal, error) {
	if anomaly, ok := cv.TelemetryFloat("anomaly_score"); ok && anomaly > a.AnomalyThreshold {
		return &types.Proposal{
			ActionID: "risk.throttle_features",
			Payload: map[string]any{
				"mitigation":    "throttle",
				"anomaly_score": anomaly,
			},
			EstimatedReward: 4.0,
			Confidence:      0.85,
			RequiredResources: map[string]float64{
				resource.KeyCPU: 0.2,
			},
			SafetyImpact:     types.ImpactHigh,
			ComplianceStatus: types.StatusCompliant,
			Rationale:        fmt.Sprintf("anomaly score %.2f above %.2f", anomaly, a.AnomalyThreshold),
		}, nil
	}

	if harsh, ok := cv.TelemetryFloat("harsh_braking_events"); ok && harsh > a.HarshEventLimit {
		return &types.Proposal{
			ActionID: "risk.coaching_tip",
			Payload: map[string]any{
				"mitigation":   "coaching",
				"harsh_events": harsh,
			},
			EstimatedReward: 2.0,
			Confidence:      0.6,
			RequiredResources: map[string]float64{
				resource.KeyNetworkMbps: 0.5,
			},
			SafetyImpact:     types.ImpactLow,
			ComplianceStatus: types.StatusCompliant,
			Rationale:        fmt.Sprintf("%d harsh braking events above limit %d", int(harsh), int(a.HarshEventLimit)),
		}, nil
	}

	return nil, nil
}
