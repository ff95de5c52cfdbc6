package agent

import (
	"context"
	"fmt"

	"decisiond/internal/resource"
	"decisiond/internal/types"
)

// TimingAgent proposes engagement windows from activity signals.
type TimingAgent struct {
	// EngagementThreshold is the minimum engagement score that justifies
	// contacting the subject now.
	EngagementThreshold float64
}

func NewTimingAgent() *TimingAgent {
	return &TimingAgent{EngagementThreshold: 0.5}
}

func (a *TimingAgent) Kind() types.AgentKind { return types.KindTiming }

func (a *TimingAgent) Propose(_ context.Context, cv *types.ContextVector) (*types.Proposal, error) {
	score, ok := cv.BusinessFloat("engagement_score")
	if !ok || score < a.EngagementThreshold {
		return nil, nil
	}

	// Reward scales with engagement; an attentive subject is worth reaching.
	return &types.Proposal{
		ActionID: "timing.engage_now",
		Payload: map[string]any{
			"window":           "immediate",
			"engagement_score": score,
		},
		EstimatedReward: 2.0 * score,
		Confidence:      0.6,
		RequiredResources: map[string]float64{
			resource.KeyCPU: 0.05,
		},
		SafetyImpact:     types.ImpactNone,
		ComplianceStatus: types.StatusCompliant,
		Rationale:        fmt.Sprintf("engagement score %.2f at or above %.2f", score, a.EngagementThreshold),
	}, nil
}
