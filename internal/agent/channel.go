package agent

import (
	"context"
	"fmt"

	"decisiond/internal/resource"
	"decisiond/internal/types"
)

// ChannelAgent selects the outreach channel permitted by the subject's
// consent level. No consent means no proposal; the agent never suggests a
// channel the subject has not opted into.
type ChannelAgent struct{}

func NewChannelAgent() *ChannelAgent { return &ChannelAgent{} }

func (a *ChannelAgent) Kind() types.AgentKind { return types.KindChannel }

func (a *ChannelAgent) Propose(_ context.Context, cv *types.ContextVector) (*types.Proposal, error) {
	var (
		channel    string
		reward     float64
		confidence float64
	)

	switch cv.ConsentLevel {
	case "full":
		channel, reward, confidence = "push", 1.5, 0.8
	case "basic":
		channel, reward, confidence = "email", 1.0, 0.6
	default:
		return nil, nil
	}

	return &types.Proposal{
		ActionID: "channel." + channel,
		Payload: map[string]any{
			"channel":       channel,
			"consent_level": cv.ConsentLevel,
		},
		EstimatedReward: reward,
		Confidence:      confidence,
		RequiredResources: map[string]float64{
			resource.KeyNetworkMbps: 0.5,
		},
		SafetyImpact:     types.ImpactNone,
		ComplianceStatus: types.StatusCompliant,
		Rationale:        fmt.Sprintf("consent level %q permits %s", cv.ConsentLevel, channel),
	}, nil
}
