package agent

import (
	"context"
	"fmt"

	"decisiond/internal/resource"
	"decisiond/internal/types"
)

// OfferAgent proposes incentive offers from telemetry and business signals.
type OfferAgent struct {
	// LowBatteryThreshold is the battery percentage below which a charging
	// incentive is proposed.
	LowBatteryThreshold float64

	// ChurnRiskThreshold is the churn score above which a retention offer is
	// proposed.
	ChurnRiskThreshold float64
}

// NewOfferAgent returns an offer agent with production thresholds.
func NewOfferAgent() *OfferAgent {
	return &OfferAgent{
		LowBatteryThreshold: 30,
		ChurnRiskThreshold:  0.7,
	}
}

func (a *OfferAgent) Kind() types.AgentKind { return types.KindOffer }

// Propose emits at most one offer per cycle; a charging incentive wins over a
// retention offer when both trigger.
func (a *OfferAgent) Propose(_ context.Context, cv *types.ContextVector) (*types.Proposal, error) {
	if battery, ok := cv.TelemetryFloat("battery_level"); ok && battery < a.LowBatteryThreshold {
		return &types.Proposal{
			ActionID: "offer.charging_discount",
			Payload: map[string]any{
				"offer_type":    "charging_discount",
				"discount_pct":  15,
				"battery_level": battery,
			},
			EstimatedReward: 5.0,
			Confidence:      0.9,
			RequiredResources: map[string]float64{
				resource.KeyCPU:         0.1,
				resource.KeyNetworkMbps: 1,
			},
			SafetyImpact:     types.ImpactNone,
			ComplianceStatus: types.StatusCompliant,
			Rationale:        fmt.Sprintf("battery at %.0f%%, below %.0f%% threshold", battery, a.LowBatteryThreshold),
		}, nil
	}

	if churn, ok := cv.BusinessFloat("churn_risk"); ok && churn > a.ChurnRiskThreshold {
		return &types.Proposal{
			ActionID: "offer.retention_bonus",
			Payload: map[string]any{
				"offer_type": "retention_bonus",
				"churn_risk": churn,
			},
			EstimatedReward: 3.0,
			Confidence:      0.7,
			RequiredResources: map[string]float64{
				resource.KeyCPU:         0.1,
				resource.KeyNetworkMbps: 1,
			},
			SafetyImpact:     types.ImpactNone,
			ComplianceStatus: types.StatusCompliant,
			Rationale:        fmt.Sprintf("churn risk %.2f above %.2f threshold", churn, a.ChurnRiskThreshold),
		}, nil
	}

	return nil, nil
}
