// Package types provides the shared data model for the decision engine.
// This package exists to break import cycles between agent, arbiter, selector,
// audit and engine. Types in this package are foundational data structures with
// no dependencies on other decisiond packages.
package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// =============================================================================
// ENUMS
// =============================================================================

// AgentKind identifies the decision domain an agent reasons about.
type AgentKind string

const (
	KindOffer   AgentKind = "offer"   // incentive/offer proposals
	KindTiming  AgentKind = "timing"  // engagement-window proposals
	KindChannel AgentKind = "channel" // outreach-channel proposals
	KindRisk    AgentKind = "risk"    // risk-mitigation proposals
	KindAdvisor AgentKind = "advisor" // LLM-backed advisory proposals
)

// AgentStatus is the registry-maintained lifecycle state of an agent.
type AgentStatus string

const (
	AgentActive   AgentStatus = "active"
	AgentDraining AgentStatus = "draining"
	AgentDead     AgentStatus = "dead"
)

// ComplianceStatus classifies the outcome of a safety-arbiter validation.
// It is also carried on proposals as a self-declared status that the arbiter
// checks against (rule 2).
type ComplianceStatus string

const (
	StatusCompliant           ComplianceStatus = "compliant"
	StatusSafetyViolation     ComplianceStatus = "safety_violation"
	StatusComplianceViolation ComplianceStatus = "compliance_violation"
	StatusResourceViolation   ComplianceStatus = "resource_violation"
)

// SafetyImpact grades how intrusive an action is if executed.
type SafetyImpact string

const (
	ImpactNone   SafetyImpact = "none"
	ImpactLow    SafetyImpact = "low"
	ImpactMedium SafetyImpact = "medium"
	ImpactHigh   SafetyImpact = "high"
)

// =============================================================================
// CONTEXT
// =============================================================================

// ContextVector is an immutable snapshot of the situation driving one decision
// cycle. It is owned by the caller and read-only to every downstream component;
// one instance drives exactly one cycle.
type ContextVector struct {
	// SubjectID identifies the entity the decision is about (vehicle, account, ...).
	SubjectID string `json:"subject_id"`

	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`

	// Telemetry holds real-time signals (battery_level, speed, anomaly scores).
	Telemetry map[string]any `json:"telemetry,omitempty"`

	// BusinessSignals holds account-level signals (churn_risk, tier, spend).
	BusinessSignals map[string]any `json:"business_signals,omitempty"`

	// MarketSignals holds environment-level signals (demand, pricing windows).
	MarketSignals map[string]any `json:"market_signals,omitempty"`

	// SafetyFlags lists active safety conditions. Any entry causes the arbiter
	// to reject every proposal for this cycle (fail-closed).
	SafetyFlags []string `json:"safety_flags,omitempty"`

	// ConsentLevel is the subject's granted consent tier (none/basic/full).
	ConsentLevel string `json:"consent_level"`
}

// Validate fails fast on a malformed context, before any agent is invoked.
func (cv *ContextVector) Validate() error {
	if cv == nil {
		return fmt.Errorf("context vector is nil")
	}
	if cv.SubjectID == "" {
		return fmt.Errorf("context vector missing subject_id")
	}
	if cv.Timestamp.IsZero() {
		return fmt.Errorf("context vector missing timestamp")
	}
	return nil
}

// HasSafetyFlags reports whether any safety flag is active.
func (cv *ContextVector) HasSafetyFlags() bool {
	return len(cv.SafetyFlags) > 0
}

// TelemetryFloat reads a numeric telemetry signal, tolerating the numeric
// types JSON decoding produces.
func (cv *ContextVector) TelemetryFloat(key string) (float64, bool) {
	return anyFloat(cv.Telemetry[key])
}

// BusinessFloat reads a numeric business signal.
func (cv *ContextVector) BusinessFloat(key string) (float64, bool) {
	return anyFloat(cv.BusinessSignals[key])
}

// MarketFloat reads a numeric market signal.
func (cv *ContextVector) MarketFloat(key string) (float64, bool) {
	return anyFloat(cv.MarketSignals[key])
}

func anyFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// =============================================================================
// PROPOSAL
// =============================================================================

// Proposal is a candidate action produced by exactly one agent for exactly one
// context. Proposals are consumed and discarded within the same cycle and are
// never mutated after construction.
type Proposal struct {
	// AgentID is the registry ID of the producing agent.
	AgentID string `json:"agent_id"`

	// AgentKind is the decision domain of the producing agent.
	AgentKind AgentKind `json:"agent_kind"`

	// ActionID names the concrete action (e.g. "offer.charging_discount").
	ActionID string `json:"action_id"`

	// Payload carries action parameters, opaque to the core.
	Payload map[string]any `json:"payload,omitempty"`

	// EstimatedReward is the agent's value estimate, >= 0.
	EstimatedReward float64 `json:"estimated_reward"`

	// Confidence is the agent's certainty in [0, 1].
	Confidence float64 `json:"confidence"`

	// RequiredResources declares resource demand per resource key
	// (cpu, memory_mb, accelerator_mb, solver_capacity, network_mbps, storage_mb).
	RequiredResources map[string]float64 `json:"required_resources,omitempty"`

	// SafetyImpact grades the intrusiveness of the action.
	SafetyImpact SafetyImpact `json:"safety_impact"`

	// ComplianceStatus is the agent's self-declared compliance state. Anything
	// other than StatusCompliant is rejected by the arbiter.
	ComplianceStatus ComplianceStatus `json:"compliance_status"`

	// Rationale is a human-readable explanation of why the agent proposed this.
	Rationale string `json:"rationale,omitempty"`
}

// ExpectedValue is the classical selection score: reward weighted by confidence.
func (p *Proposal) ExpectedValue() float64 {
	return p.EstimatedReward * p.Confidence
}

// =============================================================================
// DECISION
// =============================================================================

// Decision is the single (possibly composite) action chosen for one context
// cycle. Immutable after creation; at most one per cycle.
type Decision struct {
	DecisionID        string             `json:"decision_id"`
	ActionID          string             `json:"action_id"`
	Payload           map[string]any     `json:"payload,omitempty"`
	RequiredResources map[string]float64 `json:"required_resources,omitempty"`

	// ExpectedValue is the summed expected value of the selected proposals.
	ExpectedValue float64 `json:"expected_value"`

	// Confidence is the mean confidence of the selected proposals.
	Confidence float64 `json:"confidence"`

	// SolverVersion stamps which solver (or fallback) produced the selection.
	SolverVersion string `json:"solver_version"`

	// PolicyVersion stamps the arbiter policy active during validation.
	PolicyVersion string `json:"policy_version"`

	Rationale    string `json:"rationale,omitempty"`
	RollbackPlan string `json:"rollback_plan,omitempty"`

	// Signature is a sha256 digest over the canonical form of the decision
	// content, excluding the signature field itself.
	Signature string `json:"signature"`

	Timestamp time.Time `json:"timestamp"`
}

// =============================================================================
// REGISTRATION
// =============================================================================

// AgentRegistration is the registry's view of one agent. It is mutated only by
// the registry on register/deregister/heartbeat, never by agents themselves.
type AgentRegistration struct {
	AgentID       string      `json:"agent_id"`
	Kind          AgentKind   `json:"agent_kind"`
	Status        AgentStatus `json:"status"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
}
