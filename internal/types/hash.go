package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gowebpki/jcs"
)

// CanonicalJSON marshals v and returns its RFC 8785 (JCS) canonical form.
// Canonicalization guarantees that hashing is independent of map iteration
// order and encoder quirks.
func CanonicalJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal for canonicalization: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return nil, fmt.Errorf("canonicalize: %w", err)
	}
	return canonical, nil
}

// CanonicalDigest returns the sha256 hex digest of the JCS canonical form of v.
func CanonicalDigest(v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// ChainDigest returns sha256(prevHash || canonical(v)) as a hex string. It is
// the link function of the audit hash chain.
func ChainDigest(prevHash string, v any) (string, error) {
	canonical, err := CanonicalJSON(v)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(prevHash))
	h.Write(canonical)
	return hex.EncodeToString(h.Sum(nil)), nil
}

// signaturePayload is the signed portion of a decision: every field except
// the signature itself.
func (d *Decision) signaturePayload() any {
	return struct {
		DecisionID        string             `json:"decision_id"`
		ActionID          string             `json:"action_id"`
		Payload           map[string]any     `json:"payload,omitempty"`
		RequiredResources map[string]float64 `json:"required_resources,omitempty"`
		ExpectedValue     float64            `json:"expected_value"`
		Confidence        float64            `json:"confidence"`
		SolverVersion     string             `json:"solver_version"`
		PolicyVersion     string             `json:"policy_version"`
		Rationale         string             `json:"rationale,omitempty"`
		RollbackPlan      string             `json:"rollback_plan,omitempty"`
		Timestamp         time.Time          `json:"timestamp"`
	}{
		DecisionID:        d.DecisionID,
		ActionID:          d.ActionID,
		Payload:           d.Payload,
		RequiredResources: d.RequiredResources,
		ExpectedValue:     d.ExpectedValue,
		Confidence:        d.Confidence,
		SolverVersion:     d.SolverVersion,
		PolicyVersion:     d.PolicyVersion,
		Rationale:         d.Rationale,
		RollbackPlan:      d.RollbackPlan,
		Timestamp:         d.Timestamp,
	}
}

// Sign stores the canonical digest of the decision content. The signature
// field is excluded from the digested payload, so verification never needs to
// zero it first.
func (d *Decision) Sign() error {
	sig, err := CanonicalDigest(d.signaturePayload())
	if err != nil {
		return fmt.Errorf("sign decision: %w", err)
	}
	d.Signature = sig
	return nil
}

// VerifySignature recomputes the digest and compares it to the stored one.
func (d *Decision) VerifySignature() (bool, error) {
	want, err := CanonicalDigest(d.signaturePayload())
	if err != nil {
		return false, err
	}
	return want == d.Signature, nil
}
