package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"decisiond/internal/resource"
	"decisiond/internal/types"
)

// AdvisorAgent is an LLM-backed reasoner that produces a free-form advisory
// proposal. It is deliberately low-confidence: the model suggests, the
// arbiter and selector dispose. Constructed only when an API key is
// configured; malformed model output means no proposal, never a guess.
type AdvisorAgent struct {
	client *genai.Client
	model  string
}

// advisorReply is the strict JSON contract the model must follow.
type advisorReply struct {
	ActionID        string  `json:"action_id"`
	Rationale       string  `json:"rationale"`
	EstimatedReward float64 `json:"estimated_reward"`
	Confidence      float64 `json:"confidence"`
}

// NewAdvisorAgent creates the advisor backed by the Gemini API.
func NewAdvisorAgent(ctx context.Context, apiKey, model string) (*AdvisorAgent, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("advisor API key is required")
	}
	if model == "" {
		model = "gemini-2.5-flash"
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &AdvisorAgent{client: client, model: model}, nil
}

func (a *AdvisorAgent) Kind() types.AgentKind { return types.KindAdvisor }

func (a *AdvisorAgent) Propose(ctx context.Context, cv *types.ContextVector) (*types.Proposal, error) {
	prompt, err := a.buildPrompt(cv)
	if err != nil {
		return nil, err
	}

	resp, err := a.client.Models.GenerateContent(ctx, a.model,
		genai.Text(prompt),
		&genai.GenerateContentConfig{ResponseMIMEType: "application/json"})
	if err != nil {
		return nil, fmt.Errorf("advisor completion: %w", err)
	}

	text := strings.TrimSpace(resp.Text())
	var reply advisorReply
	if err := json.Unmarshal([]byte(text), &reply); err != nil {
		return nil, fmt.Errorf("advisor returned non-JSON reply: %w", err)
	}
	if reply.ActionID == "" {
		// The model declined; that is a valid "no proposal".
		return nil, nil
	}

	// Clamp model-supplied numbers into the proposal invariants. Advisory
	// confidence is capped so a chatty model never outbids the specialists.
	if reply.EstimatedReward < 0 {
		reply.EstimatedReward = 0
	}
	if reply.Confidence < 0 {
		reply.Confidence = 0
	}
	if reply.Confidence > 0.5 {
		reply.Confidence = 0.5
	}

	return &types.Proposal{
		ActionID: "advisor." + reply.ActionID,
		Payload: map[string]any{
			"model": a.model,
		},
		EstimatedReward: reply.EstimatedReward,
		Confidence:      reply.Confidence,
		RequiredResources: map[string]float64{
			resource.KeyCPU: 0.1,
		},
		SafetyImpact:     types.ImpactLow,
		ComplianceStatus: types.StatusCompliant,
		Rationale:        reply.Rationale,
	}, nil
}

func (a *AdvisorAgent) buildPrompt(cv *types.ContextVector) (string, error) {
	snapshot, err := json.Marshal(cv)
	if err != nil {
		return "", fmt.Errorf("encode context: %w", err)
	}

	var b strings.Builder
	b.WriteString("You advise an autonomous decision engine. Given the context snapshot below, ")
	b.WriteString("suggest at most one action, or decline.\n\n")
	b.WriteString("Respond with JSON only: {\"action_id\": string, \"rationale\": string, ")
	b.WriteString("\"estimated_reward\": number >= 0, \"confidence\": number in [0,1]}. ")
	b.WriteString("To decline, set action_id to the empty string.\n\nContext:\n")
	b.Write(snapshot)
	return b.String(), nil
}
