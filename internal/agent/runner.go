package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"oncall/internal/domain"
	"oncall/internal/tokens"
)

// Runner is the reasoning process: it receives a textual incident report and
// produces a final text response, calling back into the tool catalog along
// the way. Intake only depends on this interface.
type Runner interface {
	Run(ctx context.Context, incidentID, report string) (string, error)
}

// Gemini drives a Gemini chat with function calling over the tool catalog.
type Gemini struct {
	client   *genai.Client
	model    string
	maxTurns int
	registry *Registry
	tokens   *tokens.Ledger
	log      *zap.Logger
}

// NewGemini builds the runner. apiKey is required; model and maxTurns come
// from config.
func NewGemini(ctx context.Context, apiKey, model string, maxTurns int, reg *Registry, tok *tokens.Ledger, logger *zap.Logger) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("LLM key is required (set ONCALL_LLM_KEY)")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if maxTurns <= 0 {
		maxTurns = 12
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &Gemini{
		client:   client,
		model:    model,
		maxTurns: maxTurns,
		registry: reg,
		tokens:   tok,
		log:      logger,
	}, nil
}

// Run executes the tool loop: generate, execute any function calls, feed the
// results back, repeat until the model answers in plain text or the turn
// bound is reached. Per-turn usage counters go to the token ledger; a failed
// usage write never fails the run.
func (g *Gemini) Run(ctx context.Context, incidentID, report string) (string, error) {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: SystemInstruction}}},
		Tools:             g.registry.Declarations(),
	}
	contents := []*genai.Content{
		{Role: genai.RoleUser, Parts: []*genai.Part{{Text: report}}},
	}

	var final string
	for turn := 0; turn < g.maxTurns; turn++ {
		resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
		if err != nil {
			return "", fmt.Errorf("generate content (turn %d): %w", turn, err)
		}
		g.recordUsage(ctx, incidentID, turn, resp)

		calls := resp.FunctionCalls()
		if len(calls) == 0 {
			final = resp.Text()
			return final, nil
		}
		if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
			contents = append(contents, resp.Candidates[0].Content)
		}
		parts := make([]*genai.Part, 0, len(calls))
		for _, call := range calls {
			result, err := g.registry.Invoke(ctx, call.Name, call.Args)
			if err != nil {
				g.log.Warn("tool call failed",
					zap.String("incident_id", incidentID),
					zap.String("tool", call.Name),
					zap.Error(err))
				result = fmt.Sprintf("Tool %s failed: %v", call.Name, err)
			}
			parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
				Name:     call.Name,
				Response: map[string]any{"result": result},
			}})
		}
		contents = append(contents, &genai.Content{Role: genai.RoleUser, Parts: parts})
	}
	return final, fmt.Errorf("turn limit %d reached without a final response", g.maxTurns)
}

func (g *Gemini) recordUsage(ctx context.Context, incidentID string, turn int, resp *genai.GenerateContentResponse) {
	if g.tokens == nil || resp == nil || resp.UsageMetadata == nil {
		return
	}
	u := resp.UsageMetadata
	g.tokens.Observe(ctx, domain.TokenUsage{
		IncidentID:       incidentID,
		TurnIndex:        turn,
		Model:            g.model,
		PromptTokens:     int(u.PromptTokenCount),
		CompletionTokens: int(u.CandidatesTokenCount),
		TotalTokens:      int(u.TotalTokenCount),
	})
}
