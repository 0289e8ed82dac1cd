package safety

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
)

const evaluatorSystemPrompt = `You are the safety evaluator inside a command execution service. You are given a shell command a user's assistant wants to run, its working directory, an optional comment explaining intent, its rule-based safety level, how many times it has previously been resubmitted after a denial, and a short window of similar recent commands.

Decide one of: ALLOW, DENY, NEED_USER_CONFIRM, NEED_ASSISTANT_CONFIRM, NEED_MORE_HISTORY.

- ALLOW: the command is safe to run unattended.
- DENY: the command is destructive, exfiltrates data, or otherwise should not run.
- NEED_USER_CONFIRM: a human should explicitly approve before this runs.
- NEED_ASSISTANT_CONFIRM: the calling assistant should double check its own intent before this runs.
- NEED_MORE_HISTORY: you cannot judge this safely without more command history context; set requested_history_depth to how many additional entries would help.

Respond with ONLY a JSON object of the exact shape {"outcome":"ALLOW","reasoning":"...","confidence":1-5,"suggested_alternatives":[],"requested_history_depth":0}. No prose, no markdown fences.`

// AnthropicEvaluator is the default ExternalEvaluator, backed by the
// Anthropic Messages API. It asks the model for a strict JSON verdict
// and treats any malformed or missing response as an error, which the
// Evaluator maps to DENY.
type AnthropicEvaluator struct {
	client *anthropic.Client
	model  string
}

// NewAnthropicEvaluator builds an AnthropicEvaluator using API
// credentials from the environment (ANTHROPIC_API_KEY), as wired by the
// anthropic-sdk-go client constructor. model is an Anthropic model
// identifier, e.g. "claude-3-5-haiku-20241022".
func NewAnthropicEvaluator(model string) *AnthropicEvaluator {
	client := anthropic.NewClient()
	return &AnthropicEvaluator{client: &client, model: model}
}

type evaluatorResponseJSON struct {
	Outcome               string   `json:"outcome"`
	Reasoning             string   `json:"reasoning"`
	Confidence            int      `json:"confidence"`
	SuggestedAlternatives []string `json:"suggested_alternatives"`
	RequestedHistoryDepth int      `json:"requested_history_depth"`
}

// Evaluate implements ExternalEvaluator.
func (a *AnthropicEvaluator) Evaluate(ctx context.Context, req EvaluatorRequest) (EvaluatorResult, error) {
	userPrompt := buildEvaluatorPrompt(req)

	msg, err := a.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(a.model),
		MaxTokens: 300,
		System: []anthropic.TextBlockParam{
			{Text: evaluatorSystemPrompt},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(userPrompt)),
		},
	})
	if err != nil {
		return EvaluatorResult{}, fmt.Errorf("anthropic messages: %w", err)
	}

	var raw string
	for _, block := range msg.Content {
		if block.Type == "text" {
			raw = block.Text
			break
		}
	}
	if raw == "" {
		return EvaluatorResult{}, fmt.Errorf("no text block in evaluator response")
	}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")
	raw = strings.TrimSpace(raw)

	var parsed evaluatorResponseJSON
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return EvaluatorResult{}, fmt.Errorf("parse evaluator response: %w", err)
	}

	decision := Decision(strings.ToUpper(strings.TrimSpace(parsed.Outcome)))
	switch decision {
	case DecisionAllow, DecisionDeny, DecisionNeedUserConfirm, DecisionNeedAssistantConfirm, DecisionNeedMoreHistory:
	default:
		return EvaluatorResult{}, fmt.Errorf("evaluator returned unrecognized outcome %q", parsed.Outcome)
	}

	return EvaluatorResult{
		Decision:              decision,
		Reasoning:             parsed.Reasoning,
		Confidence:            parsed.Confidence,
		SuggestedAlternatives: parsed.SuggestedAlternatives,
		RequestedHistoryDepth: parsed.RequestedHistoryDepth,
	}, nil
}

func buildEvaluatorPrompt(req EvaluatorRequest) string {
	var b strings.Builder
	fmt.Fprintf(&b, "command: %s\n", req.Command)
	fmt.Fprintf(&b, "working_directory: %s\n", req.WorkingDirectory)
	if req.Comment != "" {
		fmt.Fprintf(&b, "comment: %s\n", req.Comment)
	}
	fmt.Fprintf(&b, "rule_safety_level: %d\n", req.SafetyLevel)
	fmt.Fprintf(&b, "resubmission_count: %d\n", req.ResubmissionCount)
	if len(req.RecentHistory) == 0 {
		b.WriteString("recent_similar_commands: (none)\n")
	} else {
		b.WriteString("recent_similar_commands:\n")
		for _, e := range req.RecentHistory {
			fmt.Fprintf(&b, "  - %q classification=%s executed=%v\n", e.Command, e.SafetyClassification, e.WasExecuted)
		}
	}
	return b.String()
}
