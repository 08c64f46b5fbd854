package agent

import (
	"context"
	"fmt"
	"strings"
)

// CriticVerdictKind is the closed outcome set a Critic pass can return.
type CriticVerdictKind string

const (
	CriticApproved   CriticVerdictKind = "approved"
	CriticCorrection CriticVerdictKind = "correction"
)

// CriticVerdict is the Critic's judgment of one Observe step.
type CriticVerdict struct {
	Kind CriticVerdictKind
	// Text is the correction message for CriticCorrection; empty otherwise.
	Text string
}

// criticPrompt is the fixed instruction sent alongside goal/tool/observation
// for every Critic pass. It asks for a terse verdict line so the response is
// cheap to parse without a JSON round-trip.
const criticPrompt = `You are reviewing one step of an autonomous agent. Given the goal, the tool that was run, and what it observed, decide whether the step made correct progress toward the goal.

Reply with exactly one line:
- "APPROVED" if the step was correct and the agent should continue.
- "CORRECTION: <short actionable note>" if the step was wrong, incomplete, or the agent misread the observation.`

// Critic performs a lightweight LLM call after every Observe, before control
// returns to the Planner (spec §4.4). It is optional: a nil or disabled
// Critic treats every observation as Approved.
type Critic struct {
	llm      LlmClient
	model    string
	disabled bool
}

// NewCritic wires a Critic to llm. Passing disabled=true makes every verdict
// Approved without ever calling the LLM, matching the configuration-gated
// bypass the spec requires.
func NewCritic(llm LlmClient, model string, disabled bool) *Critic {
	return &Critic{llm: llm, model: model, disabled: disabled}
}

// Review judges one tool invocation's outcome. When the Critic is disabled,
// it returns CriticApproved immediately without consulting the LLM.
func (c *Critic) Review(ctx context.Context, goal, toolName, observation string) (CriticVerdict, error) {
	if c.disabled || c.llm == nil {
		return CriticVerdict{Kind: CriticApproved}, nil
	}

	req := &CompletionRequest{
		Model:  c.model,
		System: criticPrompt,
		Messages: []CompletionMessage{{
			Role: "user",
			Content: fmt.Sprintf(
				"Goal: %s\nTool: %s\nObservation: %s",
				goal, toolName, observation,
			),
		}},
	}
	result, err := c.llm.Complete(ctx, req)
	if err != nil {
		// A failed Critic call never blocks the loop; it degrades to Approved
		// rather than compounding the original failure with a second one.
		return CriticVerdict{Kind: CriticApproved}, nil
	}
	return parseCriticVerdict(result.Text), nil
}

func parseCriticVerdict(text string) CriticVerdict {
	trimmed := strings.TrimSpace(text)
	if rest, ok := cutPrefixFold(trimmed, "CORRECTION:"); ok {
		return CriticVerdict{Kind: CriticCorrection, Text: strings.TrimSpace(rest)}
	}
	if rest, ok := cutPrefixFold(trimmed, "CORRECTION"); ok && strings.TrimSpace(rest) != "" {
		return CriticVerdict{Kind: CriticCorrection, Text: strings.TrimSpace(rest)}
	}
	return CriticVerdict{Kind: CriticApproved}
}

func cutPrefixFold(s, prefix string) (string, bool) {
	if len(s) < len(prefix) || !strings.EqualFold(s[:len(prefix)], prefix) {
		return "", false
	}
	return s[len(prefix):], true
}

// FormatCorrection renders a Correction verdict as the user-role message
// injected into the next Planner turn (spec §4.4: "Critic suggestion: …").
func FormatCorrection(v CriticVerdict) string {
	return fmt.Sprintf("Critic suggestion: %s", v.Text)
}
