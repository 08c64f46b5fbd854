package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

// PlannerOutputKind discriminates the two shapes a Planner turn can produce.
type PlannerOutputKind string

const (
	PlannerOutputResponse PlannerOutputKind = "response"
	PlannerOutputToolCall PlannerOutputKind = "tool_call"
)

// PlannerOutput is the Planner's single parsed verdict for one turn: either
// a user-facing Response or a ToolCall to dispatch (spec §4.3). Exactly one
// of Response/ToolCall is meaningful, selected by Kind.
type PlannerOutput struct {
	Kind     PlannerOutputKind
	Response string
	ToolCall *models.ToolCall
}

// Planner turns the composed system prompt plus conversation history into a
// single PlannerOutput. It holds no state of its own beyond the LlmClient
// and model name; everything it needs comes in on each call.
type Planner struct {
	llm   LlmClient
	model string
}

// NewPlanner wraps llm, using model for every completion request.
func NewPlanner(llm LlmClient, model string) *Planner {
	return &Planner{llm: llm, model: model}
}

// Model reports the model name every completion request is made with, used
// by Compaction to size the context window a token-budget trigger checks
// against.
func (p *Planner) Model() string { return p.model }

// Plan runs a single blocking completion and parses its output. tools is the
// allow-listed subset offered to the model this turn; it also bounds which
// tool names Plan will accept in a parsed tool-call object.
func (p *Planner) Plan(ctx context.Context, systemPrompt string, history []models.Message, tools []Tool) (PlannerOutput, error) {
	req := &CompletionRequest{
		Model:    p.model,
		System:   systemPrompt,
		Messages: toCompletionMessages(history),
		Tools:    tools,
	}
	result, err := p.llm.Complete(ctx, req)
	if err != nil {
		return PlannerOutput{}, err
	}
	return parsePlannerOutput(result, toolNameSet(tools))
}

// PlanStream behaves like Plan but consumes a streamed completion, invoking
// onDelta for every text increment as it arrives. Parsing of a tool call
// happens only once the stream is fully assembled; partial JSON is never
// inspected mid-stream (spec §4.3).
func (p *Planner) PlanStream(ctx context.Context, systemPrompt string, history []models.Message, tools []Tool, onDelta func(string)) (PlannerOutput, error) {
	req := &CompletionRequest{
		Model:    p.model,
		System:   systemPrompt,
		Messages: toCompletionMessages(history),
		Tools:    tools,
	}
	chunks, err := p.llm.CompleteStream(ctx, req)
	if err != nil {
		return PlannerOutput{}, err
	}

	var text strings.Builder
	var nativeToolCall *models.ToolCall
	var inputTokens, outputTokens int
	for chunk := range chunks {
		if chunk.Error != nil {
			return PlannerOutput{}, chunk.Error
		}
		if chunk.Text != "" {
			text.WriteString(chunk.Text)
			if onDelta != nil {
				onDelta(chunk.Text)
			}
		}
		if chunk.ToolCall != nil {
			nativeToolCall = chunk.ToolCall
		}
		if chunk.InputTokens > 0 {
			inputTokens = chunk.InputTokens
		}
		if chunk.OutputTokens > 0 {
			outputTokens = chunk.OutputTokens
		}
	}

	result := &CompletionResult{
		Text:         text.String(),
		ToolCall:     nativeToolCall,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
	}
	return parsePlannerOutput(result, toolNameSet(tools))
}

// Summarise condenses messages into prose via the LlmClient's dedicated
// summarisation capability. Reserved for Compaction (spec §4.8 step 2); the
// ReAct loop itself never calls this.
func (p *Planner) Summarise(ctx context.Context, messages []models.Message) (string, error) {
	var sb strings.Builder
	for _, m := range messages {
		fmt.Fprintf(&sb, "%s: %s\n", m.Role, m.Content)
	}
	return p.llm.Summarise(ctx, sb.String())
}

func toolNameSet(tools []Tool) map[string]struct{} {
	set := make(map[string]struct{}, len(tools))
	for _, t := range tools {
		set[t.Name()] = struct{}{}
	}
	return set
}

func toCompletionMessages(history []models.Message) []CompletionMessage {
	out := make([]CompletionMessage, 0, len(history))
	for _, m := range history {
		out = append(out, CompletionMessage{
			Role:        string(m.Role),
			Content:     m.Content,
			ToolCalls:   m.ToolCalls,
			ToolResults: m.ToolResults,
		})
	}
	return out
}

// parsePlannerOutput applies spec §4.3's parsing rule to a completion
// result. A provider that already performed native tool-calling (result.
// ToolCall set) short-circuits straight to a ToolCall output, still
// validated against allowed.
func parsePlannerOutput(result *CompletionResult, allowed map[string]struct{}) (PlannerOutput, error) {
	if result.ToolCall != nil {
		if _, ok := allowed[result.ToolCall.Name]; !ok {
			return PlannerOutput{}, models.NewHallucinatedToolError(result.ToolCall.Name)
		}
		return PlannerOutput{Kind: PlannerOutputToolCall, ToolCall: result.ToolCall}, nil
	}

	raw, ambiguous := extractJSONObject(result.Text)
	if ambiguous {
		return PlannerOutput{}, models.NewJsonParseError(result.Text)
	}
	if raw == nil {
		return PlannerOutput{Kind: PlannerOutputResponse, Response: result.Text}, nil
	}

	var candidate struct {
		Tool  string          `json:"tool"`
		Input json.RawMessage `json:"input"`
	}
	if err := json.Unmarshal(raw, &candidate); err != nil || candidate.Tool == "" {
		return PlannerOutput{Kind: PlannerOutputResponse, Response: result.Text}, nil
	}
	if _, ok := allowed[candidate.Tool]; !ok {
		return PlannerOutput{}, models.NewHallucinatedToolError(candidate.Tool)
	}

	return PlannerOutput{
		Kind: PlannerOutputToolCall,
		ToolCall: &models.ToolCall{
			Name:  candidate.Tool,
			Input: candidate.Input,
		},
	}, nil
}

// extractJSONObject scans text for a single top-level JSON object, tracking
// brace depth while inside a string literal is suspended so quoted braces
// never affect it, and escape sequences are honoured so an escaped quote
// never closes a string early (spec §4.3). It returns (nil, false) when no
// object is found, (raw, false) when exactly one is found, and (nil, true)
// when more than one top-level object is present (ambiguous).
func extractJSONObject(text string) (json.RawMessage, bool) {
	var objects []string
	depth := 0
	inString := false
	escaped := false
	start := -1

	for i, r := range text {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}
		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					objects = append(objects, text[start:i+1])
					start = -1
				}
			}
		}
	}

	switch len(objects) {
	case 0:
		return nil, false
	case 1:
		return json.RawMessage(objects[0]), false
	default:
		return nil, true
	}
}
