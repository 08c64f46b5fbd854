package agent

import (
	"context"
	"encoding/json"

	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

// LlmClient is the capability surface the ReAct loop depends on. It is a
// capability set, not a class hierarchy: a mock implementation returning
// canned text is used in tests, enabling property tests without a network
// call. Concrete transports (Anthropic, OpenAI) live under ./providers and
// are external collaborators from the loop's point of view — it only ever
// holds an LlmClient.
type LlmClient interface {
	// Complete runs a single non-streaming completion and returns the
	// Planner's raw output text in full.
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error)

	// CompleteStream runs a completion and delivers it as a channel of
	// chunks; the reader assembles the full string and the Planner parses
	// it once at the end, so there is no shared mutable state between the
	// stream reader and the parser.
	CompleteStream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error)

	// Embed produces a dense vector embedding for text, used by the
	// LongTermMemory vector backend. A provider that cannot embed returns
	// ErrEmbedUnsupported so callers can fall back to the BM25 backend.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Summarise condenses text into a short prose summary, used by
	// Compaction (spec §4.8 step 2).
	Summarise(ctx context.Context, text string) (string, error)

	// Name returns the provider name, for logging and model-fallback chains.
	Name() string

	// Models returns the models this provider can serve.
	Models() []Model

	// SupportsTools reports whether this provider can receive tool
	// definitions and emit tool-call chunks.
	SupportsTools() bool
}

// CompletionRequest contains all parameters for an LLM completion request.
type CompletionRequest struct {
	Model    string               `json:"model"`
	System   string               `json:"system,omitempty"`
	Messages []CompletionMessage  `json:"messages"`
	Tools    []Tool               `json:"tools,omitempty"`
	MaxTokens int                 `json:"max_tokens,omitempty"`
}

// CompletionMessage represents a single message in a conversation sent to
// the provider. Role values: "user", "assistant", "tool".
type CompletionMessage struct {
	Role        string              `json:"role"`
	Content     string              `json:"content,omitempty"`
	ToolCalls   []models.ToolCall   `json:"tool_calls,omitempty"`
	ToolResults []models.ToolResult `json:"tool_results,omitempty"`
}

// CompletionResult is the full, non-streaming output of a Complete call.
type CompletionResult struct {
	Text         string
	ToolCall     *models.ToolCall
	InputTokens  int
	OutputTokens int
}

// StreamChunk is a single increment of a streamed completion.
type StreamChunk struct {
	Text         string
	ToolCall     *models.ToolCall
	Done         bool
	Error        error
	InputTokens  int
	OutputTokens int
}

// Model describes an available LLM model and its capabilities.
type Model struct {
	ID             string `json:"id"`
	Name           string `json:"name"`
	ContextSize    int    `json:"context_size"`
	SupportsVision bool   `json:"supports_vision"`
}

// Tool defines the interface for executable, sandboxed agent tools.
type Tool interface {
	// Name returns the tool name for LLM function calling. Must be a valid
	// function name (alphanumeric, underscores).
	Name() string

	// Description returns a natural language description, injected into
	// the system prompt's tool schema section.
	Description() string

	// Schema returns the JSON Schema defining the tool's parameters. The
	// registry validates every call's arguments against this before
	// dispatch (spec §4.5).
	Schema() json.RawMessage

	// Execute runs the tool with the given JSON parameters, already
	// schema-validated by the registry. Implementations enforce their own
	// sandbox rule (path confinement, command allow-listing, domain
	// allow-listing) and must respect ctx cancellation/deadline.
	Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error)
}
