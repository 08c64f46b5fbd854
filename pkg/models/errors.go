package models

import (
	"errors"
	"fmt"
)

// AgentErrorKind is the closed taxonomy of orchestration-core failures.
// The Recovery Engine switches on Kind exclusively; it never pattern-matches
// on error text.
type AgentErrorKind string

const (
	KindLlmNetwork            AgentErrorKind = "llm_network"
	KindLlmAuth               AgentErrorKind = "llm_auth"
	KindLlmRateLimited        AgentErrorKind = "llm_rate_limited"
	KindLlmContextOverflow    AgentErrorKind = "llm_context_overflow"
	KindJsonParse             AgentErrorKind = "json_parse"
	KindHallucinatedTool      AgentErrorKind = "hallucinated_tool"
	KindToolTimeout           AgentErrorKind = "tool_timeout"
	KindToolFailed            AgentErrorKind = "tool_failed"
	KindPathEscape            AgentErrorKind = "path_escape"
	KindShellDenied           AgentErrorKind = "shell_denied"
	KindCancelled             AgentErrorKind = "cancelled"
	KindMaxStepsExceeded      AgentErrorKind = "max_steps_exceeded"
	KindSuggestDowngradeModel AgentErrorKind = "suggest_downgrade_model"
)

// AgentError is the single error type carrying every taxonomy variant.
// Which fields are meaningful depends on Kind; constructors below populate
// only the relevant ones, mirroring a tagged union without needing a type
// switch at every call site.
type AgentError struct {
	Kind AgentErrorKind

	// ToolName is set for HallucinatedTool, ToolTimeout, ToolFailed.
	ToolName string
	// Message is a free-form detail, set for ToolFailed and SuggestDowngradeModel (as Reason).
	Message string
	// Raw holds the unparsable LLM text for JsonParse.
	Raw string
	// Path holds the offending path for PathEscape.
	Path string
	// Cmd holds the offending command for ShellDenied.
	Cmd string
	// RetryAfterMs is set for LlmRateLimited.
	RetryAfterMs int64

	// Cause is the underlying error, if any (preserved via Unwrap).
	Cause error
}

func (e *AgentError) Error() string {
	switch e.Kind {
	case KindLlmNetwork:
		return fmt.Sprintf("llm network error: %v", e.Cause)
	case KindLlmAuth:
		return fmt.Sprintf("llm auth error: %v", e.Cause)
	case KindLlmRateLimited:
		return fmt.Sprintf("llm rate limited, retry after %dms", e.RetryAfterMs)
	case KindLlmContextOverflow:
		return "llm context window exceeded"
	case KindJsonParse:
		return fmt.Sprintf("planner output did not parse as JSON: %s", truncate(e.Raw, 200))
	case KindHallucinatedTool:
		return fmt.Sprintf("unknown tool %q requested", e.ToolName)
	case KindToolTimeout:
		return fmt.Sprintf("tool %q timed out", e.ToolName)
	case KindToolFailed:
		return fmt.Sprintf("tool %q failed: %s", e.ToolName, e.Message)
	case KindPathEscape:
		return fmt.Sprintf("path %q escapes workspace", e.Path)
	case KindShellDenied:
		return fmt.Sprintf("command %q denied by sandbox policy", e.Cmd)
	case KindCancelled:
		return "cancelled"
	case KindMaxStepsExceeded:
		return "max steps exceeded"
	case KindSuggestDowngradeModel:
		return fmt.Sprintf("suggest downgrading model: %s", e.Message)
	default:
		return fmt.Sprintf("agent error (%s)", e.Kind)
	}
}

func (e *AgentError) Unwrap() error { return e.Cause }

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func NewLlmNetworkError(cause error) *AgentError {
	return &AgentError{Kind: KindLlmNetwork, Cause: cause}
}

func NewLlmAuthError(cause error) *AgentError {
	return &AgentError{Kind: KindLlmAuth, Cause: cause}
}

func NewLlmRateLimitedError(retryAfterMs int64) *AgentError {
	return &AgentError{Kind: KindLlmRateLimited, RetryAfterMs: retryAfterMs}
}

func NewLlmContextOverflowError() *AgentError {
	return &AgentError{Kind: KindLlmContextOverflow}
}

func NewJsonParseError(raw string) *AgentError {
	return &AgentError{Kind: KindJsonParse, Raw: raw}
}

func NewHallucinatedToolError(name string) *AgentError {
	return &AgentError{Kind: KindHallucinatedTool, ToolName: name}
}

func NewToolTimeoutError(name string) *AgentError {
	return &AgentError{Kind: KindToolTimeout, ToolName: name}
}

func NewToolFailedError(name, msg string) *AgentError {
	return &AgentError{Kind: KindToolFailed, ToolName: name, Message: msg}
}

func NewPathEscapeError(path string) *AgentError {
	return &AgentError{Kind: KindPathEscape, Path: path}
}

func NewShellDeniedError(cmd string) *AgentError {
	return &AgentError{Kind: KindShellDenied, Cmd: cmd}
}

func NewCancelledError() *AgentError {
	return &AgentError{Kind: KindCancelled}
}

func NewMaxStepsExceededError() *AgentError {
	return &AgentError{Kind: KindMaxStepsExceeded}
}

func NewSuggestDowngradeModelError(reason string) *AgentError {
	return &AgentError{Kind: KindSuggestDowngradeModel, Message: reason}
}

// KindOf extracts the AgentErrorKind from an error chain, if present.
func KindOf(err error) (AgentErrorKind, bool) {
	var ae *AgentError
	if errors.As(err, &ae) {
		return ae.Kind, true
	}
	return "", false
}
