// Package models defines the core data types shared across the orchestration core.
package models

import (
	"encoding/json"
	"time"
)

// Role indicates the message author type.
//
// Only RoleUser and RoleAssistant contribute to "turn" count; RoleSystem and
// RoleTool messages are auxiliary and must remain filterable so Conversation
// memory can distinguish real dialogue from synthetic tool dialog.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a role-tagged record in a conversation.
type Message struct {
	ID        string `json:"id"`
	SessionID string `json:"session_id,omitempty"`

	Role    Role   `json:"role"`
	Content string `json:"content"`

	// ToolName is set when Role is RoleTool, identifying which tool produced
	// the observation this message carries.
	ToolName string `json:"tool_name,omitempty"`

	ToolCalls   []ToolCall     `json:"tool_calls,omitempty"`
	ToolResults []ToolResult   `json:"tool_results,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// IsTurn reports whether the message counts toward Conversation turn limits.
func (m *Message) IsTurn() bool {
	return m != nil && (m.Role == RoleUser || m.Role == RoleAssistant)
}

// ToolCall represents a planner's request to execute a tool.
type ToolCall struct {
	ID    string          `json:"id"`
	Name  string          `json:"name"`
	Input json.RawMessage `json:"input"`
}

// ToolErrorKind enumerates the sandboxed-execution failure taxonomy that a
// ToolResult carries when it does not represent success.
type ToolErrorKind string

const (
	ToolErrorTimeout  ToolErrorKind = "timeout"
	ToolErrorDenied   ToolErrorKind = "denied" // sandbox rejection (path escape, shell denied, domain denied)
	ToolErrorBadArgs  ToolErrorKind = "bad_args"
	ToolErrorInternal ToolErrorKind = "internal"
)

// ToolResult is the outcome of a tool execution: either an observation
// string (Ok) or a typed ToolErrorKind plus message (Err).
type ToolResult struct {
	ToolCallID string        `json:"tool_call_id"`
	Content    string        `json:"content"`
	IsError    bool          `json:"is_error,omitempty"`
	ErrorKind  ToolErrorKind `json:"error_kind,omitempty"`
}

// Ok reports whether the result represents success.
func (r ToolResult) Ok() bool { return !r.IsError }
