package agent

import "github.com/google/uuid"

// NewRunID generates a fresh identifier for one Submit's ReAct loop run.
func NewRunID() string { return uuid.NewString() }

// NewToolCallID generates a fresh identifier for one tool dispatch.
func NewToolCallID() string { return uuid.NewString() }
