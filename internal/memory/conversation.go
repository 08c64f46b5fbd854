package memory

import (
	"sync"

	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

// Conversation is the bounded turn history shared by the Planner and the
// Context Manager. It never discards system messages, prunes oldest-first
// once the turn count exceeds 2x max_turns (spec §3), and can be atomically
// replaced by a single summary message during Compaction (spec §4.8).
type Conversation struct {
	mu       sync.RWMutex
	maxTurns int
	messages []models.Message
}

// NewConversation creates an empty Conversation bounded by maxTurns user or
// assistant messages. maxTurns <= 0 falls back to 24, matching the default
// compaction threshold (spec §4.6 step 2).
func NewConversation(maxTurns int) *Conversation {
	if maxTurns <= 0 {
		maxTurns = 24
	}
	return &Conversation{maxTurns: maxTurns}
}

// Append adds a message and prunes the oldest non-system turns if the turn
// count now exceeds 2x maxTurns.
func (c *Conversation) Append(msg models.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, msg)
	c.pruneLocked()
}

func isTurn(role models.Role) bool {
	return role == models.RoleUser || role == models.RoleAssistant
}

func (c *Conversation) pruneLocked() {
	limit := 2 * c.maxTurns
	turns := 0
	for _, m := range c.messages {
		if isTurn(m.Role) {
			turns++
		}
	}
	if turns <= limit {
		return
	}

	kept := make([]models.Message, 0, len(c.messages))
	toDrop := turns - limit
	for _, m := range c.messages {
		if toDrop > 0 && isTurn(m.Role) {
			toDrop--
			continue
		}
		kept = append(kept, m)
	}
	c.messages = kept
}

// Messages returns a defensive copy of the full history, including tool-role
// synthetic messages (used by the Planner for ReAct continuity), for
// read-only callers such as the Context Manager.
func (c *Conversation) Messages() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, len(c.messages))
	copy(out, c.messages)
	return out
}

// UserFacingHistory returns only user/assistant messages, filtering out the
// synthetic "Tool call: ... | Result: ..." bookkeeping messages that exist
// purely for the Planner's continuity (spec §9's flagged ambiguity).
func (c *Conversation) UserFacingHistory() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, 0, len(c.messages))
	for _, m := range c.messages {
		if isTurn(m.Role) {
			out = append(out, m)
		}
	}
	return out
}

// TurnCount returns the number of user/assistant messages currently held.
func (c *Conversation) TurnCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, m := range c.messages {
		if isTurn(m.Role) {
			n++
		}
	}
	return n
}

// Len returns the total message count, including system and tool messages.
func (c *Conversation) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.messages)
}

// Snapshot returns every system and user/assistant message, in order,
// excluding tool-role bookkeeping messages. Used by Compaction step 1,
// which never needs to summarise the synthetic tool-call transcript.
func (c *Conversation) Snapshot() []models.Message {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]models.Message, 0, len(c.messages))
	for _, m := range c.messages {
		if m.Role == models.RoleTool {
			continue
		}
		out = append(out, m)
	}
	return out
}

// ReplaceWithSummary atomically replaces the entire conversation with a
// single system message, per Compaction step 4. Idempotent: calling it
// again with the same text is a no-op beyond replacing the single message.
func (c *Conversation) ReplaceWithSummary(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = []models.Message{{
		Role:    models.RoleSystem,
		Content: "Previous conversation summary: " + text,
	}}
}

// Clear resets the conversation to empty, used by the Clear command (spec
// §6), which preserves long-term memory and the textual stores.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
}
