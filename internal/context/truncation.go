package context

import (
	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

// TruncationStrategy defines how to reduce context when it gets too long.
type TruncationStrategy string

const (
	// TruncateOldest removes the oldest non-pinned messages first.
	TruncateOldest TruncationStrategy = "oldest"

	// TruncateMiddle keeps the first and last messages, removes the middle.
	TruncateMiddle TruncationStrategy = "middle"

	// TruncateNone returns the messages unmodified.
	TruncateNone TruncationStrategy = "none"
)

// TruncationResult holds the result of a truncation operation.
type TruncationResult struct {
	OriginalCount int
	NewCount      int
	RemovedCount  int
	TokensFreed   int
	Strategy      TruncationStrategy
}

// Truncator bounds a models.Message history to a token budget, used by the
// ReAct loop as a final safety net below Compaction: if Compaction failed or
// hasn't run yet this step, Truncator still guarantees the history handed to
// the Planner fits the model's context window (spec §4.7).
type Truncator struct {
	strategy  TruncationStrategy
	maxTokens int
	keepFirst int // messages always kept at the start (the system prompt)
	keepLast  int // messages always kept at the end (the most recent turns)
}

// NewTruncator creates a new truncator with the given strategy and budget.
func NewTruncator(strategy TruncationStrategy, maxTokens int) *Truncator {
	return &Truncator{
		strategy:  strategy,
		maxTokens: maxTokens,
		keepFirst: 1,
		keepLast:  2,
	}
}

// SetKeepFirst sets how many leading messages to always keep.
func (t *Truncator) SetKeepFirst(n int) {
	if n >= 0 {
		t.keepFirst = n
	}
}

// SetKeepLast sets how many trailing messages to always keep.
func (t *Truncator) SetKeepLast(n int) {
	if n >= 0 {
		t.keepLast = n
	}
}

// Truncate reduces messages to fit within the token budget, never dropping a
// RoleSystem message or one within the keepFirst/keepLast window.
func (t *Truncator) Truncate(messages []models.Message) ([]models.Message, *TruncationResult) {
	result := &TruncationResult{OriginalCount: len(messages), Strategy: t.strategy}

	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Content)
	}
	if total <= t.maxTokens || t.strategy == TruncateNone {
		result.NewCount = len(messages)
		return messages, result
	}

	if t.strategy == TruncateMiddle {
		return t.truncateMiddle(messages, result)
	}
	return t.truncateOldest(messages, result)
}

func (t *Truncator) truncateOldest(messages []models.Message, result *TruncationResult) ([]models.Message, *TruncationResult) {
	kept := make([]bool, len(messages))
	budget := t.maxTokens

	for i, msg := range messages {
		if i < t.keepFirst || i >= len(messages)-t.keepLast || msg.Role == models.RoleSystem {
			kept[i] = true
			budget -= EstimateTokens(msg.Content)
		}
	}

	// Fill the remaining budget from the newest unkept message backward, so
	// only the oldest middle messages are the ones dropped.
	for i := len(messages) - 1; i >= 0; i-- {
		if kept[i] {
			continue
		}
		cost := EstimateTokens(messages[i].Content)
		if cost <= budget {
			kept[i] = true
			budget -= cost
		} else {
			result.RemovedCount++
			result.TokensFreed += cost
		}
	}

	final := make([]models.Message, 0, len(messages))
	for i, msg := range messages {
		if kept[i] {
			final = append(final, msg)
		}
	}
	result.NewCount = len(final)
	return final, result
}

func (t *Truncator) truncateMiddle(messages []models.Message, result *TruncationResult) ([]models.Message, *TruncationResult) {
	if len(messages) <= t.keepFirst+t.keepLast {
		result.NewCount = len(messages)
		return messages, result
	}

	first := messages[:t.keepFirst]
	last := messages[len(messages)-t.keepLast:]
	middle := messages[t.keepFirst : len(messages)-t.keepLast]

	budget := t.maxTokens - sumTokens(first) - sumTokens(last)

	var keptMiddle []models.Message
	for _, msg := range middle {
		cost := EstimateTokens(msg.Content)
		if msg.Role == models.RoleSystem || cost <= budget {
			keptMiddle = append(keptMiddle, msg)
			budget -= cost
		} else {
			result.RemovedCount++
			result.TokensFreed += cost
		}
	}

	final := make([]models.Message, 0, t.keepFirst+len(keptMiddle)+t.keepLast)
	final = append(final, first...)
	final = append(final, keptMiddle...)
	final = append(final, last...)

	result.NewCount = len(final)
	return final, result
}

func sumTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += EstimateTokens(msg.Content)
	}
	return total
}
