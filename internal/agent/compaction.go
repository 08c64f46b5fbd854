package agent

import (
	"context"
	"fmt"
	"time"

	ctxwindow "github.com/jerry-guo-mys/beeagent/internal/context"
	"github.com/jerry-guo-mys/beeagent/internal/memory"
)

// DefaultCompactThreshold is the Conversation length (in user/assistant
// messages) past which the ReAct loop compacts before planning (spec §4.6
// step 2).
const DefaultCompactThreshold = 24

// Compact runs the four-step Compaction protocol (spec §4.8): snapshot the
// Conversation, summarise it, append the summary to Long-term, then
// atomically replace the Conversation with a single system message
// referencing it. Each step is individually idempotent, so a process that
// restarts between steps 2 and 4 can safely retry: step 3 is a pure append
// (duplicate summaries are harmless beyond disk usage) and step 4 simply
// re-replaces the Conversation with the same text.
func Compact(ctx context.Context, mgr *memory.Manager, planner *Planner) (before, after int, err error) {
	snapshot := mgr.Conversation.Snapshot()
	before = len(snapshot)
	if before == 0 {
		return 0, 0, nil
	}

	summary, err := planner.Summarise(ctx, snapshot)
	if err != nil {
		return before, before, fmt.Errorf("summarise conversation: %w", err)
	}

	title := "Conversation summary @ " + time.Now().UTC().Format(time.RFC3339)
	if err := mgr.LongTerm.Append(ctx, title, summary); err != nil {
		return before, before, fmt.Errorf("append conversation summary to long-term: %w", err)
	}

	mgr.Conversation.ReplaceWithSummary(summary)
	after = mgr.Conversation.Len()
	return before, after, nil
}

// MaybeCompact invokes Compact when the Conversation has grown past
// threshold (<=0 uses DefaultCompactThreshold) turns, or when the estimated
// token footprint of the current Conversation has eaten into the configured
// model's context window enough to warrant it (spec §4.7's context window
// tracking feeding §4.8's Compaction trigger), matching the ReAct loop's
// per-iteration check (spec §4.6 step 2).
func MaybeCompact(ctx context.Context, mgr *memory.Manager, planner *Planner, threshold int) (compacted bool, before, after int, err error) {
	if threshold <= 0 {
		threshold = DefaultCompactThreshold
	}
	if mgr.Conversation.Len() <= threshold && !nearContextLimit(mgr, planner) {
		return false, 0, 0, nil
	}
	before, after, err = Compact(ctx, mgr, planner)
	return err == nil, before, after, err
}

// nearContextLimit reports whether the Conversation's estimated token
// footprint has dropped the planner's model context window below its warn
// threshold, independent of turn count.
func nearContextLimit(mgr *memory.Manager, planner *Planner) bool {
	snapshot := mgr.Conversation.Snapshot()
	if len(snapshot) == 0 {
		return false
	}
	contents := make([]string, len(snapshot))
	for i, msg := range snapshot {
		contents[i] = msg.Content
	}

	window := ctxwindow.NewWindowForModel(planner.Model())
	window.Add(ctxwindow.EstimateTokensForMessages(contents))
	return window.Info().ShouldWarn()
}
