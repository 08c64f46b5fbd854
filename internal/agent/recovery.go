package agent

import (
	"errors"
	"fmt"
	"time"

	"github.com/jerry-guo-mys/beeagent/internal/backoff"
	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

// RecoveryActionKind enumerates what the ReAct loop should do after Recover
// turns an AgentError into control flow.
type RecoveryActionKind string

const (
	ActionRetryWithPrompt    RecoveryActionKind = "retry_with_prompt"
	ActionRetrySameTool      RecoveryActionKind = "retry_same_tool"
	ActionAskUser            RecoveryActionKind = "ask_user"
	ActionContinue           RecoveryActionKind = "continue"
	ActionSummarizeAndPrune  RecoveryActionKind = "summarize_and_prune"
	ActionSleepAndRetry      RecoveryActionKind = "sleep_and_retry"
	ActionBackoffAndRetry    RecoveryActionKind = "backoff_and_retry"
	ActionHardReport         RecoveryActionKind = "hard_report"
	ActionTerminateTruncated RecoveryActionKind = "terminate_truncated"
	ActionTerminateSilent    RecoveryActionKind = "terminate_silent"
	ActionSuggestDowngrade   RecoveryActionKind = "suggest_downgrade"
	ActionBubble             RecoveryActionKind = "bubble"
)

// RecoveryAction is the verdict Recover returns. Only the fields relevant to
// Kind are populated; the loop switches on Kind and reads the rest.
type RecoveryAction struct {
	Kind RecoveryActionKind

	// Prompt is injected as the next planner message for ActionRetryWithPrompt.
	Prompt string
	// Question is surfaced to the user for ActionAskUser.
	Question string
	// ToolName names the tool to retry for ActionRetrySameTool.
	ToolName string
	// Observation is appended as a tool-result message for ActionContinue.
	Observation string
	// SleepFor bounds ActionSleepAndRetry's delay.
	SleepFor time.Duration
	// BackoffAttempt is the 1-indexed attempt number for ActionBackoffAndRetry,
	// used by the caller to compute the wait via backoff.ComputeBackoff.
	BackoffAttempt int
	// AppendLesson, when non-empty, must be persisted to Lessons before the
	// action takes effect.
	AppendLesson string
	// AppendProcedural, when non-empty, must be persisted to Procedural memory.
	AppendProcedural string
	// Reason explains a hard report or a downgrade suggestion.
	Reason string
	// Err is the original error, preserved for ActionHardReport/ActionBubble.
	Err error
}

// MaxRecoveryRetries is the default per-turn retry budget, independent of
// step count.
const MaxRecoveryRetries = 3

// maxRateLimitSleep caps how long Recover will ask the loop to sleep for a
// rate-limited LLM response, regardless of what the provider reports.
const maxRateLimitSleep = 60 * time.Second

// Recover is the Recovery Engine: a pure function from an AgentError and the
// caller's retry/attempt bookkeeping to a RecoveryAction. It never sleeps,
// never retries, never mutates memory itself — every side effect it implies
// is carried in the returned action for the loop to execute.
//
// toolAttempt counts how many times the *same* tool call has already failed
// with ToolTimeout this turn (0 on first failure). llmAttempt counts how
// many times the current LLM call has already failed with a retryable
// network/auth/rate-limit error this turn (0 on first failure).
func Recover(err error, toolAttempt, llmAttempt int) RecoveryAction {
	kind, ok := models.KindOf(err)
	if !ok {
		return RecoveryAction{Kind: ActionBubble, Err: err}
	}

	var ae *models.AgentError
	errors.As(err, &ae)

	switch kind {
	case models.KindJsonParse:
		return RecoveryAction{
			Kind: ActionRetryWithPrompt,
			Prompt: fmt.Sprintf(
				"Your previous JSON was malformed: %s. Re-emit a single valid tool-call object.",
				truncateForPrompt(ae.Raw),
			),
		}

	case models.KindHallucinatedTool:
		return RecoveryAction{
			Kind:         ActionAskUser,
			Question:     fmt.Sprintf("The model tried to use unknown tool '%s'. Proceed without it?", ae.ToolName),
			AppendLesson: fmt.Sprintf("Tool '%s' does not exist; do not suggest it again.", ae.ToolName),
		}

	case models.KindToolTimeout:
		if toolAttempt < 1 {
			return RecoveryAction{Kind: ActionRetrySameTool, ToolName: ae.ToolName}
		}
		return RecoveryAction{
			Kind:     ActionAskUser,
			Question: fmt.Sprintf("Tool '%s' timed out twice. How would you like to proceed?", ae.ToolName),
		}

	case models.KindToolFailed:
		return RecoveryAction{
			Kind:             ActionContinue,
			Observation:      fmt.Sprintf("tool %q failed: %s", ae.ToolName, ae.Message),
			AppendProcedural: fmt.Sprintf("Tool '%s' failed with: %s", ae.ToolName, ae.Message),
		}

	case models.KindLlmContextOverflow:
		return RecoveryAction{Kind: ActionSummarizeAndPrune}

	case models.KindLlmRateLimited:
		sleep := time.Duration(ae.RetryAfterMs) * time.Millisecond
		if sleep > maxRateLimitSleep {
			sleep = maxRateLimitSleep
		}
		return RecoveryAction{Kind: ActionSleepAndRetry, SleepFor: sleep}

	case models.KindLlmNetwork, models.KindLlmAuth:
		if llmAttempt < MaxRecoveryRetries {
			return RecoveryAction{Kind: ActionBackoffAndRetry, BackoffAttempt: llmAttempt + 1}
		}
		return RecoveryAction{
			Kind:   ActionSuggestDowngrade,
			Reason: fmt.Sprintf("%d consecutive %s failures", llmAttempt, kind),
		}

	case models.KindPathEscape:
		return RecoveryAction{Kind: ActionHardReport, Reason: fmt.Sprintf("path %q escapes the workspace", ae.Path), Err: err}

	case models.KindShellDenied:
		return RecoveryAction{Kind: ActionHardReport, Reason: fmt.Sprintf("command %q is not on the allow-list", ae.Cmd), Err: err}

	case models.KindMaxStepsExceeded:
		return RecoveryAction{Kind: ActionTerminateTruncated}

	case models.KindCancelled:
		return RecoveryAction{Kind: ActionTerminateSilent}

	case models.KindSuggestDowngradeModel:
		return RecoveryAction{Kind: ActionSuggestDowngrade, Reason: ae.Message}

	default:
		return RecoveryAction{Kind: ActionBubble, Err: err}
	}
}

// BackoffDelay computes the exponential-backoff wait for an
// ActionBackoffAndRetry verdict, reusing the shared backoff policy used
// elsewhere in the runtime.
func BackoffDelay(attempt int) time.Duration {
	return backoff.ComputeBackoff(backoff.DefaultPolicy(), attempt)
}

func truncateForPrompt(s string) string {
	const max = 300
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
