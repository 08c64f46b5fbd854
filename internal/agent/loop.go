package agent

import (
	stdctx "context"
	"fmt"
	"strings"
	"time"

	"github.com/jerry-guo-mys/beeagent/internal/audit"
	"github.com/jerry-guo-mys/beeagent/internal/backoff"
	ctxwindow "github.com/jerry-guo-mys/beeagent/internal/context"
	"github.com/jerry-guo-mys/beeagent/internal/memory"
	"github.com/jerry-guo-mys/beeagent/internal/tools/policy"
	"github.com/jerry-guo-mys/beeagent/pkg/models"

	promptcomposer "github.com/jerry-guo-mys/beeagent/internal/agent/context"
)

// DefaultMaxSteps bounds a single Submit's ReAct iterations unless config
// overrides it (spec §4.6).
const DefaultMaxSteps = 6

// workingMemoryDigestLen bounds how much of a tool observation is echoed
// back into the "what has been tried" system-prompt section.
const workingMemoryDigestLen = 400

// EventSink receives structured lifecycle events for observability (spec
// §6's Event channel).
type EventSink func(models.AgentEvent)

// StatePublisher receives the latest UiState on every phase transition,
// matching the spec's "latest-wins watch, single value" State channel.
type StatePublisher func(UiState)

// StreamBroadcaster receives live token deltas during a streaming Planner
// call. A nil StreamBroadcaster makes the loop call Plan instead of
// PlanStream.
type StreamBroadcaster func(delta string)

// LoopConfig bounds one ReAct loop run.
type LoopConfig struct {
	MaxSteps         int
	CompactThreshold int
	ToolPolicy       *policy.Policy
}

// Loop is the Plan→Act→Observe→Critic engine for a single Submit (spec
// §4.6). A Loop instance is reused across Submits; every field it holds is
// either immutable for the process lifetime or itself single-writer-safe
// (Memory, Tools). Per-Submit state (Working, retry counters) lives only on
// the Run stack.
type Loop struct {
	Memory    *memory.Manager
	Composer  *promptcomposer.Composer
	Planner   *Planner
	Critic    *Critic
	Tools     *ToolRegistry
	Scheduler *Scheduler
	Audit     *audit.Logger
	Config    LoopConfig

	Events EventSink
	State  StatePublisher
	Stream StreamBroadcaster
}

// Run executes one Submit to completion, publishing exactly one terminal
// UiState: Responding with the final assistant message, Error with a typed
// AgentErrorKind, or a silent return to Idle on cancellation (spec §4.1).
// The returned error mirrors the terminal AgentError for the Supervisor's
// own logging; callers should treat the published UiState, not this return
// value, as authoritative.
func (l *Loop) Run(ctx stdctx.Context, utterance string) error {
	maxSteps := l.Config.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	l.emit(models.AgentEventTurnStarted, models.AgentEvent{})

	if pref, matched, err := l.Memory.ExtractPreference(ctx, utterance); err == nil && matched {
		l.emit(models.AgentEventMemoryWritten, models.AgentEvent{
			Text: &models.TextEventPayload{Text: "preferences: " + pref},
		})
	}

	l.Memory.AppendUser(utterance)
	working := memory.NewWorking(utterance)
	var toolsUsed []string
	var injectedCorrection string
	var llmAttempt, toolAttempt int

	for step := 1; step <= maxSteps; step++ {
		if ctx.Err() != nil {
			return l.terminateCancelled()
		}

		if compacted, before, after, err := MaybeCompact(ctx, l.Memory, l.Planner, l.Config.CompactThreshold); err == nil && compacted {
			l.emit(models.AgentEventCompacted, models.AgentEvent{
				Text: &models.TextEventPayload{Text: fmt.Sprintf("before=%d after=%d", before, after)},
			})
			if l.Audit != nil {
				l.Audit.LogSessionCompact(ctx, "", "", before, after, 0, "summarise")
			}
		}

		tools := l.Tools.AsLLMTools(l.Config.ToolPolicy)
		systemPrompt, err := l.Composer.Compose(ctx, renderToolSchema(tools), working.Goal, working.Render(), utterance)
		if err != nil {
			return l.terminateError(err)
		}

		history := l.Memory.Conversation.Messages()
		if injectedCorrection != "" {
			history = append(history, models.Message{Role: models.RoleUser, Content: injectedCorrection, CreatedAt: time.Now()})
			injectedCorrection = ""
		}
		history = l.boundHistory(history)

		l.emit(models.AgentEventPlannerInvoked, models.AgentEvent{
			IterIndex: step,
			Text:      &models.TextEventPayload{Text: fmt.Sprintf("step %d", step)},
		})

		var out PlannerOutput
		if l.Stream != nil {
			out, err = l.Planner.PlanStream(ctx, systemPrompt, history, tools, l.Stream)
		} else {
			out, err = l.Planner.Plan(ctx, systemPrompt, history, tools)
		}

		if err != nil {
			action, terminate, done := l.recoverPlannerError(ctx, err, toolAttempt, llmAttempt)
			if done {
				return terminate
			}
			switch action.Kind {
			case ActionRetryWithPrompt:
				injectedCorrection = action.Prompt
			case ActionSleepAndRetry:
				backoff.SleepWithContext(ctx, action.SleepFor)
			case ActionBackoffAndRetry:
				llmAttempt = action.BackoffAttempt
				backoff.SleepWithContext(ctx, BackoffDelay(action.BackoffAttempt))
			}
			continue
		}
		llmAttempt = 0

		switch out.Kind {
		case PlannerOutputResponse:
			return l.finishResponse(ctx, out.Response, working.Goal, toolsUsed)

		case PlannerOutputToolCall:
			terminate, done := l.dispatchTool(ctx, out.ToolCall, working, &injectedCorrection, &toolsUsed)
			if done {
				return terminate
			}
		}
	}

	return l.terminateError(models.NewMaxStepsExceededError())
}

// boundHistory is the final safety net below Compaction: it truncates
// history to fit the configured model's context window so a single
// Compaction miss (failed summarisation, or a threshold not yet crossed
// this step) can never grow the Planner call past the model's limit.
// RoleSystem messages and the most recent turns are never dropped.
func (l *Loop) boundHistory(history []models.Message) []models.Message {
	window := ctxwindow.NewWindowForModel(l.Planner.Model())
	truncator := ctxwindow.NewTruncator(ctxwindow.TruncateOldest, window.Info().TotalTokens)
	truncator.SetKeepLast(4)
	bounded, _ := truncator.Truncate(history)
	return bounded
}

// recoverPlannerError turns a Planner/LLM-call failure into a RecoveryAction
// and, for actions the loop cannot resume from, a terminal error. done
// reports whether the caller should return terminate immediately.
func (l *Loop) recoverPlannerError(ctx stdctx.Context, err error, toolAttempt, llmAttempt int) (action RecoveryAction, terminate error, done bool) {
	action = Recover(err, toolAttempt, llmAttempt)
	switch action.Kind {
	case ActionAskUser:
		if action.AppendLesson != "" {
			l.Memory.AppendLesson(action.AppendLesson)
		}
		return action, l.terminateErrorWithQuestion(err, action.Question), true
	case ActionSummarizeAndPrune:
		if _, _, cErr := Compact(ctx, l.Memory, l.Planner); cErr != nil {
			return action, l.terminateError(cErr), true
		}
		return action, nil, false
	case ActionHardReport:
		return action, l.terminateError(err), true
	case ActionSuggestDowngrade:
		return action, l.terminateError(err), true
	case ActionTerminateSilent:
		return action, l.terminateCancelled(), true
	case ActionTerminateTruncated:
		return action, l.terminateError(err), true
	case ActionBubble:
		return action, l.terminateError(err), true
	default:
		return action, nil, false
	}
}

// dispatchTool executes a single tool call under a Scheduler permit and
// applies the Critic and Recovery Engine to its outcome (spec §4.6 steps
// 5-7). A ToolTimeout retries the identical call once, in place, without
// consulting the Planner again (spec §4.9); every other failure either
// continues planning with the failure as an observation or terminates the
// run.
func (l *Loop) dispatchTool(ctx stdctx.Context, call *models.ToolCall, working *memory.Working, injectedCorrection *string, toolsUsed *[]string) (terminate error, done bool) {
	var toolAttempt int
	var result *models.ToolResult
	var duration time.Duration

	for {
		l.publish(UiState{Phase: PhaseToolCalling, ToolName: call.Name, ToolArgs: string(call.Input)})
		l.emit(models.AgentEventToolStarted, models.AgentEvent{
			Tool: &models.ToolEventPayload{CallID: call.ID, Name: call.Name, ArgsJSON: call.Input},
		})
		if l.Audit != nil {
			l.Audit.LogToolInvocation(ctx, call.Name, call.ID, call.Input, "")
		}

		release, permErr := l.Scheduler.AcquireForeground(ctx)
		if permErr != nil {
			return l.terminateCancelled(), true
		}
		start := time.Now()
		var execErr error
		result, execErr = l.Tools.Execute(ctx, l.Config.ToolPolicy, call.Name, call.Input)
		release()
		duration = time.Since(start)

		if execErr != nil {
			if l.Audit != nil {
				l.Audit.LogToolCompletion(ctx, call.Name, call.ID, false, execErr.Error(), duration, "")
			}
			action, term, isDone := l.recoverPlannerError(ctx, execErr, toolAttempt, 0)
			if isDone {
				return term, true
			}
			if action.Kind == ActionRetrySameTool {
				toolAttempt++
				continue
			}
			return nil, false
		}

		if result.IsError {
			if l.Audit != nil {
				l.Audit.LogToolCompletion(ctx, call.Name, call.ID, false, result.Content, duration, "")
			}
			l.Memory.RecordProcedural(ctx, memory.ProceduralOutcome{ToolName: call.Name, Success: false, Detail: result.Content, At: time.Now()})
			working.RecordFailure(call.Name, string(result.ErrorKind), result.Content)

			toolErr := toolResultError(call.Name, result)
			action := Recover(toolErr, toolAttempt, 0)
			switch action.Kind {
			case ActionRetrySameTool:
				toolAttempt++
				continue
			case ActionContinue:
				l.Memory.AppendToolDialogue(call.Name, string(call.Input), action.Observation)
				return nil, false
			case ActionAskUser:
				return l.terminateErrorWithQuestion(toolErr, action.Question), true
			case ActionHardReport:
				return l.terminateError(toolErr), true
			default:
				return l.terminateError(toolErr), true
			}
		}

		// Success; falls through to the shared tail below.
		break
	}

	if l.Audit != nil {
		l.Audit.LogToolCompletion(ctx, call.Name, call.ID, true, result.Content, duration, "")
	}
	l.emit(models.AgentEventToolFinished, models.AgentEvent{
		Tool: &models.ToolEventPayload{CallID: call.ID, Name: call.Name, Success: true, Elapsed: duration},
	})
	l.Memory.RecordProcedural(ctx, memory.ProceduralOutcome{ToolName: call.Name, Success: true, Detail: result.Content, At: time.Now()})
	working.RecordAttempt(call.Name, result.Content, workingMemoryDigestLen)
	*toolsUsed = append(*toolsUsed, call.Name)

	verdict, _ := l.Critic.Review(ctx, working.Goal, call.Name, result.Content)
	verdictText := "approved"
	if verdict.Kind == CriticCorrection {
		verdictText = "corrected: " + verdict.Text
		*injectedCorrection = FormatCorrection(verdict)
		l.Memory.AppendLesson(verdict.Text)
	}
	l.emit(models.AgentEventCriticVerdict, models.AgentEvent{Text: &models.TextEventPayload{Text: verdictText}})

	l.Memory.AppendToolDialogue(call.Name, string(call.Input), result.Content)
	return nil, false
}

func (l *Loop) finishResponse(ctx stdctx.Context, response, goal string, toolsUsed []string) error {
	l.Memory.AppendAssistant(response)
	if err := l.Memory.CommitStrategy(ctx, goal, toolsUsed); err == nil {
		l.emit(models.AgentEventMemoryWritten, models.AgentEvent{Text: &models.TextEventPayload{Text: "long-term: session strategy"}})
	}
	l.publish(UiState{Phase: PhaseResponding, Message: response})
	l.emit(models.AgentEventTurnFinished, models.AgentEvent{Text: &models.TextEventPayload{Text: "response"}})
	return nil
}

func (l *Loop) terminateCancelled() error {
	l.publish(IdleState())
	l.emit(models.AgentEventRunCancelled, models.AgentEvent{})
	return nil
}

func (l *Loop) terminateError(err error) error {
	kind, _ := models.KindOf(err)
	l.publish(UiState{Phase: PhaseError, ErrorKind: kind, ErrorMessage: err.Error()})
	l.emit(models.AgentEventRunError, models.AgentEvent{Error: &models.ErrorEventPayload{Message: err.Error(), Err: err}})
	l.emit(models.AgentEventTurnFinished, models.AgentEvent{Text: &models.TextEventPayload{Text: "error"}})
	return err
}

func (l *Loop) terminateErrorWithQuestion(err error, question string) error {
	kind, _ := models.KindOf(err)
	l.publish(UiState{Phase: PhaseError, ErrorKind: kind, ErrorMessage: question})
	l.emit(models.AgentEventRunError, models.AgentEvent{Error: &models.ErrorEventPayload{Message: question, Err: err}})
	l.emit(models.AgentEventTurnFinished, models.AgentEvent{Text: &models.TextEventPayload{Text: "error"}})
	return err
}

func (l *Loop) emit(t models.AgentEventType, ev models.AgentEvent) {
	if l.Events == nil {
		return
	}
	ev.Type = t
	ev.Time = time.Now()
	l.Events(ev)
}

func (l *Loop) publish(s UiState) {
	if l.State != nil {
		l.State(s)
	}
}

// toolResultError maps a failed ToolResult's ErrorKind to the AgentError
// taxonomy the Recovery Engine switches on (spec §4.9).
func toolResultError(name string, result *models.ToolResult) error {
	switch result.ErrorKind {
	case models.ToolErrorTimeout:
		return models.NewToolTimeoutError(name)
	case models.ToolErrorDenied:
		return models.NewShellDeniedError(result.Content)
	default:
		return models.NewToolFailedError(name, result.Content)
	}
}

// renderToolSchema concatenates every allowed tool's name, description, and
// JSON schema into the text injected after the base system prompt (spec
// §4.5: "schemas ... concatenated into the system prompt").
func renderToolSchema(tools []Tool) string {
	if len(tools) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString("## Available tools\n")
	for _, t := range tools {
		fmt.Fprintf(&sb, "- %s: %s\n", t.Name(), t.Description())
		if schema := t.Schema(); len(schema) > 0 {
			fmt.Fprintf(&sb, "  schema: %s\n", schema)
		}
	}
	return sb.String()
}
