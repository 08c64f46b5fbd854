package agent

import "github.com/jerry-guo-mys/beeagent/pkg/models"

// Phase is the UiState's discriminant, published on the Supervisor's State
// watch channel (spec §5's "latest-wins watch, single value").
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseToolCalling Phase = "tool_calling"
	PhaseResponding  Phase = "responding"
	PhaseError       Phase = "error"
)

// UiState is the small, cheaply-cloned projection of a Submit's progress
// that the front-end collaborator observes. Exactly one field group is
// meaningful depending on Phase.
type UiState struct {
	Phase Phase

	// Responding
	Message string

	// ToolCalling
	ToolName string
	ToolArgs string

	// Error
	ErrorKind    models.AgentErrorKind
	ErrorMessage string
}

// IdleState is the resting UiState between Submits and after a silent
// cancellation.
func IdleState() UiState { return UiState{Phase: PhaseIdle} }

// CommandKind tags a Command sent on the unbounded Command channel from the
// front-end to the Supervisor (spec §6).
type CommandKind string

const (
	CommandSubmit       CommandKind = "submit"
	CommandCancel       CommandKind = "cancel"
	CommandClear        CommandKind = "clear"
	CommandReloadConfig CommandKind = "reload_config"
)

// Command is the tagged union of front-end requests the Supervisor accepts.
// Only the fields relevant to Kind are populated.
type Command struct {
	Kind CommandKind
	// Text is the user utterance, set for CommandSubmit.
	Text string
}

// InternalState is the ReAct loop's private, per-Submit bookkeeping. It is
// never shared outward; UiState is the only externally visible projection.
type InternalState struct {
	RunID     string
	Step      int
	ToolsUsed []string
}

// RecordTool appends name to ToolsUsed for the eventual "session strategy"
// Long-term block (spec §4.6 step 5).
func (s *InternalState) RecordTool(name string) {
	s.ToolsUsed = append(s.ToolsUsed, name)
}
