package exec

import (
	"fmt"
	"strings"

	execsafety "github.com/jerry-guo-mys/beeagent/internal/exec"
)

// AllowList enforces the sandbox's command allow-listing rule (spec §4.5):
// a command is rejected if its first token is not on the configured
// allow-list, or if the full command string carries a shell metacharacter
// known to chain commands past the first token.
type AllowList struct {
	// Commands is the set of permitted first tokens (bare executable names
	// or paths), e.g. {"ls", "cat", "grep", "git"}. A nil or empty list
	// denies everything — callers must opt in explicitly.
	Commands map[string]bool
}

// NewAllowList builds an AllowList from a slice of command names.
func NewAllowList(commands []string) *AllowList {
	set := make(map[string]bool, len(commands))
	for _, c := range commands {
		set[strings.TrimSpace(c)] = true
	}
	return &AllowList{Commands: set}
}

// Check validates a full shell command string against the allow-list. It
// returns a non-nil error describing the violation if the command should be
// denied.
func (a *AllowList) Check(command string) error {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return fmt.Errorf("command is empty")
	}

	// A shell metacharacter anywhere in the string can chain an
	// otherwise-allowed first token into an arbitrary second command, so
	// the whole string is checked, not just the first token.
	if execsafety.ShellMetachars.MatchString(trimmed) || execsafety.ControlChars.MatchString(trimmed) {
		return fmt.Errorf("command contains a shell metacharacter that can chain commands")
	}

	first := trimmed
	if idx := strings.IndexAny(trimmed, " \t"); idx >= 0 {
		first = trimmed[:idx]
	}

	if _, err := execsafety.SanitizeExecutableValue(first); err != nil {
		return fmt.Errorf("command %q is not a safe executable value: %w", first, err)
	}

	if a == nil || !a.Commands[first] {
		return fmt.Errorf("command %q is not on the allow-list", first)
	}
	return nil
}
