// Package policy provides tool authorization and access control. It
// defines profiles, policies, and groups for gating which tools the
// Tool Registry exposes to a given session.
package policy

import (
	"strings"
)

// Profile defines a pre-configured tool access profile that provides
// sensible defaults for common use cases.
type Profile string

const (
	// ProfileMinimal allows only status tools.
	ProfileMinimal Profile = "minimal"

	// ProfileCoding allows filesystem, execution, and web tools.
	ProfileCoding Profile = "coding"

	// ProfileReadonly allows only tools that cannot modify state.
	ProfileReadonly Profile = "readonly"

	// ProfileFull allows all tools (except explicitly denied).
	ProfileFull Profile = "full"
)

// Policy defines tool access rules for a session, combining a profile
// with explicit allow and deny lists. Deny rules always take precedence
// over allow rules.
type Policy struct {
	Profile Profile  `json:"profile,omitempty" yaml:"profile"`
	Allow   []string `json:"allow,omitempty" yaml:"allow"`
	Deny    []string `json:"deny,omitempty" yaml:"deny"`
}

// DefaultGroups are the built-in tool groups. Groups can be referenced
// in policies using their key (e.g., "group:fs").
var DefaultGroups = map[string][]string{
	"group:fs":      {"read", "write", "edit", "apply_patch"},
	"group:exec":    {"exec", "process"},
	"group:web":     {"web_search", "web_fetch"},
	"group:memory":  {"memory_search", "memory_get"},
	"group:readonly": {
		"read", "web_search", "web_fetch", "memory_search", "memory_get",
	},
	"group:all": {
		"read", "write", "edit", "apply_patch",
		"exec", "process",
		"web_search", "web_fetch",
		"memory_search", "memory_get",
	},
}

// ProfileDefaults defines the default allow lists for each profile.
var ProfileDefaults = map[Profile]*Policy{
	ProfileMinimal: {
		Allow: []string{"status"},
	},
	ProfileCoding: {
		Allow: []string{"group:fs", "group:exec", "group:web", "group:memory"},
	},
	ProfileReadonly: {
		Allow: []string{"group:readonly"},
	},
	ProfileFull: {
		// Full profile allows everything not explicitly denied.
	},
}

// ToolAliases maps alternative names to canonical tool names.
var ToolAliases = map[string]string{
	"bash":        "exec",
	"shell":       "exec",
	"apply-patch": "apply_patch",
	"websearch":   "web_search",
	"webfetch":    "web_fetch",
}

// NormalizeTool normalizes a tool name to its canonical form by
// lowercasing it and resolving known aliases.
func NormalizeTool(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := ToolAliases[normalized]; ok {
		return alias
	}
	return normalized
}

// NormalizeTools normalizes a list of tool names to their canonical forms.
func NormalizeTools(names []string) []string {
	result := make([]string, 0, len(names))
	for _, name := range names {
		normalized := NormalizeTool(name)
		if normalized != "" {
			result = append(result, normalized)
		}
	}
	return result
}

// NewPolicy creates a new policy with the given profile as a base.
func NewPolicy(profile Profile) *Policy {
	return &Policy{Profile: profile}
}

// WithAllow adds tools to the allow list and returns the policy for chaining.
func (p *Policy) WithAllow(tools ...string) *Policy {
	p.Allow = append(p.Allow, tools...)
	return p
}

// WithDeny adds tools to the deny list and returns the policy for chaining.
func (p *Policy) WithDeny(tools ...string) *Policy {
	p.Deny = append(p.Deny, tools...)
	return p
}
