// Package config loads and defaults beeagent's runtime configuration: loop
// bounds, memory paths, tool sandbox roots, and provider credentials
// (spec's Configuration section, mirroring the teacher's internal/config
// merge pattern — decode into a zero-valued struct, then apply defaults).
package config

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a beeagent process.
type Config struct {
	Workspace string `yaml:"workspace"`

	LLM    LLMConfig    `yaml:"llm"`
	Loop   LoopConfig   `yaml:"loop"`
	Memory MemoryConfig `yaml:"memory"`
	Tools  ToolsConfig  `yaml:"tools"`
	Critic CriticConfig `yaml:"critic"`
	Audit  AuditConfig  `yaml:"audit"`
	Log    LogConfig    `yaml:"log"`
}

// LLMConfig selects and configures the LLM providers. Provider is the
// planner/critic/chat backend; EmbeddingProvider, if set, may differ (an
// Anthropic chat model paired with an OpenAI embedder is a supported
// cross-provider combination since AnthropicProvider never serves
// embeddings).
type LLMConfig struct {
	Provider          string        `yaml:"provider"`
	EmbeddingProvider string        `yaml:"embedding_provider"`
	Model             string        `yaml:"model"`
	MaxRetries        int           `yaml:"max_retries"`
	RetryDelay        time.Duration `yaml:"retry_delay"`

	Anthropic AnthropicConfig `yaml:"anthropic"`
	OpenAI    OpenAIConfig    `yaml:"openai"`
}

// AnthropicConfig carries Anthropic-specific settings; the API key is read
// from ANTHROPIC_API_KEY unless set explicitly.
type AnthropicConfig struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
}

// OpenAIConfig carries OpenAI-specific settings; the API key is read from
// OPENAI_API_KEY unless set explicitly.
type OpenAIConfig struct {
	APIKey         string `yaml:"api_key"`
	EmbeddingModel string `yaml:"embedding_model"`
}

// LoopConfig bounds one ReAct loop run (spec §4.6, §4.2, §4.1).
type LoopConfig struct {
	MaxSteps         int           `yaml:"max_steps"`
	CompactThreshold int           `yaml:"compact_threshold"`
	MaxParallelTools int           `yaml:"max_parallel_tools"`
	StuckAfter       time.Duration `yaml:"stuck_after"`
	ToolProfile      string        `yaml:"tool_profile"`
	ToolAllow        []string      `yaml:"tool_allow"`
	ToolDeny         []string      `yaml:"tool_deny"`
}

// MemoryConfig roots the on-disk memory layout (spec §3).
type MemoryConfig struct {
	MaxTurns         int    `yaml:"max_turns"`
	LongTermTopK     int    `yaml:"long_term_top_k"`
	CaptureSuccesses bool   `yaml:"capture_successes"`
	LongTermBackend  string `yaml:"long_term_backend"` // "bm25", "vector" (default), or "sqlite"
}

// ToolsConfig configures the sandboxed tool set (spec §4.5).
type ToolsConfig struct {
	MaxReadBytes     int      `yaml:"max_read_bytes"`
	AllowedCommands  []string `yaml:"allowed_commands"`
	AllowedHosts     []string `yaml:"allowed_hosts"`
	CallTimeout      time.Duration `yaml:"call_timeout"`
	SearXNGURL       string   `yaml:"searxng_url"`
	BraveAPIKey      string   `yaml:"brave_api_key"`
	MemorySearchMode string   `yaml:"memory_search_mode"`
}

// CriticConfig toggles the Critic's LLM pass (spec §4.4).
type CriticConfig struct {
	Disabled bool `yaml:"disabled"`
}

// AuditConfig controls structured audit logging for tool invocations (spec
// §4.5's audit event).
type AuditConfig struct {
	Enabled bool   `yaml:"enabled"`
	Output  string `yaml:"output"`
}

// LogConfig controls process-wide structured logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses a YAML config file from path, expanding
// environment variables, then applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(string(data))
}

// Parse decodes raw YAML (after environment-variable expansion) into a
// Config and applies defaults, matching the teacher's single-document,
// known-fields decode (internal/config/config.go's Load).
func Parse(raw string) (*Config, error) {
	expanded := os.ExpandEnv(raw)

	var cfg Config
	decoder := yaml.NewDecoder(strings.NewReader(expanded))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := decoder.Decode(new(struct{})); err != io.EOF {
		return nil, fmt.Errorf("parse config: expected a single YAML document")
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace == "" {
		cfg.Workspace = "."
	}

	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "anthropic"
	}
	if cfg.LLM.EmbeddingProvider == "" {
		cfg.LLM.EmbeddingProvider = cfg.LLM.Provider
	}
	if cfg.LLM.MaxRetries <= 0 {
		cfg.LLM.MaxRetries = 3
	}
	if cfg.LLM.RetryDelay <= 0 {
		cfg.LLM.RetryDelay = time.Second
	}
	if cfg.LLM.Anthropic.APIKey == "" {
		cfg.LLM.Anthropic.APIKey = os.Getenv("ANTHROPIC_API_KEY")
	}
	if cfg.LLM.OpenAI.APIKey == "" {
		cfg.LLM.OpenAI.APIKey = os.Getenv("OPENAI_API_KEY")
	}

	if cfg.Loop.MaxSteps <= 0 {
		cfg.Loop.MaxSteps = 6
	}
	if cfg.Loop.CompactThreshold <= 0 {
		cfg.Loop.CompactThreshold = 24
	}
	if cfg.Loop.MaxParallelTools <= 0 {
		cfg.Loop.MaxParallelTools = 3
	}
	if cfg.Loop.ToolProfile == "" {
		cfg.Loop.ToolProfile = "coding"
	}

	if cfg.Memory.MaxTurns <= 0 {
		cfg.Memory.MaxTurns = 24
	}
	if cfg.Memory.LongTermTopK <= 0 {
		cfg.Memory.LongTermTopK = 5
	}
	if cfg.Memory.LongTermBackend == "" {
		cfg.Memory.LongTermBackend = "vector"
	}

	if cfg.Tools.MaxReadBytes <= 0 {
		cfg.Tools.MaxReadBytes = 200000
	}
	if cfg.Tools.CallTimeout <= 0 {
		cfg.Tools.CallTimeout = 30 * time.Second
	}
	if len(cfg.Tools.AllowedCommands) == 0 {
		cfg.Tools.AllowedCommands = []string{"ls", "cat", "grep", "find", "git", "go"}
	}
	if cfg.Tools.MemorySearchMode == "" {
		cfg.Tools.MemorySearchMode = "hybrid"
	}

	if cfg.Audit.Output == "" {
		cfg.Audit.Output = "stdout"
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
