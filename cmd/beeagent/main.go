// Package main provides the CLI entry point for beeagent, a local,
// single-process personal-agent orchestration core: a bounded
// Plan->Act->Observe->Critic loop interleaving an LLM planner with
// sandboxed tool invocations and a layered on-disk memory store.
//
// # Basic Usage
//
// Start an interactive session:
//
//	beeagent run --config beeagent.yaml
//
// # Environment Variables
//
//   - BEEAGENT_CONFIG: path to the configuration file (default: beeagent.yaml)
//   - ANTHROPIC_API_KEY: Anthropic API key for Claude models
//   - OPENAI_API_KEY: OpenAI API key for GPT models
package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jerry-guo-mys/beeagent/internal/agent"
	promptcomposer "github.com/jerry-guo-mys/beeagent/internal/agent/context"
	"github.com/jerry-guo-mys/beeagent/internal/agent/providers"
	"github.com/jerry-guo-mys/beeagent/internal/audit"
	"github.com/jerry-guo-mys/beeagent/internal/config"
	"github.com/jerry-guo-mys/beeagent/internal/memory"
	"github.com/jerry-guo-mys/beeagent/internal/memory/longterm"
	"github.com/jerry-guo-mys/beeagent/internal/observability"
	"github.com/jerry-guo-mys/beeagent/internal/tools/exec"
	"github.com/jerry-guo-mys/beeagent/internal/tools/files"
	"github.com/jerry-guo-mys/beeagent/internal/tools/memorysearch"
	"github.com/jerry-guo-mys/beeagent/internal/tools/policy"
	"github.com/jerry-guo-mys/beeagent/internal/tools/websearch"
	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

// Build information, populated by ldflags during build.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "beeagent",
		Short:         "beeagent - local personal agent orchestration core",
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage:  true,
		SilenceErrors: false,
	}

	rootCmd.AddCommand(buildRunCmd(), buildCompactCmd())
	return rootCmd
}

func buildRunCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive session, reading utterances from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInteractive(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("BEEAGENT_CONFIG"), "path to the YAML config file")
	return cmd
}

func buildCompactCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "compact",
		Short: "Force a Compaction pass over the current Conversation and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := buildLoop(configPath)
			if err != nil {
				return err
			}
			before, after, err := agent.Compact(cmd.Context(), deps.loop.Memory, deps.loop.Planner)
			if err != nil {
				return fmt.Errorf("compact: %w", err)
			}
			fmt.Printf("compacted: before=%d after=%d\n", before, after)
			return nil
		},
	}
	cmd.Flags().StringVar(&configPath, "config", os.Getenv("BEEAGENT_CONFIG"), "path to the YAML config file")
	return cmd
}

// loopDeps bundles the wired orchestration core so commands that need only
// a subset (e.g. compact) don't have to re-derive it.
type loopDeps struct {
	loop       *agent.Loop
	supervisor *agent.Supervisor
	metrics    *observability.Metrics
	logger     *observability.Logger
}

func runInteractive(ctx context.Context, configPath string) error {
	deps, err := buildLoop(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps.loop.Events = func(ev models.AgentEvent) {
		deps.logger.Debug(ctx, "agent event", "type", ev.Type)
	}
	deps.loop.State = func(s agent.UiState) {
		switch s.Phase {
		case agent.PhaseResponding:
			fmt.Println(s.Message)
		case agent.PhaseError:
			deps.logger.Error(ctx, "run error", "kind", s.ErrorKind, "message", s.ErrorMessage)
		case agent.PhaseToolCalling:
			deps.logger.Info(ctx, "calling tool", "tool", s.ToolName)
		}
	}

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("> ")
	for scanner.Scan() {
		utterance := scanner.Text()
		if utterance == "" {
			fmt.Print("> ")
			continue
		}
		if err := deps.supervisor.Submit(ctx, utterance); err != nil {
			if err == agent.ErrSupervisorBusy {
				fmt.Fprintln(os.Stderr, "a run is already in progress")
			} else {
				fmt.Fprintln(os.Stderr, err)
			}
		}
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		fmt.Print("> ")
	}
	return scanner.Err()
}

// buildLoop wires every SPEC_FULL.md component from cfg: providers, memory,
// tool registry, Composer, Planner, Critic, Scheduler, audit Logger, and the
// Loop/Supervisor pair that drives a Submit end to end.
func buildLoop(configPath string) (*loopDeps, error) {
	if configPath == "" {
		configPath = "beeagent.yaml"
	}
	cfg, err := loadOrDefault(configPath)
	if err != nil {
		return nil, err
	}

	metrics := observability.NewMetrics()
	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})

	chatLLM, embedder, err := buildProviders(cfg)
	if err != nil {
		return nil, fmt.Errorf("build providers: %w", err)
	}

	memDir := cfg.Workspace
	mgr, err := memory.NewManager(memory.Config{
		WorkspaceDir:     memDir,
		MaxTurns:         cfg.Memory.MaxTurns,
		LongTermTopK:     cfg.Memory.LongTermTopK,
		CaptureSuccesses: cfg.Memory.CaptureSuccesses,
		LongTermBackend:  cfg.Memory.LongTermBackend,
	}, embedder)
	if err != nil {
		return nil, fmt.Errorf("build memory manager: %w", err)
	}

	composer := promptcomposer.NewComposer(
		filepath.Join(memDir, "system.md"),
		filepath.Join(memDir, "memory", "lessons.md"),
		filepath.Join(memDir, "memory", "procedural.md"),
		filepath.Join(memDir, "memory", "preferences.md"),
		func(ctx context.Context, query string) (string, error) {
			results, err := mgr.LongTerm.Search(ctx, query, cfg.Memory.LongTermTopK)
			if err != nil {
				return "", err
			}
			var out string
			for _, r := range results {
				out += r.Entry.Title + "\n" + r.Entry.Content + "\n\n"
			}
			return out, nil
		},
	)

	registry := agent.NewToolRegistry()
	for _, t := range buildTools(cfg) {
		if err := registry.Register(t); err != nil {
			return nil, fmt.Errorf("register tool: %w", err)
		}
	}

	toolPolicy := policy.NewPolicy(policy.Profile(cfg.Loop.ToolProfile))
	toolPolicy.Allow = append(toolPolicy.Allow, cfg.Loop.ToolAllow...)
	toolPolicy.Deny = append(toolPolicy.Deny, cfg.Loop.ToolDeny...)

	var auditLogger *audit.Logger
	if cfg.Audit.Enabled {
		auditLogger, err = audit.NewLogger(audit.Config{
			Enabled: true,
			Level:   audit.LevelInfo,
			Format:  audit.FormatJSON,
			Output:  cfg.Audit.Output,
		})
		if err != nil {
			return nil, fmt.Errorf("build audit logger: %w", err)
		}
	}

	loop := &agent.Loop{
		Memory:    mgr,
		Composer:  composer,
		Planner:   agent.NewPlanner(chatLLM, cfg.LLM.Model),
		Critic:    agent.NewCritic(chatLLM, cfg.LLM.Model, cfg.Critic.Disabled),
		Tools:     registry,
		Scheduler: agent.NewScheduler(cfg.Loop.MaxParallelTools),
		Audit:     auditLogger,
		Config: agent.LoopConfig{
			MaxSteps:         cfg.Loop.MaxSteps,
			CompactThreshold: cfg.Loop.CompactThreshold,
			ToolPolicy:       toolPolicy,
		},
	}

	supervisor := agent.NewSupervisor(loop)
	supervisor.StuckAfter = cfg.Loop.StuckAfter
	supervisor.OnStuck = func() { metrics.RecordSessionStuck() }

	return &loopDeps{loop: loop, supervisor: supervisor, metrics: metrics, logger: logger}, nil
}

func loadOrDefault(path string) (*config.Config, error) {
	if _, err := os.Stat(path); err != nil {
		return config.Parse("")
	}
	return config.Load(path)
}

// buildProviders constructs the chat/planner LLM client and, separately, an
// Embedder for long-term vector memory. Anthropic never serves embeddings
// (it always returns longterm.ErrEmbedUnsupported), so an OpenAI-embedding
// configuration alongside an Anthropic chat provider is valid and wires a
// second provider instance purely for Embed.
func buildProviders(cfg *config.Config) (agent.LlmClient, longterm.Embedder, error) {
	chatLLM, err := newProvider(cfg.LLM.Provider, cfg)
	if err != nil {
		return nil, nil, err
	}

	if cfg.LLM.EmbeddingProvider == cfg.LLM.Provider {
		return chatLLM, chatLLM, nil
	}
	embedProvider, err := newProvider(cfg.LLM.EmbeddingProvider, cfg)
	if err != nil {
		return nil, nil, err
	}
	return chatLLM, embedProvider, nil
}

func newProvider(name string, cfg *config.Config) (agent.LlmClient, error) {
	switch name {
	case "openai":
		return providers.NewOpenAIProvider(providers.OpenAIConfig{
			APIKey:     cfg.LLM.OpenAI.APIKey,
			MaxRetries: cfg.LLM.MaxRetries,
			RetryDelay: cfg.LLM.RetryDelay,
		})
	case "anthropic", "":
		return providers.NewAnthropicProvider(providers.AnthropicConfig{
			APIKey:     cfg.LLM.Anthropic.APIKey,
			BaseURL:    cfg.LLM.Anthropic.BaseURL,
			MaxRetries: cfg.LLM.MaxRetries,
			RetryDelay: cfg.LLM.RetryDelay,
		})
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", name)
	}
}

// buildTools assembles the built-in sandboxed tool set (spec §4.5): files,
// shell execution, web search/fetch, and memory search, every one of them
// rooted at cfg.Workspace.
func buildTools(cfg *config.Config) []agent.Tool {
	workspace := cfg.Workspace
	filesCfg := files.Config{Workspace: workspace, MaxReadBytes: cfg.Tools.MaxReadBytes}

	execManager := exec.NewManager(workspace, cfg.Tools.AllowedCommands)

	memCfg := &memorysearch.Config{
		Directory:     filepath.Join(workspace, "memory"),
		MemoryFile:    filepath.Join(workspace, "memory", "longterm.md"),
		WorkspacePath: workspace,
		Mode:          cfg.Tools.MemorySearchMode,
	}

	return []agent.Tool{
		files.NewReadTool(filesCfg),
		files.NewWriteTool(filesCfg),
		files.NewEditTool(filesCfg),
		files.NewApplyPatchTool(filesCfg),
		exec.NewExecTool("exec", execManager),
		exec.NewProcessTool(execManager),
		websearch.NewWebSearchTool(&websearch.Config{
			SearXNGURL:  cfg.Tools.SearXNGURL,
			BraveAPIKey: cfg.Tools.BraveAPIKey,
		}),
		websearch.NewWebFetchTool(&websearch.FetchConfig{}),
		memorysearch.NewMemorySearchTool(memCfg),
		memorysearch.NewMemoryGetTool(memCfg),
	}
}
