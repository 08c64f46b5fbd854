package memory

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"time"

	"github.com/jerry-guo-mys/beeagent/internal/memory/longterm"
	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

// Config configures the layered Memory Manager: on-disk workspace layout,
// conversation bounds, and long-term retrieval parameters (spec §6's
// documented on-disk layout).
type Config struct {
	WorkspaceDir     string
	MaxTurns         int
	LongTermTopK     int
	CaptureSuccesses bool   // whether Procedural records successful tool calls, not just failures
	LongTermBackend  string // "bm25", "vector" (default), or "sqlite"
}

// Manager owns every memory store and is the only writer to any of them;
// the ReAct loop is its sole caller (spec §5's single-writer rule). It is
// not clonable and is shared across a Supervisor's Submits for one running
// agent, but each Submit gets a fresh Working scratchpad.
type Manager struct {
	cfg Config

	Conversation *Conversation
	LongTerm     longterm.Store
	Lessons      *TextStore
	Procedural   *TextStore
	Preferences  *TextStore
}

// NewManager wires up every store rooted at cfg.WorkspaceDir. embedder may
// be nil, in which case LongTerm runs in BM25-only mode.
func NewManager(cfg Config, embedder longterm.Embedder) (*Manager, error) {
	if cfg.LongTermTopK <= 0 {
		cfg.LongTermTopK = 5
	}
	dir := cfg.WorkspaceDir

	lt, err := longterm.NewStoreWithBackend(dir, embedder, cfg.LongTermBackend)
	if err != nil {
		return nil, fmt.Errorf("init long-term store: %w", err)
	}
	lessons, err := NewTextStore(filepath.Join(dir, "memory", "lessons.md"), "Lessons")
	if err != nil {
		return nil, fmt.Errorf("init lessons store: %w", err)
	}
	procedural, err := NewTextStore(filepath.Join(dir, "memory", "procedural.md"), "Procedural hints")
	if err != nil {
		return nil, fmt.Errorf("init procedural store: %w", err)
	}
	preferences, err := NewTextStore(filepath.Join(dir, "memory", "preferences.md"), "User preferences")
	if err != nil {
		return nil, fmt.Errorf("init preferences store: %w", err)
	}

	return &Manager{
		cfg:          cfg,
		Conversation: NewConversation(cfg.MaxTurns),
		LongTerm:     lt,
		Lessons:      lessons,
		Procedural:   procedural,
		Preferences:  preferences,
	}, nil
}

// AppendLesson records a behavioural rule, deduped against existing lessons.
func (m *Manager) AppendLesson(text string) error {
	_, err := m.Lessons.Append(text)
	return err
}

// RecordProcedural appends a tool success/failure trace. Successes are only
// recorded when cfg.CaptureSuccesses is set (spec §3: "failures always,
// successes only if configured").
func (m *Manager) RecordProcedural(ctx context.Context, outcome ProceduralOutcome) error {
	if outcome.Success && !m.cfg.CaptureSuccesses {
		return nil
	}
	_, err := m.Procedural.Append(FormatProceduralOutcome(outcome))
	return err
}

var rememberPattern = regexp.MustCompile(`(?i)^\s*(?:remember|记住)\s*[:：]\s*(.+)$`)

// ExtractPreference checks utterance against the literal "remember: X" /
// "记住：X" trigger (spec §4.6's user-preference-extraction step). When
// matched, X is appended to Preferences and mirrored into Long-term, and
// the function returns the extracted text and true.
func (m *Manager) ExtractPreference(ctx context.Context, utterance string) (string, bool, error) {
	match := rememberPattern.FindStringSubmatch(utterance)
	if match == nil {
		return "", false, nil
	}
	pref := match[1]
	if _, err := m.Preferences.Append(pref); err != nil {
		return "", false, fmt.Errorf("append preference: %w", err)
	}
	if err := m.LongTerm.Append(ctx, "Preference @ "+time.Now().UTC().Format(time.RFC3339), pref); err != nil {
		return "", false, fmt.Errorf("mirror preference to long-term: %w", err)
	}
	return pref, true, nil
}

// CommitStrategy records a session strategy block to Long-term after a
// Response (spec §4.6 step 5): the goal plus the tool names used reaching
// it.
func (m *Manager) CommitStrategy(ctx context.Context, goal string, toolsUsed []string) error {
	content := "Goal: " + goal
	if len(toolsUsed) > 0 {
		content += "\nTools used: "
		for i, t := range toolsUsed {
			if i > 0 {
				content += ", "
			}
			content += t
		}
	}
	return m.LongTerm.Append(ctx, "Session strategy @ "+time.Now().UTC().Format(time.RFC3339), content)
}

// RetrieveRelevant returns the top-k Long-term entries for query, rendered
// as a single string for the "Relevant past knowledge" system-prompt
// section (spec §4.7), or "" if nothing is relevant.
func (m *Manager) RetrieveRelevant(ctx context.Context, query string) (string, error) {
	results, err := m.LongTerm.Search(ctx, query, m.cfg.LongTermTopK)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}
	out := ""
	for _, r := range results {
		if out != "" {
			out += "\n\n"
		}
		out += fmt.Sprintf("## %s\n%s", r.Entry.Title, r.Entry.Content)
	}
	return out, nil
}

// Close flushes any buffered state (e.g. the vector snapshot).
func (m *Manager) Close() error {
	return m.LongTerm.Close()
}

// AppendAssistant appends an assistant turn to the conversation.
func (m *Manager) AppendAssistant(content string) {
	m.Conversation.Append(models.Message{Role: models.RoleAssistant, Content: content, CreatedAt: time.Now()})
}

// AppendUser appends a user turn to the conversation.
func (m *Manager) AppendUser(content string) {
	m.Conversation.Append(models.Message{Role: models.RoleUser, Content: content, CreatedAt: time.Now()})
}

// AppendToolDialogue appends the two synthetic bookkeeping messages for a
// tool call described in spec §4.6 step 6: an assistant-role summary and a
// tool-role observation, both excluded from UserFacingHistory.
func (m *Manager) AppendToolDialogue(toolName, args, observation string) {
	now := time.Now()
	m.Conversation.Append(models.Message{
		Role:      models.RoleAssistant,
		Content:   fmt.Sprintf("Tool call: %s | Result: %s", toolName, observation),
		CreatedAt: now,
	})
	m.Conversation.Append(models.Message{
		Role:      models.RoleTool,
		ToolName:  toolName,
		Content:   fmt.Sprintf("Observation from %s: %s", toolName, observation),
		CreatedAt: now,
	})
}
