package providers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/anthropics/anthropic-sdk-go"

	"github.com/jerry-guo-mys/beeagent/internal/agent"
	"github.com/jerry-guo-mys/beeagent/internal/memory/longterm"
	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

type mockTool struct {
	name        string
	description string
	schema      json.RawMessage
}

func (m *mockTool) Name() string           { return m.name }
func (m *mockTool) Description() string    { return m.description }
func (m *mockTool) Schema() json.RawMessage { return m.schema }
func (m *mockTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) {
	return &models.ToolResult{Content: "test result"}, nil
}

func TestNewAnthropicProvider(t *testing.T) {
	tests := []struct {
		name        string
		config      AnthropicConfig
		expectError bool
	}{
		{
			name: "valid config",
			config: AnthropicConfig{
				APIKey:       "test-key",
				MaxRetries:   3,
				RetryDelay:   time.Second,
				DefaultModel: "claude-sonnet-4-20250514",
			},
		},
		{
			name:        "missing API key",
			config:      AnthropicConfig{MaxRetries: 3},
			expectError: true,
		},
		{
			name:   "defaults applied",
			config: AnthropicConfig{APIKey: "test-key"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider, err := NewAnthropicProvider(tt.config)
			if tt.expectError {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if provider.maxRetries <= 0 {
				t.Error("maxRetries should have a default value")
			}
			if provider.retryDelay <= 0 {
				t.Error("retryDelay should have a default value")
			}
			if provider.defaultModel == "" {
				t.Error("defaultModel should have a default value")
			}
		})
	}
}

func TestAnthropicProviderMethods(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	if provider.Name() != "anthropic" {
		t.Errorf("expected name 'anthropic', got %q", provider.Name())
	}
	if !provider.SupportsTools() {
		t.Error("expected SupportsTools to return true")
	}

	modelIDs := make(map[string]bool)
	for _, m := range provider.Models() {
		modelIDs[m.ID] = true
		if m.Name == "" {
			t.Errorf("model %s has empty name", m.ID)
		}
		if m.ContextSize != 200000 {
			t.Errorf("model %s has unexpected context size %d", m.ID, m.ContextSize)
		}
		if !m.SupportsVision {
			t.Errorf("model %s should support vision", m.ID)
		}
	}
	for _, expected := range []string{"claude-sonnet-4-20250514", "claude-opus-4-20250514", "claude-3-5-sonnet-20241022"} {
		if !modelIDs[expected] {
			t.Errorf("expected model %s not found", expected)
		}
	}
}

func TestAnthropicConvertMessages(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	tests := []struct {
		name     string
		messages []agent.CompletionMessage
		wantErr  bool
	}{
		{
			name:     "simple user message",
			messages: []agent.CompletionMessage{{Role: "user", Content: "Hello!"}},
		},
		{
			name: "system message is skipped",
			messages: []agent.CompletionMessage{
				{Role: "system", Content: "You are helpful."},
				{Role: "user", Content: "Hello!"},
			},
		},
		{
			name: "assistant message",
			messages: []agent.CompletionMessage{
				{Role: "user", Content: "Hello!"},
				{Role: "assistant", Content: "Hi there!"},
			},
		},
		{
			name: "message with tool calls",
			messages: []agent.CompletionMessage{
				{
					Role:    "assistant",
					Content: "Let me check that.",
					ToolCalls: []models.ToolCall{
						{ID: "call_123", Name: "get_weather", Input: json.RawMessage(`{"city":"London"}`)},
					},
				},
			},
		},
		{
			name: "message with tool results",
			messages: []agent.CompletionMessage{
				{
					Role: "user",
					ToolResults: []models.ToolResult{
						{ToolCallID: "call_123", Content: "Sunny, 72F"},
					},
				},
			},
		},
		{
			name: "invalid tool call JSON",
			messages: []agent.CompletionMessage{
				{
					Role: "assistant",
					ToolCalls: []models.ToolCall{
						{ID: "call_123", Name: "test", Input: json.RawMessage(`invalid json`)},
					},
				},
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := provider.convertMessages(tt.messages)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			_ = result
		})
	}
}

func TestAnthropicConvertTools(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	tests := []struct {
		name    string
		tools   []agent.Tool
		wantErr bool
	}{
		{
			name: "valid tool",
			tools: []agent.Tool{
				&mockTool{name: "get_weather", description: "Get current weather", schema: json.RawMessage(`{"type":"object","properties":{"city":{"type":"string"}}}`)},
			},
		},
		{
			name: "multiple tools",
			tools: []agent.Tool{
				&mockTool{name: "get_weather", description: "Get current weather", schema: json.RawMessage(`{"type":"object"}`)},
				&mockTool{name: "search", description: "Search the web", schema: json.RawMessage(`{"type":"object"}`)},
			},
		},
		{
			name:    "invalid schema JSON",
			tools:   []agent.Tool{&mockTool{name: "test", description: "Test tool", schema: json.RawMessage(`invalid`)}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := provider.convertTools(tt.tools)
			if tt.wantErr {
				if err == nil {
					t.Error("expected error but got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(result) != len(tt.tools) {
				t.Errorf("expected %d tools, got %d", len(tt.tools), len(result))
			}
		})
	}
}

func TestAnthropicIsRetryableError(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	tests := []struct {
		name  string
		err   error
		retry bool
	}{
		{name: "nil error", err: nil, retry: false},
		{name: "rate limit error", err: errors.New("rate_limit exceeded"), retry: true},
		{name: "429 status", err: errors.New("HTTP 429 too many requests"), retry: true},
		{name: "500 error", err: errors.New("HTTP 500 internal server error"), retry: true},
		{name: "timeout error", err: errors.New("request timeout"), retry: true},
		{name: "connection reset", err: errors.New("connection reset by peer"), retry: true},
		{name: "invalid API key (not retryable)", err: errors.New("invalid API key"), retry: false},
		{name: "validation error (not retryable)", err: errors.New("validation failed"), retry: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := provider.isRetryableError(tt.err); result != tt.retry {
				t.Errorf("expected retry=%v, got %v for error: %v", tt.retry, result, tt.err)
			}
		})
	}
}

func TestAnthropicIsRetryableWithProviderError(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	rateLimitErr := NewProviderError("anthropic", "claude-sonnet", errors.New("rate limit")).WithStatus(429)
	if !provider.isRetryableError(rateLimitErr) {
		t.Error("expected rate limit ProviderError to be retryable")
	}

	authErr := NewProviderError("anthropic", "claude-sonnet", errors.New("unauthorized")).WithStatus(401)
	if provider.isRetryableError(authErr) {
		t.Error("expected auth ProviderError to not be retryable")
	}
}

func TestAnthropicWrapErrorNil(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	if result := provider.wrapError(nil, "claude-sonnet"); result != nil {
		t.Errorf("expected nil for nil error, got %v", result)
	}
}

func TestAnthropicWrapErrorAlreadyWrapped(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	originalErr := NewProviderError("anthropic", "claude-sonnet", errors.New("test")).WithStatus(429).WithCode("rate_limit")
	wrapped := provider.wrapError(originalErr, "different-model")
	if wrapped != originalErr {
		t.Error("expected already-wrapped error to be returned as-is")
	}
}

func TestAnthropicWrapError(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	apiErr := &anthropic.Error{StatusCode: 429, RequestID: "req_123"}
	wrapped := provider.wrapError(apiErr, "claude-sonnet-4")
	providerErr, ok := GetProviderError(wrapped)
	if !ok {
		t.Fatalf("expected ProviderError, got %T", wrapped)
	}
	if providerErr.Status != 429 {
		t.Fatalf("expected status 429, got %d", providerErr.Status)
	}
	if providerErr.Reason != FailoverRateLimit {
		t.Fatalf("expected reason %v, got %v", FailoverRateLimit, providerErr.Reason)
	}
	if providerErr.RequestID != "req_123" {
		t.Fatalf("expected request ID req_123, got %q", providerErr.RequestID)
	}
}

func TestAnthropicModelDefaults(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", DefaultModel: "claude-opus-4-20250514"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}

	if model := provider.getModel(""); model != "claude-opus-4-20250514" {
		t.Errorf("expected default model, got %s", model)
	}
	if model := provider.getModel("claude-3-haiku-20240307"); model != "claude-3-haiku-20240307" {
		t.Errorf("expected specified model, got %s", model)
	}
	if maxTokens := provider.getMaxTokens(0); maxTokens != 4096 {
		t.Errorf("expected default maxTokens=4096, got %d", maxTokens)
	}
	if maxTokens := provider.getMaxTokens(2000); maxTokens != 2000 {
		t.Errorf("expected specified maxTokens=2000, got %d", maxTokens)
	}
}

func TestAnthropicMaxEmptyStreamEventsConstant(t *testing.T) {
	if maxEmptyStreamEvents < 100 {
		t.Errorf("maxEmptyStreamEvents=%d is too low, may cause false positives", maxEmptyStreamEvents)
	}
	if maxEmptyStreamEvents > 1000 {
		t.Errorf("maxEmptyStreamEvents=%d is too high, may not protect against malformed streams", maxEmptyStreamEvents)
	}
}

func TestAnthropicProviderWithBaseURL(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", BaseURL: "https://custom.api.example.com/"})
	if err != nil {
		t.Fatalf("failed to create provider with base URL: %v", err)
	}
	if provider == nil {
		t.Fatal("expected provider but got nil")
	}
}

func TestAnthropicProviderNegativeRetries(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key", MaxRetries: -5, RetryDelay: -1 * time.Second})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	if provider.maxRetries <= 0 {
		t.Errorf("expected positive maxRetries, got %d", provider.maxRetries)
	}
	if provider.retryDelay <= 0 {
		t.Errorf("expected positive retryDelay, got %v", provider.retryDelay)
	}
}

func TestAnthropicEmbedUnsupported(t *testing.T) {
	provider, err := NewAnthropicProvider(AnthropicConfig{APIKey: "test-key"})
	if err != nil {
		t.Fatalf("failed to create provider: %v", err)
	}
	if _, embedErr := provider.Embed(context.Background(), "hello"); !errors.Is(embedErr, longterm.ErrEmbedUnsupported) {
		t.Errorf("expected ErrEmbedUnsupported, got %v", embedErr)
	}
}
