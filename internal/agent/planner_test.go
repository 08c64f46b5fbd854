package agent

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

type fakeLlmClient struct {
	completeResult *CompletionResult
	completeErr    error
	streamChunks   []StreamChunk
	streamErr      error
	summary        string
}

func (f *fakeLlmClient) Complete(ctx context.Context, req *CompletionRequest) (*CompletionResult, error) {
	return f.completeResult, f.completeErr
}

func (f *fakeLlmClient) CompleteStream(ctx context.Context, req *CompletionRequest) (<-chan StreamChunk, error) {
	if f.streamErr != nil {
		return nil, f.streamErr
	}
	ch := make(chan StreamChunk, len(f.streamChunks))
	for _, c := range f.streamChunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeLlmClient) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, nil
}

func (f *fakeLlmClient) Summarise(ctx context.Context, text string) (string, error) {
	return f.summary, nil
}

func (f *fakeLlmClient) Name() string { return "fake" }

func (f *fakeLlmClient) Models() []Model { return nil }

func (f *fakeLlmClient) SupportsTools() bool { return true }

type fakeTool struct{ name string }

func (f fakeTool) Name() string                                                          { return f.name }
func (f fakeTool) Description() string                                                   { return "" }
func (f fakeTool) Schema() json.RawMessage                                               { return nil }
func (f fakeTool) Execute(ctx context.Context, params json.RawMessage) (*models.ToolResult, error) { return nil, nil }

func TestExtractJSONObject_Single(t *testing.T) {
	raw, ambiguous := extractJSONObject(`sure, here: {"tool":"cat","input":{"path":"a.txt"}}`)
	if ambiguous {
		t.Fatal("expected unambiguous result")
	}
	if raw == nil {
		t.Fatal("expected an extracted object")
	}
	var decoded struct {
		Tool string `json:"tool"`
	}
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded.Tool != "cat" {
		t.Errorf("Tool = %q, want cat", decoded.Tool)
	}
}

func TestExtractJSONObject_BracesInString(t *testing.T) {
	raw, ambiguous := extractJSONObject(`{"tool":"grep","input":{"pattern":"a{1,2}"}}`)
	if ambiguous {
		t.Fatal("expected unambiguous result")
	}
	if raw == nil {
		t.Fatal("expected an extracted object despite braces inside the string")
	}
}

func TestExtractJSONObject_EscapedQuote(t *testing.T) {
	raw, ambiguous := extractJSONObject(`{"tool":"echo","input":{"text":"she said \"hi\""}}`)
	if ambiguous {
		t.Fatal("expected unambiguous result")
	}
	if raw == nil {
		t.Fatal("expected an extracted object with an escaped quote in the string")
	}
}

func TestExtractJSONObject_None(t *testing.T) {
	raw, ambiguous := extractJSONObject("just plain text, no json here")
	if ambiguous {
		t.Fatal("expected not ambiguous")
	}
	if raw != nil {
		t.Errorf("expected no extracted object, got %s", raw)
	}
}

func TestExtractJSONObject_Ambiguous(t *testing.T) {
	_, ambiguous := extractJSONObject(`{"tool":"a"} and also {"tool":"b"}`)
	if !ambiguous {
		t.Fatal("expected ambiguous result for two top-level objects")
	}
}

func TestPlan_PlainTextResponse(t *testing.T) {
	llm := &fakeLlmClient{completeResult: &CompletionResult{Text: "the answer is 42"}}
	p := NewPlanner(llm, "test-model")
	out, err := p.Plan(context.Background(), "system", nil, nil)
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if out.Kind != PlannerOutputResponse || out.Response != "the answer is 42" {
		t.Fatalf("out = %+v, want a plain Response", out)
	}
}

func TestPlan_ToolCall(t *testing.T) {
	llm := &fakeLlmClient{completeResult: &CompletionResult{Text: `{"tool":"read_file","input":{"path":"a.txt"}}`}}
	p := NewPlanner(llm, "test-model")
	out, err := p.Plan(context.Background(), "system", nil, []Tool{fakeTool{name: "read_file"}})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if out.Kind != PlannerOutputToolCall || out.ToolCall == nil || out.ToolCall.Name != "read_file" {
		t.Fatalf("out = %+v, want a read_file ToolCall", out)
	}
}

func TestPlan_HallucinatedTool(t *testing.T) {
	llm := &fakeLlmClient{completeResult: &CompletionResult{Text: `{"tool":"frobnicate","input":{}}`}}
	p := NewPlanner(llm, "test-model")
	_, err := p.Plan(context.Background(), "system", nil, []Tool{fakeTool{name: "read_file"}})
	kind, ok := models.KindOf(err)
	if !ok || kind != models.KindHallucinatedTool {
		t.Fatalf("err = %v, want a HallucinatedTool AgentError", err)
	}
}

func TestPlan_AmbiguousJson(t *testing.T) {
	llm := &fakeLlmClient{completeResult: &CompletionResult{Text: `{"tool":"a"} {"tool":"b"}`}}
	p := NewPlanner(llm, "test-model")
	_, err := p.Plan(context.Background(), "system", nil, []Tool{fakeTool{name: "a"}, fakeTool{name: "b"}})
	kind, ok := models.KindOf(err)
	if !ok || kind != models.KindJsonParse {
		t.Fatalf("err = %v, want a JsonParse AgentError", err)
	}
}

func TestPlanStream_AssemblesFullTextBeforeParsing(t *testing.T) {
	llm := &fakeLlmClient{streamChunks: []StreamChunk{
		{Text: `{"tool":"re`},
		{Text: `ad_file","input":{"path":"a.txt"}}`},
		{Done: true},
	}}
	p := NewPlanner(llm, "test-model")

	var deltas []string
	out, err := p.PlanStream(context.Background(), "system", nil, []Tool{fakeTool{name: "read_file"}}, func(d string) {
		deltas = append(deltas, d)
	})
	if err != nil {
		t.Fatalf("PlanStream: %v", err)
	}
	if out.Kind != PlannerOutputToolCall || out.ToolCall.Name != "read_file" {
		t.Fatalf("out = %+v, want a read_file ToolCall assembled from the full stream", out)
	}
	if len(deltas) != 2 {
		t.Fatalf("expected 2 streamed deltas, got %d", len(deltas))
	}
}

func TestPlanStream_NativeToolCall(t *testing.T) {
	native := &models.ToolCall{Name: "read_file", Input: json.RawMessage(`{"path":"a.txt"}`)}
	llm := &fakeLlmClient{streamChunks: []StreamChunk{
		{ToolCall: native},
		{Done: true},
	}}
	p := NewPlanner(llm, "test-model")
	out, err := p.PlanStream(context.Background(), "system", nil, []Tool{fakeTool{name: "read_file"}}, nil)
	if err != nil {
		t.Fatalf("PlanStream: %v", err)
	}
	if out.Kind != PlannerOutputToolCall || out.ToolCall != native {
		t.Fatalf("out = %+v, want the native ToolCall passed through", out)
	}
}

func TestSummarise_DelegatesToLlmClient(t *testing.T) {
	llm := &fakeLlmClient{summary: "condensed"}
	p := NewPlanner(llm, "test-model")
	got, err := p.Summarise(context.Background(), []models.Message{{Role: models.RoleUser, Content: "hello"}})
	if err != nil {
		t.Fatalf("Summarise: %v", err)
	}
	if got != "condensed" {
		t.Errorf("Summarise = %q, want %q", got, "condensed")
	}
}
