package providers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/jerry-guo-mys/beeagent/internal/agent"
	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

// OpenAIProvider implements agent.LlmClient against the chat completions and
// embeddings APIs. It is the only provider that can serve the vector
// long-term memory backend (spec §3), since Claude has no embeddings
// endpoint of its own.
type OpenAIProvider struct {
	BaseProvider

	client         *openai.Client
	defaultModel   string
	embeddingModel openai.EmbeddingModel
}

// OpenAIConfig configures NewOpenAIProvider.
type OpenAIConfig struct {
	APIKey         string
	MaxRetries     int
	RetryDelay     time.Duration
	DefaultModel   string
	EmbeddingModel openai.EmbeddingModel
}

// NewOpenAIProvider builds a provider from config, applying defaults for
// every optional field.
func NewOpenAIProvider(config OpenAIConfig) (*OpenAIProvider, error) {
	if config.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	if config.DefaultModel == "" {
		config.DefaultModel = openai.GPT4o
	}
	if config.EmbeddingModel == "" {
		config.EmbeddingModel = openai.SmallEmbedding3
	}

	return &OpenAIProvider{
		BaseProvider:   NewBaseProvider("openai", config.MaxRetries, config.RetryDelay),
		client:         openai.NewClient(config.APIKey),
		defaultModel:   config.DefaultModel,
		embeddingModel: config.EmbeddingModel,
	}, nil
}

func (p *OpenAIProvider) Name() string { return "openai" }

func (p *OpenAIProvider) Models() []agent.Model {
	return []agent.Model{
		{ID: openai.GPT4o, Name: "GPT-4o", ContextSize: 128000, SupportsVision: true},
		{ID: openai.GPT4Turbo, Name: "GPT-4 Turbo", ContextSize: 128000, SupportsVision: true},
		{ID: openai.GPT3Dot5Turbo, Name: "GPT-3.5 Turbo", ContextSize: 16385, SupportsVision: false},
	}
}

func (p *OpenAIProvider) SupportsTools() bool { return true }

// Complete runs a single non-streaming chat completion.
func (p *OpenAIProvider) Complete(ctx context.Context, req *agent.CompletionRequest) (*agent.CompletionResult, error) {
	chatReq := p.buildRequest(req)

	var resp openai.ChatCompletionResponse
	retryErr := p.Retry(ctx, p.isRetryableError, func() error {
		r, err := p.client.CreateChatCompletion(ctx, chatReq)
		if err != nil {
			return p.wrapError(err)
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	if len(resp.Choices) == 0 {
		return &agent.CompletionResult{}, nil
	}

	msg := resp.Choices[0].Message
	result := &agent.CompletionResult{
		Text:         msg.Content,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
	}
	if len(msg.ToolCalls) > 0 {
		tc := msg.ToolCalls[0]
		result.ToolCall = &models.ToolCall{
			ID:    tc.ID,
			Name:  tc.Function.Name,
			Input: json.RawMessage(tc.Function.Arguments),
		}
	}
	return result, nil
}

// CompleteStream runs a chat completion and streams it as StreamChunks.
func (p *OpenAIProvider) CompleteStream(ctx context.Context, req *agent.CompletionRequest) (<-chan agent.StreamChunk, error) {
	chatReq := p.buildRequest(req)
	chatReq.Stream = true

	var stream *openai.ChatCompletionStream
	retryErr := p.Retry(ctx, p.isRetryableError, func() error {
		s, err := p.client.CreateChatCompletionStream(ctx, chatReq)
		if err != nil {
			return p.wrapError(err)
		}
		stream = s
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}

	chunks := make(chan agent.StreamChunk)
	go p.processStream(stream, chunks)
	return chunks, nil
}

func (p *OpenAIProvider) processStream(stream *openai.ChatCompletionStream, chunks chan<- agent.StreamChunk) {
	defer close(chunks)
	defer stream.Close()

	toolCalls := make(map[int]*models.ToolCall)
	var inputTokens, outputTokens int

	for {
		resp, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				for _, tc := range toolCalls {
					if tc.ID != "" && tc.Name != "" {
						chunks <- agent.StreamChunk{ToolCall: tc}
					}
				}
				chunks <- agent.StreamChunk{Done: true, InputTokens: inputTokens, OutputTokens: outputTokens}
				return
			}
			chunks <- agent.StreamChunk{Error: p.wrapError(err), Done: true}
			return
		}
		if resp.Usage != nil {
			inputTokens = resp.Usage.PromptTokens
			outputTokens = resp.Usage.CompletionTokens
		}
		if len(resp.Choices) == 0 {
			continue
		}

		delta := resp.Choices[0].Delta
		if delta.Content != "" {
			chunks <- agent.StreamChunk{Text: delta.Content}
		}
		for _, tc := range delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			if toolCalls[index] == nil {
				toolCalls[index] = &models.ToolCall{}
			}
			if tc.ID != "" {
				toolCalls[index].ID = tc.ID
			}
			if tc.Function.Name != "" {
				toolCalls[index].Name = tc.Function.Name
			}
			if tc.Function.Arguments != "" {
				toolCalls[index].Input = json.RawMessage(string(toolCalls[index].Input) + tc.Function.Arguments)
			}
		}
	}
}

func (p *OpenAIProvider) buildRequest(req *agent.CompletionRequest) openai.ChatCompletionRequest {
	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, msg := range req.Messages {
		messages = append(messages, p.convertMessages(msg)...)
	}

	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	chatReq := openai.ChatCompletionRequest{Model: model, Messages: messages}
	if req.MaxTokens > 0 {
		chatReq.MaxTokens = req.MaxTokens
	}
	if len(req.Tools) > 0 {
		chatReq.Tools = p.convertTools(req.Tools)
	}
	return chatReq
}

func (p *OpenAIProvider) convertMessages(msg agent.CompletionMessage) []openai.ChatCompletionMessage {
	switch msg.Role {
	case "tool":
		out := make([]openai.ChatCompletionMessage, 0, len(msg.ToolResults))
		for _, tr := range msg.ToolResults {
			out = append(out, openai.ChatCompletionMessage{
				Role:       openai.ChatMessageRoleTool,
				Content:    tr.Content,
				ToolCallID: tr.ToolCallID,
			})
		}
		return out

	case "assistant":
		oaiMsg := openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: msg.Content}
		if len(msg.ToolCalls) > 0 {
			oaiMsg.ToolCalls = make([]openai.ToolCall, len(msg.ToolCalls))
			for i, tc := range msg.ToolCalls {
				oaiMsg.ToolCalls[i] = openai.ToolCall{
					ID:       tc.ID,
					Type:     openai.ToolTypeFunction,
					Function: openai.FunctionCall{Name: tc.Name, Arguments: string(tc.Input)},
				}
			}
		}
		return []openai.ChatCompletionMessage{oaiMsg}

	default:
		return []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleUser, Content: msg.Content}}
	}
}

func (p *OpenAIProvider) convertTools(tools []agent.Tool) []openai.Tool {
	result := make([]openai.Tool, len(tools))
	for i, tool := range tools {
		var schema map[string]any
		if err := json.Unmarshal(tool.Schema(), &schema); err != nil {
			schema = map[string]any{"type": "object", "properties": map[string]any{}}
		}
		result[i] = openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        tool.Name(),
				Description: tool.Description(),
				Parameters:  schema,
			},
		}
	}
	return result
}

// Embed produces a dense vector embedding via the embeddings API, backing
// the LongTermMemory vector store (spec §3).
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	var resp openai.EmbeddingResponse
	retryErr := p.Retry(ctx, p.isRetryableError, func() error {
		r, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
			Input: []string{text},
			Model: p.embeddingModel,
		})
		if err != nil {
			return p.wrapError(err)
		}
		resp = r
		return nil
	})
	if retryErr != nil {
		return nil, retryErr
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai: embeddings response had no data")
	}
	return resp.Data[0].Embedding, nil
}

// Summarise asks the chat model for a short prose summary, used by
// Compaction (spec step 2 of the compaction protocol).
func (p *OpenAIProvider) Summarise(ctx context.Context, text string) (string, error) {
	req := &agent.CompletionRequest{
		Model:     p.defaultModel,
		System:    "Summarise the following conversation in 2-4 sentences, preserving facts, decisions, and open questions. Reply with prose only.",
		Messages:  []agent.CompletionMessage{{Role: "user", Content: text}},
		MaxTokens: 512,
	}
	result, err := p.Complete(ctx, req)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(result.Text), nil
}

func (p *OpenAIProvider) isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{"rate limit", "429", "500", "502", "503", "504", "timeout", "deadline exceeded"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func (p *OpenAIProvider) wrapError(err error) error {
	if err == nil {
		return nil
	}
	if IsProviderError(err) {
		return err
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		providerErr := (&ProviderError{Provider: "openai", Cause: err, Reason: FailoverUnknown}).WithStatus(apiErr.HTTPStatusCode)
		if apiErr.Message != "" {
			providerErr = providerErr.WithMessage(apiErr.Message)
		}
		if code, ok := apiErr.Code.(string); ok && code != "" {
			providerErr = providerErr.WithCode(code)
		}
		return providerErr
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return (&ProviderError{Provider: "openai", Cause: reqErr.Err, Reason: FailoverUnknown}).WithStatus(reqErr.HTTPStatusCode)
	}
	return NewProviderError("openai", "", err)
}
