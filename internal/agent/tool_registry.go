package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/jerry-guo-mys/beeagent/internal/tools/policy"
	"github.com/jerry-guo-mys/beeagent/pkg/models"
)

// Tool parameter limits to prevent resource exhaustion.
const (
	// MaxToolNameLength is the maximum length of a tool name.
	MaxToolNameLength = 256

	// MaxToolParamsSize is the maximum size of tool parameters JSON (1MB).
	MaxToolParamsSize = 1 << 20
)

// ToolRegistry manages available tools with thread-safe registration and
// lookup. Every registered tool's JSON Schema is compiled once and reused
// to validate every call's arguments before dispatch (spec §4.5).
type ToolRegistry struct {
	mu       sync.RWMutex
	tools    map[string]Tool
	schemas  map[string]*jsonschema.Schema
	resolver *policy.Resolver
}

// NewToolRegistry creates a new empty tool registry ready for tool registration.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools:    make(map[string]Tool),
		schemas:  make(map[string]*jsonschema.Schema),
		resolver: policy.NewResolver(),
	}
}

// Register adds a tool to the registry by its name, compiling its schema
// up front. If a tool with the same name already exists, it is replaced.
// A tool whose schema fails to compile is not registered.
func (r *ToolRegistry) Register(tool Tool) error {
	compiled, err := compileToolSchema(tool.Name(), tool.Schema())
	if err != nil {
		return fmt.Errorf("register tool %q: %w", tool.Name(), err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[tool.Name()] = tool
	r.schemas[tool.Name()] = compiled
	return nil
}

// Unregister removes a tool from the registry by name.
func (r *ToolRegistry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tools, name)
	delete(r.schemas, name)
}

// Get returns a tool by name and a boolean indicating if it was found.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tool, ok := r.tools[name]
	return tool, ok
}

// Execute runs a tool by name with the given JSON parameters, rejecting
// calls whose name or argument size are out of bounds, whose tool does
// not exist, or whose arguments fail schema validation. A hallucinated
// tool name is reported as a HallucinatedTool AgentError so the Recovery
// Engine can route it to the ask-user action (spec §4.9).
func (r *ToolRegistry) Execute(ctx context.Context, toolPolicy *policy.Policy, name string, params json.RawMessage) (*models.ToolResult, error) {
	if len(name) > MaxToolNameLength {
		return &models.ToolResult{
			Content: fmt.Sprintf("tool name exceeds maximum length of %d characters", MaxToolNameLength),
			IsError: true,
		}, nil
	}
	if len(params) > MaxToolParamsSize {
		return &models.ToolResult{
			Content: fmt.Sprintf("tool parameters exceed maximum size of %d bytes", MaxToolParamsSize),
			IsError: true,
		}, nil
	}

	r.mu.RLock()
	tool, ok := r.tools[name]
	schema := r.schemas[name]
	r.mu.RUnlock()
	if !ok {
		return nil, models.NewHallucinatedToolError(name)
	}
	if toolPolicy != nil && !r.resolver.IsAllowed(toolPolicy, name) {
		return nil, models.NewShellDeniedError(name)
	}

	if schema != nil {
		var decoded any
		if err := json.Unmarshal(params, &decoded); err != nil {
			return &models.ToolResult{
				Content:   fmt.Sprintf("invalid parameters: %v", err),
				IsError:   true,
				ErrorKind: models.ToolErrorBadArgs,
			}, nil
		}
		if err := schema.Validate(decoded); err != nil {
			return &models.ToolResult{
				Content:   fmt.Sprintf("parameters failed schema validation: %v", err),
				IsError:   true,
				ErrorKind: models.ToolErrorBadArgs,
			}, nil
		}
	}

	return tool.Execute(ctx, params)
}

// AsLLMTools returns all registered tools, filtered by the given policy
// (nil allows everything), for injection into the Planner's system prompt.
func (r *ToolRegistry) AsLLMTools(toolPolicy *policy.Policy) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	tools := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		if toolPolicy == nil || r.resolver.IsAllowed(toolPolicy, t.Name()) {
			tools = append(tools, t)
		}
	}
	return tools
}

var schemaCache sync.Map

// compileToolSchema compiles and caches a tool's JSON Schema by name. A
// tool with an empty schema (`{}`-equivalent) always validates.
func compileToolSchema(name string, raw json.RawMessage) (*jsonschema.Schema, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	key := name + "\x00" + string(raw)
	if cached, ok := schemaCache.Load(key); ok {
		if compiled, ok := cached.(*jsonschema.Schema); ok {
			return compiled, nil
		}
	}

	compiler := jsonschema.NewCompiler()
	resourceName := name + ".schema.json"
	if err := compiler.AddResource(resourceName, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := compiler.Compile(resourceName)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	schemaCache.Store(key, compiled)
	return compiled, nil
}
