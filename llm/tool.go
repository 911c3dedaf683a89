// Package llm defines the tools that plugins expose to the agent's language
// model.
package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"

	"github.com/i2y/clawkit/schema"
)

// Tool represents an executable tool that the LLM can call.
// This interface allows for heterogeneous collections of tools.
type Tool interface {
	// Name returns the tool's name as seen by the LLM.
	Name() string

	// Description returns the tool's description for the LLM.
	Description() string

	// Parameters returns the JSON schema for the tool's parameters.
	Parameters() *jsonschema.Schema

	// Execute runs the tool with the given JSON arguments.
	Execute(ctx context.Context, args json.RawMessage) (any, error)
}

// TypedTool provides type-safe tool creation with auto-generated schema.
// In is the input type, Out is the output type.
type TypedTool[In any, Out any] struct {
	name        string
	description string
	fn          func(ctx context.Context, in In) (Out, error)
	schema      *jsonschema.Schema
}

// NewTool creates a type-safe tool from a function.
// The input type In is used to generate the JSON schema automatically.
//
// Example:
//
//	type LookupInput struct {
//	    Key string `json:"key" jsonschema:"required,description=Key to look up"`
//	}
//
//	lookup, err := llm.NewTool("memory_lookup", "Look up a stored note",
//	    func(ctx context.Context, in LookupInput) (string, error) {
//	        return notes[in.Key], nil
//	    },
//	)
func NewTool[In any, Out any](
	name, description string,
	fn func(ctx context.Context, in In) (Out, error),
) (*TypedTool[In, Out], error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %q: nil function", name)
	}
	var zero In
	paramSchema := schema.Reflector.Reflect(&zero)

	return &TypedTool[In, Out]{
		name:        name,
		description: description,
		fn:          fn,
		schema:      paramSchema,
	}, nil
}

// MustNewTool is like NewTool but panics on error.
// Useful for package-level tool definitions.
func MustNewTool[In any, Out any](
	name, description string,
	fn func(ctx context.Context, in In) (Out, error),
) *TypedTool[In, Out] {
	t, err := NewTool(name, description, fn)
	if err != nil {
		panic(err)
	}
	return t
}

// Name returns the tool's name.
func (t *TypedTool[In, Out]) Name() string {
	return t.name
}

// Description returns the tool's description.
func (t *TypedTool[In, Out]) Description() string {
	return t.description
}

// Parameters returns the JSON schema for the tool's parameters.
func (t *TypedTool[In, Out]) Parameters() *jsonschema.Schema {
	return t.schema
}

// Execute runs the tool with the given JSON arguments.
// Implements the Tool interface.
func (t *TypedTool[In, Out]) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	var input In
	if len(args) > 0 {
		if err := json.Unmarshal(args, &input); err != nil {
			return nil, fmt.Errorf("failed to unmarshal tool arguments: %w", err)
		}
	}
	return t.fn(ctx, input)
}

// TypedCall provides a type-safe way to call the tool directly.
// This bypasses JSON marshaling when you have the typed input.
func (t *TypedTool[In, Out]) TypedCall(ctx context.Context, input In) (Out, error) {
	return t.fn(ctx, input)
}

// FuncTool is a tool whose schema is supplied rather than reflected. Script
// plugins and remote tool servers use it.
type FuncTool struct {
	name        string
	description string
	params      *jsonschema.Schema
	fn          func(ctx context.Context, args json.RawMessage) (any, error)
}

// NewFuncTool creates a tool from a raw JSON handler. A nil schema means an
// object with no declared properties.
func NewFuncTool(name, description string, params *jsonschema.Schema, fn func(ctx context.Context, args json.RawMessage) (any, error)) (*FuncTool, error) {
	if name == "" {
		return nil, fmt.Errorf("tool name is required")
	}
	if fn == nil {
		return nil, fmt.Errorf("tool %q: nil function", name)
	}
	if params == nil {
		params = &jsonschema.Schema{Type: "object"}
	}
	return &FuncTool{name: name, description: description, params: params, fn: fn}, nil
}

func (t *FuncTool) Name() string                   { return t.name }
func (t *FuncTool) Description() string            { return t.description }
func (t *FuncTool) Parameters() *jsonschema.Schema { return t.params }

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (any, error) {
	return t.fn(ctx, args)
}

// ToolRegistry manages a collection of tools. All returns tools in the order
// they were first registered.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

// NewToolRegistry creates a new tool registry.
func NewToolRegistry() *ToolRegistry {
	return &ToolRegistry{
		tools: make(map[string]Tool),
	}
}

// Register adds a tool to the registry. A tool with an existing name
// replaces the earlier one in place.
func (r *ToolRegistry) Register(tools ...Tool) {
	for _, t := range tools {
		if _, ok := r.tools[t.Name()]; !ok {
			r.order = append(r.order, t.Name())
		}
		r.tools[t.Name()] = t
	}
}

// Get retrieves a tool by name.
func (r *ToolRegistry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// All returns all registered tools.
func (r *ToolRegistry) All() []Tool {
	tools := make([]Tool, 0, len(r.order))
	for _, name := range r.order {
		tools = append(tools, r.tools[name])
	}
	return tools
}

// Names returns the registered tool names.
func (r *ToolRegistry) Names() []string {
	return append([]string(nil), r.order...)
}

// Execute runs the named tool. Failures of the tool itself are wrapped in
// ToolError; an unknown name yields ToolNotFoundError.
func (r *ToolRegistry) Execute(ctx context.Context, name string, args json.RawMessage) (any, error) {
	tool, ok := r.Get(name)
	if !ok {
		return nil, &ToolNotFoundError{Name: name}
	}
	result, err := tool.Execute(ctx, args)
	if err != nil {
		return nil, &ToolError{ToolName: name, Cause: err}
	}
	return result, nil
}

// FormatResult renders a tool result as text: strings pass through, other
// values are marshaled to JSON.
func FormatResult(result any, err error) string {
	if err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if s, ok := result.(string); ok {
		return s
	}
	bytes, err := json.Marshal(result)
	if err != nil {
		return fmt.Sprintf("Error marshaling result: %v", err)
	}
	return string(bytes)
}
