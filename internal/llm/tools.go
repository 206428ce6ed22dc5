package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// Tool describes a callable external tool.
type Tool interface {
	Spec() ToolSpec
	Execute(ctx context.Context, args json.RawMessage) (string, error)
}

// SourcedTool is implemented by tools that belong to a named source, such as
// an MCP server. Enabling the source enables all of its tools.
type SourcedTool interface {
	Source() string
}

// FuncTool adapts a plain function to the Tool interface.
type FuncTool struct {
	ToolSpec
	Fn func(ctx context.Context, args json.RawMessage) (string, error)
}

func (t *FuncTool) Spec() ToolSpec { return t.ToolSpec }

func (t *FuncTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.Fn(ctx, args)
}

// FilterTools narrows tools to those enabled for the current message.
// A tool is kept when its name or its source is listed. A nil enabled list
// keeps nothing.
func FilterTools(tools []Tool, enabled []string) []Tool {
	if len(tools) == 0 || len(enabled) == 0 {
		return nil
	}
	var out []Tool
	for _, tool := range tools {
		if slices.Contains(enabled, tool.Spec().Name) {
			out = append(out, tool)
			continue
		}
		if st, ok := tool.(SourcedTool); ok && slices.Contains(enabled, st.Source()) {
			out = append(out, tool)
		}
	}
	return out
}

// ToolRegistry stores tools by name for execution.
type ToolRegistry struct {
	tools map[string]Tool
	order []string
}

func NewToolRegistry(tools ...Tool) *ToolRegistry {
	r := &ToolRegistry{tools: make(map[string]Tool)}
	for _, tool := range tools {
		r.Register(tool)
	}
	return r
}

func (r *ToolRegistry) Register(tool Tool) {
	name := tool.Spec().Name
	if _, exists := r.tools[name]; !exists {
		r.order = append(r.order, name)
	}
	r.tools[name] = tool
}

func (r *ToolRegistry) Get(name string) (Tool, bool) {
	tool, ok := r.tools[name]
	return tool, ok
}

// Resolve maps a model-issued call back to a registered tool.
func (r *ToolRegistry) Resolve(call ToolCall) (Tool, bool) {
	return r.Get(call.Name)
}

func (r *ToolRegistry) Len() int {
	return len(r.tools)
}

// AllSpecs returns the specs for all registered tools in registration order.
func (r *ToolRegistry) AllSpecs() []ToolSpec {
	specs := make([]ToolSpec, 0, len(r.order))
	for _, name := range r.order {
		specs = append(specs, r.tools[name].Spec())
	}
	return specs
}

// ToolOutcome is the captured result of one invocation.
type ToolOutcome struct {
	Content string
	IsError bool
}

// Invoke executes tool with args. Validation failures, returned errors and
// panics all come back as an IsError outcome.
func Invoke(ctx context.Context, tool Tool, args json.RawMessage) (out ToolOutcome) {
	defer func() {
		if r := recover(); r != nil {
			out = ToolOutcome{Content: fmt.Sprintf("tool %s panicked: %v", tool.Spec().Name, r), IsError: true}
		}
	}()

	if err := validateArgs(tool.Spec(), args); err != nil {
		return ToolOutcome{Content: err.Error(), IsError: true}
	}
	content, err := tool.Execute(ctx, args)
	if err != nil {
		return ToolOutcome{Content: err.Error(), IsError: true}
	}
	return ToolOutcome{Content: content}
}

var schemaCache sync.Map // tool name + schema JSON -> *jsonschema.Schema

func validateArgs(spec ToolSpec, args json.RawMessage) error {
	if len(spec.Schema) == 0 {
		return nil
	}
	raw, err := json.Marshal(spec.Schema)
	if err != nil {
		return nil
	}
	key := spec.Name + "\x00" + string(raw)
	var schema *jsonschema.Schema
	if cached, ok := schemaCache.Load(key); ok {
		schema = cached.(*jsonschema.Schema)
	} else {
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource("schema.json", bytes.NewReader(raw)); err != nil {
			return nil
		}
		schema, err = compiler.Compile("schema.json")
		if err != nil {
			// Schemas we cannot compile are the server's problem, not the call's.
			return nil
		}
		schemaCache.Store(key, schema)
	}

	var value any = map[string]any{}
	if len(bytes.TrimSpace(args)) > 0 {
		if err := json.Unmarshal(args, &value); err != nil {
			return fmt.Errorf("invalid arguments for %s: %w", spec.Name, err)
		}
	}
	if err := schema.Validate(value); err != nil {
		return fmt.Errorf("invalid arguments for %s: %w", spec.Name, err)
	}
	return nil
}
