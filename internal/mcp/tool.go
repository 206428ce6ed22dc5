package mcp

import (
	"context"
	"encoding/json"

	"github.com/samsaffron/chatstream/internal/llm"
)

// MCPTool wraps an MCP server tool as an llm.Tool. Its source is the server
// name, so enabling a server enables every tool it exposes.
type MCPTool struct {
	manager  *Manager
	toolSpec ToolSpec
	server   string
}

// NewMCPTool creates a new MCP tool wrapper for a prefixed tool spec.
func NewMCPTool(manager *Manager, spec ToolSpec) *MCPTool {
	server, _ := parseToolName(spec.Name)
	return &MCPTool{
		manager:  manager,
		toolSpec: spec,
		server:   server,
	}
}

// Spec returns the tool specification for the LLM.
func (t *MCPTool) Spec() llm.ToolSpec {
	return llm.ToolSpec{
		Name:        t.toolSpec.Name,
		Description: t.toolSpec.Description,
		Schema:      t.toolSpec.Schema,
	}
}

func (t *MCPTool) Source() string { return t.server }

// Execute invokes the tool on the MCP server.
func (t *MCPTool) Execute(ctx context.Context, args json.RawMessage) (string, error) {
	return t.manager.CallTool(ctx, t.toolSpec.Name, args)
}
