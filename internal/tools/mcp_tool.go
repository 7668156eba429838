package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/chatforge/backend/pkg/mcp"
	"github.com/chatforge/backend/pkg/provider/types"
	"github.com/chatforge/backend/pkg/schema"
)

// MCPToolSource lists and calls tools exposed by a connected MCP server,
// the narrow subset of pkg/mcp.MCPClient the tool registry depends on —
// so tests can substitute a fake server without a real transport.
type MCPToolSource interface {
	ListTools(ctx context.Context) ([]mcp.MCPTool, error)
	CallTool(ctx context.Context, name string, arguments map[string]interface{}) (*mcp.CallToolResult, error)
}

// NewMCPDefinitions connects to an already-Connect()-ed MCP server via
// source and wraps every tool it advertises as a Definition, per
// SPEC_FULL.md's "MCP-backed pluggable tool source" domain-stack entry.
// Each definition's Execute forwards the call to the MCP server and
// converts the result through pkg/mcp.ConvertMCPContentToAISDK, the
// teacher's own MCP-to-AI-SDK content-block translation.
func NewMCPDefinitions(ctx context.Context, source MCPToolSource) ([]Definition, error) {
	mcpTools, err := source.ListTools(ctx)
	if err != nil {
		return nil, fmt.Errorf("list mcp tools: %w", err)
	}

	defs := make([]Definition, 0, len(mcpTools))
	for _, mt := range mcpTools {
		mt := mt
		schemaDoc := mt.InputSchema
		if schemaDoc == nil {
			schemaDoc = map[string]interface{}{"type": "object"}
		}
		defs = append(defs, Definition{
			Validator: schema.NewJSONSchema(schemaDoc),
			Tool: types.Tool{
				Name:        mt.Name,
				Description: mt.Description,
				Parameters:  schemaDoc,
				Execute: func(ctx context.Context, input map[string]interface{}, _ types.ToolExecutionOptions) (interface{}, error) {
					result, err := source.CallTool(ctx, mt.Name, input)
					if err != nil {
						return nil, fmt.Errorf("call mcp tool %q: %w", mt.Name, err)
					}
					if result.IsError {
						return nil, fmt.Errorf("mcp tool %q reported an error", mt.Name)
					}
					parts, err := mcp.ConvertMCPContentToAISDK(result.Content)
					if err != nil {
						return nil, fmt.Errorf("convert mcp tool %q result: %w", mt.Name, err)
					}
					return mcpContentPartsToPayload(parts), nil
				},
			},
		})
	}
	return defs, nil
}

// mcpContentPartsToPayload flattens converted MCP content into the
// plain interface{} shape the rest of the tool registry's built-ins
// already return (journal/web_search/web_fetch all return
// map[string]interface{} or string, never a types.ContentPart slice).
func mcpContentPartsToPayload(parts []types.ContentPart) interface{} {
	if len(parts) == 1 {
		if text, ok := parts[0].(types.TextContent); ok {
			return text.Text
		}
	}
	raw, err := json.Marshal(parts)
	if err != nil {
		return parts
	}
	var generic interface{}
	if err := json.Unmarshal(raw, &generic); err != nil {
		return parts
	}
	return generic
}
