package bridge

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// ToolPrefix prefixes the MCP tool name of every operation.
const ToolPrefix = "bridge_"

type toolArgs struct {
	Payload json.RawMessage `json:"payload"`
}

// RegisterMCP exposes every registered operation as an MCP tool taking
// {"payload": <string or JSON>}. The tool result is the operation output.
func RegisterMCP(srv *mcp.Server, r *Router) {
	for _, op := range r.Ops() {
		op := op
		tool := &mcp.Tool{
			Name:        ToolPrefix + string(op),
			Description: op.Description(),
			InputSchema: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"payload": map[string]any{
						"description": "Operation payload: a profile name or a JSON document.",
					},
				},
			},
		}
		srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var args toolArgs
			if len(req.Params.Arguments) > 0 {
				if err := json.Unmarshal(req.Params.Arguments, &args); err != nil {
					var res mcp.CallToolResult
					res.SetError(fmt.Errorf("invalid arguments: %w", err))
					return &res, nil
				}
			}
			out := r.Dispatch(ctx, op, toolPayload(args.Payload))
			return &mcp.CallToolResult{
				Content: []mcp.Content{&mcp.TextContent{Text: string(out)}},
			}, nil
		})
	}
}

// toolPayload unwraps a JSON string payload; objects and arrays are passed
// as their JSON text.
func toolPayload(raw json.RawMessage) []byte {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return []byte(s)
	}
	return raw
}
