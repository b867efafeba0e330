// Package mcptools exposes the elicitation primitives as MCP tools.
//
// Each tool follows the same shape:
//   - A struct holding the flow.Engine injected via constructor
//   - Definition() returns the mcp.Tool schema
//   - Handle() decodes JSON arguments, calls one primitive and returns JSON text
//
// Tools are stateless: callers pass the conversation context and analysis
// they hold and receive the primitive's result back.
package mcptools

import (
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// serverInstructions is surfaced to MCP clients on initialize.
const serverInstructions = "ElicitPipe scores requirement-interview answers, decides when to stop " +
	"asking questions, picks a questioning style and synthesises working assumptions. " +
	"Pass conversation context and analysis objects as JSON strings."

// NewServer creates an MCP server with every elicitation tool registered.
func NewServer(engine *flow.Engine, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"elicitpipe",
		version,
		server.WithToolCapabilities(true),
		server.WithRecovery(),
		server.WithInstructions(serverInstructions),
	)

	analyzeTool := NewAnalyzeTool(engine)
	s.AddTool(analyzeTool.Definition(), analyzeTool.Handle)

	pivotTool := NewCheckPivotTool(engine)
	s.AddTool(pivotTool.Definition(), pivotTool.Handle)

	styleTool := NewSelectStyleTool(engine)
	s.AddTool(styleTool.Definition(), styleTool.Handle)

	assumptionsTool := NewGenerateAssumptionsTool(engine)
	s.AddTool(assumptionsTool.Definition(), assumptionsTool.Handle)

	return s
}

// jsonArg decodes the JSON string argument key into T.
func jsonArg[T any](req mcp.CallToolRequest, key string) (T, error) {
	var out T
	raw := req.GetString(key, "")
	if raw == "" {
		return out, fmt.Errorf("'%s' is required", key)
	}
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return out, fmt.Errorf("'%s' is not valid JSON: %v", key, err)
	}
	return out, nil
}

// jsonResult renders v as indented JSON text.
func jsonResult(v interface{}) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("encode result: %v", err))
	}
	return mcp.NewToolResultText(string(data))
}

// errorResult reports err with its taxonomy kind.
func errorResult(op string, err error) *mcp.CallToolResult {
	return mcp.NewToolResultError(fmt.Sprintf("%s failed (%s): %v", op, models.ErrorKindOf(err), err))
}

// boolArg extracts a boolean argument from a tool request.
func boolArg(req mcp.CallToolRequest, key string, defaultVal bool) bool {
	v, ok := req.GetArguments()[key].(bool)
	if !ok {
		return defaultVal
	}
	return v
}
