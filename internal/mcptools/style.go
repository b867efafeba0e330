package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// SelectStyleTool handles the elicit_select_style MCP tool.
type SelectStyleTool struct {
	engine *flow.Engine
}

// NewSelectStyleTool creates a SelectStyleTool.
func NewSelectStyleTool(engine *flow.Engine) *SelectStyleTool {
	return &SelectStyleTool{engine: engine}
}

// Definition returns the MCP tool definition for elicit_select_style.
func (t *SelectStyleTool) Definition() mcp.Tool {
	return mcp.NewTool("elicit_select_style",
		mcp.WithDescription("Pick the questioning style for the next question from the user's state."),
		mcp.WithString("context",
			mcp.Required(),
			mcp.Description("Conversation context as a JSON object"),
		),
		mcp.WithString("analysis",
			mcp.Required(),
			mcp.Description("Response analysis for the latest answer as a JSON object"),
		),
		mcp.WithBoolean("adapt",
			mcp.Description("Keep the context's current style while it is still effective (default: false)"),
		),
	)
}

// Handle processes the elicit_select_style tool call.
func (t *SelectStyleTool) Handle(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cc, err := jsonArg[models.ConversationContext](req, "context")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	analysis, err := jsonArg[models.ResponseAnalysis](req, "analysis")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var sel models.StyleSelection
	if boolArg(req, "adapt", false) {
		sel, err = t.engine.AdaptStyle(cc, analysis)
	} else {
		sel, err = t.engine.SelectStyle(cc, analysis)
	}
	if err != nil {
		return errorResult("style selection", err), nil
	}
	return jsonResult(sel), nil
}
