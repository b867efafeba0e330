package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// AnalyzeTool handles the elicit_analyze_response MCP tool.
type AnalyzeTool struct {
	engine *flow.Engine
}

// NewAnalyzeTool creates an AnalyzeTool.
func NewAnalyzeTool(engine *flow.Engine) *AnalyzeTool {
	return &AnalyzeTool{engine: engine}
}

// Definition returns the MCP tool definition for elicit_analyze_response.
func (t *AnalyzeTool) Definition() mcp.Tool {
	return mcp.NewTool("elicit_analyze_response",
		mcp.WithDescription(
			"Score one user answer for sophistication, engagement and clarity, and detect escape "+
				"signals such as fatigue, impatience or confusion.",
		),
		mcp.WithString("utterance",
			mcp.Required(),
			mcp.Description("The user's answer, verbatim"),
		),
		mcp.WithString("context",
			mcp.Required(),
			mcp.Description("Conversation context as a JSON object (domain, stage, profile, history)"),
		),
		mcp.WithBoolean("quick",
			mcp.Description("Return only a lightweight sophistication level (default: false)"),
		),
	)
}

// Handle processes the elicit_analyze_response tool call.
func (t *AnalyzeTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	utterance := req.GetString("utterance", "")
	if utterance == "" {
		return mcp.NewToolResultError("'utterance' is required"), nil
	}
	cc, err := jsonArg[models.ConversationContext](req, "context")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if boolArg(req, "quick", false) {
		hint, err := t.engine.QuickSophisticationCheck(ctx, utterance, cc.Domain)
		if err != nil {
			return errorResult("quick sophistication check", err), nil
		}
		return jsonResult(hint), nil
	}

	analysis, err := t.engine.AnalyzeResponse(ctx, utterance, cc)
	if err != nil {
		return errorResult("analysis", err), nil
	}
	return jsonResult(analysis), nil
}
