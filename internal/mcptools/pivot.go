package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// CheckPivotTool handles the elicit_check_pivot MCP tool.
type CheckPivotTool struct {
	engine *flow.Engine
}

// NewCheckPivotTool creates a CheckPivotTool.
func NewCheckPivotTool(engine *flow.Engine) *CheckPivotTool {
	return &CheckPivotTool{engine: engine}
}

// Definition returns the MCP tool definition for elicit_check_pivot.
func (t *CheckPivotTool) Definition() mcp.Tool {
	return mcp.NewTool("elicit_check_pivot",
		mcp.WithDescription(
			"Decide whether to stop asking questions and switch to generating assumptions. "+
				"The check itself makes no model call.",
		),
		mcp.WithString("context",
			mcp.Required(),
			mcp.Description("Conversation context as a JSON object"),
		),
		mcp.WithString("analysis",
			mcp.Required(),
			mcp.Description("Response analysis for the latest answer as a JSON object"),
		),
		mcp.WithBoolean("generate_assumptions",
			mcp.Description("Attach an assumption set when the decision is to pivot (default: false)"),
		),
	)
}

// Handle processes the elicit_check_pivot tool call.
func (t *CheckPivotTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cc, err := jsonArg[models.ConversationContext](req, "context")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	analysis, err := jsonArg[models.ResponseAnalysis](req, "analysis")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	decision, err := t.engine.CheckPivot(cc, analysis)
	if err != nil {
		return errorResult("pivot check", err), nil
	}
	if decision.ShouldPivot && boolArg(req, "generate_assumptions", false) {
		set, err := t.engine.GenerateAssumptions(ctx, cc, analysis, decision.Reason)
		if err != nil {
			return errorResult("assumption generation", err), nil
		}
		decision.Assumptions = &set
	}
	return jsonResult(decision), nil
}
