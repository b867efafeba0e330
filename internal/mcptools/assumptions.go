package mcptools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/models"
)

// GenerateAssumptionsTool handles the elicit_generate_assumptions MCP tool.
type GenerateAssumptionsTool struct {
	engine *flow.Engine
}

// NewGenerateAssumptionsTool creates a GenerateAssumptionsTool.
func NewGenerateAssumptionsTool(engine *flow.Engine) *GenerateAssumptionsTool {
	return &GenerateAssumptionsTool{engine: engine}
}

// Definition returns the MCP tool definition for elicit_generate_assumptions.
func (t *GenerateAssumptionsTool) Definition() mcp.Tool {
	return mcp.NewTool("elicit_generate_assumptions",
		mcp.WithDescription(
			"Synthesise working assumptions with confidence, impact and dependencies from the "+
				"conversation so far. Falls back to domain templates when the model is unavailable.",
		),
		mcp.WithString("context",
			mcp.Required(),
			mcp.Description("Conversation context as a JSON object"),
		),
		mcp.WithString("analysis",
			mcp.Required(),
			mcp.Description("Response analysis for the latest answer as a JSON object"),
		),
		mcp.WithString("reason",
			mcp.Description("Why questioning stopped, e.g. the pivot reason"),
		),
		mcp.WithString("feedback",
			mcp.Description("When set together with 'assumptions', refine that set from this feedback instead"),
		),
		mcp.WithString("assumptions",
			mcp.Description("Existing assumption set as a JSON object, used with 'feedback'"),
		),
	)
}

// Handle processes the elicit_generate_assumptions tool call.
func (t *GenerateAssumptionsTool) Handle(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cc, err := jsonArg[models.ConversationContext](req, "context")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if feedback := req.GetString("feedback", ""); feedback != "" {
		set, err := jsonArg[models.AssumptionSet](req, "assumptions")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		refined, ok, err := t.engine.RefineAssumptions(ctx, set, feedback, cc.Domain)
		if err != nil {
			return errorResult("refinement", err), nil
		}
		return jsonResult(refineResult{Assumptions: refined, Refined: ok}), nil
	}

	analysis, err := jsonArg[models.ResponseAnalysis](req, "analysis")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	set, err := t.engine.GenerateAssumptions(ctx, cc, analysis, req.GetString("reason", ""))
	if err != nil {
		return errorResult("assumption generation", err), nil
	}
	return jsonResult(set), nil
}

type refineResult struct {
	Assumptions models.AssumptionSet `json:"assumptions"`
	Refined     bool                 `json:"refined"`
}
