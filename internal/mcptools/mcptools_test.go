package mcptools

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/models"
	"github.com/BTreeMap/ElicitPipe/internal/testutil"
)

// ─── Test helpers ────────────────────────────────────────────────────────────

// makeReq builds a mcp.CallToolRequest with the given arguments.
func makeReq(args map[string]interface{}) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

// resultText extracts the text content from a tool result.
func resultText(r *mcp.CallToolResult) string {
	if r == nil || len(r.Content) == 0 {
		return ""
	}
	for _, c := range r.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()
	return string(testutil.MustMarshalJSON(t, v))
}

func testContextJSON(t *testing.T, domain string) string {
	t.Helper()
	return mustJSON(t, models.ConversationContext{SessionID: "s_mcp", Domain: domain, Stage: models.StageIdeaClarity})
}

func baseAnalysis() models.ResponseAnalysis {
	return models.ResponseAnalysis{
		SophisticationScore: 0.5,
		EngagementLevel:     0.7,
		ClarityScore:        0.7,
		SophisticationBreakdown: models.SophisticationBreakdown{
			TechnicalVocabulary: 0.5, DomainKnowledge: 0.5, ConceptualDepth: 0.5, Specificity: 0.5, SystemsThinking: 0.5,
		},
		ClarityMetrics: models.ClarityMetrics{
			Articulation: 0.7, Specificity: 0.7, Coherence: 0.7, Completeness: 0.7, Actionability: 0.7,
		},
		EngagementMetrics: models.EngagementMetrics{
			Enthusiasm: 0.7, Elaboration: 0.7, Responsiveness: 0.7, Curiosity: 0.6, CollaborativeSpirit: 0.4,
		},
	}
}

func impatientAnalysis() models.ResponseAnalysis {
	a := baseAnalysis()
	a.EscapeSignals.Impatience = models.ImpatienceSignal{Detected: true, Confidence: 0.9, UrgencyLevel: "high"}
	return a
}

// ─── Definitions ─────────────────────────────────────────────────────────────

func TestDefinitions(t *testing.T) {
	engine := flow.NewEngine(testutil.NewFakeGenerator())
	tests := []struct {
		def      mcp.Tool
		name     string
		required []string
	}{
		{NewAnalyzeTool(engine).Definition(), "elicit_analyze_response", []string{"utterance", "context"}},
		{NewCheckPivotTool(engine).Definition(), "elicit_check_pivot", []string{"context", "analysis"}},
		{NewSelectStyleTool(engine).Definition(), "elicit_select_style", []string{"context", "analysis"}},
		{NewGenerateAssumptionsTool(engine).Definition(), "elicit_generate_assumptions", []string{"context", "analysis"}},
	}
	for _, tt := range tests {
		if tt.def.Name != tt.name {
			t.Errorf("tool name = %q, want %q", tt.def.Name, tt.name)
		}
		for _, key := range tt.required {
			if _, ok := tt.def.InputSchema.Properties[key]; !ok {
				t.Errorf("%s: missing '%s' parameter", tt.name, key)
			}
		}
	}
}

func TestNewServerRegistersTools(t *testing.T) {
	s := NewServer(flow.NewEngine(testutil.NewFakeGenerator()), "test")
	if s == nil {
		t.Fatal("NewServer returned nil")
	}
	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	raw := mustJSON(t, resp)
	for _, name := range []string{"elicit_analyze_response", "elicit_check_pivot", "elicit_select_style", "elicit_generate_assumptions"} {
		if !strings.Contains(raw, `"`+name+`"`) {
			t.Errorf("tool %s not listed in %s", name, raw)
		}
	}
}

// ─── AnalyzeTool ─────────────────────────────────────────────────────────────

func TestAnalyzeTool_Success(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	gen.PushJSON(baseAnalysis())
	tool := NewAnalyzeTool(flow.NewEngine(gen))

	result, err := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"utterance": "We need a ledger that reconciles daily",
		"context":   testContextJSON(t, "fintech"),
	}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	var a models.ResponseAnalysis
	if err := json.Unmarshal([]byte(resultText(result)), &a); err != nil {
		t.Fatalf("result is not an analysis: %v", err)
	}
	if a.EngagementLevel != 0.7 {
		t.Errorf("engagement = %v, want 0.7", a.EngagementLevel)
	}
}

func TestAnalyzeTool_GenerationFailure(t *testing.T) {
	tool := NewAnalyzeTool(flow.NewEngine(testutil.FailingGenerator(errors.New("provider down"))))

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"utterance": "anything",
		"context":   testContextJSON(t, "general"),
	}))
	if !result.IsError {
		t.Fatal("expected tool error")
	}
	if !strings.Contains(resultText(result), string(models.ErrorKindGeneration)) {
		t.Errorf("error should name the generation kind: %s", resultText(result))
	}
}

func TestAnalyzeTool_Quick(t *testing.T) {
	tool := NewAnalyzeTool(flow.NewEngine(testutil.FailingGenerator(errors.New("provider down"))))

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"utterance": "kubernetes deployment pipeline with oauth",
		"context":   testContextJSON(t, "saas"),
		"quick":     true,
	}))
	if result.IsError {
		t.Fatalf("quick check should fall back, got error: %s", resultText(result))
	}
	var q models.QuickSophistication
	if err := json.Unmarshal([]byte(resultText(result)), &q); err != nil {
		t.Fatalf("result is not a quick check: %v", err)
	}
	if q.Confidence != 0.3 {
		t.Errorf("confidence = %v, want lexical 0.3", q.Confidence)
	}
}

func TestAnalyzeTool_BadArguments(t *testing.T) {
	tool := NewAnalyzeTool(flow.NewEngine(testutil.NewFakeGenerator()))
	tests := []struct {
		name string
		args map[string]interface{}
	}{
		{"missing utterance", map[string]interface{}{"context": `{"domain":"general","stage":"idea-clarity"}`}},
		{"missing context", map[string]interface{}{"utterance": "hi"}},
		{"malformed context", map[string]interface{}{"utterance": "hi", "context": "{oops"}},
		{"invalid context", map[string]interface{}{"utterance": "hi", "context": `{"domain":"general"}`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := tool.Handle(context.Background(), makeReq(tt.args))
			if err != nil {
				t.Fatalf("handler must not return a Go error: %v", err)
			}
			if !result.IsError {
				t.Errorf("expected tool error, got %s", resultText(result))
			}
		})
	}
}

// ─── CheckPivotTool ──────────────────────────────────────────────────────────

func TestCheckPivotTool(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	tool := NewCheckPivotTool(flow.NewEngine(gen))

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"context":  testContextJSON(t, "ecommerce"),
		"analysis": mustJSON(t, impatientAnalysis()),
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	var d models.PivotDecision
	if err := json.Unmarshal([]byte(resultText(result)), &d); err != nil {
		t.Fatalf("result is not a decision: %v", err)
	}
	if !d.ShouldPivot || d.Trigger != models.TriggerImpatience || d.Assumptions != nil {
		t.Errorf("expected bare impatience pivot, got %+v", d)
	}
	if gen.CallCount() != 0 {
		t.Error("pivot check must not call the generator")
	}

	result, _ = tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"context":              testContextJSON(t, "ecommerce"),
		"analysis":             mustJSON(t, impatientAnalysis()),
		"generate_assumptions": true,
	}))
	d = models.PivotDecision{}
	if err := json.Unmarshal([]byte(resultText(result)), &d); err != nil {
		t.Fatalf("result is not a decision: %v", err)
	}
	if d.Assumptions == nil || len(d.Assumptions.Assumptions) == 0 {
		t.Errorf("expected fallback assumptions attached, got %+v", d)
	}
}

func TestCheckPivotTool_MissingAnalysis(t *testing.T) {
	tool := NewCheckPivotTool(flow.NewEngine(testutil.NewFakeGenerator()))
	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"context": testContextJSON(t, "general"),
	}))
	if !result.IsError || !strings.Contains(resultText(result), "'analysis' is required") {
		t.Errorf("expected missing analysis error, got %s", resultText(result))
	}
}

// ─── SelectStyleTool ─────────────────────────────────────────────────────────

func TestSelectStyleTool(t *testing.T) {
	tool := NewSelectStyleTool(flow.NewEngine(testutil.NewFakeGenerator()))

	confused := baseAnalysis()
	confused.EscapeSignals.Confusion = models.ConfusionSignal{Detected: true, Confidence: 0.9, ConfusionArea: "integrations"}
	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"context":  testContextJSON(t, "education"),
		"analysis": mustJSON(t, confused),
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	var sel models.StyleSelection
	if err := json.Unmarshal([]byte(resultText(result)), &sel); err != nil {
		t.Fatalf("result is not a selection: %v", err)
	}
	if sel.Style != models.StyleConfusedSupportive {
		t.Errorf("style = %s, want confused-supportive", sel.Style)
	}
}

// ─── GenerateAssumptionsTool ─────────────────────────────────────────────────

func TestGenerateAssumptionsTool_Fallback(t *testing.T) {
	tool := NewGenerateAssumptionsTool(flow.NewEngine(testutil.FailingGenerator(errors.New("timeout"))))

	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"context":  testContextJSON(t, "healthcare"),
		"analysis": mustJSON(t, baseAnalysis()),
		"reason":   "user asked to skip",
	}))
	if result.IsError {
		t.Fatalf("generation must fall back rather than fail: %s", resultText(result))
	}
	var set models.AssumptionSet
	if err := json.Unmarshal([]byte(resultText(result)), &set); err != nil {
		t.Fatalf("result is not an assumption set: %v", err)
	}
	if len(set.Assumptions) == 0 || set.OverallConfidence != 0.6 {
		t.Errorf("expected fallback set, got %+v", set)
	}
}

func TestGenerateAssumptionsTool_Refine(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	gen.Push(`{"assumptions":[{"category":"users","title":"Teachers first","description":"Teachers are the primary users.","confidence":0.8,"reasoning":"feedback","impact":"high"}],"overallConfidence":0.8}`)
	tool := NewGenerateAssumptionsTool(flow.NewEngine(gen))

	original := models.AssumptionSet{
		Assumptions:       []models.Assumption{{ID: "a_old", Title: "Students first", Confidence: 0.5}},
		OverallConfidence: 0.5,
	}
	result, _ := tool.Handle(context.Background(), makeReq(map[string]interface{}{
		"context":     testContextJSON(t, "education"),
		"feedback":    "Teachers are the main users, not students",
		"assumptions": mustJSON(t, original),
	}))
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", resultText(result))
	}
	var out refineResult
	if err := json.Unmarshal([]byte(resultText(result)), &out); err != nil {
		t.Fatalf("result is not a refine result: %v", err)
	}
	if !out.Refined || out.Assumptions.Assumptions[0].Title != "Teachers first" {
		t.Errorf("unexpected refinement %+v", out)
	}
	if out.Assumptions.Assumptions[0].ID == "a_old" {
		t.Error("refinement must mint new ids")
	}
}
