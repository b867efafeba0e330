package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/analytics"
	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/metrics"
	"github.com/BTreeMap/ElicitPipe/internal/models"
	"github.com/BTreeMap/ElicitPipe/internal/session"
	"github.com/BTreeMap/ElicitPipe/internal/store"
	"github.com/BTreeMap/ElicitPipe/internal/testutil"
)

const (
	testSessionID = "s_api"
	questionJSON  = `{"question":"Who will use this product every day?","rationale":"establish users","expectedAnswerType":"description","examples":["clinic staff"]}`
)

type apiFixture struct {
	server  *Server
	gen     *testutil.FakeGenerator
	store   *store.InMemoryStore
	metrics *metrics.Metrics
}

func newAPIFixture(t *testing.T, opts ...Option) *apiFixture {
	t.Helper()
	fx := &apiFixture{
		gen:     testutil.NewFakeGenerator(),
		store:   store.NewInMemoryStore(),
		metrics: metrics.New(),
	}
	f := flow.NewConversationFlow(flow.NewEngine(fx.gen), fx.store, session.NewRegistry(),
		flow.WithRecorder(fx.metrics),
		flow.WithSessionIDGenerator(func() string { return testSessionID }),
	)
	fx.server = NewServer(f, analytics.NewAggregator(fx.store), fx.metrics, append([]Option{WithAddr(":0")}, opts...)...)
	return fx
}

func (fx *apiFixture) do(t *testing.T, method, url string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.CreateHTTPRequest(t, method, url, body)
	rr := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rr, req)
	return rr
}

func (fx *apiFixture) startSession(t *testing.T) {
	t.Helper()
	fx.gen.Push(questionJSON)
	rr := fx.do(t, http.MethodPost, "/sessions", models.StartSessionRequest{Domain: "healthcare"})
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "start session")
}

func decodeResponse(t *testing.T, rr *httptest.ResponseRecorder) models.APIResponse {
	t.Helper()
	var resp models.APIResponse
	testutil.MustUnmarshalJSON(t, rr.Body.Bytes(), &resp)
	return resp
}

// decodeResult re-decodes the envelope's result into target.
func decodeResult(t *testing.T, resp models.APIResponse, target interface{}) {
	t.Helper()
	testutil.MustUnmarshalJSON(t, testutil.MustMarshalJSON(t, resp.Result), target)
}

func neutralAnalysis() models.ResponseAnalysis {
	return models.ResponseAnalysis{
		SophisticationScore: 0.5,
		EngagementLevel:     0.7,
		ClarityScore:        0.7,
		ConfidenceLevel:     0.6,
		RelevanceScore:      0.8,
		SophisticationBreakdown: models.SophisticationBreakdown{
			TechnicalVocabulary: 0.5, DomainKnowledge: 0.5, ConceptualDepth: 0.5, Specificity: 0.5, SystemsThinking: 0.5,
		},
		ClarityMetrics: models.ClarityMetrics{
			Articulation: 0.7, Specificity: 0.7, Coherence: 0.7, Completeness: 0.7, Actionability: 0.7,
		},
		EngagementMetrics: models.EngagementMetrics{
			Enthusiasm: 0.7, Elaboration: 0.7, Responsiveness: 0.7, Curiosity: 0.6, CollaborativeSpirit: 0.4,
		},
		Sentiment: models.SentimentNeutral,
	}
}

func fatiguedAnalysis() models.ResponseAnalysis {
	a := neutralAnalysis()
	a.EscapeSignals.Fatigue = models.FatigueSignal{Detected: true, Confidence: 0.9, Severity: "severe"}
	return a
}

func primitiveContext(domain string) models.ConversationContext {
	return models.ConversationContext{SessionID: "s_primitive", Domain: domain, Stage: models.StageIdeaClarity}
}

func TestStartAndGetSession(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gen.Push(questionJSON)

	rr := fx.do(t, http.MethodPost, "/sessions", models.StartSessionRequest{Domain: "healthcare"})
	testutil.AssertHTTPStatus(t, http.StatusCreated, rr.Code, "start session")
	resp := decodeResponse(t, rr)
	if resp.Status != string(models.APIStatusOK) {
		t.Fatalf("expected ok, got %+v", resp)
	}
	var result models.TurnResult
	decodeResult(t, resp, &result)
	if result.SessionID != testSessionID || result.Question == nil {
		t.Fatalf("unexpected start result %+v", result)
	}

	rr = fx.do(t, http.MethodGet, "/sessions/"+testSessionID, nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "get session")
	var view sessionView
	decodeResult(t, decodeResponse(t, rr), &view)
	if view.State.Domain != "healthcare" || view.Context.CurrentQuestion == nil {
		t.Errorf("unexpected session view %+v", view)
	}
}

func TestStartSessionErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       interface{}
		push       func(*testutil.FakeGenerator)
		wantStatus int
		wantKind   models.ErrorKind
	}{
		{"missing domain", models.StartSessionRequest{}, nil, http.StatusBadRequest, models.ErrorKindValidation},
		{"generation failure", models.StartSessionRequest{Domain: "saas"},
			func(g *testutil.FakeGenerator) { g.PushError(errors.New("provider down")) },
			http.StatusBadGateway, models.ErrorKindGeneration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fx := newAPIFixture(t)
			if tt.push != nil {
				tt.push(fx.gen)
			}
			rr := fx.do(t, http.MethodPost, "/sessions", tt.body)
			testutil.AssertHTTPStatus(t, tt.wantStatus, rr.Code, tt.name)
			resp := decodeResponse(t, rr)
			if resp.Status != string(models.APIStatusError) || resp.ErrorKind != tt.wantKind {
				t.Errorf("expected %s error, got %+v", tt.wantKind, resp)
			}
		})
	}
}

func TestInvalidJSON(t *testing.T) {
	fx := newAPIFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/sessions", strings.NewReader("{not json"))
	rr := httptest.NewRecorder()
	fx.server.Handler().ServeHTTP(rr, req)

	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "invalid json")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
}

func TestGetUnknownSession(t *testing.T) {
	fx := newAPIFixture(t)
	rr := fx.do(t, http.MethodGet, "/sessions/s_missing", nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown session")
	if resp := decodeResponse(t, rr); resp.ErrorKind != models.ErrorKindState {
		t.Errorf("expected state error, got %+v", resp)
	}
}

func TestProcessTurnQuestion(t *testing.T) {
	fx := newAPIFixture(t)
	fx.startSession(t)

	fx.gen.PushJSON(neutralAnalysis())
	fx.gen.Push(questionJSON)
	rr := fx.do(t, http.MethodPost, "/sessions/"+testSessionID+"/turns", models.TurnRequest{Utterance: "A patient intake tool for small clinics"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "turn")
	resp := decodeResponse(t, rr)
	if resp.Status != string(models.APIStatusOK) {
		t.Fatalf("expected ok, got %+v", resp)
	}
	var result models.TurnResult
	decodeResult(t, resp, &result)
	if result.Pivot.ShouldPivot || result.Question == nil || result.Sequence != 1 {
		t.Errorf("expected a follow-up question, got %+v", result)
	}
}

func TestProcessTurnPivots(t *testing.T) {
	fx := newAPIFixture(t)
	fx.startSession(t)

	// Only the analysis is scripted; assumption generation falls back.
	fx.gen.PushJSON(fatiguedAnalysis())
	rr := fx.do(t, http.MethodPost, "/sessions/"+testSessionID+"/turns", models.TurnRequest{Utterance: "this is taking forever"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "pivot turn")
	resp := decodeResponse(t, rr)
	if resp.Status != string(models.APIStatusPivoted) || resp.Message != flow.ReasonFatigue {
		t.Fatalf("expected pivoted envelope, got %+v", resp)
	}
	var result models.TurnResult
	decodeResult(t, resp, &result)
	if result.Pivot.Assumptions == nil || len(result.Pivot.Assumptions.Assumptions) == 0 {
		t.Fatalf("pivot should carry assumptions: %+v", result.Pivot)
	}
	if result.State.Escape == nil || !result.State.Escape.Triggered {
		t.Error("pivot should record the escape on the state")
	}
}

func TestProcessTurnErrors(t *testing.T) {
	fx := newAPIFixture(t)
	fx.startSession(t)

	rr := fx.do(t, http.MethodPost, "/sessions/"+testSessionID+"/turns", models.TurnRequest{Utterance: "   "})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "blank utterance")

	rr = fx.do(t, http.MethodPost, "/sessions/s_missing/turns", models.TurnRequest{Utterance: "hello"})
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "unknown session")

	fx.gen.Push("not json at all")
	rr = fx.do(t, http.MethodPost, "/sessions/"+testSessionID+"/turns", models.TurnRequest{Utterance: "hello"})
	testutil.AssertHTTPStatus(t, http.StatusBadGateway, rr.Code, "unparseable analysis")
}

func TestAdvanceStage(t *testing.T) {
	fx := newAPIFixture(t)
	fx.startSession(t)
	url := "/sessions/" + testSessionID + "/stage"

	rr := fx.do(t, http.MethodPost, url, models.StageTransitionRequest{Stage: models.StageUserWorkflow})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "forward transition")
	var st models.ConversationState
	decodeResult(t, decodeResponse(t, rr), &st)
	if st.CurrentStage != models.StageUserWorkflow {
		t.Errorf("expected user-workflow, got %s", st.CurrentStage)
	}

	rr = fx.do(t, http.MethodPost, url, models.StageTransitionRequest{Stage: models.StageIdeaClarity})
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "backward transition")

	rr = fx.do(t, http.MethodPost, url, models.StageTransitionRequest{Stage: "backlog"})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "unknown stage")
}

func TestRefineWithoutAssumptions(t *testing.T) {
	fx := newAPIFixture(t)
	fx.startSession(t)

	rr := fx.do(t, http.MethodPost, "/sessions/"+testSessionID+"/assumptions/refine", models.RefineRequest{Feedback: "We only serve dentists"})
	testutil.AssertHTTPStatus(t, http.StatusConflict, rr.Code, "refine before pivot")
}

func TestRefineAfterPivot(t *testing.T) {
	fx := newAPIFixture(t)
	fx.startSession(t)
	fx.gen.PushJSON(fatiguedAnalysis())
	fx.do(t, http.MethodPost, "/sessions/"+testSessionID+"/turns", models.TurnRequest{Utterance: "just guess the rest"})

	fx.gen.Push(`{"assumptions":[{"category":"users","title":"Dentists only","description":"The product targets dental practices.","confidence":0.9,"reasoning":"stated by the user","impact":"high"}],"overallConfidence":0.9}`)
	rr := fx.do(t, http.MethodPost, "/sessions/"+testSessionID+"/assumptions/refine", models.RefineRequest{Feedback: "We only serve dentists"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "refine")
	var view refineView
	decodeResult(t, decodeResponse(t, rr), &view)
	if !view.Refined || len(view.Assumptions.Assumptions) != 1 || view.Assumptions.Assumptions[0].Title != "Dentists only" {
		t.Errorf("unexpected refine result %+v", view)
	}

	rr = fx.do(t, http.MethodGet, "/sessions/"+testSessionID+"/artifacts", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "artifacts")
	var arts []models.TurnArtifact
	decodeResult(t, decodeResponse(t, rr), &arts)
	if len(arts) == 0 || arts[len(arts)-1].Kind != models.ArtifactAssumptionSet {
		t.Errorf("refined set should be the latest artifact: %+v", arts)
	}
}

func TestSessionMetricsEndpoint(t *testing.T) {
	fx := newAPIFixture(t)
	fx.startSession(t)

	rr := fx.do(t, http.MethodGet, "/sessions/"+testSessionID+"/metrics", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "session metrics")
	var m analytics.SessionMetrics
	decodeResult(t, decodeResponse(t, rr), &m)
	if m.SessionID != testSessionID || m.Domain != "healthcare" {
		t.Errorf("unexpected session metrics %+v", m)
	}

	rr = fx.do(t, http.MethodGet, "/sessions/s_missing/metrics", nil)
	testutil.AssertHTTPStatus(t, http.StatusNotFound, rr.Code, "missing session metrics")
}

func TestAggregateMetricsEndpoint(t *testing.T) {
	fx := newAPIFixture(t)
	base := time.Date(2031, 2, 3, 10, 0, 0, 0, time.UTC)
	testutil.SeedSessions(t, fx.store, base, 6)

	rr := fx.do(t, http.MethodGet, "/metrics/aggregate", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "aggregate")
	var agg analytics.AggregateMetrics
	decodeResult(t, decodeResponse(t, rr), &agg)
	if agg.Sessions != 6 || agg.CompletedSessions != 3 || agg.EscapedSessions != 2 {
		t.Errorf("unexpected aggregate %+v", agg)
	}

	from := base.Add(2 * time.Minute).Format(time.RFC3339)
	rr = fx.do(t, http.MethodGet, fmt.Sprintf("/metrics/aggregate?from=%s", from), nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "windowed aggregate")
	decodeResult(t, decodeResponse(t, rr), &agg)
	if agg.Sessions != 4 {
		t.Errorf("expected 4 sessions from %s, got %d", from, agg.Sessions)
	}

	rr = fx.do(t, http.MethodGet, "/metrics/aggregate?from=yesterday", nil)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "malformed window")

	to := base.Format(time.RFC3339)
	rr = fx.do(t, http.MethodGet, fmt.Sprintf("/metrics/aggregate?from=%s&to=%s", from, to), nil)
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "inverted window")
}

func TestAnalyzeEndpoint(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gen.PushJSON(neutralAnalysis())

	rr := fx.do(t, http.MethodPost, "/analyze", AnalyzeRequest{Utterance: "We need HIPAA-compliant intake", Context: primitiveContext("healthcare")})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "analyze")
	var a models.ResponseAnalysis
	decodeResult(t, decodeResponse(t, rr), &a)
	if a.EngagementLevel != 0.7 {
		t.Errorf("expected engagement 0.7, got %v", a.EngagementLevel)
	}

	rr = fx.do(t, http.MethodPost, "/analyze", AnalyzeRequest{Utterance: "hi", Context: models.ConversationContext{}})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing context")
}

func TestAnalyzeQuickFallsBack(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gen.PushError(errors.New("provider down"))

	rr := fx.do(t, http.MethodPost, "/analyze", AnalyzeRequest{Utterance: "postgres schema and api endpoint design", Context: primitiveContext("general"), Quick: true})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "quick analyze")
	var q models.QuickSophistication
	decodeResult(t, decodeResponse(t, rr), &q)
	if q.Confidence != 0.3 || len(q.Indicators) == 0 {
		t.Errorf("expected lexical estimate, got %+v", q)
	}
}

func TestPivotEndpoint(t *testing.T) {
	fx := newAPIFixture(t)

	neutral := neutralAnalysis()
	rr := fx.do(t, http.MethodPost, "/pivot", PivotRequest{Context: primitiveContext("general"), Analysis: &neutral})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "no pivot")
	var d models.PivotDecision
	decodeResult(t, decodeResponse(t, rr), &d)
	if d.ShouldPivot {
		t.Errorf("neutral analysis should not pivot: %+v", d)
	}

	fatigued := fatiguedAnalysis()
	rr = fx.do(t, http.MethodPost, "/pivot", PivotRequest{Context: primitiveContext("fintech"), Analysis: &fatigued})
	d = models.PivotDecision{}
	decodeResult(t, decodeResponse(t, rr), &d)
	if !d.ShouldPivot || d.Trigger != models.TriggerFatigue || d.Assumptions != nil {
		t.Errorf("expected bare fatigue pivot, got %+v", d)
	}
	if fx.gen.CallCount() != 0 {
		t.Error("pivot checks must not call the generator")
	}

	rr = fx.do(t, http.MethodPost, "/pivot", PivotRequest{Context: primitiveContext("fintech"), Analysis: &fatigued, GenerateAssumptions: true})
	d = models.PivotDecision{}
	decodeResult(t, decodeResponse(t, rr), &d)
	if d.Assumptions == nil || len(d.Assumptions.Assumptions) == 0 {
		t.Errorf("expected attached assumptions, got %+v", d)
	}

	rr = fx.do(t, http.MethodPost, "/pivot", PivotRequest{Context: primitiveContext("general")})
	testutil.AssertHTTPStatus(t, http.StatusBadRequest, rr.Code, "missing analysis")
}

func TestStyleEndpoint(t *testing.T) {
	fx := newAPIFixture(t)
	a := neutralAnalysis()
	a.SophisticationBreakdown = models.SophisticationBreakdown{
		TechnicalVocabulary: 0.85, DomainKnowledge: 0.85, ConceptualDepth: 0.85, Specificity: 0.85, SystemsThinking: 0.85,
	}
	cc := primitiveContext("fintech")
	cc.Profile.EngagementPattern = models.EngagementEngaged

	rr := fx.do(t, http.MethodPost, "/style", StyleRequest{Context: cc, Analysis: &a})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "style")
	var sel models.StyleSelection
	decodeResult(t, decodeResponse(t, rr), &sel)
	if sel.Style != models.StyleExpertEfficient {
		t.Errorf("expected expert-efficient, got %s", sel.Style)
	}
}

func TestQuestionAndAssumptionsEndpoints(t *testing.T) {
	fx := newAPIFixture(t)
	fx.gen.Push(questionJSON)

	rr := fx.do(t, http.MethodPost, "/question", QuestionRequest{Context: primitiveContext("saas"), Style: models.StyleNoviceFriendly})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "question")
	var q models.Question
	decodeResult(t, decodeResponse(t, rr), &q)
	if q.Text != "Who will use this product every day?" {
		t.Errorf("unexpected question %+v", q)
	}

	a := neutralAnalysis()
	rr = fx.do(t, http.MethodPost, "/assumptions", AssumptionsRequest{Context: primitiveContext("saas"), Analysis: &a, Reason: "user asked"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "assumptions")
	var set models.AssumptionSet
	decodeResult(t, decodeResponse(t, rr), &set)
	if len(set.Assumptions) == 0 || set.OverallConfidence != 0.6 {
		t.Errorf("expected fallback set, got %+v", set)
	}
}

func TestHealthAndPrometheus(t *testing.T) {
	fx := newAPIFixture(t)

	rr := fx.do(t, http.MethodGet, "/health", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")

	fx.startSession(t)
	rr = fx.do(t, http.MethodGet, "/metrics", nil)
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "prometheus")
	if !strings.Contains(rr.Body.String(), `elicitpipe_sessions_started_total{domain="healthcare"} 1`) {
		t.Errorf("sessions_started_total missing from scrape:\n%s", rr.Body.String())
	}
}

func TestStatusForError(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{models.NewValidationError("x", models.ErrEmptyUtterance), http.StatusBadRequest},
		{models.NewStateError("s", models.ErrSessionNotFound), http.StatusNotFound},
		{models.NewTransitionError("s", models.StageWireframes, models.StageIdeaClarity), http.StatusConflict},
		{models.NewStateError("s", models.ErrSessionCompleted), http.StatusConflict},
		{models.NewGenerationError("analyze_response", errors.New("boom")), http.StatusBadGateway},
		{models.NewConfigurationError("OPENAI_API_KEY", errors.New("missing")), http.StatusInternalServerError},
		{errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := statusForError(tt.err); got != tt.want {
			t.Errorf("statusForError(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestWriteErrorHidesInternalDetail(t *testing.T) {
	rr := httptest.NewRecorder()
	writeError(rr, errors.New("dsn=postgres://secret"))

	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "internal error")
	var resp map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if strings.Contains(resp["message"].(string), "secret") {
		t.Errorf("internal error detail leaked: %v", resp["message"])
	}
}

func TestWriteJSONResponseFallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]interface{}{"bad": make(chan int)})

	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unmarshalable response")
	testutil.AssertJSONResponse(t, rr, string(models.APIStatusError))
}
