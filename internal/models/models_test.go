package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestAPIResponseBuilders(t *testing.T) {
	ok := Success(map[string]string{"k": "v"})
	if ok.Status != string(APIStatusOK) || ok.Result == nil {
		t.Errorf("unexpected success response: %+v", ok)
	}

	p := Pivoted("conversation fatigue", nil)
	if p.Status != string(APIStatusPivoted) || p.Message != "conversation fatigue" {
		t.Errorf("unexpected pivoted response: %+v", p)
	}

	e := ErrorFrom(NewValidationError("utterance", ErrEmptyUtterance))
	if e.Status != string(APIStatusError) || e.ErrorKind != ErrorKindValidation {
		t.Errorf("unexpected error response: %+v", e)
	}
}

func TestErrorKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{"nil", nil, ""},
		{"validation", NewValidationError("utterance", ErrEmptyUtterance), ErrorKindValidation},
		{"wrapped generation", fmt.Errorf("turn: %w", NewGenerationError("analyze_response", errors.New("boom"))), ErrorKindGeneration},
		{"state", NewTransitionError("s1", StageWireframes, StageIdeaClarity), ErrorKindState},
		{"configuration", NewConfigurationError("style", ErrUnknownStyle), ErrorKindConfiguration},
		{"plain", errors.New("disk full"), ErrorKindInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ErrorKindOf(tt.err); got != tt.want {
				t.Errorf("ErrorKindOf() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTransitionErrorUnwraps(t *testing.T) {
	err := NewTransitionError("s1", StageWireframes, StageIdeaClarity)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Error("expected errors.Is to match ErrInvalidTransition")
	}
	if !strings.Contains(err.Error(), "wireframes -> idea-clarity") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

func TestRequestValidation(t *testing.T) {
	if err := (&TurnRequest{Utterance: "   "}).Validate(); !errors.Is(err, ErrEmptyUtterance) {
		t.Errorf("expected ErrEmptyUtterance, got %v", err)
	}
	if err := (&TurnRequest{Utterance: strings.Repeat("a", MaxUtteranceLength+1)}).Validate(); !errors.Is(err, ErrUtteranceTooLong) {
		t.Errorf("expected ErrUtteranceTooLong, got %v", err)
	}
	if err := (&StartSessionRequest{}).Validate(); !errors.Is(err, ErrMissingDomain) {
		t.Errorf("expected ErrMissingDomain, got %v", err)
	}
	if err := (&StageTransitionRequest{Stage: "bogus"}).Validate(); !errors.Is(err, ErrUnknownStage) {
		t.Errorf("expected ErrUnknownStage, got %v", err)
	}
	if err := (&RefineRequest{Feedback: "use postgres"}).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestStageIndexOrder(t *testing.T) {
	for i, s := range ContentStages {
		if s.Index() != i {
			t.Errorf("%s.Index() = %d, want %d", s, s.Index(), i)
		}
	}
	if StageCompleted.Index() != NumContentStages {
		t.Errorf("completed should sort last")
	}
	if IsValidStage("design") {
		t.Error("unknown stage should be invalid")
	}
}

func TestConversationStateRoundTrip(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	done := now.Add(time.Minute)
	st := ConversationState{
		SessionID:       "s1",
		Domain:          "fintech",
		CurrentStage:    StageUserWorkflow,
		OverallProgress: 37.5,
		CreatedAt:       now,
		UpdatedAt:       done,
	}
	st.Stages.IdeaClarity = StageProgress{
		Status: StageStatusCompleted, QuestionsAsked: 3, QuestionsAnswered: 3, TotalQuestions: 3,
		StartedAt: &now, CompletedAt: &done,
		Responses: []StageResponse{{Question: "q", Answer: "a", Timestamp: now}},
	}
	st.Stages.UserWorkflow = StageProgress{Status: StageStatusInProgress, QuestionsAnswered: 2, TotalQuestions: 4, StartedAt: &done}

	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var back ConversationState
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.CurrentStage != st.CurrentStage || back.OverallProgress != st.OverallProgress {
		t.Errorf("stage/progress not preserved: %+v", back)
	}
	if !reflect.DeepEqual(back.Stages, st.Stages) {
		t.Errorf("stage progresses not preserved:\n got %+v\nwant %+v", back.Stages, st.Stages)
	}
}

func TestConversationStateCloneIsDeep(t *testing.T) {
	now := time.Now()
	st := ConversationState{SessionID: "s1", Escape: &EscapeRecord{Triggered: true, Stage: StageIdeaClarity}}
	st.Stages.IdeaClarity.StartedAt = &now
	st.Stages.IdeaClarity.Responses = []StageResponse{{Answer: "a"}}

	cp := st.Clone()
	cp.Escape.Stage = StageWireframes
	cp.Stages.IdeaClarity.Responses[0].Answer = "changed"
	*cp.Stages.IdeaClarity.StartedAt = now.Add(time.Hour)

	if st.Escape.Stage != StageIdeaClarity {
		t.Error("escape record aliased")
	}
	if st.Stages.IdeaClarity.Responses[0].Answer != "a" {
		t.Error("responses aliased")
	}
	if !st.Stages.IdeaClarity.StartedAt.Equal(now) {
		t.Error("timestamps aliased")
	}
}

func TestClamped(t *testing.T) {
	a := ResponseAnalysis{
		SophisticationScore: 1.7,
		EngagementLevel:     -0.2,
		ClarityScore:        math.NaN(),
		SophisticationBreakdown: SophisticationBreakdown{
			TechnicalVocabulary: 3,
		},
		EscapeSignals: EscapeSignalSet{Fatigue: FatigueSignal{Detected: true, Confidence: 9}},
	}
	c := a.Clamped()
	if c.SophisticationScore != 1 || c.EngagementLevel != 0 || c.ClarityScore != 0 {
		t.Errorf("scalars not clamped: %+v", c)
	}
	if c.SophisticationBreakdown.TechnicalVocabulary != 1 {
		t.Error("breakdown not clamped")
	}
	if c.EscapeSignals.Fatigue.Confidence != 1 {
		t.Error("signal confidence not clamped")
	}
	if a.SophisticationScore != 1.7 {
		t.Error("input mutated")
	}
}

func TestTimeWindowContains(t *testing.T) {
	from := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	to := from.Add(24 * time.Hour)
	w := TimeWindow{From: from, To: to}
	if !w.Contains(from) {
		t.Error("window should include From")
	}
	if w.Contains(to) {
		t.Error("window should exclude To")
	}
	if !(TimeWindow{}).Contains(time.Now()) {
		t.Error("open window should include everything")
	}
}

func TestConversationContextValidateAndClone(t *testing.T) {
	if err := (ConversationContext{Stage: StageIdeaClarity}).Validate(); !errors.Is(err, ErrMissingDomain) {
		t.Errorf("expected ErrMissingDomain, got %v", err)
	}
	if err := (ConversationContext{Domain: "saas"}).Validate(); !errors.Is(err, ErrMissingStage) {
		t.Errorf("expected ErrMissingStage, got %v", err)
	}

	c := ConversationContext{
		Domain: "saas", Stage: StageIdeaClarity,
		History: []ConversationExchange{{Utterance: "a", Analysis: ResponseAnalysis{Entities: []string{"x"}}}},
	}
	cp := c.Clone()
	cp.History[0].Analysis.Entities[0] = "y"
	cp.History = append(cp.History, ConversationExchange{Utterance: "b"})
	if c.History[0].Analysis.Entities[0] != "x" || len(c.History) != 1 {
		t.Error("clone aliased history")
	}
	if got := cp.RecentExchanges(5); len(got) != 2 {
		t.Errorf("RecentExchanges(5) = %d items", len(got))
	}
}
