package flow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/BTreeMap/ElicitPipe/internal/models"
	"github.com/BTreeMap/ElicitPipe/internal/testutil"
)

func sequentialIDs() func() string {
	n := 0
	return func() string {
		n++
		return fmt.Sprintf("a%d", n)
	}
}

// Scenario D: a generator that always fails still yields a usable set.
func TestGenerateAssumptionsFallback(t *testing.T) {
	useFixedClock(t)
	g := NewAssumptionGenerator(testutil.FailingGenerator(errors.New("provider unavailable")))
	g.newID = sequentialIDs()

	set, err := g.Generate(context.Background(), testContext("healthcare"), neutralAnalysis(), ReasonFatigue)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(set.Assumptions) == 0 {
		t.Fatal("fallback set must not be empty")
	}
	if set.OverallConfidence != fallbackConfidence {
		t.Errorf("expected overall confidence 0.6, got %v", set.OverallConfidence)
	}
	for _, a := range set.Assumptions {
		if a.Confidence != 0.6 {
			t.Errorf("%s: expected confidence 0.6, got %v", a.Title, a.Confidence)
		}
		if !strings.Contains(a.Reasoning, "healthcare") || !strings.Contains(a.Reasoning, ReasonFatigue) {
			t.Errorf("%s: reasoning should name domain and trigger: %q", a.Title, a.Reasoning)
		}
	}
	if set.Metadata.Source != models.SourceFallback || set.Metadata.TriggerReason != ReasonFatigue {
		t.Errorf("unexpected metadata %+v", set.Metadata)
	}
	if set.Metadata.FallbackCause == "" {
		t.Error("fallback cause should be recorded")
	}
	if len(set.MissingCriticalInfo) == 0 {
		t.Error("fallback set should list missing information")
	}
}

func TestGenerateAssumptionsFallbackIsDeterministic(t *testing.T) {
	gen := testutil.FailingGenerator(errors.New("down"))
	first := NewAssumptionGenerator(gen)
	first.newID = sequentialIDs()
	second := NewAssumptionGenerator(gen)
	second.newID = sequentialIDs()

	a, _ := first.Generate(context.Background(), testContext("fintech"), neutralAnalysis(), "high impatience")
	b, _ := second.Generate(context.Background(), testContext("fintech"), neutralAnalysis(), "high impatience")
	if len(a.Assumptions) != len(b.Assumptions) {
		t.Fatalf("fallback sizes differ: %d vs %d", len(a.Assumptions), len(b.Assumptions))
	}
	for i := range a.Assumptions {
		if a.Assumptions[i].Title != b.Assumptions[i].Title || a.Assumptions[i].ID != b.Assumptions[i].ID {
			t.Errorf("entry %d differs: %+v vs %+v", i, a.Assumptions[i], b.Assumptions[i])
		}
	}
}

func TestGenerateAssumptionsFallbackOnUnusableOutput(t *testing.T) {
	for name, raw := range map[string]string{
		"not json":   "sorry, no",
		"empty list": `{"assumptions": []}`,
		"no titles":  `{"assumptions": [{"title": "  "}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			set, err := NewAssumptionGenerator(testutil.NewFakeGenerator(raw)).
				Generate(context.Background(), testContext("ecommerce"), neutralAnalysis(), ReasonExplicitRequest)
			if err != nil {
				t.Fatalf("Generate: %v", err)
			}
			if set.Metadata.Source != models.SourceFallback || len(set.Assumptions) == 0 {
				t.Errorf("expected fallback set, got %+v", set.Metadata)
			}
		})
	}
}

func TestGenerateAssumptionsParsesOutput(t *testing.T) {
	g := NewAssumptionGenerator(testutil.NewFakeGenerator(assumptionsJSON))
	g.newID = sequentialIDs()

	set, err := g.Generate(context.Background(), testContext("saas"), neutralAnalysis(), ReasonLowEngagement)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if len(set.Assumptions) != 2 {
		t.Fatalf("expected 2 assumptions, got %d", len(set.Assumptions))
	}
	first, second := set.Assumptions[0], set.Assumptions[1]
	if first.ID != "a1" || second.ID != "a2" {
		t.Errorf("unexpected ids %s, %s", first.ID, second.ID)
	}
	if first.Impact != models.ImpactHigh || second.Impact != models.ImpactMedium {
		t.Errorf("impact not normalized: %s, %s", first.Impact, second.Impact)
	}
	if second.Confidence != 1 {
		t.Errorf("confidence not clamped: %v", second.Confidence)
	}
	if len(second.Dependencies) != 1 || second.Dependencies[0] != "Small business owners" {
		t.Errorf("dangling dependencies not pruned: %v", second.Dependencies)
	}
	if set.OverallConfidence != 0.9 {
		t.Errorf("expected mean confidence 0.9, got %v", set.OverallConfidence)
	}
	if set.Metadata.Source != models.SourceGenerated || set.Metadata.Model != "fake-model" {
		t.Errorf("unexpected metadata %+v", set.Metadata)
	}
}

func TestGenerateAssumptionsRejectsInvalidContext(t *testing.T) {
	gen := testutil.NewFakeGenerator()
	_, err := NewAssumptionGenerator(gen).Generate(context.Background(), testContext(" "), neutralAnalysis(), "x")
	if models.ErrorKindOf(err) != models.ErrorKindValidation {
		t.Errorf("expected validation error, got %v", err)
	}
	if gen.CallCount() != 0 {
		t.Error("generator should not be called")
	}
}

func TestRefineAssumptions(t *testing.T) {
	original, _ := NewAssumptionGenerator(testutil.FailingGenerator(errors.New("down"))).
		Generate(context.Background(), testContext("saas"), neutralAnalysis(), ReasonFatigue)

	gen := testutil.NewFakeGenerator(assumptionsJSON)
	g := NewAssumptionGenerator(gen)
	g.newID = sequentialIDs()

	refined, ok, err := g.Refine(context.Background(), original, "It is for small shops, not enterprises", "saas")
	if err != nil || !ok {
		t.Fatalf("Refine: ok=%v err=%v", ok, err)
	}
	if refined.Metadata.Source != models.SourceRefined || refined.Metadata.TriggerReason != ReasonFatigue {
		t.Errorf("unexpected metadata %+v", refined.Metadata)
	}
	for _, a := range refined.Assumptions {
		for _, o := range original.Assumptions {
			if a.ID == o.ID {
				t.Errorf("refined entry reused id %s", a.ID)
			}
		}
	}
	if !strings.Contains(gen.Calls()[0].Prompt, "small shops") {
		t.Error("refine prompt should include the feedback")
	}
}

func TestRefineAssumptionsFailureKeepsOriginal(t *testing.T) {
	original, _ := NewAssumptionGenerator(testutil.FailingGenerator(errors.New("down"))).
		Generate(context.Background(), testContext("general"), neutralAnalysis(), ReasonFatigue)

	got, ok, err := NewAssumptionGenerator(testutil.FailingGenerator(errors.New("still down"))).
		Refine(context.Background(), original, "use mobile instead", "general")
	if err != nil || ok {
		t.Fatalf("expected silent failure, got ok=%v err=%v", ok, err)
	}
	if len(got.Assumptions) != len(original.Assumptions) || got.Assumptions[0].ID != original.Assumptions[0].ID {
		t.Error("original set should be returned unchanged")
	}
}

func TestRefineAssumptionsValidation(t *testing.T) {
	g := NewAssumptionGenerator(testutil.NewFakeGenerator())
	set := models.AssumptionSet{Assumptions: []models.Assumption{{ID: "x", Title: "t"}}}

	if _, _, err := g.Refine(context.Background(), set, "  ", "general"); !errors.Is(err, models.ErrEmptyFeedback) {
		t.Errorf("expected ErrEmptyFeedback, got %v", err)
	}
	if _, _, err := g.Refine(context.Background(), models.AssumptionSet{}, "change it", "general"); !errors.Is(err, models.ErrNoAssumptions) {
		t.Errorf("expected ErrNoAssumptions, got %v", err)
	}
}

func TestEveryDomainHasFallbackTemplates(t *testing.T) {
	for _, name := range KnownDomains() {
		p, err := LookupDomain(name)
		if err != nil {
			t.Fatalf("LookupDomain(%s): %v", name, err)
		}
		if len(p.templates) == 0 || len(p.KeyConcerns) == 0 {
			t.Errorf("%s: missing templates or concerns", name)
		}
		for _, s := range models.ContentStages {
			if p.ExpectedFor(s) <= 0 {
				t.Errorf("%s: no question budget for %s", name, s)
			}
		}
	}
	p, err := LookupDomain("Underwater Basket Weaving")
	if err != nil || p.Name != DomainGeneral {
		t.Errorf("unknown domains should map to general, got %s (%v)", p.Name, err)
	}
	if _, err := LookupDomain(""); models.ErrorKindOf(err) != models.ErrorKindConfiguration {
		t.Errorf("empty domain should be a configuration error, got %v", err)
	}
}
