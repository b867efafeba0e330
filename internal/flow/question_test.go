package flow

import (
	"context"
	"errors"
	"testing"

	"github.com/BTreeMap/ElicitPipe/internal/models"
	"github.com/BTreeMap/ElicitPipe/internal/testutil"
)

func TestGenerateQuestion(t *testing.T) {
	gen := testutil.NewFakeGenerator(questionJSON)
	cc := testContext("healthcare")
	cc.Stage = models.StageUserWorkflow

	q, err := NewQuestionGenerator(gen).Generate(context.Background(), cc, models.StyleNoviceFriendly)
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if q.Text != "Who will use this product every day?" || q.ExpectedAnswerType != "description" {
		t.Errorf("unexpected question %+v", q)
	}
	if q.Stage != models.StageUserWorkflow || q.Style != models.StyleNoviceFriendly {
		t.Errorf("question should carry stage and style: %+v", q)
	}
	want, _ := TemperatureFor(models.StyleNoviceFriendly)
	if got := *gen.Calls()[0].Opts.Temperature; got != want || q.Temperature != want {
		t.Errorf("expected style temperature %v, got call=%v question=%v", want, got, q.Temperature)
	}
}

func TestGenerateQuestionErrors(t *testing.T) {
	completed := testContext("general")
	completed.Stage = models.StageCompleted

	tests := []struct {
		name  string
		gen   *testutil.FakeGenerator
		cc    models.ConversationContext
		style models.StyleProfile
		kind  models.ErrorKind
		is    error
	}{
		{"generation failure", testutil.FailingGenerator(errors.New("boom")), testContext("general"), models.StyleExpertEfficient, models.ErrorKindGeneration, nil},
		{"empty question", testutil.NewFakeGenerator(`{"question":"   "}`), testContext("general"), models.StyleExpertEfficient, models.ErrorKindGeneration, models.ErrEmptyGeneration},
		{"unknown style", testutil.NewFakeGenerator(questionJSON), testContext("general"), "loud", models.ErrorKindConfiguration, models.ErrUnknownStyle},
		{"completed session", testutil.NewFakeGenerator(questionJSON), completed, models.StyleExpertEfficient, models.ErrorKindState, models.ErrSessionCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewQuestionGenerator(tt.gen).Generate(context.Background(), tt.cc, tt.style)
			if models.ErrorKindOf(err) != tt.kind {
				t.Fatalf("expected %s error, got %v", tt.kind, err)
			}
			if tt.is != nil && !errors.Is(err, tt.is) {
				t.Errorf("expected %v, got %v", tt.is, err)
			}
		})
	}
}
