package genai

import (
	"errors"
	"testing"
)

type sample struct {
	Question string   `json:"question"`
	Examples []string `json:"examples"`
}

func TestParseJSON(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{"strict", `{"question":"What problem?","examples":["a"]}`, "What problem?", false},
		{"fenced", "```json\n{\"question\":\"Who uses it?\"}\n```", "Who uses it?", false},
		{"prose around", `Sure! Here you go: {"question":"Why now?"} Hope that helps.`, "Why now?", false},
		{"braces inside strings", `note {"question":"Use {curly} and \"quotes\"?"} end`, `Use {curly} and "quotes"?`, false},
		{"first object wins", `{"question":"one"} {"question":"two"}`, "one", false},
		{"no object", `I cannot answer that`, "", true},
		{"unbalanced", `{"question": "oops"`, "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseJSON[sample](tt.raw)
			if tt.wantErr {
				var pe *ParseError
				if !errors.As(err, &pe) {
					t.Fatalf("expected *ParseError, got %v", err)
				}
				if pe.Raw != tt.raw {
					t.Errorf("ParseError should keep raw text")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Question != tt.want {
				t.Errorf("Question = %q, want %q", got.Question, tt.want)
			}
		})
	}
}

func TestParseJSON_TypeMismatchIsParseError(t *testing.T) {
	_, err := ParseJSON[sample](`text {"question": 42}`)
	var pe *ParseError
	if !errors.As(err, &pe) {
		t.Fatalf("expected *ParseError, got %v", err)
	}
}

func TestExtractFirstObject_SkipsUnclosedPrefix(t *testing.T) {
	got, ok := ExtractFirstObject(`{ "broken": {"inner": 1}`)
	if !ok || got != `{"inner": 1}` {
		t.Errorf("ExtractFirstObject = %q, %v", got, ok)
	}
}

func TestParseJSONFields(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"all present", `{"question":"What problem?","examples":[]}`, false},
		{"embedded", `Sure: {"question":"Why?","examples":["a"]} done`, false},
		{"empty object", `{}`, true},
		{"null", `null`, true},
		{"unrelated object", `{"note":"I cannot score this"}`, true},
		{"null field", `{"question":null,"examples":[]}`, true},
		{"one missing", `{"question":"Who?"}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseJSONFields[sample](tt.raw, "question", "examples")
			if !tt.wantErr {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			var pe *ParseError
			if !errors.As(err, &pe) {
				t.Fatalf("expected *ParseError, got %v", err)
			}
			if !errors.Is(err, ErrMissingField) {
				t.Errorf("expected ErrMissingField cause, got %v", err)
			}
		})
	}
}
