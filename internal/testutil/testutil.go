// Package testutil provides common test utilities and helpers for ElicitPipe tests.
package testutil

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/ElicitPipe/internal/genai"
	"github.com/BTreeMap/ElicitPipe/internal/models"
	"github.com/BTreeMap/ElicitPipe/internal/store"
)

// ErrNoCannedResponse is returned by FakeGenerator when its queue is empty
// and no Handler is set.
var ErrNoCannedResponse = errors.New("fake generator: no canned response")

// GeneratorCall records one Generate invocation.
type GeneratorCall struct {
	Prompt string
	Opts   genai.GenerateOptions
}

// FakeGenerator is a scripted genai.Generator. Queued responses are consumed
// in order; once exhausted, Handler (if set) answers the remaining calls.
type FakeGenerator struct {
	mu        sync.Mutex
	responses []fakeResponse
	calls     []GeneratorCall

	// Handler answers calls once the queue is empty.
	Handler func(prompt string, opts genai.GenerateOptions) (string, error)
}

type fakeResponse struct {
	text string
	err  error
}

// NewFakeGenerator returns a FakeGenerator that will answer with responses in order.
func NewFakeGenerator(responses ...string) *FakeGenerator {
	f := &FakeGenerator{}
	for _, r := range responses {
		f.responses = append(f.responses, fakeResponse{text: r})
	}
	return f
}

// FailingGenerator returns a FakeGenerator whose every call fails with err.
func FailingGenerator(err error) *FakeGenerator {
	return &FakeGenerator{Handler: func(string, genai.GenerateOptions) (string, error) { return "", err }}
}

// Push queues another successful response.
func (f *FakeGenerator) Push(text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{text: text})
}

// PushJSON queues v marshalled as JSON.
func (f *FakeGenerator) PushJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("testutil: marshal canned response: %v", err))
	}
	f.Push(string(data))
}

// PushError queues a failing response.
func (f *FakeGenerator) PushError(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses = append(f.responses, fakeResponse{err: err})
}

// Generate implements genai.Generator.
func (f *FakeGenerator) Generate(ctx context.Context, prompt string, opts genai.GenerateOptions) (genai.Completion, error) {
	f.mu.Lock()
	f.calls = append(f.calls, GeneratorCall{Prompt: prompt, Opts: opts})
	var next *fakeResponse
	if len(f.responses) > 0 {
		r := f.responses[0]
		f.responses = f.responses[1:]
		next = &r
	}
	handler := f.Handler
	f.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return genai.Completion{}, err
	}
	var text string
	var err error
	switch {
	case next != nil:
		text, err = next.text, next.err
	case handler != nil:
		text, err = handler(prompt, opts)
	default:
		err = ErrNoCannedResponse
	}
	if err != nil {
		return genai.Completion{}, err
	}
	return genai.Completion{
		Text:             text,
		Model:            "fake-model",
		PromptTokens:     int64(len(prompt) / 4),
		CompletionTokens: int64(len(text) / 4),
		Latency:          time.Millisecond,
	}, nil
}

// Calls returns a copy of every recorded call.
func (f *FakeGenerator) Calls() []GeneratorCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]GeneratorCall(nil), f.calls...)
}

// CallCount returns the number of Generate calls so far.
func (f *FakeGenerator) CallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// TestingT is the subset of testing.TB used by the assertion helpers.
type TestingT interface {
	Helper()
	Errorf(format string, args ...interface{})
	Error(args ...interface{})
	Fatalf(format string, args ...interface{})
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TestingT, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TestingT, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
	}

	return response
}

// CreateHTTPRequest creates an HTTP request with optional JSON body for testing.
func CreateHTTPRequest(t testing.TB, method, url string, body interface{}) *http.Request {
	t.Helper()
	reqBody := bytes.NewBuffer(nil)
	if body != nil {
		reqBody = bytes.NewBuffer(MustMarshalJSON(t, body))
	}
	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

// SeedSessions stores n sessions created one minute apart starting at base.
// Every second session is marked completed, every third escaped.
func SeedSessions(t testing.TB, st store.Store, base time.Time, n int) []models.ConversationState {
	t.Helper()
	var out []models.ConversationState
	for i := 0; i < n; i++ {
		created := base.Add(time.Duration(i) * time.Minute)
		s := models.ConversationState{
			SessionID:    fmt.Sprintf("s_seed%02d", i),
			Domain:       "general",
			CurrentStage: models.StageIdeaClarity,
			CreatedAt:    created,
			UpdatedAt:    created.Add(30 * time.Second),
		}
		if i%2 == 1 {
			done := created.Add(10 * time.Minute)
			s.CurrentStage = models.StageCompleted
			s.CompletedAt = &done
			s.OverallProgress = 100
		}
		if i%3 == 2 {
			s.Escape = &models.EscapeRecord{Triggered: true, Stage: models.StageIdeaClarity, Timestamp: created, Reason: "fatigue"}
		}
		if err := st.SaveConversationState(s); err != nil {
			t.Fatalf("failed to seed session %s: %v", s.SessionID, err)
		}
		out = append(out, s)
	}
	return out
}

// MustMarshalJSON marshals an object to JSON and fails test on error.
func MustMarshalJSON(t TestingT, v interface{}) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal JSON: %v", err)
	}
	return data
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TestingT, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}
