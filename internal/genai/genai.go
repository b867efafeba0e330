// Package genai provides the text-generation port backed by the OpenAI API.
package genai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Default generation settings.
const (
	DefaultModel       = "gpt-4o-mini"
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 2000
	DefaultTimeout     = 30 * time.Second
)

// ErrNoChoicesReturned is returned when the model responds without any choices.
var ErrNoChoicesReturned = errors.New("no choices returned")

// ErrMissingAPIKey is returned by NewClient when no API key is configured.
var ErrMissingAPIKey = errors.New("OPENAI_API_KEY not set")

// GenerateOptions tunes a single generation call. Zero values use the client
// defaults; a nil Temperature keeps the client's, while Float(0) asks for 0.
type GenerateOptions struct {
	Temperature     *float64
	MaxOutputTokens int
	System          string
}

// Completion is the raw text of one generation call plus its accounting.
type Completion struct {
	Text             string
	Model            string
	PromptTokens     int64
	CompletionTokens int64
	Latency          time.Duration
}

// Generator is the text-generation port consumed by the elicitation engine.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts GenerateOptions) (Completion, error)
}

// chatService defines minimal interface for chat completions.
type chatService interface {
	Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error)
}

// openaiChatService adapts the SDK client to chatService.
type openaiChatService struct {
	client openai.Client
}

func (s *openaiChatService) Create(ctx context.Context, params openai.ChatCompletionNewParams) (openai.ChatCompletion, error) {
	resp, err := s.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return openai.ChatCompletion{}, err
	}
	return *resp, nil
}

// Client wraps the OpenAI ChatCompletion service.
type Client struct {
	chat        chatService
	model       string
	temperature float64
	maxTokens   int
	timeout     time.Duration
	debugMode   bool
	stateDir    string
}

// Opts holds configuration options for the GenAI client.
type Opts struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	DebugMode   bool
	StateDir    string
}

// Option defines a function that configures the client options.
type Option func(*Opts)

// WithAPIKey sets the OpenAI API key.
func WithAPIKey(key string) Option {
	return func(o *Opts) { o.APIKey = key }
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(url string) Option {
	return func(o *Opts) { o.BaseURL = url }
}

// WithModel sets the chat model.
func WithModel(model string) Option {
	return func(o *Opts) { o.Model = model }
}

// Float returns a pointer to v for optional GenerateOptions fields.
func Float(v float64) *float64 { return &v }

// WithTemperature sets the default sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *Opts) { o.Temperature = t }
}

// WithMaxTokens sets the default completion token cap.
func WithMaxTokens(n int) Option {
	return func(o *Opts) { o.MaxTokens = n }
}

// WithTimeout bounds each generation call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithDebugMode enables writing every call to <stateDir>/debug.
func WithDebugMode(enabled bool) Option {
	return func(o *Opts) { o.DebugMode = enabled }
}

// WithStateDir sets the directory debug captures are written under.
func WithStateDir(dir string) Option {
	return func(o *Opts) { o.StateDir = dir }
}

// NewClient initializes a new GenAI client. The API key falls back to
// $OPENAI_API_KEY when not supplied as an option.
func NewClient(opts ...Option) (*Client, error) {
	cfg := Opts{
		Model:       DefaultModel,
		Temperature: DefaultTemperature,
		MaxTokens:   DefaultMaxTokens,
		Timeout:     DefaultTimeout,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.APIKey == "" {
		cfg.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.APIKey == "" {
		return nil, ErrMissingAPIKey
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if cfg.BaseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.BaseURL))
	}
	cli := openai.NewClient(reqOpts...)

	slog.Debug("genai.NewClient: client created", "model", cfg.Model, "temperature", cfg.Temperature,
		"maxTokens", cfg.MaxTokens, "timeout", cfg.Timeout, "debug", cfg.DebugMode)
	return &Client{
		chat:        &openaiChatService{client: cli},
		model:       cfg.Model,
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		timeout:     cfg.Timeout,
		debugMode:   cfg.DebugMode,
		stateDir:    cfg.StateDir,
	}, nil
}

// Model returns the configured chat model.
func (c *Client) Model() string { return c.model }

// Generate sends prompt as a single user message and returns the raw reply.
func (c *Client) Generate(ctx context.Context, prompt string, opts GenerateOptions) (Completion, error) {
	if strings.TrimSpace(prompt) == "" {
		return Completion{}, fmt.Errorf("prompt cannot be empty")
	}

	params := c.buildParams(prompt, opts)
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := c.chat.Create(ctx, params)
	latency := time.Since(start)
	if err != nil {
		slog.Error("genai.Generate: chat completion failed", "model", c.model, "latency", latency, "error", err)
		c.writeDebug("Generate", params, nil, err)
		return Completion{Latency: latency}, fmt.Errorf("chat completion: %w", err)
	}
	c.writeDebug("Generate", params, &resp, nil)

	if len(resp.Choices) == 0 {
		slog.Warn("genai.Generate: no choices returned", "model", c.model)
		return Completion{Latency: latency}, ErrNoChoicesReturned
	}

	out := Completion{
		Text:             resp.Choices[0].Message.Content,
		Model:            c.model,
		PromptTokens:     resp.Usage.PromptTokens,
		CompletionTokens: resp.Usage.CompletionTokens,
		Latency:          latency,
	}
	if resp.Model != "" {
		out.Model = resp.Model
	}
	slog.Debug("genai.Generate: completion received", "model", out.Model, "promptTokens", out.PromptTokens,
		"completionTokens", out.CompletionTokens, "latency", latency, "length", len(out.Text))
	return out, nil
}

func (c *Client) buildParams(prompt string, opts GenerateOptions) openai.ChatCompletionNewParams {
	temperature := c.temperature
	if opts.Temperature != nil {
		temperature = *opts.Temperature
	}
	maxTokens := c.maxTokens
	if opts.MaxOutputTokens > 0 {
		maxTokens = opts.MaxOutputTokens
	}

	messages := []openai.ChatCompletionMessageParamUnion{}
	if opts.System != "" {
		messages = append(messages, openai.SystemMessage(opts.System))
	}
	messages = append(messages, openai.UserMessage(prompt))

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(c.model),
		Messages:    messages,
		Temperature: openai.Float(temperature),
	}
	if maxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(maxTokens))
	}
	return params
}

// debugEntry is the on-disk shape of one captured call.
type debugEntry struct {
	Timestamp time.Time                      `json:"timestamp"`
	Method    string                         `json:"method"`
	Model     string                         `json:"model"`
	Params    openai.ChatCompletionNewParams `json:"params"`
	Response  *openai.ChatCompletion         `json:"response"`
	Error     string                         `json:"error,omitempty"`
}

// writeDebug records a call under <stateDir>/debug when debug mode is on.
// Failures are logged and never affect the call result.
func (c *Client) writeDebug(method string, params openai.ChatCompletionNewParams, resp *openai.ChatCompletion, callErr error) {
	if !c.debugMode || c.stateDir == "" {
		return
	}
	dir := filepath.Join(c.stateDir, "debug")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Warn("genai.writeDebug: create debug dir failed", "dir", dir, "error", err)
		return
	}

	now := time.Now()
	entry := debugEntry{Timestamp: now, Method: method, Model: c.model, Params: params, Response: resp}
	if callErr != nil {
		entry.Error = callErr.Error()
	}
	data, err := json.MarshalIndent(entry, "", "  ")
	if err != nil {
		slog.Warn("genai.writeDebug: marshal failed", "error", err)
		return
	}
	name := fmt.Sprintf("%s_%s.json", now.Format("20060102T150405.000000000"), strings.ToLower(method))
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		slog.Warn("genai.writeDebug: write failed", "file", name, "error", err)
	}
}
