// Command ElicitPipe runs the requirements-elicitation interview engine,
// either as an HTTP API or as an MCP server on stdio.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/mark3labs/mcp-go/server"

	"github.com/BTreeMap/ElicitPipe/internal/analytics"
	"github.com/BTreeMap/ElicitPipe/internal/api"
	"github.com/BTreeMap/ElicitPipe/internal/flow"
	"github.com/BTreeMap/ElicitPipe/internal/genai"
	"github.com/BTreeMap/ElicitPipe/internal/lockfile"
	"github.com/BTreeMap/ElicitPipe/internal/mcptools"
	"github.com/BTreeMap/ElicitPipe/internal/messaging"
	"github.com/BTreeMap/ElicitPipe/internal/metrics"
	"github.com/BTreeMap/ElicitPipe/internal/session"
	"github.com/BTreeMap/ElicitPipe/internal/store"
	"github.com/BTreeMap/ElicitPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for ElicitPipe state data
	DefaultStateDir = "/var/lib/elicitpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "elicitpipe.db"
	// DefaultOutboxInterval is how often queued messages are polled for delivery
	DefaultOutboxInterval = 5 * time.Second
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	// Bootstrap logger until flags are parsed
	initializeLogger(os.Stderr, slog.LevelInfo, false)

	config := loadEnvironmentConfig()
	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		slog.Error("Failed to parse flags", "error", err)
		os.Exit(2)
	}

	// Stdout carries the MCP protocol, so logs always go to stderr there.
	var logOut io.Writer = os.Stdout
	if flags.mcp {
		logOut = os.Stderr
	}
	initializeLogger(logOut, parseLogLevel(flags.logLevel), flags.logJSON)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("ElicitPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("ElicitPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir       string
	DatabaseURL    string
	OpenAIKey      string
	OpenAIBaseURL  string
	Model          string
	Temperature    float64
	MaxTokens      int
	GenAITimeout   time.Duration
	GenAIDebug     bool
	APIAddr        string
	IdleTimeout    time.Duration
	MaxLifetime    time.Duration
	OutboxInterval time.Duration
	TwilioSID      string
	TwilioToken    string
	TwilioFrom     string
	TwilioWhatsApp bool
	LogLevel       string
}

// Flags holds command line flag values
type Flags struct {
	mcp            bool
	stateDir       string
	dbDSN          string
	openaiKey      string
	openaiBaseURL  string
	model          string
	temperature    float64
	maxTokens      int
	genaiTimeout   time.Duration
	genaiDebug     bool
	apiAddr        string
	idleTimeout    time.Duration
	maxLifetime    time.Duration
	outboxInterval time.Duration
	twilioSID      string
	twilioToken    string
	twilioFrom     string
	twilioWhatsApp bool
	logLevel       string
	logJSON        bool
}

// initializeLogger sets up structured logging at level, as text or JSON.
func initializeLogger(w io.Writer, level slog.Level, asJSON bool) {
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if asJSON {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// parseLogLevel maps a level name to a slog.Level, defaulting to info.
func parseLogLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:       util.GetEnv("ELICIT_STATE_DIR", DefaultStateDir),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		OpenAIKey:      os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:  os.Getenv("OPENAI_BASE_URL"),
		Model:          os.Getenv("GENAI_MODEL"),
		Temperature:    util.ParseFloatEnv("GENAI_TEMPERATURE", 0),
		MaxTokens:      util.ParseIntEnv("GENAI_MAX_TOKENS", 0),
		GenAITimeout:   util.ParseDurationEnv("GENAI_TIMEOUT", 0),
		GenAIDebug:     util.ParseBoolEnv("GENAI_DEBUG", false),
		APIAddr:        os.Getenv("API_ADDR"),
		IdleTimeout:    util.ParseDurationEnv("SESSION_IDLE_TIMEOUT", 0),
		MaxLifetime:    util.ParseDurationEnv("SESSION_MAX_LIFETIME", 0),
		OutboxInterval: util.ParseDurationEnv("OUTBOX_POLL_INTERVAL", DefaultOutboxInterval),
		TwilioSID:      os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		TwilioFrom:     os.Getenv("TWILIO_FROM_NUMBER"),
		TwilioWhatsApp: util.ParseBoolEnv("TWILIO_WHATSAPP", false),
		LogLevel:       util.GetEnv("ELICIT_LOG_LEVEL", "info"),
	}

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No DATABASE_URL provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"ELICIT_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_BASE_URL", config.OpenAIBaseURL,
		"GENAI_MODEL", config.Model,
		"API_ADDR", config.APIAddr,
		"TWILIO_ACCOUNT_SID_SET", config.TwilioSID != "",
		"TWILIO_WHATSAPP", config.TwilioWhatsApp)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("elicitpipe", flag.ContinueOnError)
	fs.BoolVar(&flags.mcp, "mcp", false, "serve the elicitation tools over MCP stdio instead of HTTP")
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for ElicitPipe data (overrides $ELICIT_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.DatabaseURL, "database DSN, SQLite path or PostgreSQL URL (overrides $DATABASE_URL)")
	fs.StringVar(&flags.openaiKey, "openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)")
	fs.StringVar(&flags.openaiBaseURL, "openai-base-url", config.OpenAIBaseURL, "OpenAI-compatible endpoint (overrides $OPENAI_BASE_URL)")
	fs.StringVar(&flags.model, "model", config.Model, "chat model (overrides $GENAI_MODEL)")
	fs.Float64Var(&flags.temperature, "temperature", config.Temperature, "default sampling temperature, 0 keeps the client default (overrides $GENAI_TEMPERATURE)")
	fs.IntVar(&flags.maxTokens, "max-tokens", config.MaxTokens, "default completion token cap, 0 keeps the client default (overrides $GENAI_MAX_TOKENS)")
	fs.DurationVar(&flags.genaiTimeout, "genai-timeout", config.GenAITimeout, "per-call generation timeout (overrides $GENAI_TIMEOUT)")
	fs.BoolVar(&flags.genaiDebug, "genai-debug", config.GenAIDebug, "write every generation call under <state-dir>/debug (overrides $GENAI_DEBUG)")
	fs.StringVar(&flags.apiAddr, "api-addr", config.APIAddr, "API server address (overrides $API_ADDR)")
	fs.DurationVar(&flags.idleTimeout, "session-idle-timeout", config.IdleTimeout, "evict cached sessions idle this long (overrides $SESSION_IDLE_TIMEOUT)")
	fs.DurationVar(&flags.maxLifetime, "session-max-lifetime", config.MaxLifetime, "evict cached sessions older than this (overrides $SESSION_MAX_LIFETIME)")
	fs.DurationVar(&flags.outboxInterval, "outbox-interval", config.OutboxInterval, "outbox poll interval (overrides $OUTBOX_POLL_INTERVAL)")
	fs.StringVar(&flags.twilioSID, "twilio-account-sid", config.TwilioSID, "Twilio account SID (overrides $TWILIO_ACCOUNT_SID)")
	fs.StringVar(&flags.twilioToken, "twilio-auth-token", config.TwilioToken, "Twilio auth token (overrides $TWILIO_AUTH_TOKEN)")
	fs.StringVar(&flags.twilioFrom, "twilio-from", config.TwilioFrom, "Twilio sender number (overrides $TWILIO_FROM_NUMBER)")
	fs.BoolVar(&flags.twilioWhatsApp, "twilio-whatsapp", config.TwilioWhatsApp, "send through Twilio's WhatsApp channel (overrides $TWILIO_WHATSAPP)")
	fs.StringVar(&flags.logLevel, "log-level", config.LogLevel, "log level: debug, info, warn or error (overrides $ELICIT_LOG_LEVEL)")
	fs.BoolVar(&flags.logJSON, "log-json", false, "emit JSON logs")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	// Follow a changed state directory when the DSN is still the default SQLite path
	if flags.dbDSN == filepath.Join(config.StateDir, DefaultDBFileName) && flags.stateDir != config.StateDir {
		flags.dbDSN = filepath.Join(flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "new_state_dir", flags.stateDir)
	}

	slog.Debug("flags parsed",
		"mcp", flags.mcp,
		"stateDir", flags.stateDir,
		"dbType", store.DetectDSNType(flags.dbDSN),
		"openaiKeySet", flags.openaiKey != "",
		"apiAddr", flags.apiAddr,
		"twilio", flags.twilioSID != "")

	return flags, nil
}

// ensureDirectoriesExist creates the parent directory of a file-based DSN
func ensureDirectoriesExist(flags Flags) error {
	if store.DetectDSNType(flags.dbDSN) == "postgres" {
		return nil
	}
	dir := filepath.Dir(flags.dbDSN)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("Failed to create database directory", "error", err, "dir", dir)
		return err
	}
	return nil
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var opts []genai.Option
	if flags.openaiKey != "" {
		opts = append(opts, genai.WithAPIKey(flags.openaiKey))
	}
	if flags.openaiBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(flags.openaiBaseURL))
	}
	if flags.model != "" {
		opts = append(opts, genai.WithModel(flags.model))
	}
	if flags.temperature > 0 {
		opts = append(opts, genai.WithTemperature(flags.temperature))
	}
	if flags.maxTokens > 0 {
		opts = append(opts, genai.WithMaxTokens(flags.maxTokens))
	}
	if flags.genaiTimeout > 0 {
		opts = append(opts, genai.WithTimeout(flags.genaiTimeout))
	}
	if flags.genaiDebug {
		opts = append(opts, genai.WithDebugMode(true), genai.WithStateDir(flags.stateDir))
	}
	return opts
}

// buildRegistryOptions constructs session cache options
func buildRegistryOptions(flags Flags) []session.Option {
	var opts []session.Option
	if flags.idleTimeout > 0 {
		opts = append(opts, session.WithIdleTimeout(flags.idleTimeout))
	}
	if flags.maxLifetime > 0 {
		opts = append(opts, session.WithMaxLifetime(flags.maxLifetime))
	}
	return opts
}

// buildTwilioOptions returns nil when Twilio is not configured.
func buildTwilioOptions(flags Flags) []messaging.TwilioOption {
	if flags.twilioSID == "" && flags.twilioToken == "" {
		return nil
	}
	return []messaging.TwilioOption{
		messaging.WithAccountSID(flags.twilioSID),
		messaging.WithAuthToken(flags.twilioToken),
		messaging.WithFromNumber(flags.twilioFrom),
		messaging.WithWhatsApp(flags.twilioWhatsApp),
	}
}

// buildChannel picks Twilio when configured and logs messages otherwise.
func buildChannel(flags Flags) (messaging.Channel, error) {
	twOpts := buildTwilioOptions(flags)
	if twOpts == nil {
		slog.Info("No Twilio credentials configured, outbound messages will be logged")
		return messaging.NewLogChannel(), nil
	}
	return messaging.NewTwilioChannel(twOpts...)
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, ch messaging.Channel) []api.Option {
	var opts []api.Option
	if flags.apiAddr != "" {
		opts = append(opts, api.WithAddr(flags.apiAddr))
	}
	if ch != nil {
		opts = append(opts, api.WithChannel(ch))
	}
	return opts
}

func runMode(flags Flags) string {
	if flags.mcp {
		return "mcp"
	}
	return "http"
}

// run wires the modules together and blocks until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	slog.Info("Bootstrapping ElicitPipe", "version", version, "mode", runMode(flags))

	lock, err := lockfile.Acquire(flags.stateDir, lockfile.Owner{Mode: runMode(flags), Addr: flags.apiAddr})
	if err != nil {
		return err
	}
	defer lock.Release()

	if err := ensureDirectoriesExist(flags); err != nil {
		return err
	}

	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	if err != nil {
		if errors.Is(err, genai.ErrMissingAPIKey) {
			return fmt.Errorf("an OpenAI API key is required (set OPENAI_API_KEY or -openai-api-key): %w", err)
		}
		return fmt.Errorf("create genai client: %w", err)
	}

	m := metrics.New()
	engine := flow.NewEngine(metrics.InstrumentGenerator(client, m))

	if flags.mcp {
		slog.Info("Serving elicitation tools over MCP stdio")
		return server.ServeStdio(mcptools.NewServer(engine, version))
	}

	st, err := store.New(flags.dbDSN)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	registry := session.NewRegistry(buildRegistryOptions(flags)...)
	go registry.Run(ctx)
	m.TrackActiveSessions(registry.Len)

	ch, err := buildChannel(flags)
	if err != nil {
		return fmt.Errorf("create messaging channel: %w", err)
	}
	sender := store.NewOutboxSender(st, messaging.SendFunc(ch), flags.outboxInterval)
	if err := sender.RecoverStaleMessages(); err != nil {
		slog.Warn("Failed to recover stale outbox messages", "error", err)
	}
	go sender.Run(ctx)

	conversation := flow.NewConversationFlow(engine, st, registry, flow.WithRecorder(m))
	srv := api.NewServer(conversation, analytics.NewAggregator(st), m, buildAPIOptions(flags, ch)...)
	return srv.Run(ctx)
}
