package config

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config holds all runtime configuration for the StoryLine server.
// Precedence: CLI flags > env vars > defaults.
type Config struct {
	DataDir      string
	HTTPPort     int
	LogLevel     string
	LogFormat    string // "text" or "json"
	SessionDBURL string // PostgreSQL DSN for the shared session store; empty = in-memory

	// Dialog engine tunables.
	FreeTierQuota   int           // free stories per phone number per calendar month
	MaxRetries      int           // re-prompts per state before degrading or ending
	RecentExclude   int           // last-N played stories excluded from selection
	SessionTTL      time.Duration // inactivity window before a dialog session expires
	TurnTimeoutSec  int           // caller input timeout declared to the transport, per turn
	MinChildAge     int
	MaxChildAge     int
	DefaultLanguage string

	// AI story generation (OpenAI-compatible endpoint; disabled when the key
	// is empty and no base URL points at a local server).
	AIStories    bool
	OpenAIAPIKey string
	OpenAIBase   string
	OpenAIModel  string

	// Transport webhook signature validation. Empty disables validation.
	TwilioAuthToken string
	WebhookBaseURL  string

	// Admin API.
	JWTSecret   string // hex-encoded 32-byte secret; auto-generated if empty
	CORSOrigins string
}

// defaults
const (
	defaultDataDir        = "./data"
	defaultHTTPPort       = 8080
	defaultLogLevel       = "info"
	defaultLogFormat      = "text"
	defaultFreeTierQuota  = 3
	defaultMaxRetries     = 2
	defaultRecentExclude  = 3
	defaultSessionTTL     = 5 * time.Minute
	defaultTurnTimeout    = 10
	defaultMinChildAge    = 2
	defaultMaxChildAge    = 12
	defaultLanguage       = "en"
	defaultOpenAIModel    = "gpt-4o-mini"
	defaultWebhookBaseURL = "http://localhost:8080"
)

// envPrefix is the prefix for all StoryLine environment variables.
const envPrefix = "STORYLINE_"

// Load parses configuration from CLI flags and environment variables.
// Precedence: CLI flags > env vars > defaults.
func Load() (*Config, error) {
	return load(os.Args[1:])
}

func load(args []string) (*Config, error) {
	cfg := &Config{}

	fs := flag.NewFlagSet("storyline", flag.ContinueOnError)

	fs.StringVar(&cfg.DataDir, "data-dir", defaultDataDir, "data directory for the SQLite database")
	fs.IntVar(&cfg.HTTPPort, "http-port", defaultHTTPPort, "HTTP server listen port")
	fs.StringVar(&cfg.LogLevel, "log-level", defaultLogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&cfg.LogFormat, "log-format", defaultLogFormat, "log output format (text, json)")
	fs.StringVar(&cfg.SessionDBURL, "session-db-url", "", "PostgreSQL DSN for the shared dialog session store (empty = in-memory)")
	fs.IntVar(&cfg.FreeTierQuota, "free-tier-quota", defaultFreeTierQuota, "free stories per phone number per calendar month")
	fs.IntVar(&cfg.MaxRetries, "max-retries", defaultMaxRetries, "invalid-input re-prompts per dialog state before giving up")
	fs.IntVar(&cfg.RecentExclude, "recent-exclude", defaultRecentExclude, "number of recently played stories excluded from selection")
	fs.DurationVar(&cfg.SessionTTL, "session-ttl", defaultSessionTTL, "dialog session inactivity expiry")
	fs.IntVar(&cfg.TurnTimeoutSec, "turn-timeout", defaultTurnTimeout, "caller input timeout in seconds per turn")
	fs.IntVar(&cfg.MinChildAge, "min-child-age", defaultMinChildAge, "minimum accepted child age during registration")
	fs.IntVar(&cfg.MaxChildAge, "max-child-age", defaultMaxChildAge, "maximum accepted child age during registration")
	fs.StringVar(&cfg.DefaultLanguage, "default-language", defaultLanguage, "language used when the caller makes no selection")
	fs.BoolVar(&cfg.AIStories, "ai-stories", false, "enable AI story generation")
	fs.StringVar(&cfg.OpenAIAPIKey, "openai-api-key", "", "API key for the OpenAI-compatible story generator")
	fs.StringVar(&cfg.OpenAIBase, "openai-base-url", "", "base URL for an OpenAI-compatible server (e.g. a local model)")
	fs.StringVar(&cfg.OpenAIModel, "openai-model", defaultOpenAIModel, "model used for AI story generation")
	fs.StringVar(&cfg.TwilioAuthToken, "twilio-auth-token", "", "auth token for validating webhook signatures (empty disables validation)")
	fs.StringVar(&cfg.WebhookBaseURL, "webhook-base-url", defaultWebhookBaseURL, "public base URL used in webhook action attributes")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", "", "hex-encoded 32-byte secret for admin API JWT signing (auto-generated if empty)")
	fs.StringVar(&cfg.CORSOrigins, "cors-origins", "", "comma-separated list of allowed CORS origins (use * for all)")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("parsing flags: %w", err)
	}

	// Apply env var overrides for any flags not explicitly set on the command
	// line. CLI flags take precedence over env vars.
	applyEnvOverrides(fs)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// applyEnvOverrides checks environment variables for any flag that was not
// explicitly provided on the command line. Env var names are derived from
// flag names: "free-tier-quota" becomes STORYLINE_FREE_TIER_QUOTA.
func applyEnvOverrides(fs *flag.FlagSet) {
	set := make(map[string]bool)
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = true
	})

	fs.VisitAll(func(f *flag.Flag) {
		if set[f.Name] {
			return
		}
		envVar := envPrefix + strings.ToUpper(strings.ReplaceAll(f.Name, "-", "_"))
		val, ok := os.LookupEnv(envVar)
		if !ok || val == "" {
			return
		}
		if err := fs.Set(f.Name, val); err != nil {
			slog.Warn("ignoring invalid env override", "var", envVar, "value", val, "error", err)
		}
	})
}

// validate checks that the config values are sane.
func (c *Config) validate() error {
	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("http-port must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.FreeTierQuota < 0 {
		return fmt.Errorf("free-tier-quota must be >= 0, got %d", c.FreeTierQuota)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("max-retries must be >= 0, got %d", c.MaxRetries)
	}
	if c.RecentExclude < 0 {
		return fmt.Errorf("recent-exclude must be >= 0, got %d", c.RecentExclude)
	}
	if c.SessionTTL < time.Minute {
		return fmt.Errorf("session-ttl must be at least 1m, got %s", c.SessionTTL)
	}
	if c.TurnTimeoutSec < 1 || c.TurnTimeoutSec > 60 {
		return fmt.Errorf("turn-timeout must be between 1 and 60 seconds, got %d", c.TurnTimeoutSec)
	}
	if c.MinChildAge < 0 || c.MaxChildAge > 17 || c.MinChildAge > c.MaxChildAge {
		return fmt.Errorf("child age range must satisfy 0 <= min <= max <= 17, got %d..%d", c.MinChildAge, c.MaxChildAge)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log-level must be one of debug, info, warn, error; got %q", c.LogLevel)
	}
	c.LogLevel = strings.ToLower(c.LogLevel)

	validFormats := map[string]bool{"text": true, "json": true}
	if !validFormats[strings.ToLower(c.LogFormat)] {
		return fmt.Errorf("log-format must be one of text, json; got %q", c.LogFormat)
	}
	c.LogFormat = strings.ToLower(c.LogFormat)

	if c.AIStories && c.OpenAIAPIKey == "" && c.OpenAIBase == "" {
		return fmt.Errorf("ai-stories requires openai-api-key or openai-base-url")
	}

	c.WebhookBaseURL = strings.TrimRight(c.WebhookBaseURL, "/")

	return nil
}

// JWTSecretBytes returns the decoded 32-byte JWT signing secret.
// If no secret is configured, it generates a random 32-byte key and stores
// the hex-encoded value back in the config for the process lifetime.
func (c *Config) JWTSecretBytes() ([]byte, error) {
	if c.JWTSecret == "" {
		key := make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating jwt secret: %w", err)
		}
		c.JWTSecret = hex.EncodeToString(key)
		slog.Warn("no jwt-secret configured, generated ephemeral key (tokens will not survive restart)")
		return key, nil
	}
	key, err := hex.DecodeString(c.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("decoding jwt secret: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("jwt secret must decode to 32 bytes, got %d", len(key))
	}
	return key, nil
}

// SlogHandler returns a slog.Handler configured with the appropriate format
// (text or json) and log level.
func (c *Config) SlogHandler(w *os.File) slog.Handler {
	opts := &slog.HandlerOptions{Level: c.SlogLevel()}
	if c.LogFormat == "json" {
		return slog.NewJSONHandler(w, opts)
	}
	return slog.NewTextHandler(w, opts)
}

// SlogLevel returns the slog.Level corresponding to the configured log level.
func (c *Config) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
