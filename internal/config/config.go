package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// MetadataPlacement selects where episode metadata goes in the upstream
// create-session payload. The vendor contract shifted between releases, so
// the shape is pinned explicitly instead of probed at runtime.
type MetadataPlacement string

const (
	MetadataOmit     MetadataPlacement = "omit"
	MetadataTopLevel MetadataPlacement = "top_level"
	MetadataSession  MetadataPlacement = "session"
)

// Config contains all runtime settings for the session broker.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	Environment      string

	AllowAnyOrigin bool

	OpenAIAPIKey      string
	OpenAIBaseURL     string
	DefaultWorkflowID string
	MetadataPlacement MetadataPlacement
	CompatFallback    bool

	CookieName   string
	CookieMaxAge time.Duration

	ScriptTimeout time.Duration

	DatabaseURL string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:          envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:  envOrDefault("APP_METRICS_NAMESPACE", "castkit"),
		Environment:       strings.ToLower(envOrDefault("APP_ENV", "development")),
		OpenAIAPIKey:      envTrimmed("OPENAI_API_KEY"),
		OpenAIBaseURL:     envOrDefault("OPENAI_BASE_URL", "https://api.openai.com"),
		DefaultWorkflowID: envTrimmed("CHATKIT_WORKFLOW_ID"),
		MetadataPlacement: MetadataPlacement(strings.ToLower(envOrDefault("CHATKIT_METADATA_PLACEMENT", string(MetadataSession)))),
		CookieName:        envOrDefault("CHATKIT_COOKIE_NAME", "chatkit_session_id"),
		CookieMaxAge:      30 * 24 * time.Hour,
		ScriptTimeout:     5 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		DatabaseURL:       envTrimmed("DATABASE_URL"),
		CompatFallback:    true,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.ScriptTimeout, err = durationFromEnv("APP_SCRIPT_TIMEOUT", cfg.ScriptTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CookieMaxAge, err = durationFromEnv("CHATKIT_COOKIE_MAX_AGE", cfg.CookieMaxAge)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}
	cfg.CompatFallback, err = boolFromEnv("CHATKIT_COMPAT_FALLBACK", cfg.CompatFallback)
	if err != nil {
		return Config{}, err
	}

	switch cfg.Environment {
	case "development", "production", "test":
	default:
		return Config{}, fmt.Errorf("APP_ENV must be development, production or test")
	}
	switch cfg.MetadataPlacement {
	case MetadataOmit, MetadataTopLevel, MetadataSession:
	default:
		return Config{}, fmt.Errorf("CHATKIT_METADATA_PLACEMENT must be omit, top_level or session")
	}
	if cfg.ScriptTimeout < time.Second {
		return Config{}, fmt.Errorf("APP_SCRIPT_TIMEOUT must be at least 1s")
	}
	if cfg.CookieMaxAge < time.Minute {
		return Config{}, fmt.Errorf("CHATKIT_COOKIE_MAX_AGE must be at least 1m")
	}

	return cfg, nil
}

// Production reports whether the broker runs in production mode. It controls
// the cookie Secure flag and debug logging verbosity.
func (c Config) Production() bool {
	return c.Environment == "production"
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func envTrimmed(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := envTrimmed(key)
	if v == "" {
		return fallback, nil
	}
	// Allow bare integers as seconds for parity with cookie Max-Age values.
	if n, err := strconv.Atoi(v); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(envTrimmed(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
