// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	Port              string
	FrontendURL       string
	AppEnv            string
	CatalogPath       string
	SessionCookieName string
	CORSOrigins       []string
	MetricsNamespace  string

	Selection   SelectionConfig
	Persistence PersistenceConfig
	RateLimit   RateLimitConfig
}

// SelectionConfig tunes the selection manager.
type SelectionConfig struct {
	RecentWindow int
	Policy       string // "", "simple" or "engine"
	PolicyN      int    // rotation threshold; values below 1 mean 3
	EngineStrict bool
}

// PersistenceConfig selects the selection-state backend.
type PersistenceConfig struct {
	FileEnabled bool   // DEV_PERSIST_SELECTION
	StateDir    string // DEV_STATE_DIR
	DBEnabled   bool   // DB_PERSIST_SELECTION
	DBPath      string
	DatabaseURL string
}

// RateLimitConfig bounds requests per session (or per IP without one).
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	policyN := getEnvInt("POLICY_N", 3)
	if policyN < 1 {
		policyN = 3
	}

	frontendURL := getEnv("FRONTEND_URL", "")
	cfg := &Config{
		Port:              getEnv("PORT", "8080"),
		FrontendURL:       frontendURL,
		AppEnv:            getEnv("APP_ENV", "development"),
		CatalogPath:       getEnv("CATALOG_PATH", "./data/catalog.json"),
		SessionCookieName: getEnv("SESSION_COOKIE_NAME", "ev3_session"),
		CORSOrigins:       getEnvList("CORS_ORIGINS", defaultOrigins(frontendURL)),
		MetricsNamespace:  getEnv("METRICS_NAMESPACE", "tutor"),
		Selection: SelectionConfig{
			RecentWindow: getEnvInt("RECENT_WINDOW", 5),
			Policy:       strings.ToLower(strings.TrimSpace(getEnv("POLICY", ""))),
			PolicyN:      policyN,
			EngineStrict: getEnvBool("ENGINE_STRICT", false),
		},
		Persistence: PersistenceConfig{
			FileEnabled: getEnvBool("DEV_PERSIST_SELECTION", false),
			StateDir:    getEnv("DEV_STATE_DIR", "./dev_state"),
			DBEnabled:   getEnvBool("DB_PERSIST_SELECTION", false),
			DBPath:      getEnv("DB_PATH", "./dev_state/app.db"),
			DatabaseURL: getEnv("DATABASE_URL", ""),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 60),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.SessionCookieName == "" {
		return fmt.Errorf("SESSION_COOKIE_NAME cannot be empty")
	}
	if c.Selection.RecentWindow <= 0 {
		return fmt.Errorf("RECENT_WINDOW must be > 0")
	}
	switch c.Selection.Policy {
	case "", "simple", "engine":
	default:
		return fmt.Errorf("POLICY must be empty, simple or engine, got %q", c.Selection.Policy)
	}
	if c.Persistence.FileEnabled && c.Persistence.StateDir == "" {
		return fmt.Errorf("DEV_STATE_DIR cannot be empty when DEV_PERSIST_SELECTION is set")
	}
	if c.Persistence.DBEnabled && c.Persistence.DBPath == "" && c.Persistence.DatabaseURL == "" {
		return fmt.Errorf("DB_PATH or DATABASE_URL is required when DB_PERSIST_SELECTION is set")
	}
	if c.RateLimit.Requests <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS must be > 0")
	}
	if c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	if c.AppEnv != "" && c.AppEnv != "development" {
		return false
	}
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

func defaultOrigins(frontendURL string) []string {
	if frontendURL != "" {
		return []string{frontendURL}
	}
	return []string{"http://localhost:5173", "http://127.0.0.1:5173"}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string, fallback []string) []string {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
