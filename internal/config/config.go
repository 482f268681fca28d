// Package config loads gateway configuration from the process environment.
// Everything is read once at startup into an immutable Config; there is no
// hot-reload for these values (the model catalog has its own fsnotify
// overlay, kept separate in internal/catalog).
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the complete set of values the router needs to start serving
// traffic. Zero value is never valid; always construct via Load.
type Config struct {
	RouterAPIKey string

	OpenAIAPIKey    string
	AnthropicAPIKey string
	GoogleAPIKey    string

	RedisURL string

	Host string
	Port int

	ProviderPriority []string

	QueueMaxSize          int
	QueueTimeoutMS        int
	QueueAsyncThresholdMS int

	CBFailureThreshold int
	CBCooldownMS       int

	RateLimitLowRequestsThreshold int
}

// Load reads and validates configuration from the environment. A non-nil
// error here means the process should exit 1 without binding a listener.
func Load() (*Config, error) {
	cfg := &Config{
		Host:                          getEnv("HOST", "0.0.0.0"),
		ProviderPriority:              splitCSV(getEnv("PROVIDER_PRIORITY", "openai,anthropic,google")),
		QueueMaxSize:                  100,
		QueueTimeoutMS:                30000,
		QueueAsyncThresholdMS:         5000,
		CBFailureThreshold:            5,
		CBCooldownMS:                  60000,
		RateLimitLowRequestsThreshold: 5,
	}

	cfg.RouterAPIKey = os.Getenv("ROUTER_API_KEY")
	cfg.OpenAIAPIKey = os.Getenv("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = os.Getenv("ANTHROPIC_API_KEY")
	cfg.GoogleAPIKey = os.Getenv("GOOGLE_API_KEY")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	var err error
	if cfg.Port, err = getEnvInt("PORT", 3000); err != nil {
		return nil, err
	}
	if cfg.QueueMaxSize, err = getEnvInt("QUEUE_MAX_SIZE", 100); err != nil {
		return nil, err
	}
	if cfg.QueueTimeoutMS, err = getEnvInt("QUEUE_TIMEOUT_MS", 30000); err != nil {
		return nil, err
	}
	if cfg.QueueAsyncThresholdMS, err = getEnvInt("QUEUE_ASYNC_THRESHOLD_MS", 5000); err != nil {
		return nil, err
	}
	if cfg.CBFailureThreshold, err = getEnvInt("CB_FAILURE_THRESHOLD", 5); err != nil {
		return nil, err
	}
	if cfg.CBCooldownMS, err = getEnvInt("CB_COOLDOWN_MS", 60000); err != nil {
		return nil, err
	}
	if cfg.RateLimitLowRequestsThreshold, err = getEnvInt("RATE_LIMIT_LOW_REQUESTS_THRESHOLD", 5); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate enforces the required-variable and priority-list invariants
// described for startup failure (exit code 1).
func (c *Config) Validate() error {
	if c.RouterAPIKey == "" {
		return fmt.Errorf("ROUTER_API_KEY is required")
	}
	if c.OpenAIAPIKey == "" && c.AnthropicAPIKey == "" && c.GoogleAPIKey == "" {
		return fmt.Errorf("at least one of OPENAI_API_KEY, ANTHROPIC_API_KEY, GOOGLE_API_KEY is required")
	}
	if len(c.ProviderPriority) == 0 {
		return fmt.Errorf("PROVIDER_PRIORITY cannot be empty")
	}
	for _, vendor := range c.ProviderPriority {
		switch vendor {
		case "openai", "anthropic", "google":
		default:
			return fmt.Errorf("PROVIDER_PRIORITY: unknown vendor %q", vendor)
		}
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	return nil
}

// HasVendor reports whether an API key was supplied for vendor.
func (c *Config) HasVendor(vendor string) bool {
	switch vendor {
	case "openai":
		return c.OpenAIAPIKey != ""
	case "anthropic":
		return c.AnthropicAPIKey != ""
	case "google":
		return c.GoogleAPIKey != ""
	default:
		return false
	}
}

func getEnv(name, def string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return def
}

func getEnvInt(name string, def int) (int, error) {
	v := os.Getenv(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: invalid integer %q", name, v)
	}
	return n, nil
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
