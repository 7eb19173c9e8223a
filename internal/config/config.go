package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	RedisURL    string

	// PayPal credentials and environment.
	PayPalEnvironment  string
	PayPalBaseURL      string
	PayPalClientID     string
	PayPalClientSecret string
	PayPalWebhookID    string
	// CustomerIDPrefix namespaces local customer ids inside the ids the
	// provider reports on vault events.
	CustomerIDPrefix string

	RequestTimeout   time.Duration
	TokenMargin      time.Duration
	ReplayTTL        time.Duration
	OnboardingTTL    time.Duration
	OnboardingReturn string

	// VerificationExemptEvents lists event types whose deliveries skip
	// signature verification (simulator traffic, typically empty in prod).
	VerificationExemptEvents []string

	WebhookRatePerMinute int
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:                   valueOrDefault(k.String("APP_ENV"), "development"),
		Port:                     valueOrDefault(k.String("PORT"), "8080"),
		DatabaseURL:              k.String("DATABASE_URL"),
		RedisURL:                 k.String("REDIS_URL"),
		PayPalEnvironment:        valueOrDefault(k.String("PAYPAL_ENVIRONMENT"), "sandbox"),
		PayPalBaseURL:            strings.TrimSpace(k.String("PAYPAL_BASE_URL")),
		PayPalClientID:           k.String("PAYPAL_CLIENT_ID"),
		PayPalClientSecret:       k.String("PAYPAL_CLIENT_SECRET"),
		PayPalWebhookID:          k.String("PAYPAL_WEBHOOK_ID"),
		CustomerIDPrefix:         valueOrDefault(k.String("CUSTOMER_ID_PREFIX"), "PROVIDER-"),
		RequestTimeout:           parseDuration(k.String("PAYPAL_REQUEST_TIMEOUT"), "10s"),
		TokenMargin:              parseDuration(k.String("PAYPAL_TOKEN_MARGIN"), "30s"),
		ReplayTTL:                parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		OnboardingTTL:            parseDuration(k.String("ONBOARDING_URL_TTL"), "1h"),
		OnboardingReturn:         strings.TrimSpace(k.String("ONBOARDING_RETURN_URL")),
		VerificationExemptEvents: splitAndTrim(k.String("WEBHOOK_VERIFY_EXEMPT_EVENTS")),
		WebhookRatePerMinute:     intOrDefault(k.Int("WEBHOOK_RATE_PER_MINUTE"), 600),
	}

	if cfg.PayPalBaseURL == "" {
		if cfg.PayPalEnvironment == "production" || cfg.PayPalEnvironment == "live" {
			cfg.PayPalBaseURL = "https://api-m.paypal.com"
		} else {
			cfg.PayPalBaseURL = "https://api-m.sandbox.paypal.com"
		}
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.PayPalClientID == "" || cfg.PayPalClientSecret == "" {
		return nil, errors.New("PAYPAL_CLIENT_ID and PAYPAL_CLIENT_SECRET are required")
	}
	if cfg.PayPalWebhookID == "" {
		return nil, errors.New("PAYPAL_WEBHOOK_ID is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(envs map[string]string) (*Config, error) {
	original := make(map[string]string, len(envs))
	for key := range envs {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, envs[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
