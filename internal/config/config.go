package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration.
// Values are loaded from environment variables (and an optional config file)
// with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// HTTP client
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Cache
	CacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// Webhook intake
	WebhookSecret    string
	WebhookTolerance time.Duration
	DetachedTimeout  time.Duration

	// Upstream realtime transport
	OpenAIAPIKeys []string
	OpenAIBaseURL string
	RealtimeModel string
	RealtimeVoice string

	// Session store
	RedisURL        string
	SessionGrace    time.Duration
	SessionTTL      time.Duration
	StoreMaxRetries int

	// Business context
	BusinessAPIURL  string
	BusinessCatalog string
	DemoTokenSecret string
	DemoTokenTTL    time.Duration

	// Availability
	DatabaseURL string

	// Payments
	StripeSecretKey string
	PaymentCurrency string

	// Escalation
	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string
}

var defaults = map[string]any{
	"PORT":                        8080,
	"LOG_LEVEL":                   "info",
	"HTTP_TIMEOUT":                "10s",
	"MAX_RETRIES":                 3,
	"INITIAL_BACKOFF":             "100ms",
	"MAX_CONCURRENCY":             50,
	"CACHE_TTL":                   "5m",
	"OTEL_EXPORTER_OTLP_ENDPOINT": "",
	"WEBHOOK_SECRET":              "",
	"WEBHOOK_TOLERANCE":           "5m",
	"DETACHED_TIMEOUT":            "30s",
	"OPENAI_API_KEYS":             "",
	"OPENAI_BASE_URL":             "https://api.openai.com/v1/",
	"REALTIME_MODEL":              "gpt-realtime",
	"REALTIME_VOICE":              "alloy",
	"REDIS_URL":                   "",
	"SESSION_GRACE":               "10m",
	"SESSION_TTL":                 "2h",
	"STORE_MAX_RETRIES":           5,
	"BUSINESS_API_URL":            "",
	"BUSINESS_CATALOG":            "businesses.toml",
	"DEMO_TOKEN_SECRET":           "",
	"DEMO_TOKEN_TTL":              "24h",
	"DATABASE_URL":                "",
	"STRIPE_SECRET_KEY":           "",
	"PAYMENT_CURRENCY":            "aud",
	"TWILIO_ACCOUNT_SID":          "",
	"TWILIO_AUTH_TOKEN":           "",
	"TWILIO_FROM_NUMBER":          "",
}

// Load reads configuration. A .env file in the working directory is loaded
// first without overriding the process environment; configFile, when set,
// supplies values the environment does not.
func Load(configFile string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	return FromViper(v), nil
}

// FromViper builds a Config from an already-populated viper instance.
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Port:     v.GetInt("PORT"),
		LogLevel: v.GetString("LOG_LEVEL"),

		HTTPTimeout: v.GetDuration("HTTP_TIMEOUT"),

		MaxRetries:     v.GetInt("MAX_RETRIES"),
		InitialBackoff: v.GetDuration("INITIAL_BACKOFF"),
		MaxConcurrency: v.GetInt("MAX_CONCURRENCY"),

		CacheTTL: v.GetDuration("CACHE_TTL"),

		OTLPEndpoint: v.GetString("OTEL_EXPORTER_OTLP_ENDPOINT"),

		WebhookSecret:    v.GetString("WEBHOOK_SECRET"),
		WebhookTolerance: v.GetDuration("WEBHOOK_TOLERANCE"),
		DetachedTimeout:  v.GetDuration("DETACHED_TIMEOUT"),

		OpenAIAPIKeys: splitList(v.GetString("OPENAI_API_KEYS")),
		OpenAIBaseURL: v.GetString("OPENAI_BASE_URL"),
		RealtimeModel: v.GetString("REALTIME_MODEL"),
		RealtimeVoice: v.GetString("REALTIME_VOICE"),

		RedisURL:        v.GetString("REDIS_URL"),
		SessionGrace:    v.GetDuration("SESSION_GRACE"),
		SessionTTL:      v.GetDuration("SESSION_TTL"),
		StoreMaxRetries: v.GetInt("STORE_MAX_RETRIES"),

		BusinessAPIURL:  v.GetString("BUSINESS_API_URL"),
		BusinessCatalog: v.GetString("BUSINESS_CATALOG"),
		DemoTokenSecret: v.GetString("DEMO_TOKEN_SECRET"),
		DemoTokenTTL:    v.GetDuration("DEMO_TOKEN_TTL"),

		DatabaseURL: v.GetString("DATABASE_URL"),

		StripeSecretKey: v.GetString("STRIPE_SECRET_KEY"),
		PaymentCurrency: v.GetString("PAYMENT_CURRENCY"),

		TwilioAccountSID: v.GetString("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:  v.GetString("TWILIO_AUTH_TOKEN"),
		TwilioFromNumber: v.GetString("TWILIO_FROM_NUMBER"),
	}
}

// Validate checks the settings the HTTP server cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if len(c.OpenAIAPIKeys) == 0 {
		errs = append(errs, errors.New("OPENAI_API_KEYS: connection pool is empty"))
	}
	if c.WebhookSecret == "" {
		errs = append(errs, errors.New("WEBHOOK_SECRET is required"))
	}
	if c.StoreMaxRetries < 1 {
		errs = append(errs, errors.New("STORE_MAX_RETRIES must be at least 1"))
	}
	if c.WebhookTolerance <= 0 {
		errs = append(errs, errors.New("WEBHOOK_TOLERANCE must be positive"))
	}
	return errors.Join(errs...)
}

// TwilioEnabled reports whether escalation SMS can be sent.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioAccountSID != "" && c.TwilioAuthToken != "" && c.TwilioFromNumber != ""
}

func splitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
