package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	CORSAllowedOrigins []string

	CurrencyCode    string
	CurrencyDisplay string

	ShippingFlatRate     int64
	ShippingOfficeFactor float64

	CommissionPerProduct    float64
	CommissionMinimumPayout float64
	CommissionAutoDistrib   bool
	CommissionSplitPolicy   string
	TeamMembers             []string

	OrderNodeID    int64
	IdempotencyTTL time.Duration
	CartTTL        time.Duration

	LockTTL          time.Duration
	LockRetryBackoff time.Duration

	QueuePrefix      string
	QueueMaxAttempts int

	EventStream       string
	EventStreamMaxLen int64

	RateLimitCheckout string
	RateLimitCart     string

	AuditEnabled      bool
	AuditSamplingRate float64

	AnalyticsDefaultDays int
	AnalyticsCacheTTL    time.Duration

	WebhooksEnabled       bool
	WebhookTimeout        time.Duration
	WebhookMaxAttempts    int
	WebhookReplayTTL      time.Duration
	WebhookAllowInsecure  bool
	WebhookBreakerMinReqs int
	WebhookBreakerRatio   float64
	WebhookBreakerOpenFor time.Duration

	BodyLimitBytes  int64
	SecurityHeaders bool
	EnableHSTS      bool
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           strings.TrimSpace(k.String("REDIS_URL")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CurrencyCode:    valueOrDefault(k.String("CURRENCY_CODE"), "DZD"),
		CurrencyDisplay: valueOrDefault(k.String("CURRENCY_DISPLAY"), "DA"),

		ShippingFlatRate:     parseInt64(k.String("SHIPPING_FLAT_RATE"), 400),
		ShippingOfficeFactor: parseFloat(k.String("SHIPPING_OFFICE_FACTOR"), 0.8),

		CommissionPerProduct:    parseFloat(k.String("COMMISSION_PER_PRODUCT"), 300),
		CommissionMinimumPayout: parseFloat(k.String("COMMISSION_MINIMUM_PAYOUT"), 1000),
		CommissionAutoDistrib:   parseBoolDefault(k.String("COMMISSION_AUTO_DISTRIBUTE"), true),
		CommissionSplitPolicy:   strings.ToLower(valueOrDefault(k.String("COMMISSION_SPLIT_POLICY"), "roster")),
		TeamMembers:             splitAndTrim(k.String("TEAM_MEMBERS")),

		OrderNodeID:    parseInt64(k.String("ORDER_NODE_ID"), 1),
		IdempotencyTTL: parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),
		CartTTL:        parseDuration(k.String("CART_TTL"), "168h"),

		LockTTL:          parseDuration(k.String("LOCK_TTL"), "10s"),
		LockRetryBackoff: parseDuration(k.String("LOCK_RETRY_BACKOFF"), "50ms"),

		QueuePrefix:      valueOrDefault(k.String("QUEUE_REDIS_PREFIX"), "tt"),
		QueueMaxAttempts: int(parseInt64(k.String("QUEUE_MAX_ATTEMPTS"), 5)),

		EventStream:       valueOrDefault(k.String("EVENT_STREAM"), "tt:events"),
		EventStreamMaxLen: parseInt64(k.String("EVENT_STREAM_MAXLEN"), 10000),

		RateLimitCheckout: valueOrDefault(k.String("RATE_LIMIT_CHECKOUT"), "10-M"),
		RateLimitCart:     valueOrDefault(k.String("RATE_LIMIT_CART"), "120-M"),

		AuditEnabled:      parseBoolDefault(k.String("AUDIT_ENABLED"), true),
		AuditSamplingRate: parseFloat(k.String("AUDIT_SAMPLING_RATE"), 1),

		AnalyticsDefaultDays: int(parseInt64(k.String("ANALYTICS_DEFAULT_DAYS"), 30)),
		AnalyticsCacheTTL:    parseDuration(k.String("ANALYTICS_CACHE_TTL"), "30s"),

		WebhooksEnabled:       parseBoolDefault(k.String("WEBHOOKS_ENABLED"), true),
		WebhookTimeout:        parseDuration(k.String("WEBHOOK_TIMEOUT"), "5s"),
		WebhookMaxAttempts:    int(parseInt64(k.String("WEBHOOK_MAX_ATTEMPTS"), 3)),
		WebhookReplayTTL:      parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),
		WebhookAllowInsecure:  parseBoolDefault(k.String("WEBHOOK_ALLOW_INSECURE"), false),
		WebhookBreakerMinReqs: int(parseInt64(k.String("WEBHOOK_BREAKER_MIN_REQUESTS"), 5)),
		WebhookBreakerRatio:   parseFloat(k.String("WEBHOOK_BREAKER_FAILURE_RATIO"), 0.5),
		WebhookBreakerOpenFor: parseDuration(k.String("WEBHOOK_BREAKER_OPEN_FOR"), "30s"),

		BodyLimitBytes:  parseInt64(k.String("BODY_LIMIT_BYTES"), 1<<20),
		SecurityHeaders: parseBoolDefault(k.String("SECURITY_HEADERS"), true),
		EnableHSTS:      parseBoolDefault(k.String("SECURITY_HSTS"), false),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.ShippingFlatRate < 0 {
		errs = append(errs, errors.New("SHIPPING_FLAT_RATE must not be negative"))
	}
	if c.ShippingOfficeFactor <= 0 || c.ShippingOfficeFactor > 1 {
		errs = append(errs, errors.New("SHIPPING_OFFICE_FACTOR must be in (0, 1]"))
	}
	if c.CommissionPerProduct < 0 || c.CommissionMinimumPayout < 0 {
		errs = append(errs, errors.New("commission amounts must not be negative"))
	}
	switch c.CommissionSplitPolicy {
	case "roster", "active":
	default:
		errs = append(errs, fmt.Errorf("COMMISSION_SPLIT_POLICY %q must be roster or active", c.CommissionSplitPolicy))
	}
	if c.WebhookBreakerRatio <= 0 || c.WebhookBreakerRatio > 1 {
		errs = append(errs, errors.New("WEBHOOK_BREAKER_FAILURE_RATIO must be in (0, 1]"))
	}
	if c.AuditSamplingRate < 0 || c.AuditSamplingRate > 1 {
		errs = append(errs, errors.New("AUDIT_SAMPLING_RATE must be in [0, 1]"))
	}
	if c.OrderNodeID < 0 || c.OrderNodeID > 1023 {
		errs = append(errs, errors.New("ORDER_NODE_ID must be between 0 and 1023"))
	}
	return errors.Join(errs...)
}

// HasRedis reports whether a Redis URL is configured.
func (c *Config) HasRedis() bool {
	return c.RedisURL != ""
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
		return strings.TrimSpace(value)
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

func parseInt64(value string, fallback int64) int64 {
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseBoolDefault(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
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
