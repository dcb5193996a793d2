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
	DatabaseURL        string
	RedisURL           string
	CORSAllowedOrigins []string

	// eSewa merchant contract. The signed-field list and success codes are
	// gateway-owned and therefore configurable, not constants.
	EsewaMerchantCode  string
	EsewaMerchantEmail string
	EsewaSecretKey     string
	EsewaBaseURL       string
	EsewaVerifyPath    string
	EsewaVerifyTimeout time.Duration
	EsewaSuccessCodes  []string
	EsewaSignedFields  []string

	PublicBaseURL    string
	ReceiptBaseURL   string
	PaymentErrorPath string

	CurrencyCode      string
	PricingTaxRateBPS int

	OrderNumberSalt   string
	OrderNumberPrefix string

	NotifyReplayTTL  time.Duration
	NotifyRateWindow time.Duration
	NotifyRateMax    int

	MigrationsEnabled bool
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
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		EsewaMerchantCode:  strings.TrimSpace(k.String("ESEWA_MERCHANT_CODE")),
		EsewaMerchantEmail: strings.TrimSpace(k.String("ESEWA_MERCHANT_EMAIL")),
		EsewaSecretKey:     k.String("ESEWA_SECRET_KEY"),
		EsewaBaseURL:       valueOrDefault(k.String("ESEWA_BASE_URL"), "https://rc-epay.esewa.com.np"),
		EsewaVerifyPath:    valueOrDefault(k.String("ESEWA_VERIFY_PATH"), "/api/epay/transaction/status"),
		EsewaVerifyTimeout: parseDuration(k.String("ESEWA_VERIFY_TIMEOUT"), "10s"),
		EsewaSuccessCodes:  splitAndTrimDefault(k.String("ESEWA_SUCCESS_CODES"), []string{"100", "111"}),
		EsewaSignedFields:  splitAndTrimDefault(k.String("ESEWA_SIGNED_FIELDS"), []string{"total_amount", "transaction_uuid", "product_code"}),

		PublicBaseURL:    valueOrDefault(k.String("PUBLIC_BASE_URL"), "http://localhost:8080"),
		ReceiptBaseURL:   k.String("RECEIPT_BASE_URL"),
		PaymentErrorPath: valueOrDefault(k.String("PAYMENT_ERROR_PATH"), "/checkout/error"),

		CurrencyCode:      valueOrDefault(k.String("CURRENCY_CODE"), "NPR"),
		PricingTaxRateBPS: k.Int("PRICING_TAX_RATE_BPS"),

		OrderNumberSalt:   k.String("ORDER_NUMBER_SALT"),
		OrderNumberPrefix: valueOrDefault(k.String("ORDER_NUMBER_PREFIX"), "ESW"),

		NotifyReplayTTL:  parseDuration(k.String("NOTIFY_REPLAY_TTL"), "24h"),
		NotifyRateWindow: parseDuration(k.String("NOTIFY_RATE_WINDOW"), "1m"),
		NotifyRateMax:    intOrDefault(k.String("NOTIFY_RATE_MAX"), 120),

		MigrationsEnabled: parseBool(valueOrDefault(k.String("MIGRATIONS_ENABLED"), "true")),
	}

	if cfg.ReceiptBaseURL == "" {
		cfg.ReceiptBaseURL = strings.TrimRight(cfg.PublicBaseURL, "/") + "/checkout/receipt"
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.EsewaMerchantCode == "" {
		return nil, errors.New("ESEWA_MERCHANT_CODE is required")
	}
	if cfg.EsewaSecretKey == "" {
		return nil, errors.New("ESEWA_SECRET_KEY is required")
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

// PaymentErrorURL returns the absolute URL of the generic payment-error page.
func (c *Config) PaymentErrorURL() string {
	return strings.TrimRight(c.PublicBaseURL, "/") + "/" + strings.TrimLeft(c.PaymentErrorPath, "/")
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

func splitAndTrimDefault(value string, fallback []string) []string {
	parsed := splitAndTrim(value)
	if len(parsed) == 0 {
		return fallback
	}
	return parsed
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

// intOrDefault falls back only when the variable is unset or unparseable.
// An explicit 0 is preserved, which is how the notify rate limit is disabled.
func intOrDefault(value string, fallback int) int {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return fallback
	}
	n, err := strconv.Atoi(trimmed)
	if err != nil {
		return fallback
	}
	return n
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

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
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
