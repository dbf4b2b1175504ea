package config

import (
	"fmt"
	"net/netip"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minJWTSecretBytes = 32

type Config struct {
	ServerPort         string
	ServerReadTimeout  time.Duration
	ServerWriteTimeout time.Duration
	ServerIdleTimeout  time.Duration
	RequestTimeout     time.Duration

	DatabaseURL string
	DBMaxConns  int32
	DBMinConns  int32
	AutoMigrate bool

	JWTSecret        string
	JWTIssuer        string
	JWTAccessTTL     time.Duration
	JWTRefreshTTL    time.Duration
	EmailVerifyTTL   time.Duration
	PasswordResetTTL time.Duration

	BcryptCost        int
	PasswordMinLength int

	RegisterIssuesTokens bool
	RequireVerifiedLogin bool

	RateLimitPerMinute      int
	AuthRateLimitPerMinute  int
	LoginAttemptsPerAccount int
	RateLimitWindow         time.Duration
	RateLimitStore          string
	RateLimitStoreTimeout   time.Duration
	RateLimitFailurePolicy  string

	StoreTimeout     time.Duration
	StoreReadRetries int
	StoreRetryBase   time.Duration

	MailDriver      string
	SMTPHost        string
	SMTPPort        int
	SMTPUser        string
	SMTPPassword    string
	MailFrom        string
	MailSendTimeout time.Duration
	AppBaseURL      string

	CleanupInterval       time.Duration
	OneTimeTokenRetention time.Duration

	CORSOrigins    []string
	TrustedProxies []string
	MetricsEnabled bool
	LogLevel       string
	LogFormat      string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := FromEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// FromEnv reads the environment without validating it.
func FromEnv() *Config {
	return &Config{
		ServerPort:         getEnv("SERVER_PORT", "8080"),
		ServerReadTimeout:  getDuration("SERVER_READ_TIMEOUT", 15*time.Second),
		ServerWriteTimeout: getDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
		ServerIdleTimeout:  getDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		RequestTimeout:     getDuration("REQUEST_TIMEOUT", 30*time.Second),

		DatabaseURL: strings.TrimSpace(os.Getenv("DATABASE_URL")),
		DBMaxConns:  int32(getInt("DB_MAX_CONNS", 10)),
		DBMinConns:  int32(getInt("DB_MIN_CONNS", 1)),
		AutoMigrate: getBool("AUTO_MIGRATE", true),

		JWTSecret:        strings.TrimSpace(os.Getenv("JWT_SECRET")),
		JWTIssuer:        getEnv("JWT_ISSUER", "task-management-api"),
		JWTAccessTTL:     getDuration("JWT_ACCESS_TTL", 15*time.Minute),
		JWTRefreshTTL:    getDuration("JWT_REFRESH_TTL", 168*time.Hour),
		EmailVerifyTTL:   getDuration("EMAIL_VERIFY_TTL", 24*time.Hour),
		PasswordResetTTL: getDuration("PASSWORD_RESET_TTL", time.Hour),

		BcryptCost:        getInt("BCRYPT_COST", 12),
		PasswordMinLength: getInt("PASSWORD_MIN_LENGTH", 8),

		RegisterIssuesTokens: getBool("REGISTER_ISSUES_TOKENS", false),
		RequireVerifiedLogin: getBool("REQUIRE_VERIFIED_LOGIN", false),

		RateLimitPerMinute:      getInt("RATE_LIMIT_PER_MINUTE", 100),
		AuthRateLimitPerMinute:  getInt("AUTH_RATE_LIMIT_PER_MINUTE", 5),
		LoginAttemptsPerAccount: getInt("LOGIN_ATTEMPTS_PER_ACCOUNT", 10),
		RateLimitWindow:         getDuration("RATE_LIMIT_WINDOW", time.Minute),
		RateLimitStore:          strings.ToLower(getEnv("RATE_LIMIT_STORE", "memory")),
		RateLimitStoreTimeout:   getDuration("RATE_LIMIT_STORE_TIMEOUT", 250*time.Millisecond),
		RateLimitFailurePolicy:  strings.ToLower(getEnv("RATE_LIMIT_FAILURE_POLICY", "deny")),

		StoreTimeout:     getDuration("STORE_TIMEOUT", 3*time.Second),
		StoreReadRetries: getInt("STORE_READ_RETRIES", 2),
		StoreRetryBase:   getDuration("STORE_RETRY_BASE", 25*time.Millisecond),

		MailDriver:      strings.ToLower(getEnv("MAIL_DRIVER", "log")),
		SMTPHost:        strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:        getInt("SMTP_PORT", 587),
		SMTPUser:        strings.TrimSpace(os.Getenv("SMTP_USER")),
		SMTPPassword:    os.Getenv("SMTP_PASSWORD"),
		MailFrom:        getEnv("MAIL_FROM", "no-reply@localhost"),
		MailSendTimeout: getDuration("MAIL_SEND_TIMEOUT", 10*time.Second),
		AppBaseURL:      getEnv("APP_BASE_URL", "http://localhost:8080"),

		CleanupInterval:       getDuration("CLEANUP_INTERVAL", time.Hour),
		OneTimeTokenRetention: getDuration("ONE_TIME_TOKEN_RETENTION", 7*24*time.Hour),

		CORSOrigins:    splitCSV(getEnv("CORS_ORIGINS", "*")),
		TrustedProxies: splitCSV(os.Getenv("TRUSTED_PROXIES")),
		MetricsEnabled: getBool("METRICS_ENABLED", true),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", "info")),
		LogFormat:      strings.ToLower(getEnv("LOG_FORMAT", "pretty")),
	}
}

func (c *Config) Validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}

	if len(c.JWTSecret) < minJWTSecretBytes {
		return fmt.Errorf("JWT_SECRET must be at least %d bytes", minJWTSecretBytes)
	}

	if c.ServerPort == "" {
		return fmt.Errorf("SERVER_PORT cannot be empty")
	}

	if c.RequestTimeout <= 0 {
		return fmt.Errorf("REQUEST_TIMEOUT must be positive")
	}

	if c.JWTAccessTTL <= 0 || c.JWTRefreshTTL <= 0 {
		return fmt.Errorf("JWT_ACCESS_TTL and JWT_REFRESH_TTL must be positive")
	}

	if c.EmailVerifyTTL <= 0 || c.PasswordResetTTL <= 0 {
		return fmt.Errorf("EMAIL_VERIFY_TTL and PASSWORD_RESET_TTL must be positive")
	}

	if c.BcryptCost < 4 || c.BcryptCost > 31 {
		return fmt.Errorf("BCRYPT_COST must be between 4 and 31")
	}

	if c.PasswordMinLength < 1 {
		return fmt.Errorf("PASSWORD_MIN_LENGTH must be at least 1")
	}

	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("RATE_LIMIT_WINDOW must be positive")
	}

	switch c.RateLimitStore {
	case "memory":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("RATE_LIMIT_STORE=postgres requires DATABASE_URL")
		}
	default:
		return fmt.Errorf("RATE_LIMIT_STORE must be memory or postgres")
	}

	if c.RateLimitFailurePolicy != "deny" && c.RateLimitFailurePolicy != "local" {
		return fmt.Errorf("RATE_LIMIT_FAILURE_POLICY must be deny or local")
	}

	if c.StoreReadRetries < 0 {
		return fmt.Errorf("STORE_READ_RETRIES cannot be negative")
	}

	switch c.MailDriver {
	case "log":
	case "smtp":
		if c.SMTPHost == "" {
			return fmt.Errorf("MAIL_DRIVER=smtp requires SMTP_HOST")
		}
	default:
		return fmt.Errorf("MAIL_DRIVER must be log or smtp")
	}

	if strings.TrimSpace(c.AppBaseURL) == "" {
		return fmt.Errorf("APP_BASE_URL cannot be empty")
	}

	if c.CleanupInterval <= 0 {
		return fmt.Errorf("CLEANUP_INTERVAL must be positive")
	}

	if c.OneTimeTokenRetention < 0 {
		return fmt.Errorf("ONE_TIME_TOKEN_RETENTION cannot be negative")
	}

	for _, raw := range c.TrustedProxies {
		if _, err := parseProxy(raw); err != nil {
			return fmt.Errorf("TRUSTED_PROXIES: %w", err)
		}
	}

	if c.LogFormat != "pretty" && c.LogFormat != "json" {
		return fmt.Errorf("LOG_FORMAT must be pretty or json")
	}

	return nil
}

func getEnv(key string, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}

	return v
}

func getInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}

	return v
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}

	v, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return v
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		out = append(out, trimmed)
	}

	return out
}

// TrustedProxyPrefixes returns TRUSTED_PROXIES as prefixes. A bare address is
// a single-host prefix. Entries Validate would reject are skipped.
func (c *Config) TrustedProxyPrefixes() []netip.Prefix {
	out := make([]netip.Prefix, 0, len(c.TrustedProxies))
	for _, raw := range c.TrustedProxies {
		if p, err := parseProxy(raw); err == nil {
			out = append(out, p)
		}
	}
	return out
}

func parseProxy(raw string) (netip.Prefix, error) {
	if strings.Contains(raw, "/") {
		p, err := netip.ParsePrefix(raw)
		if err != nil {
			return netip.Prefix{}, err
		}
		return p.Masked(), nil
	}

	addr, err := netip.ParseAddr(raw)
	if err != nil {
		return netip.Prefix{}, err
	}
	addr = addr.Unmap()
	return netip.PrefixFrom(addr, addr.BitLen()), nil
}
