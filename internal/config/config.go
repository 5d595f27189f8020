package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains runtime configuration values.
type Config struct {
	Environment string
	HTTPPort    string
	ServiceName string

	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	Issuer   string
	Audience string

	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	RefreshTokenBytes int
	// RefreshTokenStore selects where refresh tokens live: "cache" for the
	// TTL store, "postgres" for durable storage.
	RefreshTokenStore string
	SigningKeyTTL     time.Duration

	OTPLength          int
	OTPMaxAttempts     int
	OTPExpiry          time.Duration
	OTPResendGuard     time.Duration
	OTPRateLimitMax    int
	OTPRateLimitWindow time.Duration

	LockoutThreshold int
	LockoutWindow    time.Duration

	RateLimitRPM int

	TelemetryEndpoint string
	TelemetryInsecure bool

	CORSAllowedOrigins   []string
	CORSAllowedMethods   []string
	CORSAllowedHeaders   []string
	CORSAllowCredentials bool
}

// Load reads configuration from environment variables with sane defaults.
// Policy numbers (token lifetimes, OTP shape, lockout window) are tunables,
// not constants baked into the components that enforce them.
func Load() (Config, error) {
	cfg := Config{
		Environment: getEnv("APP_ENV", "development"),
		HTTPPort:    getEnv("HTTP_PORT", "8080"),
		ServiceName: getEnv("SERVICE_NAME", "shopapi-auth"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getInt("REDIS_DB", 0),

		Issuer:   getEnv("JWT_ISSUER", "ShopAPI"),
		Audience: getEnv("JWT_AUDIENCE", "ShopAPIClient"),

		AccessTokenTTL:    getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTokenTTL:   getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		RefreshTokenBytes: getInt("REFRESH_TOKEN_BYTES", 32),
		RefreshTokenStore: getEnv("REFRESH_TOKEN_STORE", "cache"),
		SigningKeyTTL:     getDuration("SIGNING_KEY_TTL", 60*24*time.Hour),

		OTPLength:          getInt("OTP_LENGTH", 6),
		OTPMaxAttempts:     getInt("OTP_MAX_ATTEMPTS", 3),
		OTPExpiry:          getDuration("OTP_EXPIRY", 2*time.Minute),
		OTPResendGuard:     getDuration("OTP_RESEND_GUARD", 30*time.Second),
		OTPRateLimitMax:    getInt("OTP_RATE_LIMIT_MAX", 5),
		OTPRateLimitWindow: getDuration("OTP_RATE_LIMIT_WINDOW", time.Minute),

		LockoutThreshold: getInt("LOCKOUT_THRESHOLD", 5),
		LockoutWindow:    getDuration("LOCKOUT_WINDOW", 15*time.Minute),

		RateLimitRPM: getInt("RATE_LIMIT_RPM", 600),

		TelemetryEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		TelemetryInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),

		CORSAllowedOrigins:   getList("CORS_ALLOWED_ORIGINS", []string{"*"}),
		CORSAllowedMethods:   getList("CORS_ALLOWED_METHODS", []string{"GET", "POST", "OPTIONS"}),
		CORSAllowedHeaders:   getList("CORS_ALLOWED_HEADERS", []string{"Authorization", "Content-Type"}),
		CORSAllowCredentials: getBool("CORS_ALLOW_CREDENTIALS", false),
	}

	if cfg.DatabaseURL == "" {
		return Config{}, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.RedisAddr == "" {
		return Config{}, fmt.Errorf("REDIS_ADDR is required")
	}

	if cfg.RefreshTokenBytes < 32 {
		cfg.RefreshTokenBytes = 32
	}
	switch cfg.RefreshTokenStore {
	case "cache", "postgres":
	default:
		return Config{}, fmt.Errorf("REFRESH_TOKEN_STORE must be cache or postgres, got %q", cfg.RefreshTokenStore)
	}
	if cfg.OTPLength < 4 || cfg.OTPLength > 10 {
		return Config{}, fmt.Errorf("OTP_LENGTH must be between 4 and 10, got %d", cfg.OTPLength)
	}
	if cfg.OTPMaxAttempts < 1 {
		return Config{}, fmt.Errorf("OTP_MAX_ATTEMPTS must be positive, got %d", cfg.OTPMaxAttempts)
	}
	// No token may outlive the retrievability of the key that signed it.
	if cfg.SigningKeyTTL <= cfg.AccessTokenTTL+cfg.RefreshTokenTTL {
		return Config{}, fmt.Errorf("SIGNING_KEY_TTL must exceed access plus refresh token lifetime")
	}

	return cfg, nil
}

func getEnv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		d, err := time.ParseDuration(v)
		if err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v, ok := os.LookupEnv(key); ok {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getBool(key string, def bool) bool {
	if v, ok := os.LookupEnv(key); ok {
		switch strings.ToLower(v) {
		case "1", "true", "t", "yes", "y", "on":
			return true
		case "0", "false", "f", "no", "n", "off":
			return false
		}
	}
	return def
}

func getList(key string, def []string) []string {
	if v, ok := os.LookupEnv(key); ok {
		parts := strings.Split(v, ",")
		var cleaned []string
		for _, p := range parts {
			trimmed := strings.TrimSpace(p)
			if trimmed != "" {
				cleaned = append(cleaned, trimmed)
			}
		}
		if len(cleaned) > 0 {
			return cleaned
		}
	}
	return def
}
