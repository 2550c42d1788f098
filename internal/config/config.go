package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName        = "CalmTalk"
	defaultAppEnv         = "development"
	defaultPort           = "8080"
	defaultLogLevel       = "info"
	defaultShutdownDelay  = 10 * time.Second
	defaultIdempotencyTTL = 24 * time.Hour

	defaultRatePerMinute   = int64(500)
	defaultMinRecharge     = int64(100)
	defaultRingTimeout     = 30 * time.Second
	defaultBillingInterval = time.Minute
)

// Gateway captures the payment gateway connection and signing parameters.
type Gateway struct {
	HostURL         string
	MerchantID      string
	SaltKey         string
	SaltIndex       string
	CallbackBaseURL string
}

// Calls captures call lifecycle and metering parameters.
type Calls struct {
	// RatePerMinute is the per-minute call charge in minor currency units.
	RatePerMinute int64
	// RingTimeout bounds how long a call may stay unanswered.
	RingTimeout time.Duration
	// BillingInterval is the metering tick period. Production keeps the
	// one-minute default; tests shorten it.
	BillingInterval time.Duration
}

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	Env            string
	Port           string
	LogLevel       string
	DatabaseURL    string
	RedisURL       string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	Gateway Gateway
	Calls   Calls

	// MinRecharge is the smallest accepted top-up in major currency units.
	MinRecharge int64
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:        getEnv("APP_NAME", defaultAppName),
		Env:            getEnv("APP_ENV", defaultAppEnv),
		Port:           getEnv("PORT", defaultPort),
		LogLevel:       strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		DatabaseURL:    os.Getenv("DATABASE_URL"),
		RedisURL:       os.Getenv("REDIS_URL"),
		ShutdownPeriod: defaultShutdownDelay,
		IdempotencyTTL: defaultIdempotencyTTL,
		Gateway: Gateway{
			HostURL:         getEnv("GATEWAY_HOST_URL", "https://api-preprod.phonepe.com/apis/pg-sandbox"),
			MerchantID:      os.Getenv("GATEWAY_MERCHANT_ID"),
			SaltKey:         os.Getenv("GATEWAY_SALT_KEY"),
			SaltIndex:       getEnv("GATEWAY_SALT_INDEX", "1"),
			CallbackBaseURL: getEnv("CALLBACK_BASE_URL", "http://localhost:8080"),
		},
		Calls: Calls{
			RatePerMinute:   defaultRatePerMinute,
			RingTimeout:     defaultRingTimeout,
			BillingInterval: defaultBillingInterval,
		},
		MinRecharge: defaultMinRecharge,
	}

	var err error
	if cfg.ShutdownPeriod, err = durationEnv("SHUTDOWN_TIMEOUT", cfg.ShutdownPeriod); err != nil {
		return Config{}, err
	}
	if cfg.IdempotencyTTL, err = durationEnv("IDEMPOTENCY_TTL", cfg.IdempotencyTTL); err != nil {
		return Config{}, err
	}
	if cfg.Calls.RingTimeout, err = durationEnv("RING_TIMEOUT", cfg.Calls.RingTimeout); err != nil {
		return Config{}, err
	}
	if cfg.Calls.BillingInterval, err = durationEnv("BILLING_INTERVAL", cfg.Calls.BillingInterval); err != nil {
		return Config{}, err
	}
	if cfg.Calls.RatePerMinute, err = int64Env("RATE_PER_MINUTE", cfg.Calls.RatePerMinute); err != nil {
		return Config{}, err
	}
	if cfg.MinRecharge, err = int64Env("MIN_RECHARGE", cfg.MinRecharge); err != nil {
		return Config{}, err
	}

	if cfg.Calls.RatePerMinute <= 0 {
		return Config{}, fmt.Errorf("RATE_PER_MINUTE must be positive")
	}
	if cfg.Calls.BillingInterval <= 0 {
		return Config{}, fmt.Errorf("BILLING_INTERVAL must be positive")
	}

	if !IsDev(cfg.Env) {
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
		if cfg.Gateway.MerchantID == "" || cfg.Gateway.SaltKey == "" {
			return Config{}, fmt.Errorf("GATEWAY_MERCHANT_ID and GATEWAY_SALT_KEY must be set")
		}
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDev reports whether the environment name denotes a local development run.
func IsDev(env string) bool {
	switch strings.ToLower(env) {
	case "dev", "development", "local":
		return true
	default:
		return false
	}
}

func durationEnv(key string, fallback time.Duration) (time.Duration, error) {
	if v := os.Getenv(key + "_SECONDS"); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s_SECONDS: %w", key, err)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return 0, fmt.Errorf("invalid %s: %w", key, err)
		}
		return d, nil
	}
	return fallback, nil
}

func int64Env(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
