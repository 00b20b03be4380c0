package infra

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string

	// Provider connectivity. The API key may also live in the integration
	// token store; an empty env value falls back to it.
	ProviderBaseURL string
	ProviderAPIKey  string
	WebhookBaseURL  string

	// Lifecycle tuning.
	MaxConcurrent    int
	StuckThreshold   time.Duration
	RecheckCooldown  time.Duration
	WatchdogInterval time.Duration
	PromoterInterval time.Duration
	PollInterval     time.Duration

	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	RateLimitPerMin  int
}

// LoadConfig loads configuration from environment variables and applies defaults where needed.
func LoadConfig() (*Config, error) {
	cfg := &Config{
		AppEnv:           getEnv("APP_ENV", "development"),
		Port:             getEnv("PORT", "8080"),
		DatabaseURL:      os.Getenv("DATABASE_URL"),
		ProviderBaseURL:  getEnv("PROVIDER_BASE_URL", "https://api.runninghub.ai"),
		ProviderAPIKey:   os.Getenv("PROVIDER_API_KEY"),
		WebhookBaseURL:   getEnv("WEBHOOK_BASE_URL", "http://localhost:8080"),
		MaxConcurrent:    getEnvInt("MAX_CONCURRENT_JOBS", 3),
		StuckThreshold:   getEnvDuration("STUCK_THRESHOLD", 45*time.Second),
		RecheckCooldown:  getEnvDuration("RECHECK_COOLDOWN", 10*time.Second),
		WatchdogInterval: getEnvDuration("WATCHDOG_INTERVAL", 15*time.Second),
		PromoterInterval: getEnvDuration("PROMOTER_INTERVAL", 60*time.Second),
		PollInterval:     getEnvDuration("POLL_INTERVAL", 5*time.Second),
		HTTPReadTimeout:  time.Second * time.Duration(getEnvInt("HTTP_READ_TIMEOUT_SECONDS", 15)),
		HTTPWriteTimeout: time.Second * time.Duration(getEnvInt("HTTP_WRITE_TIMEOUT_SECONDS", 30)),
		HTTPIdleTimeout:  time.Second * time.Duration(getEnvInt("HTTP_IDLE_TIMEOUT_SECONDS", 60)),
		RateLimitPerMin:  getEnvInt("RATE_LIMIT_PER_MINUTE", 30),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	if cfg.MaxConcurrent < 1 {
		return nil, fmt.Errorf("MAX_CONCURRENT_JOBS must be at least 1")
	}

	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
