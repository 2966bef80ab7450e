package config

import (
	"errors"
	"strings"
	"time"
)

// ErrMissingCredential is returned when no provider token is configured.
var ErrMissingCredential = errors.New("config: GITHUB_TOKEN is not configured")

// Store backends accepted by STATUS_STORE.
const (
	StoreMemory = "memory"
	StoreRedis  = "redis"
)

// ServiceConfig holds runtime configuration for the deployment service.
type ServiceConfig struct {
	Environment        string
	Addr               string
	SharedSecret       string
	GitHubToken        string
	GitHubAPIURL       string
	GitHubTimeout      time.Duration
	NotifyMaxAttempts  int
	NotifyTimeout      time.Duration
	StatusStore        string
	RedisAddr          string
	RedisPassword      string
	RedisDB            int
	RateLimitPerMinute int
	StatusStream       bool
	LogLevel           string
}

// LoadServiceConfig constructs a ServiceConfig from environment variables.
func LoadServiceConfig() ServiceConfig {
	return ServiceConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               ":" + strings.TrimPrefix(GetString("PORT", "5000"), ":"),
		SharedSecret:       GetString("APP_SECRET", "default-secret-123"),
		GitHubToken:        strings.TrimSpace(GetString("GITHUB_TOKEN", "")),
		GitHubAPIURL:       strings.TrimSpace(GetString("GITHUB_API_URL", "")),
		GitHubTimeout:      GetSeconds("GITHUB_TIMEOUT_SECONDS", 30*time.Second),
		NotifyMaxAttempts:  GetInt("NOTIFY_MAX_ATTEMPTS", 5),
		NotifyTimeout:      GetSeconds("NOTIFY_TIMEOUT_SECONDS", 30*time.Second),
		StatusStore:        strings.ToLower(GetString("STATUS_STORE", StoreMemory)),
		RedisAddr:          strings.TrimSpace(GetString("REDIS_ADDR", "")),
		RedisPassword:      GetString("REDIS_PASSWORD", ""),
		RedisDB:            GetInt("REDIS_DB", 0),
		RateLimitPerMinute: GetInt("RATE_LIMIT_PER_MINUTE", 60),
		StatusStream:       GetBool("STATUS_STREAM_ENABLED", true),
		LogLevel:           GetString("LOG_LEVEL", "info"),
	}
}

// Validate reports configuration the service cannot start without.
func (c ServiceConfig) Validate() error {
	if c.GitHubToken == "" {
		return ErrMissingCredential
	}
	if c.StatusStore != StoreMemory && c.StatusStore != StoreRedis {
		return errors.New("config: STATUS_STORE must be memory or redis")
	}
	if c.StatusStore == StoreRedis && c.RedisAddr == "" {
		return errors.New("config: REDIS_ADDR is required when STATUS_STORE=redis")
	}
	return nil
}
