package kvgate

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Defaults used by DefaultConfig.
const (
	DefaultMaxRequests  = 15
	DefaultWindow       = 300 * time.Second
	DefaultSessionTTL   = 3600 * time.Second
	DefaultStoreTimeout = 500 * time.Millisecond
)

// Environment variables read by LoadConfig.
const (
	EnvRedisHost      = "REDIS_HOST_URL"
	EnvRedisPort      = "REDIS_PORT"
	EnvRedisPassword  = "REDIS_PASSWORD"
	EnvRedisDB        = "REDIS_DB"
	EnvMaxRequests    = "RATE_LIMIT_MAX_REQUESTS"
	EnvWindowSeconds  = "RATE_LIMIT_WINDOW_SECONDS"
	EnvSessionSeconds = "SESSION_TTL_SECONDS"
	EnvStoreTimeoutMS = "STORE_TIMEOUT_MS"
	EnvFailOpen       = "RATE_LIMIT_FAIL_OPEN"
)

// RedisConfig holds the connection settings for a Redis-backed store.
type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// Config groups the settings of a Limiter and a SessionCache.
type Config struct {
	MaxRequests   int64
	Window        time.Duration
	SessionTTL    time.Duration
	StoreTimeout  time.Duration // 0 disables the per-call timeout
	FailurePolicy FailurePolicy
	Redis         RedisConfig
}

// DefaultConfig returns 15 requests per 300 s, one-hour sessions, and a local
// Redis on port 6379.
func DefaultConfig() Config {
	return Config{
		MaxRequests:   DefaultMaxRequests,
		Window:        DefaultWindow,
		SessionTTL:    DefaultSessionTTL,
		StoreTimeout:  DefaultStoreTimeout,
		FailurePolicy: FailClosed,
		Redis: RedisConfig{
			Host: "127.0.0.1",
			Port: 6379,
		},
	}
}

// Validate reports the first out-of-range setting.
func (c Config) Validate() error {
	switch {
	case c.MaxRequests <= 0:
		return fmt.Errorf("%w: max requests must be positive, got %d", ErrInvalidConfig, c.MaxRequests)
	case c.Window < time.Second || c.Window%time.Second != 0:
		return fmt.Errorf("%w: window must be a positive whole number of seconds, got %v", ErrInvalidConfig, c.Window)
	case c.SessionTTL < time.Second || c.SessionTTL%time.Second != 0:
		return fmt.Errorf("%w: session ttl must be a positive whole number of seconds, got %v", ErrInvalidConfig, c.SessionTTL)
	case c.StoreTimeout < 0:
		return fmt.Errorf("%w: store timeout must not be negative, got %v", ErrInvalidConfig, c.StoreTimeout)
	case c.FailurePolicy != FailClosed && c.FailurePolicy != FailOpen:
		return fmt.Errorf("%w: unknown failure policy %v", ErrInvalidConfig, c.FailurePolicy)
	case c.Redis.Port < 0 || c.Redis.Port > 65535:
		return fmt.Errorf("%w: redis port out of range: %d", ErrInvalidConfig, c.Redis.Port)
	}
	return nil
}

// LoadConfig starts from DefaultConfig and applies environment variables.
// Each existing file in envFiles (".env" when none are given) is loaded
// first; variables already set in the environment win.
func LoadConfig(envFiles ...string) (Config, error) {
	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, path := range envFiles {
		if err := godotenv.Load(path); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return Config{}, fmt.Errorf("kvgate: load %s: %w", path, err)
		}
	}

	cfg := DefaultConfig()
	if v, ok := os.LookupEnv(EnvRedisHost); ok && v != "" {
		cfg.Redis.Host = v
	}
	cfg.Redis.Password = os.Getenv(EnvRedisPassword)

	var err error
	if cfg.Redis.Port, err = envInt(EnvRedisPort, cfg.Redis.Port); err != nil {
		return Config{}, err
	}
	if cfg.Redis.DB, err = envInt(EnvRedisDB, cfg.Redis.DB); err != nil {
		return Config{}, err
	}

	maxRequests, err := envInt(EnvMaxRequests, int(cfg.MaxRequests))
	if err != nil {
		return Config{}, err
	}
	cfg.MaxRequests = int64(maxRequests)

	if cfg.Window, err = envDuration(EnvWindowSeconds, cfg.Window, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.SessionTTL, err = envDuration(EnvSessionSeconds, cfg.SessionTTL, time.Second); err != nil {
		return Config{}, err
	}
	if cfg.StoreTimeout, err = envDuration(EnvStoreTimeoutMS, cfg.StoreTimeout, time.Millisecond); err != nil {
		return Config{}, err
	}

	if v, ok := os.LookupEnv(EnvFailOpen); ok && v != "" {
		open, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalidConfig, EnvFailOpen, v, err)
		}
		if open {
			cfg.FailurePolicy = FailOpen
		}
	}

	return cfg, cfg.Validate()
}

func envInt(name string, def int) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok || v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%w: %s=%q is not an integer", ErrInvalidConfig, name, v)
	}
	return n, nil
}

func envDuration(name string, def, unit time.Duration) (time.Duration, error) {
	n, err := envInt(name, int(def/unit))
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * unit, nil
}
