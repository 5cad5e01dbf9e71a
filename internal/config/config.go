// Package config загружает настройки сервера из флагов, переменных окружения и .env файла.
package config

import (
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/iudanet/roomsync/internal/validation"
)

// Storage backends
const (
	BackendMemory   = "memory"
	BackendSQLite   = "sqlite"
	BackendBolt     = "bolt"
	BackendRedis    = "redis"
	BackendPostgres = "postgres"
)

// EnvPrefix префикс переменных окружения
const EnvPrefix = "ROOMSYNC_"

var ErrInvalidConfig = errors.New("invalid config")

// Config настройки сервера
type Config struct {
	Addr       string
	Backend    string
	SQLitePath string
	BoltPath   string
	RedisURL   string
	// PostgresDSN строка подключения pgx
	PostgresDSN string
	JWTSecret   string
	PolicyFile  string
	LogLevel    string

	JWTTTL              time.Duration
	AwarenessTimeout    time.Duration
	RateLimitWindow     time.Duration
	ShutdownTimeout     time.Duration
	RateLimit           int
	CompactionThreshold int
	CursorBuffer        int64
	MaxBodyBytes        int64
}

// Load читает .env (если есть), затем флаги. Значения флагов по умолчанию берутся из ROOMSYNC_*.
func Load(args []string) (*Config, error) {
	if err := loadDotEnv(".env"); err != nil {
		return nil, err
	}
	return Parse(args, os.Getenv)
}

// loadDotEnv не перезаписывает уже заданные переменные окружения
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("failed to load %s: %w", path, err)
	}
	return nil
}

// Parse разбирает флаги; getenv используется для значений по умолчанию.
func Parse(args []string, getenv func(string) string) (*Config, error) {
	env := envReader{getenv: getenv}
	cfg := &Config{}

	fs := flag.NewFlagSet("roomsync-server", flag.ContinueOnError)
	fs.StringVar(&cfg.Addr, "addr", env.str("ADDR", ":8080"), "HTTP listen address")
	fs.StringVar(&cfg.Backend, "storage", env.str("STORAGE", BackendBolt), "storage backend: memory|sqlite|bolt|redis|postgres")
	fs.StringVar(&cfg.SQLitePath, "sqlite-path", env.str("SQLITE_PATH", "roomsync.db"), "sqlite database path")
	fs.StringVar(&cfg.BoltPath, "bolt-path", env.str("BOLT_PATH", "roomsync.bolt"), "bbolt database path")
	fs.StringVar(&cfg.RedisURL, "redis-url", env.str("REDIS_URL", "redis://localhost:6379/0"), "redis URL")
	fs.StringVar(&cfg.PostgresDSN, "postgres-dsn", env.str("POSTGRES_DSN", ""), "postgres DSN")
	fs.StringVar(&cfg.JWTSecret, "jwt-secret", env.str("JWT_SECRET", ""), "HMAC secret for access tokens")
	fs.StringVar(&cfg.PolicyFile, "policy-file", env.str("POLICY_FILE", ""), "casbin policy CSV with extra rules")
	fs.StringVar(&cfg.LogLevel, "log-level", env.str("LOG_LEVEL", "info"), "log level: debug|info|warn|error")
	fs.DurationVar(&cfg.JWTTTL, "jwt-ttl", env.duration("JWT_TTL", 15*time.Minute), "access token lifetime")
	fs.DurationVar(&cfg.AwarenessTimeout, "awareness-timeout", env.duration("AWARENESS_TIMEOUT", 30*time.Second), "awareness entry lifetime")
	fs.DurationVar(&cfg.RateLimitWindow, "rate-limit-window", env.duration("RATE_LIMIT_WINDOW", time.Minute), "rate limit window")
	fs.DurationVar(&cfg.ShutdownTimeout, "shutdown-timeout", env.duration("SHUTDOWN_TIMEOUT", 10*time.Second), "graceful shutdown timeout")
	fs.IntVar(&cfg.RateLimit, "rate-limit", env.integer("RATE_LIMIT", 600), "requests per window per client IP, 0 disables")
	fs.IntVar(&cfg.CompactionThreshold, "compaction-threshold", env.integer("COMPACTION_THRESHOLD", 50), "log size that triggers a compaction request")
	fs.Int64Var(&cfg.CursorBuffer, "cursor-buffer", int64(env.integer("CURSOR_BUFFER", 100)), "end cursor lag in milliseconds")
	fs.Int64Var(&cfg.MaxBodyBytes, "max-body-bytes", int64(env.integer("MAX_BODY_BYTES", 8<<20)), "max request body size")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if env.err != nil {
		return nil, env.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate проверяет согласованность настроек
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendMemory:
	case BackendSQLite:
		if c.SQLitePath == "" {
			return fmt.Errorf("%w: sqlite path is required", ErrInvalidConfig)
		}
	case BackendBolt:
		if c.BoltPath == "" {
			return fmt.Errorf("%w: bolt path is required", ErrInvalidConfig)
		}
	case BackendRedis:
		if c.RedisURL == "" {
			return fmt.Errorf("%w: redis url is required", ErrInvalidConfig)
		}
	case BackendPostgres:
		if c.PostgresDSN == "" {
			return fmt.Errorf("%w: postgres dsn is required", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown storage backend %q", ErrInvalidConfig, c.Backend)
	}

	if err := validation.ValidateSecret(c.JWTSecret); err != nil {
		return fmt.Errorf("%w: jwt %w", ErrInvalidConfig, err)
	}
	if c.CompactionThreshold < 1 {
		return fmt.Errorf("%w: compaction threshold must be >= 1", ErrInvalidConfig)
	}
	if c.CursorBuffer < 0 {
		return fmt.Errorf("%w: cursor buffer must be >= 0", ErrInvalidConfig)
	}
	if c.RateLimit < 0 {
		return fmt.Errorf("%w: rate limit must be >= 0", ErrInvalidConfig)
	}
	if c.MaxBodyBytes < 1 {
		return fmt.Errorf("%w: max body bytes must be >= 1", ErrInvalidConfig)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return err
	}
	return nil
}

// SlogLevel уровень логирования для slog
func (c *Config) SlogLevel() slog.Level {
	level, _ := ParseLevel(c.LogLevel)
	return level
}

// ParseLevel переводит строку уровня в slog.Level
func ParseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("%w: log level %q", ErrInvalidConfig, s)
	}
	return level, nil
}

// envReader запоминает первую ошибку разбора переменной окружения
type envReader struct {
	getenv func(string) string
	err    error
}

func (e *envReader) str(key, fallback string) string {
	if v := e.getenv(EnvPrefix + key); v != "" {
		return v
	}
	return fallback
}

func (e *envReader) integer(key string, fallback int) int {
	v := e.getenv(EnvPrefix + key)
	if v == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(v)
	if err != nil {
		e.fail(key, v)
		return fallback
	}
	return parsed
}

func (e *envReader) duration(key string, fallback time.Duration) time.Duration {
	v := e.getenv(EnvPrefix + key)
	if v == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(v)
	if err != nil {
		e.fail(key, v)
		return fallback
	}
	return parsed
}

func (e *envReader) fail(key, value string) {
	if e.err == nil {
		e.err = fmt.Errorf("%w: %s%s=%q", ErrInvalidConfig, EnvPrefix, key, value)
	}
}
