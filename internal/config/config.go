package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/llmur/llmur/internal/settings"
	"github.com/sethvargo/go-envconfig"
	"gopkg.in/yaml.v3"
)

const (
	EnvConfigPath = "CONFIG_PATH"
	EnvDotEnvPath = "DOTENV_PATH"
)

// ErrMissingDatabaseDSN indicates no database DSN is configured.
var ErrMissingDatabaseDSN = errors.New("missing database dsn (set `database-dsn`, `database.dsn` or DB_CONNECTION)")

// Config holds resolved application configuration values.
// YAML provides the base, environment variables override it.
type Config struct {
	Path string `yaml:"-"`

	Port        int    `yaml:"port" env:"PORT,overwrite"`
	DatabaseDSN string `yaml:"database-dsn" env:"DB_CONNECTION,overwrite"`
	Database    struct {
		DSN string `yaml:"dsn"`
	} `yaml:"database"`

	MasterKeys []string `yaml:"master-keys" env:"LLMUR_MASTER_KEYS,overwrite"`
	AppSecret  string   `yaml:"app-secret" env:"LLMUR_APP_SECRET,overwrite"`

	JWT             JWTConfig        `yaml:"jwt"`
	Redis           RedisConfig      `yaml:"redis"`
	UpstreamTimeout time.Duration    `yaml:"upstream-timeout" env:"LLMUR_UPSTREAM_TIMEOUT,overwrite"`
	RequestLog      RequestLogConfig `yaml:"request-log"`
	Tracing         TracingConfig    `yaml:"tracing"`
	Logging         LoggingConfig    `yaml:"logging"`

	BootstrapAdmin BootstrapAdminConfig `yaml:"bootstrap-admin"`
}

// BootstrapAdminConfig seeds the first admin user on an empty database.
type BootstrapAdminConfig struct {
	Email    string `yaml:"email" env:"LLMUR_ADMIN_EMAIL,overwrite"`
	Password string `yaml:"password" env:"LLMUR_ADMIN_PASSWORD,overwrite"`
}

// JWTConfig holds JWT secret and expiry settings.
type JWTConfig struct {
	Secret string        `yaml:"secret" env:"JWT_SECRET,overwrite"`
	Expiry time.Duration `yaml:"expiry" env:"JWT_EXPIRY,overwrite"`
}

// RedisConfig enables shared rate-limit counters and router cursors.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR,overwrite"`
	Password string `yaml:"password" env:"REDIS_PASSWORD,overwrite"`
	DB       int    `yaml:"db" env:"REDIS_DB,overwrite"`
	Prefix   string `yaml:"prefix" env:"REDIS_PREFIX,overwrite"`
}

// RequestLogConfig tunes the asynchronous request log writer.
type RequestLogConfig struct {
	BufferSize    int    `yaml:"buffer-size" env:"REQUEST_LOG_BUFFER,overwrite"`
	RetentionDays int    `yaml:"retention-days" env:"REQUEST_LOG_RETENTION_DAYS,overwrite"`
	PruneSchedule string `yaml:"prune-schedule" env:"REQUEST_LOG_PRUNE_SCHEDULE,overwrite"`
}

// TracingConfig enables OTLP export when Endpoint is set.
type TracingConfig struct {
	Endpoint    string `yaml:"endpoint" env:"OTEL_EXPORTER_OTLP_ENDPOINT,overwrite"`
	ServiceName string `yaml:"service-name" env:"OTEL_SERVICE_NAME,overwrite"`
	Insecure    bool   `yaml:"insecure" env:"OTEL_EXPORTER_OTLP_INSECURE,overwrite"`
}

// LoggingConfig selects level, format and an optional rotating file.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LOG_LEVEL,overwrite"`
	Format     string `yaml:"format" env:"LOG_FORMAT,overwrite"`
	File       string `yaml:"file" env:"LOG_FILE,overwrite"`
	MaxSizeMB  int    `yaml:"max-size-mb"`
	MaxBackups int    `yaml:"max-backups"`
	MaxAgeDays int    `yaml:"max-age-days"`
}

// ResolveConfigPath normalizes the config path and applies defaults.
func ResolveConfigPath(p string) string {
	trimmed := strings.TrimSpace(p)
	if trimmed == "" {
		trimmed = strings.TrimSpace(os.Getenv(EnvConfigPath))
	}
	if trimmed == "" {
		trimmed = "./" + settings.DefaultConfigPath
	}
	if abs, err := filepath.Abs(trimmed); err == nil {
		return abs
	}
	return trimmed
}

// LoadDotEnv loads a .env file into the process environment when one exists.
// Variables already set are left untouched.
func LoadDotEnv() error {
	path := strings.TrimSpace(os.Getenv(EnvDotEnvPath))
	if path == "" {
		path = ".env"
	}
	if errLoad := godotenv.Load(path); errLoad != nil {
		if errors.Is(errLoad, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("load %s: %w", path, errLoad)
	}
	return nil
}

// Load reads the YAML file at path, applies environment overrides and defaults, and validates.
// A missing file is allowed so the gateway can run from the environment alone.
func Load(ctx context.Context, path string) (*Config, error) {
	cfg, err := Parse(ctx, path)
	if err != nil {
		return nil, err
	}
	if errValidate := cfg.Validate(); errValidate != nil {
		return nil, errValidate
	}
	return cfg, nil
}

// Parse is Load without validation.
func Parse(ctx context.Context, path string) (*Config, error) {
	cfg := &Config{Path: path}
	data, errRead := os.ReadFile(path)
	switch {
	case errRead == nil:
		if errUnmarshal := yaml.Unmarshal(data, cfg); errUnmarshal != nil {
			return nil, fmt.Errorf("parse config file: %w", errUnmarshal)
		}
	case errors.Is(errRead, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("read config file: %w", errRead)
	}
	if errEnv := envconfig.Process(ctx, cfg); errEnv != nil {
		return nil, fmt.Errorf("apply environment: %w", errEnv)
	}
	cfg.Path = path
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Port == 0 {
		c.Port = settings.DefaultPort
	}
	if strings.TrimSpace(c.DatabaseDSN) == "" {
		c.DatabaseDSN = strings.TrimSpace(c.Database.DSN)
	}
	c.DatabaseDSN = strings.TrimSpace(c.DatabaseDSN)
	c.MasterKeys = normalizeKeys(c.MasterKeys)
	if c.JWT.Expiry <= 0 {
		c.JWT.Expiry = settings.DefaultSessionExpiry
	}
	if strings.TrimSpace(c.JWT.Secret) == "" {
		c.JWT.Secret = c.AppSecret
	}
	if strings.TrimSpace(c.Redis.Prefix) == "" {
		c.Redis.Prefix = settings.DefaultRateLimitRedisPrefix
	}
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = settings.DefaultUpstreamTimeout
	}
	if c.RequestLog.BufferSize <= 0 {
		c.RequestLog.BufferSize = settings.DefaultRequestLogBuffer
	}
	if c.RequestLog.RetentionDays == 0 {
		c.RequestLog.RetentionDays = settings.DefaultRequestLogRetentionDays
	}
	if strings.TrimSpace(c.RequestLog.PruneSchedule) == "" {
		c.RequestLog.PruneSchedule = settings.DefaultPruneSchedule
	}
	if strings.TrimSpace(c.Tracing.ServiceName) == "" {
		c.Tracing.ServiceName = settings.DefaultServiceName
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
	if strings.TrimSpace(c.Logging.Format) == "" {
		c.Logging.Format = "text"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535, got %d", c.Port)
	}
	if c.DatabaseDSN == "" {
		return ErrMissingDatabaseDSN
	}
	if len(c.MasterKeys) == 0 {
		return fmt.Errorf("at least one master key is required (set `master-keys` or LLMUR_MASTER_KEYS)")
	}
	if strings.TrimSpace(c.AppSecret) == "" {
		return fmt.Errorf("app secret is required (set `app-secret` or LLMUR_APP_SECRET)")
	}
	if strings.TrimSpace(c.BootstrapAdmin.Email) != "" && len(c.BootstrapAdmin.Password) < 8 {
		return fmt.Errorf("bootstrap admin password must be at least 8 characters")
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging format must be text or json, got %q", c.Logging.Format)
	}
	return nil
}

func normalizeKeys(keys []string) []string {
	out := make([]string, 0, len(keys))
	seen := make(map[string]struct{}, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	return out
}
