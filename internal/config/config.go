// Package config loads gateway configuration from environment variables.
// A YAML file named by CONFIG_FILE, when present, overrides the environment;
// it is meant for local development and compose setups.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"
)

// Duration parses Go duration strings from both the environment and YAML.
type Duration time.Duration

// Decode implements envdecode.Decoder.
func (d *Duration) Decode(repl string) error {
	parsed, err := time.ParseDuration(repl)
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var raw string
	if err := node.Decode(&raw); err != nil {
		return err
	}
	return d.Decode(raw)
}

// Std returns the value as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// Config is the full gateway configuration.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Blob       BlobConfig       `yaml:"blob"`
	Vision     VisionConfig     `yaml:"vision"`
	Translator TranslatorConfig `yaml:"translator"`
	OpenAI     OpenAIConfig     `yaml:"openai"`
	Auth       AuthConfig       `yaml:"auth"`
	Limits     LimitsConfig     `yaml:"limits"`
	Retention  RetentionConfig  `yaml:"retention"`
}

// ServerConfig governs the HTTP listener.
type ServerConfig struct {
	Host            string   `env:"SERVER_HOST" yaml:"host"`
	Port            int      `env:"SERVER_PORT,default=8080" yaml:"port"`
	ReadTimeout     Duration `env:"SERVER_READ_TIMEOUT,default=30s" yaml:"read_timeout"`
	WriteTimeout    Duration `env:"SERVER_WRITE_TIMEOUT,default=120s" yaml:"write_timeout"`
	IdleTimeout     Duration `env:"SERVER_IDLE_TIMEOUT,default=120s" yaml:"idle_timeout"`
	ShutdownTimeout Duration `env:"SERVER_SHUTDOWN_TIMEOUT,default=10s" yaml:"shutdown_timeout"`
	CORSOrigins     string   `env:"CORS_ALLOWED_ORIGINS,default=*" yaml:"cors_origins"`
}

// Addr returns the listen address in host:port form.
func (c ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Origins splits the configured CORS origins.
func (c ServerConfig) Origins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	return origins
}

// LoggingConfig mirrors pkg/logger.LoggingConfig and names the admin
// audit file.
type LoggingConfig struct {
	Level      string `env:"LOG_LEVEL,default=info" yaml:"level"`
	Format     string `env:"LOG_FORMAT,default=json" yaml:"format"`
	Output     string `env:"LOG_OUTPUT,default=stdout" yaml:"output"`
	FilePrefix string `env:"LOG_FILE_PREFIX" yaml:"file_prefix"`
	AuditFile  string `env:"AUDIT_LOG_PATH" yaml:"audit_file"`
}

// DatabaseConfig selects the Postgres store. An empty DSN keeps the
// in-memory store.
type DatabaseConfig struct {
	DSN             string   `env:"DATABASE_URL" yaml:"dsn"`
	MaxOpenConns    int      `env:"DB_MAX_OPEN_CONNS,default=16" yaml:"max_open_conns"`
	MaxIdleConns    int      `env:"DB_MAX_IDLE_CONNS,default=4" yaml:"max_idle_conns"`
	ConnMaxLifetime Duration `env:"DB_CONN_MAX_LIFETIME,default=30m" yaml:"conn_max_lifetime"`
}

// Enabled reports whether a Postgres DSN was configured.
func (c DatabaseConfig) Enabled() bool { return c.DSN != "" }

// RedisConfig selects the analysis result cache. An empty address
// disables caching.
type RedisConfig struct {
	Addr     string   `env:"REDIS_ADDR" yaml:"addr"`
	Password string   `env:"REDIS_PASSWORD" yaml:"password"`
	DB       int      `env:"REDIS_DB,default=0" yaml:"db"`
	TTL      Duration `env:"CACHE_TTL,default=24h" yaml:"ttl"`
}

// Enabled reports whether a Redis address was configured.
func (c RedisConfig) Enabled() bool { return c.Addr != "" }

// BlobConfig locates the Azure Storage container for image bytes. An
// empty account name keeps the in-memory store.
type BlobConfig struct {
	AccountName string `env:"AZURE_STORAGE_ACCOUNT" yaml:"account_name"`
	AccountKey  string `env:"AZURE_STORAGE_KEY" yaml:"account_key"`
	Container   string `env:"AZURE_BLOB_CONTAINER,default=images" yaml:"container"`
	Endpoint    string `env:"AZURE_BLOB_ENDPOINT" yaml:"endpoint"`
}

// Enabled reports whether an Azure Storage account was configured.
func (c BlobConfig) Enabled() bool { return c.AccountName != "" }

// VisionConfig locates the image analysis API.
type VisionConfig struct {
	Endpoint string `env:"AZURE_VISION_ENDPOINT" yaml:"endpoint"`
	Key      string `env:"AZURE_VISION_KEY" yaml:"key"`
}

// Enabled reports whether the vision provider was configured.
func (c VisionConfig) Enabled() bool { return c.Endpoint != "" && c.Key != "" }

// TranslatorConfig locates the translation API.
type TranslatorConfig struct {
	Endpoint string `env:"AZURE_TRANSLATOR_ENDPOINT,default=https://api.cognitive.microsofttranslator.com" yaml:"endpoint"`
	Key      string `env:"AZURE_TRANSLATOR_KEY" yaml:"key"`
	Region   string `env:"AZURE_TRANSLATOR_REGION" yaml:"region"`
}

// Enabled reports whether the translator was configured.
func (c TranslatorConfig) Enabled() bool { return c.Key != "" }

// OpenAIConfig locates the chat model deployment.
type OpenAIConfig struct {
	Endpoint   string `env:"AZURE_OPENAI_ENDPOINT" yaml:"endpoint"`
	Key        string `env:"AZURE_OPENAI_KEY" yaml:"key"`
	Deployment string `env:"AZURE_OPENAI_DEPLOYMENT,default=gpt-4o" yaml:"deployment"`
}

// Enabled reports whether the chat model was configured.
func (c OpenAIConfig) Enabled() bool { return c.Endpoint != "" && c.Key != "" }

// AuthConfig governs client authentication and the admin surface.
type AuthConfig struct {
	Enabled    bool     `env:"AUTH_ENABLED,default=false" yaml:"enabled"`
	JWTSecret  string   `env:"JWT_SECRET" yaml:"jwt_secret"`
	TokenTTL   Duration `env:"TOKEN_TTL,default=1h" yaml:"token_ttl"`
	AdminToken string   `env:"ADMIN_TOKEN" yaml:"admin_token"`
}

// LimitsConfig bounds request sizes and rates.
type LimitsConfig struct {
	MaxImageBytes   int64   `env:"MAX_IMAGE_BYTES,default=4194304" yaml:"max_image_bytes"`
	ChatHistory     int     `env:"CHAT_HISTORY_LIMIT,default=20" yaml:"chat_history"`
	ChatMessage     int     `env:"CHAT_MAX_MESSAGE_CHARS,default=2000" yaml:"chat_message_chars"`
	ChatMaxTokens   int     `env:"CHAT_MAX_TOKENS,default=600" yaml:"chat_max_tokens"`
	ChatTemperature float64 `env:"CHAT_TEMPERATURE,default=0.7" yaml:"chat_temperature"`
	RatePerSecond   int     `env:"RATE_LIMIT_RPS,default=10" yaml:"rate_per_second"`
	RateBurst       int     `env:"RATE_LIMIT_BURST,default=20" yaml:"rate_burst"`
}

// RetentionConfig governs the retention sweeper. A zero MaxAge disables it.
type RetentionConfig struct {
	MaxAge   Duration `env:"RETENTION_MAX_AGE,default=0s" yaml:"max_age"`
	Schedule string   `env:"RETENTION_SCHEDULE,default=@hourly" yaml:"schedule"`
}

// Load reads configuration from the environment, applies the optional
// CONFIG_FILE overrides, and validates the result.
func Load() (*Config, error) {
	var cfg Config
	if err := envdecode.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("decode environment: %w", err)
	}

	if path := strings.TrimSpace(os.Getenv("CONFIG_FILE")); path != "" {
		if err := applyFile(&cfg, path); err != nil {
			return nil, err
		}
	}

	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Normalize fills defaults and trims whitespace.
func (c *Config) Normalize() {
	c.Logging.Level = strings.TrimSpace(strings.ToLower(c.Logging.Level))
	c.Logging.Format = strings.TrimSpace(strings.ToLower(c.Logging.Format))
	c.Database.DSN = strings.TrimSpace(c.Database.DSN)
	c.Redis.Addr = strings.TrimSpace(c.Redis.Addr)
	c.Vision.Endpoint = strings.TrimSpace(c.Vision.Endpoint)
	c.Translator.Endpoint = strings.TrimSpace(c.Translator.Endpoint)
	c.OpenAI.Endpoint = strings.TrimSpace(c.OpenAI.Endpoint)
	c.Retention.Schedule = strings.TrimSpace(c.Retention.Schedule)
}

// Validate rejects configurations the gateway cannot start with.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Limits.MaxImageBytes <= 0 {
		return fmt.Errorf("max image bytes must be positive, got %d", c.Limits.MaxImageBytes)
	}
	if c.Limits.RatePerSecond <= 0 || c.Limits.RateBurst <= 0 {
		return fmt.Errorf("rate limit must be positive, got %d/s burst %d", c.Limits.RatePerSecond, c.Limits.RateBurst)
	}
	if c.Auth.Enabled && c.Auth.AdminToken == "" {
		return fmt.Errorf("auth enabled but ADMIN_TOKEN not set; the admin surface would be unreachable")
	}
	if c.Retention.MaxAge.Std() < 0 {
		return fmt.Errorf("retention max age must not be negative")
	}
	return nil
}
