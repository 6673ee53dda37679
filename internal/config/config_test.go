package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// pinEnv clears the variables that would bleed host state into a test.
// An empty value still counts as set for envdecode, so after registering
// the restore via t.Setenv each variable is removed outright.
func pinEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{
		"CONFIG_FILE", "SERVER_PORT", "LOG_LEVEL", "DATABASE_URL",
		"REDIS_ADDR", "AZURE_STORAGE_ACCOUNT", "AZURE_VISION_ENDPOINT",
		"AZURE_VISION_KEY", "AUTH_ENABLED", "ADMIN_TOKEN", "RETENTION_MAX_AGE",
		"CORS_ALLOWED_ORIGINS", "MAX_IMAGE_BYTES", "RATE_LIMIT_RPS",
	} {
		t.Setenv(name, "")
		os.Unsetenv(name)
	}
}

func TestLoadDefaults(t *testing.T) {
	pinEnv(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("port = %d, want 8080", cfg.Server.Port)
	}
	if got := cfg.Server.Addr(); got != ":8080" {
		t.Errorf("addr = %q, want :8080", got)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("logging defaults = %q/%q", cfg.Logging.Level, cfg.Logging.Format)
	}
	if cfg.Database.Enabled() {
		t.Error("database must default to disabled")
	}
	if cfg.Redis.Enabled() || cfg.Redis.TTL.Std() != 24*time.Hour {
		t.Errorf("redis defaults wrong: enabled=%v ttl=%v", cfg.Redis.Enabled(), cfg.Redis.TTL.Std())
	}
	if cfg.Vision.Enabled() || cfg.OpenAI.Enabled() || cfg.Translator.Enabled() {
		t.Error("providers must default to disabled")
	}
	if !strings.Contains(cfg.Translator.Endpoint, "microsofttranslator.com") {
		t.Errorf("translator endpoint default = %q", cfg.Translator.Endpoint)
	}
	if cfg.Limits.MaxImageBytes != 4<<20 {
		t.Errorf("max image bytes = %d, want %d", cfg.Limits.MaxImageBytes, 4<<20)
	}
	if cfg.Retention.MaxAge.Std() != 0 || cfg.Retention.Schedule != "@hourly" {
		t.Errorf("retention defaults = %v %q", cfg.Retention.MaxAge.Std(), cfg.Retention.Schedule)
	}
	if cfg.Auth.Enabled {
		t.Error("auth must default to disabled")
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	pinEnv(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://gateway:pw@db/vision?sslmode=disable")
	t.Setenv("REDIS_ADDR", "cache:6379")
	t.Setenv("AZURE_VISION_ENDPOINT", "https://vision.example.com")
	t.Setenv("AZURE_VISION_KEY", "vision-key")
	t.Setenv("RETENTION_MAX_AGE", "48h")
	t.Setenv("AUTH_ENABLED", "true")
	t.Setenv("ADMIN_TOKEN", "operator")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("level = %q, want normalized debug", cfg.Logging.Level)
	}
	if !cfg.Database.Enabled() || !cfg.Redis.Enabled() || !cfg.Vision.Enabled() {
		t.Error("configured sections must report enabled")
	}
	if cfg.Retention.MaxAge.Std() != 48*time.Hour {
		t.Errorf("retention = %v, want 48h", cfg.Retention.MaxAge.Std())
	}
	if origins := cfg.Server.Origins(); len(origins) != 2 || origins[0] != "https://a.example.com" {
		t.Errorf("origins = %v", origins)
	}
}

func TestLoadYAMLOverridesEnvironment(t *testing.T) {
	pinEnv(t)
	t.Setenv("SERVER_PORT", "9090")

	path := filepath.Join(t.TempDir(), "gateway.yaml")
	doc := `
server:
  port: 7070
  read_timeout: 5s
auth:
  enabled: true
  admin_token: from-file
`
	if err := os.WriteFile(path, []byte(doc), 0o600); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Server.Port != 7070 {
		t.Errorf("port = %d, want file override 7070", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout.Std() != 5*time.Second {
		t.Errorf("read timeout = %v, want 5s", cfg.Server.ReadTimeout.Std())
	}
	if !cfg.Auth.Enabled || cfg.Auth.AdminToken != "from-file" {
		t.Errorf("auth override not applied: %+v", cfg.Auth)
	}
}

func TestLoadRejectsBadConfig(t *testing.T) {
	cases := map[string]map[string]string{
		"invalid port":             {"SERVER_PORT": "0"},
		"auth without admin token": {"AUTH_ENABLED": "true"},
		"zero image cap":           {"MAX_IMAGE_BYTES": "0"},
		"zero rate limit":          {"RATE_LIMIT_RPS": "0"},
	}

	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			pinEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestLoadMissingConfigFile(t *testing.T) {
	pinEnv(t)
	t.Setenv("CONFIG_FILE", filepath.Join(t.TempDir(), "missing.yaml"))

	if _, err := Load(); err == nil {
		t.Fatal("expected error for missing config file")
	}
}
