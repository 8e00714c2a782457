package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

var envKeys = []string{
	"PORT", "WEBHOOK_PATH", "TELEGRAM_BOT_TOKEN", "TELEGRAM_WEBHOOK_URL", "TELEGRAM_SECRET_TOKEN",
	"BOT_USERNAME", "BOT_NAME", "ALLOWED_LANGUAGES", "DEFAULT_LANGUAGE", "LOCALES_DIR",
	"MODEL_PROVIDER", "OPENAI_API_KEY", "MODEL_NAME", "MODEL_ENDPOINT", "GEMINI_API_KEY", "GEMINI_MODEL",
	"VT_API_KEY", "SCAN_TIMEOUT", "VT_API_TIMEOUT", "MAX_FILE_SIZE",
	"STAGING_BACKEND", "FILE_LOCATION", "MINIO_ENDPOINT", "MINIO_ACCESS_KEY", "MINIO_SECRET_KEY", "MINIO_BUCKET",
	"DB_DRIVER", "DB_DSN", "DB_PATH", "REDIS_URL", "REDIS_CHANNEL", "REDIS_RETRIES", "ADMIN_API_KEY", "LOG_LEVEL", "LOG_FORMAT",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8000 || cfg.Server.WebhookPath != "/webhook" {
		t.Errorf("server = %+v", cfg.Server)
	}
	if cfg.Bot.Name != "VScanAI" || cfg.Bot.Username != "virus_scan_ai_bot" {
		t.Errorf("bot = %+v", cfg.Bot)
	}
	if diff := cmp.Diff([]string{"en", "es"}, cfg.Bot.AllowedLanguages); diff != "" {
		t.Errorf("languages mismatch (-want +got):\n%s", diff)
	}
	if cfg.Model.Name != "openai/gpt-4.1" || cfg.Model.Endpoint != "https://models.github.ai/inference" {
		t.Errorf("model = %+v", cfg.Model)
	}
	if cfg.ScanTimeout() != 5*time.Minute || cfg.APITimeout() != 500*time.Second {
		t.Errorf("timeouts = %s / %s", cfg.ScanTimeout(), cfg.APITimeout())
	}
	if cfg.Scan.MaxFileSize != 5242880 || cfg.Staging.Dir != "bot/tmp_files" {
		t.Errorf("scan = %+v staging = %+v", cfg.Scan, cfg.Staging)
	}
	if cfg.Redis.Retries != 2 || cfg.RedisTimeout() != 5*time.Second || cfg.RecordTimeout() != 10*time.Second {
		t.Errorf("redis = %+v record timeout = %s", cfg.Redis, cfg.RecordTimeout())
	}
	if !cfg.FloodEnabled() {
		t.Error("flood guard disabled by default")
	}
	if cfg.ModelEnabled() {
		t.Error("model enabled without a key")
	}
	if err := cfg.RequireSecrets(); err == nil {
		t.Error("RequireSecrets passed without token and VT key")
	}
}

func TestLoadFileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	yml := `
server:
  port: 9000
telegram:
  token: from-file
bot:
  allowedLanguages: [en, id]
model:
  provider: gemini
  geminiApiKey: g-key
scan:
  apiKey: vt-file
database:
  driver: mysql
  host: db
  port: 3306
  user: bot
  password: pw
  name: audit
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("TELEGRAM_BOT_TOKEN", "from-env")
	t.Setenv("ALLOWED_LANGUAGES", "en, es ,id")
	t.Setenv("ADMIN_API_KEY", "adm")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d", cfg.Server.Port)
	}
	if cfg.Telegram.Token != "from-env" {
		t.Errorf("token = %q, env should win", cfg.Telegram.Token)
	}
	if diff := cmp.Diff([]string{"en", "es", "id"}, cfg.Bot.AllowedLanguages); diff != "" {
		t.Errorf("languages mismatch (-want +got):\n%s", diff)
	}
	if !cfg.ModelEnabled() {
		t.Error("gemini with key should be enabled")
	}
	if err := cfg.RequireSecrets(); err != nil {
		t.Errorf("RequireSecrets: %v", err)
	}
	if cfg.Admin.APIKeys["admin"] != "adm" {
		t.Errorf("admin keys = %v", cfg.Admin.APIKeys)
	}
	want := "bot:pw@tcp(db:3306)/audit?parseTime=true&charset=utf8mb4&loc=UTC"
	if got := cfg.MySQLDSN(); got != want {
		t.Errorf("MySQLDSN = %q, want %q", got, want)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"port", func(c *Config) { c.Server.Port = 70000 }, "out of range"},
		{"webhook path", func(c *Config) { c.Server.WebhookPath = "hook" }, "must start with /"},
		{"size", func(c *Config) { c.Scan.MaxFileSize = 0 }, "MAX_FILE_SIZE"},
		{"provider", func(c *Config) { c.Model.Provider = "claude" }, "MODEL_PROVIDER"},
		{"minio", func(c *Config) { c.Staging.Backend = "minio" }, "minio staging"},
		{"driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"postgres", func(c *Config) { c.Database.Driver = "postgres" }, "needs dsn or host"},
		{"languages", func(c *Config) { c.Bot.AllowedLanguages = nil }, "ALLOWED_LANGUAGES"},
		{"redis retries", func(c *Config) { c.Redis.Retries = -1 }, "REDIS_RETRIES"},
		{"flood", func(c *Config) { c.Bot.FloodEverySec = -1 }, "floodEverySeconds"},
	}
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults invalid: %v", err)
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.want)
			}
		})
	}
}

func TestFloodEnabled(t *testing.T) {
	tests := []struct {
		burst, every int
		want         bool
	}{
		{5, 12, true},
		{0, 12, false},
		// a bucket that never refills would block a chat for good
		{5, 0, false},
	}
	for _, tt := range tests {
		c := Default()
		c.Bot.FloodBurst, c.Bot.FloodEverySec = tt.burst, tt.every
		if got := c.FloodEnabled(); got != tt.want {
			t.Errorf("FloodEnabled(burst=%d, every=%d) = %v, want %v", tt.burst, tt.every, got, tt.want)
		}
	}
}

func TestRedisRetriesFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("REDIS_RETRIES", "4")
	t.Setenv("REDIS_CHANNEL", "scans")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.Retries != 4 || cfg.Redis.Channel != "scans" {
		t.Errorf("redis = %+v", cfg.Redis)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("server: [oops"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadEnvFile(t *testing.T) {
	keys := []string{"VSB_FOO", "VSB_BAR", "VSB_BAZ", "VSB_KEEP"}
	for _, k := range keys {
		os.Unsetenv(k)
	}
	t.Cleanup(func() {
		for _, k := range keys {
			os.Unsetenv(k)
		}
	})
	os.Setenv("VSB_KEEP", "from-env")

	path := filepath.Join(t.TempDir(), ".env")
	content := "# comment\nVSB_FOO=hello\nexport VSB_BAR=\"quoted value\"\nVSB_BAZ='single'\nNO_VALUE\nVSB_KEEP=from-file\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	if err := LoadEnvFile(path); err != nil {
		t.Fatalf("LoadEnvFile: %v", err)
	}
	want := map[string]string{"VSB_FOO": "hello", "VSB_BAR": "quoted value", "VSB_BAZ": "single", "VSB_KEEP": "from-env"}
	for k, v := range want {
		if got := os.Getenv(k); got != v {
			t.Errorf("%s = %q, want %q", k, got, v)
		}
	}
	if err := LoadEnvFile(filepath.Join(t.TempDir(), "nope")); err != nil {
		t.Errorf("missing file: %v", err)
	}
}
