package config

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Port        int    `yaml:"port"`
		WebhookPath string `yaml:"webhookPath"`
		// ShutdownSeconds bounds graceful shutdown.
		ShutdownSeconds int `yaml:"shutdownSeconds"`
	} `yaml:"server"`

	Telegram struct {
		Token       string `yaml:"token"`
		WebhookURL  string `yaml:"webhookURL"`
		SecretToken string `yaml:"secretToken"`
		BaseURL     string `yaml:"baseURL"`
	} `yaml:"telegram"`

	Bot struct {
		Username         string   `yaml:"username"`
		Name             string   `yaml:"name"`
		AllowedLanguages []string `yaml:"allowedLanguages"`
		DefaultLanguage  string   `yaml:"defaultLanguage"`
		SessionTTLMin    int      `yaml:"sessionTTLMinutes"`
		// Flood guard: burst of FloodBurst analyses, then one per FloodEverySec.
		FloodBurst    int    `yaml:"floodBurst"`
		FloodEverySec int    `yaml:"floodEverySeconds"`
		LocalesDir    string `yaml:"localesDir"`
	} `yaml:"bot"`

	Model struct {
		Provider     string `yaml:"provider"` // openai | gemini | none
		APIKey       string `yaml:"apiKey"`
		Name         string `yaml:"name"`
		Endpoint     string `yaml:"endpoint"`
		GeminiAPIKey string `yaml:"geminiApiKey"`
		GeminiModel  string `yaml:"geminiModel"`
	} `yaml:"model"`

	Scan struct {
		APIKey        string `yaml:"apiKey"`
		BaseURL       string `yaml:"baseURL"`
		TimeoutSec    int    `yaml:"timeoutSeconds"`
		APITimeoutSec int    `yaml:"apiTimeoutSeconds"`
		PollSec       int    `yaml:"pollSeconds"`
		RetryDelaySec int    `yaml:"retryDelaySeconds"`
		MaxAttempts   int    `yaml:"maxAttempts"`
		MaxFileSize   int64  `yaml:"maxFileSize"`
		ReportBaseURL string `yaml:"reportBaseURL"`
		// RecordTimeoutSec bounds audit and event recording per outcome.
		RecordTimeoutSec int `yaml:"recordTimeoutSeconds"`
	} `yaml:"scan"`

	Staging struct {
		Backend string `yaml:"backend"` // disk | minio
		Dir     string `yaml:"dir"`
	} `yaml:"staging"`

	Minio struct {
		Endpoint   string `yaml:"endpoint"`
		AccessKey  string `yaml:"accessKey"`
		SecretKey  string `yaml:"secretKey"`
		BucketName string `yaml:"bucketName"`
		Region     string `yaml:"region"`
		UseSSL     bool   `yaml:"useSSL"`
	} `yaml:"minio"`

	Database struct {
		Driver   string `yaml:"driver"` // none | sqlite | mysql | postgres
		DSN      string `yaml:"dsn"`
		Path     string `yaml:"path"`
		Host     string `yaml:"host"`
		Port     int    `yaml:"port"`
		User     string `yaml:"user"`
		Password string `yaml:"password"`
		Name     string `yaml:"name"`
	} `yaml:"database"`

	Redis struct {
		URL        string `yaml:"url"`
		Channel    string `yaml:"channel"`
		TimeoutSec int    `yaml:"timeoutSeconds"`
		Retries    int    `yaml:"retries"`
	} `yaml:"redis"`

	Admin struct {
		// APIKeys maps an admin name to its key for the /scans endpoints.
		APIKeys     map[string]string `yaml:"apiKeys"`
		CORSOrigins []string          `yaml:"corsOrigins"`
	} `yaml:"admin"`

	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"` // json | console
	} `yaml:"logging"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	var c Config
	c.Server.Port = 8000
	c.Server.WebhookPath = "/webhook"
	c.Server.ShutdownSeconds = 15
	c.Bot.Username = "virus_scan_ai_bot"
	c.Bot.Name = "VScanAI"
	c.Bot.AllowedLanguages = []string{"en", "es"}
	c.Bot.DefaultLanguage = "en"
	c.Bot.SessionTTLMin = 30
	c.Bot.FloodBurst = 5
	c.Bot.FloodEverySec = 12
	c.Model.Provider = "openai"
	c.Model.Name = "openai/gpt-4.1"
	c.Model.Endpoint = "https://models.github.ai/inference"
	c.Model.GeminiModel = "gemini-1.5-flash"
	c.Scan.BaseURL = "https://www.virustotal.com/api/v3"
	c.Scan.TimeoutSec = 300
	c.Scan.APITimeoutSec = 500
	c.Scan.PollSec = 10
	c.Scan.RetryDelaySec = 10
	c.Scan.MaxAttempts = 3
	c.Scan.MaxFileSize = 5242880
	c.Scan.ReportBaseURL = "https://www.virustotal.com/gui"
	c.Scan.RecordTimeoutSec = 10
	c.Staging.Backend = "disk"
	c.Staging.Dir = "bot/tmp_files"
	c.Minio.BucketName = "vscanbot"
	c.Database.Driver = "none"
	c.Database.Path = "vscanbot.db"
	c.Redis.TimeoutSec = 5
	c.Redis.Retries = 2
	c.Logging.Level = "info"
	c.Logging.Format = "json"
	return &c
}

// Load builds the config from defaults, then the YAML file at path (skipped
// when missing), then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, os.ErrNotExist):
		case err != nil:
			return nil, err
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse %s: %w", path, err)
			}
		}
	}
	cfg.applyEnv()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = envInt("PORT", c.Server.Port)
	c.Server.WebhookPath = envOr("WEBHOOK_PATH", c.Server.WebhookPath)

	c.Telegram.Token = envOr("TELEGRAM_BOT_TOKEN", c.Telegram.Token)
	c.Telegram.WebhookURL = envOr("TELEGRAM_WEBHOOK_URL", c.Telegram.WebhookURL)
	c.Telegram.SecretToken = envOr("TELEGRAM_SECRET_TOKEN", c.Telegram.SecretToken)

	c.Bot.Username = envOr("BOT_USERNAME", c.Bot.Username)
	c.Bot.Name = envOr("BOT_NAME", c.Bot.Name)
	c.Bot.AllowedLanguages = envList("ALLOWED_LANGUAGES", c.Bot.AllowedLanguages)
	c.Bot.DefaultLanguage = envOr("DEFAULT_LANGUAGE", c.Bot.DefaultLanguage)
	c.Bot.LocalesDir = envOr("LOCALES_DIR", c.Bot.LocalesDir)

	c.Model.Provider = envOr("MODEL_PROVIDER", c.Model.Provider)
	c.Model.APIKey = envOr("OPENAI_API_KEY", c.Model.APIKey)
	c.Model.Name = envOr("MODEL_NAME", c.Model.Name)
	c.Model.Endpoint = envOr("MODEL_ENDPOINT", c.Model.Endpoint)
	c.Model.GeminiAPIKey = envOr("GEMINI_API_KEY", c.Model.GeminiAPIKey)
	c.Model.GeminiModel = envOr("GEMINI_MODEL", c.Model.GeminiModel)

	c.Scan.APIKey = envOr("VT_API_KEY", c.Scan.APIKey)
	c.Scan.TimeoutSec = envInt("SCAN_TIMEOUT", c.Scan.TimeoutSec)
	c.Scan.APITimeoutSec = envInt("VT_API_TIMEOUT", c.Scan.APITimeoutSec)
	c.Scan.MaxFileSize = int64(envInt("MAX_FILE_SIZE", int(c.Scan.MaxFileSize)))

	c.Staging.Backend = envOr("STAGING_BACKEND", c.Staging.Backend)
	c.Staging.Dir = envOr("FILE_LOCATION", c.Staging.Dir)
	c.Minio.Endpoint = envOr("MINIO_ENDPOINT", c.Minio.Endpoint)
	c.Minio.AccessKey = envOr("MINIO_ACCESS_KEY", c.Minio.AccessKey)
	c.Minio.SecretKey = envOr("MINIO_SECRET_KEY", c.Minio.SecretKey)
	c.Minio.BucketName = envOr("MINIO_BUCKET", c.Minio.BucketName)

	c.Database.Driver = envOr("DB_DRIVER", c.Database.Driver)
	c.Database.DSN = envOr("DB_DSN", c.Database.DSN)
	c.Database.Path = envOr("DB_PATH", c.Database.Path)

	c.Redis.URL = envOr("REDIS_URL", c.Redis.URL)
	c.Redis.Channel = envOr("REDIS_CHANNEL", c.Redis.Channel)
	c.Redis.Retries = envInt("REDIS_RETRIES", c.Redis.Retries)
	if key := os.Getenv("ADMIN_API_KEY"); key != "" {
		if c.Admin.APIKeys == nil {
			c.Admin.APIKeys = map[string]string{}
		}
		c.Admin.APIKeys["admin"] = key
	}

	c.Logging.Level = envOr("LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = envOr("LOG_FORMAT", c.Logging.Format)
}

// Validate checks what the serve command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if !strings.HasPrefix(c.Server.WebhookPath, "/") {
		errs = append(errs, fmt.Errorf("server.webhookPath must start with /"))
	}
	if c.Scan.MaxFileSize <= 0 {
		errs = append(errs, fmt.Errorf("MAX_FILE_SIZE must be positive"))
	}
	if c.Scan.TimeoutSec <= 0 || c.Scan.APITimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("SCAN_TIMEOUT and VT_API_TIMEOUT must be positive"))
	}
	if c.Scan.MaxAttempts <= 0 {
		errs = append(errs, fmt.Errorf("scan.maxAttempts must be positive"))
	}
	switch c.Model.Provider {
	case "openai", "gemini", "none":
	default:
		errs = append(errs, fmt.Errorf("MODEL_PROVIDER %q not one of openai, gemini, none", c.Model.Provider))
	}
	switch c.Staging.Backend {
	case "disk":
	case "minio":
		if c.Minio.Endpoint == "" || c.Minio.BucketName == "" {
			errs = append(errs, fmt.Errorf("minio staging needs endpoint and bucketName"))
		}
	default:
		errs = append(errs, fmt.Errorf("staging.backend %q not one of disk, minio", c.Staging.Backend))
	}
	switch c.Database.Driver {
	case "none", "sqlite":
	case "mysql", "postgres":
		if c.Database.DSN == "" && c.Database.Host == "" {
			errs = append(errs, fmt.Errorf("database %s needs dsn or host", c.Database.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("database.driver %q not one of none, sqlite, mysql, postgres", c.Database.Driver))
	}
	if c.Redis.Retries < 0 {
		errs = append(errs, fmt.Errorf("REDIS_RETRIES must be >= 0"))
	}
	if c.Bot.FloodBurst < 0 || c.Bot.FloodEverySec < 0 {
		errs = append(errs, fmt.Errorf("bot.floodBurst and bot.floodEverySeconds must be >= 0"))
	}
	if len(c.Bot.AllowedLanguages) == 0 {
		errs = append(errs, fmt.Errorf("ALLOWED_LANGUAGES must not be empty"))
	}
	return errors.Join(errs...)
}

// RequireSecrets checks the credentials the bot cannot run without.
func (c *Config) RequireSecrets() error {
	var errs []error
	if c.Telegram.Token == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	if c.Scan.APIKey == "" {
		errs = append(errs, errors.New("VT_API_KEY is required"))
	}
	return errors.Join(errs...)
}

// ModelEnabled reports whether narration has a language model.
func (c *Config) ModelEnabled() bool {
	switch c.Model.Provider {
	case "openai":
		return c.Model.APIKey != ""
	case "gemini":
		return c.Model.GeminiAPIKey != ""
	default:
		return false
	}
}

func (c *Config) ScanTimeout() time.Duration { return time.Duration(c.Scan.TimeoutSec) * time.Second }
func (c *Config) APITimeout() time.Duration  { return time.Duration(c.Scan.APITimeoutSec) * time.Second }
func (c *Config) PollInterval() time.Duration {
	return time.Duration(c.Scan.PollSec) * time.Second
}
func (c *Config) RetryDelay() time.Duration { return time.Duration(c.Scan.RetryDelaySec) * time.Second }
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Bot.SessionTTLMin) * time.Minute
}
func (c *Config) ShutdownTimeout() time.Duration {
	return time.Duration(c.Server.ShutdownSeconds) * time.Second
}

func (c *Config) RedisTimeout() time.Duration {
	return time.Duration(c.Redis.TimeoutSec) * time.Second
}
func (c *Config) RecordTimeout() time.Duration {
	return time.Duration(c.Scan.RecordTimeoutSec) * time.Second
}

// FloodEnabled reports whether the per-chat flood guard applies. A zero
// burst or a zero refill interval disables it; a bucket that never refills
// would lock a chat out for good.
func (c *Config) FloodEnabled() bool {
	return c.Bot.FloodBurst > 0 && c.Bot.FloodEverySec > 0
}

// FloodRate is the per-chat refill rate in analyses per second.
func (c *Config) FloodRate() float64 {
	if c.Bot.FloodEverySec <= 0 {
		return 0
	}
	return 1 / float64(c.Bot.FloodEverySec)
}

// Helper untuk build DSN MySQL
func (c *Config) MySQLDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
	)
}

// PostgresDSN builds a lib/pq connection string.
func (c *Config) PostgresDSN() string {
	if c.Database.DSN != "" {
		return c.Database.DSN
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host, c.Database.Port, c.Database.User, c.Database.Password, c.Database.Name)
}

// LoadEnvFile sets variables from a KEY=value file. Variables already in the
// environment win. A missing file is ignored.
func LoadEnvFile(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(strings.TrimPrefix(key, "export "))
		val = strings.TrimSpace(val)
		if len(val) >= 2 && (val[0] == '"' || val[0] == '\'') && val[len(val)-1] == val[0] {
			val = val[1 : len(val)-1]
		}
		if _, set := os.LookupEnv(key); set {
			continue
		}
		if err := os.Setenv(key, val); err != nil {
			return err
		}
	}
	return sc.Err()
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
