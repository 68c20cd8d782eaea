package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/titanous/json5"
)

// Config is the root configuration for the call-center service.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Server   ServerConfig   `json:"server"`
	Database DatabaseConfig `json:"database"`
	Meta     MetaConfig     `json:"meta"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Facebook FacebookConfig `json:"facebook"`
	Routing  RoutingConfig  `json:"routing"`
	Team     TeamConfig     `json:"team"`
	Notify   NotifyConfig   `json:"notify"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
	Timezone string `json:"timezone"`          // IANA zone for naive dates and report days
}

type ServerConfig struct {
	Host                string   `json:"host"`
	Port                int      `json:"port"`
	CORSOrigins         []string `json:"corsOrigins,omitempty"`
	ReadTimeoutSeconds  int      `json:"readTimeoutSeconds"`
	WriteTimeoutSeconds int      `json:"writeTimeoutSeconds"`
	RateLimitPerMinute  int      `json:"rateLimitPerMinute"` // 0 disables limiting
	RateLimitBurst      int      `json:"rateLimitBurst"`
}

type DatabaseConfig struct {
	Driver string `json:"driver"` // "sqlite" | "postgres"
	Path   string `json:"path,omitempty"`
	DSN    string `json:"dsn,omitempty"`
}

// MetaConfig holds the Meta app settings shared by both platforms.
type MetaConfig struct {
	AppID        string `json:"appId,omitempty"`
	AppSecret    string `json:"appSecret,omitempty"` // enables X-Hub-Signature-256 checks
	VerifyToken  string `json:"verifyToken,omitempty"`
	WebhookPath  string `json:"webhookPath"`
	GraphAPIBase string `json:"graphApiBase"`
}

type WhatsAppConfig struct {
	Enabled           bool   `json:"enabled"`
	AccessToken       string `json:"accessToken,omitempty"`
	PhoneNumberID     string `json:"phoneNumberId,omitempty"`
	BusinessAccountID string `json:"businessAccountId,omitempty"`
}

type FacebookConfig struct {
	Enabled         bool   `json:"enabled"`
	PageAccessToken string `json:"pageAccessToken,omitempty"`
	PageID          string `json:"pageId,omitempty"`
}

type RoutingConfig struct {
	DefaultAgent   string `json:"defaultAgent"`
	LockBackend    string `json:"lockBackend"` // "local" | "redis"
	RedisURL       string `json:"redisUrl,omitempty"`
	LockTTLSeconds int    `json:"lockTTLSeconds"`
}

type TeamConfig struct {
	LeaveLeadDays int `json:"leaveLeadDays"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled   bool   `json:"enabled"`
	Token     string `json:"token,omitempty"`
	ChatID    int64  `json:"chatId,omitempty"`
	ParseMode string `json:"parseMode,omitempty"`
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// Location loads general.timezone, falling back to UTC.
func (c *Config) Location() *time.Location {
	if c.General.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(c.General.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// DefaultConfigDir returns the default config directory (~/.callcenter).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".callcenter"
	}
	return filepath.Join(home, ".callcenter")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

// Load reads a JSON5 config file over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	return finish(cfg)
}

// LoadOrDefault is Load, except that a missing file yields the defaults
// plus environment overrides.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(ExpandPath(path)); os.IsNotExist(err) {
		return finish(Defaults())
	}
	return Load(path)
}

func finish(cfg *Config) (*Config, error) {
	ApplyEnv(cfg)
	cfg.Database.Path = ExpandPath(cfg.Database.Path)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
}

// ApplyEnv overrides file values with the deployment environment. Empty
// variables are ignored.
func ApplyEnv(cfg *Config) {
	str := func(name string, dst *string) {
		if v := strings.TrimSpace(os.Getenv(name)); v != "" {
			*dst = v
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		if strings.HasPrefix(v, "postgres://") || strings.HasPrefix(v, "postgresql://") {
			cfg.Database.Driver = "postgres"
			cfg.Database.DSN = v
		} else {
			cfg.Database.Driver = "sqlite"
			cfg.Database.Path = strings.TrimPrefix(v, "sqlite://")
		}
	}

	str("WHATSAPP_ACCESS_TOKEN", &cfg.WhatsApp.AccessToken)
	str("WHATSAPP_PHONE_ID", &cfg.WhatsApp.PhoneNumberID)
	str("WHATSAPP_BUSINESS_ACCOUNT_ID", &cfg.WhatsApp.BusinessAccountID)
	if cfg.WhatsApp.AccessToken != "" && cfg.WhatsApp.PhoneNumberID != "" {
		cfg.WhatsApp.Enabled = true
	}

	str("FACEBOOK_PAGE_ACCESS_TOKEN", &cfg.Facebook.PageAccessToken)
	str("FACEBOOK_PAGE_ID", &cfg.Facebook.PageID)
	if cfg.Facebook.PageAccessToken != "" {
		cfg.Facebook.Enabled = true
	}

	str("META_APP_ID", &cfg.Meta.AppID)
	str("META_APP_SECRET", &cfg.Meta.AppSecret)
	str("WEBHOOK_VERIFY_TOKEN", &cfg.Meta.VerifyToken)

	str("HOST", &cfg.Server.Host)
	if n, err := strconv.Atoi(os.Getenv("PORT")); err == nil {
		cfg.Server.Port = n
	}
	str("LOG_LEVEL", &cfg.General.LogLevel)
	cfg.General.LogLevel = strings.ToLower(cfg.General.LogLevel)
	str("LOG_FILE", &cfg.General.LogFile)

	str("DEFAULT_AGENT", &cfg.Routing.DefaultAgent)
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.Routing.RedisURL = v
		cfg.Routing.LockBackend = "redis"
	}

	str("TELEGRAM_BOT_TOKEN", &cfg.Notify.Telegram.Token)
	if n, err := strconv.ParseInt(os.Getenv("TELEGRAM_CHAT_ID"), 10, 64); err == nil {
		cfg.Notify.Telegram.ChatID = n
	}
	if cfg.Notify.Telegram.Token != "" && cfg.Notify.Telegram.ChatID != 0 {
		cfg.Notify.Telegram.Enabled = true
	}
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match // Keep original if no env var and no default
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	// Tokens live in this file.
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values and reports every
// problem at once.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}
	if cfg.General.Timezone != "" {
		if _, err := time.LoadLocation(cfg.General.Timezone); err != nil {
			errs = append(errs, fmt.Sprintf("general.timezone: unknown zone %q", cfg.General.Timezone))
		}
	}

	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 0 and 65535")
	}
	if cfg.Server.ReadTimeoutSeconds < 1 || cfg.Server.WriteTimeoutSeconds < 1 {
		errs = append(errs, "server.readTimeoutSeconds and server.writeTimeoutSeconds must be >= 1")
	}
	if cfg.Server.RateLimitPerMinute < 0 {
		errs = append(errs, "server.rateLimitPerMinute must be >= 0")
	}

	switch cfg.Database.Driver {
	case "sqlite":
		if cfg.Database.Path == "" {
			errs = append(errs, "database.path is required for sqlite")
		}
	case "postgres":
		if cfg.Database.DSN == "" {
			errs = append(errs, "database.dsn is required for postgres")
		}
	default:
		errs = append(errs, "database.driver must be one of: sqlite, postgres")
	}

	if !strings.HasPrefix(cfg.Meta.WebhookPath, "/") {
		errs = append(errs, "meta.webhookPath must start with /")
	}
	if cfg.Meta.GraphAPIBase == "" {
		errs = append(errs, "meta.graphApiBase is required")
	}

	if cfg.WhatsApp.Enabled && (cfg.WhatsApp.AccessToken == "" || cfg.WhatsApp.PhoneNumberID == "") {
		errs = append(errs, "whatsapp: accessToken and phoneNumberId are required when enabled")
	}
	if cfg.Facebook.Enabled && cfg.Facebook.PageAccessToken == "" {
		errs = append(errs, "facebook: pageAccessToken is required when enabled")
	}

	if strings.TrimSpace(cfg.Routing.DefaultAgent) == "" {
		errs = append(errs, "routing.defaultAgent is required")
	}
	switch cfg.Routing.LockBackend {
	case "local":
	case "redis":
		if cfg.Routing.RedisURL == "" {
			errs = append(errs, "routing.redisUrl is required for the redis lock backend")
		}
	default:
		errs = append(errs, "routing.lockBackend must be one of: local, redis")
	}
	if cfg.Routing.LockTTLSeconds < 1 {
		errs = append(errs, "routing.lockTTLSeconds must be >= 1")
	}

	if cfg.Team.LeaveLeadDays < 0 {
		errs = append(errs, "team.leaveLeadDays must be >= 0")
	}

	if tg := cfg.Notify.Telegram; tg.Enabled && (tg.Token == "" || tg.ChatID == 0) {
		errs = append(errs, "notify.telegram: token and chatId are required when enabled")
	}
	if cfg.Metrics.Enabled && !strings.HasPrefix(cfg.Metrics.Endpoint, "/") {
		errs = append(errs, "metrics.endpoint must start with /")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
