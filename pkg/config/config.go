package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	envConfigPath        = "ARCHCRITIC_CONFIG"
	envTelegramBotToken  = "TELEGRAM_BOT_TOKEN"
	envTelegramAllowFrom = "TELEGRAM_ALLOW_FROM"
	envOpenAIModel       = "OPENAI_MODEL"
	envOpenAIMaxTokens   = "OPENAI_MAX_TOKENS"
	envKeysFile          = "ARCHCRITIC_KEYS_FILE"
	envRedisAddr         = "ARCHCRITIC_REDIS_ADDR"
)

// Config is the root runtime configuration loaded from config.json or config.yaml.
type Config struct {
	Channels  ChannelsConfig  `json:"channels" yaml:"channels"`
	Providers ProvidersConfig `json:"providers" yaml:"providers"`
	Vision    VisionConfig    `json:"vision" yaml:"vision"`
	Quota     QuotaConfig     `json:"quota" yaml:"quota"`
	Cache     CacheConfig     `json:"cache" yaml:"cache"`
	Redis     RedisConfig     `json:"redis" yaml:"redis"`
	Gateway   GatewayConfig   `json:"gateway" yaml:"gateway"`
	Logging   LoggingConfig   `json:"logging,omitempty" yaml:"logging,omitempty"`
}

// LoggingConfig controls structured log output format and verbosity.
type LoggingConfig struct {
	Format    string `json:"format,omitempty" yaml:"format,omitempty"`
	Level     string `json:"level,omitempty" yaml:"level,omitempty"`
	AddSource bool   `json:"add_source,omitempty" yaml:"add_source,omitempty"`
	Output    string `json:"output,omitempty" yaml:"output,omitempty"`
}

// ProvidersConfig stores per-provider connection settings.
type ProvidersConfig struct {
	OpenAI OpenAIProviderConfig `json:"openai" yaml:"openai"`
}

// OpenAIProviderConfig configures the OpenAI provider client.
type OpenAIProviderConfig struct {
	BaseURL               string `json:"base_url" yaml:"base_url"`
	Organization          string `json:"organization" yaml:"organization"`
	Project               string `json:"project" yaml:"project"`
	APIKeyEnv             string `json:"api_key_env" yaml:"api_key_env"`
	RequestTimeoutSeconds int    `json:"request_timeout_seconds" yaml:"request_timeout_seconds"`
}

// VisionConfig tunes the analysis pipeline: models, ladder, retry and image normalization.
type VisionConfig struct {
	Provider              string `json:"provider" yaml:"provider"`
	Model                 string `json:"model" yaml:"model"`
	AlternateModel        string `json:"alternate_model" yaml:"alternate_model"`
	MaxTokens             int    `json:"max_tokens" yaml:"max_tokens"`
	MinImageBytes         int    `json:"min_image_bytes" yaml:"min_image_bytes"`
	AttemptTimeoutSeconds int    `json:"attempt_timeout_seconds" yaml:"attempt_timeout_seconds"`
	MaxAttempts           int    `json:"max_attempts" yaml:"max_attempts"`
	InitialBackoffMillis  int    `json:"initial_backoff_ms" yaml:"initial_backoff_ms"`
	MaxImageSide          int    `json:"max_image_side" yaml:"max_image_side"`
	JPEGQuality           int    `json:"jpeg_quality" yaml:"jpeg_quality"`
}

// QuotaConfig selects the key store backend.
type QuotaConfig struct {
	Backend      string `json:"backend" yaml:"backend"`
	Path         string `json:"path" yaml:"path"`
	DefaultQuota int    `json:"default_quota" yaml:"default_quota"`
	KeyPrefix    string `json:"key_prefix" yaml:"key_prefix"`
}

// CacheConfig selects the analysis result cache backend.
type CacheConfig struct {
	Backend    string `json:"backend" yaml:"backend"`
	TTLSeconds int    `json:"ttl_seconds" yaml:"ttl_seconds"`
	KeyPrefix  string `json:"key_prefix" yaml:"key_prefix"`
}

// RedisConfig is shared by the redis-backed quota store and result cache.
type RedisConfig struct {
	Addr     string `json:"addr" yaml:"addr"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// ChannelsConfig stores transport adapter settings.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram" yaml:"telegram"`
}

// TelegramConfig configures Telegram channel integration.
type TelegramConfig struct {
	Enabled       bool     `json:"enabled" yaml:"enabled"`
	Token         string   `json:"token" yaml:"token"`
	AllowFrom     []string `json:"allow_from" yaml:"allow_from"`
	MaxConcurrent int      `json:"max_concurrent" yaml:"max_concurrent"`
	MaxFileBytes  int64    `json:"max_file_bytes" yaml:"max_file_bytes"`
}

// GatewayConfig configures HTTP status server bind settings.
type GatewayConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

// LoadConfig resolves the config file, unmarshals it, and applies environment overrides and defaults.
//
// A missing config file is not an error unless ARCHCRITIC_CONFIG points somewhere explicitly;
// the bot can run from environment variables alone.
func LoadConfig() (*Config, error) {
	configPath, err := findConfigPath()
	if err != nil {
		return nil, err
	}

	var cfg Config
	if configPath != "" {
		if err := readConfigFile(configPath, &cfg); err != nil {
			return nil, err
		}
	}

	applyEnvOverrides(&cfg)
	if err := ApplyDefaults(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func readConfigFile(path string, cfg *Config) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	default:
		if err := json.Unmarshal(content, cfg); err != nil {
			return fmt.Errorf("parse config file: %w", err)
		}
	}

	return nil
}

// applyEnvOverrides injects selected env-driven settings on top of file config.
func applyEnvOverrides(cfg *Config) {
	if cfg == nil {
		return
	}

	if token := strings.TrimSpace(os.Getenv(envTelegramBotToken)); token != "" {
		cfg.Channels.Telegram.Token = token
		cfg.Channels.Telegram.Enabled = true
	}

	if rawAllowFrom := strings.TrimSpace(os.Getenv(envTelegramAllowFrom)); rawAllowFrom != "" {
		cfg.Channels.Telegram.AllowFrom = parseCSV(rawAllowFrom)
	}

	if model := strings.TrimSpace(os.Getenv(envOpenAIModel)); model != "" {
		cfg.Vision.Model = model
	}

	if raw := strings.TrimSpace(os.Getenv(envOpenAIMaxTokens)); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.Vision.MaxTokens = value
		}
	}

	if path := strings.TrimSpace(os.Getenv(envKeysFile)); path != "" {
		cfg.Quota.Path = path
	}

	if addr := strings.TrimSpace(os.Getenv(envRedisAddr)); addr != "" {
		cfg.Redis.Addr = addr
	}
}

// parseCSV splits comma-separated values and returns a trimmed compact slice.
func parseCSV(input string) []string {
	parts := strings.Split(input, ",")
	clean := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		clean = append(clean, trimmed)
	}

	return slices.Clip(clean)
}

// findConfigPath resolves the active config file location.
//
// Precedence is ARCHCRITIC_CONFIG first, then cwd-local fallback paths. An empty
// path with a nil error means no file was found.
func findConfigPath() (string, error) {
	if value := strings.TrimSpace(os.Getenv(envConfigPath)); value != "" {
		if info, err := os.Stat(value); err == nil && !info.IsDir() {
			return value, nil
		}
		return "", fmt.Errorf("%s does not point to a file: %s", envConfigPath, value)
	}

	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get current working directory: %w", err)
	}

	candidates := []string{
		filepath.Join(cwd, "config.json"),
		filepath.Join(cwd, "config", "config.json"),
		filepath.Join(cwd, "config.yaml"),
		filepath.Join(cwd, "config", "config.yaml"),
	}

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	return "", nil
}
