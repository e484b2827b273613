package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const (
	defaultDataDirName    = ".archcritic"
	defaultKeysFileName   = "keys.json"
	defaultModel          = "gpt-4o-mini"
	defaultMaxTokens      = 450
	defaultMinImageBytes  = 10_000
	defaultAttemptTimeout = 60
	defaultMaxAttempts    = 4
	maxAttemptsLimit      = 10
	defaultInitialBackoff = 1000
	defaultMaxImageSide   = 1024
	defaultJPEGQuality    = 80
	defaultKeyQuota       = 10
	defaultMaxConcurrent  = 16
	defaultMaxFileBytes   = 20 << 20
	defaultGatewayHost    = "0.0.0.0"
	defaultGatewayPort    = 18790

	BackendFile   = "file"
	BackendMemory = "memory"
	BackendRedis  = "redis"

	ProviderOpenAI  = "openai"
	ProviderFantasy = "fantasy"
)

// ApplyDefaults fills unset fields with the reference policy values and resolves the key store path.
func ApplyDefaults(cfg *Config) error {
	if cfg == nil {
		return nil
	}

	v := &cfg.Vision
	v.Provider = strings.ToLower(strings.TrimSpace(v.Provider))
	if v.Provider == "" {
		v.Provider = ProviderOpenAI
	}
	v.Model = strings.TrimSpace(v.Model)
	if v.Model == "" {
		v.Model = defaultModel
	}
	v.AlternateModel = strings.TrimSpace(v.AlternateModel)
	setIfZero(&v.MaxTokens, defaultMaxTokens)
	setIfZero(&v.MinImageBytes, defaultMinImageBytes)
	setIfZero(&v.AttemptTimeoutSeconds, defaultAttemptTimeout)
	setIfZero(&v.MaxAttempts, defaultMaxAttempts)
	if v.MaxAttempts > maxAttemptsLimit {
		return fmt.Errorf("vision.max_attempts must be at most %d, got %d", maxAttemptsLimit, v.MaxAttempts)
	}
	setIfZero(&v.InitialBackoffMillis, defaultInitialBackoff)
	setIfZero(&v.MaxImageSide, defaultMaxImageSide)
	setIfZero(&v.JPEGQuality, defaultJPEGQuality)

	q := &cfg.Quota
	q.Backend = strings.ToLower(strings.TrimSpace(q.Backend))
	if q.Backend == "" {
		q.Backend = BackendFile
	}
	setIfZero(&q.DefaultQuota, defaultKeyQuota)
	if q.Backend == BackendFile {
		path, err := resolveKeysPath(q.Path)
		if err != nil {
			return err
		}
		q.Path = path
	}

	c := &cfg.Cache
	c.Backend = strings.ToLower(strings.TrimSpace(c.Backend))
	if c.Backend == "" {
		c.Backend = BackendMemory
	}

	t := &cfg.Channels.Telegram
	setIfZero(&t.MaxConcurrent, defaultMaxConcurrent)
	if t.MaxFileBytes <= 0 {
		t.MaxFileBytes = defaultMaxFileBytes
	}

	if strings.TrimSpace(cfg.Gateway.Host) == "" {
		cfg.Gateway.Host = defaultGatewayHost
	}
	setIfZero(&cfg.Gateway.Port, defaultGatewayPort)

	return nil
}

func setIfZero(target *int, value int) {
	if *target <= 0 {
		*target = value
	}
}

// resolveKeysPath normalizes the key file location, defaulting to ~/.archcritic/keys.json.
func resolveKeysPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		trimmed = filepath.Join(home, defaultDataDirName, defaultKeysFileName)
	}

	expanded, err := expandHome(trimmed)
	if err != nil {
		return "", err
	}

	absPath, err := filepath.Abs(expanded)
	if err != nil {
		return "", fmt.Errorf("resolve absolute keys path: %w", err)
	}

	return filepath.Clean(absPath), nil
}

func expandHome(path string) (string, error) {
	if path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return home, nil
	}

	prefix := "~" + string(filepath.Separator)
	if strings.HasPrefix(path, prefix) {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		return filepath.Join(home, strings.TrimPrefix(path, prefix)), nil
	}

	return path, nil
}
