package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// envBindings maps config keys to the environment variables that may set them.
// The unprefixed names are the ones the gateway has always been deployed with.
var envBindings = map[string][]string{
	"panel.base_url":   {"PANBEH_PANEL_BASE_URL", "MARZBAN_API_BASE_URL"},
	"panel.username":   {"PANBEH_PANEL_USERNAME", "MARZBAN_ADMIN_USERNAME"},
	"panel.password":   {"PANBEH_PANEL_PASSWORD", "MARZBAN_ADMIN_PASSWORD"},
	"ai.provider":      {"PANBEH_AI_PROVIDER"},
	"ai.api_key":       {"PANBEH_AI_API_KEY", "GEMINI_API_KEY", "API_KEY"},
	"ai.model":         {"PANBEH_AI_MODEL"},
	"gateway.host":     {"PANBEH_GATEWAY_HOST"},
	"gateway.port":     {"PANBEH_GATEWAY_PORT", "PORT"},
	"content.base_url": {"PANBEH_CONTENT_BASE_URL", "CONTENT_API_BASE_URL"},
	"logging.level":    {"PANBEH_LOGGING_LEVEL"},
	"logging.file":     {"PANBEH_LOGGING_FILE"},
	"tracing.enabled":  {"PANBEH_TRACING_ENABLED"},
	"tracing.endpoint": {"PANBEH_TRACING_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"},
}

// Loader handles configuration loading
type Loader struct {
	configPath string
}

// NewLoader creates a new config loader
func NewLoader(configPath string) *Loader {
	return &Loader{
		configPath: configPath,
	}
}

// Load reads the config file, if present, then applies environment overrides.
func (l *Loader) Load() (*Config, error) {
	configPath := l.GetConfigPath()

	v := viper.New()
	v.SetConfigType("json")
	v.SetEnvPrefix("PANBEH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	for key, envs := range envBindings {
		args := append([]string{key}, envs...)
		if err := v.BindEnv(args...); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", key, err)
		}
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, ".panbeh")
	}

	if cfg.Logging.AuditFile == "" {
		cfg.Logging.AuditFile = filepath.Join(cfg.DataDir, "audit.log")
	}

	return cfg, nil
}

// Save writes cfg as JSON to the loader's path.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("no config path available")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigFile(configPath)
	v.SetConfigType("json")

	v.Set("panel", cfg.Panel)
	v.Set("ai", cfg.AI)
	v.Set("gateway", cfg.Gateway)
	v.Set("content", cfg.Content)
	v.Set("session", cfg.Session)
	v.Set("catalog", cfg.Catalog)
	v.Set("logging", cfg.Logging)
	v.Set("tracing", cfg.Tracing)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfig(); err != nil {
		if os.IsNotExist(err) {
			if err := v.SafeWriteConfig(); err != nil {
				return fmt.Errorf("failed to write config file: %w", err)
			}
		} else {
			return fmt.Errorf("failed to write config file: %w", err)
		}
	}

	return nil
}

// GetConfigPath returns the config file path
func (l *Loader) GetConfigPath() string {
	if l.configPath != "" {
		return l.configPath
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".panbeh", "panbeh.json")
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	loader := NewLoader(configPath)
	return loader.Load()
}
