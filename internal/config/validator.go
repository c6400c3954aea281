package config

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/robfig/cron/v3"
)

// Validator performs advisory checks beyond Config.Validate.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an engine API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "gemini":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Gemini API key format (should start with AIza)")
		}
	}

	return nil
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateMaxTokens validates max tokens value
func (v *Validator) ValidateMaxTokens(tokens int) error {
	if tokens <= 0 {
		return fmt.Errorf("max tokens must be positive, got %d", tokens)
	}
	if tokens > 200000 {
		return fmt.Errorf("max tokens too large (max 200000), got %d", tokens)
	}
	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateSchedule checks a session sweep schedule.
func (v *Validator) ValidateSchedule(spec string) error {
	if spec == "" {
		return fmt.Errorf("sweep schedule cannot be empty")
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", spec, err)
	}
	return nil
}

// ValidateOrigin checks one CORS origin.
func (v *Validator) ValidateOrigin(origin string) error {
	if origin == "*" {
		return nil
	}
	u, err := url.Parse(origin)
	if err != nil || u.Scheme == "" || u.Host == "" || (u.Path != "" && u.Path != "/") {
		return fmt.Errorf("invalid allowed origin: %s", origin)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	if err := cfg.Validate(); err != nil {
		errors = append(errors, err)
	}

	if err := v.ValidateAPIKey(cfg.AI.APIKey, cfg.AI.Provider); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateTemperature(cfg.AI.Temperature); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateMaxTokens(cfg.AI.MaxTokens); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}
	if err := v.ValidateSchedule(cfg.Session.SweepSchedule); err != nil {
		errors = append(errors, err)
	}
	for _, origin := range cfg.Gateway.AllowedOrigins {
		if err := v.ValidateOrigin(origin); err != nil {
			errors = append(errors, err)
		}
	}
	if cfg.Session.IdleTimeoutMinutes <= 0 {
		errors = append(errors, fmt.Errorf("session idle_timeout_minutes must be positive"))
	}
	if cfg.Catalog.RewardBonusGB < 0 {
		errors = append(errors, fmt.Errorf("catalog reward_bonus_gb must be >= 0"))
	}

	return errors
}
