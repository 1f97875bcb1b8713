package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator validates configuration values
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format for known providers.
func (v *Validator) ValidateAPIKey(key string, profile string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", profile)
	}

	switch profile {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	}

	return nil
}

// ValidateBaseURL checks a provider base URL.
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("base URL cannot be empty")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("base URL has no host")
	}
	return nil
}

// ValidateModel validates a model name.
func (v *Validator) ValidateModel(model string) error {
	if model == "" {
		return fmt.Errorf("model name cannot be empty")
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

// ValidateConfig performs comprehensive validation beyond the structural
// checks in Config.Validate, returning every problem found.
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errors []error

	for i, p := range cfg.Providers {
		if err := v.ValidateBaseURL(p.BaseURL); err != nil {
			errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.Name, err))
		}
		if err := v.ValidateModel(p.Model); err != nil {
			errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.Name, err))
		}
		if p.APIKey != "" {
			if err := v.ValidateAPIKey(p.APIKey, p.Profile); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.Name, err))
			}
		}
		if p.Temp != 0 {
			if err := v.ValidateTemperature(p.Temp); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.Name, err))
			}
		}
		if p.MaxTokens != 0 {
			if err := v.ValidateMaxTokens(p.MaxTokens); err != nil {
				errors = append(errors, fmt.Errorf("provider %d (%s): %w", i, p.Name, err))
			}
		}
	}

	if cfg.Agent.RequestTimeoutSecs < 0 {
		errors = append(errors, fmt.Errorf("agent.request_timeout_secs must be >= 0"))
	}
	if cfg.Agent.ToolTimeoutSecs < 0 {
		errors = append(errors, fmt.Errorf("agent.tool_timeout_secs must be >= 0"))
	}

	if cfg.Retry.BaseDelayMs < 0 {
		errors = append(errors, fmt.Errorf("retry.base_delay_ms must be >= 0"))
	}
	if cfg.Retry.MaxDelayMs < cfg.Retry.BaseDelayMs {
		errors = append(errors, fmt.Errorf("retry.max_delay_ms must be >= retry.base_delay_ms"))
	}

	if cfg.Session.CleanupAgeDays < 0 {
		errors = append(errors, fmt.Errorf("session.cleanup_age_days must be >= 0"))
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errors = append(errors, err)
	}

	return errors
}
