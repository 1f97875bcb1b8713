// Package config defines the runtime configuration and its loader.
package config

import (
	"encoding/json"
	"fmt"
)

// Config is the root tern configuration.
type Config struct {
	// Providers lists the configured provider endpoints.
	Providers []ProviderConfig `json:"providers" mapstructure:"providers"`

	// DefaultProvider names the provider used when none is given.
	DefaultProvider string `json:"default_provider" mapstructure:"default_provider"`

	// Agent holds the turn-loop defaults.
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Retry holds the provider retry policy.
	Retry RetryConfig `json:"retry" mapstructure:"retry"`

	// Breaker holds the circuit breaker settings.
	Breaker BreakerConfig `json:"breaker" mapstructure:"breaker"`

	// Session holds persistence settings.
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Tools holds tool gating settings.
	Tools ToolsConfig `json:"tools" mapstructure:"tools"`

	// Logging holds logging configuration.
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// DataDir is the root for state files (sessions, logs, credentials).
	DataDir string `json:"data_dir" mapstructure:"data_dir"`

	// WorkspacePath roots the file tools.
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`
}

// ProviderConfig describes one provider endpoint.
type ProviderConfig struct {
	Name      string  `json:"name" mapstructure:"name"`
	Family    string  `json:"family" mapstructure:"family"` // chat_completions, block_stream
	BaseURL   string  `json:"base_url" mapstructure:"base_url"`
	Model     string  `json:"model" mapstructure:"model"`
	Profile   string  `json:"profile" mapstructure:"profile"` // compatibility profile name
	APIKey    string  `json:"api_key" mapstructure:"api_key"`
	APIKeyRef string  `json:"api_key_ref" mapstructure:"api_key_ref"` // credential store key
	MaxTokens int     `json:"max_tokens" mapstructure:"max_tokens"`
	Temp      float64 `json:"temperature" mapstructure:"temperature"`
}

// AgentConfig holds the turn-loop bounds and prompt.
type AgentConfig struct {
	MaxTurns            int    `json:"max_turns" mapstructure:"max_turns"`
	MaxToolCallsPerTurn int    `json:"max_tool_calls_per_turn" mapstructure:"max_tool_calls_per_turn"`
	RequestTimeoutSecs  int    `json:"request_timeout_secs" mapstructure:"request_timeout_secs"`
	ToolTimeoutSecs     int    `json:"tool_timeout_secs" mapstructure:"tool_timeout_secs"`
	SystemPrompt        string `json:"system_prompt" mapstructure:"system_prompt"`
}

// RetryConfig holds exponential backoff settings.
type RetryConfig struct {
	MaxAttempts int     `json:"max_attempts" mapstructure:"max_attempts"`
	BaseDelayMs int     `json:"base_delay_ms" mapstructure:"base_delay_ms"`
	MaxDelayMs  int     `json:"max_delay_ms" mapstructure:"max_delay_ms"`
	Multiplier  float64 `json:"multiplier" mapstructure:"multiplier"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	FailureThreshold int `json:"failure_threshold" mapstructure:"failure_threshold"`
	CooldownSecs     int `json:"cooldown_secs" mapstructure:"cooldown_secs"`
}

// SessionConfig selects and tunes the session store.
type SessionConfig struct {
	Backend        string `json:"backend" mapstructure:"backend"` // file, sqlite, memory
	Dir            string `json:"dir" mapstructure:"dir"`
	DBPath         string `json:"db_path" mapstructure:"db_path"`
	CleanupAgeDays int    `json:"cleanup_age_days" mapstructure:"cleanup_age_days"`
}

// ToolsConfig holds tool gating settings.
type ToolsConfig struct {
	Mode  string   `json:"mode" mapstructure:"mode"` // read_only, full
	Allow []string `json:"allow" mapstructure:"allow"`
	Deny  []string `json:"deny" mapstructure:"deny"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// DefaultConfig returns a config with default values.
func DefaultConfig() *Config {
	return &Config{
		Providers: []ProviderConfig{
			{
				Name:      "openai",
				Family:    "chat_completions",
				BaseURL:   "https://api.openai.com",
				Model:     "gpt-4o",
				Profile:   "openai",
				APIKeyRef: "openai",
				MaxTokens: 4096,
				Temp:      0.7,
			},
		},
		DefaultProvider: "openai",
		Agent: AgentConfig{
			MaxTurns:            25,
			MaxToolCallsPerTurn: 10,
			RequestTimeoutSecs:  120,
			ToolTimeoutSecs:     30,
		},
		Retry: RetryConfig{
			MaxAttempts: 3,
			BaseDelayMs: 1000,
			MaxDelayMs:  30000,
			Multiplier:  2.0,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			CooldownSecs:     30,
		},
		Session: SessionConfig{
			Backend:        "file",
			CleanupAgeDays: 7,
		},
		Tools: ToolsConfig{
			Mode:  "read_only",
			Allow: []string{"*"},
		},
		Logging: LoggingConfig{
			Level:     "info",
			MaxSize:   64,
			MaxAge:    14,
			Compress:  true,
			Redaction: true,
		},
	}
}

// String returns a JSON representation of the config.
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if len(c.Providers) == 0 {
		return fmt.Errorf("at least one provider must be configured")
	}

	names := make(map[string]bool)
	for i, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider %d: name is required", i)
		}
		if names[p.Name] {
			return fmt.Errorf("provider %s: duplicate name", p.Name)
		}
		names[p.Name] = true

		if p.Family != "chat_completions" && p.Family != "block_stream" {
			return fmt.Errorf("provider %s: invalid family %s (must be: chat_completions, block_stream)", p.Name, p.Family)
		}
		if p.BaseURL == "" {
			return fmt.Errorf("provider %s: base_url is required", p.Name)
		}
		if p.Model == "" {
			return fmt.Errorf("provider %s: model is required", p.Name)
		}
	}

	if c.DefaultProvider != "" && !names[c.DefaultProvider] {
		return fmt.Errorf("default provider %s is not configured", c.DefaultProvider)
	}

	if c.Agent.MaxTurns < 0 || c.Agent.MaxToolCallsPerTurn < 0 {
		return fmt.Errorf("agent bounds cannot be negative")
	}

	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry max_attempts must be at least 1")
	}
	if c.Retry.Multiplier < 1 {
		return fmt.Errorf("retry multiplier must be at least 1")
	}

	if c.Breaker.FailureThreshold < 1 {
		return fmt.Errorf("breaker failure_threshold must be at least 1")
	}
	if c.Breaker.CooldownSecs < 1 {
		return fmt.Errorf("breaker cooldown_secs must be at least 1")
	}

	switch c.Session.Backend {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("invalid session backend %s (must be: file, sqlite, memory)", c.Session.Backend)
	}

	if c.Tools.Mode != "read_only" && c.Tools.Mode != "full" {
		return fmt.Errorf("invalid tool mode %s (must be: read_only, full)", c.Tools.Mode)
	}

	return nil
}
