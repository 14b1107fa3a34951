package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/harun/lainbot/internal/logger"
)

// Config represents the main lainbot configuration
type Config struct {
	// Model endpoint
	AI AIConfig `json:"ai" mapstructure:"ai"`

	// Turn loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Tool providers
	Providers ProvidersConfig `json:"providers" mapstructure:"providers"`

	// Conversation persistence
	Session SessionConfig `json:"session" mapstructure:"session"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Metrics endpoint
	Metrics MetricsConfig `json:"metrics" mapstructure:"metrics"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// AIConfig selects the model endpoint.
type AIConfig struct {
	Provider     string `json:"provider" mapstructure:"provider"` // anthropic, openai
	APIKey       string `json:"api_key" mapstructure:"api_key"`
	Model        string `json:"model" mapstructure:"model"`
	MaxTokens    int    `json:"max_tokens" mapstructure:"max_tokens"`
	SystemPrompt string `json:"system_prompt" mapstructure:"system_prompt"`
	BaseURL      string `json:"base_url" mapstructure:"base_url"`
	MaxRetries   int    `json:"max_retries" mapstructure:"max_retries"`
}

// AgentConfig bounds a conversation turn.
type AgentConfig struct {
	ContextWindow     int `json:"context_window" mapstructure:"context_window"`
	MaxToolIterations int `json:"max_tool_iterations" mapstructure:"max_tool_iterations"`
	ToolConcurrency   int `json:"tool_concurrency" mapstructure:"tool_concurrency"`
}

// ProvidersConfig points at the provider declarations.
type ProvidersConfig struct {
	File            string        `json:"file" mapstructure:"file"`
	ToolTimeout     time.Duration `json:"tool_timeout" mapstructure:"tool_timeout"`
	ShutdownTimeout time.Duration `json:"shutdown_timeout" mapstructure:"shutdown_timeout"`
	Watch           bool          `json:"watch" mapstructure:"watch"`
}

// SessionConfig names the persisted conversation.
type SessionConfig struct {
	Dir  string `json:"dir" mapstructure:"dir"`
	Name string `json:"name" mapstructure:"name"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// MetricsConfig holds the Prometheus listener address; empty disables it.
type MetricsConfig struct {
	Addr string `json:"addr" mapstructure:"addr"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	logDefaults := logger.DefaultConfig()
	return &Config{
		AI: AIConfig{
			Provider:   "anthropic",
			Model:      "claude-3-7-sonnet-latest",
			MaxTokens:  1000,
			MaxRetries: 2,
		},
		Agent: AgentConfig{
			ContextWindow:     20,
			MaxToolIterations: 10,
			ToolConcurrency:   4,
		},
		Providers: ProvidersConfig{
			File:            "mcp_config.json",
			ToolTimeout:     30 * time.Second,
			ShutdownTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			Name: "default",
		},
		Logging: LoggingConfig{
			Level:     logDefaults.Level,
			Console:   logDefaults.Console,
			Pretty:    logDefaults.Pretty,
			MaxSize:   logDefaults.MaxSize,
			MaxAge:    logDefaults.MaxAge,
			Compress:  logDefaults.Compress,
			Redaction: logDefaults.Redaction,
		},
	}
}

// String returns a JSON representation of the config with the API key
// masked.
func (c *Config) String() string {
	masked := *c
	if masked.AI.APIKey != "" {
		masked.AI.APIKey = maskKey(masked.AI.APIKey)
	}
	data, _ := json.MarshalIndent(masked, "", "  ")
	return string(data)
}

func maskKey(key string) string {
	if len(key) <= 8 {
		return "****"
	}
	return key[:4] + strings.Repeat("*", 4) + key[len(key)-4:]
}

// LoggerConfig converts the logging section.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:     c.Logging.Level,
		File:      c.Logging.File,
		Console:   c.Logging.Console,
		Pretty:    c.Logging.Pretty,
		Redaction: c.Logging.Redaction,
		MaxSize:   c.Logging.MaxSize,
		MaxAge:    c.Logging.MaxAge,
		Compress:  c.Logging.Compress,
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if strings.TrimSpace(c.AI.APIKey) == "" {
		return fmt.Errorf("no model API key configured: set ANTHROPIC_API_KEY (or OPENAI_API_KEY with ai.provider=openai)")
	}

	switch c.AI.Provider {
	case "anthropic", "openai":
	default:
		return fmt.Errorf("invalid ai.provider %q (must be: anthropic, openai)", c.AI.Provider)
	}

	if c.AI.Model == "" {
		return fmt.Errorf("ai.model is required")
	}
	if c.AI.MaxTokens <= 0 {
		return fmt.Errorf("ai.max_tokens must be positive, got %d", c.AI.MaxTokens)
	}
	if c.AI.MaxRetries < 0 {
		return fmt.Errorf("ai.max_retries must be >= 0")
	}
	if c.Agent.ContextWindow < 1 {
		return fmt.Errorf("agent.context_window must be at least 1, got %d", c.Agent.ContextWindow)
	}
	if c.Agent.MaxToolIterations < 1 {
		return fmt.Errorf("agent.max_tool_iterations must be at least 1, got %d", c.Agent.MaxToolIterations)
	}
	if c.Agent.ToolConcurrency < 1 {
		return fmt.Errorf("agent.tool_concurrency must be at least 1, got %d", c.Agent.ToolConcurrency)
	}
	if c.Providers.ToolTimeout <= 0 {
		return fmt.Errorf("providers.tool_timeout must be positive")
	}
	if c.Providers.ShutdownTimeout <= 0 {
		return fmt.Errorf("providers.shutdown_timeout must be positive")
	}
	if strings.TrimSpace(c.Session.Name) == "" {
		return fmt.Errorf("session.name is required")
	}

	return nil
}
