package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	envPrefix      = "LAINBOT"
	appDir         = ".lainbot"
	configFileName = "lainbot.json"
)

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

// Load reads defaults, the optional config file and the environment, in
// increasing order of precedence. A missing config file is not an error.
func (l *Loader) Load() (*Config, error) {
	v := newViper()

	configPath := l.GetConfigPath()
	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			v.SetConfigFile(configPath)
			if filepath.Ext(configPath) == "" {
				v.SetConfigType("json")
			}
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		} else if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to stat config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if cfg.AI.APIKey == "" {
		cfg.AI.APIKey = providerAPIKey(cfg.AI.Provider)
	}

	if cfg.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		cfg.DataDir = filepath.Join(home, appDir)
	}
	if cfg.Logging.File == "" {
		cfg.Logging.File = filepath.Join(cfg.DataDir, "lainbot.log")
	}
	if cfg.Session.Dir == "" {
		cfg.Session.Dir = filepath.Join(cfg.DataDir, "sessions")
	}

	return cfg, nil
}

// newViper registers every default so that environment overrides apply
// to keys absent from the config file.
func newViper() *viper.Viper {
	v := viper.New()
	defaults := DefaultConfig()

	v.SetDefault("ai.provider", defaults.AI.Provider)
	v.SetDefault("ai.api_key", "")
	v.SetDefault("ai.model", defaults.AI.Model)
	v.SetDefault("ai.max_tokens", defaults.AI.MaxTokens)
	v.SetDefault("ai.system_prompt", "")
	v.SetDefault("ai.base_url", "")
	v.SetDefault("ai.max_retries", defaults.AI.MaxRetries)

	v.SetDefault("agent.context_window", defaults.Agent.ContextWindow)
	v.SetDefault("agent.max_tool_iterations", defaults.Agent.MaxToolIterations)
	v.SetDefault("agent.tool_concurrency", defaults.Agent.ToolConcurrency)

	v.SetDefault("providers.file", defaults.Providers.File)
	v.SetDefault("providers.tool_timeout", defaults.Providers.ToolTimeout)
	v.SetDefault("providers.shutdown_timeout", defaults.Providers.ShutdownTimeout)
	v.SetDefault("providers.watch", defaults.Providers.Watch)

	v.SetDefault("session.dir", "")
	v.SetDefault("session.name", defaults.Session.Name)

	v.SetDefault("logging.level", defaults.Logging.Level)
	v.SetDefault("logging.file", "")
	v.SetDefault("logging.console", defaults.Logging.Console)
	v.SetDefault("logging.pretty", defaults.Logging.Pretty)
	v.SetDefault("logging.max_size", defaults.Logging.MaxSize)
	v.SetDefault("logging.max_age", defaults.Logging.MaxAge)
	v.SetDefault("logging.compress", defaults.Logging.Compress)
	v.SetDefault("logging.redaction", defaults.Logging.Redaction)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("data_dir", "")

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Variable names understood by earlier releases and by MCP tooling.
	_ = v.BindEnv("providers.file", "LAINBOT_PROVIDERS_FILE", "MCP_CONFIG")
	_ = v.BindEnv("agent.context_window", "LAINBOT_AGENT_CONTEXT_WINDOW", "MAX_CONTEXT_MESSAGES")

	return v
}

// providerAPIKey reads the vendor variable for the selected endpoint.
func providerAPIKey(provider string) string {
	switch provider {
	case "openai":
		return os.Getenv("OPENAI_API_KEY")
	default:
		if key := os.Getenv("ANTHROPIC_API_KEY"); key != "" {
			return key
		}
		return os.Getenv("Anthropic_API_key")
	}
}

// Save writes cfg as JSON. The file holds the API key, so it is only
// readable by its owner.
func (l *Loader) Save(cfg *Config) error {
	configPath := l.GetConfigPath()
	if configPath == "" {
		return fmt.Errorf("failed to resolve config path")
	}

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	v := viper.New()
	v.SetConfigType("json")
	v.SetConfigPermissions(0600)

	v.Set("ai", cfg.AI)
	v.Set("agent", cfg.Agent)
	v.Set("providers", map[string]any{
		"file":             cfg.Providers.File,
		"tool_timeout":     cfg.Providers.ToolTimeout.String(),
		"shutdown_timeout": cfg.Providers.ShutdownTimeout.String(),
		"watch":            cfg.Providers.Watch,
	})
	v.Set("session", cfg.Session)
	v.Set("logging", cfg.Logging)
	v.Set("metrics", cfg.Metrics)
	v.Set("data_dir", cfg.DataDir)

	if err := v.WriteConfigAs(configPath); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
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
	return filepath.Join(home, appDir, configFileName)
}

// Load is a convenience function that creates a loader and loads the config
func Load(configPath string) (*Config, error) {
	return NewLoader(configPath).Load()
}
