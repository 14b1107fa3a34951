package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validator checks individual settings. Its findings are advisory: the
// hard requirements live in Config.Validate.
type Validator struct{}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{}
}

// ValidateAPIKey validates an API key format
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
	}

	return nil
}

// ValidateProvider validates the model endpoint name.
func (v *Validator) ValidateProvider(provider string) error {
	switch provider {
	case "anthropic", "openai":
		return nil
	default:
		return fmt.Errorf("invalid provider: %s (must be one of: anthropic, openai)", provider)
	}
}

// ValidateModel validates a model name
func (v *Validator) ValidateModel(model string) error {
	if strings.TrimSpace(model) == "" {
		return fmt.Errorf("model name cannot be empty")
	}
	if strings.ContainsAny(model, " \t\n") {
		return fmt.Errorf("model name %q must not contain whitespace", model)
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

// ValidateContextWindow validates the number of messages sent per turn.
func (v *Validator) ValidateContextWindow(n int) error {
	if n < 1 {
		return fmt.Errorf("context window must be at least 1, got %d", n)
	}
	if n > 1000 {
		return fmt.Errorf("context window too large (max 1000), got %d", n)
	}
	return nil
}

// ValidateBaseURL validates an endpoint override.
func (v *Validator) ValidateBaseURL(raw string) error {
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("base URL must use http or https, got %q", u.Scheme)
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

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	if err := v.ValidateProvider(cfg.AI.Provider); err != nil {
		errs = append(errs, err)
	} else if cfg.AI.APIKey != "" && cfg.AI.BaseURL == "" {
		// Gateways behind a base URL use their own key formats.
		if err := v.ValidateAPIKey(cfg.AI.APIKey, cfg.AI.Provider); err != nil {
			errs = append(errs, err)
		}
	}
	if err := v.ValidateModel(cfg.AI.Model); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateMaxTokens(cfg.AI.MaxTokens); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateBaseURL(cfg.AI.BaseURL); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateContextWindow(cfg.Agent.ContextWindow); err != nil {
		errs = append(errs, err)
	}
	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
