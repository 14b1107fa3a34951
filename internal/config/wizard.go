package config

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Wizard asks for the handful of settings needed to start chatting.
type Wizard struct {
	reader *bufio.Reader
	out    io.Writer
}

// NewWizard creates a wizard reading answers from in and prompting on out.
func NewWizard(in io.Reader, out io.Writer) *Wizard {
	return &Wizard{
		reader: bufio.NewReader(in),
		out:    out,
	}
}

// Run walks through the prompts starting from base. Empty answers keep
// the current value.
func (w *Wizard) Run(base *Config) (*Config, error) {
	cfg := *base
	validator := NewValidator()

	fmt.Fprintln(w.out, "=== lainbot configuration ===")
	fmt.Fprintln(w.out)

	for {
		provider, err := w.ask("Model provider (anthropic/openai)", cfg.AI.Provider)
		if err != nil {
			return nil, err
		}
		if err := validator.ValidateProvider(provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		if provider != cfg.AI.Provider {
			cfg.AI.Provider = provider
			if provider == "openai" && cfg.AI.Model == base.AI.Model {
				cfg.AI.Model = "gpt-4o"
			}
		}
		break
	}

	for {
		key, err := w.ask("API key (Enter to use the environment)", "")
		if err != nil {
			return nil, err
		}
		if key == "" {
			break
		}
		if err := validator.ValidateAPIKey(key, cfg.AI.Provider); err != nil {
			fmt.Fprintf(w.out, "Error: %v\n", err)
			continue
		}
		cfg.AI.APIKey = key
		break
	}

	model, err := w.ask("Model", cfg.AI.Model)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateModel(model); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.AI.Model)
	} else {
		cfg.AI.Model = model
	}

	window, err := w.ask("Messages sent per turn", strconv.Itoa(cfg.Agent.ContextWindow))
	if err != nil {
		return nil, err
	}
	if n, convErr := strconv.Atoi(window); convErr != nil || validator.ValidateContextWindow(n) != nil {
		fmt.Fprintf(w.out, "Warning: invalid window %q, keeping %d\n", window, cfg.Agent.ContextWindow)
	} else {
		cfg.Agent.ContextWindow = n
	}

	file, err := w.ask("Tool provider file", cfg.Providers.File)
	if err != nil {
		return nil, err
	}
	cfg.Providers.File = file

	level, err := w.ask("Log level (debug/info/warn/error)", cfg.Logging.Level)
	if err != nil {
		return nil, err
	}
	if err := validator.ValidateLogLevel(level); err != nil {
		fmt.Fprintf(w.out, "Warning: %v, keeping %s\n", err, cfg.Logging.Level)
	} else {
		cfg.Logging.Level = level
	}

	fmt.Fprintln(w.out)
	fmt.Fprintln(w.out, "Configuration complete!")

	return &cfg, nil
}

func (w *Wizard) ask(prompt, current string) (string, error) {
	if current != "" {
		fmt.Fprintf(w.out, "%s [%s]: ", prompt, current)
	} else {
		fmt.Fprintf(w.out, "%s: ", prompt)
	}

	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	line = strings.TrimSpace(line)
	if line == "" {
		return current, nil
	}
	return line, nil
}
