package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/harun/lainbot/pkg/provider"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ProvidersSchema is the JSON Schema of a provider declaration file.
const ProvidersSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["servers"],
  "properties": {
    "servers": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name"],
        "properties": {
          "name": {
            "type": "string",
            "minLength": 1,
            "pattern": "^(?:[^_]|_[^_])*$"
          },
          "transport": {
            "type": "string",
            "enum": ["stdio", "streamable-http", "http", "sse"]
          },
          "command": {"type": "string"},
          "args": {"type": "array", "items": {"type": "string"}},
          "env": {"type": "object", "additionalProperties": {"type": "string"}},
          "url": {"type": "string"},
          "headers": {"type": "object", "additionalProperties": {"type": "string"}},
          "description": {"type": "string"}
        },
        "allOf": [
          {
            "if": {
              "anyOf": [
                {"not": {"required": ["transport"]}},
                {"properties": {"transport": {"const": "stdio"}}}
              ]
            },
            "then": {"required": ["command"], "properties": {"command": {"minLength": 1}}}
          },
          {
            "if": {
              "required": ["transport"],
              "properties": {"transport": {"enum": ["streamable-http", "http", "sse"]}}
            },
            "then": {"required": ["url"], "properties": {"url": {"minLength": 1}}}
          }
        ]
      }
    }
  }
}`

// ServerEntry is one declared provider as written in the file.
type ServerEntry struct {
	Name        string            `json:"name" yaml:"name"`
	Transport   string            `json:"transport,omitempty" yaml:"transport,omitempty"`
	Command     string            `json:"command,omitempty" yaml:"command,omitempty"`
	Args        []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env         map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	URL         string            `json:"url,omitempty" yaml:"url,omitempty"`
	Headers     map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Description string            `json:"description,omitempty" yaml:"description,omitempty"`
}

// ProvidersFile is the provider declaration document.
type ProvidersFile struct {
	Servers []ServerEntry `json:"servers" yaml:"servers"`
}

var providersSchemaLoader = gojsonschema.NewStringLoader(ProvidersSchema)

// LoadProviders reads the provider file at path. A missing file declares
// no providers. JSON and YAML are accepted; the format follows the file
// extension, JSON being the default.
func LoadProviders(path string) ([]provider.Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		log.Info().Str("path", path).Msg("No provider file found, starting without tool providers")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read provider file: %w", err)
	}

	configs, err := ParseProviders(data, formatOf(path))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	log.Debug().Str("path", path).Int("providers", len(configs)).Msg("Loaded provider file")
	return configs, nil
}

func formatOf(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return "yaml"
	default:
		return "json"
	}
}

// ParseProviders decodes, validates and converts a provider document.
func ParseProviders(data []byte, format string) ([]provider.Config, error) {
	var doc any
	switch format {
	case "yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse provider YAML: %w", err)
		}
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("failed to parse provider JSON: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported provider file format %q", format)
	}

	normalizeTransports(doc)

	if err := validateProviders(doc); err != nil {
		return nil, err
	}

	// The document is already validated; a JSON round trip gives one
	// decoding path for both formats.
	normalized, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to re-encode provider file: %w", err)
	}
	var file ProvidersFile
	if err := json.Unmarshal(normalized, &file); err != nil {
		return nil, fmt.Errorf("failed to decode provider file: %w", err)
	}

	configs := make([]provider.Config, 0, len(file.Servers))
	for _, s := range file.Servers {
		configs = append(configs, s.ProviderConfig())
	}
	return configs, nil
}

// normalizeTransports lower-cases transport names before validation.
func normalizeTransports(doc any) {
	root, ok := doc.(map[string]any)
	if !ok {
		return
	}
	servers, ok := root["servers"].([]any)
	if !ok {
		return
	}
	for _, s := range servers {
		entry, ok := s.(map[string]any)
		if !ok {
			continue
		}
		if t, ok := entry["transport"].(string); ok {
			entry["transport"] = strings.ToLower(strings.TrimSpace(t))
		}
	}
}

func validateProviders(doc any) error {
	result, err := gojsonschema.Validate(providersSchemaLoader, gojsonschema.NewGoLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("invalid provider file: %s", strings.Join(msgs, "; "))
}

// ProviderConfig converts the entry to a supervisor config.
func (s ServerEntry) ProviderConfig() provider.Config {
	cfg := provider.Config{
		Name:        s.Name,
		Command:     s.Command,
		Args:        s.Args,
		Env:         s.Env,
		URL:         s.URL,
		Headers:     s.Headers,
		Description: s.Description,
	}

	switch s.Transport {
	case "", provider.TransportStdio:
		cfg.Kind = provider.KindLocalProcess
		cfg.Transport = provider.TransportStdio
	case provider.TransportSSE:
		cfg.Kind = provider.KindRemoteEndpoint
		cfg.Transport = provider.TransportSSE
	default:
		cfg.Kind = provider.KindRemoteEndpoint
		cfg.Transport = provider.TransportStreamableHTTP
	}
	return cfg
}
