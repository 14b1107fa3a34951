package provider

import (
	"errors"
	"fmt"
	"strings"
)

// Kind tells how a provider is reached.
type Kind string

const (
	KindLocalProcess   Kind = "local-process"
	KindRemoteEndpoint Kind = "remote-endpoint"
)

// Transports understood by the MCP dialer.
const (
	TransportStdio          = "stdio"
	TransportStreamableHTTP = "streamable-http"
	TransportSSE            = "sse"
)

// Config describes one tool provider. It is immutable once handed to a
// supervisor.
type Config struct {
	Name        string
	Kind        Kind
	Transport   string
	Command     string
	Args        []string
	Env         map[string]string
	URL         string
	Headers     map[string]string
	Description string
}

// Validate checks that the config can be dialed.
func (c Config) Validate() error {
	if c.Name == "" {
		return errors.New("provider name is required")
	}
	if strings.Contains(c.Name, "__") {
		return fmt.Errorf("provider name %q must not contain \"__\"", c.Name)
	}
	// "a_" joined with "ping" would read back as provider "a", tool "_ping".
	if strings.HasSuffix(c.Name, "_") {
		return fmt.Errorf("provider name %q must not end with \"_\"", c.Name)
	}

	switch c.Kind {
	case KindLocalProcess:
		if c.Command == "" {
			return fmt.Errorf("provider %q: command is required for %s", c.Name, c.Kind)
		}
	case KindRemoteEndpoint:
		if c.URL == "" {
			return fmt.Errorf("provider %q: url is required for %s", c.Name, c.Kind)
		}
		if c.Transport != "" && c.Transport != TransportStreamableHTTP && c.Transport != TransportSSE {
			return fmt.Errorf("provider %q: unsupported transport %q", c.Name, c.Transport)
		}
	default:
		return fmt.Errorf("provider %q: unknown kind %q", c.Name, c.Kind)
	}

	return nil
}

// Equal reports whether two configs would produce the same connection.
func (c Config) Equal(o Config) bool {
	if c.Name != o.Name || c.Kind != o.Kind || c.Transport != o.Transport ||
		c.Command != o.Command || c.URL != o.URL || c.Description != o.Description {
		return false
	}
	if len(c.Args) != len(o.Args) || len(c.Env) != len(o.Env) || len(c.Headers) != len(o.Headers) {
		return false
	}
	for i := range c.Args {
		if c.Args[i] != o.Args[i] {
			return false
		}
	}
	for k, v := range c.Env {
		if ov, ok := o.Env[k]; !ok || ov != v {
			return false
		}
	}
	for k, v := range c.Headers {
		if ov, ok := o.Headers[k]; !ok || ov != v {
			return false
		}
	}
	return true
}
