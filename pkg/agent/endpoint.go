package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	anthropicoption "github.com/anthropics/anthropic-sdk-go/option"
	"github.com/openai/openai-go"
	openaioption "github.com/openai/openai-go/option"
)

// ErrorKind classifies model endpoint failures.
type ErrorKind int

const (
	ErrorUnknown ErrorKind = iota
	ErrorRateLimit
	ErrorConnection
	ErrorAPI
	ErrorCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case ErrorRateLimit:
		return "rate_limit"
	case ErrorConnection:
		return "connection"
	case ErrorAPI:
		return "api"
	case ErrorCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// ModelError is returned by endpoints for every failed streaming call.
type ModelError struct {
	Endpoint   string
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *ModelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s error (status %d): %v", e.Endpoint, e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %s error: %v", e.Endpoint, e.Kind, e.Err)
}

func (e *ModelError) Unwrap() error { return e.Err }

// Retryable reports whether the call may be repeated as is.
func (e *ModelError) Retryable() bool {
	return e.Kind == ErrorConnection
}

// newModelError classifies err. statusCode is the HTTP status reported by
// the SDK, or zero when the request never got a response.
func newModelError(endpoint string, statusCode int, err error) *ModelError {
	me := &ModelError{Endpoint: endpoint, StatusCode: statusCode, Err: err}

	var netErr net.Error
	var urlErr *url.Error
	switch {
	case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
		me.Kind = ErrorCanceled
	case statusCode == http.StatusTooManyRequests:
		me.Kind = ErrorRateLimit
	case statusCode >= 500:
		me.Kind = ErrorConnection
	case statusCode != 0:
		me.Kind = ErrorAPI
	case errors.As(err, &netErr), errors.As(err, &urlErr):
		me.Kind = ErrorConnection
	default:
		me.Kind = ErrorUnknown
	}
	return me
}

// EndpointConfig selects and configures a model endpoint.
type EndpointConfig struct {
	Provider   string
	APIKey     string
	BaseURL    string
	MaxRetries int
}

// NewEndpoint creates the endpoint named by cfg.Provider.
func NewEndpoint(cfg EndpointConfig) (ModelEndpoint, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("model API key is required")
	}

	switch cfg.Provider {
	case "", "anthropic":
		opts := []anthropicoption.RequestOption{
			anthropicoption.WithAPIKey(cfg.APIKey),
			anthropicoption.WithMaxRetries(cfg.MaxRetries),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, anthropicoption.WithBaseURL(cfg.BaseURL))
		}
		return NewAnthropicEndpoint(anthropic.NewClient(opts...)), nil
	case "openai":
		opts := []openaioption.RequestOption{
			openaioption.WithAPIKey(cfg.APIKey),
			openaioption.WithMaxRetries(cfg.MaxRetries),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openaioption.WithBaseURL(cfg.BaseURL))
		}
		return NewOpenAIEndpoint(openai.NewClient(opts...)), nil
	default:
		return nil, fmt.Errorf("unsupported model provider: %s", cfg.Provider)
	}
}
