package provider

import (
	"errors"
	"fmt"
)

var (
	// ErrNotReady is returned for calls made before the handshake finished.
	ErrNotReady = errors.New("provider not ready")
	// ErrStopped is returned for calls made after the connection was stopped.
	ErrStopped = errors.New("provider stopped")
)

// ConnectionError reports a failed transport or handshake.
type ConnectionError struct {
	Provider string
	Err      error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("provider %s: connection failed: %v", e.Provider, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// DiscoveryError reports a failed tool listing. The connection stays usable
// with an empty tool list.
type DiscoveryError struct {
	Provider string
	Err      error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("provider %s: tool discovery failed: %v", e.Provider, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ToolInvocationError carries the payload of a tool call the provider
// reported as failed.
type ToolInvocationError struct {
	Provider string
	Tool     string
	Payload  string
}

func (e *ToolInvocationError) Error() string {
	return fmt.Sprintf("tool %s/%s failed: %s", e.Provider, e.Tool, e.Payload)
}
