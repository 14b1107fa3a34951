package provider

import (
	"context"

	"github.com/harun/lainbot/pkg/catalog"
)

// Session is a live protocol session with one provider.
type Session interface {
	// Initialize performs the protocol handshake.
	Initialize(ctx context.Context) error
	// ListTools discovers the tools the provider exposes.
	ListTools(ctx context.Context) ([]catalog.Descriptor, error)
	// CallTool invokes a tool and returns its normalized text result.
	// A result the provider flags as an error is returned as
	// *ToolInvocationError.
	CallTool(ctx context.Context, name string, args map[string]any) (string, error)
	// Close ends the session and releases the transport.
	Close() error
}

// Dialer opens sessions. Dial only establishes the transport; the
// connection calls Initialize itself.
type Dialer interface {
	Dial(ctx context.Context, cfg Config) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context, cfg Config) (Session, error)

func (f DialerFunc) Dial(ctx context.Context, cfg Config) (Session, error) {
	return f(ctx, cfg)
}
