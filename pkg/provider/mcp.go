package provider

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/client/transport"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog/log"

	"github.com/harun/lainbot/pkg/catalog"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const noOutput = "(no output)"

// MCPDialer opens Model Context Protocol sessions.
type MCPDialer struct {
	ClientName    string
	ClientVersion string
	// CloseGrace bounds how long Close waits for the provider to shut down
	// on its own before a local process is killed.
	CloseGrace time.Duration
}

// NewMCPDialer creates a dialer announcing the given client identity.
func NewMCPDialer(name, version string) *MCPDialer {
	return &MCPDialer{ClientName: name, ClientVersion: version, CloseGrace: DefaultCloseGrace}
}

func (d *MCPDialer) closeGrace() time.Duration {
	if d.CloseGrace <= 0 {
		return DefaultCloseGrace
	}
	return d.CloseGrace
}

// Dial starts the transport for cfg. For local processes the child is bound
// to a context owned by the session, so Close always reaps it.
func (d *MCPDialer) Dial(ctx context.Context, cfg Config) (Session, error) {
	switch cfg.Kind {
	case KindLocalProcess:
		return d.dialStdio(ctx, cfg)
	case KindRemoteEndpoint:
		return d.dialRemote(ctx, cfg)
	default:
		return nil, fmt.Errorf("unsupported provider kind %q", cfg.Kind)
	}
}

func (d *MCPDialer) dialStdio(ctx context.Context, cfg Config) (Session, error) {
	procCtx, cancel := context.WithCancel(context.Background())
	tr := transport.NewStdio(cfg.Command, mergeEnv(os.Environ(), cfg.Env), cfg.Args...)
	if err := tr.Start(procCtx); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", cfg.Command, err)
	}

	// Give up early if the caller went away while the process was spawning.
	if err := ctx.Err(); err != nil {
		_ = tr.Close()
		cancel()
		return nil, err
	}

	return &mcpSession{
		provider: cfg.Name,
		client:   client.NewClient(tr),
		release:  cancel,
		info:     d.implementation(),
		grace:    d.closeGrace(),
	}, nil
}

func (d *MCPDialer) dialRemote(ctx context.Context, cfg Config) (Session, error) {
	var (
		c   *client.Client
		err error
	)
	switch cfg.Transport {
	case TransportSSE:
		c, err = client.NewSSEMCPClient(cfg.URL, transport.WithHeaders(cfg.Headers))
	default:
		c, err = client.NewStreamableHttpClient(cfg.URL, transport.WithHTTPHeaders(cfg.Headers))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create client for %s: %w", cfg.URL, err)
	}

	if err := c.Start(ctx); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to connect to %s: %w", cfg.URL, err)
	}

	return &mcpSession{
		provider: cfg.Name,
		client:   c,
		release:  func() {},
		info:     d.implementation(),
		grace:    d.closeGrace(),
	}, nil
}

func (d *MCPDialer) implementation() mcp.Implementation {
	name, version := d.ClientName, d.ClientVersion
	if name == "" {
		name = "lainbot"
	}
	if version == "" {
		version = "dev"
	}
	return mcp.Implementation{Name: name, Version: version}
}

type mcpSession struct {
	provider string
	client   *client.Client
	release  context.CancelFunc
	info     mcp.Implementation
	grace    time.Duration
}

func (s *mcpSession) Initialize(ctx context.Context) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = s.info
	req.Params.Capabilities = mcp.ClientCapabilities{}

	res, err := s.client.Initialize(ctx, req)
	if err != nil {
		return err
	}

	log.Debug().
		Str("provider", s.provider).
		Str("server", res.ServerInfo.Name).
		Str("server_version", res.ServerInfo.Version).
		Str("protocol", res.ProtocolVersion).
		Msg("MCP session initialized")
	return nil
}

func (s *mcpSession) ListTools(ctx context.Context) ([]catalog.Descriptor, error) {
	res, err := s.client.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		return nil, err
	}

	tools := make([]catalog.Descriptor, 0, len(res.Tools))
	for _, t := range res.Tools {
		tools = append(tools, catalog.Descriptor{
			Provider:    s.provider,
			Name:        t.Name,
			Description: t.Description,
			InputSchema: toolSchema(t),
		})
	}
	return tools, nil
}

func (s *mcpSession) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args

	res, err := s.client.CallTool(ctx, req)
	if err != nil {
		return "", err
	}

	text := contentText(res.Content)
	if res.IsError {
		return "", &ToolInvocationError{Provider: s.provider, Tool: name, Payload: text}
	}
	return text, nil
}

// Close ends the protocol session first. Closing a stdio transport waits
// for the child to exit, so after the grace period the process context is
// cancelled, which kills a child that ignored its closed stdin.
func (s *mcpSession) Close() error {
	closed := make(chan error, 1)
	go func() { closed <- s.client.Close() }()

	select {
	case err := <-closed:
		s.release()
		return err
	case <-time.After(s.grace):
	}

	log.Warn().
		Str("provider", s.provider).
		Dur("grace", s.grace).
		Msg("Tool provider did not exit after close, killing it")
	s.release()

	select {
	case err := <-closed:
		// The wait error of a killed child is expected.
		log.Debug().Err(err).Str("provider", s.provider).Msg("Tool provider killed")
		return nil
	case <-time.After(s.grace):
		return fmt.Errorf("provider %s: session did not close after kill", s.provider)
	}
}

// toolSchema converts the discovered schema into a plain map the model
// endpoints can forward.
func toolSchema(t mcp.Tool) map[string]any {
	if len(t.RawInputSchema) > 0 {
		var raw map[string]any
		if err := json.Unmarshal(t.RawInputSchema, &raw); err == nil {
			return raw
		}
	}

	schema := map[string]any{"type": "object"}
	if t.InputSchema.Type != "" {
		schema["type"] = t.InputSchema.Type
	}
	props := t.InputSchema.Properties
	if props == nil {
		props = map[string]any{}
	}
	schema["properties"] = props
	required := make([]any, 0, len(t.InputSchema.Required))
	for _, r := range t.InputSchema.Required {
		required = append(required, r)
	}
	schema["required"] = required
	return schema
}

// contentText flattens a result envelope to text. Text blocks are joined by
// newlines; other block kinds are JSON-encoded.
func contentText(content []mcp.Content) string {
	parts := make([]string, 0, len(content))
	for _, c := range content {
		switch v := c.(type) {
		case mcp.TextContent:
			parts = append(parts, v.Text)
		case *mcp.TextContent:
			parts = append(parts, v.Text)
		default:
			data, err := json.Marshal(v)
			if err != nil {
				continue
			}
			parts = append(parts, string(data))
		}
	}

	text := strings.Join(parts, "\n")
	if strings.TrimSpace(text) == "" {
		return noOutput
	}
	return text
}

// mergeEnv overlays overrides onto base. Keys are applied in sorted order
// so the resulting environment is deterministic.
func mergeEnv(base []string, overrides map[string]string) []string {
	if len(overrides) == 0 {
		return base
	}

	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]string, 0, len(base)+len(overrides))
	for _, kv := range base {
		k, _, _ := strings.Cut(kv, "=")
		if _, replaced := overrides[k]; replaced {
			continue
		}
		out = append(out, kv)
	}
	for _, k := range keys {
		out = append(out, k+"="+overrides[k])
	}
	return out
}
