package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/lainbot/internal/observability"
	"github.com/harun/lainbot/internal/tracing"
	"github.com/harun/lainbot/pkg/catalog"
)

// DefaultCloseGrace bounds how long teardown waits for in-flight calls
// before closing the session under them.
const DefaultCloseGrace = 2 * time.Second

// Options configures a Connection.
type Options struct {
	Logger     zerolog.Logger
	CloseGrace time.Duration
	// OnChange is invoked from the Run goroutine whenever the connection
	// enters or leaves a call-eligible state, and when it terminates.
	OnChange func(*Connection)
}

// Connection owns the session with one provider.
type Connection struct {
	cfg        Config
	dialer     Dialer
	logger     zerolog.Logger
	closeGrace time.Duration
	onChange   func(*Connection)

	mu       sync.RWMutex
	state    State
	tools    []catalog.Descriptor
	lastErr  error
	inflight int

	calls    chan *callRequest
	stop     chan struct{}
	stopOnce sync.Once
	done     chan struct{}
	started  atomic.Bool
}

type callRequest struct {
	ctx   context.Context
	name  string
	args  map[string]any
	reply chan callResult
}

type callResult struct {
	text string
	err  error
}

// NewConnection creates a connection in the Connecting state. Nothing
// happens until Run is called.
func NewConnection(cfg Config, dialer Dialer, opts Options) *Connection {
	if opts.CloseGrace <= 0 {
		opts.CloseGrace = DefaultCloseGrace
	}
	return &Connection{
		cfg:        cfg,
		dialer:     dialer,
		logger:     opts.Logger.With().Str("provider", cfg.Name).Logger(),
		closeGrace: opts.CloseGrace,
		onChange:   opts.OnChange,
		state:      StateConnecting,
		calls:      make(chan *callRequest),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Name returns the provider name.
func (c *Connection) Name() string { return c.cfg.Name }

// Config returns the provider configuration.
func (c *Connection) Config() Config { return c.cfg }

// State returns the current lifecycle state.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Tools returns the discovered tool list.
func (c *Connection) Tools() []catalog.Descriptor {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]catalog.Descriptor, len(c.tools))
	copy(out, c.tools)
	return out
}

// Err returns the error that caused the connection to fail, if any.
func (c *Connection) Err() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}

// Done is closed when Run has returned.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Stop asks Run to tear the connection down. It does not wait; use Done.
// Stop may be called any number of times, before or during Run.
func (c *Connection) Stop() {
	c.stopOnce.Do(func() { close(c.stop) })
}

// Run connects, discovers tools and serves calls until Stop is called or
// ctx is cancelled. It always leaves the connection in a terminal state.
func (c *Connection) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return errors.New("connection already running")
	}
	defer close(c.done)

	runCtx, cancel := context.WithCancel(tracing.WithProvider(ctx, c.cfg.Name))
	defer cancel()
	go func() {
		select {
		case <-c.stop:
			cancel()
		case <-runCtx.Done():
		}
	}()

	c.logger.Info().
		Str("kind", string(c.cfg.Kind)).
		Str("transport", c.cfg.Transport).
		Msg("Connecting to tool provider")

	sess, err := c.connect(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			// Stopped while the handshake was still in progress.
			c.logger.Info().Msg("Provider stopped during handshake")
			c.setState(StateClosed, nil)
			return nil
		}
		connErr := &ConnectionError{Provider: c.cfg.Name, Err: err}
		observability.RecordProviderConnect(c.cfg.Name, false)
		c.logger.Error().Err(err).Msg("Failed to connect to tool provider")
		c.setState(StateFailed, connErr)
		return connErr
	}
	observability.RecordProviderConnect(c.cfg.Name, true)

	tools, err := sess.ListTools(runCtx)
	if err != nil {
		if runCtx.Err() != nil {
			return c.teardown(sess)
		}
		c.logger.Warn().
			Err(&DiscoveryError{Provider: c.cfg.Name, Err: err}).
			Msg("Tool discovery failed, continuing without tools")
		tools = nil
	}

	c.mu.Lock()
	c.tools = tools
	c.mu.Unlock()
	c.setState(StateReady, nil)
	c.logger.Info().Int("tools", len(tools)).Msg("Tool provider ready")

	c.serve(runCtx, sess)
	return c.teardown(sess)
}

func (c *Connection) connect(ctx context.Context) (sess Session, err error) {
	ctx, span := tracing.StartSpan(ctx, "provider.connect",
		attribute.String("provider", c.cfg.Name),
		attribute.String("kind", string(c.cfg.Kind)),
	)
	defer func() { tracing.EndSpan(span, err) }()

	sess, err = c.dialer.Dial(ctx, c.cfg)
	if err != nil {
		return nil, err
	}
	if err := sess.Initialize(ctx); err != nil {
		if cerr := sess.Close(); cerr != nil {
			c.logger.Debug().Err(cerr).Msg("Close after failed handshake")
		}
		return nil, err
	}
	return sess, nil
}

// serve dispatches calls in the order they arrive until ctx is done, then
// waits a bounded time for in-flight calls.
func (c *Connection) serve(ctx context.Context, sess Session) {
	var wg sync.WaitGroup
	for {
		select {
		case <-ctx.Done():
			c.setState(StateClosing, nil)
			c.drain(&wg)
			return
		case req := <-c.calls:
			c.beginCall()
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer c.endCall()
				req.reply <- c.invoke(ctx, sess, req)
			}()
		}
	}
}

func (c *Connection) invoke(serveCtx context.Context, sess Session, req *callRequest) callResult {
	callCtx, cancel := context.WithCancel(req.ctx)
	defer cancel()
	stopCancel := context.AfterFunc(serveCtx, cancel)
	defer stopCancel()

	callCtx, span := tracing.StartSpan(callCtx, "provider.call",
		attribute.String("provider", c.cfg.Name),
		attribute.String("tool", req.name),
	)
	text, err := sess.CallTool(callCtx, req.name, req.args)
	tracing.EndSpan(span, err)

	if err != nil {
		c.logger.Debug().Err(err).Str("tool", req.name).Msg("Tool call failed")
	}
	return callResult{text: text, err: err}
}

func (c *Connection) drain(wg *sync.WaitGroup) {
	idle := make(chan struct{})
	go func() {
		wg.Wait()
		close(idle)
	}()

	select {
	case <-idle:
	case <-time.After(c.closeGrace):
		c.logger.Warn().Dur("grace", c.closeGrace).Msg("Abandoning in-flight tool calls")
	}
}

// teardown closes the session and records the terminal state.
func (c *Connection) teardown(sess Session) error {
	c.setState(StateClosing, nil)
	if err := sess.Close(); err != nil {
		c.logger.Warn().Err(err).Msg("Tool provider session close failed")
		c.setState(StateFailed, err)
		return err
	}
	c.setState(StateClosed, nil)
	c.logger.Info().Msg("Tool provider closed")
	return nil
}

// CallTool forwards a call to the provider. It fails fast unless the
// connection is Ready or Serving.
func (c *Connection) CallTool(ctx context.Context, name string, args map[string]any) (string, error) {
	switch st := c.State(); {
	case st == StateClosing || st.Terminal():
		return "", ErrStopped
	case !st.CallEligible():
		return "", ErrNotReady
	}

	req := &callRequest{ctx: ctx, name: name, args: args, reply: make(chan callResult, 1)}
	select {
	case c.calls <- req:
	case <-c.stop:
		return "", ErrStopped
	case <-c.done:
		return "", ErrStopped
	case <-ctx.Done():
		return "", ctx.Err()
	}

	select {
	case res := <-req.reply:
		return res.text, res.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-c.done:
		select {
		case res := <-req.reply:
			return res.text, res.err
		default:
			return "", ErrStopped
		}
	}
}

func (c *Connection) beginCall() {
	c.mu.Lock()
	c.inflight++
	if c.state == StateReady {
		c.state = StateServing
	}
	c.mu.Unlock()
}

func (c *Connection) endCall() {
	c.mu.Lock()
	c.inflight--
	if c.inflight == 0 && c.state == StateServing {
		c.state = StateReady
	}
	c.mu.Unlock()
}

func (c *Connection) setState(next State, err error) {
	c.mu.Lock()
	prev := c.state
	if prev == next && err == nil {
		c.mu.Unlock()
		return
	}
	c.state = next
	if err != nil {
		c.lastErr = err
	}
	c.mu.Unlock()

	c.logger.Debug().Str("from", prev.String()).Str("to", next.String()).Msg("Provider state changed")

	if c.onChange != nil && (prev.CallEligible() != next.CallEligible() || next.Terminal()) {
		c.onChange(c)
	}
}
