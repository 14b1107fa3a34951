// Package supervisor runs the set of tool provider connections and exposes
// their tools as a single namespaced catalog.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/harun/lainbot/internal/observability"
	"github.com/harun/lainbot/internal/tracing"
	"github.com/harun/lainbot/pkg/catalog"
	"github.com/harun/lainbot/pkg/provider"
)

const (
	DefaultCallTimeout     = 30 * time.Second
	DefaultShutdownTimeout = 10 * time.Second
)

var (
	// ErrUnknownProvider is matched by *UnknownProviderError.
	ErrUnknownProvider = errors.New("unknown provider")
	// ErrShutdown is returned by operations on a supervisor that was shut down.
	ErrShutdown = errors.New("supervisor is shut down")
)

// UnknownProviderError is returned when a tool ID names a provider that is
// not in the current catalog.
type UnknownProviderError struct {
	Provider string
	ToolID   string
}

func (e *UnknownProviderError) Error() string {
	return fmt.Sprintf("unknown provider %q for tool %q", e.Provider, e.ToolID)
}

func (e *UnknownProviderError) Is(target error) bool { return target == ErrUnknownProvider }

// Config configures a Supervisor.
type Config struct {
	Dialer          provider.Dialer
	Logger          zerolog.Logger
	CallTimeout     time.Duration
	ShutdownTimeout time.Duration
	CloseGrace      time.Duration
}

// Status describes one supervised provider.
type Status struct {
	Name        string
	Kind        provider.Kind
	Description string
	State       provider.State
	Tools       int
	Err         error
}

// Supervisor owns provider connections and the tool catalog built from them.
type Supervisor struct {
	cfg    Config
	logger zerolog.Logger

	mu     sync.Mutex
	conns  map[string]*provider.Connection
	order  []string
	closed bool

	catalog atomic.Pointer[catalog.Catalog]
	stopped atomic.Bool
	runCtx  context.Context
	cancel  context.CancelFunc
}

// New creates an idle supervisor with an empty catalog.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("dialer is required")
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	runCtx, cancel := context.WithCancel(context.Background())
	s := &Supervisor{
		cfg:    cfg,
		logger: cfg.Logger.With().Str("component", "supervisor").Logger(),
		conns:  make(map[string]*provider.Connection),
		runCtx: runCtx,
		cancel: cancel,
	}
	s.catalog.Store(catalog.Empty())
	return s, nil
}

// StartAll launches one connection per config and returns immediately.
// Invalid configs and names already in use are logged and skipped; the
// first config with a given name wins.
func (s *Supervisor) StartAll(configs []provider.Config) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrShutdown
	}

	for _, cfg := range configs {
		if err := cfg.Validate(); err != nil {
			s.logger.Error().Err(err).Str("provider", cfg.Name).Msg("Skipping invalid provider config")
			continue
		}
		if _, exists := s.conns[cfg.Name]; exists {
			s.logger.Warn().Str("provider", cfg.Name).Msg("Duplicate provider name, keeping the first")
			continue
		}
		s.startLocked(cfg)
	}
	return nil
}

func (s *Supervisor) startLocked(cfg provider.Config) {
	conn := provider.NewConnection(cfg, s.cfg.Dialer, provider.Options{
		Logger:     s.cfg.Logger,
		CloseGrace: s.cfg.CloseGrace,
		OnChange:   func(*provider.Connection) { s.rebuild() },
	})
	s.conns[cfg.Name] = conn
	s.order = append(s.order, cfg.Name)

	go func() {
		// Run logs its own failures.
		_ = conn.Run(s.runCtx)
	}()
}

// Catalog returns the current tool catalog snapshot.
func (s *Supervisor) Catalog() *catalog.Catalog {
	return s.catalog.Load()
}

// rebuild publishes a fresh snapshot from the call-eligible connections.
func (s *Supervisor) rebuild() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rebuildLocked()
}

func (s *Supervisor) rebuildLocked() {
	if s.closed {
		s.catalog.Store(catalog.Empty())
		observability.SetProvidersReady(0)
		return
	}

	sources := make([]catalog.Source, 0, len(s.order))
	for _, name := range s.order {
		conn := s.conns[name]
		if !conn.State().CallEligible() {
			continue
		}
		sources = append(sources, catalog.Source{
			Provider: name,
			Invoker:  conn,
			Tools:    conn.Tools(),
		})
	}

	next := catalog.Build(sources)
	s.catalog.Store(next)
	observability.SetProvidersReady(len(sources))
	s.logger.Debug().Int("providers", len(sources)).Int("tools", next.Len()).Msg("Tool catalog rebuilt")
}

// Dispatch invokes a tool by its namespaced ID. Malformed IDs fail with
// catalog.ErrInvalidToolID before any provider is contacted; IDs naming a
// provider absent from the catalog fail with ErrUnknownProvider. Every call
// is bounded by the configured call timeout.
func (s *Supervisor) Dispatch(ctx context.Context, id string, args map[string]any) (result string, err error) {
	providerName, tool, err := catalog.SplitID(id)
	if err != nil {
		return "", err
	}
	if s.stopped.Load() {
		return "", ErrShutdown
	}

	inv, ok := s.Catalog().Provider(providerName)
	if !ok {
		return "", &UnknownProviderError{Provider: providerName, ToolID: id}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.CallTimeout)
	defer cancel()

	ctx, span := tracing.StartSpan(ctx, "supervisor.dispatch",
		attribute.String("tool", id),
		attribute.String("provider", providerName),
	)
	start := time.Now()
	defer func() {
		observability.RecordToolDispatch(id, providerName, time.Since(start), err == nil)
		tracing.EndSpan(span, err)
	}()

	logger := tracing.LoggerFromContext(ctx, s.logger)
	logger.Debug().Str("tool", id).Msg("Dispatching tool call")

	result, err = inv.CallTool(ctx, tool, args)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("tool %s timed out after %s: %w", id, s.cfg.CallTimeout, err)
		}
		logger.Warn().Err(err).Str("tool", id).Msg("Tool call failed")
		return "", err
	}
	return result, nil
}

// Providers reports every supervised provider in start order.
func (s *Supervisor) Providers() []Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Status, 0, len(s.order))
	for _, name := range s.order {
		conn := s.conns[name]
		cfg := conn.Config()
		out = append(out, Status{
			Name:        name,
			Kind:        cfg.Kind,
			Description: cfg.Description,
			State:       conn.State(),
			Tools:       len(conn.Tools()),
			Err:         conn.Err(),
		})
	}
	return out
}

// Remove stops one provider and forgets it, waiting up to the shutdown
// timeout for it to terminate.
func (s *Supervisor) Remove(ctx context.Context, name string) error {
	s.mu.Lock()
	conn, ok := s.conns[name]
	if !ok {
		s.mu.Unlock()
		return &UnknownProviderError{Provider: name}
	}
	s.detachLocked(name)
	s.rebuildLocked()
	s.mu.Unlock()

	return s.stopAll(ctx, []*provider.Connection{conn})
}

// Reconcile brings the running set in line with configs: providers that
// disappeared or changed are stopped, new or changed ones are started.
func (s *Supervisor) Reconcile(ctx context.Context, configs []provider.Config) error {
	want := make(map[string]provider.Config, len(configs))
	var ordered []provider.Config
	for _, cfg := range configs {
		if _, dup := want[cfg.Name]; dup {
			continue
		}
		want[cfg.Name] = cfg
		ordered = append(ordered, cfg)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrShutdown
	}
	var stale []*provider.Connection
	for _, name := range append([]string(nil), s.order...) {
		conn := s.conns[name]
		cfg, keep := want[name]
		if keep && cfg.Equal(conn.Config()) && !conn.State().Terminal() {
			continue
		}
		stale = append(stale, conn)
		s.detachLocked(name)
	}
	s.rebuildLocked()
	s.mu.Unlock()

	if len(stale) > 0 {
		s.logger.Info().Int("count", len(stale)).Msg("Stopping providers removed from config")
	}
	stopErr := s.stopAll(ctx, stale)

	var fresh []provider.Config
	s.mu.Lock()
	for _, cfg := range ordered {
		if _, running := s.conns[cfg.Name]; !running {
			fresh = append(fresh, cfg)
		}
	}
	s.mu.Unlock()

	if err := s.StartAll(fresh); err != nil {
		return err
	}
	return stopErr
}

func (s *Supervisor) detachLocked(name string) {
	delete(s.conns, name)
	for i, n := range s.order {
		if n == name {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// Shutdown stops every connection concurrently and waits for them to
// terminate, at most for the configured shutdown timeout. Teardown errors
// are logged, never returned. Afterwards the catalog is empty and every
// Dispatch fails.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.stopped.Store(true)
	conns := make([]*provider.Connection, 0, len(s.order))
	for _, name := range s.order {
		conns = append(conns, s.conns[name])
	}
	s.rebuildLocked()
	s.mu.Unlock()

	s.logger.Info().Int("providers", len(conns)).Msg("Shutting down tool providers")

	if err := s.stopAll(ctx, conns); err != nil {
		s.logger.Warn().Err(err).Msg("Tool provider shutdown finished with errors")
	} else {
		s.logger.Info().Msg("Tool providers shut down")
	}

	// Anything still running is abandoned; cancelling the shared context
	// unblocks any Run still waiting on it.
	s.cancel()
}

// stopAll signals every connection and waits for each to terminate. The
// wait is bounded by the shutdown timeout and by ctx.
func (s *Supervisor) stopAll(ctx context.Context, conns []*provider.Connection) error {
	if len(conns) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	for _, conn := range conns {
		g.Go(func() error {
			conn.Stop()
			select {
			case <-conn.Done():
				if err := conn.Err(); err != nil && conn.State() == provider.StateFailed {
					mu.Lock()
					errs = append(errs, fmt.Errorf("%s: %w", conn.Name(), err))
					mu.Unlock()
				}
			case <-ctx.Done():
				s.logger.Warn().Str("provider", conn.Name()).Msg("Tool provider did not stop in time, abandoning")
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: stop abandoned: %w", conn.Name(), ctx.Err()))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
	return errors.Join(errs...)
}
