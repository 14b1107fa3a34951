package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"

	"github.com/harun/lainbot/internal/observability"
	"github.com/harun/lainbot/internal/tracing"
	"github.com/harun/lainbot/pkg/catalog"
	"github.com/harun/lainbot/pkg/session"
)

const (
	DefaultModel             = "claude-3-7-sonnet-latest"
	DefaultMaxTokens         = 1000
	DefaultMaxToolIterations = 10
	DefaultToolConcurrency   = 4
	DefaultRetryDelay        = time.Second

	toolStatusText = "\n\n🔧 Executing tools...\n"
	eventBuffer    = 64
)

var (
	// ErrTurnInProgress is returned when a turn is already running.
	ErrTurnInProgress = errors.New("a turn is already in progress")
	// ErrEmptyInput is returned for blank user input.
	ErrEmptyInput = errors.New("empty input")
)

// Config holds agent configuration
type Config struct {
	Endpoint ModelEndpoint
	Tools    ToolDispatcher
	History  *session.History
	// Store is optional; without it the history lives in memory only.
	Store  *session.Store
	Logger zerolog.Logger

	Model             string
	MaxTokens         int
	SystemPrompt      string
	MaxToolIterations int
	ToolConcurrency   int
	// MaxRetries bounds retries of connection failures that happen before
	// any text was streamed.
	MaxRetries int
	RetryDelay time.Duration
}

// Agent runs conversation turns.
type Agent struct {
	cfg      Config
	endpoint ModelEndpoint
	tools    ToolDispatcher
	history  *session.History
	store    *session.Store
	logger   zerolog.Logger

	busy  atomic.Bool
	state atomic.Int32
}

// New creates an agent and loads the persisted session, if any. A session
// that cannot be loaded is logged and replaced by an empty history.
func New(ctx context.Context, cfg Config) (*Agent, error) {
	observability.EnsureRegistered()

	if cfg.Endpoint == nil {
		return nil, fmt.Errorf("model endpoint is required")
	}
	if cfg.Tools == nil {
		return nil, fmt.Errorf("tool dispatcher is required")
	}
	if cfg.History == nil {
		cfg.History = session.NewHistory(session.DefaultContextWindow)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = DefaultMaxTokens
	}
	if cfg.MaxToolIterations <= 0 {
		cfg.MaxToolIterations = DefaultMaxToolIterations
	}
	if cfg.ToolConcurrency <= 0 {
		cfg.ToolConcurrency = DefaultToolConcurrency
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}

	a := &Agent{
		cfg:      cfg,
		endpoint: cfg.Endpoint,
		tools:    cfg.Tools,
		history:  cfg.History,
		store:    cfg.Store,
		logger:   cfg.Logger.With().Str("component", "agent").Str("endpoint", cfg.Endpoint.Name()).Logger(),
	}

	if a.store != nil {
		msgs, err := a.store.Load(ctx)
		if err != nil {
			a.logger.Error().Err(err).Msg("Failed to load session, starting with an empty history")
		} else {
			a.history.Replace(msgs)
			a.logger.Info().Int("messages", len(msgs)).Msg("Session restored")
		}
	}

	return a, nil
}

// Send starts a turn for the user's text and returns the channel its
// events are delivered on. The channel is closed when the turn ends; the
// caller must drain it. Only one turn may run at a time.
func (a *Agent) Send(ctx context.Context, text string) (<-chan Event, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	if !a.busy.CompareAndSwap(false, true) {
		return nil, ErrTurnInProgress
	}

	events := make(chan Event, eventBuffer)
	go func() {
		defer close(events)
		defer a.busy.Store(false)
		a.runTurn(ctx, text, events)
	}()
	return events, nil
}

// State returns the current turn state.
func (a *Agent) State() TurnState {
	return TurnState(a.state.Load())
}

func (a *Agent) setState(s TurnState) {
	a.state.Store(int32(s))
}

// History returns the conversation history.
func (a *Agent) History() *session.History {
	return a.history
}

// Stats summarizes the conversation.
func (a *Agent) Stats() session.Stats {
	return a.history.Stats()
}

// Tools returns the tools currently offered to the model.
func (a *Agent) Tools() []catalog.Descriptor {
	return a.tools.Catalog().Tools()
}

// ClearHistory empties the conversation and saves the empty session.
func (a *Agent) ClearHistory(ctx context.Context) error {
	if !a.busy.CompareAndSwap(false, true) {
		return ErrTurnInProgress
	}
	defer a.busy.Store(false)

	a.history.Clear()
	a.logger.Info().Msg("Conversation history cleared")
	return a.save(ctx)
}

// Close saves the session.
func (a *Agent) Close(ctx context.Context) error {
	return a.save(ctx)
}

func (a *Agent) save(ctx context.Context) error {
	if a.store == nil {
		return nil
	}
	if err := a.store.Save(ctx, a.history.All()); err != nil {
		a.logger.Error().Err(err).Msg("Failed to save session")
		return err
	}
	return nil
}

type turn struct {
	ctx    context.Context
	events chan<- Event
	logger zerolog.Logger

	text        strings.Builder
	invocations []session.ToolInvocation
	iterations  int
}

func (t *turn) emit(ev Event) {
	select {
	case t.events <- ev:
	case <-t.ctx.Done():
		// Still try to hand over the final events of a cancelled turn.
		select {
		case t.events <- ev:
		default:
		}
	}
}

func (a *Agent) runTurn(ctx context.Context, input string, events chan<- Event) {
	name := ""
	if a.store != nil {
		name = a.store.Name()
	}
	ctx = tracing.NewTurnContext(ctx, name)
	ctx, span := tracing.StartSpan(ctx, "agent.turn", attribute.String("endpoint", a.endpoint.Name()))

	t := &turn{
		ctx:    ctx,
		events: events,
		logger: tracing.LoggerFromContext(ctx, a.logger),
	}

	a.setState(StateAwaitingModel)
	a.history.Append(session.Message{Role: session.RoleUser, Content: input})
	messages := modelMessages(a.history.Window())

	outcome, err := a.exchange(t, messages)
	tracing.EndSpan(span, err)
	observability.RecordTurn(outcome, t.iterations)

	if err != nil {
		t.logger.Warn().Err(err).Msg("Turn ended with a model error")
		a.setState(StateSettled)
		t.emit(errorEvent(err))
		return
	}

	msg := a.history.Append(session.Message{
		Role:      session.RoleAssistant,
		Content:   t.text.String(),
		ToolCalls: t.invocations,
	})

	if err := a.save(tracing.Detach(ctx)); err != nil {
		t.emit(Event{Kind: EventWarning, Text: fmt.Sprintf("\n⚠️ Conversation could not be saved: %v", err)})
	}

	a.setState(StateSettled)
	t.logger.Info().
		Str("outcome", outcome).
		Int("tool_iterations", t.iterations).
		Int("tool_calls", len(t.invocations)).
		Msg("Turn settled")
	t.emit(Event{Kind: EventSettled, Message: &msg})
}

// exchange runs model calls until the model stops asking for tools or the
// iteration cap is reached.
func (a *Agent) exchange(t *turn, messages []Message) (string, error) {
	for {
		a.setState(StateAwaitingModel)
		comp, err := a.streamWithRetry(t, Request{
			Model:     a.cfg.Model,
			System:    a.cfg.SystemPrompt,
			Messages:  messages,
			Tools:     toolSpecs(a.tools.Catalog()),
			MaxTokens: a.cfg.MaxTokens,
		})
		if err != nil {
			return "error", err
		}

		if comp.StopReason != StopToolUse || len(comp.ToolCalls) == 0 {
			if comp.StopReason == StopMaxTokens {
				t.logger.Debug().Msg("Model stopped at the token budget")
			}
			return "settled", nil
		}

		if t.iterations >= a.cfg.MaxToolIterations {
			t.logger.Warn().Int("limit", a.cfg.MaxToolIterations).Msg("Tool iteration limit reached")
			t.emit(Event{
				Kind: EventWarning,
				Text: fmt.Sprintf("\n⚠️ Tool iteration limit (%d) reached; stopping.", a.cfg.MaxToolIterations),
			})
			return "capped", nil
		}
		t.iterations++

		a.setState(StateToolExecution)
		t.emit(Event{Kind: EventStatus, Text: toolStatusText})

		invocations := a.executeTools(t.ctx, comp.ToolCalls)
		t.invocations = append(t.invocations, invocations...)

		results := make([]ToolResult, 0, len(invocations))
		for _, inv := range invocations {
			results = append(results, ToolResult{CallID: inv.ID, Content: inv.Output(), IsError: inv.Failed()})
		}
		messages = append(messages,
			Message{Role: session.RoleAssistant, Text: comp.Text, ToolCalls: comp.ToolCalls},
			Message{Role: session.RoleUser, ToolResults: results},
		)
	}
}

// streamWithRetry retries connection failures as long as nothing has been
// streamed for this call yet.
func (a *Agent) streamWithRetry(t *turn, req Request) (*Completion, error) {
	for attempt := 0; ; attempt++ {
		streamed := false
		ctx, span := tracing.StartSpan(t.ctx, "agent.model_stream",
			attribute.Int("attempt", attempt),
			attribute.Int("messages", len(req.Messages)),
			attribute.Int("tools", len(req.Tools)),
		)
		comp, err := a.endpoint.Stream(ctx, req, func(fragment string) {
			streamed = true
			a.setState(StateStreamingText)
			t.text.WriteString(fragment)
			t.emit(Event{Kind: EventText, Text: fragment})
		})
		tracing.EndSpan(span, err)
		if err == nil {
			return comp, nil
		}

		var me *ModelError
		if !errors.As(err, &me) {
			me = newModelError(a.endpoint.Name(), 0, err)
		}
		if streamed || !me.Retryable() || attempt >= a.cfg.MaxRetries {
			return nil, me
		}

		delay := a.cfg.RetryDelay * time.Duration(1<<attempt)
		t.logger.Info().
			Int("attempt", attempt+1).
			Dur("delay", delay).
			Err(err).
			Msg("Retrying model call after error")

		select {
		case <-t.ctx.Done():
			return nil, newModelError(a.endpoint.Name(), 0, t.ctx.Err())
		case <-time.After(delay):
		}
	}
}

func errorEvent(err error) Event {
	var me *ModelError
	if !errors.As(err, &me) {
		return Event{Kind: EventError, Text: fmt.Sprintf("\n❌ Unexpected error: %v", err)}
	}

	switch me.Kind {
	case ErrorRateLimit:
		return Event{Kind: EventWarning, Text: "\n⚠️ Rate limit exceeded. Please wait a moment and try again."}
	case ErrorCanceled:
		return Event{Kind: EventWarning, Text: "\n⚠️ Request cancelled."}
	case ErrorConnection:
		return Event{Kind: EventError, Text: fmt.Sprintf("\n❌ Connection error: %v", me.Err)}
	case ErrorAPI:
		return Event{Kind: EventError, Text: fmt.Sprintf("\n❌ API error: %v", me.Err)}
	default:
		return Event{Kind: EventError, Text: fmt.Sprintf("\n❌ Unexpected error: %v", me.Err)}
	}
}

// modelMessages converts history entries to the model exchange. Tool
// bookkeeping stays in the history only; the model sees the text.
func modelMessages(history []session.Message) []Message {
	out := make([]Message, 0, len(history))
	for _, m := range history {
		out = append(out, Message{Role: m.Role, Text: m.Content})
	}
	return out
}

// toolSpecs describes every catalog tool to the model.
func toolSpecs(c *catalog.Catalog) []ToolSpec {
	tools := c.Tools()
	specs := make([]ToolSpec, 0, len(tools))
	for _, d := range tools {
		desc := d.Description
		if desc == "" {
			desc = d.Name
		}
		specs = append(specs, ToolSpec{
			Name:        d.ID(),
			Description: fmt.Sprintf("[%s] %s", d.Provider, desc),
			InputSchema: d.Schema(),
		})
	}
	return specs
}
