package agent

import (
	"context"

	"github.com/harun/lainbot/pkg/catalog"
	"github.com/harun/lainbot/pkg/session"
)

// StopReason tells why the model stopped producing output.
type StopReason string

const (
	StopEndTurn   StopReason = "end_turn"
	StopToolUse   StopReason = "tool_use"
	StopMaxTokens StopReason = "max_tokens"
	StopOther     StopReason = "other"
)

// ToolCall is a tool invocation requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments map[string]any
	// ArgumentsErr is set when the streamed arguments were not valid JSON.
	ArgumentsErr error
}

// ToolResult is fed back to the model for the call with the same ID.
type ToolResult struct {
	CallID  string
	Content string
	IsError bool
}

// Message is one entry of the model-facing exchange. Assistant messages may
// carry tool calls; user messages may carry the matching tool results.
type Message struct {
	Role        string
	Text        string
	ToolCalls   []ToolCall
	ToolResults []ToolResult
}

// ToolSpec describes a tool to the model.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]any
}

// Request is one streaming model call.
type Request struct {
	Model     string
	System    string
	Messages  []Message
	Tools     []ToolSpec
	MaxTokens int
}

// Completion is the outcome of one streaming model call.
type Completion struct {
	Text       string
	StopReason StopReason
	ToolCalls  []ToolCall
}

// ModelEndpoint streams a model response. onText receives every text
// fragment in order as it arrives; the returned completion carries the
// finalized tool calls.
type ModelEndpoint interface {
	Name() string
	Stream(ctx context.Context, req Request, onText func(string)) (*Completion, error)
}

// ToolDispatcher is the part of the supervisor the agent depends on.
type ToolDispatcher interface {
	Catalog() *catalog.Catalog
	Dispatch(ctx context.Context, id string, args map[string]any) (string, error)
}

// EventKind classifies an Event.
type EventKind int

const (
	// EventText carries a streamed model text fragment.
	EventText EventKind = iota
	// EventStatus carries tool progress text.
	EventStatus
	// EventWarning carries a recoverable, user-visible problem.
	EventWarning
	// EventError carries the failure that ended the turn.
	EventError
	// EventSettled carries the final assistant message.
	EventSettled
)

// Event is delivered on the channel returned by Agent.Send.
type Event struct {
	Kind    EventKind
	Text    string
	Message *session.Message
}

// TurnState is the agent's position in the turn protocol.
type TurnState int32

const (
	StateIdle TurnState = iota
	StateAwaitingModel
	StateStreamingText
	StateToolExecution
	StateSettled
)

func (s TurnState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAwaitingModel:
		return "awaiting_model"
	case StateStreamingText:
		return "streaming_text"
	case StateToolExecution:
		return "tool_execution"
	case StateSettled:
		return "settled"
	default:
		return "unknown"
	}
}
