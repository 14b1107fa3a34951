package session

import (
	"sync"
	"time"
)

// DefaultContextWindow is the number of recent messages sent to the model.
const DefaultContextWindow = 20

// Stats summarizes the history.
type Stats struct {
	Total         int `json:"total"`
	User          int `json:"user"`
	Assistant     int `json:"assistant"`
	ContextWindow int `json:"context_window"`
}

// History is the ordered conversation. It is safe for concurrent use,
// though a single agent is expected to be its only writer.
type History struct {
	mu       sync.RWMutex
	messages []Message
	window   int
}

// NewHistory creates an empty history whose model window holds the given
// number of messages. Non-positive values select DefaultContextWindow.
func NewHistory(window int) *History {
	if window <= 0 {
		window = DefaultContextWindow
	}
	return &History{window: window}
}

// Append adds a message. A zero timestamp is set to now; timestamps are
// stored in UTC without monotonic reading so they survive persistence
// unchanged.
func (h *History) Append(m Message) Message {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	m.Timestamp = m.Timestamp.UTC().Round(0)
	if len(m.ToolCalls) > 0 {
		m.ToolCalls = append([]ToolInvocation(nil), m.ToolCalls...)
	}

	h.mu.Lock()
	h.messages = append(h.messages, m)
	h.mu.Unlock()
	return m
}

// Window returns the most recent user/assistant messages, at most the
// configured window size, oldest first.
func (h *History) Window() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, 0, h.window)
	for i := len(h.messages) - 1; i >= 0 && len(out) < h.window; i-- {
		if h.messages[i].valid() {
			out = append(out, h.messages[i])
		}
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// All returns a copy of the full history.
func (h *History) All() []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]Message(nil), h.messages...)
}

// Replace swaps the history contents, typically with a loaded session.
func (h *History) Replace(messages []Message) {
	h.mu.Lock()
	h.messages = append([]Message(nil), messages...)
	h.mu.Unlock()
}

// Clear removes every message.
func (h *History) Clear() {
	h.mu.Lock()
	h.messages = nil
	h.mu.Unlock()
}

// Len returns the number of messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.messages)
}

// ContextWindow returns the window size.
func (h *History) ContextWindow() int {
	return h.window
}

// Stats counts the messages by role.
func (h *History) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := Stats{Total: len(h.messages), ContextWindow: h.window}
	for _, m := range h.messages {
		switch m.Role {
		case RoleUser:
			st.User++
		case RoleAssistant:
			st.Assistant++
		}
	}
	return st
}
