package session

import (
	"time"
)

// Roles stored in the history.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one entry of the conversation.
type Message struct {
	Role      string           `json:"role"`
	Content   string           `json:"content"`
	Timestamp time.Time        `json:"timestamp"`
	ToolCalls []ToolInvocation `json:"tool_calls,omitempty"`
}

// ToolInvocation records one tool call made while producing an assistant
// message. Exactly one of Result and Error is set.
type ToolInvocation struct {
	ID        string         `json:"id"`
	Tool      string         `json:"tool"`
	Arguments map[string]any `json:"arguments,omitempty"`
	Result    string         `json:"result,omitempty"`
	Error     string         `json:"error,omitempty"`
}

// Failed reports whether the invocation ended in an error.
func (t ToolInvocation) Failed() bool {
	return t.Error != ""
}

// Output returns the text that was fed back to the model.
func (t ToolInvocation) Output() string {
	if t.Failed() {
		return t.Error
	}
	return t.Result
}

// Entry is one line of a session file.
type Entry struct {
	Session string  `json:"session"`
	Message Message `json:"message"`
}

func (m Message) valid() bool {
	return m.Role == RoleUser || m.Role == RoleAssistant
}
