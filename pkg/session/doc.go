// Package session keeps the conversation history and persists it as JSONL.
//
// Invariants:
// - Messages are append-only and immutable once appended.
// - The model-facing window holds at most K user/assistant messages, in
//   their original order; the full history is kept for persistence and
//   statistics.
// - A save replaces the session file atomically; a missing or corrupt file
//   loads as an empty history.
//
// Usage:
//
//	store, _ := session.NewStore("/tmp/lainbot/sessions", "default")
//	history := session.NewHistory(20)
//	msgs, _ := store.Load(ctx)
//	history.Replace(msgs)
//	history.Append(session.Message{Role: session.RoleUser, Content: "hello"})
//	_ = store.Save(ctx, history.All())
package session
