// Package agent drives a conversation turn between the user, a streaming
// model endpoint and the tool supervisor.
//
// Invariants:
// - At most one turn is in flight per Agent; Send rejects a second one.
// - Text fragments are forwarded in stream order, exactly once.
// - Tool calls are assembled by their call ID and only dispatched once the
//   endpoint has signalled that the call is complete.
// - A turn either settles with exactly one assistant message, or fails with
//   a model error and leaves only the user message behind.
//
// Usage:
//
//	a, _ := agent.New(agent.Config{Endpoint: ep, Tools: sup, History: h, Store: store})
//	events, _ := a.Send(ctx, "what files are in /tmp?")
//	for ev := range events {
//		fmt.Print(ev.Text)
//	}
package agent
