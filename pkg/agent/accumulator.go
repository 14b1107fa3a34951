package agent

import (
	"fmt"
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// toolCallAccumulator assembles streamed tool calls. Stream positions are
// only used to find the call a fragment belongs to; the call itself is
// keyed by its ID, and a call is only reported once it was explicitly
// finished.
type toolCallAccumulator struct {
	byIndex map[int64]string
	calls   map[string]*pendingCall
	order   []string
}

type pendingCall struct {
	id       string
	name     string
	args     strings.Builder
	finished bool
}

func newToolCallAccumulator() *toolCallAccumulator {
	return &toolCallAccumulator{
		byIndex: make(map[int64]string),
		calls:   make(map[string]*pendingCall),
	}
}

// start registers the call with the given ID at a stream position.
func (a *toolCallAccumulator) start(index int64, id, name string) {
	a.byIndex[index] = id
	if pc, ok := a.calls[id]; ok {
		if name != "" {
			pc.name = name
		}
		return
	}
	a.calls[id] = &pendingCall{id: id, name: name}
	a.order = append(a.order, id)
}

// lookup returns the call currently at a stream position.
func (a *toolCallAccumulator) lookup(index int64) *pendingCall {
	id, ok := a.byIndex[index]
	if !ok {
		return nil
	}
	return a.calls[id]
}

// appendArgs adds an argument fragment to the call at index. Fragments for
// unknown positions or already finished calls are dropped.
func (a *toolCallAccumulator) appendArgs(index int64, fragment string) bool {
	pc := a.lookup(index)
	if pc == nil || pc.finished {
		return false
	}
	pc.args.WriteString(fragment)
	return true
}

// appendName extends the name of the call at index.
func (a *toolCallAccumulator) appendName(index int64, fragment string) {
	if pc := a.lookup(index); pc != nil && !pc.finished {
		pc.name += fragment
	}
}

// finish marks the call at index as complete.
func (a *toolCallAccumulator) finish(index int64) {
	if pc := a.lookup(index); pc != nil {
		pc.finished = true
	}
}

// finishAll marks every started call as complete.
func (a *toolCallAccumulator) finishAll() {
	for _, pc := range a.calls {
		pc.finished = true
	}
}

// result returns the finished calls in the order they were started and the
// IDs of calls that never finished.
func (a *toolCallAccumulator) result() (calls []ToolCall, unfinished []string) {
	for _, id := range a.order {
		pc := a.calls[id]
		if !pc.finished {
			unfinished = append(unfinished, id)
			continue
		}
		call := ToolCall{ID: pc.id, Name: pc.name}
		call.Arguments, call.ArgumentsErr = parseArguments(pc.args.String())
		calls = append(calls, call)
	}
	return calls, unfinished
}

func parseArguments(raw string) (map[string]any, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return map[string]any{}, nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return nil, fmt.Errorf("invalid tool arguments: %w", err)
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
