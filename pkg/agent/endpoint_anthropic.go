package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/rs/zerolog/log"

	"github.com/harun/lainbot/internal/observability"
)

// AnthropicEndpoint streams responses from the Anthropic Messages API.
type AnthropicEndpoint struct {
	client anthropic.Client
}

// NewAnthropicEndpoint wraps a configured client.
func NewAnthropicEndpoint(client anthropic.Client) *AnthropicEndpoint {
	return &AnthropicEndpoint{client: client}
}

// Name returns the endpoint name
func (e *AnthropicEndpoint) Name() string {
	return "anthropic"
}

// Stream sends req and relays text deltas while assembling tool_use blocks.
func (e *AnthropicEndpoint) Stream(ctx context.Context, req Request, onText func(string)) (comp *Completion, err error) {
	start := time.Now()
	defer func() { observability.RecordModelStream(e.Name(), time.Since(start), err == nil) }()

	stream := e.client.Messages.NewStreaming(ctx, anthropicParams(req))
	defer stream.Close()

	acc := newToolCallAccumulator()
	var text strings.Builder
	stop := StopEndTurn

	for stream.Next() {
		event := stream.Current()
		switch ev := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if ev.ContentBlock.Type == "tool_use" {
				acc.start(ev.Index, ev.ContentBlock.ID, ev.ContentBlock.Name)
			}
		case anthropic.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				if delta.Text == "" {
					continue
				}
				text.WriteString(delta.Text)
				onText(delta.Text)
			case anthropic.InputJSONDelta:
				acc.appendArgs(ev.Index, delta.PartialJSON)
			}
		case anthropic.ContentBlockStopEvent:
			acc.finish(ev.Index)
		case anthropic.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				stop = anthropicStopReason(ev.Delta.StopReason)
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, anthropicError(err)
	}

	calls, unfinished := acc.result()
	if len(unfinished) > 0 {
		log.Warn().Strs("calls", unfinished).Msg("Dropping tool calls that never completed")
	}

	return &Completion{Text: text.String(), StopReason: stop, ToolCalls: calls}, nil
}

func anthropicStopReason(r anthropic.StopReason) StopReason {
	switch r {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return StopEndTurn
	case anthropic.StopReasonToolUse:
		return StopToolUse
	case anthropic.StopReasonMaxTokens:
		return StopMaxTokens
	default:
		return StopOther
	}
}

func anthropicError(err error) *ModelError {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return newModelError("anthropic", apiErr.StatusCode, err)
	}
	return newModelError("anthropic", 0, err)
}

// anthropicParams converts the request. Messages with nothing to say are
// skipped because the API rejects empty text blocks.
func anthropicParams(req Request) anthropic.MessageNewParams {
	messages := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolResults)+1)
			for _, r := range msg.ToolResults {
				blocks = append(blocks, anthropic.NewToolResultBlock(r.CallID, r.Content, r.IsError))
			}
			if msg.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewUserMessage(blocks...))
			}
		case "assistant":
			blocks := make([]anthropic.ContentBlockParamUnion, 0, len(msg.ToolCalls)+1)
			if msg.Text != "" {
				blocks = append(blocks, anthropic.NewTextBlock(msg.Text))
			}
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				blocks = append(blocks, anthropic.NewToolUseBlock(tc.ID, args, tc.Name))
			}
			if len(blocks) > 0 {
				messages = append(messages, anthropic.NewAssistantMessage(blocks...))
			}
		}
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(req.Model),
		Messages:  messages,
		MaxTokens: int64(req.MaxTokens),
	}

	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	if len(req.Tools) > 0 {
		tools := make([]anthropic.ToolUnionParam, 0, len(req.Tools))
		for _, spec := range req.Tools {
			tool := anthropic.ToolParam{
				Name:        spec.Name,
				Description: anthropic.String(spec.Description),
				InputSchema: anthropic.ToolInputSchemaParam{
					Properties:  spec.InputSchema["properties"],
					Required:    requiredFields(spec.InputSchema),
					ExtraFields: extraSchemaFields(spec.InputSchema),
				},
			}
			tools = append(tools, anthropic.ToolUnionParam{OfTool: &tool})
		}
		params.Tools = tools
	}

	return params
}

// extraSchemaFields returns the schema keywords ToolInputSchemaParam has no
// field for, such as $defs or additionalProperties.
func extraSchemaFields(schema map[string]any) map[string]any {
	var extra map[string]any
	for k, v := range schema {
		switch k {
		case "type", "properties", "required":
			continue
		}
		if extra == nil {
			extra = make(map[string]any)
		}
		extra[k] = v
	}
	return extra
}

func requiredFields(schema map[string]any) []string {
	switch req := schema["required"].(type) {
	case []string:
		return req
	case []any:
		out := make([]string, 0, len(req))
		for _, v := range req {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}
