package agent

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/rs/zerolog/log"

	"github.com/harun/lainbot/internal/observability"
)

// OpenAIEndpoint streams responses from the Chat Completions API.
type OpenAIEndpoint struct {
	client openai.Client
}

// NewOpenAIEndpoint wraps a configured client.
func NewOpenAIEndpoint(client openai.Client) *OpenAIEndpoint {
	return &OpenAIEndpoint{client: client}
}

// Name returns the endpoint name
func (e *OpenAIEndpoint) Name() string {
	return "openai"
}

// Stream sends req and relays content deltas. Tool call deltas only carry
// the call ID on their first chunk; later chunks are attributed through the
// stream index.
func (e *OpenAIEndpoint) Stream(ctx context.Context, req Request, onText func(string)) (comp *Completion, err error) {
	start := time.Now()
	defer func() { observability.RecordModelStream(e.Name(), time.Since(start), err == nil) }()

	params, err := openaiParams(req)
	if err != nil {
		return nil, newModelError(e.Name(), 0, err)
	}

	stream := e.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	acc := newToolCallAccumulator()
	var text strings.Builder
	stop := StopEndTurn

	for stream.Next() {
		chunk := stream.Current()
		for _, choice := range chunk.Choices {
			if choice.Index != 0 {
				continue
			}
			if choice.Delta.Content != "" {
				text.WriteString(choice.Delta.Content)
				onText(choice.Delta.Content)
			}
			for _, tc := range choice.Delta.ToolCalls {
				if tc.ID != "" {
					acc.start(tc.Index, tc.ID, tc.Function.Name)
				} else if tc.Function.Name != "" {
					acc.appendName(tc.Index, tc.Function.Name)
				}
				if tc.Function.Arguments != "" {
					acc.appendArgs(tc.Index, tc.Function.Arguments)
				}
			}
			if choice.FinishReason != "" {
				acc.finishAll()
				stop = openaiStopReason(string(choice.FinishReason))
			}
		}
	}

	if err := stream.Err(); err != nil {
		return nil, openaiError(err)
	}

	calls, unfinished := acc.result()
	if len(unfinished) > 0 {
		log.Warn().Strs("calls", unfinished).Msg("Dropping tool calls that never completed")
	}

	return &Completion{Text: text.String(), StopReason: stop, ToolCalls: calls}, nil
}

func openaiStopReason(reason string) StopReason {
	switch reason {
	case "stop":
		return StopEndTurn
	case "tool_calls", "function_call":
		return StopToolUse
	case "length":
		return StopMaxTokens
	default:
		return StopOther
	}
}

func openaiError(err error) *ModelError {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return newModelError("openai", apiErr.StatusCode, err)
	}
	return newModelError("openai", 0, err)
}

func openaiParams(req Request) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, openai.SystemMessage(req.System))
	}

	for _, msg := range req.Messages {
		switch msg.Role {
		case "user":
			for _, r := range msg.ToolResults {
				messages = append(messages, openai.ToolMessage(r.Content, r.CallID))
			}
			if msg.Text != "" {
				messages = append(messages, openai.UserMessage(msg.Text))
			}
		case "assistant":
			if len(msg.ToolCalls) == 0 {
				if msg.Text != "" {
					messages = append(messages, openai.AssistantMessage(msg.Text))
				}
				continue
			}
			calls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(msg.ToolCalls))
			for _, tc := range msg.ToolCalls {
				args := tc.Arguments
				if args == nil {
					args = map[string]any{}
				}
				data, err := json.Marshal(args)
				if err != nil {
					return openai.ChatCompletionNewParams{}, err
				}
				calls = append(calls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(data),
					},
				})
			}
			assistant := &openai.ChatCompletionAssistantMessageParam{ToolCalls: calls}
			if msg.Text != "" {
				assistant.Content.OfString = openai.String(msg.Text)
			}
			messages = append(messages, openai.ChatCompletionMessageParamUnion{OfAssistant: assistant})
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(req.Model),
		Messages: messages,
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolParam, 0, len(req.Tools))
		for _, spec := range req.Tools {
			tools = append(tools, openai.ChatCompletionToolParam{
				Function: openai.FunctionDefinitionParam{
					Name:        spec.Name,
					Description: openai.String(spec.Description),
					Parameters:  openai.FunctionParameters(spec.InputSchema),
				},
			})
		}
		params.Tools = tools
	}

	return params, nil
}
