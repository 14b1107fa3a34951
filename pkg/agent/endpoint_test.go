package agent

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sseServer(t *testing.T, path string, events []string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, path) {
			http.NotFound(w, r)
			return
		}
		_, _ = io.Copy(io.Discard, r.Body)
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, ev := range events {
			_, _ = fmt.Fprint(w, ev)
		}
	}))
	t.Cleanup(srv.Close)
	return srv
}

func statusServer(t *testing.T, status int, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func anthropicEvent(name, data string) string {
	return "event: " + name + "\ndata: " + data + "\n\n"
}

func openaiChunk(data string) string {
	return "data: " + data + "\n\n"
}

func testRequest() Request {
	return Request{
		Model:     "test-model",
		Messages:  []Message{{Role: "user", Text: "ping example.com"}},
		Tools:     []ToolSpec{{Name: "alpha__ping", Description: "[alpha] Ping", InputSchema: map[string]any{"type": "object", "properties": map[string]any{}}}},
		MaxTokens: 100,
	}
}

func TestAnthropicEndpoint(t *testing.T) {
	t.Run("should relay text and assemble tool calls", func(t *testing.T) {
		srv := sseServer(t, "/v1/messages", []string{
			anthropicEvent("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"test-model","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":5,"output_tokens":1}}}`),
			anthropicEvent("content_block_start", `{"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`),
			anthropicEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":"Checking"}}`),
			anthropicEvent("content_block_delta", `{"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":" now."}}`),
			anthropicEvent("content_block_stop", `{"type":"content_block_stop","index":0}`),
			anthropicEvent("content_block_start", `{"type":"content_block_start","index":1,"content_block":{"type":"tool_use","id":"toolu_1","name":"alpha__ping","input":{}}}`),
			anthropicEvent("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"{\"host\":"}}`),
			anthropicEvent("content_block_delta", `{"type":"content_block_delta","index":1,"delta":{"type":"input_json_delta","partial_json":"\"example.com\"}"}}`),
			anthropicEvent("content_block_stop", `{"type":"content_block_stop","index":1}`),
			anthropicEvent("message_delta", `{"type":"message_delta","delta":{"stop_reason":"tool_use","stop_sequence":null},"usage":{"output_tokens":12}}`),
			anthropicEvent("message_stop", `{"type":"message_stop"}`),
		})
		ep, err := NewEndpoint(EndpointConfig{Provider: "anthropic", APIKey: "test", BaseURL: srv.URL + "/"})
		require.NoError(t, err)

		var fragments []string
		comp, err := ep.Stream(context.Background(), testRequest(), func(s string) { fragments = append(fragments, s) })
		require.NoError(t, err)

		assert.Equal(t, []string{"Checking", " now."}, fragments)
		assert.Equal(t, "Checking now.", comp.Text)
		assert.Equal(t, StopToolUse, comp.StopReason)
		require.Len(t, comp.ToolCalls, 1)
		assert.Equal(t, "toolu_1", comp.ToolCalls[0].ID)
		assert.Equal(t, "alpha__ping", comp.ToolCalls[0].Name)
		assert.Equal(t, map[string]any{"host": "example.com"}, comp.ToolCalls[0].Arguments)
	})

	t.Run("should forward the whole input schema", func(t *testing.T) {
		bodies := make(chan []byte, 1)
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			bodies <- body
			w.Header().Set("Content-Type", "text/event-stream")
			_, _ = fmt.Fprint(w,
				anthropicEvent("message_start", `{"type":"message_start","message":{"id":"msg_1","type":"message","role":"assistant","content":[],"model":"test-model","stop_reason":null,"stop_sequence":null,"usage":{"input_tokens":1,"output_tokens":1}}}`),
				anthropicEvent("message_delta", `{"type":"message_delta","delta":{"stop_reason":"end_turn","stop_sequence":null},"usage":{"output_tokens":1}}`),
				anthropicEvent("message_stop", `{"type":"message_stop"}`),
			)
		}))
		t.Cleanup(srv.Close)
		ep, err := NewEndpoint(EndpointConfig{Provider: "anthropic", APIKey: "test", BaseURL: srv.URL + "/"})
		require.NoError(t, err)

		req := testRequest()
		req.Tools[0].InputSchema = map[string]any{
			"type":                 "object",
			"properties":           map[string]any{"target": map[string]any{"$ref": "#/$defs/host"}},
			"required":             []any{"target"},
			"additionalProperties": false,
			"$defs":                map[string]any{"host": map[string]any{"type": "string"}},
		}
		_, err = ep.Stream(context.Background(), req, func(string) {})
		require.NoError(t, err)

		var sent struct {
			Tools []struct {
				InputSchema map[string]any `json:"input_schema"`
			} `json:"tools"`
		}
		require.NoError(t, json.Unmarshal(<-bodies, &sent))
		require.Len(t, sent.Tools, 1)
		schema := sent.Tools[0].InputSchema
		assert.Equal(t, "object", schema["type"])
		assert.Equal(t, false, schema["additionalProperties"])
		assert.Equal(t, map[string]any{"host": map[string]any{"type": "string"}}, schema["$defs"])
		assert.Equal(t, []any{"target"}, schema["required"])
	})

	t.Run("should classify rate limits", func(t *testing.T) {
		srv := statusServer(t, http.StatusTooManyRequests, `{"type":"error","error":{"type":"rate_limit_error","message":"slow down"}}`)
		ep, err := NewEndpoint(EndpointConfig{Provider: "anthropic", APIKey: "test", BaseURL: srv.URL + "/"})
		require.NoError(t, err)

		_, err = ep.Stream(context.Background(), testRequest(), func(string) {})
		var me *ModelError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, ErrorRateLimit, me.Kind)
		assert.Equal(t, http.StatusTooManyRequests, me.StatusCode)
	})
}

func TestOpenAIEndpoint(t *testing.T) {
	t.Run("should relay text and assemble tool calls", func(t *testing.T) {
		srv := sseServer(t, "/chat/completions", []string{
			openaiChunk(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{"role":"assistant","content":"Checking"},"finish_reason":null}]}`),
			openaiChunk(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"alpha__ping","arguments":""}}]},"finish_reason":null}]}`),
			openaiChunk(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"host\":"}}]},"finish_reason":null}]}`),
			openaiChunk(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"example.com\"}"}}]},"finish_reason":null}]}`),
			openaiChunk(`{"id":"c1","object":"chat.completion.chunk","created":1,"model":"test-model","choices":[{"index":0,"delta":{},"finish_reason":"tool_calls"}]}`),
			openaiChunk(`[DONE]`),
		})
		ep, err := NewEndpoint(EndpointConfig{Provider: "openai", APIKey: "test", BaseURL: srv.URL + "/"})
		require.NoError(t, err)

		var fragments []string
		comp, err := ep.Stream(context.Background(), testRequest(), func(s string) { fragments = append(fragments, s) })
		require.NoError(t, err)

		assert.Equal(t, []string{"Checking"}, fragments)
		assert.Equal(t, StopToolUse, comp.StopReason)
		require.Len(t, comp.ToolCalls, 1)
		assert.Equal(t, "call_1", comp.ToolCalls[0].ID)
		assert.Equal(t, map[string]any{"host": "example.com"}, comp.ToolCalls[0].Arguments)
	})

	t.Run("should classify server errors as connection errors", func(t *testing.T) {
		srv := statusServer(t, http.StatusBadGateway, `{"error":{"message":"upstream","type":"server_error"}}`)
		ep, err := NewEndpoint(EndpointConfig{Provider: "openai", APIKey: "test", BaseURL: srv.URL + "/"})
		require.NoError(t, err)

		_, err = ep.Stream(context.Background(), testRequest(), func(string) {})
		var me *ModelError
		require.ErrorAs(t, err, &me)
		assert.Equal(t, ErrorConnection, me.Kind)
		assert.True(t, me.Retryable())
	})
}

func TestNewEndpoint(t *testing.T) {
	t.Run("should require an api key", func(t *testing.T) {
		_, err := NewEndpoint(EndpointConfig{Provider: "anthropic"})
		assert.Error(t, err)
	})

	t.Run("should reject unknown providers", func(t *testing.T) {
		_, err := NewEndpoint(EndpointConfig{Provider: "mystery", APIKey: "k"})
		assert.Error(t, err)
	})
}

func TestNewModelError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		err    error
		want   ErrorKind
	}{
		{"cancelled", 0, context.Canceled, ErrorCanceled},
		{"rate limit", 429, errors.New("x"), ErrorRateLimit},
		{"server error", 503, errors.New("x"), ErrorConnection},
		{"bad request", 400, errors.New("x"), ErrorAPI},
		{"plain error", 0, errors.New("x"), ErrorUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, newModelError("test", tt.status, tt.err).Kind)
		})
	}
}
