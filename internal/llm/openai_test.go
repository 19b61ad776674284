package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *OpenAIClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewOpenAIClient("sk-test", srv.URL+"/v1")
}

func TestComplete_ToolCallRoundTrip(t *testing.T) {
	var gotBody map[string]any
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &gotBody))

		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4.1",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "add_layer_to_map", "arguments": "{\"layer_id\":\"Labc\"}"}
					}]
				}
			}]
		}`)
	})

	msg, err := c.Complete(context.Background(), Request{
		Params: Params{Model: "gpt-4.1"},
		Messages: []Message{
			{Role: RoleSystem, Content: "be brief"},
			{Role: RoleUser, Content: "add it"},
		},
		Tools: []Tool{NewFunctionTool("add_layer_to_map", "attach", true, map[string]any{"type": "object"})},
	})
	require.NoError(t, err)

	assert.Equal(t, RoleAssistant, msg.Role)
	require.Len(t, msg.ToolCalls, 1)
	assert.Equal(t, "call_1", msg.ToolCalls[0].ID)
	assert.Equal(t, "function", msg.ToolCalls[0].Type)
	assert.Equal(t, "add_layer_to_map", msg.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"layer_id":"Labc"}`, msg.ToolCalls[0].Function.Arguments)

	assert.Equal(t, "gpt-4.1", gotBody["model"])
	tools, ok := gotBody["tools"].([]any)
	require.True(t, ok)
	assert.Len(t, tools, 1)
}

func TestComplete_ContextLengthClassified(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"message":"This model's maximum context length is 128000 tokens","type":"invalid_request_error","code":"context_length_exceeded"}}`)
	})

	_, err := c.Complete(context.Background(), Request{Params: Params{Model: "gpt-4.1"}})
	require.Error(t, err)
	assert.True(t, IsContextLength(err))
}

func TestComplete_OtherErrorIsProvider(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		io.WriteString(w, `{"error":{"message":"boom","type":"server_error"}}`)
	})

	_, err := c.Complete(context.Background(), Request{Params: Params{Model: "gpt-4.1"}})
	require.Error(t, err)
	assert.False(t, IsContextLength(err))
	assert.True(t, errors.Is(err, ErrProvider))
}

func TestMessage_WireShape(t *testing.T) {
	m := Message{Role: RoleTool, Content: `{"status":"success"}`, ToolCallID: "call_9"}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"tool","content":"{\"status\":\"success\"}","tool_call_id":"call_9"}`, string(data))
}

func TestStaticParams(t *testing.T) {
	p := StaticParams{Model: "m", Temperature: 0.5}
	got := p.ParamsFor(context.Background(), "u")
	assert.Equal(t, "m", got.Model)
	assert.Equal(t, float32(0.5), got.Temperature)
}
