package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestIsTransient(t *testing.T) {
	assert.True(t, IsTransient(context.DeadlineExceeded))
	assert.True(t, IsTransient(fmt.Errorf("call: %w", context.DeadlineExceeded)))
	assert.True(t, IsTransient(timeoutErr{}))
	assert.True(t, IsTransient(&net.OpError{Op: "dial", Err: errors.New("no route to host")}))
	assert.True(t, IsTransient(&net.OpError{Op: "read", Err: syscall.ECONNREFUSED}))

	assert.False(t, IsTransient(nil))
	assert.False(t, IsTransient(context.Canceled))
	assert.False(t, IsTransient(errors.New("401 unauthorized")))
}

func TestNewProvider(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Provider: "openai", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "openai", p.Provider())

	p, err = NewProvider(ProviderConfig{Provider: "anthropic", APIKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, "anthropic", p.Provider())

	_, err = NewProvider(ProviderConfig{Provider: "openai"})
	assert.Error(t, err)

	_, err = NewProvider(ProviderConfig{Provider: "gemini", APIKey: "k"})
	assert.Error(t, err)
}

func TestNewHTTPClientTimeouts(t *testing.T) {
	c := newHTTPClient(0, 0)
	assert.Equal(t, "2m0s", c.Timeout.String())

	c = newHTTPClient(5e9, 1e9)
	assert.Equal(t, "5s", c.Timeout.String())
}

func TestToAnthropicMessagesFoldsSystem(t *testing.T) {
	msgs, system := toAnthropicMessages(LLMRequest{
		SystemPrompt: "base",
		Messages: []Message{
			SystemMessage{Content: "context"},
			UserMessage{Content: "q"},
			AssistantMessage{ToolCalls: []ToolCall{{ID: "c1", Name: SearchToolName, Parameters: map[string]interface{}{"query": "go"}}}},
			ToolMessage{ToolCallID: "c1", Content: "[]"},
			AssistantMessage{},
		},
	})

	assert.Equal(t, "base\n\ncontext", system)
	assert.Len(t, msgs, 3)
}

func TestRequiredFields(t *testing.T) {
	assert.Equal(t, []string{"query"}, requiredFields(map[string]interface{}{"required": []interface{}{"query", 1}}))
	assert.Equal(t, []string{"a"}, requiredFields(map[string]interface{}{"required": []string{"a"}}))
	assert.Nil(t, requiredFields(map[string]interface{}{}))
}

func TestOpenAIProviderCall(t *testing.T) {
	var body map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/chat/completions"), r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(raw, &body))

		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 0,
			"model": "Qwen3-235B",
			"choices": [{
				"index": 0,
				"finish_reason": "tool_calls",
				"message": {
					"role": "assistant",
					"content": "",
					"tool_calls": [{
						"id": "call_1",
						"type": "function",
						"function": {"name": "internet_search", "arguments": "{\"query\":\"go 1.24\"}"}
					}]
				}
			}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 4, "total_tokens": 16}
		}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider("test-key", server.URL+"/v1/", server.Client())
	resp, err := p.Call(context.Background(), LLMRequest{
		Model:        "Qwen3-235B",
		SystemPrompt: "be brief",
		Messages:     []Message{UserMessage{Content: "what is new in go?"}},
		Tools:        []ToolDefinition{NewSearchTool(nil).Definition()},
		MaxTokens:    100,
	})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1)
	assert.Equal(t, "call_1", resp.ToolCalls[0].ID)
	assert.Equal(t, "go 1.24", resp.ToolCalls[0].Parameters["query"])
	assert.Equal(t, 12, resp.Usage.InputTokens)

	assert.Equal(t, "Qwen3-235B", body["model"])
	messages := body["messages"].([]interface{})
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]interface{})["role"])
	tools := body["tools"].([]interface{})
	require.Len(t, tools, 1)
}

func TestOpenAIProviderServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":{"message":"boom"}}`)
	}))
	defer server.Close()

	p := NewOpenAIProvider("k", server.URL+"/v1/", server.Client())
	_, err := p.Call(context.Background(), LLMRequest{Model: "m", Messages: []Message{UserMessage{Content: "hi"}}})
	require.Error(t, err)
	assert.False(t, IsTransient(err))
}

func TestAnthropicProviderCall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.True(t, strings.HasSuffix(r.URL.Path, "/v1/messages"), r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "msg_1",
			"type": "message",
			"role": "assistant",
			"model": "claude",
			"content": [{"type": "text", "text": "Hello "}, {"type": "text", "text": "there"}],
			"stop_reason": "end_turn",
			"usage": {"input_tokens": 3, "output_tokens": 2}
		}`)
	}))
	defer server.Close()

	p := NewAnthropicProvider("k", server.URL, server.Client())
	resp, err := p.Call(context.Background(), LLMRequest{Model: "claude", Messages: []Message{UserMessage{Content: "hi"}}})
	require.NoError(t, err)
	assert.Equal(t, "Hello there", resp.Content)
	assert.Empty(t, resp.ToolCalls)
	assert.Equal(t, 2, resp.Usage.OutputTokens)
}
