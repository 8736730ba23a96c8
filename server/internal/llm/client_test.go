package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"junction-sim/server/internal/config"
)

func TestOpenAIClientSendsSchemaAndReturnsContent(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer dummy", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"emotion\":\"happy\"}"}}]}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL, APIKey: "dummy", Model: "gpt-4o-mini", Temperature: 0.3})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	res, err := client.Complete(ctx, []Message{{Role: RoleUser, Content: "test"}}, &JSONSchema{Name: "x", Schema: map[string]any{"type": "object"}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"emotion":"happy"}`, res)

	format, ok := got["response_format"].(map[string]any)
	require.True(t, ok, "response_format missing: %v", got)
	assert.Equal(t, "json_schema", format["type"])
	assert.Equal(t, 0.3, got["temperature"])
	_, hasMax := got["max_completion_tokens"]
	assert.False(t, hasMax, "zero max tokens should be omitted")
	_, hasEffort := got["reasoning_effort"]
	assert.False(t, hasEffort)
}

func TestOpenAIClientStatusError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"error":"rate limited"}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL, APIKey: "dummy"})
	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)

	var statusErr *StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, http.StatusTooManyRequests, statusErr.StatusCode)
}

func TestOpenAIClientEmptyChoices(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"choices":[]}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL})
	_, err := client.Complete(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrEmptyResponse)
}

func TestOpenAIClientReasoningModelLowersEffort(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"choices":[{"message":{"content":""},"finish_reason":"length"}]}`))
	}))
	defer ts.Close()

	client := NewOpenAIClient(config.LLMProviderConfig{APIURL: ts.URL, Model: "gpt-5-mini", MaxTokens: 200})
	_, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "x"}}, nil)
	require.ErrorIs(t, err, ErrEmptyResponse)
	assert.Contains(t, err.Error(), "length")
	assert.Equal(t, "low", got["reasoning_effort"])
	assert.Equal(t, float64(200), got["max_completion_tokens"])
	_, hasFormat := got["response_format"]
	assert.False(t, hasFormat)
}

func TestAnthropicClientSplitsSystemAndAppendsSchema(t *testing.T) {
	var got map[string]any
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/messages", r.URL.Path)
		assert.Equal(t, "dummy", r.Header.Get("x-api-key"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"content":[{"type":"text","text":"{\"ok\":true}"}]}`))
	}))
	defer ts.Close()

	client := NewAnthropicClient(config.LLMProviderConfig{APIURL: ts.URL, APIKey: "dummy", Model: "claude"})
	res, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	}, &JSONSchema{Name: "x", Schema: map[string]any{"type": "object"}})
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, res)

	system, _ := got["system"].(string)
	assert.Contains(t, system, "be brief")
	assert.Contains(t, system, "JSON Schema")
	msgs, _ := got["messages"].([]any)
	assert.Len(t, msgs, 1)
	assert.Equal(t, float64(1024), got["max_tokens"])
}

func TestNewClientRejectsUnknownProvider(t *testing.T) {
	cfg := config.Default()
	cfg.LLM.Provider = "mystery"
	_, err := NewClient(&cfg)
	assert.Error(t, err)

	cfg.LLM.Provider = "anthropic"
	client, err := NewClient(&cfg)
	require.NoError(t, err)
	assert.IsType(t, &AnthropicClient{}, client)
}

func TestMockClientSequencesResponses(t *testing.T) {
	m := NewMockClient("a", "b")
	first, _ := m.Complete(context.Background(), nil, nil)
	second, _ := m.Complete(context.Background(), nil, nil)
	third, _ := m.Complete(context.Background(), nil, nil)
	assert.Equal(t, []string{"a", "b", "b"}, []string{first, second, third})
	assert.Equal(t, 3, m.CallCount())

	m.SetFail(true)
	_, err := m.Complete(context.Background(), nil, nil)
	assert.ErrorIs(t, err, ErrMockFailure)
}
