package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/entrhq/govdelegate/pkg/llm"
)

func TestNewProviderRequiresKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := NewProvider("")
	assert.Error(t, err)

	t.Setenv("OPENAI_API_KEY", "env-key")
	p, err := NewProvider("")
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, p.GetModel())
}

func TestNewProviderBaseURLFromEnv(t *testing.T) {
	t.Setenv("OPENAI_BASE_URL", "http://localhost:9999/v1")
	p, err := NewProvider("k")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:9999/v1", p.GetBaseURL())

	p, err = NewProvider("k", WithBaseURL("http://explicit/v1"))
	require.NoError(t, err)
	assert.Equal(t, "http://explicit/v1", p.GetBaseURL())
}

func TestComplete(t *testing.T) {
	var captured map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"model": "gpt-4-0613",
			"choices": [{"message": {"role": "assistant", "content": "{\"choice\":\"For\"}"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 12, "completion_tokens": 5, "total_tokens": 17}
		}`))
	}))
	defer srv.Close()

	p, err := NewProvider("secret", WithBaseURL(srv.URL), WithModel("gpt-4"), WithTemperature(0.3), WithJSONMode())
	require.NoError(t, err)

	out, err := p.Complete(context.Background(), []llm.Message{
		llm.NewSystemMessage("system prompt"),
		llm.NewUserMessage("question"),
	})
	require.NoError(t, err)
	assert.Equal(t, `{"choice":"For"}`, out.Message.Content)
	assert.Equal(t, llm.RoleAssistant, out.Message.Role)
	assert.Equal(t, 17, out.Usage.TotalTokens)
	assert.Equal(t, "gpt-4-0613", out.Model)

	assert.Equal(t, "gpt-4", captured["model"])
	assert.InDelta(t, 0.3, captured["temperature"], 1e-9)
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, captured["response_format"])
	msgs, ok := captured["messages"].([]interface{})
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]interface{})["role"])
}

func TestCompleteAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"rate limited"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	p, err := NewProvider("k", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), []llm.Message{llm.NewUserMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestCompleteNoChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices": []}`))
	}))
	defer srv.Close()

	p, err := NewProvider("k", WithBaseURL(srv.URL))
	require.NoError(t, err)
	_, err = p.Complete(context.Background(), []llm.Message{llm.NewUserMessage("hi")})
	assert.Error(t, err)
}

func TestConvertToOpenAIMessages(t *testing.T) {
	msgs := convertToOpenAIMessages([]llm.Message{
		llm.NewSystemMessage("s"),
		{Role: llm.RoleAssistant, Content: "a"},
		{Role: "tool", Content: "unknown roles become user"},
	})
	require.Len(t, msgs, 3)
	assert.NotNil(t, msgs[0].OfSystem)
	assert.NotNil(t, msgs[1].OfAssistant)
	assert.NotNil(t, msgs[2].OfUser)
}
