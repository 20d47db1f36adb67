package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenAIClient_Chat(t *testing.T) {
	var received chatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello"},"finish_reason":"stop"}]}`))
	}))
	defer srv.Close()

	client, err := NewOpenAIClient(&Config{Provider: ProviderOpenAI, BaseURL: srv.URL, APIKey: "secret", Model: "local"})
	require.NoError(t, err)

	resp, err := client.Chat(context.Background(), []Message{
		{Role: RoleSystem, Content: "be brief"},
		{Role: RoleUser, Content: "hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", resp.Content)
	assert.Equal(t, "stop", resp.FinishReason)
	assert.Equal(t, "local", received.Model)
	require.Len(t, received.Messages, 2)
	assert.Equal(t, RoleSystem, received.Messages[0].Role)
}

func TestOpenAIClient_FailsOverToNextEndpoint(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer down.Close()
	up := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"from backup"}}]}`))
	}))
	defer up.Close()

	client, err := NewOpenAIClient(&Config{BaseURL: down.URL + "," + up.URL})
	require.NoError(t, err)

	resp, err := client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.NoError(t, err)
	assert.Equal(t, "from backup", resp.Content)
}

func TestOpenAIClient_AllEndpointsFail(t *testing.T) {
	down := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer down.Close()

	client, err := NewOpenAIClient(&Config{BaseURL: down.URL})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	require.Error(t, err)
	var apiErr *APICallError
	assert.True(t, errors.As(err, &apiErr))
}

func TestOpenAIClient_NoMessages(t *testing.T) {
	client, err := NewOpenAIClient(&Config{BaseURL: "http://localhost:1"})
	require.NoError(t, err)

	_, err = client.Chat(context.Background(), nil)
	assert.Error(t, err)
}

func TestSplitBaseURLs(t *testing.T) {
	got := splitBaseURLs("localhost:1234, http://gpu:8000/v1/ ;localhost:1234")
	assert.Equal(t, []string{"http://localhost:1234/v1", "http://gpu:8000/v1"}, got)
}
