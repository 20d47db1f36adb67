package llm

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	assert.Equal(t, ProviderGemini, config.Provider)
	assert.Equal(t, "gemini-2.5-flash", config.Model)
	assert.Greater(t, config.Timeout.Seconds(), 0.0)
}

func TestWithModel(t *testing.T) {
	original := DefaultConfig()
	next := original.WithModel("gemini-2.5-pro")

	assert.Equal(t, "gemini-2.5-pro", next.Model)
	assert.Equal(t, "gemini-2.5-flash", original.Model, "original must be unchanged")
}

func TestNewClient_UnknownProvider(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{Provider: "mystery"})
	assert.Error(t, err)
}

func TestNewClient_GeminiRequiresKey(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{Provider: ProviderGemini})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API key is required")
}

func TestNewClient_OpenAIRequiresBaseURL(t *testing.T) {
	_, err := NewClient(context.Background(), &Config{Provider: ProviderOpenAI})
	assert.Error(t, err)
}
