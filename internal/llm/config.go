// Package llm provides the text generation capability used by the script and shot adapters.
package llm

import "time"

// Provider represents an LLM provider
type Provider string

// Provider constants define supported LLM providers
const (
	// ProviderGemini is the Google Gemini provider
	ProviderGemini Provider = "gemini"
	// ProviderOpenAI is any OpenAI-compatible chat completions endpoint
	ProviderOpenAI Provider = "openai"
)

// Config holds the model configuration for the application
type Config struct {
	Provider    Provider
	Model       string
	APIKey      string
	BaseURL     string // OpenAI-compatible endpoints only; comma separated for failover
	Temperature float32
	Timeout     time.Duration
}

// DefaultConfig returns the default configuration (currently Gemini)
func DefaultConfig() *Config {
	return &Config{
		Provider:    ProviderGemini,
		Model:       "gemini-2.5-flash",
		Temperature: 0.7,
		Timeout:     120 * time.Second,
	}
}

// WithModel returns a copy of the config using model
func (c *Config) WithModel(model string) *Config {
	next := *c
	next.Model = model
	return &next
}
