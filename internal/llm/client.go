package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// Chat roles
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatResponse is the text produced for a chat request.
type ChatResponse struct {
	Content      string
	FinishReason string
}

// Client is the opaque text generation capability.
type Client interface {
	// Chat sends the conversation and returns the assistant reply
	Chat(ctx context.Context, messages []Message) (*ChatResponse, error)
	// Close releases any resources held by the client
	Close() error
}

// NewClient creates a text generation client based on configuration
func NewClient(ctx context.Context, config *Config) (Client, error) {
	if config == nil {
		config = DefaultConfig()
	}

	switch config.Provider {
	case ProviderOpenAI:
		return NewOpenAIClient(config)
	case ProviderGemini, "":
		return NewGeminiClient(ctx, config)
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", config.Provider)
	}
}

// GeminiClient implements Client for Google Gemini
type GeminiClient struct {
	client *genai.Client
	config *Config
}

// NewGeminiClient creates a new Gemini client
func NewGeminiClient(ctx context.Context, config *Config) (*GeminiClient, error) {
	if config.APIKey == "" {
		return nil, fmt.Errorf("API key is required")
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(config.APIKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		client: client,
		config: config,
	}, nil
}

// Chat maps system turns onto the system instruction and replays the rest as chat history.
func (c *GeminiClient) Chat(ctx context.Context, messages []Message) (*ChatResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("chat requires at least one message")
	}

	model := c.client.GenerativeModel(c.config.Model)
	model.SetTemperature(c.config.Temperature)

	var system []string
	var turns []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 {
		return nil, fmt.Errorf("chat requires a user message")
	}
	if len(system) > 0 {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}

	session := model.StartChat()
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		session.History = append(session.History, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(m.Content)},
		})
	}

	resp, err := session.SendMessage(ctx, genai.Text(turns[len(turns)-1].Content))
	if err != nil {
		return nil, &APICallError{Message: "failed to generate content", Cause: err}
	}

	text, err := extractTextFromResponse(resp)
	if err != nil {
		return nil, err
	}
	finish := ""
	if len(resp.Candidates) > 0 {
		finish = resp.Candidates[0].FinishReason.String()
	}
	return &ChatResponse{Content: text, FinishReason: finish}, nil
}

// Close releases resources held by the client
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// extractTextFromResponse extracts text from Gemini API response
func extractTextFromResponse(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", &ParseError{Message: "no candidates in response"}
	}

	candidate := resp.Candidates[0]
	if candidate.Content == nil || len(candidate.Content.Parts) == 0 {
		return "", &ParseError{Message: "no content in response"}
	}

	var parts []string
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			parts = append(parts, string(text))
		}
	}

	if len(parts) == 0 {
		return "", &ParseError{Message: "no text parts in response"}
	}

	return strings.Join(parts, ""), nil
}
