package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"
)

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint
// (LM Studio, vLLM, Ollama, OpenAI). Multiple base URLs are tried in order.
type OpenAIClient struct {
	baseURLs    []string
	model       string
	apiKey      string
	temperature float32
	http        *http.Client
}

type chatCompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message      Message `json:"message"`
		FinishReason string  `json:"finish_reason"`
	} `json:"choices"`
}

// NewOpenAIClient creates a client for OpenAI-compatible endpoints
func NewOpenAIClient(config *Config) (*OpenAIClient, error) {
	baseURLs := splitBaseURLs(config.BaseURL)
	if len(baseURLs) == 0 {
		return nil, fmt.Errorf("llm base URL is not configured")
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &OpenAIClient{
		baseURLs:    baseURLs,
		model:       config.Model,
		apiKey:      config.APIKey,
		temperature: config.Temperature,
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}, nil
}

// Chat sends the conversation to the first endpoint that answers
func (c *OpenAIClient) Chat(ctx context.Context, messages []Message) (*ChatResponse, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("chat requires at least one message")
	}
	payload, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	failures := make([]string, 0, len(c.baseURLs))
	for _, baseURL := range c.baseURLs {
		resp, err := c.chatAtEndpoint(ctx, baseURL+"/chat/completions", payload)
		if err == nil {
			return resp, nil
		}
		if ctx.Err() != nil {
			return nil, &APICallError{Message: "chat cancelled", Cause: ctx.Err()}
		}
		failures = append(failures, fmt.Sprintf("%s (%v)", baseURL, err))
	}
	return nil, &APICallError{Message: "request failed across endpoints: " + strings.Join(failures, " | ")}
}

// Close is a no-op; the HTTP client holds no exclusive resources
func (c *OpenAIClient) Close() error {
	c.http.CloseIdleConnections()
	return nil
}

func (c *OpenAIClient) chatAtEndpoint(ctx context.Context, endpoint string, payload []byte) (*ChatResponse, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(request)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %s", resp.Status)
	}

	var decoded chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, &ParseError{Message: "decode response", Cause: err}
	}
	if len(decoded.Choices) == 0 {
		return nil, &ParseError{Message: "response missing choices"}
	}
	return &ChatResponse{
		Content:      decoded.Choices[0].Message.Content,
		FinishReason: strings.TrimSpace(decoded.Choices[0].FinishReason),
	}, nil
}

func normalizeBaseURL(baseURL string) string {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return trimmed
	}
	if !strings.Contains(trimmed, "://") {
		trimmed = "http://" + trimmed
	}
	trimmed = strings.TrimRight(trimmed, "/")
	if strings.HasSuffix(trimmed, "/v1") {
		return trimmed
	}
	return trimmed + "/v1"
}

func splitBaseURLs(raw string) []string {
	tokens := strings.FieldsFunc(raw, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n'
	})
	out := make([]string, 0, len(tokens))
	seen := map[string]struct{}{}
	for _, token := range tokens {
		normalized := normalizeBaseURL(token)
		if normalized == "" {
			continue
		}
		if _, ok := seen[normalized]; ok {
			continue
		}
		seen[normalized] = struct{}{}
		out = append(out, normalized)
	}
	return out
}
