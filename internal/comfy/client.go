// Package comfy talks to a ComfyUI-compatible generative compute engine and
// dispatches batches of workflow jobs to it.
package comfy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonathan/content-pipeline/internal/types"
)

// StatusError is returned when the engine answers with a non-2xx status.
type StatusError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body != "" {
		return fmt.Sprintf("engine %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("engine %s returned %d", e.Endpoint, e.StatusCode)
}

// Device is one compute device reported by /system_stats.
type Device struct {
	Name           string `json:"name"`
	Type           string `json:"type"`
	Index          int    `json:"index"`
	VRAMTotal      int64  `json:"vram_total"`
	VRAMFree       int64  `json:"vram_free"`
	TorchVRAMTotal int64  `json:"torch_vram_total"`
	TorchVRAMFree  int64  `json:"torch_vram_free"`
}

// SystemStats is the /system_stats payload.
type SystemStats struct {
	System struct {
		OS             string `json:"os"`
		PythonVersion  string `json:"python_version"`
		EmbeddedPython bool   `json:"embedded_python"`
	} `json:"system"`
	Devices []Device `json:"devices"`
}

// MemoryUsagePercent is used VRAM over total VRAM across all devices, 0-100.
func (s *SystemStats) MemoryUsagePercent() float64 {
	var total, free int64
	for _, d := range s.Devices {
		total += d.VRAMTotal
		free += d.VRAMFree
	}
	if total <= 0 {
		return 0
	}
	return float64(total-free) / float64(total) * 100
}

// QueueStatus is the /queue payload. Entries are kept opaque.
type QueueStatus struct {
	Running []json.RawMessage `json:"queue_running"`
	Pending []json.RawMessage `json:"queue_pending"`
}

// Depth is running plus pending entries.
func (q *QueueStatus) Depth() int {
	return len(q.Running) + len(q.Pending)
}

// NodeOutput lists the files one output node produced.
type NodeOutput struct {
	Images []types.OutputAsset `json:"images,omitempty"`
	Gifs   []types.OutputAsset `json:"gifs,omitempty"`
	Videos []types.OutputAsset `json:"videos,omitempty"`
}

// HistoryStatus is the execution status recorded for a prompt.
type HistoryStatus struct {
	StatusStr string            `json:"status_str"`
	Completed bool              `json:"completed"`
	Messages  []json.RawMessage `json:"messages,omitempty"`
}

// HistoryEntry is the /history/{id} record for one prompt.
type HistoryEntry struct {
	Outputs map[string]NodeOutput `json:"outputs"`
	Status  HistoryStatus         `json:"status"`
}

// Assets flattens all node outputs.
func (h *HistoryEntry) Assets() []types.OutputAsset {
	var assets []types.OutputAsset
	for _, out := range h.Outputs {
		assets = append(assets, out.Images...)
		assets = append(assets, out.Gifs...)
		assets = append(assets, out.Videos...)
	}
	return assets
}

// Client is a thin HTTP client for the engine API.
type Client struct {
	baseURL  string
	clientID string
	http     *http.Client
}

// NewClient creates a client for the engine at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:  strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		clientID: uuid.NewString(),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				DialContext: (&net.Dialer{
					Timeout:   5 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
	}
}

// BaseURL returns the engine address.
func (c *Client) BaseURL() string { return c.baseURL }

// GetSystemStats fetches device and memory information.
func (c *Client) GetSystemStats(ctx context.Context) (*SystemStats, error) {
	var stats SystemStats
	if err := c.getJSON(ctx, "/system_stats", &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// GetQueue fetches the running and pending queue.
func (c *Client) GetQueue(ctx context.Context) (*QueueStatus, error) {
	var queue QueueStatus
	if err := c.getJSON(ctx, "/queue", &queue); err != nil {
		return nil, err
	}
	return &queue, nil
}

type promptRequest struct {
	Prompt   map[string]any `json:"prompt"`
	ClientID string         `json:"client_id"`
}

type promptResponse struct {
	PromptID   string         `json:"prompt_id"`
	Number     int            `json:"number"`
	NodeErrors map[string]any `json:"node_errors"`
}

// SubmitPrompt queues a workflow graph and returns the engine's prompt id.
func (c *Client) SubmitPrompt(ctx context.Context, graph map[string]any) (string, error) {
	var resp promptResponse
	if err := c.postJSON(ctx, "/prompt", promptRequest{Prompt: graph, ClientID: c.clientID}, &resp); err != nil {
		return "", err
	}
	if len(resp.NodeErrors) > 0 {
		return "", fmt.Errorf("engine rejected workflow: %d node errors", len(resp.NodeErrors))
	}
	if resp.PromptID == "" {
		return "", fmt.Errorf("engine response missing prompt_id")
	}
	return resp.PromptID, nil
}

// GetHistory returns the history entry for a prompt. found is false while the
// prompt has not finished executing.
func (c *Client) GetHistory(ctx context.Context, promptID string) (*HistoryEntry, bool, error) {
	var history map[string]HistoryEntry
	if err := c.getJSON(ctx, "/history/"+url.PathEscape(promptID), &history); err != nil {
		return nil, false, err
	}
	entry, ok := history[promptID]
	if !ok {
		return nil, false, nil
	}
	return &entry, true, nil
}

// DownloadOutput streams an output file into w.
func (c *Client) DownloadOutput(ctx context.Context, asset types.OutputAsset, w io.Writer) error {
	query := url.Values{}
	query.Set("filename", asset.Filename)
	query.Set("subfolder", asset.Subfolder)
	query.Set("type", orDefault(asset.Type, "output"))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/view?"+query.Encode(), nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("download %s: %w", asset.Filename, err)
	}
	defer resp.Body.Close()
	if err := checkStatus("/view", resp); err != nil {
		return err
	}
	if _, err := io.Copy(w, resp.Body); err != nil {
		return fmt.Errorf("download %s: %w", asset.Filename, err)
	}
	return nil
}

// DeleteQueued removes pending prompts from the queue.
func (c *Client) DeleteQueued(ctx context.Context, promptIDs []string) error {
	return c.postJSON(ctx, "/queue", map[string]any{"delete": promptIDs}, nil)
}

// Interrupt stops execution of the given prompt if it is running.
func (c *Client) Interrupt(ctx context.Context, promptID string) error {
	return c.postJSON(ctx, "/interrupt", map[string]any{"prompt_id": promptID}, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	return c.do(path, req, out)
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal %s request: %w", path, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(path, req, out)
}

func (c *Client) do(path string, req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("engine %s: %w", path, err)
	}
	defer resp.Body.Close()
	if err := checkStatus(path, resp); err != nil {
		return err
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func checkStatus(path string, resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	return &StatusError{Endpoint: path, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
}

func orDefault(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}
