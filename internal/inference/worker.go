package inference

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// WorkerClient calls a JSON inference sidecar that hosts the model
// in-process (transformers, vLLM offline, etc.).
type WorkerClient struct {
	url        string
	apiKey     string
	httpClient *http.Client
}

func NewWorkerClient(url, apiKey string, timeout time.Duration) *WorkerClient {
	if timeout <= 0 {
		timeout = 300 * time.Second
	}
	return &WorkerClient{
		url:    strings.TrimRight(url, "/"),
		apiKey: apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type workerRequest struct {
	Prompt       string `json:"prompt"`
	ImageBase64  string `json:"image_base64"`
	MaxNewTokens int    `json:"max_new_tokens"`
}

type workerResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Generate posts one PNG page and returns the raw generated text.
func (c *WorkerClient) Generate(ctx context.Context, png []byte, prompt string, maxNewTokens int) (string, error) {
	body, err := json.Marshal(workerRequest{
		Prompt:       prompt,
		ImageBase64:  base64.StdEncoding.EncodeToString(png),
		MaxNewTokens: maxNewTokens,
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url+"/generate", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("inference worker: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference worker status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var out workerResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("inference worker error: %s", out.Error)
	}
	return out.Text, nil
}

// Close releases idle connections.
func (c *WorkerClient) Close() {
	c.httpClient.CloseIdleConnections()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
