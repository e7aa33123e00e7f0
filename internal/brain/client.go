// Package brain calls the external completion service and guarantees the
// webhook always gets some text back within its budget.
package brain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrTimeout marks a completion call that ran out of budget, as opposed to
// any other failure. The invoker treats the two differently.
var ErrTimeout = errors.New("brain: completion timed out")

// Request is one completion call.
type Request struct {
	Model        string  `json:"model"`
	SystemPrompt string  `json:"system_prompt"`
	UserText     string  `json:"user_text"`
	MaxTokens    int     `json:"max_tokens"`
	Temperature  float64 `json:"temperature"`
}

// Client is the completion-service boundary.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// HTTPClient talks to a completion endpoint that accepts a Request as JSON
// and responds with {"text": ...}.
type HTTPClient struct {
	url    string
	apiKey string
	client *http.Client
}

func NewHTTPClient(endpoint, apiKey string) (*HTTPClient, error) {
	endpoint = strings.TrimSpace(endpoint)
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return nil, fmt.Errorf("completion endpoint: %w", err)
	}
	return &HTTPClient{
		url:    endpoint,
		apiKey: apiKey,
		// Per-call budgets come from the caller's context; this is only a
		// hard ceiling against leaked connections.
		client: &http.Client{Timeout: 60 * time.Second},
	}, nil
}

func (c *HTTPClient) Complete(ctx context.Context, req Request) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.client.Do(httpReq)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", ErrTimeout
		}
		return "", fmt.Errorf("send request: %w", err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", fmt.Errorf("completion http status %d: %s", res.StatusCode, string(body))
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		// Some gateways answer with bare text.
		return strings.TrimSpace(string(body)), nil
	}
	return strings.TrimSpace(parsed.Text), nil
}
