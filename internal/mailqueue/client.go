package mailqueue

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Client posts messages to the queue's HTTP endpoint. One attempt per
// message, no retries here.
type Client struct {
	endpoint   string
	httpClient *http.Client
}

var _ Queue = (*Client)(nil)

// NewClient creates a queue client for the given enqueue endpoint. timeout
// bounds the attempt; zero means a 15-second default.
func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: timeout},
	}
}

func (c *Client) Enqueue(ctx context.Context, msg *Message) error {
	msg.EnsureID()
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("mailqueue: encode message: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("mailqueue: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("mailqueue: enqueue: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("mailqueue: enqueue returned %d", resp.StatusCode)
	}
	return nil
}
