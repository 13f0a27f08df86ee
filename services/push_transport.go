package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/kendall-kelly/support-chat-api/config"
)

// PushMessage is one device push for one recipient
type PushMessage struct {
	NotificationID string          `json:"notification_id"`
	RecipientID    uint            `json:"recipient_id"`
	Title          string          `json:"title"`
	Body           string          `json:"body"`
	Data           json.RawMessage `json:"data,omitempty"`
}

// PushTransport sends push messages to the external push provider
type PushTransport interface {
	SendBatch(ctx context.Context, messages []PushMessage) error
}

// HTTPPushTransport posts batches as JSON to a push gateway
type HTTPPushTransport struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPPushTransport creates a push transport from cfg
func NewHTTPPushTransport(cfg config.PushConfig) *HTTPPushTransport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPPushTransport{
		endpoint: cfg.Endpoint,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type pushBatchRequest struct {
	Messages []PushMessage `json:"messages"`
}

// SendBatch delivers messages in one request. Any non-2xx response is a failure.
func (t *HTTPPushTransport) SendBatch(ctx context.Context, messages []PushMessage) error {
	if len(messages) == 0 {
		return nil
	}
	if t.endpoint == "" {
		return fmt.Errorf("push endpoint is not configured")
	}

	body, err := json.Marshal(pushBatchRequest{Messages: messages})
	if err != nil {
		return fmt.Errorf("failed to marshal push batch: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if t.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+t.apiKey)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call push gateway: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("push gateway returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
