package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"agentwatch/pkg/models"
)

// HTTPPublisher posts notifications to a topic endpoint.
type HTTPPublisher struct {
	url     string
	headers map[string]string
	client  *http.Client
}

// HTTPConfig configures the HTTP publisher.
type HTTPConfig struct {
	URL     string
	Timeout time.Duration
	Headers map[string]string
}

// NewHTTPPublisher creates an HTTP publisher.
func NewHTTPPublisher(cfg HTTPConfig) (*HTTPPublisher, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("notification URL is empty")
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPPublisher{
		url:     cfg.URL,
		headers: cfg.Headers,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

// Publish posts one notification record.
func (p *HTTPPublisher) Publish(ctx context.Context, record models.NotificationRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range p.headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("http request failed: %w", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http request failed with status %s", resp.Status)
	}

	return nil
}

// Close releases HTTP resources.
func (p *HTTPPublisher) Close() error {
	return nil
}
