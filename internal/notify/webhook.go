package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	DefaultWebhookTimeout = 10 * time.Second
)

// WebhookConfig configures the webhook notifier
type WebhookConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Retries int
	// Types limits delivery to these event types; empty means all
	Types []EventType
}

// WebhookNotifier POSTs events as JSON
type WebhookNotifier struct {
	config WebhookConfig
	client *http.Client
	types  map[EventType]bool
}

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.Code)
}

// NewWebhookNotifier creates a webhook notifier from the given config
func NewWebhookNotifier(cfg WebhookConfig) (*WebhookNotifier, error) {
	if cfg.URL == "" {
		return nil, errors.New("webhook notifier requires a URL")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultWebhookTimeout
	}
	if cfg.Retries < 0 {
		return nil, fmt.Errorf("retries must be >= 0, got %d", cfg.Retries)
	}

	var types map[EventType]bool
	if len(cfg.Types) > 0 {
		types = make(map[EventType]bool, len(cfg.Types))
		for _, t := range cfg.Types {
			types[t] = true
		}
	}

	return &WebhookNotifier{
		config: cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		types:  types,
	}, nil
}

// Notify posts the event. 5xx and network errors are retried, 4xx are not.
func (n *WebhookNotifier) Notify(ctx context.Context, event Event) error {
	if n.types != nil && !n.types[event.Type] {
		return nil
	}

	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("webhook: marshal event: %w", err)
	}

	err = withRetry(ctx, n.config.Retries, func(ctx context.Context) (bool, error) {
		err := n.doRequest(ctx, body)
		var statusErr *StatusError
		if errors.As(err, &statusErr) && statusErr.Code >= 400 && statusErr.Code < 500 {
			return true, err
		}
		return false, err
	})
	if err != nil {
		return fmt.Errorf("webhook: %w", err)
	}
	return nil
}

func (n *WebhookNotifier) doRequest(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.config.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range n.config.Headers {
		req.Header.Set(k, v)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{Code: resp.StatusCode}
	}

	return nil
}

// Close releases idle connections
func (n *WebhookNotifier) Close() error {
	n.client.CloseIdleConnections()
	return nil
}

var _ Notifier = (*WebhookNotifier)(nil)
