package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/terra-clan/mission-bot/internal/models"
	"github.com/terra-clan/mission-bot/internal/syncer"
	"github.com/terra-clan/mission-bot/internal/validation"
)

// Client is a Go SDK for the mission-bot admin API
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// Option configures the client
type Option func(*Client)

// WithHTTPClient sets a custom HTTP client
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.httpClient = client
	}
}

// WithTimeout sets the client timeout
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = timeout
	}
}

// NewClient creates a new mission-bot client
func NewClient(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// APIError is a failure reported by the server in the response envelope
type APIError struct {
	StatusCode int      `json:"-"`
	Code       string   `json:"code"`
	Message    string   `json:"message"`
	Details    []string `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("API error (HTTP %d): %s - %s", e.StatusCode, e.Code, e.Message)
	if len(e.Details) > 0 {
		msg += " (" + strings.Join(e.Details, "; ") + ")"
	}
	return msg
}

// IsCode reports whether err is an APIError with the given code
func IsCode(err error, code string) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}

// Mission is a mission together with its validation outcome
type Mission struct {
	*models.Mission
	Validation validation.Result `json:"validation"`
}

// SyncStatus describes the sync loop
type SyncStatus struct {
	Running         bool           `json:"running"`
	IntervalSeconds float64        `json:"interval_seconds"`
	LastReport      *syncer.Report `json:"last_report,omitempty"`
}

// ListOptions contains filters for listing unpublished missions
type ListOptions struct {
	Skills   []string
	Location string
	MinPrice *float64
	MaxPrice *float64
}

func (o ListOptions) query() string {
	q := url.Values{}
	for _, s := range o.Skills {
		q.Add("skill", s)
	}
	if o.Location != "" {
		q.Set("location", o.Location)
	}
	if o.MinPrice != nil {
		q.Set("min_price", strconv.FormatFloat(*o.MinPrice, 'f', -1, 64))
	}
	if o.MaxPrice != nil {
		q.Set("max_price", strconv.FormatFloat(*o.MaxPrice, 'f', -1, 64))
	}
	if len(q) == 0 {
		return ""
	}
	return "?" + q.Encode()
}

// ListMissions retrieves unpublished missions matching the options
func (c *Client) ListMissions(ctx context.Context, opts ListOptions) ([]*Mission, error) {
	var data struct {
		Missions []*Mission `json:"missions"`
		Total    int        `json:"total"`
	}
	if err := c.call(ctx, http.MethodGet, "/api/v1/missions"+opts.query(), nil, &data); err != nil {
		return nil, err
	}
	return data.Missions, nil
}

// CreateMission creates a new mission; the bot publishes it on its next tick
func (c *Client) CreateMission(ctx context.Context, req models.CreateMissionRequest) (*Mission, error) {
	var m Mission
	if err := c.call(ctx, http.MethodPost, "/api/v1/missions", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// GetMission retrieves a mission by ID
func (c *Client) GetMission(ctx context.Context, id string) (*Mission, error) {
	var m Mission
	if err := c.call(ctx, http.MethodGet, "/api/v1/missions/"+url.PathEscape(id), nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// RefreshMission re-renders the Discord message of a published mission
func (c *Client) RefreshMission(ctx context.Context, id string) (*models.Mission, error) {
	var m models.Mission
	if err := c.call(ctx, http.MethodPost, "/api/v1/missions/"+url.PathEscape(id)+"/refresh", nil, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// TriggerSync runs one sync tick and returns its report
func (c *Client) TriggerSync(ctx context.Context) (*syncer.Report, error) {
	var report syncer.Report
	if err := c.call(ctx, http.MethodPost, "/api/v1/sync", nil, &report); err != nil {
		return nil, err
	}
	return &report, nil
}

// SyncStatus returns the state of the sync loop and its last report
func (c *Client) SyncStatus(ctx context.Context) (*SyncStatus, error) {
	var status SyncStatus
	if err := c.call(ctx, http.MethodGet, "/api/v1/sync/status", nil, &status); err != nil {
		return nil, err
	}
	return &status, nil
}

// Health checks if the service is healthy
func (c *Client) Health(ctx context.Context) error {
	return c.call(ctx, http.MethodGet, "/health", nil, nil)
}

// call performs a request and unwraps the response envelope into out
func (c *Client) call(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		body = bytes.NewReader(data)
	}

	status, respBody, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}

	var result struct {
		Success bool            `json:"success"`
		Data    json.RawMessage `json:"data"`
		Error   *APIError       `json:"error"`
	}

	if err := json.Unmarshal(respBody, &result); err != nil {
		if status >= 400 {
			return fmt.Errorf("HTTP %d: %s", status, string(respBody))
		}
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}

	if !result.Success {
		if result.Error == nil {
			return fmt.Errorf("HTTP %d: request failed", status)
		}
		result.Error.StatusCode = status
		return result.Error
	}

	if out == nil || len(result.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(result.Data, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}

// doRequest performs an HTTP request
func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (int, []byte, error) {
	endpoint := c.baseURL + path

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, nil, fmt.Errorf("failed to read response: %w", err)
	}

	return resp.StatusCode, respBody, nil
}
