// Package progressapi implements the HTTP client for the remote progress store.
package progressapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// ClientConfig contains configuration for the progress store client.
type ClientConfig struct {
	// BaseURL is the store's base URL.
	BaseURL string

	// Timeout is the per-request timeout. Every call is bounded; a timeout
	// is a terminal failure, never retried.
	Timeout time.Duration

	// Logger for structured logging.
	Logger *slog.Logger

	// Debug enables request-level debug logging.
	Debug bool
}

// DefaultClientConfig returns sensible defaults.
func DefaultClientConfig(baseURL string) ClientConfig {
	return ClientConfig{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// CLIENT
// ══════════════════════════════════════════════════════════════════════════════

// Client speaks the progress store wire contract. Each method performs a
// single attempt; retry policy belongs to the callers, which wrap the
// rate-limited calls in the backoff machine. The client is safe for
// concurrent use.
type Client struct {
	config     ClientConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewClient creates a new progress store client.
func NewClient(config ClientConfig) *Client {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Timeout <= 0 {
		config.Timeout = 10 * time.Second
	}

	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
		logger: config.Logger,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OPERATIONS
// ══════════════════════════════════════════════════════════════════════════════

// RecordCompletion performs POST /progress/activity and returns the
// store's acknowledgment message. A 429 comes back as *RateLimitError.
func (c *Client) RecordCompletion(ctx context.Context, token string, req RecordCompletionRequest) (string, error) {
	var resp MessageResponse
	if err := c.do(ctx, http.MethodPost, "/progress/activity", token, req, &resp); err != nil {
		return "", fmt.Errorf("record completion: %w", err)
	}
	return resp.Message, nil
}

// ListCompletions performs GET /progress/activity/{userID}/{lessonID} and
// returns the raw, possibly duplicated records for a lesson.
func (c *Client) ListCompletions(ctx context.Context, token string, userID, lessonID int64) ([]CompletionRecordDTO, error) {
	path := fmt.Sprintf("/progress/activity/%d/%d", userID, lessonID)

	var records []CompletionRecordDTO
	if err := c.do(ctx, http.MethodGet, path, token, nil, &records); err != nil {
		return nil, fmt.Errorf("list completions: %w", err)
	}
	return records, nil
}

// RemoveCompletion performs the corrective DELETE /progress/activity.
// Maintenance only; errors surface as-is with no retry.
func (c *Client) RemoveCompletion(ctx context.Context, token string, req RemoveCompletionRequest) (string, error) {
	var resp MessageResponse
	if err := c.do(ctx, http.MethodDelete, "/progress/activity", token, req, &resp); err != nil {
		return "", fmt.Errorf("remove completion: %w", err)
	}
	return resp.Message, nil
}

// ResolveUser performs GET /users/{externalID}, mapping an identity
// provider subject to the numeric store user used by every other call.
func (c *Client) ResolveUser(ctx context.Context, token, externalID string) (*UserDTO, error) {
	path := "/users/" + url.PathEscape(externalID)

	var user UserDTO
	if err := c.do(ctx, http.MethodGet, path, token, nil, &user); err != nil {
		return nil, fmt.Errorf("resolve user %s: %w", externalID, err)
	}
	return &user, nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP REQUEST HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// do performs one HTTP request against the store. Status handling:
// 429 maps to *RateLimitError, other non-2xx to *APIError.
func (c *Client) do(ctx context.Context, method, path, token string, body interface{}, result interface{}) error {
	fullURL := c.config.BaseURL + path

	var bodyReader io.Reader
	if body != nil {
		jsonBody, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal body: %w", err)
		}
		bodyReader = bytes.NewReader(jsonBody)
	}

	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	if c.config.Debug {
		c.logger.Debug("progress store request", "method", method, "path", path)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := time.Duration(0)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if seconds, err := strconv.Atoi(ra); err == nil {
				retryAfter = time.Duration(seconds) * time.Second
			}
		}
		return &RateLimitError{
			RetryAfter: retryAfter,
			Message:    "rate limit exceeded",
		}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var msg MessageResponse
		if err := json.Unmarshal(respBody, &msg); err == nil {
			apiErr.Message = msg.Message
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}

	return nil
}
