// ABOUTME: HTTP client for the LINE Messaging API with retries and typed errors.
// ABOUTME: Returns response bodies unmodified so tools can relay them verbatim.

package lineapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
)

// DefaultBaseURL is the LINE Messaging API endpoint.
const DefaultBaseURL = "https://api.line.me"

// maxResponseSize caps how much of a response body is read.
const maxResponseSize = 1 << 20

// ErrRemoteAPI wraps every failure reported by, or on the way to, the platform.
var ErrRemoteAPI = errors.New("messaging API request failed")

// ErrMissingAccessToken indicates no channel access token is configured.
var ErrMissingAccessToken = errors.New("channel access token is not configured")

// APIError is a non-2xx response from the platform.
type APIError struct {
	StatusCode int
	Message    string
	Details    json.RawMessage
	RequestID  string
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.StatusCode)
	}
	if len(e.Details) > 0 {
		return fmt.Sprintf("messaging API returned %d: %s (details: %s)", e.StatusCode, msg, e.Details)
	}
	return fmt.Sprintf("messaging API returned %d: %s", e.StatusCode, msg)
}

// Unwrap lets errors.Is(err, ErrRemoteAPI) match.
func (e *APIError) Unwrap() error {
	return ErrRemoteAPI
}

// Config holds configuration for the client.
type Config struct {
	AccessToken string
	BaseURL     string
	Timeout     time.Duration
	RetryMax    int
	Logger      *slog.Logger

	// HTTPClient overrides the underlying transport (tests).
	HTTPClient *http.Client
}

// Client calls the LINE Messaging API.
type Client struct {
	token   string
	baseURL string
	http    *retryablehttp.Client
	logger  *slog.Logger
}

// NewClient creates a client. A missing token is not an error here; each call
// fails with ErrMissingAccessToken instead.
func NewClient(cfg Config) *Client {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	rc := retryablehttp.NewClient()
	rc.Logger = logger
	rc.RetryMax = cfg.RetryMax
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	if cfg.HTTPClient != nil {
		// Copy so the timeout below never leaks into the caller's client.
		hc := *cfg.HTTPClient
		rc.HTTPClient = &hc
	}
	if cfg.Timeout > 0 {
		rc.HTTPClient.Timeout = cfg.Timeout
	}
	// Hand the final response back instead of a generic "giving up" error so
	// the platform's error body reaches the caller.
	rc.ErrorHandler = retryablehttp.PassthroughErrorHandler

	return &Client{
		token:   cfg.AccessToken,
		baseURL: baseURL,
		http:    rc,
		logger:  logger,
	}
}

type pushRequest struct {
	To       string            `json:"to"`
	Messages []json.RawMessage `json:"messages"`
}

type broadcastRequest struct {
	Messages []json.RawMessage `json:"messages"`
}

// PushMessage sends messages to a single user, group or room.
func (c *Client) PushMessage(ctx context.Context, to string, messages ...json.RawMessage) (json.RawMessage, error) {
	if to == "" {
		return nil, fmt.Errorf("%w: push target is empty", ErrRemoteAPI)
	}
	body, err := json.Marshal(pushRequest{To: to, Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("encoding push request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/v2/bot/message/push", body, true)
}

// Broadcast sends messages to every user that has added the bot.
func (c *Client) Broadcast(ctx context.Context, messages ...json.RawMessage) (json.RawMessage, error) {
	body, err := json.Marshal(broadcastRequest{Messages: messages})
	if err != nil {
		return nil, fmt.Errorf("encoding broadcast request: %w", err)
	}
	return c.do(ctx, http.MethodPost, "/v2/bot/message/broadcast", body, true)
}

// GetProfile fetches a user's display profile.
func (c *Client) GetProfile(ctx context.Context, userID string) (json.RawMessage, error) {
	if userID == "" {
		return nil, fmt.Errorf("%w: user id is empty", ErrRemoteAPI)
	}
	return c.do(ctx, http.MethodGet, "/v2/bot/profile/"+url.PathEscape(userID), nil, false)
}

// GetMessageQuota fetches the monthly message quota.
func (c *Client) GetMessageQuota(ctx context.Context) (json.RawMessage, error) {
	return c.do(ctx, http.MethodGet, "/v2/bot/message/quota", nil, false)
}

// do performs one API call. Sends carry a retry key so a retried request is
// not delivered twice.
func (c *Client) do(ctx context.Context, method, path string, body []byte, retryKey bool) (json.RawMessage, error) {
	if c.token == "" {
		return nil, ErrMissingAccessToken
	}

	var rawBody any
	if body != nil {
		rawBody = body
	}
	req, err := retryablehttp.NewRequestWithContext(ctx, method, c.baseURL+path, rawBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if retryKey {
		req.Header.Set("X-Line-Retry-Key", uuid.New().String())
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("%w: %w", ErrRemoteAPI, ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrRemoteAPI, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", ErrRemoteAPI, err)
	}

	c.logger.Debug("messaging API call",
		"method", method,
		"path", path,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, newAPIError(resp, data)
	}

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return json.RawMessage("{}"), nil
	}
	return json.RawMessage(data), nil
}

// newAPIError decodes the platform's {"message", "details"} error body.
func newAPIError(resp *http.Response, data []byte) *APIError {
	apiErr := &APIError{
		StatusCode: resp.StatusCode,
		RequestID:  resp.Header.Get("X-Line-Request-Id"),
	}

	var body struct {
		Message string          `json:"message"`
		Details json.RawMessage `json:"details"`
	}
	if err := json.Unmarshal(data, &body); err == nil {
		apiErr.Message = body.Message
		if len(body.Details) > 0 && string(body.Details) != "null" && string(body.Details) != "[]" {
			apiErr.Details = body.Details
		}
	} else {
		apiErr.Message = strings.TrimSpace(string(data))
	}
	return apiErr
}
