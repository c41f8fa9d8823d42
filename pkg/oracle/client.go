// Package oracle talks to the planning oracle over an
// OpenAI-compatible chat-completions endpoint and decodes its replies
// into the closed response variant the session layer consumes.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/odvcencio/inhabit/pkg/errors"
)

// Message roles.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Transport defaults.
const (
	DefaultBaseURL           = "https://api.openai.com/v1"
	DefaultModel             = "gpt-4o-mini"
	DefaultTemperature       = 0.0
	DefaultRequestTimeout    = 120 * time.Second
	DefaultMaxAttempts       = 6
	DefaultRequestsPerSecond = 2.0

	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 8 * time.Second
	// Retry-After values above this are clipped; the per-unit budget
	// would expire before longer waits pay off.
	maxRetryAfter = 30 * time.Second
)

// Config holds oracle transport settings.
type Config struct {
	BaseURL           string
	APIKey            string
	Model             string
	Temperature       float64
	MaxTokens         int
	RequestTimeout    time.Duration
	MaxAttempts       int
	RequestsPerSecond float64
}

func (c Config) withDefaults() Config {
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.Model == "" {
		c.Model = DefaultModel
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = DefaultRequestsPerSecond
	}
	return c
}

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Usage reports token accounting when the endpoint provides it.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is one successful oracle reply.
type Completion struct {
	Content string
	Usage   Usage
}

// Client is a retrying OpenAI-compatible chat client.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient builds a client with defaults applied.
func NewClient(cfg Config) *Client {
	cfg = cfg.withDefaults()
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.RequestTimeout},
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1),
	}
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.cfg.Model
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Text string `json:"text"`
	} `json:"choices"`
	Usage Usage `json:"usage"`
}

type apiError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Complete sends one chat exchange, retrying transient failures with
// exponential backoff. Authentication failures and other permanent
// errors abort immediately.
func (c *Client) Complete(ctx context.Context, messages []Message) (*Completion, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    messages,
		Temperature: c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to encode oracle request")
	}

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, errors.Wrap(ctx.Err(), errors.ErrCodeOracleTransport, "oracle retry interrupted")
			case <-time.After(retryDelay(attempt, lastErr)):
			}
		}
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, errors.ErrCodeOracleTransport, "oracle rate limit wait interrupted")
		}

		completion, err := c.doRequest(ctx, body)
		if err == nil {
			return completion, nil
		}
		lastErr = err
		if !errors.IsRetryable(err) {
			return nil, err
		}
	}
	return nil, errors.Wrap(lastErr, errors.ErrCodeOracleTransport,
		fmt.Sprintf("oracle unavailable after %d attempts", c.cfg.MaxAttempts))
}

func (c *Client) doRequest(ctx context.Context, body []byte) (*Completion, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeInternal, "failed to build oracle request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOracleTransport, "oracle request failed").
			WithRetryable(true)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOracleTransport, "failed to read oracle response").
			WithRetryable(true)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, c.statusError(resp, data)
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOracleTransport, "oracle returned malformed JSON")
	}
	if len(parsed.Choices) == 0 {
		return nil, errors.New(errors.ErrCodeOracleTransport, "oracle response has no choices")
	}
	content := parsed.Choices[0].Message.Content
	if content == "" {
		content = parsed.Choices[0].Text
	}
	return &Completion{Content: content, Usage: parsed.Usage}, nil
}

// statusError classifies a non-200 response. Rate limiting and server
// faults are retryable; authentication and routing failures are not.
func (c *Client) statusError(resp *http.Response, data []byte) error {
	msg := fmt.Sprintf("oracle returned status %d", resp.StatusCode)
	var parsed apiError
	if err := json.Unmarshal(data, &parsed); err == nil && parsed.Error.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, parsed.Error.Message)
	}

	e := errors.New(errors.ErrCodeOracleTransport, msg).
		WithContext("status", resp.StatusCode)
	switch resp.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		if ra := parseRetryAfter(resp.Header.Get("Retry-After")); ra > 0 {
			e = e.WithContext("retry_after", ra.String())
		}
		return e.WithRetryable(true)
	}
	return e
}

// retryDelay doubles from one second per attempt, capped at eight
// seconds, unless the previous failure carried a server-provided
// Retry-After hint.
func retryDelay(attempt int, lastErr error) time.Duration {
	delay := baseRetryDelay << (attempt - 1)
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	if hinted := retryAfterHint(lastErr); hinted > delay {
		delay = hinted
	}
	return delay
}

// retryAfterHint recovers the Retry-After duration recorded on a
// transport error, if any.
func retryAfterHint(err error) time.Duration {
	e, ok := err.(*errors.Error)
	if !ok {
		return 0
	}
	raw, ok := e.Context["retry_after"].(string)
	if !ok {
		return 0
	}
	d, parseErr := time.ParseDuration(raw)
	if parseErr != nil {
		return 0
	}
	return d
}

// parseRetryAfter accepts the delta-seconds form of the header.
func parseRetryAfter(value string) time.Duration {
	if value == "" {
		return 0
	}
	secs, err := strconv.Atoi(value)
	if err != nil || secs <= 0 {
		return 0
	}
	d := time.Duration(secs) * time.Second
	if d > maxRetryAfter {
		d = maxRetryAfter
	}
	return d
}
