package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/fyrsmithlabs/agentloop/internal/logging"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicModel   = "claude-3-5-haiku-latest"
	defaultMaxTokens        = 1024
	defaultTimeout          = 60 * time.Second
	defaultMaxRetries       = 3
	defaultBaseBackoff      = time.Second
	defaultRequestsPerMin   = 50
	defaultBurst            = 5
	anthropicVersion        = "2023-06-01"
)

// AnthropicConfig configures an AnthropicClient.
type AnthropicConfig struct {
	BaseURL           string
	Model             string
	APIKey            string
	RequestsPerMinute int
	Burst             int
	MaxRetries        int
	Timeout           time.Duration
	// BaseBackoff is the first retry delay; it doubles per attempt.
	BaseBackoff time.Duration
}

// AnthropicClient calls the Anthropic Messages API.
type AnthropicClient struct {
	model       string
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	limiter     *rate.Limiter
	maxRetries  int
	baseBackoff time.Duration
	logger      *logging.Logger
}

// NewAnthropicClient creates a rate-limited, retrying client.
func NewAnthropicClient(cfg AnthropicConfig, logger *logging.Logger) (*AnthropicClient, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic API key required")
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	c := &AnthropicClient{
		model:       cfg.Model,
		apiKey:      cfg.APIKey,
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		maxRetries:  cfg.MaxRetries,
		baseBackoff: cfg.BaseBackoff,
		logger:      logger.Named("anthropic"),
	}
	if c.model == "" {
		c.model = defaultAnthropicModel
	}
	if c.baseURL == "" {
		c.baseURL = defaultAnthropicBaseURL
	}
	if c.maxRetries <= 0 {
		c.maxRetries = defaultMaxRetries
	}
	if c.baseBackoff <= 0 {
		c.baseBackoff = defaultBaseBackoff
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	rpm, burst := cfg.RequestsPerMinute, cfg.Burst
	if rpm <= 0 {
		rpm = defaultRequestsPerMin
	}
	if burst <= 0 {
		burst = defaultBurst
	}

	c.httpClient = &http.Client{Timeout: timeout}
	c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	return c, nil
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	MaxTokens   int                `json:"max_tokens"`
	Messages    []anthropicMessage `json:"messages"`
	System      string             `json:"system,omitempty"`
	Temperature float64            `json:"temperature"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type anthropicError struct {
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// retryableError marks failures worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }
func (e *retryableError) Unwrap() error { return e.err }

func isRetryableError(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}

// Complete sends one prompt and returns the text reply.
func (c *AnthropicClient) Complete(ctx context.Context, spec PromptSpec) (*Output, error) {
	maxTokens := spec.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	req := anthropicRequest{
		Model:       c.model,
		MaxTokens:   maxTokens,
		System:      spec.System,
		Temperature: spec.Temperature,
		Messages:    []anthropicMessage{{Role: "user", Content: spec.Render()}},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := c.baseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limiter error: %w", err)
		}

		text, err := c.doRequest(ctx, req)
		if err == nil {
			c.logger.Trace(ctx, "completion received",
				zap.String("prompt", spec.Name),
				zap.Int("attempt", attempt+1),
				zap.String("text", text))
			return NewOutput(text), nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return nil, err
		}
		c.logger.Debug(ctx, "retrying completion",
			zap.String("prompt", spec.Name),
			zap.Int("attempt", attempt+1),
			zap.Error(err))
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

func (c *AnthropicClient) doRequest(ctx context.Context, req anthropicRequest) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/messages", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-Key", c.apiKey)
	httpReq.Header.Set("Anthropic-Version", anthropicVersion)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: errors.New("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp anthropicError
		if err := json.Unmarshal(respBody, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, respBody)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}

	var text strings.Builder
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return "", errors.New("empty response from API")
	}
	return text.String(), nil
}
