package executor

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

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/taskforge/internal/pipeline"
)

const (
	defaultLLMBaseURL = "https://api.openai.com"
	defaultLLMModel   = "gpt-4o"
	defaultLLMTimeout = 120 * time.Second

	defaultMaxRetries  = 3
	defaultBaseBackoff = 1 * time.Second

	// Conservative defaults to stay under typical API quotas.
	defaultRateLimit = 50.0 / 60.0 // requests per second
	defaultBurst     = 5
)

// ClientConfig configures the chat completions client.
type ClientConfig struct {
	BaseURL string
	APIKey  string
	Model   string
	Timeout time.Duration

	// RequestsPerMinute caps the client-side request rate. Zero uses
	// the package default.
	RequestsPerMinute float64
	Burst             int
}

// Client talks to an OpenAI-compatible chat completions endpoint. It
// rate-limits requests client-side and retries transient failures with
// exponential backoff.
type Client struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
}

// NewClient creates a chat completions client.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key required")
	}

	model := cfg.Model
	if model == "" {
		model = defaultLLMModel
	}
	baseURL := strings.TrimSuffix(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultLLMBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultLLMTimeout
	}
	limit := rate.Limit(defaultRateLimit)
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Limit(cfg.RequestsPerMinute / 60.0)
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = defaultBurst
	}

	return &Client{
		model:   model,
		apiKey:  cfg.APIKey,
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		limiter:    rate.NewLimiter(limit, burst),
		maxRetries: defaultMaxRetries,
	}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	Temperature float64       `json:"temperature"`
	Messages    []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type chatError struct {
	Error struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Complete generates a completion for the prompt, retrying transient
// failures. Returns the generated text.
func (c *Client) Complete(ctx context.Context, prompt string) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter error: %w", err)
	}

	req := chatRequest{
		Model:       c.model,
		MaxTokens:   4096,
		Temperature: 0.2,
		Messages: []chatMessage{
			{Role: "user", Content: prompt},
		},
	}

	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			backoff := defaultBaseBackoff * time.Duration(1<<(attempt-1))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return "", ctx.Err()
			}
		}

		response, err := c.doRequest(ctx, req)
		if err == nil {
			return response, nil
		}

		lastErr = err
		if !isRetryableError(err) {
			return "", err
		}
	}

	return "", fmt.Errorf("max retries exceeded: %w", lastErr)
}

// doRequest performs one HTTP round trip to the completions endpoint.
func (c *Client) doRequest(ctx context.Context, req chatRequest) (string, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}

	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", &retryableError{err: fmt.Errorf("API request failed: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return "", &retryableError{err: fmt.Errorf("rate limited (429)")}
	}
	if resp.StatusCode >= 500 {
		return "", &retryableError{err: fmt.Errorf("server error (%d): %s", resp.StatusCode, string(body))}
	}
	if resp.StatusCode != http.StatusOK {
		var errResp chatError
		if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
			return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, errResp.Error.Message)
		}
		return "", fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if len(chatResp.Choices) == 0 {
		return "", fmt.Errorf("empty response from API")
	}
	return chatResp.Choices[0].Message.Content, nil
}

// retryableError wraps an error to indicate it can be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryableError checks if an error should be retried.
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}
	var re *retryableError
	return errors.As(err, &re)
}

// LLM adapts the completions client to the phase executor and reviewer
// contracts.
type LLM struct {
	client *Client
	logger *zap.Logger
}

// NewLLM wraps a completions client as a backend.
func NewLLM(client *Client, logger *zap.Logger) *LLM {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLM{client: client, logger: logger}
}

// Execute runs one phase attempt through the completions endpoint.
func (l *LLM) Execute(ctx context.Context, req Request) (*Result, error) {
	l.logger.Info("executing phase via LLM",
		zap.String("run_id", req.RunID),
		zap.String("phase", string(req.Phase)),
		zap.Int("attempt", req.Attempt))

	output, err := l.client.Complete(ctx, buildPhasePrompt(req))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pipeline.NewError(pipeline.CodeExecutor, "LLM completion failed").
			WithRetryable(isRetryableError(err)).WithCause(err)
	}

	res := &Result{Output: strings.TrimSpace(output)}
	if req.Phase == pipeline.PhaseValidation {
		res.BuildBroken = parseBuildStatus(output)
	}
	return res, nil
}

// Review grades a phase artifact through the completions endpoint.
func (l *LLM) Review(ctx context.Context, req ReviewRequest) (*ReviewResult, error) {
	review, err := l.client.Complete(ctx, buildReviewPrompt(req))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, pipeline.NewError(pipeline.CodeExecutor, "LLM review failed").
			WithRetryable(isRetryableError(err)).WithCause(err)
	}
	grade, err := parseGrade(review)
	if err != nil {
		return nil, pipeline.NewError(pipeline.CodeExecutor, "LLM review unusable").
			WithRetryable(true).WithCause(err)
	}
	return &ReviewResult{Reviewed: review, Grade: grade, Feedback: review}, nil
}

// Close satisfies Backend; the HTTP client holds no resources that
// need explicit shutdown.
func (l *LLM) Close() error {
	return nil
}

var _ Backend = (*LLM)(nil)
