package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sageql/sageql/engine/domain"
	"github.com/sageql/sageql/pkg/metrics"
	"github.com/sageql/sageql/pkg/resilience"
)

// GroqConfig configures the Groq completion client. The API is
// OpenAI-compatible, so BaseURL can point at any such endpoint.
type GroqConfig struct {
	BaseURL    string
	APIKey     string
	FastModel  string // simple queries
	SmartModel string // medium and complex queries
	Rate       float64
	Burst      int
}

// GroqClient implements Completion against an OpenAI-compatible chat API.
// Calls go through a token bucket and a circuit breaker so a flapping
// provider degrades into fast failures instead of piled-up timeouts.
type GroqClient struct {
	cfg     GroqConfig
	client  *http.Client
	limiter *resilience.Limiter
	breaker *resilience.Breaker
	logger  *slog.Logger

	promptTokens     atomic.Int64
	completionTokens atomic.Int64

	requests  *metrics.Counter
	tokensIn  *metrics.Counter
	tokensOut *metrics.Counter
}

// NewGroqClient creates a completion client.
func NewGroqClient(cfg GroqConfig, logger *slog.Logger) *GroqClient {
	if cfg.Rate <= 0 {
		cfg.Rate = 2
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 4
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GroqClient{
		cfg:     cfg,
		client:  &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		limiter: resilience.NewLimiter(resilience.LimiterOpts{Rate: cfg.Rate, Burst: cfg.Burst}),
		breaker: resilience.NewBreaker(resilience.DefaultBreakerOpts),
		logger:  logger,
	}
}

// Instrument registers request and token counters on reg. Call before
// the first Complete.
func (c *GroqClient) Instrument(reg *metrics.Registry) {
	c.requests = reg.Counter("llm_requests_total", "Chat completion calls attempted")
	c.tokensIn = reg.Counter("llm_prompt_tokens_total", "Prompt tokens consumed")
	c.tokensOut = reg.Counter("llm_completion_tokens_total", "Completion tokens consumed")
}

// Usage returns cumulative prompt and completion token counts.
func (c *GroqClient) Usage() (prompt, completion int64) {
	return c.promptTokens.Load(), c.completionTokens.Load()
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int64 `json:"prompt_tokens"`
		CompletionTokens int64 `json:"completion_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// model picks the tier for a request.
func (c *GroqClient) model(cx domain.Complexity) string {
	if cx == domain.ComplexitySimple && c.cfg.FastModel != "" {
		return c.cfg.FastModel
	}
	return c.cfg.SmartModel
}

// Complete implements Completion. A content starting with "ERROR:" is the
// model refusing the task and maps to domain.ErrCompletionRejected.
func (c *GroqClient) Complete(ctx context.Context, req Request) (string, error) {
	if c.requests != nil {
		c.requests.Inc()
	}
	if err := c.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("llm: rate limit wait: %w", err)
	}

	var content string
	err := c.breaker.Call(ctx, func(ctx context.Context) error {
		var err error
		content, err = c.complete(ctx, req)
		return err
	})
	if err != nil {
		return "", err
	}

	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return "", fmt.Errorf("llm: model %s: %w", c.model(req.Complexity), domain.ErrEmptyCompletion)
	}
	if strings.HasPrefix(trimmed, "ERROR:") {
		return "", fmt.Errorf("llm: %w: %s", domain.ErrCompletionRejected, strings.TrimSpace(strings.TrimPrefix(trimmed, "ERROR:")))
	}
	return trimmed, nil
}

func (c *GroqClient) complete(ctx context.Context, req Request) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.User})

	payload := chatRequest{
		Model:       c.model(req.Complexity),
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if req.JSONMode {
		payload.ResponseFormat = &responseFormat{Type: "json_object"}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("llm: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.cfg.BaseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("llm: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("llm: read response: %w", err)
	}
	if resp.StatusCode != 200 {
		return "", fmt.Errorf("llm: status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("llm: decode response: %w", err)
	}
	if parsed.Error != nil {
		return "", fmt.Errorf("llm: provider error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("llm: model %s: %w", payload.Model, domain.ErrEmptyCompletion)
	}

	c.promptTokens.Add(parsed.Usage.PromptTokens)
	c.completionTokens.Add(parsed.Usage.CompletionTokens)
	if c.tokensIn != nil {
		c.tokensIn.Add(parsed.Usage.PromptTokens)
		c.tokensOut.Add(parsed.Usage.CompletionTokens)
	}
	return parsed.Choices[0].Message.Content, nil
}
