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

	"github.com/MbohBless/data-test/internal/observability"
)

type Kind string

const (
	KindTimeout  Kind = "timeout"
	KindProvider Kind = "provider"
)

// Error is returned for every failed provider call so callers can tell
// a slow model apart from a broken one.
type Error struct {
	Op     string
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Detail)
}

func (e *Error) Unwrap() error {
	return e.cause
}

func IsTimeout(err error) bool {
	var llmErr *Error
	return errors.As(err, &llmErr) && llmErr.Kind == KindTimeout
}

type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// Client speaks the OpenAI-compatible chat completions protocol, which
// Groq exposes under its own base URL. Timeouts are applied per call
// via context so each pipeline stage can carry its own budget.
type Client struct {
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	httpClient  *http.Client
}

func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("api key is required")
	}
	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = "llama-3.3-70b-versatile"
	}
	return &Client{
		baseURL:     strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:      strings.TrimSpace(cfg.APIKey),
		model:       model,
		temperature: cfg.Temperature,
		httpClient:  &http.Client{},
	}, nil
}

func (c *Client) Model() string {
	return c.model
}

func (c *Client) complete(ctx context.Context, op, systemPrompt, userPrompt string, timeout time.Duration) (string, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	payload := map[string]any{
		"model": c.model,
		"messages": []map[string]string{
			{"role": "system", "content": systemPrompt},
			{"role": "user", "content": userPrompt},
		},
		"temperature":     c.temperature,
		"response_format": map[string]string{"type": "json_object"},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", &Error{Op: op, Kind: KindProvider, Detail: "marshal chat payload", cause: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", &Error{Op: op, Kind: KindProvider, Detail: "build chat request", cause: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		observability.ObserveProviderCall(op, "error", time.Since(start))
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", &Error{Op: op, Kind: KindTimeout, Detail: "chat completion timed out", cause: err}
		}
		return "", &Error{Op: op, Kind: KindProvider, Detail: "request chat completion", cause: err}
	}
	defer func() { _ = resp.Body.Close() }()

	rawBody, err := io.ReadAll(resp.Body)
	if err != nil {
		observability.ObserveProviderCall(op, "error", time.Since(start))
		return "", &Error{Op: op, Kind: KindProvider, Detail: "read chat response body", cause: err}
	}
	if resp.StatusCode >= 400 {
		observability.ObserveProviderCall(op, "error", time.Since(start))
		return "", &Error{Op: op, Kind: KindProvider, Detail: fmt.Sprintf("chat completion failed status=%d body=%s", resp.StatusCode, truncate(string(rawBody), 300))}
	}

	var parsed struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(rawBody, &parsed); err != nil {
		observability.ObserveProviderCall(op, "error", time.Since(start))
		return "", &Error{Op: op, Kind: KindProvider, Detail: "decode chat completion response", cause: err}
	}
	if len(parsed.Choices) == 0 {
		observability.ObserveProviderCall(op, "error", time.Since(start))
		return "", &Error{Op: op, Kind: KindProvider, Detail: "empty chat completion choices"}
	}

	observability.ObserveProviderCall(op, "ok", time.Since(start))
	return parsed.Choices[0].Message.Content, nil
}

// stripMarkdownFence unwraps content the model insists on fencing.
func stripMarkdownFence(value string) string {
	trimmed := strings.TrimSpace(value)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```sql")
		trimmed = strings.TrimPrefix(trimmed, "```")
		trimmed = strings.TrimSuffix(trimmed, "```")
		return strings.TrimSpace(trimmed)
	}
	return trimmed
}

// extractJSON pulls the outermost JSON object out of chatty model
// output.
func extractJSON(value string) string {
	value = stripMarkdownFence(value)
	start := strings.Index(value, "{")
	end := strings.LastIndex(value, "}")
	if start < 0 || end <= start {
		return ""
	}
	return value[start : end+1]
}

func truncate(value string, limit int) string {
	if len(value) <= limit {
		return value
	}
	return value[:limit] + "..."
}
