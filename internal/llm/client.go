// Package llm calls the chat completion endpoint that writes the final answer.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/schemapilot/schemapilot/internal/retry"
)

// Message roles understood by the completion API.
const (
	RoleSystem = "system"
	RoleUser   = "user"
)

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Options control a single completion call. Zero MaxTokens and nil
// Temperature fall back to the API client defaults of 200 and 1.0.
type Options struct {
	MaxTokens   int
	Temperature *float64
}

func (o Options) maxTokens() int {
	if o.MaxTokens <= 0 {
		return 200
	}
	return o.MaxTokens
}

func (o Options) temperature() float64 {
	if o.Temperature == nil {
		return 1.0
	}
	return *o.Temperature
}

// Client calls a chat completion endpoint that authenticates with an api-key
// header. Transient failures (429, 5xx, network) are retried with bounded
// backoff; the prompt is never rebuilt between attempts.
type Client struct {
	apiURL   string
	apiKey   string
	client   *http.Client
	retryCfg retry.Config
}

// ClientConfig configures a Client.
type ClientConfig struct {
	APIURL     string
	APIKey     string
	Timeout    time.Duration
	MaxRetries int
}

// NewClient creates a completion client for the given API.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.APIURL == "" {
		return nil, fmt.Errorf("completion API URL required")
	}
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("completion API key required")
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	retryCfg := retry.DefaultConfig(cfg.MaxRetries)
	retryCfg.RetryIf = func(err error) bool {
		var llmErr *LLMError
		if errors.As(err, &llmErr) {
			return llmErr.Retryable
		}
		return true
	}
	return &Client{
		apiURL:   cfg.APIURL,
		apiKey:   cfg.APIKey,
		client:   &http.Client{Timeout: timeout},
		retryCfg: retryCfg,
	}, nil
}

type completionRequest struct {
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete sends the messages and returns the first choice's content.
func (c *Client) Complete(ctx context.Context, messages []Message, opts Options) (string, error) {
	if len(messages) == 0 {
		return "", &LLMError{Op: "complete", Err: fmt.Errorf("no messages")}
	}
	return retry.DoWithResult(ctx, c.retryCfg, func() (string, error) {
		return c.completeOnce(ctx, messages, opts)
	})
}

func (c *Client) completeOnce(ctx context.Context, messages []Message, opts Options) (string, error) {
	body, err := json.Marshal(completionRequest{
		Messages:    messages,
		MaxTokens:   opts.maxTokens(),
		Temperature: opts.temperature(),
	})
	if err != nil {
		return "", &LLMError{Op: "encode", Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiURL, bytes.NewReader(body))
	if err != nil {
		return "", &LLMError{Op: "request", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("api-key", c.apiKey)

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &LLMError{Op: "request", Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return "", &LLMError{
			Op:         "request",
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("completion API returned %d: %s", resp.StatusCode, string(b)),
			Retryable:  retryable,
		}
	}

	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", &LLMError{Op: "decode", Err: err}
	}
	if len(out.Choices) == 0 {
		return "", &LLMError{Op: "decode", Err: ErrEmptyCompletion}
	}
	return out.Choices[0].Message.Content, nil
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.client.CloseIdleConnections()
	return nil
}
