package embedding

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

// HTTPEmbedder calls an OpenAI-compatible embeddings endpoint. Requests carry
// the full batch in one call; transient failures (429, 5xx, network) are
// retried with bounded backoff.
type HTTPEmbedder struct {
	baseURL    string
	apiKey     string
	model      string
	dimensions int
	client     *http.Client
	retryCfg   retry.Config
}

// HTTPEmbedderConfig configures an HTTPEmbedder.
type HTTPEmbedderConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	Dimensions int
	Timeout    time.Duration
	MaxRetries int
}

// NewHTTPEmbedder creates an embeddings client for the given API.
func NewHTTPEmbedder(cfg HTTPEmbedderConfig) (*HTTPEmbedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embeddings API key required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	if cfg.Model == "" {
		cfg.Model = "text-embedding-3-small"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	retryCfg := retry.DefaultConfig(cfg.MaxRetries)
	retryCfg.RetryIf = func(err error) bool {
		var embErr *EmbeddingError
		if errors.As(err, &embErr) {
			return embErr.Retryable
		}
		return true
	}
	return &HTTPEmbedder{
		baseURL:    cfg.BaseURL,
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		client:     &http.Client{Timeout: timeout},
		retryCfg:   retryCfg,
	}, nil
}

type embeddingsRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Embed returns the embedding for a single text.
func (e *HTTPEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch embeds all texts in one API call and returns vectors in input order.
func (e *HTTPEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, &EmbeddingError{Op: "embed", Model: e.model, Err: ErrEmptyInput}
	}
	return retry.DoWithResult(ctx, e.retryCfg, func() ([][]float32, error) {
		return e.embedOnce(ctx, texts)
	})
}

func (e *HTTPEmbedder) embedOnce(ctx context.Context, texts []string) ([][]float32, error) {
	body, err := json.Marshal(embeddingsRequest{Input: texts, Model: e.model})
	if err != nil {
		return nil, &EmbeddingError{Op: "encode", Model: e.model, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, &EmbeddingError{Op: "request", Model: e.model, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, &EmbeddingError{Op: "request", Model: e.model, Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		retryable := resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500
		return nil, &EmbeddingError{
			Op:        "request",
			Model:     e.model,
			Err:       fmt.Errorf("embeddings API returned %d: %s", resp.StatusCode, string(b)),
			Retryable: retryable,
		}
	}

	var out embeddingsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &EmbeddingError{Op: "decode", Model: e.model, Err: err}
	}
	if len(out.Data) != len(texts) {
		return nil, &EmbeddingError{
			Op:    "decode",
			Model: e.model,
			Err:   fmt.Errorf("expected %d embeddings, got %d", len(texts), len(out.Data)),
		}
	}
	embeddings := make([][]float32, len(out.Data))
	for i, d := range out.Data {
		if e.dimensions > 0 && len(d.Embedding) != e.dimensions {
			return nil, &EmbeddingError{
				Op:    "decode",
				Model: e.model,
				Err:   fmt.Errorf("vector %d has dimension %d, expected %d: %w", i, len(d.Embedding), e.dimensions, ErrDimensionMismatch),
			}
		}
		embeddings[i] = d.Embedding
	}
	return embeddings, nil
}

// Dimensions returns the configured embedding dimension.
func (e *HTTPEmbedder) Dimensions() int {
	return e.dimensions
}

// Close releases idle connections.
func (e *HTTPEmbedder) Close() error {
	e.client.CloseIdleConnections()
	return nil
}
