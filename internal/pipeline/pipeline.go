// Package pipeline runs the retrieve-then-generate flow that answers
// schema questions.
package pipeline

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/schemapilot/schemapilot/internal/embedding"
	"github.com/schemapilot/schemapilot/internal/index"
	"github.com/schemapilot/schemapilot/internal/llm"
	"github.com/schemapilot/schemapilot/internal/prompt"
	"github.com/schemapilot/schemapilot/pkg/utils"
)

// Completer produces a completion from chat messages. *llm.Client
// implements it.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error)
}

// Config bounds one Answer call. Zero TopK and MaxTokens fall back to 20
// and 800; nil Temperature falls back to 0.5.
type Config struct {
	TopK        int
	MaxTokens   int
	Temperature *float64
}

// Pipeline answers questions by embedding them, retrieving the most similar
// table descriptions and asking the completion API for an answer. Stages run
// strictly in order; a failed stage fails the call and no earlier stage is
// re-run.
type Pipeline struct {
	embedder  embedding.Embedder
	searcher  index.Searcher
	builder   *prompt.Builder
	completer Completer
	topK      int
	opts      llm.Options
	logger    *zap.Logger
}

// New creates a Pipeline.
func New(embedder embedding.Embedder, searcher index.Searcher, builder *prompt.Builder, completer Completer, cfg Config, logger *zap.Logger) *Pipeline {
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	temperature := 0.5
	if cfg.Temperature != nil {
		temperature = *cfg.Temperature
	}
	return &Pipeline{
		embedder:  embedder,
		searcher:  searcher,
		builder:   builder,
		completer: completer,
		topK:      cfg.TopK,
		opts:      llm.Options{MaxTokens: cfg.MaxTokens, Temperature: &temperature},
		logger:    logger,
	}
}

// Answer produces an answer for question. The question is embedded as a batch
// of one, normalized in place, matched against the index and sent together
// with the retrieved contexts to the completion API.
func (p *Pipeline) Answer(ctx context.Context, question string) (string, error) {
	p.logger.Debug("answering question", zap.String("question", utils.Truncate(question, 120)))

	start := time.Now()
	vectors, err := p.embedder.EmbedBatch(ctx, []string{question})
	if err != nil {
		return "", err
	}
	vector := vectors[0]
	utils.NormalizeL2(vector)
	p.logger.Debug("embedded question",
		zap.Int("dimension", len(vector)),
		zap.Duration("elapsed", time.Since(start)))

	start = time.Now()
	results, err := p.searcher.FindSimilar(ctx, vector, p.topK)
	if err != nil {
		return "", err
	}
	contexts := make([]string, len(results))
	for i, r := range results {
		contexts[i] = r.Content
	}
	p.logger.Debug("retrieved contexts",
		zap.Int("count", len(contexts)),
		zap.Duration("elapsed", time.Since(start)))

	messages := p.builder.Build(contexts, question)

	start = time.Now()
	answer, err := p.completer.Complete(ctx, messages, p.opts)
	if err != nil {
		return "", err
	}
	p.logger.Debug("completion finished",
		zap.Int("answer_length", len(answer)),
		zap.Duration("elapsed", time.Since(start)))
	return answer, nil
}
