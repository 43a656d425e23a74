package pipeline

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/schemapilot/schemapilot/internal/embedding"
	"github.com/schemapilot/schemapilot/internal/index"
	"github.com/schemapilot/schemapilot/internal/llm"
	"github.com/schemapilot/schemapilot/internal/prompt"
	"github.com/schemapilot/schemapilot/internal/vecstore"
)

type stubEmbedder struct {
	vector []float32
	err    error
	calls  int
}

func (e *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (e *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, len(e.vector))
		copy(v, e.vector)
		out[i] = v
	}
	return out, nil
}

func (e *stubEmbedder) Dimensions() int { return len(e.vector) }
func (e *stubEmbedder) Close() error    { return nil }

type stubSearcher struct {
	results []index.Result
	err     error
	calls   int
	gotVec  []float32
	gotK    int
}

func (s *stubSearcher) FindSimilar(ctx context.Context, vector []float32, k int) ([]index.Result, error) {
	s.calls++
	s.gotVec = append([]float32(nil), vector...)
	s.gotK = k
	if s.err != nil {
		return nil, s.err
	}
	return s.results, nil
}

type stubCompleter struct {
	answer  string
	err     error
	calls   int
	gotMsgs []llm.Message
	gotOpts llm.Options
}

func (c *stubCompleter) Complete(ctx context.Context, messages []llm.Message, opts llm.Options) (string, error) {
	c.calls++
	c.gotMsgs = messages
	c.gotOpts = opts
	if c.err != nil {
		return "", c.err
	}
	return c.answer, nil
}

func TestPipeline_answerFlow(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{3, 4}}
	searcher := &stubSearcher{results: []index.Result{
		{ID: "1", Content: "users: id, name", Score: 0.9},
		{ID: "2", Content: "orders: id, user_id", Score: 0.7},
	}}
	completer := &stubCompleter{answer: "orders joins users on user_id"}

	p := New(embedder, searcher, prompt.NewBuilder(""), completer, Config{}, zap.NewNop())
	answer, err := p.Answer(context.Background(), "how do orders relate to users?")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer != "orders joins users on user_id" {
		t.Errorf("unexpected answer: %q", answer)
	}

	// The query vector is normalized before retrieval.
	if len(searcher.gotVec) != 2 {
		t.Fatalf("expected 2-dimensional query, got %d", len(searcher.gotVec))
	}
	if math.Abs(float64(searcher.gotVec[0])-0.6) > 1e-6 || math.Abs(float64(searcher.gotVec[1])-0.8) > 1e-6 {
		t.Errorf("expected normalized query (0.6, 0.8), got %v", searcher.gotVec)
	}
	if searcher.gotK != 20 {
		t.Errorf("expected default of 20 contexts, got %d", searcher.gotK)
	}

	if len(completer.gotMsgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(completer.gotMsgs))
	}
	if !strings.Contains(completer.gotMsgs[1].Content, "users: id, name\norders: id, user_id") {
		t.Errorf("expected contexts joined by newline in user message, got %q", completer.gotMsgs[1].Content)
	}
	if !strings.Contains(completer.gotMsgs[1].Content, "how do orders relate to users?") {
		t.Errorf("expected question in user message, got %q", completer.gotMsgs[1].Content)
	}
}

func TestPipeline_configuredTopK(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	searcher := &stubSearcher{}
	completer := &stubCompleter{answer: "ok"}

	p := New(embedder, searcher, prompt.NewBuilder(""), completer, Config{TopK: 5}, zap.NewNop())
	if _, err := p.Answer(context.Background(), "q"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if searcher.gotK != 5 {
		t.Errorf("expected k 5, got %d", searcher.gotK)
	}
}

func TestPipeline_llmFailureLeavesRetrievalAlone(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	searcher := &stubSearcher{results: []index.Result{{ID: "1", Content: "users"}}}
	completer := &stubCompleter{err: &llm.LLMError{Op: "request", StatusCode: 500, Err: errors.New("backend down")}}

	p := New(embedder, searcher, prompt.NewBuilder(""), completer, Config{}, zap.NewNop())
	_, err := p.Answer(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error when completion fails")
	}
	var llmErr *llm.LLMError
	if !errors.As(err, &llmErr) {
		t.Fatalf("expected LLMError, got %T", err)
	}
	if embedder.calls != 1 {
		t.Errorf("expected embedding invoked exactly once, got %d", embedder.calls)
	}
	if searcher.calls != 1 {
		t.Errorf("expected retrieval invoked exactly once, got %d", searcher.calls)
	}
}

func TestPipeline_dimensionMismatchSkipsLLM(t *testing.T) {
	ctx := context.Background()
	store := vecstore.NewMemoryStore("tables", 384)
	handle, err := index.Open(ctx, store)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer handle.Close()

	embedder := &stubEmbedder{vector: make([]float32, 10)}
	completer := &stubCompleter{answer: "never"}

	p := New(embedder, handle, prompt.NewBuilder(""), completer, Config{}, zap.NewNop())
	_, err = p.Answer(ctx, "q")
	if err == nil {
		t.Fatal("expected error for mismatched dimensions")
	}
	var serr *vecstore.StorageError
	if !errors.As(err, &serr) {
		t.Fatalf("expected StorageError, got %T", err)
	}
	if !errors.Is(err, vecstore.ErrDimensionMismatch) {
		t.Errorf("expected ErrDimensionMismatch, got %v", err)
	}
	if completer.calls != 0 {
		t.Errorf("expected no completion calls, got %d", completer.calls)
	}
}

func TestPipeline_embedderFailureSkipsRetrieval(t *testing.T) {
	embedder := &stubEmbedder{err: &embedding.EmbeddingError{Op: "request", Model: "m", Err: errors.New("unreachable")}}
	searcher := &stubSearcher{}
	completer := &stubCompleter{}

	p := New(embedder, searcher, prompt.NewBuilder(""), completer, Config{}, zap.NewNop())
	_, err := p.Answer(context.Background(), "q")
	if err == nil {
		t.Fatal("expected error when embedding fails")
	}
	var embErr *embedding.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("expected EmbeddingError, got %T", err)
	}
	if searcher.calls != 0 {
		t.Errorf("expected no retrieval calls, got %d", searcher.calls)
	}
	if completer.calls != 0 {
		t.Errorf("expected no completion calls, got %d", completer.calls)
	}
}

func TestPipeline_zeroVectorSearchedUnchanged(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{0, 0, 0}}
	searcher := &stubSearcher{}
	completer := &stubCompleter{answer: "ok"}

	p := New(embedder, searcher, prompt.NewBuilder(""), completer, Config{}, zap.NewNop())
	if _, err := p.Answer(context.Background(), "q"); err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	for i, v := range searcher.gotVec {
		if v != 0 {
			t.Errorf("expected zero vector passed through unchanged, element %d is %f", i, v)
		}
	}
}

func TestPipeline_completionOptions(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		completer := &stubCompleter{answer: "ok"}
		p := New(&stubEmbedder{vector: []float32{1}}, &stubSearcher{}, prompt.NewBuilder(""), completer, Config{}, zap.NewNop())
		if _, err := p.Answer(context.Background(), "q"); err != nil {
			t.Fatalf("Answer failed: %v", err)
		}
		if completer.gotOpts.MaxTokens != 800 {
			t.Errorf("expected max tokens 800, got %d", completer.gotOpts.MaxTokens)
		}
		if completer.gotOpts.Temperature == nil || *completer.gotOpts.Temperature != 0.5 {
			t.Errorf("expected temperature 0.5, got %v", completer.gotOpts.Temperature)
		}
	})

	t.Run("configured", func(t *testing.T) {
		temp := 0.9
		completer := &stubCompleter{answer: "ok"}
		p := New(&stubEmbedder{vector: []float32{1}}, &stubSearcher{}, prompt.NewBuilder(""), completer, Config{MaxTokens: 300, Temperature: &temp}, zap.NewNop())
		if _, err := p.Answer(context.Background(), "q"); err != nil {
			t.Fatalf("Answer failed: %v", err)
		}
		if completer.gotOpts.MaxTokens != 300 {
			t.Errorf("expected max tokens 300, got %d", completer.gotOpts.MaxTokens)
		}
		if completer.gotOpts.Temperature == nil || *completer.gotOpts.Temperature != 0.9 {
			t.Errorf("expected temperature 0.9, got %v", completer.gotOpts.Temperature)
		}
	})
}

func TestPipeline_emptyIndexStillAsksLLM(t *testing.T) {
	embedder := &stubEmbedder{vector: []float32{1, 0}}
	searcher := &stubSearcher{results: nil}
	completer := &stubCompleter{answer: "I have no tables to work with."}

	p := New(embedder, searcher, prompt.NewBuilder(""), completer, Config{}, zap.NewNop())
	answer, err := p.Answer(context.Background(), "anything?")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if completer.calls != 1 {
		t.Fatalf("expected completion called once, got %d", completer.calls)
	}
	if answer != "I have no tables to work with." {
		t.Errorf("unexpected answer: %q", answer)
	}
}
