package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/generative-ai-go/genai"
)

const (
	defaultEmbeddingModel = "text-embedding-004"
	embedMaxRetries       = 3
	embedInitialBackoff   = time.Second
)

// GeminiEmbedder embeds texts with a Gemini embedding model
type GeminiEmbedder struct {
	model      *genai.EmbeddingModel
	dimensions int
	logger     *slog.Logger
}

// NewGeminiEmbedder creates an embedder for document chunks. model may be empty.
func NewGeminiEmbedder(client *genai.Client, model string, logger *slog.Logger) *GeminiEmbedder {
	if model == "" {
		model = defaultEmbeddingModel
	}
	if logger == nil {
		logger = slog.Default()
	}
	em := client.EmbeddingModel(model)
	em.TaskType = genai.TaskTypeRetrievalDocument
	return &GeminiEmbedder{model: em, dimensions: DefaultDimensions, logger: logger}
}

// Dimensions returns the vector length
func (g *GeminiEmbedder) Dimensions() int { return g.dimensions }

// Embed sends texts in one batch request, retrying transient failures with
// exponential backoff. Callers keep batches at or below DefaultBatchSize.
func (g *GeminiEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	if len(texts) > DefaultBatchSize {
		return nil, fmt.Errorf("batch of %d exceeds limit %d", len(texts), DefaultBatchSize)
	}

	batch := g.model.NewBatch()
	for _, t := range texts {
		batch.AddContent(genai.Text(t))
	}

	var lastErr error
	backoff := embedInitialBackoff
	for attempt := 0; attempt < embedMaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
			backoff *= 2
		}

		resp, err := g.model.BatchEmbedContents(ctx, batch)
		if err != nil {
			lastErr = err
			g.logger.Warn("embedding batch failed", "attempt", attempt+1, "size", len(texts), "error", err)
			continue
		}
		if len(resp.Embeddings) != len(texts) {
			return nil, fmt.Errorf("got %d embeddings for %d texts", len(resp.Embeddings), len(texts))
		}

		out := make([][]float32, len(texts))
		for i, e := range resp.Embeddings {
			if e == nil || len(e.Values) == 0 {
				return nil, errors.New("empty embedding in response")
			}
			vec := make([]float32, len(e.Values))
			copy(vec, e.Values)
			out[i] = Normalize(vec)
		}
		return out, nil
	}
	return nil, fmt.Errorf("embed batch after %d attempts: %w", embedMaxRetries, lastErr)
}
