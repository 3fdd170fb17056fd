// Package vectorindex stores chunk embeddings and answers tag-filtered
// nearest-neighbour queries ranked by cosine similarity.
package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/google/uuid"
)

// DefaultBatchSize caps the number of texts sent to an embedding backend at once
const DefaultBatchSize = 100

// ErrDimensionMismatch is returned when a vector does not match the index dimension
var ErrDimensionMismatch = errors.New("vector dimension mismatch")

// Metadata describes the chunk behind a vector
type Metadata struct {
	DocumentID uuid.UUID
	Page       int
	Tags       []string
}

// Entry is one vector to upsert
type Entry struct {
	ChunkID  string
	Text     string
	Vector   []float32
	Metadata Metadata
}

// QueryOptions restricts and sizes a query
type QueryOptions struct {
	DocumentID uuid.UUID
	// Tags, when non-empty, keeps only chunks carrying at least one of them.
	// The filter is applied before ranking.
	Tags []string
	TopK int
}

// Hit is a ranked query result
type Hit struct {
	ChunkID string  `json:"chunk_id"`
	Score   float64 `json:"score"`
}

// Index stores vectors with metadata
type Index interface {
	Upsert(ctx context.Context, entries []Entry) error
	Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Hit, error)
	DeleteDocument(ctx context.Context, documentID uuid.UUID) error
}

// Embedder turns texts into fixed-length vectors. Identical input must yield
// identical output within a session.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	Dimensions() int
}

// EmbedOne embeds a single text
func EmbedOne(ctx context.Context, e Embedder, text string) ([]float32, error) {
	vectors, err := e.Embed(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("embedder returned %d vectors for 1 text", len(vectors))
	}
	return vectors[0], nil
}

// BatchError reports a failed embedding batch. Batches before it were committed.
type BatchError struct {
	Committed int
	Batch     int
	Err       error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch %d failed after %d committed entries: %v", e.Batch, e.Committed, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// IndexChunks embeds entry texts in batches of at most batchSize and upserts
// each batch on its own, so a failure never undoes earlier batches. It returns
// the number of entries committed.
func IndexChunks(ctx context.Context, embedder Embedder, index Index, entries []Entry, batchSize int) (int, error) {
	if batchSize <= 0 || batchSize > DefaultBatchSize {
		batchSize = DefaultBatchSize
	}

	committed := 0
	for start, batch := 0, 0; start < len(entries); start, batch = start+batchSize, batch+1 {
		end := start + batchSize
		if end > len(entries) {
			end = len(entries)
		}
		part := make([]Entry, end-start)
		copy(part, entries[start:end])

		texts := make([]string, len(part))
		for i, e := range part {
			texts[i] = e.Text
		}
		vectors, err := embedder.Embed(ctx, texts)
		if err != nil {
			return committed, &BatchError{Committed: committed, Batch: batch, Err: err}
		}
		if len(vectors) != len(part) {
			return committed, &BatchError{
				Committed: committed,
				Batch:     batch,
				Err:       fmt.Errorf("got %d embeddings for %d texts", len(vectors), len(part)),
			}
		}
		for i := range part {
			part[i].Vector = vectors[i]
		}
		if err := index.Upsert(ctx, part); err != nil {
			return committed, &BatchError{Committed: committed, Batch: batch, Err: err}
		}
		committed += len(part)
	}
	return committed, nil
}

// Cosine returns the cosine similarity of two vectors, 0 when either is zero
func Cosine(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var dot, na, nb float64
	for i := 0; i < n; i++ {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Normalize scales v to unit length in place
func Normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm > 0 {
		for i := range v {
			v[i] = float32(float64(v[i]) / norm)
		}
	}
	return v
}
