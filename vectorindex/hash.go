package vectorindex

import (
	"context"
	"hash/fnv"

	"trustlens-backend/clause"
)

// DefaultDimensions matches the Gemini text embedding size so both embedders
// can share one pgvector column
const DefaultDimensions = 768

// HashEmbedder is a deterministic bag-of-stems embedder using feature hashing.
// It needs no corpus preparation and no network access.
type HashEmbedder struct {
	dimensions int
}

// NewHashEmbedder creates a hash embedder; dimensions <= 0 selects DefaultDimensions
func NewHashEmbedder(dimensions int) *HashEmbedder {
	if dimensions <= 0 {
		dimensions = DefaultDimensions
	}
	return &HashEmbedder{dimensions: dimensions}
}

// Dimensions returns the vector length
func (h *HashEmbedder) Dimensions() int { return h.dimensions }

// Embed hashes every stem and adjacent stem pair into a signed bucket and
// L2-normalizes the result
func (h *HashEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		vec := make([]float32, h.dimensions)
		var prev string
		for _, w := range clause.Words(text) {
			if clause.IsStopword(w) {
				prev = ""
				continue
			}
			stem := clause.Stem(w)
			h.add(vec, stem, 1)
			if prev != "" {
				h.add(vec, prev+" "+stem, 0.5)
			}
			prev = stem
		}
		out[i] = Normalize(vec)
	}
	return out, nil
}

func (h *HashEmbedder) add(vec []float32, feature string, weight float32) {
	f := fnv.New64a()
	_, _ = f.Write([]byte(feature))
	sum := f.Sum64()
	bucket := int(sum % uint64(h.dimensions))
	if sum&(1<<63) != 0 {
		weight = -weight
	}
	vec[bucket] += weight
}
