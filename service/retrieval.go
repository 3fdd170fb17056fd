package service

import (
	"context"
	"fmt"
	"sync"

	"trustlens-backend/models"
	"trustlens-backend/querybuilder"
	"trustlens-backend/vectorindex"

	"github.com/google/uuid"
)

// retrieveFunc returns the candidate chunks for one rule
type retrieveFunc func(ctx context.Context) ([]models.Chunk, error)

// retrievers builds one retrieval per rule of the run, in rule order. With
// merged retrieval, rules of one tag group share a single cached pass.
func (s *ReviewService) retrievers(run *models.ReviewRun) []retrieveFunc {
	out := make([]retrieveFunc, len(run.Rules))
	if !s.mergeRetrieval {
		for i, rule := range run.Rules {
			q := querybuilder.Build(rule)
			out[i] = func(ctx context.Context) ([]models.Chunk, error) {
				return s.retrieve(ctx, run.DocumentID, q, s.topK)
			}
		}
		return out
	}

	position := make(map[string]int, len(run.Rules))
	for i, rule := range run.Rules {
		position[rule.ID] = i
	}
	for _, group := range querybuilder.Merge(run.Rules) {
		k := s.topK
		if n := len(group.Rules); n > 1 {
			k = min(s.topK*n, 3*s.topK)
		}
		shared := &sharedRetrieval{}
		q := group.Query
		fetch := func(ctx context.Context) ([]models.Chunk, error) {
			return shared.get(func() ([]models.Chunk, error) {
				return s.retrieve(ctx, run.DocumentID, q, k)
			})
		}
		for _, rule := range group.Rules {
			out[position[rule.ID]] = fetch
		}
	}
	return out
}

// sharedRetrieval caches the first successful retrieval of a group; a failed
// attempt is not cached so a retry fetches again
type sharedRetrieval struct {
	mu     sync.Mutex
	done   bool
	chunks []models.Chunk
}

func (r *sharedRetrieval) get(fetch func() ([]models.Chunk, error)) ([]models.Chunk, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done {
		return r.chunks, nil
	}
	chunks, err := fetch()
	if err != nil {
		return nil, err
	}
	r.chunks, r.done = chunks, true
	return chunks, nil
}

// retrieve embeds the query and returns up to k distinct chunks of the
// document. The tag filter applies before ranking; when it selects nothing
// the query runs again unfiltered.
func (s *ReviewService) retrieve(ctx context.Context, documentID uuid.UUID, q querybuilder.Query, k int) ([]models.Chunk, error) {
	vec, err := vectorindex.EmbedOne(ctx, s.embedder, q.Text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	opts := vectorindex.QueryOptions{DocumentID: documentID, Tags: q.Tags, TopK: k}
	hits, err := s.index.Query(ctx, vec, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to query index: %w", err)
	}
	if len(hits) == 0 && len(opts.Tags) > 0 {
		opts.Tags = nil
		if hits, err = s.index.Query(ctx, vec, opts); err != nil {
			return nil, fmt.Errorf("failed to query index: %w", err)
		}
	}

	scores := make(map[string]float64, len(hits))
	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		if _, dup := scores[h.ChunkID]; dup {
			continue
		}
		scores[h.ChunkID] = h.Score
		ids = append(ids, h.ChunkID)
	}
	chunks, err := s.chunks.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load chunks: %w", err)
	}
	for i := range chunks {
		chunks[i].Score = scores[chunks[i].ID]
	}
	return chunks, nil
}
