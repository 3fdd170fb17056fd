package vectorindex

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// DefaultTopK is used when a query does not set TopK
const DefaultTopK = 10

type memoryRecord struct {
	vector []float32
	meta   Metadata
	tags   map[string]bool
}

// MemoryIndex is a brute-force in-memory index. Queries only score the
// candidates left after the document and tag filters.
type MemoryIndex struct {
	mu        sync.RWMutex
	dimension int
	records   map[string]memoryRecord
}

// NewMemoryIndex creates an empty index; dimension 0 accepts the first vector's size
func NewMemoryIndex(dimension int) *MemoryIndex {
	return &MemoryIndex{dimension: dimension, records: make(map[string]memoryRecord)}
}

// Upsert inserts or replaces entries. The whole call is rejected when any
// vector has the wrong dimension.
func (m *MemoryIndex) Upsert(ctx context.Context, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	dim := m.dimension
	for _, e := range entries {
		if dim == 0 {
			dim = len(e.Vector)
		}
		if len(e.Vector) != dim {
			return ErrDimensionMismatch
		}
	}
	m.dimension = dim

	for _, e := range entries {
		tags := make(map[string]bool, len(e.Metadata.Tags))
		for _, t := range e.Metadata.Tags {
			tags[t] = true
		}
		vec := make([]float32, len(e.Vector))
		copy(vec, e.Vector)
		m.records[e.ChunkID] = memoryRecord{vector: vec, meta: e.Metadata, tags: tags}
	}
	return nil
}

// Query ranks the filtered candidates by cosine similarity, ties broken by chunk id
func (m *MemoryIndex) Query(ctx context.Context, vector []float32, opts QueryOptions) ([]Hit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.dimension != 0 && len(vector) != m.dimension {
		return nil, ErrDimensionMismatch
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = DefaultTopK
	}

	hits := make([]Hit, 0)
	for id, rec := range m.records {
		if opts.DocumentID != uuid.Nil && rec.meta.DocumentID != opts.DocumentID {
			continue
		}
		if len(opts.Tags) > 0 && !hasAny(rec.tags, opts.Tags) {
			continue
		}
		hits = append(hits, Hit{ChunkID: id, Score: Cosine(vector, rec.vector)})
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].ChunkID < hits[j].ChunkID
	})
	if len(hits) > topK {
		hits = hits[:topK]
	}
	return hits, nil
}

// DeleteDocument removes every vector of a document
func (m *MemoryIndex) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, rec := range m.records {
		if rec.meta.DocumentID == documentID {
			delete(m.records, id)
		}
	}
	return nil
}

// Len returns the number of stored vectors
func (m *MemoryIndex) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func hasAny(set map[string]bool, tags []string) bool {
	for _, t := range tags {
		if set[t] {
			return true
		}
	}
	return false
}
