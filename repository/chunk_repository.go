package repository

import (
	"context"
	"fmt"

	"trustlens-backend/models"
	"trustlens-backend/vectorindex"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// ChunkRepository stores document chunks and their embeddings. It doubles as
// the pgvector implementation of vectorindex.Index.
type ChunkRepository struct {
	db         *pgxpool.Pool
	dimensions int
}

// NewChunkRepository creates a new chunk repository for vectors of the given size
func NewChunkRepository(db *pgxpool.Pool, dimensions int) *ChunkRepository {
	return &ChunkRepository{db: db, dimensions: dimensions}
}

var _ vectorindex.Index = (*ChunkRepository)(nil)

const chunkColumns = `chunk_id, document_id, page, chunk_index, clause_hint, text, bbox,
	char_start, char_end, token_count, tags`

func scanChunk(row rowScanner) (models.Chunk, error) {
	var c models.Chunk
	err := row.Scan(
		&c.ID,
		&c.DocumentID,
		&c.Page,
		&c.Index,
		&c.ClauseHint,
		&c.Text,
		&c.BBox,
		&c.CharStart,
		&c.CharEnd,
		&c.TokenCount,
		&c.Tags,
	)
	return c, err
}

// SaveChunks inserts a document's chunks in one batch
func (r *ChunkRepository) SaveChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	query := `
		INSERT INTO document_chunks (
			chunk_id, document_id, page, chunk_index, clause_hint, text, bbox,
			char_start, char_end, token_count, tags
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	batch := &pgx.Batch{}
	for _, c := range chunks {
		tags := c.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(query, c.ID, c.DocumentID, c.Page, c.Index, c.ClauseHint, c.Text, c.BBox,
			c.CharStart, c.CharEnd, c.TokenCount, tags)
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range chunks {
		if _, err := br.Exec(); err != nil {
			if isUniqueViolation(err) {
				return ErrAlreadyExists
			}
			return fmt.Errorf("failed to insert chunk: %w", err)
		}
	}
	return nil
}

// ListByDocument retrieves the chunks of a document in reading order
func (r *ChunkRepository) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	query := `SELECT ` + chunkColumns + `
		FROM document_chunks
		WHERE document_id = $1
		ORDER BY page, chunk_index`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chunks []models.Chunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// GetByIDs retrieves chunks in the order of ids
func (r *ChunkRepository) GetByIDs(ctx context.Context, ids []string) ([]models.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	query := `SELECT ` + chunkColumns + ` FROM document_chunks WHERE chunk_id = ANY($1)`

	rows, err := r.db.Query(ctx, query, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	byID := make(map[string]models.Chunk, len(ids))
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		byID[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	chunks := make([]models.Chunk, 0, len(byID))
	for _, id := range ids {
		if c, ok := byID[id]; ok {
			chunks = append(chunks, c)
		}
	}
	return chunks, nil
}

// DeleteByDocument removes every chunk of a document
func (r *ChunkRepository) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM document_chunks WHERE document_id = $1`, documentID)
	return err
}

// Upsert stores embeddings for a batch of chunks in one implicit transaction
func (r *ChunkRepository) Upsert(ctx context.Context, entries []vectorindex.Entry) error {
	for _, e := range entries {
		if r.dimensions > 0 && len(e.Vector) != r.dimensions {
			return fmt.Errorf("%w: chunk %s has %d dimensions, want %d",
				vectorindex.ErrDimensionMismatch, e.ChunkID, len(e.Vector), r.dimensions)
		}
	}

	query := `
		INSERT INTO document_chunks (chunk_id, document_id, page, text, tags, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (chunk_id) DO UPDATE
		SET embedding = EXCLUDED.embedding, tags = EXCLUDED.tags`

	batch := &pgx.Batch{}
	for _, e := range entries {
		tags := e.Metadata.Tags
		if tags == nil {
			tags = []string{}
		}
		batch.Queue(query, e.ChunkID, e.Metadata.DocumentID, e.Metadata.Page, e.Text, tags, pgvector.NewVector(e.Vector))
	}

	br := r.db.SendBatch(ctx, batch)
	defer br.Close()
	for range entries {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("failed to upsert embedding: %w", err)
		}
	}
	return nil
}

// Query ranks a document's chunks by cosine similarity. The tag filter is
// applied in the WHERE clause, before ranking.
func (r *ChunkRepository) Query(ctx context.Context, vector []float32, opts vectorindex.QueryOptions) ([]vectorindex.Hit, error) {
	if r.dimensions > 0 && len(vector) != r.dimensions {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			vectorindex.ErrDimensionMismatch, len(vector), r.dimensions)
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = vectorindex.DefaultTopK
	}

	args := []interface{}{pgvector.NewVector(vector)}
	filter := "embedding IS NOT NULL"
	if opts.DocumentID != uuid.Nil {
		args = append(args, opts.DocumentID)
		filter += fmt.Sprintf(" AND document_id = $%d", len(args))
	}
	if len(opts.Tags) > 0 {
		args = append(args, opts.Tags)
		filter += fmt.Sprintf(" AND tags && $%d", len(args))
	}
	args = append(args, topK)

	query := fmt.Sprintf(`
		SELECT chunk_id, 1 - (embedding <=> $1::vector) AS score
		FROM document_chunks
		WHERE %s
		ORDER BY embedding <=> $1::vector, chunk_id
		LIMIT $%d`, filter, len(args))

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query chunks: %w", err)
	}
	defer rows.Close()

	var hits []vectorindex.Hit
	for rows.Next() {
		var h vectorindex.Hit
		if err := rows.Scan(&h.ChunkID, &h.Score); err != nil {
			return nil, fmt.Errorf("failed to scan hit: %w", err)
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// DeleteDocument drops the embeddings of a document, keeping its chunks
func (r *ChunkRepository) DeleteDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `UPDATE document_chunks SET embedding = NULL WHERE document_id = $1`, documentID)
	return err
}
