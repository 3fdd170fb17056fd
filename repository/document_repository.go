package repository

import (
	"context"
	"fmt"

	"trustlens-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DocumentRepository handles database operations for documents
type DocumentRepository struct {
	db *pgxpool.Pool
}

// NewDocumentRepository creates a new document repository
func NewDocumentRepository(db *pgxpool.Pool) *DocumentRepository {
	return &DocumentRepository{db: db}
}

const documentColumns = `id, filename, file_type, size, content_hash, storage_path,
	page_count, chunk_count, status, error_message, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanDocument(row rowScanner) (*models.Document, error) {
	doc := &models.Document{}
	err := row.Scan(
		&doc.ID,
		&doc.Filename,
		&doc.FileType,
		&doc.Size,
		&doc.ContentHash,
		&doc.StoragePath,
		&doc.PageCount,
		&doc.ChunkCount,
		&doc.Status,
		&doc.ErrorMessage,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return doc, nil
}

// Create creates a new document record
func (r *DocumentRepository) Create(ctx context.Context, doc *models.Document) error {
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	query := `
		INSERT INTO documents (
			id, filename, file_type, size, content_hash, storage_path, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		doc.ID,
		doc.Filename,
		doc.FileType,
		doc.Size,
		doc.ContentHash,
		doc.StoragePath,
		doc.Status,
	).Scan(&doc.CreatedAt, &doc.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// GetByID retrieves a document by ID
func (r *DocumentRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents WHERE id = $1`
	return scanDocument(r.db.QueryRow(ctx, query, id))
}

// GetByHash retrieves the oldest document with the given content hash
func (r *DocumentRepository) GetByHash(ctx context.Context, hash string) (*models.Document, error) {
	query := `SELECT ` + documentColumns + `
		FROM documents
		WHERE content_hash = $1
		ORDER BY created_at
		LIMIT 1`
	return scanDocument(r.db.QueryRow(ctx, query, hash))
}

// List retrieves all documents, newest first
func (r *DocumentRepository) List(ctx context.Context) ([]*models.Document, error) {
	query := `SELECT ` + documentColumns + ` FROM documents ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []*models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// UpdateStatus performs a compare-and-set on the document status
func (r *DocumentRepository) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.DocumentStatus, errMsg *string) error {
	query := `
		UPDATE documents
		SET status = $3, error_message = $4, updated_at = NOW()
		WHERE id = $1 AND status = $2`

	tag, err := r.db.Exec(ctx, query, id, from, to, errMsg)
	if err != nil {
		return fmt.Errorf("failed to update document status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}

// UpdateCounts records the ingestion outcome
func (r *DocumentRepository) UpdateCounts(ctx context.Context, id uuid.UUID, pageCount, chunkCount int) error {
	query := `
		UPDATE documents
		SET page_count = $2, chunk_count = $3, updated_at = NOW()
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, pageCount, chunkCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete deletes a document still in status; chunks, runs and sessions cascade
func (r *DocumentRepository) Delete(ctx context.Context, id uuid.UUID, status models.DocumentStatus) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM documents WHERE id = $1 AND status = $2`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.GetByID(ctx, id); err != nil {
			return err
		}
		return ErrStateConflict
	}
	return nil
}
