package service

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"trustlens-backend/chunker"
	"trustlens-backend/docstate"
	"trustlens-backend/extract"
	"trustlens-backend/models"
	"trustlens-backend/repository"
	"trustlens-backend/storage"
	"trustlens-backend/vectorindex"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

var errNoText = errors.New("document contains no extractable text")

// Extractor turns stored bytes into positioned page text
type Extractor interface {
	Extract(ctx context.Context, content []byte, fileType models.FileType) ([]extract.Page, error)
}

// IngestObserver is told how each ingestion ended
type IngestObserver interface {
	IngestionFinished(status models.DocumentStatus, chunks int)
}

// DocumentService handles upload and ingestion of contracts
type DocumentService struct {
	documents      repository.DocumentStore
	chunks         repository.ChunkStore
	reviews        repository.ReviewStore
	storage        storage.Storage
	extractor      Extractor
	chunker        *chunker.Chunker
	embedder       vectorindex.Embedder
	index          vectorindex.Index
	batchSize      int
	maxUploadBytes int64
	observer       IngestObserver
	logger         *slog.Logger

	locks *DocumentLocks
	wg    sync.WaitGroup
}

// DocumentServiceOption is a functional option for DocumentService
type DocumentServiceOption func(*DocumentService)

// DocumentWithStores sets the document, chunk and review stores
func DocumentWithStores(docs repository.DocumentStore, chunks repository.ChunkStore, reviews repository.ReviewStore) DocumentServiceOption {
	return func(s *DocumentService) {
		s.documents, s.chunks, s.reviews = docs, chunks, reviews
	}
}

// DocumentWithStorage sets the file storage
func DocumentWithStorage(st storage.Storage) DocumentServiceOption {
	return func(s *DocumentService) { s.storage = st }
}

// DocumentWithExtractor replaces the default extractor registry
func DocumentWithExtractor(e Extractor) DocumentServiceOption {
	return func(s *DocumentService) { s.extractor = e }
}

// DocumentWithChunker replaces the default chunker
func DocumentWithChunker(c *chunker.Chunker) DocumentServiceOption {
	return func(s *DocumentService) { s.chunker = c }
}

// DocumentWithVectorIndex sets the embedder and the index chunks are written to
func DocumentWithVectorIndex(e vectorindex.Embedder, idx vectorindex.Index) DocumentServiceOption {
	return func(s *DocumentService) { s.embedder, s.index = e, idx }
}

// DocumentWithEmbedBatchSize sets how many chunks are embedded per request
func DocumentWithEmbedBatchSize(n int) DocumentServiceOption {
	return func(s *DocumentService) { s.batchSize = n }
}

// DocumentWithMaxUploadBytes caps the accepted upload size
func DocumentWithMaxUploadBytes(n int64) DocumentServiceOption {
	return func(s *DocumentService) { s.maxUploadBytes = n }
}

// DocumentWithObserver reports ingestion outcomes
func DocumentWithObserver(o IngestObserver) DocumentServiceOption {
	return func(s *DocumentService) { s.observer = o }
}

// DocumentWithLocks shares the per-document locks with the review service
func DocumentWithLocks(l *DocumentLocks) DocumentServiceOption {
	return func(s *DocumentService) { s.locks = l }
}

// DocumentWithLogger sets the logger
func DocumentWithLogger(l *slog.Logger) DocumentServiceOption {
	return func(s *DocumentService) { s.logger = l }
}

// NewDocumentService creates a new document service
func NewDocumentService(opts ...DocumentServiceOption) *DocumentService {
	s := &DocumentService{
		extractor:      extract.NewRegistry(),
		chunker:        chunker.NewDefault(),
		batchSize:      vectorindex.DefaultBatchSize,
		maxUploadBytes: 50 << 20,
		locks:          NewDocumentLocks(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

func (s *DocumentService) ready() error {
	switch {
	case s.documents == nil:
		return errors.New("document repository not set")
	case s.chunks == nil:
		return errors.New("chunk repository not set")
	case s.storage == nil:
		return errors.New("storage not set")
	case s.embedder == nil || s.index == nil:
		return errors.New("vector index not set")
	}
	return nil
}

// UploadRequest represents a contract upload
type UploadRequest struct {
	Filename string
	Content  []byte
}

// UploadResult represents the result of an upload
type UploadResult struct {
	Document *models.Document
	// Duplicate is set when identical bytes were uploaded before; no new
	// document is created.
	Duplicate bool
}

// Upload stores the file, records the document as UPLOADED and starts
// ingestion in the background
func (s *DocumentService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	if len(req.Content) == 0 {
		return nil, ErrEmptyFile
	}
	if int64(len(req.Content)) > s.maxUploadBytes {
		return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrFileTooLarge, len(req.Content), s.maxUploadBytes)
	}
	fileType, err := extract.DetectFileType(req.Filename)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFileType, req.Filename)
	}

	sum := blake2b.Sum256(req.Content)
	hash := hex.EncodeToString(sum[:])
	existing, err := s.documents.GetByHash(ctx, hash)
	if err == nil {
		return &UploadResult{Document: existing, Duplicate: true}, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, fmt.Errorf("failed to check for duplicate upload: %w", err)
	}

	doc := &models.Document{
		ID:          uuid.New(),
		Filename:    req.Filename,
		FileType:    fileType,
		Size:        int64(len(req.Content)),
		ContentHash: hash,
		Status:      models.DocumentUploaded,
	}
	doc.StoragePath, err = s.storage.Upload(ctx, doc.ID, req.Filename, bytes.NewReader(req.Content))
	if err != nil {
		return nil, fmt.Errorf("failed to store file: %w", err)
	}
	if err := s.documents.Create(ctx, doc); err != nil {
		if delErr := s.storage.Delete(ctx, doc.StoragePath); delErr != nil {
			s.logger.Warn("failed to remove orphaned file", "path", doc.StoragePath, "error", delErr)
		}
		return nil, fmt.Errorf("failed to create document: %w", err)
	}

	s.logger.Info("document uploaded", "document_id", doc.ID, "filename", doc.Filename, "size", doc.Size)
	s.startIngest(doc.ID, models.DocumentUploaded)
	return &UploadResult{Document: doc}, nil
}

// Reingest reprocesses a document that ended in ERROR
func (s *DocumentService) Reingest(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if !docstate.CanReingest(doc.Status) {
		return nil, &docstate.IllegalTransitionError{From: doc.Status, To: models.DocumentProcessing}
	}
	s.startIngest(doc.ID, doc.Status)
	return doc, nil
}

func (s *DocumentService) startIngest(id uuid.UUID, from models.DocumentStatus) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.Ingest(context.Background(), id, from); err != nil {
			s.logger.Error("ingestion failed", "document_id", id, "error", err)
		}
	}()
}

// Wait blocks until background ingestions finish
func (s *DocumentService) Wait() {
	s.wg.Wait()
}

// Ingest runs extract, chunk and embed for one document. The document moves
// from `from` to PROCESSING and ends READY or ERROR.
func (s *DocumentService) Ingest(ctx context.Context, id uuid.UUID, from models.DocumentStatus) error {
	if err := s.ready(); err != nil {
		return err
	}
	if err := s.markProcessing(ctx, id, from); err != nil {
		return err
	}

	// PROCESSING keeps reviews and deletes away while the lock is released
	chunks, pages, err := s.process(ctx, id)

	unlock := s.locks.lock(id)
	defer unlock()
	if err != nil {
		msg := err.Error()
		if updErr := s.documents.UpdateStatus(ctx, id, models.DocumentProcessing, models.DocumentError, &msg); updErr != nil {
			s.logger.Error("failed to mark document as errored", "document_id", id, "error", updErr)
		}
		s.observe(models.DocumentError, 0)
		return err
	}

	if err := s.documents.UpdateCounts(ctx, id, pages, chunks); err != nil {
		return fmt.Errorf("failed to update counts: %w", err)
	}
	if err := s.documents.UpdateStatus(ctx, id, models.DocumentProcessing, models.DocumentReady, nil); err != nil {
		return fmt.Errorf("failed to mark document ready: %w", err)
	}
	s.observe(models.DocumentReady, chunks)
	s.logger.Info("document ready", "document_id", id, "pages", pages, "chunks", chunks)
	return nil
}

func (s *DocumentService) markProcessing(ctx context.Context, id uuid.UUID, from models.DocumentStatus) error {
	unlock := s.locks.lock(id)
	defer unlock()

	if _, err := docstate.Transition(from, models.DocumentProcessing); err != nil {
		return err
	}
	if err := s.documents.UpdateStatus(ctx, id, from, models.DocumentProcessing, nil); err != nil {
		return s.mapDocErr(err)
	}
	return nil
}

func (s *DocumentService) process(ctx context.Context, id uuid.UUID) (chunkCount, pageCount int, err error) {
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to load document: %w", err)
	}
	content, err := s.readFile(ctx, doc.StoragePath)
	if err != nil {
		return 0, 0, err
	}

	pages, err := s.extractor.Extract(ctx, content, doc.FileType)
	if err != nil {
		return 0, 0, err
	}
	res := s.chunker.Chunk(id, pages)
	if err := res.Err(); err != nil {
		s.logger.Warn("chunking fell back to page chunks", "document_id", id, "error", err)
	}
	if len(res.Chunks) == 0 {
		return 0, 0, &extract.ParseError{FileType: doc.FileType, Err: errNoText}
	}

	// A re-ingest replaces the previous chunk set wholesale
	if err := s.chunks.DeleteByDocument(ctx, id); err != nil {
		return 0, 0, fmt.Errorf("failed to clear chunks: %w", err)
	}
	if err := s.index.DeleteDocument(ctx, id); err != nil {
		return 0, 0, fmt.Errorf("failed to clear vectors: %w", err)
	}
	if err := s.chunks.SaveChunks(ctx, res.Chunks); err != nil {
		return 0, 0, fmt.Errorf("failed to save chunks: %w", err)
	}

	entries := make([]vectorindex.Entry, len(res.Chunks))
	for i, c := range res.Chunks {
		entries[i] = vectorindex.Entry{
			ChunkID:  c.ID,
			Text:     c.Text,
			Metadata: vectorindex.Metadata{DocumentID: id, Page: c.Page, Tags: c.Tags},
		}
	}
	if _, err := vectorindex.IndexChunks(ctx, s.embedder, s.index, entries, s.batchSize); err != nil {
		return 0, 0, fmt.Errorf("failed to index chunks: %w", err)
	}
	return len(res.Chunks), res.PageCount(), nil
}

func (s *DocumentService) readFile(ctx context.Context, path string) ([]byte, error) {
	rc, err := s.storage.Download(ctx, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stored file: %w", err)
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

func (s *DocumentService) observe(status models.DocumentStatus, chunks int) {
	if s.observer != nil {
		s.observer.IngestionFinished(status, chunks)
	}
}

// Get returns one document
func (s *DocumentService) Get(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	if s.documents == nil {
		return nil, errors.New("document repository not set")
	}
	doc, err := s.documents.GetByID(ctx, id)
	if err != nil {
		return nil, s.mapDocErr(err)
	}
	return doc, nil
}

// List returns all documents, newest first
func (s *DocumentService) List(ctx context.Context) ([]*models.Document, error) {
	if s.documents == nil {
		return nil, errors.New("document repository not set")
	}
	return s.documents.List(ctx)
}

// Chunks returns the chunk set of a document in page order
func (s *DocumentService) Chunks(ctx context.Context, id uuid.UUID) ([]models.Chunk, error) {
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return s.chunks.ListByDocument(ctx, id)
}

// DownloadResult carries an original upload
type DownloadResult struct {
	Document    *models.Document
	Content     []byte
	ContentType string
}

// Download returns the original file of a document
func (s *DocumentService) Download(ctx context.Context, id uuid.UUID) (*DownloadResult, error) {
	doc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	content, err := s.readFile(ctx, doc.StoragePath)
	if err != nil {
		return nil, err
	}
	return &DownloadResult{Document: doc, Content: content, ContentType: extract.ContentType(doc.FileType)}, nil
}

// Delete removes a document with its chunks, vectors, reviews and file.
// Documents being processed or reviewed cannot be deleted.
func (s *DocumentService) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.ready(); err != nil {
		return err
	}
	unlock := s.locks.lock(id)
	defer unlock()

	doc, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if doc.Status == models.DocumentProcessing || doc.Status == models.DocumentReviewing {
		return ErrDocumentBusy
	}

	// The record goes first and only from the status read above, so a run
	// started in between makes the delete fail instead of orphaning the run.
	if err := s.documents.Delete(ctx, id, doc.Status); err != nil {
		return s.mapDocErr(err)
	}
	if err := s.index.DeleteDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete vectors: %w", err)
	}
	if err := s.chunks.DeleteByDocument(ctx, id); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	if s.reviews != nil {
		if err := s.reviews.DeleteByDocument(ctx, id); err != nil {
			return fmt.Errorf("failed to delete reviews: %w", err)
		}
	}
	if err := s.storage.Delete(ctx, doc.StoragePath); err != nil {
		s.logger.Warn("failed to delete stored file", "document_id", id, "error", err)
	}
	return nil
}

func (s *DocumentService) mapDocErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrNotFound):
		return ErrDocumentNotFound
	case errors.Is(err, repository.ErrStateConflict):
		return fmt.Errorf("%w: %v", ErrDocumentBusy, err)
	}
	return err
}
