package service

import (
	"context"
	"strings"
	"testing"

	"trustlens-backend/docstate"
	"trustlens-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDocumentService_Upload_IngestsToReady(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	doc := h.ingest(t, "msa.txt", contractText)
	assert.Equal(t, models.FileTypeTXT, doc.FileType)
	assert.Equal(t, 1, doc.PageCount)
	assert.Greater(t, doc.ChunkCount, 0)
	assert.Nil(t, doc.ErrorMessage)

	chunks, err := h.documents.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, doc.ChunkCount)
	for _, c := range chunks {
		assert.Equal(t, doc.ID, c.DocumentID)
		assert.Contains(t, squash(contractText), squash(c.Text), "chunk text must come from the document")
	}
	assert.Equal(t, doc.ChunkCount, h.index.Len())
}

func squash(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

func TestDocumentService_Upload_DuplicateReturnsExisting(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()
	first := h.ingest(t, "msa.txt", contractText)

	res, err := h.documents.Upload(ctx, UploadRequest{Filename: "copy.txt", Content: []byte(contractText)})
	require.NoError(t, err)
	assert.True(t, res.Duplicate)
	assert.Equal(t, first.ID, res.Document.ID)

	docs, err := h.documents.List(ctx)
	require.NoError(t, err)
	assert.Len(t, docs, 1)
}

func TestDocumentService_Upload_Rejections(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	tests := []struct {
		name    string
		req     UploadRequest
		wantErr error
	}{
		{"unsupported type", UploadRequest{Filename: "legacy.doc", Content: []byte("x")}, ErrUnsupportedFileType},
		{"empty file", UploadRequest{Filename: "empty.txt"}, ErrEmptyFile},
		{"too large", UploadRequest{Filename: "big.txt", Content: make([]byte, 2<<20)}, ErrFileTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.documents.Upload(context.Background(), tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
	docs, err := h.documents.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, docs)
}

func TestDocumentService_CorruptFileEndsInError(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	ctx := context.Background()

	res, err := h.documents.Upload(ctx, UploadRequest{Filename: "broken.pdf", Content: []byte("%PDF-1.7 truncated")})
	require.NoError(t, err)
	h.documents.Wait()

	doc, err := h.documents.Get(ctx, res.Document.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentError, doc.Status)
	require.NotNil(t, doc.ErrorMessage)
	assert.NotEmpty(t, *doc.ErrorMessage)

	_, err = h.review.StartReview(ctx, StartReviewRequest{DocumentID: doc.ID})
	assert.ErrorIs(t, err, docstate.ErrIllegalTransition)

	// ERROR is the only state a re-ingest may start from
	_, err = h.documents.Reingest(ctx, doc.ID)
	require.NoError(t, err)
	h.documents.Wait()
	doc, err = h.documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentError, doc.Status)
}

func TestDocumentService_Reingest_RefusedUnlessError(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	doc := h.ingest(t, "msa.txt", contractText)

	_, err := h.documents.Reingest(context.Background(), doc.ID)
	var illegal *docstate.IllegalTransitionError
	require.ErrorAs(t, err, &illegal)
	assert.Equal(t, models.DocumentReady, illegal.From)
	assert.Equal(t, models.DocumentProcessing, illegal.To)
}

func TestDocumentService_Download(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	doc := h.ingest(t, "msa.txt", contractText)

	res, err := h.documents.Download(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, contractText, string(res.Content))
	assert.Contains(t, res.ContentType, "text/plain")
}

func TestDocumentService_Delete(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.seedRules(t, paymentRule())
	ctx := context.Background()
	doc := h.ingest(t, "msa.txt", contractText)
	results := h.runReview(t, doc.ID)

	require.NoError(t, h.documents.Delete(ctx, doc.ID))

	_, err := h.documents.Get(ctx, doc.ID)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
	assert.Equal(t, 0, h.index.Len())
	_, err = h.review.GetResults(ctx, results.Run.ID)
	assert.ErrorIs(t, err, ErrReviewNotFound)

	assert.ErrorIs(t, h.documents.Delete(ctx, uuid.New()), ErrDocumentNotFound)
}
