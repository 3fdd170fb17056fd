package handlers

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"trustlens-backend/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// DocumentHandler handles HTTP requests for contract documents
type DocumentHandler struct {
	documents *service.DocumentService
	logger    *slog.Logger
}

// NewDocumentHandler creates a new document handler
func NewDocumentHandler(documents *service.DocumentService, logger *slog.Logger) *DocumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentHandler{documents: documents, logger: logger}
}

// Upload handles POST /api/documents
func (h *DocumentHandler) Upload(c *gin.Context) {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		respondInvalid(c, "multipart field 'file' is required")
		return
	}

	file, err := fileHeader.Open()
	if err != nil {
		respondServiceError(c, h.logger, fmt.Errorf("failed to open upload: %w", err))
		return
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		respondServiceError(c, h.logger, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	result, err := h.documents.Upload(c.Request.Context(), service.UploadRequest{
		Filename: fileHeader.Filename,
		Content:  content,
	})
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}

	// Identical bytes were already uploaded; the existing document is returned
	if result.Duplicate {
		respond(c, http.StatusOK, result.Document)
		return
	}
	respond(c, http.StatusCreated, result.Document)
}

// List handles GET /api/documents
func (h *DocumentHandler) List(c *gin.Context) {
	docs, err := h.documents.List(c.Request.Context())
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, docs)
}

// Get handles GET /api/documents/:id
func (h *DocumentHandler) Get(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	doc, err := h.documents.Get(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, doc)
}

// Delete handles DELETE /api/documents/:id
func (h *DocumentHandler) Delete(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	if err := h.documents.Delete(c.Request.Context(), id); err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, gin.H{"document_id": id, "deleted": true})
}

// File handles GET /api/documents/:id/file
func (h *DocumentHandler) File(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	res, err := h.documents.Download(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", res.Document.Filename))
	c.Data(http.StatusOK, res.ContentType, res.Content)
}

// Chunks handles GET /api/documents/:id/chunks
func (h *DocumentHandler) Chunks(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	chunks, err := h.documents.Chunks(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusOK, chunks)
}

// Reingest handles POST /api/documents/:id/reingest
func (h *DocumentHandler) Reingest(c *gin.Context) {
	id, ok := paramUUID(c, "id")
	if !ok {
		return
	}
	doc, err := h.documents.Reingest(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, h.logger, err)
		return
	}
	respond(c, http.StatusAccepted, doc)
}

func paramUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param(name))
	if err != nil {
		respondInvalid(c, fmt.Sprintf("invalid %s format", name))
		return uuid.Nil, false
	}
	return id, true
}

func queryUUID(c *gin.Context, name string) (uuid.UUID, bool) {
	raw := c.Query(name)
	if raw == "" {
		respondInvalid(c, fmt.Sprintf("query parameter %s is required", name))
		return uuid.Nil, false
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		respondInvalid(c, fmt.Sprintf("invalid %s format", name))
		return uuid.Nil, false
	}
	return id, true
}
