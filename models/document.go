package models

import (
	"time"

	"github.com/google/uuid"
)

// DocumentStatus represents the processing state of an uploaded contract
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "UPLOADED"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentReady      DocumentStatus = "READY"
	DocumentReviewing  DocumentStatus = "REVIEWING"
	DocumentReviewed   DocumentStatus = "REVIEWED"
	DocumentError      DocumentStatus = "ERROR"
)

// FileType is the declared format of an uploaded document
type FileType string

const (
	FileTypePDF  FileType = "pdf"
	FileTypeDOCX FileType = "docx"
	FileTypeTXT  FileType = "txt"
)

// Document represents an uploaded contract and its ingestion progress
type Document struct {
	ID           uuid.UUID      `json:"id"`
	Filename     string         `json:"filename"`
	FileType     FileType       `json:"file_type"`
	Size         int64          `json:"size"`
	ContentHash  string         `json:"content_hash"`
	StoragePath  string         `json:"-"`
	PageCount    int            `json:"page_count"`
	ChunkCount   int            `json:"chunk_count"`
	Status       DocumentStatus `json:"status"`
	ErrorMessage *string        `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}
