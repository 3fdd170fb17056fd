package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
)

// ErrObjectNotFound is returned when a stored contract does not exist
var ErrObjectNotFound = errors.New("stored object not found")

// Storage keeps the original bytes of uploaded contracts
type Storage interface {
	// Upload stores a document's file and returns the storage path
	Upload(ctx context.Context, documentID uuid.UUID, filename string, data io.Reader) (string, error)

	// Download retrieves a file by storage path
	Download(ctx context.Context, storagePath string) (io.ReadCloser, error)

	// Delete removes a file by storage path; deleting a missing file is not an error
	Delete(ctx context.Context, storagePath string) error
}

// StorageType represents the storage backend type
type StorageType string

const (
	StorageTypeLocal StorageType = "local"
	StorageTypeS3    StorageType = "s3"
)

// StorageConfig holds configuration for storage
type StorageConfig struct {
	Type         StorageType
	LocalPath    string // For local storage
	S3Bucket     string // For S3 storage
	S3Region     string // For S3 storage
	S3Endpoint   string // S3-compatible endpoint, e.g. MinIO
	AWSAccessKey string
	AWSSecretKey string
}

// Validate checks that the selected backend is fully configured
func (c StorageConfig) Validate() error {
	switch c.Type {
	case StorageTypeLocal:
		if c.LocalPath == "" {
			return errors.New("local storage requires STORAGE_LOCAL_PATH")
		}
	case StorageTypeS3:
		if c.S3Bucket == "" {
			return errors.New("AWS_S3_BUCKET is required for S3 storage")
		}
	default:
		return fmt.Errorf("unknown storage type: %s", c.Type)
	}
	return nil
}

// NewStorage creates a new storage instance based on configuration
func NewStorage(cfg StorageConfig) (Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Type {
	case StorageTypeS3:
		return NewS3Storage(cfg)
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

// generateStoragePath lays contracts out as contracts/<id prefix>/<id>/<name>
func generateStoragePath(documentID uuid.UUID, filename string) string {
	ext := strings.ToLower(filepath.Ext(filename))
	baseName := strings.TrimSuffix(filepath.Base(filename), filepath.Ext(filename))
	baseName = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, baseName)
	if baseName == "" || baseName == "." {
		baseName = "contract"
	}

	id := documentID.String()
	return fmt.Sprintf("contracts/%s/%s/%s%s", id[:2], id, baseName, ext)
}

// contentType maps the supported contract formats to MIME types
func contentType(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return "application/pdf"
	case ".txt", ".text":
		return "text/plain; charset=utf-8"
	case ".docx":
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	default:
		return "application/octet-stream"
	}
}
