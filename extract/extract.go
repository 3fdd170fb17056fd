// Package extract turns uploaded contract files into page-tagged text runs with
// bounding boxes.
package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"trustlens-backend/models"
)

// TextRun is a piece of text in reading order together with its position
type TextRun struct {
	Text string      `json:"text"`
	BBox models.BBox `json:"bbox"`
}

// Page is one page of extracted text, numbered from 1
type Page struct {
	Number int       `json:"page"`
	Width  float64   `json:"width,omitempty"`
	Height float64   `json:"height,omitempty"`
	Runs   []TextRun `json:"runs"`
}

// RunSeparator joins runs into the page text
const RunSeparator = "\n"

// Text returns the extracted text of the page; chunk text is always a substring of it
func (p Page) Text() string {
	parts := make([]string, len(p.Runs))
	for i, r := range p.Runs {
		parts[i] = r.Text
	}
	return strings.Join(parts, RunSeparator)
}

// ErrUnsupportedType is returned for files whose type has no extractor
var ErrUnsupportedType = errors.New("unsupported file type")

// ParseError reports an unreadable, corrupt or encrypted source document
type ParseError struct {
	FileType models.FileType
	Err      error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.FileType, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// IsParseError reports whether err is a ParseError
func IsParseError(err error) bool {
	var pe *ParseError
	return errors.As(err, &pe)
}

// Extractor extracts ordered pages from file content
type Extractor interface {
	Extract(ctx context.Context, content []byte) ([]Page, error)
}

// Registry selects an extractor by file type
type Registry struct {
	extractors map[models.FileType]Extractor
}

// NewRegistry creates a registry with the PDF, DOCX and plain text extractors
func NewRegistry() *Registry {
	return &Registry{
		extractors: map[models.FileType]Extractor{
			models.FileTypePDF:  NewPDFExtractor(),
			models.FileTypeDOCX: NewDOCXExtractor(),
			models.FileTypeTXT:  NewTextExtractor(),
		},
	}
}

// Register replaces the extractor for a file type
func (r *Registry) Register(fileType models.FileType, e Extractor) {
	r.extractors[fileType] = e
}

// Extract runs the extractor registered for fileType
func (r *Registry) Extract(ctx context.Context, content []byte, fileType models.FileType) ([]Page, error) {
	e, ok := r.extractors[fileType]
	if !ok {
		return nil, &ParseError{FileType: fileType, Err: ErrUnsupportedType}
	}
	pages, err := e.Extract(ctx, content)
	if err != nil {
		if IsParseError(err) {
			return nil, err
		}
		return nil, &ParseError{FileType: fileType, Err: err}
	}
	return pages, nil
}

// DetectFileType infers the declared file type from a filename
func DetectFileType(filename string) (models.FileType, error) {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".pdf":
		return models.FileTypePDF, nil
	case ".docx":
		return models.FileTypeDOCX, nil
	case ".txt", ".text":
		return models.FileTypeTXT, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedType, filepath.Ext(filename))
	}
}

// ContentType returns the MIME type for a file type
func ContentType(fileType models.FileType) string {
	switch fileType {
	case models.FileTypePDF:
		return "application/pdf"
	case models.FileTypeDOCX:
		return "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	case models.FileTypeTXT:
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}
