package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// BBox locates text on a page, in page coordinates with the origin at the top left
type BBox struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	PageWidth  float64 `json:"page_width,omitempty"`
	PageHeight float64 `json:"page_height,omitempty"`
}

// IsZero reports whether the box carries no position
func (b BBox) IsZero() bool {
	return b.X1 == 0 && b.Y1 == 0 && b.X2 == 0 && b.Y2 == 0
}

// Union returns the smallest box covering both boxes
func (b BBox) Union(o BBox) BBox {
	if b.IsZero() {
		return o
	}
	if o.IsZero() {
		return b
	}
	u := BBox{
		X1:         minFloat(b.X1, o.X1),
		Y1:         minFloat(b.Y1, o.Y1),
		X2:         maxFloat(b.X2, o.X2),
		Y2:         maxFloat(b.Y2, o.Y2),
		PageWidth:  b.PageWidth,
		PageHeight: b.PageHeight,
	}
	if u.PageWidth == 0 {
		u.PageWidth = o.PageWidth
	}
	if u.PageHeight == 0 {
		u.PageHeight = o.PageHeight
	}
	return u
}

// Value implements driver.Valuer for JSONB
func (b BBox) Value() (driver.Value, error) {
	return json.Marshal(b)
}

// Scan implements sql.Scanner for JSONB
func (b *BBox) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*b = BBox{}
		return nil
	case []byte:
		if len(v) == 0 {
			return nil
		}
		return json.Unmarshal(v, b)
	case string:
		if v == "" {
			return nil
		}
		return json.Unmarshal([]byte(v), b)
	default:
		return fmt.Errorf("unsupported bbox type %T", value)
	}
}

// Chunk is the smallest citable unit of document text
type Chunk struct {
	ID         string    `json:"chunk_id"`
	DocumentID uuid.UUID `json:"document_id"`
	Page       int       `json:"page"`
	Index      int       `json:"index"`
	ClauseHint string    `json:"clause_hint,omitempty"`
	Text       string    `json:"text"`
	BBox       BBox      `json:"bbox"`
	CharStart  int       `json:"char_start"`
	CharEnd    int       `json:"char_end"`
	TokenCount int       `json:"token_count"`
	Tags       []string  `json:"tags,omitempty"`
	Score      float64   `json:"score,omitempty"` // similarity, set on retrieval only
}

// ChunkID builds the stable id of the index-th chunk on a page
func ChunkID(documentID uuid.UUID, page, index int) string {
	return fmt.Sprintf("%s_p%d_c%d", documentID, page, index)
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

func maxFloat(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}
