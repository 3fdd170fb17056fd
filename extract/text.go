package extract

import (
	"context"
	"errors"
	"strings"
	"unicode/utf8"

	"trustlens-backend/models"
)

// TextExtractor reads plain text; a form feed starts a new page and blank lines
// separate paragraphs
type TextExtractor struct{}

// NewTextExtractor creates a new plain text extractor
func NewTextExtractor() *TextExtractor {
	return &TextExtractor{}
}

// Extract splits content into pages and lines
func (e *TextExtractor) Extract(ctx context.Context, content []byte) ([]Page, error) {
	if !utf8.Valid(content) {
		return nil, &ParseError{FileType: models.FileTypeTXT, Err: errors.New("content is not valid UTF-8")}
	}
	text := strings.ReplaceAll(string(content), "\r\n", "\n")

	var pages []Page
	for i, raw := range strings.Split(text, "\f") {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		page := Page{Number: i + 1, Width: defaultPageWidth, Height: defaultPageHeight}
		y := docxMarginTop
		for _, l := range strings.Split(raw, "\n") {
			l = strings.TrimRight(l, " \t")
			if strings.TrimSpace(l) == "" {
				// blank lines widen the gap so the chunker sees a paragraph break
				y += docxParagraphSpace
				continue
			}
			page.Runs = append(page.Runs, TextRun{
				Text: l,
				BBox: models.BBox{
					X1:         docxMarginLeft,
					Y1:         y,
					X2:         docxMarginLeft + float64(utf8.RuneCountInString(l))*5.5,
					Y2:         y + docxLineHeight,
					PageWidth:  defaultPageWidth,
					PageHeight: defaultPageHeight,
				},
			})
			y += docxLineHeight
		}
		pages = append(pages, page)
	}
	return pages, nil
}
