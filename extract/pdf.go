package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"

	"trustlens-backend/models"

	"github.com/ledongthuc/pdf"
)

// Letter size in points, used when a page has no readable MediaBox
const (
	defaultPageWidth  = 612.0
	defaultPageHeight = 792.0
)

// PDFExtractor extracts text lines with positions from PDF files
type PDFExtractor struct{}

// NewPDFExtractor creates a new PDF extractor
func NewPDFExtractor() *PDFExtractor {
	return &PDFExtractor{}
}

// Extract reads every page and groups glyphs into lines in reading order
func (e *PDFExtractor) Extract(ctx context.Context, content []byte) (pages []Page, err error) {
	// the pdf library panics on some malformed content streams
	defer func() {
		if r := recover(); r != nil {
			pages = nil
			err = &ParseError{FileType: models.FileTypePDF, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, &ParseError{FileType: models.FileTypePDF, Err: err}
	}

	numPages := reader.NumPage()
	if numPages == 0 {
		return nil, &ParseError{FileType: models.FileTypePDF, Err: errors.New("document has no pages")}
	}

	pages = make([]Page, 0, numPages)
	for i := 1; i <= numPages; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p := reader.Page(i)
		if p.V.IsNull() {
			pages = append(pages, Page{Number: i, Width: defaultPageWidth, Height: defaultPageHeight})
			continue
		}
		width, height := pageSize(p)
		pages = append(pages, Page{
			Number: i,
			Width:  width,
			Height: height,
			Runs:   linesFromGlyphs(p.Content().Text, width, height),
		})
	}
	return pages, nil
}

func pageSize(p pdf.Page) (float64, float64) {
	box := p.V.Key("MediaBox")
	if box.Len() < 4 {
		return defaultPageWidth, defaultPageHeight
	}
	w := box.Index(2).Float64() - box.Index(0).Float64()
	h := box.Index(3).Float64() - box.Index(1).Float64()
	if w <= 0 || h <= 0 {
		return defaultPageWidth, defaultPageHeight
	}
	return w, h
}

type line struct {
	y      float64
	size   float64
	glyphs []pdf.Text
}

// linesFromGlyphs groups positioned glyphs sharing a baseline into runs, top to
// bottom, and converts PDF coordinates (origin bottom left) to top-left boxes.
func linesFromGlyphs(glyphs []pdf.Text, width, height float64) []TextRun {
	var lines []*line
	for _, g := range glyphs {
		if g.S == "" {
			continue
		}
		size := g.FontSize
		if size <= 0 {
			size = 10
		}
		var target *line
		for _, l := range lines {
			if math.Abs(l.y-g.Y) < size*0.5 {
				target = l
				break
			}
		}
		if target == nil {
			target = &line{y: g.Y, size: size}
			lines = append(lines, target)
		}
		target.glyphs = append(target.glyphs, g)
		if size > target.size {
			target.size = size
		}
	}

	sort.SliceStable(lines, func(i, j int) bool { return lines[i].y > lines[j].y })

	runs := make([]TextRun, 0, len(lines))
	for _, l := range lines {
		sort.SliceStable(l.glyphs, func(i, j int) bool { return l.glyphs[i].X < l.glyphs[j].X })

		var sb strings.Builder
		x1, x2 := l.glyphs[0].X, l.glyphs[0].X
		prevEnd := l.glyphs[0].X
		for k, g := range l.glyphs {
			if k > 0 && g.X-prevEnd > l.size*0.25 && !strings.HasPrefix(g.S, " ") {
				sb.WriteByte(' ')
			}
			sb.WriteString(g.S)
			prevEnd = g.X + g.W
			if g.X < x1 {
				x1 = g.X
			}
			if prevEnd > x2 {
				x2 = prevEnd
			}
		}

		text := strings.TrimRight(sb.String(), " ")
		if strings.TrimSpace(text) == "" {
			continue
		}
		runs = append(runs, TextRun{
			Text: text,
			BBox: models.BBox{
				X1:         x1,
				Y1:         height - (l.y + l.size),
				X2:         x2,
				Y2:         height - l.y,
				PageWidth:  width,
				PageHeight: height,
			},
		})
	}
	return runs
}
