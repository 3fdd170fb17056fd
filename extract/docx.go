package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"trustlens-backend/models"
)

// Synthetic layout for DOCX, which carries no rendered positions
const (
	docxMarginLeft     = 72.0
	docxMarginTop      = 72.0
	docxLineHeight     = 14.0
	docxParagraphSpace = 30.0
	docxCharsPerLine   = 90
	docxLinesPerPage   = 46
)

// DOCXExtractor extracts paragraphs from Office Open XML documents
type DOCXExtractor struct{}

// NewDOCXExtractor creates a new DOCX extractor
func NewDOCXExtractor() *DOCXExtractor {
	return &DOCXExtractor{}
}

// Extract reads word/document.xml and lays paragraphs out on synthetic pages.
// Explicit page breaks and rendered page breaks start a new page.
func (e *DOCXExtractor) Extract(ctx context.Context, content []byte) ([]Page, error) {
	zr, err := zip.NewReader(bytes.NewReader(content), int64(len(content)))
	if err != nil {
		return nil, &ParseError{FileType: models.FileTypeDOCX, Err: fmt.Errorf("not an OOXML package: %w", err)}
	}

	var body io.ReadCloser
	for _, f := range zr.File {
		if f.Name == "word/document.xml" {
			body, err = f.Open()
			if err != nil {
				return nil, &ParseError{FileType: models.FileTypeDOCX, Err: err}
			}
			break
		}
	}
	if body == nil {
		return nil, &ParseError{FileType: models.FileTypeDOCX, Err: errors.New("word/document.xml not found")}
	}
	defer body.Close()

	paragraphs, err := readParagraphs(ctx, body)
	if err != nil {
		return nil, &ParseError{FileType: models.FileTypeDOCX, Err: err}
	}
	return layoutParagraphs(paragraphs), nil
}

type docxParagraph struct {
	text      string
	pageBreak bool // a page break precedes this paragraph
}

func readParagraphs(ctx context.Context, r io.Reader) ([]docxParagraph, error) {
	dec := xml.NewDecoder(r)
	var (
		out       []docxParagraph
		current   strings.Builder
		inText    bool
		inPara    bool
		pageBreak bool
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("decode document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "p":
				inPara = true
				current.Reset()
			case "t":
				inText = true
			case "tab":
				if inPara {
					current.WriteByte('\t')
				}
			case "br":
				for _, a := range t.Attr {
					if a.Name.Local == "type" && a.Value == "page" {
						pageBreak = true
					}
				}
			case "lastRenderedPageBreak":
				if current.Len() == 0 {
					pageBreak = true
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				inPara = false
				text := strings.TrimRight(current.String(), " \t")
				if strings.TrimSpace(text) != "" {
					out = append(out, docxParagraph{text: text, pageBreak: pageBreak})
					pageBreak = false
				}
			}
		case xml.CharData:
			if inText && inPara {
				current.Write(t)
			}
		}
	}
	return out, nil
}

func layoutParagraphs(paragraphs []docxParagraph) []Page {
	newPage := func(n int) Page {
		return Page{Number: n, Width: defaultPageWidth, Height: defaultPageHeight}
	}
	pages := []Page{newPage(1)}
	y := docxMarginTop
	lines := 0

	for _, p := range paragraphs {
		n := utf8.RuneCountInString(p.text)/docxCharsPerLine + 1
		if (p.pageBreak && len(pages[len(pages)-1].Runs) > 0) || lines+n > docxLinesPerPage && lines > 0 {
			pages = append(pages, newPage(len(pages)+1))
			y = docxMarginTop
			lines = 0
		}

		width := float64(utf8.RuneCountInString(p.text)) * 5.5
		if width > defaultPageWidth-2*docxMarginLeft {
			width = defaultPageWidth - 2*docxMarginLeft
		}
		height := float64(n) * docxLineHeight
		page := &pages[len(pages)-1]
		page.Runs = append(page.Runs, TextRun{
			Text: p.text,
			BBox: models.BBox{
				X1:         docxMarginLeft,
				Y1:         y,
				X2:         docxMarginLeft + width,
				Y2:         y + height,
				PageWidth:  defaultPageWidth,
				PageHeight: defaultPageHeight,
			},
		})
		y += height + docxParagraphSpace
		lines += n + 1
	}
	return pages
}
