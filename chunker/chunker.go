// Package chunker splits position-tagged page text into citable chunks.
//
// Chunks never cross a page boundary and their text is always a verbatim
// substring of the page text. Paragraphs are found from vertical gaps between
// runs, long paragraphs are split at sentence boundaries and short neighbours
// are merged until each chunk is within the configured token range.
package chunker

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"trustlens-backend/clause"
	"trustlens-backend/extract"
	"trustlens-backend/models"

	"github.com/google/uuid"
)

// ErrDegenerate marks a page that could not be segmented and was emitted as a
// single page-sized chunk
var ErrDegenerate = errors.New("chunking degenerate")

// Config holds chunker configuration.
type Config struct {
	// MinTokens is the size below which neighbouring segments are merged.
	MinTokens int
	// TargetTokens is the preferred chunk size when merging.
	TargetTokens int
	// MaxTokens is the size above which a paragraph is split.
	MaxTokens int
	// ParagraphGap is the vertical distance between runs that starts a new paragraph.
	ParagraphGap float64
}

// DefaultConfig returns the default chunking window.
func DefaultConfig() Config {
	return Config{
		MinTokens:    150,
		TargetTokens: 200,
		MaxTokens:    300,
		ParagraphGap: 25,
	}
}

// Validate checks the configuration for consistency.
func (c Config) Validate() error {
	if c.MinTokens <= 0 {
		return fmt.Errorf("min tokens must be positive, got %d", c.MinTokens)
	}
	if c.TargetTokens < c.MinTokens {
		return fmt.Errorf("target tokens (%d) must be >= min tokens (%d)", c.TargetTokens, c.MinTokens)
	}
	if c.MaxTokens < c.TargetTokens {
		return fmt.Errorf("max tokens (%d) must be >= target tokens (%d)", c.MaxTokens, c.TargetTokens)
	}
	if c.ParagraphGap < 0 {
		return fmt.Errorf("paragraph gap must not be negative")
	}
	return nil
}

// Chunker splits pages into chunks.
type Chunker struct {
	config Config
}

// New creates a chunker with the given configuration.
func New(cfg Config) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return &Chunker{config: cfg}, nil
}

// MustNew creates a chunker and panics on invalid configuration.
func MustNew(cfg Config) *Chunker {
	c, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return c
}

// NewDefault creates a chunker with the default configuration.
func NewDefault() *Chunker {
	return MustNew(DefaultConfig())
}

// Result is the output of chunking one document.
type Result struct {
	Chunks []models.Chunk
	// DegeneratePages lists pages emitted through the single-chunk fallback.
	DegeneratePages []int
}

// Err reports ErrDegenerate when any page used the fallback.
func (r Result) Err() error {
	if len(r.DegeneratePages) == 0 {
		return nil
	}
	return fmt.Errorf("%w: pages %v", ErrDegenerate, r.DegeneratePages)
}

// PageCount returns the number of distinct pages that produced chunks.
func (r Result) PageCount() int {
	seen := make(map[int]bool)
	for _, c := range r.Chunks {
		seen[c.Page] = true
	}
	return len(seen)
}

// segment is a half-open byte range of the page text.
type segment struct {
	start, end int
	tokens     int
	irregular  bool
}

// runSpan records where a run sits in the page text.
type runSpan struct {
	start, end int
	bbox       models.BBox
}

// Chunk splits each page independently and numbers chunks per page.
func (c *Chunker) Chunk(documentID uuid.UUID, pages []extract.Page) Result {
	var res Result
	for _, page := range pages {
		text := page.Text()
		if strings.TrimSpace(text) == "" {
			continue
		}

		spans := runSpans(page)
		segments, ok := c.segmentPage(page, text, spans)
		if ok {
			ok = covers(text, segments)
		}
		if !ok {
			segments = []segment{{start: 0, end: len(text), tokens: CountTokens(text)}}
			res.DegeneratePages = append(res.DegeneratePages, page.Number)
		}

		for _, seg := range segments {
			start, end := trimRange(text, seg.start, seg.end)
			if start >= end {
				continue
			}
			chunkText := text[start:end]
			tags := clause.Detect(chunkText)
			hint := clause.Unknown
			if len(tags) > 0 {
				hint = tags[0]
			}
			index := countOnPage(res.Chunks, page.Number)
			res.Chunks = append(res.Chunks, models.Chunk{
				ID:         models.ChunkID(documentID, page.Number, index),
				DocumentID: documentID,
				Page:       page.Number,
				Index:      index,
				ClauseHint: hint,
				Text:       chunkText,
				BBox:       unionBBox(spans, start, end, page),
				CharStart:  start,
				CharEnd:    end,
				TokenCount: CountTokens(chunkText),
				Tags:       tags,
			})
		}
	}
	return res
}

func runSpans(page extract.Page) []runSpan {
	spans := make([]runSpan, len(page.Runs))
	offset := 0
	for i, r := range page.Runs {
		spans[i] = runSpan{start: offset, end: offset + len(r.Text), bbox: r.BBox}
		offset += len(r.Text) + len(extract.RunSeparator)
	}
	return spans
}

func countOnPage(chunks []models.Chunk, page int) int {
	n := 0
	for i := len(chunks) - 1; i >= 0 && chunks[i].Page == page; i-- {
		n++
	}
	return n
}

// segmentPage returns the chunk ranges of a page. It reports false when the
// page text cannot be segmented.
func (c *Chunker) segmentPage(page extract.Page, text string, spans []runSpan) ([]segment, bool) {
	if !utf8.ValidString(text) {
		return nil, false
	}

	var pieces []segment
	for _, para := range c.paragraphs(page, text, spans) {
		if para.irregular || para.tokens <= c.config.MaxTokens {
			pieces = append(pieces, para)
			continue
		}
		pieces = append(pieces, c.splitParagraph(text, para)...)
	}
	return c.merge(pieces), true
}

var clauseHeading = regexp.MustCompile(`^\s*(?:(?:\d+(?:\.\d+)*[.)]?|[IVXLC]+\.|\([a-z0-9]+\))\s|(?i:article|section|clause|schedule|annex)\s+\S|第[一二三四五六七八九十百零〇\d]+[条章节款])`)

// paragraphs groups runs into paragraphs. A vertical gap wider than
// ParagraphGap, a run starting with a clause number or a blank line inside a
// run starts a new paragraph.
func (c *Chunker) paragraphs(page extract.Page, text string, spans []runSpan) []segment {
	var (
		out   []segment
		start = -1
		end   int
		runs  int
	)
	flush := func() {
		if start >= 0 {
			out = append(out, c.newParagraph(text, start, end, runs))
		}
		start, runs = -1, 0
	}

	for i, r := range page.Runs {
		if strings.TrimSpace(r.Text) == "" {
			flush()
			continue
		}
		if start >= 0 && i > 0 {
			prev := page.Runs[i-1].BBox
			gap := r.BBox.Y1 - prev.Y2
			if gap > c.config.ParagraphGap || clauseHeading.MatchString(r.Text) {
				flush()
			}
		}

		// paragraphs separated by blank lines inside a single run
		runStart := spans[i].start
		parts := strings.Split(r.Text, "\n\n")
		offset := runStart
		for j, part := range parts {
			if j > 0 {
				flush()
			}
			if strings.TrimSpace(part) != "" {
				if start < 0 {
					start = offset
				}
				end = offset + len(part)
				runs++
			}
			offset += len(part) + 2
		}
	}
	flush()
	return out
}

func (c *Chunker) newParagraph(text string, start, end, runs int) segment {
	body := text[start:end]
	tokens := CountTokens(body)
	return segment{
		start:     start,
		end:       end,
		tokens:    tokens,
		irregular: isIrregular(body, runs, tokens),
	}
}

// isIrregular detects table-like regions: many short lines and no sentences.
func isIrregular(body string, runs, tokens int) bool {
	if runs < 6 {
		return false
	}
	if tokens/runs > 4 {
		return false
	}
	return len(sentenceEnds(body)) == 0
}

// splitParagraph packs whole sentences up to MaxTokens. A sentence longer than
// MaxTokens is cut at word boundaries.
func (c *Chunker) splitParagraph(text string, para segment) []segment {
	body := text[para.start:para.end]
	var sentences []segment
	prev := 0
	for _, e := range sentenceEnds(body) {
		sentences = append(sentences, segment{start: para.start + prev, end: para.start + e})
		prev = e
	}
	if prev < len(body) {
		sentences = append(sentences, segment{start: para.start + prev, end: para.end})
	}

	var units []segment
	for _, s := range sentences {
		s.tokens = CountTokens(text[s.start:s.end])
		if s.tokens <= c.config.MaxTokens {
			units = append(units, s)
			continue
		}
		units = append(units, c.splitWords(text, s)...)
	}

	var out []segment
	cur := segment{start: -1}
	for _, u := range units {
		if cur.start >= 0 && cur.tokens+u.tokens > c.config.MaxTokens {
			out = append(out, cur)
			cur = segment{start: -1}
		}
		if cur.start < 0 {
			cur = u
			continue
		}
		cur.end = u.end
		cur.tokens = CountTokens(text[cur.start:cur.end])
	}
	if cur.start >= 0 {
		out = append(out, cur)
	}
	return out
}

func (c *Chunker) splitWords(text string, s segment) []segment {
	var out []segment
	start := s.start
	tokens := 0
	inWord := false
	for i, r := range text[s.start:s.end] {
		pos := s.start + i
		switch {
		case isCJK(r):
			tokens++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				tokens++
			}
			inWord = true
		default:
			inWord = false
		}
		if tokens >= c.config.MaxTokens && (unicode.IsSpace(r) || isCJK(r)) {
			cut := pos + utf8.RuneLen(r)
			out = append(out, segment{start: start, end: cut, tokens: CountTokens(text[start:cut])})
			start = cut
			tokens = 0
		}
	}
	if start < s.end {
		out = append(out, segment{start: start, end: s.end, tokens: CountTokens(text[start:s.end])})
	}
	return out
}

// merge greedily joins adjacent short segments of the same page.
func (c *Chunker) merge(pieces []segment) []segment {
	var out []segment
	for _, p := range pieces {
		if len(out) == 0 {
			out = append(out, p)
			continue
		}
		last := &out[len(out)-1]
		combined := last.tokens + p.tokens
		canJoin := !last.irregular && !p.irregular
		switch {
		case canJoin && last.tokens < c.config.MinTokens && combined <= c.config.MaxTokens:
			last.end, last.tokens = p.end, combined
		case canJoin && combined <= c.config.TargetTokens:
			last.end, last.tokens = p.end, combined
		default:
			out = append(out, p)
		}
	}

	// fold a short tail back into its predecessor when it fits
	if n := len(out); n > 1 {
		last, prev := out[n-1], out[n-2]
		if last.tokens < c.config.MinTokens && !last.irregular && !prev.irregular &&
			prev.tokens+last.tokens <= c.config.MaxTokens {
			out[n-2].end = last.end
			out[n-2].tokens = prev.tokens + last.tokens
			out = out[:n-1]
		}
	}
	return out
}

// covers checks that segments are ordered, disjoint and leave only whitespace
// uncovered.
func covers(text string, segments []segment) bool {
	pos := 0
	for _, s := range segments {
		if s.start < pos || s.end < s.start || s.end > len(text) {
			return false
		}
		if strings.TrimSpace(text[pos:s.start]) != "" {
			return false
		}
		pos = s.end
	}
	return strings.TrimSpace(text[pos:]) == ""
}

func trimRange(text string, start, end int) (int, int) {
	for start < end {
		r, size := utf8.DecodeRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		start += size
	}
	for end > start {
		r, size := utf8.DecodeLastRuneInString(text[start:end])
		if !unicode.IsSpace(r) {
			break
		}
		end -= size
	}
	return start, end
}

func unionBBox(spans []runSpan, start, end int, page extract.Page) models.BBox {
	var box models.BBox
	for _, s := range spans {
		if s.end <= start || s.start >= end {
			continue
		}
		box = box.Union(s.bbox)
	}
	if box.PageWidth == 0 {
		box.PageWidth = page.Width
	}
	if box.PageHeight == 0 {
		box.PageHeight = page.Height
	}
	return box
}
