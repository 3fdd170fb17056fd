package verifier

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"

	"trustlens-backend/clause"
	"trustlens-backend/models"
)

// sentence is a verbatim span of a candidate chunk
type sentence struct {
	chunk models.Chunk
	text  string
	terms map[string]bool
}

// splitSentences cuts text at sentence punctuation and line breaks. Every
// returned sentence is a trimmed substring of text.
func splitSentences(text string) []string {
	var out []string
	emit := func(s string) {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}

	start := 0
	for i, r := range text {
		size := utf8.RuneLen(r)
		switch r {
		case '\n':
			emit(text[start:i])
			start = i + size
		case '。', '！', '？', '；':
			emit(text[start : i+size])
			start = i + size
		case '.', '!', '?', ';':
			next := i + size
			if next >= len(text) {
				continue
			}
			if nr, _ := utf8.DecodeRuneInString(text[next:]); unicode.IsSpace(nr) {
				emit(text[start:next])
				start = next
			}
		}
	}
	if start < len(text) {
		emit(text[start:])
	}
	return out
}

func candidateSentences(candidates []models.Chunk) []sentence {
	var out []sentence
	for _, c := range candidates {
		for _, s := range splitSentences(c.Text) {
			out = append(out, sentence{chunk: c, text: s, terms: termSet(s, nil)})
		}
	}
	return out
}

// termSet stems the meaningful words of text, leaving out the excluded raw words
func termSet(text string, excluded map[string]bool) map[string]bool {
	set := make(map[string]bool)
	for _, w := range clause.Words(text) {
		if clause.IsStopword(w) || excluded[w] {
			continue
		}
		set[clause.Stem(w)] = true
	}
	return set
}

func overlap(a, b map[string]bool) int {
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	return n
}

func containsAll(set, want map[string]bool) bool {
	if len(want) == 0 {
		return false
	}
	for t := range want {
		if !set[t] {
			return false
		}
	}
	return true
}

var negations = map[string]bool{
	"no": true, "not": true, "never": true, "without": true, "none": true, "nor": true,
	"neither": true, "cannot": true, "cant": true, "dont": true, "doesnt": true,
	"wont": true, "isnt": true, "arent": true, "shant": true, "prohibited": true,
	"forbidden": true, "excluded": true, "不": true, "无": true, "未": true, "禁": true,
}

// segmentBreak separates the clauses of a sentence; a negation in one clause
// does not reach a provision stated in another
var segmentBreak = regexp.MustCompile(`(?i)[,;:()]|\b(?:unless|except|provided|but|however|whereas)\b`)

const (
	negationBefore = 4
	negationAfter  = 3
)

// negated reports whether a negation or exclusion word governs one of the
// terms: it must sit in the same clause, at most negationBefore words before
// or negationAfter words after the term
func negated(text string, terms map[string]bool) bool {
	for _, segment := range segmentBreak.Split(text, -1) {
		words := clause.Words(segment)
		for i, w := range words {
			if clause.IsStopword(w) || !terms[clause.Stem(w)] {
				continue
			}
			lo, hi := max(0, i-negationBefore), min(len(words), i+negationAfter+1)
			for _, near := range words[lo:hi] {
				if negations[near] {
					return true
				}
			}
		}
	}
	return false
}

func citation(s sentence, confidence float64) Citation {
	return Citation{ChunkID: s.chunk.ID, Quote: s.text, Confidence: &confidence}
}

func excerpt(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	r := []rune(s)
	return string(r[:max]) + "..."
}
