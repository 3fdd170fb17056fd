package clause

import (
	"strings"
	"unicode"
)

var stopwords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true, "be": true,
	"by": true, "for": true, "from": true, "has": true, "have": true, "in": true, "is": true,
	"it": true, "its": true, "of": true, "on": true, "or": true, "that": true, "the": true,
	"this": true, "to": true, "was": true, "were": true, "which": true, "with": true,
	"shall": true, "will": true, "must": true, "should": true, "may": true, "any": true,
	"all": true, "such": true, "each": true, "other": true, "than": true, "these": true,
	"those": true, "there": true, "their": true, "party": true, "parties": true,
	"agreement": true, "contract": true,
}

// IsStopword reports whether a lower-cased word carries no clause meaning
func IsStopword(word string) bool {
	return stopwords[word]
}

var suffixes = []string{
	"ically", "ation", "ality", "ities", "ity", "ally", "ical", "ness", "ment",
	"ated", "ates", "ate", "ings", "ing", "ies", "ied", "als", "al", "ic", "ed",
	"ly", "s",
}

// Stem strips common English suffixes so that related word forms compare equal
// ("automatic", "automatically" and "renewal", "renews").
func Stem(word string) string {
	word = strings.ToLower(word)
	for changed := true; changed; {
		changed = false
		for _, suf := range suffixes {
			if strings.HasSuffix(word, suf) && len(word)-len(suf) >= 4 {
				word = strings.TrimSuffix(word, suf)
				changed = true
				break
			}
		}
	}
	return word
}

// Words splits text into lower-cased latin words and single CJK characters
func Words(text string) []string {
	var out []string
	var cur strings.Builder
	flush := func() {
		if cur.Len() > 0 {
			out = append(out, cur.String())
			cur.Reset()
		}
	}
	for _, r := range strings.ToLower(text) {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			out = append(out, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			cur.WriteRune(r)
		case r == '\'' || r == '’':
		default:
			flush()
		}
	}
	flush()
	return out
}

// Terms returns the stems of the meaningful words of text, in order, without
// duplicates
func Terms(text string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, w := range Words(text) {
		if IsStopword(w) {
			continue
		}
		s := Stem(w)
		if seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
