package chunker

import (
	"unicode"
	"unicode/utf8"
)

// CountTokens approximates model tokens as CJK characters plus latin words.
func CountTokens(text string) int {
	n := 0
	inWord := false
	for _, r := range text {
		switch {
		case isCJK(r):
			n++
			inWord = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			if !inWord {
				n++
			}
			inWord = true
		case r == '\'' || r == '-':
			// keep contractions and hyphenated words together
		default:
			inWord = false
		}
	}
	return n
}

func isCJK(r rune) bool {
	return unicode.Is(unicode.Han, r) || unicode.Is(unicode.Hiragana, r) ||
		unicode.Is(unicode.Katakana, r) || unicode.Is(unicode.Hangul, r)
}

func isFullWidthStop(r rune) bool {
	return r == '。' || r == '！' || r == '？'
}

func isClosing(r rune) bool {
	switch r {
	case '"', '\'', ')', ']', '”', '’', '」', '』', '）':
		return true
	}
	return false
}

// sentenceEnds returns the byte offsets just past each sentence terminator in
// body, excluding a terminator at the very end.
func sentenceEnds(body string) []int {
	var ends []int
	for i := 0; i < len(body); {
		r, size := utf8.DecodeRuneInString(body[i:])
		next := i + size
		terminal := false
		switch {
		case isFullWidthStop(r):
			terminal = true
		case r == '.' || r == '!' || r == '?':
			terminal = true
		}
		if !terminal {
			i = next
			continue
		}

		// swallow repeated terminators and closing quotes
		for next < len(body) {
			nr, nsize := utf8.DecodeRuneInString(body[next:])
			if nr == '.' || nr == '!' || nr == '?' || isFullWidthStop(nr) || isClosing(nr) {
				next += nsize
				continue
			}
			break
		}

		if next >= len(body) {
			break
		}
		nr, _ := utf8.DecodeRuneInString(body[next:])
		if isFullWidthStop(r) || unicode.IsSpace(nr) {
			ends = append(ends, next)
		}
		i = next
	}
	return ends
}
