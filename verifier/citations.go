package verifier

import (
	"regexp"
	"strings"

	"trustlens-backend/models"
)

// resolveCitations turns citations into evidence. A quote that is not in its
// cited chunk is re-pointed to the candidate that contains it, and a quote
// that only differs in whitespace is replaced by the exact source span.
// Anything else is stripped.
func resolveCitations(ruleID string, citations []Citation, candidates []models.Chunk) (models.EvidenceList, []*CitationIntegrityError) {
	byID := make(map[string]int, len(candidates))
	for i, c := range candidates {
		byID[c.ID] = i
	}

	type key struct{ chunk, quote string }
	seen := make(map[key]bool)
	evidence := models.EvidenceList{}
	var stripped []*CitationIntegrityError

	for _, cit := range citations {
		quote := strings.TrimSpace(cit.Quote)
		chunk, exact, ok := locate(quote, cit.ChunkID, byID, candidates)
		if !ok {
			stripped = append(stripped, &CitationIntegrityError{RuleID: ruleID, ChunkID: cit.ChunkID, Quote: cit.Quote})
			continue
		}
		k := key{chunk.ID, exact}
		if seen[k] {
			continue
		}
		seen[k] = true

		ev := models.Evidence{
			ChunkID: chunk.ID,
			Quote:   exact,
			Page:    chunk.Page,
			BBox:    chunk.BBox,
		}
		if cit.Confidence != nil {
			c := clamp(*cit.Confidence)
			ev.Confidence = &c
		}
		evidence = append(evidence, ev)
	}
	return evidence, stripped
}

// locate finds quote in the cited chunk first, then in the other candidates
func locate(quote, chunkID string, byID map[string]int, candidates []models.Chunk) (models.Chunk, string, bool) {
	if quote == "" {
		return models.Chunk{}, "", false
	}

	order := make([]int, 0, len(candidates))
	if i, ok := byID[chunkID]; ok {
		order = append(order, i)
	}
	for i, c := range candidates {
		if c.ID != chunkID {
			order = append(order, i)
		}
	}

	for _, i := range order {
		if strings.Contains(candidates[i].Text, quote) {
			return candidates[i], quote, true
		}
	}

	pattern := whitespaceInsensitive(quote)
	if pattern == nil {
		return models.Chunk{}, "", false
	}
	for _, i := range order {
		if span := pattern.FindString(candidates[i].Text); span != "" {
			return candidates[i], span, true
		}
	}
	return models.Chunk{}, "", false
}

func whitespaceInsensitive(quote string) *regexp.Regexp {
	fields := strings.Fields(quote)
	if len(fields) == 0 {
		return nil
	}
	for i, f := range fields {
		fields[i] = regexp.QuoteMeta(f)
	}
	re, err := regexp.Compile(strings.Join(fields, `\s+`))
	if err != nil {
		return nil
	}
	return re
}
