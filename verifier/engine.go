package verifier

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"trustlens-backend/clause"
	"trustlens-backend/models"
	"trustlens-backend/querybuilder"
)

const maxCitations = 3

// RuleEngine is a deterministic backend that evaluates each rule type with
// lexical matching over the candidate sentences
type RuleEngine struct{}

// NewRuleEngine creates the deterministic backend
func NewRuleEngine() *RuleEngine {
	return &RuleEngine{}
}

// Name identifies the backend
func (e *RuleEngine) Name() string { return "rules" }

// Draft evaluates rule against candidates
func (e *RuleEngine) Draft(ctx context.Context, rule models.Rule, candidates []models.Chunk) (Draft, error) {
	if err := ctx.Err(); err != nil {
		return Draft{}, err
	}
	sentences := candidateSentences(candidates)

	switch rule.Type {
	case models.RuleNumericConstraint:
		return e.numeric(rule, sentences)
	case models.RuleTextContains:
		return e.textContains(rule, sentences)
	case models.RuleProhibition:
		return e.prohibition(rule, sentences)
	case models.RuleRequirement:
		return e.requirement(rule, sentences)
	default:
		return Draft{}, fmt.Errorf("unsupported rule type %q", rule.Type)
	}
}

// genericTerms carry no subject matter; they never make a sentence relevant
var genericTerms = map[string]bool{
	"not": true, "no": true, "never": true, "without": true, "exceed": true, "within": true,
	"more": true, "less": true, "least": true, "most": true, "day": true, "days": true,
	"week": true, "weeks": true, "month": true, "months": true, "year": true, "years": true,
	"percent": true, "contain": true, "include": true, "includ": true, "require": true,
	"requir": true, "clause": true, "specify": true, "provid": true, "provide": true,
	"have": true, "prohibit": true, "prohibited": true, "forbid": true, "forbidden": true,
	"allow": true, "allowed": true, "permit": true, "permitted": true, "exist": true,
}

func subjectTerms(texts ...string) map[string]bool {
	set := make(map[string]bool)
	for _, text := range texts {
		for t := range termSet(text, negations) {
			if genericTerms[t] || isNumber(t) {
				continue
			}
			set[t] = true
		}
	}
	return set
}

func isNumber(s string) bool {
	_, err := strconv.ParseFloat(s, 64)
	return err == nil
}

var quantityPattern = regexp.MustCompile(
	`(?i)(\d{1,3}(?:,\d{3})+|\d+(?:\.\d+)?)\s*\)?\s*(?:-\s*)?(?:(business|calendar|working)\s+)?` +
		`(?:(days?|weeks?|months?|years?|percent|per\s+cent)\b|(%|个月|天|日|周|月|年))`)

type dimension int

const (
	dimUnknown dimension = iota
	dimTime
	dimPercent
)

// quantity is a number found in text; amount is as written, value is
// converted to days or percent
type quantity struct {
	raw    string
	amount float64
	value  float64
	dim    dimension
	// pos is the index of the word the quantity starts at
	pos int
}

// unitScale maps a unit onto days or percent
func unitScale(unit string) (float64, dimension) {
	u := strings.ToLower(strings.Join(strings.Fields(unit), " "))
	switch u {
	case "d", "day", "days", "天", "日":
		return 1, dimTime
	case "w", "week", "weeks", "周":
		return 7, dimTime
	case "month", "months", "个月", "月":
		return 30, dimTime
	case "y", "year", "years", "年":
		return 365, dimTime
	case "%", "percent", "per cent", "pct":
		return 1, dimPercent
	}
	return 1, dimUnknown
}

func findQuantities(text string) []quantity {
	var out []quantity
	for _, idx := range quantityPattern.FindAllStringSubmatchIndex(text, -1) {
		m := submatches(text, idx)
		value, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
		if err != nil {
			continue
		}
		unit := m[3]
		if unit == "" {
			unit = m[4]
		}
		scale, dim := unitScale(unit)
		out = append(out, quantity{
			raw:    strings.TrimSpace(m[0]),
			amount: value,
			value:  value * scale,
			dim:    dim,
			pos:    len(clause.Words(text[:idx[0]])),
		})
	}
	return out
}

func submatches(text string, idx []int) []string {
	out := make([]string, len(idx)/2)
	for i := range out {
		if idx[2*i] >= 0 {
			out[i] = text[idx[2*i]:idx[2*i+1]]
		}
	}
	return out
}

// subjectPositions returns the word indexes whose stem is a subject term
func subjectPositions(words []string, subject map[string]bool) []int {
	var out []int
	for i, w := range words {
		if !clause.IsStopword(w) && subject[clause.Stem(w)] {
			out = append(out, i)
		}
	}
	return out
}

// leadsWith reports whether the first meaningful word is a subject term,
// i.e. the sentence is about the constrained quantity
func leadsWith(words []string, subject map[string]bool) bool {
	for _, w := range words {
		if clause.IsStopword(w) || isNumber(w) {
			continue
		}
		return subject[clause.Stem(w)]
	}
	return false
}

func distance(pos int, anchors []int) int {
	best := -1
	for _, a := range anchors {
		d := pos - a
		if d < 0 {
			d = -d
		}
		if best < 0 || d < best {
			best = d
		}
	}
	return best
}

func satisfies(value float64, op string, bound float64) bool {
	switch op {
	case "<":
		return value < bound
	case "<=":
		return value <= bound
	case ">":
		return value > bound
	case ">=":
		return value >= bound
	case "==":
		return math.Abs(value-bound) < 1e-9
	}
	return false
}

type numericMatch struct {
	sentence  sentence
	quantity  quantity
	relevance int
}

func (e *RuleEngine) numeric(rule models.Rule, sentences []sentence) (Draft, error) {
	p, err := rule.NumericParams()
	if err != nil {
		return Draft{}, err
	}
	scale, dim := unitScale(p.Unit)
	bound := p.Value * scale
	if dim == dimUnknown {
		bound = p.Value
	}
	stated := querybuilder.RestateBound(rule)
	subject := subjectTerms(rule.Intent, strings.ReplaceAll(p.Field, "_", " "), strings.ReplaceAll(rule.Category, "_", " "))

	var matches []numericMatch
	best := 0
	for _, s := range sentences {
		words := clause.Words(s.text)
		anchors := subjectPositions(words, subject)
		rel := overlap(s.terms, subject) * 2
		if rel > 0 && leadsWith(words, subject) {
			rel++
		}

		// Only the quantity closest to a subject term is compared; other
		// figures in the sentence describe something else.
		var picked []quantity
		nearest := -1
		for _, q := range findQuantities(s.text) {
			if dim != dimUnknown && q.dim != dim {
				continue
			}
			if dim == dimUnknown {
				q.value = q.amount
			}
			if len(anchors) == 0 {
				picked = append(picked, q)
				continue
			}
			if d := distance(q.pos, anchors); nearest < 0 || d < nearest {
				picked, nearest = []quantity{q}, d
			}
		}
		for _, q := range picked {
			if rel > best {
				best = rel
			}
			matches = append(matches, numericMatch{sentence: s, quantity: q, relevance: rel})
		}
	}

	if len(matches) == 0 {
		return Draft{
			Status:     models.VerdictMissing,
			Reason:     fmt.Sprintf("Candidate clauses were retrieved, but none states a value for the requirement %q.", stated),
			Confidence: 0.75,
		}, nil
	}

	confidence := 0.9
	var relevant []numericMatch
	if best > 0 {
		for _, m := range matches {
			if m.relevance == best {
				relevant = append(relevant, m)
			}
		}
	} else {
		for _, m := range matches {
			if sharesTag(m.sentence.chunk, rule) {
				relevant = append(relevant, m)
			}
		}
		confidence = 0.7
	}
	if len(relevant) == 0 {
		return Draft{
			Status:     models.VerdictMissing,
			Reason:     fmt.Sprintf("Candidate clauses state figures, but none relates to the requirement %q.", stated),
			Confidence: 0.7,
		}, nil
	}

	var violations []numericMatch
	for _, m := range relevant {
		if !satisfies(m.quantity.value, p.Operator, bound) {
			violations = append(violations, m)
		}
	}

	if len(violations) > 0 {
		v := violations[0]
		return Draft{
			Status:     models.VerdictRisk,
			Reason:     fmt.Sprintf("The contract states %q, which violates the requirement %q.", v.quantity.raw, stated),
			Citations:  numericCitations(violations, confidence),
			Confidence: confidence,
			Suggestion: fmt.Sprintf("Revise the clause so that it meets %q.", stated),
		}, nil
	}

	m := relevant[0]
	return Draft{
		Status:     models.VerdictPass,
		Reason:     fmt.Sprintf("The contract states %q, which satisfies the requirement %q.", m.quantity.raw, stated),
		Citations:  numericCitations(relevant[:1], confidence),
		Confidence: confidence,
	}, nil
}

func numericCitations(matches []numericMatch, confidence float64) []Citation {
	var out []Citation
	seen := make(map[string]bool)
	for _, m := range matches {
		key := m.sentence.chunk.ID + "\x00" + m.sentence.text
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, citation(m.sentence, confidence))
		if len(out) == maxCitations {
			break
		}
	}
	return out
}

func sharesTag(chunk models.Chunk, rule models.Rule) bool {
	for _, t := range chunk.Tags {
		if t == rule.Category {
			return true
		}
		for _, rt := range rule.RetrievalTags {
			if t == rt {
				return true
			}
		}
	}
	return false
}

func (e *RuleEngine) textContains(rule models.Rule, sentences []sentence) (Draft, error) {
	p, err := rule.TextContainsParams()
	if err != nil {
		return Draft{}, err
	}
	fold := func(s string) string {
		if p.CaseSensitive {
			return s
		}
		return strings.ToLower(s)
	}

	var (
		citations []Citation
		found     []string
		missing   []string
	)
	for _, kw := range p.Keywords {
		needle := fold(strings.TrimSpace(kw))
		hit := false
		for _, s := range sentences {
			if needle != "" && strings.Contains(fold(s.text), needle) {
				hit = true
				if len(citations) < maxCitations {
					citations = append(citations, citation(s, 0.85))
				}
				break
			}
		}
		if hit {
			found = append(found, kw)
		} else {
			missing = append(missing, kw)
		}
	}

	if p.MatchMode == "all" && len(missing) > 0 {
		return Draft{
			Status:     models.VerdictMissing,
			Reason:     fmt.Sprintf("The retrieved clauses do not contain the required text: %s.", quoteList(missing)),
			Confidence: 0.8,
			Suggestion: fmt.Sprintf("Add language covering %s.", quoteList(missing)),
		}, nil
	}
	if len(found) == 0 {
		return Draft{
			Status:     models.VerdictMissing,
			Reason:     fmt.Sprintf("None of the retrieved clauses contains any of %s.", quoteList(p.Keywords)),
			Confidence: 0.8,
			Suggestion: fmt.Sprintf("Add language covering %s.", quoteList(p.Keywords)),
		}, nil
	}
	return Draft{
		Status:     models.VerdictPass,
		Reason:     fmt.Sprintf("The contract contains the required text %s.", quoteList(found)),
		Citations:  citations,
		Confidence: 0.85,
	}, nil
}

func (e *RuleEngine) prohibition(rule models.Rule, sentences []sentence) (Draft, error) {
	p, err := rule.ProhibitionParams()
	if err != nil {
		return Draft{}, err
	}
	patterns := p.ProhibitedPatterns
	if len(patterns) == 0 {
		patterns = []string{rule.Intent}
	}

	var (
		violations []Citation
		matched    []string
		subject    = make(map[string]bool)
	)
	for _, pattern := range patterns {
		terms := subjectTerms(pattern)
		for t := range terms {
			subject[t] = true
		}
		for _, s := range sentences {
			if !containsAll(s.terms, terms) || negated(s.text, terms) {
				continue
			}
			if len(violations) < maxCitations {
				violations = append(violations, citation(s, 0.8))
			}
			matched = append(matched, s.text)
		}
	}

	if len(violations) > 0 {
		return Draft{
			Status:     models.VerdictRisk,
			Reason:     fmt.Sprintf("The contract affirmatively contains a prohibited provision: %q.", excerpt(matched[0], 160)),
			Citations:  violations,
			Confidence: 0.8,
			Suggestion: "Remove the provision or renegotiate it so that it no longer applies.",
		}, nil
	}

	// Prefer a sentence that explicitly excludes the provision, then the
	// sentence sharing the most subject terms.
	var best *sentence
	bestScore := 0
	for i := range sentences {
		s := &sentences[i]
		score := overlap(s.terms, subject) * 2
		if score > 0 && negated(s.text, subject) {
			score++
		}
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	if best == nil {
		return Draft{
			Status:     models.VerdictMissing,
			Reason:     "Candidate clauses were retrieved, but none relates to the prohibited provision, so compliance cannot be confirmed.",
			Confidence: 0.6,
		}, nil
	}
	return Draft{
		Status:     models.VerdictPass,
		Reason:     "The relevant clauses were reviewed and none affirmatively contains the prohibited provision.",
		Citations:  []Citation{citation(*best, 0.75)},
		Confidence: 0.75,
	}, nil
}

type requirementCheck struct {
	label    string
	category string
	minLen   int
	keywords []string
	terms    map[string]bool
}

func (e *RuleEngine) requirement(rule models.Rule, sentences []sentence) (Draft, error) {
	p, err := rule.RequirementParams()
	if err != nil {
		return Draft{}, err
	}

	var checks []requirementCheck
	for _, rc := range p.RequiredClauses {
		checks = append(checks, clauseCheck(rc.ClauseType, rc.MinContentLength))
	}
	for _, kw := range p.Keywords {
		checks = append(checks, requirementCheck{label: kw, keywords: []string{strings.ToLower(kw)}})
	}
	if len(checks) == 0 {
		switch {
		case clause.Known(rule.Category):
			checks = append(checks, clauseCheck(rule.Category, 0))
		case clause.Classify(rule.Intent) != clause.Unknown:
			checks = append(checks, clauseCheck(clause.Classify(rule.Intent), 0))
		default:
			checks = append(checks, requirementCheck{label: rule.Intent, terms: subjectTerms(rule.Intent)})
		}
	}

	var (
		citations []Citation
		missing   []string
		seen      = make(map[string]bool)
	)
	for _, check := range checks {
		s, ok := check.match(sentences)
		if !ok {
			missing = append(missing, check.label)
			continue
		}
		key := s.chunk.ID + "\x00" + s.text
		if !seen[key] {
			seen[key] = true
			citations = append(citations, citation(s, 0.8))
		}
	}

	if len(missing) > 0 {
		return Draft{
			Status:     models.VerdictMissing,
			Reason:     fmt.Sprintf("The retrieved clauses do not satisfy the requirement; not found: %s.", strings.Join(missing, ", ")),
			Confidence: 0.75,
			Suggestion: fmt.Sprintf("Add a clause covering %s.", strings.Join(missing, ", ")),
		}, nil
	}
	return Draft{
		Status:     models.VerdictPass,
		Reason:     "The contract contains the required provisions.",
		Citations:  citations,
		Confidence: 0.8,
	}, nil
}

func clauseCheck(clauseType string, minLen int) requirementCheck {
	label := strings.ReplaceAll(clauseType, "_", " ")
	keywords := []string{strings.ToLower(label)}
	keywords = append(keywords, clause.Keywords(clauseType)...)
	return requirementCheck{label: label + " clause", category: clauseType, minLen: minLen, keywords: keywords}
}

// match returns the first sentence satisfying the check, looking at chunks
// tagged with the clause category before the rest
func (c requirementCheck) match(sentences []sentence) (sentence, bool) {
	accept := func(s sentence) bool {
		if c.minLen > 0 && len([]rune(strings.TrimSpace(s.chunk.Text))) < c.minLen {
			return false
		}
		if c.terms != nil {
			return containsAll(s.terms, c.terms)
		}
		lower := strings.ToLower(s.text)
		for _, kw := range c.keywords {
			if kw != "" && strings.Contains(lower, kw) {
				return true
			}
		}
		return false
	}

	if c.category != "" {
		for _, s := range sentences {
			if hasTag(s.chunk, c.category) && accept(s) {
				return s, true
			}
		}
	}
	for _, s := range sentences {
		if accept(s) {
			return s, true
		}
	}
	return sentence{}, false
}

func hasTag(chunk models.Chunk, tag string) bool {
	if chunk.ClauseHint == tag {
		return true
	}
	for _, t := range chunk.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

func quoteList(items []string) string {
	quoted := make([]string, len(items))
	for i, it := range items {
		quoted[i] = strconv.Quote(it)
	}
	return strings.Join(quoted, ", ")
}
