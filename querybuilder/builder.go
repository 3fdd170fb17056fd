// Package querybuilder turns rules into retrieval queries. It is a pure
// transform with no index or network access.
package querybuilder

import (
	"sort"
	"strconv"
	"strings"

	"trustlens-backend/clause"
	"trustlens-backend/models"
)

// maxMergedKeywords bounds the keywords carried by a merged query
const maxMergedKeywords = 10

// Query is the retrieval request for one rule or one group of rules
type Query struct {
	Text     string   `json:"text"`
	Tags     []string `json:"tags"`
	Keywords []string `json:"keywords,omitempty"`
	RuleIDs  []string `json:"rule_ids"`
}

// Group is a set of rules served by one retrieval pass
type Group struct {
	Rules []models.Rule
	Query Query
}

var operatorWords = map[string]string{
	"<":  "less than",
	"<=": "no more than",
	">":  "more than",
	">=": "at least",
	"==": "exactly",
}

// Build derives the query of a single rule: intent, category and, for
// numeric constraints, the bound restated in words. Tags are the rule's
// retrieval tags.
func Build(rule models.Rule) Query {
	parts := []string{strings.TrimSpace(rule.Intent)}

	category := humanize(rule.Category)
	if category != "" && !strings.Contains(strings.ToLower(rule.Intent), strings.ToLower(category)) {
		parts = append(parts, category)
	}

	switch rule.Type {
	case models.RuleNumericConstraint:
		if bound := RestateBound(rule); bound != "" {
			parts = append(parts, bound)
		}
	case models.RuleTextContains:
		if p, err := rule.TextContainsParams(); err == nil {
			parts = append(parts, strings.Join(p.Keywords, " "))
		}
	case models.RuleProhibition:
		if p, err := rule.ProhibitionParams(); err == nil {
			parts = append(parts, strings.Join(p.ProhibitedPatterns, " "))
		}
	case models.RuleRequirement:
		if p, err := rule.RequirementParams(); err == nil {
			for _, c := range p.RequiredClauses {
				parts = append(parts, humanize(c.ClauseType)+" clause")
			}
			parts = append(parts, strings.Join(p.Keywords, " "))
		}
	}

	return Query{
		Text:     joinNonEmpty(parts, ". "),
		Tags:     append([]string(nil), rule.RetrievalTags...),
		Keywords: Keywords(rule),
		RuleIDs:  []string{rule.ID},
	}
}

// RestateBound phrases a numeric constraint, e.g. "payment cycle no more than 30 days"
func RestateBound(rule models.Rule) string {
	p, err := rule.NumericParams()
	if err != nil {
		return ""
	}
	field := humanize(p.Field)
	if field == "" {
		field = humanize(rule.Category)
	}
	words, ok := operatorWords[p.Operator]
	if !ok {
		words = p.Operator
	}
	return joinNonEmpty([]string{field, words, strconv.FormatFloat(p.Value, 'f', -1, 64), p.Unit}, " ")
}

// Keywords extracts the salient words of a rule's intent and params
func Keywords(rule models.Rule) []string {
	texts := []string{rule.Intent}
	keys := make([]string, 0, len(rule.Params))
	for k := range rule.Params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		switch val := rule.Params[k].(type) {
		case string:
			texts = append(texts, val)
		case []interface{}:
			for _, item := range val {
				if s, ok := item.(string); ok {
					texts = append(texts, s)
				}
			}
		case []string:
			texts = append(texts, val...)
		}
	}

	seen := make(map[string]bool)
	var out []string
	for _, text := range texts {
		for _, w := range clause.Words(text) {
			if len(w) == 1 && w[0] >= 'a' && w[0] <= 'z' {
				continue
			}
			if clause.IsStopword(w) || seen[w] {
				continue
			}
			seen[w] = true
			out = append(out, w)
		}
	}
	return out
}

// Merge groups rules whose retrieval tags overlap, directly or through other
// rules, so each group needs a single retrieval pass. Rules without tags stay
// alone. Groups keep the order of their first rule.
func Merge(rules []models.Rule) []Group {
	parent := make([]int, len(rules))
	for i := range parent {
		parent[i] = i
	}
	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	owner := make(map[string]int)
	for i, r := range rules {
		for _, tag := range r.RetrievalTags {
			if j, ok := owner[tag]; ok {
				a, b := find(i), find(j)
				if a != b {
					if a < b {
						parent[b] = a
					} else {
						parent[a] = b
					}
				}
				continue
			}
			owner[tag] = i
		}
	}

	index := make(map[int]int)
	var groups []Group
	for i, r := range rules {
		root := find(i)
		gi, ok := index[root]
		if !ok {
			gi = len(groups)
			index[root] = gi
			groups = append(groups, Group{})
		}
		groups[gi].Rules = append(groups[gi].Rules, r)
	}

	for i := range groups {
		groups[i].Query = mergedQuery(groups[i].Rules)
	}
	return groups
}

func mergedQuery(rules []models.Rule) Query {
	if len(rules) == 1 {
		return Build(rules[0])
	}

	var (
		texts    []string
		tags     []string
		ids      []string
		seenTag  = make(map[string]bool)
		counts   = make(map[string]int)
		firstPos = make(map[string]int)
	)
	for _, r := range rules {
		q := Build(r)
		texts = append(texts, q.Text)
		ids = append(ids, r.ID)
		for _, t := range q.Tags {
			if !seenTag[t] {
				seenTag[t] = true
				tags = append(tags, t)
			}
		}
		for _, k := range q.Keywords {
			if _, ok := firstPos[k]; !ok {
				firstPos[k] = len(firstPos)
			}
			counts[k]++
		}
	}

	keywords := make([]string, 0, len(counts))
	for k := range counts {
		keywords = append(keywords, k)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if counts[keywords[i]] != counts[keywords[j]] {
			return counts[keywords[i]] > counts[keywords[j]]
		}
		return firstPos[keywords[i]] < firstPos[keywords[j]]
	})
	if len(keywords) > maxMergedKeywords {
		keywords = keywords[:maxMergedKeywords]
	}

	return Query{
		Text:     strings.Join(texts, "; "),
		Tags:     tags,
		Keywords: keywords,
		RuleIDs:  ids,
	}
}

func humanize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "_", " "))
}

func joinNonEmpty(parts []string, sep string) string {
	out := parts[:0:0]
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, sep)
}
