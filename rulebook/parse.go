package rulebook

import (
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"trustlens-backend/clause"
	"trustlens-backend/models"
)

// ErrUnparseable is returned when a sentence yields no usable rule
var ErrUnparseable = errors.New("could not derive a rule from the input")

var (
	boundPattern  = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*((?:business|calendar|working)\s+days?|days?|weeks?|months?|years?|percent|per\s+cent|%|％|个月|天|日|周|月|年)`)
	quotedPattern = regexp.MustCompile(`["“‘]([^"”’]{2,})["”’]`)
)

type phrase struct {
	text, value string
}

// Checked in order; a phrase must precede any phrase it contains.
var operatorPhrases = []phrase{
	{"no more than", "<="}, {"not more than", "<="}, {"not exceed", "<="}, {"not to exceed", "<="},
	{"no later than", "<="}, {"at most", "<="}, {"up to", "<="}, {"maximum", "<="}, {"within", "<="},
	{"no less than", ">="}, {"not less than", ">="}, {"no fewer than", ">="}, {"at least", ">="}, {"minimum", ">="},
	{"less than", "<"}, {"fewer than", "<"}, {"under", "<"}, {"below", "<"},
	{"more than", ">"}, {"greater than", ">"}, {"exceeding", ">"}, {"over", ">"},
	{"exactly", "=="},
	{"不得超过", "<="}, {"不超过", "<="}, {"以内", "<="}, {"最多", "<="}, {"最长", "<="},
	{"不少于", ">="}, {"不低于", ">="}, {"至少", ">="},
	{"少于", "<"}, {"低于", "<"},
	{"超过", ">"}, {"多于", ">"}, {"高于", ">"},
	{"等于", "=="},
}

var prohibitionMarkers = []string{
	"must not", "shall not", "may not", "cannot", "can not", "must never", "is prohibited",
	"are prohibited", "prohibit", "forbid", "not allowed", "not permitted", "no automatic",
	"不得", "禁止", "不允许", "不可",
}

var mentionMarkers = []string{
	"mention", "specify", "specifies", "state the", "states the", "contain the words",
	"include the words", "refer to", "载明", "注明", "明确",
}

var requirementMarkers = []string{
	"must", "shall", "required", "requires", "include", "contain", "should", "必须", "应", "需",
}

// filler words dropped when naming a numeric field
var fieldFiller = map[string]bool{
	"be": true, "must": true, "shall": true, "should": true, "not": true, "no": true,
	"need": true, "needs": true, "required": true, "is": true, "are": true, "the": true,
	"a": true, "an": true, "made": true,
}

var hanModals = []string{"必须", "应当", "应", "需要", "需", "不得", "的"}

// Parse derives a structured rule from one natural-language requirement.
// The result is normalized and validated.
func Parse(input string) (models.Rule, error) {
	text := strings.TrimSpace(input)
	if text == "" {
		return models.Rule{}, fmt.Errorf("%w: empty input", ErrUnparseable)
	}
	lower := strings.ToLower(text)
	categories := clause.Detect(text)
	category := clause.Unknown
	if len(categories) > 0 {
		category = categories[0]
	}

	rule := models.Rule{
		Intent:        text,
		Category:      category,
		Name:          truncateRunes(text, 80),
		RetrievalTags: topN(categories, 3),
		Enabled:       true,
	}

	switch {
	case boundPattern.MatchString(text):
		parseNumeric(&rule, text, lower)
	case containsAny(lower, prohibitionMarkers):
		parseProhibition(&rule, text, lower)
	case len(quoted(text)) > 0 || containsAny(lower, mentionMarkers):
		parseTextContains(&rule, text)
	case containsAny(lower, requirementMarkers) && clause.Known(category):
		rule.Type = models.RuleRequirement
		rule.Params = models.RuleParams{
			"required_clauses": []interface{}{
				map[string]interface{}{"clause_type": category, "min_content_length": 50},
			},
		}
		rule.ID = slug(category) + "_clause_required"
		rule.RiskLevel = models.RiskMedium
	default:
		parseTextContains(&rule, text)
	}

	if rule.ID == "" {
		rule.ID = fallbackID(text)
	}
	if len(rule.RetrievalTags) == 0 {
		rule.RetrievalTags = fallbackTags(rule)
	}
	if strings.Contains(lower, "critical") || strings.Contains(text, "重大") {
		rule.RiskLevel = "CRITICAL"
	}
	rule.PromptTemplateID = string(rule.Type) + "_v1"
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return models.Rule{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	return rule, nil
}

func parseNumeric(rule *models.Rule, text, lower string) {
	loc := boundPattern.FindStringSubmatchIndex(text)
	value, _ := strconv.ParseFloat(text[loc[2]:loc[3]], 64)
	unit := canonicalUnit(text[loc[4]:loc[5]])

	op, opAt := "<=", -1
	for _, p := range operatorPhrases {
		if i := indexPhrase(lower, p.text); i >= 0 {
			op, opAt = p.value, i
			break
		}
	}
	fieldEnd := loc[0]
	if opAt >= 0 && opAt < fieldEnd {
		fieldEnd = opAt
	}
	field := fieldName(text[:fieldEnd])
	if field == "" {
		field = strings.ReplaceAll(rule.Category, "_", " ")
	}

	rule.Type = models.RuleNumericConstraint
	rule.Params = models.RuleParams{"field": field, "operator": op, "value": value}
	if unit != "" {
		rule.Params["unit"] = unit
	}
	rule.RiskLevel = models.RiskMedium
	if op == "<=" || op == "<" {
		rule.RiskLevel = models.RiskHigh
	}

	bound := "max"
	switch op {
	case ">=", ">":
		bound = "min"
	case "==":
		bound = "eq"
	}
	if base := slug(field); base != "" {
		rule.ID = fmt.Sprintf("%s_%s_%s", base, bound, strconv.FormatFloat(value, 'f', -1, 64))
		rule.ID = strings.ReplaceAll(rule.ID, ".", "_")
	}
}

func parseProhibition(rule *models.Rule, text, lower string) {
	patterns := quoted(text)
	if len(patterns) == 0 {
		for _, m := range prohibitionMarkers {
			i := strings.Index(lower, m)
			if i < 0 {
				continue
			}
			rest := strings.Trim(text[i+len(m):], " .。;；,，")
			if rest != "" {
				patterns = []string{rest}
			}
			break
		}
	}
	rule.Type = models.RuleProhibition
	params := models.RuleParams{"scope": "entire"}
	if len(patterns) > 0 {
		params["prohibited_patterns"] = toInterfaces(patterns)
		if base := slug(patterns[0]); base != "" {
			rule.ID = "no_" + base
		}
	}
	rule.Params = params
	rule.RiskLevel = models.RiskHigh
}

func parseTextContains(rule *models.Rule, text string) {
	keywords := quoted(text)
	if len(keywords) == 0 && clause.Known(rule.Category) {
		keywords = topN(clause.Keywords(rule.Category), 3)
	}
	if len(keywords) == 0 {
		keywords = topN(keywordTerms(text), 5)
	}
	rule.Type = models.RuleTextContains
	rule.Params = models.RuleParams{
		"keywords":       toInterfaces(keywords),
		"match_mode":     "any",
		"case_sensitive": false,
	}
	rule.RiskLevel = models.RiskMedium
	if base := slug(rule.Category); base != "" {
		rule.ID = base + "_specified"
	}
}

func canonicalUnit(raw string) string {
	u := strings.ToLower(strings.Join(strings.Fields(raw), " "))
	switch {
	case strings.HasSuffix(u, "day") || strings.HasSuffix(u, "days") || u == "天" || u == "日":
		return "days"
	case strings.HasPrefix(u, "week") || u == "周":
		return "weeks"
	case strings.HasPrefix(u, "month") || u == "个月" || u == "月":
		return "months"
	case strings.HasPrefix(u, "year") || u == "年":
		return "years"
	case u == "%" || u == "％" || u == "percent" || u == "per cent":
		return "percent"
	}
	return ""
}

func fieldName(prefix string) string {
	prefix = strings.TrimSpace(prefix)
	if strings.IndexFunc(prefix, isHan) >= 0 {
		for _, m := range hanModals {
			prefix = strings.ReplaceAll(prefix, m, "")
		}
		return strings.TrimFunc(prefix, func(r rune) bool { return !isHan(r) })
	}
	var words []string
	for _, w := range clause.Words(prefix) {
		if fieldFiller[w] || clause.IsStopword(w) {
			continue
		}
		words = append(words, w)
	}
	if len(words) > 3 {
		words = words[len(words)-3:]
	}
	return strings.Join(words, " ")
}

func keywordTerms(text string) []string {
	if strings.IndexFunc(text, isHan) >= 0 {
		var runs []string
		for _, f := range strings.FieldsFunc(text, func(r rune) bool { return !isHan(r) }) {
			for _, m := range hanModals {
				f = strings.ReplaceAll(f, m, "")
			}
			if utf8.RuneCountInString(f) >= 2 {
				runs = append(runs, f)
			}
		}
		return runs
	}
	var out []string
	for _, w := range clause.Words(text) {
		if len(w) > 2 && !clause.IsStopword(w) && !fieldFiller[w] {
			out = append(out, w)
		}
	}
	return dedupe(out)
}

func fallbackTags(rule models.Rule) []string {
	if kw, ok := rule.Params["keywords"].([]interface{}); ok {
		var tags []string
		for _, k := range kw {
			if s, ok := k.(string); ok {
				tags = append(tags, strings.ToLower(s))
			}
		}
		return topN(tags, 3)
	}
	return nil
}

func quoted(text string) []string {
	var out []string
	for _, m := range quotedPattern.FindAllStringSubmatch(text, -1) {
		out = append(out, strings.TrimSpace(m[1]))
	}
	return dedupe(out)
}

func slug(s string) string {
	var b strings.Builder
	underscore := false
	for _, r := range strings.ToLower(s) {
		switch {
		case r < unicode.MaxASCII && (unicode.IsLetter(r) || unicode.IsDigit(r)):
			if b.Len() == 0 && unicode.IsDigit(r) {
				continue
			}
			b.WriteRune(r)
			underscore = false
		case b.Len() > 0 && !underscore:
			b.WriteByte('_')
			underscore = true
		}
		if b.Len() >= 48 {
			break
		}
	}
	return strings.TrimRight(b.String(), "_")
}

func fallbackID(text string) string {
	h := fnv.New32a()
	h.Write([]byte(text))
	return fmt.Sprintf("custom_rule_%08x", h.Sum32())
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

// indexPhrase finds phrase in s; latin phrases must not sit inside a longer word
func indexPhrase(s, phrase string) int {
	for offset := 0; offset < len(s); {
		i := strings.Index(s[offset:], phrase)
		if i < 0 {
			return -1
		}
		start, end := offset+i, offset+i+len(phrase)
		if isHan([]rune(phrase)[0]) || (!letterBefore(s, start) && !letterAt(s, end)) {
			return start
		}
		offset = end
	}
	return -1
}

func letterBefore(s string, i int) bool {
	r, _ := utf8.DecodeLastRuneInString(s[:i])
	return i > 0 && unicode.IsLetter(r)
}

func letterAt(s string, i int) bool {
	r, _ := utf8.DecodeRuneInString(s[i:])
	return i < len(s) && unicode.IsLetter(r)
}

func isHan(r rune) bool { return unicode.Is(unicode.Han, r) }

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}

func topN(in []string, n int) []string {
	if len(in) > n {
		in = in[:n]
	}
	return append([]string(nil), in...)
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}

func toInterfaces(in []string) []interface{} {
	out := make([]interface{}, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
