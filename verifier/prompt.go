package verifier

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"trustlens-backend/models"
)

const systemInstruction = `You are a contract compliance reviewer. Judge the rule using ONLY the candidate clauses supplied. Never use outside knowledge. Every evidence quote must be copied character for character from the cited candidate. If no candidate supports PASS or RISK, answer MISSING with an empty evidence list. Reply with a single JSON object and nothing else.`

var typeInstructions = map[models.RuleType]string{
	models.RuleNumericConstraint: "Find the value the candidates state for the constrained quantity and compare it with the bound. PASS if it is within the bound, RISK if it violates the bound, MISSING if no candidate states such a value.",
	models.RuleTextContains:      "PASS if a candidate contains the required text or concept, MISSING otherwise.",
	models.RuleProhibition:       "RISK if a candidate affirmatively contains the prohibited provision. PASS if relevant candidates exist but none contains it. MISSING if no relevant candidate was supplied.",
	models.RuleRequirement:       "PASS if a candidate satisfies the required clause, MISSING otherwise.",
}

const outputFormat = `{
  "rule_id": "<rule id>",
  "status": "PASS" | "RISK" | "MISSING",
  "reason": "<one or two sentences grounded in the quotes>",
  "evidence": [{"chunk_id": "<candidate chunk id>", "page": <page>, "quote": "<verbatim text>"}],
  "confidence": <number between 0 and 1>,
  "suggestion": "<optional remediation>"
}`

// BuildPrompt renders the verification prompt for rule and its candidates
func BuildPrompt(rule models.Rule, candidates []models.Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Template: %s\n\n", rule.PromptTemplateID)
	b.WriteString("## Rule\n")
	fmt.Fprintf(&b, "- rule_id: %s\n- name: %s\n- category: %s\n- type: %s\n- risk_level: %s\n- intent: %s\n",
		rule.ID, rule.Name, rule.Category, rule.Type, rule.RiskLevel, rule.Intent)
	b.WriteString("- params:\n")
	b.WriteString(formatParams(rule.Params))

	b.WriteString("\n## How to decide\n")
	b.WriteString(typeInstructions[rule.Type])
	b.WriteString("\n\n## Candidate clauses\n")
	for i, c := range candidates {
		fmt.Fprintf(&b, "\n--- Candidate %d ---\nchunk_id: %s\npage: %d\ntext:\n%s\n", i+1, c.ID, c.Page, c.Text)
	}
	b.WriteString("\n## Output format\n")
	b.WriteString(outputFormat)
	b.WriteString("\n")
	return b.String()
}

func formatParams(params models.RuleParams) string {
	if len(params) == 0 {
		return "  (none)\n"
	}
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		switch v := params[k].(type) {
		case string:
			fmt.Fprintf(&b, "  - %s: %q\n", k, v)
		case []interface{}:
			parts := make([]string, len(v))
			for i, item := range v {
				parts[i] = fmt.Sprint(item)
			}
			fmt.Fprintf(&b, "  - %s: %s\n", k, strings.Join(parts, ", "))
		default:
			fmt.Fprintf(&b, "  - %s: %v\n", k, v)
		}
	}
	return b.String()
}

// stripFences removes a surrounding markdown code fence
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

type rawDraft struct {
	RuleID   *string `json:"rule_id"`
	Status   *string `json:"status"`
	Reason   *string `json:"reason"`
	Evidence []struct {
		ChunkID string `json:"chunk_id"`
		Page    int    `json:"page"`
		Quote   string `json:"quote"`
		Text    string `json:"text"`
	} `json:"evidence"`
	Confidence *float64 `json:"confidence"`
	Suggestion string   `json:"suggestion"`
}

// ParseDraft decodes and validates a backend's JSON answer for rule
func ParseDraft(raw string, rule models.Rule) (Draft, error) {
	var rd rawDraft
	if err := json.Unmarshal([]byte(stripFences(raw)), &rd); err != nil {
		return Draft{}, fmt.Errorf("%w: invalid JSON: %v", ErrMalformedOutput, err)
	}
	switch {
	case rd.RuleID == nil:
		return Draft{}, fmt.Errorf("%w: missing rule_id", ErrMalformedOutput)
	case rd.Status == nil:
		return Draft{}, fmt.Errorf("%w: missing status", ErrMalformedOutput)
	case rd.Reason == nil:
		return Draft{}, fmt.Errorf("%w: missing reason", ErrMalformedOutput)
	}
	if !strings.EqualFold(strings.TrimSpace(*rd.RuleID), rule.ID) {
		return Draft{}, fmt.Errorf("%w: answer is for rule %q, expected %q", ErrMalformedOutput, *rd.RuleID, rule.ID)
	}

	d := Draft{
		Status:     models.VerdictStatus(strings.ToUpper(strings.TrimSpace(*rd.Status))),
		Reason:     *rd.Reason,
		Confidence: 0.5,
		Suggestion: rd.Suggestion,
	}
	if rd.Confidence != nil {
		d.Confidence = *rd.Confidence
	}
	for _, ev := range rd.Evidence {
		quote := ev.Quote
		if quote == "" {
			quote = ev.Text
		}
		d.Citations = append(d.Citations, Citation{ChunkID: ev.ChunkID, Quote: quote})
	}
	return d, validateDraft(d)
}
