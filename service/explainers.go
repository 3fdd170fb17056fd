package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"trustlens-backend/models"

	"github.com/google/generative-ai-go/genai"
)

type questionKind int

const (
	askGeneral questionKind = iota
	askWhy
	askWhere
	askFix
	askEvidence
)

var questionMarkers = []struct {
	kind    questionKind
	markers []string
}{
	{askWhere, []string{"where", "which page", "which clause", "which section", "locate", "哪里", "哪条", "第几"}},
	{askFix, []string{"how", "fix", "suggest", "recommend", "change", "revise", "如何", "怎么", "建议"}},
	{askEvidence, []string{"quote", "evidence", "show", "text", "证据", "原文"}},
	{askWhy, []string{"why", "reason", "explain", "为什么", "为何"}},
}

// classifyQuestion matches latin markers on whole words only
func classifyQuestion(q string) questionKind {
	padded := " " + strings.Join(strings.FieldsFunc(strings.ToLower(q), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}), " ") + " "
	for _, qm := range questionMarkers {
		for _, m := range qm.markers {
			if m[0] < utf8.RuneSelf {
				if strings.Contains(padded, " "+m+" ") {
					return qm.kind
				}
			} else if strings.Contains(q, m) {
				return qm.kind
			}
		}
	}
	return askGeneral
}

// GroundedExplainer answers from the stored verdict and evidence only,
// without a language model
type GroundedExplainer struct{}

// NewGroundedExplainer creates the deterministic explainer
func NewGroundedExplainer() *GroundedExplainer { return &GroundedExplainer{} }

// Name identifies the backend
func (g *GroundedExplainer) Name() string { return "grounded" }

// Explain answers why, where, how-to-fix and show-me-the-text questions
func (g *GroundedExplainer) Explain(ctx context.Context, in ExplainInput) (ExplainDraft, error) {
	res, rule := in.Result, in.Rule
	name := rule.Name
	if name == "" {
		name = rule.ID
	}
	all := make([]int, len(res.Evidence))
	for i := range all {
		all[i] = i
	}

	d := ExplainDraft{EvidenceRefs: all, Confidence: confidenceLabel(res)}
	switch classifyQuestion(in.Question) {
	case askWhy:
		d.Answer = fmt.Sprintf("The rule %s was judged %s. %s", name, res.Status, plainQuotes(res.Reason))
		d.Reasoning = verdictReasoning(rule, res)
	case askWhere:
		pages := evidencePages(res.Evidence)
		if len(pages) == 0 {
			d.Answer = "No clause in the document was cited for this rule, so there is no location to point to."
		} else {
			d.Answer = fmt.Sprintf("The relevant text is on page %s of the document.", joinInts(pages))
		}
		d.Reasoning = "Locations come from the page numbers of the cited evidence."
	case askFix:
		switch {
		case res.Suggestion != nil:
			d.Answer = plainQuotes(*res.Suggestion)
		case res.Status == models.VerdictRisk:
			d.Answer = fmt.Sprintf("Revise the cited clause so that it satisfies the requirement: %s.", plainQuotes(strings.TrimSuffix(rule.Intent, ".")))
		case res.Status == models.VerdictMissing:
			d.Answer = fmt.Sprintf("Add a clause that addresses the requirement: %s.", plainQuotes(strings.TrimSuffix(rule.Intent, ".")))
		case res.Status == models.VerdictFailed:
			d.Answer = "The verification did not complete, so no change can be recommended yet. Retry the failed rule first."
		default:
			d.Answer = "The document already meets this rule; no change is needed."
		}
		d.Reasoning = verdictReasoning(rule, res)
	case askEvidence:
		if len(res.Evidence) == 0 {
			d.Answer = "No text was cited for this verdict."
		} else {
			var b strings.Builder
			for i, e := range res.Evidence {
				if i > 0 {
					b.WriteString(" ")
				}
				fmt.Fprintf(&b, "[%d] page %d: “%s”", i, e.Page, e.Quote)
			}
			d.Answer = b.String()
		}
		d.Reasoning = "These are the verbatim quotes recorded with the verdict."
	default:
		d.Answer = fmt.Sprintf("For the rule %s the verdict is %s. %s", name, res.Status, plainQuotes(res.Reason))
		d.Reasoning = verdictReasoning(rule, res)
	}
	if len(in.History) > 0 {
		d.Reasoning += fmt.Sprintf(" This continues a conversation of %d earlier messages.", len(in.History))
	}
	return d, nil
}

// plainQuotes turns double quotes into single ones so that restating the
// verdict reason is not mistaken for quoting the document
func plainQuotes(s string) string {
	return strings.NewReplacer(`"`, "'", "“", "‘", "”", "’", "「", "‘", "」", "’").Replace(s)
}

func verdictReasoning(rule models.Rule, res models.ReviewResult) string {
	intent := plainQuotes(strings.TrimSuffix(rule.Intent, "."))
	if intent == "" {
		return fmt.Sprintf("The verdict was reached from %d piece(s) of cited evidence.", len(res.Evidence))
	}
	return fmt.Sprintf("The document was checked against the requirement: %s. The verdict was reached from %d piece(s) of cited evidence.", intent, len(res.Evidence))
}

func confidenceLabel(res models.ReviewResult) string {
	switch {
	case res.Status == models.VerdictFailed:
		return "low"
	case len(res.Evidence) > 0 && res.Confidence >= 0.8:
		return "high"
	case res.Confidence >= 0.5:
		return "medium"
	}
	return "low"
}

func evidencePages(evidence models.EvidenceList) []int {
	seen := make(map[int]bool)
	var pages []int
	for _, e := range evidence {
		if e.Page > 0 && !seen[e.Page] {
			seen[e.Page] = true
			pages = append(pages, e.Page)
		}
	}
	sort.Ints(pages)
	return pages
}

func joinInts(ns []int) string {
	parts := make([]string, len(ns))
	for i, n := range ns {
		parts[i] = strconv.Itoa(n)
	}
	return strings.Join(parts, ", ")
}

const explainInstruction = `You answer follow-up questions about one contract compliance verdict.
Use only the verdict and the numbered evidence below. Do not introduce facts or quotes that are not in the evidence.
When you quote, copy the evidence text exactly and wrap it in double quotes.
Respond with JSON: {"answer": string, "reasoning": string, "evidence_refs": [evidence numbers you relied on], "confidence": "high"|"medium"|"low", "limitations": [string]}`

// GeminiExplainer answers through a Gemini chat session seeded with the
// stored history
type GeminiExplainer struct {
	client *genai.Client
	model  string
}

// NewGeminiExplainer creates an explainer on an existing client
func NewGeminiExplainer(client *genai.Client, model string) *GeminiExplainer {
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &GeminiExplainer{client: client, model: model}
}

// Name identifies the backend
func (g *GeminiExplainer) Name() string { return "gemini" }

// Explain sends the question as the next chat turn
func (g *GeminiExplainer) Explain(ctx context.Context, in ExplainInput) (ExplainDraft, error) {
	model := g.client.GenerativeModel(g.model)
	model.SetTemperature(0.2)
	model.ResponseMIMEType = "application/json"
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{
		genai.Text(explainInstruction),
		genai.Text(explainContext(in.Rule, in.Result)),
	}}

	cs := model.StartChat()
	for _, msg := range in.History {
		role := "user"
		if msg.Role == models.RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(msg.Content)}})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(in.Question))
	if err != nil {
		return ExplainDraft{}, fmt.Errorf("gemini chat: %w", err)
	}
	var raw strings.Builder
	if resp != nil {
		for _, cand := range resp.Candidates {
			if cand == nil || cand.Content == nil {
				continue
			}
			for _, part := range cand.Content.Parts {
				if t, ok := part.(genai.Text); ok {
					raw.WriteString(string(t))
				}
			}
			if raw.Len() > 0 {
				break
			}
		}
	}
	return parseExplainDraft(raw.String())
}

func parseExplainDraft(raw string) (ExplainDraft, error) {
	text := strings.TrimSpace(raw)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(strings.TrimSpace(text), "```")

	var d ExplainDraft
	if err := json.Unmarshal([]byte(text), &d); err != nil {
		return ExplainDraft{}, fmt.Errorf("malformed explain answer: %w", err)
	}
	if strings.TrimSpace(d.Answer) == "" {
		return ExplainDraft{}, errors.New("malformed explain answer: empty answer")
	}
	return d, nil
}

func explainContext(rule models.Rule, res models.ReviewResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Rule %s (version %d): %s\n", rule.ID, rule.Version, rule.Intent)
	fmt.Fprintf(&b, "Verdict: %s (confidence %.2f)\nReason: %s\n", res.Status, res.Confidence, res.Reason)
	if res.Suggestion != nil {
		fmt.Fprintf(&b, "Suggestion: %s\n", *res.Suggestion)
	}
	if len(res.Evidence) == 0 {
		b.WriteString("Evidence: none\n")
	}
	for i, e := range res.Evidence {
		fmt.Fprintf(&b, "Evidence %d (page %d, chunk %s): %s\n", i, e.Page, e.ChunkID, e.Quote)
	}
	return b.String()
}
