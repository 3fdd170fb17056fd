package verifier

import (
	"context"
	"strings"
	"testing"

	"trustlens-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func verify(t *testing.T, rule models.Rule, texts ...string) models.ReviewResult {
	t.Helper()
	rule.Normalize()
	require.NoError(t, rule.Validate())
	candidates := make([]models.Chunk, len(texts))
	for i, text := range texts {
		candidates[i] = models.Chunk{ID: "doc_p1_c" + string(rune('0'+i)), Page: 1, Text: text}
	}
	res := New(NewRuleEngine()).Verify(context.Background(), rule, candidates)
	assertGrounded(t, res, candidates)
	return res
}

// assertGrounded checks the evidence invariants every result must satisfy
func assertGrounded(t *testing.T, res models.ReviewResult, candidates []models.Chunk) {
	t.Helper()
	switch res.Status {
	case models.VerdictMissing, models.VerdictFailed:
		assert.Empty(t, res.Evidence)
	case models.VerdictPass, models.VerdictRisk:
		require.NotEmpty(t, res.Evidence)
		for _, ev := range res.Evidence {
			found := false
			for _, c := range candidates {
				if c.ID == ev.ChunkID {
					found = true
					assert.Contains(t, c.Text, ev.Quote)
				}
			}
			assert.True(t, found, "evidence cites unknown chunk %s", ev.ChunkID)
		}
	}
}

func paymentRule() models.Rule {
	return models.Rule{
		ID:       "PAY-001",
		Category: "payment",
		Intent:   "Payment cycle must not exceed 30 days",
		Type:     models.RuleNumericConstraint,
		Params:   models.RuleParams{"field": "payment_cycle", "operator": "<=", "value": 30, "unit": "days"},
	}
}

func TestRuleEngine_Numeric_ViolationIsRisk(t *testing.T) {
	res := verify(t, paymentRule(), "payment due within 60 business days")

	assert.Equal(t, models.VerdictRisk, res.Status)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "payment due within 60 business days", res.Evidence[0].Quote)
	assert.NotNil(t, res.Suggestion)
}

func TestRuleEngine_Numeric_WithinBoundIsPass(t *testing.T) {
	res := verify(t, paymentRule(),
		"Delivery shall occur within 90 days of the order.",
		"Payment is due within twenty (20) days of receipt of invoice. Late fees apply.",
	)

	assert.Equal(t, models.VerdictPass, res.Status)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "Payment is due within twenty (20) days of receipt of invoice.", res.Evidence[0].Quote)
}

func TestRuleEngine_Numeric_ConvertsUnits(t *testing.T) {
	res := verify(t, paymentRule(), "Payment is due within 2 months of delivery.")
	assert.Equal(t, models.VerdictRisk, res.Status)
}

func TestRuleEngine_Numeric_NoValueIsMissing(t *testing.T) {
	res := verify(t, paymentRule(), "Payment shall be made by wire transfer.")
	assert.Equal(t, models.VerdictMissing, res.Status)
	assert.Contains(t, res.Reason, "none states a value")
}

func TestRuleEngine_Numeric_ComparesFigureOfTheSubject(t *testing.T) {
	tests := []struct {
		name  string
		text  string
		quote string
	}{
		{
			name:  "separate clauses",
			text:  "Payment is due within 30 days of invoice; interest accrues on payments outstanding after 90 days.",
			quote: "Payment is due within 30 days of invoice;",
		},
		{
			name:  "one sentence",
			text:  "Payment is due within 30 days of invoice, and interest accrues on amounts outstanding after 90 days.",
			quote: "Payment is due within 30 days of invoice, and interest accrues on amounts outstanding after 90 days.",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := verify(t, paymentRule(), tt.text)
			assert.Equal(t, models.VerdictPass, res.Status, res.Reason)
			require.Len(t, res.Evidence, 1)
			assert.Equal(t, tt.quote, res.Evidence[0].Quote)
			assert.Contains(t, res.Reason, `"30 days"`)
		})
	}
}

func TestRuleEngine_Numeric_OtherFigureDoesNotHideViolation(t *testing.T) {
	res := verify(t, paymentRule(), "Payment is due within 45 days of invoice, and disputes must be raised within 10 days.")
	assert.Equal(t, models.VerdictRisk, res.Status)
	assert.Contains(t, res.Reason, `"45 days"`)
}

func TestRuleEngine_Requirement_AbsentClauseIsMissing(t *testing.T) {
	rule := models.Rule{ID: "CONF-001", Intent: "must contain confidentiality clause", Type: models.RuleRequirement}
	res := verify(t, rule,
		"Payment is due within 30 days of invoice.",
		"Either party may terminate this Agreement on 60 days written notice.",
	)

	assert.Equal(t, models.VerdictMissing, res.Status)
	assert.Empty(t, res.Evidence)
	assert.Contains(t, res.Reason, "confidentiality clause")
}

func TestRuleEngine_Requirement_PresentClauseIsPass(t *testing.T) {
	rule := models.Rule{
		ID: "CONF-001", Intent: "must contain confidentiality clause", Type: models.RuleRequirement,
		Params: models.RuleParams{"required_clauses": []interface{}{map[string]interface{}{"clause_type": "confidentiality"}}},
	}
	res := verify(t, rule,
		"Payment is due within 30 days of invoice.",
		"Each party shall keep the Confidential Information of the other party secret.",
	)

	assert.Equal(t, models.VerdictPass, res.Status)
	assert.Equal(t, "doc_p1_c1", res.Evidence[0].ChunkID)
}

func TestRuleEngine_Prohibition_AffirmativeClauseIsRisk(t *testing.T) {
	rule := models.Rule{ID: "REN-001", Category: "renewal", Intent: "no automatic renewal", Type: models.RuleProhibition}
	res := verify(t, rule,
		"Payment is due within 30 days.",
		"Upon expiry this agreement renews automatically for successive one year terms.",
	)

	assert.Equal(t, models.VerdictRisk, res.Status)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, "doc_p1_c1", res.Evidence[0].ChunkID)
	assert.Contains(t, res.Evidence[0].Quote, "this agreement renews automatically")
}

func TestRuleEngine_Prohibition_NegatedClauseIsPass(t *testing.T) {
	rule := models.Rule{ID: "REN-001", Category: "renewal", Intent: "no automatic renewal", Type: models.RuleProhibition}
	res := verify(t, rule, "This Agreement shall not renew automatically. Renewal requires a signed amendment.")

	assert.Equal(t, models.VerdictPass, res.Status)
	assert.Equal(t, "This Agreement shall not renew automatically.", res.Evidence[0].Quote)
}

func TestRuleEngine_Prohibition_UnrelatedNegationIsStillRisk(t *testing.T) {
	rule := models.Rule{ID: "REN-001", Category: "renewal", Intent: "no automatic renewal", Type: models.RuleProhibition}
	text := "This agreement renews automatically for successive one year terms unless either party gives no less than 30 days notice."
	res := verify(t, rule, text)

	assert.Equal(t, models.VerdictRisk, res.Status, res.Reason)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, text, res.Evidence[0].Quote)
}

func TestNegated_ScopedToTheProvision(t *testing.T) {
	terms := subjectTerms("automatic renewal")
	tests := []struct {
		text string
		want bool
	}{
		{"This Agreement shall not renew automatically.", true},
		{"There is no automatic renewal of this Agreement.", true},
		{"Automatic renewal is excluded.", true},
		{"The term renews automatically, without any action by either party.", false},
		{"The term renews automatically unless terminated, and no fee is payable.", false},
		{"Neither party may withhold consent; the term renews automatically.", false},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			assert.Equal(t, tt.want, negated(tt.text, terms))
		})
	}
}

func TestRuleEngine_Prohibition_IrrelevantCandidatesAreMissing(t *testing.T) {
	rule := models.Rule{ID: "REN-001", Category: "renewal", Intent: "no automatic renewal", Type: models.RuleProhibition}
	res := verify(t, rule, "Payment is due within 30 days.")

	assert.Equal(t, models.VerdictMissing, res.Status)
}

func TestRuleEngine_TextContains(t *testing.T) {
	base := models.Rule{ID: "LAW-001", Intent: "governing law must be stated", Type: models.RuleTextContains}

	anyRule := base
	anyRule.Params = models.RuleParams{"keywords": []interface{}{"governed by", "laws of"}}
	res := verify(t, anyRule, "This Agreement is governed by the laws of Delaware.")
	assert.Equal(t, models.VerdictPass, res.Status)
	assert.Len(t, res.Evidence, 1, "duplicate quotes collapse")

	allRule := base
	allRule.Params = models.RuleParams{"keywords": []interface{}{"governed by", "arbitration"}, "match_mode": "all"}
	res = verify(t, allRule, "This Agreement is governed by the laws of Delaware.")
	assert.Equal(t, models.VerdictMissing, res.Status)
	assert.Contains(t, res.Reason, `"arbitration"`)

	caseRule := base
	caseRule.Params = models.RuleParams{"keywords": []interface{}{"Delaware"}, "case_sensitive": true}
	res = verify(t, caseRule, "the laws of delaware apply.")
	assert.Equal(t, models.VerdictMissing, res.Status)
}

func TestRuleEngine_IsDeterministic(t *testing.T) {
	texts := []string{
		"Payment is due within 45 days of invoice.",
		"Upon expiry this agreement renews automatically.",
	}
	first := verify(t, paymentRule(), texts...)
	for i := 0; i < 5; i++ {
		again := verify(t, paymentRule(), texts...)
		assert.Equal(t, first.Status, again.Status)
		assert.Equal(t, first.Evidence, again.Evidence)
	}
}

func TestSplitSentences_AreSubstrings(t *testing.T) {
	text := "Fees are USD 1,500.00 per month. Payment is due in 30 days; late fees apply!\n付款期限为30天。违约金另计"
	sentences := splitSentences(text)
	require.Len(t, sentences, 5)
	for _, s := range sentences {
		assert.True(t, strings.Contains(text, s))
	}
	assert.Equal(t, "Fees are USD 1,500.00 per month.", sentences[0])
	assert.Equal(t, "付款期限为30天。", sentences[3])
}

func TestFindQuantities(t *testing.T) {
	tests := []struct {
		text  string
		value float64
		dim   dimension
	}{
		{"within 60 business days", 60, dimTime},
		{"thirty (30) days", 30, dimTime},
		{"a 2-week window", 14, dimTime},
		{"within 1 year", 365, dimTime},
		{"interest of 1.5% per month", 1.5, dimPercent},
		{"付款期限为30天", 30, dimTime},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			qs := findQuantities(tt.text)
			require.NotEmpty(t, qs)
			assert.InDelta(t, tt.value, qs[0].value, 1e-9)
			assert.Equal(t, tt.dim, qs[0].dim)
		})
	}
}
