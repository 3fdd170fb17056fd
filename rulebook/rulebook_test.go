package rulebook

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"trustlens-backend/models"
)

func TestDefault_IsValid(t *testing.T) {
	rules := Default()
	require.NotEmpty(t, rules)
	for _, r := range rules {
		assert.NoError(t, r.Validate(), r.ID)
		assert.True(t, r.Enabled, r.ID)
	}
	gl := findRule(t, rules, "governing_law_specified")
	assert.Equal(t, models.RiskHigh, gl.RiskLevel, "CRITICAL is stored as HIGH")
}

func TestLoad_RejectsDuplicatesAndUnknownFields(t *testing.T) {
	dup := `rules:
  - {rule_id: a, intent: x, type: prohibition}
  - {rule_id: a, intent: y, type: prohibition}
`
	_, err := Load(strings.NewReader(dup))
	assert.ErrorIs(t, err, ErrDuplicateRule)

	_, err = Load(strings.NewReader("rules:\n  - {rule_id: a, intent: x, type: prohibition, colour: red}\n"))
	assert.ErrorIs(t, err, models.ErrInvalidRule)

	_, err = Load(strings.NewReader("rules:\n  - {rule_id: a, intent: x, type: magic}\n"))
	assert.ErrorIs(t, err, models.ErrInvalidRule)
}

func TestLoad_DisabledRule(t *testing.T) {
	rules, err := Load(strings.NewReader("rules:\n  - {rule_id: a, intent: x, type: prohibition, enabled: false}\n"))
	require.NoError(t, err)
	require.Len(t, rules, 1)
	assert.False(t, rules[0].Enabled)
	assert.Equal(t, models.RiskMedium, rules[0].RiskLevel)
}

func TestMarshal_LoadsBack(t *testing.T) {
	rules := Default()
	data, err := Marshal(rules)
	require.NoError(t, err)

	again, err := Load(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, again, len(rules))
	for i := range rules {
		assert.Equal(t, rules[i].ID, again[i].ID)
		assert.Equal(t, rules[i].Type, again[i].Type)
		assert.Equal(t, rules[i].RetrievalTags, again[i].RetrievalTags)
	}
}

func TestParse_Numeric(t *testing.T) {
	tests := []struct {
		input    string
		field    string
		operator string
		value    float64
		unit     string
		category string
	}{
		{"Payment cycle must be no more than 30 days", "payment cycle", "<=", 30, "days", "payment"},
		{"Payment must be made within 45 business days of invoice", "payment", "<=", 45, "days", "payment"},
		{"Late payment penalties must not exceed 5%", "late payment penalties", "<=", 5, "percent", "payment"},
		{"Warranty period of at least 12 months", "warranty period", ">=", 12, "months", "warranty"},
		{"付款周期不超过30天", "付款周期", "<=", 30, "days", "payment"},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			rule, err := Parse(tt.input)
			require.NoError(t, err)
			assert.Equal(t, models.RuleNumericConstraint, rule.Type)
			p, err := rule.NumericParams()
			require.NoError(t, err)
			assert.Equal(t, tt.field, p.Field)
			assert.Equal(t, tt.operator, p.Operator)
			assert.Equal(t, tt.value, p.Value)
			assert.Equal(t, tt.unit, p.Unit)
			assert.Equal(t, tt.category, rule.Category)
			assert.Contains(t, rule.RetrievalTags, tt.category)
			assert.Equal(t, tt.input, rule.Intent)
		})
	}
}

func TestParse_OperatorNeedsWholeWord(t *testing.T) {
	rule, err := Parse("The government discount applies to 10 percent of fees")
	require.NoError(t, err)
	p, err := rule.NumericParams()
	require.NoError(t, err)
	assert.Equal(t, "<=", p.Operator, "\"over\" inside government is not an operator")
}

func TestParse_Prohibition(t *testing.T) {
	rule, err := Parse("The contract must not renew automatically")
	require.NoError(t, err)
	assert.Equal(t, models.RuleProhibition, rule.Type)
	assert.Equal(t, "no_renew_automatically", rule.ID)
	p, err := rule.ProhibitionParams()
	require.NoError(t, err)
	assert.Equal(t, []string{"renew automatically"}, p.ProhibitedPatterns)
	assert.Equal(t, models.RiskHigh, rule.RiskLevel)
}

func TestParse_RequirementAndTextContains(t *testing.T) {
	rule, err := Parse("The agreement must include a confidentiality clause")
	require.NoError(t, err)
	assert.Equal(t, models.RuleRequirement, rule.Type)
	assert.Equal(t, "confidentiality_clause_required", rule.ID)
	req, err := rule.RequirementParams()
	require.NoError(t, err)
	require.Len(t, req.RequiredClauses, 1)
	assert.Equal(t, "confidentiality", req.RequiredClauses[0].ClauseType)

	rule, err = Parse(`The contract must mention "Delaware" and "governing law"`)
	require.NoError(t, err)
	assert.Equal(t, models.RuleTextContains, rule.Type)
	tc, err := rule.TextContainsParams()
	require.NoError(t, err)
	assert.Equal(t, []string{"Delaware", "governing law"}, tc.Keywords)
}

func TestParse_Empty(t *testing.T) {
	_, err := Parse("   ")
	assert.ErrorIs(t, err, ErrUnparseable)
}

func findRule(t *testing.T, rules []models.Rule, id string) models.Rule {
	t.Helper()
	for _, r := range rules {
		if r.ID == id {
			return r
		}
	}
	t.Fatalf("rule %s not found", id)
	return models.Rule{}
}
