package querybuilder

import (
	"testing"

	"trustlens-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func paymentRule() models.Rule {
	r := models.Rule{
		ID:            "PAY-001",
		Category:      "payment",
		Intent:        "Payment cycle must not exceed 30 days",
		Type:          models.RuleNumericConstraint,
		Params:        models.RuleParams{"field": "payment_cycle", "operator": "<=", "value": 30, "unit": "days"},
		RetrievalTags: []string{"payment", "invoice"},
	}
	r.Normalize()
	return r
}

func TestBuild_NumericRestatesBound(t *testing.T) {
	q := Build(paymentRule())

	assert.Contains(t, q.Text, "Payment cycle must not exceed 30 days")
	assert.Contains(t, q.Text, "payment cycle no more than 30 days")
	assert.NotContains(t, q.Text, "payment. payment", "category already named by intent")
	assert.Equal(t, []string{"payment", "invoice"}, q.Tags)
	assert.Equal(t, []string{"PAY-001"}, q.RuleIDs)
	assert.Contains(t, q.Keywords, "cycle")
	assert.NotContains(t, q.Keywords, "must")
}

func TestBuild_IsDeterministic(t *testing.T) {
	r := paymentRule()
	first := Build(r)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, Build(r))
	}
}

func TestRestateBound_Operators(t *testing.T) {
	tests := []struct {
		op   string
		want string
	}{
		{"<", "notice period less than 10 days"},
		{"lte", "notice period no more than 10 days"},
		{">", "notice period more than 10 days"},
		{"at_least", "notice period at least 10 days"},
		{"==", "notice period exactly 10 days"},
	}
	for _, tt := range tests {
		t.Run(tt.op, func(t *testing.T) {
			r := models.Rule{
				Type:   models.RuleNumericConstraint,
				Params: models.RuleParams{"field": "notice_period", "operator": tt.op, "value": "10", "unit": "days"},
			}
			assert.Equal(t, tt.want, RestateBound(r))
		})
	}
}

func TestBuild_RequirementNamesClauses(t *testing.T) {
	r := models.Rule{
		ID:       "LIAB-001",
		Category: "liability",
		Intent:   "Contract must cap liability",
		Type:     models.RuleRequirement,
		Params: models.RuleParams{
			"required_clauses": []interface{}{map[string]interface{}{"clause_type": "limitation_of_liability"}},
		},
	}
	q := Build(r)
	assert.Contains(t, q.Text, "limitation of liability clause")
}

func TestMerge_GroupsOverlappingTagsTransitively(t *testing.T) {
	rules := []models.Rule{
		{ID: "A", Intent: "a", RetrievalTags: []string{"payment"}},
		{ID: "B", Intent: "b", RetrievalTags: []string{"termination"}},
		{ID: "C", Intent: "c", RetrievalTags: []string{"payment", "invoice"}},
		{ID: "D", Intent: "d", RetrievalTags: []string{"invoice", "tax"}},
		{ID: "E", Intent: "e"},
	}

	groups := Merge(rules)
	require.Len(t, groups, 3)
	assert.Equal(t, []string{"A", "C", "D"}, groups[0].Query.RuleIDs)
	assert.Equal(t, []string{"payment", "invoice", "tax"}, groups[0].Query.Tags)
	assert.Equal(t, []string{"B"}, groups[1].Query.RuleIDs)
	assert.Equal(t, []string{"E"}, groups[2].Query.RuleIDs)
	assert.Empty(t, groups[2].Query.Tags)
}

func TestMerge_SingleRuleGroupEqualsBuild(t *testing.T) {
	r := paymentRule()
	groups := Merge([]models.Rule{r})
	require.Len(t, groups, 1)
	assert.Equal(t, Build(r), groups[0].Query)
}
