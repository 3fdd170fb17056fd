package service

import (
	"context"
	"strings"
	"testing"

	"trustlens-backend/models"
	"trustlens-backend/repository"
	"trustlens-backend/rulebook"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRuleService() *RuleService {
	return NewRuleService(RuleWithStore(repository.NewMemoryRuleStore()))
}

func TestRuleService_CreateAndVersion(t *testing.T) {
	s := newRuleService()
	ctx := context.Background()

	created, err := s.CreateRule(ctx, paymentRule())
	require.NoError(t, err)
	assert.Equal(t, 1, created.Version)
	assert.Equal(t, models.RiskMedium, created.RiskLevel)

	_, err = s.CreateRule(ctx, paymentRule())
	assert.ErrorIs(t, err, ErrRuleExists)

	edited := paymentRule()
	edited.Params["value"] = 45
	updated, err := s.UpdateRule(ctx, "PAY-001", edited)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.Version)

	v1, err := s.GetRuleVersion(ctx, "PAY-001", 1)
	require.NoError(t, err)
	p, err := v1.NumericParams()
	require.NoError(t, err)
	assert.Equal(t, 30.0, p.Value, "earlier versions are immutable")

	versions, err := s.RuleVersions(ctx, "PAY-001")
	require.NoError(t, err)
	assert.Len(t, versions, 2)

	disabled, err := s.SetEnabled(ctx, "PAY-001", false)
	require.NoError(t, err)
	assert.Equal(t, 3, disabled.Version)
	assert.False(t, disabled.Enabled)

	enabled, err := s.ListRules(ctx, true)
	require.NoError(t, err)
	assert.Empty(t, enabled)

	require.NoError(t, s.DeleteRule(ctx, "PAY-001"))
	_, err = s.GetRule(ctx, "PAY-001")
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleService_RejectsInvalidRule(t *testing.T) {
	s := newRuleService()
	rule := paymentRule()
	rule.Params["operator"] = "approximately"

	_, err := s.CreateRule(context.Background(), rule)
	assert.ErrorIs(t, err, ErrInvalidRule)

	_, err = s.UpdateRule(context.Background(), "UNKNOWN", paymentRule())
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleService_Snapshot(t *testing.T) {
	s := newRuleService()
	ctx := context.Background()
	for _, r := range []models.Rule{paymentRule(), lawRule(), renewalRule()} {
		_, err := s.CreateRule(ctx, r)
		require.NoError(t, err)
	}
	_, err := s.SetEnabled(ctx, "REN-001", false)
	require.NoError(t, err)

	all, err := s.Snapshot(ctx, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"PAY-001", "LAW-001"}, all.RuleIDs())

	picked, err := s.Snapshot(ctx, []string{"REN-001", "REN-001"})
	require.NoError(t, err)
	assert.Equal(t, []string{"REN-001"}, picked.RuleIDs(), "explicit selection may name a disabled rule")

	_, err = s.Snapshot(ctx, []string{"NOPE"})
	assert.ErrorIs(t, err, ErrRuleNotFound)
}

func TestRuleService_SeedIsIdempotent(t *testing.T) {
	s := newRuleService()
	ctx := context.Background()
	catalog := rulebook.Default()

	first, err := s.Seed(ctx, catalog)
	require.NoError(t, err)
	assert.Len(t, first.Created, len(catalog))

	second, err := s.Seed(ctx, rulebook.Default())
	require.NoError(t, err)
	assert.Empty(t, second.Created)
	assert.Empty(t, second.Updated)
	assert.Len(t, second.Unchanged, len(catalog))

	changed := rulebook.Default()
	changed[0].Intent = changed[0].Intent + " (revised)"
	third, err := s.Seed(ctx, changed)
	require.NoError(t, err)
	assert.Equal(t, []string{changed[0].ID}, third.Updated)

	rule, err := s.GetRule(ctx, changed[0].ID)
	require.NoError(t, err)
	assert.Equal(t, 2, rule.Version)
}

func TestRuleService_ImportRules(t *testing.T) {
	s := newRuleService()
	catalog := `
rules:
  - rule_id: pay_30
    name: Payment within 30 days
    category: payment
    intent: Payment cycle must not exceed 30 days
    type: numeric_constraint
    params: {field: payment_cycle, operator: max, value: 30, unit: days}
    retrieval_tags: [payment]
`
	res, err := s.ImportRules(context.Background(), strings.NewReader(catalog))
	require.NoError(t, err)
	assert.Equal(t, []string{"pay_30"}, res.Created)

	rule, err := s.GetRule(context.Background(), "pay_30")
	require.NoError(t, err)
	assert.Equal(t, "<=", rule.Params["operator"])

	_, err = s.ImportRules(context.Background(), strings.NewReader("rules:\n  - rule_id: x\n    bogus: 1\n"))
	assert.ErrorIs(t, err, ErrInvalidRule)
}

func TestRuleService_ParseRule(t *testing.T) {
	s := newRuleService()
	rule, err := s.ParseRule(context.Background(), "Payment cycle must not exceed 30 days")
	require.NoError(t, err)
	assert.Equal(t, models.RuleNumericConstraint, rule.Type)
	assert.NoError(t, rule.Validate())

	_, err = s.ParseRule(context.Background(), "  ")
	assert.ErrorIs(t, err, ErrInvalidRule)
}
