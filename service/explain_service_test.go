package service

import (
	"context"
	"errors"
	"testing"

	"trustlens-backend/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubExplainer returns a fixed draft or error
type stubExplainer struct {
	draft ExplainDraft
	err   error
	calls []ExplainInput
}

func (s *stubExplainer) Name() string { return "stub" }

func (s *stubExplainer) Explain(ctx context.Context, in ExplainInput) (ExplainDraft, error) {
	s.calls = append(s.calls, in)
	return s.draft, s.err
}

func reviewedHarness(t *testing.T, explainer ExplainBackend) (*harness, uuid.UUID) {
	t.Helper()
	h := newHarness(t, harnessConfig{explainer: explainer})
	h.seedRules(t, paymentRule(), confidentialityRule(), lawRule())
	doc := h.ingest(t, "msa.txt", contractText)
	results := h.runReview(t, doc.ID)
	require.Equal(t, models.RunCompleted, results.Run.Status)
	return h, results.Run.ID
}

func TestExplainService_GroundedWhy(t *testing.T) {
	h, reviewID := reviewedHarness(t, nil)

	exp, err := h.explain.Explain(context.Background(), ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "Why is this a risk?"})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, exp.SessionID)
	assert.Contains(t, exp.Answer, "RISK")
	assert.Contains(t, exp.Answer, "60 business days")
	assert.NotContains(t, exp.Answer, "[quote removed]")
	require.NotEmpty(t, exp.EvidenceReferences)
	assert.Equal(t, 0, exp.EvidenceReferences[0].Index)
	assert.Contains(t, exp.EvidenceReferences[0].Quote, "60 business days")
	assert.Equal(t, "high", exp.Confidence)
	assert.Empty(t, exp.Limitations)
}

func TestExplainService_GroundedWhereAndEvidence(t *testing.T) {
	h, reviewID := reviewedHarness(t, nil)
	ctx := context.Background()

	where, err := h.explain.Explain(ctx, ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "Where is this in the contract?"})
	require.NoError(t, err)
	assert.Contains(t, where.Answer, "page 1")

	quote, err := h.explain.Explain(ctx, ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "Show me the exact text", SessionID: where.SessionID})
	require.NoError(t, err)
	assert.Contains(t, quote.Answer, "Payment is due within 60 business days")
	assert.NotContains(t, quote.Answer, "[quote removed]")
	assert.Equal(t, where.SessionID, quote.SessionID)
}

func TestExplainService_MissingResultHasNoEvidence(t *testing.T) {
	h, reviewID := reviewedHarness(t, nil)

	exp, err := h.explain.Explain(context.Background(), ExplainRequest{ReviewID: reviewID, RuleID: "CONF-001", Question: "How do I fix this?"})
	require.NoError(t, err)
	assert.Empty(t, exp.EvidenceReferences)
	assert.Contains(t, exp.Limitations, limitNoEvidence)
	assert.NotEqual(t, "high", exp.Confidence)
	assert.NotEmpty(t, exp.Answer)
}

func TestExplainService_SessionHistoryIsAppendOnly(t *testing.T) {
	stub := &stubExplainer{draft: ExplainDraft{Answer: "It exceeds the limit.", EvidenceRefs: []int{0}, Confidence: "medium"}}
	h, reviewID := reviewedHarness(t, stub)
	ctx := context.Background()

	first, err := h.explain.Explain(ctx, ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "Why?"})
	require.NoError(t, err)
	_, err = h.explain.Explain(ctx, ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "And then?", SessionID: first.SessionID})
	require.NoError(t, err)

	require.Len(t, stub.calls, 2)
	assert.Empty(t, stub.calls[0].History)
	assert.Len(t, stub.calls[1].History, 2, "the backend sees earlier turns")
	assert.Equal(t, "PAY-001", stub.calls[1].Rule.ID)
	assert.Equal(t, "payment", stub.calls[1].Rule.Category, "the rule comes from the run snapshot")

	hist, err := h.explain.History(ctx, first.SessionID)
	require.NoError(t, err)
	require.Len(t, hist.Messages, 4)
	roles := []models.MessageRole{models.RoleUser, models.RoleAssistant, models.RoleUser, models.RoleAssistant}
	for i, m := range hist.Messages {
		assert.Equal(t, roles[i], m.Role)
	}
	assert.Equal(t, "Why?", hist.Messages[0].Content)
	assert.Equal(t, []int{0}, hist.Messages[1].EvidenceRefs)

	sessions, err := h.explain.ListSessions(ctx, reviewID)
	require.NoError(t, err)
	assert.Len(t, sessions, 1)

	require.NoError(t, h.explain.DeleteSession(ctx, first.SessionID))
	_, err = h.explain.History(ctx, first.SessionID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestExplainService_GroundsBackendAnswer(t *testing.T) {
	stub := &stubExplainer{draft: ExplainDraft{
		Answer:       `The clause says "Payment is due within 60 business days" while the policy allows "net 10 days".`,
		Reasoning:    "Compared with the bound.",
		EvidenceRefs: []int{0, 5, 0, -1},
		Confidence:   "HIGH",
	}}
	h, reviewID := reviewedHarness(t, stub)

	exp, err := h.explain.Explain(context.Background(), ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "Why?"})
	require.NoError(t, err)
	require.Len(t, exp.EvidenceReferences, 1)
	assert.Equal(t, 0, exp.EvidenceReferences[0].Index)
	assert.Contains(t, exp.Answer, `"Payment is due within 60 business days"`)
	assert.Contains(t, exp.Answer, "[quote removed]")
	assert.NotContains(t, exp.Answer, "net 10 days")
	assert.Contains(t, exp.Limitations, limitDroppedRefs)
	assert.Contains(t, exp.Limitations, limitRemovedQuotes)
	assert.Equal(t, "high", exp.Confidence)
}

func TestExplainService_FallsBackWhenBackendFails(t *testing.T) {
	stub := &stubExplainer{err: errors.New("quota exceeded")}
	h, reviewID := reviewedHarness(t, stub)

	exp, err := h.explain.Explain(context.Background(), ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "Why?"})
	require.NoError(t, err)
	assert.Contains(t, exp.Answer, "RISK")
	require.NotEmpty(t, exp.Limitations)
	assert.Contains(t, exp.Limitations[len(exp.Limitations)-1], "unavailable")
}

func TestExplainService_Errors(t *testing.T) {
	h, reviewID := reviewedHarness(t, nil)
	ctx := context.Background()

	_, err := h.explain.Explain(ctx, ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "   "})
	assert.ErrorIs(t, err, ErrEmptyQuestion)
	_, err = h.explain.Explain(ctx, ExplainRequest{ReviewID: uuid.New(), RuleID: "PAY-001", Question: "Why?"})
	assert.ErrorIs(t, err, ErrReviewNotFound)
	_, err = h.explain.Explain(ctx, ExplainRequest{ReviewID: reviewID, RuleID: "NOPE", Question: "Why?"})
	assert.ErrorIs(t, err, ErrResultNotFound)
	_, err = h.explain.Explain(ctx, ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "Why?", SessionID: uuid.New()})
	assert.ErrorIs(t, err, ErrSessionNotFound)

	exp, err := h.explain.Explain(ctx, ExplainRequest{ReviewID: reviewID, RuleID: "PAY-001", Question: "Why?"})
	require.NoError(t, err)
	_, err = h.explain.Explain(ctx, ExplainRequest{ReviewID: reviewID, RuleID: "LAW-001", Question: "Why?", SessionID: exp.SessionID})
	assert.ErrorIs(t, err, ErrSessionMismatch)
}

func TestGround_NeverAddsCitations(t *testing.T) {
	result := models.ReviewResult{Status: models.VerdictMissing, Evidence: models.EvidenceList{}}
	exp := ground(ExplainDraft{Answer: `It says 「付款期限为60天」.`, EvidenceRefs: []int{0}, Confidence: "high"}, result)

	assert.Empty(t, exp.EvidenceReferences)
	assert.Equal(t, "It says [quote removed].", exp.Answer)
	assert.Equal(t, "medium", exp.Confidence)
	assert.Equal(t, []string{limitDroppedRefs, limitRemovedQuotes, limitNoEvidence}, exp.Limitations)
}

func TestClassifyQuestion(t *testing.T) {
	tests := []struct {
		question string
		want     questionKind
	}{
		{"Why is this a risk?", askWhy},
		{"Where is the payment clause?", askWhere},
		{"How should we change it?", askFix},
		{"Show me the quote", askEvidence},
		{"Can you show the text?", askEvidence},
		{"Is the government a party?", askGeneral},
		{"这个条款在哪里？", askWhere},
		{"为什么有风险", askWhy},
		{"Summarize the result", askGeneral},
	}
	for _, tt := range tests {
		t.Run(tt.question, func(t *testing.T) {
			assert.Equal(t, tt.want, classifyQuestion(tt.question))
		})
	}
}

func TestParseExplainDraft(t *testing.T) {
	d, err := parseExplainDraft("```json\n{\"answer\": \"Because.\", \"evidence_refs\": [0], \"confidence\": \"low\"}\n```")
	require.NoError(t, err)
	assert.Equal(t, "Because.", d.Answer)
	assert.Equal(t, []int{0}, d.EvidenceRefs)

	_, err = parseExplainDraft(`{"answer": ""}`)
	assert.Error(t, err)
	_, err = parseExplainDraft("not json")
	assert.Error(t, err)
}
