package verifier

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"trustlens-backend/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackend struct {
	draft Draft
	err   error
	calls int
}

func (f *fakeBackend) Name() string { return "fake" }

func (f *fakeBackend) Draft(ctx context.Context, rule models.Rule, candidates []models.Chunk) (Draft, error) {
	f.calls++
	return f.draft, f.err
}

type countingObserver struct {
	stripped int
	verdicts []models.VerdictStatus
}

func (o *countingObserver) CitationStripped(string) { o.stripped++ }

func (o *countingObserver) Verified(status models.VerdictStatus, _ time.Duration) {
	o.verdicts = append(o.verdicts, status)
}

func chunk(id, text string) models.Chunk {
	return models.Chunk{ID: id, Page: 2, Text: text, BBox: models.BBox{X1: 72, Y1: 100, X2: 540, Y2: 140}}
}

var testRule = models.Rule{ID: "R-1", Name: "Test rule", Version: 3, Intent: "test", Type: models.RuleTextContains}

func TestVerifier_Verify_NoCandidatesIsMissingWithoutBackendCall(t *testing.T) {
	backend := &fakeBackend{}
	res := New(backend).Verify(context.Background(), testRule, nil)

	assert.Equal(t, models.VerdictMissing, res.Status)
	assert.Empty(t, res.Evidence)
	assert.Contains(t, res.Reason, "No candidate clauses were retrieved")
	assert.Equal(t, 0, backend.calls)
	assert.Equal(t, "R-1", res.RuleID)
	assert.Equal(t, 3, res.RuleVersion)
}

func TestVerifier_Verify_BackendErrorIsRetryableFailure(t *testing.T) {
	backend := &fakeBackend{err: errors.New("deadline exceeded")}
	res := New(backend).Verify(context.Background(), testRule, []models.Chunk{chunk("c1", "text")})

	assert.Equal(t, models.VerdictFailed, res.Status)
	assert.Empty(t, res.Evidence)
	assert.True(t, res.Retryable)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "deadline exceeded")
	assert.Contains(t, res.Reason, "deadline exceeded")
}

func TestVerifier_Verify_InvalidDraftStatusFails(t *testing.T) {
	backend := &fakeBackend{draft: Draft{Status: "MAYBE", Reason: "unsure"}}
	res := New(backend).Verify(context.Background(), testRule, []models.Chunk{chunk("c1", "text")})

	assert.Equal(t, models.VerdictFailed, res.Status)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, ErrMalformedOutput.Error())
}

func TestVerifier_Verify_KeepsVerbatimCitations(t *testing.T) {
	c1 := chunk("c1", "Payment is due within 60 business days of invoice.")
	backend := &fakeBackend{draft: Draft{
		Status:     models.VerdictRisk,
		Reason:     "too long",
		Confidence: 0.9,
		Suggestion: "shorten it",
		Citations:  []Citation{{ChunkID: "c1", Quote: "due within 60 business days"}},
	}}

	res := New(backend).Verify(context.Background(), testRule, []models.Chunk{c1})
	assert.Equal(t, models.VerdictRisk, res.Status)
	require.Len(t, res.Evidence, 1)
	ev := res.Evidence[0]
	assert.Equal(t, "c1", ev.ChunkID)
	assert.Equal(t, "due within 60 business days", ev.Quote)
	assert.Equal(t, 2, ev.Page)
	assert.Equal(t, c1.BBox, ev.BBox)
	require.NotNil(t, res.Suggestion)
	assert.Equal(t, "shorten it", *res.Suggestion)
}

func TestVerifier_Verify_RepairsCitations(t *testing.T) {
	c1 := chunk("c1", "Invoices are issued monthly.")
	c2 := chunk("c2", "Payment is due within 60\nbusiness days of invoice.")
	backend := &fakeBackend{draft: Draft{
		Status: models.VerdictRisk,
		Reason: "too long",
		Citations: []Citation{
			{ChunkID: "c1", Quote: "Payment is due"},
			{ChunkID: "c2", Quote: "within 60 business days"},
		},
	}}
	obs := &countingObserver{}

	res := New(backend, WithObserver(obs)).Verify(context.Background(), testRule, []models.Chunk{c1, c2})
	require.Equal(t, models.VerdictRisk, res.Status)
	require.Len(t, res.Evidence, 2)
	assert.Equal(t, "c2", res.Evidence[0].ChunkID, "quote re-pointed to the chunk that contains it")
	assert.Equal(t, "within 60\nbusiness days", res.Evidence[1].Quote, "quote replaced by exact source span")
	for _, ev := range res.Evidence {
		assert.Contains(t, c2.Text, ev.Quote)
	}
	assert.Equal(t, 0, obs.stripped)
}

func TestVerifier_Verify_StripsUnverifiableCitations(t *testing.T) {
	c1 := chunk("c1", "Payment is due within 60 business days.")
	backend := &fakeBackend{draft: Draft{
		Status: models.VerdictRisk,
		Reason: "too long",
		Citations: []Citation{
			{ChunkID: "c1", Quote: "Payment is due within 60 business days."},
			{ChunkID: "c1", Quote: "Payment is due within 90 days."},
		},
	}}
	obs := &countingObserver{}

	res := New(backend, WithObserver(obs)).Verify(context.Background(), testRule, []models.Chunk{c1})
	assert.Equal(t, models.VerdictRisk, res.Status)
	require.Len(t, res.Evidence, 1)
	assert.Equal(t, 1, obs.stripped)
	assert.Equal(t, []models.VerdictStatus{models.VerdictRisk}, obs.verdicts)
}

func TestVerifier_Verify_AllCitationsStrippedDowngradesToFailed(t *testing.T) {
	backend := &fakeBackend{draft: Draft{
		Status:    models.VerdictPass,
		Reason:    "fine",
		Citations: []Citation{{ChunkID: "c1", Quote: "a sentence the model invented"}},
	}}

	res := New(backend).Verify(context.Background(), testRule, []models.Chunk{chunk("c1", "Real text.")})
	assert.Equal(t, models.VerdictFailed, res.Status)
	assert.Empty(t, res.Evidence)
	require.NotNil(t, res.Error)
	assert.Contains(t, *res.Error, "not a substring")
}

func TestVerifier_Verify_UnsupportedVerdictBecomesMissing(t *testing.T) {
	backend := &fakeBackend{draft: Draft{Status: models.VerdictPass, Reason: "looks fine", Suggestion: "none"}}

	res := New(backend).Verify(context.Background(), testRule, []models.Chunk{chunk("c1", "Real text.")})
	assert.Equal(t, models.VerdictMissing, res.Status)
	assert.Empty(t, res.Evidence)
	assert.Nil(t, res.Suggestion)
}

func TestVerifier_Verify_MissingDropsCitations(t *testing.T) {
	backend := &fakeBackend{draft: Draft{
		Status:    models.VerdictMissing,
		Reason:    "not found",
		Citations: []Citation{{ChunkID: "c1", Quote: "Real text."}},
	}}

	res := New(backend).Verify(context.Background(), testRule, []models.Chunk{chunk("c1", "Real text.")})
	assert.Equal(t, models.VerdictMissing, res.Status)
	assert.Empty(t, res.Evidence)
}

func TestParseDraft(t *testing.T) {
	rule := models.Rule{ID: "PAY-001"}

	t.Run("fenced json", func(t *testing.T) {
		raw := "```json\n" + `{"rule_id":"PAY-001","status":"risk","reason":"60 days","evidence":[{"chunk_id":"c1","page":1,"text":"60 days"}],"confidence":0.8}` + "\n```"
		d, err := ParseDraft(raw, rule)
		require.NoError(t, err)
		assert.Equal(t, models.VerdictRisk, d.Status)
		assert.Equal(t, 0.8, d.Confidence)
		require.Len(t, d.Citations, 1)
		assert.Equal(t, "60 days", d.Citations[0].Quote)
	})

	tests := map[string]string{
		"not json":         "the contract looks fine",
		"missing status":   `{"rule_id":"PAY-001","reason":"x"}`,
		"missing reason":   `{"rule_id":"PAY-001","status":"PASS"}`,
		"other rule":       `{"rule_id":"LIAB-001","status":"PASS","reason":"x"}`,
		"bad confidence":   `{"rule_id":"PAY-001","status":"PASS","reason":"x","confidence":7}`,
		"failed not valid": `{"rule_id":"PAY-001","status":"FAILED","reason":"x"}`,
	}
	for name, raw := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ParseDraft(raw, rule)
			assert.ErrorIs(t, err, ErrMalformedOutput)
		})
	}
}

func TestBuildPrompt_ListsCandidates(t *testing.T) {
	rule := models.Rule{
		ID: "PAY-001", Intent: "Payment within 30 days", Type: models.RuleNumericConstraint,
		Params: models.RuleParams{"value": 30, "unit": "days"}, PromptTemplateID: models.DefaultPromptTemplate,
	}
	prompt := BuildPrompt(rule, []models.Chunk{chunk("doc_p2_c0", "Payment is due in 45 days.")})

	assert.Contains(t, prompt, "chunk_id: doc_p2_c0")
	assert.Contains(t, prompt, "Payment is due in 45 days.")
	assert.Contains(t, prompt, `- unit: "days"`)
	assert.True(t, strings.Contains(prompt, "compare it with the bound"))
}

func TestCitationIntegrityError_TruncatesByRune(t *testing.T) {
	err := &CitationIntegrityError{ChunkID: "c1", Quote: strings.Repeat("付款期限", 30)}
	msg := err.Error()
	assert.True(t, utf8.ValidString(msg))
	assert.Contains(t, msg, strings.Repeat("付款期限", 15)+"...")
	assert.NotContains(t, msg, strings.Repeat("付款期限", 16))
}
