package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"trustlens-backend/docstate"
	"trustlens-backend/models"
	"trustlens-backend/verifier"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReviewService_EndToEnd(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.seedRules(t, paymentRule(), confidentialityRule(), renewalRule(), lawRule())
	ctx := context.Background()
	doc := h.ingest(t, "msa.txt", contractText)

	results := h.runReview(t, doc.ID)
	assert.Equal(t, models.RunCompleted, results.Run.Status)
	require.Len(t, results.Results, 4)

	payment := resultFor(t, results.Results, "PAY-001")
	assert.Equal(t, models.VerdictRisk, payment.Status)
	require.NotEmpty(t, payment.Evidence)
	assert.Contains(t, payment.Evidence[0].Quote, "60 business days")
	assert.Equal(t, 1, payment.Evidence[0].Page)
	assert.NotNil(t, payment.Suggestion)

	conf := resultFor(t, results.Results, "CONF-001")
	assert.Equal(t, models.VerdictMissing, conf.Status)
	assert.Empty(t, conf.Evidence)

	renewal := resultFor(t, results.Results, "REN-001")
	assert.Equal(t, models.VerdictRisk, renewal.Status)
	require.NotEmpty(t, renewal.Evidence)
	assert.Contains(t, renewal.Evidence[0].Quote, "renews automatically")

	law := resultFor(t, results.Results, "LAW-001")
	assert.Equal(t, models.VerdictPass, law.Status)

	chunks, err := h.documents.Chunks(ctx, doc.ID)
	require.NoError(t, err)
	byID := make(map[string]models.Chunk)
	for _, c := range chunks {
		byID[c.ID] = c
	}
	for _, r := range results.Results {
		assert.Equal(t, results.Run.ID, r.ReviewID)
		assert.Equal(t, 1, r.RuleVersion)
		for _, e := range r.Evidence {
			chunk, ok := byID[e.ChunkID]
			require.True(t, ok, "evidence cites an unknown chunk")
			assert.Contains(t, chunk.Text, e.Quote)
		}
	}

	assert.Equal(t, models.ReviewSummary{Total: 4, Pass: 1, Risk: 2, Missing: 1}, results.Summary)

	status, err := h.review.GetStatus(ctx, results.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, status.CompletedRules)
	assert.InDelta(t, 1.0, status.Progress, 1e-9)
	assert.NotNil(t, status.CompletedAt)

	doc, err = h.documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentReviewed, doc.Status)
}

func TestReviewService_SelectedRulesOnly(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.seedRules(t, paymentRule(), lawRule())
	doc := h.ingest(t, "msa.txt", contractText)

	results := h.runReview(t, doc.ID, "LAW-001")
	require.Len(t, results.Results, 1)
	assert.Equal(t, "LAW-001", results.Results[0].RuleID)
	assert.Equal(t, 1, results.Run.TotalRules)
}

func TestReviewService_IsRepeatable(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.seedRules(t, paymentRule(), confidentialityRule(), renewalRule(), lawRule())
	doc := h.ingest(t, "msa.txt", contractText)

	first := h.runReview(t, doc.ID)
	second := h.runReview(t, doc.ID)
	assert.NotEqual(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, first.Summary, second.Summary)
	for _, r := range first.Results {
		again := resultFor(t, second.Results, r.RuleID)
		assert.Equal(t, r.Status, again.Status)
		assert.Equal(t, r.Evidence, again.Evidence)
	}

	runs, err := h.review.ListReviews(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Len(t, runs, 2)
}

func TestReviewService_MergedRetrievalGivesSameVerdicts(t *testing.T) {
	plain := newHarness(t, harnessConfig{})
	merged := newHarness(t, harnessConfig{merge: true})
	rules := []models.Rule{paymentRule(), confidentialityRule(), renewalRule(), lawRule()}
	plain.seedRules(t, rules...)
	merged.seedRules(t, rules...)

	a := plain.runReview(t, plain.ingest(t, "msa.txt", contractText).ID)
	b := merged.runReview(t, merged.ingest(t, "msa.txt", contractText).ID)
	assert.Equal(t, a.Summary, b.Summary)
	for _, r := range a.Results {
		assert.Equal(t, r.Status, resultFor(t, b.Results, r.RuleID).Status, r.RuleID)
	}
}

func TestReviewService_OneRunPerDocument(t *testing.T) {
	gate := newGateBackend()
	h := newHarness(t, harnessConfig{backend: gate})
	h.seedRules(t, paymentRule())
	ctx := context.Background()
	doc := h.ingest(t, "msa.txt", contractText)

	started, err := h.review.StartReview(ctx, StartReviewRequest{DocumentID: doc.ID})
	require.NoError(t, err)
	<-gate.started

	current, err := h.documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentReviewing, current.Status)

	_, err = h.review.StartReview(ctx, StartReviewRequest{DocumentID: doc.ID})
	assert.ErrorIs(t, err, ErrReviewInProgress)
	assert.ErrorIs(t, h.documents.Delete(ctx, doc.ID), ErrDocumentBusy)

	close(gate.release)
	require.NoError(t, h.review.Wait(ctx, started.ReviewID))

	status, err := h.review.GetStatus(ctx, started.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCompleted, status.Status)
}

func TestReviewService_Cancel(t *testing.T) {
	gate := newGateBackend()
	h := newHarness(t, harnessConfig{backend: gate, concurrency: 1})
	h.seedRules(t, paymentRule(), renewalRule(), lawRule())
	ctx := context.Background()
	doc := h.ingest(t, "msa.txt", contractText)

	started, err := h.review.StartReview(ctx, StartReviewRequest{DocumentID: doc.ID})
	require.NoError(t, err)
	<-gate.started

	require.NoError(t, h.review.CancelReview(ctx, started.ReviewID))
	close(gate.release)
	require.NoError(t, h.review.Wait(ctx, started.ReviewID))

	results, err := h.review.GetResults(ctx, started.ReviewID)
	require.NoError(t, err)
	assert.Equal(t, models.RunCancelled, results.Run.Status)
	require.Len(t, results.Results, 1, "the in-flight verdict is kept")
	assert.Equal(t, 3, results.Summary.Total)

	doc, err = h.documents.Get(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentReady, doc.Status)

	assert.ErrorIs(t, h.review.CancelReview(ctx, started.ReviewID), ErrReviewFinished)
	assert.ErrorIs(t, h.review.CancelReview(ctx, uuid.New()), ErrReviewNotFound)
}

func TestReviewService_RetriesTransientFailureInPlace(t *testing.T) {
	backend := &flakyBackend{inner: verifier.NewRuleEngine(), failures: map[string]int{"PAY-001": 1}, calls: map[string]int{}}
	h := newHarness(t, harnessConfig{backend: backend})
	h.seedRules(t, paymentRule())
	doc := h.ingest(t, "msa.txt", contractText)

	results := h.runReview(t, doc.ID)
	require.Len(t, results.Results, 1)
	assert.Equal(t, models.VerdictRisk, results.Results[0].Status)
	assert.Equal(t, 2, results.Results[0].Attempts)
}

func TestReviewService_FailedRuleAndRetryFailed(t *testing.T) {
	backend := &flakyBackend{inner: verifier.NewRuleEngine(), failures: map[string]int{"PAY-001": 2}, calls: map[string]int{}}
	h := newHarness(t, harnessConfig{backend: backend})
	h.seedRules(t, paymentRule(), lawRule())
	ctx := context.Background()
	doc := h.ingest(t, "msa.txt", contractText)

	first := h.runReview(t, doc.ID)
	assert.Equal(t, models.RunCompleted, first.Run.Status, "a FAILED verdict still completes the run")
	failed := resultFor(t, first.Results, "PAY-001")
	assert.Equal(t, models.VerdictFailed, failed.Status)
	assert.Equal(t, 2, failed.Attempts)
	assert.Empty(t, failed.Evidence)
	require.NotNil(t, failed.Error)
	assert.Equal(t, 1, first.Summary.Failed)

	retry, err := h.review.RetryFailed(ctx, first.Run.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, retry.Run.TotalRules)
	require.NoError(t, h.review.Wait(ctx, retry.ReviewID))

	second, err := h.review.GetResults(ctx, retry.ReviewID)
	require.NoError(t, err)
	require.Len(t, second.Results, 1)
	assert.Equal(t, models.VerdictRisk, second.Results[0].Status)

	_, err = h.review.RetryFailed(ctx, retry.ReviewID)
	assert.ErrorIs(t, err, ErrNoFailedRules)
}

func TestReviewService_RejectsDocumentNotReady(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	h.seedRules(t, paymentRule())
	ctx := context.Background()

	for _, status := range []models.DocumentStatus{models.DocumentUploaded, models.DocumentProcessing, models.DocumentError} {
		t.Run(string(status), func(t *testing.T) {
			doc := &models.Document{
				ID:          uuid.New(),
				Filename:    "pending.txt",
				FileType:    models.FileTypeTXT,
				ContentHash: "h-" + string(status),
				Status:      status,
			}
			require.NoError(t, h.docs.Create(ctx, doc))

			_, err := h.review.StartReview(ctx, StartReviewRequest{DocumentID: doc.ID})
			var illegal *docstate.IllegalTransitionError
			require.True(t, errors.As(err, &illegal))
			assert.Equal(t, status, illegal.From)
			assert.Equal(t, models.DocumentReviewing, illegal.To)

			current, err := h.docs.GetByID(ctx, doc.ID)
			require.NoError(t, err)
			assert.Equal(t, status, current.Status, "a rejected review leaves the state unchanged")

			runs, err := h.review.ListReviews(ctx, doc.ID)
			require.NoError(t, err)
			assert.Empty(t, runs)
		})
	}

	_, err := h.review.StartReview(ctx, StartReviewRequest{DocumentID: uuid.New()})
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

func TestReviewService_StartWaitsForDelete(t *testing.T) {
	pause := newPausingDocStore()
	h := newHarness(t, harnessConfig{wrapDocs: pause.wrap})
	h.seedRules(t, paymentRule())
	ctx := context.Background()
	doc := h.ingest(t, "msa.txt", contractText)

	pause.arm()
	deleted := make(chan error, 1)
	go func() { deleted <- h.documents.Delete(ctx, doc.ID) }()
	<-pause.reached

	started := make(chan error, 1)
	go func() {
		_, err := h.review.StartReview(ctx, StartReviewRequest{DocumentID: doc.ID})
		started <- err
	}()
	select {
	case err := <-started:
		t.Fatalf("review started while the document was being deleted: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	close(pause.release)
	require.NoError(t, <-deleted)
	assert.ErrorIs(t, <-started, ErrDocumentNotFound)

	runs, err := h.reviews.ListRuns(ctx, doc.ID)
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestDocumentService_Delete_RefusesDocumentThatStartedReviewing(t *testing.T) {
	pause := newPausingDocStore()
	gate := newGateBackend()
	h := newHarness(t, harnessConfig{backend: gate, wrapDocs: pause.wrap, separateLocks: true})
	h.seedRules(t, paymentRule())
	ctx := context.Background()
	doc := h.ingest(t, "msa.txt", contractText)

	pause.arm()
	deleted := make(chan error, 1)
	go func() { deleted <- h.documents.Delete(ctx, doc.ID) }()
	<-pause.reached

	started, err := h.review.StartReview(ctx, StartReviewRequest{DocumentID: doc.ID})
	require.NoError(t, err)
	<-gate.started

	close(pause.release)
	assert.ErrorIs(t, <-deleted, ErrDocumentBusy)

	close(gate.release)
	require.NoError(t, h.review.Wait(ctx, started.ReviewID))
	current, err := h.docs.GetByID(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentReviewed, current.Status)

	results, err := h.review.GetResults(ctx, started.ReviewID)
	require.NoError(t, err)
	assert.Len(t, results.Results, 1)
}

func TestReviewService_NoRules(t *testing.T) {
	h := newHarness(t, harnessConfig{})
	doc := h.ingest(t, "msa.txt", contractText)

	_, err := h.review.StartReview(context.Background(), StartReviewRequest{DocumentID: doc.ID})
	assert.ErrorIs(t, err, ErrNoRules)

	current, err := h.documents.Get(context.Background(), doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DocumentReady, current.Status)
}

func TestReviewService_RuleEditDoesNotAffectStartedRun(t *testing.T) {
	gate := newGateBackend()
	h := newHarness(t, harnessConfig{backend: gate})
	h.seedRules(t, paymentRule())
	ctx := context.Background()
	doc := h.ingest(t, "msa.txt", contractText)

	started, err := h.review.StartReview(ctx, StartReviewRequest{DocumentID: doc.ID})
	require.NoError(t, err)
	<-gate.started

	edited := paymentRule()
	edited.Params["value"] = 90
	_, err = h.rules.UpdateRule(ctx, "PAY-001", edited)
	require.NoError(t, err)

	close(gate.release)
	require.NoError(t, h.review.Wait(ctx, started.ReviewID))
	res, err := h.review.GetResult(ctx, started.ReviewID, "PAY-001")
	require.NoError(t, err)
	assert.Equal(t, 1, res.RuleVersion)
	assert.Equal(t, models.VerdictRisk, res.Status)

	_, err = h.review.GetResult(ctx, started.ReviewID, "NOPE")
	assert.ErrorIs(t, err, ErrResultNotFound)
}

func TestReviewService_Shutdown(t *testing.T) {
	gate := newGateBackend()
	h := newHarness(t, harnessConfig{backend: gate, concurrency: 1})
	h.seedRules(t, paymentRule(), lawRule())
	ctx := context.Background()
	doc := h.ingest(t, "msa.txt", contractText)

	started, err := h.review.StartReview(ctx, StartReviewRequest{DocumentID: doc.ID})
	require.NoError(t, err)
	<-gate.started
	close(gate.release)

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, h.review.Shutdown(shutdownCtx))

	status, err := h.review.GetStatus(ctx, started.ReviewID)
	require.NoError(t, err)
	assert.True(t, status.Status.Terminal())
}
