package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"trustlens-backend/models"
	"trustlens-backend/repository"
	"trustlens-backend/storage"
	"trustlens-backend/vectorindex"
	"trustlens-backend/verifier"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const contractText = `MASTER SERVICES AGREEMENT

Payment. The Customer shall pay each invoice by bank transfer. Payment is due within 60 business days of invoice receipt.

Term. Upon expiry this agreement renews automatically for successive one year terms.

Governing Law. This Agreement is governed by the laws of Delaware.
`

type harness struct {
	docs     *repository.MemoryDocumentStore
	chunks   *repository.MemoryChunkStore
	reviews  *repository.MemoryReviewStore
	sessions *repository.MemorySessionStore
	index    *vectorindex.MemoryIndex

	documents *DocumentService
	rules     *RuleService
	review    *ReviewService
	explain   *ExplainService
}

type harnessConfig struct {
	backend     verifier.Backend
	concurrency int
	maxAttempts int
	merge       bool
	explainer   ExplainBackend
	// wrapDocs decorates the document store seen by the document service
	wrapDocs func(repository.DocumentStore) repository.DocumentStore
	// separateLocks gives each service its own per-document locks
	separateLocks bool
}

func newHarness(t *testing.T, cfg harnessConfig) *harness {
	t.Helper()
	if cfg.backend == nil {
		cfg.backend = verifier.NewRuleEngine()
	}
	if cfg.concurrency == 0 {
		cfg.concurrency = 4
	}
	if cfg.maxAttempts == 0 {
		cfg.maxAttempts = 2
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)

	h := &harness{
		docs:     repository.NewMemoryDocumentStore(),
		chunks:   repository.NewMemoryChunkStore(),
		reviews:  repository.NewMemoryReviewStore(),
		sessions: repository.NewMemorySessionStore(),
		index:    vectorindex.NewMemoryIndex(vectorindex.DefaultDimensions),
	}
	embedder := vectorindex.NewHashEmbedder(0)

	var docStore repository.DocumentStore = h.docs
	if cfg.wrapDocs != nil {
		docStore = cfg.wrapDocs(docStore)
	}
	docLocks, reviewLocks := NewDocumentLocks(), NewDocumentLocks()
	if !cfg.separateLocks {
		reviewLocks = docLocks
	}

	h.documents = NewDocumentService(
		DocumentWithStores(docStore, h.chunks, h.reviews),
		DocumentWithLocks(docLocks),
		DocumentWithStorage(st),
		DocumentWithVectorIndex(embedder, h.index),
		DocumentWithMaxUploadBytes(1<<20),
		DocumentWithLogger(logger),
	)
	h.rules = NewRuleService(RuleWithStore(repository.NewMemoryRuleStore()), RuleWithLogger(logger))
	h.review = NewReviewService(
		ReviewWithStores(h.docs, h.chunks, h.reviews),
		ReviewWithRules(h.rules),
		ReviewWithVectorIndex(embedder, h.index),
		ReviewWithVerifier(verifier.New(cfg.backend, verifier.WithLogger(logger))),
		ReviewWithConcurrency(cfg.concurrency),
		ReviewWithRetry(cfg.maxAttempts, time.Millisecond),
		ReviewWithMergedRetrieval(cfg.merge),
		ReviewWithLocks(reviewLocks),
		ReviewWithLogger(logger),
	)
	explainOpts := []ExplainServiceOption{ExplainWithStores(h.reviews, h.sessions), ExplainWithLogger(logger)}
	if cfg.explainer != nil {
		explainOpts = append(explainOpts, ExplainWithBackend(cfg.explainer))
	}
	h.explain = NewExplainService(explainOpts...)
	return h
}

// ingest uploads text and waits for the document to become READY
func (h *harness) ingest(t *testing.T, filename, text string) *models.Document {
	t.Helper()
	ctx := context.Background()
	res, err := h.documents.Upload(ctx, UploadRequest{Filename: filename, Content: []byte(text)})
	require.NoError(t, err)
	h.documents.Wait()
	doc, err := h.documents.Get(ctx, res.Document.ID)
	require.NoError(t, err)
	require.Equal(t, models.DocumentReady, doc.Status, "ingestion error: %v", doc.ErrorMessage)
	return doc
}

// runReview starts a review and waits for it to finish
func (h *harness) runReview(t *testing.T, docID uuid.UUID, ruleIDs ...string) *ReviewResults {
	t.Helper()
	ctx := context.Background()
	started, err := h.review.StartReview(ctx, StartReviewRequest{DocumentID: docID, RuleIDs: ruleIDs})
	require.NoError(t, err)
	waitCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	require.NoError(t, h.review.Wait(waitCtx, started.ReviewID))
	results, err := h.review.GetResults(ctx, started.ReviewID)
	require.NoError(t, err)
	return results
}

func (h *harness) seedRules(t *testing.T, rules ...models.Rule) {
	t.Helper()
	for _, r := range rules {
		_, err := h.rules.CreateRule(context.Background(), r)
		require.NoError(t, err)
	}
}

func paymentRule() models.Rule {
	return models.Rule{
		ID:            "PAY-001",
		Name:          "Payment cycle",
		Category:      "payment",
		Intent:        "Payment cycle must not exceed 30 days",
		Type:          models.RuleNumericConstraint,
		Params:        models.RuleParams{"field": "payment_cycle", "operator": "<=", "value": 30, "unit": "days"},
		RetrievalTags: []string{"payment"},
		Enabled:       true,
	}
}

func confidentialityRule() models.Rule {
	return models.Rule{
		ID:            "CONF-001",
		Name:          "Confidentiality clause",
		Category:      "confidentiality",
		Intent:        "The contract must contain a confidentiality clause",
		Type:          models.RuleRequirement,
		Params:        models.RuleParams{"required_clauses": []interface{}{map[string]interface{}{"clause_type": "confidentiality"}}},
		RetrievalTags: []string{"confidentiality"},
		Enabled:       true,
	}
}

func renewalRule() models.Rule {
	return models.Rule{
		ID:            "REN-001",
		Name:          "No automatic renewal",
		Category:      "renewal",
		Intent:        "no automatic renewal",
		Type:          models.RuleProhibition,
		RetrievalTags: []string{"renewal"},
		Enabled:       true,
	}
}

func lawRule() models.Rule {
	return models.Rule{
		ID:            "LAW-001",
		Name:          "Governing law",
		Category:      "governing_law",
		Intent:        "governing law must be stated",
		Type:          models.RuleTextContains,
		Params:        models.RuleParams{"keywords": []interface{}{"governed by"}},
		RetrievalTags: []string{"governing_law"},
		Enabled:       true,
	}
}

// gateBackend blocks every draft until release is closed
type gateBackend struct {
	inner   verifier.Backend
	started chan string
	release chan struct{}
}

func newGateBackend() *gateBackend {
	return &gateBackend{inner: verifier.NewRuleEngine(), started: make(chan string, 16), release: make(chan struct{})}
}

func (g *gateBackend) Name() string { return "gate" }

func (g *gateBackend) Draft(ctx context.Context, rule models.Rule, candidates []models.Chunk) (verifier.Draft, error) {
	g.started <- rule.ID
	<-g.release
	return g.inner.Draft(ctx, rule, candidates)
}

// pausingDocStore blocks the first GetByID after arm until release is closed
type pausingDocStore struct {
	repository.DocumentStore
	armed   atomic.Bool
	reached chan struct{}
	release chan struct{}
}

func newPausingDocStore() *pausingDocStore {
	return &pausingDocStore{reached: make(chan struct{}), release: make(chan struct{})}
}

func (p *pausingDocStore) wrap(inner repository.DocumentStore) repository.DocumentStore {
	p.DocumentStore = inner
	return p
}

func (p *pausingDocStore) arm() { p.armed.Store(true) }

func (p *pausingDocStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	doc, err := p.DocumentStore.GetByID(ctx, id)
	if p.armed.CompareAndSwap(true, false) {
		close(p.reached)
		<-p.release
	}
	return doc, err
}

// flakyBackend fails the first failures drafts of each listed rule
type flakyBackend struct {
	inner    verifier.Backend
	failures map[string]int
	mu       sync.Mutex
	calls    map[string]int
}

func (f *flakyBackend) Name() string { return "flaky" }

func (f *flakyBackend) Draft(ctx context.Context, rule models.Rule, candidates []models.Chunk) (verifier.Draft, error) {
	f.mu.Lock()
	f.calls[rule.ID]++
	n := f.calls[rule.ID]
	f.mu.Unlock()
	if n <= f.failures[rule.ID] {
		return verifier.Draft{}, errors.New("backend timeout")
	}
	return f.inner.Draft(ctx, rule, candidates)
}

func resultFor(t *testing.T, results []models.ReviewResult, ruleID string) models.ReviewResult {
	t.Helper()
	for _, r := range results {
		if r.RuleID == ruleID {
			return r
		}
	}
	t.Fatalf("no result for %s", ruleID)
	return models.ReviewResult{}
}
