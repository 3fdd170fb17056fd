package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"trustlens-backend/docstate"
	"trustlens-backend/models"
	"trustlens-backend/repository"
	"trustlens-backend/vectorindex"
	"trustlens-backend/verifier"

	"github.com/google/uuid"
)

const (
	defaultConcurrency = 4
	defaultTopK        = 10
	defaultMaxAttempts = 2
	initialBackoff     = time.Second
)

// ReviewObserver is told about run and result lifecycle events
type ReviewObserver interface {
	RunStarted()
	RunFinished()
	ResultPersisted(status models.VerdictStatus)
}

// ReviewService executes rule sets against documents
type ReviewService struct {
	documents repository.DocumentStore
	chunks    repository.ChunkStore
	reviews   repository.ReviewStore
	rules     *RuleService
	embedder  vectorindex.Embedder
	index     vectorindex.Index
	verifier  *verifier.Verifier
	observer  ReviewObserver
	logger    *slog.Logger

	concurrency    int
	topK           int
	maxAttempts    int
	backoff        time.Duration
	mergeRetrieval bool

	locks  *DocumentLocks
	mu     sync.Mutex
	active map[uuid.UUID]*activeRun
	byDoc  map[uuid.UUID]uuid.UUID
	wg     sync.WaitGroup
}

// activeRun is the in-process handle of an executing run
type activeRun struct {
	run     *models.ReviewRun
	stopped atomic.Bool
	done    chan struct{}
}

// ReviewServiceOption is a functional option for ReviewService
type ReviewServiceOption func(*ReviewService)

// ReviewWithStores sets the document, chunk and review stores
func ReviewWithStores(docs repository.DocumentStore, chunks repository.ChunkStore, reviews repository.ReviewStore) ReviewServiceOption {
	return func(s *ReviewService) {
		s.documents, s.chunks, s.reviews = docs, chunks, reviews
	}
}

// ReviewWithRules sets the rule service used to snapshot rules
func ReviewWithRules(rules *RuleService) ReviewServiceOption {
	return func(s *ReviewService) { s.rules = rules }
}

// ReviewWithVectorIndex sets the embedder and index used for retrieval
func ReviewWithVectorIndex(e vectorindex.Embedder, idx vectorindex.Index) ReviewServiceOption {
	return func(s *ReviewService) { s.embedder, s.index = e, idx }
}

// ReviewWithVerifier sets the verifier
func ReviewWithVerifier(v *verifier.Verifier) ReviewServiceOption {
	return func(s *ReviewService) { s.verifier = v }
}

// ReviewWithConcurrency bounds concurrent rule verifications per run
func ReviewWithConcurrency(n int) ReviewServiceOption {
	return func(s *ReviewService) { s.concurrency = n }
}

// ReviewWithTopK sets how many chunks are retrieved per rule
func ReviewWithTopK(k int) ReviewServiceOption {
	return func(s *ReviewService) { s.topK = k }
}

// ReviewWithRetry sets the attempt limit and first backoff for retryable failures
func ReviewWithRetry(maxAttempts int, backoff time.Duration) ReviewServiceOption {
	return func(s *ReviewService) { s.maxAttempts, s.backoff = maxAttempts, backoff }
}

// ReviewWithMergedRetrieval shares one retrieval pass among rules with overlapping tags
func ReviewWithMergedRetrieval(enabled bool) ReviewServiceOption {
	return func(s *ReviewService) { s.mergeRetrieval = enabled }
}

// ReviewWithObserver reports run and verdict events
func ReviewWithObserver(o ReviewObserver) ReviewServiceOption {
	return func(s *ReviewService) { s.observer = o }
}

// ReviewWithLocks shares the per-document locks with the document service
func ReviewWithLocks(l *DocumentLocks) ReviewServiceOption {
	return func(s *ReviewService) { s.locks = l }
}

// ReviewWithLogger sets the logger
func ReviewWithLogger(l *slog.Logger) ReviewServiceOption {
	return func(s *ReviewService) { s.logger = l }
}

// NewReviewService creates a new review service
func NewReviewService(opts ...ReviewServiceOption) *ReviewService {
	s := &ReviewService{
		concurrency: defaultConcurrency,
		topK:        defaultTopK,
		maxAttempts: defaultMaxAttempts,
		backoff:     initialBackoff,
		locks:       NewDocumentLocks(),
		active:      make(map[uuid.UUID]*activeRun),
		byDoc:       make(map[uuid.UUID]uuid.UUID),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.concurrency < 1 {
		s.concurrency = 1
	}
	if s.topK < 1 {
		s.topK = defaultTopK
	}
	if s.maxAttempts < 1 {
		s.maxAttempts = 1
	}
	return s
}

func (s *ReviewService) ready() error {
	switch {
	case s.documents == nil || s.chunks == nil || s.reviews == nil:
		return errors.New("review repositories not set")
	case s.rules == nil:
		return errors.New("rule service not set")
	case s.embedder == nil || s.index == nil:
		return errors.New("vector index not set")
	case s.verifier == nil:
		return errors.New("verifier not set")
	}
	return nil
}

// StartReviewRequest represents a request to review a document
type StartReviewRequest struct {
	DocumentID uuid.UUID
	// RuleIDs selects rules by id; empty selects every enabled rule
	RuleIDs []string
}

// StartReviewResult represents the result of starting a review
type StartReviewResult struct {
	ReviewID uuid.UUID
	Run      *models.ReviewRun
}

// StartReview snapshots the selected rules, moves the document to REVIEWING
// and executes the run in the background
func (s *ReviewService) StartReview(ctx context.Context, req StartReviewRequest) (*StartReviewResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.start(ctx, req.DocumentID, func() (models.RuleSnapshots, error) {
		return s.rules.Snapshot(ctx, req.RuleIDs)
	})
}

// RetryFailed starts a new run over the FAILED rules of a finished run,
// using the same rule versions
func (s *ReviewService) RetryFailed(ctx context.Context, reviewID uuid.UUID) (*StartReviewResult, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	run, err := s.getRun(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if !run.Status.Terminal() {
		return nil, ErrReviewInProgress
	}
	results, err := s.reviews.ListResults(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	failed := make(map[string]bool)
	for _, r := range results {
		if r.Status == models.VerdictFailed {
			failed[r.RuleID] = true
		}
	}
	if len(failed) == 0 {
		return nil, ErrNoFailedRules
	}
	return s.start(ctx, run.DocumentID, func() (models.RuleSnapshots, error) {
		var snapshot models.RuleSnapshots
		for _, rule := range run.Rules {
			if failed[rule.ID] {
				snapshot = append(snapshot, rule)
			}
		}
		return snapshot, nil
	})
}

func (s *ReviewService) start(ctx context.Context, documentID uuid.UUID, snapshot func() (models.RuleSnapshots, error)) (*StartReviewResult, error) {
	unlock := s.locks.lock(documentID)
	defer unlock()

	doc, err := s.documents.GetByID(ctx, documentID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	s.mu.Lock()
	_, busy := s.byDoc[documentID]
	s.mu.Unlock()
	if busy || doc.Status == models.DocumentReviewing {
		return nil, ErrReviewInProgress
	}
	if !docstate.CanReview(doc.Status) {
		return nil, &docstate.IllegalTransitionError{From: doc.Status, To: models.DocumentReviewing}
	}

	rules, err := snapshot()
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ErrNoRules
	}

	if err := s.documents.UpdateStatus(ctx, documentID, doc.Status, models.DocumentReviewing, nil); err != nil {
		if errors.Is(err, repository.ErrStateConflict) {
			return nil, ErrReviewInProgress
		}
		return nil, fmt.Errorf("failed to mark document as reviewing: %w", err)
	}

	run := &models.ReviewRun{
		ID:         uuid.New(),
		DocumentID: documentID,
		Status:     models.RunPending,
		Rules:      rules,
		TotalRules: len(rules),
	}
	if err := s.reviews.CreateRun(ctx, run); err != nil {
		if revertErr := s.documents.UpdateStatus(ctx, documentID, models.DocumentReviewing, doc.Status, nil); revertErr != nil {
			s.logger.Error("failed to revert document status", "document_id", documentID, "error", revertErr)
		}
		return nil, fmt.Errorf("failed to create review run: %w", err)
	}

	a := &activeRun{run: run, done: make(chan struct{})}
	s.mu.Lock()
	s.active[run.ID] = a
	s.byDoc[documentID] = run.ID
	s.mu.Unlock()

	s.logger.Info("review started", "review_id", run.ID, "document_id", documentID, "rules", len(rules))
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.execute(context.Background(), a)
	}()

	return &StartReviewResult{ReviewID: run.ID, Run: run}, nil
}

// execute dispatches every rule of the run through the worker pool and
// settles run and document status once all dispatched work drained
func (s *ReviewService) execute(ctx context.Context, a *activeRun) {
	run := a.run
	if s.observer != nil {
		s.observer.RunStarted()
	}
	defer func() {
		s.mu.Lock()
		delete(s.active, run.ID)
		if s.byDoc[run.DocumentID] == run.ID {
			delete(s.byDoc, run.DocumentID)
		}
		s.mu.Unlock()
		if s.observer != nil {
			s.observer.RunFinished()
		}
		close(a.done)
	}()

	if _, err := s.documents.GetByID(ctx, run.DocumentID); err != nil {
		s.finish(ctx, run, models.RunFailed, fmt.Errorf("document unavailable: %w", err))
		return
	}
	if err := s.reviews.UpdateRunStatus(ctx, run.ID, models.RunRunning, nil); err != nil {
		s.finish(ctx, run, models.RunFailed, fmt.Errorf("failed to mark run as running: %w", err))
		return
	}

	retrievers := s.retrievers(run)
	var (
		sem       = make(chan struct{}, s.concurrency)
		workers   sync.WaitGroup
		persisted atomic.Int64
		runErr    error
		errOnce   sync.Once
	)
	fail := func(err error) {
		errOnce.Do(func() { runErr = err })
		a.stopped.Store(true)
	}

	for i := range run.Rules {
		if a.stopped.Load() {
			break
		}
		sem <- struct{}{}
		if a.stopped.Load() {
			<-sem
			break
		}
		workers.Add(1)
		go func(rule models.Rule, retrieve retrieveFunc) {
			defer workers.Done()
			defer func() { <-sem }()
			result := s.reviewRule(ctx, a, rule, retrieve)
			if err := s.reviews.SaveResult(ctx, &result); err != nil && !errors.Is(err, repository.ErrAlreadyExists) {
				fail(fmt.Errorf("failed to save result for %s: %w", rule.ID, err))
				return
			}
			persisted.Add(1)
			if s.observer != nil {
				s.observer.ResultPersisted(result.Status)
			}
		}(run.Rules[i], retrievers[i])
	}
	workers.Wait()

	switch {
	case runErr != nil:
		s.finish(ctx, run, models.RunFailed, runErr)
	case int(persisted.Load()) == len(run.Rules):
		s.finish(ctx, run, models.RunCompleted, nil)
	default:
		s.finish(ctx, run, models.RunCancelled, nil)
	}
}

// finish records the terminal run status and releases the document.
// Only a completed run leaves the document REVIEWED.
func (s *ReviewService) finish(ctx context.Context, run *models.ReviewRun, status models.ReviewRunStatus, cause error) {
	var msg *string
	if cause != nil {
		m := cause.Error()
		msg = &m
		s.logger.Error("review failed", "review_id", run.ID, "error", cause)
	}
	if err := s.reviews.UpdateRunStatus(ctx, run.ID, status, msg); err != nil {
		s.logger.Error("failed to record run status", "review_id", run.ID, "status", status, "error", err)
	}

	next := models.DocumentReady
	if status == models.RunCompleted {
		next = models.DocumentReviewed
	}
	if err := s.documents.UpdateStatus(ctx, run.DocumentID, models.DocumentReviewing, next, nil); err != nil {
		s.logger.Error("failed to release document", "document_id", run.DocumentID, "error", err)
	}
	s.logger.Info("review finished", "review_id", run.ID, "status", status)
}

// reviewRule retrieves candidates and verifies one rule, retrying retryable
// failures in place
func (s *ReviewService) reviewRule(ctx context.Context, a *activeRun, rule models.Rule, retrieve retrieveFunc) models.ReviewResult {
	var result models.ReviewResult
	backoff := s.backoff
	for attempt := 1; ; attempt++ {
		candidates, err := retrieve(ctx)
		if err != nil {
			result = retrievalFailed(rule, err)
		} else {
			result = s.verifier.Verify(ctx, rule, candidates)
		}
		result.Attempts = attempt

		if result.Status != models.VerdictFailed || !result.Retryable || attempt >= s.maxAttempts || a.stopped.Load() {
			break
		}
		s.logger.Warn("retrying rule", "review_id", a.run.ID, "rule_id", rule.ID, "attempt", attempt, "error", result.Error)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return result
		}
		backoff *= 2
	}
	result.ReviewID = a.run.ID
	result.RuleID = rule.ID
	result.RuleName = rule.Name
	result.RuleVersion = rule.Version
	return result
}

func retrievalFailed(rule models.Rule, err error) models.ReviewResult {
	msg := err.Error()
	return models.ReviewResult{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		RuleVersion: rule.Version,
		Status:      models.VerdictFailed,
		Reason:      "Candidate retrieval failed: " + msg,
		Evidence:    models.EvidenceList{},
		Error:       &msg,
		Retryable:   true,
		CreatedAt:   time.Now().UTC(),
	}
}

// CancelReview stops dispatching new rules. Verifications already running
// finish and are kept; the document returns to READY once the run drains.
func (s *ReviewService) CancelReview(ctx context.Context, reviewID uuid.UUID) error {
	s.mu.Lock()
	a, ok := s.active[reviewID]
	s.mu.Unlock()
	if ok {
		a.stopped.Store(true)
		s.logger.Info("review cancellation requested", "review_id", reviewID)
		return nil
	}

	run, err := s.getRun(ctx, reviewID)
	if err != nil {
		return err
	}
	if run.Status.Terminal() {
		return ErrReviewFinished
	}
	// Left over from a previous process; nothing is executing it.
	s.finish(ctx, run, models.RunCancelled, nil)
	return nil
}

// Wait blocks until the run finished or ctx is done
func (s *ReviewService) Wait(ctx context.Context, reviewID uuid.UUID) error {
	s.mu.Lock()
	a, ok := s.active[reviewID]
	s.mu.Unlock()
	if !ok {
		return nil
	}
	select {
	case <-a.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops dispatch on every run and waits for them to drain
func (s *ReviewService) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	for _, a := range s.active {
		a.stopped.Store(true)
	}
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReviewStatus reports run progress
type ReviewStatus struct {
	ReviewID       uuid.UUID              `json:"review_id"`
	DocumentID     uuid.UUID              `json:"document_id"`
	Status         models.ReviewRunStatus `json:"status"`
	CompletedRules int                    `json:"completed_rules"`
	TotalRules     int                    `json:"total_rules"`
	Progress       float64                `json:"progress"`
	Summary        models.ReviewSummary   `json:"summary"`
	ErrorMessage   *string                `json:"error_message,omitempty"`
	CreatedAt      time.Time              `json:"created_at"`
	CompletedAt    *time.Time             `json:"completed_at,omitempty"`
}

// GetStatus returns progress derived from the stored results
func (s *ReviewService) GetStatus(ctx context.Context, reviewID uuid.UUID) (*ReviewStatus, error) {
	run, results, err := s.load(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	summary := models.Summarize(run.TotalRules, results)
	return &ReviewStatus{
		ReviewID:       run.ID,
		DocumentID:     run.DocumentID,
		Status:         run.Status,
		CompletedRules: summary.Completed(),
		TotalRules:     run.TotalRules,
		Progress:       summary.Progress(),
		Summary:        summary,
		ErrorMessage:   run.ErrorMessage,
		CreatedAt:      run.CreatedAt,
		CompletedAt:    run.CompletedAt,
	}, nil
}

// ReviewResults is a run with its verdicts
type ReviewResults struct {
	Run     *models.ReviewRun     `json:"run"`
	Results []models.ReviewResult `json:"results"`
	Summary models.ReviewSummary  `json:"summary"`
}

// GetResults returns every stored verdict of a run with its summary
func (s *ReviewService) GetResults(ctx context.Context, reviewID uuid.UUID) (*ReviewResults, error) {
	run, results, err := s.load(ctx, reviewID)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []models.ReviewResult{}
	}
	return &ReviewResults{Run: run, Results: results, Summary: models.Summarize(run.TotalRules, results)}, nil
}

// GetResult returns the verdict of one rule in a run
func (s *ReviewService) GetResult(ctx context.Context, reviewID uuid.UUID, ruleID string) (*models.ReviewResult, error) {
	if s.reviews == nil {
		return nil, errors.New("review repository not set")
	}
	result, err := s.reviews.GetResult(ctx, reviewID, ruleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	return result, nil
}

// ListReviews returns the runs of a document, newest first
func (s *ReviewService) ListReviews(ctx context.Context, documentID uuid.UUID) ([]*models.ReviewRun, error) {
	if s.documents == nil || s.reviews == nil {
		return nil, errors.New("review repositories not set")
	}
	if _, err := s.documents.GetByID(ctx, documentID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrDocumentNotFound
		}
		return nil, err
	}
	return s.reviews.ListRuns(ctx, documentID)
}

func (s *ReviewService) load(ctx context.Context, reviewID uuid.UUID) (*models.ReviewRun, []models.ReviewResult, error) {
	run, err := s.getRun(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}
	results, err := s.reviews.ListResults(ctx, reviewID)
	if err != nil {
		return nil, nil, err
	}
	return run, results, nil
}

func (s *ReviewService) getRun(ctx context.Context, reviewID uuid.UUID) (*models.ReviewRun, error) {
	if s.reviews == nil {
		return nil, errors.New("review repository not set")
	}
	run, err := s.reviews.GetRun(ctx, reviewID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	return run, nil
}
