// Package verifier turns a rule and its retrieved candidate chunks into a
// grounded verdict. Any Backend may draft the verdict; the Verifier checks
// every citation against the candidates before a result leaves the package.
package verifier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"trustlens-backend/models"
)

// Citation is a quote a backend offers as support for its draft
type Citation struct {
	ChunkID    string   `json:"chunk_id"`
	Quote      string   `json:"quote"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// Draft is an unchecked verdict produced by a backend
type Draft struct {
	Status     models.VerdictStatus `json:"status"`
	Reason     string               `json:"reason"`
	Citations  []Citation           `json:"citations"`
	Confidence float64              `json:"confidence"`
	Suggestion string               `json:"suggestion,omitempty"`
}

// Backend drafts a verdict for one rule from the supplied candidates only
type Backend interface {
	Name() string
	Draft(ctx context.Context, rule models.Rule, candidates []models.Chunk) (Draft, error)
}

// Observer receives verification events, typically for metrics
type Observer interface {
	CitationStripped(ruleID string)
	Verified(status models.VerdictStatus, elapsed time.Duration)
}

// Verifier wraps a Backend with the citation substring check
type Verifier struct {
	backend  Backend
	logger   *slog.Logger
	observer Observer
	now      func() time.Time
}

// Option configures a Verifier
type Option func(*Verifier)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) Option {
	return func(v *Verifier) { v.logger = logger }
}

// WithObserver reports stripped citations and verdicts to o
func WithObserver(o Observer) Option {
	return func(v *Verifier) { v.observer = o }
}

// New creates a Verifier around backend
func New(backend Backend, opts ...Option) *Verifier {
	v := &Verifier{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	if v.logger == nil {
		v.logger = slog.Default()
	}
	return v
}

// Backend returns the wrapped backend
func (v *Verifier) Backend() Backend { return v.backend }

// Verify checks rule against candidates. The returned result always satisfies:
// MISSING and FAILED carry no evidence, PASS and RISK carry at least one
// evidence whose quote is a verbatim substring of the cited chunk.
func (v *Verifier) Verify(ctx context.Context, rule models.Rule, candidates []models.Chunk) models.ReviewResult {
	start := v.now()
	result := v.verify(ctx, rule, candidates)
	if v.observer != nil {
		v.observer.Verified(result.Status, v.now().Sub(start))
	}
	return result
}

func (v *Verifier) verify(ctx context.Context, rule models.Rule, candidates []models.Chunk) models.ReviewResult {
	result := models.ReviewResult{
		RuleID:      rule.ID,
		RuleName:    rule.Name,
		RuleVersion: rule.Version,
		Evidence:    models.EvidenceList{},
		Attempts:    1,
		CreatedAt:   v.now().UTC(),
	}

	if len(candidates) == 0 {
		result.Status = models.VerdictMissing
		result.Reason = "No candidate clauses were retrieved for this rule; the document does not appear to address it."
		result.Confidence = 0.9
		return result
	}

	draft, err := v.backend.Draft(ctx, rule, candidates)
	if err == nil {
		err = validateDraft(draft)
	}
	if err != nil {
		var be *BackendError
		if !errors.As(err, &be) {
			err = &BackendError{Backend: v.backend.Name(), Err: err}
		}
		v.logger.Warn("verification backend failed", "rule_id", rule.ID, "error", err)
		return failed(result, err)
	}

	result.Reason = strings.TrimSpace(draft.Reason)
	result.Confidence = clamp(draft.Confidence)
	if s := strings.TrimSpace(draft.Suggestion); s != "" {
		result.Suggestion = &s
	}

	if draft.Status == models.VerdictMissing {
		result.Status = models.VerdictMissing
		return result
	}

	if len(draft.Citations) == 0 {
		result.Status = models.VerdictMissing
		result.Reason = fmt.Sprintf("The %s verdict was not supported by any quoted text, so the requirement is treated as not found. %s",
			draft.Status, result.Reason)
		result.Suggestion = nil
		return result
	}

	evidence, stripped := resolveCitations(rule.ID, draft.Citations, candidates)
	for _, cerr := range stripped {
		v.logger.Warn("citation stripped", "rule_id", rule.ID, "chunk_id", cerr.ChunkID, "error", cerr)
		if v.observer != nil {
			v.observer.CitationStripped(rule.ID)
		}
	}
	if len(evidence) == 0 {
		return failed(result, stripped[0])
	}

	result.Status = draft.Status
	result.Evidence = evidence
	return result
}

func failed(result models.ReviewResult, err error) models.ReviewResult {
	msg := err.Error()
	result.Status = models.VerdictFailed
	result.Reason = "Verification could not be completed: " + msg
	result.Error = &msg
	result.Evidence = models.EvidenceList{}
	result.Confidence = 0
	result.Suggestion = nil
	result.Retryable = true
	return result
}

func validateDraft(d Draft) error {
	switch d.Status {
	case models.VerdictPass, models.VerdictRisk, models.VerdictMissing:
	default:
		return fmt.Errorf("%w: status %q", ErrMalformedOutput, d.Status)
	}
	if strings.TrimSpace(d.Reason) == "" {
		return fmt.Errorf("%w: empty reason", ErrMalformedOutput)
	}
	if d.Confidence < 0 || d.Confidence > 1 {
		return fmt.Errorf("%w: confidence %v outside [0,1]", ErrMalformedOutput, d.Confidence)
	}
	return nil
}

func clamp(f float64) float64 {
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}
