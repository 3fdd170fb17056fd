package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"time"

	"trustlens-backend/models"
	"trustlens-backend/repository"

	"github.com/google/uuid"
)

// ExplainBackend drafts an answer about one review result. Answers may only
// draw on the result's evidence; the service enforces that afterwards.
type ExplainBackend interface {
	Name() string
	Explain(ctx context.Context, in ExplainInput) (ExplainDraft, error)
}

// ExplainInput is everything a backend may use
type ExplainInput struct {
	Rule     models.Rule
	Result   models.ReviewResult
	Question string
	History  []models.ExplainMessage
}

// ExplainDraft is a backend answer before grounding checks
type ExplainDraft struct {
	Answer       string   `json:"answer"`
	Reasoning    string   `json:"reasoning"`
	EvidenceRefs []int    `json:"evidence_refs"`
	Confidence   string   `json:"confidence"`
	Limitations  []string `json:"limitations"`
}

// ExplainService answers follow-up questions about review results
type ExplainService struct {
	reviews  repository.ReviewStore
	sessions repository.SessionStore
	backend  ExplainBackend
	fallback ExplainBackend
	logger   *slog.Logger
	locks    *keyedMutex
}

// ExplainServiceOption is a functional option for ExplainService
type ExplainServiceOption func(*ExplainService)

// ExplainWithStores sets the review and session stores
func ExplainWithStores(reviews repository.ReviewStore, sessions repository.SessionStore) ExplainServiceOption {
	return func(s *ExplainService) { s.reviews, s.sessions = reviews, sessions }
}

// ExplainWithBackend sets the answer backend
func ExplainWithBackend(b ExplainBackend) ExplainServiceOption {
	return func(s *ExplainService) { s.backend = b }
}

// ExplainWithLogger sets the logger
func ExplainWithLogger(l *slog.Logger) ExplainServiceOption {
	return func(s *ExplainService) { s.logger = l }
}

// NewExplainService creates a new explain service. The grounded explainer is
// the default backend and the fallback when another backend fails.
func NewExplainService(opts ...ExplainServiceOption) *ExplainService {
	s := &ExplainService{fallback: NewGroundedExplainer(), locks: newKeyedMutex()}
	for _, opt := range opts {
		opt(s)
	}
	if s.backend == nil {
		s.backend = s.fallback
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// ExplainRequest represents a question about one review result
type ExplainRequest struct {
	ReviewID uuid.UUID
	RuleID   string
	Question string
	// SessionID continues an existing session; uuid.Nil starts a new one
	SessionID uuid.UUID
}

// EvidenceReference points at one evidence item of the result
type EvidenceReference struct {
	Index int `json:"index"`
	models.Evidence
}

// Explanation is a grounded answer
type Explanation struct {
	SessionID          uuid.UUID           `json:"session_id"`
	MessageID          uuid.UUID           `json:"message_id"`
	Answer             string              `json:"answer"`
	Reasoning          string              `json:"reasoning"`
	EvidenceReferences []EvidenceReference `json:"evidence_references"`
	Confidence         string              `json:"confidence"`
	Limitations        []string            `json:"limitations"`
	CreatedAt          time.Time           `json:"created_at"`
}

// Explain answers a question using only the stored evidence of the result
func (s *ExplainService) Explain(ctx context.Context, req ExplainRequest) (*Explanation, error) {
	if s.reviews == nil || s.sessions == nil {
		return nil, errors.New("explain repositories not set")
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		return nil, ErrEmptyQuestion
	}

	run, err := s.reviews.GetRun(ctx, req.ReviewID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, err
	}
	result, err := s.reviews.GetResult(ctx, req.ReviewID, req.RuleID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrResultNotFound
		}
		return nil, err
	}
	rule := models.Rule{ID: result.RuleID, Name: result.RuleName, Version: result.RuleVersion}
	for _, r := range run.Rules {
		if r.ID == result.RuleID {
			rule = r
			break
		}
	}

	session, err := s.session(ctx, req)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(session.ID.String())
	defer unlock()

	history, err := s.sessions.ListMessages(ctx, session.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	userMsg := &models.ExplainMessage{SessionID: session.ID, Role: models.RoleUser, Content: question}
	if err := s.sessions.AppendMessage(ctx, userMsg); err != nil {
		return nil, s.mapSessionErr(err)
	}

	in := ExplainInput{Rule: rule, Result: *result, Question: question, History: history}
	draft, err := s.backend.Explain(ctx, in)
	if err != nil {
		if s.backend == s.fallback {
			return nil, err
		}
		s.logger.Warn("explain backend failed, using grounded answer", "backend", s.backend.Name(), "error", err)
		if draft, err = s.fallback.Explain(ctx, in); err != nil {
			return nil, err
		}
		draft.Limitations = append(draft.Limitations, "The language model was unavailable; this answer was assembled from the stored verdict.")
	}

	exp := ground(draft, *result)
	refs := make([]int, len(exp.EvidenceReferences))
	for i, r := range exp.EvidenceReferences {
		refs[i] = r.Index
	}
	answerMsg := &models.ExplainMessage{SessionID: session.ID, Role: models.RoleAssistant, Content: exp.Answer, EvidenceRefs: refs}
	if err := s.sessions.AppendMessage(ctx, answerMsg); err != nil {
		return nil, s.mapSessionErr(err)
	}
	exp.SessionID = session.ID
	exp.MessageID = answerMsg.ID
	exp.CreatedAt = answerMsg.CreatedAt
	return exp, nil
}

func (s *ExplainService) session(ctx context.Context, req ExplainRequest) (*models.ExplainSession, error) {
	if req.SessionID != uuid.Nil {
		session, err := s.sessions.GetSession(ctx, req.SessionID)
		if err != nil {
			return nil, s.mapSessionErr(err)
		}
		if session.ReviewID != req.ReviewID || session.RuleID != req.RuleID {
			return nil, ErrSessionMismatch
		}
		return session, nil
	}
	session := &models.ExplainSession{ID: uuid.New(), ReviewID: req.ReviewID, RuleID: req.RuleID}
	if err := s.sessions.CreateSession(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	return session, nil
}

// SessionHistory is a session with its messages in order
type SessionHistory struct {
	Session  *models.ExplainSession  `json:"session"`
	Messages []models.ExplainMessage `json:"messages"`
}

// History returns a session's messages in append order
func (s *ExplainService) History(ctx context.Context, sessionID uuid.UUID) (*SessionHistory, error) {
	if s.sessions == nil {
		return nil, errors.New("session repository not set")
	}
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return nil, s.mapSessionErr(err)
	}
	messages, err := s.sessions.ListMessages(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if messages == nil {
		messages = []models.ExplainMessage{}
	}
	return &SessionHistory{Session: session, Messages: messages}, nil
}

// ListSessions returns the sessions of a review, most recently active first
func (s *ExplainService) ListSessions(ctx context.Context, reviewID uuid.UUID) ([]*models.ExplainSession, error) {
	if s.sessions == nil {
		return nil, errors.New("session repository not set")
	}
	return s.sessions.ListSessions(ctx, reviewID)
}

// DeleteSession removes a session and its messages
func (s *ExplainService) DeleteSession(ctx context.Context, sessionID uuid.UUID) error {
	if s.sessions == nil {
		return errors.New("session repository not set")
	}
	unlock := s.locks.Lock(sessionID.String())
	defer unlock()
	return s.mapSessionErr(s.sessions.DeleteSession(ctx, sessionID))
}

func (s *ExplainService) mapSessionErr(err error) error {
	if errors.Is(err, repository.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

var quotedSpan = regexp.MustCompile(`"([^"]+)"|“([^”]+)”|「([^」]+)」`)

const (
	limitDroppedRefs   = "References to evidence that does not exist were removed."
	limitRemovedQuotes = "Quoted text that does not appear in the evidence was removed."
	limitNoEvidence    = "No evidence was recorded for this result; the answer relies on the verdict reason only."
)

// ground keeps only references to existing evidence and strips quotes that
// are not verbatim substrings of it. It never adds citations.
func ground(d ExplainDraft, result models.ReviewResult) *Explanation {
	exp := &Explanation{
		Confidence:         strings.ToLower(strings.TrimSpace(d.Confidence)),
		Limitations:        append([]string{}, d.Limitations...),
		EvidenceReferences: []EvidenceReference{},
	}

	seen := make(map[int]bool)
	dropped := false
	for _, i := range d.EvidenceRefs {
		if i < 0 || i >= len(result.Evidence) {
			dropped = true
			continue
		}
		if seen[i] {
			continue
		}
		seen[i] = true
		exp.EvidenceReferences = append(exp.EvidenceReferences, EvidenceReference{Index: i, Evidence: result.Evidence[i]})
	}
	if dropped {
		exp.Limitations = append(exp.Limitations, limitDroppedRefs)
	}

	var removedA, removedR bool
	exp.Answer, removedA = stripUngrounded(d.Answer, result.Evidence)
	exp.Reasoning, removedR = stripUngrounded(d.Reasoning, result.Evidence)
	if removedA || removedR {
		exp.Limitations = append(exp.Limitations, limitRemovedQuotes)
	}
	if len(result.Evidence) == 0 && !slices.Contains(exp.Limitations, limitNoEvidence) {
		exp.Limitations = append(exp.Limitations, limitNoEvidence)
	}

	switch exp.Confidence {
	case "high", "medium", "low":
	default:
		exp.Confidence = "medium"
	}
	if len(exp.EvidenceReferences) == 0 && exp.Confidence == "high" {
		exp.Confidence = "medium"
	}
	return exp
}

func stripUngrounded(text string, evidence models.EvidenceList) (string, bool) {
	removed := false
	out := quotedSpan.ReplaceAllStringFunc(text, func(span string) string {
		m := quotedSpan.FindStringSubmatch(span)
		inner := m[1] + m[2] + m[3]
		for _, e := range evidence {
			if strings.Contains(e.Quote, inner) {
				return span
			}
		}
		removed = true
		return "[quote removed]"
	})
	return strings.TrimSpace(out), removed
}
