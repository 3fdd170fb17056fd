package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"trustlens-backend/models"

	"github.com/google/uuid"
)

// The memory stores back the service for tests and for STORE=memory. They
// follow the same contracts as the Postgres repositories.

// MemoryDocumentStore is an in-memory DocumentStore
type MemoryDocumentStore struct {
	mu    sync.RWMutex
	docs  map[uuid.UUID]models.Document
	order []uuid.UUID
}

// NewMemoryDocumentStore creates an empty document store
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[uuid.UUID]models.Document)}
}

func (s *MemoryDocumentStore) Create(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if doc.ID == uuid.Nil {
		doc.ID = uuid.New()
	}
	if _, ok := s.docs[doc.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	s.docs[doc.ID] = *doc
	s.order = append(s.order, doc.ID)
	return nil
}

func (s *MemoryDocumentStore) GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &doc, nil
}

func (s *MemoryDocumentStore) GetByHash(ctx context.Context, hash string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, id := range s.order {
		if doc := s.docs[id]; doc.ContentHash == hash {
			return &doc, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryDocumentStore) List(ctx context.Context) ([]*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]*models.Document, 0, len(s.order))
	for i := len(s.order) - 1; i >= 0; i-- {
		doc := s.docs[s.order[i]]
		docs = append(docs, &doc)
	}
	return docs, nil
}

func (s *MemoryDocumentStore) UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.DocumentStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Status != from {
		return ErrStateConflict
	}
	doc.Status = to
	doc.ErrorMessage = errMsg
	doc.UpdatedAt = time.Now().UTC()
	s.docs[id] = doc
	return nil
}

func (s *MemoryDocumentStore) UpdateCounts(ctx context.Context, id uuid.UUID, pageCount, chunkCount int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	doc.PageCount, doc.ChunkCount = pageCount, chunkCount
	doc.UpdatedAt = time.Now().UTC()
	s.docs[id] = doc
	return nil
}

func (s *MemoryDocumentStore) Delete(ctx context.Context, id uuid.UUID, status models.DocumentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if doc.Status != status {
		return ErrStateConflict
	}
	delete(s.docs, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

// MemoryChunkStore is an in-memory ChunkStore
type MemoryChunkStore struct {
	mu     sync.RWMutex
	chunks map[string]models.Chunk
}

// NewMemoryChunkStore creates an empty chunk store
func NewMemoryChunkStore() *MemoryChunkStore {
	return &MemoryChunkStore{chunks: make(map[string]models.Chunk)}
}

func (s *MemoryChunkStore) SaveChunks(ctx context.Context, chunks []models.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range chunks {
		if _, ok := s.chunks[c.ID]; ok {
			return ErrAlreadyExists
		}
	}
	for _, c := range chunks {
		c.Tags = append([]string(nil), c.Tags...)
		s.chunks[c.ID] = c
	}
	return nil
}

func (s *MemoryChunkStore) ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Chunk
	for _, c := range s.chunks {
		if c.DocumentID == documentID {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Page != out[j].Page {
			return out[i].Page < out[j].Page
		}
		return out[i].Index < out[j].Index
	})
	return out, nil
}

func (s *MemoryChunkStore) GetByIDs(ctx context.Context, ids []string) ([]models.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Chunk, 0, len(ids))
	for _, id := range ids {
		if c, ok := s.chunks[id]; ok {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *MemoryChunkStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, c := range s.chunks {
		if c.DocumentID == documentID {
			delete(s.chunks, id)
		}
	}
	return nil
}

// MemoryRuleStore is an in-memory RuleStore
type MemoryRuleStore struct {
	mu       sync.RWMutex
	versions map[string][]models.Rule
}

// NewMemoryRuleStore creates an empty rule store
func NewMemoryRuleStore() *MemoryRuleStore {
	return &MemoryRuleStore{versions: make(map[string][]models.Rule)}
}

func cloneRule(r models.Rule) *models.Rule {
	params := make(models.RuleParams, len(r.Params))
	for k, v := range r.Params {
		params[k] = v
	}
	r.Params = params
	r.RetrievalTags = append([]string{}, r.RetrievalTags...)
	return &r
}

func (s *MemoryRuleStore) Create(ctx context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versions[rule.ID]) > 0 {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	rule.Version = 1
	rule.CreatedAt, rule.UpdatedAt = now, now
	s.versions[rule.ID] = []models.Rule{*cloneRule(*rule)}
	return nil
}

func (s *MemoryRuleStore) AddVersion(ctx context.Context, rule *models.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	versions := s.versions[rule.ID]
	if len(versions) == 0 {
		return ErrNotFound
	}
	now := time.Now().UTC()
	rule.Version = versions[len(versions)-1].Version + 1
	rule.CreatedAt, rule.UpdatedAt = now, now
	s.versions[rule.ID] = append(versions, *cloneRule(*rule))
	return nil
}

func (s *MemoryRuleStore) Get(ctx context.Context, id string) (*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versions[id]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	return cloneRule(versions[len(versions)-1]), nil
}

func (s *MemoryRuleStore) GetVersion(ctx context.Context, id string, version int) (*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.versions[id] {
		if r.Version == version {
			return cloneRule(r), nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryRuleStore) List(ctx context.Context, enabledOnly bool) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.Rule
	for _, versions := range s.versions {
		latest := versions[len(versions)-1]
		if enabledOnly && !latest.Enabled {
			continue
		}
		out = append(out, cloneRule(latest))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryRuleStore) Versions(ctx context.Context, id string) ([]*models.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	versions := s.versions[id]
	if len(versions) == 0 {
		return nil, ErrNotFound
	}
	out := make([]*models.Rule, len(versions))
	for i, r := range versions {
		out[i] = cloneRule(r)
	}
	return out, nil
}

func (s *MemoryRuleStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.versions[id]) == 0 {
		return ErrNotFound
	}
	delete(s.versions, id)
	return nil
}

// MemoryReviewStore is an in-memory ReviewStore
type MemoryReviewStore struct {
	mu      sync.RWMutex
	runs    map[uuid.UUID]models.ReviewRun
	order   []uuid.UUID
	results map[uuid.UUID][]models.ReviewResult
}

// NewMemoryReviewStore creates an empty review store
func NewMemoryReviewStore() *MemoryReviewStore {
	return &MemoryReviewStore{
		runs:    make(map[uuid.UUID]models.ReviewRun),
		results: make(map[uuid.UUID][]models.ReviewResult),
	}
}

func (s *MemoryReviewStore) CreateRun(ctx context.Context, run *models.ReviewRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if _, ok := s.runs[run.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	run.CreatedAt, run.UpdatedAt = now, now
	stored := *run
	stored.Rules = append(models.RuleSnapshots{}, run.Rules...)
	s.runs[run.ID] = stored
	s.order = append(s.order, run.ID)
	return nil
}

func (s *MemoryReviewStore) GetRun(ctx context.Context, id uuid.UUID) (*models.ReviewRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &run, nil
}

func (s *MemoryReviewStore) ListRuns(ctx context.Context, documentID uuid.UUID) ([]*models.ReviewRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ReviewRun
	for i := len(s.order) - 1; i >= 0; i-- {
		run := s.runs[s.order[i]]
		if run.DocumentID == documentID {
			out = append(out, &run)
		}
	}
	return out, nil
}

func (s *MemoryReviewStore) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.ReviewRunStatus, errMsg *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	run, ok := s.runs[id]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	run.Status = status
	run.UpdatedAt = now
	if errMsg != nil {
		run.ErrorMessage = errMsg
	}
	if status.Terminal() {
		run.CompletedAt = &now
	}
	s.runs[id] = run
	return nil
}

func (s *MemoryReviewStore) SaveResult(ctx context.Context, result *models.ReviewResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.runs[result.ReviewID]; !ok {
		return ErrNotFound
	}
	for _, r := range s.results[result.ReviewID] {
		if r.RuleID == result.RuleID {
			return ErrAlreadyExists
		}
	}
	if result.CreatedAt.IsZero() {
		result.CreatedAt = time.Now().UTC()
	}
	stored := *result
	stored.Evidence = append(models.EvidenceList{}, result.Evidence...)
	s.results[result.ReviewID] = append(s.results[result.ReviewID], stored)
	return nil
}

func (s *MemoryReviewStore) GetResult(ctx context.Context, reviewID uuid.UUID, ruleID string) (*models.ReviewResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, r := range s.results[reviewID] {
		if r.RuleID == ruleID {
			return &r, nil
		}
	}
	return nil, ErrNotFound
}

func (s *MemoryReviewStore) ListResults(ctx context.Context, reviewID uuid.UUID) ([]models.ReviewResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.ReviewResult{}, s.results[reviewID]...), nil
}

func (s *MemoryReviewStore) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	kept := s.order[:0]
	for _, id := range s.order {
		if s.runs[id].DocumentID == documentID {
			delete(s.runs, id)
			delete(s.results, id)
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	return nil
}

// MemorySessionStore is an in-memory SessionStore
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[uuid.UUID]models.ExplainSession
	messages map[uuid.UUID][]models.ExplainMessage
}

// NewMemorySessionStore creates an empty session store
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[uuid.UUID]models.ExplainSession),
		messages: make(map[uuid.UUID][]models.ExplainMessage),
	}
}

func (s *MemorySessionStore) CreateSession(ctx context.Context, session *models.ExplainSession) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	if _, ok := s.sessions[session.ID]; ok {
		return ErrAlreadyExists
	}
	now := time.Now().UTC()
	session.CreatedAt, session.UpdatedAt = now, now
	s.sessions[session.ID] = *session
	return nil
}

func (s *MemorySessionStore) GetSession(ctx context.Context, id uuid.UUID) (*models.ExplainSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

func (s *MemorySessionStore) ListSessions(ctx context.Context, reviewID uuid.UUID) ([]*models.ExplainSession, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*models.ExplainSession
	for _, session := range s.sessions {
		if session.ReviewID == reviewID {
			session := session
			out = append(out, &session)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].UpdatedAt.Equal(out[j].UpdatedAt) {
			return out[i].UpdatedAt.After(out[j].UpdatedAt)
		}
		return out[i].ID.String() < out[j].ID.String()
	})
	return out, nil
}

func (s *MemorySessionStore) DeleteSession(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return ErrNotFound
	}
	delete(s.sessions, id)
	delete(s.messages, id)
	return nil
}

func (s *MemorySessionStore) AppendMessage(ctx context.Context, msg *models.ExplainMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	session, ok := s.sessions[msg.SessionID]
	if !ok {
		return ErrNotFound
	}
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	now := time.Now().UTC()
	msg.CreatedAt = now
	session.UpdatedAt = now
	s.sessions[msg.SessionID] = session

	stored := *msg
	stored.EvidenceRefs = append([]int(nil), msg.EvidenceRefs...)
	s.messages[msg.SessionID] = append(s.messages[msg.SessionID], stored)
	return nil
}

func (s *MemorySessionStore) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.ExplainMessage, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	return append([]models.ExplainMessage{}, s.messages[sessionID]...), nil
}

var (
	_ DocumentStore = (*MemoryDocumentStore)(nil)
	_ ChunkStore    = (*MemoryChunkStore)(nil)
	_ RuleStore     = (*MemoryRuleStore)(nil)
	_ ReviewStore   = (*MemoryReviewStore)(nil)
	_ SessionStore  = (*MemorySessionStore)(nil)

	_ DocumentStore = (*DocumentRepository)(nil)
	_ ChunkStore    = (*ChunkRepository)(nil)
	_ RuleStore     = (*RuleRepository)(nil)
	_ ReviewStore   = (*ReviewRepository)(nil)
	_ SessionStore  = (*SessionRepository)(nil)
)
