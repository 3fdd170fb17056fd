package repository

import (
	"context"
	"fmt"

	"trustlens-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// SessionRepository handles database operations for explain sessions
type SessionRepository struct {
	db *pgxpool.Pool
}

// NewSessionRepository creates a new session repository
func NewSessionRepository(db *pgxpool.Pool) *SessionRepository {
	return &SessionRepository{db: db}
}

// CreateSession creates a new explain session
func (r *SessionRepository) CreateSession(ctx context.Context, session *models.ExplainSession) error {
	if session.ID == uuid.Nil {
		session.ID = uuid.New()
	}
	query := `
		INSERT INTO explain_sessions (id, review_id, rule_id)
		VALUES ($1, $2, $3)
		RETURNING created_at, updated_at`

	return r.db.QueryRow(ctx, query, session.ID, session.ReviewID, session.RuleID).
		Scan(&session.CreatedAt, &session.UpdatedAt)
}

// GetSession retrieves a session by ID
func (r *SessionRepository) GetSession(ctx context.Context, id uuid.UUID) (*models.ExplainSession, error) {
	s := &models.ExplainSession{}
	query := `
		SELECT id, review_id, rule_id, created_at, updated_at
		FROM explain_sessions
		WHERE id = $1`

	err := r.db.QueryRow(ctx, query, id).Scan(&s.ID, &s.ReviewID, &s.RuleID, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return s, nil
}

// ListSessions retrieves the sessions of a review run, most recently active first
func (r *SessionRepository) ListSessions(ctx context.Context, reviewID uuid.UUID) ([]*models.ExplainSession, error) {
	query := `
		SELECT id, review_id, rule_id, created_at, updated_at
		FROM explain_sessions
		WHERE review_id = $1
		ORDER BY updated_at DESC`

	rows, err := r.db.Query(ctx, query, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []*models.ExplainSession
	for rows.Next() {
		s := &models.ExplainSession{}
		if err := rows.Scan(&s.ID, &s.ReviewID, &s.RuleID, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	return sessions, rows.Err()
}

// DeleteSession deletes a session; its messages cascade
func (r *SessionRepository) DeleteSession(ctx context.Context, id uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM explain_sessions WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendMessage appends a message and touches the session
func (r *SessionRepository) AppendMessage(ctx context.Context, msg *models.ExplainMessage) error {
	if msg.ID == uuid.Nil {
		msg.ID = uuid.New()
	}
	refs := msg.EvidenceRefs
	if refs == nil {
		refs = []int{}
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `UPDATE explain_sessions SET updated_at = NOW() WHERE id = $1`, msg.SessionID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}

	query := `
		INSERT INTO explain_messages (id, session_id, role, content, evidence_refs)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`
	if err := tx.QueryRow(ctx, query, msg.ID, msg.SessionID, msg.Role, msg.Content, refs).Scan(&msg.CreatedAt); err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}
	return tx.Commit(ctx)
}

// ListMessages retrieves the messages of a session in order
func (r *SessionRepository) ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.ExplainMessage, error) {
	query := `
		SELECT id, session_id, role, content, evidence_refs, created_at
		FROM explain_messages
		WHERE session_id = $1
		ORDER BY seq`

	rows, err := r.db.Query(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	messages := []models.ExplainMessage{}
	for rows.Next() {
		var m models.ExplainMessage
		if err := rows.Scan(&m.ID, &m.SessionID, &m.Role, &m.Content, &m.EvidenceRefs, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan message: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}
