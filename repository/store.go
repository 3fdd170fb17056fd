package repository

import (
	"context"
	"errors"

	"trustlens-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a record does not exist
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyExists is returned when inserting over an existing key
	ErrAlreadyExists = errors.New("record already exists")
	// ErrStateConflict is returned when a compare-and-set status update finds a different status
	ErrStateConflict = errors.New("status changed concurrently")
)

// DocumentStore persists documents
type DocumentStore interface {
	Create(ctx context.Context, doc *models.Document) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Document, error)
	GetByHash(ctx context.Context, hash string) (*models.Document, error)
	List(ctx context.Context) ([]*models.Document, error)
	// UpdateStatus moves the document from one status to another only if it
	// is still in from.
	UpdateStatus(ctx context.Context, id uuid.UUID, from, to models.DocumentStatus, errMsg *string) error
	UpdateCounts(ctx context.Context, id uuid.UUID, pageCount, chunkCount int) error
	// Delete removes the document only if it is still in status; otherwise it
	// returns ErrStateConflict.
	Delete(ctx context.Context, id uuid.UUID, status models.DocumentStatus) error
}

// ChunkStore persists the immutable chunk set of each document
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []models.Chunk) error
	ListByDocument(ctx context.Context, documentID uuid.UUID) ([]models.Chunk, error)
	// GetByIDs returns the chunks in the order of ids, skipping unknown ids
	GetByIDs(ctx context.Context, ids []string) ([]models.Chunk, error)
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}

// RuleStore persists versioned rules. Every edit adds a version; older
// versions stay readable for run snapshots.
type RuleStore interface {
	Create(ctx context.Context, rule *models.Rule) error
	AddVersion(ctx context.Context, rule *models.Rule) error
	Get(ctx context.Context, id string) (*models.Rule, error)
	GetVersion(ctx context.Context, id string, version int) (*models.Rule, error)
	List(ctx context.Context, enabledOnly bool) ([]*models.Rule, error)
	Versions(ctx context.Context, id string) ([]*models.Rule, error)
	Delete(ctx context.Context, id string) error
}

// ReviewStore persists review runs and their immutable results
type ReviewStore interface {
	CreateRun(ctx context.Context, run *models.ReviewRun) error
	GetRun(ctx context.Context, id uuid.UUID) (*models.ReviewRun, error)
	ListRuns(ctx context.Context, documentID uuid.UUID) ([]*models.ReviewRun, error)
	UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.ReviewRunStatus, errMsg *string) error
	// SaveResult stores a result once; a second save for the same
	// (review_id, rule_id) returns ErrAlreadyExists.
	SaveResult(ctx context.Context, result *models.ReviewResult) error
	GetResult(ctx context.Context, reviewID uuid.UUID, ruleID string) (*models.ReviewResult, error)
	ListResults(ctx context.Context, reviewID uuid.UUID) ([]models.ReviewResult, error)
	DeleteByDocument(ctx context.Context, documentID uuid.UUID) error
}

// SessionStore persists explain sessions as append-only message logs
type SessionStore interface {
	CreateSession(ctx context.Context, session *models.ExplainSession) error
	GetSession(ctx context.Context, id uuid.UUID) (*models.ExplainSession, error)
	ListSessions(ctx context.Context, reviewID uuid.UUID) ([]*models.ExplainSession, error)
	DeleteSession(ctx context.Context, id uuid.UUID) error
	AppendMessage(ctx context.Context, msg *models.ExplainMessage) error
	ListMessages(ctx context.Context, sessionID uuid.UUID) ([]models.ExplainMessage, error)
}

// notFound maps pgx.ErrNoRows onto ErrNotFound
func notFound(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
