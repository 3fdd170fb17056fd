package repository

import (
	"context"
	"errors"
	"fmt"

	"trustlens-backend/models"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ReviewRepository handles database operations for review runs and results
type ReviewRepository struct {
	db *pgxpool.Pool
}

// NewReviewRepository creates a new review repository
func NewReviewRepository(db *pgxpool.Pool) *ReviewRepository {
	return &ReviewRepository{db: db}
}

const runColumns = `id, document_id, status, rules, total_rules, error_message,
	created_at, updated_at, completed_at`

func scanRun(row rowScanner) (*models.ReviewRun, error) {
	run := &models.ReviewRun{}
	err := row.Scan(
		&run.ID,
		&run.DocumentID,
		&run.Status,
		&run.Rules,
		&run.TotalRules,
		&run.ErrorMessage,
		&run.CreatedAt,
		&run.UpdatedAt,
		&run.CompletedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if run.Rules == nil {
		run.Rules = models.RuleSnapshots{}
	}
	return run, nil
}

// CreateRun creates a new review run with its rule snapshot
func (r *ReviewRepository) CreateRun(ctx context.Context, run *models.ReviewRun) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	query := `
		INSERT INTO review_runs (id, document_id, status, rules, total_rules)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at, updated_at`

	return r.db.QueryRow(
		ctx, query,
		run.ID,
		run.DocumentID,
		run.Status,
		run.Rules,
		run.TotalRules,
	).Scan(&run.CreatedAt, &run.UpdatedAt)
}

// GetRun retrieves a review run by ID
func (r *ReviewRepository) GetRun(ctx context.Context, id uuid.UUID) (*models.ReviewRun, error) {
	query := `SELECT ` + runColumns + ` FROM review_runs WHERE id = $1`
	return scanRun(r.db.QueryRow(ctx, query, id))
}

// ListRuns retrieves the runs of a document, newest first
func (r *ReviewRepository) ListRuns(ctx context.Context, documentID uuid.UUID) ([]*models.ReviewRun, error) {
	query := `SELECT ` + runColumns + `
		FROM review_runs
		WHERE document_id = $1
		ORDER BY created_at DESC`

	rows, err := r.db.Query(ctx, query, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*models.ReviewRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// UpdateRunStatus updates the run status; terminal statuses set completed_at
func (r *ReviewRepository) UpdateRunStatus(ctx context.Context, id uuid.UUID, status models.ReviewRunStatus, errMsg *string) error {
	query := `
		UPDATE review_runs
		SET status = $2,
			error_message = COALESCE($3, error_message),
			updated_at = NOW(),
			completed_at = CASE WHEN $4 THEN NOW() ELSE completed_at END
		WHERE id = $1`

	tag, err := r.db.Exec(ctx, query, id, status, errMsg, status.Terminal())
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const resultColumns = `review_id, rule_id, rule_name, rule_version, status, reason, evidence,
	confidence, suggestion, error, attempts, created_at`

func scanResult(row rowScanner) (models.ReviewResult, error) {
	var res models.ReviewResult
	err := row.Scan(
		&res.ReviewID,
		&res.RuleID,
		&res.RuleName,
		&res.RuleVersion,
		&res.Status,
		&res.Reason,
		&res.Evidence,
		&res.Confidence,
		&res.Suggestion,
		&res.Error,
		&res.Attempts,
		&res.CreatedAt,
	)
	if res.Evidence == nil {
		res.Evidence = models.EvidenceList{}
	}
	return res, err
}

// SaveResult stores an immutable result
func (r *ReviewRepository) SaveResult(ctx context.Context, result *models.ReviewResult) error {
	query := `
		INSERT INTO review_results (
			review_id, rule_id, rule_name, rule_version, status, reason, evidence,
			confidence, suggestion, error, attempts
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (review_id, rule_id) DO NOTHING
		RETURNING created_at`

	err := r.db.QueryRow(
		ctx, query,
		result.ReviewID,
		result.RuleID,
		result.RuleName,
		result.RuleVersion,
		result.Status,
		result.Reason,
		result.Evidence,
		result.Confidence,
		result.Suggestion,
		result.Error,
		result.Attempts,
	).Scan(&result.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrAlreadyExists
	}
	return err
}

// GetResult retrieves the result of one rule in a run
func (r *ReviewRepository) GetResult(ctx context.Context, reviewID uuid.UUID, ruleID string) (*models.ReviewResult, error) {
	query := `SELECT ` + resultColumns + ` FROM review_results WHERE review_id = $1 AND rule_id = $2`
	res, err := scanResult(r.db.QueryRow(ctx, query, reviewID, ruleID))
	if err != nil {
		return nil, notFound(err)
	}
	return &res, nil
}

// ListResults retrieves the results of a run in completion order
func (r *ReviewRepository) ListResults(ctx context.Context, reviewID uuid.UUID) ([]models.ReviewResult, error) {
	query := `SELECT ` + resultColumns + `
		FROM review_results
		WHERE review_id = $1
		ORDER BY created_at, rule_id`

	rows, err := r.db.Query(ctx, query, reviewID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results := []models.ReviewResult{}
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review result: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// DeleteByDocument removes the runs of a document; results cascade
func (r *ReviewRepository) DeleteByDocument(ctx context.Context, documentID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `DELETE FROM review_runs WHERE document_id = $1`, documentID)
	return err
}
