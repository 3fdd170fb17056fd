package repository

import (
	"context"
	"errors"
	"fmt"

	"trustlens-backend/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RuleRepository handles database operations for versioned rules
type RuleRepository struct {
	db *pgxpool.Pool
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

const ruleColumns = `rule_id, version, name, category, intent, type, params, risk_level,
	retrieval_tags, prompt_template_id, description, enabled, created_at, updated_at`

func scanRule(row rowScanner) (*models.Rule, error) {
	rule := &models.Rule{}
	err := row.Scan(
		&rule.ID,
		&rule.Version,
		&rule.Name,
		&rule.Category,
		&rule.Intent,
		&rule.Type,
		&rule.Params,
		&rule.RiskLevel,
		&rule.RetrievalTags,
		&rule.PromptTemplateID,
		&rule.Description,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if rule.RetrievalTags == nil {
		rule.RetrievalTags = []string{}
	}
	return rule, nil
}

func tagsOrEmpty(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}

// Create inserts version 1 of a new rule
func (r *RuleRepository) Create(ctx context.Context, rule *models.Rule) error {
	rule.Version = 1
	query := `
		INSERT INTO rules (
			rule_id, version, name, category, intent, type, params, risk_level,
			retrieval_tags, prompt_template_id, description, enabled
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		rule.ID,
		rule.Version,
		rule.Name,
		rule.Category,
		rule.Intent,
		rule.Type,
		rule.Params,
		rule.RiskLevel,
		tagsOrEmpty(rule.RetrievalTags),
		rule.PromptTemplateID,
		rule.Description,
		rule.Enabled,
	).Scan(&rule.CreatedAt, &rule.UpdatedAt)
	if isUniqueViolation(err) {
		return ErrAlreadyExists
	}
	return err
}

// AddVersion inserts the next version of an existing rule and sets rule.Version
func (r *RuleRepository) AddVersion(ctx context.Context, rule *models.Rule) error {
	query := `
		INSERT INTO rules (
			rule_id, version, name, category, intent, type, params, risk_level,
			retrieval_tags, prompt_template_id, description, enabled
		)
		SELECT $1, MAX(version) + 1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		FROM rules
		WHERE rule_id = $1
		HAVING COUNT(*) > 0
		RETURNING version, created_at, updated_at`

	err := r.db.QueryRow(
		ctx, query,
		rule.ID,
		rule.Name,
		rule.Category,
		rule.Intent,
		rule.Type,
		rule.Params,
		rule.RiskLevel,
		tagsOrEmpty(rule.RetrievalTags),
		rule.PromptTemplateID,
		rule.Description,
		rule.Enabled,
	).Scan(&rule.Version, &rule.CreatedAt, &rule.UpdatedAt)
	switch {
	case errors.Is(err, pgx.ErrNoRows):
		return ErrNotFound
	case isUniqueViolation(err):
		return ErrStateConflict
	}
	return err
}

// Get retrieves the latest version of a rule
func (r *RuleRepository) Get(ctx context.Context, id string) (*models.Rule, error) {
	query := `SELECT ` + ruleColumns + `
		FROM rules
		WHERE rule_id = $1
		ORDER BY version DESC
		LIMIT 1`
	return scanRule(r.db.QueryRow(ctx, query, id))
}

// GetVersion retrieves one version of a rule
func (r *RuleRepository) GetVersion(ctx context.Context, id string, version int) (*models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_id = $1 AND version = $2`
	return scanRule(r.db.QueryRow(ctx, query, id, version))
}

// List retrieves the latest version of every rule ordered by rule id
func (r *RuleRepository) List(ctx context.Context, enabledOnly bool) ([]*models.Rule, error) {
	query := `
		SELECT * FROM (
			SELECT DISTINCT ON (rule_id) ` + ruleColumns + `
			FROM rules
			ORDER BY rule_id, version DESC
		) latest
		WHERE NOT $1 OR enabled
		ORDER BY rule_id`
	return r.queryRules(ctx, query, enabledOnly)
}

// Versions retrieves every version of a rule, oldest first
func (r *RuleRepository) Versions(ctx context.Context, id string) ([]*models.Rule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE rule_id = $1 ORDER BY version`
	rules, err := r.queryRules(ctx, query, id)
	if err != nil {
		return nil, err
	}
	if len(rules) == 0 {
		return nil, ErrNotFound
	}
	return rules, nil
}

func (r *RuleRepository) queryRules(ctx context.Context, query string, args ...interface{}) ([]*models.Rule, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []*models.Rule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

// Delete removes every version of a rule. Run snapshots keep their copies.
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM rules WHERE rule_id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
