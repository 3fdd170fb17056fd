package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"

	"trustlens-backend/models"
	"trustlens-backend/repository"
	"trustlens-backend/rulebook"
)

// RuleService manages the versioned rule catalog
type RuleService struct {
	rules  repository.RuleStore
	logger *slog.Logger
}

// RuleServiceOption is a functional option for RuleService
type RuleServiceOption func(*RuleService)

// RuleWithStore sets the rule repository
func RuleWithStore(store repository.RuleStore) RuleServiceOption {
	return func(s *RuleService) { s.rules = store }
}

// RuleWithLogger sets the logger
func RuleWithLogger(l *slog.Logger) RuleServiceOption {
	return func(s *RuleService) { s.logger = l }
}

// NewRuleService creates a new rule service
func NewRuleService(opts ...RuleServiceOption) *RuleService {
	s := &RuleService{}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// CreateRule validates and stores version 1 of a new rule
func (s *RuleService) CreateRule(ctx context.Context, rule models.Rule) (*models.Rule, error) {
	if s.rules == nil {
		return nil, errors.New("rule repository not set")
	}
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, &rule); err != nil {
		if errors.Is(err, repository.ErrAlreadyExists) {
			return nil, fmt.Errorf("%w: %s", ErrRuleExists, rule.ID)
		}
		return nil, err
	}
	return &rule, nil
}

// UpdateRule stores the rule as the next version of id
func (s *RuleService) UpdateRule(ctx context.Context, id string, rule models.Rule) (*models.Rule, error) {
	if s.rules == nil {
		return nil, errors.New("rule repository not set")
	}
	rule.ID = id
	rule.Normalize()
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.rules.AddVersion(ctx, &rule); err != nil {
		return nil, mapRuleErr(err, id)
	}
	return &rule, nil
}

// SetEnabled adds a version with the enabled flag changed
func (s *RuleService) SetEnabled(ctx context.Context, id string, enabled bool) (*models.Rule, error) {
	current, err := s.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Enabled == enabled {
		return current, nil
	}
	current.Enabled = enabled
	return s.UpdateRule(ctx, id, *current)
}

// GetRule returns the latest version of a rule
func (s *RuleService) GetRule(ctx context.Context, id string) (*models.Rule, error) {
	if s.rules == nil {
		return nil, errors.New("rule repository not set")
	}
	rule, err := s.rules.Get(ctx, id)
	if err != nil {
		return nil, mapRuleErr(err, id)
	}
	return rule, nil
}

// GetRuleVersion returns one stored version of a rule
func (s *RuleService) GetRuleVersion(ctx context.Context, id string, version int) (*models.Rule, error) {
	if s.rules == nil {
		return nil, errors.New("rule repository not set")
	}
	rule, err := s.rules.GetVersion(ctx, id, version)
	if err != nil {
		return nil, mapRuleErr(err, id)
	}
	return rule, nil
}

// RuleVersions lists every version of a rule, oldest first
func (s *RuleService) RuleVersions(ctx context.Context, id string) ([]*models.Rule, error) {
	if s.rules == nil {
		return nil, errors.New("rule repository not set")
	}
	versions, err := s.rules.Versions(ctx, id)
	if err != nil {
		return nil, mapRuleErr(err, id)
	}
	if len(versions) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return versions, nil
}

// ListRules returns the latest version of every rule
func (s *RuleService) ListRules(ctx context.Context, enabledOnly bool) ([]*models.Rule, error) {
	if s.rules == nil {
		return nil, errors.New("rule repository not set")
	}
	return s.rules.List(ctx, enabledOnly)
}

// DeleteRule removes a rule with all its versions. Runs keep their snapshots.
func (s *RuleService) DeleteRule(ctx context.Context, id string) error {
	if s.rules == nil {
		return errors.New("rule repository not set")
	}
	return mapRuleErr(s.rules.Delete(ctx, id), id)
}

// ParseRule derives a rule from natural language without storing it
func (s *RuleService) ParseRule(ctx context.Context, text string) (*models.Rule, error) {
	rule, err := rulebook.Parse(text)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return &rule, nil
}

// ImportResult lists what an import did per rule id
type ImportResult struct {
	Created   []string `json:"created"`
	Updated   []string `json:"updated"`
	Unchanged []string `json:"unchanged"`
}

// ImportRules loads a YAML catalog and upserts it
func (s *RuleService) ImportRules(ctx context.Context, r io.Reader) (*ImportResult, error) {
	rules, err := rulebook.Load(r)
	if err != nil {
		return nil, err
	}
	return s.Seed(ctx, rules)
}

// Seed creates missing rules and adds a version for changed ones
func (s *RuleService) Seed(ctx context.Context, rules []models.Rule) (*ImportResult, error) {
	if s.rules == nil {
		return nil, errors.New("rule repository not set")
	}
	res := &ImportResult{}
	for _, rule := range rules {
		current, err := s.rules.Get(ctx, rule.ID)
		switch {
		case errors.Is(err, repository.ErrNotFound):
			if _, err := s.CreateRule(ctx, rule); err != nil {
				return res, err
			}
			res.Created = append(res.Created, rule.ID)
		case err != nil:
			return res, err
		case sameRule(*current, rule):
			res.Unchanged = append(res.Unchanged, rule.ID)
		default:
			if _, err := s.UpdateRule(ctx, rule.ID, rule); err != nil {
				return res, err
			}
			res.Updated = append(res.Updated, rule.ID)
		}
	}
	s.logger.Info("rules imported", "created", len(res.Created), "updated", len(res.Updated), "unchanged", len(res.Unchanged))
	return res, nil
}

// Snapshot resolves the rules of a review. No ids selects every enabled rule.
func (s *RuleService) Snapshot(ctx context.Context, ids []string) (models.RuleSnapshots, error) {
	if s.rules == nil {
		return nil, errors.New("rule repository not set")
	}
	var snapshot models.RuleSnapshots
	if len(ids) == 0 {
		rules, err := s.rules.List(ctx, true)
		if err != nil {
			return nil, err
		}
		for _, r := range rules {
			snapshot = append(snapshot, *r)
		}
	} else {
		seen := make(map[string]bool, len(ids))
		for _, id := range ids {
			if seen[id] {
				continue
			}
			seen[id] = true
			rule, err := s.GetRule(ctx, id)
			if err != nil {
				return nil, err
			}
			snapshot = append(snapshot, *rule)
		}
	}
	if len(snapshot) == 0 {
		return nil, ErrNoRules
	}
	return snapshot, nil
}

func mapRuleErr(err error, id string) error {
	if errors.Is(err, repository.ErrNotFound) {
		return fmt.Errorf("%w: %s", ErrRuleNotFound, id)
	}
	return err
}

func sameRule(a, b models.Rule) bool {
	b.Normalize()
	if a.Name != b.Name || a.Category != b.Category || a.Intent != b.Intent || a.Type != b.Type ||
		a.RiskLevel != b.RiskLevel || a.PromptTemplateID != b.PromptTemplateID ||
		a.Description != b.Description || a.Enabled != b.Enabled ||
		!slices.Equal(a.RetrievalTags, b.RetrievalTags) {
		return false
	}
	pa, errA := json.Marshal(a.Params)
	pb, errB := json.Marshal(b.Params)
	return errA == nil && errB == nil && string(pa) == string(pb)
}
