package models

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// RuleType selects how a rule is verified
type RuleType string

const (
	RuleNumericConstraint RuleType = "numeric_constraint"
	RuleTextContains      RuleType = "text_contains"
	RuleProhibition       RuleType = "prohibition"
	RuleRequirement       RuleType = "requirement"
)

// RiskLevel grades the impact of a violated rule
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// DefaultPromptTemplate is used when a rule does not name a verification template
const DefaultPromptTemplate = "default_v1"

// ErrInvalidRule is returned when a rule or its params fail validation
var ErrInvalidRule = errors.New("invalid rule")

// RuleParams holds type-specific rule parameters
type RuleParams map[string]interface{}

// Value implements driver.Valuer for JSONB
func (p RuleParams) Value() (driver.Value, error) {
	if p == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(p)
}

// Scan implements sql.Scanner for JSONB
func (p *RuleParams) Scan(value interface{}) error {
	var bytes []byte
	switch v := value.(type) {
	case nil:
		*p = make(RuleParams)
		return nil
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		return fmt.Errorf("unsupported params type %T", value)
	}
	if len(bytes) == 0 {
		*p = make(RuleParams)
		return nil
	}
	return json.Unmarshal(bytes, p)
}

// Rule represents one versioned compliance check
type Rule struct {
	ID               string     `json:"rule_id"`
	Version          int        `json:"version"`
	Name             string     `json:"name"`
	Category         string     `json:"category"`
	Intent           string     `json:"intent"`
	Type             RuleType   `json:"type"`
	Params           RuleParams `json:"params"`
	RiskLevel        RiskLevel  `json:"risk_level"`
	RetrievalTags    []string   `json:"retrieval_tags"`
	PromptTemplateID string     `json:"prompt_template_id"`
	Description      string     `json:"description,omitempty"`
	Enabled          bool       `json:"enabled"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// NumericParams are the params of a numeric_constraint rule
type NumericParams struct {
	Field    string  `json:"field"`
	Operator string  `json:"operator"`
	Value    float64 `json:"value"`
	Unit     string  `json:"unit,omitempty"`
}

// TextContainsParams are the params of a text_contains rule
type TextContainsParams struct {
	Keywords      []string `json:"keywords"`
	MatchMode     string   `json:"match_mode,omitempty"`
	CaseSensitive bool     `json:"case_sensitive,omitempty"`
}

// ProhibitionParams are the params of a prohibition rule
type ProhibitionParams struct {
	ProhibitedPatterns []string `json:"prohibited_patterns,omitempty"`
	Scope              string   `json:"scope,omitempty"`
}

// RequiredClause names one clause a requirement rule expects
type RequiredClause struct {
	ClauseType       string `json:"clause_type"`
	MinContentLength int    `json:"min_content_length,omitempty"`
}

// RequirementParams are the params of a requirement rule
type RequirementParams struct {
	RequiredClauses []RequiredClause `json:"required_clauses,omitempty"`
	Keywords        []string         `json:"keywords,omitempty"`
}

// NumericParams decodes the params of a numeric_constraint rule
func (r *Rule) NumericParams() (NumericParams, error) {
	var p NumericParams
	raw := make(RuleParams, len(r.Params))
	for k, v := range r.Params {
		raw[k] = v
	}
	// YAML and form input may carry the bound as a string
	if s, ok := raw["value"].(string); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return p, fmt.Errorf("%w: value %q is not numeric", ErrInvalidRule, s)
		}
		raw["value"] = f
	}
	if _, ok := raw["value"]; !ok {
		return p, fmt.Errorf("%w: numeric_constraint requires a value", ErrInvalidRule)
	}
	if err := decodeParams(raw, &p); err != nil {
		return p, err
	}
	p.Operator = NormalizeOperator(p.Operator)
	return p, nil
}

// TextContainsParams decodes the params of a text_contains rule
func (r *Rule) TextContainsParams() (TextContainsParams, error) {
	var p TextContainsParams
	if err := decodeParams(r.Params, &p); err != nil {
		return p, err
	}
	if p.MatchMode == "" {
		p.MatchMode = "any"
	}
	return p, nil
}

// ProhibitionParams decodes the params of a prohibition rule
func (r *Rule) ProhibitionParams() (ProhibitionParams, error) {
	var p ProhibitionParams
	err := decodeParams(r.Params, &p)
	return p, err
}

// RequirementParams decodes the params of a requirement rule
func (r *Rule) RequirementParams() (RequirementParams, error) {
	var p RequirementParams
	err := decodeParams(r.Params, &p)
	return p, err
}

func decodeParams(params RuleParams, out interface{}) error {
	if len(params) == 0 {
		return nil
	}
	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("%w: params: %v", ErrInvalidRule, err)
	}
	return nil
}

// NormalizeOperator maps operator aliases onto <, <=, >, >= and ==
func NormalizeOperator(op string) string {
	switch strings.ToLower(strings.TrimSpace(op)) {
	case "<", "lt", "less_than":
		return "<"
	case "<=", "lte", "max", "at_most", "":
		return "<="
	case ">", "gt", "greater_than":
		return ">"
	case ">=", "gte", "min", "at_least":
		return ">="
	case "==", "=", "eq", "equals":
		return "=="
	default:
		return op
	}
}

// Normalize fills defaults and canonicalizes enumerations in place
func (r *Rule) Normalize() {
	r.ID = strings.TrimSpace(r.ID)
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		r.Name = r.ID
	}
	r.Category = strings.TrimSpace(r.Category)
	r.Intent = strings.TrimSpace(r.Intent)
	r.Type = RuleType(strings.ToLower(strings.TrimSpace(string(r.Type))))

	switch strings.ToUpper(strings.TrimSpace(string(r.RiskLevel))) {
	case "":
		r.RiskLevel = RiskMedium
	case "CRITICAL", "HIGH":
		r.RiskLevel = RiskHigh
	default:
		r.RiskLevel = RiskLevel(strings.ToUpper(strings.TrimSpace(string(r.RiskLevel))))
	}

	if r.PromptTemplateID == "" {
		r.PromptTemplateID = DefaultPromptTemplate
	}
	if r.Params == nil {
		r.Params = make(RuleParams)
	}
	if r.Type == RuleNumericConstraint {
		if op, ok := r.Params["operator"].(string); ok || r.Params["operator"] == nil {
			r.Params["operator"] = NormalizeOperator(op)
		}
	}

	seen := make(map[string]bool, len(r.RetrievalTags))
	tags := make([]string, 0, len(r.RetrievalTags))
	for _, tag := range r.RetrievalTags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" || seen[tag] {
			continue
		}
		seen[tag] = true
		tags = append(tags, tag)
	}
	r.RetrievalTags = tags
}

// Validate checks the rule and that its params are structurally valid for its type
func (r *Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule_id is required", ErrInvalidRule)
	}
	if r.Intent == "" {
		return fmt.Errorf("%w: intent is required", ErrInvalidRule)
	}
	switch r.RiskLevel {
	case RiskLow, RiskMedium, RiskHigh:
	default:
		return fmt.Errorf("%w: unknown risk_level %q", ErrInvalidRule, r.RiskLevel)
	}

	switch r.Type {
	case RuleNumericConstraint:
		p, err := r.NumericParams()
		if err != nil {
			return err
		}
		switch p.Operator {
		case "<", "<=", ">", ">=", "==":
		default:
			return fmt.Errorf("%w: unknown operator %q", ErrInvalidRule, p.Operator)
		}
	case RuleTextContains:
		p, err := r.TextContainsParams()
		if err != nil {
			return err
		}
		if len(p.Keywords) == 0 {
			return fmt.Errorf("%w: text_contains requires keywords", ErrInvalidRule)
		}
		if p.MatchMode != "any" && p.MatchMode != "all" {
			return fmt.Errorf("%w: match_mode must be any or all", ErrInvalidRule)
		}
	case RuleProhibition:
		if _, err := r.ProhibitionParams(); err != nil {
			return err
		}
	case RuleRequirement:
		p, err := r.RequirementParams()
		if err != nil {
			return err
		}
		for _, c := range p.RequiredClauses {
			if c.ClauseType == "" {
				return fmt.Errorf("%w: required clause without clause_type", ErrInvalidRule)
			}
		}
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidRule, r.Type)
	}
	return nil
}
