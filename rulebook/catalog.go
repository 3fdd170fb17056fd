// Package rulebook loads rule catalogs from YAML and turns natural-language
// requirements into structured rules.
package rulebook

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"trustlens-backend/models"
)

//go:embed default_rules.yaml
var defaultRules []byte

// ErrDuplicateRule is returned when a catalog defines a rule_id twice
var ErrDuplicateRule = errors.New("duplicate rule_id in catalog")

// catalogFile is the on-disk YAML layout
type catalogFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ID               string                 `yaml:"rule_id"`
	Name             string                 `yaml:"name"`
	Category         string                 `yaml:"category"`
	Intent           string                 `yaml:"intent"`
	Type             string                 `yaml:"type"`
	Params           map[string]interface{} `yaml:"params"`
	RiskLevel        string                 `yaml:"risk_level"`
	RetrievalTags    []string               `yaml:"retrieval_tags"`
	PromptTemplateID string                 `yaml:"prompt_template_id"`
	Description      string                 `yaml:"description"`
	Enabled          *bool                  `yaml:"enabled"`
}

func (e ruleEntry) rule() models.Rule {
	r := models.Rule{
		ID:               e.ID,
		Name:             e.Name,
		Category:         e.Category,
		Intent:           e.Intent,
		Type:             models.RuleType(e.Type),
		Params:           models.RuleParams(e.Params),
		RiskLevel:        models.RiskLevel(e.RiskLevel),
		RetrievalTags:    e.RetrievalTags,
		PromptTemplateID: e.PromptTemplateID,
		Description:      e.Description,
		Enabled:          true,
	}
	if e.Enabled != nil {
		r.Enabled = *e.Enabled
	}
	r.Normalize()
	return r
}

// Load decodes, normalizes and validates every rule of a YAML catalog
func Load(r io.Reader) ([]models.Rule, error) {
	var file catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: decode catalog: %v", models.ErrInvalidRule, err)
	}

	seen := make(map[string]bool, len(file.Rules))
	rules := make([]models.Rule, 0, len(file.Rules))
	for i, entry := range file.Rules {
		rule := entry.rule()
		if err := rule.Validate(); err != nil {
			return nil, fmt.Errorf("rule %d (%s): %w", i+1, rule.ID, err)
		}
		if seen[rule.ID] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateRule, rule.ID)
		}
		seen[rule.ID] = true
		rules = append(rules, rule)
	}
	return rules, nil
}

// LoadFile reads a catalog from disk
func LoadFile(path string) ([]models.Rule, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open rule catalog: %w", err)
	}
	defer f.Close()
	return Load(f)
}

// Default returns the embedded starter catalog
func Default() []models.Rule {
	rules, err := Load(bytes.NewReader(defaultRules))
	if err != nil {
		panic(fmt.Sprintf("rulebook: embedded catalog is invalid: %v", err))
	}
	return rules
}

// Marshal renders rules back into the catalog layout
func Marshal(rules []models.Rule) ([]byte, error) {
	file := catalogFile{Rules: make([]ruleEntry, len(rules))}
	for i, r := range rules {
		enabled := r.Enabled
		file.Rules[i] = ruleEntry{
			ID:               r.ID,
			Name:             r.Name,
			Category:         r.Category,
			Intent:           r.Intent,
			Type:             string(r.Type),
			Params:           r.Params,
			RiskLevel:        string(r.RiskLevel),
			RetrievalTags:    r.RetrievalTags,
			PromptTemplateID: r.PromptTemplateID,
			Description:      r.Description,
			Enabled:          &enabled,
		}
	}
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(file); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
