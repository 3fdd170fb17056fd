package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// VerdictStatus is the outcome of checking one rule against one document
type VerdictStatus string

const (
	VerdictPass    VerdictStatus = "PASS"
	VerdictRisk    VerdictStatus = "RISK"
	VerdictMissing VerdictStatus = "MISSING"
	VerdictFailed  VerdictStatus = "FAILED"
)

// ReviewRunStatus represents the status of a review run
type ReviewRunStatus string

const (
	RunPending   ReviewRunStatus = "PENDING"
	RunRunning   ReviewRunStatus = "RUNNING"
	RunCompleted ReviewRunStatus = "COMPLETED"
	RunCancelled ReviewRunStatus = "CANCELLED"
	RunFailed    ReviewRunStatus = "FAILED"
)

// Terminal reports whether the run will make no further progress
func (s ReviewRunStatus) Terminal() bool {
	return s == RunCompleted || s == RunCancelled || s == RunFailed
}

// Evidence is a verbatim quote from a chunk substantiating a verdict
type Evidence struct {
	ChunkID    string   `json:"chunk_id"`
	Quote      string   `json:"quote"`
	Page       int      `json:"page"`
	BBox       BBox     `json:"bbox"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// EvidenceList represents an ordered list of evidence stored as JSONB
type EvidenceList []Evidence

// Value implements driver.Valuer for JSONB
func (e EvidenceList) Value() (driver.Value, error) {
	if e == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(e)
}

// Scan implements sql.Scanner for JSONB
func (e *EvidenceList) Scan(value interface{}) error {
	return scanJSONList(value, e, func() { *e = EvidenceList{} })
}

// ReviewResult is the verdict for one (review run, rule) pair
type ReviewResult struct {
	ReviewID    uuid.UUID     `json:"review_id"`
	RuleID      string        `json:"rule_id"`
	RuleName    string        `json:"rule_name"`
	RuleVersion int           `json:"rule_version"`
	Status      VerdictStatus `json:"status"`
	Reason      string        `json:"reason"`
	Evidence    EvidenceList  `json:"evidence"`
	Confidence  float64       `json:"confidence"`
	Suggestion  *string       `json:"suggestion,omitempty"`
	Error       *string       `json:"error,omitempty"`
	Retryable   bool          `json:"-"`
	Attempts    int           `json:"attempts"`
	CreatedAt   time.Time     `json:"created_at"`
}

// RuleSnapshots represents the rules frozen for a run, stored as JSONB
type RuleSnapshots []Rule

// Value implements driver.Valuer for JSONB
func (r RuleSnapshots) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner for JSONB
func (r *RuleSnapshots) Scan(value interface{}) error {
	return scanJSONList(value, r, func() { *r = RuleSnapshots{} })
}

// RuleIDs lists the ids of the snapshotted rules in order
func (r RuleSnapshots) RuleIDs() []string {
	ids := make([]string, len(r))
	for i, rule := range r {
		ids[i] = rule.ID
	}
	return ids
}

// ReviewRun represents one execution of a rule set against a document
type ReviewRun struct {
	ID           uuid.UUID       `json:"review_id"`
	DocumentID   uuid.UUID       `json:"document_id"`
	Status       ReviewRunStatus `json:"status"`
	Rules        RuleSnapshots   `json:"-"`
	TotalRules   int             `json:"total_rules"`
	ErrorMessage *string         `json:"error_message,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

// ReviewSummary aggregates verdict counts for a run
type ReviewSummary struct {
	Total   int `json:"total"`
	Pass    int `json:"pass"`
	Risk    int `json:"risk"`
	Missing int `json:"missing"`
	Failed  int `json:"failed"`
}

// Summarize counts results by status; total is the number of rules selected for the run
func Summarize(total int, results []ReviewResult) ReviewSummary {
	s := ReviewSummary{Total: total}
	for _, r := range results {
		switch r.Status {
		case VerdictPass:
			s.Pass++
		case VerdictRisk:
			s.Risk++
		case VerdictMissing:
			s.Missing++
		case VerdictFailed:
			s.Failed++
		}
	}
	return s
}

// Completed is the number of rules with a terminal verdict
func (s ReviewSummary) Completed() int {
	return s.Pass + s.Risk + s.Missing + s.Failed
}

// Progress is the fraction of rules with a terminal verdict
func (s ReviewSummary) Progress() float64 {
	if s.Total == 0 {
		return 1
	}
	return float64(s.Completed()) / float64(s.Total)
}

func scanJSONList(value interface{}, out interface{}, empty func()) error {
	var bytes []byte
	switch v := value.(type) {
	case []byte:
		bytes = v
	case string:
		bytes = []byte(v)
	default:
		empty()
		return nil
	}
	if len(bytes) == 0 {
		empty()
		return nil
	}
	return json.Unmarshal(bytes, out)
}
