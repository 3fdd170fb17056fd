package models

import (
	"time"

	"github.com/google/uuid"
)

// MessageRole identifies the author of a session message
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

// ExplainSession is an append-only conversation about one review result
type ExplainSession struct {
	ID        uuid.UUID `json:"session_id"`
	ReviewID  uuid.UUID `json:"review_id"`
	RuleID    string    `json:"rule_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ExplainMessage is one turn of an explain session
type ExplainMessage struct {
	ID           uuid.UUID   `json:"message_id"`
	SessionID    uuid.UUID   `json:"session_id"`
	Role         MessageRole `json:"role"`
	Content      string      `json:"content"`
	EvidenceRefs []int       `json:"evidence_refs,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}
