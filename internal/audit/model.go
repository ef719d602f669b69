package audit

import (
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// AuditEvent is one operator-action record. EventID is the idempotency
// key so a spool replay never duplicates a row.
type AuditEvent struct {
	ID         uuid.UUID       `json:"id"` // DB primary key
	EventID    uuid.UUID       `json:"event_id"`
	AccountID  uuid.UUID       `json:"account_id"`
	Action     string          `json:"action"`
	TargetType string          `json:"target_type,omitempty"`
	TargetID   string          `json:"target_id,omitempty"`
	Result     string          `json:"result"` // success/failure
	Metadata   json.RawMessage `json:"metadata,omitempty"`
	CreatedAt  time.Time       `json:"created_at"`
}

// FailoverEvent wrapper for JSONL spooling
type FailoverEvent struct {
	EventID   string     `json:"event_id"`
	AccountID string     `json:"account_id"`
	Payload   AuditEvent `json:"payload"`
	Timestamp time.Time  `json:"timestamp"`
}

// AuditFilter for querying
type AuditFilter struct {
	AccountID uuid.UUID
	Result    string
	Limit     int
	Cursor    string // ID-based cursor
}

type Service struct {
	DB *sql.DB
}

func NewService(db *sql.DB) *Service {
	return &Service{DB: db}
}
