package data

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event lifecycle states. Transitions are enforced by the workflow
// state machine, not here; the column is a plain text enum.
type EventStatus string

const (
	StatusNew          EventStatus = "new"
	StatusAcknowledged EventStatus = "acknowledged"
	StatusOnHold       EventStatus = "on_hold"
	StatusEscalated    EventStatus = "escalated"
	StatusResolved     EventStatus = "resolved"
)

// Account is a monitored customer. The core only reads the fields it
// needs: the action plan template and the snooze window.
type Account struct {
	ID           uuid.UUID       `json:"id"`
	Name         string          `json:"name"`
	ActionPlan   json.RawMessage `json:"action_plan,omitempty"`
	SnoozedUntil *time.Time      `json:"snoozed_until,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

// Camera is a registered alarm source. IngestAlias is the local-part
// of the camera's inbound mail address and is unique across the fleet.
type Camera struct {
	ID                uuid.UUID       `json:"id"`
	AccountID         uuid.UUID       `json:"account_id"`
	Name              string          `json:"name"`
	SourceURL         string          `json:"source_url,omitempty"`
	IngestAlias       string          `json:"ingest_alias"`
	AssociatedActions json.RawMessage `json:"associated_actions,omitempty"`
	SnoozedUntil      *time.Time      `json:"snoozed_until,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// CallLog is one operator phone call recorded against an event.
type CallLog struct {
	Contact  string    `json:"contact"`
	Phone    string    `json:"phone"`
	Outcome  string    `json:"outcome"`
	Note     string    `json:"note,omitempty"`
	LoggedAt time.Time `json:"logged_at"`
}

// Event is one alarm occurrence. CreatedAt is immutable and stored UTC.
// MediaPaths preserves attachment arrival order. CallLogs is append only.
type Event struct {
	ID               uuid.UUID         `json:"id"`
	CameraID         uuid.UUID         `json:"camera_id"`
	AccountID        uuid.UUID         `json:"account_id"`
	CreatedAt        time.Time         `json:"created_at"`
	MediaPaths       []string          `json:"media_paths"`
	Notes            string            `json:"notes,omitempty"`
	CallLogs         []CallLog         `json:"call_logs"`
	Status           EventStatus       `json:"status"`
	Resolution       string            `json:"resolution,omitempty"`
	EscalationReason string            `json:"escalation_reason,omitempty"`
	PlanState        map[string]string `json:"plan_state"`
}

// SuppressedEvent records an alarm that arrived while its camera or
// account was snoozed. No Event row is created for these.
type SuppressedEvent struct {
	ID         uuid.UUID `json:"id"`
	CameraID   uuid.UUID `json:"camera_id"`
	AccountID  uuid.UUID `json:"account_id"`
	Reason     string    `json:"reason"`
	OccurredAt time.Time `json:"occurred_at"`
}
