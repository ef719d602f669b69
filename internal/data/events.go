package data

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

type EventModel struct {
	DB DBTX
}

// Insert persists a new event. Expects ID and CreatedAt to be set by
// the caller so the ingestion timestamp reflects arrival, not commit.
func (m EventModel) Insert(ctx context.Context, e *Event) error {
	callLogs, err := json.Marshal(e.CallLogs)
	if err != nil {
		return fmt.Errorf("marshal call_logs: %w", err)
	}
	planState, err := json.Marshal(e.PlanState)
	if err != nil {
		return fmt.Errorf("marshal plan_state: %w", err)
	}

	query := `
		INSERT INTO events (
			id, camera_id, account_id, created_at, media_paths,
			notes, call_logs, status, resolution, escalation_reason, plan_state
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = m.DB.ExecContext(ctx, query,
		e.ID, e.CameraID, e.AccountID, e.CreatedAt.UTC(), pq.Array(e.MediaPaths),
		e.Notes, callLogs, e.Status, e.Resolution, e.EscalationReason, planState,
	)
	return err
}

// GetByID retrieves an event by primary key.
func (m EventModel) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	query := `
		SELECT id, camera_id, account_id, created_at, media_paths,
		       notes, call_logs, status, resolution, escalation_reason, plan_state
		FROM events
		WHERE id = $1`

	var e Event
	var mediaPaths []string
	var callLogs, planState []byte

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&e.ID, &e.CameraID, &e.AccountID, &e.CreatedAt, pq.Array(&mediaPaths),
		&e.Notes, &callLogs, &e.Status, &e.Resolution, &e.EscalationReason, &planState,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}

	e.MediaPaths = mediaPaths
	if len(callLogs) > 0 {
		if err := json.Unmarshal(callLogs, &e.CallLogs); err != nil {
			return nil, fmt.Errorf("unmarshal call_logs: %w", err)
		}
	}
	if len(planState) > 0 {
		if err := json.Unmarshal(planState, &e.PlanState); err != nil {
			return nil, fmt.Errorf("unmarshal plan_state: %w", err)
		}
	}
	if e.PlanState == nil {
		e.PlanState = map[string]string{}
	}
	return &e, nil
}

// SetStatus persists a status transition. Resolution and escalation
// reason columns are only touched when the new status requires them.
func (m EventModel) SetStatus(ctx context.Context, id uuid.UUID, status EventStatus, reason string) error {
	var query string
	switch status {
	case StatusResolved:
		query = `UPDATE events SET status = $1, resolution = $3 WHERE id = $2`
	case StatusEscalated:
		query = `UPDATE events SET status = $1, escalation_reason = $3 WHERE id = $2`
	default:
		query = `UPDATE events SET status = $1 WHERE id = $2`
	}

	var res sql.Result
	var err error
	if status == StatusResolved || status == StatusEscalated {
		res, err = m.DB.ExecContext(ctx, query, status, id, reason)
	} else {
		res, err = m.DB.ExecContext(ctx, query, status, id)
	}
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SavePlanState overwrites the event's plan progress map.
func (m EventModel) SavePlanState(ctx context.Context, id uuid.UUID, state map[string]string) error {
	blob, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal plan_state: %w", err)
	}
	res, err := m.DB.ExecContext(ctx, `UPDATE events SET plan_state = $1 WHERE id = $2`, blob, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// SaveCallLogs overwrites the call log array. Callers append in memory
// under the per-event lock so the column stays append-only in effect.
func (m EventModel) SaveCallLogs(ctx context.Context, id uuid.UUID, logs []CallLog) error {
	blob, err := json.Marshal(logs)
	if err != nil {
		return fmt.Errorf("marshal call_logs: %w", err)
	}
	res, err := m.DB.ExecContext(ctx, `UPDATE events SET call_logs = $1 WHERE id = $2`, blob, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRecordNotFound
	}
	return nil
}

// ListByAccount returns recent events for an account, newest first.
func (m EventModel) ListByAccount(ctx context.Context, accountID uuid.UUID, limit int) ([]Event, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, camera_id, account_id, created_at, media_paths,
		       notes, call_logs, status, resolution, escalation_reason, plan_state
		FROM events
		WHERE account_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := m.DB.QueryContext(ctx, query, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var e Event
		var mediaPaths []string
		var callLogs, planState []byte
		if err := rows.Scan(
			&e.ID, &e.CameraID, &e.AccountID, &e.CreatedAt, pq.Array(&mediaPaths),
			&e.Notes, &callLogs, &e.Status, &e.Resolution, &e.EscalationReason, &planState,
		); err != nil {
			return nil, err
		}
		e.MediaPaths = mediaPaths
		if len(callLogs) > 0 {
			_ = json.Unmarshal(callLogs, &e.CallLogs)
		}
		if len(planState) > 0 {
			_ = json.Unmarshal(planState, &e.PlanState)
		}
		if e.PlanState == nil {
			e.PlanState = map[string]string{}
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
