package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"
)

// Record is the fire-and-forget entry point the workflow engine uses.
// A failed write is spooled; a failed spool is logged and dropped so
// the operator path never blocks on the audit trail.
func (s *Service) Record(ctx context.Context, accountID uuid.UUID, action, targetID, result string) {
	evt := AuditEvent{
		EventID:    uuid.New(),
		AccountID:  accountID,
		Action:     action,
		TargetType: "event",
		TargetID:   targetID,
		Result:     result,
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.WriteEvent(ctx, evt); err != nil {
		log.Printf("[Audit] Record dropped for account %s: %v", accountID, err)
	}
}

func (s *Service) WriteEvent(ctx context.Context, evt AuditEvent) error {
	// Idempotency: If EventID is empty, generate it.
	if evt.EventID == uuid.Nil {
		evt.EventID = uuid.New()
	}

	// 1. Try DB Write
	query := `
		INSERT INTO audit_logs (
			event_id, account_id, action, target_type, target_id,
			result, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (event_id) DO NOTHING
	`

	_, err := s.DB.ExecContext(ctx, query,
		evt.EventID, evt.AccountID, evt.Action, evt.TargetType, evt.TargetID,
		evt.Result, evt.Metadata, evt.CreatedAt,
	)

	if err != nil {
		// 2. Failover to Spool
		log.Printf("Audit DB Write Failed: %v. Spooling event %s", err, evt.EventID)
		if spoolErr := SpoolEvent(evt); spoolErr != nil {
			log.Printf("CRITICAL: Audit Spool FAILED for event %s: %v", evt.EventID, spoolErr)
			return fmt.Errorf("audit critical failure: %v", spoolErr)
		}
		return nil // Swallow DB error if spooled successfully
	}

	return nil
}

// PurgeExpired deletes rows older than the cutoff. The cutoff itself
// must already be outside the retention window; a cutoff inside it is
// refused without touching the database.
func (s *Service) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	if !CanPurge(before) {
		return 0, fmt.Errorf("purge cutoff %s is inside the %d-year retention window", before.Format(time.RFC3339), MinRetentionYears)
	}
	res, err := s.DB.ExecContext(ctx, `DELETE FROM audit_logs WHERE created_at < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// StartRetentionSweep purges expired rows once a day. A retention
// below the compliance floor refuses to start the sweep at all.
func (s *Service) StartRetentionSweep(ctx context.Context, years int) error {
	if err := CheckRetentionPolicy(years); err != nil {
		return err
	}
	days := int(float64(years)*365.25) + 1

	go func() {
		ticker := time.NewTicker(24 * time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				cutoff := time.Now().UTC().AddDate(0, 0, -days)
				n, err := s.PurgeExpired(ctx, cutoff)
				if err != nil {
					log.Printf("[Audit] Retention sweep: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("[Audit] Retention sweep purged %d rows older than %d years", n, years)
				}
			}
		}
	}()
	return nil
}

// No Update method and no row-level Delete: the trail is append-only
// outside the retention sweep.

// QueryEvents implements filters and cursor pagination
func (s *Service) QueryEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, string, error) {
	q := `SELECT id, event_id, account_id, action, target_type, target_id, result, created_at, metadata
	      FROM audit_logs
	      WHERE account_id = $1`
	args := []interface{}{f.AccountID}
	idx := 2

	if f.Result != "" {
		q += fmt.Sprintf(" AND result = $%d", idx)
		args = append(args, f.Result)
		idx++
	}

	// Cursor (ID based scrolling)
	if f.Cursor != "" {
		q += fmt.Sprintf(" AND id < $%d", idx)
		args = append(args, f.Cursor)
		idx++
	}

	if f.Limit <= 0 {
		f.Limit = 50
	}
	q += " ORDER BY created_at DESC, id DESC LIMIT " + fmt.Sprintf("$%d", idx)
	args = append(args, f.Limit)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, "", err
	}
	defer rows.Close()

	var events []AuditEvent
	var lastID string

	for rows.Next() {
		var evt AuditEvent
		var meta []byte
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.AccountID, &evt.Action, &evt.TargetType, &evt.TargetID, &evt.Result, &evt.CreatedAt, &meta); err != nil {
			return nil, "", err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &evt.Metadata)
		}
		events = append(events, evt)
		lastID = evt.ID.String()
	}

	return events, lastID, rows.Err()
}

// ExportEvents streams an account's trail as JSONL.
func (s *Service) ExportEvents(ctx context.Context, f AuditFilter, w io.Writer) error {
	q := `SELECT id, event_id, account_id, action, target_type, target_id, result, created_at, metadata
	      FROM audit_logs
	      WHERE account_id = $1
	      ORDER BY created_at DESC`
	args := []interface{}{f.AccountID}

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	enc := json.NewEncoder(w)
	count := 0
	maxRecords := 10000 // Safety bound

	for rows.Next() {
		if count >= maxRecords {
			break
		}
		var evt AuditEvent
		var meta []byte
		if err := rows.Scan(&evt.ID, &evt.EventID, &evt.AccountID, &evt.Action, &evt.TargetType, &evt.TargetID, &evt.Result, &evt.CreatedAt, &meta); err != nil {
			return err
		}
		if len(meta) > 0 {
			_ = json.Unmarshal(meta, &evt.Metadata)
		}
		if err := enc.Encode(evt); err != nil {
			return err
		}
		count++
	}
	return rows.Err()
}
