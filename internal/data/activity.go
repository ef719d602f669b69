package data

import (
	"context"

	"github.com/google/uuid"
)

type ActivityModel struct {
	DB DBTX
}

// InsertSuppressed records an alarm swallowed by a snooze window.
func (m ActivityModel) InsertSuppressed(ctx context.Context, s *SuppressedEvent) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	query := `
		INSERT INTO suppressed_events (id, camera_id, account_id, reason, occurred_at)
		VALUES ($1, $2, $3, $4, $5)`
	_, err := m.DB.ExecContext(ctx, query,
		s.ID, s.CameraID, s.AccountID, s.Reason, s.OccurredAt.UTC())
	return err
}

// CountSuppressed returns the suppressed-alarm tally for a camera.
func (m ActivityModel) CountSuppressed(ctx context.Context, cameraID uuid.UUID) (int, error) {
	var n int
	err := m.DB.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM suppressed_events WHERE camera_id = $1`, cameraID).Scan(&n)
	return n, err
}
