package data

import (
	"context"
	"database/sql"
	"strings"

	"github.com/google/uuid"
)

type CameraModel struct {
	DB DBTX
}

const cameraColumns = `
	id, account_id, name, COALESCE(source_url, ''), ingest_alias,
	associated_actions, snoozed_until, created_at, updated_at`

func (m CameraModel) scanCamera(row *sql.Row) (*Camera, error) {
	var c Camera
	var snoozed sql.NullTime
	var actions []byte

	err := row.Scan(
		&c.ID, &c.AccountID, &c.Name, &c.SourceURL, &c.IngestAlias,
		&actions, &snoozed, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	if snoozed.Valid {
		t := snoozed.Time
		c.SnoozedUntil = &t
	}
	c.AssociatedActions = actions
	return &c, nil
}

// GetByID retrieves a camera by primary key.
func (m CameraModel) GetByID(ctx context.Context, id uuid.UUID) (*Camera, error) {
	query := `SELECT` + cameraColumns + ` FROM cameras WHERE id = $1`
	return m.scanCamera(m.DB.QueryRowContext(ctx, query, id))
}

// GetByAlias resolves a mail local-part to its camera. Aliases are
// stored lowercase; lookup is case-insensitive on the caller's input.
func (m CameraModel) GetByAlias(ctx context.Context, alias string) (*Camera, error) {
	query := `SELECT` + cameraColumns + ` FROM cameras WHERE ingest_alias = $1`
	return m.scanCamera(m.DB.QueryRowContext(ctx, query, strings.ToLower(alias)))
}

// ListByAccount returns all cameras for an account, name order.
func (m CameraModel) ListByAccount(ctx context.Context, accountID uuid.UUID) ([]Camera, error) {
	query := `SELECT` + cameraColumns + ` FROM cameras WHERE account_id = $1 ORDER BY name`

	rows, err := m.DB.QueryContext(ctx, query, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Camera
	for rows.Next() {
		var c Camera
		var snoozed sql.NullTime
		var actions []byte
		if err := rows.Scan(
			&c.ID, &c.AccountID, &c.Name, &c.SourceURL, &c.IngestAlias,
			&actions, &snoozed, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if snoozed.Valid {
			t := snoozed.Time
			c.SnoozedUntil = &t
		}
		c.AssociatedActions = actions
		out = append(out, c)
	}
	return out, rows.Err()
}
