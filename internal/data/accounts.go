package data

import (
	"context"
	"database/sql"

	"github.com/google/uuid"
)

type AccountModel struct {
	DB DBTX
}

// GetByID retrieves an account by primary key.
func (m AccountModel) GetByID(ctx context.Context, id uuid.UUID) (*Account, error) {
	query := `
		SELECT id, name, action_plan, snoozed_until, created_at
		FROM accounts
		WHERE id = $1`

	var a Account
	var plan []byte
	var snoozed sql.NullTime

	err := m.DB.QueryRowContext(ctx, query, id).Scan(
		&a.ID, &a.Name, &plan, &snoozed, &a.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	a.ActionPlan = plan
	if snoozed.Valid {
		t := snoozed.Time
		a.SnoozedUntil = &t
	}
	return &a, nil
}
