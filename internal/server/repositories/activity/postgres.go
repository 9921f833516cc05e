package activity

import (
	"context"
	"fmt"

	"github.com/dmitrijs2005/vpnkeeper/internal/dbx"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Append(ctx context.Context, userID int64, action, details string) error {
	query :=
		`INSERT INTO user_activity_log (user_id, action, details)
		 VALUES ($1, $2, $3)
		 `
	if _, err := r.db.ExecContext(ctx, query, userID, action, details); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListForUser(ctx context.Context, userID int64, limit int) ([]*models.ActivityEntry, error) {
	query :=
		`SELECT id, user_id, action, details, ts FROM user_activity_log
		 WHERE user_id = $1
		 ORDER BY ts DESC
		 LIMIT $2
		 `
	rows, err := r.db.QueryContext(ctx, query, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.ActivityEntry
	for rows.Next() {
		e := &models.ActivityEntry{}
		if err := rows.Scan(&e.ID, &e.UserID, &e.Action, &e.Details, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) DeleteForUser(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM user_activity_log WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
