package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/dbx"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Schedule(ctx context.Context, job *models.ChargeJob) (*models.ChargeJob, error) {
	query :=
		`INSERT INTO charge_jobs (run_at, user_id, payment_method_ref, amount, duration_days, email)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at
		 `
	err := r.db.QueryRowContext(ctx, query,
		job.RunAt, job.UserID, job.PaymentMethodRef, job.Amount, job.DurationDays, job.Email).
		Scan(&job.ID, &job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return job, nil
}

func (r *PostgresRepository) Due(ctx context.Context, now time.Time, limit int) ([]*models.ChargeJob, error) {
	query :=
		`SELECT id, run_at, user_id, payment_method_ref, amount, duration_days, email, created_at
		 FROM charge_jobs
		 WHERE run_at <= $1
		 ORDER BY run_at
		 LIMIT $2
		 `
	rows, err := r.db.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.ChargeJob
	for rows.Next() {
		j := &models.ChargeJob{}
		if err := rows.Scan(&j.ID, &j.RunAt, &j.UserID, &j.PaymentMethodRef,
			&j.Amount, &j.DurationDays, &j.Email, &j.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM charge_jobs WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}

func (r *PostgresRepository) DeleteForUser(ctx context.Context, userID int64) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM charge_jobs WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
