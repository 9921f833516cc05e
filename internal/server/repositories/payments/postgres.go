package payments

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

// Save inserts a payment row, or refreshes the status of an existing row with
// the same external payment id. Duplicate webhook deliveries therefore land
// on the same row instead of creating a second one.
func (r *PostgresRepository) Save(ctx context.Context, payment *models.Payment) (*models.Payment, error) {
	query :=
		`INSERT INTO payments (user_id, payment_id, status, duration_days, amount)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (payment_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()
		 RETURNING id, created_at, updated_at
		 `
	err := r.db.QueryRowContext(ctx, query,
		payment.UserID, payment.PaymentID, payment.Status, payment.DurationDays, payment.Amount).
		Scan(&payment.ID, &payment.CreatedAt, &payment.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return payment, nil
}

// SaveSucceeded relies on the conflicting upsert taking the row lock:
// concurrent deliveries of the same payment id serialize on it, and the
// WHERE clause lets only the first one through.
func (r *PostgresRepository) SaveSucceeded(ctx context.Context, payment *models.Payment) (bool, error) {
	query :=
		`INSERT INTO payments (user_id, payment_id, status, duration_days, amount)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (payment_id) DO UPDATE SET status = EXCLUDED.status, updated_at = now()
		 WHERE payments.status <> EXCLUDED.status
		 RETURNING id
		 `
	payment.Status = models.PaymentStatusSucceeded
	err := r.db.QueryRowContext(ctx, query,
		payment.UserID, payment.PaymentID, payment.Status, payment.DurationDays, payment.Amount).
		Scan(&payment.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return true, nil
}

func (r *PostgresRepository) GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error) {
	query :=
		`SELECT id, user_id, payment_id, status, duration_days, amount, created_at, updated_at
		 FROM payments
		 WHERE payment_id = $1
		 `
	p := &models.Payment{}
	err := r.db.QueryRowContext(ctx, query, paymentID).
		Scan(&p.ID, &p.UserID, &p.PaymentID, &p.Status, &p.DurationDays, &p.Amount, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return p, nil
}

func (r *PostgresRepository) UpdateStatus(ctx context.Context, paymentID, status string) error {
	query :=
		`UPDATE payments SET status = $1, updated_at = now()
		 WHERE payment_id = $2
		 `
	res, err := r.db.ExecContext(ctx, query, status, paymentID)
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
	if _, err := r.db.ExecContext(ctx, `DELETE FROM payments WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}
