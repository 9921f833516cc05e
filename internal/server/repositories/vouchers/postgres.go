package vouchers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/dbx"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
	"github.com/jackc/pgx/v5/pgconn"
)

const pgUniqueViolation = "23505"

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

const voucherColumns = `id, code, duration_seconds, max_activations, current_activations, is_enabled, created_at`

func scanVoucher(row *sql.Row) (*models.Voucher, error) {
	v := &models.Voucher{}
	var durationSeconds int64
	err := row.Scan(&v.ID, &v.Code, &durationSeconds, &v.MaxActivations,
		&v.Activations, &v.Enabled, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	v.Duration = time.Duration(durationSeconds) * time.Second
	return v, nil
}

func (r *PostgresRepository) Create(ctx context.Context, voucher *models.Voucher) (*models.Voucher, error) {
	query :=
		`INSERT INTO promocodes (code, duration_seconds, max_activations)
		 VALUES ($1, $2, $3)
		 RETURNING id, created_at
		 `
	err := r.db.QueryRowContext(ctx, query,
		voucher.Code, int64(voucher.Duration.Seconds()), voucher.MaxActivations).
		Scan(&voucher.ID, &voucher.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, common.ErrDuplicateCode
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	voucher.Enabled = true
	return voucher, nil
}

func (r *PostgresRepository) GetEnabledByCode(ctx context.Context, code string) (*models.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM promocodes WHERE code = $1 AND is_enabled = TRUE`
	return scanVoucher(r.db.QueryRowContext(ctx, query, code))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM promocodes WHERE id = $1`
	return scanVoucher(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) List(ctx context.Context, onlyRedeemable bool) ([]*models.Voucher, error) {
	query := `SELECT ` + voucherColumns + ` FROM promocodes ORDER BY created_at DESC`
	if onlyRedeemable {
		query =
			`SELECT ` + voucherColumns + ` FROM promocodes
			 WHERE is_enabled = TRUE AND current_activations < max_activations
			 ORDER BY created_at DESC
			 `
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Voucher
	for rows.Next() {
		v := &models.Voucher{}
		var durationSeconds int64
		if err := rows.Scan(&v.ID, &v.Code, &durationSeconds, &v.MaxActivations,
			&v.Activations, &v.Enabled, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		v.Duration = time.Duration(durationSeconds) * time.Second
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) IncrementActivations(ctx context.Context, id int64) (bool, error) {
	query :=
		`UPDATE promocodes SET current_activations = current_activations + 1
		 WHERE id = $1 AND current_activations < max_activations
		 `
	res, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n > 0, nil
}

func (r *PostgresRepository) ActivationExists(ctx context.Context, voucherID, userID int64) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM promocode_activations WHERE promocode_id = $1 AND user_id = $2)`
	var exists bool
	if err := r.db.QueryRowContext(ctx, query, voucherID, userID).Scan(&exists); err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return exists, nil
}

func (r *PostgresRepository) InsertActivation(ctx context.Context, voucherID, userID int64) error {
	query :=
		`INSERT INTO promocode_activations (promocode_id, user_id)
		 VALUES ($1, $2)
		 `
	_, err := r.db.ExecContext(ctx, query, voucherID, userID)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return common.ErrAlreadyRedeemed
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteActivations(ctx context.Context, voucherID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM promocode_activations WHERE promocode_id = $1`, voucherID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) DeleteActivationsForUser(ctx context.Context, userID int64) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM promocode_activations WHERE user_id = $1`, userID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM promocodes WHERE id = $1`, id)
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

func (r *PostgresRepository) ToggleEnabled(ctx context.Context, id int64) (bool, error) {
	query :=
		`UPDATE promocodes SET is_enabled = NOT is_enabled
		 WHERE id = $1
		 RETURNING is_enabled
		 `
	var enabled bool
	err := r.db.QueryRowContext(ctx, query, id).Scan(&enabled)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, common.ErrNotFound
		}
		return false, fmt.Errorf("db error: %w", err)
	}
	return enabled, nil
}

func (r *PostgresRepository) HistoryForUser(ctx context.Context, userID int64) ([]*models.VoucherRedemption, error) {
	query :=
		`SELECT p.code, p.duration_seconds, pa.activated_at
		 FROM promocode_activations pa
		 JOIN promocodes p ON pa.promocode_id = p.id
		 WHERE pa.user_id = $1
		 ORDER BY pa.activated_at DESC
		 `
	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.VoucherRedemption
	for rows.Next() {
		vr := &models.VoucherRedemption{}
		var durationSeconds int64
		if err := rows.Scan(&vr.Code, &durationSeconds, &vr.ActivatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		vr.Duration = time.Duration(durationSeconds) * time.Second
		result = append(result, vr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}
