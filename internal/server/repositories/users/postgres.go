package users

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

const userColumns = `id, external_id, email, credential, node_id, entitlement_end,
		remote_state, is_active, is_refuse_payment, created_at, updated_at`

func scanUser(row *sql.Row) (*models.User, error) {
	u := &models.User{}
	var nodeID sql.NullInt64
	err := row.Scan(&u.ID, &u.ExternalID, &u.Email, &u.Credential, &nodeID,
		&u.EntitlementEnd, &u.RemoteState, &u.IsActive, &u.RefusePayment,
		&u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	if nodeID.Valid {
		u.NodeID = &nodeID.Int64
	}
	return u, nil
}

func (r *PostgresRepository) Create(ctx context.Context, user *models.User) (*models.User, error) {

	query :=
		`INSERT INTO users (external_id, email, credential, node_id, entitlement_end, remote_state)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id, created_at, updated_at
		 `

	var nodeID sql.NullInt64
	if user.NodeID != nil {
		nodeID = sql.NullInt64{Int64: *user.NodeID, Valid: true}
	}
	if user.RemoteState == "" {
		user.RemoteState = models.RemoteStateUnknown
	}

	err := r.db.QueryRowContext(ctx, query,
		user.ExternalID, user.Email, user.Credential, nodeID, user.EntitlementEnd, user.RemoteState).
		Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)

	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			switch pgErr.ConstraintName {
			case "users_external_id_key":
				return nil, common.ErrAlreadyRegistered
			default:
				return nil, ErrRoutingCollision
			}
		}
		return nil, fmt.Errorf("db error: %w", err)
	}

	user.IsActive = true
	return user, nil
}

func (r *PostgresRepository) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE external_id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, externalID))
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	return scanUser(r.db.QueryRowContext(ctx, query, id))
}

func (r *PostgresRepository) UpdateEntitlementEnd(ctx context.Context, id int64, end time.Time) error {
	query :=
		`UPDATE users SET entitlement_end = $1, updated_at = now()
		 WHERE id = $2
		 `
	res, err := r.db.ExecContext(ctx, query, end, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) ExtendEntitlement(ctx context.Context, id int64, additional time.Duration, now time.Time) (time.Time, error) {
	query :=
		`UPDATE users
		 SET entitlement_end = GREATEST(entitlement_end, $2) + make_interval(secs => $3),
		     updated_at = now()
		 WHERE id = $1
		 RETURNING entitlement_end
		 `
	var newEnd time.Time
	err := r.db.QueryRowContext(ctx, query, id, now, additional.Seconds()).Scan(&newEnd)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, common.ErrNotFound
		}
		return time.Time{}, fmt.Errorf("db error: %w", err)
	}
	return newEnd, nil
}

func (r *PostgresRepository) SetRemoteState(ctx context.Context, id int64, state models.RemoteState) error {
	query :=
		`UPDATE users SET remote_state = $1, updated_at = now()
		 WHERE id = $2
		 `
	res, err := r.db.ExecContext(ctx, query, state, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) SetRefusePayment(ctx context.Context, id int64, refuse bool) error {
	query :=
		`UPDATE users SET is_refuse_payment = $1, updated_at = now()
		 WHERE id = $2
		 `
	res, err := r.db.ExecContext(ctx, query, refuse, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res)
}

const candidateColumns = `u.id, u.external_id, u.email, u.credential, u.node_id,
		u.entitlement_end, u.remote_state,
		n.id, n.name, n.domain, n.api_url, n.api_token, n.is_enabled`

func (r *PostgresRepository) ListProvisionCandidates(ctx context.Context, now time.Time) ([]*models.UserNode, error) {
	query :=
		`SELECT ` + candidateColumns + `
		 FROM users u
		 JOIN nodes n ON u.node_id = n.id
		 WHERE u.entitlement_end > $1 AND u.remote_state <> $2
		 `
	return r.queryCandidates(ctx, query, now, models.RemoteStateProvisioned)
}

func (r *PostgresRepository) ListDeprovisionCandidates(ctx context.Context, now time.Time) ([]*models.UserNode, error) {
	query :=
		`SELECT ` + candidateColumns + `
		 FROM users u
		 JOIN nodes n ON u.node_id = n.id
		 WHERE u.entitlement_end <= $1 AND u.remote_state <> $2
		 `
	return r.queryCandidates(ctx, query, now, models.RemoteStateDeprovisioned)
}

func (r *PostgresRepository) queryCandidates(ctx context.Context, query string, args ...any) ([]*models.UserNode, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.UserNode
	for rows.Next() {
		un := &models.UserNode{}
		var nodeID sql.NullInt64
		err := rows.Scan(&un.User.ID, &un.User.ExternalID, &un.User.Email, &un.User.Credential,
			&nodeID, &un.User.EntitlementEnd, &un.User.RemoteState,
			&un.Node.ID, &un.Node.Name, &un.Node.Domain, &un.Node.APIURL, &un.Node.APIToken, &un.Node.Enabled)
		if err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		if nodeID.Valid {
			un.User.NodeID = &nodeID.Int64
		}
		result = append(result, un)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) CountByEntitlement(ctx context.Context, now time.Time) (int, int, error) {
	query :=
		`SELECT
		   COUNT(*) FILTER (WHERE entitlement_end > $1),
		   COUNT(*) FILTER (WHERE entitlement_end <= $1)
		 FROM users
		 `
	var active, expired int
	if err := r.db.QueryRowContext(ctx, query, now).Scan(&active, &expired); err != nil {
		return 0, 0, fmt.Errorf("db error: %w", err)
	}
	return active, expired, nil
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrNotFound
	}
	return nil
}
