package nodes

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

const nodeColumns = `id, name, domain, api_url, api_token, is_enabled, created_at`

func (r *PostgresRepository) Create(ctx context.Context, node *models.Node) (*models.Node, error) {
	query :=
		`INSERT INTO nodes (name, domain, api_url, api_token, is_enabled)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id, created_at
		 `
	err := r.db.QueryRowContext(ctx, query,
		node.Name, node.Domain, node.APIURL, node.APIToken, node.Enabled).
		Scan(&node.ID, &node.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return node, nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id int64) (*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE id = $1`

	node := &models.Node{}
	err := r.db.QueryRowContext(ctx, query, id).
		Scan(&node.ID, &node.Name, &node.Domain, &node.APIURL, &node.APIToken, &node.Enabled, &node.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return node, nil
}

func (r *PostgresRepository) List(ctx context.Context, onlyEnabled bool) ([]*models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes ORDER BY name`
	if onlyEnabled {
		query = `SELECT ` + nodeColumns + ` FROM nodes WHERE is_enabled = TRUE ORDER BY name`
	}

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.Node
	for rows.Next() {
		node := &models.Node{}
		if err := rows.Scan(&node.ID, &node.Name, &node.Domain, &node.APIURL,
			&node.APIToken, &node.Enabled, &node.CreatedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, node)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) ListEnabledWithOccupancy(ctx context.Context) ([]*models.NodeOccupancy, error) {
	query :=
		`SELECT n.id, n.name, n.domain, n.api_url, n.api_token, n.is_enabled, n.created_at,
		        COUNT(u.id)
		 FROM nodes n
		 LEFT JOIN users u ON u.node_id = n.id
		 WHERE n.is_enabled = TRUE
		 GROUP BY n.id
		 ORDER BY n.name
		 `
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []*models.NodeOccupancy
	for rows.Next() {
		occ := &models.NodeOccupancy{}
		if err := rows.Scan(&occ.Node.ID, &occ.Node.Name, &occ.Node.Domain, &occ.Node.APIURL,
			&occ.Node.APIToken, &occ.Node.Enabled, &occ.Node.CreatedAt, &occ.Users); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, occ)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) Update(ctx context.Context, node *models.Node) error {
	query :=
		`UPDATE nodes SET name = $1, domain = $2, api_url = $3, api_token = $4
		 WHERE id = $5
		 `
	res, err := r.db.ExecContext(ctx, query,
		node.Name, node.Domain, node.APIURL, node.APIToken, node.ID)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM nodes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return requireRow(res)
}

func (r *PostgresRepository) ToggleEnabled(ctx context.Context, id int64) (bool, error) {
	query :=
		`UPDATE nodes SET is_enabled = NOT is_enabled
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

func (r *PostgresRepository) CountAssigned(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE node_id = $1`, id).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
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
