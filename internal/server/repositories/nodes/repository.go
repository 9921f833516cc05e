package nodes

import (
	"context"

	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, node *models.Node) (*models.Node, error)
	GetByID(ctx context.Context, id int64) (*models.Node, error)
	List(ctx context.Context, onlyEnabled bool) ([]*models.Node, error)

	// ListEnabledWithOccupancy returns enabled nodes in catalog (name) order
	// together with the number of users assigned to each.
	ListEnabledWithOccupancy(ctx context.Context) ([]*models.NodeOccupancy, error)

	Update(ctx context.Context, node *models.Node) error
	Delete(ctx context.Context, id int64) error
	ToggleEnabled(ctx context.Context, id int64) (bool, error)
	CountAssigned(ctx context.Context, id int64) (int, error)
}
