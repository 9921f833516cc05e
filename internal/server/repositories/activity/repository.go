package activity

import (
	"context"

	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

type Repository interface {
	Append(ctx context.Context, userID int64, action, details string) error
	ListForUser(ctx context.Context, userID int64, limit int) ([]*models.ActivityEntry, error)
	DeleteForUser(ctx context.Context, userID int64) error
}
