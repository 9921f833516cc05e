package jobs

import (
	"context"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

// Repository is the durable store for one-shot recurring-charge jobs.
// Rows survive process restarts; the scheduler claims due rows and deletes
// them once executed.
type Repository interface {
	Schedule(ctx context.Context, job *models.ChargeJob) (*models.ChargeJob, error)
	Due(ctx context.Context, now time.Time, limit int) ([]*models.ChargeJob, error)
	Delete(ctx context.Context, id int64) error
	DeleteForUser(ctx context.Context, userID int64) error
}
