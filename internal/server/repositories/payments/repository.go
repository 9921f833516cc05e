package payments

import (
	"context"

	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

type Repository interface {
	Save(ctx context.Context, payment *models.Payment) (*models.Payment, error)

	// SaveSucceeded upserts a succeeded payment and reports whether this call
	// performed the transition. A row already recorded succeeded returns
	// false, so a redelivered notification is applied at most once even when
	// deliveries race.
	SaveSucceeded(ctx context.Context, payment *models.Payment) (bool, error)

	GetByPaymentID(ctx context.Context, paymentID string) (*models.Payment, error)
	UpdateStatus(ctx context.Context, paymentID, status string) error
	DeleteForUser(ctx context.Context, userID int64) error
}
