package vouchers

import (
	"context"

	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, voucher *models.Voucher) (*models.Voucher, error)
	GetEnabledByCode(ctx context.Context, code string) (*models.Voucher, error)
	GetByID(ctx context.Context, id int64) (*models.Voucher, error)
	List(ctx context.Context, onlyRedeemable bool) ([]*models.Voucher, error)

	// IncrementActivations bumps the counter only while it is below the cap;
	// returns false when the cap was already reached. Concurrent redemptions
	// of the last slot resolve to exactly one true.
	IncrementActivations(ctx context.Context, id int64) (bool, error)

	ActivationExists(ctx context.Context, voucherID, userID int64) (bool, error)
	InsertActivation(ctx context.Context, voucherID, userID int64) error
	DeleteActivations(ctx context.Context, voucherID int64) error
	DeleteActivationsForUser(ctx context.Context, userID int64) error

	Delete(ctx context.Context, id int64) error
	ToggleEnabled(ctx context.Context, id int64) (bool, error)
	HistoryForUser(ctx context.Context, userID int64) ([]*models.VoucherRedemption, error)
}
