package users

import (
	"context"
	"errors"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
)

// ErrRoutingCollision is returned by Create when a generated routing email or
// credential collides with an existing row. The caller regenerates and retries.
var ErrRoutingCollision = errors.New("routing identity collision")

type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByExternalID(ctx context.Context, externalID string) (*models.User, error)
	GetByID(ctx context.Context, id int64) (*models.User, error)
	UpdateEntitlementEnd(ctx context.Context, id int64, end time.Time) error

	// ExtendEntitlement pushes the entitlement forward in a single statement:
	// the base is the later of the stored end and now, so concurrent
	// extensions of the same user never lose each other's time.
	ExtendEntitlement(ctx context.Context, id int64, additional time.Duration, now time.Time) (time.Time, error)
	SetRemoteState(ctx context.Context, id int64, state models.RemoteState) error
	SetRefusePayment(ctx context.Context, id int64, refuse bool) error
	Delete(ctx context.Context, id int64) error

	// Reconciliation queries. Desired state is derived from entitlement_end
	// at the given instant; candidates are users whose last confirmed remote
	// state disagrees with it.
	ListProvisionCandidates(ctx context.Context, now time.Time) ([]*models.UserNode, error)
	ListDeprovisionCandidates(ctx context.Context, now time.Time) ([]*models.UserNode, error)
	CountByEntitlement(ctx context.Context, now time.Time) (active int, expired int, err error)
}
