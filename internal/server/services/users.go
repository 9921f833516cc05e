package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/dbx"
	"github.com/dmitrijs2005/vpnkeeper/internal/logging"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/repomanager"
	usersrepo "github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/users"
	"github.com/google/uuid"
)

// routingEmailLetters is the number of random letters appended to the
// external-id digits when generating a routing email.
const routingEmailLetters = 4

// identityRetries bounds regeneration attempts when a generated routing
// email or credential collides with an existing row.
const identityRetries = 5

// UserService is the entitlement lifecycle manager: registration, extension,
// deletion, config retrieval, and the reconciliation primitives used by the
// background monitor.
type UserService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	nodes       *NodeService
	client      Provisioner
	logger      logging.Logger
	emailDomain string

	// now is the clock source; tests freeze it.
	now func() time.Time
}

func NewUserService(db *sql.DB, m repomanager.RepositoryManager, nodes *NodeService, client Provisioner, logger logging.Logger, emailDomain string) *UserService {
	return &UserService{
		db:          db,
		repomanager: m,
		nodes:       nodes,
		client:      client,
		logger:      logger,
		emailDomain: emailDomain,
		now:         time.Now,
	}
}

// Register creates a new user: picks the least-loaded enabled node, generates
// a unique routing email and credential, and stores the user with
// entitlement_end = now + initialDuration. If the initial duration is
// positive, provisioning on the node is attempted best-effort: a failure is
// logged and left for the reconciliation loop, never rolled back.
func (s *UserService) Register(ctx context.Context, externalID string, initialDuration time.Duration) (*models.User, error) {
	if err := validateExternalID(externalID); err != nil {
		return nil, err
	}
	if err := validateEntitlementDuration(initialDuration); err != nil {
		return nil, err
	}

	node, err := s.nodes.SelectLeastLoaded(ctx)
	if err != nil {
		return nil, err
	}

	now := s.now()
	var user *models.User

	for attempt := 0; attempt < identityRetries; attempt++ {
		email, err := s.generateRoutingEmail(externalID)
		if err != nil {
			return nil, err
		}

		candidate := &models.User{
			ExternalID:     externalID,
			Email:          email,
			Credential:     uuid.NewString(),
			NodeID:         &node.ID,
			EntitlementEnd: now.Add(initialDuration),
			RemoteState:    models.RemoteStateUnknown,
		}

		err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
			created, err := s.repomanager.Users(tx).Create(ctx, candidate)
			if err != nil {
				return err
			}
			user = created
			return s.repomanager.Activity(tx).Append(ctx, created.ID, models.ActionUserCreated,
				fmt.Sprintf("Node: %s", node.Name))
		})
		if err == nil {
			break
		}
		if errors.Is(err, usersrepo.ErrRoutingCollision) {
			continue
		}
		return nil, err
	}
	if user == nil {
		return nil, fmt.Errorf("%w: could not generate unique routing identity", common.ErrInternal)
	}

	s.logger.Info(ctx, "user registered", "external_id", externalID, "node", node.Name)

	if initialDuration > 0 {
		if _, err := s.client.AddUser(ctx, node, user.Credential, user.Email); err != nil {
			// Recoverable only via the reconciliation loop.
			s.logger.Warn(ctx, "initial provisioning failed", "external_id", externalID, "node", node.Name, "err", err)
		} else if err := s.repomanager.Users(s.db).SetRemoteState(ctx, user.ID, models.RemoteStateProvisioned); err != nil {
			s.logger.Error(ctx, "failed to record remote state", "external_id", externalID, "err", err)
		}
	}

	return user, nil
}

// Extend pushes the user's entitlement forward by the given duration and
// returns the new end. The new end is computed by the store in one statement
// (active entitlements extend from their current end, expired ones from now),
// so concurrent extensions add up instead of overwriting each other.
func (s *UserService) Extend(ctx context.Context, externalID string, additional time.Duration) (time.Time, error) {
	if err := validateEntitlementDuration(additional); err != nil {
		return time.Time{}, err
	}

	var newEnd time.Time

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		user, err := s.repomanager.Users(tx).GetByExternalID(ctx, externalID)
		if err != nil {
			return err
		}

		newEnd, err = s.repomanager.Users(tx).ExtendEntitlement(ctx, user.ID, additional, s.now())
		if err != nil {
			return err
		}

		return s.repomanager.Activity(tx).Append(ctx, user.ID, models.ActionSubscriptionExtend,
			fmt.Sprintf("Added %s, new end: %s", common.FormatDuration(additional), newEnd.Format(time.RFC3339)))
	})
	if err != nil {
		return time.Time{}, err
	}

	s.logger.Info(ctx, "subscription extended", "external_id", externalID, "new_end", newEnd)
	return newEnd, nil
}

// SetExactEnd overrides the entitlement end with an explicit timestamp,
// which must be strictly in the future.
func (s *UserService) SetExactEnd(ctx context.Context, externalID string, end time.Time) error {
	if !end.After(s.now()) {
		return common.ErrInvalidEndDate
	}

	user, err := s.repomanager.Users(s.db).GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdateEntitlementEnd(ctx, user.ID, end); err != nil {
			return err
		}
		return s.repomanager.Activity(tx).Append(ctx, user.ID, models.ActionSubscriptionEndSet,
			fmt.Sprintf("End set to %s", end.Format(time.RFC3339)))
	})
}

// ResetToExpired expires the user immediately. The reconciliation loop picks
// up the deprovisioning on its next tick.
func (s *UserService) ResetToExpired(ctx context.Context, externalID string) error {
	user, err := s.repomanager.Users(s.db).GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	return dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdateEntitlementEnd(ctx, user.ID, s.now()); err != nil {
			return err
		}
		return s.repomanager.Activity(tx).Append(ctx, user.ID, models.ActionSubscriptionReset,
			"Subscription reset by admin")
	})
}

// Delete removes the user. If a node is assigned the remote record is
// removed best-effort first: a stale remote record is preferable to an
// undeletable user. Activations, activity, and pending charge jobs cascade
// in one transaction.
func (s *UserService) Delete(ctx context.Context, externalID string) error {
	user, err := s.repomanager.Users(s.db).GetByExternalID(ctx, externalID)
	if err != nil {
		return err
	}

	if user.NodeID != nil {
		node, err := s.repomanager.Nodes(s.db).GetByID(ctx, *user.NodeID)
		if err != nil {
			s.logger.Warn(ctx, "node lookup failed during delete", "external_id", externalID, "err", err)
		} else if _, err := s.client.RemoveUser(ctx, node, user.Credential); err != nil {
			s.logger.Warn(ctx, "remote deprovision failed during delete", "external_id", externalID, "node", node.Name, "err", err)
		}
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Vouchers(tx).DeleteActivationsForUser(ctx, user.ID); err != nil {
			return err
		}
		if err := s.repomanager.Activity(tx).DeleteForUser(ctx, user.ID); err != nil {
			return err
		}
		if err := s.repomanager.Jobs(tx).DeleteForUser(ctx, user.ID); err != nil {
			return err
		}
		if err := s.repomanager.Payments(tx).DeleteForUser(ctx, user.ID); err != nil {
			return err
		}
		return s.repomanager.Users(tx).Delete(ctx, user.ID)
	})
	if err != nil {
		return err
	}

	s.logger.Info(ctx, "user deleted", "external_id", externalID)
	return nil
}

// GetConfig returns the user's connection descriptor from their node. If the
// node has no record of the user, provisioning is attempted on demand before
// giving up.
func (s *UserService) GetConfig(ctx context.Context, externalID string) (string, error) {
	user, err := s.repomanager.Users(s.db).GetByExternalID(ctx, externalID)
	if err != nil {
		return "", err
	}
	if !user.IsEntitled(s.now()) {
		return "", common.ErrNotEntitled
	}
	if user.NodeID == nil {
		return "", common.ErrNoNodeAssigned
	}

	node, err := s.repomanager.Nodes(s.db).GetByID(ctx, *user.NodeID)
	if err != nil {
		return "", err
	}

	record, err := s.client.GetUser(ctx, node, user.Credential)
	if err != nil {
		return "", fmt.Errorf("%w: %v", common.ErrProvisioningFailed, err)
	}
	if record == nil {
		// Self-healing path: the node lost (or never had) the record.
		record, err = s.client.AddUser(ctx, node, user.Credential, user.Email)
		if err != nil {
			return "", fmt.Errorf("%w: %v", common.ErrProvisioningFailed, err)
		}
		if err := s.repomanager.Users(s.db).SetRemoteState(ctx, user.ID, models.RemoteStateProvisioned); err != nil {
			s.logger.Error(ctx, "failed to record remote state", "external_id", externalID, "err", err)
		}
	}

	link := record.ConnectionLink()
	if link == "" {
		return "", common.ErrConfigUnavailable
	}
	return link, nil
}

func (s *UserService) GetByExternalID(ctx context.Context, externalID string) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByExternalID(ctx, externalID)
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*models.User, error) {
	return s.repomanager.Users(s.db).GetByID(ctx, id)
}

// prolongDays applies the extension rule expressed in whole days inside an
// already-open transaction. Used by the recurring charge scheduler.
func (s *UserService) prolongDays(ctx context.Context, tx dbx.DBTX, userID int64, days int) (time.Time, error) {
	user, err := s.repomanager.Users(tx).GetByID(ctx, userID)
	if err != nil {
		return time.Time{}, err
	}
	if !user.IsActive {
		return time.Time{}, fmt.Errorf("%w: account is inactive", common.ErrValidation)
	}

	newEnd, err := s.repomanager.Users(tx).ExtendEntitlement(ctx, userID, time.Duration(days)*24*time.Hour, s.now())
	if err != nil {
		return time.Time{}, err
	}

	err = s.repomanager.Activity(tx).Append(ctx, userID, models.ActionSubscriptionExtend,
		fmt.Sprintf("Prolonged %d days, new end: %s", days, newEnd.Format(time.RFC3339)))
	if err != nil {
		return time.Time{}, err
	}
	return newEnd, nil
}

// --- reconciliation primitives ---

// ProvisionCandidates returns entitled users whose last confirmed remote
// state is not "provisioned".
func (s *UserService) ProvisionCandidates(ctx context.Context) ([]*models.UserNode, error) {
	return s.repomanager.Users(s.db).ListProvisionCandidates(ctx, s.now())
}

// DeprovisionCandidates returns expired users whose removal from their node
// has not been confirmed yet.
func (s *UserService) DeprovisionCandidates(ctx context.Context) ([]*models.UserNode, error) {
	return s.repomanager.Users(s.db).ListDeprovisionCandidates(ctx, s.now())
}

// EnsureProvisioned converges one entitled user onto their node. The remote
// state advances only after the node confirms presence, so failures are
// retried on the next tick.
func (s *UserService) EnsureProvisioned(ctx context.Context, un *models.UserNode) error {
	record, err := s.client.GetUser(ctx, &un.Node, un.User.Credential)
	if err != nil {
		return err
	}

	if record == nil {
		if _, err := s.client.AddUser(ctx, &un.Node, un.User.Credential, un.User.Email); err != nil {
			return err
		}
		if err := s.repomanager.Activity(s.db).Append(ctx, un.User.ID, models.ActionVPNActivated,
			fmt.Sprintf("Added to node %s", un.Node.Name)); err != nil {
			s.logger.Error(ctx, "activity log append failed", "user_id", un.User.ID, "err", err)
		}
		s.logger.Info(ctx, "user provisioned", "email", un.User.Email, "node", un.Node.Name)
	}

	return s.repomanager.Users(s.db).SetRemoteState(ctx, un.User.ID, models.RemoteStateProvisioned)
}

// EnsureDeprovisioned converges one expired user off their node.
func (s *UserService) EnsureDeprovisioned(ctx context.Context, un *models.UserNode) error {
	acked, err := s.client.RemoveUser(ctx, &un.Node, un.User.Credential)
	if err != nil {
		return err
	}
	if !acked {
		return fmt.Errorf("%w: node did not acknowledge removal", common.ErrRemoteProtocol)
	}

	if err := s.repomanager.Activity(s.db).Append(ctx, un.User.ID, models.ActionVPNDeactivated,
		fmt.Sprintf("Removed from node %s", un.Node.Name)); err != nil {
		s.logger.Error(ctx, "activity log append failed", "user_id", un.User.ID, "err", err)
	}
	s.logger.Info(ctx, "user deprovisioned", "email", un.User.Email, "node", un.Node.Name)

	return s.repomanager.Users(s.db).SetRemoteState(ctx, un.User.ID, models.RemoteStateDeprovisioned)
}

// EntitlementCounts returns the current number of active and expired users.
func (s *UserService) EntitlementCounts(ctx context.Context) (int, int, error) {
	return s.repomanager.Users(s.db).CountByEntitlement(ctx, s.now())
}

func (s *UserService) generateRoutingEmail(externalID string) (string, error) {
	digits := externalID
	if len(digits) > 5 {
		digits = digits[len(digits)-5:]
	}
	letters, err := common.RandLowerString(routingEmailLetters)
	if err != nil {
		return "", err
	}
	return digits + letters + "@" + s.emailDomain, nil
}
