// Package services contains server-side business logic: the node directory,
// the entitlement lifecycle manager, the voucher ledger, and the recurring
// charge scheduler. Services own no mutable state beyond their dependencies;
// every multi-step write runs inside a single dbx.WithTx transaction.
package services

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vpnkeeper/internal/common"
	"github.com/dmitrijs2005/vpnkeeper/internal/logging"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/provision"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/repomanager"
)

// NodeService is the node directory: catalog CRUD, health probing, and
// least-loaded placement.
type NodeService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	client      Provisioner
	logger      logging.Logger
}

func NewNodeService(db *sql.DB, m repomanager.RepositoryManager, client Provisioner, logger logging.Logger) *NodeService {
	return &NodeService{db: db, repomanager: m, client: client, logger: logger}
}

func (s *NodeService) List(ctx context.Context, onlyEnabled bool) ([]*models.Node, error) {
	return s.repomanager.Nodes(s.db).List(ctx, onlyEnabled)
}

func (s *NodeService) GetByID(ctx context.Context, id int64) (*models.Node, error) {
	return s.repomanager.Nodes(s.db).GetByID(ctx, id)
}

// SelectLeastLoaded returns the enabled node with the fewest assigned users.
// Ties resolve to the first node in catalog order.
func (s *NodeService) SelectLeastLoaded(ctx context.Context) (*models.Node, error) {
	occupancies, err := s.repomanager.Nodes(s.db).ListEnabledWithOccupancy(ctx)
	if err != nil {
		return nil, err
	}
	if len(occupancies) == 0 {
		return nil, common.ErrNoNodesAvailable
	}

	best := occupancies[0]
	for _, occ := range occupancies[1:] {
		if occ.Users < best.Users {
			best = occ
		}
	}
	return &best.Node, nil
}

// ProbeStatus issues a bounded status call and classifies the result. It
// never returns an error: unreachable, timed-out, and misbehaving nodes all
// come back as tagged results.
func (s *NodeService) ProbeStatus(ctx context.Context, node *models.Node) provision.StatusResult {
	result := s.client.ProbeStatus(ctx, node)
	if result.State != provision.ProbeOnline {
		s.logger.Warn(ctx, "node probe failed", "node", node.Name, "state", result.State, "code", result.Code)
	}
	return result
}

func (s *NodeService) Create(ctx context.Context, name, domain, apiURL, apiToken string) (*models.Node, error) {
	if err := validateNodeData(name, domain, apiURL, apiToken); err != nil {
		return nil, err
	}

	node := &models.Node{Name: name, Domain: domain, APIURL: apiURL, APIToken: apiToken, Enabled: true}
	created, err := s.repomanager.Nodes(s.db).Create(ctx, node)
	if err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "node created", "node", created.Name)
	return created, nil
}

func (s *NodeService) Update(ctx context.Context, node *models.Node) error {
	if err := validateNodeData(node.Name, node.Domain, node.APIURL, node.APIToken); err != nil {
		return err
	}
	return s.repomanager.Nodes(s.db).Update(ctx, node)
}

// Delete removes a node from the catalog. A node with assigned users cannot
// be deleted.
func (s *NodeService) Delete(ctx context.Context, id int64) error {
	repo := s.repomanager.Nodes(s.db)

	count, err := repo.CountAssigned(ctx, id)
	if err != nil {
		return err
	}
	if count > 0 {
		return common.ErrNodeInUse
	}

	if err := repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info(ctx, "node deleted", "node_id", id)
	return nil
}

func (s *NodeService) ToggleEnabled(ctx context.Context, id int64) (bool, error) {
	enabled, err := s.repomanager.Nodes(s.db).ToggleEnabled(ctx, id)
	if err != nil {
		return false, err
	}
	s.logger.Info(ctx, "node toggled", "node_id", id, "enabled", enabled)
	return enabled, nil
}
