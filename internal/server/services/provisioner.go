package services

import (
	"context"

	"github.com/dmitrijs2005/vpnkeeper/internal/server/models"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/provision"
)

// Provisioner is the subset of the node provisioning client used by services.
type Provisioner interface {
	AddUser(ctx context.Context, node *models.Node, credential, email string) (*provision.Record, error)
	GetUser(ctx context.Context, node *models.Node, credential string) (*provision.Record, error)
	RemoveUser(ctx context.Context, node *models.Node, credential string) (bool, error)
	ProbeStatus(ctx context.Context, node *models.Node) provision.StatusResult
}
