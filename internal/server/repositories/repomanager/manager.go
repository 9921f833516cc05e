package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/vpnkeeper/internal/dbx"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/activity"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/jobs"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/nodes"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/payments"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/users"
	"github.com/dmitrijs2005/vpnkeeper/internal/server/repositories/vouchers"
)

// RepositoryManager vends repositories bound to a DBTX, so services can use
// the same repository either against the pool or inside a transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Nodes(db dbx.DBTX) nodes.Repository
	Vouchers(db dbx.DBTX) vouchers.Repository
	Activity(db dbx.DBTX) activity.Repository
	Payments(db dbx.DBTX) payments.Repository
	Jobs(db dbx.DBTX) jobs.Repository
}
