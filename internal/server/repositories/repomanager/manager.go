package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/natskeeper/internal/dbx"
	"github.com/dmitrijs2005/natskeeper/internal/server/repositories/accounts"
	"github.com/dmitrijs2005/natskeeper/internal/server/repositories/operators"
	"github.com/dmitrijs2005/natskeeper/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a database handle or to a
// transaction, so services can run several repositories in one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Operators(db dbx.DBTX) operators.Repository
	Accounts(db dbx.DBTX) accounts.Repository
	Users(db dbx.DBTX) users.Repository
}
