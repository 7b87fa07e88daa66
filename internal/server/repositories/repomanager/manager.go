package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/tenantguard/internal/dbx"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/projects"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/tokens"
	"github.com/dmitrijs2005/tenantguard/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a handle, so the same code
// path works on *sql.DB and inside dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	Projects(db dbx.DBTX) projects.Repository
	Tokens(db dbx.DBTX) tokens.Repository
}
