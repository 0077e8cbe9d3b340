package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/accessrequests"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/users"
)

// RepositoryManager vends repositories bound to a DBTX and runs units of
// work. Services never touch a concrete backend directly.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Users(db dbx.DBTX) users.Repository
	RefreshTokens(db dbx.DBTX) refreshtokens.Repository
	Credentials(db dbx.DBTX) credentials.Repository
	AccessRequests(db dbx.DBTX) accessrequests.Repository
	// RunInTx runs fn inside a transaction on db where the backend supports
	// one. fn must obtain its repositories from the DBTX it is given.
	RunInTx(ctx context.Context, db *sql.DB, fn func(ctx context.Context, tx dbx.DBTX) error) error
}
