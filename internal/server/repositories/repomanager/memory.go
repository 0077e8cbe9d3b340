package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/gophvault/internal/dbx"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/accessrequests"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/memory"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/gophvault/internal/server/repositories/users"
)

// MemoryRepositoryManager serves every repository from one memory.Store and
// ignores the DBTX argument. RunInTx is not atomic; the store's version
// check is what protects concurrent transitions.
type MemoryRepositoryManager struct {
	store *memory.Store
}

// NewMemoryRepositoryManager keeps everything in a process-local memory.Store.
// The db arguments are ignored.
func NewMemoryRepositoryManager() *MemoryRepositoryManager {
	return &MemoryRepositoryManager{store: memory.NewStore()}
}

func (m *MemoryRepositoryManager) RunMigrations(context.Context, *sql.DB) error { return nil }

func (m *MemoryRepositoryManager) Users(dbx.DBTX) users.Repository { return m.store.Users() }

func (m *MemoryRepositoryManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository {
	return m.store.RefreshTokens()
}

func (m *MemoryRepositoryManager) Credentials(dbx.DBTX) credentials.Repository {
	return m.store.Credentials()
}

func (m *MemoryRepositoryManager) AccessRequests(dbx.DBTX) accessrequests.Repository {
	return m.store.AccessRequests()
}

// RunInTx calls fn directly. Each memory repository call is atomic on its
// own; versioned updates cover the rest.
func (m *MemoryRepositoryManager) RunInTx(ctx context.Context, _ *sql.DB, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return fn(ctx, nil)
}
