package repomanager

import (
	"context"
	"database/sql"

	"github.com/peerdrop/peerdrop/internal/dbx"
	"github.com/peerdrop/peerdrop/internal/server/repositories/presence"
	"github.com/peerdrop/peerdrop/internal/server/repositories/transfers"
)

// RepositoryManager vends storage-backed repositories and owns schema
// migrations. Services hold a manager plus a *sql.DB and can bind the same
// repositories to a transaction via dbx.WithTx.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Presence(db dbx.DBTX) presence.Repository
	Transfers(db dbx.DBTX) transfers.Repository
}
