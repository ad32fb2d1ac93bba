package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/crawlupload/internal/dbx"
	"github.com/dmitrijs2005/crawlupload/internal/server/repositories/crawls"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Crawls(db dbx.DBTX) crawls.Repository
}
