package crawls

import (
	"context"

	"github.com/dmitrijs2005/crawlupload/internal/server/models"
)

// ListFilter narrows List results. Empty fields do not filter.
type ListFilter struct {
	UserID string
	Name   string
}

// UpdateFields carries a partial metadata update. Nil fields are left as is.
type UpdateFields struct {
	Name  *string
	Notes *string
	Tags  *[]string
}

type Repository interface {
	FindOne(ctx context.Context, id, orgID, kind string) (*models.Crawl, error)
	FindByID(ctx context.Context, id, kind string) (*models.Crawl, error)
	LockFiles(ctx context.Context, id string) (files []models.CrawlFile, found bool, err error)
	Upsert(ctx context.Context, crawl *models.Crawl) error
	DeleteMany(ctx context.Context, ids []string, orgID, kind string) ([]*models.Crawl, error)
	List(ctx context.Context, orgID, kind string, filter ListFilter, limit, offset int) ([]*models.Crawl, int, error)
	UpdateMeta(ctx context.Context, id, orgID, kind string, fields UpdateFields) error
}
