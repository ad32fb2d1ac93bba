package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"iter"
	"sort"
	"sync"

	"github.com/dmitrijs2005/crawlupload/internal/common"
	"github.com/dmitrijs2005/crawlupload/internal/dbx"
	"github.com/dmitrijs2005/crawlupload/internal/server/models"
	"github.com/dmitrijs2005/crawlupload/internal/server/repositories/crawls"
	"github.com/dmitrijs2005/crawlupload/internal/server/repositories/repomanager"
)

// -------- storage fake --------

type fakeStorage struct {
	mu      sync.Mutex
	objects map[string][]byte

	failMultipart     error
	failMultipartLate bool // consume every chunk before failing
	failSingleOn      int  // 1-based UploadSingle call to fail, 0 = never
	failDelete        error
	failPresign       error

	singleCalls int
	deleted     [][]string

	// onDelete runs before each DeleteObjects call, outside the lock.
	onDelete func(names []string)
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{objects: map[string][]byte{}}
}

func (f *fakeStorage) UploadSingle(ctx context.Context, name string, r io.Reader) error {
	f.mu.Lock()
	f.singleCalls++
	call := f.singleCalls
	f.mu.Unlock()

	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	if call == f.failSingleOn {
		return errors.New("backend rejected object")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = data
	return nil
}

func (f *fakeStorage) UploadMultipart(ctx context.Context, name string, chunks iter.Seq2[[]byte, error], minPartSize int64) error {
	var buf bytes.Buffer
	n := 0
	for chunk, err := range chunks {
		if err != nil {
			return err
		}
		if f.failMultipart != nil && !f.failMultipartLate && n == 1 {
			return f.failMultipart
		}
		buf.Write(chunk)
		n++
	}
	if f.failMultipart != nil {
		return f.failMultipart
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[name] = buf.Bytes()
	return nil
}

func (f *fakeStorage) DeleteObjects(ctx context.Context, names []string) error {
	if f.onDelete != nil {
		f.onDelete(names)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, append([]string(nil), names...))
	if f.failDelete != nil {
		return f.failDelete
	}
	for _, n := range names {
		delete(f.objects, n)
	}
	return nil
}

func (f *fakeStorage) PresignGet(ctx context.Context, name string) (string, error) {
	if f.failPresign != nil {
		return "", f.failPresign
	}
	return "https://signed/" + name, nil
}

func (f *fakeStorage) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	keys := make([]string, 0, len(f.objects))
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// -------- repository fake --------

type fakeCrawlsRepo struct {
	crawls.Repository

	mu     sync.Mutex
	crawls map[string]*models.Crawl

	findErr   error
	upsertErr error

	// beforeLock runs at the start of LockFiles, standing in for a writer
	// that committed while the lock was being waited for.
	beforeLock func(id string)
}

func newFakeCrawlsRepo() *fakeCrawlsRepo {
	return &fakeCrawlsRepo{crawls: map[string]*models.Crawl{}}
}

func (r *fakeCrawlsRepo) put(c *models.Crawl) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *c
	r.crawls[c.ID] = &cp
}

func (r *fakeCrawlsRepo) get(id string) (*models.Crawl, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.crawls[id]
	return c, ok
}

func (r *fakeCrawlsRepo) FindOne(ctx context.Context, id, orgID, kind string) (*models.Crawl, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	c, ok := r.get(id)
	if !ok || c.OrgID != orgID || c.Type != kind {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCrawlsRepo) FindByID(ctx context.Context, id, kind string) (*models.Crawl, error) {
	if r.findErr != nil {
		return nil, r.findErr
	}
	c, ok := r.get(id)
	if !ok || c.Type != kind {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (r *fakeCrawlsRepo) LockFiles(ctx context.Context, id string) ([]models.CrawlFile, bool, error) {
	if r.beforeLock != nil {
		r.beforeLock(id)
	}
	c, ok := r.get(id)
	if !ok {
		return []models.CrawlFile{}, false, nil
	}
	return append([]models.CrawlFile(nil), c.Files...), true, nil
}

func (r *fakeCrawlsRepo) remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.crawls, id)
}

func (r *fakeCrawlsRepo) Upsert(ctx context.Context, c *models.Crawl) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	if existing, ok := r.get(c.ID); ok && (existing.OrgID != c.OrgID || existing.Type != c.Type) {
		return common.ErrorNotFound
	}
	r.put(c)
	return nil
}

func (r *fakeCrawlsRepo) DeleteMany(ctx context.Context, ids []string, orgID, kind string) ([]*models.Crawl, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.Crawl
	for _, id := range ids {
		c, ok := r.crawls[id]
		if !ok || c.OrgID != orgID || c.Type != kind {
			continue
		}
		delete(r.crawls, id)
		out = append(out, c)
	}
	return out, nil
}

func (r *fakeCrawlsRepo) List(ctx context.Context, orgID, kind string, filter crawls.ListFilter, limit, offset int) ([]*models.Crawl, int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []*models.Crawl
	for _, c := range r.crawls {
		if c.OrgID != orgID || c.Type != kind {
			continue
		}
		if filter.UserID != "" && c.UserID != filter.UserID {
			continue
		}
		if filter.Name != "" && c.Name != filter.Name {
			continue
		}
		all = append(all, c)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	total := len(all)
	if offset >= total {
		return []*models.Crawl{}, total, nil
	}
	end := min(offset+limit, total)
	return all[offset:end], total, nil
}

func (r *fakeCrawlsRepo) UpdateMeta(ctx context.Context, id, orgID, kind string, fields crawls.UpdateFields) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.crawls[id]
	if !ok || c.OrgID != orgID || c.Type != kind {
		return common.ErrorNotFound
	}
	if fields.Name != nil {
		c.Name = *fields.Name
	}
	if fields.Notes != nil {
		c.Notes = *fields.Notes
	}
	if fields.Tags != nil {
		c.Tags = *fields.Tags
	}
	return nil
}

type fakeRepoManager struct {
	repomanager.RepositoryManager
	c *fakeCrawlsRepo
}

func (m *fakeRepoManager) Crawls(db dbx.DBTX) crawls.Repository { return m.c }

// seqIDs returns an id generator yielding id-1, id-2, ...
func seqIDs() func() string {
	var n int
	return func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}
}
