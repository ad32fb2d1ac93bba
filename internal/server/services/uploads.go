package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"iter"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dmitrijs2005/crawlupload/internal/common"
	"github.com/dmitrijs2005/crawlupload/internal/cryptox"
	"github.com/dmitrijs2005/crawlupload/internal/dbx"
	"github.com/dmitrijs2005/crawlupload/internal/filex"
	"github.com/dmitrijs2005/crawlupload/internal/logging"
	"github.com/dmitrijs2005/crawlupload/internal/server/models"
	"github.com/dmitrijs2005/crawlupload/internal/server/observability"
	"github.com/dmitrijs2005/crawlupload/internal/server/repositories/crawls"
	"github.com/dmitrijs2005/crawlupload/internal/server/repositories/repomanager"
)

const (
	// DefaultChunkSize is how many bytes the stream path reads at a time.
	DefaultChunkSize = cryptox.DefaultChunkSize

	// DefaultPageSize and MaxPageSize bound list pages.
	DefaultPageSize = 1000
	MaxPageSize     = 1000

	defaultCleanupTimeout = time.Minute
	streamIDPrefix        = "upload-"
)

// Storage is the object store uploads are written to.
type Storage interface {
	UploadSingle(ctx context.Context, name string, r io.Reader) error
	UploadMultipart(ctx context.Context, name string, chunks iter.Seq2[[]byte, error], minPartSize int64) error
	DeleteObjects(ctx context.Context, names []string) error
	PresignGet(ctx context.Context, name string) (string, error)
}

// FilePart is one named file of a form submission. Open is called once,
// when the part is about to be stored.
type FilePart struct {
	Filename string
	Open     func() (io.ReadCloser, error)
}

type AddedResult struct {
	ID    string `json:"id"`
	Added bool   `json:"added"`
}

type DeletedResult struct {
	Deleted bool `json:"deleted"`
}

type UpdatedResult struct {
	Updated bool `json:"updated"`
}

// ListOptions selects a page of uploads. Page is 1-based.
type ListOptions struct {
	Page     int
	PageSize int
	UserID   string
	Name     string
}

type ListResult struct {
	Items    []models.CrawlOut `json:"items"`
	Total    int               `json:"total"`
	Page     int               `json:"page"`
	PageSize int               `json:"pageSize"`
}

// UpdateUpload is a partial metadata change. Nil fields are kept.
type UpdateUpload struct {
	Name  *string   `json:"name"`
	Notes *string   `json:"notes"`
	Tags  *[]string `json:"tags"`
}

// UploadOption configures an UploadService.
type UploadOption func(*UploadService)

// WithMinPartSize sets the smallest multipart part of stream uploads.
func WithMinPartSize(n int64) UploadOption {
	return func(s *UploadService) { s.minPartSize = n }
}

// WithChunkSize sets the read size of stream uploads. Values below one are
// ignored.
func WithChunkSize(n int) UploadOption {
	return func(s *UploadService) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithClock replaces time.Now for record timestamps.
func WithClock(now func() time.Time) UploadOption {
	return func(s *UploadService) { s.now = now }
}

// WithIDGenerator replaces uuid.NewString for fresh upload ids.
func WithIDGenerator(gen func() string) UploadOption {
	return func(s *UploadService) { s.newID = gen }
}

// UploadService ingests uploaded files into object storage and records them.
//
// Bytes are digested while they are forwarded to storage, and a record is
// committed only after every object it names is stored. Objects that end up
// unreferenced (superseded by a replace, left over from a failed request, or
// belonging to deleted uploads) are removed best effort; those failures are
// logged and counted but never change the result of the call.
type UploadService struct {
	db             *sql.DB
	repomanager    repomanager.RepositoryManager
	storage        Storage
	logger         logging.Logger
	metrics        *observability.Metrics
	tracer         trace.Tracer
	minPartSize    int64
	chunkSize      int
	cleanupTimeout time.Duration
	now            func() time.Time
	newID          func() string
}

func NewUploadService(db *sql.DB, rm repomanager.RepositoryManager, st Storage, logger logging.Logger,
	metrics *observability.Metrics, opts ...UploadOption) *UploadService {
	s := &UploadService{
		db:             db,
		repomanager:    rm,
		storage:        st,
		logger:         logger.With("module", "upload_service"),
		metrics:        metrics,
		tracer:         otel.Tracer(observability.TracerName),
		minPartSize:    common.MinUploadPartSize,
		chunkSize:      DefaultChunkSize,
		cleanupTimeout: defaultCleanupTimeout,
		now:            time.Now,
		newID:          uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// UploadStream stores body as a single file and commits an upload holding it.
//
// When replaceID names an existing upload of org, that upload is overwritten
// in place and the files it referenced are deleted after the commit.
// Otherwise, or when the upload is deleted before the commit, a fresh id is
// used. A storage failure returns an error wrapping
// common.ErrUploadFailed and leaves every existing upload untouched.
func (s *UploadService) UploadStream(ctx context.Context, body io.Reader, filename, name, notes string,
	org models.Organization, user models.User, replaceID string) (res *AddedResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "upload.stream", trace.WithAttributes(
		attribute.String("org", org.ID), attribute.String("replace_id", replaceID)))
	var stored uint64
	defer func() {
		s.metrics.ObserveUpload(observability.SourceStream, stored, time.Since(start), err)
		endSpan(span, err)
	}()

	id, err := s.resolveStreamID(ctx, org, replaceID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("upload_id", id))

	storageName := filex.StorageName(filex.UploadPrefix(org.ID, id), filename)
	d := cryptox.NewDigester(storageName)

	chunks := cryptox.Chunks(ctx, body, s.chunkSize, d)
	if err := s.storage.UploadMultipart(ctx, storageName, chunks, s.minPartSize); err != nil {
		s.logger.Error(ctx, "stream upload failed", "upload_id", id, "key", storageName, "error", err)
		return nil, fmt.Errorf("%w: %w", common.ErrUploadFailed, err)
	}

	file := d.CrawlFile()
	crawl := models.NewUpload(id, s.uploadName(name), notes, org, user, []models.CrawlFile{file}, s.now())

	superseded, err := s.commit(ctx, crawl, id == replaceID)
	if err != nil {
		s.discard(ctx, "commit_failed", []string{storageName})
		return nil, err
	}
	stored = crawl.FileSize
	id = crawl.ID

	s.discard(ctx, "replaced", superseded)

	s.logger.Info(ctx, "upload stored", "upload_id", id, "org", org.ID, "bytes", file.Size,
		"replaced", len(superseded) > 0)
	return &AddedResult{ID: id, Added: true}, nil
}

func (s *UploadService) resolveStreamID(ctx context.Context, org models.Organization, replaceID string) (string, error) {
	if replaceID != "" {
		_, err := s.repomanager.Crawls(s.db).FindOne(ctx, replaceID, org.ID, common.KindUpload)
		switch {
		case err == nil:
			return replaceID, nil
		case errors.Is(err, common.ErrorNotFound):
			s.logger.Debug(ctx, "replace target not found, using a fresh id", "replace_id", replaceID)
		default:
			return "", fmt.Errorf("lookup replace target: %w", err)
		}
	}
	return streamIDPrefix + s.newID(), nil
}

// UploadFormData stores each part as its own file, in order, and commits one
// upload holding all of them. If any part fails, the objects already stored
// by this call are deleted and an error wrapping common.ErrUploadFailed is
// returned.
func (s *UploadService) UploadFormData(ctx context.Context, parts []FilePart, name, notes string,
	org models.Organization, user models.User) (res *AddedResult, err error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "upload.formdata", trace.WithAttributes(
		attribute.String("org", org.ID), attribute.Int("parts", len(parts))))
	var stored uint64
	defer func() {
		s.metrics.ObserveUpload(observability.SourceFormData, stored, time.Since(start), err)
		endSpan(span, err)
	}()

	if len(parts) == 0 {
		return nil, fmt.Errorf("%w: no files", common.ErrorInvalidInput)
	}

	id := s.newID()
	prefix := filex.UploadPrefix(org.ID, id)

	files := make([]models.CrawlFile, 0, len(parts))
	for i, part := range parts {
		file, err := s.storePart(ctx, prefix, part)
		if err != nil {
			s.logger.Error(ctx, "form part upload failed", "upload_id", id, "part", i, "error", err)
			s.discard(ctx, "part_failed", storageNames(files))
			return nil, fmt.Errorf("%w: part %d: %w", common.ErrUploadFailed, i, err)
		}
		files = append(files, file)
	}

	crawl := models.NewUpload(id, s.uploadName(name), notes, org, user, files, s.now())

	if _, err := s.commit(ctx, crawl, false); err != nil {
		s.discard(ctx, "commit_failed", storageNames(files))
		return nil, err
	}
	stored = crawl.FileSize

	s.logger.Info(ctx, "upload stored", "upload_id", id, "org", org.ID, "files", crawl.FileCount, "bytes", crawl.FileSize)
	return &AddedResult{ID: id, Added: true}, nil
}

func (s *UploadService) storePart(ctx context.Context, prefix string, part FilePart) (models.CrawlFile, error) {
	storageName := filex.StorageName(prefix, part.Filename)

	rc, err := part.Open()
	if err != nil {
		return models.CrawlFile{}, fmt.Errorf("open %q: %w", part.Filename, err)
	}
	defer rc.Close()

	d := cryptox.NewDigester(storageName)
	if err := s.storage.UploadSingle(ctx, storageName, cryptox.NewDigestingReader(rc, d)); err != nil {
		return models.CrawlFile{}, err
	}
	return d.CrawlFile(), nil
}

// commit writes crawl and returns the storage names of the files it
// superseded. The previous file set is read under a row lock in the same
// transaction, so of two concurrent replaces of one id each deletes exactly
// what it overwrote and the later commit wins.
//
// When replacing is set and the row vanished before the lock was granted,
// the upload was deleted concurrently: crawl gets a fresh id instead of
// resurrecting the deleted one.
func (s *UploadService) commit(ctx context.Context, crawl *models.Crawl, replacing bool) ([]string, error) {
	var previous []models.CrawlFile

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.Crawls(tx)

		files, found, err := repo.LockFiles(ctx, crawl.ID)
		if err != nil {
			return err
		}
		if replacing && !found {
			fresh := streamIDPrefix + s.newID()
			s.logger.Warn(ctx, "replace target deleted concurrently, using a fresh id",
				"replace_id", crawl.ID, "upload_id", fresh)
			crawl.ID = fresh
		}
		previous = files
		return repo.Upsert(ctx, crawl)
	})
	if err != nil {
		return nil, fmt.Errorf("commit upload %s: %w", crawl.ID, err)
	}

	keep := make(map[string]struct{}, len(crawl.Files))
	for _, f := range crawl.Files {
		keep[f.Filename] = struct{}{}
	}
	var superseded []string
	for _, f := range previous {
		if _, ok := keep[f.Filename]; !ok {
			superseded = append(superseded, f.Filename)
		}
	}
	return superseded, nil
}

// DeleteUploads deletes the listed uploads of org and then their objects.
// It returns common.ErrorNotFound when none of the ids matched.
func (s *UploadService) DeleteUploads(ctx context.Context, ids []string, org models.Organization) (*DeletedResult, error) {
	var deleted []*models.Crawl

	err := dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		var err error
		deleted, err = s.repomanager.Crawls(tx).DeleteMany(ctx, ids, org.ID, common.KindUpload)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("delete uploads: %w", err)
	}
	if len(deleted) == 0 {
		return nil, common.ErrorNotFound
	}

	var names []string
	for _, c := range deleted {
		names = append(names, c.StorageNames()...)
	}
	s.discard(ctx, "deleted", names)

	s.logger.Info(ctx, "uploads deleted", "org", org.ID, "requested", len(ids), "deleted", len(deleted))
	return &DeletedResult{Deleted: true}, nil
}

// GetUpload returns the detail view of one upload with presigned links to
// its files.
func (s *UploadService) GetUpload(ctx context.Context, id string, org models.Organization) (*models.CrawlOutWithResources, error) {
	crawl, err := s.repomanager.Crawls(s.db).FindOne(ctx, id, org.ID, common.KindUpload)
	if err != nil {
		return nil, err
	}
	return s.withResources(ctx, crawl)
}

// GetAnyUpload is GetUpload without the org scope. Only superusers may call
// it; anyone else gets common.ErrorForbidden.
func (s *UploadService) GetAnyUpload(ctx context.Context, id string, user models.User) (*models.CrawlOutWithResources, error) {
	if !user.IsSuperuser {
		return nil, common.ErrorForbidden
	}
	crawl, err := s.repomanager.Crawls(s.db).FindByID(ctx, id, common.KindUpload)
	if err != nil {
		return nil, err
	}
	return s.withResources(ctx, crawl)
}

func (s *UploadService) withResources(ctx context.Context, crawl *models.Crawl) (*models.CrawlOutWithResources, error) {
	out := &models.CrawlOutWithResources{
		CrawlOut:  crawl.Out(),
		Resources: make([]models.CrawlFileOut, 0, len(crawl.Files)),
	}
	for _, f := range crawl.Files {
		url, err := s.storage.PresignGet(ctx, f.Filename)
		if err != nil {
			return nil, fmt.Errorf("presign %s: %w", f.Filename, err)
		}
		out.Resources = append(out.Resources, models.CrawlFileOut{
			Name: f.Filename,
			Path: url,
			Hash: f.Hash,
			Size: f.Size,
		})
	}
	return out, nil
}

// ListUploads returns one page of the org's uploads, newest first.
func (s *UploadService) ListUploads(ctx context.Context, org models.Organization, opts ListOptions) (*ListResult, error) {
	page := max(opts.Page, 1)
	pageSize := opts.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, MaxPageSize)

	items, total, err := s.repomanager.Crawls(s.db).List(ctx, org.ID, common.KindUpload,
		crawls.ListFilter{UserID: opts.UserID, Name: opts.Name}, pageSize, (page-1)*pageSize)
	if err != nil {
		return nil, err
	}

	out := make([]models.CrawlOut, 0, len(items))
	for _, c := range items {
		out = append(out, c.Out())
	}
	return &ListResult{Items: out, Total: total, Page: page, PageSize: pageSize}, nil
}

// UpdateUpload changes the name, notes or tags of an upload.
func (s *UploadService) UpdateUpload(ctx context.Context, id string, org models.Organization, upd UpdateUpload) (*UpdatedResult, error) {
	if upd.Name == nil && upd.Notes == nil && upd.Tags == nil {
		return nil, fmt.Errorf("%w: nothing to update", common.ErrorInvalidInput)
	}

	err := s.repomanager.Crawls(s.db).UpdateMeta(ctx, id, org.ID, common.KindUpload,
		crawls.UpdateFields{Name: upd.Name, Notes: upd.Notes, Tags: upd.Tags})
	if err != nil {
		return nil, err
	}
	return &UpdatedResult{Updated: true}, nil
}

// cleanup deletes objects that no committed upload references. It runs on a
// context detached from ctx's cancellation so it can finish after the
// request is gone.
func (s *UploadService) cleanup(ctx context.Context, names []string) error {
	if len(names) == 0 {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cleanupTimeout)
	defer cancel()
	return s.storage.DeleteObjects(ctx, names)
}

// discard runs cleanup and records a failure without returning it. Callers
// have already decided their outcome.
func (s *UploadService) discard(ctx context.Context, reason string, names []string) {
	if err := s.cleanup(ctx, names); err != nil {
		s.metrics.CleanupFailed()
		s.logger.Warn(ctx, "object cleanup failed", "reason", reason, "objects", names, "error", err)
	}
}

func (s *UploadService) uploadName(name string) string {
	if name != "" {
		return name
	}
	return "New Upload @ " + s.now().UTC().Format("2006-01-02 15:04:05")
}

func storageNames(files []models.CrawlFile) []string {
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Filename)
	}
	return names
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
