// Package crawls provides the PostgreSQL-backed store of crawl records and
// their ordered file lists.
package crawls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/dmitrijs2005/crawlupload/internal/common"
	"github.com/dmitrijs2005/crawlupload/internal/dbx"
	"github.com/dmitrijs2005/crawlupload/internal/server/models"
)

const crawlColumns = `id, type, oid, userid, name, notes, tags, state, file_count, file_size, started, finished`

// PostgresRepository implements crawl storage over a dbx.DBTX (*sql.DB or *sql.Tx).
type PostgresRepository struct {
	db dbx.DBTX
}

// NewPostgresRepository constructs a repository bound to the given DBTX.
func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCrawl(row rowScanner) (*models.Crawl, error) {
	var (
		c        models.Crawl
		tags     []byte
		fileSize int64
	)
	if err := row.Scan(&c.ID, &c.Type, &c.OrgID, &c.UserID, &c.Name, &c.Notes, &tags,
		&c.State, &c.FileCount, &fileSize, &c.Started, &c.Finished); err != nil {
		return nil, err
	}
	c.FileSize = uint64(fileSize)
	c.Tags = []string{}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &c.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &c, nil
}

// FindOne returns the crawl with its files, or common.ErrorNotFound when no
// crawl of that kind exists in the org.
func (r *PostgresRepository) FindOne(ctx context.Context, id, orgID, kind string) (*models.Crawl, error) {
	query := `SELECT ` + crawlColumns + ` FROM crawls WHERE id = $1 AND oid = $2 AND type = $3`

	c, err := scanCrawl(r.db.QueryRowContext(ctx, query, id, orgID, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	c.Files, err = r.selectFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (r *PostgresRepository) selectFiles(ctx context.Context, id string) ([]models.CrawlFile, error) {
	query := `SELECT filename, hash, size, storage FROM crawl_files WHERE crawl_id = $1 ORDER BY ordinal`

	rows, err := r.db.QueryContext(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	defer rows.Close()

	files := []models.CrawlFile{}
	for rows.Next() {
		var (
			f    models.CrawlFile
			size int64
		)
		if err := rows.Scan(&f.Filename, &f.Hash, &size, &f.Storage); err != nil {
			return nil, err
		}
		f.Size = uint64(size)
		files = append(files, f)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return files, nil
}

// FindByID returns the crawl of the given kind with its files regardless of
// the org that owns it.
func (r *PostgresRepository) FindByID(ctx context.Context, id, kind string) (*models.Crawl, error) {
	query := `SELECT ` + crawlColumns + ` FROM crawls WHERE id = $1 AND type = $2`

	c, err := scanCrawl(r.db.QueryRowContext(ctx, query, id, kind))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, common.ErrorNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	c.Files, err = r.selectFiles(ctx, id)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// LockFiles locks the crawl row for id until the surrounding transaction
// ends and returns the files it references at that moment. found reports
// whether the row existed once the lock was taken; a missing crawl yields
// no files and no error.
//
// Must run inside a transaction. Locking the parent row makes concurrent
// writers of the same id queue up, and the file read that follows sees the
// rows committed by whoever held the lock before.
func (r *PostgresRepository) LockFiles(ctx context.Context, id string) (files []models.CrawlFile, found bool, err error) {
	var locked string
	err = r.db.QueryRowContext(ctx, `SELECT id FROM crawls WHERE id = $1 FOR UPDATE`, id).Scan(&locked)
	if errors.Is(err, sql.ErrNoRows) {
		return []models.CrawlFile{}, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("db error: %w", err)
	}
	files, err = r.selectFiles(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return files, true, nil
}

// Upsert creates the crawl or overwrites the existing one with the same id,
// then replaces its file rows with crawl.Files in order. An id that belongs
// to a different org or kind is left untouched and reported as
// common.ErrorNotFound.
//
// Must run inside a transaction so the record and its files change together.
func (r *PostgresRepository) Upsert(ctx context.Context, crawl *models.Crawl) error {
	tags, err := json.Marshal(nonNilTags(crawl.Tags))
	if err != nil {
		return fmt.Errorf("encode tags: %w", err)
	}

	query := `
		INSERT INTO crawls (` + crawlColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id)
		DO UPDATE SET
			userid = EXCLUDED.userid,
			name = EXCLUDED.name,
			notes = EXCLUDED.notes,
			tags = EXCLUDED.tags,
			state = EXCLUDED.state,
			file_count = EXCLUDED.file_count,
			file_size = EXCLUDED.file_size,
			started = EXCLUDED.started,
			finished = EXCLUDED.finished
			WHERE crawls.oid = EXCLUDED.oid AND crawls.type = EXCLUDED.type;
	`
	res, err := r.db.ExecContext(ctx, query,
		crawl.ID, crawl.Type, crawl.OrgID, crawl.UserID, crawl.Name, crawl.Notes, string(tags),
		crawl.State, crawl.FileCount, int64(crawl.FileSize), crawl.Started, crawl.Finished)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
	case 0:
		return common.ErrorNotFound
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}

	if _, err := r.db.ExecContext(ctx, `DELETE FROM crawl_files WHERE crawl_id = $1`, crawl.ID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}

	for i, f := range crawl.Files {
		_, err := r.db.ExecContext(ctx,
			`INSERT INTO crawl_files (crawl_id, ordinal, filename, hash, size, storage) VALUES ($1, $2, $3, $4, $5, $6)`,
			crawl.ID, i, f.Filename, f.Hash, int64(f.Size), f.Storage)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

// DeleteMany deletes the crawls of the given kind in the org whose ids are
// listed and returns them with their files. Ids that do not match are
// ignored.
//
// Must run inside a transaction. The rows are locked before their files are
// read, so a replace that committed first is seen with its new files and one
// that commits later finds the row gone.
func (r *PostgresRepository) DeleteMany(ctx context.Context, ids []string, orgID, kind string) ([]*models.Crawl, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	args := []any{orgID, kind}
	in := placeholders(len(args), len(ids))
	for _, id := range ids {
		args = append(args, id)
	}

	lockQuery := `SELECT id FROM crawls WHERE oid = $1 AND type = $2 AND id IN (` + in + `) FOR UPDATE`

	rows, err := r.db.QueryContext(ctx, lockQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	locked := 0
	for rows.Next() {
		locked++
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()
	if locked == 0 {
		return nil, nil
	}

	filesQuery := `
		SELECT f.crawl_id, f.filename, f.hash, f.size, f.storage
		FROM crawl_files f JOIN crawls c ON c.id = f.crawl_id
		WHERE c.oid = $1 AND c.type = $2 AND c.id IN (` + in + `)
		ORDER BY f.crawl_id, f.ordinal`

	rows, err = r.db.QueryContext(ctx, filesQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to select files: %w", err)
	}
	files := map[string][]models.CrawlFile{}
	for rows.Next() {
		var (
			crawlID string
			f       models.CrawlFile
			size    int64
		)
		if err := rows.Scan(&crawlID, &f.Filename, &f.Hash, &size, &f.Storage); err != nil {
			rows.Close()
			return nil, err
		}
		f.Size = uint64(size)
		files[crawlID] = append(files[crawlID], f)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	deleteQuery := `DELETE FROM crawls WHERE oid = $1 AND type = $2 AND id IN (` + in + `) RETURNING ` + crawlColumns

	rows, err = r.db.QueryContext(ctx, deleteQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var deleted []*models.Crawl
	for rows.Next() {
		c, err := scanCrawl(rows)
		if err != nil {
			return nil, err
		}
		c.Files = files[c.ID]
		deleted = append(deleted, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return deleted, nil
}

// List returns one page of crawls of the given kind in the org, newest
// first, together with the total number of matching crawls. Files are not
// loaded.
func (r *PostgresRepository) List(ctx context.Context, orgID, kind string, filter ListFilter, limit, offset int) ([]*models.Crawl, int, error) {
	where := `oid = $1 AND type = $2`
	args := []any{orgID, kind}
	if filter.UserID != "" {
		args = append(args, filter.UserID)
		where += ` AND userid = $` + strconv.Itoa(len(args))
	}
	if filter.Name != "" {
		args = append(args, filter.Name)
		where += ` AND name = $` + strconv.Itoa(len(args))
	}

	var total int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM crawls WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("db error: %w", err)
	}

	pageArgs := append(args[:len(args):len(args)], limit, offset)
	query := `SELECT ` + crawlColumns + ` FROM crawls WHERE ` + where +
		` ORDER BY finished DESC, id LIMIT $` + strconv.Itoa(len(pageArgs)-1) + ` OFFSET $` + strconv.Itoa(len(pageArgs))

	rows, err := r.db.QueryContext(ctx, query, pageArgs...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to select crawls: %w", err)
	}
	defer rows.Close()

	result := []*models.Crawl{}
	for rows.Next() {
		c, err := scanCrawl(rows)
		if err != nil {
			return nil, 0, err
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, err
	}
	return result, total, nil
}

// UpdateMeta changes the name, notes or tags of a crawl. Fields left nil keep
// their value. Returns common.ErrorNotFound when no crawl matched.
func (r *PostgresRepository) UpdateMeta(ctx context.Context, id, orgID, kind string, fields UpdateFields) error {
	var name, notes sql.NullString
	if fields.Name != nil {
		name = sql.NullString{String: *fields.Name, Valid: true}
	}
	if fields.Notes != nil {
		notes = sql.NullString{String: *fields.Notes, Valid: true}
	}
	var tags sql.NullString
	if fields.Tags != nil {
		b, err := json.Marshal(nonNilTags(*fields.Tags))
		if err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
		tags = sql.NullString{String: string(b), Valid: true}
	}

	query := `
		UPDATE crawls SET
			name = COALESCE($1, name),
			notes = COALESCE($2, notes),
			tags = COALESCE($3::jsonb, tags)
		WHERE id = $4 AND oid = $5 AND type = $6
	`
	res, err := r.db.ExecContext(ctx, query, name, notes, tags, id, orgID, kind)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}

// placeholders returns "$from+1, ..., $from+n".
func placeholders(from, n int) string {
	var b strings.Builder
	for i := 1; i <= n; i++ {
		if i > 1 {
			b.WriteString(", ")
		}
		b.WriteString("$")
		b.WriteString(strconv.Itoa(from + i))
	}
	return b.String()
}

func nonNilTags(tags []string) []string {
	if tags == nil {
		return []string{}
	}
	return tags
}
