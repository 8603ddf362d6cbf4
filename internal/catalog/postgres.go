package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dharsanguruparan/HashDrop/internal/database"
	"github.com/dharsanguruparan/HashDrop/internal/model"
)

const recordColumns = `id::text, content_id, filename, mime_type, size_bytes, owner_id, visibility, tags, created_at`

// PostgresCatalog wraps all SQL touching the files table.
type PostgresCatalog struct {
	db database.DBTX
}

// NewPostgresCatalog constructs a catalog over a pool or transaction.
func NewPostgresCatalog(db database.DBTX) *PostgresCatalog {
	return &PostgresCatalog{db: db}
}

// Insert implements Catalog.
func (c *PostgresCatalog) Insert(ctx context.Context, rec *model.FileRecord) error {
	tags := normalizeTags(rec.Tags)
	_, err := c.db.Exec(ctx, `
		INSERT INTO files (id, content_id, filename, mime_type, size_bytes, owner_id, visibility, tags, created_at)
		VALUES ($1::uuid,$2,$3,$4,$5,$6,$7,$8,$9)
	`, rec.ID, rec.ContentID, rec.Filename, rec.MimeType, rec.SizeBytes, nullable(rec.OwnerID), rec.Visibility, tags, rec.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert file %s: %w", rec.ID, err)
	}
	return nil
}

// Get implements Catalog.
func (c *PostgresCatalog) Get(ctx context.Context, id string) (*model.FileRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	row := c.db.QueryRow(ctx, `SELECT `+recordColumns+` FROM files WHERE id=$1::uuid`, id)
	return scanOne(row, id)
}

// FindByContent implements Catalog.
func (c *PostgresCatalog) FindByContent(ctx context.Context, contentID string) ([]*model.FileRecord, error) {
	rows, err := c.db.Query(ctx, `
		SELECT `+recordColumns+` FROM files
		WHERE content_id=$1
		ORDER BY created_at DESC, id DESC
	`, contentID)
	if err != nil {
		return nil, fmt.Errorf("select files by content: %w", err)
	}
	return collect(rows)
}

// UpdateVisibility implements Catalog.
func (c *PostgresCatalog) UpdateVisibility(ctx context.Context, id string, v model.Visibility) (*model.FileRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	row := c.db.QueryRow(ctx, `
		UPDATE files SET visibility=$1 WHERE id=$2::uuid
		RETURNING `+recordColumns, v, id)
	return scanOne(row, id)
}

// UpdateTags implements Catalog.
func (c *PostgresCatalog) UpdateTags(ctx context.Context, id string, tags []string) (*model.FileRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	row := c.db.QueryRow(ctx, `
		UPDATE files SET tags=$1 WHERE id=$2::uuid
		RETURNING `+recordColumns, normalizeTags(tags), id)
	return scanOne(row, id)
}

// Delete implements Catalog.
func (c *PostgresCatalog) Delete(ctx context.Context, id string) (*model.FileRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	row := c.db.QueryRow(ctx, `DELETE FROM files WHERE id=$1::uuid RETURNING `+recordColumns, id)
	return scanOne(row, id)
}

// List implements Catalog. The page and its total come from one statement
// via a window count, so both reflect the same snapshot.
func (c *PostgresCatalog) List(ctx context.Context, p model.Principal, q Query) (*Page, error) {
	q = q.normalized()
	where, args := buildListWhere(p, q, 1)
	limitArg := len(args) + 1
	args = append(args, q.PageSize, q.offset())

	rows, err := c.db.Query(ctx, fmt.Sprintf(`
		SELECT %s, COUNT(*) OVER() AS total
		FROM files %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d
	`, recordColumns, where, limitArg, limitArg+1), args...)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var (
		records []*model.FileRecord
		total   int
	)
	for rows.Next() {
		rec, n, err := scanWithTotal(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		total = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}

	// Past the last page the window count is unavailable.
	if len(records) == 0 && q.Page > 1 {
		countArgs := args[:limitArg-1]
		if err := c.db.QueryRow(ctx, `SELECT COUNT(*) FROM files `+where, countArgs...).Scan(&total); err != nil {
			return nil, fmt.Errorf("count files: %w", err)
		}
	}
	return newPage(records, total, q), nil
}

// ListPublic implements Catalog.
func (c *PostgresCatalog) ListPublic(ctx context.Context) ([]*model.FileRecord, error) {
	rows, err := c.db.Query(ctx, `
		SELECT `+recordColumns+` FROM files
		WHERE visibility='public'
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("select public files: %w", err)
	}
	return collect(rows)
}

// buildListWhere renders the visibility rule and the optional filters into a
// WHERE clause with positional arguments starting at $startArg.
func buildListWhere(p model.Principal, q Query, startArg int) (string, []any) {
	var (
		conditions []string
		args       []any
	)
	argNum := startArg

	switch {
	case p.Authenticated() && p.Role == model.RoleSuperAdmin:
	case p.Authenticated():
		conditions = append(conditions, fmt.Sprintf("(visibility = 'public' OR owner_id = $%d)", argNum))
		args = append(args, p.ID)
		argNum++
	default:
		conditions = append(conditions, "visibility = 'public'")
	}

	if q.Search != "" {
		conditions = append(conditions, fmt.Sprintf("filename ILIKE $%d", argNum))
		args = append(args, "%"+escapeLike(q.Search)+"%")
		argNum++
	}

	if q.Tag != "" {
		conditions = append(conditions, fmt.Sprintf("EXISTS (SELECT 1 FROM unnest(tags) AS t(tag) WHERE t.tag ILIKE $%d)", argNum))
		args = append(args, "%"+escapeLike(q.Tag)+"%")
	}

	if len(conditions) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conditions, " AND "), args
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes user input match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanRecord(row pgx.Row, extra ...any) (*model.FileRecord, error) {
	var (
		rec   model.FileRecord
		owner *string
	)
	dest := append([]any{
		&rec.ID, &rec.ContentID, &rec.Filename, &rec.MimeType, &rec.SizeBytes,
		&owner, &rec.Visibility, &rec.Tags, &rec.CreatedAt,
	}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	if owner != nil {
		rec.OwnerID = *owner
	}
	rec.CreatedAt = rec.CreatedAt.UTC()
	return &rec, nil
}

func scanOne(row pgx.Row, id string) (*model.FileRecord, error) {
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("scan file %s: %w", id, err)
	}
	return rec, nil
}

func scanWithTotal(rows pgx.Rows) (*model.FileRecord, int, error) {
	var total int
	rec, err := scanRecord(rows, &total)
	if err != nil {
		return nil, 0, fmt.Errorf("scan file: %w", err)
	}
	return rec, total, nil
}

func collect(rows pgx.Rows) ([]*model.FileRecord, error) {
	defer rows.Close()
	var out []*model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate files: %w", err)
	}
	return out, nil
}
