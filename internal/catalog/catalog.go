// Package catalog is the durable table of file records. Two implementations
// share one contract: MemoryCatalog for tests and single-process runs, and
// PostgresCatalog for deployments.
package catalog

import (
	"context"
	"strings"

	"github.com/dharsanguruparan/HashDrop/internal/model"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// Query holds listing parameters. Zero values mean "no filter" and are
// normalised by each implementation.
type Query struct {
	Page     int
	PageSize int
	Search   string
	Tag      string
}

func (q Query) normalized() Query {
	if q.Page < 1 {
		q.Page = 1
	}
	if q.PageSize < 1 {
		q.PageSize = defaultPageSize
	}
	if q.PageSize > maxPageSize {
		q.PageSize = maxPageSize
	}
	q.Search = strings.TrimSpace(q.Search)
	q.Tag = strings.TrimSpace(q.Tag)
	return q
}

func (q Query) offset() int {
	return (q.Page - 1) * q.PageSize
}

// Page is one slice of a filtered listing. Total and TotalPages describe the
// filtered set, not the whole catalog.
type Page struct {
	Records    []*model.FileRecord `json:"files"`
	Total      int                 `json:"total"`
	Page       int                 `json:"page"`
	PageSize   int                 `json:"limit"`
	TotalPages int                 `json:"totalPages"`
}

func newPage(records []*model.FileRecord, total int, q Query) *Page {
	if records == nil {
		records = []*model.FileRecord{}
	}
	return &Page{
		Records:    records,
		Total:      total,
		Page:       q.Page,
		PageSize:   q.PageSize,
		TotalPages: (total + q.PageSize - 1) / q.PageSize,
	}
}

// Catalog stores file records. Lookups of unknown ids return errors wrapping
// model.ErrNotFound. Mutations are atomic per record.
type Catalog interface {
	Insert(ctx context.Context, rec *model.FileRecord) error
	Get(ctx context.Context, id string) (*model.FileRecord, error)
	// FindByContent returns every record sharing contentID, newest first.
	FindByContent(ctx context.Context, contentID string) ([]*model.FileRecord, error)
	UpdateVisibility(ctx context.Context, id string, v model.Visibility) (*model.FileRecord, error)
	UpdateTags(ctx context.Context, id string, tags []string) (*model.FileRecord, error)
	// Delete removes the record and returns it as it was.
	Delete(ctx context.Context, id string) (*model.FileRecord, error)
	// List returns the records visible to p that match q, newest first.
	List(ctx context.Context, p model.Principal, q Query) (*Page, error)
	// ListPublic returns every public record, newest first, unpaginated.
	ListPublic(ctx context.Context) ([]*model.FileRecord, error)
}

// normalizeTags trims, drops empties and removes duplicates while keeping
// the caller's order.
func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" {
			continue
		}
		if _, dup := seen[t]; dup {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	return out
}

// NormalizeTags is exported for callers that validate tags before storing them.
func NormalizeTags(tags []string) []string {
	return normalizeTags(tags)
}
