package catalog

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/dharsanguruparan/HashDrop/internal/access"
	"github.com/dharsanguruparan/HashDrop/internal/model"
)

// MemoryCatalog provides an in-memory catalog guarded by an RWMutex, which
// lets many listings run concurrently while single-record mutations take the
// write lock. Records are copied in and out so callers never share tag slices
// with the catalog.
type MemoryCatalog struct {
	mu    sync.RWMutex
	files map[string]*model.FileRecord
}

// NewMemoryCatalog constructs a MemoryCatalog.
func NewMemoryCatalog() *MemoryCatalog {
	return &MemoryCatalog{
		files: make(map[string]*model.FileRecord),
	}
}

// Insert implements Catalog.
func (m *MemoryCatalog) Insert(_ context.Context, rec *model.FileRecord) error {
	if rec.Visibility == model.VisibilityPrivate && !rec.HasOwner() {
		return fmt.Errorf("insert %s: private record without owner", rec.ID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.files[rec.ID]; exists {
		return fmt.Errorf("insert %s: duplicate id", rec.ID)
	}
	stored := rec.Clone()
	stored.Tags = normalizeTags(stored.Tags)
	m.files[rec.ID] = stored
	return nil
}

// Get implements Catalog.
func (m *MemoryCatalog) Get(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	return rec.Clone(), nil
}

// FindByContent implements Catalog.
func (m *MemoryCatalog) FindByContent(_ context.Context, contentID string) ([]*model.FileRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*model.FileRecord
	for _, rec := range m.files {
		if rec.ContentID == contentID {
			out = append(out, rec.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

// UpdateVisibility implements Catalog.
func (m *MemoryCatalog) UpdateVisibility(_ context.Context, id string, v model.Visibility) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	if v == model.VisibilityPrivate && !rec.HasOwner() {
		return nil, fmt.Errorf("record %s: private record without owner", id)
	}
	rec.Visibility = v
	return rec.Clone(), nil
}

// UpdateTags implements Catalog. The new slice replaces the old one
// wholesale, so a concurrent reader sees either the old or the new set.
func (m *MemoryCatalog) UpdateTags(_ context.Context, id string, tags []string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	rec.Tags = normalizeTags(tags)
	return rec.Clone(), nil
}

// Delete implements Catalog.
func (m *MemoryCatalog) Delete(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.files[id]
	if !ok {
		return nil, fmt.Errorf("record %s: %w", id, model.ErrNotFound)
	}
	delete(m.files, id)
	return rec, nil
}

// List implements Catalog. Filtering and paging happen under one read lock,
// so a page is cut from a consistent snapshot.
func (m *MemoryCatalog) List(_ context.Context, p model.Principal, q Query) (*Page, error) {
	q = q.normalized()
	m.mu.RLock()
	var matched []*model.FileRecord
	for _, rec := range m.files {
		if access.CanRead(p, rec) && matches(rec, q) {
			matched = append(matched, rec.Clone())
		}
	}
	m.mu.RUnlock()

	sortNewestFirst(matched)
	total := len(matched)
	start := min(q.offset(), total)
	end := min(start+q.PageSize, total)
	return newPage(matched[start:end], total, q), nil
}

// ListPublic implements Catalog.
func (m *MemoryCatalog) ListPublic(_ context.Context) ([]*model.FileRecord, error) {
	m.mu.RLock()
	var out []*model.FileRecord
	for _, rec := range m.files {
		if rec.IsPublic() {
			out = append(out, rec.Clone())
		}
	}
	m.mu.RUnlock()
	sortNewestFirst(out)
	return out, nil
}

// matches applies the search term and tag filter, both case-insensitive
// substring matches.
func matches(rec *model.FileRecord, q Query) bool {
	if q.Search != "" && !strings.Contains(strings.ToLower(rec.Filename), strings.ToLower(q.Search)) {
		return false
	}
	if q.Tag == "" {
		return true
	}
	needle := strings.ToLower(q.Tag)
	for _, t := range rec.Tags {
		if strings.Contains(strings.ToLower(t), needle) {
			return true
		}
	}
	return false
}

// sortNewestFirst orders by CreatedAt descending and breaks ties by id
// descending, the same total order the Postgres catalog uses.
func sortNewestFirst(recs []*model.FileRecord) {
	sort.Slice(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.After(b.CreatedAt)
		}
		return a.ID > b.ID
	})
}
