package export

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/klauspost/compress/zip"

	"github.com/dharsanguruparan/HashDrop/internal/blobstore"
	"github.com/dharsanguruparan/HashDrop/internal/catalog"
	"github.com/dharsanguruparan/HashDrop/internal/metrics"
	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
)

// Filter narrows the public set further. A nil Filter accepts everything.
type Filter func(*model.FileRecord) bool

// TagFilter keeps records having a tag that contains tag, case-insensitively,
// matching the listing's tag filter. An empty tag yields a nil Filter.
func TagFilter(tag string) Filter {
	tag = strings.ToLower(strings.TrimSpace(tag))
	if tag == "" {
		return nil
	}
	return func(rec *model.FileRecord) bool {
		for _, t := range rec.Tags {
			if strings.Contains(strings.ToLower(t), tag) {
				return true
			}
		}
		return false
	}
}

// Summary describes a finished archive.
type Summary struct {
	Files   []string `json:"files"`
	Errors  []string `json:"errors"`
	Skipped int      `json:"skipped"`
}

// Packager builds export archives from the catalog and the content store.
type Packager struct {
	catalog  catalog.Catalog
	blobs    *blobstore.Store
	settings settings.Provider
	logger   *slog.Logger
}

// NewPackager constructs a Packager. The marker tag is read from settings on
// every export.
func NewPackager(cat catalog.Catalog, blobs *blobstore.Store, provider settings.Provider, logger *slog.Logger) *Packager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Packager{catalog: cat, blobs: blobs, settings: provider, logger: logger}
}

// ExportPublic writes a zip of every public, non-hidden, routable record
// accepted by filter. A record whose bytes cannot be read becomes an
// errors/ entry and the export carries on. Only a failure to write the
// archive itself, or ctx cancellation, aborts.
func (p *Packager) ExportPublic(ctx context.Context, w io.Writer, filter Filter) (*Summary, error) {
	pol, err := p.settings.Policy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	records, err := p.catalog.ListPublic(ctx)
	if err != nil {
		return nil, fmt.Errorf("list public files: %w", err)
	}

	zw := zip.NewWriter(w)
	summary := &Summary{Files: []string{}, Errors: []string{}}
	names := newNameSet()

	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			zw.Close()
			return nil, err
		}
		prefix, ok := Route(rec.Filename, rec.Tags, pol.ExportMarkerTag)
		if !ok || Hidden(rec.Filename) || (filter != nil && !filter(rec)) {
			summary.Skipped++
			metrics.ExportEntries.WithLabelValues("skipped").Inc()
			continue
		}

		data, readErr := p.readBlob(ctx, rec)
		if readErr == nil {
			entry := names.claim(prefix+baseName(rec.Filename), rec.ContentID)
			if err := writeEntry(zw, entry, rec, data); err != nil {
				zw.Close()
				return nil, fmt.Errorf("write %s: %w", entry, err)
			}
			summary.Files = append(summary.Files, entry)
			metrics.ExportEntries.WithLabelValues("file").Inc()
			continue
		}

		if err := ctx.Err(); err != nil {
			zw.Close()
			return nil, err
		}
		p.logger.Warn("export entry failed", "record_id", rec.ID, "content_id", rec.ContentID, "err", readErr)
		errEntry := names.claim(prefixErrors+baseName(rec.Filename)+".txt", rec.ContentID)
		if err := writeErrorEntry(zw, errEntry, rec, readErr); err != nil {
			zw.Close()
			return nil, fmt.Errorf("write %s: %w", errEntry, err)
		}
		summary.Errors = append(summary.Errors, errEntry)
		metrics.ExportEntries.WithLabelValues("error").Inc()
	}

	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finalize archive: %w", err)
	}
	p.logger.Info("export finished", "files", len(summary.Files), "errors", len(summary.Errors), "skipped", summary.Skipped)
	return summary, nil
}

// readBlob loads one payload in full before anything is written, so a read
// that fails part way leaves no truncated entry behind. Payloads are capped
// by the upload size limit.
func (p *Packager) readBlob(ctx context.Context, rec *model.FileRecord) ([]byte, error) {
	src, err := p.blobs.Get(ctx, blobstore.ID(rec.ContentID))
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var buf bytes.Buffer
	if rec.SizeBytes > 0 {
		buf.Grow(int(rec.SizeBytes))
	}
	if _, err := buf.ReadFrom(src); err != nil {
		return nil, fmt.Errorf("%w: read %s: %w", model.ErrStorageIO, rec.ContentID, err)
	}
	return buf.Bytes(), nil
}

func writeEntry(zw *zip.Writer, name string, rec *model.FileRecord, data []byte) error {
	dst, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: rec.CreatedAt,
	})
	if err != nil {
		return err
	}
	_, err = dst.Write(data)
	return err
}

func writeErrorEntry(zw *zip.Writer, name string, rec *model.FileRecord, cause error) error {
	dst, err := zw.Create(name)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(dst, "file: %s\nid: %s\ncontent_id: %s\nerror: %v\n", rec.Filename, rec.ID, rec.ContentID, cause)
	return err
}

// nameSet hands out unique entry names. A clash gets the short content id
// inserted before the extension, then a counter if that is taken too.
type nameSet map[string]struct{}

func newNameSet() nameSet { return make(nameSet) }

func (s nameSet) claim(name, contentID string) string {
	candidate := name
	if _, taken := s[candidate]; taken {
		candidate = withSuffix(name, blobstore.ID(contentID).Short())
		for i := 2; ; i++ {
			if _, taken := s[candidate]; !taken {
				break
			}
			candidate = withSuffix(name, blobstore.ID(contentID).Short()+"_"+strconv.Itoa(i))
		}
	}
	s[candidate] = struct{}{}
	return candidate
}
