// Package ingest turns an upload stream into a committed blob and file record.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dharsanguruparan/HashDrop/internal/blobstore"
	"github.com/dharsanguruparan/HashDrop/internal/catalog"
	"github.com/dharsanguruparan/HashDrop/internal/metrics"
	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
)

const (
	chunkSize       = 32 * 1024
	defaultMimeType = "application/octet-stream"
)

// Meta is what the uploader declares about the payload. MimeType is stored
// as given; the bytes are never sniffed.
type Meta struct {
	Filename   string
	MimeType   string
	OwnerID    string
	Visibility model.Visibility
	Tags       []string
}

// Limits are the policy values in force for one ingest. MaxBytes <= 0
// disables the size check.
type Limits struct {
	MaxBytes   int64
	Extensions []string
}

func (l Limits) extensionAllowed(filename string) bool {
	return settings.ExtensionAllowed(l.Extensions, filename)
}

// Pipeline validates, hashes and commits uploads. The blob is written before
// the record, so a crash in between leaves an unreferenced blob but never a
// record pointing at missing bytes.
type Pipeline struct {
	blobs   *blobstore.Store
	catalog catalog.Catalog
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
}

// New constructs a Pipeline.
func New(blobs *blobstore.Store, cat catalog.Catalog, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		blobs:   blobs,
		catalog: cat,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
		newID:   uuid.NewString,
	}
}

// Ingest consumes src and returns the committed record. The extension is
// checked before src is touched; the size limit is checked after every
// chunk, and exceeding it discards everything read so far.
func (p *Pipeline) Ingest(ctx context.Context, src io.Reader, meta Meta, limits Limits) (*model.FileRecord, error) {
	filename := strings.TrimSpace(meta.Filename)
	if !limits.extensionAllowed(filename) {
		metrics.Ingests.WithLabelValues("unsupported_type").Inc()
		return nil, fmt.Errorf("%w: %q", model.ErrUnsupportedType, filename)
	}
	vis := meta.Visibility
	if vis == "" {
		vis = model.VisibilityPublic
	}
	if !vis.Valid() {
		metrics.Ingests.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("unknown visibility %q", vis)
	}
	if vis == model.VisibilityPrivate && meta.OwnerID == "" {
		metrics.Ingests.WithLabelValues("invalid").Inc()
		return nil, fmt.Errorf("private upload without owner: %w", model.ErrAuthenticationRequired)
	}

	data, id, err := p.consume(ctx, src, limits.MaxBytes)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrPayloadTooLarge):
			metrics.Ingests.WithLabelValues("too_large").Inc()
		case ctx.Err() != nil:
			metrics.Ingests.WithLabelValues("cancelled").Inc()
		default:
			metrics.Ingests.WithLabelValues("read_error").Inc()
		}
		return nil, err
	}

	if err := p.blobs.Commit(ctx, id, data); err != nil {
		metrics.Ingests.WithLabelValues("storage_error").Inc()
		return nil, err
	}

	mimeType := strings.TrimSpace(meta.MimeType)
	if mimeType == "" {
		mimeType = defaultMimeType
	}
	rec := &model.FileRecord{
		ID:         p.newID(),
		ContentID:  id.String(),
		Filename:   filename,
		MimeType:   mimeType,
		SizeBytes:  int64(len(data)),
		OwnerID:    meta.OwnerID,
		Visibility: vis,
		Tags:       catalog.NormalizeTags(meta.Tags),
		CreatedAt:  p.now(),
	}
	if err := p.catalog.Insert(ctx, rec); err != nil {
		metrics.Ingests.WithLabelValues("catalog_error").Inc()
		p.logger.Error("catalog insert failed after blob commit",
			"content_id", id.Short(), "filename", filename, "err", err)
		return nil, fmt.Errorf("record upload: %w", err)
	}

	metrics.Ingests.WithLabelValues("committed").Inc()
	metrics.IngestBytes.Observe(float64(rec.SizeBytes))
	p.logger.Info("file ingested",
		"id", rec.ID, "content_id", id.Short(), "size", rec.SizeBytes, "visibility", rec.Visibility)
	return rec, nil
}

// consume reads src in fixed chunks, feeding the hasher and the buffer
// together. On any failure the buffer is dropped before returning.
func (p *Pipeline) consume(ctx context.Context, src io.Reader, maxBytes int64) ([]byte, blobstore.ID, error) {
	hasher := blobstore.NewHasher()
	var buf bytes.Buffer
	chunk := make([]byte, chunkSize)
	var total int64
	for {
		if err := ctx.Err(); err != nil {
			return nil, "", fmt.Errorf("upload aborted: %w", err)
		}
		n, readErr := src.Read(chunk)
		if n > 0 {
			total += int64(n)
			if maxBytes > 0 && total > maxBytes {
				return nil, "", fmt.Errorf("%w: limit is %d bytes", model.ErrPayloadTooLarge, maxBytes)
			}
			hasher.Write(chunk[:n])
			buf.Write(chunk[:n])
		}
		if readErr != nil {
			if errors.Is(readErr, io.EOF) {
				break
			}
			return nil, "", fmt.Errorf("read upload: %w", readErr)
		}
	}
	return buf.Bytes(), blobstore.FromHash(hasher), nil
}
