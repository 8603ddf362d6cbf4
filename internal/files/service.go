// Package files is the application service behind the HTTP API. Every
// operation reads the current policy, asks the access package for a
// decision, and only then touches the catalog or the content store.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/dharsanguruparan/HashDrop/internal/access"
	"github.com/dharsanguruparan/HashDrop/internal/blobstore"
	"github.com/dharsanguruparan/HashDrop/internal/catalog"
	"github.com/dharsanguruparan/HashDrop/internal/ingest"
	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
)

// Service implements uploads, listing, downloads and record mutations.
type Service struct {
	settings settings.Provider
	catalog  catalog.Catalog
	blobs    *blobstore.Store
	pipeline *ingest.Pipeline
	logger   *slog.Logger
}

// NewService wires a Service. The ingest pipeline shares the given store and
// catalog.
func NewService(provider settings.Provider, cat catalog.Catalog, blobs *blobstore.Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		settings: provider,
		catalog:  cat,
		blobs:    blobs,
		pipeline: ingest.New(blobs, cat, logger),
		logger:   logger,
	}
}

// UploadRequest carries the declared metadata of an upload.
type UploadRequest struct {
	Filename string
	MimeType string
	Public   bool
	Tags     []string
}

// Upload authorizes and ingests src on behalf of p. Tag and permission
// checks run before the stream is read.
func (s *Service) Upload(ctx context.Context, p model.Principal, src io.Reader, req UploadRequest) (*model.FileRecord, error) {
	pol, err := s.settings.Policy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	vis := model.VisibilityPrivate
	if req.Public {
		vis = model.VisibilityPublic
	}
	if err := access.AuthorizeUpload(p, vis, pol); err != nil {
		return nil, err
	}
	tags := catalog.NormalizeTags(req.Tags)
	if err := access.ValidateTags(tags, pol); err != nil {
		return nil, err
	}
	meta := ingest.Meta{
		Filename:   req.Filename,
		MimeType:   req.MimeType,
		Visibility: vis,
		Tags:       tags,
	}
	if p.Authenticated() {
		meta.OwnerID = p.ID
	}
	return s.pipeline.Ingest(ctx, src, meta, ingest.Limits{
		MaxBytes:   pol.MaxUploadBytes,
		Extensions: pol.AllowedExtensions,
	})
}

// List returns the page of records p may see.
func (s *Service) List(ctx context.Context, p model.Principal, q catalog.Query) (*catalog.Page, error) {
	return s.catalog.List(ctx, p, q)
}

// Download is an open blob together with the record it was resolved through.
// Callers must close Body.
type Download struct {
	Record *model.FileRecord
	Body   io.ReadCloser
}

// Open resolves contentID to a record p may read and opens its bytes.
// Several records can share one blob; the newest accessible one wins, so a
// public copy makes the bytes downloadable even if another copy is private.
func (s *Service) Open(ctx context.Context, p model.Principal, contentID string, inline bool) (*Download, error) {
	pol, err := s.settings.Policy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	id, err := blobstore.ParseID(contentID)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrNotFound, err)
	}
	op := access.OpDownload
	if inline {
		op = access.OpPreview
	}

	recs, err := s.catalog.FindByContent(ctx, id.String())
	if err != nil {
		return nil, fmt.Errorf("find records: %w", err)
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("content %s: %w", id.Short(), model.ErrNotFound)
	}
	var (
		chosen   *model.FileRecord
		firstErr error
	)
	for _, rec := range recs {
		err := access.Authorize(p, rec, op, pol)
		if err == nil {
			chosen = rec
			break
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	if chosen == nil {
		return nil, firstErr
	}

	body, err := s.blobs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return &Download{Record: chosen, Body: body}, nil
}

// Get returns one record if p may read it.
func (s *Service) Get(ctx context.Context, p model.Principal, recordID string) (*model.FileRecord, error) {
	rec, pol, err := s.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(p, rec, access.OpRead, pol); err != nil {
		return nil, err
	}
	return rec, nil
}

// ToggleVisibility flips a record between public and private.
func (s *Service) ToggleVisibility(ctx context.Context, p model.Principal, recordID string) (*model.FileRecord, error) {
	rec, pol, err := s.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(p, rec, access.OpToggleVisibility, pol); err != nil {
		return nil, err
	}
	next := model.VisibilityPrivate
	if rec.Visibility == model.VisibilityPrivate {
		next = model.VisibilityPublic
	}
	if next == model.VisibilityPrivate && !rec.HasOwner() {
		return nil, fmt.Errorf("record %s has no owner to keep it private: %w", rec.ID, model.ErrForbidden)
	}
	updated, err := s.catalog.UpdateVisibility(ctx, rec.ID, next)
	if err != nil {
		return nil, err
	}
	s.logger.Info("visibility changed", "record_id", rec.ID, "visibility", next, "by", p.ID)
	return updated, nil
}

// SetTags replaces a record's tags. Every tag must be in the current
// vocabulary, otherwise the record is left untouched.
func (s *Service) SetTags(ctx context.Context, p model.Principal, recordID string, tags []string) (*model.FileRecord, error) {
	rec, pol, err := s.load(ctx, recordID)
	if err != nil {
		return nil, err
	}
	if err := access.Authorize(p, rec, access.OpRetag, pol); err != nil {
		return nil, err
	}
	tags = catalog.NormalizeTags(tags)
	if err := access.ValidateTags(tags, pol); err != nil {
		return nil, err
	}
	return s.catalog.UpdateTags(ctx, rec.ID, tags)
}

// Delete removes a record. When it was the last record referencing its
// blob, the store's reclaimer is told; the default reclaimer keeps the bytes.
func (s *Service) Delete(ctx context.Context, p model.Principal, recordID string) error {
	rec, pol, err := s.load(ctx, recordID)
	if err != nil {
		return err
	}
	if err := access.Authorize(p, rec, access.OpDelete, pol); err != nil {
		return err
	}
	if _, err := s.catalog.Delete(ctx, rec.ID); err != nil {
		return err
	}
	s.logger.Info("file deleted", "record_id", rec.ID, "content_id", blobstore.ID(rec.ContentID).Short(), "by", p.ID)

	remaining, err := s.catalog.FindByContent(ctx, rec.ContentID)
	if err != nil {
		s.logger.Warn("reference check after delete failed", "content_id", rec.ContentID, "err", err)
		return nil
	}
	if len(remaining) == 0 {
		if err := s.blobs.Release(ctx, blobstore.ID(rec.ContentID)); err != nil {
			s.logger.Warn("blob release failed", "content_id", rec.ContentID, "err", err)
		}
	}
	return nil
}

// PublicSettings is the subset of policy the UI needs before login.
type PublicSettings struct {
	AllowedExtensions []string `json:"allowed_extensions"`
	MaxFileSize       int64    `json:"max_file_size"`
	AllowedTags       []string `json:"allowed_tags"`
	AnonymousUpload   bool     `json:"anonymous_upload"`
	AnonymousPreview  bool     `json:"anonymous_preview"`
	AnonymousDownload bool     `json:"anonymous_download"`
}

// PublicSettings returns the current upload and anonymous-access settings.
func (s *Service) PublicSettings(ctx context.Context) (*PublicSettings, error) {
	pol, err := s.settings.Policy(ctx)
	if err != nil {
		return nil, fmt.Errorf("load policy: %w", err)
	}
	return &PublicSettings{
		AllowedExtensions: pol.AllowedExtensions,
		MaxFileSize:       pol.MaxUploadBytes,
		AllowedTags:       pol.AllowedTags,
		AnonymousUpload:   pol.AnonymousUpload,
		AnonymousPreview:  pol.AnonymousPreview,
		AnonymousDownload: pol.AnonymousDownload,
	}, nil
}

// AuthorizeExport gates the public archive: an anonymous caller needs the
// anonymous-download toggle, since the archive hands out file bytes.
func (s *Service) AuthorizeExport(ctx context.Context, p model.Principal) error {
	if p.Authenticated() {
		return nil
	}
	pol, err := s.settings.Policy(ctx)
	if err != nil {
		return fmt.Errorf("load policy: %w", err)
	}
	if !pol.AnonymousDownload {
		return fmt.Errorf("anonymous export is disabled: %w", model.ErrAuthenticationRequired)
	}
	return nil
}

func (s *Service) load(ctx context.Context, recordID string) (*model.FileRecord, settings.Policy, error) {
	pol, err := s.settings.Policy(ctx)
	if err != nil {
		return nil, settings.Policy{}, fmt.Errorf("load policy: %w", err)
	}
	rec, err := s.catalog.Get(ctx, recordID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return nil, pol, err
		}
		return nil, pol, fmt.Errorf("load record: %w", err)
	}
	return rec, pol, nil
}
