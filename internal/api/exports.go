package api

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/HashDrop/internal/auth"
	"github.com/dharsanguruparan/HashDrop/internal/export"
	"github.com/dharsanguruparan/HashDrop/internal/preview"
	"github.com/dharsanguruparan/HashDrop/internal/queue"
)

// handleExportPublic streams the routed archive of public files. Once the
// first byte is out the status is fixed, so later failures are only logged.
func (s *Server) handleExportPublic(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if err := s.files.AuthorizeExport(ctx, auth.FromContext(ctx)); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	name := export.NewArchiveName(s.now())
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", preview.Disposition(name, false))
	w.WriteHeader(http.StatusOK)

	summary, err := s.packager.ExportPublic(ctx, w, export.TagFilter(r.URL.Query().Get("tag")))
	if err != nil {
		s.logger.Error("streamed export failed", "archive", name, "err", err)
		return
	}
	s.logger.Info("streamed export", "archive", name, "files", len(summary.Files), "errors", len(summary.Errors))
}

type exportAccepted struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

// handleCreateExport queues a background archive build. Only authenticated
// principals may request one.
func (s *Server) handleCreateExport(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	p := auth.FromContext(ctx)
	if !p.Authenticated() {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "login required to request exports")
		return
	}
	if s.enqueuer == nil || s.exports == nil {
		writeError(w, http.StatusServiceUnavailable, CodeQueueUnavailable, "background exports are not configured")
		return
	}
	payload := queue.ExportPayload{
		Name:        export.NewArchiveName(s.now()),
		Tag:         r.URL.Query().Get("tag"),
		RequestedBy: p.ID,
	}
	if err := s.enqueuer.EnqueueExport(ctx, payload); err != nil {
		s.logger.Warn("enqueue export failed", "archive", payload.Name, "err", err)
		writeError(w, http.StatusServiceUnavailable, CodeQueueUnavailable, "export queue unavailable")
		return
	}
	respondJSON(w, http.StatusAccepted, exportAccepted{Name: payload.Name, Status: "queued"})
}

type exportURL struct {
	URL       string `json:"url"`
	ExpiresIn int64  `json:"expires_in"`
}

func (s *Server) handleExportURL(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if !auth.FromContext(ctx).Authenticated() {
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, "login required")
		return
	}
	name := chi.URLParam(r, "name")
	if s.exports == nil || !export.ValidName(name) {
		writeError(w, http.StatusNotFound, CodeNotFound, "not found")
		return
	}
	u, err := s.exports.URL(ctx, name, s.urlTTL)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, exportURL{URL: u, ExpiresIn: int64(s.urlTTL.Seconds())})
}

// handleExportDownload serves an archive from a sink that signs its own
// links. The signature replaces the bearer token.
func (s *Server) handleExportDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	name := chi.URLParam(r, "name")
	verifier, ok := s.exports.(Verifier)
	if !ok || !export.ValidName(name) {
		writeError(w, http.StatusNotFound, CodeNotFound, "not found")
		return
	}
	if err := verifier.Verify(name, r.URL.Query()); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	rc, err := s.exports.Open(ctx, name)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	defer rc.Close()
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", preview.Disposition(name, false))
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		s.logger.Warn("archive download interrupted", "archive", name, "err", err)
	}
}
