// Package api exposes the HashDrop HTTP surface: uploads, listing,
// downloads, record mutations, and public archive exports.
package api

import (
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dharsanguruparan/HashDrop/internal/auth"
	"github.com/dharsanguruparan/HashDrop/internal/export"
	"github.com/dharsanguruparan/HashDrop/internal/files"
	"github.com/dharsanguruparan/HashDrop/internal/queue"
)

// Verifier checks a signed archive link. export.DirSink implements it;
// sinks that hand out their own presigned URLs do not.
type Verifier interface {
	Verify(name string, q url.Values) error
}

// Deps are the collaborators a Server needs. Exports and Enqueuer may be nil,
// which disables the background export endpoints.
type Deps struct {
	Files    *files.Service
	Packager *export.Packager
	Exports  export.Sink
	Enqueuer queue.Enqueuer
	Resolver *auth.Resolver
	URLTTL   time.Duration
	Logger   *slog.Logger
}

// Server holds the HTTP handlers.
type Server struct {
	files    *files.Service
	packager *export.Packager
	exports  export.Sink
	enqueuer queue.Enqueuer
	resolver *auth.Resolver
	urlTTL   time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// New constructs a Server.
func New(d Deps) *Server {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	ttl := d.URLTTL
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &Server{
		files:    d.Files,
		packager: d.Packager,
		exports:  d.Exports,
		enqueuer: d.Enqueuer,
		resolver: d.Resolver,
		urlTTL:   ttl,
		logger:   logger,
		now:      time.Now,
	}
}

// Handler returns the routed handler with middleware applied.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(metricsMiddleware)
	r.Use(corsMiddleware)
	r.Use(s.resolver.Middleware)

	r.Get("/healthz", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/settings/public", s.handlePublicSettings)

		r.Route("/files", func(r chi.Router) {
			r.Post("/upload", s.handleUpload)
			r.Get("/list", s.handleList)
			r.Get("/download/{contentId}", s.handleDownload)
			r.Get("/{id}", s.handleGet)
			r.Post("/{id}/toggle-visibility", s.handleToggleVisibility)
			r.Put("/{id}/tags", s.handleSetTags)
			r.Delete("/{id}", s.handleDelete)
		})

		r.Route("/exports", func(r chi.Router) {
			r.Get("/public", s.handleExportPublic)
			r.Post("/", s.handleCreateExport)
			r.Get("/{name}/url", s.handleExportURL)
			r.Get("/{name}", s.handleExportDownload)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handlePublicSettings(w http.ResponseWriter, r *http.Request) {
	out, err := s.files.PublicSettings(r.Context())
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, out)
}
