package api

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dharsanguruparan/HashDrop/internal/auth"
	"github.com/dharsanguruparan/HashDrop/internal/catalog"
	"github.com/dharsanguruparan/HashDrop/internal/files"
	"github.com/dharsanguruparan/HashDrop/internal/preview"
)

// multipartOverhead is added to the policy limit for boundaries and headers.
const multipartOverhead = 64 << 10

// handleUpload streams the "file" part straight into the ingest pipeline.
// Optional "tags" fields must precede the file part; ?tags= is also read.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	principal := auth.FromContext(ctx)

	limits, err := s.files.PublicSettings(ctx)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	if limits.MaxFileSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, limits.MaxFileSize+multipartOverhead)
	}
	mr, err := r.MultipartReader()
	if err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "expecting multipart form")
		return
	}

	tags := splitTags(r.URL.Query()["tags"])
	var part *multipart.Part
	for {
		p, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			writeError(w, http.StatusBadRequest, CodeValidation, "failed to read upload")
			return
		}
		if p.FormName() == "tags" {
			raw, err := io.ReadAll(io.LimitReader(p, 4096))
			p.Close()
			if err != nil {
				writeError(w, http.StatusBadRequest, CodeValidation, "failed to read tags")
				return
			}
			tags = append(tags, splitTags([]string{string(raw)})...)
			continue
		}
		if p.FormName() == "file" {
			part = p
			break
		}
		p.Close()
	}
	if part == nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "missing file part")
		return
	}
	defer part.Close()

	rec, err := s.files.Upload(ctx, principal, part, files.UploadRequest{
		Filename: part.FileName(),
		MimeType: part.Header.Get("Content-Type"),
		Public:   r.URL.Query().Get("is_public") != "false",
		Tags:     tags,
	})
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusCreated, rec)
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := s.files.List(r.Context(), auth.FromContext(r.Context()), catalog.Query{
		Page:     atoi(q.Get("page")),
		PageSize: atoi(q.Get("limit")),
		Search:   q.Get("search"),
		Tag:      q.Get("tag"),
	})
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, page)
}

// handleDownload serves stored bytes. ?preview=true renders inline; adding
// &text=true to a PDF preview returns its text layer instead.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	inline := r.URL.Query().Get("preview") == "true"
	dl, err := s.files.Open(ctx, auth.FromContext(ctx), chi.URLParam(r, "contentId"), inline)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	defer dl.Body.Close()
	rec := dl.Record

	if inline && r.URL.Query().Get("text") == "true" && preview.IsPDF(rec.Filename, rec.MimeType) {
		text, err := preview.ExtractFromReader(dl.Body)
		if err != nil {
			s.logger.Info("pdf text extraction failed", "content_id", rec.ContentID, "err", err)
			writeError(w, http.StatusUnprocessableEntity, CodeUnprocessable, "no readable text layer")
			return
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Content-Disposition", preview.Disposition(rec.Filename+".txt", true))
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, text)
		return
	}

	w.Header().Set("Content-Type", preview.ContentType(rec.Filename, rec.MimeType, inline))
	w.Header().Set("Content-Disposition", preview.Disposition(rec.Filename, inline))
	w.Header().Set("Content-Length", strconv.FormatInt(rec.SizeBytes, 10))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, dl.Body); err != nil {
		s.logger.Warn("download interrupted", "content_id", rec.ContentID, "err", err)
	}
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := s.files.Get(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleToggleVisibility(w http.ResponseWriter, r *http.Request) {
	rec, err := s.files.ToggleVisibility(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

type tagsRequest struct {
	Tags []string `json:"tags"`
}

func (s *Server) handleSetTags(w http.ResponseWriter, r *http.Request) {
	var body tagsRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, 64<<10)).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, CodeValidation, "body must be {\"tags\": [...]}")
		return
	}
	rec, err := s.files.SetTags(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id"), body.Tags)
	if err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, rec)
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := s.files.Delete(r.Context(), auth.FromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, s.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// splitTags accepts repeated values and comma-separated lists.
func splitTags(values []string) []string {
	var out []string
	for _, v := range values {
		for _, t := range strings.Split(v, ",") {
			if t = strings.TrimSpace(t); t != "" {
				out = append(out, t)
			}
		}
	}
	return out
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
