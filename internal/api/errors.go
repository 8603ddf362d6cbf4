package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/signing"
)

// Error codes carried in the JSON error body.
const (
	CodeValidation       = "VALIDATION_ERROR"
	CodeUnsupportedType  = "UNSUPPORTED_TYPE"
	CodeInvalidTag       = "INVALID_TAG"
	CodeFileTooLarge     = "FILE_TOO_LARGE"
	CodeNotFound         = "NOT_FOUND"
	CodeForbidden        = "FORBIDDEN"
	CodeUnauthorized     = "UNAUTHORIZED"
	CodeUnprocessable    = "UNPROCESSABLE"
	CodeQueueUnavailable = "QUEUE_UNAVAILABLE"
	CodeStorageIO        = "STORAGE_IO"
	CodeInternal         = "INTERNAL_ERROR"
)

// errorBody is {"error": {"code": "...", "message": "..."}}.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorBody{Error: errorDetail{Code: code, Message: message}})
}

// writeServiceError maps sentinel errors onto HTTP statuses. Anything
// unrecognised is logged and reported as a 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	switch {
	case errors.Is(err, model.ErrUnsupportedType):
		writeError(w, http.StatusBadRequest, CodeUnsupportedType, err.Error())
	case errors.Is(err, model.ErrInvalidTag):
		writeError(w, http.StatusBadRequest, CodeInvalidTag, err.Error())
	case errors.Is(err, model.ErrPayloadTooLarge):
		writeError(w, http.StatusRequestEntityTooLarge, CodeFileTooLarge, err.Error())
	case errors.Is(err, model.ErrNotFound):
		writeError(w, http.StatusNotFound, CodeNotFound, "not found")
	case errors.Is(err, model.ErrForbidden):
		writeError(w, http.StatusForbidden, CodeForbidden, err.Error())
	case errors.Is(err, model.ErrAuthenticationRequired):
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
	case errors.Is(err, signing.ErrExpired), errors.Is(err, signing.ErrInvalidSignature):
		writeError(w, http.StatusUnauthorized, CodeUnauthorized, err.Error())
	case errors.Is(err, model.ErrStorageIO):
		logger.Error("storage failure", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusBadGateway, CodeStorageIO, "storage unavailable")
	case errors.Is(err, context.Canceled):
		logger.Info("request cancelled", "path", r.URL.Path)
		writeError(w, http.StatusBadRequest, CodeValidation, "request cancelled")
	default:
		logger.Error("request failed", "path", r.URL.Path, "err", err)
		writeError(w, http.StatusInternalServerError, CodeInternal, "internal error")
	}
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		slog.Warn("encode response", "err", err)
	}
}
