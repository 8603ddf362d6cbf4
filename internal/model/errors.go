package model

import "errors"

// Sentinel errors shared by every layer. Callers compare with errors.Is, so
// implementations wrap them with fmt.Errorf("...: %w", ErrX) to add detail.
var (
	// ErrUnsupportedType is returned before any payload byte is read.
	ErrUnsupportedType = errors.New("file type not allowed")
	// ErrPayloadTooLarge aborts a streaming ingest; nothing is committed.
	ErrPayloadTooLarge = errors.New("file too large")
	ErrNotFound        = errors.New("file not found")
	ErrForbidden       = errors.New("forbidden")
	// ErrAuthenticationRequired is returned when an anonymous toggle is off.
	ErrAuthenticationRequired = errors.New("authentication required")
	ErrInvalidTag             = errors.New("invalid tag")
	// ErrStorageIO wraps failures of the underlying blob medium.
	ErrStorageIO = errors.New("storage i/o failure")
)
