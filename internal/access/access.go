// Package access decides whether a principal may perform an operation on a
// file record. Every function here is pure: the caller supplies the record
// and the current policy snapshot, nothing is read or written.
//
// Visibility (public / owner / super_admin) and the anonymous toggles are
// kept as separate predicates and combined per operation, so adding a role
// later only touches the predicate it affects.
package access

import (
	"fmt"
	"strings"

	"github.com/dharsanguruparan/HashDrop/internal/model"
	"github.com/dharsanguruparan/HashDrop/internal/settings"
)

// Operation names an action gated by this package.
type Operation string

const (
	OpRead             Operation = "read"
	OpDownload         Operation = "download"
	OpPreview          Operation = "preview"
	OpToggleVisibility Operation = "toggle_visibility"
	OpDelete           Operation = "delete"
	OpRetag            Operation = "retag"
)

func isPublic(rec *model.FileRecord) bool {
	return rec.Visibility == model.VisibilityPublic
}

func isOwner(p model.Principal, rec *model.FileRecord) bool {
	return p.Authenticated() && rec.HasOwner() && rec.OwnerID == p.ID
}

func isSuperAdmin(p model.Principal) bool {
	return p.Authenticated() && p.Role == model.RoleSuperAdmin
}

// anonymousAllowed evaluates the global anonymous toggles. Authenticated
// principals are never gated by them.
func anonymousAllowed(p model.Principal, op Operation, pol settings.Policy) bool {
	if p.Authenticated() {
		return true
	}
	switch op {
	case OpDownload:
		return pol.AnonymousDownload
	case OpPreview:
		return pol.AnonymousPreview
	default:
		return true
	}
}

// CanRead is the listing visibility rule: public, owned, or super_admin.
func CanRead(p model.Principal, rec *model.FileRecord) bool {
	return isPublic(rec) || isOwner(p, rec) || isSuperAdmin(p)
}

// CanMutate is the rule shared by toggle-visibility, delete and retag.
func CanMutate(p model.Principal, rec *model.FileRecord) bool {
	return isOwner(p, rec) || isSuperAdmin(p)
}

// Authorize checks op against rec. A nil record yields model.ErrNotFound.
// Retag callers must additionally run ValidateTags.
func Authorize(p model.Principal, rec *model.FileRecord, op Operation, pol settings.Policy) error {
	if rec == nil {
		return model.ErrNotFound
	}
	switch op {
	case OpRead:
		if !CanRead(p, rec) {
			return fmt.Errorf("read %s: %w", rec.ID, model.ErrForbidden)
		}
	case OpDownload, OpPreview:
		if !anonymousAllowed(p, op, pol) {
			return fmt.Errorf("anonymous %s is disabled: %w", op, model.ErrAuthenticationRequired)
		}
		if !CanRead(p, rec) {
			return fmt.Errorf("%s %s: %w", op, rec.ID, model.ErrForbidden)
		}
	case OpToggleVisibility, OpDelete, OpRetag:
		if !CanMutate(p, rec) {
			return fmt.Errorf("%s %s: %w", op, rec.ID, model.ErrForbidden)
		}
	default:
		return fmt.Errorf("unknown operation %q: %w", op, model.ErrForbidden)
	}
	return nil
}

// AuthorizeUpload gates ingest. Anonymous uploads need the anonymous-upload
// toggle, and an anonymous principal can never create a private record.
func AuthorizeUpload(p model.Principal, vis model.Visibility, pol settings.Policy) error {
	if p.Authenticated() {
		return nil
	}
	if !pol.AnonymousUpload {
		return fmt.Errorf("anonymous upload is disabled: %w", model.ErrAuthenticationRequired)
	}
	if vis == model.VisibilityPrivate {
		return fmt.Errorf("private uploads need an account: %w", model.ErrAuthenticationRequired)
	}
	return nil
}

// ValidateTags rejects any tag outside the current vocabulary.
func ValidateTags(tags []string, pol settings.Policy) error {
	var invalid []string
	for _, t := range tags {
		if !pol.TagAllowed(t) {
			invalid = append(invalid, t)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("%w: %s", model.ErrInvalidTag, strings.Join(invalid, ", "))
	}
	return nil
}
